package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/4sizn/animal-zoom-sub002/internal/app/orch"
	"github.com/4sizn/animal-zoom-sub002/internal/core"
)

var ErrBackpressure = errors.New("backpressure")

// SessionWSController is the session gateway: it authenticates inbound
// connections, binds them to (room, participant) pairs through the
// orchestrator and pumps frames both ways.
type SessionWSController struct {
	Orch       *orch.Orchestrator
	Auth       core.Authenticator
	Limiter    *ChatRateLimiter
	ReadLimit  int64
	PingPeriod time.Duration
}

func NewSessionWSController(o *orch.Orchestrator, auth core.Authenticator, limiter *ChatRateLimiter, readLimit int64, pingPeriod time.Duration) *SessionWSController {
	return &SessionWSController{
		Orch:       o,
		Auth:       auth,
		Limiter:    limiter,
		ReadLimit:  readLimit,
		PingPeriod: pingPeriod,
	}
}

// WsConn adapts a websocket to core.Sender: a buffered send channel the
// room fans into, drained by writePump. TrySend never blocks.
type WsConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSession authenticates and upgrades an inbound connection. Identity
// verification happens before any room state is touched; a bad token never
// reaches the coordinator.
func (ctl *SessionWSController) HandleSession(ctx context.Context, c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		token, _ = c.Cookie("at")
	}
	identity, err := ctl.Auth.Verify(token)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("ws auth failed")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "auth_failed"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := &WsConn{
		conn: ws,
		send: make(chan core.Frame, 32),
	}
	cid := core.ConnID(uuid.NewString())
	log.Info().Str("module", "signal").Str("conn", string(cid)).Str("participant", string(identity.ParticipantID)).Msg("new WS connection")

	ctx, cancel := context.WithCancel(ctx)
	ctl.Orch.Bindings.Bind(cid, identity, conn, cancel)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cid, conn)
}
