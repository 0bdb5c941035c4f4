package http

import (
	"context"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/4sizn/animal-zoom-sub002/internal/adapters/auth"
	"github.com/4sizn/animal-zoom-sub002/internal/adapters/signal"
	"github.com/4sizn/animal-zoom-sub002/internal/adapters/store"
	"github.com/4sizn/animal-zoom-sub002/internal/app/orch"
	"github.com/4sizn/animal-zoom-sub002/internal/config"
)

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware hands every browser a stable client token cookie.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

// SetupRouter wires the REST surface and the WS session gateway.
func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator, verifier *auth.Verifier, st *store.SQLiteStore) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	cookieStore := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("ZoomSessions", cookieStore))
	r.Use(ClientTokenMiddleware())

	h := &Handlers{Orch: o, Auth: verifier, Store: st, TokenTTL: cfg.TokenTTL}

	api := r.Group("/api")
	api.POST("/login", h.Login)
	api.GET("/rooms", h.ListRooms)
	api.POST("/rooms", h.CreateRoom)
	api.GET("/rooms/:code", h.GetRoom)
	api.DELETE("/rooms/:code", h.DeleteRoom)
	api.GET("/rooms/:code/events", h.RoomEvents)

	ctl := signal.NewSessionWSController(o, verifier,
		signal.NewChatRateLimiter(cfg.ChatRateLimit, cfg.ChatRateWindow),
		cfg.ReadLimit, cfg.PingPeriod)
	api.GET("/ws/session", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("client", c.GetString("client_token")).Msg("ws session endpoint hit")
		ctl.HandleSession(ctx, c)
	})

	log.Info().Str("module", "adapters.http").Msg("router setup")
	return r
}
