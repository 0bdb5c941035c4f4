package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/4sizn/animal-zoom-sub002/internal/adapters/auth"
	"github.com/4sizn/animal-zoom-sub002/internal/adapters/store"
	"github.com/4sizn/animal-zoom-sub002/internal/app"
	"github.com/4sizn/animal-zoom-sub002/internal/app/orch"
	"github.com/4sizn/animal-zoom-sub002/internal/core"
	"github.com/4sizn/animal-zoom-sub002/internal/domain"
)

// Handlers is the thin request layer over coordinator operations; every
// endpoint maps 1:1 to a state-machine transition or a read.
type Handlers struct {
	Orch     *orch.Orchestrator
	Auth     *auth.Verifier
	Store    *store.SQLiteStore
	TokenTTL time.Duration
}

func httpStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrRoomFull):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidCode):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrAuthFailed):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func abortErr(c *gin.Context, err error) {
	c.JSON(httpStatus(err), gin.H{"error": err.Error()})
}

// bearerIdentity resolves the caller's identity from the Authorization
// header. Used by endpoints that act with host authority.
func (h *Handlers) bearerIdentity(c *gin.Context) (domain.ParticipantID, bool) {
	raw := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	identity, err := h.Auth.Verify(raw)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "auth_failed"})
		return "", false
	}
	return identity.ParticipantID, true
}

// Login issues a dev token for a display name. Real identity issuance is an
// external concern; this endpoint exists for local and test use.
func (h *Handlers) Login(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid name"})
		return
	}

	id := domain.ParticipantID(uuid.NewString())
	token, err := h.Auth.Issue(id, domain.TruncateName(req.Name), h.TokenTTL)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("issue token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"participant": id, "token": token})
}

func (h *Handlers) ListRooms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": h.Orch.Registry.List()})
}

func (h *Handlers) CreateRoom(c *gin.Context) {
	host, ok := h.bearerIdentity(c)
	if !ok {
		return
	}

	var req struct {
		Name        string          `json:"name"`
		MaxMembers  int             `json:"max_members"`
		WaitingRoom *bool           `json:"waiting_room"`
		Custom      json.RawMessage `json:"custom"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_payload"})
		return
	}

	view, err := h.Orch.CreateRoom(
		core.Identity{ParticipantID: host},
		app.RoomOptions{
			Name:            req.Name,
			MaxParticipants: req.MaxMembers,
			WaitingRoom:     req.WaitingRoom,
			Customization:   req.Custom,
		})
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"room": view})
}

func (h *Handlers) GetRoom(c *gin.Context) {
	view, err := h.Orch.RoomView(c.Param("code"))
	if err == nil {
		c.JSON(http.StatusOK, gin.H{"room": view, "live": true})
		return
	}
	// Not live anymore; fall back to the durable record so a stale link
	// still resolves to something meaningful.
	if h.Store != nil && errors.Is(err, domain.ErrNotFound) {
		rec, serr := h.Store.LoadRoom(c.Request.Context(), domain.NormalizeCode(c.Param("code")))
		if serr == nil {
			c.JSON(http.StatusOK, gin.H{"room": rec, "live": false})
			return
		}
	}
	abortErr(c, err)
}

func (h *Handlers) DeleteRoom(c *gin.Context) {
	host, ok := h.bearerIdentity(c)
	if !ok {
		return
	}
	code := domain.NormalizeCode(c.Param("code"))
	if err := h.Orch.DeleteRoom(host, code); err != nil {
		abortErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RoomEvents exposes the membership audit trail kept by the durable store.
func (h *Handlers) RoomEvents(c *gin.Context) {
	if h.Store == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no store configured"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit <= 0 {
		limit = 100
	}
	events, err := h.Store.RoomEvents(c.Request.Context(), domain.NormalizeCode(c.Param("code")), limit)
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}
