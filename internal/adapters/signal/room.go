package signal

import (
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/4sizn/animal-zoom-sub002/internal/app"
	"github.com/4sizn/animal-zoom-sub002/internal/core"
	"github.com/4sizn/animal-zoom-sub002/internal/domain"
)

// errorCode maps the coordinator taxonomy onto wire strings. Callers get
// the typed outcome; nothing is retried here.
func errorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrRoomFull):
		return "room_full"
	case errors.Is(err, domain.ErrForbidden):
		return "forbidden"
	case errors.Is(err, domain.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, domain.ErrInvalidCode):
		return "invalid_code"
	case errors.Is(err, domain.ErrAuthFailed):
		return "auth_failed"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	default:
		return "internal"
	}
}

func (ctl *SessionWSController) sendError(c *WsConn, err error) {
	ctl.sendJSON(c, map[string]any{
		"type":  "error",
		"error": errorCode(err),
	})
}

func (ctl *SessionWSController) handleJoin(cid core.ConnID, conn *WsConn, data []byte) {
	type joinPayload struct {
		Type        string          `json:"type"`
		Room        string          `json:"room"`
		Name        string          `json:"name,omitempty"`
		MaxMembers  int             `json:"max_members,omitempty"`
		WaitingRoom *bool           `json:"waiting_room,omitempty"`
		RoomName    string          `json:"room_name,omitempty"`
		Custom      json.RawMessage `json:"custom,omitempty"`
	}
	var p joinPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad join payload")
		ctl.sendJSON(conn, map[string]any{"type": "error", "error": "bad_payload"})
		return
	}

	opts := app.RoomOptions{
		Name:            p.RoomName,
		MaxParticipants: p.MaxMembers,
		WaitingRoom:     p.WaitingRoom,
		Customization:   p.Custom,
	}
	res, err := ctl.Orch.JoinRoom(cid, p.Room, p.Name, opts)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(cid)).Str("room", p.Room).Msg("join failed")
		ctl.sendError(conn, err)
		return
	}
	// The room already pushed room_state (or waiting) to this connection
	// under its own lock, so membership events cannot overtake it.
	log.Info().Str("module", "signal").Str("conn", string(cid)).Str("room", p.Room).Bool("reconnected", res.Reconnected).Bool("waiting", res.Waiting).Msg("join handled")
}

func (ctl *SessionWSController) handleLeave(cid core.ConnID, conn *WsConn) {
	log.Info().Str("module", "signal").Str("conn", string(cid)).Msg("leave")
	if err := ctl.Orch.LeaveRoom(cid); err != nil {
		ctl.sendError(conn, err)
		return
	}
	ctl.sendJSON(conn, map[string]any{"type": "left"})
}

func (ctl *SessionWSController) handleAdmit(cid core.ConnID, conn *WsConn, data []byte) {
	var p struct {
		Type        string `json:"type"`
		Participant string `json:"participant"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.Participant == "" {
		ctl.sendJSON(conn, map[string]any{"type": "error", "error": "bad_payload"})
		return
	}
	if err := ctl.Orch.Admit(cid, domain.ParticipantID(p.Participant)); err != nil {
		ctl.sendError(conn, err)
	}
}

func (ctl *SessionWSController) handleReject(cid core.ConnID, conn *WsConn, data []byte) {
	var p struct {
		Type        string `json:"type"`
		Participant string `json:"participant"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.Participant == "" {
		ctl.sendJSON(conn, map[string]any{"type": "error", "error": "bad_payload"})
		return
	}
	if err := ctl.Orch.Reject(cid, domain.ParticipantID(p.Participant)); err != nil {
		ctl.sendError(conn, err)
	}
}

func (ctl *SessionWSController) handleChat(cid core.ConnID, conn *WsConn, data []byte) {
	var p struct {
		Type string          `json:"type"`
		Body json.RawMessage `json:"body"`
	}
	if err := json.Unmarshal(data, &p); err != nil || len(p.Body) == 0 {
		ctl.sendJSON(conn, map[string]any{"type": "error", "error": "bad_payload"})
		return
	}

	if b, ok := ctl.Orch.Bindings.Get(cid); ok && ctl.Limiter != nil {
		if !ctl.Limiter.Allow(b.Identity.ParticipantID) {
			ctl.sendJSON(conn, map[string]any{"type": "error", "error": "rate_limited"})
			return
		}
	}

	if _, err := ctl.Orch.Chat(cid, p.Body); err != nil {
		ctl.sendError(conn, err)
	}
}

func (ctl *SessionWSController) handleDeleteRoom(cid core.ConnID, conn *WsConn) {
	b, ok := ctl.Orch.Bindings.Get(cid)
	if !ok || b.RoomCode == "" {
		ctl.sendError(conn, domain.ErrNotFound)
		return
	}
	if err := ctl.Orch.DeleteRoom(b.Identity.ParticipantID, b.RoomCode); err != nil {
		ctl.sendError(conn, err)
	}
}
