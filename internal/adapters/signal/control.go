package signal

import (
	"github.com/4sizn/animal-zoom-sub002/internal/core"
	"github.com/4sizn/animal-zoom-sub002/internal/domain"
)

func (ctl *SessionWSController) handlePing(conn *WsConn) {
	resp := struct {
		Type string `json:"type"`
	}{
		Type: "pong",
	}
	ctl.sendJSON(conn, resp)
}

func (ctl *SessionWSController) handleWhoAmI(cid core.ConnID, conn *WsConn) {
	b, ok := ctl.Orch.Bindings.Get(cid)
	if !ok {
		ctl.sendError(conn, domain.ErrNotFound)
		return
	}

	resp := struct {
		Type        string               `json:"type"`
		Participant domain.ParticipantID `json:"participant"`
		DisplayName string               `json:"display_name"`
		Room        domain.RoomCode      `json:"room,omitempty"`
	}{
		Type:        "whoami",
		Participant: b.Identity.ParticipantID,
		DisplayName: b.Identity.DisplayName,
		Room:        b.RoomCode,
	}
	ctl.sendJSON(conn, resp)
}
