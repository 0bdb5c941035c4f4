package core

import (
	"encoding/json"

	"github.com/rs/zerolog/log"
)

// Event types broadcast to bound connections. All membership-changing
// events for one room are observed in the same relative order by every
// connection bound to that room.
const (
	EvtRoomState           = "room_state"
	EvtWaiting             = "waiting"
	EvtMemberJoined        = "member_joined"
	EvtMemberWaiting       = "member_waiting"
	EvtMemberAdmitted      = "member_admitted"
	EvtMemberRejected      = "member_rejected"
	EvtMemberLeft          = "member_left"
	EvtMemberDisconnected  = "member_disconnected"
	EvtMemberReconnected   = "member_reconnected"
	EvtHostChanged         = "host_changed"
	EvtChat                = "chat"
	EvtRoomClosed          = "room_closed"
)

type roomStateEvent struct {
	Type string   `json:"type"`
	Room RoomView `json:"room"`
}

type memberEvent struct {
	Type   string         `json:"type"`
	Member ParticipantDTO `json:"member"`
}

type hostChangedEvent struct {
	Type   string         `json:"type"`
	Member ParticipantDTO `json:"member"`
}

type chatEvent struct {
	Type string          `json:"type"`
	From ParticipantDTO  `json:"from"`
	Body json.RawMessage `json:"body"`
}

type roomClosedEvent struct {
	Type string `json:"type"`
}

func marshalEvent(v any) Frame {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "core.events").Msg("event marshal")
		return nil
	}
	return b
}
