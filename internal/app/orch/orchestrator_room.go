package orch

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/4sizn/animal-zoom-sub002/internal/app"
	"github.com/4sizn/animal-zoom-sub002/internal/core"
	"github.com/4sizn/animal-zoom-sub002/internal/domain"
)

// CreateRoom makes a room with a generated code and the caller as host.
// The caller still joins through the normal pipeline afterwards.
func (o *Orchestrator) CreateRoom(identity core.Identity, opts app.RoomOptions) (core.RoomView, error) {
	st, err := o.Registry.Create(identity.ParticipantID, opts)
	if err != nil {
		return core.RoomView{}, err
	}
	o.persistRoom(st)
	return st.View(), nil
}

// JoinRoom resolves (or creates) the room for rawCode and runs the join
// transition for the connection's identity. A connection already in another
// room leaves it first.
func (o *Orchestrator) JoinRoom(cid core.ConnID, rawCode, displayName string, opts app.RoomOptions) (core.JoinResult, error) {
	b, ok := o.Bindings.Get(cid)
	if !ok {
		return core.JoinResult{}, fmt.Errorf("%w: connection not bound", domain.ErrNotFound)
	}
	if b.RoomCode != "" {
		if err := o.LeaveRoom(cid); err != nil {
			log.Warn().Err(err).Str("module", "orch").Str("conn", string(cid)).Msg("leave before join")
		}
	}

	code := domain.NormalizeCode(rawCode)
	st, created, err := o.Registry.ResolveOrCreate(code, b.Identity.ParticipantID, opts)
	if err != nil {
		return core.JoinResult{}, err
	}

	if displayName == "" {
		displayName = b.Identity.DisplayName
	}
	res, err := st.Join(cid, b.Send, b.Identity.ParticipantID, displayName)
	if err != nil {
		return core.JoinResult{}, err
	}

	// Any stale ticket for this pair dies now. Ordering with a
	// concurrent expiry does not matter: the expiry handler re-checks
	// liveness under the room lock and no-ops once the join restored it.
	o.Grace.Cancel(code, b.Identity.ParticipantID)
	o.Bindings.SetRoom(cid, code)

	if created {
		o.persistRoom(st)
	}
	switch {
	case res.Reconnected:
		o.recordEvent(code, res.Participant, "reconnected")
	case res.Waiting:
		o.recordEvent(code, res.Participant, "waiting")
	default:
		o.recordEvent(code, res.Participant, "joined")
	}
	return res, nil
}

// LeaveRoom runs the explicit leave transition for the connection's
// participant and releases the seat.
func (o *Orchestrator) LeaveRoom(cid core.ConnID) error {
	b, ok := o.Bindings.Get(cid)
	if !ok || b.RoomCode == "" {
		return fmt.Errorf("%w: connection not in a room", domain.ErrNotFound)
	}
	st, err := o.Registry.GetByCode(b.RoomCode)
	if err != nil {
		o.Bindings.ClearRoom(cid)
		return err
	}

	res, err := st.Leave(b.Identity.ParticipantID)
	if err != nil {
		o.Bindings.ClearRoom(cid)
		return err
	}
	o.Grace.Cancel(b.RoomCode, b.Identity.ParticipantID)
	o.Bindings.ClearRoom(cid)

	o.recordEvent(b.RoomCode, res.Participant, "left")
	if res.HostChanged {
		o.recordEvent(b.RoomCode, res.NewHost, "host_transferred")
	}
	o.persistRoom(st)
	return nil
}

// Admit lets the connection's participant (which must be host) move a
// waiting participant to joined.
func (o *Orchestrator) Admit(cid core.ConnID, target domain.ParticipantID) error {
	b, st, err := o.roomOf(cid)
	if err != nil {
		return err
	}
	p, err := st.Admit(b.Identity.ParticipantID, target)
	if err != nil {
		return err
	}
	o.recordEvent(b.RoomCode, p, "admitted")
	return nil
}

// Reject turns down a waiting participant.
func (o *Orchestrator) Reject(cid core.ConnID, target domain.ParticipantID) error {
	b, st, err := o.roomOf(cid)
	if err != nil {
		return err
	}
	p, err := st.Reject(b.Identity.ParticipantID, target)
	if err != nil {
		return err
	}
	o.recordEvent(b.RoomCode, p, "rejected")
	return nil
}

// Chat fans a message out to the room. Waiting participants are rejected,
// not queued.
func (o *Orchestrator) Chat(cid core.ConnID, body json.RawMessage) (core.PublishResult, error) {
	b, st, err := o.roomOf(cid)
	if err != nil {
		return core.PublishResult{}, err
	}
	return st.BroadcastChat(b.Identity.ParticipantID, body)
}

// Disconnect unbinds a closed connection and, when its participant held a
// seat, arms the grace ticket for the pair.
func (o *Orchestrator) Disconnect(cid core.ConnID) {
	b, ok := o.Bindings.Unbind(cid)
	if !ok || b.RoomCode == "" {
		return
	}
	st, err := o.Registry.GetByCode(b.RoomCode)
	if err != nil {
		return
	}
	res, ok := st.Disconnect(cid)
	if !ok {
		return
	}
	if res.Graced {
		o.Grace.Arm(b.RoomCode, res.Participant, o.GraceWindow)
		o.recordEvent(b.RoomCode, core.ParticipantDTO{ID: res.Participant, DisplayName: res.DisplayName}, "disconnected")
	}
}

// DeleteRoom closes a room on explicit host request: every member leaves,
// tickets die, the registry forgets the code.
func (o *Orchestrator) DeleteRoom(by domain.ParticipantID, code domain.RoomCode) error {
	st, err := o.Registry.GetByCode(code)
	if err != nil {
		return err
	}
	if st.HostID() != by {
		return fmt.Errorf("%w: only the host may delete the room", domain.ErrForbidden)
	}

	closed := st.Close()
	o.Grace.CancelRoom(code)
	for _, conn := range closed.Conns {
		o.Bindings.ClearRoom(conn)
	}
	o.Registry.Retire(code)
	o.persistRoom(st)
	log.Info().Str("module", "orch").Str("code", string(code)).Str("by", string(by)).Msg("room deleted by host")
	return nil
}

// RoomView resolves a room snapshot for the API surface.
func (o *Orchestrator) RoomView(rawCode string) (core.RoomView, error) {
	st, err := o.Registry.GetByCode(domain.NormalizeCode(rawCode))
	if err != nil {
		return core.RoomView{}, err
	}
	return st.View(), nil
}

func (o *Orchestrator) roomOf(cid core.ConnID) (app.Binding, *core.RoomState, error) {
	b, ok := o.Bindings.Get(cid)
	if !ok || b.RoomCode == "" {
		return app.Binding{}, nil, fmt.Errorf("%w: connection not in a room", domain.ErrNotFound)
	}
	st, err := o.Registry.GetByCode(b.RoomCode)
	if err != nil {
		return app.Binding{}, nil, err
	}
	return b, st, nil
}
