// Package orch coordinates the room registry, connection bindings, grace
// manager and collaborators into the transitions the gateway exposes.
package orch

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/4sizn/animal-zoom-sub002/internal/app"
	"github.com/4sizn/animal-zoom-sub002/internal/core"
	"github.com/4sizn/animal-zoom-sub002/internal/domain"
)

const persistTimeout = 5 * time.Second

// Orchestrator owns the live-session pipeline. Collaborator I/O (store
// writes) runs outside room critical sections, as fire-and-forget side
// effects of the in-memory transitions.
type Orchestrator struct {
	Registry    *app.Registry
	Bindings    *app.Bindings
	Grace       *app.GraceManager
	Store       core.DurableStore
	GraceWindow time.Duration
}

// New wires an orchestrator and its grace manager together; the manager's
// expiry callback feeds back into the orchestrator's transition pipeline.
func New(registry *app.Registry, bindings *app.Bindings, store core.DurableStore, graceWindow time.Duration) *Orchestrator {
	o := &Orchestrator{
		Registry:    registry,
		Bindings:    bindings,
		Store:       store,
		GraceWindow: graceWindow,
	}
	o.Grace = app.NewGraceManager(o.onGraceExpiry)
	return o
}

// onGraceExpiry is the timer side of the grace protocol. The room lock is
// acquired inside ExpireGrace; a retired room or an already-reconnected
// participant makes this a silent no-op.
func (o *Orchestrator) onGraceExpiry(code domain.RoomCode, id domain.ParticipantID) {
	st, err := o.Registry.GetByCode(code)
	if err != nil {
		log.Debug().Str("module", "orch").Str("code", string(code)).Str("participant", string(id)).Msg("grace expiry on retired room, ignoring")
		return
	}
	res, ok := st.ExpireGrace(id)
	if !ok {
		return
	}
	o.recordEvent(code, res.Participant, "grace_expired")
	if res.HostChanged {
		o.recordEvent(code, res.NewHost, "host_transferred")
	}
	o.persistRoom(st)
}

func (o *Orchestrator) persistRoom(st *core.RoomState) {
	if o.Store == nil {
		return
	}
	meta := st.Meta()
	rec := core.RoomRecord{
		ID:              meta.ID,
		Code:            meta.Code,
		Name:            meta.Name,
		Status:          meta.Status,
		MaxParticipants: meta.MaxParticipants,
		WaitingRoom:     meta.WaitingRoom,
		CreatedAt:       meta.CreatedAt,
		LastActivityAt:  meta.LastActivityAt,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := o.Store.SaveRoomMutation(ctx, rec); err != nil {
			log.Error().Err(err).Str("module", "orch").Str("code", string(rec.Code)).Msg("save room mutation")
		}
	}()
}

func (o *Orchestrator) recordEvent(code domain.RoomCode, p core.ParticipantDTO, event string) {
	if o.Store == nil {
		return
	}
	rec := core.ParticipantEventRecord{
		RoomCode:      code,
		ParticipantID: p.ID,
		DisplayName:   p.DisplayName,
		Event:         event,
		At:            time.Now(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := o.Store.RecordParticipantEvent(ctx, rec); err != nil {
			log.Error().Err(err).Str("module", "orch").Str("code", string(code)).Str("participant", string(p.ID)).Msg("record participant event")
		}
	}()
}
