package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/4sizn/animal-zoom-sub002/internal/core"
	"github.com/4sizn/animal-zoom-sub002/internal/domain"
)

// Binding maps one live connection to its identity and, once joined, to a
// (room code, participant) pair.
type Binding struct {
	Identity core.Identity
	RoomCode domain.RoomCode
	Send     core.Sender
	Cancel   context.CancelFunc
}

// Bindings is the gateway's connection table; the gateway is its only
// writer.
type Bindings struct {
	mu    sync.RWMutex
	conns map[core.ConnID]*Binding
}

func NewBindings() *Bindings {
	return &Bindings{conns: make(map[core.ConnID]*Binding)}
}

// Bind registers a freshly authenticated connection, not yet in any room.
func (b *Bindings) Bind(cid core.ConnID, identity core.Identity, send core.Sender, cancel context.CancelFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conns[cid] = &Binding{Identity: identity, Send: send, Cancel: cancel}
	log.Info().Str("module", "app.bindings").Str("conn", string(cid)).Str("participant", string(identity.ParticipantID)).Msg("bound connection")
}

// SetRoom records which room the connection joined.
func (b *Bindings) SetRoom(cid core.ConnID, code domain.RoomCode) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.conns[cid]
	if !ok {
		return false
	}
	e.RoomCode = code
	return true
}

// ClearRoom drops the room association but keeps the connection bound.
func (b *Bindings) ClearRoom(cid core.ConnID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.conns[cid]; ok {
		e.RoomCode = ""
	}
}

// Get returns a copy of the binding for cid.
func (b *Bindings) Get(cid core.ConnID) (Binding, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.conns[cid]
	if !ok {
		return Binding{}, false
	}
	return *e, true
}

// Unbind removes the connection, fires its cancel func to tear down the
// pumps' context, and returns its last binding.
func (b *Bindings) Unbind(cid core.ConnID) (Binding, bool) {
	b.mu.Lock()
	e, ok := b.conns[cid]
	if !ok {
		b.mu.Unlock()
		return Binding{}, false
	}
	delete(b.conns, cid)
	b.mu.Unlock()

	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.bindings").Str("conn", string(cid)).Msg("unbound connection")
	return *e, true
}

// Len reports the number of bound connections.
func (b *Bindings) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.conns)
}
