package app

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/4sizn/animal-zoom-sub002/internal/domain"
)

type graceKey struct {
	Code        domain.RoomCode
	Participant domain.ParticipantID
}

type graceTicket struct {
	version  uint64
	deadline time.Time
	timer    *time.Timer
}

// ExpireFunc is invoked when a ticket's deadline fires and the ticket is
// still live. It runs on the timer goroutine with the manager lock held,
// so implementations must not call back into the manager. The callee
// serializes on the room's critical section and re-checks state there.
type ExpireFunc func(code domain.RoomCode, id domain.ParticipantID)

// GraceManager tracks participants who disconnected but may still return
// within a bounded window. At most one live ticket exists per
// (room, participant) pair; arming supersedes, cancelling is a no-op when
// nothing is armed.
//
// Tickets are versioned. A fired timer re-checks that its version is still
// the live one before calling expire, and the expire callback runs with
// the manager lock held, so a Cancel or re-Arm that lost the scheduling
// race can neither trigger a stale expiry nor slip a fresh ticket in
// between the version check and the transition.
type GraceManager struct {
	mu      sync.Mutex
	tickets map[graceKey]*graceTicket
	seq     uint64
	expire  ExpireFunc
}

func NewGraceManager(expire ExpireFunc) *GraceManager {
	return &GraceManager{
		tickets: make(map[graceKey]*graceTicket),
		expire:  expire,
	}
}

// Arm starts (or atomically replaces) the ticket for the pair. Rapid
// disconnect/reconnect/disconnect flapping therefore never stacks timers.
func (g *GraceManager) Arm(code domain.RoomCode, id domain.ParticipantID, d time.Duration) {
	key := graceKey{Code: code, Participant: id}

	g.mu.Lock()
	defer g.mu.Unlock()

	if old, ok := g.tickets[key]; ok {
		old.timer.Stop()
	}
	g.seq++
	t := &graceTicket{version: g.seq, deadline: time.Now().Add(d)}
	version := t.version
	t.timer = time.AfterFunc(d, func() { g.fire(key, version) })
	g.tickets[key] = t
	log.Info().Str("module", "app.grace").Str("code", string(code)).Str("participant", string(id)).Dur("window", d).Msg("grace ticket armed")
}

// Cancel destroys the pair's ticket if one is live. Safe to call when none
// exists.
func (g *GraceManager) Cancel(code domain.RoomCode, id domain.ParticipantID) bool {
	key := graceKey{Code: code, Participant: id}

	g.mu.Lock()
	defer g.mu.Unlock()

	t, ok := g.tickets[key]
	if !ok {
		return false
	}
	t.timer.Stop()
	delete(g.tickets, key)
	log.Info().Str("module", "app.grace").Str("code", string(code)).Str("participant", string(id)).Msg("grace ticket cancelled")
	return true
}

// CancelRoom destroys every ticket belonging to a room, used when the room
// itself goes away.
func (g *GraceManager) CancelRoom(code domain.RoomCode) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := 0
	for key, t := range g.tickets {
		if key.Code == code {
			t.timer.Stop()
			delete(g.tickets, key)
			n++
		}
	}
	return n
}

// Deadline reports the live ticket's deadline for the pair, if any.
func (g *GraceManager) Deadline(code domain.RoomCode, id domain.ParticipantID) (time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.tickets[graceKey{Code: code, Participant: id}]
	if !ok {
		return time.Time{}, false
	}
	return t.deadline, true
}

// Len reports the number of live tickets.
func (g *GraceManager) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.tickets)
}

func (g *GraceManager) fire(key graceKey, version uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	t, ok := g.tickets[key]
	if !ok || t.version != version {
		// Lost the race against Cancel or a superseding Arm.
		return
	}
	delete(g.tickets, key)

	// Invoked under the manager lock: a reconnect-then-disconnect racing
	// this expiry blocks on Arm until the transition completes, so its
	// fresh ticket can never be consumed by this stale deadline. The
	// callback still re-validates liveness under the room lock.
	if g.expire != nil {
		g.expire(key.Code, key.Participant)
	}
}
