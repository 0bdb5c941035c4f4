package app

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/4sizn/animal-zoom-sub002/internal/core"
	"github.com/4sizn/animal-zoom-sub002/internal/domain"
)

// RegistryOptions is the recognized configuration surface for rooms.
// CodeAlphabet only constrains generated codes; validation accepts the
// full uppercase alphanumeric set.
type RegistryOptions struct {
	CodeLength         int
	CodeAlphabet       string
	DefaultMax         int
	MaxMax             int
	WaitingRoomDefault bool
}

// RoomOptions are per-room creation parameters.
type RoomOptions struct {
	Name            string
	MaxParticipants int
	WaitingRoom     *bool
	Customization   json.RawMessage
}

// Registry owns the set of live rooms keyed by short code. It is
// constructed once at process start and passed by reference; there is no
// process-wide singleton.
type Registry struct {
	mu    sync.RWMutex
	rooms map[domain.RoomCode]*core.RoomState
	opts  RegistryOptions
	now   func() time.Time
}

// NewRegistry builds an empty registry. nowFn may be nil.
func NewRegistry(opts RegistryOptions, nowFn func() time.Time) *Registry {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Registry{
		rooms: make(map[domain.RoomCode]*core.RoomState),
		opts:  opts,
		now:   nowFn,
	}
}

// ResolveOrCreate returns the active room for code, creating it with the
// requester as host when the code is unseen. Capacity is never checked
// here; that happens at the join step.
func (r *Registry) ResolveOrCreate(code domain.RoomCode, host domain.ParticipantID, opts RoomOptions) (*core.RoomState, bool, error) {
	if !domain.ValidCode(code, r.opts.CodeLength) {
		return nil, false, fmt.Errorf("%w: %q", domain.ErrInvalidCode, code)
	}

	r.mu.RLock()
	room, ok := r.rooms[code]
	r.mu.RUnlock()
	if ok {
		return room, false, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if room, ok = r.rooms[code]; ok {
		return room, false, nil
	}
	room = r.newRoomLocked(code, host, opts)
	r.rooms[code] = room
	return room, true, nil
}

// Create makes a room with a freshly generated collision-free code.
func (r *Registry) Create(host domain.ParticipantID, opts RoomOptions) (*core.RoomState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	code, err := r.generateCodeLocked()
	if err != nil {
		return nil, err
	}
	room := r.newRoomLocked(code, host, opts)
	r.rooms[code] = room
	return room, nil
}

func (r *Registry) newRoomLocked(code domain.RoomCode, host domain.ParticipantID, opts RoomOptions) *core.RoomState {
	max := opts.MaxParticipants
	if max <= 0 {
		max = r.opts.DefaultMax
	}
	if r.opts.MaxMax > 0 && max > r.opts.MaxMax {
		max = r.opts.MaxMax
	}
	waiting := r.opts.WaitingRoomDefault
	if opts.WaitingRoom != nil {
		waiting = *opts.WaitingRoom
	}
	now := r.now()
	room := &domain.Room{
		ID:              domain.RoomID(uuid.NewString()),
		Code:            code,
		Name:            opts.Name,
		Status:          domain.RoomActive,
		MaxParticipants: max,
		WaitingRoom:     waiting,
		LastActivityAt:  now,
		CreatedAt:       now,
		Customization:   opts.Customization,
	}
	log.Info().Str("module", "app.registry").Str("code", string(code)).Str("host", string(host)).Int("max", max).Bool("waiting_room", waiting).Msg("room created")
	return core.NewRoomState(room, host, r.now)
}

func (r *Registry) generateCodeLocked() (domain.RoomCode, error) {
	// Collision odds per try are tiny for any sane alphabet; the retry
	// bound exists so a misconfigured one-letter alphabet cannot spin.
	for range 64 {
		buf := make([]byte, r.opts.CodeLength)
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("generate room code: %w", err)
		}
		for i, b := range buf {
			buf[i] = r.opts.CodeAlphabet[int(b)%len(r.opts.CodeAlphabet)]
		}
		code := domain.RoomCode(buf)
		if _, exists := r.rooms[code]; !exists {
			return code, nil
		}
	}
	return "", fmt.Errorf("generate room code: alphabet exhausted")
}

// GetByCode resolves an active room.
func (r *Registry) GetByCode(code domain.RoomCode) (*core.RoomState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[code]
	if !ok {
		return nil, fmt.Errorf("%w: room %q", domain.ErrNotFound, code)
	}
	return room, nil
}

// Touch refreshes a room's activity timestamp.
func (r *Registry) Touch(code domain.RoomCode) {
	r.mu.RLock()
	room, ok := r.rooms[code]
	r.mu.RUnlock()
	if ok {
		room.Touch()
	}
}

// Retire removes a room from the active index. The room must already have
// been closed or found idle; the registry only forgets it.
func (r *Registry) Retire(code domain.RoomCode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rooms, code)
	log.Info().Str("module", "app.registry").Str("code", string(code)).Msg("room retired")
}

// RetireIfIdle retires the room when its own state machine agrees it is
// idle. The occupancy re-check happens under the room's lock, so a join
// landing between the sweep's observation and the retire cannot be lost.
func (r *Registry) RetireIfIdle(code domain.RoomCode, idleTimeout time.Duration) bool {
	r.mu.RLock()
	room, ok := r.rooms[code]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if !room.RetireIfIdle(idleTimeout) {
		return false
	}
	r.Retire(code)
	return true
}

// ActiveCodes snapshots the set of live room codes.
func (r *Registry) ActiveCodes() []domain.RoomCode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Keys(r.rooms)
}

// List snapshots every live room for the API surface.
func (r *Registry) List() []core.RoomView {
	r.mu.RLock()
	rooms := lo.Values(r.rooms)
	r.mu.RUnlock()
	return lo.Map(rooms, func(room *core.RoomState, _ int) core.RoomView {
		return room.View()
	})
}
