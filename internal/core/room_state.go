package core

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/4sizn/animal-zoom-sub002/internal/domain"
)

// RoomState is the serialized critical section for one room: membership,
// occupancy, host designation and the fan-out set of bound connections all
// mutate under a single mutex. Timers (grace expiry, idle sweep) go through
// the same methods as connection events, so they contend on the same lock
// and nothing is special-cased.
//
// Broadcasts are enqueued onto per-connection send channels while the lock
// is held, which is what gives every connection the same relative event
// order for this room. TrySend never blocks, so holding the lock across
// fan-out is cheap.
type RoomState struct {
	mu    sync.Mutex
	room  *domain.Room
	host  domain.ParticipantID
	parts map[domain.ParticipantID]*domain.Participant
	conns map[ConnID]*connEntry
	now   func() time.Time
}

type connEntry struct {
	participant domain.ParticipantID
	send        Sender
}

// NewRoomState builds the state machine for a freshly created room.
// nowFn may be nil, in which case time.Now is used.
func NewRoomState(room *domain.Room, host domain.ParticipantID, nowFn func() time.Time) *RoomState {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &RoomState{
		room:  room,
		host:  host,
		parts: make(map[domain.ParticipantID]*domain.Participant),
		conns: make(map[ConnID]*connEntry),
		now:   nowFn,
	}
}

// Meta returns a copy of the room metadata.
func (r *RoomState) Meta() domain.Room {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.room
}

func (r *RoomState) Code() domain.RoomCode { return r.room.Code }

// HostID returns the current host, or "" when the room has none.
func (r *RoomState) HostID() domain.ParticipantID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.host
}

// Occupancy counts participants holding a seat: everyone in status joined,
// including those inside their grace window.
func (r *RoomState) Occupancy() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.occupancyLocked()
}

func (r *RoomState) occupancyLocked() int {
	n := 0
	for _, p := range r.parts {
		if p.Status == domain.StatusJoined {
			n++
		}
	}
	return n
}

// ConnCount reports the number of bound connections.
func (r *RoomState) ConnCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Touch refreshes the activity timestamp.
func (r *RoomState) Touch() {
	r.mu.Lock()
	r.room.LastActivityAt = r.now()
	r.mu.Unlock()
}

// View returns a membership snapshot. Left and rejected records are not
// part of the live view.
func (r *RoomState) View() RoomView {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.viewLocked()
}

func (r *RoomState) viewLocked() RoomView {
	members := make([]ParticipantDTO, 0, len(r.parts))
	for _, p := range r.parts {
		if p.Status != domain.StatusJoined && p.Status != domain.StatusWaiting {
			continue
		}
		members = append(members, dto(p))
	}
	return RoomView{
		ID:          r.room.ID,
		Code:        r.room.Code,
		Name:        r.room.Name,
		Status:      r.room.Status,
		Current:     r.occupancyLocked(),
		Max:         r.room.MaxParticipants,
		WaitingRoom: r.room.WaitingRoom,
		Members:     members,
	}
}

func dto(p *domain.Participant) ParticipantDTO {
	return ParticipantDTO{
		ID:          p.ID,
		DisplayName: p.DisplayName,
		Role:        p.Role,
		Status:      p.Status,
		IsActive:    p.IsActive,
		JoinedAt:    p.JoinedAt,
	}
}

// JoinResult reports the outcome of a join request.
type JoinResult struct {
	Participant ParticipantDTO
	Reconnected bool
	Waiting     bool
}

// Join runs the admission step for a participant arriving on conn cid.
//
// A joined-but-inactive record means the participant is inside its grace
// window; the same id arriving again is a reconnection and bypasses the
// capacity check entirely, since the seat was never released. A fresh id
// goes to waiting when the waiting room is enabled (hosts skip it), else
// straight to joined, subject to capacity.
func (r *RoomState) Join(cid ConnID, send Sender, id domain.ParticipantID, name string) (JoinResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.room.Status != domain.RoomActive {
		return JoinResult{}, domain.ErrNotFound
	}

	now := r.now()
	name = domain.TruncateName(name)

	if p, ok := r.parts[id]; ok && p.Status == domain.StatusJoined {
		if p.IsActive {
			// The id already holds an active seat; a second live
			// connection for it is a protocol violation.
			return JoinResult{}, domain.ErrInvalidState
		}
		// Reconnection before the grace deadline.
		p.IsActive = true
		p.DisplayName = name
		r.bindLocked(cid, id, send)
		r.room.LastActivityAt = now
		r.sendToLocked(cid, marshalEvent(roomStateEvent{Type: EvtRoomState, Room: r.viewLocked()}))
		r.fanoutLocked(cid, marshalEvent(memberEvent{Type: EvtMemberReconnected, Member: dto(p)}))
		log.Info().Str("module", "core.room").Str("code", string(r.room.Code)).Str("participant", string(id)).Msg("member reconnected")
		return JoinResult{Participant: dto(p), Reconnected: true}, nil
	}

	if r.host == "" {
		// Host departed for good and nobody was left to inherit;
		// first fresh joiner takes over.
		r.host = id
	}

	if r.room.WaitingRoom && id != r.host {
		p := &domain.Participant{
			ID:          id,
			DisplayName: name,
			Role:        domain.RoleParticipant,
			Status:      domain.StatusWaiting,
		}
		r.parts[id] = p
		r.bindLocked(cid, id, send)
		r.room.LastActivityAt = now
		r.sendToLocked(cid, marshalEvent(memberEvent{Type: EvtWaiting, Member: dto(p)}))
		r.fanoutLocked(cid, marshalEvent(memberEvent{Type: EvtMemberWaiting, Member: dto(p)}))
		log.Info().Str("module", "core.room").Str("code", string(r.room.Code)).Str("participant", string(id)).Msg("member waiting")
		return JoinResult{Participant: dto(p), Waiting: true}, nil
	}

	if r.occupancyLocked() >= r.room.MaxParticipants {
		return JoinResult{}, domain.ErrRoomFull
	}

	role := domain.RoleParticipant
	if id == r.host {
		role = domain.RoleHost
	}
	p := &domain.Participant{
		ID:          id,
		DisplayName: name,
		Role:        role,
		Status:      domain.StatusJoined,
		IsActive:    true,
		JoinedAt:    now,
	}
	r.parts[id] = p
	r.bindLocked(cid, id, send)
	r.room.LastActivityAt = now
	r.sendToLocked(cid, marshalEvent(roomStateEvent{Type: EvtRoomState, Room: r.viewLocked()}))
	r.fanoutLocked(cid, marshalEvent(memberEvent{Type: EvtMemberJoined, Member: dto(p)}))
	log.Info().Str("module", "core.room").Str("code", string(r.room.Code)).Str("participant", string(id)).Str("role", string(role)).Msg("member joined")
	return JoinResult{Participant: dto(p)}, nil
}

// Admit moves a waiting participant to joined. Only the current host may
// admit; the capacity check runs here because this is the target's first
// `* -> joined` transition.
func (r *RoomState) Admit(by, target domain.ParticipantID) (ParticipantDTO, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if by != r.host {
		return ParticipantDTO{}, domain.ErrForbidden
	}
	p, ok := r.parts[target]
	if !ok {
		return ParticipantDTO{}, domain.ErrNotFound
	}
	if p.Status != domain.StatusWaiting {
		return ParticipantDTO{}, domain.ErrInvalidState
	}
	if r.occupancyLocked() >= r.room.MaxParticipants {
		return ParticipantDTO{}, domain.ErrRoomFull
	}

	now := r.now()
	p.Status = domain.StatusJoined
	p.IsActive = true
	p.JoinedAt = now
	r.room.LastActivityAt = now
	if cid, ok := r.connOfLocked(target); ok {
		r.sendToLocked(cid, marshalEvent(roomStateEvent{Type: EvtRoomState, Room: r.viewLocked()}))
	}
	r.fanoutLocked("", marshalEvent(memberEvent{Type: EvtMemberAdmitted, Member: dto(p)}))
	log.Info().Str("module", "core.room").Str("code", string(r.room.Code)).Str("participant", string(target)).Msg("member admitted")
	return dto(p), nil
}

// Reject is terminal for that join attempt; the participant may request
// again, creating a fresh waiting record.
func (r *RoomState) Reject(by, target domain.ParticipantID) (ParticipantDTO, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if by != r.host {
		return ParticipantDTO{}, domain.ErrForbidden
	}
	p, ok := r.parts[target]
	if !ok {
		return ParticipantDTO{}, domain.ErrNotFound
	}
	if p.Status != domain.StatusWaiting {
		return ParticipantDTO{}, domain.ErrInvalidState
	}

	p.Status = domain.StatusRejected
	r.room.LastActivityAt = r.now()
	if cid, ok := r.connOfLocked(target); ok {
		r.sendToLocked(cid, marshalEvent(memberEvent{Type: EvtMemberRejected, Member: dto(p)}))
		r.unbindLocked(cid)
	}
	log.Info().Str("module", "core.room").Str("code", string(r.room.Code)).Str("participant", string(target)).Msg("member rejected")
	return dto(p), nil
}

// LeaveResult reports a departure, including a host handover if one happened.
type LeaveResult struct {
	Participant ParticipantDTO
	HostChanged bool
	NewHost     ParticipantDTO
	UnboundConn ConnID
}

// Leave runs the explicit joined -> left transition. The slot is released
// and host authority transfers if the host is the one leaving. A waiting
// participant leaving simply drops its waiting record.
func (r *RoomState) Leave(id domain.ParticipantID) (LeaveResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.parts[id]
	if !ok {
		return LeaveResult{}, domain.ErrNotFound
	}

	now := r.now()
	res := LeaveResult{}
	if cid, ok := r.connOfLocked(id); ok {
		r.unbindLocked(cid)
		res.UnboundConn = cid
	}

	switch p.Status {
	case domain.StatusWaiting:
		delete(r.parts, id)
		r.room.LastActivityAt = now
		res.Participant = dto(p)
		return res, nil
	case domain.StatusJoined:
		p.Status = domain.StatusLeft
		p.IsActive = false
		p.LeftAt = now
		r.room.LastActivityAt = now
		res.Participant = dto(p)
		r.fanoutLocked("", marshalEvent(memberEvent{Type: EvtMemberLeft, Member: dto(p)}))
		if id == r.host {
			if next, ok := r.transferHostLocked(); ok {
				res.HostChanged = true
				res.NewHost = dto(next)
				r.fanoutLocked("", marshalEvent(hostChangedEvent{Type: EvtHostChanged, Member: dto(next)}))
			}
		}
		log.Info().Str("module", "core.room").Str("code", string(r.room.Code)).Str("participant", string(id)).Msg("member left")
		return res, nil
	default:
		return LeaveResult{}, domain.ErrInvalidState
	}
}

// DisconnectResult reports what a socket closure meant for membership.
type DisconnectResult struct {
	Participant domain.ParticipantID
	DisplayName string
	Graced      bool
}

// Disconnect handles a socket closing without an explicit leave. A joined
// participant keeps its seat and status but goes inactive; the caller arms
// the grace ticket. A waiting participant's request simply evaporates.
func (r *RoomState) Disconnect(cid ConnID) (DisconnectResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[cid]
	if !ok {
		return DisconnectResult{}, false
	}
	r.unbindLocked(cid)

	p, ok := r.parts[e.participant]
	if !ok {
		return DisconnectResult{Participant: e.participant}, true
	}

	res := DisconnectResult{Participant: p.ID, DisplayName: p.DisplayName}
	switch p.Status {
	case domain.StatusJoined:
		if p.IsActive {
			p.IsActive = false
			res.Graced = true
			r.fanoutLocked("", marshalEvent(memberEvent{Type: EvtMemberDisconnected, Member: dto(p)}))
			log.Info().Str("module", "core.room").Str("code", string(r.room.Code)).Str("participant", string(p.ID)).Msg("member disconnected, grace pending")
		}
	case domain.StatusWaiting:
		delete(r.parts, p.ID)
	}
	return res, true
}

// ExpireResult reports the effect of a grace deadline firing.
type ExpireResult struct {
	Participant ParticipantDTO
	HostChanged bool
	NewHost     ParticipantDTO
}

// ExpireGrace applies the (grace-pending) -> left transition. It re-checks
// state under the room lock: if the participant reconnected in the meantime
// (or the record is gone) this is a no-op and ok is false. Timer callbacks
// must never trust the world they were scheduled in.
func (r *RoomState) ExpireGrace(id domain.ParticipantID) (ExpireResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.parts[id]
	if !ok || p.Status != domain.StatusJoined || p.IsActive {
		return ExpireResult{}, false
	}

	now := r.now()
	p.Status = domain.StatusLeft
	p.LeftAt = now
	r.room.LastActivityAt = now

	res := ExpireResult{Participant: dto(p)}
	r.fanoutLocked("", marshalEvent(memberEvent{Type: EvtMemberLeft, Member: dto(p)}))
	if id == r.host {
		if next, ok := r.transferHostLocked(); ok {
			res.HostChanged = true
			res.NewHost = dto(next)
			r.fanoutLocked("", marshalEvent(hostChangedEvent{Type: EvtHostChanged, Member: dto(next)}))
		}
	}
	log.Info().Str("module", "core.room").Str("code", string(r.room.Code)).Str("participant", string(id)).Msg("grace expired, member left")
	return res, true
}

// BroadcastChat fans a chat payload out to every bound connection except
// the sender. Waiting participants may not speak.
func (r *RoomState) BroadcastChat(from domain.ParticipantID, body json.RawMessage) (PublishResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.parts[from]
	if !ok {
		return PublishResult{}, domain.ErrNotFound
	}
	if p.Status != domain.StatusJoined || !p.IsActive {
		return PublishResult{}, domain.ErrInvalidState
	}

	r.room.LastActivityAt = r.now()
	cid, _ := r.connOfLocked(from)
	res := r.fanoutLocked(cid, marshalEvent(chatEvent{Type: EvtChat, From: dto(p), Body: body}))
	return res, nil
}

// CloseResult lists the connections that were bound when the room closed.
type CloseResult struct {
	Conns []ConnID
}

// Close ends the room: every joined participant transitions to left, every
// bound connection is notified and released. Used by explicit host deletion.
func (r *RoomState) Close() CloseResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.fanoutLocked("", marshalEvent(roomClosedEvent{Type: EvtRoomClosed}))
	for _, p := range r.parts {
		if p.Status == domain.StatusJoined {
			p.Status = domain.StatusLeft
			p.IsActive = false
			p.LeftAt = now
		}
	}
	res := CloseResult{Conns: make([]ConnID, 0, len(r.conns))}
	for cid := range r.conns {
		res.Conns = append(res.Conns, cid)
	}
	r.conns = make(map[ConnID]*connEntry)
	r.room.Status = domain.RoomInactive
	log.Info().Str("module", "core.room").Str("code", string(r.room.Code)).Msg("room closed")
	return res
}

// RetireIfIdle marks the room inactive when it has been quiet past the
// timeout with no bound connections and no held seats. The check and the
// transition are one critical section, so a join racing the sweep either
// touches first or fails with ErrNotFound afterwards, never half of each.
func (r *RoomState) RetireIfIdle(idleTimeout time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.room.Status != domain.RoomActive {
		return false
	}
	if len(r.conns) > 0 || r.occupancyLocked() > 0 {
		return false
	}
	if r.now().Sub(r.room.LastActivityAt) <= idleTimeout {
		return false
	}
	r.room.Status = domain.RoomInactive
	log.Info().Str("module", "core.room").Str("code", string(r.room.Code)).Msg("room retired idle")
	return true
}

// transferHostLocked hands host authority to the longest-tenured remaining
// joined participant: earliest JoinedAt wins, ties broken by participant id
// so the outcome never depends on map iteration order. Connected
// participants are preferred over graced ones.
func (r *RoomState) transferHostLocked() (*domain.Participant, bool) {
	pick := func(requireActive bool) *domain.Participant {
		var best *domain.Participant
		for _, p := range r.parts {
			if p.Status != domain.StatusJoined || p.ID == r.host {
				continue
			}
			if requireActive && !p.IsActive {
				continue
			}
			if best == nil ||
				p.JoinedAt.Before(best.JoinedAt) ||
				(p.JoinedAt.Equal(best.JoinedAt) && p.ID < best.ID) {
				best = p
			}
		}
		return best
	}

	next := pick(true)
	if next == nil {
		next = pick(false)
	}
	if next == nil {
		r.host = ""
		return nil, false
	}
	next.Role = domain.RoleHost
	r.host = next.ID
	log.Info().Str("module", "core.room").Str("code", string(r.room.Code)).Str("participant", string(next.ID)).Msg("host transferred")
	return next, true
}

func (r *RoomState) bindLocked(cid ConnID, id domain.ParticipantID, send Sender) {
	// A reconnecting participant gets a new socket; drop any stale
	// binding for the same id so it never receives duplicates.
	for old, e := range r.conns {
		if e.participant == id && old != cid {
			delete(r.conns, old)
		}
	}
	r.conns[cid] = &connEntry{participant: id, send: send}
}

func (r *RoomState) unbindLocked(cid ConnID) {
	delete(r.conns, cid)
}

func (r *RoomState) connOfLocked(id domain.ParticipantID) (ConnID, bool) {
	for cid, e := range r.conns {
		if e.participant == id {
			return cid, true
		}
	}
	return "", false
}

func (r *RoomState) sendToLocked(cid ConnID, f Frame) {
	if f == nil {
		return
	}
	if e, ok := r.conns[cid]; ok {
		_ = e.send.TrySend(f)
	}
}

func (r *RoomState) fanoutLocked(except ConnID, f Frame) PublishResult {
	res := PublishResult{}
	if f == nil {
		return res
	}
	for cid, e := range r.conns {
		if cid == except {
			continue
		}
		if err := e.send.TrySend(f); err != nil {
			res.Dropped = append(res.Dropped, cid)
			continue
		}
		res.SentTo++
	}
	if len(res.Dropped) > 0 {
		log.Debug().Str("module", "core.room").Str("code", string(r.room.Code)).Int("sent_to", res.SentTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	}
	return res
}
