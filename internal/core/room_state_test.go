package core

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/4sizn/animal-zoom-sub002/internal/domain"
)

type fakeSender struct {
	mu     sync.Mutex
	frames []Frame
}

func (s *fakeSender) TrySend(f Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, append(Frame(nil), f...))
	return nil
}

// eventTypes decodes the type field of every frame the sender received.
func (s *fakeSender) eventTypes(t *testing.T) []string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.frames))
	for _, f := range s.frames {
		var env struct {
			Type string `json:"type"`
		}
		require.NoError(t, json.Unmarshal(f, &env))
		out = append(out, env.Type)
	}
	return out
}

type testClock struct {
	mu  sync.Mutex
	cur time.Time
}

func newTestClock() *testClock {
	return &testClock{cur: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.cur = c.cur.Add(d)
	c.mu.Unlock()
}

func newTestRoom(host domain.ParticipantID, max int, waiting bool, clock *testClock) *RoomState {
	nowFn := time.Now
	if clock != nil {
		nowFn = clock.Now
	}
	return NewRoomState(&domain.Room{
		ID:              "room-1",
		Code:            "ABC123",
		Status:          domain.RoomActive,
		MaxParticipants: max,
		WaitingRoom:     waiting,
		LastActivityAt:  nowFn(),
	}, host, nowFn)
}

func TestJoin_HostThenParticipant(t *testing.T) {
	req := require.New(t)
	r := newTestRoom("host", 4, false, nil)

	resA, err := r.Join("c1", &fakeSender{}, "host", "Alice")
	req.NoError(err)
	req.Equal(domain.RoleHost, resA.Participant.Role)
	req.Equal(domain.StatusJoined, resA.Participant.Status)
	req.True(resA.Participant.IsActive)

	resB, err := r.Join("c2", &fakeSender{}, "bob", "Bob")
	req.NoError(err)
	req.Equal(domain.RoleParticipant, resB.Participant.Role)
	req.Equal(2, r.Occupancy())
	req.Equal(domain.ParticipantID("host"), r.HostID())
}

func TestJoin_DuplicateActiveIDFails(t *testing.T) {
	req := require.New(t)
	r := newTestRoom("host", 4, false, nil)

	_, err := r.Join("c1", &fakeSender{}, "host", "Alice")
	req.NoError(err)

	_, err = r.Join("c2", &fakeSender{}, "host", "Alice")
	req.ErrorIs(err, domain.ErrInvalidState)
	req.Equal(1, r.Occupancy())
}

func TestJoin_CapacityEnforced(t *testing.T) {
	req := require.New(t)
	r := newTestRoom("host", 2, false, nil)

	_, err := r.Join("c1", &fakeSender{}, "host", "A")
	req.NoError(err)
	_, err = r.Join("c2", &fakeSender{}, "b", "B")
	req.NoError(err)

	_, err = r.Join("c3", &fakeSender{}, "c", "C")
	req.ErrorIs(err, domain.ErrRoomFull)
	req.Equal(2, r.Occupancy())
}

func TestJoin_ConcurrentNeverExceedsCapacity(t *testing.T) {
	req := require.New(t)
	const n, k = 32, 5
	r := newTestRoom("host", k, false, nil)

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := domain.ParticipantID(rune('a'+i%26)) + domain.ParticipantID(rune('a'+i/26))
			_, errs[i] = r.Join(ConnID(id), &fakeSender{}, id, string(id))
		}(i)
	}
	wg.Wait()

	succeeded, full := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		default:
			req.ErrorIs(err, domain.ErrRoomFull)
			full++
		}
	}
	req.Equal(k, succeeded)
	req.Equal(n-k, full)
	req.Equal(k, r.Occupancy())
}

func TestWaitingRoom_AdmitAndReject(t *testing.T) {
	req := require.New(t)
	r := newTestRoom("host", 4, true, nil)

	_, err := r.Join("c1", &fakeSender{}, "host", "Host")
	req.NoError(err)

	// Non-host lands in the waiting room.
	res, err := r.Join("c2", &fakeSender{}, "guest", "Guest")
	req.NoError(err)
	req.True(res.Waiting)
	req.Equal(domain.StatusWaiting, res.Participant.Status)
	req.Equal(1, r.Occupancy(), "waiting must not consume a seat")

	// Only the host may admit.
	_, err = r.Admit("guest", "guest")
	req.ErrorIs(err, domain.ErrForbidden)

	p, err := r.Admit("host", "guest")
	req.NoError(err)
	req.Equal(domain.StatusJoined, p.Status)
	req.True(p.IsActive)
	req.Equal(2, r.Occupancy())

	// Admitting an already-joined participant is an invalid transition.
	_, err = r.Admit("host", "guest")
	req.ErrorIs(err, domain.ErrInvalidState)
}

func TestWaitingRoom_RejectThenFreshRequest(t *testing.T) {
	req := require.New(t)
	r := newTestRoom("host", 4, true, nil)

	_, err := r.Join("c1", &fakeSender{}, "host", "Host")
	req.NoError(err)
	_, err = r.Join("c2", &fakeSender{}, "guest", "Guest")
	req.NoError(err)

	p, err := r.Reject("host", "guest")
	req.NoError(err)
	req.Equal(domain.StatusRejected, p.Status)

	// A rejected participant may request again with a fresh waiting record.
	res, err := r.Join("c3", &fakeSender{}, "guest", "Guest")
	req.NoError(err)
	req.True(res.Waiting)
	req.Equal(domain.StatusWaiting, res.Participant.Status)
}

func TestWaitingRoom_AdmitRespectsCapacity(t *testing.T) {
	req := require.New(t)
	r := newTestRoom("host", 2, true, nil)

	_, err := r.Join("c1", &fakeSender{}, "host", "Host")
	req.NoError(err)
	_, err = r.Join("c2", &fakeSender{}, "b", "B")
	req.NoError(err)
	_, err = r.Admit("host", "b")
	req.NoError(err)

	_, err = r.Join("c3", &fakeSender{}, "c", "C")
	req.NoError(err)
	_, err = r.Admit("host", "c")
	req.ErrorIs(err, domain.ErrRoomFull)
}

func TestDisconnect_GraceKeepsSeat(t *testing.T) {
	req := require.New(t)
	r := newTestRoom("host", 2, false, nil)

	_, err := r.Join("c1", &fakeSender{}, "host", "A")
	req.NoError(err)
	_, err = r.Join("c2", &fakeSender{}, "b", "B")
	req.NoError(err)

	res, ok := r.Disconnect("c2")
	req.True(ok)
	req.True(res.Graced)
	req.Equal(domain.ParticipantID("b"), res.Participant)
	req.Equal(2, r.Occupancy(), "graced participant still counts")

	// The held seat blocks a third party.
	_, err = r.Join("c3", &fakeSender{}, "c", "C")
	req.ErrorIs(err, domain.ErrRoomFull)
}

func TestReconnect_BypassesCapacityAndRestoresActive(t *testing.T) {
	req := require.New(t)
	r := newTestRoom("host", 2, false, nil)

	_, err := r.Join("c1", &fakeSender{}, "host", "A")
	req.NoError(err)
	_, err = r.Join("c2", &fakeSender{}, "b", "B")
	req.NoError(err)
	_, ok := r.Disconnect("c2")
	req.True(ok)

	res, err := r.Join("c4", &fakeSender{}, "b", "B")
	req.NoError(err)
	req.True(res.Reconnected)
	req.True(res.Participant.IsActive)
	req.Equal(2, r.Occupancy())
	req.Equal(domain.ParticipantID("host"), r.HostID(), "host unchanged by reconnect")
}

func TestExpireGrace_ReleasesSeat(t *testing.T) {
	req := require.New(t)
	r := newTestRoom("host", 2, false, nil)

	_, err := r.Join("c1", &fakeSender{}, "host", "A")
	req.NoError(err)
	_, err = r.Join("c2", &fakeSender{}, "b", "B")
	req.NoError(err)
	_, ok := r.Disconnect("c2")
	req.True(ok)

	res, expired := r.ExpireGrace("b")
	req.True(expired)
	req.Equal(domain.StatusLeft, res.Participant.Status)
	req.Equal(1, r.Occupancy())

	// Late reconnection is a fresh join, not a restore.
	joinRes, err := r.Join("c4", &fakeSender{}, "b", "B")
	req.NoError(err)
	req.False(joinRes.Reconnected)
}

func TestExpireGrace_NoOpAfterReconnect(t *testing.T) {
	req := require.New(t)
	r := newTestRoom("host", 2, false, nil)

	_, err := r.Join("c1", &fakeSender{}, "host", "A")
	req.NoError(err)
	_, err = r.Join("c2", &fakeSender{}, "b", "B")
	req.NoError(err)
	_, ok := r.Disconnect("c2")
	req.True(ok)
	_, err = r.Join("c3", &fakeSender{}, "b", "B")
	req.NoError(err)

	// The expiry lost the race; it must not mutate restored state.
	_, expired := r.ExpireGrace("b")
	req.False(expired)
	req.Equal(2, r.Occupancy())
}

func TestHostTransfer_LongestTenuredWins(t *testing.T) {
	req := require.New(t)
	clock := newTestClock()
	r := newTestRoom("host", 4, false, clock)

	_, err := r.Join("c1", &fakeSender{}, "host", "A")
	req.NoError(err)
	clock.Advance(time.Second)
	_, err = r.Join("c2", &fakeSender{}, "b", "B")
	req.NoError(err)
	clock.Advance(time.Second)
	_, err = r.Join("c3", &fakeSender{}, "c", "C")
	req.NoError(err)

	_, ok := r.Disconnect("c1")
	req.True(ok)
	res, expired := r.ExpireGrace("host")
	req.True(expired)
	req.True(res.HostChanged)
	req.Equal(domain.ParticipantID("b"), res.NewHost.ID, "earliest join inherits")
	req.Equal(domain.RoleHost, res.NewHost.Role)
	req.Equal(domain.ParticipantID("b"), r.HostID())
}

func TestHostTransfer_PrefersConnectedOverGraced(t *testing.T) {
	req := require.New(t)
	clock := newTestClock()
	r := newTestRoom("host", 4, false, clock)

	_, err := r.Join("c1", &fakeSender{}, "host", "A")
	req.NoError(err)
	clock.Advance(time.Second)
	_, err = r.Join("c2", &fakeSender{}, "b", "B")
	req.NoError(err)
	clock.Advance(time.Second)
	_, err = r.Join("c3", &fakeSender{}, "c", "C")
	req.NoError(err)

	// b has the longer tenure but is itself inside grace.
	_, ok := r.Disconnect("c2")
	req.True(ok)
	_, ok = r.Disconnect("c1")
	req.True(ok)

	res, expired := r.ExpireGrace("host")
	req.True(expired)
	req.True(res.HostChanged)
	req.Equal(domain.ParticipantID("c"), res.NewHost.ID)
}

func TestHostTransfer_NoneLeftClearsHost(t *testing.T) {
	req := require.New(t)
	r := newTestRoom("host", 4, false, nil)

	_, err := r.Join("c1", &fakeSender{}, "host", "A")
	req.NoError(err)
	_, ok := r.Disconnect("c1")
	req.True(ok)
	_, expired := r.ExpireGrace("host")
	req.True(expired)

	req.Equal(domain.ParticipantID(""), r.HostID())
	req.Equal(0, r.Occupancy())

	// Next fresh joiner becomes host.
	res, err := r.Join("c2", &fakeSender{}, "b", "B")
	req.NoError(err)
	req.Equal(domain.RoleHost, res.Participant.Role)
}

func TestChat_WaitingParticipantRejected(t *testing.T) {
	req := require.New(t)
	r := newTestRoom("host", 4, true, nil)

	_, err := r.Join("c1", &fakeSender{}, "host", "Host")
	req.NoError(err)
	_, err = r.Join("c2", &fakeSender{}, "guest", "Guest")
	req.NoError(err)

	_, err = r.BroadcastChat("guest", json.RawMessage(`"hello"`))
	req.ErrorIs(err, domain.ErrInvalidState)
}

func TestChat_FansOutToOthers(t *testing.T) {
	req := require.New(t)
	r := newTestRoom("host", 4, false, nil)
	hostConn, bConn := &fakeSender{}, &fakeSender{}

	_, err := r.Join("c1", hostConn, "host", "Host")
	req.NoError(err)
	_, err = r.Join("c2", bConn, "b", "B")
	req.NoError(err)

	res, err := r.BroadcastChat("host", json.RawMessage(`"hi"`))
	req.NoError(err)
	req.Equal(1, res.SentTo)
	req.Contains(bConn.eventTypes(t), EvtChat)
	req.NotContains(hostConn.eventTypes(t), EvtChat)
}

func TestBroadcastOrdering_SameOrderOnEveryConn(t *testing.T) {
	req := require.New(t)
	r := newTestRoom("host", 8, false, nil)
	hostConn, bConn := &fakeSender{}, &fakeSender{}

	_, err := r.Join("c1", hostConn, "host", "Host")
	req.NoError(err)
	_, err = r.Join("c2", bConn, "b", "B")
	req.NoError(err)

	// Run a burst of membership changes from many goroutines; both
	// connections must observe the same relative order.
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := domain.ParticipantID("p" + string(rune('a'+i)))
			cid := ConnID(id)
			if _, err := r.Join(cid, &fakeSender{}, id, string(id)); err != nil {
				return
			}
			_, _ = r.Leave(id)
		}(i)
	}
	wg.Wait()

	hostEvents := hostConn.eventTypes(t)
	bEvents := bConn.eventTypes(t)
	// The host connection additionally received its own room_state; strip
	// leading snapshots and compare the shared tail.
	filtered := func(evs []string) []string {
		out := make([]string, 0, len(evs))
		for _, e := range evs {
			if e == EvtMemberJoined || e == EvtMemberLeft {
				out = append(out, e)
			}
		}
		return out
	}
	hostSeq := filtered(hostEvents)
	bSeq := filtered(bEvents)
	// b joined after the host saw b's member_joined; drop it.
	req.Equal(hostSeq[1:], bSeq)
}

func TestRetireIfIdle(t *testing.T) {
	req := require.New(t)
	clock := newTestClock()
	r := newTestRoom("host", 4, false, clock)

	// Active occupants keep the room alive regardless of timestamps.
	_, err := r.Join("c1", &fakeSender{}, "host", "A")
	req.NoError(err)
	clock.Advance(time.Hour)
	req.False(r.RetireIfIdle(10*time.Minute), "occupied room must survive")

	_, lerr := r.Leave("host")
	req.NoError(lerr)
	req.False(r.RetireIfIdle(10*time.Minute), "leave touched the room")

	clock.Advance(11 * time.Minute)
	req.True(r.RetireIfIdle(10*time.Minute))

	// Joining a retired room fails cleanly.
	_, err = r.Join("c9", &fakeSender{}, "x", "X")
	req.ErrorIs(err, domain.ErrNotFound)
}

func TestRetireIfIdle_GracedParticipantBlocksRetire(t *testing.T) {
	req := require.New(t)
	clock := newTestClock()
	r := newTestRoom("host", 4, false, clock)

	_, err := r.Join("c1", &fakeSender{}, "host", "A")
	req.NoError(err)
	_, ok := r.Disconnect("c1")
	req.True(ok)

	clock.Advance(time.Hour)
	req.False(r.RetireIfIdle(10*time.Minute), "seat held within grace")
}

// The end-to-end admission scenario: ABC123, capacity 2.
func TestScenario_ABC123(t *testing.T) {
	req := require.New(t)
	r := newTestRoom("a", 2, false, nil)

	// Host A joins.
	resA, err := r.Join("cA", &fakeSender{}, "a", "A")
	req.NoError(err)
	req.Equal(domain.RoleHost, resA.Participant.Role)
	req.Equal(1, r.Occupancy())

	// B joins.
	_, err = r.Join("cB", &fakeSender{}, "b", "B")
	req.NoError(err)
	req.Equal(2, r.Occupancy())

	// C bounces off the full room.
	_, err = r.Join("cC", &fakeSender{}, "c", "C")
	req.ErrorIs(err, domain.ErrRoomFull)

	// A drops; seat held.
	dres, ok := r.Disconnect("cA")
	req.True(ok)
	req.True(dres.Graced)
	req.Equal(2, r.Occupancy())

	// A returns within the window.
	rres, err := r.Join("cA2", &fakeSender{}, "a", "A")
	req.NoError(err)
	req.True(rres.Reconnected)
	req.Equal(2, r.Occupancy())

	// B leaves explicitly.
	_, err = r.Leave("b")
	req.NoError(err)
	req.Equal(1, r.Occupancy())

	// Now C fits.
	_, err = r.Join("cC2", &fakeSender{}, "c", "C")
	req.NoError(err)
	req.Equal(2, r.Occupancy())
}
