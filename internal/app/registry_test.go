package app

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/4sizn/animal-zoom-sub002/internal/domain"
)

func testOptions() RegistryOptions {
	return RegistryOptions{
		CodeLength:         6,
		CodeAlphabet:       "ABCDEFGHJKLMNPQRSTUVWXYZ23456789",
		DefaultMax:         8,
		MaxMax:             32,
		WaitingRoomDefault: false,
	}
}

func TestRegistry_ResolveOrCreate(t *testing.T) {
	req := require.New(t)
	r := NewRegistry(testOptions(), nil)

	room, created, err := r.ResolveOrCreate("ABC123", "host", RoomOptions{Name: "standup"})
	req.NoError(err)
	req.True(created)
	meta := room.Meta()
	req.Equal(domain.RoomCode("ABC123"), meta.Code)
	req.Equal("standup", meta.Name)
	req.Equal(domain.RoomActive, meta.Status)
	req.Equal(8, meta.MaxParticipants, "default applies when unset")

	again, created, err := r.ResolveOrCreate("ABC123", "someone-else", RoomOptions{})
	req.NoError(err)
	req.False(created)
	req.Same(room, again)
}

func TestRegistry_InvalidCode(t *testing.T) {
	req := require.New(t)
	r := NewRegistry(testOptions(), nil)

	for _, code := range []domain.RoomCode{"abc123", "SHORT", "TOOLONG7", "ABC1 3", "ABC12!"} {
		_, _, err := r.ResolveOrCreate(code, "host", RoomOptions{})
		req.ErrorIs(err, domain.ErrInvalidCode, "code %q", code)
	}
}

func TestRegistry_ResolveAcceptsFullAlphanumeric(t *testing.T) {
	req := require.New(t)
	r := NewRegistry(testOptions(), nil)

	// Codes with glyphs outside the generation alphabet are still well
	// formed and must resolve.
	for _, code := range []domain.RoomCode{"ABC123", "ROOM01", "ABC1O0"} {
		_, created, err := r.ResolveOrCreate(code, "host", RoomOptions{})
		req.NoError(err, "code %q", code)
		req.True(created)
	}
}

func TestRegistry_MaxParticipantsClamped(t *testing.T) {
	req := require.New(t)
	r := NewRegistry(testOptions(), nil)

	room, _, err := r.ResolveOrCreate("ABC123", "host", RoomOptions{MaxParticipants: 1000})
	req.NoError(err)
	req.Equal(32, room.Meta().MaxParticipants)
}

func TestRegistry_CreateGeneratesValidUniqueCodes(t *testing.T) {
	req := require.New(t)
	opts := testOptions()
	r := NewRegistry(opts, nil)

	seen := make(map[domain.RoomCode]bool)
	for range 50 {
		room, err := r.Create("host", RoomOptions{})
		req.NoError(err)
		code := room.Code()
		req.True(domain.ValidCode(code, opts.CodeLength), "generated %q", code)
		for _, glyph := range string(code) {
			req.True(strings.ContainsRune(opts.CodeAlphabet, glyph), "generated %q uses %q outside the generation alphabet", code, glyph)
		}
		req.False(seen[code], "duplicate code %q", code)
		seen[code] = true
	}
}

func TestRegistry_GetByCodeAndRetire(t *testing.T) {
	req := require.New(t)
	r := NewRegistry(testOptions(), nil)

	_, _, err := r.ResolveOrCreate("ABC123", "host", RoomOptions{})
	req.NoError(err)

	room, err := r.GetByCode("ABC123")
	req.NoError(err)
	req.NotNil(room)

	r.Retire("ABC123")
	_, err = r.GetByCode("ABC123")
	req.ErrorIs(err, domain.ErrNotFound)
}

func TestRegistry_ConcurrentResolveSingleRoom(t *testing.T) {
	req := require.New(t)
	r := NewRegistry(testOptions(), nil)

	var wg sync.WaitGroup
	rooms := make([]any, 32)
	for i := range 32 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			room, _, err := r.ResolveOrCreate("ABC123", "host", RoomOptions{})
			req.NoError(err)
			rooms[i] = room
		}(i)
	}
	wg.Wait()

	for i := 1; i < len(rooms); i++ {
		req.Same(rooms[0], rooms[i], "all resolvers must share one room")
	}
	req.Len(r.ActiveCodes(), 1)
}

func TestRegistry_TouchRefreshesActivity(t *testing.T) {
	req := require.New(t)
	clock := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	nowFn := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	}
	r := NewRegistry(testOptions(), nowFn)

	room, _, err := r.ResolveOrCreate("ABC123", "host", RoomOptions{})
	req.NoError(err)

	mu.Lock()
	clock = clock.Add(5 * time.Minute)
	mu.Unlock()
	r.Touch("ABC123")
	req.Equal(clock, room.Meta().LastActivityAt)
}
