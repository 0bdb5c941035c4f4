package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/4sizn/animal-zoom-sub002/internal/core"
	"github.com/4sizn/animal-zoom-sub002/internal/domain"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "coordinator.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_SaveAndLoadRoom(t *testing.T) {
	req := require.New(t)
	s := openTestStore(t)
	ctx := context.Background()

	created := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	rec := core.RoomRecord{
		ID:              "room-1",
		Code:            "ABC123",
		Name:            "standup",
		Status:          domain.RoomActive,
		MaxParticipants: 8,
		WaitingRoom:     true,
		CreatedAt:       created,
		LastActivityAt:  created,
	}
	req.NoError(s.SaveRoomMutation(ctx, rec))

	got, err := s.LoadRoom(ctx, "ABC123")
	req.NoError(err)
	req.Equal(rec.ID, got.ID)
	req.Equal(rec.Name, got.Name)
	req.Equal(rec.Status, got.Status)
	req.True(got.WaitingRoom)
	req.True(got.CreatedAt.Equal(created))
}

func TestStore_LoadRoomNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.LoadRoom(context.Background(), "NOPE99")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_SaveRoomMutationUpserts(t *testing.T) {
	req := require.New(t)
	s := openTestStore(t)
	ctx := context.Background()

	created := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	rec := core.RoomRecord{
		ID: "room-1", Code: "ABC123", Status: domain.RoomActive,
		MaxParticipants: 8, CreatedAt: created, LastActivityAt: created,
	}
	req.NoError(s.SaveRoomMutation(ctx, rec))

	rec.Status = domain.RoomInactive
	rec.LastActivityAt = created.Add(time.Hour)
	req.NoError(s.SaveRoomMutation(ctx, rec))

	got, err := s.LoadRoom(ctx, "ABC123")
	req.NoError(err)
	req.Equal(domain.RoomInactive, got.Status)
	req.True(got.LastActivityAt.Equal(created.Add(time.Hour)))
}

func TestStore_ParticipantEventTrail(t *testing.T) {
	req := require.New(t)
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	for i, ev := range []string{"joined", "disconnected", "reconnected", "left"} {
		req.NoError(s.RecordParticipantEvent(ctx, core.ParticipantEventRecord{
			RoomCode:      "ABC123",
			ParticipantID: "alice",
			DisplayName:   "Alice",
			Event:         ev,
			At:            base.Add(time.Duration(i) * time.Minute),
		}))
	}
	req.NoError(s.RecordParticipantEvent(ctx, core.ParticipantEventRecord{
		RoomCode: "XYZ789", ParticipantID: "bob", Event: "joined", At: base,
	}))

	events, err := s.RoomEvents(ctx, "ABC123", 10)
	req.NoError(err)
	req.Len(events, 4)
	req.Equal("left", events[0].Event, "newest first")
	req.Equal("joined", events[3].Event)

	events, err = s.RoomEvents(ctx, "ABC123", 2)
	req.NoError(err)
	req.Len(events, 2)
}
