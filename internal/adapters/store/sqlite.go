// Package store is the durable-store collaborator. Writes are
// eventually-persisted side effects of in-memory transitions; live
// membership never reads back from here.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/4sizn/animal-zoom-sub002/internal/core"
	"github.com/4sizn/animal-zoom-sub002/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS rooms (
	id               TEXT PRIMARY KEY,
	code             TEXT NOT NULL UNIQUE,
	name             TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL,
	max_participants INTEGER NOT NULL,
	waiting_room     INTEGER NOT NULL,
	created_at       TEXT NOT NULL,
	last_activity_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS participant_events (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	room_code      TEXT NOT NULL,
	participant_id TEXT NOT NULL,
	display_name   TEXT NOT NULL DEFAULT '',
	event          TEXT NOT NULL,
	at             TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_participant_events_room
	ON participant_events (room_code, at);
`

// SQLiteStore implements core.DurableStore on a local sqlite file.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and bootstraps the
// schema. Use ":memory:" for tests.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY churn from the fire-and-forget writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// LoadRoom fetches the persisted record for a code.
func (s *SQLiteStore) LoadRoom(ctx context.Context, code domain.RoomCode) (*core.RoomRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, code, name, status, max_participants, waiting_room, created_at, last_activity_at
		FROM rooms WHERE code = ?`, string(code))

	var (
		rec              core.RoomRecord
		waiting          int
		createdAt, touch string
	)
	err := row.Scan(&rec.ID, &rec.Code, &rec.Name, &rec.Status, &rec.MaxParticipants, &waiting, &createdAt, &touch)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: room %q", domain.ErrNotFound, code)
	}
	if err != nil {
		return nil, fmt.Errorf("load room %q: %w", code, err)
	}
	rec.WaitingRoom = waiting != 0
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("load room %q: bad created_at: %w", code, err)
	}
	if rec.LastActivityAt, err = time.Parse(time.RFC3339Nano, touch); err != nil {
		return nil, fmt.Errorf("load room %q: bad last_activity_at: %w", code, err)
	}
	return &rec, nil
}

// SaveRoomMutation upserts the room record.
func (s *SQLiteStore) SaveRoomMutation(ctx context.Context, rec core.RoomRecord) error {
	waiting := 0
	if rec.WaitingRoom {
		waiting = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rooms (id, code, name, status, max_participants, waiting_room, created_at, last_activity_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (code) DO UPDATE SET
			name = excluded.name,
			status = excluded.status,
			max_participants = excluded.max_participants,
			waiting_room = excluded.waiting_room,
			last_activity_at = excluded.last_activity_at`,
		string(rec.ID), string(rec.Code), rec.Name, string(rec.Status),
		rec.MaxParticipants, waiting,
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		rec.LastActivityAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save room %q: %w", rec.Code, err)
	}
	return nil
}

// RecordParticipantEvent appends a membership audit row.
func (s *SQLiteStore) RecordParticipantEvent(ctx context.Context, ev core.ParticipantEventRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO participant_events (room_code, participant_id, display_name, event, at)
		VALUES (?, ?, ?, ?, ?)`,
		string(ev.RoomCode), string(ev.ParticipantID), ev.DisplayName, ev.Event,
		ev.At.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record participant event: %w", err)
	}
	return nil
}

// RoomEvents lists the audit trail for a room, newest first.
func (s *SQLiteStore) RoomEvents(ctx context.Context, code domain.RoomCode, limit int) ([]core.ParticipantEventRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT room_code, participant_id, display_name, event, at
		FROM participant_events WHERE room_code = ?
		ORDER BY id DESC LIMIT ?`, string(code), limit)
	if err != nil {
		return nil, fmt.Errorf("room events %q: %w", code, err)
	}
	defer rows.Close()

	var out []core.ParticipantEventRecord
	for rows.Next() {
		var (
			ev core.ParticipantEventRecord
			at string
		)
		if err := rows.Scan(&ev.RoomCode, &ev.ParticipantID, &ev.DisplayName, &ev.Event, &at); err != nil {
			return nil, fmt.Errorf("room events %q: %w", code, err)
		}
		if ev.At, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, fmt.Errorf("room events %q: bad at: %w", code, err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
