package core

import (
	"context"
	"time"

	"github.com/4sizn/animal-zoom-sub002/internal/domain"
)

// Frame is a serialized event payload, ready for the wire.
type Frame []byte

// ConnID identifies one live transport connection. A connection is bound
// to at most one (room, participant) pair at a time.
type ConnID string

// Sender is the transport endpoint a room fans out to.
// Owned by the adapter; the adapter must Close() it. TrySend never blocks.
type Sender interface {
	TrySend(Frame) error
}

// Identity is what the auth collaborator vouches for.
type Identity struct {
	ParticipantID domain.ParticipantID
	DisplayName   string
}

// Authenticator verifies an inbound credential. The coordinator never
// interprets tokens itself.
type Authenticator interface {
	Verify(token string) (Identity, error)
}

// RoomRecord is the durable-store shape of a room. The store is an
// eventually-persisted side effect of in-memory transitions, not the
// source of truth for live membership.
type RoomRecord struct {
	ID              domain.RoomID
	Code            domain.RoomCode
	Name            string
	Status          domain.RoomStatus
	MaxParticipants int
	WaitingRoom     bool
	CreatedAt       time.Time
	LastActivityAt  time.Time
}

// ParticipantEventRecord is an audit row for a membership transition.
type ParticipantEventRecord struct {
	RoomCode      domain.RoomCode
	ParticipantID domain.ParticipantID
	DisplayName   string
	Event         string
	At            time.Time
}

// DurableStore is the persistence collaborator.
type DurableStore interface {
	LoadRoom(ctx context.Context, code domain.RoomCode) (*RoomRecord, error)
	SaveRoomMutation(ctx context.Context, rec RoomRecord) error
	RecordParticipantEvent(ctx context.Context, ev ParticipantEventRecord) error
}

// ParticipantDTO is a read-only membership view for APIs and broadcasts.
type ParticipantDTO struct {
	ID          domain.ParticipantID     `json:"id"`
	DisplayName string                   `json:"display_name"`
	Role        domain.Role              `json:"role"`
	Status      domain.ParticipantStatus `json:"status"`
	IsActive    bool                     `json:"is_active"`
	JoinedAt    time.Time                `json:"joined_at"`
}

// RoomView is a read-only room snapshot (no transport fields).
type RoomView struct {
	ID              domain.RoomID     `json:"id"`
	Code            domain.RoomCode   `json:"code"`
	Name            string            `json:"name"`
	Status          domain.RoomStatus `json:"status"`
	Current         int               `json:"current_participants"`
	Max             int               `json:"max_participants"`
	WaitingRoom     bool              `json:"waiting_room"`
	Members         []ParticipantDTO  `json:"members"`
}

// PublishResult reports delivery stats/backpressure to the caller.
type PublishResult struct {
	SentTo  int
	Dropped []ConnID
}
