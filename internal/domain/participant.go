// Package domain contains entities without logic, just meta-data.
package domain

import (
	"time"
	"unicode/utf8"
)

const MaxDisplayNameLen = 36

// ParticipantID is stable across reconnections; it comes from the
// identity collaborator, never from a transport connection.
type ParticipantID string

type Role string

const (
	RoleHost        Role = "host"
	RoleParticipant Role = "participant"
)

type ParticipantStatus string

const (
	StatusWaiting  ParticipantStatus = "waiting"
	StatusJoined   ParticipantStatus = "joined"
	StatusLeft     ParticipantStatus = "left"
	StatusRejected ParticipantStatus = "rejected"
)

// Participant is a room-scoped membership record.
// A joined participant with IsActive=false is inside its grace window:
// the socket is gone but the seat is still held.
type Participant struct {
	ID          ParticipantID
	DisplayName string
	Role        Role
	Status      ParticipantStatus
	IsActive    bool
	JoinedAt    time.Time
	LeftAt      time.Time
}

// TruncateName clamps a display name to the allowed length without
// splitting a rune; the result must stay valid UTF-8 for broadcast JSON.
func TruncateName(name string) string {
	if len(name) <= MaxDisplayNameLen {
		return name
	}
	cut := MaxDisplayNameLen
	for cut > 0 && !utf8.RuneStart(name[cut]) {
		cut--
	}
	return name[:cut]
}
