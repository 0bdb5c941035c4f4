package domain

import (
	"encoding/json"
	"strings"
	"time"
)

type (
	RoomID   string
	RoomCode string
)

type RoomStatus string

const (
	RoomActive   RoomStatus = "active"
	RoomInactive RoomStatus = "inactive"
)

// Room carries the coordinator-facing metadata of a live room.
// Membership and connection state live in core; this is meta only.
type Room struct {
	ID              RoomID
	Code            RoomCode
	Name            string
	Status          RoomStatus
	MaxParticipants int
	WaitingRoom     bool
	LastActivityAt  time.Time
	CreatedAt       time.Time
	// Customization is passed through to clients untouched
	// (room theme, avatar set, whatever the frontend keeps here).
	Customization json.RawMessage
}

// NormalizeCode folds a user-supplied code to its canonical form.
func NormalizeCode(raw string) RoomCode {
	return RoomCode(strings.ToUpper(strings.TrimSpace(raw)))
}

// ValidCode reports whether code matches the fixed-length uppercase
// alphanumeric format. The code must already be normalized. Generated codes
// draw from a narrower alphabet, but any well-formed code a client presents
// is accepted.
func ValidCode(code RoomCode, length int) bool {
	if len(code) != length {
		return false
	}
	for _, r := range string(code) {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}
