// Package domain contains entities without logic, just meta-data.
package domain

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

type (
	RoomID        string
	ParticipantID string
)

var ErrMaxParticipantsInvalid = errors.New("max participants must be positive")

// Room is the persisted rendezvous scope. CurrentParticipants mirrors the
// size of the room's participant set in the registry; keeping the two in
// step is the registry's job, not the room's.
type Room struct {
	ID                  RoomID    `json:"room_id"`
	CreatedAt           time.Time `json:"created_at"`
	MaxParticipants     int       `json:"max_participants"`
	CurrentParticipants int       `json:"current_participants"`
	IsActive            bool      `json:"is_active"`
}

// NewRoom avoids raw literals in adapters and keeps construction obvious.
func NewRoom(maxParticipants int) (*Room, error) {
	if maxParticipants <= 0 {
		return nil, ErrMaxParticipantsInvalid
	}
	return &Room{
		ID:              RoomID(NewShortID()),
		CreatedAt:       time.Now().UTC(),
		MaxParticipants: maxParticipants,
		IsActive:        true,
	}, nil
}

// NewShortID returns an opaque 8-char token, unique enough for room and
// participant identifiers.
func NewShortID() string {
	return uuid.NewString()[:8]
}

func (r Room) MarshalBinary() ([]byte, error) {
	return json.Marshal(r)
}

func (r *Room) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, r)
}
