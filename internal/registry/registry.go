// Package registry is the durable room/participant store. Each logical
// operation is atomic with respect to the others; callers never observe a
// room count inconsistent with the participant set.
package registry

import (
	"context"
	"errors"

	"github.com/dkeye/Huddle/internal/domain"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrRoomFull     = errors.New("room is full")
)

type Store interface {
	// CreateRoom stores a fresh room with zero participants.
	// maxParticipants must be positive.
	CreateRoom(ctx context.Context, maxParticipants int) (domain.RoomID, error)
	GetRoom(ctx context.Context, roomID domain.RoomID) (*domain.Room, error)
	// JoinRoom adds a participant with audio/video enabled and bumps the
	// room count. Returns ErrRoomFull only when capacity enforcement is on.
	JoinRoom(ctx context.Context, roomID domain.RoomID, displayName string) (*domain.Participant, error)
	// LeaveRoom removes the participant; a room whose count drops to zero
	// is deleted together with its participant set. Unknown room or
	// participant is a no-op.
	LeaveRoom(ctx context.Context, roomID domain.RoomID, participantID domain.ParticipantID) error
	// ListParticipants returns an empty slice, not an error, for an
	// unknown room.
	ListParticipants(ctx context.Context, roomID domain.RoomID) ([]domain.Participant, error)
	// UpdateMediaStatus is a no-op if the participant is gone; a status
	// update racing a leave must not surface an error.
	UpdateMediaStatus(ctx context.Context, roomID domain.RoomID, participantID domain.ParticipantID, audioEnabled, videoEnabled bool) error
}
