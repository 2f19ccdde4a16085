package domain

import (
	"encoding/json"
	"errors"
	"time"
)

const MaxDisplayNameLen = 36

var (
	ErrDisplayNameEmpty   = errors.New("display name empty")
	ErrDisplayNameTooLong = errors.New("display name too long")
)

// Participant is owned by its Room. IsConnected is advisory persisted state;
// the hub's membership is the authoritative signal of a live transport and
// this flag can lag behind a crash or abrupt disconnect.
type Participant struct {
	ID             ParticipantID `json:"user_id"`
	DisplayName    string        `json:"display_name"`
	JoinedAt       time.Time     `json:"joined_at"`
	IsAudioEnabled bool          `json:"is_audio_enabled"`
	IsVideoEnabled bool          `json:"is_video_enabled"`
	IsConnected    bool          `json:"is_connected"`
}

func NewParticipant(displayName string) (*Participant, error) {
	if len(displayName) == 0 {
		return nil, ErrDisplayNameEmpty
	}
	if len(displayName) > MaxDisplayNameLen {
		return nil, ErrDisplayNameTooLong
	}
	return &Participant{
		ID:             ParticipantID(NewShortID()),
		DisplayName:    displayName,
		JoinedAt:       time.Now().UTC(),
		IsAudioEnabled: true,
		IsVideoEnabled: true,
		IsConnected:    true,
	}, nil
}

func (p Participant) MarshalBinary() ([]byte, error) {
	return json.Marshal(p)
}

func (p *Participant) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, p)
}
