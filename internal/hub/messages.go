package hub

import (
	"encoding/json"

	"github.com/dkeye/Huddle/internal/domain"
)

// Wire envelopes for server-originated events. Field names are part of the
// client contract and must not change.

type ExistingUser struct {
	UserID       domain.ParticipantID `json:"user_id"`
	DisplayName  string               `json:"display_name"`
	AudioEnabled bool                 `json:"audio_enabled"`
	VideoEnabled bool                 `json:"video_enabled"`
}

type roomJoined struct {
	Type          string               `json:"type"`
	UserID        domain.ParticipantID `json:"user_id"`
	RoomID        domain.RoomID        `json:"room_id"`
	ExistingUsers []ExistingUser       `json:"existing_users"`
	IsInitiator   bool                 `json:"is_initiator"`
}

type newUserJoined struct {
	Type    string       `json:"type"`
	NewUser ExistingUser `json:"new_user"`
}

type userLeft struct {
	Type   string               `json:"type"`
	UserID domain.ParticipantID `json:"user_id"`
}

type roomEnded struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type userMediaChanged struct {
	Type         string               `json:"type"`
	UserID       domain.ParticipantID `json:"user_id"`
	AudioEnabled bool                 `json:"audio_enabled"`
	VideoEnabled bool                 `json:"video_enabled"`
}

type userScreenShareChanged struct {
	Type          string               `json:"type"`
	UserID        domain.ParticipantID `json:"user_id"`
	ScreenSharing bool                 `json:"screen_sharing"`
}

// MediaChangedMessage is used by both the signaling dispatcher and the REST
// media endpoint, which announce the same event.
func MediaChangedMessage(userID domain.ParticipantID, audioEnabled, videoEnabled bool) []byte {
	return mustMarshal(userMediaChanged{
		Type:         "user-media-changed",
		UserID:       userID,
		AudioEnabled: audioEnabled,
		VideoEnabled: videoEnabled,
	})
}

func ScreenShareChangedMessage(userID domain.ParticipantID, active bool) []byte {
	return mustMarshal(userScreenShareChanged{
		Type:          "user-screen-share-changed",
		UserID:        userID,
		ScreenSharing: active,
	})
}

// mustMarshal is for envelope structs only; they cannot fail to encode.
func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
