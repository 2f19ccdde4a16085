package signal

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/hub"
)

// handleMediaToggle persists the sender's audio/video flags and announces
// the change to the rest of the room. Absent fields default to enabled.
func (ctl *Controller) handleMediaToggle(ctx context.Context, roomID domain.RoomID, from domain.ParticipantID, c Sender, data []byte) {
	type togglePayload struct {
		Type         string `json:"type"`
		AudioEnabled *bool  `json:"audio_enabled"`
		VideoEnabled *bool  `json:"video_enabled"`
	}
	var p togglePayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("bad media-toggle payload")
		ctl.sendError(c, "Invalid JSON format")
		return
	}
	audio := p.AudioEnabled == nil || *p.AudioEnabled
	video := p.VideoEnabled == nil || *p.VideoEnabled

	if err := ctl.Store.UpdateMediaStatus(ctx, roomID, from, audio, video); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("user", string(from)).Msg("update media status")
	}
	ctl.Hub.BroadcastToRoom(hub.MediaChangedMessage(from, audio, video), roomID, from)
}

func (ctl *Controller) screenShareChanged(from domain.ParticipantID, active bool) []byte {
	log.Info().Str("module", "signal").Str("user", string(from)).Bool("active", active).Msg("screen share changed")
	return hub.ScreenShareChangedMessage(from, active)
}
