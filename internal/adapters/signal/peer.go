package signal

import (
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/hub"
)

// relayToPeer forwards a negotiation payload untouched except for the
// injected from_user, so clients can carry whatever SDP or candidate fields
// they need. A missing or dead target is logged, never fatal.
func (ctl *Controller) relayToPeer(roomID domain.RoomID, from domain.ParticipantID, data []byte) {
	msg, ok := decodeRaw(data)
	if !ok {
		return
	}
	target, _ := msg["to_user"].(string)
	if target == "" {
		log.Warn().Str("module", "signal").Str("user", string(from)).Msg("relay without to_user")
		return
	}
	msg["from_user"] = string(from)

	b, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("relay marshal")
		return
	}
	if err := ctl.Hub.SendToParticipant(b, roomID, domain.ParticipantID(target)); err != nil {
		if errors.Is(err, hub.ErrUndeliverable) {
			log.Warn().Str("module", "signal").Str("room", string(roomID)).
				Str("from", string(from)).Str("to", target).Msg("relay target not connected")
			return
		}
		log.Error().Err(err).Str("module", "signal").Str("to", target).Msg("relay send")
	}
}

// broadcastRaw is the forward-compatible default for unrecognized kinds.
func (ctl *Controller) broadcastRaw(roomID domain.RoomID, from domain.ParticipantID, data []byte) {
	msg, ok := decodeRaw(data)
	if !ok {
		return
	}
	msg["from_user"] = string(from)

	b, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("broadcast marshal")
		return
	}
	ctl.Hub.BroadcastToRoom(b, roomID, from)
}

// decodeRaw re-parses the already-validated envelope as a generic object so
// fields can be injected without declaring every client schema here.
func decodeRaw(data []byte) (map[string]any, bool) {
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("payload is not an object")
		return nil, false
	}
	return msg, true
}
