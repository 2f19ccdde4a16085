package signal

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Huddle/internal/domain"
)

// handleRecorderOffer delegates the offer to the recording session manager
// and replies to the sender only with the server's answer.
func (ctl *Controller) handleRecorderOffer(roomID domain.RoomID, from domain.ParticipantID, c Sender, data []byte) {
	type offerPayload struct {
		Type    string `json:"type"`
		SDP     string `json:"sdp"`
		SDPType string `json:"sdp_type"`
	}
	var p offerPayload
	if err := json.Unmarshal(data, &p); err != nil || p.SDP == "" {
		log.Warn().Err(err).Str("module", "signal").Msg("bad recorder-offer payload")
		ctl.sendError(c, "Invalid JSON format")
		return
	}
	if p.SDPType == "" {
		p.SDPType = "offer"
	}

	answer, err := ctl.Recorder.StartOrRenegotiate(roomID, from, p.SDP, p.SDPType)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("room", string(roomID)).
			Str("user", string(from)).Msg("recorder negotiation failed")
		ctl.sendError(c, "recorder negotiation failed")
		return
	}

	ctl.sendJSON(c, struct {
		Type    string `json:"type"`
		SDP     string `json:"sdp"`
		SDPType string `json:"sdp_type"`
	}{
		Type:    "recorder-answer",
		SDP:     answer.SDP,
		SDPType: answer.Type.String(),
	})
}

// handleRecorderCandidate applies a trickled candidate to the session's
// peer connection; an absent candidate marks end-of-candidates. No reply.
func (ctl *Controller) handleRecorderCandidate(roomID domain.RoomID, from domain.ParticipantID, c Sender, data []byte) {
	type candidatePayload struct {
		Type      string `json:"type"`
		Candidate *struct {
			Candidate     string  `json:"candidate"`
			SDPMid        *string `json:"sdpMid"`
			SDPMLineIndex *uint16 `json:"sdpMLineIndex"`
		} `json:"candidate"`
	}
	var p candidatePayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("bad recorder-ice-candidate payload")
		ctl.sendError(c, "Invalid JSON format")
		return
	}

	if p.Candidate == nil || p.Candidate.Candidate == "" {
		ctl.Recorder.AddICECandidate(roomID, from, nil)
		return
	}
	ctl.Recorder.AddICECandidate(roomID, from, &webrtc.ICECandidateInit{
		Candidate:     p.Candidate.Candidate,
		SDPMid:        p.Candidate.SDPMid,
		SDPMLineIndex: p.Candidate.SDPMLineIndex,
	})
}

func (ctl *Controller) handleRecorderStop(roomID domain.RoomID, from domain.ParticipantID, c Sender) {
	ctl.Recorder.Stop(roomID, from)
	ctl.sendJSON(c, struct {
		Type string `json:"type"`
	}{
		Type: "recorder-stopped",
	})
}
