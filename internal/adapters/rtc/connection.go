// Package rtc wraps pion for the recorder's server-side peer connections.
package rtc

import (
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Huddle/internal/recorder"
)

type RecorderConnection struct {
	pc      *webrtc.PeerConnection
	onTrack func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)
}

func DefaultConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

func NewRecorderConnection(cfg webrtc.Configuration) (*RecorderConnection, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	c := &RecorderConnection{pc: pc}

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "rtc").Str("ice_state", s.String()).Msg("ICE state")
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("peer_connection_state", s.String()).Msg("Peer state")
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "rtc").
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		if c.onTrack != nil {
			c.onTrack(track, receiver)
		}
	})
	return c, nil
}

// OnTrack sets the application-level callback for remote tracks. Set it
// before the first offer is applied.
func (c *RecorderConnection) OnTrack(fn func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)) {
	c.onTrack = fn
}

// ApplyOfferAndCreateAnswer waits for ICE gathering to complete so the
// answer carries all candidates and the client needs no trickle path.
func (c *RecorderConnection) ApplyOfferAndCreateAnswer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return nil, err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}

	gatherComplete := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return nil, err
	}
	<-gatherComplete

	return c.pc.LocalDescription(), nil
}

func (c *RecorderConnection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(ci)
}

func (c *RecorderConnection) Close() error {
	return c.pc.Close()
}

// PeerFactory adapts RecorderConnection construction to the recorder's
// factory shape; the session's track handler is bound before negotiation.
func PeerFactory(cfg webrtc.Configuration) recorder.PeerFactory {
	return func(onTrack func(recorder.Track)) (recorder.PeerConnection, error) {
		c, err := NewRecorderConnection(cfg)
		if err != nil {
			return nil, err
		}
		c.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			onTrack(track)
		})
		return c, nil
	}
}
