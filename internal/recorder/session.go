package recorder

import (
	"errors"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Huddle/internal/domain"
)

// Track is the slice of *webrtc.TrackRemote the pipeline reads from.
type Track interface {
	ID() string
	Kind() webrtc.RTPCodecType
	Codec() webrtc.RTPCodecParameters
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// PeerConnection is the server-side media connection a session owns.
type PeerConnection interface {
	ApplyOfferAndCreateAnswer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error)
	AddICECandidate(webrtc.ICECandidateInit) error
	Close() error
}

// Pipeline receives a session's inbound tracks and writes them to disk.
type Pipeline interface {
	AttachTrack(t Track) error
	Start() error
	Stop() error
}

type sessionKey struct {
	Room        domain.RoomID
	Participant domain.ParticipantID
}

// Session holds one media peer connection and at most one recording
// pipeline for a (room, participant) key. Its mutex strictly orders
// renegotiations, track arrivals and stop for the key; sessions for
// different keys proceed independently.
type Session struct {
	key      sessionKey
	basePath string

	newPeer     PeerFactory
	newPipeline PipelineFactory

	mu       sync.Mutex
	pc       PeerConnection
	pipeline Pipeline
	started  bool
	stopped  bool
}

// errSessionStopped marks a session already torn down; the manager reacts
// by allocating a fresh one instead of resurrecting a peer connection
// nothing would ever close.
var errSessionStopped = errors.New("session stopped")

// startOrRenegotiate creates the peer connection on first use and reuses it
// for later offers. Apply-then-answer is not atomic at the peer-connection
// layer, hence the session mutex around the whole exchange.
func (s *Session) startOrRenegotiate(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil, errSessionStopped
	}
	if s.pc == nil {
		pc, err := s.newPeer(s.handleTrack)
		if err != nil {
			return nil, err
		}
		s.pc = pc
	}
	return s.pc.ApplyOfferAndCreateAnswer(offer)
}

// handleTrack runs on the peer connection's track event. Recording is
// best-effort: pipeline failures are logged and never tear down the peer
// connection or the signaling loop.
func (s *Session) handleTrack(t Track) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	if s.pipeline == nil {
		p, err := s.newPipeline(s.basePath)
		if err != nil {
			log.Error().Err(err).Str("module", "recorder").Str("room", string(s.key.Room)).
				Str("user", string(s.key.Participant)).Msg("create pipeline")
			return
		}
		s.pipeline = p
	}

	if err := s.pipeline.AttachTrack(t); err != nil {
		log.Error().Err(err).Str("module", "recorder").Str("room", string(s.key.Room)).
			Str("user", string(s.key.Participant)).Str("track", t.ID()).Msg("attach track")
		return
	}

	if !s.started {
		if err := s.pipeline.Start(); err != nil {
			log.Error().Err(err).Str("module", "recorder").Str("room", string(s.key.Room)).
				Str("user", string(s.key.Participant)).Msg("start pipeline")
			return
		}
		s.started = true
		log.Info().Str("module", "recorder").Str("room", string(s.key.Room)).
			Str("user", string(s.key.Participant)).Str("out", s.basePath).Msg("recording started")
	}
}

func (s *Session) addICECandidate(cand webrtc.ICECandidateInit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pc == nil {
		return
	}
	if err := s.pc.AddICECandidate(cand); err != nil {
		log.Error().Err(err).Str("module", "recorder").Str("room", string(s.key.Room)).
			Str("user", string(s.key.Participant)).Msg("add ice candidate")
	}
}

// stop finalizes the pipeline before closing the peer connection so the
// output files are flushed before the transport tears down. Both steps are
// best-effort.
func (s *Session) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pipeline != nil && s.started {
		if err := s.pipeline.Stop(); err != nil {
			log.Warn().Err(err).Str("module", "recorder").Str("room", string(s.key.Room)).
				Str("user", string(s.key.Participant)).Msg("stop pipeline")
		}
	}
	if s.pc != nil {
		if err := s.pc.Close(); err != nil {
			log.Warn().Err(err).Str("module", "recorder").Str("room", string(s.key.Room)).
				Str("user", string(s.key.Participant)).Msg("close peer connection")
		}
	}
	s.pipeline = nil
	s.pc = nil
	s.started = false
	s.stopped = true
}
