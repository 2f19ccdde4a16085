// Package recorder manages server-side recording sessions, one per
// (room, participant), independent of the participant's signaling
// transport.
package recorder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Huddle/internal/domain"
)

type (
	// PeerFactory builds a media peer connection with onTrack bound to
	// the owning session.
	PeerFactory func(onTrack func(Track)) (PeerConnection, error)
	// PipelineFactory builds a recording pipeline writing next to
	// basePath (extension per attached track).
	PipelineFactory func(basePath string) (Pipeline, error)
)

type Options struct {
	BaseDir     string
	NewPeer     PeerFactory
	NewPipeline PipelineFactory
}

type Manager struct {
	opts Options

	mu       sync.Mutex
	sessions map[sessionKey]*Session
}

func NewManager(opts Options) *Manager {
	if opts.NewPipeline == nil {
		opts.NewPipeline = NewMediaPipeline
	}
	return &Manager{
		opts:     opts,
		sessions: make(map[sessionKey]*Session),
	}
}

// StartOrRenegotiate applies a remote offer for the key's session, creating
// the session lazily, and returns the local answer.
func (m *Manager) StartOrRenegotiate(roomID domain.RoomID, participantID domain.ParticipantID, offerSDP, offerType string) (*webrtc.SessionDescription, error) {
	key := sessionKey{Room: roomID, Participant: participantID}
	sdpType := webrtc.NewSDPType(offerType)

	for {
		m.mu.Lock()
		s, ok := m.sessions[key]
		if !ok {
			var err error
			s, err = m.newSession(key)
			if err != nil {
				m.mu.Unlock()
				return nil, err
			}
			m.sessions[key] = s
		}
		m.mu.Unlock()

		answer, err := s.startOrRenegotiate(webrtc.SessionDescription{Type: sdpType, SDP: offerSDP})
		if errors.Is(err, errSessionStopped) {
			// Lost the race with Stop between the map lookup and the
			// session lock; the entry is gone, so the next pass starts a
			// fresh session.
			continue
		}
		return answer, err
	}
}

// AddICECandidate is a no-op without a session; a stray candidate after
// stop is not an error. A nil candidate marks end-of-candidates.
func (m *Manager) AddICECandidate(roomID domain.RoomID, participantID domain.ParticipantID, cand *webrtc.ICECandidateInit) {
	m.mu.Lock()
	s, ok := m.sessions[sessionKey{Room: roomID, Participant: participantID}]
	m.mu.Unlock()
	if !ok {
		return
	}
	if cand == nil {
		s.addICECandidate(webrtc.ICECandidateInit{})
		return
	}
	s.addICECandidate(*cand)
}

// Stop removes the session entry unconditionally, even when finalizing the
// pipeline or closing the peer connection errors. No session is a no-op.
func (m *Manager) Stop(roomID domain.RoomID, participantID domain.ParticipantID) {
	key := sessionKey{Room: roomID, Participant: participantID}
	m.mu.Lock()
	s, ok := m.sessions[key]
	if ok {
		delete(m.sessions, key)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	s.stop()
	log.Info().Str("module", "recorder").Str("room", string(roomID)).
		Str("user", string(participantID)).Msg("session stopped")
}

// StopAllInRoom stops every session of the room, for room-wide termination.
func (m *Manager) StopAllInRoom(roomID domain.RoomID) {
	m.mu.Lock()
	stopped := make([]*Session, 0)
	for key, s := range m.sessions {
		if key.Room == roomID {
			delete(m.sessions, key)
			stopped = append(stopped, s)
		}
	}
	m.mu.Unlock()

	for _, s := range stopped {
		s.stop()
	}
	if len(stopped) > 0 {
		log.Info().Str("module", "recorder").Str("room", string(roomID)).
			Int("sessions", len(stopped)).Msg("stopped all sessions in room")
	}
}

func (m *Manager) newSession(key sessionKey) (*Session, error) {
	outDir := filepath.Join(m.opts.BaseDir, string(key.Room), string(key.Participant))
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create recording dir: %w", err)
	}
	ts := time.Now().UTC().Format("20060102T150405Z")
	return &Session{
		key:         key,
		basePath:    filepath.Join(outDir, ts),
		newPeer:     m.opts.NewPeer,
		newPipeline: m.opts.NewPipeline,
	}, nil
}
