package recorder

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/h264writer"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/rs/zerolog/log"
)

var errClosedSink = errors.New("sink closed")

// mediaPipeline writes each attached track to its own file next to
// basePath, one pion media writer per track. Opus lands in .ogg, VP8 in
// .ivf, H264 in .h264.
type mediaPipeline struct {
	basePath string

	mu      sync.Mutex
	sinks   []*trackSink
	started bool
	stopped bool
}

type trackSink struct {
	track Track

	mu     sync.Mutex
	writer media.Writer
	closed bool
}

func NewMediaPipeline(basePath string) (Pipeline, error) {
	return &mediaPipeline{basePath: basePath}, nil
}

// AttachTrack may be called before Start (initial negotiation) or after it
// (a renegotiation adding a screen-share track); in the latter case the
// copy loop launches immediately.
func (p *mediaPipeline) AttachTrack(t Track) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return errClosedSink
	}

	w, err := p.newWriter(t, len(p.sinks))
	if err != nil {
		return err
	}
	s := &trackSink{track: t, writer: w}
	p.sinks = append(p.sinks, s)
	if p.started {
		go s.copyLoop()
	}
	return nil
}

func (p *mediaPipeline) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return nil
	}
	p.started = true
	for _, s := range p.sinks {
		go s.copyLoop()
	}
	return nil
}

// Stop closes every writer so the files are finalized; running copy loops
// drain out on the next read or write error.
func (p *mediaPipeline) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return nil
	}
	p.stopped = true

	var firstErr error
	for _, s := range p.sinks {
		if err := s.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (p *mediaPipeline) newWriter(t Track, n int) (media.Writer, error) {
	codec := t.Codec()
	mime := strings.ToLower(codec.MimeType)
	switch {
	case mime == strings.ToLower(webrtc.MimeTypeOpus):
		return oggwriter.New(fmt.Sprintf("%s-%d.ogg", p.basePath, n), codec.ClockRate, codec.Channels)
	case mime == strings.ToLower(webrtc.MimeTypeVP8):
		return ivfwriter.New(fmt.Sprintf("%s-%d.ivf", p.basePath, n))
	case mime == strings.ToLower(webrtc.MimeTypeH264):
		return h264writer.New(fmt.Sprintf("%s-%d.h264", p.basePath, n))
	default:
		return nil, fmt.Errorf("unsupported codec %s", codec.MimeType)
	}
}

func (s *trackSink) copyLoop() {
	for {
		pkt, _, err := s.track.ReadRTP()
		if err != nil {
			log.Debug().Err(err).Str("module", "recorder").Str("track", s.track.ID()).Msg("track read done")
			return
		}
		if err := s.writeRTP(pkt); err != nil {
			if !errors.Is(err, errClosedSink) {
				log.Error().Err(err).Str("module", "recorder").Str("track", s.track.ID()).Msg("write rtp")
			}
			return
		}
	}
}

func (s *trackSink) writeRTP(pkt *rtp.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosedSink
	}
	return s.writer.WriteRTP(pkt)
}

func (s *trackSink) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.writer.Close()
}
