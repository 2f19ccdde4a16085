package recorder_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/dkeye/Huddle/internal/recorder"
)

// eventLog records the order of lifecycle calls across fakes.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type fakePeer struct {
	log        *eventLog
	offers     []webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	closeErr   error
}

func (p *fakePeer) ApplyOfferAndCreateAnswer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	p.offers = append(p.offers, offer)
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func (p *fakePeer) AddICECandidate(ci webrtc.ICECandidateInit) error {
	p.candidates = append(p.candidates, ci)
	return nil
}

func (p *fakePeer) Close() error {
	p.log.add("peer.close")
	return p.closeErr
}

type fakePipeline struct {
	log        *eventLog
	basePath   string
	attached   []recorder.Track
	startCount int
	stopErr    error
}

func (p *fakePipeline) AttachTrack(t recorder.Track) error {
	p.attached = append(p.attached, t)
	return nil
}

func (p *fakePipeline) Start() error {
	p.startCount++
	return nil
}

func (p *fakePipeline) Stop() error {
	p.log.add("pipeline.stop")
	return p.stopErr
}

type fakeTrack struct {
	id string
}

func (t *fakeTrack) ID() string                       { return t.id }
func (t *fakeTrack) Kind() webrtc.RTPCodecType        { return webrtc.RTPCodecTypeAudio }
func (t *fakeTrack) Codec() webrtc.RTPCodecParameters { return webrtc.RTPCodecParameters{} }
func (t *fakeTrack) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	return nil, nil, errors.New("no media in tests")
}

// harness wires a manager with fakes and captures what it builds.
type harness struct {
	log       *eventLog
	mu        sync.Mutex
	peers     []*fakePeer
	pipelines []*fakePipeline
	onTracks  []func(recorder.Track)
}

func newHarness(t *testing.T) (*harness, *recorder.Manager) {
	t.Helper()
	h := &harness{log: &eventLog{}}
	m := recorder.NewManager(recorder.Options{
		BaseDir: t.TempDir(),
		NewPeer: func(onTrack func(recorder.Track)) (recorder.PeerConnection, error) {
			h.mu.Lock()
			defer h.mu.Unlock()
			p := &fakePeer{log: h.log}
			h.peers = append(h.peers, p)
			h.onTracks = append(h.onTracks, onTrack)
			return p, nil
		},
		NewPipeline: func(basePath string) (recorder.Pipeline, error) {
			h.mu.Lock()
			defer h.mu.Unlock()
			p := &fakePipeline{log: h.log, basePath: basePath}
			h.pipelines = append(h.pipelines, p)
			return p, nil
		},
	})
	return h, m
}

func TestStartOrRenegotiate(t *testing.T) {
	h, m := newHarness(t)

	answer, err := m.StartOrRenegotiate("room1", "alice", "v=0 offer", "offer")
	if err != nil {
		t.Fatalf("StartOrRenegotiate: %v", err)
	}
	if answer == nil || answer.Type != webrtc.SDPTypeAnswer || answer.SDP == "" {
		t.Fatalf("unexpected answer: %+v", answer)
	}
	if len(h.peers) != 1 {
		t.Fatalf("created %d peers, want 1", len(h.peers))
	}
	if got := h.peers[0].offers[0]; got.SDP != "v=0 offer" || got.Type != webrtc.SDPTypeOffer {
		t.Errorf("offer not applied as given: %+v", got)
	}
}

func TestRenegotiateReusesSessionAndPipeline(t *testing.T) {
	h, m := newHarness(t)

	if _, err := m.StartOrRenegotiate("room1", "alice", "offer-1", "offer"); err != nil {
		t.Fatalf("first negotiation: %v", err)
	}
	h.onTracks[0](&fakeTrack{id: "audio-0"})

	if _, err := m.StartOrRenegotiate("room1", "alice", "offer-2", "offer"); err != nil {
		t.Fatalf("renegotiation: %v", err)
	}
	h.onTracks[0](&fakeTrack{id: "video-0"})

	if len(h.peers) != 1 {
		t.Errorf("renegotiation created a second peer connection (%d total)", len(h.peers))
	}
	if len(h.peers[0].offers) != 2 {
		t.Errorf("offers applied = %d, want 2 on the same peer", len(h.peers[0].offers))
	}
	if len(h.pipelines) != 1 {
		t.Fatalf("pipelines created = %d, want 1 across renegotiation", len(h.pipelines))
	}
	if len(h.pipelines[0].attached) != 2 {
		t.Errorf("tracks attached = %d, want 2", len(h.pipelines[0].attached))
	}
}

// Multiple track arrivals start the pipeline exactly once.
func TestTrackArrivalStartsPipelineOnce(t *testing.T) {
	h, m := newHarness(t)

	if _, err := m.StartOrRenegotiate("room1", "alice", "offer", "offer"); err != nil {
		t.Fatalf("negotiate: %v", err)
	}
	h.onTracks[0](&fakeTrack{id: "audio-0"})
	h.onTracks[0](&fakeTrack{id: "video-0"})

	if h.pipelines[0].startCount != 1 {
		t.Errorf("pipeline started %d times, want 1", h.pipelines[0].startCount)
	}
}

func TestStopFinalizesPipelineBeforePeer(t *testing.T) {
	h, m := newHarness(t)

	m.StartOrRenegotiate("room1", "alice", "offer", "offer")
	h.onTracks[0](&fakeTrack{id: "audio-0"})

	m.Stop("room1", "alice")

	want := []string{"pipeline.stop", "peer.close"}
	got := h.log.list()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("teardown order = %v, want %v", got, want)
	}
}

func TestStopWithoutSessionIsNoop(t *testing.T) {
	_, m := newHarness(t)
	m.Stop("room1", "nobody") // must not panic or error-log into oblivion
}

func TestStopRemovesSessionEvenOnErrors(t *testing.T) {
	h, m := newHarness(t)

	m.StartOrRenegotiate("room1", "alice", "offer", "offer")
	h.onTracks[0](&fakeTrack{id: "audio-0"})
	h.pipelines[0].stopErr = errors.New("flush failed")
	h.peers[0].closeErr = errors.New("close failed")

	m.Stop("room1", "alice")

	// The entry is gone: the next offer builds a fresh session.
	if _, err := m.StartOrRenegotiate("room1", "alice", "offer", "offer"); err != nil {
		t.Fatalf("negotiate after failed stop: %v", err)
	}
	if len(h.peers) != 2 {
		t.Errorf("expected a fresh peer after stop, got %d peers total", len(h.peers))
	}
}

func TestAddICECandidate(t *testing.T) {
	h, m := newHarness(t)

	// No session yet: a stray candidate is not an error.
	m.AddICECandidate("room1", "alice", &webrtc.ICECandidateInit{Candidate: "candidate:stray"})

	m.StartOrRenegotiate("room1", "alice", "offer", "offer")
	m.AddICECandidate("room1", "alice", &webrtc.ICECandidateInit{Candidate: "candidate:1"})
	m.AddICECandidate("room1", "alice", nil) // end-of-candidates

	got := h.peers[0].candidates
	if len(got) != 2 {
		t.Fatalf("candidates applied = %d, want 2", len(got))
	}
	if got[0].Candidate != "candidate:1" {
		t.Errorf("first candidate = %q", got[0].Candidate)
	}
	if got[1].Candidate != "" {
		t.Errorf("end-of-candidates should be empty, got %q", got[1].Candidate)
	}
}

func TestStopAllInRoom(t *testing.T) {
	h, m := newHarness(t)

	m.StartOrRenegotiate("room1", "alice", "offer", "offer")
	m.StartOrRenegotiate("room1", "bob", "offer", "offer")
	m.StartOrRenegotiate("room2", "carol", "offer", "offer")

	m.StopAllInRoom("room1")

	closed := 0
	for _, e := range h.log.list() {
		if e == "peer.close" {
			closed++
		}
	}
	if closed != 2 {
		t.Errorf("closed %d peers, want 2 (room2 untouched)", closed)
	}

	// room2's session is still live: another offer reuses its peer.
	before := len(h.peers)
	m.StartOrRenegotiate("room2", "carol", "offer-2", "offer")
	if len(h.peers) != before {
		t.Error("room2 session should have survived StopAllInRoom(room1)")
	}
}

func TestSessionsAreIndependentPerKey(t *testing.T) {
	h, m := newHarness(t)

	m.StartOrRenegotiate("room1", "alice", "offer", "offer")
	m.StartOrRenegotiate("room1", "bob", "offer", "offer")

	if len(h.peers) != 2 {
		t.Fatalf("peers = %d, want one per key", len(h.peers))
	}

	m.Stop("room1", "alice")
	m.StartOrRenegotiate("room1", "bob", "offer-2", "offer")
	if len(h.peers[1].offers) != 2 {
		t.Errorf("bob's session should be untouched by alice's stop")
	}
}

func TestTrackArrivingAfterStopIsIgnored(t *testing.T) {
	h, m := newHarness(t)

	if _, err := m.StartOrRenegotiate("room1", "alice", "v=0 offer", "offer"); err != nil {
		t.Fatalf("StartOrRenegotiate: %v", err)
	}
	m.Stop("room1", "alice")

	h.onTracks[0](&fakeTrack{id: "late-audio"})
	if len(h.pipelines) != 0 {
		t.Errorf("a torn-down session built %d pipelines for a late track, want 0", len(h.pipelines))
	}
}

func TestRenegotiationRacingStopLeaksNoPeer(t *testing.T) {
	h, m := newHarness(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := m.StartOrRenegotiate("room1", "alice", "v=0 offer", "offer"); err != nil {
				t.Errorf("StartOrRenegotiate: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			m.Stop("room1", "alice")
		}()
	}
	wg.Wait()
	m.Stop("room1", "alice")

	peerCloses := 0
	for _, e := range h.log.list() {
		if e == "peer.close" {
			peerCloses++
		}
	}
	h.mu.Lock()
	created := len(h.peers)
	h.mu.Unlock()
	if peerCloses != created {
		t.Errorf("created %d peers but closed %d; a peer connection outlived its stop", created, peerCloses)
	}
}
