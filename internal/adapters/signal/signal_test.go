package signal_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/afero"

	"github.com/dkeye/Huddle/internal/adapters/signal"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/hub"
	"github.com/dkeye/Huddle/internal/recorder"
	"github.com/dkeye/Huddle/internal/registry"
)

type fakeConn struct {
	mu     sync.Mutex
	msgs   [][]byte
	closed bool
}

func (c *fakeConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, data)
	return nil
}

func (c *fakeConn) Close(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) envelopes(t *testing.T) []map[string]any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]any, 0, len(c.msgs))
	for _, m := range c.msgs {
		var v map[string]any
		if err := json.Unmarshal(m, &v); err != nil {
			t.Fatalf("captured message is not JSON: %v", err)
		}
		out = append(out, v)
	}
	return out
}

func (c *fakeConn) lastOfType(t *testing.T, kind string) map[string]any {
	t.Helper()
	var found map[string]any
	for _, env := range c.envelopes(t) {
		if env["type"] == kind {
			found = env
		}
	}
	return found
}

func (c *fakeConn) countType(t *testing.T, kind string) int {
	t.Helper()
	n := 0
	for _, env := range c.envelopes(t) {
		if env["type"] == kind {
			n++
		}
	}
	return n
}

type fakePeer struct{}

func (p *fakePeer) ApplyOfferAndCreateAnswer(webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}
func (p *fakePeer) AddICECandidate(webrtc.ICECandidateInit) error { return nil }
func (p *fakePeer) Close() error                                  { return nil }

type fakePipeline struct{}

func (p *fakePipeline) AttachTrack(recorder.Track) error { return nil }
func (p *fakePipeline) Start() error                     { return nil }
func (p *fakePipeline) Stop() error                      { return nil }

type testBench struct {
	store *registry.FileStore
	hub   *hub.Hub
	ctl   *signal.Controller
}

func newBench(t *testing.T) *testBench {
	t.Helper()
	store, err := registry.NewFileStore(afero.NewMemMapFs(), "data", false)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	h := hub.New(store)
	rec := recorder.NewManager(recorder.Options{
		BaseDir: t.TempDir(),
		NewPeer: func(onTrack func(recorder.Track)) (recorder.PeerConnection, error) {
			return &fakePeer{}, nil
		},
		NewPipeline: func(string) (recorder.Pipeline, error) {
			return &fakePipeline{}, nil
		},
	})
	return &testBench{
		store: store,
		hub:   h,
		ctl:   signal.NewController(store, h, rec, 32768, 0),
	}
}

// connect joins via the registry and admits a fake transport.
func (b *testBench) connect(t *testing.T, roomID domain.RoomID, name string) (domain.ParticipantID, *fakeConn) {
	t.Helper()
	ctx := context.Background()
	p, err := b.store.JoinRoom(ctx, roomID, name)
	if err != nil {
		t.Fatalf("JoinRoom(%s): %v", name, err)
	}
	conn := &fakeConn{}
	if _, err := b.hub.Connect(ctx, conn, roomID, p.ID, name); err != nil {
		t.Fatalf("Connect(%s): %v", name, err)
	}
	return p.ID, conn
}

func TestMalformedPayloadRepliesToSenderOnly(t *testing.T) {
	b := newBench(t)
	roomID, _ := b.store.CreateRoom(context.Background(), 6)
	alice, aliceConn := b.connect(t, roomID, "Alice")
	_, bobConn := b.connect(t, roomID, "Bob")

	b.ctl.Dispatch(context.Background(), roomID, alice, aliceConn, []byte("{not json"))

	errEnv := aliceConn.lastOfType(t, "error")
	if errEnv == nil || errEnv["message"] != "Invalid JSON format" {
		t.Errorf("sender should get the error envelope, got %v", errEnv)
	}
	if bobConn.countType(t, "error") != 0 {
		t.Error("errors must never be broadcast")
	}
}

func TestOfferRelayedToTargetOnly(t *testing.T) {
	b := newBench(t)
	roomID, _ := b.store.CreateRoom(context.Background(), 6)
	alice, aliceConn := b.connect(t, roomID, "Alice")
	bob, bobConn := b.connect(t, roomID, "Bob")
	_, carolConn := b.connect(t, roomID, "Carol")

	payload := []byte(`{"type":"webrtc-offer","sdp":"v=0","to_user":"` + string(bob) + `"}`)
	b.ctl.Dispatch(context.Background(), roomID, alice, aliceConn, payload)

	offer := bobConn.lastOfType(t, "webrtc-offer")
	if offer == nil {
		t.Fatal("bob did not receive the offer")
	}
	if offer["from_user"] != string(alice) {
		t.Errorf("from_user = %v, want %s", offer["from_user"], alice)
	}
	if offer["sdp"] != "v=0" {
		t.Errorf("sdp not forwarded untouched: %v", offer["sdp"])
	}
	if carolConn.countType(t, "webrtc-offer") != 0 {
		t.Error("unicast leaked to a third participant")
	}

	// Missing target is logged, not fatal, and nothing is delivered.
	b.ctl.Dispatch(context.Background(), roomID, alice, aliceConn,
		[]byte(`{"type":"ice-candidate","to_user":"nobody"}`))
}

func TestMediaToggleUpdatesRegistryAndBroadcasts(t *testing.T) {
	b := newBench(t)
	ctx := context.Background()
	roomID, _ := b.store.CreateRoom(ctx, 6)
	_, aliceConn := b.connect(t, roomID, "Alice")
	bob, bobConn := b.connect(t, roomID, "Bob")

	b.ctl.Dispatch(ctx, roomID, bob, bobConn,
		[]byte(`{"type":"media-toggle","audio_enabled":false,"video_enabled":true}`))

	env := aliceConn.lastOfType(t, "user-media-changed")
	if env == nil {
		t.Fatal("alice did not receive user-media-changed")
	}
	if env["user_id"] != string(bob) || env["audio_enabled"] != false || env["video_enabled"] != true {
		t.Errorf("unexpected envelope: %v", env)
	}
	if bobConn.countType(t, "user-media-changed") != 0 {
		t.Error("sender must be excluded from the media broadcast")
	}

	list, _ := b.store.ListParticipants(ctx, roomID)
	for _, p := range list {
		if p.ID == bob && p.IsAudioEnabled {
			t.Error("bob's audio flag not persisted")
		}
	}
}

func TestScreenShareStatusBroadcast(t *testing.T) {
	b := newBench(t)
	roomID, _ := b.store.CreateRoom(context.Background(), 6)
	alice, aliceConn := b.connect(t, roomID, "Alice")
	_, bobConn := b.connect(t, roomID, "Bob")

	b.ctl.Dispatch(context.Background(), roomID, alice, aliceConn, []byte(`{"type":"screen-share-started"}`))
	b.ctl.Dispatch(context.Background(), roomID, alice, aliceConn, []byte(`{"type":"screen-share-stopped"}`))

	envs := bobConn.envelopes(t)
	var states []bool
	for _, env := range envs {
		if env["type"] == "user-screen-share-changed" {
			states = append(states, env["screen_sharing"].(bool))
		}
	}
	if len(states) != 2 || !states[0] || states[1] {
		t.Errorf("screen share states = %v, want [true false]", states)
	}
	if aliceConn.countType(t, "user-screen-share-changed") != 0 {
		t.Error("sender must be excluded from the screen-share broadcast")
	}
}

func TestUnknownKindBroadcastWithSender(t *testing.T) {
	b := newBench(t)
	roomID, _ := b.store.CreateRoom(context.Background(), 6)
	alice, aliceConn := b.connect(t, roomID, "Alice")
	_, bobConn := b.connect(t, roomID, "Bob")

	b.ctl.Dispatch(context.Background(), roomID, alice, aliceConn,
		[]byte(`{"type":"emoji-reaction","emoji":"wave"}`))

	env := bobConn.lastOfType(t, "emoji-reaction")
	if env == nil {
		t.Fatal("unknown kind was not broadcast")
	}
	if env["from_user"] != string(alice) || env["emoji"] != "wave" {
		t.Errorf("unexpected envelope: %v", env)
	}
	if aliceConn.countType(t, "emoji-reaction") != 0 {
		t.Error("sender must be excluded from the forward-compat broadcast")
	}
}

func TestRecorderOfferAnsweredToSenderOnly(t *testing.T) {
	b := newBench(t)
	roomID, _ := b.store.CreateRoom(context.Background(), 6)
	alice, aliceConn := b.connect(t, roomID, "Alice")
	_, bobConn := b.connect(t, roomID, "Bob")

	b.ctl.Dispatch(context.Background(), roomID, alice, aliceConn,
		[]byte(`{"type":"recorder-offer","sdp":"v=0 offer","sdp_type":"offer"}`))

	answer := aliceConn.lastOfType(t, "recorder-answer")
	if answer == nil {
		t.Fatal("no recorder-answer reply")
	}
	if answer["sdp"] != "v=0 answer" || answer["sdp_type"] != "answer" {
		t.Errorf("unexpected answer: %v", answer)
	}
	if bobConn.countType(t, "recorder-answer") != 0 {
		t.Error("recorder-answer must go to the sender only")
	}
}

func TestRecorderStopAcknowledged(t *testing.T) {
	b := newBench(t)
	roomID, _ := b.store.CreateRoom(context.Background(), 6)
	alice, aliceConn := b.connect(t, roomID, "Alice")

	// Stop without a session is still acknowledged.
	b.ctl.Dispatch(context.Background(), roomID, alice, aliceConn, []byte(`{"type":"recorder-stop"}`))
	if aliceConn.countType(t, "recorder-stopped") != 1 {
		t.Error("expected a recorder-stopped acknowledgement")
	}

	b.ctl.Dispatch(context.Background(), roomID, alice, aliceConn,
		[]byte(`{"type":"recorder-offer","sdp":"v=0 offer"}`))
	b.ctl.Dispatch(context.Background(), roomID, alice, aliceConn, []byte(`{"type":"recorder-stop"}`))
	if aliceConn.countType(t, "recorder-stopped") != 2 {
		t.Error("expected a second acknowledgement after a real session stop")
	}
}

func TestRecorderCandidateNoReply(t *testing.T) {
	b := newBench(t)
	roomID, _ := b.store.CreateRoom(context.Background(), 6)
	alice, aliceConn := b.connect(t, roomID, "Alice")

	before := len(aliceConn.envelopes(t))
	b.ctl.Dispatch(context.Background(), roomID, alice, aliceConn,
		[]byte(`{"type":"recorder-ice-candidate","candidate":{"candidate":"candidate:1","sdpMid":"0"}}`))
	b.ctl.Dispatch(context.Background(), roomID, alice, aliceConn,
		[]byte(`{"type":"recorder-ice-candidate","candidate":null}`))
	if got := len(aliceConn.envelopes(t)); got != before {
		t.Errorf("recorder-ice-candidate must not reply, got %d new messages", got-before)
	}
}

// Full walkthrough: two participants meet, toggle media, and part.
func TestCallLifecycle(t *testing.T) {
	b := newBench(t)
	ctx := context.Background()

	roomID, err := b.store.CreateRoom(ctx, 6)
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	alice, aliceConn := b.connect(t, roomID, "Alice")
	joined := aliceConn.lastOfType(t, "room-joined")
	if joined["is_initiator"] != true {
		t.Error("alice should be the initiator")
	}

	bob, bobConn := b.connect(t, roomID, "Bob")
	joined = bobConn.lastOfType(t, "room-joined")
	if joined["is_initiator"] != false {
		t.Error("bob should not be the initiator")
	}
	users := joined["existing_users"].([]any)
	if len(users) != 1 || users[0].(map[string]any)["user_id"] != string(alice) {
		t.Fatalf("bob's existing users = %v, want alice", users)
	}
	if aliceConn.countType(t, "new-user-joined") != 1 {
		t.Error("alice should see bob arrive")
	}

	b.ctl.Dispatch(ctx, roomID, bob, bobConn,
		[]byte(`{"type":"media-toggle","audio_enabled":false,"video_enabled":true}`))
	env := aliceConn.lastOfType(t, "user-media-changed")
	if env == nil || env["user_id"] != string(bob) || env["audio_enabled"] != false {
		t.Errorf("alice's view of bob's media = %v", env)
	}
	list, _ := b.store.ListParticipants(ctx, roomID)
	for _, p := range list {
		if p.ID == bob && p.IsAudioEnabled {
			t.Error("bob's persisted audio flag should be off")
		}
	}

	b.hub.Disconnect(ctx, aliceConn)
	left := bobConn.lastOfType(t, "user-left")
	if left == nil || left["user_id"] != string(alice) {
		t.Errorf("bob should see alice leave, got %v", left)
	}
	room, err := b.store.GetRoom(ctx, roomID)
	if err != nil {
		t.Fatalf("room should survive with bob inside: %v", err)
	}
	if room.CurrentParticipants != 1 {
		t.Errorf("participant count = %d, want 1", room.CurrentParticipants)
	}
}
