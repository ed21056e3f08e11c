package peer_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/mossy-p/call-signaling/internal/media"
	"github.com/mossy-p/call-signaling/internal/peer"
	"github.com/mossy-p/call-signaling/internal/peer/peertest"
)

type recorder struct {
	mu         sync.Mutex
	states     []peer.State
	candidates []string
	tracks     []peer.RemoteTrack
}

func (r *recorder) listener() peer.Listener {
	return peer.Listener{
		OnStateChange: func(s peer.State) {
			r.mu.Lock()
			r.states = append(r.states, s)
			r.mu.Unlock()
		},
		OnICECandidate: func(c webrtc.ICECandidateInit) {
			r.mu.Lock()
			r.candidates = append(r.candidates, c.Candidate)
			r.mu.Unlock()
		},
		OnTrack: func(t peer.RemoteTrack) {
			r.mu.Lock()
			r.tracks = append(r.tracks, t)
			r.mu.Unlock()
		},
	}
}

func newSession(t *testing.T) (*peer.Session, *peertest.Factory, *recorder) {
	t.Helper()
	f := &peertest.Factory{}
	rec := &recorder{}
	s := peer.NewSession("bob", peer.Config{}, f, rec.listener(), zap.NewNop())
	if err := s.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return s, f, rec
}

func offer(sdp string) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
}

func answer(sdp string) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
}

func cand(c string) webrtc.ICECandidateInit { return webrtc.ICECandidateInit{Candidate: c} }

func TestInitializeTwice(t *testing.T) {
	s, _, _ := newSession(t)
	if err := s.Initialize(); !errors.Is(err, peer.ErrAlreadyInitialized) {
		t.Fatalf("err=%v", err)
	}
}

func TestOperationsBeforeInitialize(t *testing.T) {
	s := peer.NewSession("bob", peer.Config{}, &peertest.Factory{}, peer.Listener{}, zap.NewNop())
	if _, err := s.CreateOffer(context.Background()); !errors.Is(err, peer.ErrNotInitialized) {
		t.Fatalf("CreateOffer err=%v", err)
	}
	// candidates may arrive before the transport exists
	if err := s.AddICECandidate(cand("c1")); err != nil {
		t.Fatalf("AddICECandidate: %v", err)
	}
}

func TestCandidatesQueuedUntilRemoteDescription(t *testing.T) {
	s, f, _ := newSession(t)

	s.AddICECandidate(cand("c1"))
	s.AddICECandidate(cand("c2"))
	if got := f.Last().Candidates(); len(got) != 0 {
		t.Fatalf("candidates applied before remote description: %v", got)
	}
	if s.HasRemoteDescription() {
		t.Fatal("no remote description yet")
	}

	if err := s.SetRemoteDescription(offer("o1")); err != nil {
		t.Fatalf("SetRemoteDescription: %v", err)
	}
	s.AddICECandidate(cand("c3"))

	got := f.Last().Candidates()
	want := []string{"c1", "c2", "c3"}
	if len(got) != 3 || got[0] != want[0] || got[1] != want[1] || got[2] != want[2] {
		t.Fatalf("applied %v, want %v", got, want)
	}
}

func TestMalformedQueuedCandidateIsSkipped(t *testing.T) {
	f := &peertest.Factory{Configure: func(tr *peertest.Transport) { tr.FailCandidate = "bad" }}
	s := peer.NewSession("bob", peer.Config{}, f, peer.Listener{}, zap.NewNop())
	s.Initialize()

	s.AddICECandidate(cand("c1"))
	s.AddICECandidate(cand("bad"))
	s.AddICECandidate(cand("c3"))
	if err := s.SetRemoteDescription(offer("o1")); err != nil {
		t.Fatalf("SetRemoteDescription: %v", err)
	}
	if got := f.Last().Candidates(); len(got) != 2 || got[0] != "c1" || got[1] != "c3" {
		t.Fatalf("applied %v", got)
	}
}

func TestAnswerRequiresRemoteOffer(t *testing.T) {
	s, _, _ := newSession(t)
	if _, err := s.CreateAnswer(context.Background()); !errors.Is(err, peer.ErrNoRemoteOffer) {
		t.Fatalf("err=%v", err)
	}

	s.SetRemoteDescription(offer("o1"))
	ans, err := s.CreateAnswer(context.Background())
	if err != nil {
		t.Fatalf("CreateAnswer: %v", err)
	}
	if ans.Type != webrtc.SDPTypeAnswer {
		t.Fatalf("answer type %s", ans.Type)
	}
	if _, err := s.CreateAnswer(context.Background()); !errors.Is(err, peer.ErrNoRemoteOffer) {
		t.Fatalf("second answer in one round: %v", err)
	}
}

func TestOneDescriptionPerSidePerRound(t *testing.T) {
	s, f, _ := newSession(t)
	ctx := context.Background()

	if _, err := s.CreateOffer(ctx); err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	if _, err := s.CreateOffer(ctx); !errors.Is(err, peer.ErrDescriptionAlreadySet) {
		t.Fatalf("second offer: %v", err)
	}
	if err := s.SetRemoteDescription(answer("a1")); err != nil {
		t.Fatalf("SetRemoteDescription: %v", err)
	}

	// renegotiation opens a new round on the same session
	if _, err := s.CreateOffer(ctx); err != nil {
		t.Fatalf("renegotiation offer: %v", err)
	}
	if n := len(f.Last().LocalDescriptions()); n != 2 {
		t.Fatalf("local descriptions = %d, want 2", n)
	}
}

func TestAddLocalStreamAfterNegotiation(t *testing.T) {
	s, f, _ := newSession(t)
	stream := newStream(t)

	if err := s.AddLocalStream(stream); err != nil {
		t.Fatalf("AddLocalStream: %v", err)
	}
	if len(f.Last().Tracks()) != 1 {
		t.Fatal("track not attached")
	}
	s.CreateOffer(context.Background())
	if err := s.AddLocalStream(newStream(t)); !errors.Is(err, peer.ErrNegotiationStarted) {
		t.Fatalf("err=%v", err)
	}
}

func TestStateFollowsTransport(t *testing.T) {
	s, f, rec := newSession(t)
	tr := f.Last()

	tr.Fire(peer.EventConnecting)
	tr.Fire(peer.EventConnected)
	tr.Fire(peer.EventConnecting) // ignored while connected
	tr.Fire(peer.EventDisconnected)
	tr.Fire(peer.EventConnected)

	if s.State() != peer.StateConnected {
		t.Fatalf("state=%s", s.State())
	}
	want := []peer.State{peer.StateConnecting, peer.StateConnected, peer.StateDisconnected, peer.StateConnected}
	if len(rec.states) != len(want) {
		t.Fatalf("states=%v, want %v", rec.states, want)
	}
	for i := range want {
		if rec.states[i] != want[i] {
			t.Fatalf("states=%v, want %v", rec.states, want)
		}
	}

	tr.Gather("local-1")
	tr.Track(peer.RemoteTrack{ID: "t1", Kind: media.KindAudio})
	if len(rec.candidates) != 1 || len(rec.tracks) != 1 {
		t.Fatalf("callbacks not forwarded: %v %v", rec.candidates, rec.tracks)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	s, f, rec := newSession(t)
	stream := newStream(t)
	s.AddLocalStream(stream)
	stream.Release() // the session now holds the only reference

	s.AddICECandidate(cand("c1"))
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if !f.Last().Closed() {
		t.Fatal("transport not closed")
	}
	if !stream.Stopped() {
		t.Fatal("local tracks not stopped")
	}
	if s.State() != peer.StateClosed {
		t.Fatalf("state=%s", s.State())
	}
	if n := len(rec.states); n != 1 || rec.states[0] != peer.StateClosed {
		t.Fatalf("states=%v, want one closed", rec.states)
	}

	// late transport callbacks are dropped
	f.Last().Fire(peer.EventConnected)
	f.Last().Gather("late")
	if s.State() != peer.StateClosed || len(rec.candidates) != 0 {
		t.Fatal("callbacks delivered after close")
	}
	if err := s.AddICECandidate(cand("c2")); !errors.Is(err, peer.ErrSessionClosed) {
		t.Fatalf("AddICECandidate after close: %v", err)
	}
	if _, err := s.CreateOffer(context.Background()); !errors.Is(err, peer.ErrSessionClosed) {
		t.Fatalf("CreateOffer after close: %v", err)
	}
}

func TestCloseKeepsSharedStreamAlive(t *testing.T) {
	s, _, _ := newSession(t)
	stream := newStream(t)
	s.AddLocalStream(stream)
	s.Close()
	if stream.Stopped() {
		t.Fatal("stream still owned by its acquirer was stopped")
	}
}

func TestMuteGoesToTransport(t *testing.T) {
	s, f, _ := newSession(t)
	stream := newStream(t)
	s.AddLocalStream(stream)
	track := stream.Tracks()[0]

	if err := s.SetTrackMuted(track, true); err != nil {
		t.Fatalf("SetTrackMuted: %v", err)
	}
	if !f.Last().Muted(track) {
		t.Fatal("transport not muted")
	}
}

func TestInitializeFactoryError(t *testing.T) {
	f := &peertest.Factory{Err: errors.New("no network")}
	s := peer.NewSession("bob", peer.Config{}, f, peer.Listener{}, zap.NewNop())
	if err := s.Initialize(); err == nil {
		t.Fatal("expected factory error")
	}
}

func newStream(t *testing.T) *media.Stream {
	t.Helper()
	tr, err := media.NewTrack(media.KindAudio, "audio", "local")
	if err != nil {
		t.Fatalf("NewTrack: %v", err)
	}
	return media.NewStream("local", tr)
}
