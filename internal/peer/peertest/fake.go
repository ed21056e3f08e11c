// Package peertest provides an in-memory peer.Transport for tests.
package peertest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/mossy-p/call-signaling/internal/media"
	"github.com/mossy-p/call-signaling/internal/peer"
)

// Transport records every call and lets tests fire transport events.
type Transport struct {
	Events peer.TransportEvents

	mu         sync.Mutex
	tracks     []*media.Track
	muted      map[*media.Track]bool
	local      []webrtc.SessionDescription
	remote     []webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	stats      peer.Stats
	closed     bool

	// FailCandidate rejects candidates whose Candidate string matches.
	FailCandidate string
	// FailOffer makes CreateOffer return an error.
	FailOffer bool
	// ICEUfrag, when set, makes descriptions full SDP bodies carrying it,
	// so the remote side can tell this transport from a rebuilt one.
	ICEUfrag string
}

func (t *Transport) AddTrack(tr *media.Track) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errors.New("transport closed")
	}
	t.tracks = append(t.tracks, tr)
	return nil
}

func (t *Transport) SetTrackMuted(tr *media.Track, muted bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.muted == nil {
		t.muted = make(map[*media.Track]bool)
	}
	t.muted[tr] = muted
	return nil
}

func (t *Transport) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	if t.FailOffer {
		return webrtc.SessionDescription{}, errors.New("offer failed")
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: t.body("offer")}, nil
}

func (t *Transport) CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: t.body("answer")}, nil
}

func (t *Transport) body(kind string) string {
	round := t.round()
	if t.ICEUfrag == "" {
		return fmt.Sprintf("%s-%d", kind, round)
	}
	return fmt.Sprintf("v=0\r\no=- %d %d IN IP4 127.0.0.1\r\ns=%s\r\nt=0 0\r\n"+
		"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\nc=IN IP4 0.0.0.0\r\n"+
		"a=ice-ufrag:%s\r\na=ice-pwd:0123456789abcdef0123456789\r\n",
		round, round, kind, t.ICEUfrag)
}

func (t *Transport) round() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.local) + 1
}

func (t *Transport) SetLocalDescription(d webrtc.SessionDescription) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.local = append(t.local, d)
	return nil
}

func (t *Transport) SetRemoteDescription(d webrtc.SessionDescription) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.remote = append(t.remote, d)
	return nil
}

func (t *Transport) AddICECandidate(c webrtc.ICECandidateInit) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.FailCandidate != "" && c.Candidate == t.FailCandidate {
		return errors.New("malformed candidate")
	}
	t.candidates = append(t.candidates, c)
	return nil
}

func (t *Transport) SetStats(s peer.Stats) {
	t.mu.Lock()
	t.stats = s
	t.mu.Unlock()
}

func (t *Transport) Stats() (peer.Stats, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats, nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

// Fire delivers a connection state event as the real transport would.
func (t *Transport) Fire(e peer.Event) {
	if t.Events.OnConnectionState != nil {
		t.Events.OnConnectionState(e)
	}
}

// Gather reports a local candidate.
func (t *Transport) Gather(c string) {
	if t.Events.OnICECandidate != nil {
		t.Events.OnICECandidate(webrtc.ICECandidateInit{Candidate: c})
	}
}

// Track reports remote media.
func (t *Transport) Track(rt peer.RemoteTrack) {
	if t.Events.OnTrack != nil {
		t.Events.OnTrack(rt)
	}
}

func (t *Transport) Candidates() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.candidates))
	for i, c := range t.candidates {
		out[i] = c.Candidate
	}
	return out
}

func (t *Transport) Tracks() []*media.Track {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*media.Track(nil), t.tracks...)
}

func (t *Transport) Muted(tr *media.Track) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.muted[tr]
}

func (t *Transport) LocalDescriptions() []webrtc.SessionDescription {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]webrtc.SessionDescription(nil), t.local...)
}

func (t *Transport) RemoteDescriptions() []webrtc.SessionDescription {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]webrtc.SessionDescription(nil), t.remote...)
}

func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Factory hands out Transports and remembers them in creation order.
type Factory struct {
	mu         sync.Mutex
	transports []*Transport
	Err        error
	// Configure, when set, adjusts each transport before it is returned.
	Configure func(*Transport)
}

func (f *Factory) NewTransport(_ peer.Config, events peer.TransportEvents) (peer.Transport, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	t := &Transport{Events: events}
	if f.Configure != nil {
		f.Configure(t)
	}
	f.mu.Lock()
	f.transports = append(f.transports, t)
	f.mu.Unlock()
	return t, nil
}

func (f *Factory) All() []*Transport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Transport(nil), f.transports...)
}

// Last returns the most recently created transport, or nil.
func (f *Factory) Last() *Transport {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.transports) == 0 {
		return nil
	}
	return f.transports[len(f.transports)-1]
}
