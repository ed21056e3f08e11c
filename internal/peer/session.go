package peer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/mossy-p/call-signaling/internal/candidate"
	"github.com/mossy-p/call-signaling/internal/media"
)

var (
	ErrAlreadyInitialized    = errors.New("peer session already initialized")
	ErrNotInitialized        = errors.New("peer session not initialized")
	ErrSessionClosed         = errors.New("peer session closed")
	ErrNegotiationStarted    = errors.New("local media must be added before negotiation starts")
	ErrNoRemoteOffer         = errors.New("no remote offer to answer")
	ErrDescriptionAlreadySet = errors.New("description already set for this negotiation round")
)

// Listener receives session callbacks. It is fixed when the session is
// created so nothing the transport reports can be missed.
type Listener struct {
	OnICECandidate func(webrtc.ICECandidateInit)
	OnTrack        func(RemoteTrack)
	OnStateChange  func(State)
}

// Session is the connection to one remote peer. Each negotiation round
// carries exactly one local and one remote description; once both are set
// the next description opens a new round on the same session.
type Session struct {
	PeerID string

	cfg      Config
	factory  TransportFactory
	listener Listener
	logger   *zap.Logger
	queue    *candidate.Queue[webrtc.ICECandidateInit]

	mu          sync.Mutex
	transport   Transport
	streams     []*media.Stream
	negotiating bool
	localSet    bool
	remoteSet   bool
	remoteType  webrtc.SDPType
	remoteID    string

	stateMu sync.Mutex
	state   State

	closed    atomic.Bool
	closeOnce sync.Once
}

func NewSession(peerID string, cfg Config, factory TransportFactory, listener Listener, logger *zap.Logger) *Session {
	logger = logger.With(zap.String("peer", peerID))
	return &Session{
		PeerID:   peerID,
		cfg:      cfg,
		factory:  factory,
		listener: listener,
		logger:   logger,
		queue:    candidate.NewQueue[webrtc.ICECandidateInit](logger),
		state:    StateNew,
	}
}

// Initialize creates the underlying transport.
func (s *Session) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return ErrSessionClosed
	}
	if s.transport != nil {
		return ErrAlreadyInitialized
	}
	t, err := s.factory.NewTransport(s.cfg, TransportEvents{
		OnICECandidate:    s.onICECandidate,
		OnTrack:           s.onTrack,
		OnConnectionState: s.onConnectionState,
	})
	if err != nil {
		return fmt.Errorf("create transport: %w", err)
	}
	s.transport = t
	return nil
}

// AddLocalStream attaches every track of stream. The session holds a
// reference to the stream until Close.
func (s *Session) AddLocalStream(stream *media.Stream) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.usableLocked(); err != nil {
		return err
	}
	if s.negotiating {
		return ErrNegotiationStarted
	}
	for _, t := range stream.Tracks() {
		if err := s.transport.AddTrack(t); err != nil {
			return fmt.Errorf("add %s track: %w", t.Kind, err)
		}
	}
	stream.Retain()
	s.streams = append(s.streams, stream)
	return nil
}

// SetTrackMuted mutes or restores one local track at the transport.
func (s *Session) SetTrackMuted(t *media.Track, muted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usableLocked(); err != nil {
		return err
	}
	return s.transport.SetTrackMuted(t, muted)
}

// CreateOffer produces the local offer, sets it and returns it.
func (s *Session) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.usableLocked(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	s.nextRoundLocked()
	if s.localSet {
		return webrtc.SessionDescription{}, ErrDescriptionAlreadySet
	}

	offer, err := s.transport.CreateOffer(ctx)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	if err := s.transport.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local offer: %w", err)
	}
	s.localSet = true
	s.negotiating = true
	return offer, nil
}

// CreateAnswer answers the remote offer of the current round.
func (s *Session) CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.usableLocked(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	if !s.remoteSet || s.localSet || s.remoteType != webrtc.SDPTypeOffer {
		return webrtc.SessionDescription{}, ErrNoRemoteOffer
	}

	answer, err := s.transport.CreateAnswer(ctx)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	if err := s.transport.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local answer: %w", err)
	}
	s.localSet = true
	return answer, nil
}

// SetRemoteDescription applies desc and releases any candidates that
// arrived ahead of it.
func (s *Session) SetRemoteDescription(desc webrtc.SessionDescription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.usableLocked(); err != nil {
		return err
	}
	s.nextRoundLocked()
	if s.remoteSet {
		return ErrDescriptionAlreadySet
	}
	if err := s.transport.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote %s: %w", desc.Type, err)
	}
	s.remoteSet = true
	s.remoteType = desc.Type
	s.remoteID = TransportIdentity(desc.SDP)
	s.negotiating = true

	if !s.queue.Drained() {
		n, err := s.queue.DrainInto(s.transport.AddICECandidate)
		if err != nil && !errors.Is(err, candidate.ErrAlreadyDrained) {
			return err
		}
		if n > 0 {
			s.logger.Debug("applied queued candidates", zap.Int("count", n))
		}
	}
	return nil
}

// HasRemoteDescription reports whether a remote description has ever been applied.
func (s *Session) HasRemoteDescription() bool {
	return s.queue.Drained()
}

// RemoteIdentity is the TransportIdentity of the last remote description.
func (s *Session) RemoteIdentity() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteID
}

// AddICECandidate queues c until a remote description exists, then applies it.
func (s *Session) AddICECandidate(c webrtc.ICECandidateInit) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	if err := s.queue.Enqueue(c); err != nil {
		if errors.Is(err, candidate.ErrClosed) {
			return ErrSessionClosed
		}
		return err
	}
	return nil
}

// Stats samples transport health.
func (s *Session) Stats() (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usableLocked(); err != nil {
		return Stats{}, err
	}
	return s.transport.Stats()
}

func (s *Session) State() State {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

// Close releases local media, the transport and queued candidates. Only
// the first call does anything.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.queue.Clear()

		s.mu.Lock()
		t := s.transport
		streams := s.streams
		s.streams = nil
		s.mu.Unlock()

		for _, st := range streams {
			st.Release()
		}
		if t != nil {
			if cerr := t.Close(); cerr != nil {
				err = fmt.Errorf("close transport: %w", cerr)
			}
		}
		s.setState(EventClosed)
	})
	return err
}

func (s *Session) usableLocked() error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	if s.transport == nil {
		return ErrNotInitialized
	}
	return nil
}

func (s *Session) nextRoundLocked() {
	if s.localSet && s.remoteSet {
		s.localSet = false
		s.remoteSet = false
		s.remoteType = webrtc.SDPTypeUnknown
	}
}

func (s *Session) setState(e Event) {
	s.stateMu.Lock()
	prev := s.state
	next := Transition(prev, e)
	s.state = next
	s.stateMu.Unlock()

	if next == prev {
		return
	}
	s.logger.Debug("peer state", zap.String("from", string(prev)), zap.String("to", string(next)))
	if s.listener.OnStateChange != nil {
		s.listener.OnStateChange(next)
	}
}

func (s *Session) onConnectionState(e Event) {
	if s.closed.Load() {
		return
	}
	s.setState(e)
}

func (s *Session) onICECandidate(c webrtc.ICECandidateInit) {
	if s.closed.Load() || s.listener.OnICECandidate == nil {
		return
	}
	s.listener.OnICECandidate(c)
}

func (s *Session) onTrack(t RemoteTrack) {
	if s.closed.Load() || s.listener.OnTrack == nil {
		return
	}
	s.listener.OnTrack(t)
}
