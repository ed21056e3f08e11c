// Package call drives one call from the UI's point of view: it acquires
// local media, joins the signaling room, negotiates a peer session with
// every other participant and folds their connection states into a single
// State the UI can render.
package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/mossy-p/call-signaling/internal/media"
	"github.com/mossy-p/call-signaling/internal/metrics"
	"github.com/mossy-p/call-signaling/internal/models"
	"github.com/mossy-p/call-signaling/internal/peer"
	"github.com/mossy-p/call-signaling/internal/signaling"
)

const eventBuffer = 32

// Identity supplies the local user id.
type Identity interface {
	UserID() (string, error)
}

// StaticIdentity is a fixed user id. The empty string is unauthenticated.
type StaticIdentity string

func (s StaticIdentity) UserID() (string, error) {
	if s == "" {
		return "", ErrUnauthenticated
	}
	return string(s), nil
}

// Channel is a joined signaling room.
type Channel interface {
	Messages() <-chan models.SignalMessage
	Send(msg models.SignalMessage) error
	Leave()
}

// Signaler joins signaling rooms.
type Signaler interface {
	Join(ctx context.Context, roomID, selfID string) (Channel, error)
}

// NewSignaler adapts a signaling.Dialer.
func NewSignaler(d *signaling.Dialer) Signaler {
	return dialerSignaler{d: d}
}

type dialerSignaler struct {
	d *signaling.Dialer
}

func (s dialerSignaler) Join(ctx context.Context, roomID, selfID string) (Channel, error) {
	ch, err := s.d.Join(ctx, roomID, selfID)
	if err != nil {
		return nil, err
	}
	return ch, nil
}

type Options struct {
	Identity   Identity
	Media      media.Acquirer
	Signaling  Signaler
	Transports peer.TransportFactory
	PeerConfig peer.Config
	Profile    media.Profile
	// Retry bounds attempts to join the signaling room.
	Retry RetryPolicy
	// QualityInterval is how often transport stats are sampled.
	QualityInterval time.Duration
	// RestartWindow is how long a failed call keeps the room and local media
	// for RestartPeer before it ends on its own.
	RestartWindow time.Duration
	// OnEnded is called exactly once, with the final state, when the call ends.
	OnEnded func(State)
	Logger  *zap.Logger
}

// Orchestrator runs a single call. It is not reusable: once ended, create a
// new one.
type Orchestrator struct {
	opts   Options
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	events   chan sessionEvent
	restarts chan restartRequest
	loopDone chan struct{}

	mu         sync.Mutex
	state      State
	started    bool
	running    bool
	ended      bool
	subsClosed bool
	initAt     time.Time
	roomID     string
	selfID     string
	stream     *media.Stream
	channel    Channel
	links      map[string]*peerLink
	gen        uint64
	subs       []chan State

	// armed while the call is failed; owned by the event loop
	restartTimer *time.Timer

	endOnce sync.Once
}

// peerLink is the session with one remote participant. Only gen and session
// are read outside the event loop.
type peerLink struct {
	session *peer.Session
	gen     uint64
	state   peer.State
	offered bool
	last    peer.Stats
}

// sessionEvent carries a session callback into the event loop, tagged with
// the generation of the session that raised it.
type sessionEvent struct {
	peerID string
	gen    uint64
	state  peer.State
	track  *peer.RemoteTrack
}

type restartRequest struct {
	peerID string
	done   chan error
}

func New(opts Options) (*Orchestrator, error) {
	if opts.Media == nil {
		return nil, errors.New("call: media acquirer is required")
	}
	if opts.Signaling == nil {
		return nil, errors.New("call: signaler is required")
	}
	if opts.Transports == nil {
		return nil, errors.New("call: transport factory is required")
	}
	if opts.Profile == "" {
		opts.Profile = media.ProfileDesktop
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = RetryPolicy{MaxAttempts: 3, Backoff: time.Second}
	}
	if opts.QualityInterval <= 0 {
		opts.QualityInterval = 2 * time.Second
	}
	if opts.RestartWindow <= 0 {
		opts.RestartWindow = 15 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		opts:     opts,
		logger:   opts.Logger.Named("call"),
		ctx:      ctx,
		cancel:   cancel,
		events:   make(chan sessionEvent, eventBuffer),
		restarts: make(chan restartRequest),
		loopDone: make(chan struct{}),
		state:    State{Status: StatusIdle},
		links:    make(map[string]*peerLink),
	}, nil
}

// Initialize acquires local media, joins roomID and starts negotiating with
// the participants already there. If EndCall runs while Initialize is still
// working, Initialize releases what it acquired and returns nil.
func (o *Orchestrator) Initialize(ctx context.Context, roomID string, callType media.CallType) error {
	o.mu.Lock()
	if o.ended {
		o.mu.Unlock()
		return ErrNotRunning
	}
	if o.started {
		o.mu.Unlock()
		return ErrAlreadyStarted
	}
	o.started = true
	o.roomID = roomID
	o.initAt = time.Now()
	o.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(o.ctx, cancel)
	defer stop()

	selfID, err := o.identity()
	if err != nil {
		o.logger.Warn("no identity", zap.String("room", roomID), zap.Error(err))
		return o.fail(NewError("initialize", ErrUnauthenticated))
	}
	logger := o.logger.With(zap.String("room", roomID), zap.String("user", selfID))

	stream, err := o.opts.Media.Acquire(ctx, media.ConstraintsFor(callType, o.opts.Profile))
	if err != nil {
		if o.cancelled() {
			return nil
		}
		logger.Warn("media acquisition failed", zap.Error(err))
		return o.fail(deviceError(err))
	}

	o.mu.Lock()
	if o.ended {
		o.mu.Unlock()
		stream.Release()
		return nil
	}
	o.selfID = selfID
	o.stream = stream
	o.state.Local = stream
	o.state.VideoEnabled = len(stream.VideoTracks()) > 0
	o.state.Status = StatusConnecting
	o.publishLocked()
	o.mu.Unlock()

	var (
		ch       Channel
		attempts int
	)
	err = o.opts.Retry.Do(ctx, func(ctx context.Context) error {
		attempts++
		c, err := o.opts.Signaling.Join(ctx, roomID, selfID)
		if err != nil {
			logger.Warn("join attempt failed", zap.Int("attempt", attempts), zap.Error(err))
			return err
		}
		ch = c
		return nil
	})
	if err != nil {
		if o.cancelled() {
			return nil
		}
		o.release()
		return o.fail(newErrorf("join room", ErrTransportUnavailable, "gave up after %d attempts", attempts))
	}

	o.mu.Lock()
	if o.ended {
		o.mu.Unlock()
		ch.Leave()
		return nil
	}
	o.channel = ch
	o.running = true
	o.mu.Unlock()

	logger.Info("joined room")
	go o.run(ch)
	return nil
}

// EndCall tears the call down from any state. Only the first call has any
// effect; later calls return once teardown is complete.
func (o *Orchestrator) EndCall() {
	o.end("hangup", false)

	o.mu.Lock()
	running := o.running
	o.mu.Unlock()
	if running {
		<-o.loopDone
	}
}

// ToggleAudio mutes or unmutes every local audio track, both at the source
// and on every attached transport. It returns the new muted state and has
// no effect before media is acquired.
func (o *Orchestrator) ToggleAudio() bool {
	o.mu.Lock()
	if o.stream == nil {
		muted := o.state.AudioMuted
		o.mu.Unlock()
		return muted
	}
	o.state.AudioMuted = !o.state.AudioMuted
	muted := o.state.AudioMuted
	tracks := o.stream.AudioTracks()
	sessions := o.sessionsLocked()
	o.publishLocked()
	o.mu.Unlock()

	for _, t := range tracks {
		t.SetEnabled(!muted)
	}
	for _, s := range sessions {
		o.applyMute(s, tracks, muted)
	}
	return muted
}

// ToggleVideo turns local video on or off and returns whether it is now
// enabled. Audio-only calls always report false.
func (o *Orchestrator) ToggleVideo() bool {
	o.mu.Lock()
	if o.stream == nil || len(o.stream.VideoTracks()) == 0 {
		o.mu.Unlock()
		return false
	}
	o.state.VideoEnabled = !o.state.VideoEnabled
	enabled := o.state.VideoEnabled
	tracks := o.stream.VideoTracks()
	sessions := o.sessionsLocked()
	o.publishLocked()
	o.mu.Unlock()

	for _, t := range tracks {
		t.SetEnabled(enabled)
	}
	for _, s := range sessions {
		o.applyMute(s, tracks, !enabled)
	}
	return enabled
}

// RestartPeer replaces the session with peerID by a fresh one and offers
// again. It is the only way a session that reached failed is retried, and a
// failed call accepts it only until Options.RestartWindow has passed.
func (o *Orchestrator) RestartPeer(ctx context.Context, peerID string) error {
	o.mu.Lock()
	running := o.running && !o.ended
	o.mu.Unlock()
	if !running {
		return ErrNotRunning
	}

	req := restartRequest{peerID: peerID, done: make(chan error, 1)}
	select {
	case o.restarts <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-o.ctx.Done():
		return ErrNotRunning
	}
	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-o.ctx.Done():
		return ErrNotRunning
	}
}

// State returns a snapshot. Duration is derived from the connect time.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.clone(time.Now())
}

// Subscribe returns a channel holding the latest state. Stale values are
// replaced rather than queued. The channel is closed after the final state
// once the call ends.
func (o *Orchestrator) Subscribe() <-chan State {
	ch := make(chan State, 1)
	o.mu.Lock()
	defer o.mu.Unlock()
	ch <- o.state.clone(time.Now())
	if o.subsClosed {
		close(ch)
		return ch
	}
	o.subs = append(o.subs, ch)
	return ch
}

func (o *Orchestrator) identity() (string, error) {
	if o.opts.Identity == nil {
		return "", ErrUnauthenticated
	}
	id, err := o.opts.Identity.UserID()
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", ErrUnauthenticated
	}
	return id, nil
}

func (o *Orchestrator) cancelled() bool {
	return o.ctx.Err() != nil
}

func (o *Orchestrator) fail(e *Error) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ended {
		return e
	}
	o.state.Status = StatusFailed
	o.state.Err = e
	o.publishLocked()
	return e
}

func (o *Orchestrator) publishLocked() {
	if len(o.subs) == 0 {
		return
	}
	snap := o.state.clone(time.Now())
	for _, ch := range o.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

func (o *Orchestrator) sessionsLocked() []*peer.Session {
	out := make([]*peer.Session, 0, len(o.links))
	for _, l := range o.links {
		out = append(out, l.session)
	}
	return out
}

func (o *Orchestrator) applyMute(s *peer.Session, tracks []*media.Track, muted bool) {
	for _, t := range tracks {
		if err := s.SetTrackMuted(t, muted); err != nil && !errors.Is(err, peer.ErrSessionClosed) {
			o.logger.Warn("transport mute failed",
				zap.String("peer", s.PeerID), zap.String("track", t.ID), zap.Error(err))
		}
	}
}

// release closes every session, leaves the room and drops the local stream.
func (o *Orchestrator) release() {
	o.mu.Lock()
	links := o.links
	o.links = make(map[string]*peerLink)
	stream := o.stream
	o.stream = nil
	ch := o.channel
	o.channel = nil
	o.mu.Unlock()

	for _, l := range links {
		if err := l.session.Close(); err != nil {
			o.logger.Debug("session close", zap.String("peer", l.session.PeerID), zap.Error(err))
		}
	}
	if ch != nil {
		ch.Leave()
	}
	if stream != nil {
		stream.Release()
	}
}

// end tears the call down once. OnEnded runs after teardown and outside
// endOnce so it may call EndCall; from the event loop it runs on its own
// goroutine because EndCall waits for the loop to exit.
func (o *Orchestrator) end(reason string, fromLoop bool) {
	var (
		final State
		first bool
	)
	o.endOnce.Do(func() {
		first = true
		final = o.teardown(reason)
	})
	if !first || o.opts.OnEnded == nil {
		return
	}
	if fromLoop {
		go o.opts.OnEnded(final)
		return
	}
	o.opts.OnEnded(final)
}

func (o *Orchestrator) teardown(reason string) State {
	o.mu.Lock()
	o.ended = true
	prev := o.state.Status
	everConnected := !o.state.ConnectedAt.IsZero()
	o.freezeDurationLocked()
	o.mu.Unlock()

	o.cancel()
	o.release()

	o.mu.Lock()
	o.state.Status = StatusEnded
	o.state.Remote = nil
	o.publishLocked()
	for _, ch := range o.subs {
		close(ch)
	}
	o.subs = nil
	o.subsClosed = true
	final := o.state.clone(time.Now())
	o.mu.Unlock()

	outcome := "abandoned"
	switch {
	case prev == StatusFailed:
		outcome = "failed"
	case everConnected:
		outcome = "completed"
	}
	metrics.CallsTotal.WithLabelValues(outcome).Inc()
	o.logger.Info("call ended",
		zap.String("reason", reason),
		zap.String("from", string(prev)),
		zap.Duration("duration", final.Duration))
	return final
}

// freezeDurationLocked records the call length as the call leaves connected.
func (o *Orchestrator) freezeDurationLocked() {
	if o.state.Status == StatusConnected && !o.state.ConnectedAt.IsZero() {
		o.state.Duration = time.Since(o.state.ConnectedAt).Truncate(time.Second)
	}
}

func (o *Orchestrator) run(ch Channel) {
	defer close(o.loopDone)

	msgs := ch.Messages()
	clock := time.NewTicker(time.Second)
	defer clock.Stop()
	sampler := time.NewTicker(o.opts.QualityInterval)
	defer sampler.Stop()
	defer o.disarmRestart()

	for {
		select {
		case <-o.ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				msgs = nil
				continue
			}
			o.handleSignal(msg)
		case ev := <-o.events:
			o.handleSessionEvent(ev)
		case req := <-o.restarts:
			req.done <- o.restart(req.peerID)
		case <-clock.C:
			o.mu.Lock()
			if o.state.Status == StatusConnected {
				o.publishLocked()
			}
			o.mu.Unlock()
		case <-sampler.C:
			o.sampleQuality()
		case <-o.restartExpiry():
			o.restartTimer = nil
			o.mu.Lock()
			recovered := o.anyInStateLocked(peer.StateConnected)
			o.mu.Unlock()
			if !recovered {
				o.end("restart window expired", true)
			}
		}
	}
}

func (o *Orchestrator) restartExpiry() <-chan time.Time {
	if o.restartTimer == nil {
		return nil
	}
	return o.restartTimer.C
}

// armRestart starts the restart window unless one is already running, so
// repeated restarts cannot hold resources past the first deadline.
func (o *Orchestrator) armRestart() {
	if o.restartTimer == nil {
		o.restartTimer = time.NewTimer(o.opts.RestartWindow)
	}
}

func (o *Orchestrator) disarmRestart() {
	if o.restartTimer != nil {
		o.restartTimer.Stop()
		o.restartTimer = nil
	}
}

func (o *Orchestrator) handleSignal(msg models.SignalMessage) {
	switch msg.Type {
	case models.SignalTypePeerJoined:
		o.onPeerJoined(msg.UserID)
	case models.SignalTypeOffer:
		o.onOffer(msg)
	case models.SignalTypeAnswer:
		o.onAnswer(msg)
	case models.SignalTypeICECandidate:
		o.onCandidate(msg)
	case models.SignalTypePeerLeft:
		o.onPeerGone(msg.UserID, "left the room")
	case models.SignalTypeLeave:
		if msg.UserID == o.selfID {
			o.onTransportLost()
			return
		}
		o.onPeerGone(msg.UserID, "stopped answering pings")
	case models.SignalTypeError:
		o.logger.Warn("relay reported an error", zap.String("error", msg.Error))
	default:
		o.logger.Debug("ignoring signal", zap.String("type", string(msg.Type)))
	}
}

func (o *Orchestrator) link(peerID string) *peerLink {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.links[peerID]
}

// shouldOffer reports whether we make the first offer to peerID. The side
// with the smaller user id offers and ignores colliding offers.
func (o *Orchestrator) shouldOffer(peerID string) bool {
	return o.selfID < peerID
}

func (o *Orchestrator) onPeerJoined(peerID string) {
	if peerID == "" || peerID == o.selfID {
		return
	}
	if !o.shouldOffer(peerID) {
		o.logger.Debug("waiting for offer", zap.String("peer", peerID))
		return
	}
	l := o.link(peerID)
	if l != nil && !l.state.Terminal() && (l.offered || l.session.HasRemoteDescription()) {
		return
	}
	l, err := o.newLink(peerID)
	if err != nil {
		o.negotiationError(peerID, "create session", err)
		return
	}
	o.offer(l)
}

func (o *Orchestrator) offer(l *peerLink) {
	desc, err := l.session.CreateOffer(o.ctx)
	if err != nil {
		o.negotiationError(l.session.PeerID, "create offer", err)
		return
	}
	l.offered = true
	o.send(models.SignalTypeOffer, l.session.PeerID, desc)
}

func (o *Orchestrator) onOffer(msg models.SignalMessage) {
	peerID := msg.UserID
	var desc webrtc.SessionDescription
	if err := msg.DecodeData(&desc); err != nil {
		o.logger.Warn("malformed offer", zap.String("peer", peerID), zap.Error(err))
		return
	}

	l := o.link(peerID)
	if l != nil && l.offered {
		if o.shouldOffer(peerID) {
			o.logger.Debug("ignoring colliding offer", zap.String("peer", peerID))
			return
		}
		o.logger.Debug("yielding to colliding offer", zap.String("peer", peerID))
		l = nil
	}
	// a restarted peer offers from a new transport, which the old one cannot adopt
	if l != nil && !l.state.Terminal() && l.session.HasRemoteDescription() {
		if id := peer.TransportIdentity(desc.SDP); id != "" && id != l.session.RemoteIdentity() {
			o.logger.Info("peer rebuilt its transport", zap.String("peer", peerID))
			l = nil
		}
	}
	if l == nil || l.state.Terminal() {
		var err error
		if l, err = o.newLink(peerID); err != nil {
			o.negotiationError(peerID, "create session", err)
			return
		}
	}

	if err := l.session.SetRemoteDescription(desc); err != nil {
		o.negotiationError(peerID, "apply offer", err)
		return
	}
	answer, err := l.session.CreateAnswer(o.ctx)
	if err != nil {
		o.negotiationError(peerID, "create answer", err)
		return
	}
	o.send(models.SignalTypeAnswer, peerID, answer)
}

func (o *Orchestrator) onAnswer(msg models.SignalMessage) {
	peerID := msg.UserID
	l := o.link(peerID)
	if l == nil || !l.offered {
		o.logger.Debug("unexpected answer", zap.String("peer", peerID))
		return
	}
	var desc webrtc.SessionDescription
	if err := msg.DecodeData(&desc); err != nil {
		o.logger.Warn("malformed answer", zap.String("peer", peerID), zap.Error(err))
		return
	}
	if err := l.session.SetRemoteDescription(desc); err != nil {
		o.negotiationError(peerID, "apply answer", err)
		return
	}
	l.offered = false
}

func (o *Orchestrator) onCandidate(msg models.SignalMessage) {
	peerID := msg.UserID
	var c webrtc.ICECandidateInit
	if err := msg.DecodeData(&c); err != nil {
		o.logger.Warn("malformed candidate", zap.String("peer", peerID), zap.Error(err))
		return
	}
	l := o.link(peerID)
	if l != nil && l.state.Terminal() {
		return
	}
	if l == nil {
		var err error
		if l, err = o.newLink(peerID); err != nil {
			o.negotiationError(peerID, "create session", err)
			return
		}
	}
	if err := l.session.AddICECandidate(c); err != nil && !errors.Is(err, peer.ErrSessionClosed) {
		o.logger.Warn("candidate rejected", zap.String("peer", peerID), zap.Error(err))
	}
}

func (o *Orchestrator) onPeerGone(peerID, why string) {
	o.mu.Lock()
	l := o.links[peerID]
	delete(o.links, peerID)
	delete(o.state.Remote, peerID)
	remaining := len(o.links)
	connected := o.state.Status == StatusConnected
	o.publishLocked()
	o.mu.Unlock()

	if l == nil {
		return
	}
	o.logger.Info("peer gone", zap.String("peer", peerID), zap.String("reason", why))
	l.session.Close()
	if remaining == 0 && connected {
		o.end("every peer left", true)
		return
	}
	o.sampleQuality()
}

func (o *Orchestrator) onTransportLost() {
	o.mu.Lock()
	connected := o.state.Status == StatusConnected
	if connected {
		o.state.Warning = newErrorf("signaling", ErrTransportUnavailable, "relay connection lost")
		o.publishLocked()
	}
	o.mu.Unlock()

	if connected {
		o.logger.Warn("relay connection lost; media continues")
		return
	}
	o.logger.Warn("relay connection lost before the call connected")
	o.release()
	o.fail(newErrorf("signaling", ErrTransportUnavailable, "relay connection lost"))
}

func (o *Orchestrator) newLink(peerID string) (*peerLink, error) {
	o.mu.Lock()
	if o.ended {
		o.mu.Unlock()
		return nil, ErrNotRunning
	}
	old := o.links[peerID]
	delete(o.links, peerID)
	o.gen++
	gen := o.gen
	stream := o.stream
	o.mu.Unlock()

	if old != nil {
		old.session.Close()
	}

	s := peer.NewSession(peerID, o.opts.PeerConfig, o.opts.Transports, o.listener(peerID, gen), o.logger)
	if err := s.Initialize(); err != nil {
		s.Close()
		return nil, err
	}
	if stream != nil {
		if err := s.AddLocalStream(stream); err != nil {
			s.Close()
			return nil, err
		}
	}
	l := &peerLink{session: s, gen: gen, state: s.State()}

	o.mu.Lock()
	if o.ended {
		o.mu.Unlock()
		s.Close()
		return nil, ErrNotRunning
	}
	o.links[peerID] = l
	audioMuted := o.state.AudioMuted
	videoOff := !o.state.VideoEnabled
	o.mu.Unlock()

	if stream != nil {
		if audioMuted {
			o.applyMute(s, stream.AudioTracks(), true)
		}
		if videoOff {
			o.applyMute(s, stream.VideoTracks(), true)
		}
	}
	o.logger.Debug("peer session created", zap.String("peer", peerID), zap.Uint64("generation", gen))
	return l, nil
}

func (o *Orchestrator) listener(peerID string, gen uint64) peer.Listener {
	return peer.Listener{
		OnICECandidate: func(c webrtc.ICECandidateInit) {
			o.send(models.SignalTypeICECandidate, peerID, c)
		},
		OnTrack: func(t peer.RemoteTrack) {
			o.post(sessionEvent{peerID: peerID, gen: gen, track: &t})
		},
		OnStateChange: func(s peer.State) {
			// closing is always our own doing
			if s == peer.StateClosed {
				return
			}
			o.post(sessionEvent{peerID: peerID, gen: gen, state: s})
		},
	}
}

func (o *Orchestrator) post(ev sessionEvent) {
	select {
	case o.events <- ev:
	case <-o.ctx.Done():
	}
}

func (o *Orchestrator) send(t models.SignalType, peerID string, v any) {
	o.mu.Lock()
	ch := o.channel
	roomID, selfID := o.roomID, o.selfID
	o.mu.Unlock()
	if ch == nil {
		return
	}
	msg, err := models.NewSignal(t, roomID, selfID, peerID, v)
	if err != nil {
		o.logger.Error("encode signal", zap.String("type", string(t)), zap.Error(err))
		return
	}
	if err := ch.Send(msg); err != nil {
		o.logger.Warn("signal not sent",
			zap.String("type", string(t)), zap.String("peer", peerID), zap.Error(err))
	}
}

func (o *Orchestrator) handleSessionEvent(ev sessionEvent) {
	l := o.link(ev.peerID)
	if l == nil || l.gen != ev.gen {
		o.logger.Debug("dropping event from replaced session",
			zap.String("peer", ev.peerID), zap.Uint64("generation", ev.gen))
		return
	}

	if ev.track != nil {
		o.mu.Lock()
		if o.state.Remote == nil {
			o.state.Remote = make(map[string][]peer.RemoteTrack)
		}
		o.state.Remote[ev.peerID] = append(o.state.Remote[ev.peerID], *ev.track)
		o.publishLocked()
		o.mu.Unlock()
		return
	}

	l.state = ev.state
	switch ev.state {
	case peer.StateConnecting:
		o.mu.Lock()
		if o.state.Status == StatusIdle || o.state.Status == StatusFailed {
			o.state.Status = StatusConnecting
			o.state.Err = nil
			o.publishLocked()
		}
		o.mu.Unlock()
	case peer.StateConnected:
		o.onConnected(l)
	case peer.StateDisconnected:
		o.onDisconnected(l)
	case peer.StateFailed:
		o.peerFailed(l.session.PeerID, l, "transport failed")
	}
}

func (o *Orchestrator) onConnected(l *peerLink) {
	l.last = peer.Stats{}

	o.mu.Lock()
	if o.state.Status != StatusConnected {
		o.state.Status = StatusConnected
		o.state.Err = nil
		if o.state.ConnectedAt.IsZero() {
			o.state.ConnectedAt = time.Now()
			metrics.CallSetupSeconds.Observe(o.state.ConnectedAt.Sub(o.initAt).Seconds())
		}
	}
	if o.state.Warning != nil && errors.Is(o.state.Warning, ErrPeerDisconnected) && !o.anyInStateLocked(peer.StateDisconnected) {
		o.state.Warning = nil
	}
	o.publishLocked()
	o.mu.Unlock()

	o.disarmRestart()
	o.logger.Info("peer connected", zap.String("peer", l.session.PeerID))
	o.sampleQuality()
}

func (o *Orchestrator) onDisconnected(l *peerLink) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.Status != StatusConnected {
		return
	}
	o.state.Quality = QualityDisconnected
	o.state.Warning = newErrorf("peer", ErrPeerDisconnected, "%s", l.session.PeerID)
	o.publishLocked()
	o.logger.Warn("peer disconnected", zap.String("peer", l.session.PeerID))
}

// peerFailed closes the session. The call fails only if no other peer is
// still connected; the room and local media stay held for RestartPeer until
// the restart window runs out.
func (o *Orchestrator) peerFailed(peerID string, l *peerLink, details string) {
	if l != nil {
		l.state = peer.StateFailed
		l.offered = false
		l.session.Close()
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.state.Remote, peerID)
	if o.ended {
		return
	}
	if !o.anyInStateLocked(peer.StateConnected) {
		o.freezeDurationLocked()
		o.state.Status = StatusFailed
		o.state.Err = newErrorf("negotiate", ErrNegotiationFailed, "peer %s: %s", peerID, details)
		o.armRestart()
	}
	o.publishLocked()
	o.logger.Warn("peer session failed", zap.String("peer", peerID), zap.String("details", details))
}

// negotiationError handles a failed offer/answer step. Errors caused by
// teardown are swallowed.
func (o *Orchestrator) negotiationError(peerID, op string, err error) {
	if o.cancelled() || errors.Is(err, ErrNotRunning) || errors.Is(err, peer.ErrSessionClosed) {
		o.logger.Debug("negotiation stopped by teardown", zap.String("peer", peerID), zap.String("op", op))
		return
	}
	o.logger.Warn("negotiation step failed", zap.String("peer", peerID), zap.String("op", op), zap.Error(err))
	o.peerFailed(peerID, o.link(peerID), op)
}

func (o *Orchestrator) anyInStateLocked(s peer.State) bool {
	for _, l := range o.links {
		if l.state == s {
			return true
		}
	}
	return false
}

func (o *Orchestrator) restart(peerID string) error {
	if peerID == o.selfID || o.link(peerID) == nil {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, peerID)
	}
	l, err := o.newLink(peerID)
	if err != nil {
		return err
	}

	o.mu.Lock()
	if o.state.Status == StatusFailed {
		o.state.Status = StatusConnecting
		o.state.Err = nil
		o.publishLocked()
	}
	o.mu.Unlock()

	o.logger.Info("restarting peer session", zap.String("peer", peerID), zap.Uint64("generation", l.gen))
	o.offer(l)
	return nil
}

// sampleQuality classifies every live session; the worst one wins.
func (o *Orchestrator) sampleQuality() {
	o.mu.Lock()
	links := make([]*peerLink, 0, len(o.links))
	for _, l := range o.links {
		links = append(links, l)
	}
	o.mu.Unlock()

	q := QualityExcellent
	sampled := false
	for _, l := range links {
		switch l.state {
		case peer.StateDisconnected:
			q = worse(q, QualityDisconnected)
			sampled = true
		case peer.StateConnected:
			st, err := l.session.Stats()
			if err != nil {
				o.logger.Debug("stats unavailable", zap.String("peer", l.session.PeerID), zap.Error(err))
				continue
			}
			q = worse(q, Classify(interval(l.last, st)))
			l.last = st
			sampled = true
		}
	}
	if !sampled {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.Status != StatusConnected {
		return
	}
	o.state.Quality = q
	switch q {
	case QualityPoor:
		if o.state.Warning == nil {
			o.state.Warning = NewError("network", ErrPoorNetwork)
		}
	case QualityDisconnected:
	default:
		if o.state.Warning != nil && (errors.Is(o.state.Warning, ErrPoorNetwork) || errors.Is(o.state.Warning, ErrPeerDisconnected)) {
			o.state.Warning = nil
		}
	}
	o.publishLocked()
}
