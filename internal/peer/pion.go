package peer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/mossy-p/call-signaling/internal/media"
)

const rtcpBufferSize = 1500

// NewPionAPI builds a webrtc API with the default codecs and interceptors
// (NACK, RTCP reports, stats) and pion's logs routed through loggerFactory.
func NewPionAPI(loggerFactory logging.LoggerFactory) (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{}
	if loggerFactory != nil {
		se.LoggerFactory = loggerFactory
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(ir),
		webrtc.WithSettingEngine(se),
	), nil
}

// PionFactory creates pion-backed transports.
type PionFactory struct {
	api    *webrtc.API
	logger *zap.Logger
}

func NewPionFactory(api *webrtc.API, logger *zap.Logger) *PionFactory {
	return &PionFactory{api: api, logger: logger.Named("transport")}
}

func (f *PionFactory) NewTransport(cfg Config, events TransportEvents) (Transport, error) {
	pc, err := f.api.NewPeerConnection(webrtc.Configuration{ICEServers: cfg.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	t := &pionTransport{
		pc:      pc,
		senders: make(map[*media.Track]*webrtc.RTPSender),
		logger:  f.logger,
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		// nil marks the end of gathering
		if c == nil || events.OnICECandidate == nil {
			return
		}
		events.OnICECandidate(c.ToJSON())
	})

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		kind := media.KindAudio
		if remote.Kind() == webrtc.RTPCodecTypeVideo {
			kind = media.KindVideo
		}
		if events.OnTrack != nil {
			events.OnTrack(RemoteTrack{
				ID:       remote.ID(),
				StreamID: remote.StreamID(),
				Kind:     kind,
				Codec:    remote.Codec().MimeType,
			})
		}
		// Remote media is not rendered here, but it must be read for the
		// interceptors to see it.
		go discard(remote)
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if events.OnConnectionState == nil {
			return
		}
		if e, ok := eventFor(s); ok {
			events.OnConnectionState(e)
		}
	})

	return t, nil
}

func eventFor(s webrtc.PeerConnectionState) (Event, bool) {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return EventConnecting, true
	case webrtc.PeerConnectionStateConnected:
		return EventConnected, true
	case webrtc.PeerConnectionStateDisconnected:
		return EventDisconnected, true
	case webrtc.PeerConnectionStateFailed:
		return EventFailed, true
	case webrtc.PeerConnectionStateClosed:
		return EventClosed, true
	}
	return "", false
}

type reader interface {
	Read(b []byte) (int, interceptor.Attributes, error)
}

func discard(r reader) {
	buf := make([]byte, rtcpBufferSize)
	for {
		if _, _, err := r.Read(buf); err != nil {
			return
		}
	}
}

type pionTransport struct {
	pc     *webrtc.PeerConnection
	logger *zap.Logger

	mu      sync.Mutex
	senders map[*media.Track]*webrtc.RTPSender
}

func (t *pionTransport) AddTrack(track *media.Track) error {
	sender, err := t.pc.AddTrack(track.Local())
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.senders[track] = sender
	t.mu.Unlock()

	// incoming RTCP has to be drained for NACK and reports to work
	go discard(sender)
	return nil
}

// SetTrackMuted stops or resumes sending for one track without renegotiating.
func (t *pionTransport) SetTrackMuted(track *media.Track, muted bool) error {
	t.mu.Lock()
	sender, ok := t.senders[track]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("track %s not attached", track.ID)
	}
	if muted {
		return sender.ReplaceTrack(nil)
	}
	return sender.ReplaceTrack(track.Local())
}

func (t *pionTransport) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return t.pc.CreateOffer(nil)
}

func (t *pionTransport) CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return t.pc.CreateAnswer(nil)
}

func (t *pionTransport) SetLocalDescription(desc webrtc.SessionDescription) error {
	return t.pc.SetLocalDescription(desc)
}

func (t *pionTransport) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return t.pc.SetRemoteDescription(desc)
}

func (t *pionTransport) AddICECandidate(c webrtc.ICECandidateInit) error {
	return t.pc.AddICECandidate(c)
}

// Stats reads the nominated pair's RTT and inbound loss totals.
func (t *pionTransport) Stats() (Stats, error) {
	var out Stats
	for _, s := range t.pc.GetStats() {
		switch st := s.(type) {
		case webrtc.ICECandidatePairStats:
			if st.Nominated && st.CurrentRoundTripTime > 0 {
				out.RoundTrip = time.Duration(st.CurrentRoundTripTime * float64(time.Second))
			}
		case webrtc.InboundRTPStreamStats:
			out.PacketsLost += int64(st.PacketsLost)
			out.PacketsReceived += int64(st.PacketsReceived)
		}
	}
	return out, nil
}

func (t *pionTransport) Close() error {
	return t.pc.Close()
}
