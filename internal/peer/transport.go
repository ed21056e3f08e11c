package peer

import (
	"context"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/mossy-p/call-signaling/internal/media"
)

type Config struct {
	ICEServers []webrtc.ICEServer
}

// NewConfig builds ICE servers from STUN urls and TURN urls with credentials.
func NewConfig(stun, turn []string, username, credential string) Config {
	var servers []webrtc.ICEServer
	if len(stun) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: stun})
	}
	if len(turn) > 0 {
		servers = append(servers, webrtc.ICEServer{
			URLs:       turn,
			Username:   username,
			Credential: credential,
		})
	}
	return Config{ICEServers: servers}
}

// RemoteTrack describes media arriving from the peer.
type RemoteTrack struct {
	ID       string
	StreamID string
	Kind     media.Kind
	Codec    string
}

// Stats is a point-in-time transport health sample.
type Stats struct {
	RoundTrip       time.Duration
	PacketsLost     int64
	PacketsReceived int64
}

// LossRatio is lost / (lost + received), or zero before any packets.
func (s Stats) LossRatio() float64 {
	total := s.PacketsLost + s.PacketsReceived
	if total <= 0 || s.PacketsLost <= 0 {
		return 0
	}
	return float64(s.PacketsLost) / float64(total)
}

// TransportEvents are delivered from the transport's own goroutines.
type TransportEvents struct {
	OnICECandidate    func(webrtc.ICECandidateInit)
	OnTrack           func(RemoteTrack)
	OnConnectionState func(Event)
}

// Transport is the peer-to-peer media connection a Session drives.
type Transport interface {
	AddTrack(t *media.Track) error
	SetTrackMuted(t *media.Track, muted bool) error
	CreateOffer(ctx context.Context) (webrtc.SessionDescription, error)
	CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(c webrtc.ICECandidateInit) error
	Stats() (Stats, error)
	Close() error
}

type TransportFactory interface {
	NewTransport(cfg Config, events TransportEvents) (Transport, error)
}

type TransportFactoryFunc func(cfg Config, events TransportEvents) (Transport, error)

func (f TransportFactoryFunc) NewTransport(cfg Config, events TransportEvents) (Transport, error) {
	return f(cfg, events)
}
