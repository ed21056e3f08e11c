// Package media describes the local media a call sends: streams of
// sample-fed tracks plus the constraints used to acquire them.
package media

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

var ErrTrackStopped = errors.New("track stopped")

// Track is a local track fed with encoded samples. A disabled track drops
// samples, which the remote side hears as silence or sees as a frozen frame.
type Track struct {
	ID   string
	Kind Kind

	local *webrtc.TrackLocalStaticSample

	mu      sync.Mutex
	enabled bool
	stopped bool
}

func NewTrack(kind Kind, id, streamID string) (*Track, error) {
	var capability webrtc.RTPCodecCapability
	switch kind {
	case KindAudio:
		capability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	case KindVideo:
		capability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	default:
		return nil, fmt.Errorf("unknown track kind %q", kind)
	}
	local, err := webrtc.NewTrackLocalStaticSample(capability, id, streamID)
	if err != nil {
		return nil, fmt.Errorf("create %s track: %w", kind, err)
	}
	return &Track{ID: id, Kind: kind, local: local, enabled: true}, nil
}

// Local is what gets attached to a peer connection.
func (t *Track) Local() webrtc.TrackLocal { return t.local }

func (t *Track) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *Track) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}

func (t *Track) WriteSample(s pionmedia.Sample) error {
	t.mu.Lock()
	stopped, enabled := t.stopped, t.enabled
	t.mu.Unlock()
	if stopped {
		return ErrTrackStopped
	}
	if !enabled {
		return nil
	}
	return t.local.WriteSample(s)
}

// Stop is idempotent.
func (t *Track) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

func (t *Track) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// Stream groups the tracks captured together. It starts with one reference
// held by whoever acquired it; every additional holder calls Retain and
// Release, and the last Release stops the tracks.
type Stream struct {
	ID     string
	tracks []*Track

	refs     atomic.Int32
	stopOnce sync.Once
	onStop   func()
}

func NewStream(id string, tracks ...*Track) *Stream {
	s := &Stream{ID: id, tracks: tracks}
	s.refs.Store(1)
	return s
}

func (s *Stream) Retain() { s.refs.Add(1) }

func (s *Stream) Release() {
	if s.refs.Add(-1) <= 0 {
		s.Stop()
	}
}

func (s *Stream) Tracks() []*Track { return s.tracks }

func (s *Stream) AudioTracks() []*Track { return s.byKind(KindAudio) }

func (s *Stream) VideoTracks() []*Track { return s.byKind(KindVideo) }

func (s *Stream) byKind(k Kind) []*Track {
	var out []*Track
	for _, t := range s.tracks {
		if t.Kind == k {
			out = append(out, t)
		}
	}
	return out
}

// Stop stops every track and the source feeding them, regardless of references.
func (s *Stream) Stop() {
	s.stopOnce.Do(func() {
		for _, t := range s.tracks {
			t.Stop()
		}
		if s.onStop != nil {
			s.onStop()
		}
	})
}

// Stopped reports whether every track has been stopped.
func (s *Stream) Stopped() bool {
	for _, t := range s.tracks {
		if !t.Stopped() {
			return false
		}
	}
	return true
}
