package call

import (
	"time"

	"github.com/mossy-p/call-signaling/internal/media"
	"github.com/mossy-p/call-signaling/internal/peer"
)

type Status string

const (
	StatusIdle       Status = "idle"
	StatusConnecting Status = "connecting"
	StatusConnected  Status = "connected"
	StatusEnded      Status = "ended"
	StatusFailed     Status = "failed"
)

// State is what the UI renders. Values returned by Orchestrator.State and
// Subscribe are copies.
type State struct {
	Status       Status
	Duration     time.Duration
	ConnectedAt  time.Time
	AudioMuted   bool
	VideoEnabled bool
	Quality      Quality
	// Err is set once Status is failed.
	Err *Error
	// Warning is a non-fatal condition such as a disconnected peer.
	Warning *Error
	Local   *media.Stream
	Remote  map[string][]peer.RemoteTrack
}

func (s State) clone(now time.Time) State {
	out := s
	if s.Status == StatusConnected && !s.ConnectedAt.IsZero() {
		out.Duration = now.Sub(s.ConnectedAt).Truncate(time.Second)
	}
	if s.Remote != nil {
		out.Remote = make(map[string][]peer.RemoteTrack, len(s.Remote))
		for id, tracks := range s.Remote {
			out.Remote[id] = append([]peer.RemoteTrack(nil), tracks...)
		}
	}
	return out
}
