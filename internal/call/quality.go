package call

import (
	"time"

	"github.com/mossy-p/call-signaling/internal/peer"
)

type Quality string

const (
	QualityExcellent    Quality = "excellent"
	QualityGood         Quality = "good"
	QualityFair         Quality = "fair"
	QualityPoor         Quality = "poor"
	QualityDisconnected Quality = "disconnected"
)

var qualityRank = map[Quality]int{
	QualityExcellent:    0,
	QualityGood:         1,
	QualityFair:         2,
	QualityPoor:         3,
	QualityDisconnected: 4,
}

// Classify buckets one stats sample by packet loss and round-trip time.
func Classify(s peer.Stats) Quality {
	loss := s.LossRatio()
	rtt := s.RoundTrip
	switch {
	case loss < 0.01 && rtt < 150*time.Millisecond:
		return QualityExcellent
	case loss < 0.03 && rtt < 300*time.Millisecond:
		return QualityGood
	case loss < 0.08 && rtt < 500*time.Millisecond:
		return QualityFair
	default:
		return QualityPoor
	}
}

// worse returns whichever of a and b is the lower tier.
func worse(a, b Quality) Quality {
	if qualityRank[b] > qualityRank[a] {
		return b
	}
	return a
}

// interval turns two cumulative samples into the loss seen between them.
func interval(prev, cur peer.Stats) peer.Stats {
	out := peer.Stats{RoundTrip: cur.RoundTrip}
	if cur.PacketsLost >= prev.PacketsLost && cur.PacketsReceived >= prev.PacketsReceived {
		out.PacketsLost = cur.PacketsLost - prev.PacketsLost
		out.PacketsReceived = cur.PacketsReceived - prev.PacketsReceived
		return out
	}
	// counters reset, e.g. a new transport
	out.PacketsLost = cur.PacketsLost
	out.PacketsReceived = cur.PacketsReceived
	return out
}
