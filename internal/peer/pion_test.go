package peer

import (
	"context"
	"strings"
	"testing"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/mossy-p/call-signaling/internal/logging"
	"github.com/mossy-p/call-signaling/internal/media"
)

func TestPionTransportNegotiates(t *testing.T) {
	api, err := NewPionAPI(logging.NewPionFactory(zap.NewNop()))
	if err != nil {
		t.Fatalf("NewPionAPI: %v", err)
	}
	f := NewPionFactory(api, zap.NewNop())

	caller, err := f.NewTransport(Config{}, TransportEvents{})
	if err != nil {
		t.Fatalf("caller: %v", err)
	}
	defer caller.Close()
	callee, err := f.NewTransport(Config{}, TransportEvents{})
	if err != nil {
		t.Fatalf("callee: %v", err)
	}
	defer callee.Close()

	track, err := media.NewTrack(media.KindAudio, "audio", "local")
	if err != nil {
		t.Fatalf("NewTrack: %v", err)
	}
	if err := caller.AddTrack(track); err != nil {
		t.Fatalf("AddTrack: %v", err)
	}

	ctx := context.Background()
	offer, err := caller.CreateOffer(ctx)
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	if !strings.Contains(offer.SDP, "m=audio") {
		t.Fatalf("offer lacks audio section:\n%s", offer.SDP)
	}
	if err := caller.SetLocalDescription(offer); err != nil {
		t.Fatalf("SetLocalDescription: %v", err)
	}
	if err := callee.SetRemoteDescription(offer); err != nil {
		t.Fatalf("callee SetRemoteDescription: %v", err)
	}
	answer, err := callee.CreateAnswer(ctx)
	if err != nil {
		t.Fatalf("CreateAnswer: %v", err)
	}
	if answer.Type != webrtc.SDPTypeAnswer {
		t.Fatalf("answer type %s", answer.Type)
	}
	offerID, answerID := TransportIdentity(offer.SDP), TransportIdentity(answer.SDP)
	if offerID == "" || answerID == "" || offerID == answerID {
		t.Fatalf("transport identities %q and %q", offerID, answerID)
	}

	if err := caller.SetTrackMuted(track, true); err != nil {
		t.Fatalf("mute: %v", err)
	}
	if err := caller.SetTrackMuted(track, false); err != nil {
		t.Fatalf("unmute: %v", err)
	}

	if _, err := caller.Stats(); err != nil {
		t.Fatalf("Stats: %v", err)
	}
}

func TestEventFor(t *testing.T) {
	if _, ok := eventFor(webrtc.PeerConnectionStateNew); ok {
		t.Fatal("new should not map to an event")
	}
	if e, ok := eventFor(webrtc.PeerConnectionStateFailed); !ok || e != EventFailed {
		t.Fatalf("failed mapped to %q", e)
	}
}
