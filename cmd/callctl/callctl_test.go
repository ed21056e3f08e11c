package main

import (
	"strings"
	"testing"
	"time"

	"github.com/mossy-p/call-signaling/internal/call"
	"github.com/mossy-p/call-signaling/internal/middleware"
)

func TestHTTPBase(t *testing.T) {
	tests := []struct {
		in, want string
		wantErr  bool
	}{
		{in: "ws://localhost:8080/ws/signal", want: "http://localhost:8080"},
		{in: "wss://relay.example.org/ws/signal?x=1", want: "https://relay.example.org"},
		{in: "https://relay.example.org/", want: "https://relay.example.org"},
		{in: "ftp://relay.example.org", wantErr: true},
	}
	for _, tt := range tests {
		got, err := httpBase(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("httpBase(%q) succeeded, want error", tt.in)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("httpBase(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestUserID(t *testing.T) {
	token, err := middleware.IssueToken("secret", "alice", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	if id, err := userID(token, ""); err != nil || id != "alice" {
		t.Fatalf("from token: %q, %v", id, err)
	}
	if _, err := userID(token, "bob"); err == nil {
		t.Fatal("mismatched --user accepted")
	}
	if id, _ := userID("", "bob"); id != "bob" {
		t.Fatalf("from flag: %q", id)
	}
	if id, _ := userID("", ""); !strings.HasPrefix(id, "guest-") {
		t.Fatalf("generated id %q", id)
	}
	if _, err := userID("not-a-jwt", ""); err == nil {
		t.Fatal("garbage token accepted")
	}
}

func TestStateLine(t *testing.T) {
	line := stateLine(call.State{
		Status:     call.StatusConnected,
		Duration:   42 * time.Second,
		Quality:    call.QualityGood,
		AudioMuted: true,
		Warning:    call.NewError("network", call.ErrPoorNetwork),
	})
	for _, want := range []string{"connected", "42s", "good", "muted", "network quality is poor"} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}
}

func TestPrintUpdatesSignalsFailure(t *testing.T) {
	updates := make(chan call.State, 3)
	updates <- call.State{Status: call.StatusConnecting}
	updates <- call.State{Status: call.StatusFailed, Err: call.NewError("negotiate", call.ErrNegotiationFailed)}
	updates <- call.State{Status: call.StatusFailed}
	close(updates)

	failed := make(chan struct{})
	printUpdates(updates, failed)
	select {
	case <-failed:
	default:
		t.Fatal("failure not signalled")
	}
}
