package rooms

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestService() (*Service, *MemoryDirectory) {
	dir := NewMemoryDirectory()
	return NewService(dir, zap.NewNop()), dir
}

func TestReserveAndLookupByCodeOrID(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	room, err := svc.Reserve(ctx, "alice", 0)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if len(room.Code) != CodeLength {
		t.Fatalf("code %q has wrong length", room.Code)
	}
	if room.MaxParticipants != defaultMaxParticipants {
		t.Fatalf("MaxParticipants=%d, want default %d", room.MaxParticipants, defaultMaxParticipants)
	}

	byCode, err := svc.Lookup(ctx, room.Code)
	if err != nil {
		t.Fatalf("Lookup by code: %v", err)
	}
	byID, err := svc.Lookup(ctx, room.ID)
	if err != nil {
		t.Fatalf("Lookup by id: %v", err)
	}
	if byCode.ID != room.ID || byID.ID != room.ID {
		t.Fatalf("lookups resolved to %q and %q, want %q", byCode.ID, byID.ID, room.ID)
	}
}

func TestLookupUnknown(t *testing.T) {
	svc, _ := newTestService()
	if _, err := svc.Lookup(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound", err)
	}
}

func TestDeleteOnlyByCreator(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	room, _ := svc.Reserve(ctx, "alice", 4)

	if _, err := svc.Delete(ctx, room.ID, "mallory"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("err=%v, want ErrForbidden", err)
	}
	if _, err := svc.Delete(ctx, room.Code, "alice"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := svc.Lookup(ctx, room.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("room still present after delete: %v", err)
	}
}

func TestAdmit(t *testing.T) {
	ctx := context.Background()
	svc, dir := newTestService()
	room, _ := svc.Reserve(ctx, "alice", 2)

	adm, err := svc.Admit(ctx, "adhoc-room", "bob")
	if err != nil || adm.RoomID != "adhoc-room" || adm.MaxParticipants != 0 {
		t.Fatalf("ad-hoc admit = %+v, %v", adm, err)
	}

	adm, err = svc.Admit(ctx, room.Code, "alice")
	if err != nil || adm.RoomID != room.ID || adm.MaxParticipants != 2 {
		t.Fatalf("reserved admit = %+v, %v", adm, err)
	}

	_ = dir.AddPresence(ctx, room.ID, "alice")
	_ = dir.AddPresence(ctx, room.ID, "bob")
	if _, err := svc.Admit(ctx, room.ID, "carol"); !errors.Is(err, ErrFull) {
		t.Fatalf("err=%v, want ErrFull", err)
	}
	// a reconnecting member is not turned away
	if _, err := svc.Admit(ctx, room.ID, "bob"); err != nil {
		t.Fatalf("rejoin: %v", err)
	}
}

func TestMemoryDirectoryExpiry(t *testing.T) {
	ctx := context.Background()
	dir := NewMemoryDirectory()
	now := time.Now()
	dir.now = func() time.Time { return now }
	svc := NewService(dir, zap.NewNop())

	room, _ := svc.Reserve(ctx, "alice", 2)
	now = now.Add(RoomTTL + time.Second)
	if _, err := dir.Get(ctx, room.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected expiry, got %v", err)
	}
	if _, err := dir.LookupCode(ctx, room.Code); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected code expiry, got %v", err)
	}
}

func TestMemoryPresenceSetVanishesWhenEmpty(t *testing.T) {
	ctx := context.Background()
	dir := NewMemoryDirectory()
	_ = dir.AddPresence(ctx, "r", "bob")
	_ = dir.AddPresence(ctx, "r", "alice")

	got, _ := dir.Presence(ctx, "r")
	if len(got) != 2 || got[0] != "alice" || got[1] != "bob" {
		t.Fatalf("presence=%v", got)
	}
	_ = dir.RemovePresence(ctx, "r", "alice")
	_ = dir.RemovePresence(ctx, "r", "bob")
	if _, ok := dir.presence["r"]; ok {
		t.Fatal("empty presence set should be removed")
	}
}
