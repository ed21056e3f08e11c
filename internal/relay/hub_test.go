package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mossy-p/call-signaling/internal/models"
)

type fakePresence struct {
	mu      sync.Mutex
	members map[string]map[string]bool
}

func (p *fakePresence) AddPresence(_ context.Context, roomID, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.members == nil {
		p.members = make(map[string]map[string]bool)
	}
	if p.members[roomID] == nil {
		p.members[roomID] = make(map[string]bool)
	}
	p.members[roomID][userID] = true
	return nil
}

func (p *fakePresence) RemovePresence(_ context.Context, roomID, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.members[roomID], userID)
	return nil
}

func (p *fakePresence) count(roomID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.members[roomID])
}

func newTestServer(t *testing.T, opts Options, presence Presence) (*Hub, string) {
	t.Helper()
	hub := NewHub(opts, presence, zap.NewNop())
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit, _ := strconv.Atoi(q.Get("max"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Serve(conn, q.Get("roomId"), q.Get("userId"), limit)
	}))
	t.Cleanup(func() {
		hub.Shutdown()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, base, room, user string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(base+"?roomId="+room+"&userId="+user, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", user, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMsg(t *testing.T, conn *websocket.Conn) models.SignalMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg models.SignalMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func expectType(t *testing.T, conn *websocket.Conn, want models.SignalType) models.SignalMessage {
	t.Helper()
	msg := readMsg(t, conn)
	if msg.Type != want {
		t.Fatalf("got %s (%+v), want %s", msg.Type, msg, want)
	}
	return msg
}

// joinRoom dials and consumes the ack plus one peer-joined per existing member.
func joinRoom(t *testing.T, base, room, user string, existing int) *websocket.Conn {
	t.Helper()
	conn := dial(t, base, room, user)
	ack := expectType(t, conn, models.SignalTypeJoin)
	var payload models.JoinAck
	if err := ack.DecodeData(&payload); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if len(payload.Participants) != existing {
		t.Fatalf("%s ack lists %v, want %d participants", user, payload.Participants, existing)
	}
	for i := 0; i < existing; i++ {
		msg := expectType(t, conn, models.SignalTypePeerJoined)
		if msg.PeerID != user {
			t.Fatalf("peer-joined for newcomer should target it, got %+v", msg)
		}
	}
	return conn
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestJoinNotifiesBothSides(t *testing.T) {
	presence := &fakePresence{}
	hub, base := newTestServer(t, DefaultOptions(), presence)

	alice := joinRoom(t, base, "r1", "alice", 0)
	joinRoom(t, base, "r1", "bob", 1)

	msg := expectType(t, alice, models.SignalTypePeerJoined)
	if msg.UserID != "bob" {
		t.Fatalf("alice notified about %q, want bob", msg.UserID)
	}

	if got := hub.Members("r1"); len(got) != 2 || got[0] != "alice" || got[1] != "bob" {
		t.Fatalf("Members = %v", got)
	}
	waitFor(t, func() bool { return presence.count("r1") == 2 })
}

func TestTargetedRelayReachesOnlyTarget(t *testing.T) {
	_, base := newTestServer(t, DefaultOptions(), nil)

	a := joinRoom(t, base, "r1", "a", 0)
	b := joinRoom(t, base, "r1", "b", 1)
	expectType(t, a, models.SignalTypePeerJoined)
	c := joinRoom(t, base, "r1", "c", 2)
	expectType(t, a, models.SignalTypePeerJoined)
	expectType(t, b, models.SignalTypePeerJoined)

	offer := models.SignalMessage{
		Type:   models.SignalTypeOffer,
		UserID: "spoofed",
		PeerID: "b",
		Data:   json.RawMessage(`{"type":"offer","sdp":"v=0"}`),
	}
	if err := a.WriteJSON(offer); err != nil {
		t.Fatalf("write: %v", err)
	}
	got := expectType(t, b, models.SignalTypeOffer)
	if got.UserID != "a" || got.RoomID != "r1" {
		t.Fatalf("sender not stamped: %+v", got)
	}
	if string(got.Data) != `{"type":"offer","sdp":"v=0"}` {
		t.Fatalf("payload altered: %s", got.Data)
	}

	// c must see the broadcast below as its next message, not the offer.
	if err := a.WriteJSON(models.SignalMessage{Type: models.SignalTypePing}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if msg := expectType(t, c, models.SignalTypePing); msg.UserID != "a" {
		t.Fatalf("ping from %q", msg.UserID)
	}
	expectType(t, b, models.SignalTypePing)
}

func TestCloseNotifiesAndDeletesEmptyRoom(t *testing.T) {
	presence := &fakePresence{}
	hub, base := newTestServer(t, DefaultOptions(), presence)

	alice := joinRoom(t, base, "r1", "alice", 0)
	bob := joinRoom(t, base, "r1", "bob", 1)
	expectType(t, alice, models.SignalTypePeerJoined)

	bob.WriteJSON(models.SignalMessage{Type: models.SignalTypeLeave})
	left := expectType(t, alice, models.SignalTypePeerLeft)
	if left.UserID != "bob" {
		t.Fatalf("peer-left names %q", left.UserID)
	}

	alice.Close()
	waitFor(t, func() bool {
		_, ok := hub.Snapshot()["r1"]
		return !ok
	})
	waitFor(t, func() bool { return presence.count("r1") == 0 })
}

func TestDuplicateUserReplacesConnection(t *testing.T) {
	hub, base := newTestServer(t, DefaultOptions(), nil)

	alice := joinRoom(t, base, "r1", "alice", 0)
	old := joinRoom(t, base, "r1", "bob", 1)
	expectType(t, alice, models.SignalTypePeerJoined)

	joinRoom(t, base, "r1", "bob", 1)
	expectType(t, alice, models.SignalTypePeerLeft)
	expectType(t, alice, models.SignalTypePeerJoined)

	old.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := old.ReadMessage(); !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("old connection err=%v, want policy violation close", err)
	}
	if got := hub.Members("r1"); len(got) != 2 {
		t.Fatalf("Members = %v", got)
	}
}

func TestUnknownTypeGetsErrorReply(t *testing.T) {
	_, base := newTestServer(t, DefaultOptions(), nil)
	alice := joinRoom(t, base, "r1", "alice", 0)

	alice.WriteJSON(models.SignalMessage{Type: "dance"})
	msg := expectType(t, alice, models.SignalTypeError)
	if !strings.Contains(msg.Error, "dance") {
		t.Fatalf("error = %q", msg.Error)
	}

	alice.WriteMessage(websocket.TextMessage, []byte("{not json"))
	expectType(t, alice, models.SignalTypeError)
}

func TestTargetMissingGetsErrorReply(t *testing.T) {
	_, base := newTestServer(t, DefaultOptions(), nil)
	alice := joinRoom(t, base, "r1", "alice", 0)

	alice.WriteJSON(models.SignalMessage{Type: models.SignalTypeAnswer, PeerID: "ghost"})
	msg := expectType(t, alice, models.SignalTypeError)
	if !strings.Contains(msg.Error, "ghost") {
		t.Fatalf("error = %q", msg.Error)
	}
}

func TestRoomFull(t *testing.T) {
	_, base := newTestServer(t, DefaultOptions(), nil)

	joinRoomMax := func(user string) *websocket.Conn {
		conn, _, err := websocket.DefaultDialer.Dial(base+"?max=1&roomId=r1&userId="+user, nil)
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		t.Cleanup(func() { conn.Close() })
		return conn
	}
	first := joinRoomMax("alice")
	expectType(t, first, models.SignalTypeJoin)

	second := joinRoomMax("bob")
	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := second.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("err=%v, want policy violation close", err)
	}
	if ce, ok := err.(*websocket.CloseError); !ok || ce.Text != ErrRoomFull.Error() {
		t.Fatalf("close reason = %v", err)
	}
}

func TestCloseRoomDisconnectsMembers(t *testing.T) {
	hub, base := newTestServer(t, DefaultOptions(), nil)
	alice := joinRoom(t, base, "r1", "alice", 0)

	if !hub.CloseRoom("r1") {
		t.Fatal("CloseRoom reported no live room")
	}
	alice.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := alice.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("err=%v, want going-away close", err)
	}
	if hub.CloseRoom("r1") {
		t.Fatal("second CloseRoom should report nothing to close")
	}
}

func TestRateLimitRejectsBurst(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxMessagesPerSecond = 1
	_, base := newTestServer(t, opts, nil)
	alice := joinRoom(t, base, "r1", "alice", 0)

	alice.WriteJSON(models.SignalMessage{Type: models.SignalTypePing})
	alice.WriteJSON(models.SignalMessage{Type: models.SignalTypePing})
	msg := expectType(t, alice, models.SignalTypeError)
	if msg.Error != "rate limit exceeded" {
		t.Fatalf("error = %q", msg.Error)
	}
}

func TestOversizedMessageDropsSocket(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxMessageBytes = 128
	hub, base := newTestServer(t, opts, nil)
	alice := joinRoom(t, base, "r1", "alice", 0)

	alice.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping","data":"`+strings.Repeat("x", 512)+`"}`))
	waitFor(t, func() bool { return len(hub.Members("r1")) == 0 })
}

func TestSlowConsumerIsDropped(t *testing.T) {
	opts := DefaultOptions()
	opts.SendBuffer = 1
	hub := NewHub(opts, nil, zap.NewNop())
	c := hub.newClient(nil, "r1", "slow")

	if !c.enqueue([]byte("one")) {
		t.Fatal("first enqueue should fit")
	}
	if c.enqueue([]byte("two")) {
		t.Fatal("second enqueue should overflow")
	}
	select {
	case <-c.done:
	default:
		t.Fatal("overflowing client should be closed")
	}
	if c.enqueue([]byte("three")) {
		t.Fatal("closed client should refuse messages")
	}
}

func TestShutdownRefusesJoins(t *testing.T) {
	hub := NewHub(DefaultOptions(), nil, zap.NewNop())
	hub.Shutdown()
	c := hub.newClient(nil, "r1", "late")
	if err := hub.Join(c, 0); err != ErrHubClosed {
		t.Fatalf("err=%v, want ErrHubClosed", err)
	}
}

func TestConcurrentJoinsSeeEveryone(t *testing.T) {
	hub := NewHub(DefaultOptions(), nil, zap.NewNop())

	const n = 16
	clients := make([]*Client, n)
	for i := range clients {
		clients[i] = hub.newClient(nil, "r1", "user-"+strconv.Itoa(i))
	}
	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			if err := hub.Join(c, 0); err != nil {
				t.Errorf("join %s: %v", c.UserID, err)
			}
		}(c)
	}
	wg.Wait()

	for _, c := range clients {
		known := make(map[string]bool)
		for i := 0; len(c.send) > 0; i++ {
			var msg models.SignalMessage
			if err := json.Unmarshal(<-c.send, &msg); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if i == 0 {
				if msg.Type != models.SignalTypeJoin {
					t.Fatalf("%s: first frame is %s, want the join ack", c.UserID, msg.Type)
				}
				var ack models.JoinAck
				if err := msg.DecodeData(&ack); err != nil {
					t.Fatalf("decode ack: %v", err)
				}
				for _, uid := range ack.Participants {
					known[uid] = true
				}
				continue
			}
			if msg.Type == models.SignalTypePeerJoined {
				known[msg.UserID] = true
			}
		}
		if len(known) != n-1 || known[c.UserID] {
			t.Fatalf("%s learned about %d peers, want %d", c.UserID, len(known), n-1)
		}
	}
}
