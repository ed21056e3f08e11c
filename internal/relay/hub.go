package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mossy-p/call-signaling/internal/metrics"
	"github.com/mossy-p/call-signaling/internal/models"
)

var (
	ErrRoomFull   = errors.New("room is full")
	ErrHubClosed  = errors.New("relay is shutting down")
	ErrPeerAbsent = errors.New("peer not in room")
)

const presenceTimeout = 2 * time.Second

// Options are the per-socket limits and keepalive timing.
type Options struct {
	PingPeriod           time.Duration
	PongWait             time.Duration
	WriteWait            time.Duration
	MaxMessageBytes      int64
	SendBuffer           int
	MaxMessagesPerSecond int
}

func DefaultOptions() Options {
	return Options{
		PingPeriod:           54 * time.Second,
		PongWait:             60 * time.Second,
		WriteWait:            10 * time.Second,
		MaxMessageBytes:      64 * 1024,
		SendBuffer:           256,
		MaxMessagesPerSecond: 50,
	}
}

// Presence mirrors room membership outside the process. Optional.
type Presence interface {
	AddPresence(ctx context.Context, roomID, userID string) error
	RemovePresence(ctx context.Context, roomID, userID string) error
}

// Hub owns every live room. Membership changes go through Join and Leave
// so the delete-when-empty rule is applied in one place.
type Hub struct {
	opts     Options
	presence Presence
	logger   *zap.Logger

	mu     sync.Mutex
	rooms  map[string]*Room
	closed bool
}

func NewHub(opts Options, presence Presence, logger *zap.Logger) *Hub {
	return &Hub{
		opts:     opts,
		presence: presence,
		logger:   logger.Named("relay"),
		rooms:    make(map[string]*Room),
	}
}

// Serve registers conn as userID in roomID and starts its pumps. A
// maxParticipants of zero means unbounded. On error the socket is closed.
func (h *Hub) Serve(conn *websocket.Conn, roomID, userID string, maxParticipants int) error {
	c := h.newClient(conn, roomID, userID)
	go c.writePump()

	if err := h.Join(c, maxParticipants); err != nil {
		c.closeWith(websocket.ClosePolicyViolation, err.Error())
		return err
	}

	go c.readPump()
	return nil
}

func (h *Hub) newClient(conn *websocket.Conn, roomID, userID string) *Client {
	id := uuid.New().String()
	limit := rate.Inf
	burst := 0
	if h.opts.MaxMessagesPerSecond > 0 {
		limit = rate.Limit(h.opts.MaxMessagesPerSecond)
		burst = h.opts.MaxMessagesPerSecond
	}
	return &Client{
		ID:      id,
		UserID:  userID,
		RoomID:  roomID,
		conn:    conn,
		send:    make(chan []byte, h.opts.SendBuffer),
		done:    make(chan struct{}),
		hub:     h,
		limiter: rate.NewLimiter(limit, burst),
		logger: h.logger.With(
			zap.String("room", roomID),
			zap.String("user", userID),
			zap.String("conn", id)),
	}
}

// Join adds c to its room, creating the room on first arrival. A second
// connection for the same user replaces the first.
func (h *Hub) Join(c *Client, maxParticipants int) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrHubClosed
	}
	room, ok := h.rooms[c.RoomID]
	if !ok {
		room = newRoom(c.RoomID)
	}

	room.mu.Lock()
	replaced := room.clients[c.UserID]
	if replaced == nil && maxParticipants > 0 && len(room.clients) >= maxParticipants {
		room.mu.Unlock()
		h.mu.Unlock()
		return ErrRoomFull
	}
	room.clients[c.UserID] = c
	others := make([]*Client, 0, len(room.clients))
	existing := make([]string, 0, len(room.clients))
	for uid, other := range room.clients {
		if uid != c.UserID {
			others = append(others, other)
			existing = append(existing, uid)
		}
	}
	sort.Strings(existing)

	// Every frame about this join is queued before room.mu is released, so a
	// later join cannot reach anyone ahead of these.
	if replaced != nil {
		replaced.closeWith(websocket.ClosePolicyViolation, "replaced by new connection")
	}
	ack, _ := models.NewSignal(models.SignalTypeJoin, c.RoomID, c.UserID, "", models.JoinAck{
		ConnectionID: c.ID,
		Participants: existing,
	})
	c.enqueue(mustMarshal(ack))
	for _, uid := range existing {
		c.enqueue(h.control(models.SignalTypePeerJoined, c.RoomID, uid, c.UserID))
	}
	left := h.control(models.SignalTypePeerLeft, c.RoomID, c.UserID, "")
	joined := h.control(models.SignalTypePeerJoined, c.RoomID, c.UserID, "")
	for _, other := range others {
		if replaced != nil {
			other.enqueue(left)
		}
		other.enqueue(joined)
	}
	room.mu.Unlock()

	if !ok {
		h.rooms[c.RoomID] = room
		metrics.ActiveRooms.Inc()
		h.logger.Info("room created", zap.String("room", c.RoomID))
	}
	h.mu.Unlock()

	if replaced != nil {
		replaced.logger.Info("connection replaced by newer one")
	} else {
		metrics.ActiveParticipants.Inc()
	}

	if h.presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
		if err := h.presence.AddPresence(ctx, c.RoomID, c.UserID); err != nil {
			c.logger.Warn("presence add failed", zap.Error(err))
		}
		cancel()
	}

	c.logger.Info("peer joined", zap.Int("participants", len(existing)+1))
	return nil
}

// Leave removes c if it is still the registered connection for its user,
// notifies the rest of the room and drops the room once empty.
func (h *Hub) Leave(c *Client) {
	defer c.closeWith(websocket.CloseNormalClosure, "")

	h.mu.Lock()
	room, ok := h.rooms[c.RoomID]
	if !ok {
		h.mu.Unlock()
		return
	}
	room.mu.Lock()
	removed := room.clients[c.UserID] == c
	if removed {
		delete(room.clients, c.UserID)
		left := h.control(models.SignalTypePeerLeft, c.RoomID, c.UserID, "")
		for _, other := range room.clients {
			other.enqueue(left)
		}
	}
	empty := len(room.clients) == 0
	room.mu.Unlock()
	if removed && empty {
		delete(h.rooms, c.RoomID)
		metrics.ActiveRooms.Dec()
	}
	h.mu.Unlock()

	if !removed {
		return
	}
	metrics.ActiveParticipants.Dec()
	h.removePresence(c.RoomID, c.UserID)

	c.logger.Info("peer left")
	if empty {
		h.logger.Info("removed empty room", zap.String("room", c.RoomID))
	}
}

// Route stamps the sender onto msg and forwards it to msg.PeerID, or to
// every other member when no target is set.
func (h *Hub) Route(from *Client, msg models.SignalMessage) error {
	msg.UserID = from.UserID
	msg.RoomID = from.RoomID

	h.mu.Lock()
	room, ok := h.rooms[from.RoomID]
	h.mu.Unlock()
	if !ok {
		return ErrPeerAbsent
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	metrics.MessagesRelayedTotal.WithLabelValues(string(msg.Type)).Inc()

	if msg.PeerID != "" {
		if !room.sendTo(msg.PeerID, data) {
			return ErrPeerAbsent
		}
		return nil
	}
	room.broadcast(data, from)
	return nil
}

// CloseRoom disconnects every member of roomID. It reports whether the
// room was live.
func (h *Hub) CloseRoom(roomID string) bool {
	h.mu.Lock()
	room, ok := h.rooms[roomID]
	if ok {
		delete(h.rooms, roomID)
		metrics.ActiveRooms.Dec()
	}
	h.mu.Unlock()
	if !ok {
		return false
	}

	for _, c := range room.drain() {
		metrics.ActiveParticipants.Dec()
		h.removePresence(roomID, c.UserID)
		c.closeWith(websocket.CloseGoingAway, "room closed")
	}
	h.logger.Info("room closed", zap.String("room", roomID))
	return true
}

// Snapshot returns the user ids in every live room.
func (h *Hub) Snapshot() map[string][]string {
	h.mu.Lock()
	rooms := make([]*Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mu.Unlock()

	out := make(map[string][]string, len(rooms))
	for _, r := range rooms {
		out[r.ID] = r.members()
	}
	return out
}

// Members returns the user ids currently in roomID.
func (h *Hub) Members(roomID string) []string {
	h.mu.Lock()
	room, ok := h.rooms[roomID]
	h.mu.Unlock()
	if !ok {
		return nil
	}
	return room.members()
}

// Shutdown refuses new joins and closes every socket.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	h.closed = true
	ids := make([]string, 0, len(h.rooms))
	for id := range h.rooms {
		ids = append(ids, id)
	}
	h.mu.Unlock()

	for _, id := range ids {
		h.CloseRoom(id)
	}
}

func (h *Hub) removePresence(roomID, userID string) {
	if h.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	if err := h.presence.RemovePresence(ctx, roomID, userID); err != nil {
		h.logger.Warn("presence remove failed",
			zap.String("room", roomID), zap.String("user", userID), zap.Error(err))
	}
}

// control builds a relay-originated message about userID, optionally
// addressed to peerID.
func (h *Hub) control(t models.SignalType, roomID, userID, peerID string) []byte {
	return mustMarshal(models.SignalMessage{Type: t, RoomID: roomID, UserID: userID, PeerID: peerID})
}

func mustMarshal(msg models.SignalMessage) []byte {
	data, err := json.Marshal(msg)
	if err != nil {
		panic(err)
	}
	return data
}
