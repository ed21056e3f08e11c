package signaling

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mossy-p/call-signaling/internal/models"
)

var (
	// ErrUnavailable wraps every failure to reach or join the relay.
	ErrUnavailable   = errors.New("signaling transport unavailable")
	ErrChannelClosed = errors.New("signaling channel closed")
	ErrSendQueueFull = errors.New("signaling send queue full")
)

const (
	writeWait     = 10 * time.Second
	inboundBuffer = 64
)

type Config struct {
	// URL of the relay's signaling endpoint, e.g. ws://host:8080/ws/signal.
	URL            string
	Token          string
	PingInterval   time.Duration
	MaxMissedPongs int
	JoinTimeout    time.Duration
	SendBuffer     int
}

func (c Config) withDefaults() Config {
	if c.PingInterval <= 0 {
		c.PingInterval = 5 * time.Second
	}
	if c.MaxMissedPongs <= 0 {
		c.MaxMissedPongs = 3
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = 10 * time.Second
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	return c
}

// Dialer opens Channels to a relay.
type Dialer struct {
	cfg    Config
	ws     *websocket.Dialer
	logger *zap.Logger
}

func NewDialer(cfg Config, logger *zap.Logger) *Dialer {
	return &Dialer{
		cfg:    cfg.withDefaults(),
		ws:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger: logger.Named("signaling"),
	}
}

// Join connects to roomID as selfID and returns once the relay has
// acknowledged the join. Frames that arrive ahead of the ack are replayed
// on Messages once the channel starts, so no membership change is lost.
func (d *Dialer) Join(ctx context.Context, roomID, selfID string) (*Channel, error) {
	u, err := url.Parse(d.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: parse url: %v", ErrUnavailable, err)
	}
	q := u.Query()
	q.Set("roomId", roomID)
	q.Set("userId", selfID)
	if d.cfg.Token != "" {
		q.Set("token", d.cfg.Token)
	}
	u.RawQuery = q.Encode()

	joinCtx, cancel := context.WithTimeout(ctx, d.cfg.JoinTimeout)
	defer cancel()

	conn, resp, err := d.ws.DialContext(joinCtx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: dial: %v (status %d)", ErrUnavailable, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: dial: %v", ErrUnavailable, err)
	}

	ack, early, err := awaitAck(joinCtx, conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	ch := newChannel(d.cfg, conn, roomID, selfID, d.logger)
	ch.ConnectionID = ack.ConnectionID
	ch.pending = early
	ch.start()
	return ch, nil
}

// awaitAck reads until the join ack and returns whatever came before it.
func awaitAck(ctx context.Context, conn *websocket.Conn) (models.JoinAck, []models.SignalMessage, error) {
	deadline, _ := ctx.Deadline()
	conn.SetReadDeadline(deadline)
	stop := context.AfterFunc(ctx, func() {
		// unblock the read if the caller gives up first
		conn.SetReadDeadline(time.Now())
	})
	defer stop()

	var early []models.SignalMessage
	for {
		var msg models.SignalMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return models.JoinAck{}, nil, fmt.Errorf("waiting for join ack: %w", ctx.Err())
			}
			return models.JoinAck{}, nil, fmt.Errorf("waiting for join ack: %w", err)
		}
		switch msg.Type {
		case models.SignalTypeJoin:
			var ack models.JoinAck
			if len(msg.Data) > 0 {
				if err := msg.DecodeData(&ack); err != nil {
					return models.JoinAck{}, nil, fmt.Errorf("decode join ack: %w", err)
				}
			}
			if !stop() {
				return models.JoinAck{}, nil, fmt.Errorf("waiting for join ack: %w", context.Cause(ctx))
			}
			conn.SetReadDeadline(time.Time{})
			return ack, early, nil
		case models.SignalTypeError:
			return models.JoinAck{}, nil, fmt.Errorf("relay refused join: %s", msg.Error)
		default:
			early = append(early, msg)
		}
	}
}

// Channel is one joined room. Inbound messages, including peer-joined and
// peer-left, arrive on Messages in relay order. Heartbeat traffic is
// handled internally.
type Channel struct {
	ConnectionID string

	cfg    Config
	roomID string
	selfID string
	conn   *websocket.Conn
	logger *zap.Logger

	in   chan models.SignalMessage
	out  chan models.SignalMessage
	done chan struct{}

	closeOnce sync.Once
	leaving   atomic.Bool
	wg        sync.WaitGroup
	writerWG  sync.WaitGroup

	// read before the join ack; handled ahead of the socket
	pending []models.SignalMessage

	mu    sync.Mutex
	peers map[string]int // peer id -> unanswered pings
}

func newChannel(cfg Config, conn *websocket.Conn, roomID, selfID string, logger *zap.Logger) *Channel {
	return &Channel{
		cfg:    cfg,
		roomID: roomID,
		selfID: selfID,
		conn:   conn,
		logger: logger.With(zap.String("room", roomID), zap.String("user", selfID)),
		in:     make(chan models.SignalMessage, inboundBuffer),
		out:    make(chan models.SignalMessage, cfg.SendBuffer),
		done:   make(chan struct{}),
		peers:  make(map[string]int),
	}
}

func (c *Channel) start() {
	c.wg.Add(2)
	c.writerWG.Add(1)
	go c.readLoop()
	go c.heartbeatLoop()
	go c.writeLoop()
	go func() {
		c.wg.Wait()
		close(c.in)
	}()
}

func (c *Channel) RoomID() string { return c.roomID }

func (c *Channel) SelfID() string { return c.selfID }

// Messages is closed after the channel shuts down. An unexpected transport
// loss is reported first as a leave naming the local user.
func (c *Channel) Messages() <-chan models.SignalMessage {
	return c.in
}

// Send queues msg for delivery. It never blocks.
func (c *Channel) Send(msg models.SignalMessage) error {
	select {
	case <-c.done:
		return ErrChannelClosed
	default:
	}
	msg.RoomID = c.roomID
	msg.UserID = c.selfID
	select {
	case c.out <- msg:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Leave tells the relay we are going, closes the socket and waits for the
// channel's goroutines. Safe to call more than once.
func (c *Channel) Leave() {
	if c.leaving.CompareAndSwap(false, true) {
		select {
		case c.out <- models.SignalMessage{Type: models.SignalTypeLeave, RoomID: c.roomID, UserID: c.selfID}:
		default:
		}
		c.shutdown()
	}
	c.writerWG.Wait()
	c.wg.Wait()
}

func (c *Channel) shutdown() {
	c.closeOnce.Do(func() { close(c.done) })
}

// emit hands msg to the consumer unless the channel is already shutting down.
func (c *Channel) emit(msg models.SignalMessage) {
	select {
	case c.in <- msg:
	case <-c.done:
	}
}

func (c *Channel) readLoop() {
	defer c.wg.Done()
	for _, msg := range c.pending {
		c.handle(msg)
	}
	c.pending = nil

	for {
		var msg models.SignalMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if !c.leaving.Load() {
				c.logger.Warn("signaling transport lost", zap.Error(err))
				c.emit(models.SignalMessage{Type: models.SignalTypeLeave, RoomID: c.roomID, UserID: c.selfID})
			}
			c.shutdown()
			return
		}
		c.handle(msg)
	}
}

func (c *Channel) handle(msg models.SignalMessage) {
	switch msg.Type {
	case models.SignalTypePing:
		c.markAlive(msg.UserID)
		c.Send(models.SignalMessage{Type: models.SignalTypePong, PeerID: msg.UserID})
	case models.SignalTypePong:
		c.markAlive(msg.UserID)
	case models.SignalTypePeerJoined:
		c.mu.Lock()
		c.peers[msg.UserID] = 0
		c.mu.Unlock()
		c.emit(msg)
	case models.SignalTypePeerLeft:
		c.mu.Lock()
		_, known := c.peers[msg.UserID]
		delete(c.peers, msg.UserID)
		c.mu.Unlock()
		// already reported when the heartbeat dropped it
		if known {
			c.emit(msg)
		}
	default:
		c.emit(msg)
	}
}

func (c *Channel) markAlive(peerID string) {
	c.mu.Lock()
	if _, ok := c.peers[peerID]; ok {
		c.peers[peerID] = 0
	}
	c.mu.Unlock()
}

func (c *Channel) heartbeatLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
		}

		var dead []string
		c.mu.Lock()
		for id, missed := range c.peers {
			if missed >= c.cfg.MaxMissedPongs {
				dead = append(dead, id)
				delete(c.peers, id)
				continue
			}
			c.peers[id] = missed + 1
		}
		c.mu.Unlock()

		for _, id := range dead {
			c.logger.Info("peer stopped answering pings", zap.String("peer", id))
			c.emit(models.SignalMessage{Type: models.SignalTypeLeave, RoomID: c.roomID, UserID: id})
		}
		if err := c.Send(models.SignalMessage{Type: models.SignalTypePing}); err != nil && !errors.Is(err, ErrChannelClosed) {
			c.logger.Debug("ping not queued", zap.Error(err))
		}
	}
}

func (c *Channel) writeLoop() {
	defer func() {
		c.conn.Close()
		c.writerWG.Done()
	}()

	for {
		select {
		case msg := <-c.out:
			if err := c.write(msg); err != nil {
				c.logger.Debug("write failed", zap.Error(err))
				return
			}
		case <-c.done:
			c.flush()
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

func (c *Channel) write(msg models.SignalMessage) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(msg)
}

func (c *Channel) flush() {
	for {
		select {
		case msg := <-c.out:
			if err := c.write(msg); err != nil {
				return
			}
		default:
			return
		}
	}
}
