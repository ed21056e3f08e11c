package relay

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mossy-p/call-signaling/internal/metrics"
	"github.com/mossy-p/call-signaling/internal/models"
)

// Client is one signaling socket.
type Client struct {
	ID     string
	UserID string
	RoomID string

	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	hub     *Hub
	limiter *rate.Limiter
	logger  *zap.Logger

	closeOnce   sync.Once
	closeCode   int
	closeReason string
}

// enqueue never blocks. A client that cannot keep up is disconnected.
func (c *Client) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		c.logger.Warn("send buffer full, dropping socket")
		metrics.SocketsDroppedTotal.WithLabelValues("slow_consumer").Inc()
		c.closeWith(websocket.ClosePolicyViolation, "send buffer full")
		return false
	}
}

// closeWith stops the write pump, which sends a close frame and closes the
// connection. Only the first call has any effect.
func (c *Client) closeWith(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		close(c.done)
	})
}

func (c *Client) sendError(text string) {
	c.enqueue(mustMarshal(models.SignalMessage{
		Type:   models.SignalTypeError,
		RoomID: c.RoomID,
		UserID: c.UserID,
		Error:  text,
	}))
}

func (c *Client) readPump() {
	defer c.hub.Leave(c)

	opts := c.hub.opts
	if opts.MaxMessageBytes > 0 {
		c.conn.SetReadLimit(opts.MaxMessageBytes)
	}
	c.conn.SetReadDeadline(time.Now().Add(opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(opts.PongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				metrics.SocketsDroppedTotal.WithLabelValues("message_too_large").Inc()
				c.logger.Warn("message exceeds size limit")
			} else if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket error", zap.Error(err))
			}
			return
		}

		if !c.limiter.Allow() {
			metrics.RateLimitedTotal.Inc()
			c.sendError("rate limit exceeded")
			continue
		}

		var msg models.SignalMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.logger.Debug("failed to parse message", zap.Error(err))
			c.sendError("invalid message")
			continue
		}

		switch {
		case msg.Type.Relayable():
			if err := c.hub.Route(c, msg); err != nil {
				c.logger.Debug("route failed",
					zap.String("type", string(msg.Type)),
					zap.String("peer", msg.PeerID),
					zap.Error(err))
				if errors.Is(err, ErrPeerAbsent) {
					c.sendError("peer " + msg.PeerID + " is not in the room")
				}
			}
		case msg.Type == models.SignalTypeLeave:
			return
		case msg.Type == models.SignalTypeJoin:
			// already joined by connecting
		default:
			c.logger.Debug("unknown message type", zap.String("type", string(msg.Type)))
			c.sendError("unsupported message type: " + string(msg.Type))
		}
	}
}

func (c *Client) writePump() {
	opts := c.hub.opts
	ticker := time.NewTicker(opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("failed to write message", zap.Error(err))
				c.closeWith(websocket.CloseAbnormalClosure, "")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.closeWith(websocket.CloseAbnormalClosure, "")
				return
			}

		case <-c.done:
			c.flush(opts.WriteWait)
			if c.closeCode != websocket.CloseAbnormalClosure {
				c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(c.closeCode, c.closeReason),
					time.Now().Add(opts.WriteWait))
			}
			return
		}
	}
}

// flush writes whatever is already queued so a close does not swallow the
// last error or ack.
func (c *Client) flush(wait time.Duration) {
	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		default:
			return
		}
	}
}
