package ws

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/darkden-lab/bazaar-realtime/internal/auth"
	"github.com/darkden-lab/bazaar-realtime/internal/limits"
	"github.com/darkden-lab/bazaar-realtime/internal/protocol"
)

// writeWait is the maximum time allowed to write a message to the peer.
const writeWait = 10 * time.Second

// Client is one authenticated connection. Its channel set is owned by the
// hub and only touched under the hub lock.
type Client struct {
	id          uint64
	ID          string
	UserID      string
	Role        auth.Role
	RemoteAddr  string
	ConnectedAt time.Time

	conn    *websocket.Conn
	hub     *Hub
	send    chan []byte
	limiter *limits.MessageLimiter

	done      chan struct{}
	closeOnce sync.Once
	closeCode int
	closeText string

	alive        atomic.Int64
	sendFailures atomic.Int32

	channels map[string]struct{}
}

// NewClient wraps conn for the given identity. It is not visible to other
// clients until the hub admits it.
func NewClient(hub *Hub, conn *websocket.Conn, id auth.Identity, remoteAddr string) *Client {
	return &Client{
		ID:          uuid.New().String(),
		UserID:      id.UserID,
		Role:        id.Role,
		RemoteAddr:  remoteAddr,
		ConnectedAt: time.Now(),
		conn:        conn,
		hub:         hub,
		send:        make(chan []byte, hub.cfg.SendBuffer),
		limiter:     limits.NewMessageLimiter(hub.cfg.MaxMessagesPerMinute, hub.cfg.MaxRateViolations),
		done:        make(chan struct{}),
		channels:    make(map[string]struct{}),
	}
}

// enqueue never blocks. It fails when the client is closed or its queue is
// full.
func (c *Client) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		c.sendFailures.Store(0)
		return true
	default:
		return false
	}
}

func (c *Client) close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeText = reason
		close(c.done)
	})
}

func (c *Client) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Client) markAlive(t time.Time) {
	c.alive.Store(t.UnixNano())
}

func (c *Client) lastAlive() time.Time {
	return time.Unix(0, c.alive.Load())
}

// ReadPump reads frames until the connection fails or the client is closed,
// then removes the client from the hub. Frames are handled in arrival order.
func (c *Client) ReadPump() {
	h := c.hub
	code, reason := websocket.CloseNormalClosure, "connection closed"
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error().Interface("panic", r).Str("client_id", c.ID).Msg("read pump panic")
			code, reason = websocket.CloseInternalServerErr, "internal error"
		}
		h.Remove(c, code, reason)
	}()

	readWait := h.cfg.HeartbeatInterval * time.Duration(h.cfg.MissedHeartbeats+1)
	c.conn.SetReadLimit(h.cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(readWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readWait))
		h.touch(c)
		return nil
	})

	for {
		mt, msg, err := c.conn.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				code, reason = websocket.CloseMessageTooBig, "frame too large"
			} else if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				h.logger.Debug().Err(err).Str("client_id", c.ID).Msg("read error")
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(readWait))

		if mt != websocket.TextMessage {
			code, reason = CloseProtocolViolation, "only text frames are accepted"
			return
		}

		switch c.limiter.Check() {
		case limits.Throttle:
			h.stats.RateLimited()
			h.reply(c, protocol.Error(protocol.CodeRateLimited, "too many messages, slow down"))
			continue
		case limits.Disconnect:
			h.stats.RateLimited()
			code, reason = CloseRateLimited, "rate limit exceeded"
			return
		}

		h.dispatch(c, msg)
	}
}

// WritePump drains the send queue, pings every heartbeat interval, and
// writes the close frame once the client is closed.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.hub.cfg.HeartbeatInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.hub.Remove(c, websocket.CloseAbnormalClosure, "write failed")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.Remove(c, websocket.CloseAbnormalClosure, "ping failed")
				return
			}

		case <-c.done:
			c.flush()
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(c.closeCode, c.closeText),
				time.Now().Add(writeWait))
			return
		}
	}
}

// flush writes whatever is already queued, e.g. the error that explains a
// close.
func (c *Client) flush() {
	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		default:
			return
		}
	}
}
