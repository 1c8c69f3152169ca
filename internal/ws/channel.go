package ws

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/moveinn/minn/internal/bus"
	"github.com/moveinn/minn/internal/session"
	"github.com/moveinn/minn/internal/status"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum frame size allowed from the peer.
	maxMessageSize = 4096

	// Reconnect backoff bounds.
	minBackoff = time.Second
	maxBackoff = 30 * time.Second
)

// ErrNotConnected is returned by outbound intents while the channel is down.
// Sends are not queued for replay: the caller keeps its optimistic entry and
// the user retries, which matches what the server can guarantee anyway.
var ErrNotConnected = errors.New("live channel not connected")

// Channel maintains the single per-session WebSocket connection to the
// MoveInn backend. Every decoded inbound frame is published exactly once on
// the bus, in arrival order; subscribers do their own filtering and
// de-duplication. Connection loss triggers automatic reconnect with
// exponential backoff and no replay.
type Channel struct {
	rawURL  string
	sess    *session.Session
	bus     *bus.Bus
	machine *status.Machine
	logger  *zap.Logger

	mu     sync.Mutex // guards conn and all writes to it
	conn   *websocket.Conn
	cancel context.CancelFunc
}

// NewChannel creates a channel for the given endpoint, e.g.
// "wss://localhost:7023/api/WebSocket/ws". The session token is appended as a
// query parameter the way the backend expects it.
func NewChannel(rawURL string, sess *session.Session, b *bus.Bus, machine *status.Machine, logger *zap.Logger) *Channel {
	return &Channel{
		rawURL:  rawURL,
		sess:    sess,
		bus:     b,
		machine: machine,
		logger:  logger,
	}
}

// Start connects in the background and keeps the connection alive until Stop
// or ctx cancellation.
func (c *Channel) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	_ = c.machine.Transition(status.Connecting)
	go c.run(ctx)
}

// Stop tears the connection down and stops reconnecting.
func (c *Channel) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
}

// SendMessage transmits an outbound chat message. It does not wait for server
// acknowledgement; the caller owns the optimistic local representation.
func (c *Channel) SendMessage(receiverID, content string) error {
	return c.send(outbound{Action: actionSendMessage, ReceiverID: receiverID, Content: content})
}

// MarkAsRead acknowledges all unread messages from the given counterpart.
func (c *Channel) MarkAsRead(contactID string) error {
	return c.send(outbound{Action: actionMarkAsRead, ContactID: contactID})
}

// Follow sends a follow intent for the target user.
func (c *Channel) Follow(targetUserID string) error {
	return c.send(outbound{Action: actionFollow, TargetUserID: targetUserID})
}

// Unfollow sends an unfollow intent for the target user.
func (c *Channel) Unfollow(targetUserID string) error {
	return c.send(outbound{Action: actionUnfollow, TargetUserID: targetUserID})
}

func (c *Channel) send(v outbound) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

// run is the connect/read/reconnect loop. It owns the conn field.
func (c *Channel) run(ctx context.Context) {
	backoff := minBackoff

	for {
		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.shutdown()
				return
			}
			c.logger.Warn("channel dial failed", zap.Error(err), zap.Duration("retry_in", backoff))
			_ = c.machine.Transition(status.Reconnecting)
			if !c.sleep(ctx, backoff) {
				c.shutdown()
				return
			}
			backoff = min(backoff*2, maxBackoff)
			_ = c.machine.Transition(status.Connecting)
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		backoff = minBackoff
		_ = c.machine.Transition(status.Online)
		c.logger.Info("channel connected")

		// Closing the conn on cancellation unblocks the reader.
		readerDone := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				_ = conn.Close()
			case <-readerDone:
			}
		}()
		c.readLoop(ctx, conn)
		close(readerDone)

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		_ = conn.Close()

		if ctx.Err() != nil {
			c.shutdown()
			return
		}

		c.logger.Warn("channel disconnected, reconnecting")
		_ = c.machine.Transition(status.Reconnecting)
		if !c.sleep(ctx, backoff) {
			c.shutdown()
			return
		}
		backoff = min(backoff*2, maxBackoff)
		_ = c.machine.Transition(status.Connecting)
	}
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.rawURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("token", c.sess.Token)
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// readLoop pumps frames from the connection onto the bus until the connection
// dies. Ordering is preserved; each frame is dispatched at most once.
func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	pingDone := make(chan struct{})
	defer close(pingDone)
	go c.pingLoop(ctx, conn, pingDone)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("channel read error", zap.Error(err))
			}
			return
		}

		kind, payload, err := decodeFrame(data)
		if err != nil {
			// Server also sends ad-hoc success/error envelopes; skip anything
			// that is not part of the event union.
			c.logger.Debug("skipping frame", zap.Error(err))
			continue
		}
		c.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
	}
}

func (c *Channel) pingLoop(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.mu.Unlock()
			if err != nil {
				return
			}
		case <-done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (c *Channel) shutdown() {
	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()
	_ = c.machine.Transition(status.Closed)
	c.logger.Info("channel closed")
}

func (c *Channel) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
