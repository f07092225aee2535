package gatherly

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// ============================================================================
// Configuration
// ============================================================================

// ChannelConfig configures the push channel client.
type ChannelConfig struct {
	Token                string
	ReconnectBaseDelay   time.Duration
	MaxReconnectAttempts int
	KeepAliveInterval    time.Duration

	// Logf receives diagnostics for dropped frames and reconnect outcomes.
	// Nil means silent; the SDK never logs on its own behalf.
	Logf func(format string, args ...any)
}

func (c *ChannelConfig) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.KeepAliveInterval == 0 {
		c.KeepAliveInterval = 30 * time.Second
	}
}

func (c *ChannelConfig) logf(format string, args ...any) {
	if c.Logf != nil {
		c.Logf(format, args...)
	}
}

// ChannelURL derives the push channel endpoint from the REST base URL by
// swapping the scheme and appending the fixed /ws path.
func ChannelURL(baseURL, token string) string {
	u := strings.Replace(baseURL, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	u += "/ws"
	if token != "" {
		u += "?token=" + token
	}
	return u
}

// ============================================================================
// Transport
// ============================================================================

// transport is the minimal surface the channel client needs from a
// connection. Production uses a websocket; tests substitute an in-process
// double.
type transport interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close(code websocket.StatusCode, reason string) error
}

type dialFunc func(ctx context.Context, url string) (transport, error)

type wsTransport struct {
	conn *websocket.Conn
}

func dialWebsocket(ctx context.Context, url string) (transport, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return &wsTransport{conn: conn}, nil
}

func (t *wsTransport) Read(ctx context.Context) ([]byte, error) {
	_, data, err := t.conn.Read(ctx)
	return data, err
}

func (t *wsTransport) Write(ctx context.Context, data []byte) error {
	return t.conn.Write(ctx, websocket.MessageText, data)
}

func (t *wsTransport) Close(code websocket.StatusCode, reason string) error {
	return t.conn.Close(code, reason)
}

// ============================================================================
// ChannelClient
// ============================================================================

// ChannelClient owns the single push channel connection: lifecycle,
// keep-alive, bounded linear-backoff reconnection, the pending control
// frame queue, and the desired-joined topic registry. All inbound events
// reach consumers through the injected Dispatcher; nothing else in the SDK
// writes to the connection.
type ChannelClient struct {
	baseURL    string
	config     *ChannelConfig
	dial       dialFunc
	dispatcher *Dispatcher

	mu               sync.Mutex
	state            ConnectionState
	conn             transport
	cancelFn         context.CancelFunc
	intentionalClose bool
	everOpened       bool
	attempts         int
	reconnecting     bool

	// pending holds control frames issued while the connection was not
	// open. Strict FIFO; flushed on the next transition into Open.
	pending []ControlMessage

	// joined is the desired-joined topic set, re-announced after every
	// reconnect. joinedOrder keeps re-join frames deterministic.
	joined      map[Topic]struct{}
	joinedOrder []Topic
}

// NewChannelClient creates a channel client for the given REST base URL.
// The dispatcher receives all inbound events and state transitions.
func NewChannelClient(baseURL string, dispatcher *Dispatcher, config *ChannelConfig) *ChannelClient {
	cfg := ChannelConfig{}
	if config != nil {
		cfg = *config
	}
	cfg.defaults()
	return &ChannelClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		config:     &cfg,
		dial:       dialWebsocket,
		dispatcher: dispatcher,
		state:      StateDisconnected,
		joined:     make(map[Topic]struct{}),
	}
}

// State returns the current connection state.
func (c *ChannelClient) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect opens the push channel. Idempotent: a client that is already
// open or connecting returns nil immediately. An explicit Connect resets
// the reconnect attempt counter and clears the intentional-close flag, so
// it also serves as the recovery trigger after Disconnect or after
// reconnection has given up.
func (c *ChannelClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	c.attempts = 0
	c.intentionalClose = false
	c.mu.Unlock()
	return c.connect(ctx)
}

func (c *ChannelClient) connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateOpen || c.state == StateConnecting || c.intentionalClose {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.mu.Unlock()
	c.dispatcher.dispatchStateChanged(StateConnecting)

	conn, err := c.dial(ctx, ChannelURL(c.baseURL, c.config.Token))
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		c.dispatcher.dispatchStateChanged(StateDisconnected)
		c.scheduleReconnect()
		return fmt.Errorf("channel dial: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	// A Disconnect may have landed while the dial was in flight. It wins:
	// the late connection is discarded and nothing transitions to Open.
	if c.intentionalClose || c.state != StateConnecting {
		c.mu.Unlock()
		cancel()
		conn.Close(websocket.StatusNormalClosure, "client disconnect")
		return nil
	}
	c.conn = conn
	c.cancelFn = cancel
	c.state = StateOpen
	c.attempts = 0
	rejoin := []Topic(nil)
	if c.everOpened {
		rejoin = append(rejoin, c.joinedOrder...)
	}
	c.everOpened = true
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	c.dispatcher.dispatchStateChanged(StateOpen)

	// Re-announce topic membership first: the server is stateless across
	// reconnects, so joins must precede any other outbound traffic.
	for _, topic := range rejoin {
		t := topic
		c.writeControl(loopCtx, conn, ControlMessage{Type: ctrlJoin, Topic: &t})
	}
	for _, msg := range pending {
		c.writeControl(loopCtx, conn, msg)
	}

	go c.readLoop(loopCtx, conn)
	go c.keepAliveLoop(loopCtx, conn)

	return nil
}

// Disconnect intentionally shuts the channel down, ending the session: no
// reconnection is attempted and control frames still queued are dropped,
// until the next explicit Connect starts a fresh session.
func (c *ChannelClient) Disconnect() error {
	c.mu.Lock()
	c.intentionalClose = true
	c.state = StateClosing
	c.pending = nil
	if c.cancelFn != nil {
		c.cancelFn()
		c.cancelFn = nil
	}
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	c.dispatcher.dispatchStateChanged(StateClosing)

	var err error
	if conn != nil {
		err = conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}

	c.mu.Lock()
	c.state = StateDisconnected
	c.mu.Unlock()
	c.dispatcher.dispatchStateChanged(StateDisconnected)
	return err
}

// Send transmits a control frame, or queues it if the connection is not
// open yet. Sending while disconnected queues the frame and kicks off a
// connection attempt. Transport failures are never surfaced here; the read
// loop observes the broken connection and drives recovery.
func (c *ChannelClient) Send(ctx context.Context, msg ControlMessage) {
	c.mu.Lock()
	switch c.state {
	case StateOpen:
		conn := c.conn
		c.mu.Unlock()
		c.writeControl(ctx, conn, msg)
	case StateDisconnected:
		c.pending = append(c.pending, msg)
		c.intentionalClose = false
		c.mu.Unlock()
		go func() {
			if err := c.connect(context.Background()); err != nil {
				c.config.logf("gatherly: self-healing connect failed: %v", err)
			}
		}()
	default: // Connecting, Closing
		c.pending = append(c.pending, msg)
		c.mu.Unlock()
	}
}

// Join records the topic as desired-joined and announces it. Joining an
// already-joined topic re-sends the frame, which the server treats as a
// no-op.
func (c *ChannelClient) Join(ctx context.Context, topic Topic) {
	c.mu.Lock()
	if _, ok := c.joined[topic]; !ok {
		c.joined[topic] = struct{}{}
		c.joinedOrder = append(c.joinedOrder, topic)
	}
	c.mu.Unlock()
	t := topic
	c.Send(ctx, ControlMessage{Type: ctrlJoin, Topic: &t})
}

// Leave removes the topic from the desired-joined set and announces it.
func (c *ChannelClient) Leave(ctx context.Context, topic Topic) {
	c.mu.Lock()
	if _, ok := c.joined[topic]; ok {
		delete(c.joined, topic)
		for i, t := range c.joinedOrder {
			if t == topic {
				c.joinedOrder = append(c.joinedOrder[:i], c.joinedOrder[i+1:]...)
				break
			}
		}
	}
	c.mu.Unlock()
	t := topic
	c.Send(ctx, ControlMessage{Type: ctrlLeave, Topic: &t})
}

// Joined returns the desired-joined topic set in join order.
func (c *ChannelClient) Joined() []Topic {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Topic(nil), c.joinedOrder...)
}

func (c *ChannelClient) writeControl(ctx context.Context, conn transport, msg ControlMessage) {
	if conn == nil {
		return
	}
	data, err := encodeControl(msg)
	if err != nil {
		c.config.logf("gatherly: dropping invalid control frame: %v", err)
		return
	}
	if err := conn.Write(ctx, data); err != nil {
		c.config.logf("gatherly: control write failed: %v", err)
	}
}

func (c *ChannelClient) readLoop(ctx context.Context, conn transport) {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			c.mu.Lock()
			if c.intentionalClose || c.conn != conn {
				c.mu.Unlock()
				return
			}
			c.conn = nil
			c.state = StateDisconnected
			if c.cancelFn != nil {
				c.cancelFn()
				c.cancelFn = nil
			}
			c.mu.Unlock()
			c.dispatcher.dispatchStateChanged(StateDisconnected)
			c.scheduleReconnect()
			return
		}

		n, err := decodeNotification(data)
		if err != nil {
			c.config.logf("gatherly: dropping inbound frame: %v", err)
			continue
		}

		switch n.Type {
		case notifNewMessage:
			c.dispatcher.dispatchNewMessage(*n.Message, *n.Topic)
		case notifMessageUpdated:
			c.dispatcher.dispatchMessageUpdated(*n.Message, *n.Topic)
		case notifMessageDeleted:
			c.dispatcher.dispatchMessageDeleted(n.MessageID, *n.Topic)
		case notifPong:
			// Keep-alive replies carry no payload worth tracking.
		}
	}
}

func (c *ChannelClient) keepAliveLoop(ctx context.Context, conn transport) {
	ticker := time.NewTicker(c.config.KeepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			data, _ := encodeControl(ControlMessage{Type: ctrlPing})
			if err := conn.Write(ctx, data); err != nil {
				return
			}
		}
	}
}

// scheduleReconnect starts the bounded linear-backoff loop unless one is
// already running or the close was intentional. Attempt n waits n times
// the base delay; after the ceiling the client settles into Disconnected
// until an explicit Connect.
func (c *ChannelClient) scheduleReconnect() {
	c.mu.Lock()
	if c.intentionalClose || c.reconnecting {
		c.mu.Unlock()
		return
	}
	c.reconnecting = true
	c.mu.Unlock()
	go c.reconnectLoop()
}

func (c *ChannelClient) reconnectLoop() {
	for {
		c.mu.Lock()
		if c.intentionalClose {
			c.reconnecting = false
			c.mu.Unlock()
			return
		}
		if c.attempts >= c.config.MaxReconnectAttempts {
			c.reconnecting = false
			c.mu.Unlock()
			c.config.logf("gatherly: reconnect gave up after %d attempts", c.config.MaxReconnectAttempts)
			return
		}
		c.attempts++
		n := c.attempts
		c.mu.Unlock()

		time.Sleep(c.config.ReconnectBaseDelay * time.Duration(n))

		c.mu.Lock()
		if c.intentionalClose {
			c.reconnecting = false
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		if err := c.connect(context.Background()); err == nil {
			c.mu.Lock()
			c.reconnecting = false
			c.mu.Unlock()
			return
		}
	}
}
