package gatherly

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"nhooyr.io/websocket"
)

// ============================================================================
// Test doubles
// ============================================================================

type fakeTransport struct {
	mu        sync.Mutex
	frames    []ControlMessage
	inbound   chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbound: make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
}

func (t *fakeTransport) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-t.inbound:
		return data, nil
	case <-t.closed:
		return nil, errors.New("transport closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *fakeTransport) Write(ctx context.Context, data []byte) error {
	select {
	case <-t.closed:
		return errors.New("transport closed")
	default:
	}
	var msg ControlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	t.mu.Lock()
	t.frames = append(t.frames, msg)
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) Close(code websocket.StatusCode, reason string) error {
	t.closeOnce.Do(func() { close(t.closed) })
	return nil
}

func (t *fakeTransport) sent() []ControlMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]ControlMessage(nil), t.frames...)
}

// drop simulates an unexpected connection loss.
func (t *fakeTransport) drop() {
	t.closeOnce.Do(func() { close(t.closed) })
}

type fakeDialer struct {
	mu      sync.Mutex
	dials   int
	refuse  bool
	current *fakeTransport
}

func (d *fakeDialer) dial(ctx context.Context, url string) (transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.refuse {
		return nil, errors.New("dial refused")
	}
	t := newFakeTransport()
	d.current = t
	return t, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) transport() *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

func (d *fakeDialer) setRefuse(refuse bool) {
	d.mu.Lock()
	d.refuse = refuse
	d.mu.Unlock()
}

func newTestChannel(dialer *fakeDialer, dispatcher *Dispatcher) *ChannelClient {
	c := NewChannelClient("http://gatherly.test", dispatcher, &ChannelConfig{
		ReconnectBaseDelay: time.Millisecond,
		KeepAliveInterval:  time.Hour, // tests that need pings shorten this
	})
	c.dial = dialer.dial
	return c
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// ============================================================================
// URL derivation
// ============================================================================

func TestChannelURL(t *testing.T) {
	t.Run("https to wss", func(t *testing.T) {
		got := ChannelURL("https://api.gatherly.app", "tok")
		if got != "wss://api.gatherly.app/ws?token=tok" {
			t.Errorf("unexpected URL: %s", got)
		}
	})
	t.Run("http to ws", func(t *testing.T) {
		got := ChannelURL("http://localhost:8080", "")
		if got != "ws://localhost:8080/ws" {
			t.Errorf("unexpected URL: %s", got)
		}
	})
}

// ============================================================================
// Lifecycle
// ============================================================================

func TestConnectIdempotent(t *testing.T) {
	dialer := &fakeDialer{}
	c := newTestChannel(dialer, NewDispatcher())

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("second connect: %v", err)
	}

	if got := dialer.dialCount(); got != 1 {
		t.Errorf("expected 1 dial, got %d", got)
	}
	if c.State() != StateOpen {
		t.Errorf("expected state open, got %s", c.State())
	}
}

func TestConnectEmitsStateChanges(t *testing.T) {
	dialer := &fakeDialer{}
	dispatcher := NewDispatcher()
	c := newTestChannel(dialer, dispatcher)

	var mu sync.Mutex
	var states []ConnectionState
	dispatcher.OnStateChanged(func(s ConnectionState) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(states) != 2 || states[0] != StateConnecting || states[1] != StateOpen {
		t.Fatalf("expected [connecting open], got %v", states)
	}
}

func TestPendingQueueFIFO(t *testing.T) {
	dialer := &fakeDialer{refuse: true}
	c := newTestChannel(dialer, NewDispatcher())
	ctx := context.Background()

	topicA := Topic{Kind: TopicDM, ID: 1}
	topicB := Topic{Kind: TopicDM, ID: 2}

	c.Join(ctx, topicA)
	c.Leave(ctx, topicA)
	c.Join(ctx, topicB)

	dialer.setRefuse(false)
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}

	waitFor(t, time.Second, "queued frames to flush", func() bool {
		tr := dialer.transport()
		return tr != nil && len(tr.sent()) >= 3
	})

	frames := dialer.transport().sent()
	want := []struct {
		typ   string
		topic Topic
	}{
		{ctrlJoin, topicA},
		{ctrlLeave, topicA},
		{ctrlJoin, topicB},
	}
	if len(frames) != 3 {
		t.Fatalf("expected exactly 3 frames, got %d: %+v", len(frames), frames)
	}
	for i, w := range want {
		if frames[i].Type != w.typ || frames[i].Topic == nil || *frames[i].Topic != w.topic {
			t.Errorf("frame %d: expected %s %v, got %+v", i, w.typ, w.topic, frames[i])
		}
	}
}

func TestSendWhileOpenTransmitsImmediately(t *testing.T) {
	dialer := &fakeDialer{}
	c := newTestChannel(dialer, NewDispatcher())
	ctx := context.Background()

	if err := c.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	c.Join(ctx, Topic{Kind: TopicGroup, ID: 3})

	frames := dialer.transport().sent()
	if len(frames) != 1 || frames[0].Type != ctrlJoin {
		t.Fatalf("expected an immediate join frame, got %+v", frames)
	}
}

func TestRejoinAfterReconnect(t *testing.T) {
	dialer := &fakeDialer{}
	c := newTestChannel(dialer, NewDispatcher())
	ctx := context.Background()

	if err := c.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}

	topicA := Topic{Kind: TopicDM, ID: 1}
	topicB := Topic{Kind: TopicGroup, ID: 2}
	c.Join(ctx, topicA)
	c.Join(ctx, topicB)

	first := dialer.transport()
	first.drop()

	waitFor(t, time.Second, "reconnect", func() bool {
		return dialer.dialCount() == 2 && c.State() == StateOpen
	})

	second := dialer.transport()
	waitFor(t, time.Second, "re-join frames", func() bool {
		return len(second.sent()) >= 2
	})

	frames := second.sent()
	if frames[0].Type != ctrlJoin || *frames[0].Topic != topicA {
		t.Errorf("expected join %v first, got %+v", topicA, frames[0])
	}
	if frames[1].Type != ctrlJoin || *frames[1].Topic != topicB {
		t.Errorf("expected join %v second, got %+v", topicB, frames[1])
	}
}

func TestBackoffBound(t *testing.T) {
	dialer := &fakeDialer{refuse: true}
	c := newTestChannel(dialer, NewDispatcher())

	if err := c.Connect(context.Background()); err == nil {
		t.Fatal("expected connect to fail")
	}

	// Explicit attempt plus 5 automatic retries, then nothing.
	waitFor(t, time.Second, "retries to exhaust", func() bool {
		return dialer.dialCount() == 6
	})
	time.Sleep(30 * time.Millisecond)
	if got := dialer.dialCount(); got != 6 {
		t.Fatalf("expected no dials past the attempt ceiling, got %d", got)
	}
	if c.State() != StateDisconnected {
		t.Errorf("expected disconnected after giving up, got %s", c.State())
	}

	// A fresh explicit Connect resets the counter and resumes.
	dialer.setRefuse(false)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("recovery connect: %v", err)
	}
	if c.State() != StateOpen {
		t.Errorf("expected open after recovery, got %s", c.State())
	}
}

func TestDisconnectDuringConnecting(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	late := newFakeTransport()

	c := NewChannelClient("http://gatherly.test", NewDispatcher(), &ChannelConfig{
		ReconnectBaseDelay: time.Millisecond,
		KeepAliveInterval:  time.Hour,
	})
	c.dial = func(ctx context.Context, url string) (transport, error) {
		close(started)
		<-release
		return late, nil
	}

	done := make(chan error, 1)
	go func() { done <- c.Connect(context.Background()) }()
	<-started
	if c.State() != StateConnecting {
		t.Fatalf("expected connecting while dial is in flight, got %s", c.State())
	}

	if err := c.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("connect: %v", err)
	}

	// The late dial success must not revive the session.
	waitFor(t, time.Second, "late transport to close", func() bool {
		select {
		case <-late.closed:
			return true
		default:
			return false
		}
	})
	time.Sleep(20 * time.Millisecond)
	if got := c.State(); got != StateDisconnected {
		t.Fatalf("after explicit Disconnect the client must stay disconnected, got %s", got)
	}
}

func TestDisconnectDropsPendingQueue(t *testing.T) {
	dialer := &fakeDialer{refuse: true}
	c := newTestChannel(dialer, NewDispatcher())
	ctx := context.Background()

	c.Send(ctx, ControlMessage{Type: ctrlPing})
	if err := c.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}

	// A fresh session must not replay frames from before the shutdown.
	dialer.setRefuse(false)
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Disconnect()
	waitFor(t, time.Second, "open state", func() bool {
		return c.State() == StateOpen
	})

	time.Sleep(20 * time.Millisecond)
	if frames := dialer.transport().sent(); len(frames) != 0 {
		t.Fatalf("frames queued before an intentional disconnect must not replay, got %+v", frames)
	}
}

func TestNoReconnectAfterDisconnect(t *testing.T) {
	dialer := &fakeDialer{}
	c := newTestChannel(dialer, NewDispatcher())

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := c.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}

	time.Sleep(30 * time.Millisecond)
	if got := dialer.dialCount(); got != 1 {
		t.Fatalf("expected no reconnection after intentional disconnect, got %d dials", got)
	}
	if c.State() != StateDisconnected {
		t.Errorf("expected disconnected, got %s", c.State())
	}
}

func TestKeepAlivePings(t *testing.T) {
	dialer := &fakeDialer{}
	dispatcher := NewDispatcher()
	c := NewChannelClient("http://gatherly.test", dispatcher, &ChannelConfig{
		ReconnectBaseDelay: time.Millisecond,
		KeepAliveInterval:  5 * time.Millisecond,
	})
	c.dial = dialer.dial

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Disconnect()

	waitFor(t, time.Second, "ping frame", func() bool {
		for _, f := range dialer.transport().sent() {
			if f.Type == ctrlPing {
				return true
			}
		}
		return false
	})
}

// ============================================================================
// Inbound handling
// ============================================================================

func TestInboundDispatch(t *testing.T) {
	dialer := &fakeDialer{}
	dispatcher := NewDispatcher()
	c := newTestChannel(dialer, dispatcher)

	var mu sync.Mutex
	var newIDs, updatedIDs, deletedIDs []int64
	dispatcher.OnNewMessage(func(msg Message, _ Topic) {
		mu.Lock()
		newIDs = append(newIDs, msg.ID)
		mu.Unlock()
	})
	dispatcher.OnMessageUpdated(func(msg Message, _ Topic) {
		mu.Lock()
		updatedIDs = append(updatedIDs, msg.ID)
		mu.Unlock()
	})
	dispatcher.OnMessageDeleted(func(id int64, _ Topic) {
		mu.Lock()
		deletedIDs = append(deletedIDs, id)
		mu.Unlock()
	})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Disconnect()

	topic := Topic{Kind: TopicDM, ID: 7}
	msg := testMessage(41)
	push := func(n Notification) {
		data, _ := json.Marshal(n)
		dialer.transport().inbound <- data
	}
	push(Notification{Type: notifNewMessage, Message: &msg, Topic: &topic})
	push(Notification{Type: notifMessageUpdated, Message: &msg, Topic: &topic})
	push(Notification{Type: notifMessageDeleted, MessageID: 41, Topic: &topic})
	push(Notification{Type: notifPong})

	waitFor(t, time.Second, "events to dispatch", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(newIDs) == 1 && len(updatedIDs) == 1 && len(deletedIDs) == 1
	})
}

func TestMalformedInboundDropped(t *testing.T) {
	dialer := &fakeDialer{}
	dispatcher := NewDispatcher()
	c := newTestChannel(dialer, dispatcher)

	var mu sync.Mutex
	var received []int64
	dispatcher.OnNewMessage(func(msg Message, _ Topic) {
		mu.Lock()
		received = append(received, msg.ID)
		mu.Unlock()
	})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Disconnect()

	tr := dialer.transport()
	tr.inbound <- []byte(`{"type":`)          // malformed
	tr.inbound <- []byte(`{"type":"typing"}`) // unknown tag
	topic := Topic{Kind: TopicDM, ID: 7}
	msg := testMessage(5)
	good, _ := json.Marshal(Notification{Type: notifNewMessage, Message: &msg, Topic: &topic})
	tr.inbound <- good

	waitFor(t, time.Second, "good frame to survive", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1 && received[0] == 5
	})
	if c.State() != StateOpen {
		t.Errorf("malformed frames must not close the connection, state %s", c.State())
	}
}
