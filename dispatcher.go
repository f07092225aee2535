package gatherly

import "sync"

// ============================================================================
// Connection State
// ============================================================================

// ConnectionState describes the push channel lifecycle. Owned exclusively by
// the ChannelClient; observers receive it through the dispatcher.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateOpen         ConnectionState = "open"
	StateClosing      ConnectionState = "closing"
)

// ============================================================================
// Event Dispatcher
// ============================================================================

// UnsubscribeFunc removes a single registration. Safe to call more than once.
type UnsubscribeFunc func()

type newMessageEntry struct {
	token int
	fn    func(Message, Topic)
}

type messageDeletedEntry struct {
	token int
	fn    func(int64, Topic)
}

type stateEntry struct {
	token int
	fn    func(ConnectionState)
}

// Dispatcher fans inbound channel events out to independent listeners.
// Dispatch is synchronous and in registration order; a panicking listener
// never prevents its siblings from running.
type Dispatcher struct {
	mu        sync.Mutex
	nextToken int

	onNewMessage     []newMessageEntry
	onMessageUpdated []newMessageEntry
	onMessageDeleted []messageDeletedEntry
	onStateChanged   []stateEntry
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// OnNewMessage registers a listener for new messages.
func (d *Dispatcher) OnNewMessage(fn func(msg Message, topic Topic)) UnsubscribeFunc {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextToken++
	token := d.nextToken
	d.onNewMessage = append(d.onNewMessage, newMessageEntry{token, fn})
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.onNewMessage = removeNewMessage(d.onNewMessage, token)
	}
}

// OnMessageUpdated registers a listener for edited messages.
func (d *Dispatcher) OnMessageUpdated(fn func(msg Message, topic Topic)) UnsubscribeFunc {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextToken++
	token := d.nextToken
	d.onMessageUpdated = append(d.onMessageUpdated, newMessageEntry{token, fn})
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.onMessageUpdated = removeNewMessage(d.onMessageUpdated, token)
	}
}

// OnMessageDeleted registers a listener for deleted messages.
func (d *Dispatcher) OnMessageDeleted(fn func(messageID int64, topic Topic)) UnsubscribeFunc {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextToken++
	token := d.nextToken
	d.onMessageDeleted = append(d.onMessageDeleted, messageDeletedEntry{token, fn})
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		for i, e := range d.onMessageDeleted {
			if e.token == token {
				d.onMessageDeleted = append(d.onMessageDeleted[:i], d.onMessageDeleted[i+1:]...)
				break
			}
		}
	}
}

// OnStateChanged registers a listener for connection state transitions.
func (d *Dispatcher) OnStateChanged(fn func(state ConnectionState)) UnsubscribeFunc {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextToken++
	token := d.nextToken
	d.onStateChanged = append(d.onStateChanged, stateEntry{token, fn})
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		for i, e := range d.onStateChanged {
			if e.token == token {
				d.onStateChanged = append(d.onStateChanged[:i], d.onStateChanged[i+1:]...)
				break
			}
		}
	}
}

func removeNewMessage(entries []newMessageEntry, token int) []newMessageEntry {
	for i, e := range entries {
		if e.token == token {
			return append(entries[:i], entries[i+1:]...)
		}
	}
	return entries
}

func (d *Dispatcher) dispatchNewMessage(msg Message, topic Topic) {
	d.mu.Lock()
	entries := append([]newMessageEntry(nil), d.onNewMessage...)
	d.mu.Unlock()
	for _, e := range entries {
		safeCall(func() { e.fn(msg, topic) })
	}
}

func (d *Dispatcher) dispatchMessageUpdated(msg Message, topic Topic) {
	d.mu.Lock()
	entries := append([]newMessageEntry(nil), d.onMessageUpdated...)
	d.mu.Unlock()
	for _, e := range entries {
		safeCall(func() { e.fn(msg, topic) })
	}
}

func (d *Dispatcher) dispatchMessageDeleted(messageID int64, topic Topic) {
	d.mu.Lock()
	entries := append([]messageDeletedEntry(nil), d.onMessageDeleted...)
	d.mu.Unlock()
	for _, e := range entries {
		safeCall(func() { e.fn(messageID, topic) })
	}
}

func (d *Dispatcher) dispatchStateChanged(state ConnectionState) {
	d.mu.Lock()
	entries := append([]stateEntry(nil), d.onStateChanged...)
	d.mu.Unlock()
	for _, e := range entries {
		safeCall(func() { e.fn(state) })
	}
}

// safeCall isolates listener panics so one bad callback cannot take down
// the dispatch loop or skip sibling listeners.
func safeCall(fn func()) {
	defer func() { _ = recover() }()
	fn()
}
