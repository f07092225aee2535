package gatherly

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// ============================================================================
// Collaborator surface
// ============================================================================

// ConversationAPI is the REST surface the synchronizer drives. The SDK's
// Client satisfies it via SyncAPI(), which routes DM and group topics to
// their respective endpoints; tests substitute function-backed fakes.
type ConversationAPI interface {
	History(ctx context.Context, topic Topic, userID int64) ([]Message, error)
	Send(ctx context.Context, topic Topic, content string, userID int64, msgType MessageType, replyToID int64) (*Message, error)
	Update(ctx context.Context, messageID int64, content string, userID int64) (*Message, error)
	Delete(ctx context.Context, messageID int64, userID int64) (*Message, error)
	MarkRead(ctx context.Context, topic Topic, userID int64) error
}

// SyncState is the per-conversation load state. Background merges keep the
// view in Ready; only initial and forced loads pass through Loading.
type SyncState string

const (
	SyncIdle    SyncState = "idle"
	SyncLoading SyncState = "loading"
	SyncReady   SyncState = "ready"
)

// ============================================================================
// Synchronizer
// ============================================================================

// Synchronizer reconciles one conversation's historical page, its live
// event stream, and local optimistic mutations into a single ordered
// timeline. The timeline is always sorted ascending by creation time with
// ties broken by id, and never holds two messages with the same id.
type Synchronizer struct {
	api     ConversationAPI
	polls   *PollVoteAggregator
	channel *ChannelClient

	mu            sync.Mutex
	currentUserID int64
	topic         Topic
	state         SyncState
	messages      []Message

	// loadedKey is the identity guard: the topic key of the last fully
	// successful load. It suppresses redundant refetches when a screen
	// re-renders without navigating away.
	loadedKey string

	// readKey is the topic key of the last acknowledged mark-as-read.
	// Tracked separately from loadedKey so a failed read-state call can be
	// retried by a later load instead of staying unread for the mount.
	readKey string

	draft         string
	replyTarget   int64
	highlightedID int64
	inflightSends int

	unsubs []UnsubscribeFunc
}

// NewSynchronizer creates a synchronizer for one conversation. A zero
// userID or zero topic leaves the synchronizer inert: every operation is a
// silent no-op until both are resolved.
func NewSynchronizer(api ConversationAPI, polls *PollVoteAggregator, channel *ChannelClient, userID int64, topic Topic) *Synchronizer {
	return &Synchronizer{
		api:           api,
		polls:         polls,
		channel:       channel,
		currentUserID: userID,
		topic:         topic,
		state:         SyncIdle,
	}
}

// SetCurrentUser resolves the local user id after construction.
func (s *Synchronizer) SetCurrentUser(userID int64) {
	s.mu.Lock()
	s.currentUserID = userID
	s.mu.Unlock()
}

// Topic returns the topic this synchronizer owns.
func (s *Synchronizer) Topic() Topic {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.topic
}

// State returns the current load state.
func (s *Synchronizer) State() SyncState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Messages returns a copy of the ordered timeline.
func (s *Synchronizer) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}

// Open joins the topic on the push channel and subscribes to its live
// events. Events for other topics are ignored.
func (s *Synchronizer) Open(ctx context.Context) {
	s.mu.Lock()
	topic := s.topic
	s.mu.Unlock()
	if topic.IsZero() {
		return
	}

	s.channel.Join(ctx, topic)

	dispatcher := s.channel.dispatcher
	un1 := dispatcher.OnNewMessage(func(msg Message, t Topic) {
		if t == topic {
			s.mergeNew(msg)
		}
	})
	un2 := dispatcher.OnMessageUpdated(func(msg Message, t Topic) {
		if t == topic {
			s.mergeUpdated(msg)
		}
	})
	un3 := dispatcher.OnMessageDeleted(func(messageID int64, t Topic) {
		if t == topic {
			s.mergeDeleted(messageID)
		}
	})

	s.mu.Lock()
	s.unsubs = append(s.unsubs, un1, un2, un3)
	s.mu.Unlock()
}

// Close unsubscribes every listener this synchronizer registered and
// leaves the topic. Skipping this leaks listeners that double-merge events
// after the conversation reopens.
func (s *Synchronizer) Close(ctx context.Context) {
	s.mu.Lock()
	unsubs := s.unsubs
	s.unsubs = nil
	topic := s.topic
	s.mu.Unlock()

	for _, un := range unsubs {
		un()
	}
	if !topic.IsZero() {
		s.channel.Leave(ctx, topic)
	}
}

// ============================================================================
// Historical load
// ============================================================================

// LoadMessages fetches the conversation history and commits it as the new
// timeline. Without force, a load for the identity already loaded is
// skipped entirely. A failed load leaves the previously committed timeline
// untouched. A successful load also issues the mark-as-read call, once per
// identity; a failed mark-as-read does not consume that credit, so a later
// forced load retries it.
func (s *Synchronizer) LoadMessages(ctx context.Context, force bool) error {
	s.mu.Lock()
	if s.currentUserID == 0 || s.topic.IsZero() {
		s.mu.Unlock()
		return nil
	}
	key := s.topic.String()
	if !force && s.loadedKey == key {
		s.mu.Unlock()
		return nil
	}
	topic := s.topic
	userID := s.currentUserID
	prevState := s.state
	s.state = SyncLoading
	s.mu.Unlock()

	msgs, err := s.api.History(ctx, topic, userID)
	if err != nil {
		s.mu.Lock()
		s.state = prevState
		s.mu.Unlock()
		return err
	}

	for i := range msgs {
		s.localize(&msgs[i], userID)
	}
	if s.polls != nil {
		s.polls.Attach(ctx, msgs, userID)
	}
	sortMessages(msgs)

	s.mu.Lock()
	s.messages = msgs
	s.loadedKey = key
	needRead := s.readKey != key
	s.state = SyncReady
	s.mu.Unlock()

	if needRead {
		if err := s.api.MarkRead(ctx, topic, userID); err != nil {
			// Read-state is best effort; the load itself succeeded and a
			// later forced load retries the call.
			return nil
		}
		s.mu.Lock()
		s.readKey = key
		s.mu.Unlock()
	}
	return nil
}

// ============================================================================
// Local mutations
// ============================================================================

// SendMessage creates a message remotely and appends the acknowledged
// result to the timeline. Empty content after trimming, or an unresolved
// user or topic, is a silent no-op. Nothing is appended before the server
// acknowledges; the merge is idempotent against the echoed live event.
func (s *Synchronizer) SendMessage(ctx context.Context, content string, msgType MessageType, replyToID int64) (*Message, error) {
	content = strings.TrimSpace(content)

	s.mu.Lock()
	if content == "" || s.currentUserID == 0 || s.topic.IsZero() {
		s.mu.Unlock()
		return nil, nil
	}
	if msgType == "" {
		msgType = MessageText
	}
	topic := s.topic
	userID := s.currentUserID
	s.inflightSends++
	s.mu.Unlock()

	msg, err := s.api.Send(ctx, topic, content, userID, msgType, replyToID)

	s.mu.Lock()
	s.inflightSends--
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}

	s.localize(msg, userID)
	s.mergeNew(*msg)

	s.mu.Lock()
	s.draft = ""
	s.replyTarget = 0
	s.mu.Unlock()
	return msg, nil
}

// UpdateMessage edits a message remotely and replaces the local copy with
// the server's representation. A failure leaves the timeline unchanged.
func (s *Synchronizer) UpdateMessage(ctx context.Context, messageID int64, content string) (*Message, error) {
	s.mu.Lock()
	if s.currentUserID == 0 {
		s.mu.Unlock()
		return nil, nil
	}
	userID := s.currentUserID
	s.mu.Unlock()

	msg, err := s.api.Update(ctx, messageID, content, userID)
	if err != nil {
		return nil, err
	}
	s.localize(msg, userID)
	s.mergeUpdated(*msg)
	return msg, nil
}

// DeleteMessage soft-deletes a message remotely and replaces the local
// copy with the returned tombstone. A failure leaves every message, the
// target included, unchanged.
func (s *Synchronizer) DeleteMessage(ctx context.Context, messageID int64) (*Message, error) {
	s.mu.Lock()
	if s.currentUserID == 0 {
		s.mu.Unlock()
		return nil, nil
	}
	userID := s.currentUserID
	s.mu.Unlock()

	msg, err := s.api.Delete(ctx, messageID, userID)
	if err != nil {
		return nil, err
	}
	s.localize(msg, userID)
	s.mergeUpdated(*msg)
	return msg, nil
}

// ============================================================================
// Live-event merges
// ============================================================================

// mergeNew inserts a message preserving order, or skips it when the id is
// already present. The skip covers the race between an acknowledged send
// and its echoed live event.
func (s *Synchronizer) mergeNew(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.localize(&msg, s.currentUserID)
	for _, m := range s.messages {
		if m.ID == msg.ID {
			return
		}
	}
	s.messages = insertSorted(s.messages, msg)
}

// mergeUpdated replaces the matching message in place, keeping its
// timeline position. Updates for ids outside the loaded page are dropped.
func (s *Synchronizer) mergeUpdated(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.localize(&msg, s.currentUserID)
	for i, m := range s.messages {
		if m.ID == msg.ID {
			s.messages[i] = msg
			return
		}
	}
}

// mergeDeleted tombstones the matching message rather than removing the
// row, matching the backend's soft-delete contract. Unknown ids are
// dropped.
func (s *Synchronizer) mergeDeleted(messageID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].ID == messageID {
			s.messages[i].IsDeleted = true
			s.messages[i].Content = ""
			s.messages[i].Reactions = nil
			return
		}
	}
}

// localize derives the fields that must never be trusted from the wire.
func (s *Synchronizer) localize(m *Message, userID int64) {
	m.IsOwn = m.Sender.ID == userID
	if m.IsOwn && m.ReadReceipts == nil {
		m.ReadReceipts = []ReadReceipt{}
	}
}

// ============================================================================
// UI-adjacent state
// ============================================================================

// SetDraft stores the compose draft. Draft state gates nothing remotely;
// it exists so a remount can restore the composer.
func (s *Synchronizer) SetDraft(text string) {
	s.mu.Lock()
	s.draft = text
	s.mu.Unlock()
}

// Draft returns the compose draft.
func (s *Synchronizer) Draft() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

// SetReplyTarget marks the message a composed reply refers to. Cleared by
// a successful send.
func (s *Synchronizer) SetReplyTarget(messageID int64) {
	s.mu.Lock()
	s.replyTarget = messageID
	s.mu.Unlock()
}

// ReplyTarget returns the active reply target, zero when none.
func (s *Synchronizer) ReplyTarget() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replyTarget
}

// SetHighlight marks a message for the owning screen to scroll to.
func (s *Synchronizer) SetHighlight(messageID int64) {
	s.mu.Lock()
	s.highlightedID = messageID
	s.mu.Unlock()
}

// Highlight returns the highlighted message id, zero when none.
func (s *Synchronizer) Highlight() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.highlightedID
}

// Sending reports whether any send is still in flight.
func (s *Synchronizer) Sending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflightSends > 0
}

// ============================================================================
// Ordering helpers
// ============================================================================

func messageLess(a, b Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func sortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool { return messageLess(msgs[i], msgs[j]) })
}

func insertSorted(msgs []Message, msg Message) []Message {
	i := sort.Search(len(msgs), func(i int) bool { return messageLess(msg, msgs[i]) })
	msgs = append(msgs, Message{})
	copy(msgs[i+1:], msgs[i:])
	msgs[i] = msg
	return msgs
}
