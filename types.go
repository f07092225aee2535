package gatherly

import (
	"strconv"
	"time"
)

// ============================================================================
// Shared Types
// ============================================================================

// APIError represents an API-level error returned by the Gatherly backend.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

// ============================================================================
// Topics
// ============================================================================

// TopicKind distinguishes direct conversations from group channels.
type TopicKind string

const (
	TopicDM    TopicKind = "dm"
	TopicGroup TopicKind = "group"
)

// Topic identifies a conversation or group channel on the push channel.
// Topics are comparable and safe to use as map keys.
type Topic struct {
	Kind TopicKind `json:"kind"`
	ID   int64     `json:"id"`
}

// IsZero reports whether the topic has not been resolved yet.
func (t Topic) IsZero() bool {
	return t.ID == 0
}

func (t Topic) String() string {
	if t.IsZero() {
		return "<none>"
	}
	return string(t.Kind) + ":" + strconv.FormatInt(t.ID, 10)
}

// ============================================================================
// Messages
// ============================================================================

// MessageType classifies a message payload.
type MessageType string

const (
	MessageText   MessageType = "TEXT"
	MessageImage  MessageType = "IMAGE"
	MessageFile   MessageType = "FILE"
	MessageSystem MessageType = "SYSTEM"
)

// PollPrefix is the content sentinel marking a text-encoded poll message.
const PollPrefix = "POLL:"

// UserSummary is the compact sender representation embedded in messages.
type UserSummary struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// ReplyRef is a shallow reference to the message being replied to.
// It deliberately never nests a full Message to avoid cyclic growth.
type ReplyRef struct {
	ID      int64       `json:"id"`
	Content string      `json:"content"`
	Sender  UserSummary `json:"sender"`
}

// Reaction aggregates a single emoji across the users who applied it.
type Reaction struct {
	Emoji string  `json:"emoji"`
	Count int     `json:"count"`
	Users []int64 `json:"users,omitempty"`
}

// ReadReceipt records that a user has seen a message.
type ReadReceipt struct {
	UserID int64     `json:"userId"`
	ReadAt time.Time `json:"readAt"`
}

// PollVotes holds the aggregated tallies for a poll message plus the
// current user's own vote set. Attached after load, never transmitted
// inside the message itself.
type PollVotes struct {
	Votes     map[string]int `json:"votes"`
	UserVotes []string       `json:"userVotes"`
}

// Message is the unit of a conversation timeline. Identity is the integer
// id, unique across the whole message space (DMs and groups share it).
type Message struct {
	ID           int64         `json:"id"`
	Sender       UserSummary   `json:"sender"`
	Content      string        `json:"content"`
	Type         MessageType   `json:"messageType"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
	IsEdited     bool          `json:"isEdited"`
	IsPinned     bool          `json:"isPinned"`
	IsDeleted    bool          `json:"isDeleted"`
	ReplyTo      *ReplyRef     `json:"replyTo,omitempty"`
	Reactions    []Reaction    `json:"reactions,omitempty"`
	ReadReceipts []ReadReceipt `json:"readReceipts,omitempty"`

	// Poll data attached by the vote aggregator after a historical load.
	PollVotes     map[string]int `json:"pollVotes,omitempty"`
	PollUserVotes []string       `json:"pollUserVotes,omitempty"`

	// IsOwn is derived locally from the current user id at merge time.
	// It is never serialized and never trusted from the wire.
	IsOwn bool `json:"-"`
}

// IsPoll reports whether the message content encodes a poll.
func (m *Message) IsPoll() bool {
	return len(m.Content) >= len(PollPrefix) && m.Content[:len(PollPrefix)] == PollPrefix
}

// ============================================================================
// Groups
// ============================================================================

// Group is the descriptor for a group channel, fetched before its
// conversation screen opens.
type Group struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	ImageURL    string    `json:"imageUrl,omitempty"`
	MemberCount int       `json:"memberCount"`
	CreatedAt   time.Time `json:"createdAt"`
}

