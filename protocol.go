package gatherly

import (
	"encoding/json"
	"fmt"
)

// ============================================================================
// Wire Protocol
// ============================================================================

// Outbound control frame tags.
const (
	ctrlJoin  = "join"
	ctrlLeave = "leave"
	ctrlPing  = "ping"
)

// Inbound notification tags.
const (
	notifNewMessage     = "new_message"
	notifMessageUpdated = "message_updated"
	notifMessageDeleted = "message_deleted"
	notifPong           = "pong"
)

// ControlMessage is a client-to-server control frame. Immutable once
// constructed; the pending queue relays them in submission order.
type ControlMessage struct {
	Type   string `json:"type"`
	Topic  *Topic `json:"topic,omitempty"`
	UserID int64  `json:"userId,omitempty"`
}

// Notification is a server-to-client push frame.
type Notification struct {
	Type      string   `json:"type"`
	Message   *Message `json:"message,omitempty"`
	MessageID int64    `json:"messageId,omitempty"`
	Topic     *Topic   `json:"topic,omitempty"`
}

// encodeControl serializes an outbound control frame, rejecting unknown tags
// and tags missing their required topic.
func encodeControl(msg ControlMessage) ([]byte, error) {
	switch msg.Type {
	case ctrlJoin, ctrlLeave:
		if msg.Topic == nil {
			return nil, fmt.Errorf("control %q requires a topic", msg.Type)
		}
	case ctrlPing:
	default:
		return nil, fmt.Errorf("unknown control type %q", msg.Type)
	}
	return json.Marshal(msg)
}

// decodeNotification parses an inbound frame. Unknown tags and frames
// missing their required payload are errors; the channel client logs and
// drops them rather than forwarding partial events.
func decodeNotification(data []byte) (*Notification, error) {
	var n Notification
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}
	switch n.Type {
	case notifNewMessage, notifMessageUpdated:
		if n.Message == nil {
			return nil, fmt.Errorf("%s frame without message", n.Type)
		}
		if n.Topic == nil {
			return nil, fmt.Errorf("%s frame without topic", n.Type)
		}
	case notifMessageDeleted:
		if n.MessageID == 0 {
			return nil, fmt.Errorf("message_deleted frame without messageId")
		}
		if n.Topic == nil {
			return nil, fmt.Errorf("message_deleted frame without topic")
		}
	case notifPong:
	case "":
		return nil, fmt.Errorf("frame without type")
	default:
		return nil, fmt.Errorf("unknown notification type %q", n.Type)
	}
	return &n, nil
}
