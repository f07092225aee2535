package gatherly

import (
	"testing"
	"time"
)

func testMessage(id int64) Message {
	return Message{
		ID:        id,
		Sender:    UserSummary{ID: 2, Username: "ben"},
		Content:   "hi",
		Type:      MessageText,
		CreatedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC).Add(time.Duration(id) * time.Second),
	}
}

func TestDispatcherRegistrationOrder(t *testing.T) {
	d := NewDispatcher()
	topic := Topic{Kind: TopicDM, ID: 7}

	var order []int
	d.OnNewMessage(func(Message, Topic) { order = append(order, 1) })
	d.OnNewMessage(func(Message, Topic) { order = append(order, 2) })
	d.OnNewMessage(func(Message, Topic) { order = append(order, 3) })

	d.dispatchNewMessage(testMessage(1), topic)

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("expected delivery in registration order, got %v", order)
	}
}

func TestDispatcherUnsubscribe(t *testing.T) {
	d := NewDispatcher()
	topic := Topic{Kind: TopicDM, ID: 7}

	var first, second int
	un := d.OnNewMessage(func(Message, Topic) { first++ })
	d.OnNewMessage(func(Message, Topic) { second++ })

	d.dispatchNewMessage(testMessage(1), topic)
	un()
	un() // double unsubscribe is safe
	d.dispatchNewMessage(testMessage(2), topic)

	if first != 1 {
		t.Errorf("unsubscribed listener invoked %d times, expected 1", first)
	}
	if second != 2 {
		t.Errorf("remaining listener invoked %d times, expected 2", second)
	}
}

func TestDispatcherPanicIsolation(t *testing.T) {
	d := NewDispatcher()
	topic := Topic{Kind: TopicGroup, ID: 3}

	var survived bool
	d.OnNewMessage(func(Message, Topic) { panic("bad listener") })
	d.OnNewMessage(func(Message, Topic) { survived = true })

	d.dispatchNewMessage(testMessage(1), topic)

	if !survived {
		t.Fatal("panicking listener prevented sibling dispatch")
	}
}

func TestDispatcherEventKinds(t *testing.T) {
	d := NewDispatcher()
	topic := Topic{Kind: TopicDM, ID: 7}

	var updated, deleted int64
	var states []ConnectionState
	d.OnMessageUpdated(func(msg Message, _ Topic) { updated = msg.ID })
	d.OnMessageDeleted(func(id int64, _ Topic) { deleted = id })
	d.OnStateChanged(func(s ConnectionState) { states = append(states, s) })

	d.dispatchMessageUpdated(testMessage(5), topic)
	d.dispatchMessageDeleted(9, topic)
	d.dispatchStateChanged(StateConnecting)
	d.dispatchStateChanged(StateOpen)

	if updated != 5 {
		t.Errorf("expected updated id 5, got %d", updated)
	}
	if deleted != 9 {
		t.Errorf("expected deleted id 9, got %d", deleted)
	}
	if len(states) != 2 || states[0] != StateConnecting || states[1] != StateOpen {
		t.Errorf("unexpected state sequence: %v", states)
	}
}
