package eventbus

import (
	"testing"
	"time"
)

func TestBus_PublishToSubscriber(t *testing.T) {
	bus := New()
	events, unsubscribe := bus.Subscribe(4)
	defer unsubscribe()

	bus.Publish(TopicMailRouted, "payload")

	select {
	case ev := <-events:
		if ev.Topic != TopicMailRouted {
			t.Errorf("Expected topic %q, got %q", TopicMailRouted, ev.Topic)
		}
		if ev.Payload != "payload" {
			t.Errorf("Expected payload %q, got %v", "payload", ev.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("Subscriber never received the event")
	}
}

func TestBus_TopicFilter(t *testing.T) {
	bus := New()
	events, unsubscribe := bus.Subscribe(4, TopicBeeStatus)
	defer unsubscribe()

	bus.Publish(TopicMailRouted, 1)
	bus.Publish(TopicBeeStatus, 2)

	select {
	case ev := <-events:
		if ev.Topic != TopicBeeStatus {
			t.Errorf("Filtered subscriber received topic %q", ev.Topic)
		}
	case <-time.After(time.Second):
		t.Fatal("Subscriber never received the matching event")
	}

	select {
	case ev := <-events:
		t.Errorf("Unexpected extra event: %+v", ev)
	default:
	}
}

func TestBus_PublicationOrderPerTopic(t *testing.T) {
	bus := New()
	events, unsubscribe := bus.Subscribe(16, TopicMailRouted)
	defer unsubscribe()

	for i := 0; i < 10; i++ {
		bus.Publish(TopicMailRouted, i)
	}

	for i := 0; i < 10; i++ {
		select {
		case ev := <-events:
			if ev.Payload != i {
				t.Fatalf("Out of order: expected %d, got %v", i, ev.Payload)
			}
		case <-time.After(time.Second):
			t.Fatalf("Missing event %d", i)
		}
	}
}

func TestBus_SlowSubscriberDropped(t *testing.T) {
	bus := New()

	var droppedID uint64
	dropped := make(chan struct{})
	bus.OnDrop(func(id uint64) {
		droppedID = id
		close(dropped)
	})

	events, unsubscribe := bus.Subscribe(2)
	defer unsubscribe()

	// Fill the queue without draining, then overflow it.
	bus.Publish(TopicMailRouted, 1)
	bus.Publish(TopicMailRouted, 2)
	bus.Publish(TopicMailRouted, 3)

	select {
	case <-dropped:
	case <-time.After(time.Second):
		t.Fatal("OnDrop callback never fired")
	}
	if droppedID == 0 {
		t.Error("Expected a non-zero dropped subscriber id")
	}
	if bus.SubscriberCount() != 0 {
		t.Errorf("Dropped subscriber still registered, count=%d", bus.SubscriberCount())
	}

	// The queued events remain readable, then the channel closes so the
	// subscriber observes the drop and can reconnect.
	got := 0
	for range events {
		got++
	}
	if got != 2 {
		t.Errorf("Expected 2 buffered events before close, got %d", got)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := New()
	events, unsubscribe := bus.Subscribe(4)

	unsubscribe()
	if bus.SubscriberCount() != 0 {
		t.Errorf("Expected 0 subscribers, got %d", bus.SubscriberCount())
	}

	if _, ok := <-events; ok {
		t.Error("Channel should be closed after unsubscribe")
	}

	// A second call is a no-op.
	unsubscribe()
}

func TestBus_PublishWithNoSubscribers(t *testing.T) {
	bus := New()
	// Must not panic or block.
	bus.Publish(TopicSwarmUpdated, nil)
}

func TestBus_DefaultQueueSize(t *testing.T) {
	bus := New()
	events, unsubscribe := bus.Subscribe(0)
	defer unsubscribe()

	if cap(events) != DefaultQueueSize {
		t.Errorf("Expected default queue size %d, got %d", DefaultQueueSize, cap(events))
	}
}
