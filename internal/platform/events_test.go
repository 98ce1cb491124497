package platform

import (
	"testing"

	"neuroswarm/internal/logging"
)

func TestEventBusFanOut(t *testing.T) {
	bus := NewEventBus(logging.Discard())
	first, cancelFirst := bus.Subscribe(4)
	second, cancelSecond := bus.Subscribe(4)
	defer cancelSecond()

	bus.Publish(Event{Kind: EventAgentSpawned, AgentID: "agent-1"})
	for _, ch := range []<-chan Event{first, second} {
		event := <-ch
		if event.Kind != EventAgentSpawned || event.AgentID != "agent-1" || event.At.IsZero() {
			t.Fatalf("unexpected event: %+v", event)
		}
	}

	cancelFirst()
	cancelFirst()
	if _, ok := <-first; ok {
		t.Fatal("expected cancelled subscription to be closed")
	}
	bus.Publish(Event{Kind: EventCleanup})
	if event := <-second; event.Kind != EventCleanup {
		t.Fatalf("unexpected event after cancel: %+v", event)
	}
}

func TestEventBusDropsWhenSubscriberIsFull(t *testing.T) {
	bus := NewEventBus(logging.Discard())
	ch, cancel := bus.Subscribe(1)
	defer cancel()

	for i := 0; i < 3; i++ {
		bus.Publish(Event{Kind: EventInferenceComplete})
	}
	if got := bus.Dropped(); got != 2 {
		t.Fatalf("dropped=%d want=2", got)
	}
	if len(ch) != 1 {
		t.Fatalf("buffered=%d want=1", len(ch))
	}
}

func TestEventBusClose(t *testing.T) {
	bus := NewEventBus(logging.Discard())
	ch, cancel := bus.Subscribe(0)
	bus.Close()
	bus.Close()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel after bus close")
	}
	late, _ := bus.Subscribe(1)
	if _, ok := <-late; ok {
		t.Fatal("expected late subscriber to get a closed channel")
	}
	bus.Publish(Event{Kind: EventError})
}
