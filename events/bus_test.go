package events

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestBus_PublishAndSubscribe(t *testing.T) {
	bus := NewBus(DefaultBusConfig(), nil)
	defer bus.Close()

	var mu sync.Mutex
	received := make([]*Event, 0)
	done := make(chan struct{})
	bus.Subscribe(func(event *Event) {
		mu.Lock()
		received = append(received, event)
		if len(received) == 3 {
			close(done)
		}
		mu.Unlock()
	})

	for i := 0; i < 3; i++ {
		bus.Publish(&Event{Type: EventAgentRegistered, AgentID: "agent-1"})
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for events")
	}

	published, dropped := bus.Stats()
	if published != 3 || dropped != 0 {
		t.Errorf("expected 3 published / 0 dropped, got %d / %d", published, dropped)
	}
	mu.Lock()
	defer mu.Unlock()
	for _, event := range received {
		if event.ID == "" || event.Timestamp.IsZero() {
			t.Error("expected stamped ID and timestamp on dispatched events")
		}
	}
}

func TestBus_PerEntityOrdering(t *testing.T) {
	bus := NewBus(BusConfig{QueueSize: 4096, Shards: 8}, nil)
	defer bus.Close()

	const agents = 10
	const perAgent = 100

	var mu sync.Mutex
	seen := make(map[string][]int)
	done := make(chan struct{})
	total := 0
	bus.Subscribe(func(event *Event) {
		mu.Lock()
		seen[event.AgentID] = append(seen[event.AgentID], event.Payload["seq"].(int))
		total++
		if total == agents*perAgent {
			close(done)
		}
		mu.Unlock()
	})

	// Interleave publishes across agents.
	for seq := 0; seq < perAgent; seq++ {
		for a := 0; a < agents; a++ {
			bus.Publish(&Event{
				Type:    EventUsageRecorded,
				AgentID: fmt.Sprintf("agent-%d", a),
				Payload: map[string]any{"seq": seq},
			})
		}
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for events")
	}

	mu.Lock()
	defer mu.Unlock()
	for agentID, seqs := range seen {
		if len(seqs) != perAgent {
			t.Errorf("%s: expected %d events, got %d", agentID, perAgent, len(seqs))
			continue
		}
		for i, seq := range seqs {
			if seq != i {
				t.Errorf("%s: out-of-order delivery at position %d: got seq %d", agentID, i, seq)
				break
			}
		}
	}
}

func TestBus_SessionEventsKeyOnCoordinationID(t *testing.T) {
	bus := NewBus(DefaultBusConfig(), nil)
	defer bus.Close()

	event := &Event{Type: EventTaskCompleted, AgentID: "agent-1", CoordinationID: "coord-1"}
	if got := event.entityKey(); got != "coord-1" {
		t.Errorf("expected coordination ID as entity key, got %q", got)
	}
	event = &Event{Type: EventAgentOffline, AgentID: "agent-1"}
	if got := event.entityKey(); got != "agent-1" {
		t.Errorf("expected agent ID as entity key, got %q", got)
	}
}

func TestBus_DropsWhenQueueFull(t *testing.T) {
	bus := NewBus(BusConfig{QueueSize: 1, Shards: 1}, nil)
	defer bus.Close()

	// A slow handler wedges the single dispatcher so the queue fills.
	release := make(chan struct{})
	var started sync.Once
	handlerEntered := make(chan struct{})
	bus.Subscribe(func(event *Event) {
		started.Do(func() { close(handlerEntered) })
		<-release
	})

	bus.Publish(&Event{Type: EventAgentRegistered, AgentID: "a"})
	<-handlerEntered

	// One event fits in the queue; everything beyond is dropped.
	for i := 0; i < 10; i++ {
		bus.Publish(&Event{Type: EventAgentRegistered, AgentID: "a"})
	}
	close(release)

	_, dropped := bus.Stats()
	if dropped < 9 {
		t.Errorf("expected at least 9 dropped events, got %d", dropped)
	}
}

func TestBus_SubscribeChannel(t *testing.T) {
	bus := NewBus(DefaultBusConfig(), nil)
	defer bus.Close()

	id, ch := bus.SubscribeChannel(16)
	bus.Publish(&Event{Type: EventSessionCreated, CoordinationID: "coord-1"})

	select {
	case event := <-ch:
		if event.Type != EventSessionCreated {
			t.Errorf("unexpected event type %s", event.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for channel delivery")
	}

	bus.Unsubscribe(id)
	bus.Publish(&Event{Type: EventSessionCreated, CoordinationID: "coord-1"})
	select {
	case event := <-ch:
		t.Errorf("received event %s after unsubscribe", event.Type)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBus_CloseSemantics(t *testing.T) {
	bus := NewBus(DefaultBusConfig(), nil)

	var mu sync.Mutex
	count := 0
	bus.Subscribe(func(event *Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	for i := 0; i < 50; i++ {
		bus.Publish(&Event{Type: EventAgentRegistered, AgentID: "a"})
	}
	if err := bus.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Close drains the queue before returning.
	mu.Lock()
	if count != 50 {
		t.Errorf("expected 50 events delivered before Close returned, got %d", count)
	}
	mu.Unlock()

	// Publishing after Close is a silent no-op, and Close is idempotent.
	bus.Publish(&Event{Type: EventAgentRegistered, AgentID: "a"})
	if err := bus.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
}
