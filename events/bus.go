// Package events provides the outbound domain-event fan-out for the core.
// State transitions in the registry, coordination engine, and resource
// governor are published here and drained by dedicated dispatcher
// goroutines, so a slow or failing subscriber never blocks or rolls back a
// committed transition.
package events

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventType names a domain event channel.
type EventType string

// Registry events
const (
	EventAgentRegistered   EventType = "agent_registered"
	EventAgentUpdated      EventType = "agent_updated"
	EventAgentDeregistered EventType = "agent_deregistered"
	EventAgentOffline      EventType = "agent_offline"
)

// Coordination events
const (
	EventSessionCreated   EventType = "session_created"
	EventSessionCompleted EventType = "session_completed"
	EventSessionFailed    EventType = "session_failed"
	EventSessionCancelled EventType = "session_cancelled"
	EventTaskAdded        EventType = "task_added"
	EventTaskAssigned     EventType = "task_assigned"
	EventTaskCompleted    EventType = "task_completed"
	EventTaskFailed       EventType = "task_failed"
)

// Governor events
const (
	EventAllocationCreated   EventType = "allocation_created"
	EventAllocationActivated EventType = "allocation_activated"
	EventAllocationExhausted EventType = "allocation_exhausted"
	EventAllocationRevoked   EventType = "allocation_revoked"
	EventAllocationExpired   EventType = "allocation_expired"
	EventUsageRecorded       EventType = "usage_recorded"
)

// Event is one domain event. Exactly one of AgentID or CoordinationID keys
// the per-entity ordering channel; events for the same entity are delivered
// in publish order, events for different entities in no particular order.
type Event struct {
	ID             string         `json:"id"`
	Type           EventType      `json:"type"`
	AgentID        string         `json:"agent_id,omitempty"`
	CoordinationID string         `json:"coordination_id,omitempty"`
	TaskID         string         `json:"task_id,omitempty"`
	AllocationID   string         `json:"allocation_id,omitempty"`
	Payload        map[string]any `json:"payload,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// entityKey returns the ordering key for the event.
func (e *Event) entityKey() string {
	if e.CoordinationID != "" {
		return e.CoordinationID
	}
	return e.AgentID
}

// Handler receives dispatched events. Handlers for the same entity key are
// invoked sequentially; handlers must not block for long.
type Handler func(event *Event)

// Publisher is the narrow interface the three subsystems publish through.
type Publisher interface {
	Publish(event *Event)
}

// BusConfig holds configuration for the event bus.
type BusConfig struct {
	// QueueSize is the buffer size of each dispatch shard.
	QueueSize int `yaml:"queue_size" json:"queue_size"`

	// Shards is the number of dispatcher goroutines. Events with the same
	// entity key always land on the same shard.
	Shards int `yaml:"shards" json:"shards"`
}

// DefaultBusConfig returns a BusConfig with sensible defaults.
func DefaultBusConfig() BusConfig {
	return BusConfig{
		QueueSize: 1024,
		Shards:    8,
	}
}

// Bus is the in-process event queue plus dispatcher pool.
type Bus struct {
	config BusConfig
	shards []chan *Event

	handlers  map[string]Handler
	handlerMu sync.RWMutex

	published atomic.Int64
	dropped   atomic.Int64

	mu     sync.RWMutex
	closed bool

	logger *zap.Logger
	wg     sync.WaitGroup
}

// NewBus creates and starts an event bus.
func NewBus(config BusConfig, logger *zap.Logger) *Bus {
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultBusConfig().QueueSize
	}
	if config.Shards <= 0 {
		config.Shards = DefaultBusConfig().Shards
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	b := &Bus{
		config:   config,
		shards:   make([]chan *Event, config.Shards),
		handlers: make(map[string]Handler),
		logger:   logger.With(zap.String("component", "event_bus")),
	}

	for i := range b.shards {
		b.shards[i] = make(chan *Event, config.QueueSize)
		b.wg.Add(1)
		go b.dispatch(b.shards[i])
	}

	return b
}

// Publish enqueues the event for dispatch. It never fails the caller: when
// the bus is closed the event is discarded, and when the shard queue is
// full the event is dropped and counted rather than blocking the state
// transition that produced it.
func (b *Bus) Publish(event *Event) {
	if event == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	shard := b.shards[shardIndex(event.entityKey(), len(b.shards))]
	select {
	case shard <- event:
		b.published.Add(1)
	default:
		b.dropped.Add(1)
		b.logger.Warn("event queue full, dropping event",
			zap.String("type", string(event.Type)),
			zap.String("entity", event.entityKey()),
		)
	}
}

// Subscribe registers a handler for all events and returns a subscription id.
func (b *Bus) Subscribe(handler Handler) string {
	b.handlerMu.Lock()
	defer b.handlerMu.Unlock()

	id := uuid.New().String()
	b.handlers[id] = handler
	return id
}

// SubscribeChannel registers a channel-backed subscription. Events that the
// subscriber cannot keep up with are dropped for that subscriber only.
func (b *Bus) SubscribeChannel(buffer int) (string, <-chan *Event) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan *Event, buffer)
	id := b.Subscribe(func(event *Event) {
		select {
		case ch <- event:
		default:
		}
	})
	return id, ch
}

// Unsubscribe removes a subscription.
func (b *Bus) Unsubscribe(subscriptionID string) {
	b.handlerMu.Lock()
	defer b.handlerMu.Unlock()

	delete(b.handlers, subscriptionID)
}

// Stats returns the published and dropped counters.
func (b *Bus) Stats() (published, dropped int64) {
	return b.published.Load(), b.dropped.Load()
}

// Close stops accepting events, drains the shard queues, and waits for the
// dispatchers to exit.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, shard := range b.shards {
		close(shard)
	}
	b.mu.Unlock()

	b.wg.Wait()
	b.logger.Info("event bus closed",
		zap.Int64("published", b.published.Load()),
		zap.Int64("dropped", b.dropped.Load()),
	)
	return nil
}

// dispatch drains one shard, invoking every handler sequentially so the
// per-entity ordering guarantee holds.
func (b *Bus) dispatch(shard chan *Event) {
	defer b.wg.Done()

	for event := range shard {
		b.handlerMu.RLock()
		handlers := make([]Handler, 0, len(b.handlers))
		for _, h := range b.handlers {
			handlers = append(handlers, h)
		}
		b.handlerMu.RUnlock()

		for _, handler := range handlers {
			handler(event)
		}
	}
}

func shardIndex(key string, shards int) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(shards))
}

// Ensure Bus implements Publisher.
var _ Publisher = (*Bus)(nil)
