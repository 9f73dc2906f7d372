package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisPublisher(t *testing.T) (*RedisPublisher, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	config := DefaultRedisConfig()
	config.Enabled = true
	config.Addr = mr.Addr()

	publisher, err := NewRedisPublisher(config, nil)
	require.NoError(t, err)
	t.Cleanup(func() { publisher.Close() })

	return publisher, mr
}

func TestRedisPublisher_Handle(t *testing.T) {
	publisher, mr := newTestRedisPublisher(t)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub := client.Subscribe(ctx, "agentnet:agent_registered")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	event := &Event{
		ID:        "evt-1",
		Type:      EventAgentRegistered,
		AgentID:   "agent-1",
		Payload:   map[string]any{"region": "us-east"},
		Timestamp: time.Now(),
	}
	publisher.Handle(event)

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, "agentnet:agent_registered", msg.Channel)

	var decoded Event
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &decoded))
	assert.Equal(t, "evt-1", decoded.ID)
	assert.Equal(t, EventAgentRegistered, decoded.Type)
	assert.Equal(t, "agent-1", decoded.AgentID)
	assert.Equal(t, "us-east", decoded.Payload["region"])
}

func TestRedisPublisher_ChannelPerEventType(t *testing.T) {
	publisher, _ := newTestRedisPublisher(t)

	assert.Equal(t, "agentnet:session_created",
		publisher.channelFor(&Event{Type: EventSessionCreated}))
	assert.Equal(t, "agentnet:allocation_exhausted",
		publisher.channelFor(&Event{Type: EventAllocationExhausted}))
}

func TestRedisPublisher_AttachToBus(t *testing.T) {
	publisher, mr := newTestRedisPublisher(t)

	bus := NewBus(DefaultBusConfig(), nil)
	defer bus.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub := client.Subscribe(ctx, "agentnet:usage_recorded")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	id := publisher.Attach(bus)
	assert.NotEmpty(t, id)

	bus.Publish(&Event{Type: EventUsageRecorded, AgentID: "agent-1"})

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, "agentnet:usage_recorded", msg.Channel)
}

func TestRedisPublisher_ConnectFailure(t *testing.T) {
	config := DefaultRedisConfig()
	config.Addr = "127.0.0.1:1"

	_, err := NewRedisPublisher(config, nil)
	require.Error(t, err)
}

func TestRedisPublisher_PublishErrorIsSwallowed(t *testing.T) {
	publisher, mr := newTestRedisPublisher(t)

	// Killing the backend must not panic or propagate; bus handlers may
	// never fail the transition that produced the event.
	mr.Close()
	publisher.Handle(&Event{Type: EventAgentOffline, AgentID: "agent-1"})
}
