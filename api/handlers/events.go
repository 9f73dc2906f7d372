package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/BaSui01/agentnet/events"
)

// EventStreamHandler pushes bus events to WebSocket subscribers.
type EventStreamHandler struct {
	bus    *events.Bus
	logger *zap.Logger
}

// NewEventStreamHandler creates an event stream handler.
func NewEventStreamHandler(bus *events.Bus, logger *zap.Logger) *EventStreamHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventStreamHandler{
		bus:    bus,
		logger: logger.With(zap.String("handler", "events")),
	}
}

// streamFilter narrows the stream per connection. Empty fields match all.
type streamFilter struct {
	types   map[events.EventType]bool
	agentID string
	coordID string
}

func (f *streamFilter) matches(event *events.Event) bool {
	if len(f.types) > 0 && !f.types[event.Type] {
		return false
	}
	if f.agentID != "" && event.AgentID != f.agentID {
		return false
	}
	if f.coordID != "" && event.CoordinationID != f.coordID {
		return false
	}
	return true
}

func filterFromQuery(r *http.Request) *streamFilter {
	f := &streamFilter{
		agentID: r.URL.Query().Get("agent_id"),
		coordID: r.URL.Query().Get("coordination_id"),
	}
	if raw := r.URL.Query().Get("types"); raw != "" {
		f.types = make(map[events.EventType]bool)
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				f.types[events.EventType(t)] = true
			}
		}
	}
	return f
}

// HandleStream upgrades the connection and forwards matching events until
// the client disconnects. Query parameters "types" (comma separated),
// "agent_id", and "coordination_id" narrow the stream.
// @Summary Stream events
// @Tags events
// @Router /api/v1/events/stream [get]
func (h *EventStreamHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	filter := filterFromQuery(r)
	subID, ch := h.bus.SubscribeChannel(256)
	defer h.bus.Unsubscribe(subID)

	h.logger.Info("event stream opened",
		zap.String("subscription_id", subID),
		zap.String("remote", r.RemoteAddr),
	)

	ctx := r.Context()
	// Reads are discarded but surface the client going away.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "server shutting down")
			return
		case <-readDone:
			return
		case event, ok := <-ch:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "bus closed")
				return
			}
			if !filter.matches(event) {
				continue
			}
			if err := h.writeEvent(ctx, conn, event); err != nil {
				h.logger.Debug("event stream write failed", zap.Error(err))
				return
			}
		}
	}
}

func (h *EventStreamHandler) writeEvent(ctx context.Context, conn *websocket.Conn, event *events.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
