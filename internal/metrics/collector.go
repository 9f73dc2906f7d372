package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/BaSui01/agentnet/events"
)

// Collector holds the Prometheus vectors for the core.
type Collector struct {
	// HTTP surface
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Registry
	registeredAgents  *prometheus.GaugeVec
	heartbeatsTotal   prometheus.Counter
	offlineSweepTotal prometheus.Counter

	// Coordination
	sessionsCreatedTotal  *prometheus.CounterVec
	sessionsFinishedTotal *prometheus.CounterVec
	tasksTotal            *prometheus.CounterVec

	// Governor
	allocationsTotal   *prometheus.CounterVec
	quotaExceededTotal prometheus.Counter
	usageRecordedTotal *prometheus.CounterVec

	// Event bus
	eventsTotal        *prometheus.CounterVec
	eventsDroppedTotal prometheus.Gauge

	// Storage
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec

	logger *zap.Logger
}

// NewCollector creates and registers the collector under namespace.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.registeredAgents = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registered_agents",
			Help:      "Number of registered agents by status",
		},
		[]string{"status"},
	)

	c.heartbeatsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_total",
			Help:      "Total number of received heartbeats",
		},
	)

	c.offlineSweepTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agents_marked_offline_total",
			Help:      "Total number of agents marked offline by the liveness sweep",
		},
	)

	c.sessionsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Total number of coordination sessions created",
		},
		[]string{"pattern"},
	)

	c.sessionsFinishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_finished_total",
			Help:      "Total number of coordination sessions reaching a terminal status",
		},
		[]string{"status"},
	)

	c.tasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Total number of task state transitions",
		},
		[]string{"transition"},
	)

	c.allocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "allocations_total",
			Help:      "Total number of allocation lifecycle transitions",
		},
		[]string{"transition"},
	)

	c.quotaExceededTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_exceeded_total",
			Help:      "Total number of usage recordings rejected by quota enforcement",
		},
	)

	c.usageRecordedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_recorded_total",
			Help:      "Total metered usage by resource type",
		},
		[]string{"resource"},
	)

	c.eventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Total number of dispatched domain events",
		},
		[]string{"type"},
	)

	c.eventsDroppedTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Number of events dropped by the bus",
		},
	)

	c.dbConnectionsOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// RecordHTTPRequest records one served HTTP request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// SetRegisteredAgents sets the agent gauge for one status.
func (c *Collector) SetRegisteredAgents(status string, count int) {
	c.registeredAgents.WithLabelValues(status).Set(float64(count))
}

// RecordHeartbeat counts one received heartbeat.
func (c *Collector) RecordHeartbeat() {
	c.heartbeatsTotal.Inc()
}

// RecordQuotaExceeded counts one rejected usage recording.
func (c *Collector) RecordQuotaExceeded() {
	c.quotaExceededTotal.Inc()
}

// RecordUsage adds metered usage for one resource.
func (c *Collector) RecordUsage(resource string, amount float64) {
	c.usageRecordedTotal.WithLabelValues(resource).Add(amount)
}

// SetBusStats mirrors the bus drop counter into the gauge.
func (c *Collector) SetBusStats(published, dropped int64) {
	c.eventsDroppedTotal.Set(float64(dropped))
}

// RecordDBConnections records pool statistics for one database.
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// Observe maps one domain event onto the counters. Used as a bus handler.
func (c *Collector) Observe(event *events.Event) {
	c.eventsTotal.WithLabelValues(string(event.Type)).Inc()

	switch event.Type {
	case events.EventAgentOffline:
		c.offlineSweepTotal.Inc()

	case events.EventSessionCreated:
		pattern, _ := event.Payload["pattern"].(string)
		c.sessionsCreatedTotal.WithLabelValues(pattern).Inc()
	case events.EventSessionCompleted:
		c.sessionsFinishedTotal.WithLabelValues("completed").Inc()
	case events.EventSessionFailed:
		c.sessionsFinishedTotal.WithLabelValues("failed").Inc()
	case events.EventSessionCancelled:
		c.sessionsFinishedTotal.WithLabelValues("cancelled").Inc()

	case events.EventTaskAdded:
		c.tasksTotal.WithLabelValues("added").Inc()
	case events.EventTaskAssigned:
		c.tasksTotal.WithLabelValues("assigned").Inc()
	case events.EventTaskCompleted:
		c.tasksTotal.WithLabelValues("completed").Inc()
	case events.EventTaskFailed:
		c.tasksTotal.WithLabelValues("failed").Inc()

	case events.EventAllocationCreated:
		c.allocationsTotal.WithLabelValues("created").Inc()
	case events.EventAllocationActivated:
		c.allocationsTotal.WithLabelValues("activated").Inc()
	case events.EventAllocationExhausted:
		c.allocationsTotal.WithLabelValues("exhausted").Inc()
	case events.EventAllocationRevoked:
		c.allocationsTotal.WithLabelValues("revoked").Inc()
	case events.EventAllocationExpired:
		c.allocationsTotal.WithLabelValues("expired").Inc()
	}
}

// Attach subscribes the collector to the bus and returns the subscription id.
func (c *Collector) Attach(bus *events.Bus) string {
	return bus.Subscribe(c.Observe)
}

// statusCode folds an HTTP status code into its class.
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
