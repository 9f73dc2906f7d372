package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/agentnet"
	"github.com/BaSui01/agentnet/api/handlers"
	"github.com/BaSui01/agentnet/config"
	"github.com/BaSui01/agentnet/coordination"
	"github.com/BaSui01/agentnet/events"
	"github.com/BaSui01/agentnet/governor"
	"github.com/BaSui01/agentnet/internal/metrics"
	"github.com/BaSui01/agentnet/internal/server"
	"github.com/BaSui01/agentnet/internal/telemetry"
	"github.com/BaSui01/agentnet/registry"
	"github.com/BaSui01/agentnet/storage"
)

// Server owns the wired subsystems and both HTTP listeners.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	network *agentnet.Network
	store   *storage.Store
	redis   *events.RedisPublisher

	httpManager    *server.Manager
	metricsManager *server.Manager

	agentHandler    *handlers.AgentHandler
	sessionHandler  *handlers.SessionHandler
	resourceHandler *handlers.ResourceHandler
	eventHandler    *handlers.EventStreamHandler
	healthHandler   *handlers.HealthHandler

	metricsCollector *metrics.Collector
	otelProviders    *telemetry.Providers

	rateLimiterCancel context.CancelFunc
}

// NewServer creates the server shell; Start does the wiring.
func NewServer(cfg *config.Config, logger *zap.Logger, otelProviders *telemetry.Providers) *Server {
	return &Server{
		cfg:           cfg,
		logger:        logger,
		otelProviders: otelProviders,
	}
}

// Start wires the subsystems and launches both listeners.
func (s *Server) Start() error {
	s.metricsCollector = metrics.NewCollector("agentnet", s.logger)

	if err := s.initNetwork(); err != nil {
		return fmt.Errorf("failed to init network: %w", err)
	}
	s.initHandlers()

	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Bool("storage_enabled", s.store != nil),
		zap.Bool("redis_enabled", s.redis != nil),
	)
	return nil
}

// initNetwork opens storage, wires the registry, engine, and governor onto
// the shared bus, and attaches the bus consumers.
func (s *Server) initNetwork() error {
	var governorOpts []governor.Option

	if s.cfg.Database.Enabled {
		store, err := storage.Open(storage.Options{
			Driver:          s.cfg.Database.Driver,
			DSN:             s.cfg.Database.DSN(),
			MaxOpenConns:    s.cfg.Database.MaxOpenConns,
			MaxIdleConns:    s.cfg.Database.MaxIdleConns,
			ConnMaxLifetime: s.cfg.Database.ConnMaxLifetime,
		}, s.logger)
		if err != nil {
			return fmt.Errorf("failed to open storage: %w", err)
		}
		s.store = store
		governorOpts = append(governorOpts, governor.WithUsageSink(store))
	}

	s.network = agentnet.New(
		agentnet.WithLogger(s.logger),
		agentnet.WithBusConfig(events.BusConfig{
			QueueSize: s.cfg.Events.QueueSize,
			Shards:    s.cfg.Events.Shards,
		}),
		agentnet.WithRegistryConfig(&registry.RegistryConfig{
			HeartbeatTimeout: s.cfg.Registry.HeartbeatTimeout,
			SweepInterval:    s.cfg.Registry.SweepInterval,
			EnableSweep:      s.cfg.Registry.EnableSweep,
		}),
		agentnet.WithEngineConfig(&coordination.EngineConfig{
			MaxTaskRetries:           s.cfg.Coordination.MaxTaskRetries,
			FailSessionOnTaskFailure: s.cfg.Coordination.FailSessionOnTaskFailure,
		}),
		agentnet.WithGovernorConfig(&governor.GovernorConfig{
			DefaultPriority:   s.cfg.Governor.DefaultPriority,
			ReputationKey:     s.cfg.Governor.ReputationKey,
			EnableModulation:  s.cfg.Governor.EnableModulation,
			UsageHistoryLimit: s.cfg.Governor.UsageHistoryLimit,
		}),
		agentnet.WithGovernorOptions(governorOpts...),
	)

	s.metricsCollector.Attach(s.network.Bus)

	if s.store != nil {
		recorder := storage.NewRecorder(s.store, s.network.Registry,
			s.network.Engine, s.network.Governor, s.logger)
		recorder.Attach(s.network.Bus)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		replayed, err := s.store.ReplayAgents(ctx, s.network.Registry)
		if err != nil {
			s.logger.Warn("agent roster replay failed", zap.Error(err))
		} else if replayed > 0 {
			s.logger.Info("agent roster replayed", zap.Int("agents", replayed))
		}
	}

	if s.cfg.Redis.Enabled {
		publisher, err := events.NewRedisPublisher(events.RedisConfig{
			Enabled:        true,
			Addr:           s.cfg.Redis.Addr,
			Password:       s.cfg.Redis.Password,
			DB:             s.cfg.Redis.DB,
			ChannelPrefix:  s.cfg.Redis.ChannelPrefix,
			PublishTimeout: s.cfg.Redis.PublishTimeout,
		}, s.logger)
		if err != nil {
			return fmt.Errorf("failed to connect redis: %w", err)
		}
		s.redis = publisher
		publisher.Attach(s.network.Bus)
	}

	return s.network.Start(context.Background())
}

func (s *Server) initHandlers() {
	s.agentHandler = handlers.NewAgentHandler(s.network.Registry, s.logger)
	s.sessionHandler = handlers.NewSessionHandler(s.network.Engine, s.logger)
	s.resourceHandler = handlers.NewResourceHandler(s.network.Governor, s.logger)
	s.eventHandler = handlers.NewEventStreamHandler(s.network.Bus, s.logger)

	s.healthHandler = handlers.NewHealthHandler(s.logger)
	if s.store != nil {
		s.healthHandler.RegisterCheck(handlers.CheckFunc{
			CheckName: "database",
			Fn:        s.store.Ping,
		})
	}
	if s.redis != nil {
		s.healthHandler.RegisterCheck(handlers.CheckFunc{
			CheckName: "redis",
			Fn:        s.redis.Ping,
		})
	}
}

func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthHandler.HandleHealth)
	mux.HandleFunc("GET /healthz", s.healthHandler.HandleHealth)
	mux.HandleFunc("GET /ready", s.healthHandler.HandleReadiness)
	mux.HandleFunc("GET /readyz", s.healthHandler.HandleReadiness)
	mux.HandleFunc("GET /version", handleVersion)

	mux.HandleFunc("POST /api/v1/agents", s.agentHandler.HandleRegister)
	mux.HandleFunc("GET /api/v1/agents", s.agentHandler.HandleListAgents)
	mux.HandleFunc("GET /api/v1/agents/discover", s.agentHandler.HandleDiscover)
	mux.HandleFunc("GET /api/v1/agents/{id}", s.agentHandler.HandleGetAgent)
	mux.HandleFunc("DELETE /api/v1/agents/{id}", s.agentHandler.HandleDeregister)
	mux.HandleFunc("POST /api/v1/agents/{id}/heartbeat", s.agentHandler.HandleHeartbeat)

	mux.HandleFunc("POST /api/v1/sessions", s.sessionHandler.HandleCreateSession)
	mux.HandleFunc("GET /api/v1/sessions", s.sessionHandler.HandleListSessions)
	mux.HandleFunc("GET /api/v1/sessions/{id}", s.sessionHandler.HandleGetSession)
	mux.HandleFunc("POST /api/v1/sessions/{id}/tasks", s.sessionHandler.HandleAddTask)
	mux.HandleFunc("GET /api/v1/sessions/{id}/tasks/available", s.sessionHandler.HandleAvailableTasks)
	mux.HandleFunc("POST /api/v1/sessions/{id}/join", s.sessionHandler.HandleJoin)
	mux.HandleFunc("POST /api/v1/sessions/{id}/assign", s.sessionHandler.HandleAssignTask)
	mux.HandleFunc("POST /api/v1/sessions/{id}/tasks/{task_id}/start", s.sessionHandler.HandleStartTask)
	mux.HandleFunc("POST /api/v1/sessions/{id}/tasks/{task_id}/complete", s.sessionHandler.HandleCompleteTask)
	mux.HandleFunc("POST /api/v1/sessions/{id}/tasks/{task_id}/fail", s.sessionHandler.HandleFailTask)
	mux.HandleFunc("POST /api/v1/sessions/{id}/proposals", s.sessionHandler.HandleSubmitProposal)
	mux.HandleFunc("PUT /api/v1/sessions/{id}/state", s.sessionHandler.HandleUpdateSharedState)
	mux.HandleFunc("GET /api/v1/sessions/{id}/progress", s.sessionHandler.HandleGetProgress)
	mux.HandleFunc("POST /api/v1/sessions/{id}/cancel", s.sessionHandler.HandleCancel)

	mux.HandleFunc("POST /api/v1/allocations", s.resourceHandler.HandleRequestAllocation)
	mux.HandleFunc("GET /api/v1/allocations", s.resourceHandler.HandleListAllocations)
	mux.HandleFunc("GET /api/v1/allocations/{id}", s.resourceHandler.HandleGetAllocation)
	mux.HandleFunc("POST /api/v1/allocations/{id}/approve", s.resourceHandler.HandleApproveAllocation)
	mux.HandleFunc("POST /api/v1/allocations/{id}/activate", s.resourceHandler.HandleActivateAllocation)
	mux.HandleFunc("POST /api/v1/allocations/{id}/usage", s.resourceHandler.HandleRecordUsage)
	mux.HandleFunc("GET /api/v1/allocations/{id}/budget", s.resourceHandler.HandleRemainingBudget)
	mux.HandleFunc("GET /api/v1/allocations/{id}/summary", s.resourceHandler.HandleUsageSummary)
	mux.HandleFunc("GET /api/v1/allocations/{id}/history", s.resourceHandler.HandleUsageHistory)
	mux.HandleFunc("POST /api/v1/allocations/{id}/extend", s.resourceHandler.HandleExtendAllocation)
	mux.HandleFunc("POST /api/v1/allocations/{id}/revoke", s.resourceHandler.HandleRevokeAllocation)

	mux.HandleFunc("GET /api/v1/events/stream", s.eventHandler.HandleStream)

	rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = rateLimiterCancel
	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.metricsCollector),
		OTelTracing(),
		RateLimiter(rateLimiterCtx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
	)

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)
	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)
	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("Metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

func handleVersion(w http.ResponseWriter, r *http.Request) {
	handlers.WriteSuccess(w, map[string]string{
		"version":    Version,
		"build_time": BuildTime,
		"git_commit": GitCommit,
	})
}

// WaitForShutdown blocks until a termination signal, then shuts down.
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown stops the listeners and drains the subsystems in order: stop
// accepting requests, stop the sweep, drain the bus, then close the
// durable stores last so every mirrored event lands.
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx := context.Background()

	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}

	// Both listeners drain in parallel; in-flight event mirroring keeps
	// the bus and stores alive until they finish.
	var g errgroup.Group
	if s.httpManager != nil {
		g.Go(func() error { return s.httpManager.Shutdown(ctx) })
	}
	if s.metricsManager != nil {
		g.Go(func() error { return s.metricsManager.Shutdown(ctx) })
	}
	if err := g.Wait(); err != nil {
		s.logger.Error("listener shutdown error", zap.Error(err))
	}
	if s.network != nil {
		if err := s.network.Close(); err != nil {
			s.logger.Error("Network shutdown error", zap.Error(err))
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("Redis shutdown error", zap.Error(err))
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error("Storage shutdown error", zap.Error(err))
		}
	}
	if s.otelProviders != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := s.otelProviders.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Telemetry shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("Graceful shutdown completed")
}
