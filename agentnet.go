// Package agentnet provides a top-level convenience entry point that wires
// the registry, coordination engine, and resource governor onto one shared
// event bus.
//
// Usage:
//
//	import "github.com/BaSui01/agentnet"
//
//	net := agentnet.New()
//	defer net.Close()
//
//	net.Registry.Register(ctx, registry.RegisterRequest{AgentID: "trader-1"})
//	session, _ := net.Engine.CreateSession(ctx, "trader-1", coordination.PatternPipeline, "rebalance")
//
// The wiring mirrors what cmd/agentnetd does at boot: the engine resolves
// participants against the registry, the governor gates task assignment
// through its budget check, and every subsystem publishes to the same bus.
package agentnet

import (
	"context"

	"go.uber.org/zap"

	"github.com/BaSui01/agentnet/coordination"
	"github.com/BaSui01/agentnet/events"
	"github.com/BaSui01/agentnet/governor"
	"github.com/BaSui01/agentnet/registry"
)

// Network bundles the three subsystems and their shared event bus.
type Network struct {
	Bus      *events.Bus
	Registry *registry.NetworkRegistry
	Engine   *coordination.Engine
	Governor *governor.Governor

	logger *zap.Logger
}

type networkOptions struct {
	logger         *zap.Logger
	busConfig      events.BusConfig
	registryConfig *registry.RegistryConfig
	engineConfig   *coordination.EngineConfig
	governorConfig *governor.GovernorConfig
	governorOpts   []governor.Option
}

// Option configures the network created by [New].
type Option func(*networkOptions)

// WithLogger sets a custom zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *networkOptions) { o.logger = logger }
}

// WithBusConfig overrides the event bus configuration.
func WithBusConfig(cfg events.BusConfig) Option {
	return func(o *networkOptions) { o.busConfig = cfg }
}

// WithRegistryConfig overrides the registry configuration.
func WithRegistryConfig(cfg *registry.RegistryConfig) Option {
	return func(o *networkOptions) { o.registryConfig = cfg }
}

// WithEngineConfig overrides the coordination engine configuration.
func WithEngineConfig(cfg *coordination.EngineConfig) Option {
	return func(o *networkOptions) { o.engineConfig = cfg }
}

// WithGovernorConfig overrides the resource governor configuration.
func WithGovernorConfig(cfg *governor.GovernorConfig) Option {
	return func(o *networkOptions) { o.governorConfig = cfg }
}

// WithGovernorOptions forwards options to the governor, e.g. a usage sink.
func WithGovernorOptions(opts ...governor.Option) Option {
	return func(o *networkOptions) { o.governorOpts = append(o.governorOpts, opts...) }
}

// New wires a fully connected in-process network.
func New(opts ...Option) *Network {
	options := &networkOptions{
		busConfig: events.DefaultBusConfig(),
	}
	for _, opt := range opts {
		opt(options)
	}
	logger := options.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	bus := events.NewBus(options.busConfig, logger)
	reg := registry.NewNetworkRegistry(options.registryConfig, bus, logger)

	governorConfig := options.governorConfig
	if governorConfig == nil {
		governorConfig = governor.DefaultGovernorConfig()
	}
	governorOpts := append([]governor.Option{
		governor.WithReputationSource(&RegistryReputation{
			Registry: reg,
			Key:      governorConfig.ReputationKey,
		}),
	}, options.governorOpts...)
	gov := governor.NewGovernor(governorConfig, bus, logger, governorOpts...)

	engine := coordination.NewEngine(options.engineConfig,
		&RegistryResolver{Registry: reg}, gov, bus, logger)

	return &Network{
		Bus:      bus,
		Registry: reg,
		Engine:   engine,
		Governor: gov,
		logger:   logger,
	}
}

// Start launches the registry's background liveness sweep.
func (n *Network) Start(ctx context.Context) error {
	return n.Registry.Start(ctx)
}

// Close stops the sweep and drains the event bus.
func (n *Network) Close() error {
	if err := n.Registry.Close(); err != nil {
		n.logger.Warn("registry close failed", zap.Error(err))
	}
	return n.Bus.Close()
}

// RegistryResolver adapts the registry to the engine's resolver interface.
// Offline agents do not resolve.
type RegistryResolver struct {
	Registry *registry.NetworkRegistry
}

// ResolveAgent implements coordination.AgentResolver.
func (r *RegistryResolver) ResolveAgent(ctx context.Context, agentID string) error {
	record, err := r.Registry.Get(ctx, agentID)
	if err != nil {
		return err
	}
	if record.Status == registry.AgentStatusOffline {
		return errOffline{agentID}
	}
	return nil
}

type errOffline struct{ agentID string }

func (e errOffline) Error() string { return "agent " + e.agentID + " is offline" }

// RegistryReputation reads an agent's reputation score from its registry
// metadata under Key. Missing or non-numeric values report no score.
type RegistryReputation struct {
	Registry *registry.NetworkRegistry
	Key      string
}

// Reputation implements governor.ReputationSource.
func (r *RegistryReputation) Reputation(ctx context.Context, agentID string) (float64, bool) {
	record, err := r.Registry.Get(ctx, agentID)
	if err != nil || record.Metadata == nil {
		return 0, false
	}
	switch v := record.Metadata[r.Key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
