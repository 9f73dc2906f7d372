package config

import "time"

// DefaultConfig returns the built-in defaults for every section.
func DefaultConfig() *Config {
	return &Config{
		Server:       DefaultServerConfig(),
		Registry:     DefaultRegistryConfig(),
		Coordination: DefaultCoordinationConfig(),
		Governor:     DefaultGovernorConfig(),
		Events:       DefaultEventsConfig(),
		Redis:        DefaultRedisConfig(),
		Database:     DefaultDatabaseConfig(),
		Log:          DefaultLogConfig(),
		Telemetry:    DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig returns the default server settings.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
	}
}

// DefaultRegistryConfig returns the default registry settings.
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		HeartbeatTimeout: 90 * time.Second,
		SweepInterval:    30 * time.Second,
		EnableSweep:      true,
	}
}

// DefaultCoordinationConfig returns the default coordination settings.
func DefaultCoordinationConfig() CoordinationConfig {
	return CoordinationConfig{
		MaxTaskRetries:           3,
		FailSessionOnTaskFailure: true,
	}
}

// DefaultGovernorConfig returns the default governor settings.
func DefaultGovernorConfig() GovernorConfig {
	return GovernorConfig{
		DefaultPriority:   5,
		ReputationKey:     "reputation",
		EnableModulation:  true,
		UsageHistoryLimit: 1000,
	}
}

// DefaultEventsConfig returns the default event bus settings.
func DefaultEventsConfig() EventsConfig {
	return EventsConfig{
		QueueSize: 1024,
		Shards:    8,
	}
}

// DefaultRedisConfig returns the default Redis bridge settings.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:        false,
		Addr:           "localhost:6379",
		Password:       "",
		DB:             0,
		ChannelPrefix:  "agentnet",
		PublishTimeout: 2 * time.Second,
	}
}

// DefaultDatabaseConfig returns the default storage settings.
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Enabled:         false,
		Driver:          "sqlite",
		Path:            "agentnet.db",
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Hour,
	}
}

// DefaultLogConfig returns the default logging settings.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig returns the default telemetry settings.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "agentnet",
		SampleRate:   1.0,
	}
}
