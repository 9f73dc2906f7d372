package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete agentnet service configuration.
type Config struct {
	// Server holds the HTTP server settings.
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Registry holds the agent network registry settings.
	Registry RegistryConfig `yaml:"registry" env:"REGISTRY"`

	// Coordination holds the coordination engine settings.
	Coordination CoordinationConfig `yaml:"coordination" env:"COORDINATION"`

	// Governor holds the resource governor settings.
	Governor GovernorConfig `yaml:"governor" env:"GOVERNOR"`

	// Events holds the in-process event bus settings.
	Events EventsConfig `yaml:"events" env:"EVENTS"`

	// Redis holds the Redis event bridge settings.
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Database holds the durable storage settings.
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Log holds the logging settings.
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry holds the OpenTelemetry settings.
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	// HTTPPort is the API listen port.
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// MetricsPort is the Prometheus scrape port.
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// ReadTimeout bounds request reads.
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// WriteTimeout bounds response writes.
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// RateLimitRPS is the per-client request rate limit.
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// RateLimitBurst is the per-client burst allowance.
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
}

// RegistryConfig holds the agent network registry settings.
type RegistryConfig struct {
	// HeartbeatTimeout is how long an agent may stay silent before the
	// liveness sweep marks it Offline.
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout" env:"HEARTBEAT_TIMEOUT"`
	// SweepInterval is the liveness sweep period.
	SweepInterval time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL"`
	// EnableSweep turns the background liveness sweep on.
	EnableSweep bool `yaml:"enable_sweep" env:"ENABLE_SWEEP"`
}

// CoordinationConfig holds the coordination engine settings.
type CoordinationConfig struct {
	// MaxTaskRetries is how many times a retryable task failure re-queues
	// the task before it goes terminal.
	MaxTaskRetries int `yaml:"max_task_retries" env:"MAX_TASK_RETRIES"`
	// FailSessionOnTaskFailure cascades a terminal task failure to the
	// whole session.
	FailSessionOnTaskFailure bool `yaml:"fail_session_on_task_failure" env:"FAIL_SESSION_ON_TASK_FAILURE"`
}

// GovernorConfig holds the resource governor settings.
type GovernorConfig struct {
	// DefaultPriority is used when an allocation request carries none.
	DefaultPriority int `yaml:"default_priority" env:"DEFAULT_PRIORITY"`
	// ReputationKey is the agent metadata key read for modulation.
	ReputationKey string `yaml:"reputation_key" env:"REPUTATION_KEY"`
	// EnableModulation turns reputation-based scaling on.
	EnableModulation bool `yaml:"enable_modulation" env:"ENABLE_MODULATION"`
	// UsageHistoryLimit caps in-memory usage records per agent.
	UsageHistoryLimit int `yaml:"usage_history_limit" env:"USAGE_HISTORY_LIMIT"`
}

// EventsConfig holds the in-process event bus settings.
type EventsConfig struct {
	// QueueSize is the buffer size of each dispatch shard.
	QueueSize int `yaml:"queue_size" env:"QUEUE_SIZE"`
	// Shards is the number of dispatcher goroutines.
	Shards int `yaml:"shards" env:"SHARDS"`
}

// RedisConfig holds the Redis event bridge settings.
type RedisConfig struct {
	// Enabled turns the Redis event bridge on.
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// Addr is the Redis address.
	Addr string `yaml:"addr" env:"ADDR"`
	// Password is the Redis password.
	Password string `yaml:"password" env:"PASSWORD"`
	// DB is the Redis database number.
	DB int `yaml:"db" env:"DB"`
	// ChannelPrefix prefixes every pub/sub channel.
	ChannelPrefix string `yaml:"channel_prefix" env:"CHANNEL_PREFIX"`
	// PublishTimeout bounds a single PUBLISH call.
	PublishTimeout time.Duration `yaml:"publish_timeout" env:"PUBLISH_TIMEOUT"`
}

// DatabaseConfig holds the durable storage settings.
type DatabaseConfig struct {
	// Enabled turns durable storage on. When off the core runs purely
	// in memory.
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// Driver selects the backend: sqlite.
	Driver string `yaml:"driver" env:"DRIVER"`
	// Path is the database file path for sqlite.
	Path string `yaml:"path" env:"PATH"`
	// MaxOpenConns caps open connections.
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// MaxIdleConns caps idle connections.
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// ConnMaxLifetime bounds a connection's lifetime.
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// LogConfig holds the logging settings.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format is json or console.
	Format string `yaml:"format" env:"FORMAT"`
	// OutputPaths lists zap output paths.
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// EnableCaller adds caller annotations.
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// EnableStacktrace adds stack traces on errors.
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig holds the OpenTelemetry settings.
type TelemetryConfig struct {
	// Enabled turns tracing and OTLP metrics export on.
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLPEndpoint is the collector endpoint.
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// ServiceName is the reported service name.
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// SampleRate is the trace sampling ratio.
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// Loader loads configuration with a builder-style API.
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a configuration loader.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "AGENTNET",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath sets the YAML file path.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix sets the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator appends a validation hook run after loading.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load resolves the configuration: defaults, then file, then environment.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct && field.Type() != reflect.TypeOf(time.Duration(0)) {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// MustLoad loads configuration from path, panicking on failure.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv loads configuration from the environment only.
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate checks the configuration for obvious misconfiguration.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Registry.HeartbeatTimeout <= 0 {
		errs = append(errs, "heartbeat_timeout must be positive")
	}
	if c.Registry.SweepInterval <= 0 {
		errs = append(errs, "sweep_interval must be positive")
	}
	if c.Coordination.MaxTaskRetries < 0 {
		errs = append(errs, "max_task_retries must not be negative")
	}
	if c.Governor.DefaultPriority < 1 || c.Governor.DefaultPriority > 10 {
		errs = append(errs, "default_priority must be between 1 and 10")
	}
	if c.Events.Shards <= 0 {
		errs = append(errs, "events shards must be positive")
	}
	if c.Database.Enabled && c.Database.Driver != "sqlite" {
		errs = append(errs, fmt.Sprintf("unsupported database driver %q", c.Database.Driver))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN returns the database connection string.
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "sqlite":
		return d.Path
	default:
		return ""
	}
}
