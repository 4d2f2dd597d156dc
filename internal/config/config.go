package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "GOVERNOR_"

// Config represents the complete governor service configuration
type Config struct {
	Server        ServerConfig        `yaml:"server" json:"server"`
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`
	Identity      IdentityConfig      `yaml:"identity" json:"identity"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit" json:"rate_limit"`
	Audit         AuditConfig         `yaml:"audit" json:"audit"`
	Routes        []RouteConfig       `yaml:"routes" json:"routes"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port" json:"http_port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" json:"max_header_bytes"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes" json:"max_body_bytes"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level            string            `yaml:"level" json:"level"`
	Format           string            `yaml:"format" json:"format"` // json or text
	Output           string            `yaml:"output" json:"output"` // stdout, stderr, or file path
	SanitizePatterns []string          `yaml:"sanitize_patterns" json:"sanitize_patterns"`
	ComponentLevels  map[string]string `yaml:"component_levels" json:"component_levels"`
}

// IdentityConfig controls how caller identity is read from session tokens.
// Identity is only used to build rate limit scopes; requests without a
// valid token are treated as anonymous, never rejected.
type IdentityConfig struct {
	Enabled             bool          `yaml:"enabled" json:"enabled"`
	CookieName          string        `yaml:"cookie_name" json:"cookie_name"`
	JWTSigningAlgorithm string        `yaml:"jwt_signing_algorithm" json:"jwt_signing_algorithm"`
	JWTPublicKeyFile    string        `yaml:"jwt_public_key_file" json:"jwt_public_key_file"`
	JWTSharedSecret     string        `yaml:"jwt_shared_secret" json:"jwt_shared_secret"`
	ClockSkewTolerance  time.Duration `yaml:"clock_skew_tolerance" json:"clock_skew_tolerance"`
	RequiredClaims      []string      `yaml:"required_claims" json:"required_claims"`
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled             bool              `yaml:"enabled" json:"enabled"`
	Backend             string            `yaml:"backend" json:"backend"` // memory, redis or dynamodb
	RedisAddr           string            `yaml:"redis_addr" json:"redis_addr"`
	RedisPassword       string            `yaml:"redis_password" json:"redis_password"`
	RedisDB             int               `yaml:"redis_db" json:"redis_db"`
	RedisTimeout        time.Duration     `yaml:"redis_timeout" json:"redis_timeout"`
	RedisConnectTimeout time.Duration     `yaml:"redis_connect_timeout" json:"redis_connect_timeout"` // startup retry budget
	DynamoDBTable       string            `yaml:"dynamodb_table" json:"dynamodb_table"`
	DynamoDBRegion      string            `yaml:"dynamodb_region" json:"dynamodb_region"`
	FailureMode         string            `yaml:"failure_mode" json:"failure_mode"` // fail-open or fail-closed
	Breaker             BreakerConfig     `yaml:"breaker" json:"breaker"`
	GlobalLimits        []LimitDefinition `yaml:"global_limits" json:"global_limits"`
}

// BreakerConfig configures the circuit breaker guarding the counter store
type BreakerConfig struct {
	Enabled          bool          `yaml:"enabled" json:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold" json:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold" json:"success_threshold"`
	Timeout          time.Duration `yaml:"timeout" json:"timeout"`
	MaxRequests      int           `yaml:"max_requests" json:"max_requests"`
}

// LimitDefinition defines one throttling rule
type LimitDefinition struct {
	Key    string  `yaml:"key" json:"key"`       // ip, user, session or user_or_ip
	Max    float64 `yaml:"max" json:"max"`       // weighted hits allowed per window
	Window string  `yaml:"window" json:"window"` // e.g. "1m", "1h"
	Route  string  `yaml:"route" json:"route"`   // optional scope route override
}

// WindowDuration parses Window.
func (d LimitDefinition) WindowDuration() (time.Duration, error) {
	return time.ParseDuration(d.Window)
}

// RouteConfig names a group of request paths and the limits applied to them
type RouteConfig struct {
	Name        string            `yaml:"name" json:"name"`
	PathPattern string            `yaml:"path_pattern" json:"path_pattern"`
	Methods     []string          `yaml:"methods" json:"methods"`
	RateLimits  []LimitDefinition `yaml:"rate_limits" json:"rate_limits"`
}

// AuditConfig controls where violation records go
type AuditConfig struct {
	Enabled        bool          `yaml:"enabled" json:"enabled"`
	Sink           string        `yaml:"sink" json:"sink"` // log or dynamodb
	QueueSize      int           `yaml:"queue_size" json:"queue_size"`
	Workers        int           `yaml:"workers" json:"workers"`
	WriteTimeout   time.Duration `yaml:"write_timeout" json:"write_timeout"`
	DynamoDBTable  string        `yaml:"dynamodb_table" json:"dynamodb_table"`
	DynamoDBRegion string        `yaml:"dynamodb_region" json:"dynamodb_region"`
	Retention      time.Duration `yaml:"retention" json:"retention"`
}

// ObservabilityConfig contains observability configuration
type ObservabilityConfig struct {
	MetricsEnabled    bool    `yaml:"metrics_enabled" json:"metrics_enabled"`
	MetricsPath       string  `yaml:"metrics_path" json:"metrics_path"`
	HealthPath        string  `yaml:"health_path" json:"health_path"`
	ReadinessPath     string  `yaml:"readiness_path" json:"readiness_path"`
	LivenessPath      string  `yaml:"liveness_path" json:"liveness_path"`
	TracingEnabled    bool    `yaml:"tracing_enabled" json:"tracing_enabled"`
	TracingEndpoint   string  `yaml:"tracing_endpoint" json:"tracing_endpoint"`
	TracingSampleRate float64 `yaml:"tracing_sample_rate" json:"tracing_sample_rate"`
	ServiceName       string  `yaml:"service_name" json:"service_name"`
	Environment       string  `yaml:"environment" json:"environment"`
}

var (
	globalConfig *Config
	configMu     sync.RWMutex
)

// Load loads configuration from file with environment variable overrides.
// A .env file in the working directory, if present, is loaded first.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}
	cfg.setDefaults()

	if configPath != "" {
		if err := loadFromFile(configPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// Missing .env is the normal case outside local development.
	_ = godotenv.Load()

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	configMu.Lock()
	globalConfig = cfg
	configMu.Unlock()

	return cfg, nil
}

// Get returns the global configuration
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	c.Server.HTTPPort = 8080
	c.Server.ReadTimeout = 10 * time.Second
	c.Server.WriteTimeout = 10 * time.Second
	c.Server.IdleTimeout = 120 * time.Second
	c.Server.MaxHeaderBytes = 1 << 20 // 1 MB
	c.Server.MaxBodyBytes = 64 << 10  // 64 KB
	c.Server.ShutdownTimeout = 30 * time.Second

	c.Logging.Level = "info"
	c.Logging.Format = "json"
	c.Logging.Output = "stdout"

	c.Identity.Enabled = false
	c.Identity.CookieName = "session_token"
	c.Identity.JWTSigningAlgorithm = "HS256"
	c.Identity.ClockSkewTolerance = 5 * time.Second

	c.RateLimit.Enabled = true
	c.RateLimit.Backend = "memory"
	c.RateLimit.RedisTimeout = 500 * time.Millisecond
	c.RateLimit.RedisConnectTimeout = 5 * time.Second
	c.RateLimit.FailureMode = "fail-open"
	c.RateLimit.Breaker.Enabled = true
	c.RateLimit.Breaker.FailureThreshold = 5
	c.RateLimit.Breaker.SuccessThreshold = 2
	c.RateLimit.Breaker.Timeout = 10 * time.Second
	c.RateLimit.Breaker.MaxRequests = 3

	c.Audit.Enabled = true
	c.Audit.Sink = "log"
	c.Audit.QueueSize = 1024
	c.Audit.Workers = 2
	c.Audit.WriteTimeout = 2 * time.Second
	c.Audit.Retention = 30 * 24 * time.Hour

	c.Observability.MetricsEnabled = true
	c.Observability.MetricsPath = "/metrics"
	c.Observability.HealthPath = "/_health"
	c.Observability.ReadinessPath = "/_health/ready"
	c.Observability.LivenessPath = "/_health/live"
	c.Observability.TracingEnabled = false
	c.Observability.TracingSampleRate = 1.0
	c.Observability.ServiceName = "rate-governor"
	c.Observability.Environment = "development"
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("read and write timeouts must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true, "fatal": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("invalid log format: %s (must be 'json' or 'text')", c.Logging.Format)
	}

	if c.Identity.Enabled {
		switch c.Identity.JWTSigningAlgorithm {
		case "RS256", "RS384", "RS512":
			if c.Identity.JWTPublicKeyFile == "" {
				return fmt.Errorf("identity algorithm %s requires a public key file", c.Identity.JWTSigningAlgorithm)
			}
		case "HS256", "HS384", "HS512":
			if c.Identity.JWTSharedSecret == "" {
				return fmt.Errorf("identity algorithm %s requires a shared secret", c.Identity.JWTSigningAlgorithm)
			}
		default:
			return fmt.Errorf("invalid JWT signing algorithm: %s", c.Identity.JWTSigningAlgorithm)
		}
	}

	if c.RateLimit.Enabled {
		switch c.RateLimit.Backend {
		case "memory":
		case "redis":
			if c.RateLimit.RedisAddr == "" {
				return fmt.Errorf("rate limit backend is redis but redis address not specified")
			}
		case "dynamodb":
			if c.RateLimit.DynamoDBTable == "" {
				return fmt.Errorf("rate limit backend is dynamodb but table not specified")
			}
		default:
			return fmt.Errorf("invalid rate limit backend: %s (must be 'memory', 'redis' or 'dynamodb')", c.RateLimit.Backend)
		}
		if c.RateLimit.FailureMode != "fail-open" && c.RateLimit.FailureMode != "fail-closed" {
			return fmt.Errorf("invalid failure mode: %s (must be 'fail-open' or 'fail-closed')", c.RateLimit.FailureMode)
		}
		if c.RateLimit.Breaker.Enabled && c.RateLimit.Breaker.FailureThreshold <= 0 {
			return fmt.Errorf("breaker failure threshold must be positive")
		}
		for i, limit := range c.RateLimit.GlobalLimits {
			if err := validateLimit(limit); err != nil {
				return fmt.Errorf("global limit %d: %w", i, err)
			}
		}
	}

	if c.Audit.Enabled {
		if c.Audit.Sink != "log" && c.Audit.Sink != "dynamodb" {
			return fmt.Errorf("invalid audit sink: %s (must be 'log' or 'dynamodb')", c.Audit.Sink)
		}
		if c.Audit.Sink == "dynamodb" && c.Audit.DynamoDBTable == "" {
			return fmt.Errorf("audit sink is dynamodb but table not specified")
		}
		if c.Audit.QueueSize <= 0 || c.Audit.Workers <= 0 {
			return fmt.Errorf("audit queue size and workers must be positive")
		}
	}

	for i, route := range c.Routes {
		if route.PathPattern == "" {
			return fmt.Errorf("route %d: path pattern is required", i)
		}
		if len(route.Methods) == 0 {
			return fmt.Errorf("route %d: at least one HTTP method is required", i)
		}
		for j, limit := range route.RateLimits {
			if err := validateLimit(limit); err != nil {
				return fmt.Errorf("route %d limit %d: %w", i, j, err)
			}
		}
	}

	return nil
}

func validateLimit(limit LimitDefinition) error {
	switch limit.Key {
	case "ip", "user", "session", "user_or_ip":
	default:
		return fmt.Errorf("invalid key strategy: %q", limit.Key)
	}
	window, err := limit.WindowDuration()
	if err != nil {
		return fmt.Errorf("invalid window %q: %w", limit.Window, err)
	}
	if window <= 0 {
		return fmt.Errorf("window must be positive")
	}
	// A non-positive max is allowed: it blocks every request.
	return nil
}

// loadFromFile loads configuration from a file (YAML or JSON)
func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s (use .yaml, .yml, or .json)", ext)
	}

	return nil
}

// applyEnvOverrides applies GOVERNOR_* environment variable overrides
func applyEnvOverrides(cfg *Config) error {
	strs := map[string]*string{
		"LOG_LEVEL":           &cfg.Logging.Level,
		"LOG_FORMAT":          &cfg.Logging.Format,
		"LOG_OUTPUT":          &cfg.Logging.Output,
		"JWT_SHARED_SECRET":   &cfg.Identity.JWTSharedSecret,
		"JWT_PUBLIC_KEY_FILE": &cfg.Identity.JWTPublicKeyFile,
		"RATELIMIT_BACKEND":   &cfg.RateLimit.Backend,
		"REDIS_ADDR":          &cfg.RateLimit.RedisAddr,
		"REDIS_PASSWORD":      &cfg.RateLimit.RedisPassword,
		"DYNAMODB_TABLE":      &cfg.RateLimit.DynamoDBTable,
		"DYNAMODB_REGION":     &cfg.RateLimit.DynamoDBRegion,
		"FAILURE_MODE":        &cfg.RateLimit.FailureMode,
		"AUDIT_SINK":          &cfg.Audit.Sink,
		"AUDIT_TABLE":         &cfg.Audit.DynamoDBTable,
		"TRACING_ENDPOINT":    &cfg.Observability.TracingEndpoint,
	}
	for name, dst := range strs {
		if val := os.Getenv(EnvPrefix + name); val != "" {
			*dst = val
		}
	}

	ints := map[string]*int{
		"HTTP_PORT": &cfg.Server.HTTPPort,
		"REDIS_DB":  &cfg.RateLimit.RedisDB,
	}
	for name, dst := range ints {
		if val := os.Getenv(EnvPrefix + name); val != "" {
			n, err := strconv.Atoi(val)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", name, err)
			}
			*dst = n
		}
	}

	durations := map[string]*time.Duration{
		"REDIS_TIMEOUT":         &cfg.RateLimit.RedisTimeout,
		"REDIS_CONNECT_TIMEOUT": &cfg.RateLimit.RedisConnectTimeout,
	}
	for name, dst := range durations {
		if val := os.Getenv(EnvPrefix + name); val != "" {
			d, err := time.ParseDuration(val)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", name, err)
			}
			*dst = d
		}
	}

	bools := map[string]*bool{
		"IDENTITY_ENABLED":  &cfg.Identity.Enabled,
		"RATELIMIT_ENABLED": &cfg.RateLimit.Enabled,
		"AUDIT_ENABLED":     &cfg.Audit.Enabled,
		"TRACING_ENABLED":   &cfg.Observability.TracingEnabled,
	}
	for name, dst := range bools {
		if val := os.Getenv(EnvPrefix + name); val != "" {
			b, err := strconv.ParseBool(val)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", name, err)
			}
			*dst = b
		}
	}

	return nil
}
