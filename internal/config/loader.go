package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kriptik-ai/devmode/internal/domain/verification"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "devmode.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// The YAML file is optional; a missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "DEVMODE_PORT")
	setString(&cfg.Server.CORSOrigin, "DEVMODE_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "DEVMODE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "DEVMODE_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "DEVMODE_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "DEVMODE_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "DEVMODE_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Telemetry.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.Logging.Level, "DEVMODE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "DEVMODE_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "DEVMODE_LOG_ASYNC")
	setInt64(&cfg.Cache.MaxBytes, "DEVMODE_CACHE_MAX_BYTES")
	setDuration(&cfg.Cache.SessionTTL, "DEVMODE_CACHE_SESSION_TTL")
	setInt(&cfg.Breaker.MaxFailures, "DEVMODE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "DEVMODE_BREAKER_TIMEOUT")
	setDuration(&cfg.Locks.TTL, "DEVMODE_LOCK_TTL")
	setString(&cfg.Gateway.URL, "DEVMODE_GATEWAY_URL")
	setString(&cfg.Gateway.APIKey, "DEVMODE_GATEWAY_API_KEY")
	setDuration(&cfg.Gateway.Timeout, "DEVMODE_GATEWAY_TIMEOUT")
	setString(&cfg.Orchestrator.DefaultModel, "DEVMODE_DEFAULT_MODEL")
	setString(&cfg.Orchestrator.DefaultVerificationMode, "DEVMODE_DEFAULT_VERIFICATION_MODE")
	setString(&cfg.Orchestrator.DefaultBaseBranch, "DEVMODE_DEFAULT_BASE_BRANCH")
	setInt(&cfg.Orchestrator.MaxAgentsPerSession, "DEVMODE_MAX_AGENTS_PER_SESSION")
	setInt(&cfg.Orchestrator.AgentLogCapacity, "DEVMODE_AGENT_LOG_CAPACITY")
	setInt(&cfg.Orchestrator.MaxRetries, "DEVMODE_MAX_RETRIES")
	setDuration(&cfg.Orchestrator.RetryBackoff, "DEVMODE_RETRY_BACKOFF")
	setDuration(&cfg.Orchestrator.StallWindow, "DEVMODE_STALL_WINDOW")
	setDuration(&cfg.Orchestrator.StopGrace, "DEVMODE_STOP_GRACE")
	setInt(&cfg.Orchestrator.MaxConcurrentMerges, "DEVMODE_MAX_CONCURRENT_MERGES")
	setDuration(&cfg.Orchestrator.VerifyAgentTimeout, "DEVMODE_VERIFY_AGENT_TIMEOUT")
}

// validate checks cross-field constraints after all sources are merged.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Postgres.MinConns > cfg.Postgres.MaxConns {
		return fmt.Errorf("postgres.min_conns (%d) exceeds max_conns (%d)",
			cfg.Postgres.MinConns, cfg.Postgres.MaxConns)
	}
	if cfg.Gateway.URL == "" {
		return errors.New("gateway.url is required")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if !verification.IsValidMode(verification.Mode(cfg.Orchestrator.DefaultVerificationMode)) {
		return fmt.Errorf("unknown orchestrator.default_verification_mode %q", cfg.Orchestrator.DefaultVerificationMode)
	}
	if cfg.Orchestrator.MaxAgentsPerSession < 1 {
		return errors.New("orchestrator.max_agents_per_session must be >= 1")
	}
	if cfg.Orchestrator.MaxRetries < 0 {
		return errors.New("orchestrator.max_retries must be >= 0")
	}
	if cfg.Orchestrator.MaxConcurrentMerges < 1 {
		return errors.New("orchestrator.max_concurrent_merges must be >= 1")
	}
	return nil
}

// --- env helpers ---

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
