package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Server.Port != "8080" {
		t.Errorf("expected port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Postgres.MaxConns != 15 {
		t.Errorf("expected max_conns 15, got %d", cfg.Postgres.MaxConns)
	}
	if cfg.Orchestrator.DefaultModel != "claude-sonnet-4-5" {
		t.Errorf("expected default model claude-sonnet-4-5, got %s", cfg.Orchestrator.DefaultModel)
	}
	if cfg.Orchestrator.DefaultVerificationMode != "standard" {
		t.Errorf("expected default verification mode standard, got %s", cfg.Orchestrator.DefaultVerificationMode)
	}
	if cfg.Orchestrator.StallWindow != 0 {
		t.Errorf("expected stall watchdog disabled by default, got %v", cfg.Orchestrator.StallWindow)
	}
	if cfg.Breaker.Timeout != 30*time.Second {
		t.Errorf("expected breaker timeout 30s, got %v", cfg.Breaker.Timeout)
	}
}

func TestLoadYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "test.yaml")

	content := `
server:
  port: "9090"
  cors_origin: "http://example.com"
postgres:
  max_conns: 20
logging:
  level: "debug"
orchestrator:
  default_base_branch: "develop"
  max_agents_per_session: 4
`
	if err := os.WriteFile(yamlPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, yamlPath); err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Server.CORSOrigin != "http://example.com" {
		t.Errorf("expected cors http://example.com, got %s", cfg.Server.CORSOrigin)
	}
	if cfg.Postgres.MaxConns != 20 {
		t.Errorf("expected max_conns 20, got %d", cfg.Postgres.MaxConns)
	}
	if cfg.Orchestrator.DefaultBaseBranch != "develop" {
		t.Errorf("expected base branch develop, got %s", cfg.Orchestrator.DefaultBaseBranch)
	}
	if cfg.Orchestrator.MaxAgentsPerSession != 4 {
		t.Errorf("expected max agents 4, got %d", cfg.Orchestrator.MaxAgentsPerSession)
	}
	// Unchanged fields keep defaults
	if cfg.NATS.URL != "nats://localhost:4222" {
		t.Errorf("expected default NATS URL, got %s", cfg.NATS.URL)
	}
}

func TestLoadYAMLMissing(t *testing.T) {
	cfg := Defaults()
	err := loadYAML(&cfg, "/nonexistent/path.yaml")
	if err != nil {
		t.Errorf("missing YAML should not error, got %v", err)
	}
}

func TestEnvOverride(t *testing.T) {
	cfg := Defaults()

	t.Setenv("DEVMODE_PORT", "7070")
	t.Setenv("DATABASE_URL", "postgres://test:test@db:5432/test")
	t.Setenv("DEVMODE_LOG_LEVEL", "warn")
	t.Setenv("DEVMODE_DEFAULT_MODEL", "gpt-5")
	t.Setenv("DEVMODE_STALL_WINDOW", "90s")
	t.Setenv("DEVMODE_MAX_CONCURRENT_MERGES", "2")

	loadEnv(&cfg)

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port 7070, got %s", cfg.Server.Port)
	}
	if cfg.Postgres.DSN != "postgres://test:test@db:5432/test" {
		t.Errorf("expected test DSN, got %s", cfg.Postgres.DSN)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("expected log level warn, got %s", cfg.Logging.Level)
	}
	if cfg.Orchestrator.DefaultModel != "gpt-5" {
		t.Errorf("expected model gpt-5, got %s", cfg.Orchestrator.DefaultModel)
	}
	if cfg.Orchestrator.StallWindow != 90*time.Second {
		t.Errorf("expected stall window 90s, got %v", cfg.Orchestrator.StallWindow)
	}
	if cfg.Orchestrator.MaxConcurrentMerges != 2 {
		t.Errorf("expected max concurrent merges 2, got %d", cfg.Orchestrator.MaxConcurrentMerges)
	}
}

func TestValidateRequired(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{
			name:   "empty port",
			modify: func(c *Config) { c.Server.Port = "" },
			errMsg: "server.port is required",
		},
		{
			name:   "empty DSN",
			modify: func(c *Config) { c.Postgres.DSN = "" },
			errMsg: "postgres.dsn is required",
		},
		{
			name:   "zero max_conns",
			modify: func(c *Config) { c.Postgres.MaxConns = 0 },
			errMsg: "postgres.max_conns must be >= 1",
		},
		{
			name:   "empty gateway url",
			modify: func(c *Config) { c.Gateway.URL = "" },
			errMsg: "gateway.url is required",
		},
		{
			name:   "zero breaker failures",
			modify: func(c *Config) { c.Breaker.MaxFailures = 0 },
			errMsg: "breaker.max_failures must be >= 1",
		},
		{
			name:   "unknown verification mode",
			modify: func(c *Config) { c.Orchestrator.DefaultVerificationMode = "turbo" },
			errMsg: `unknown orchestrator.default_verification_mode "turbo"`,
		},
		{
			name:   "zero max agents",
			modify: func(c *Config) { c.Orchestrator.MaxAgentsPerSession = 0 },
			errMsg: "orchestrator.max_agents_per_session must be >= 1",
		},
		{
			name:   "negative retries",
			modify: func(c *Config) { c.Orchestrator.MaxRetries = -1 },
			errMsg: "orchestrator.max_retries must be >= 0",
		},
		{
			name:   "zero concurrent merges",
			modify: func(c *Config) { c.Orchestrator.MaxConcurrentMerges = 0 },
			errMsg: "orchestrator.max_concurrent_merges must be >= 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.modify(&cfg)
			err := validate(&cfg)
			if err == nil {
				t.Fatalf("expected error %q, got nil", tt.errMsg)
			}
			if err.Error() != tt.errMsg {
				t.Errorf("expected %q, got %q", tt.errMsg, err.Error())
			}
		})
	}
}

func TestValidateDefaults(t *testing.T) {
	cfg := Defaults()
	if err := validate(&cfg); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestLoadFromPrecedence(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "devmode.yaml")
	content := `
server:
  port: "9000"
logging:
  level: "debug"
`
	if err := os.WriteFile(yamlPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("DEVMODE_PORT", "9999")

	cfg, err := LoadFrom(yamlPath)
	if err != nil {
		t.Fatal(err)
	}

	// ENV beats YAML, YAML beats defaults.
	if cfg.Server.Port != "9999" {
		t.Errorf("expected env port 9999, got %s", cfg.Server.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected yaml level debug, got %s", cfg.Logging.Level)
	}
}
