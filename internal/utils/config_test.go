package utils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	for _, key := range []string{"STORE_BACKEND", "HISTORY_LIMIT", "GENERATION_TIMEOUT", "USAGE_DRIVER", "REDIS_URL", "OPENAI_BASE_URL", "SYSTEM_PROMPT"} {
		t.Setenv(key, "")
	}

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}

	if cfg.Store.Backend != StoreMemory {
		t.Fatalf("expected memory backend, got %q", cfg.Store.Backend)
	}
	if cfg.Chat.HistoryLimit != 50 {
		t.Fatalf("expected history limit 50, got %d", cfg.Chat.HistoryLimit)
	}
	if cfg.Provider.Timeout != 60*time.Second {
		t.Fatalf("expected 60s generation timeout, got %s", cfg.Provider.Timeout)
	}
	if cfg.Provider.BaseURL != "https://api.openai.com/v1" {
		t.Fatalf("unexpected provider base url %q", cfg.Provider.BaseURL)
	}
	if cfg.Chat.SystemPrompt != DefaultSystemPrompt {
		t.Fatalf("unexpected system prompt %q", cfg.Chat.SystemPrompt)
	}
	if cfg.Redis.LockTTL != 2*time.Minute {
		t.Fatalf("expected 2m lock ttl, got %s", cfg.Redis.LockTTL)
	}
}

func TestLoadConfigReadsEnvFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	// godotenv never overrides variables that are already set
	t.Setenv("HISTORY_LIMIT", "")
	os.Unsetenv("HISTORY_LIMIT")

	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("HISTORY_LIMIT=12\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.Chat.HistoryLimit != 12 {
		t.Fatalf("expected history limit from .env, got %d", cfg.Chat.HistoryLimit)
	}
}

func TestValidateRejectsBadSettings(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "store backend", mutate: func(c *Config) { c.Store.Backend = "cassandra" }, want: "STORE_BACKEND"},
		{name: "usage driver", mutate: func(c *Config) { c.Usage.Driver = "oracle" }, want: "USAGE_DRIVER"},
		{name: "sqlite without dsn", mutate: func(c *Config) { c.Usage.Driver = UsageSQLite }, want: "USAGE_DSN"},
		{name: "history limit", mutate: func(c *Config) { c.Chat.HistoryLimit = 0 }, want: "HISTORY_LIMIT"},
		{name: "history window too small", mutate: func(c *Config) { c.Chat.HistoryLimit = 2 }, want: "HISTORY_LIMIT"},
		{
			name: "lock ttl shorter than generation",
			mutate: func(c *Config) {
				c.Redis = RedisConfig{URL: "redis://localhost:6379", LockTTL: 30 * time.Second}
				c.Provider.Timeout = 60 * time.Second
			},
			want: "LOCK_TTL",
		},
		{
			name: "lock ttl equal to generation",
			mutate: func(c *Config) {
				c.Redis = RedisConfig{URL: "redis://localhost:6379", LockTTL: time.Second}
			},
			want: "LOCK_TTL",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %s, got %v", tc.want, err)
			}
		})
	}

	if err := validConfig().Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	withRedis := validConfig()
	withRedis.Redis = RedisConfig{URL: "redis://localhost:6379", LockTTL: 2 * time.Minute}
	if err := withRedis.Validate(); err != nil {
		t.Fatalf("expected a lease longer than the generation timeout to pass, got %v", err)
	}
}

func TestUsageDSNFallsBackToPostgres(t *testing.T) {
	cfg := validConfig()
	cfg.Usage.Driver = UsagePostgres
	cfg.Postgres = PostgresConfig{User: "u", Password: "p", Host: "db", Port: 5432, Database: "chat"}

	if got := cfg.UsageDSN(); got != "postgres://u:p@db:5432/chat" {
		t.Fatalf("unexpected usage dsn %q", got)
	}

	cfg.Usage.DSN = "explicit"
	if got := cfg.UsageDSN(); got != "explicit" {
		t.Fatalf("expected explicit dsn, got %q", got)
	}
}

func validConfig() *Config {
	return &Config{
		Store:    StoreConfig{Backend: StoreMemory},
		Chat:     ChatConfig{HistoryLimit: 50},
		Provider: ProviderConfig{Timeout: time.Second},
	}
}
