package utils

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// MinHistoryLimit is the smallest history window that still shows a second exchange.
const MinHistoryLimit = 3

const DefaultSystemPrompt = "You are a helpful AI assistant. Provide clear, accurate, and helpful responses."

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreMongo    = "mongo"

	UsageDisabled = ""
	UsagePostgres = "postgres"
	UsageSQLite   = "sqlite"
)

type Config struct {
	ServerPort string
	JWTSecret  string
	Store      StoreConfig
	Postgres   PostgresConfig
	Mongo      MongoConfig
	Redis      RedisConfig
	Logging    LoggingConfig
	Provider   ProviderConfig
	Chat       ChatConfig
	Usage      UsageConfig
	RateLimit  RateLimitConfig
}

type StoreConfig struct {
	Backend string
}

type PostgresConfig struct {
	DSN               string
	Host              string
	Port              int
	User              string
	Password          string
	Database          string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	ConnectTimeout    time.Duration
}

type MongoConfig struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
}

// RedisConfig is optional. An empty URL keeps conversation locking in-process.
type RedisConfig struct {
	URL           string
	LockTTL       time.Duration
	RetryInterval time.Duration
}

type LoggingConfig struct {
	Level        string
	Encoding     string
	Development  bool
	EnableCaller bool
	ServiceName  string
}

// ProviderConfig points at an OpenAI-compatible chat completions API.
type ProviderConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type ChatConfig struct {
	SystemPrompt     string
	HistoryLimit     int
	CatalogOverrides string
}

type UsageConfig struct {
	Driver string
	DSN    string
}

type RateLimitConfig struct {
	RPS   float64
	Burst int
}

func LoadConfig() (*Config, error) {
	if err := loadEnvFiles(".env", "config/.env"); err != nil {
		return nil, fmt.Errorf("load env files: %w", err)
	}

	pgPort, _ := strconv.Atoi(envOrDefault("POSTGRES_PORT", "5432"))
	maxConns := parseInt32(envOrDefault("POSTGRES_MAX_CONNS", "8"), 8)
	minConns := parseInt32(envOrDefault("POSTGRES_MIN_CONNS", "1"), 1)

	logging := LoggingConfig{
		Level:        strings.ToLower(envOrDefault("LOG_LEVEL", "info")),
		Encoding:     strings.ToLower(envOrDefault("LOG_ENCODING", "console")),
		Development:  parseBool(envOrDefault("LOG_DEVELOPMENT", "false"), false),
		EnableCaller: parseBool(envOrDefault("LOG_CALLER", "false"), false),
		ServiceName:  envOrDefault("SERVICE_NAME", "modelchat-server"),
	}

	cfg := &Config{
		ServerPort: envOrDefault("PORT", "8080"),
		JWTSecret:  envOrDefault("JWT_SECRET", "dev-secret"),
		Store: StoreConfig{
			Backend: strings.ToLower(envOrDefault("STORE_BACKEND", StoreMemory)),
		},
		Postgres: PostgresConfig{
			DSN:               os.Getenv("POSTGRES_DSN"),
			Host:              envOrDefault("POSTGRES_HOST", "localhost"),
			Port:              pgPort,
			User:              envOrDefault("POSTGRES_USER", "postgres"),
			Password:          envOrDefault("POSTGRES_PASSWORD", "postgres"),
			Database:          envOrDefault("POSTGRES_DB", "modelchat"),
			MaxConns:          maxConns,
			MinConns:          minConns,
			MaxConnLifetime:   parseDuration(envOrDefault("POSTGRES_MAX_CONN_LIFETIME", "1h"), time.Hour),
			MaxConnIdleTime:   parseDuration(envOrDefault("POSTGRES_MAX_CONN_IDLE", "30m"), 30*time.Minute),
			HealthCheckPeriod: parseDuration(envOrDefault("POSTGRES_HEALTH_CHECK_PERIOD", "1m"), time.Minute),
			ConnectTimeout:    parseDuration(envOrDefault("POSTGRES_CONNECT_TIMEOUT", "5s"), 5*time.Second),
		},
		Mongo: MongoConfig{
			URI:            envOrDefault("MONGO_URI", "mongodb://localhost:27017"),
			Database:       envOrDefault("MONGO_DATABASE", "modelchat"),
			ConnectTimeout: parseDuration(envOrDefault("MONGO_CONNECT_TIMEOUT", "5s"), 5*time.Second),
		},
		Redis: RedisConfig{
			URL:           strings.TrimSpace(os.Getenv("REDIS_URL")),
			LockTTL:       parseDuration(envOrDefault("LOCK_TTL", "2m"), 2*time.Minute),
			RetryInterval: parseDuration(envOrDefault("LOCK_RETRY_INTERVAL", "100ms"), 100*time.Millisecond),
		},
		Logging: logging,
		Provider: ProviderConfig{
			BaseURL: strings.TrimRight(envOrDefault("OPENAI_BASE_URL", "https://api.openai.com/v1"), "/"),
			APIKey:  strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
			Timeout: parseDuration(envOrDefault("GENERATION_TIMEOUT", "60s"), 60*time.Second),
		},
		Chat: ChatConfig{
			SystemPrompt:     envOrDefault("SYSTEM_PROMPT", DefaultSystemPrompt),
			HistoryLimit:     parseInt(envOrDefault("HISTORY_LIMIT", "50"), 50),
			CatalogOverrides: strings.TrimSpace(os.Getenv("CATALOG_OVERRIDES")),
		},
		Usage: UsageConfig{
			Driver: strings.ToLower(strings.TrimSpace(os.Getenv("USAGE_DRIVER"))),
			DSN:    strings.TrimSpace(os.Getenv("USAGE_DSN")),
		},
		RateLimit: RateLimitConfig{
			RPS:   parseFloat(envOrDefault("RATE_LIMIT_RPS", "1"), 1),
			Burst: parseInt(envOrDefault("RATE_LIMIT_BURST", "5"), 5),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects settings that would only fail later at first use.
func (c *Config) Validate() error {
	var problems []string

	switch c.Store.Backend {
	case StoreMemory, StorePostgres, StoreMongo:
	default:
		problems = append(problems, fmt.Sprintf("STORE_BACKEND %q is not one of memory, postgres, mongo", c.Store.Backend))
	}

	switch c.Usage.Driver {
	case UsageDisabled, UsagePostgres:
	case UsageSQLite:
		if c.Usage.DSN == "" {
			problems = append(problems, "USAGE_DSN is required for the sqlite usage driver")
		}
	default:
		problems = append(problems, fmt.Sprintf("USAGE_DRIVER %q is not one of postgres, sqlite", c.Usage.Driver))
	}

	if c.Chat.HistoryLimit < MinHistoryLimit {
		problems = append(problems, fmt.Sprintf("HISTORY_LIMIT must be at least %d", MinHistoryLimit))
	}
	if c.Provider.Timeout <= 0 {
		problems = append(problems, "GENERATION_TIMEOUT must be positive")
	}
	if c.Redis.URL != "" && c.Redis.LockTTL <= c.Provider.Timeout {
		problems = append(problems, fmt.Sprintf("LOCK_TTL (%s) must exceed GENERATION_TIMEOUT (%s)", c.Redis.LockTTL, c.Provider.Timeout))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (c PostgresConfig) BuildDSN() string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s", c.User, c.Password, c.Host, c.Port, c.Database)
}

// UsageDSN falls back to the store's Postgres DSN when the ledger shares that database.
func (c *Config) UsageDSN() string {
	if c.Usage.DSN != "" {
		return c.Usage.DSN
	}
	if c.Usage.Driver == UsagePostgres {
		return c.Postgres.BuildDSN()
	}
	return ""
}

func loadEnvFiles(paths ...string) error {
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			var pathErr *fs.PathError
			if errors.As(err, &pathErr) {
				// missing files are fine, the environment may be supplied externally
				continue
			}
			return err
		}
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func parseDuration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

func parseInt32(value string, fallback int32) int32 {
	i, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return int32(i)
}

func parseInt(value string, fallback int) int {
	i, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return i
}

func parseFloat(value string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func parseBool(value string, fallback bool) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return v
}
