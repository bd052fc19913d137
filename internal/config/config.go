package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	"finanse/internal/core"
	"finanse/internal/log"
)

// Config is read from environment variables. Unset or empty variables keep
// the defaults from Defaults.
type Config struct {
	Port string `koanf:"PORT"`

	// Storage backend: memory, sqlite or postgres
	DataBackend string `koanf:"DATA_BACKEND"`

	// SQLite configuration
	SQLiteDBPath string `koanf:"SQLITE_DB_PATH"`

	// Postgres configuration
	PostgresHost        string        `koanf:"POSTGRES_HOST"`
	PostgresPort        int           `koanf:"POSTGRES_PORT"`
	PostgresDB          string        `koanf:"POSTGRES_DB"`
	PostgresUser        string        `koanf:"POSTGRES_USER"`
	PostgresPassword    string        `koanf:"POSTGRES_PASSWORD"`
	PostgresSSLMode     string        `koanf:"POSTGRES_SSLMODE"`
	PostgresMaxConns    int           `koanf:"POSTGRES_MAX_CONNS"`
	PostgresLockTimeout time.Duration `koanf:"POSTGRES_LOCK_TIMEOUT"`

	// AMQP configuration; an empty URL disables event publishing
	AMQPURL      string `koanf:"AMQP_URL"`
	AMQPExchange string `koanf:"AMQP_EXCHANGE"`
	AMQPQueue    string `koanf:"AMQP_QUEUE"`

	// Retry of lock conflicts
	RetryAttempts int           `koanf:"RETRY_ATTEMPTS"`
	RetryDelay    time.Duration `koanf:"RETRY_DELAY"`

	// Bucket read cache. Writes from other processes show up after CacheTTL.
	CacheSize int           `koanf:"CACHE_SIZE"`
	CacheTTL  time.Duration `koanf:"CACHE_TTL"`

	// Comma separated taxonomy overrides
	ExpenseCategories string `koanf:"EXPENSE_CATEGORIES"`
	IncomeSources     string `koanf:"INCOME_SOURCES"`

	LogLevel  string `koanf:"LOG_LEVEL"`
	LogFormat string `koanf:"LOG_FORMAT"`

	AuditInterval time.Duration `koanf:"AUDIT_INTERVAL"`

	// HTTP rate limiting per owner, or per client IP for anonymous calls
	RateLimitPerMinute  int `koanf:"RATE_LIMIT_PER_MINUTE"`
	WriteLimitPerMinute int `koanf:"RATE_LIMIT_WRITES_PER_MINUTE"`
}

// Defaults returns the configuration used when no variable is set.
func Defaults() Config {
	return Config{
		Port:                "8081",
		DataBackend:         "sqlite",
		SQLiteDBPath:        "./data/finanse.db",
		PostgresHost:        "localhost",
		PostgresPort:        5432,
		PostgresDB:          "finanse",
		PostgresUser:        "finanse",
		PostgresSSLMode:     "disable",
		PostgresMaxConns:    10,
		PostgresLockTimeout: 5 * time.Second,
		AMQPExchange:        "finanse",
		AMQPQueue:           "bucket_events",
		RetryAttempts:       3,
		RetryDelay:          50 * time.Millisecond,
		CacheSize:           256,
		CacheTTL:            30 * time.Second,
		LogLevel:            "INFO",
		LogFormat:           "text",
		AuditInterval:       5 * time.Minute,
		RateLimitPerMinute:  60,
		WriteLimitPerMinute: 30,
	}
}

// Load reads the configuration from the process environment.
func Load() (*Config, error) {
	k := koanf.New(".")
	provider := env.ProviderWithValue("", ".", func(key, value string) (string, interface{}) {
		if strings.TrimSpace(value) == "" {
			return "", nil
		}
		return key, value
	})
	if err := k.Load(provider, nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := Defaults()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf", FlatPaths: true}); err != nil {
		return nil, fmt.Errorf("decode configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	switch c.DataBackend {
	case "memory":
	case "sqlite":
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLITE_DB_PATH is required when DATA_BACKEND=sqlite")
		}
	case "postgres":
		if c.PostgresHost == "" {
			errors = append(errors, "POSTGRES_HOST is required when DATA_BACKEND=postgres")
		}
		if c.PostgresDB == "" {
			errors = append(errors, "POSTGRES_DB is required when DATA_BACKEND=postgres")
		}
		if c.PostgresUser == "" {
			errors = append(errors, "POSTGRES_USER is required when DATA_BACKEND=postgres")
		}
		if c.PostgresPort <= 0 || c.PostgresPort > 65535 {
			errors = append(errors, fmt.Sprintf("POSTGRES_PORT must be between 1 and 65535, got %d", c.PostgresPort))
		}
		if c.PostgresMaxConns <= 0 {
			errors = append(errors, "POSTGRES_MAX_CONNS must be positive")
		}
	default:
		errors = append(errors, fmt.Sprintf("DATA_BACKEND must be 'memory', 'sqlite' or 'postgres', got '%s'", c.DataBackend))
	}

	if c.AMQPURL != "" {
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP_EXCHANGE is required when AMQP_URL is set")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP_QUEUE is required when AMQP_URL is set")
		}
	}

	if c.RetryAttempts < 1 || c.RetryAttempts > 10 {
		errors = append(errors, fmt.Sprintf("RETRY_ATTEMPTS must be between 1 and 10, got %d", c.RetryAttempts))
	}
	if c.RetryDelay < 0 {
		errors = append(errors, "RETRY_DELAY cannot be negative")
	}
	if c.CacheSize < 1 {
		errors = append(errors, fmt.Sprintf("CACHE_SIZE must be positive, got %d", c.CacheSize))
	}
	if c.CacheTTL <= 0 {
		errors = append(errors, "CACHE_TTL must be positive")
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errors = append(errors, err.Error())
	}
	if f := strings.ToLower(c.LogFormat); f != "text" && f != "json" {
		errors = append(errors, fmt.Sprintf("LOG_FORMAT must be 'text' or 'json', got '%s'", c.LogFormat))
	}
	if c.AuditInterval < time.Second {
		errors = append(errors, fmt.Sprintf("AUDIT_INTERVAL must be at least 1s, got %v", c.AuditInterval))
	}
	if c.RateLimitPerMinute < 1 {
		errors = append(errors, "RATE_LIMIT_PER_MINUTE must be positive")
	}
	if c.WriteLimitPerMinute < 1 || c.WriteLimitPerMinute > c.RateLimitPerMinute {
		errors = append(errors, fmt.Sprintf("RATE_LIMIT_WRITES_PER_MINUTE must be between 1 and RATE_LIMIT_PER_MINUTE (%d), got %d",
			c.RateLimitPerMinute, c.WriteLimitPerMinute))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

// Taxonomy builds the tag vocabulary, falling back to the built-in lists.
func (c *Config) Taxonomy() *core.Taxonomy {
	return core.NewTaxonomy(splitList(c.ExpenseCategories), splitList(c.IncomeSources))
}

// LogConfig maps LOG_LEVEL and LOG_FORMAT onto a logger configuration.
func (c *Config) LogConfig() log.Config {
	cfg := log.DefaultConfig()
	if level, err := log.ParseLevel(c.LogLevel); err == nil {
		cfg.Level = level
	}
	if c.LogFormat != "" {
		cfg.Format = strings.ToLower(c.LogFormat)
	}
	return cfg
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return strings.Split(s, ",")
}
