package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/turnordoficial-hash/turnord02/internal/queue"
	"github.com/turnordoficial-hash/turnord02/internal/sweep"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

type Config struct {
	Port string
	// BusinessID is the default tenant; Businesses lists every tenant
	// this process serves and always includes BusinessID.
	BusinessID  string
	Businesses  []string
	StoreDriver string
	DatabaseURL string
	SeedFile    string

	RedisAddr          string
	RedisChannelPrefix string

	Timezone        string
	MaxCodeAttempts int
	MissingTarget   string
	Debounce        time.Duration
	SweepTime       string

	PollInterval    time.Duration
	OutboxBatchSize int
	OutboxRetention time.Duration
	OutboxSettle    time.Duration

	RateLimitPerMinute         int
	RateLimitBurst             int
	BusinessRateLimitPerMinute int
	BusinessRateLimitBurst     int

	LogFormat string
	LogLevel  string
}

// LoadEnvFile reads a .env file into the process environment. A missing
// file is not an error; existing variables are never overridden.
func LoadEnvFile(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func Load() Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	databaseURL := os.Getenv("DB_DSN")
	driver := strings.ToLower(strings.TrimSpace(os.Getenv("STORE_DRIVER")))
	if driver == "" {
		driver = StoreMemory
		if databaseURL != "" {
			driver = StorePostgres
		}
	}
	businessID := strings.TrimSpace(os.Getenv("BUSINESS_ID"))

	return Config{
		Port:                       port,
		BusinessID:                 businessID,
		Businesses:                 mergeBusinesses(businessID, readList("BUSINESS_IDS")),
		StoreDriver:                driver,
		DatabaseURL:                databaseURL,
		SeedFile:                   os.Getenv("SEED_FILE"),
		RedisAddr:                  os.Getenv("REDIS_ADDR"),
		RedisChannelPrefix:         readString("REDIS_CHANNEL_PREFIX", "queue:"),
		Timezone:                   readString("TIMEZONE", "America/Santo_Domingo"),
		MaxCodeAttempts:            readInt("TICKET_CODE_MAX_ATTEMPTS", queue.DefaultMaxAttempts),
		MissingTarget:              readString("ESTIMATE_MISSING_TARGET", queue.SumWholeLine.String()),
		Debounce:                   readDurationMillis("RECONCILE_DEBOUNCE_MS", 300),
		SweepTime:                  readString("NO_SHOW_SWEEP_AT", sweep.DefaultTime),
		PollInterval:               readDurationMillis("OUTBOX_POLL_INTERVAL_MS", 500),
		OutboxBatchSize:            readInt("OUTBOX_BATCH_SIZE", 200),
		OutboxRetention:            readDurationSeconds("OUTBOX_RETENTION_SECONDS", 3600),
		OutboxSettle:               readDurationMillis("OUTBOX_SETTLE_MS", 2000),
		RateLimitPerMinute:         readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:             readInt("RATE_LIMIT_BURST", 30),
		BusinessRateLimitPerMinute: readInt("BUSINESS_RATE_LIMIT_PER_MIN", 600),
		BusinessRateLimitBurst:     readInt("BUSINESS_RATE_LIMIT_BURST", 120),
		LogFormat:                  readString("LOG_FORMAT", "text"),
		LogLevel:                   readString("LOG_LEVEL", "info"),
	}
}

// BindFlags registers command-line overrides on top of the values
// already loaded from the environment.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.BusinessID, "business-id", c.BusinessID, "default business served by this process")
	fs.StringSliceVar(&c.Businesses, "businesses", c.Businesses, "every business served by this process")
	fs.StringVar(&c.Port, "port", c.Port, "HTTP listen port")
	fs.StringVar(&c.StoreDriver, "store", c.StoreDriver, "ticket store: memory or postgres")
	fs.StringVar(&c.DatabaseURL, "db-dsn", c.DatabaseURL, "PostgreSQL connection string")
	fs.StringVar(&c.SeedFile, "seed", c.SeedFile, "YAML seed file for the memory store")
	fs.StringVar(&c.RedisAddr, "redis-addr", c.RedisAddr, "Redis address for the change feed")
	fs.StringVar(&c.Timezone, "timezone", c.Timezone, "IANA zone of the business day")
	fs.StringVar(&c.LogFormat, "log-format", c.LogFormat, "text or json")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "debug, info, warn or error")
}

// Validate reports the first setting the process cannot start with.
func (c *Config) Validate() error {
	c.BusinessID = strings.TrimSpace(c.BusinessID)
	if c.BusinessID == "" {
		return &queue.ConfigurationError{Reason: "BUSINESS_ID is required"}
	}
	c.Businesses = mergeBusinesses(c.BusinessID, c.Businesses)
	switch c.StoreDriver {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return &queue.ConfigurationError{Reason: "DB_DSN is required for the postgres store"}
		}
	default:
		return &queue.ConfigurationError{Reason: fmt.Sprintf("unknown store driver %q", c.StoreDriver)}
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return &queue.ConfigurationError{Reason: fmt.Sprintf("invalid timezone %q", c.Timezone)}
	}
	if _, err := queue.ParseMissingTargetPolicy(c.MissingTarget); err != nil {
		return &queue.ConfigurationError{Reason: err.Error()}
	}
	if _, _, err := sweep.ParseClock(c.SweepTime); err != nil {
		return &queue.ConfigurationError{Reason: err.Error()}
	}
	if c.MaxCodeAttempts <= 0 {
		return &queue.ConfigurationError{Reason: "TICKET_CODE_MAX_ATTEMPTS must be positive"}
	}
	return nil
}

func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func mergeBusinesses(primary string, others []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, id := range append([]string{primary}, others...) {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func readString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func readList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

func readDurationMillis(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Millisecond
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
