/*
Package config loads the server configuration.

SOURCES:
  Environment variables first, command-line flags override them.

  PORT           -port        HTTP port (default 8080)
  DB_DRIVER      -db-driver   sqlite3 | postgres (default sqlite3)
  DB_DSN         -db          DSN or SQLite path (default indemnity.db)
  RATE_SCHEDULES -schedules   JSON rate schedules; built-in tables when empty
  JWT_SECRET                  HS256 key for bearer tokens (required)
  REDIS_ADDR                  enables the Redis entity lock
  REDIS_PASSWORD, REDIS_DB
  RABBITMQ_URL                enables the AMQP event publisher
  EVENTS_QUEUE                queue name (default indemnity.transitions)
  SLA_DAYS       -sla-days    processing delay threshold (default 15)
  SLA_CHECK_INTERVAL          SLA monitor period (default 1h, 0 disables);
                 -sla-interval
  LOG_LEVEL                   debug | info | warn | error
  LOG_FORMAT                  json | text
  CORS_ORIGINS                comma separated
*/
package config

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port          int
	DBDriver      string
	DBDSN         string
	RateSchedules string
	JWTSecret     string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	RabbitMQURL string
	EventsQueue string

	SLADays          int
	SLACheckInterval time.Duration

	LogLevel    string
	LogFormat   string
	CORSOrigins []string
}

// Load reads the environment, then parses args (without the program name).
func Load(args []string) (*Config, error) {
	port, err := getEnvInt("PORT", 8080)
	if err != nil {
		return nil, err
	}
	redisDB, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return nil, err
	}
	slaDays, err := getEnvInt("SLA_DAYS", 15)
	if err != nil {
		return nil, err
	}

	slaInterval, err := time.ParseDuration(getEnvOrDefault("SLA_CHECK_INTERVAL", "1h"))
	if err != nil {
		return nil, fmt.Errorf("SLA_CHECK_INTERVAL: %w", err)
	}

	cfg := &Config{
		Port:             port,
		DBDriver:         getEnvOrDefault("DB_DRIVER", "sqlite3"),
		DBDSN:            getEnvOrDefault("DB_DSN", "indemnity.db"),
		RateSchedules:    getEnvOrDefault("RATE_SCHEDULES", ""),
		JWTSecret:        getEnvOrDefault("JWT_SECRET", ""),
		RedisAddr:        getEnvOrDefault("REDIS_ADDR", ""),
		RedisPassword:    getEnvOrDefault("REDIS_PASSWORD", ""),
		RedisDB:          redisDB,
		RabbitMQURL:      getEnvOrDefault("RABBITMQ_URL", ""),
		EventsQueue:      getEnvOrDefault("EVENTS_QUEUE", "indemnity.transitions"),
		SLADays:          slaDays,
		SLACheckInterval: slaInterval,
		LogLevel:         strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info")),
		LogFormat:        strings.ToLower(getEnvOrDefault("LOG_FORMAT", "json")),
		CORSOrigins:      splitList(getEnvOrDefault("CORS_ORIGINS", "http://localhost:5173,http://localhost:8080")),
	}

	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.IntVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	fs.StringVar(&cfg.DBDriver, "db-driver", cfg.DBDriver, "database driver (sqlite3 or postgres)")
	fs.StringVar(&cfg.DBDSN, "db", cfg.DBDSN, "database DSN or SQLite path")
	fs.StringVar(&cfg.RateSchedules, "schedules", cfg.RateSchedules, "rate schedules JSON file")
	fs.IntVar(&cfg.SLADays, "sla-days", cfg.SLADays, "processing delay threshold in days")
	fs.DurationVar(&cfg.SLACheckInterval, "sla-interval", cfg.SLACheckInterval, "SLA monitor period, 0 disables it")
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("invalid flags: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.DBDriver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("DB_DRIVER must be sqlite3 or postgres, got %q", c.DBDriver)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT out of range: %d", c.Port)
	}
	if c.SLADays <= 0 {
		return fmt.Errorf("SLA_DAYS must be positive, got %d", c.SLADays)
	}
	if c.SLACheckInterval < 0 {
		return fmt.Errorf("SLA_CHECK_INTERVAL must not be negative, got %s", c.SLACheckInterval)
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.LogFormat)
	}
	if _, err := c.slogLevel(); err != nil {
		return err
	}
	return nil
}

// NewLogger builds the process logger described by LOG_LEVEL and LOG_FORMAT.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, _ := c.slogLevel()
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func (c *Config) slogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return level, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
