package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Backend names accepted by PARLEY_BACKEND.
const (
	BackendMemory  = "memory"
	BackendSurreal = "surreal"
	BackendRedis   = "redis"
)

var (
	// ErrMissingSetting is returned when a setting required by the selected backend is empty.
	ErrMissingSetting = errors.New("missing required setting")
	// ErrInvalidSetting is returned when a setting cannot be parsed or is out of range.
	ErrInvalidSetting = errors.New("invalid setting")
)

// Provider is the read-only view of the configuration handed to components.
type Provider interface {
	GetBackend() string
	GetDBURL() string
	GetDBNs() string
	GetDBDb() string
	GetDBUser() string
	GetDBPass() string
	GetDBQueryTimeout() time.Duration
	GetDBExecuteTimeout() time.Duration
	GetRedisAddr() string
	GetServerAddr() string
	GetSessionSecret() string
	GetTyping() Typing
	GetPresenceOfflineDebounce() time.Duration
	GetWriteTimeout() time.Duration
	GetLogFormat() string
	GetLogLevel() string
}

// Typing holds the typing indicator timings.
type Typing struct {
	ReannounceInterval time.Duration
	QuietPeriod        time.Duration
	StaleThreshold     time.Duration
}

// Config holds all configuration for the application.
type Config struct {
	Backend string

	DBUrl            string
	DBNs             string
	DBDb             string
	DBUser           string
	DBPass           string
	DBQueryTimeout   time.Duration
	DBExecuteTimeout time.Duration

	RedisAddr string

	ServerAddr    string
	SessionSecret string

	Typing                  Typing
	PresenceOfflineDebounce time.Duration
	WriteTimeout            time.Duration

	LogFormat string
	LogLevel  string
}

// Load reads configuration from a .env file (if present) and the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, relying on environment variables")
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config using lookup for every variable.
func FromEnv(lookup func(string) string) (*Config, error) {
	get := func(key, fallback string) string {
		if v := strings.TrimSpace(lookup(key)); v != "" {
			return v
		}
		return fallback
	}

	var errs []error
	duration := func(key string, fallback time.Duration) time.Duration {
		raw := lookup(key)
		if raw == "" {
			return fallback
		}
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			errs = append(errs, fmt.Errorf("%w: %s=%q", ErrInvalidSetting, key, raw))
			return fallback
		}
		return d
	}

	cfg := &Config{
		Backend:          strings.ToLower(get("PARLEY_BACKEND", BackendMemory)),
		DBUrl:            get("SURREAL_URL", ""),
		DBNs:             get("SURREAL_NS", ""),
		DBDb:             get("SURREAL_DB", ""),
		DBUser:           get("SURREAL_USER", ""),
		DBPass:           lookup("SURREAL_PASS"),
		DBQueryTimeout:   duration("DB_QUERY_TIMEOUT", 5*time.Second),
		DBExecuteTimeout: duration("DB_EXECUTE_TIMEOUT", 5*time.Second),
		RedisAddr:        get("REDIS_ADDR", "localhost:6379"),
		ServerAddr:       get("SERVER_ADDR", ":8080"),
		SessionSecret:    get("SESSION_SECRET", ""),
		Typing: Typing{
			ReannounceInterval: duration("TYPING_REANNOUNCE_INTERVAL", time.Second),
			QuietPeriod:        duration("TYPING_QUIET_PERIOD", 3*time.Second),
			StaleThreshold:     duration("TYPING_STALE_THRESHOLD", 5*time.Second),
		},
		PresenceOfflineDebounce: duration("PRESENCE_OFFLINE_DEBOUNCE", 0),
		WriteTimeout:            duration("WRITE_TIMEOUT", 5*time.Second),
		LogFormat:               get("LOG_FORMAT", "text"),
		LogLevel:                get("LOG_LEVEL", "info"),
	}

	errs = append(errs, cfg.validate()...)
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

func (c *Config) validate() []error {
	var errs []error
	switch c.Backend {
	case BackendMemory:
	case BackendSurreal:
		if c.DBUrl == "" || c.DBNs == "" || c.DBDb == "" {
			errs = append(errs, fmt.Errorf("%w: SURREAL_URL, SURREAL_NS and SURREAL_DB are required for the surreal backend", ErrMissingSetting))
		}
	case BackendRedis:
		if c.RedisAddr == "" {
			errs = append(errs, fmt.Errorf("%w: REDIS_ADDR", ErrMissingSetting))
		}
	default:
		errs = append(errs, fmt.Errorf("%w: PARLEY_BACKEND=%q", ErrInvalidSetting, c.Backend))
	}

	if c.Typing.ReannounceInterval <= 0 || c.Typing.QuietPeriod <= 0 {
		errs = append(errs, fmt.Errorf("%w: typing intervals must be positive", ErrInvalidSetting))
	}
	// A live writer refreshes at least once per quiet period, so the
	// staleness cutoff has to sit beyond it.
	if c.Typing.StaleThreshold <= c.Typing.QuietPeriod {
		errs = append(errs, fmt.Errorf("%w: TYPING_STALE_THRESHOLD (%s) must exceed TYPING_QUIET_PERIOD (%s)",
			ErrInvalidSetting, c.Typing.StaleThreshold, c.Typing.QuietPeriod))
	}
	return errs
}

func (c *Config) GetBackend() string                        { return c.Backend }
func (c *Config) GetDBURL() string                          { return c.DBUrl }
func (c *Config) GetDBNs() string                           { return c.DBNs }
func (c *Config) GetDBDb() string                           { return c.DBDb }
func (c *Config) GetDBUser() string                         { return c.DBUser }
func (c *Config) GetDBPass() string                         { return c.DBPass }
func (c *Config) GetDBQueryTimeout() time.Duration          { return c.DBQueryTimeout }
func (c *Config) GetDBExecuteTimeout() time.Duration        { return c.DBExecuteTimeout }
func (c *Config) GetRedisAddr() string                      { return c.RedisAddr }
func (c *Config) GetServerAddr() string                     { return c.ServerAddr }
func (c *Config) GetSessionSecret() string                  { return c.SessionSecret }
func (c *Config) GetTyping() Typing                         { return c.Typing }
func (c *Config) GetPresenceOfflineDebounce() time.Duration { return c.PresenceOfflineDebounce }
func (c *Config) GetWriteTimeout() time.Duration            { return c.WriteTimeout }
func (c *Config) GetLogFormat() string                      { return c.LogFormat }
func (c *Config) GetLogLevel() string                       { return c.LogLevel }
