// Package config loads process settings from the environment.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
)

// Config is the full process configuration.
type Config struct {
	StorageConnectionString string
	TasksTable              string
	SessionsTable           string
	UsersTable              string
	EventsQueue             string

	RedisConnectionString string
	CacheTTL              time.Duration
	DeduperTTL            time.Duration

	Auth0Domain   string
	Auth0Audience string
	Auth0TestMode bool
	TestJWTSecret string
	JWKSCacheTTL  time.Duration

	FocusMinutes      int
	ShortBreakMinutes int
	LongBreakMinutes  int
	AlertPollInterval time.Duration
	AlertDebounce     time.Duration
	RemoteTimeout     time.Duration

	ListenAddr string
	Debug      bool
	LogFormat  string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("TASKS_TABLE", "Tasks")
	v.SetDefault("SESSIONS_TABLE", "PomodoroSessions")
	v.SetDefault("USERS_TABLE", "Users")
	v.SetDefault("CACHE_TTL", "10m")
	v.SetDefault("DEDUPER_TTL", "24h")
	v.SetDefault("JWKS_CACHE_TTL", "15m")
	v.SetDefault("FOCUS_MINUTES", 25)
	v.SetDefault("SHORT_BREAK_MINUTES", 5)
	v.SetDefault("LONG_BREAK_MINUTES", 15)
	v.SetDefault("ALERT_POLL_INTERVAL", "30s")
	v.SetDefault("ALERT_DEBOUNCE", "5m")
	v.SetDefault("REMOTE_TIMEOUT", "10s")
	v.SetDefault("LISTEN_ADDR", ":8080")
	v.SetDefault("LOG_FORMAT", "text")
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	return v
}

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	return load(newViper())
}

func load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		StorageConnectionString: v.GetString("STORAGE_CONNECTION_STRING"),
		TasksTable:              v.GetString("TASKS_TABLE"),
		SessionsTable:           v.GetString("SESSIONS_TABLE"),
		UsersTable:              v.GetString("USERS_TABLE"),
		EventsQueue:             v.GetString("EVENTS_QUEUE"),
		RedisConnectionString:   v.GetString("REDIS_CONNECTION_STRING"),
		CacheTTL:                v.GetDuration("CACHE_TTL"),
		DeduperTTL:              v.GetDuration("DEDUPER_TTL"),
		Auth0Domain:             v.GetString("AUTH0_DOMAIN"),
		Auth0Audience:           v.GetString("AUTH0_AUDIENCE"),
		Auth0TestMode:           v.GetBool("AUTH0_TEST_MODE"),
		TestJWTSecret:           v.GetString("TEST_JWT_SECRET"),
		JWKSCacheTTL:            v.GetDuration("JWKS_CACHE_TTL"),
		FocusMinutes:            v.GetInt("FOCUS_MINUTES"),
		ShortBreakMinutes:       v.GetInt("SHORT_BREAK_MINUTES"),
		LongBreakMinutes:        v.GetInt("LONG_BREAK_MINUTES"),
		AlertPollInterval:       v.GetDuration("ALERT_POLL_INTERVAL"),
		AlertDebounce:           v.GetDuration("ALERT_DEBOUNCE"),
		RemoteTimeout:           v.GetDuration("REMOTE_TIMEOUT"),
		ListenAddr:              v.GetString("LISTEN_ADDR"),
		Debug:                   v.GetBool("DEBUG"),
		LogFormat:               strings.ToLower(v.GetString("LOG_FORMAT")),
	}
	if port := v.GetString("FUNCTIONS_CUSTOMHANDLER_PORT"); port != "" {
		cfg.ListenAddr = ":" + port
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every missing or out of range setting.
func (c *Config) Validate() error {
	var errs []error
	if c.StorageConnectionString == "" || c.TasksTable == "" || c.SessionsTable == "" || c.UsersTable == "" {
		errs = append(errs, errors.New("missing storage config"))
	}
	if c.RedisConnectionString == "" {
		errs = append(errs, errors.New("missing redis config"))
	}
	if c.Auth0TestMode {
		if c.TestJWTSecret == "" {
			errs = append(errs, errors.New("TEST_JWT_SECRET must be set when AUTH0_TEST_MODE=1"))
		}
	} else if c.Auth0Domain == "" || c.Auth0Audience == "" {
		errs = append(errs, errors.New("missing Auth0 config"))
	}
	for name, n := range map[string]int{
		"FOCUS_MINUTES":       c.FocusMinutes,
		"SHORT_BREAK_MINUTES": c.ShortBreakMinutes,
		"LONG_BREAK_MINUTES":  c.LongBreakMinutes,
	} {
		if n <= 0 {
			errs = append(errs, fmt.Errorf("invalid %s: must be greater than zero", name))
		}
	}
	for name, d := range map[string]time.Duration{
		"DEDUPER_TTL":         c.DeduperTTL,
		"JWKS_CACHE_TTL":      c.JWKSCacheTTL,
		"ALERT_POLL_INTERVAL": c.AlertPollInterval,
		"ALERT_DEBOUNCE":      c.AlertDebounce,
		"REMOTE_TIMEOUT":      c.RemoteTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("invalid %s: must be a positive duration", name))
		}
	}
	if c.CacheTTL < 0 {
		errs = append(errs, errors.New("invalid CACHE_TTL: must not be negative"))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("invalid LOG_FORMAT %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

// Storage is the subset of settings needed to provision storage.
type Storage struct {
	ConnectionString string
	Tables           []string
	Queues           []string
	Debug            bool
}

// LoadStorage reads only the storage settings.
func LoadStorage() (*Storage, error) {
	return loadStorage(newViper())
}

func loadStorage(v *viper.Viper) (*Storage, error) {
	s := &Storage{
		ConnectionString: v.GetString("STORAGE_CONNECTION_STRING"),
		Tables:           []string{v.GetString("TASKS_TABLE"), v.GetString("SESSIONS_TABLE"), v.GetString("USERS_TABLE")},
		Debug:            v.GetBool("DEBUG"),
	}
	if q := v.GetString("EVENTS_QUEUE"); q != "" {
		s.Queues = append(s.Queues, q)
	}
	if s.ConnectionString == "" {
		return nil, errors.New("missing STORAGE_CONNECTION_STRING")
	}
	return s, nil
}

// RedisOptions accepts either a redis URL or the Azure style
// "host:port,password=...,ssl=True" connection string.
func RedisOptions(conn string) (*redis.Options, error) {
	if conn == "" {
		return nil, errors.New("missing redis config")
	}
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts, nil
	}
	parts := strings.Split(conn, ",")
	opts := &redis.Options{Addr: parts[0]}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(kv[1], "true") {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts, nil
}
