package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every recognized ORDER_SYNC_* option.
type Config struct {
	StreamURL string
	RESTURL   string
	AuthToken string

	RestaurantID string

	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration

	PollIntervalDisconnected time.Duration
	PollIntervalConnected    time.Duration
	ServerErrorCooldown      time.Duration

	HealthTimeout      time.Duration
	HealthMaxWait      time.Duration
	HealthPollInterval time.Duration

	ConnectTimeout time.Duration
	RequestTimeout time.Duration

	Port          string
	GinMode       string
	LogLevel      string
	AllowedOrigin string
}

func Default() Config {
	return Config{
		StreamURL:                "ws://localhost:8080/ws/websocket",
		RESTURL:                  "http://localhost:8080/api",
		MaxReconnectAttempts:     10,
		ReconnectBaseDelay:       time.Second,
		ReconnectMaxDelay:        30 * time.Second,
		PollIntervalDisconnected: 10 * time.Second,
		PollIntervalConnected:    30 * time.Second,
		ServerErrorCooldown:      5 * time.Second,
		HealthTimeout:            2 * time.Second,
		HealthMaxWait:            30 * time.Second,
		HealthPollInterval:       2 * time.Second,
		ConnectTimeout:           10 * time.Second,
		RequestTimeout:           10 * time.Second,
		Port:                     "8090",
		GinMode:                  "debug",
		LogLevel:                 "info",
		AllowedOrigin:            "*",
	}
}

// Load reads an optional .env file and then the process environment.
func Load(envFiles ...string) (Config, error) {
	// a missing .env is normal outside development
	_ = godotenv.Load(envFiles...)
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config from lookup, starting from Default. Every bad
// value is reported in one joined error.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	dur := func(key string, dst *time.Duration) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil || d < 0 {
			errs = append(errs, fmt.Errorf("%s: invalid duration %q", key, v))
			return
		}
		*dst = d
	}
	num := func(key string, dst *int) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || n < 0 {
			errs = append(errs, fmt.Errorf("%s: invalid integer %q", key, v))
			return
		}
		*dst = n
	}

	str("ORDER_SYNC_STREAM_URL", &cfg.StreamURL)
	str("ORDER_SYNC_REST_URL", &cfg.RESTURL)
	str("ORDER_SYNC_AUTH_TOKEN", &cfg.AuthToken)
	str("ORDER_SYNC_RESTAURANT_ID", &cfg.RestaurantID)
	num("ORDER_SYNC_MAX_RECONNECT_ATTEMPTS", &cfg.MaxReconnectAttempts)
	dur("ORDER_SYNC_RECONNECT_BASE_DELAY", &cfg.ReconnectBaseDelay)
	dur("ORDER_SYNC_RECONNECT_MAX_DELAY", &cfg.ReconnectMaxDelay)
	dur("ORDER_SYNC_POLL_INTERVAL_DISCONNECTED", &cfg.PollIntervalDisconnected)
	dur("ORDER_SYNC_POLL_INTERVAL_CONNECTED", &cfg.PollIntervalConnected)
	dur("ORDER_SYNC_SERVER_ERROR_COOLDOWN", &cfg.ServerErrorCooldown)
	dur("ORDER_SYNC_HEALTH_TIMEOUT", &cfg.HealthTimeout)
	dur("ORDER_SYNC_HEALTH_MAX_WAIT", &cfg.HealthMaxWait)
	dur("ORDER_SYNC_HEALTH_POLL_INTERVAL", &cfg.HealthPollInterval)
	dur("ORDER_SYNC_CONNECT_TIMEOUT", &cfg.ConnectTimeout)
	dur("ORDER_SYNC_REQUEST_TIMEOUT", &cfg.RequestTimeout)
	str("PORT", &cfg.Port)
	str("GIN_MODE", &cfg.GinMode)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("ORDER_SYNC_ALLOWED_ORIGIN", &cfg.AllowedOrigin)

	if err := cfg.Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return cfg, errors.Join(errs...)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.StreamURL == "" {
		return errors.New("ORDER_SYNC_STREAM_URL is not set")
	}
	if c.RESTURL == "" {
		return errors.New("ORDER_SYNC_REST_URL is not set")
	}
	if c.ReconnectBaseDelay > c.ReconnectMaxDelay {
		return fmt.Errorf("reconnect base delay %s exceeds max delay %s", c.ReconnectBaseDelay, c.ReconnectMaxDelay)
	}
	if c.PollIntervalDisconnected <= 0 {
		return errors.New("ORDER_SYNC_POLL_INTERVAL_DISCONNECTED must be positive")
	}
	return nil
}
