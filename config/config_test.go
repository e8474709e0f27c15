package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv(lookupFrom(nil))
	require.NoError(t, err)

	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 10, cfg.MaxReconnectAttempts)
	assert.Equal(t, time.Second, cfg.ReconnectBaseDelay)
	assert.Equal(t, 30*time.Second, cfg.ReconnectMaxDelay)
	assert.Equal(t, 10*time.Second, cfg.PollIntervalDisconnected)
	assert.Equal(t, 30*time.Second, cfg.PollIntervalConnected)
	assert.Equal(t, 5*time.Second, cfg.ServerErrorCooldown)
	assert.Equal(t, 2*time.Second, cfg.HealthTimeout)
}

func TestFromEnv_Overrides(t *testing.T) {
	cfg, err := FromEnv(lookupFrom(map[string]string{
		"ORDER_SYNC_STREAM_URL":             "ws://orders.local/ws/websocket",
		"ORDER_SYNC_REST_URL":               "http://orders.local/api",
		"ORDER_SYNC_RESTAURANT_ID":          " r-1 ",
		"ORDER_SYNC_MAX_RECONNECT_ATTEMPTS": "3",
		"ORDER_SYNC_RECONNECT_BASE_DELAY":   "500ms",
		"ORDER_SYNC_SERVER_ERROR_COOLDOWN":  "1m",
		"PORT":                              "9000",
		"ORDER_SYNC_ALLOWED_ORIGIN":         "http://kitchen.local",
	}))
	require.NoError(t, err)

	assert.Equal(t, "ws://orders.local/ws/websocket", cfg.StreamURL)
	assert.Equal(t, "http://orders.local/api", cfg.RESTURL)
	assert.Equal(t, "r-1", cfg.RestaurantID)
	assert.Equal(t, 3, cfg.MaxReconnectAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.ReconnectBaseDelay)
	assert.Equal(t, time.Minute, cfg.ServerErrorCooldown)
	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, "http://kitchen.local", cfg.AllowedOrigin)
}

func TestFromEnv_ReportsEveryBadValue(t *testing.T) {
	_, err := FromEnv(lookupFrom(map[string]string{
		"ORDER_SYNC_MAX_RECONNECT_ATTEMPTS": "many",
		"ORDER_SYNC_HEALTH_TIMEOUT":         "soon",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ORDER_SYNC_MAX_RECONNECT_ATTEMPTS")
	assert.Contains(t, err.Error(), "ORDER_SYNC_HEALTH_TIMEOUT")
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.ReconnectBaseDelay = time.Minute
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.StreamURL = ""
	assert.Error(t, cfg.Validate())

	assert.NoError(t, Default().Validate())
}
