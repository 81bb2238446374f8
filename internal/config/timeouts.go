package config

import (
	"fmt"
	"time"
)

// TimeoutConfig holds timeout settings for various operations.
type TimeoutConfig struct {
	// HTTPClient is the timeout for HTTP client requests to the media server. Default: 30s
	HTTPClient time.Duration

	// WebSocketPing is the interval between WebSocket keepalive pings.
	// Default: 30s
	WebSocketPing time.Duration

	// Extraction bounds a single ffmpeg invocation or subtitle download.
	// Default: 30m
	Extraction time.Duration
}

// DefaultTimeoutConfig returns the default timeout configuration
func DefaultTimeoutConfig() *TimeoutConfig {
	return &TimeoutConfig{
		HTTPClient:    30 * time.Second,
		WebSocketPing: 30 * time.Second,
		Extraction:    30 * time.Minute,
	}
}

// global instance that can be set at startup
var globalTimeouts = DefaultTimeoutConfig()

// SetGlobalTimeouts sets the global timeout configuration
func SetGlobalTimeouts(cfg *TimeoutConfig) {
	globalTimeouts = cfg
}

// GetTimeouts returns the global timeout configuration
func GetTimeouts() *TimeoutConfig {
	return globalTimeouts
}

// TimeoutConfig parses the [timeouts] section, falling back to defaults for empty values
func (c *Config) TimeoutConfig() (*TimeoutConfig, error) {
	out := DefaultTimeoutConfig()
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"timeouts.http_client", c.Timeouts.HTTPClient, &out.HTTPClient},
		{"timeouts.websocket_ping", c.Timeouts.WebSocketPing, &out.WebSocketPing},
		{"timeouts.extraction", c.Timeouts.Extraction, &out.Extraction},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("%s: invalid duration %q", f.name, f.raw)
		}
		*f.dst = d
	}
	return out, nil
}
