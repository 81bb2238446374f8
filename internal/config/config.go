package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// EnvConfigPath overrides the default config location when --config is not given
const EnvConfigPath = "SUBEXTRACT_CONFIG"

// Server holds the media server connection settings
type Server struct {
	// Type is "jellyfin" or "emby"
	Type   string `toml:"type"`
	URL    string `toml:"url"`
	APIKey string `toml:"api_key"`
	// UserID scopes /Items queries to a user when the server requires it (Emby)
	UserID string `toml:"user_id"`
}

// PathMapping rewrites a path prefix as seen by the media server into a local prefix
type PathMapping struct {
	From string `toml:"from"`
	To   string `toml:"to"`
}

// Extraction holds subtitle extraction settings
type Extraction struct {
	// Mode is "server" (media server extracts and caches) or "ffmpeg" (local extraction)
	Mode         string        `toml:"mode"`
	CacheDir     string        `toml:"cache_dir"`
	FFmpegPath   string        `toml:"ffmpeg_path"`
	FFprobePath  string        `toml:"ffprobe_path"`
	PathMappings []PathMapping `toml:"path_mappings"`
}

// Trigger is the file form of a scheduler trigger
type Trigger struct {
	Type     string `toml:"type"`
	Cron     string `toml:"cron"`
	Interval string `toml:"interval"`
}

// Task holds task scheduling settings
type Task struct {
	Triggers []Trigger `toml:"triggers"`
}

// Watcher holds settings for extraction on library change notifications
type Watcher struct {
	Enabled         bool `toml:"enabled"`
	DebounceSeconds int  `toml:"debounce_seconds"`
}

// Web holds HTTP API settings
type Web struct {
	Enabled     bool   `toml:"enabled"`
	Bind        string `toml:"bind"`
	Port        int    `toml:"port"`
	AllowSubnet string `toml:"allow_subnet"`
	APIKey      string `toml:"api_key"`
}

// Database holds sqlite settings
type Database struct {
	Path        string `toml:"path"`
	CleanupDays int    `toml:"cleanup_days"`
}

// Log holds logging settings
type Log struct {
	Level      string `toml:"level"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

// Notifications holds settings for announcing finished task runs
type Notifications struct {
	// On lists the run outcomes that notify: "completed", "failed", "cancelled"
	On      []string            `toml:"on"`
	Discord DiscordNotification `toml:"discord"`
	Webhook WebhookNotification `toml:"webhook"`
}

// DiscordNotification configures a Discord webhook; empty WebhookURL disables it
type DiscordNotification struct {
	WebhookURL string `toml:"webhook_url"`
	Username   string `toml:"username"`
	AvatarURL  string `toml:"avatar_url"`
}

// WebhookNotification configures a generic webhook; empty URL disables it.
// Body is a text/template; see notification.DefaultWebhookBody.
type WebhookNotification struct {
	URL         string            `toml:"url"`
	Method      string            `toml:"method"`
	ContentType string            `toml:"content_type"`
	Body        string            `toml:"body"`
	Headers     map[string]string `toml:"headers"`
}

// Timeouts is the file form of TimeoutConfig, durations in Go syntax
type Timeouts struct {
	HTTPClient    string `toml:"http_client"`
	WebSocketPing string `toml:"websocket_ping"`
	Extraction    string `toml:"extraction"`
}

// Config is the complete subextract configuration
type Config struct {
	Locale     string        `toml:"locale"`
	DataDir    string        `toml:"data_dir"`
	Server     Server        `toml:"server"`
	Extraction Extraction    `toml:"extraction"`
	Task       Task          `toml:"task"`
	Watcher    Watcher       `toml:"watcher"`
	Web        Web           `toml:"web"`
	Database   Database      `toml:"database"`
	Notify     Notifications `toml:"notifications"`
	Log        Log           `toml:"log"`
	Timeouts   Timeouts      `toml:"timeouts"`
}

// Default returns a configuration with every optional field populated
func Default() Config {
	return Config{
		Locale:  "en",
		DataDir: "~/.local/share/subextract",
		Server: Server{
			Type: ServerTypeJellyfin,
			URL:  "http://localhost:8096",
		},
		Extraction: Extraction{
			Mode:        ExtractionModeServer,
			FFmpegPath:  "ffmpeg",
			FFprobePath: "ffprobe",
		},
		Watcher: Watcher{
			DebounceSeconds: 30,
		},
		Web: Web{
			Enabled: true,
			Bind:    "127.0.0.1",
			Port:    8097,
		},
		Database: Database{
			CleanupDays: 30,
		},
		Notify: Notifications{
			On: []string{"failed"},
		},
		Log: Log{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
		Timeouts: Timeouts{
			HTTPClient:    "30s",
			WebSocketPing: "30s",
			Extraction:    "30m",
		},
	}
}

const (
	ServerTypeJellyfin = "jellyfin"
	ServerTypeEmby     = "emby"

	ExtractionModeServer = "server"
	ExtractionModeFFmpeg = "ffmpeg"
)

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/subextract/config.toml")
}

// Load locates, parses, and validates a configuration file. A missing file is not an
// error; defaults are used and exists is false.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		data, err := os.ReadFile(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		if err := Parse(data, &cfg); err != nil {
			return nil, "", false, err
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

// Parse decodes TOML data over cfg. Unknown keys are rejected so typos surface early.
func Parse(data []byte, cfg *Config) error {
	decoder := toml.NewDecoder(strings.NewReader(string(data)))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(cfg); err != nil {
		var strictErr *toml.StrictMissingError
		if errors.As(err, &strictErr) {
			return fmt.Errorf("parse config: %s", strictErr.String())
		}
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", false, err
		}
		path = defaultPath
	}

	expanded, err := expandPath(path)
	if err != nil {
		return "", false, err
	}
	info, err := os.Stat(expanded)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return expanded, false, nil
		}
		return "", false, fmt.Errorf("stat config: %w", err)
	}
	if info.IsDir() {
		return "", false, fmt.Errorf("config path %q is a directory", expanded)
	}
	return expanded, true, nil
}

func expandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return filepath.Abs(path)
}
