package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

func (c *Config) normalize() error {
	c.Server.Type = strings.ToLower(strings.TrimSpace(c.Server.Type))
	c.Server.URL = strings.TrimRight(strings.TrimSpace(c.Server.URL), "/")
	c.Extraction.Mode = strings.ToLower(strings.TrimSpace(c.Extraction.Mode))
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	for i := range c.Notify.On {
		c.Notify.On[i] = strings.ToLower(strings.TrimSpace(c.Notify.On[i]))
	}

	dataDir, err := expandPath(c.DataDir)
	if err != nil {
		return fmt.Errorf("data_dir: %w", err)
	}
	c.DataDir = dataDir

	if c.Database.Path == "" {
		c.Database.Path = filepath.Join(c.DataDir, "subextract.db")
	} else if c.Database.Path, err = expandPath(c.Database.Path); err != nil {
		return fmt.Errorf("database.path: %w", err)
	}

	if c.Log.File == "" {
		c.Log.File = filepath.Join(c.DataDir, "subextract.log")
	} else if c.Log.File, err = expandPath(c.Log.File); err != nil {
		return fmt.Errorf("log.file: %w", err)
	}

	if c.Extraction.CacheDir == "" {
		c.Extraction.CacheDir = filepath.Join(c.DataDir, "subtitles")
	} else if c.Extraction.CacheDir, err = expandPath(c.Extraction.CacheDir); err != nil {
		return fmt.Errorf("extraction.cache_dir: %w", err)
	}

	for i := range c.Task.Triggers {
		c.Task.Triggers[i].Type = strings.ToLower(strings.TrimSpace(c.Task.Triggers[i].Type))
	}
	return nil
}

// Validate reports the first invalid setting
func (c *Config) Validate() error {
	switch c.Server.Type {
	case ServerTypeJellyfin, ServerTypeEmby:
	default:
		return fmt.Errorf("server.type must be %q or %q, got %q", ServerTypeJellyfin, ServerTypeEmby, c.Server.Type)
	}

	if c.Server.URL == "" {
		return errors.New("server.url is required")
	}
	u, err := url.Parse(c.Server.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("server.url must be an http(s) URL, got %q", c.Server.URL)
	}

	switch c.Extraction.Mode {
	case ExtractionModeServer:
	case ExtractionModeFFmpeg:
		if c.Extraction.FFmpegPath == "" || c.Extraction.FFprobePath == "" {
			return errors.New("extraction.ffmpeg_path and extraction.ffprobe_path are required in ffmpeg mode")
		}
	default:
		return fmt.Errorf("extraction.mode must be %q or %q, got %q", ExtractionModeServer, ExtractionModeFFmpeg, c.Extraction.Mode)
	}

	for i, m := range c.Extraction.PathMappings {
		if m.From == "" || m.To == "" {
			return fmt.Errorf("extraction.path_mappings[%d]: from and to are required", i)
		}
	}

	for i, t := range c.Task.Triggers {
		switch t.Type {
		case "cron":
			if t.Cron == "" {
				return fmt.Errorf("task.triggers[%d]: cron expression is required", i)
			}
			if _, err := cron.ParseStandard(t.Cron); err != nil {
				return fmt.Errorf("task.triggers[%d]: invalid cron expression %q: %w", i, t.Cron, err)
			}
		case "interval":
			d, err := time.ParseDuration(t.Interval)
			if err != nil || d <= 0 {
				return fmt.Errorf("task.triggers[%d]: invalid interval %q", i, t.Interval)
			}
		case "startup":
		default:
			return fmt.Errorf("task.triggers[%d]: unknown trigger type %q", i, t.Type)
		}
	}

	if c.Watcher.DebounceSeconds < 0 {
		return errors.New("watcher.debounce_seconds must not be negative")
	}

	if c.Web.Enabled {
		if c.Web.Port <= 0 || c.Web.Port > 65535 {
			return fmt.Errorf("web.port out of range: %d", c.Web.Port)
		}
		if c.Web.Bind != "" && net.ParseIP(c.Web.Bind) == nil {
			return fmt.Errorf("invalid web.bind address: %s", c.Web.Bind)
		}
		if c.Web.AllowSubnet != "" {
			if _, _, err := net.ParseCIDR(c.Web.AllowSubnet); err != nil {
				return fmt.Errorf("invalid web.allow_subnet CIDR: %s", c.Web.AllowSubnet)
			}
		}
	}

	for i, on := range c.Notify.On {
		switch on {
		case "completed", "failed", "cancelled":
		default:
			return fmt.Errorf("notifications.on[%d]: must be completed, failed or cancelled, got %q", i, on)
		}
	}
	for name, raw := range map[string]string{
		"notifications.discord.webhook_url": c.Notify.Discord.WebhookURL,
		"notifications.webhook.url":         c.Notify.Webhook.URL,
	} {
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%s must be an http(s) URL, got %q", name, raw)
		}
	}

	switch c.Log.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of trace, debug, info, warn, error, got %q", c.Log.Level)
	}

	if _, err := c.TimeoutConfig(); err != nil {
		return err
	}
	return nil
}

// AllowedNet returns the parsed web.allow_subnet, or nil when unrestricted
func (c *Config) AllowedNet() *net.IPNet {
	if c.Web.AllowSubnet == "" {
		return nil
	}
	_, n, err := net.ParseCIDR(c.Web.AllowSubnet)
	if err != nil {
		return nil
	}
	return n
}
