package main

import (
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/saltyorg/subextract/internal/auth"
	"github.com/saltyorg/subextract/internal/config"
	"github.com/saltyorg/subextract/internal/database"
	"github.com/saltyorg/subextract/internal/encoder"
	"github.com/saltyorg/subextract/internal/extractor"
	"github.com/saltyorg/subextract/internal/localization"
	"github.com/saltyorg/subextract/internal/mediaserver"
	"github.com/saltyorg/subextract/internal/notification"
	"github.com/saltyorg/subextract/internal/plugin"
	"github.com/saltyorg/subextract/internal/scheduler"
	"github.com/saltyorg/subextract/internal/tasks"
)

// app holds the components shared by the commands that run the task
type app struct {
	cfg       *config.Config
	db        *database.Manager
	client    *mediaserver.Client
	extractor *extractor.SubtitlesExtractor
	task      *tasks.ExtractSubtitlesTask
	scheduler *scheduler.Manager
	notifier  *notification.Manager
	keys      *auth.KeyService
}

// newApp opens the database and wires the extraction pipeline to the scheduler
func newApp(cfg *config.Config) (*app, error) {
	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	client := mediaserver.New(mediaserver.ServerConfig{
		Type:   cfg.Server.Type,
		URL:    cfg.Server.URL,
		APIKey: cfg.Server.APIKey,
		UserID: cfg.Server.UserID,
	})

	enc, err := encoder.New(cfg.Extraction, client)
	if err != nil {
		db.Close()
		return nil, err
	}
	ex := extractor.New(encoder.NewRecorder(enc, db))

	loc := localization.New(cfg.Locale)
	plugin.SetCurrent(plugin.Descriptor{
		Name:        loc.GetLocalizedString(localization.TaskExtractSubtitles),
		Description: loc.GetLocalizedString(localization.TaskExtractSubtitlesDescription),
		Version:     version,
	})

	notifier, err := newNotifier(cfg.Notify)
	if err != nil {
		db.Close()
		return nil, err
	}

	task := tasks.NewExtractSubtitlesTask(client, ex, loc)
	sched := scheduler.NewManager(db, filepath.Join(cfg.DataDir, "locks"))
	if err := sched.SetConfiguredTriggers(task.Key(), scheduler.TriggersFromConfig(cfg.Task.Triggers)); err != nil {
		db.Close()
		return nil, fmt.Errorf("task triggers: %w", err)
	}
	if err := sched.Register(task); err != nil {
		db.Close()
		return nil, err
	}
	sched.SetRunListener(notifier)

	log.Debug().
		Str("server", client.ServerName()).
		Str("mode", cfg.Extraction.Mode).
		Str("language", loc.Language().String()).
		Str("database", db.Path()).
		Msg("Components initialized")

	return &app{
		cfg:       cfg,
		db:        db,
		client:    client,
		extractor: ex,
		task:      task,
		scheduler: sched,
		notifier:  notifier,
		keys:      auth.NewKeyService(db, cfg.Web.APIKey),
	}, nil
}

// newNotifier builds the providers configured under [notifications]
func newNotifier(cfg config.Notifications) (*notification.Manager, error) {
	events := make([]notification.EventType, 0, len(cfg.On))
	for _, on := range cfg.On {
		ev, err := notification.ParseEventType(on)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}

	var providers []notification.Provider
	if cfg.Discord.WebhookURL != "" {
		providers = append(providers, notification.NewDiscordProvider(notification.DiscordConfig{
			WebhookURL: cfg.Discord.WebhookURL,
			Username:   cfg.Discord.Username,
			AvatarURL:  cfg.Discord.AvatarURL,
		}))
	}
	if cfg.Webhook.URL != "" {
		webhook, err := notification.NewWebhookProvider(notification.WebhookConfig{
			URL:         cfg.Webhook.URL,
			Method:      cfg.Webhook.Method,
			Body:        cfg.Webhook.Body,
			Headers:     cfg.Webhook.Headers,
			ContentType: cfg.Webhook.ContentType,
		})
		if err != nil {
			return nil, fmt.Errorf("notifications.webhook: %w", err)
		}
		providers = append(providers, webhook)
	}

	return notification.NewManager(events, providers...), nil
}

func (a *app) Close() error {
	return a.db.Close()
}
