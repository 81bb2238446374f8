package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/saltyorg/subextract/internal/config"
	"github.com/saltyorg/subextract/internal/logging"
	"github.com/saltyorg/subextract/internal/scheduler"
	"github.com/saltyorg/subextract/internal/tasks"
	"github.com/saltyorg/subextract/internal/watcher"
	"github.com/saltyorg/subextract/internal/web"
	"github.com/saltyorg/subextract/internal/web/sse"
)

func newServeCommand(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler, library watcher and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cmdCtx.ensureConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg, cmdCtx.configPath, cmdCtx.configSeen, *cmdCtx.verbosity)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, configPath string, watchConfig bool, verbosity int) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	log.Info().
		Str("version", version).
		Str("server", a.client.ServerName()).
		Str("url", cfg.Server.URL).
		Str("mode", cfg.Extraction.Mode).
		Str("database", a.db.Path()).
		Msg("Starting subextract")

	broker := sse.NewBroker()
	defer broker.Stop()
	a.scheduler.SetSSEBroker(broker)

	a.notifier.Start()
	defer a.notifier.Stop()

	if err := a.scheduler.EnableMaintenance(time.Duration(cfg.Database.CleanupDays) * 24 * time.Hour); err != nil {
		return err
	}
	if err := a.scheduler.Start(); err != nil {
		return err
	}
	defer a.scheduler.Stop()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Web.Enabled {
		if (cfg.Web.Bind == "" || cfg.Web.Bind == "0.0.0.0" || cfg.Web.Bind == "::") && cfg.Web.AllowSubnet == "" {
			log.Warn().Msg("HTTP API is accessible from all interfaces without subnet restrictions. Consider setting web.bind or web.allow_subnet.")
		}
		if !a.keys.Enabled() {
			log.Warn().Msg("HTTP API has no API key. Set web.api_key or run 'subextract apikey rotate'.")
		}

		server := web.NewServer(web.Options{
			Bind:       cfg.Web.Bind,
			Port:       cfg.Web.Port,
			AllowedNet: cfg.AllowedNet(),
			Keys:       a.keys,
			Version:    version,
		}, a.scheduler, a.db, broker)
		g.Go(func() error { return server.Start(gctx) })
	}

	if cfg.Watcher.Enabled {
		w := watcher.New(a.client, a.client, a.extractor, tasks.Query(),
			time.Duration(cfg.Watcher.DebounceSeconds)*time.Second)
		w.SetSSEBroker(broker)
		g.Go(func() error { return ignoreCanceled(w.Run(gctx)) })
	}

	if watchConfig {
		g.Go(func() error {
			return config.Watch(gctx, configPath, func(next *config.Config) {
				reloadConfig(a.scheduler, a.task.Key(), next, verbosity)
			})
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	err = g.Wait()
	log.Info().Msg("Shutting down")
	return err
}

// reloadConfig applies the settings that can change without a restart
func reloadConfig(sched *scheduler.Manager, taskKey string, next *config.Config, verbosity int) {
	logging.Apply(next.Log, verbosity)
	if err := sched.SetConfiguredTriggers(taskKey, scheduler.TriggersFromConfig(next.Task.Triggers)); err != nil {
		log.Error().Err(err).Msg("Failed to apply reloaded triggers")
		return
	}
	log.Info().Msg("Configuration reloaded")
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
