package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/saltyorg/subextract/internal/scheduler"
)

func newInfoCommand(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the effective configuration and task schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cmdCtx.ensureConfig()
			if err != nil {
				return err
			}

			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			configPath := cmdCtx.configPath
			if !cmdCtx.configSeen {
				configPath += " (not found, defaults)"
			}

			settings := [][]string{
				{"Config", configPath},
				{"Server", fmt.Sprintf("%s %s", a.client.ServerName(), cfg.Server.URL)},
				{"Extraction mode", cfg.Extraction.Mode},
				{"Cache directory", cfg.Extraction.CacheDir},
				{"Database", a.db.Path()},
				{"Log file", cfg.Log.File},
				{"Watcher", enabled(cfg.Watcher.Enabled)},
				{"HTTP API", webSummary(cfg.Web.Enabled, cfg.Web.Bind, cfg.Web.Port)},
				{"API key", enabled(a.keys.Enabled())},
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Setting", "Value"}, settings))

			info, err := a.scheduler.Status(a.task.Key())
			if err != nil {
				return err
			}
			last := "-"
			if info.LastRun != nil {
				last = fmt.Sprintf("%s at %s", info.LastRun.Status, formatTime(&info.LastRun.StartedAt))
			}
			task := [][]string{
				{"Key", info.Key},
				{"Name", info.Name},
				{"Category", info.Category},
				{"Description", info.Description},
				{"Triggers", describeTriggers(info.Triggers)},
				{"Last run", last},
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Task", ""}, task))
			return nil
		},
	}
}

func describeTriggers(triggers []scheduler.TriggerInfo) string {
	if len(triggers) == 0 {
		return "manual only"
	}
	parts := make([]string, 0, len(triggers))
	for _, t := range triggers {
		switch t.Type {
		case scheduler.TriggerCron:
			parts = append(parts, "cron "+t.Cron)
		case scheduler.TriggerInterval:
			parts = append(parts, "every "+t.Interval)
		default:
			parts = append(parts, string(t.Type))
		}
	}
	return strings.Join(parts, ", ")
}

func enabled(v bool) string {
	if v {
		return "enabled"
	}
	return "disabled"
}

func webSummary(on bool, bind string, port int) string {
	if !on {
		return "disabled"
	}
	return fmt.Sprintf("%s:%d", bind, port)
}
