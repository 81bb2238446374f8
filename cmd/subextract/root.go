package main

import (
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/saltyorg/subextract/internal/config"
	"github.com/saltyorg/subextract/internal/logging"
)

type commandContext struct {
	configFlag *string
	verbosity  *int

	configOnce sync.Once
	config     *config.Config
	configPath string
	configSeen bool
	configErr  error
}

func newCommandContext(configFlag *string, verbosity *int) *commandContext {
	return &commandContext{configFlag: configFlag, verbosity: verbosity}
}

// ensureConfig loads the configuration once and applies the logging and timeout settings
func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, path, exists, err := config.Load(strings.TrimSpace(*c.configFlag))
		if err != nil {
			c.configErr = err
			return
		}

		timeouts, err := cfg.TimeoutConfig()
		if err != nil {
			c.configErr = err
			return
		}
		config.SetGlobalTimeouts(timeouts)
		logging.Apply(cfg.Log, *c.verbosity)

		if !exists {
			log.Warn().Str("path", path).Msg("Config file not found, using defaults")
		}

		c.config = cfg
		c.configPath = path
		c.configSeen = exists
	})
	return c.config, c.configErr
}

func newRootCommand() *cobra.Command {
	var configFlag string
	var verbosity int

	ctx := newCommandContext(&configFlag, &verbosity)

	rootCmd := &cobra.Command{
		Use:           "subextract",
		Short:         "Extract embedded subtitles from a Jellyfin or Emby library",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase verbosity (-v debug, -vv trace)")

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newRunCommand(ctx))
	rootCmd.AddCommand(newHistoryCommand(ctx))
	rootCmd.AddCommand(newInfoCommand(ctx))
	rootCmd.AddCommand(newCheckCommand(ctx))
	rootCmd.AddCommand(newAPIKeyCommand(ctx))
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "subextract %s (commit: %s, built: %s)\n", version, commit, date)
		},
	})

	return rootCmd
}
