package main

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/saltyorg/subextract/internal/config"
	"github.com/saltyorg/subextract/internal/mediaserver"
)

func newCheckCommand(cmdCtx *commandContext) *cobra.Command {
	var notify bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify the media server connection and extraction tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cmdCtx.ensureConfig()
			if err != nil {
				return err
			}

			client := mediaserver.New(mediaserver.ServerConfig{
				Type:   cfg.Server.Type,
				URL:    cfg.Server.URL,
				APIKey: cfg.Server.APIKey,
				UserID: cfg.Server.UserID,
			})

			ctx, cancel := context.WithTimeout(cmd.Context(), config.GetTimeouts().HTTPClient)
			defer cancel()

			if notify {
				notifier, err := newNotifier(cfg.Notify)
				if err != nil {
					return err
				}
				if err := notifier.Test(ctx); err != nil {
					return fmt.Errorf("test notification: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Test notification sent")
			}

			info, err := client.SystemInfo(ctx)
			if err != nil {
				return fmt.Errorf("%s at %s: %w", client.ServerName(), cfg.Server.URL, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %q version %s: ok\n", client.ServerName(), info.ServerName, info.Version)

			if cfg.Extraction.Mode != config.ExtractionModeFFmpeg {
				return nil
			}
			for _, tool := range []string{cfg.Extraction.FFmpegPath, cfg.Extraction.FFprobePath} {
				path, err := exec.LookPath(tool)
				if err != nil {
					return fmt.Errorf("%s not found: %w", tool, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", tool, path)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&notify, "notify", false, "Also send a test notification to every configured provider")
	return cmd
}
