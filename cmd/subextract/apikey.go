package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/saltyorg/subextract/internal/auth"
	"github.com/saltyorg/subextract/internal/database"
)

func newAPIKeyCommand(cmdCtx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage the HTTP API key",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "rotate",
		Short: "Generate a new API key, replacing the stored one",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withKeyService(cmdCtx, func(keys *auth.KeyService) error {
				key, err := keys.Rotate()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), key)
				fmt.Fprintln(cmd.ErrOrStderr(), "Store this key now; only its hash is kept.")
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "revoke",
		Short: "Remove the stored API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withKeyService(cmdCtx, func(keys *auth.KeyService) error {
				if err := keys.Revoke(); err != nil {
					return err
				}
				if keys.Enabled() {
					fmt.Fprintln(cmd.OutOrStdout(), "Stored key revoked; web.api_key from the config file still applies")
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), "Stored key revoked; the HTTP API is now open")
				}
				return nil
			})
		},
	})

	return cmd
}

func withKeyService(cmdCtx *commandContext, fn func(*auth.KeyService) error) error {
	cfg, err := cmdCtx.ensureConfig()
	if err != nil {
		return err
	}
	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(auth.NewKeyService(db, cfg.Web.APIKey))
}
