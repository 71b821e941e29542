package main

import (
	"github.com/spf13/cobra"

	"github.com/syncline-dev/syncline/internal/config"
)

func validateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate syncline.yaml without starting the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				cfg *config.Config
				err error
			)
			if configPath != "" {
				cfg, err = config.LoadFile(configPath)
			} else {
				cfg, err = config.LoadFromWorkingDir()
			}
			if err != nil {
				return err
			}

			success("%s is valid", cfg.Path())
			info("address: %s", cfg.Server.Address)
			info("store backend: %s", cfg.Store.Backend)
			if cfg.Manager.MaxSessions > 0 {
				info("max sessions: %d", cfg.Manager.MaxSessions)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to syncline.yaml")

	return cmd
}
