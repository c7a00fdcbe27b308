package main

import (
	"fmt"
	"strings"

	"github.com/danmuck/commlink/internal/config"
	"github.com/spf13/cobra"
)

// loadConfig reads path when set and falls back to defaults otherwise.
func loadConfig(path string) (config.Config, error) {
	if strings.TrimSpace(path) == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage commlinkctl config files",
	}

	var overwrite bool
	initCmd := &cobra.Command{
		Use:   "init <path>",
		Short: "Write a config template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteTemplate(args[0], overwrite); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", args[0])
			return nil
		},
	}
	initCmd.Flags().BoolVar(&overwrite, "force", false, "Overwrite an existing file")

	checkCmd := &cobra.Command{
		Use:   "check <path>",
		Short: "Load and validate a config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok name=%s port=%d backlog=%d auto_check=%v\n",
				cfg.Name, cfg.Transport.ListenPort, cfg.Transport.Backlog, cfg.Transport.AutoCheckOpen)
			return nil
		},
	}

	cmd.AddCommand(initCmd, checkCmd)
	return cmd
}
