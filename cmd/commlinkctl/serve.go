package main

import (
	"github.com/danmuck/commlink/internal/node"
	"github.com/danmuck/commlink/internal/observability"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	var (
		configPath string
		port       int
		statusAddr string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the light command service until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Transport.ListenPort = port
			}
			if cmd.Flags().Changed("status-addr") {
				cfg.StatusAddr = statusAddr
			}

			logger := observability.InitLogger(cfg.Name)
			svc, err := node.NewService(cfg, logger)
			if err != nil {
				return err
			}
			return svc.Run()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "TOML config file")
	cmd.Flags().IntVarP(&port, "port", "p", 4000, "TCP listen port")
	cmd.Flags().StringVar(&statusAddr, "status-addr", "", "HTTP status listen address (empty disables)")

	return cmd
}
