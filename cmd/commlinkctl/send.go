package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/commlink/internal/demo"
	"github.com/danmuck/commlink/internal/node"
	"github.com/danmuck/commlink/internal/observability"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func sendCmd() *cobra.Command {
	var (
		configPath string
		addr       string
		light      uint8
		on         bool
		count      int
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send light commands and wait for each acknowledgement",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if count < 1 || int(light)+count > 256 {
				return fmt.Errorf("count must keep light ids within 0-255")
			}
			logger := observability.InitLogger("commlinkctl-send")

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			client, err := node.Dial(ctx, addr, cfg, logger)
			if err != nil {
				return err
			}
			defer client.Close()

			var outMu sync.Mutex
			g, gctx := errgroup.WithContext(ctx)
			for i := 0; i < count; i++ {
				req := &demo.LightCommand{LightID: light + uint8(i), On: on, Stamp: time.Now()}
				g.Go(func() error {
					start := time.Now()
					resp, err := client.Await(gctx, req, timeout)
					if err != nil {
						return fmt.Errorf("%s: %w", req, err)
					}
					outMu.Lock()
					fmt.Fprintf(cmd.OutOrStdout(), "ack %s in %s\n", resp, time.Since(start).Round(time.Microsecond))
					outMu.Unlock()
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}
			s := client.Stats()
			fmt.Fprintf(cmd.OutOrStdout(), "matched=%d expired=%d unmatched=%d\n", s.Matched, s.Expired, s.Unmatched)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "TOML config file")
	cmd.Flags().StringVarP(&addr, "addr", "a", "127.0.0.1:4000", "Service address")
	cmd.Flags().Uint8VarP(&light, "light", "l", 1, "First light id")
	cmd.Flags().BoolVar(&on, "on", true, "Switch lights on (false switches off)")
	cmd.Flags().IntVarP(&count, "count", "n", 1, "Number of concurrent commands, one light id each")
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 2*time.Second, "Per-command acknowledgement timeout")

	return cmd
}
