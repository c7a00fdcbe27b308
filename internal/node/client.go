package node

import (
	"context"
	"fmt"
	"net"

	"github.com/danmuck/commlink/internal/channel"
	"github.com/danmuck/commlink/internal/channel/cache"
	"github.com/danmuck/commlink/internal/config"
	"github.com/danmuck/commlink/internal/demo"
	"github.com/rs/zerolog"
)

// Dial connects to a light service and returns a cached channel whose
// responses correlate by light id.
func Dial(ctx context.Context, addr string, cfg config.Config, logger zerolog.Logger) (*cache.Cache[*demo.LightCommand], error) {
	codec, err := BuildCodec(cfg)
	if err != nil {
		return nil, err
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	chCfg := cfg.Channel
	chCfg.Name = "client"
	var ch channel.Channel[*demo.LightCommand] = channel.NewStream[*demo.LightCommand](codec, conn, channel.WithConfig(chCfg), channel.WithLogger(logger))
	if cfg.Monitor {
		ch = channel.NewMonitored(ch, logger)
	}
	return cache.New(ch,
		cache.WithConfig[*demo.LightCommand](cfg.Cache),
		cache.WithMatcher(cache.MatchKey(demo.SameLight)),
		cache.WithLogger[*demo.LightCommand](logger),
	), nil
}
