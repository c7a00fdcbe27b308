// Package node runs the light command service: a TCP transport whose
// channels acknowledge every command by echoing it, plus the client side
// that awaits those acknowledgements.
package node

import (
	"github.com/danmuck/commlink/internal/channel"
	"github.com/danmuck/commlink/internal/config"
	"github.com/danmuck/commlink/internal/demo"
	"github.com/danmuck/commlink/internal/protocol/encoding"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

type Node interface {
	NodeID() string
	Kind() string
	HTTPRouter() *gin.Engine
}

// BuildCodec returns the light command codec selected by cfg.
func BuildCodec(cfg config.Config) (*encoding.Codec[*demo.LightCommand], error) {
	mode, timed, err := cfg.TimestampMode()
	if err != nil {
		return nil, err
	}
	if timed {
		return demo.NewTimedCodec(mode), nil
	}
	return demo.NewCodec(), nil
}

// BuildFactory returns the per-connection channel factory for cfg.
func BuildFactory(cfg config.Config, codec channel.Codec[*demo.LightCommand], logger zerolog.Logger) channel.Factory[*demo.LightCommand] {
	chCfg := cfg.Channel
	if chCfg.Name == "" {
		chCfg.Name = cfg.Transport.Name
	}
	var f channel.Factory[*demo.LightCommand] = channel.NewFactory[*demo.LightCommand](codec, channel.WithConfig(chCfg), channel.WithLogger(logger))
	if cfg.Monitor {
		f = channel.NewMonitoredFactory(f, logger)
	}
	return f
}
