package observability

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

type TransportStatus struct {
	Name     string   `json:"name"`
	Addr     string   `json:"addr,omitempty"`
	Open     bool     `json:"open"`
	CanOpen  bool     `json:"can_open"`
	CanClose bool     `json:"can_close"`
	Channels []string `json:"channels"`
}

// StatusSource reports live transport state for the status surface.
type StatusSource interface {
	Status() TransportStatus
}

// NewStatusRouter serves /health, /metrics and /channels.
func NewStatusRouter(node string, logger zerolog.Logger, sources ...StatusSource) *gin.Engine {
	RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery(), observeRequests(node, logger))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "node": node})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/channels", func(c *gin.Context) {
		out := make([]TransportStatus, 0, len(sources))
		for _, src := range sources {
			out = append(out, src.Status())
		}
		c.JSON(http.StatusOK, gin.H{"transports": out})
	})
	return r
}
