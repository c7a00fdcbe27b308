package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "commlink",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total status HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "commlink",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Status HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	channelPackets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "commlink",
			Subsystem: "channel",
			Name:      "packets_total",
			Help:      "Packets crossing monitored channels.",
		},
		[]string{"channel", "direction", "success"},
	)
	cacheChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "commlink",
			Subsystem: "cache",
			Name:      "entry_changes_total",
			Help:      "Correlation cache entry transitions.",
		},
		[]string{"change"},
	)
	cacheAwaitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "commlink",
			Subsystem: "cache",
			Name:      "await_duration_seconds",
			Help:      "Time spent awaiting a correlated response.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)
	transportOpen = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "commlink",
			Subsystem: "transport",
			Name:      "open",
			Help:      "1 while the transport is open.",
		},
		[]string{"transport"},
	)
	transportChannels = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "commlink",
			Subsystem: "transport",
			Name:      "channels",
			Help:      "Channels currently owned by the transport.",
		},
		[]string{"transport"},
	)
	transportAcceptErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "commlink",
			Subsystem: "transport",
			Name:      "accept_errors_total",
			Help:      "Accept failures other than listener shutdown.",
		},
		[]string{"transport"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			channelPackets,
			cacheChanges, cacheAwaitDuration,
			transportOpen, transportChannels, transportAcceptErrors,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordPacket(channel, direction string, success bool) {
	RegisterMetrics()
	channelPackets.WithLabelValues(channel, direction, strconv.FormatBool(success)).Inc()
}

func RecordCacheChange(change string) {
	RegisterMetrics()
	cacheChanges.WithLabelValues(change).Inc()
}

func RecordAwait(outcome string, duration time.Duration) {
	RegisterMetrics()
	cacheAwaitDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func SetTransportOpen(transport string, open bool) {
	RegisterMetrics()
	v := 0.0
	if open {
		v = 1
	}
	transportOpen.WithLabelValues(transport).Set(v)
}

func SetTransportChannels(transport string, n int) {
	RegisterMetrics()
	transportChannels.WithLabelValues(transport).Set(float64(n))
}

func RecordAcceptError(transport string) {
	RegisterMetrics()
	transportAcceptErrors.WithLabelValues(transport).Inc()
}
