// Package metrics exposes the relay's Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "syncroom"

// Drop reasons.
const (
	DropUnauthorized = "unauthorized"
	DropInvalid      = "invalid"
	DropRateLimited  = "rate_limited"
	DropBufferFull   = "send_buffer_full"
)

// Join results.
const (
	JoinAdmitted = "admitted"
	JoinPending  = "pending"
	JoinApproved = "approved"
	JoinRejected = "rejected"
	JoinExpired  = "expired"
	JoinFailed   = "failed"
)

type Collector struct {
	gatherer prometheus.Gatherer

	connectionsActive prometheus.Gauge
	messagesTotal     *prometheus.CounterVec
	messagesDropped   *prometheus.CounterVec
	joinResults       *prometheus.CounterVec
	handleDuration    *prometheus.HistogramVec
}

// NewCollector registers the metrics in reg. rooms reports the number of live rooms on every scrape.
func NewCollector(reg *prometheus.Registry, rooms func() int) *Collector {
	factory := promauto.With(reg)

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "rooms_active",
		Help:      "Number of live rooms",
	}, func() float64 {
		return float64(rooms())
	})

	return &Collector{
		gatherer: reg,

		connectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of open websocket connections",
		}),

		messagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Inbound websocket messages by type",
		}, []string{"type"}),

		messagesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dropped_total",
			Help:      "Messages dropped without effect by reason",
		}, []string{"reason"}),

		joinResults: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "join_results_total",
			Help:      "Outcomes of join attempts",
		}, []string{"result"}),

		handleDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "message_handle_duration_seconds",
			Help:      "Time spent handling an inbound message",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}, []string{"type"}),
	}
}

func (c *Collector) ConnectionOpened() {
	c.connectionsActive.Inc()
}

func (c *Collector) ConnectionClosed() {
	c.connectionsActive.Dec()
}

func (c *Collector) MessageHandled(messageType string, duration time.Duration) {
	c.messagesTotal.WithLabelValues(messageType).Inc()
	c.handleDuration.WithLabelValues(messageType).Observe(duration.Seconds())
}

func (c *Collector) MessageDropped(reason string) {
	c.messagesDropped.WithLabelValues(reason).Inc()
}

func (c *Collector) JoinResult(result string) {
	c.joinResults.WithLabelValues(result).Inc()
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
