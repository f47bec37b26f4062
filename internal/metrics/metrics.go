// Package metrics declares the core's Prometheus collectors, adapted from
// the teacher's root metrics.go: one package-level registry, a Collector
// type exposing the typed setters each actor calls, and an HTTP handler for
// the scrape endpoint.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	busDropsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "overlay_bus_drops_total",
		Help: "Total envelopes dropped because a subscriber mailbox was full",
	}, []string{"topic"})

	busSubscribers = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "overlay_bus_subscribers",
		Help: "Current subscriber count per topic",
	}, []string{"topic"})

	breakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "overlay_breaker_state",
		Help: "Circuit breaker state per service (0=closed, 1=half_open, 2=open)",
	}, []string{"service"})

	timerCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "overlay_timers_armed",
		Help: "Currently armed timers in the shared Timer Wheel",
	})

	producerInterruptCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "overlay_producer_interrupt_count",
		Help: "Current length of the Producer's interrupt stack",
	})

	producerTimerCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "overlay_producer_timer_count",
		Help: "Current number of timers armed by the Producer",
	})

	producerVersion = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "overlay_producer_version",
		Help: "Monotonic version counter of the last Producer broadcast",
	})

	correlationConfidence = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "overlay_correlation_confidence",
		Help:    "Confidence score distribution of emitted correlations",
		Buckets: []float64{0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
	})

	oauthRefreshTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "overlay_oauth_refresh_total",
		Help: "Total OAuth refresh attempts by service and outcome",
	}, []string{"service", "outcome"})

	wsReconnectsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "overlay_ws_reconnects_total",
		Help: "Total WebSocket reconnect attempts by connection name",
	}, []string{"connection"})
)

func init() {
	prometheus.MustRegister(
		busDropsTotal,
		busSubscribers,
		breakerState,
		timerCount,
		producerInterruptCount,
		producerTimerCount,
		producerVersion,
		correlationConfidence,
		oauthRefreshTotal,
		wsReconnectsTotal,
	)
}

// Collector is the typed facade every actor uses to report into Prometheus,
// so no package outside internal/metrics imports prometheus directly.
type Collector struct{}

// New returns a Collector. There is exactly one process-wide registry, so
// this carries no state; it exists to give call sites a named collaborator
// to accept (and to satisfy the producer.Telemetry interface without a
// global).
func New() *Collector { return &Collector{} }

func (c *Collector) RecordBusDrop(topic string) { busDropsTotal.WithLabelValues(topic).Inc() }

func (c *Collector) SetBusSubscribers(topic string, n int) {
	busSubscribers.WithLabelValues(topic).Set(float64(n))
}

func (c *Collector) SetBreakerState(service string, state int) {
	breakerState.WithLabelValues(service).Set(float64(state))
}

func (c *Collector) SetTimerCount(n int) { timerCount.Set(float64(n)) }

// ObserveProducerState implements producer.Telemetry.
func (c *Collector) ObserveProducerState(interruptCount, timerCnt int, version uint64) {
	producerInterruptCount.Set(float64(interruptCount))
	producerTimerCount.Set(float64(timerCnt))
	producerVersion.Set(float64(version))
}

func (c *Collector) ObserveCorrelationConfidence(confidence float64) {
	correlationConfidence.Observe(confidence)
}

func (c *Collector) RecordOAuthRefresh(service, outcome string) {
	oauthRefreshTotal.WithLabelValues(service, outcome).Inc()
}

func (c *Collector) RecordWSReconnect(connection string) {
	wsReconnectsTotal.WithLabelValues(connection).Inc()
}

// Handler returns the HTTP handler to mount at the scrape endpoint.
func Handler() http.Handler { return promhttp.Handler() }
