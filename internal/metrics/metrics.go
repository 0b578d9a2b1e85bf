// Package metrics exposes Prometheus collectors for the feed service.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	itemsCollectedTotal   prometheus.Counter
	itemsAdmittedTotal    prometheus.Counter
	itemsPromotedTotal    *prometheus.CounterVec
	itemsDroppedTotal     *prometheus.CounterVec
	itemsDeliveredTotal   *prometheus.CounterVec
	itemsInjectedTotal    prometheus.Counter
	oracleCallsTotal      *prometheus.CounterVec
	oracleLatencySeconds  prometheus.Histogram
	pollTickSeconds       *prometheus.HistogramVec
	sessionState          *prometheus.GaugeVec
	sessionRestartsTotal  *prometheus.CounterVec
	storePrunedTotal      *prometheus.CounterVec
	resourcePressureTotal *prometheus.CounterVec

	once sync.Once
)

func init() {
	Init()
}

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		itemsCollectedTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "feed_items_collected_total",
			Help: "Total candidate items extracted from the rendered feed.",
		})

		itemsAdmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "feed_items_admitted_total",
			Help: "Total items admitted to the raw store after deduplication.",
		})

		itemsPromotedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feed_items_promoted_total",
				Help: "Total items promoted into a stage, labeled by stage.",
			},
			[]string{"stage"},
		)

		itemsDroppedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feed_items_dropped_total",
				Help: "Total items dropped, labeled by stage and reason.",
			},
			[]string{"stage", "reason"},
		)

		itemsDeliveredTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feed_items_delivered_total",
				Help: "Total items handed to the distribution sink, labeled by category.",
			},
			[]string{"category"},
		)

		itemsInjectedTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "feed_items_injected_total",
			Help: "Total side-channel items injected with the override flag.",
		})

		oracleCallsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feed_oracle_calls_total",
				Help: "Total scoring oracle calls, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		oracleLatencySeconds = promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "feed_oracle_latency_seconds",
			Help:    "Histogram of scoring oracle call latencies.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
		})

		pollTickSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "feed_poll_tick_seconds",
				Help:    "Histogram of collector poll tick durations, labeled by outcome.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"outcome"},
		)

		sessionState = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "feed_session_state",
				Help: "Current collector session state (1 for the active state, 0 otherwise).",
			},
			[]string{"state"},
		)

		sessionRestartsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feed_session_restarts_total",
				Help: "Total browser session restarts, labeled by trigger.",
			},
			[]string{"trigger"},
		)

		storePrunedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feed_store_pruned_total",
				Help: "Total items pruned from stores, labeled by stage.",
			},
			[]string{"stage"},
		)

		resourcePressureTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feed_resource_pressure_total",
				Help: "Total resource pressure events, labeled by severity.",
			},
			[]string{"severity"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCollected adds to the extracted candidate counter.
func ObserveCollected(n int) {
	if n > 0 {
		itemsCollectedTotal.Add(float64(n))
	}
}

// ObserveAdmitted adds to the admitted item counter.
func ObserveAdmitted(n int) {
	if n > 0 {
		itemsAdmittedTotal.Add(float64(n))
	}
}

// ObservePromoted records items promoted into a stage.
func ObservePromoted(stage string, n int) {
	if n > 0 {
		itemsPromotedTotal.WithLabelValues(stage).Add(float64(n))
	}
}

// ObserveDrop records a dropped item.
func ObserveDrop(stage, reason string) {
	itemsDroppedTotal.WithLabelValues(stage, reason).Inc()
}

// ObserveDelivered records items handed to the sink for a category.
func ObserveDelivered(category string, n int) {
	if n > 0 {
		itemsDeliveredTotal.WithLabelValues(category).Add(float64(n))
	}
}

// ObserveInjected increments the side-channel injection counter.
func ObserveInjected() {
	itemsInjectedTotal.Inc()
}

// ObserveOracleCall records an oracle call outcome and latency.
func ObserveOracleCall(outcome string, duration time.Duration) {
	oracleCallsTotal.WithLabelValues(outcome).Inc()
	oracleLatencySeconds.Observe(duration.Seconds())
}

// ObservePollTick records a collector tick duration.
func ObservePollTick(outcome string, duration time.Duration) {
	pollTickSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
}

// SetSessionState marks the given state active and all others inactive.
func SetSessionState(state string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1.0
		}
		sessionState.WithLabelValues(s).Set(v)
	}
}

// ObserveSessionRestart increments the restart counter for a trigger.
func ObserveSessionRestart(trigger string) {
	sessionRestartsTotal.WithLabelValues(trigger).Inc()
}

// ObservePruned records items pruned from a stage store.
func ObservePruned(stage string, n int) {
	if n > 0 {
		storePrunedTotal.WithLabelValues(stage).Add(float64(n))
	}
}

// ObserveResourcePressure records a pressure event by severity.
func ObserveResourcePressure(severity string) {
	resourcePressureTotal.WithLabelValues(severity).Inc()
}
