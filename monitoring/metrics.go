package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "requests",
			Help: "Number of times a request succeeded",
		},
		[]string{"queue_id"},
	)

	requestFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "request_failures",
			Help: "Number of times a request failed",
		},
		[]string{"queue_id"},
	)

	scrapeLength = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scrape_length_seconds",
			Help:    "Time to finish processing one scrape iteration",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"queue_id"},
	)

	loginsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logins_total",
			Help: "Number of times the monitor re-authenticated",
		},
		[]string{"queue_id"},
	)

	entryTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entry_transitions_total",
			Help: "Entry status transitions recorded by reconciliation",
		},
		[]string{"queue_id", "from", "to"},
	)

	ledgerAppends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_appends_total",
			Help: "History ledger appends by outcome",
		},
		[]string{"queue_id", "result"},
	)

	queueEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_events_total",
			Help: "Queue open/close events recorded",
		},
		[]string{"queue_id", "event"},
	)

	monitorState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "monitor_state",
			Help: "1 for the poll driver's current state, 0 otherwise",
		},
		[]string{"queue_id", "state"},
	)
)

// Monitor records reconciliation and polling metrics. A nil *Monitor is
// valid and records nothing.
type Monitor struct{}

func NewMonitor() *Monitor {
	return &Monitor{}
}

// Handler exposes the default registry.
func (m *Monitor) Handler() http.Handler {
	return promhttp.Handler()
}

// TrackRequest records one poll cycle.
func (m *Monitor) TrackRequest(queueID string, ok bool, duration time.Duration) {
	if m == nil {
		return
	}
	if !ok {
		requestFailures.WithLabelValues(queueID).Inc()
		return
	}
	requestsTotal.WithLabelValues(queueID).Inc()
	scrapeLength.WithLabelValues(queueID).Observe(duration.Seconds())
}

func (m *Monitor) TrackLogin(queueID string) {
	if m == nil {
		return
	}
	loginsTotal.WithLabelValues(queueID).Inc()
}

func (m *Monitor) TrackTransition(queueID, from, to string) {
	if m == nil {
		return
	}
	entryTransitions.WithLabelValues(queueID, from, to).Inc()
}

func (m *Monitor) TrackLedger(queueID string, inserted, observed bool) {
	if m == nil {
		return
	}
	result := "duplicate"
	switch {
	case inserted:
		result = "inserted"
	case observed:
		result = "observed"
	}
	ledgerAppends.WithLabelValues(queueID, result).Inc()
}

func (m *Monitor) TrackQueueEvent(queueID, event string) {
	if m == nil {
		return
	}
	queueEvents.WithLabelValues(queueID, event).Inc()
}

// SetState marks current as the active state among all.
func (m *Monitor) SetState(queueID, current string, all []string) {
	if m == nil {
		return
	}
	for _, state := range all {
		value := 0.0
		if state == current {
			value = 1
		}
		monitorState.WithLabelValues(queueID, state).Set(value)
	}
}
