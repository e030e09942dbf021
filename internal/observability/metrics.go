package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service. A nil
// *Metrics is valid and records nothing, which keeps tests free of the
// default-registry double-registration trap.
type Metrics struct {
	ActiveConversations prometheus.Gauge
	Operations          *prometheus.CounterVec
	ArchivedItems       prometheus.Counter
	RetrievedItems      prometheus.Counter
	ScoringDuration     prometheus.Histogram
	StoreErrors         *prometheus.CounterVec
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveConversations: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_conversations",
			Help:      "Number of conversations currently tracked.",
		}),
		Operations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Orchestrator operations by name and outcome.",
		}, []string{"operation", "outcome"}),
		ArchivedItems: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archived_items_total",
			Help:      "Messages evicted from live context windows.",
		}),
		RetrievedItems: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrieved_items_total",
			Help:      "Archived items reinstated into live context windows.",
		}),
		ScoringDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scoring_duration_ms",
			Help:      "Relevance scoring pass duration in milliseconds.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		}),
		StoreErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Durable store failures by operation.",
		}, []string{"operation"}),
	}
}

func (m *Metrics) ConversationCreated() {
	if m == nil {
		return
	}
	m.ActiveConversations.Inc()
}

func (m *Metrics) ConversationRemoved() {
	if m == nil {
		return
	}
	m.ActiveConversations.Dec()
}

func (m *Metrics) IncOperation(operation, outcome string) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) AddArchivedItems(n int) {
	if m == nil {
		return
	}
	m.ArchivedItems.Add(float64(n))
}

func (m *Metrics) AddRetrievedItems(n int) {
	if m == nil {
		return
	}
	m.RetrievedItems.Add(float64(n))
}

func (m *Metrics) ObserveScoring(d time.Duration) {
	if m == nil {
		return
	}
	m.ScoringDuration.Observe(float64(d.Milliseconds()))
}

func (m *Metrics) IncStoreError(operation string) {
	if m == nil {
		return
	}
	m.StoreErrors.WithLabelValues(operation).Inc()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
