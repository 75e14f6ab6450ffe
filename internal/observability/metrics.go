package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	TurnsTotal     *prometheus.CounterVec
	StageFailures  *prometheus.CounterVec
	TurnDuration   prometheus.Histogram
	VideoJobs      *prometheus.CounterVec
	CrawlFetches   *prometheus.CounterVec
	SignedURLs     *prometheus.CounterVec
	ProviderErrors *prometheus.CounterVec
}

func NewMetrics(namespace string) *Metrics {
	return newMetrics(prometheus.DefaultRegisterer, namespace)
}

// NewTestMetrics registers against a throwaway registry so tests can build
// as many instances as they want.
func NewTestMetrics() *Metrics {
	return newMetrics(prometheus.NewRegistry(), "test")
}

func newMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TurnsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_turns_total",
			Help:      "Chat turns by outcome.",
		}, []string{"outcome"}),
		StageFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turn_stage_failures_total",
			Help:      "Degraded turn stages by stage name.",
		}, []string{"stage"}),
		TurnDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chat_turn_duration_seconds",
			Help:      "End-to-end chat turn latency in seconds.",
			Buckets:   []float64{0.5, 1, 2, 4, 8, 15, 30, 60, 120},
		}),
		VideoJobs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "video_jobs_total",
			Help:      "Video generation jobs by terminal state.",
		}, []string{"state"}),
		CrawlFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "crawl_fetches_total",
			Help:      "Crawl context fetches by result.",
		}, []string{"result"}),
		SignedURLs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signed_urls_total",
			Help:      "Signed URL issuances by media kind.",
		}, []string{"kind"}),
		ProviderErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Provider errors by provider and operation.",
		}, []string{"provider", "op"}),
	}
}

func (m *Metrics) ObserveTurn(outcome string, d time.Duration) {
	m.TurnsTotal.WithLabelValues(outcome).Inc()
	m.TurnDuration.Observe(d.Seconds())
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
