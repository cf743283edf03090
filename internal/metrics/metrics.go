package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry owns its own prometheus registry so tests and multiple runs in one
// process never collide on the global one. All methods are safe on a nil
// *Registry, which records nothing.
type Registry struct {
	reg *prometheus.Registry

	FetchAttempts      *prometheus.CounterVec
	FetchLatencySec    prometheus.Histogram
	CacheLookups       *prometheus.CounterVec
	Strategies         *prometheus.CounterVec
	OffersExtracted    prometheus.Counter
	ClassifierOutcomes *prometheus.CounterVec
	ResearchRuns       *prometheus.CounterVec
	OutboxPublished    prometheus.Counter
	OutboxFailed       prometheus.Counter
}

// NewRegistry creates the collectors on a private prometheus registry.
func NewRegistry() *Registry {
	r := prometheus.NewRegistry()

	fetchAttempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "price_research_fetch_attempts_total",
		Help: "HTTP fetch attempts by outcome.",
	}, []string{"outcome"})
	fetchLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "price_research_fetch_latency_seconds",
		Buckets: prometheus.DefBuckets,
	})
	cacheLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "price_research_cache_lookups_total",
	}, []string{"result"})
	strategies := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "price_research_strategy_total",
		Help: "Extraction strategy chosen per listing page.",
	}, []string{"strategy"})
	offers := prometheus.NewCounter(prometheus.CounterOpts{Name: "price_research_offers_extracted_total"})
	classifier := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "price_research_classifier_outcomes_total",
	}, []string{"outcome"})
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "price_research_runs_total",
	}, []string{"status"})
	published := prometheus.NewCounter(prometheus.CounterOpts{Name: "price_research_outbox_published_total"})
	failed := prometheus.NewCounter(prometheus.CounterOpts{Name: "price_research_outbox_failed_total"})

	r.MustRegister(fetchAttempts, fetchLatency, cacheLookups, strategies, offers, classifier, runs, published, failed)
	return &Registry{
		reg:                r,
		FetchAttempts:      fetchAttempts,
		FetchLatencySec:    fetchLatency,
		CacheLookups:       cacheLookups,
		Strategies:         strategies,
		OffersExtracted:    offers,
		ClassifierOutcomes: classifier,
		ResearchRuns:       runs,
		OutboxPublished:    published,
		OutboxFailed:       failed,
	}
}

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }

func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

func (r *Registry) ObserveFetch(outcome string, d time.Duration) {
	if r == nil {
		return
	}
	r.FetchAttempts.WithLabelValues(outcome).Inc()
	r.FetchLatencySec.Observe(d.Seconds())
}

func (r *Registry) ObserveCache(hit bool) {
	if r == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	r.CacheLookups.WithLabelValues(result).Inc()
}

func (r *Registry) ObserveStrategy(strategy string, offers int) {
	if r == nil {
		return
	}
	r.Strategies.WithLabelValues(strategy).Inc()
	r.OffersExtracted.Add(float64(offers))
}

func (r *Registry) ObserveClassifier(outcome string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.ClassifierOutcomes.WithLabelValues(outcome).Add(float64(n))
}

func (r *Registry) ObserveRun(status string) {
	if r == nil {
		return
	}
	r.ResearchRuns.WithLabelValues(status).Inc()
}

func (r *Registry) ObserveOutbox(published bool) {
	if r == nil {
		return
	}
	if published {
		r.OutboxPublished.Inc()
	} else {
		r.OutboxFailed.Inc()
	}
}
