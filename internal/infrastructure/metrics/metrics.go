// Package metrics exposes Prometheus instruments for the fiscal engine.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"shopfiscal/internal/domain/calculator"
	"shopfiscal/internal/domain/catalog"
	"shopfiscal/internal/domain/ledger"
	"shopfiscal/internal/domain/obligation"
	"shopfiscal/internal/domain/rule"
	"shopfiscal/internal/infrastructure/cache"
)

var (
	_ calculator.Observer     = (*Metrics)(nil)
	_ rule.Observer           = (*Metrics)(nil)
	_ ledger.Observer         = (*Metrics)(nil)
	_ obligation.Observer     = (*Metrics)(nil)
	_ catalog.CreateObserver = (*Metrics)(nil)
)

// Metrics implements the domain observers on Prometheus collectors.
type Metrics struct {
	registerer prometheus.Registerer

	calculations        *prometheus.CounterVec
	calculationDuration prometheus.Histogram
	ruleConflicts       prometheus.Counter
	postings            *prometheus.CounterVec
	periodTransitions   *prometheus.CounterVec
	obligationMoves     *prometheus.CounterVec
	catalogCreates      *prometheus.CounterVec
	httpDuration        *prometheus.HistogramVec
}

// New registers the collectors with registerer (the default registerer when nil).
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		registerer: registerer,
		calculations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fiscal_calculations_total",
			Help: "Tax calculations by outcome.",
		}, []string{"outcome"}),
		calculationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fiscal_calculation_duration_seconds",
			Help:    "Time spent resolving rules and computing tax lines.",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
		}),
		ruleConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fiscal_rule_conflicts_total",
			Help: "Resolutions that ended in an ambiguous rule set.",
		}),
		postings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fiscal_ledger_postings_total",
			Help: "Committed ledger postings by direction.",
		}, []string{"direction"}),
		periodTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fiscal_period_transitions_total",
			Help: "Period close and reopen attempts by outcome.",
		}, []string{"action", "outcome"}),
		obligationMoves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fiscal_obligation_transitions_total",
			Help: "Committed obligation status changes.",
		}, []string{"from", "to"}),
		catalogCreates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fiscal_catalog_entries_created_total",
			Help: "Committed catalog entries by table.",
		}, []string{"table"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fiscal_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	registerer.MustRegister(
		m.calculations,
		m.calculationDuration,
		m.ruleConflicts,
		m.postings,
		m.periodTransitions,
		m.obligationMoves,
		m.catalogCreates,
		m.httpDuration,
	)
	return m
}

// ObserveCalculation implements calculator.Observer.
func (m *Metrics) ObserveCalculation(outcome string, elapsed time.Duration) {
	m.calculations.WithLabelValues(outcome).Inc()
	m.calculationDuration.Observe(elapsed.Seconds())
}

// ObserveRuleConflict implements rule.Observer.
func (m *Metrics) ObserveRuleConflict() {
	m.ruleConflicts.Inc()
}

// ObservePosting implements ledger.Observer.
func (m *Metrics) ObservePosting(direction string) {
	m.postings.WithLabelValues(direction).Inc()
}

// ObservePeriodTransition implements ledger.Observer.
func (m *Metrics) ObservePeriodTransition(action, outcome string) {
	m.periodTransitions.WithLabelValues(action, outcome).Inc()
}

// ObserveObligationTransition implements obligation.Observer.
func (m *Metrics) ObserveObligationTransition(from, to string) {
	m.obligationMoves.WithLabelValues(from, to).Inc()
}

// ObserveCatalogCreate implements catalog.CreateObserver.
func (m *Metrics) ObserveCatalogCreate(table string) {
	m.catalogCreates.WithLabelValues(table).Inc()
}

// RegisterCatalogCache exports the hit and miss counters of c.
func (m *Metrics) RegisterCatalogCache(c *cache.Catalog) {
	m.registerer.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "fiscal_catalog_cache_hits_total",
			Help: "Catalog reads served from memory.",
		}, func() float64 { return float64(c.GetStats().Hits) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "fiscal_catalog_cache_misses_total",
			Help: "Catalog reads that went to storage.",
		}, func() float64 { return float64(c.GetStats().Misses) }),
	)
}

// GinMiddleware records request latency. Unmatched routes share one label value.
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.httpDuration.
			WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
