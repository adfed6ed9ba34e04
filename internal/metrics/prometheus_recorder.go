package metrics

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "buildgraph"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once             sync.Once
	buildDuration    prom.Histogram
	buildOutcome     *prom.CounterVec
	taskDuration     *prom.HistogramVec
	sortDuration     *prom.HistogramVec
	orderCache       *prom.CounterVec
	retries          *prom.CounterVec
	retriesExhausted *prom.CounterVec
	inFlight         prom.Gauge
}

// NewPrometheusRecorder constructs and registers Prometheus metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.buildDuration = prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "build_duration_seconds",
			Help:      "Total build run duration",
			Buckets:   prom.DefBuckets,
		})
		pr.buildOutcome = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "build_outcomes_total",
			Help:      "Build outcomes by final status",
		}, []string{"outcome"})
		pr.taskDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Duration of dispatched tasks from dispatch to completion",
			Buckets:   prom.DefBuckets,
		}, []string{"result"})
		pr.sortDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "sort_duration_seconds",
			Help:      "Topological sort duration by strategy",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		}, []string{"strategy"})
		pr.orderCache = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "order_cache_lookups_total",
			Help:      "Execution order cache lookups by result",
		}, []string{"result"})
		pr.retries = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_retries_total",
			Help:      "Status write retries after transient persistence failures",
		}, []string{"entity"})
		pr.retriesExhausted = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_retry_exhausted_total",
			Help:      "Status writes abandoned after exhausting retries",
		}, []string{"entity"})
		pr.inFlight = prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_in_flight",
			Help:      "Tasks dispatched and not yet completed",
		})
		reg.MustRegister(pr.buildDuration, pr.buildOutcome, pr.taskDuration, pr.sortDuration, pr.orderCache, pr.retries, pr.retriesExhausted, pr.inFlight)
	})
	return pr
}

func (p *PrometheusRecorder) ObserveBuildDuration(d time.Duration) {
	if p == nil || p.buildDuration == nil {
		return
	}
	p.buildDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncBuildOutcome(outcome ResultLabel) {
	if p == nil || p.buildOutcome == nil {
		return
	}
	p.buildOutcome.WithLabelValues(string(outcome)).Inc()
}

func (p *PrometheusRecorder) ObserveTaskDuration(d time.Duration, result ResultLabel) {
	if p == nil || p.taskDuration == nil {
		return
	}
	p.taskDuration.WithLabelValues(string(result)).Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveSortDuration(strategy string, d time.Duration) {
	if p == nil || p.sortDuration == nil {
		return
	}
	p.sortDuration.WithLabelValues(strategy).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncOrderCache(hit bool) {
	if p == nil || p.orderCache == nil {
		return
	}
	res := "miss"
	if hit {
		res = "hit"
	}
	p.orderCache.WithLabelValues(res).Inc()
}

func (p *PrometheusRecorder) IncPersistenceRetry(entity string) {
	if p == nil || p.retries == nil {
		return
	}
	p.retries.WithLabelValues(entity).Inc()
}

func (p *PrometheusRecorder) IncPersistenceRetryExhausted(entity string) {
	if p == nil || p.retriesExhausted == nil {
		return
	}
	p.retriesExhausted.WithLabelValues(entity).Inc()
}

func (p *PrometheusRecorder) SetTasksInFlight(n int) {
	if p == nil || p.inFlight == nil {
		return
	}
	p.inFlight.Set(float64(n))
}
