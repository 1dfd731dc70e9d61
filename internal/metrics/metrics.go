package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels queries that returned a usable payload.
	OutcomeSuccess = "success"
	// OutcomeError labels transport, HTTP or GraphQL failures.
	OutcomeError = "error"

	CacheHit  = "hit"
	CacheMiss = "miss"
)

var (
	queriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nrquery",
			Name:      "queries_total",
			Help:      "Total number of NerdGraph queries, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	queryDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "nrquery",
			Name:      "query_seconds",
			Help:      "NerdGraph query latency in seconds, retries included.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
	)

	cacheRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nrquery",
			Name:      "cache_requests_total",
			Help:      "Query cache lookups, partitioned by hit or miss.",
		},
		[]string{"result"},
	)

	reportValue = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "nrquery",
			Name:      "report_value",
			Help:      "Latest scalar output of a scheduled report reducer.",
		},
		[]string{"report", "series", "reducer"},
	)

	reportFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nrquery",
			Name:      "report_failures_total",
			Help:      "Scheduled report runs that failed.",
		},
		[]string{"report"},
	)
)

// Register attaches nrquery collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		queriesTotal,
		queryDurationSeconds,
		cacheRequestsTotal,
		reportValue,
		reportFailuresTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveQuery records a query duration and outcome label.
func ObserveQuery(duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	queriesTotal.WithLabelValues(label).Inc()
	if duration < 0 {
		duration = 0
	}
	queryDurationSeconds.Observe(duration.Seconds())
}

// ObserveCache counts a cache lookup.
func ObserveCache(hit bool) {
	if hit {
		cacheRequestsTotal.WithLabelValues(CacheHit).Inc()
		return
	}
	cacheRequestsTotal.WithLabelValues(CacheMiss).Inc()
}

// SetReportValue exports one reducer output of a report.
func SetReportValue(report, series, reducer string, value float64) {
	reportValue.WithLabelValues(report, series, reducer).Set(value)
}

func ReportFailed(report string) {
	reportFailuresTotal.WithLabelValues(report).Inc()
}
