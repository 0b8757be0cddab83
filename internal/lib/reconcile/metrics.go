package reconcile

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	promContracts = promauto.NewGauge(prometheus.GaugeOpts{
		Subsystem: "igo",
		Name:      "contract_count",
	})
	promAds = promauto.NewGauge(prometheus.GaugeOpts{
		Subsystem: "igo",
		Name:      "ad_count",
	})
	promCommits = promauto.NewCounter(prometheus.CounterOpts{
		Subsystem: "igo",
		Name:      "cache_commits_total",
	})
	promChanges = promauto.NewCounter(prometheus.CounterOpts{
		Subsystem: "igo",
		Name:      "cache_changes_total",
	})
	promTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "igo",
		Name:      "reconcile_ticks_total",
	}, []string{"result"})
	promReadErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "igo",
		Name:      "read_errors_total",
	}, []string{"kind"})
	promTickSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Subsystem: "igo",
		Name:      "reconcile_tick_seconds",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	})
)
