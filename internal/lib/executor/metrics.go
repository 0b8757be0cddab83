package executor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	promActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "igo",
		Name:      "actions_total",
	}, []string{"action", "result"})
	promInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Subsystem: "igo",
		Name:      "actions_in_flight",
	})
)
