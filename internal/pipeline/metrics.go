package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	handlerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "alert_handler_duration_seconds",
			Help:    "Time spent in each detection handler.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"handler"},
	)
	handlerFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alert_handler_failures_total",
			Help: "Detection handler calls that returned an error or panicked.",
		},
		[]string{"handler"},
	)
)
