package dispatcher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alert_dispatch_sends_total",
			Help: "Per-recipient alert send attempts by platform and outcome.",
		},
		[]string{"platform", "status"},
	)
	audienceRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alert_audience_refresh_total",
			Help: "Periodic audience refresh attempts by platform and outcome.",
		},
		[]string{"platform", "status"},
	)
	audienceSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "alert_audience_size",
			Help: "Number of subscribers currently cached per platform.",
		},
		[]string{"platform"},
	)
	filterPanicsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alert_filter_panics_total",
			Help: "Notification filter evaluations that panicked and were treated as do-not-notify.",
		},
		[]string{"platform"},
	)
)
