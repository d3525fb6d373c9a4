// Package metrics defines the Prometheus collectors exported on /metrics.
// Collectors register with the default registry on package init.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "roundcast"

// RelayPublishTotal counts relay publishes.
// Label:
//   - result: "ok" or "error"
var RelayPublishTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "relay_publish_total",
		Help:      "Total number of video notes sent to the relay chat, by result.",
	},
	[]string{"result"},
)

// RelayRetractionsTotal counts best-effort deletions of relay messages.
// Label:
//   - result: "ok" or "error"
var RelayRetractionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "relay_retractions_total",
		Help:      "Total number of relay message retractions, by result.",
	},
	[]string{"result"},
)

// PreviewCacheTotal counts preview cache lookups.
// Label:
//   - result: "hit" or "miss"
var PreviewCacheTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "preview_cache_total",
		Help:      "Total number of preview cache lookups, by result.",
	},
	[]string{"result"},
)

// TransformDuration measures ffmpeg passes.
// Label:
//   - op: "crop", "overlay", "effect" or "audio"
var TransformDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "transform_duration_seconds",
		Help:      "Duration of media transform operations.",
		Buckets:   []float64{.25, .5, 1, 2.5, 5, 10, 20, 40, 60},
	},
	[]string{"op"},
)

// SessionEventsTotal counts state machine events.
// Labels:
//   - event: the handler that ran (e.g. "video", "apply", "cancel")
//   - outcome: "ok" or the error kind
var SessionEventsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "session_events_total",
		Help:      "Total number of chat events handled by the session state machine.",
	},
	[]string{"event", "outcome"},
)

// ActiveSessions tracks in-progress edit sessions.
var ActiveSessions = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_sessions",
		Help:      "Current number of in-progress edit sessions.",
	},
)

// SessionsExpiredTotal counts sessions torn down by the idle janitor.
var SessionsExpiredTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_expired_total",
		Help:      "Total number of idle sessions expired by the janitor.",
	},
)
