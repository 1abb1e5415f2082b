package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

var (
	registerOnce sync.Once

	messages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wlproto",
			Name:      "messages_total",
			Help:      "Protocol messages sent and dispatched.",
		},
		[]string{"direction", "interface", "message"},
	)
	dispatchErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wlproto",
			Name:      "dispatch_errors_total",
			Help:      "Inbound messages that could not be dispatched.",
		},
		[]string{"kind"},
	)
	roundtripDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "wlproto",
			Name:      "roundtrip_duration_seconds",
			Help:      "Time from a sync request to its done event.",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5},
		},
	)
)

// Collectors returns every collector so callers can register them on a
// registry of their own instead of the default one.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{messages, dispatchErrors, roundtripDuration}
}

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(Collectors()...)
	})
}

func RecordMessage(direction, iface, message string) {
	RegisterMetrics()
	messages.WithLabelValues(direction, iface, message).Inc()
}

func RecordDispatchError(kind string) {
	RegisterMetrics()
	dispatchErrors.WithLabelValues(kind).Inc()
}

func RecordRoundtrip(d time.Duration) {
	RegisterMetrics()
	roundtripDuration.Observe(d.Seconds())
}
