package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/roboricindustries/rescue-events/pkg/schemas/notifications"
)

// otherType labels every notification type the client does not know, so the
// server cannot grow the label set.
const otherType = "other"

type Metrics struct {
	Received          *prometheus.CounterVec
	Dropped           prometheus.Counter
	ReconnectAttempts prometheus.Counter
	State             prometheus.Gauge
}

// NewMetrics registers the channel metrics with reg. A nil reg yields
// working but unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Received: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rescue_notifications_received_total",
			Help: "Notifications decoded and dispatched, by type",
		}, []string{"type"}),
		Dropped: f.NewCounter(prometheus.CounterOpts{
			Name: "rescue_notifications_dropped_total",
			Help: "Frames dropped because they could not be decoded",
		}),
		ReconnectAttempts: f.NewCounter(prometheus.CounterOpts{
			Name: "rescue_channel_reconnect_attempts_total",
			Help: "Reconnect attempts scheduled after a lost connection",
		}),
		State: f.NewGauge(prometheus.GaugeOpts{
			Name: "rescue_channel_state",
			Help: "Channel state: 0 disconnected, 1 connecting, 2 connected, 3 reconnecting",
		}),
	}
}

func typeLabel(t notifications.Type) string {
	if t.Known() {
		return string(t)
	}
	return otherType
}
