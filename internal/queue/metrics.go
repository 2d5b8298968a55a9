package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	added      prometheus.Counter
	dispatched prometheus.Counter
	panics     prometheus.Counter
	depth      prometheus.Gauge
	listeners  prometheus.Gauge
}

// newMetrics builds the queue metrics. A nil registerer leaves them
// unregistered.
func newMetrics(reg prometheus.Registerer, name string) *metrics {
	f := promauto.With(reg)
	labels := prometheus.Labels{"queue": name}
	return &metrics{
		added: f.NewCounter(prometheus.CounterOpts{
			Name:        "depthcam_queue_frames_added_total",
			Help:        "Total number of frames added to the delivery queue",
			ConstLabels: labels,
		}),
		dispatched: f.NewCounter(prometheus.CounterOpts{
			Name:        "depthcam_queue_frames_dispatched_total",
			Help:        "Total number of frames broadcast to listeners",
			ConstLabels: labels,
		}),
		panics: f.NewCounter(prometheus.CounterOpts{
			Name:        "depthcam_queue_listener_panics_total",
			Help:        "Total number of listener calls that panicked",
			ConstLabels: labels,
		}),
		depth: f.NewGauge(prometheus.GaugeOpts{
			Name:        "depthcam_queue_depth",
			Help:        "Current number of frames waiting for dispatch",
			ConstLabels: labels,
		}),
		listeners: f.NewGauge(prometheus.GaugeOpts{
			Name:        "depthcam_queue_listeners",
			Help:        "Current number of registered listeners",
			ConstLabels: labels,
		}),
	}
}
