package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/agentmesh/agentmesh/pkg/types"
)

// Mirror reflects recorded samples into a Prometheus registry so the store's
// current values are scrapeable without a second instrumentation path.
type Mirror struct {
	values   *prometheus.GaugeVec
	recorded prometheus.Counter
}

// NewMirror registers the mirror collectors with reg (the default registerer
// when nil).
func NewMirror(reg prometheus.Registerer) *Mirror {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Mirror{
		values: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "agentmesh",
			Name:      "metric_value",
			Help:      "Latest value per (owner, metric) recorded in the metric store.",
		}, []string{"owner", "metric"}),
		recorded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agentmesh",
			Name:      "metric_samples_total",
			Help:      "Total samples recorded in the metric store.",
		}),
	}
	reg.MustRegister(m.values, m.recorded)
	return m
}

// Hook returns the store hook updating the mirrored gauges.
func (m *Mirror) Hook() func(types.Sample) {
	return func(s types.Sample) {
		m.values.WithLabelValues(s.OwnerID, s.Name).Set(s.Value)
		m.recorded.Inc()
	}
}
