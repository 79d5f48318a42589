package sequence

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "flake"

	reasonTick       = "tick"
	reasonWrap       = "wrap"
	reasonCheckpoint = "checkpoint"
)

type metrics struct {
	nextval     prometheus.Counter
	logWrites   *prometheus.CounterVec
	logSkipped  prometheus.Counter
	wraps       prometheus.Counter
	checkpoints prometheus.Counter
	replayed    prometheus.Counter
}

// newMetrics registers the engine metrics on reg. A nil registerer leaves
// them unregistered, they are still counted.
func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		nextval: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "nextval_total",
			Help:      "Number of values issued by nextval",
		}),
		logWrites: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "durability_log_writes_total",
			Help:      "Number of durability records written, by the reason logging was required",
		}, []string{"reason"}),
		logSkipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "durability_log_skipped_total",
			Help:      "Number of values issued without a durability record, covered by an earlier reservation",
		}),
		wraps: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "counter_wraps_total",
			Help:      "Number of times the per millisecond counter was exhausted and the next millisecond borrowed",
		}),
		checkpoints: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "checkpoints_total",
			Help:      "Number of checkpoints completed",
		}),
		replayed: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "recovery_installed_pages_total",
			Help:      "Number of page images installed by recovery",
		}),
	}
}
