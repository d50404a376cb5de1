package supervisor

import "github.com/prometheus/client_golang/prometheus"

// Generation outcomes used as the outcome label.
const (
	outcomeOK         = "ok"
	outcomeBackend    = "backend_error"
	outcomeTimeout    = "timeout"
	outcomeExited     = "exited"
	outcomeWriteError = "write_error"
	outcomeCancelled  = "cancelled"
)

var (
	generationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "textgen",
			Subsystem: "worker",
			Name:      "generations_total",
			Help:      "Generation requests sent to the worker by outcome",
		},
		[]string{"outcome"},
	)

	generationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "textgen",
			Subsystem: "worker",
			Name:      "generation_duration_seconds",
			Help:      "Time from generate to done",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	restartsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "textgen",
			Subsystem: "worker",
			Name:      "restarts_total",
			Help:      "Worker restarts",
		},
	)

	workerUp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "textgen",
			Subsystem: "worker",
			Name:      "up",
			Help:      "1 when a worker is ready to serve",
		},
	)
)

func init() {
	prometheus.MustRegister(generationsTotal, generationDuration, restartsTotal, workerUp)
}
