package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"positionLedger/internal/ports"
)

// Recorder implements ports.Metrics with Prometheus collectors.
type Recorder struct {
	gatherer  prometheus.Gatherer
	mutations *prometheus.CounterVec
	lockWait  *prometheus.HistogramVec
}

// NewRecorder registers the position collectors on reg.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		gatherer: reg,
		mutations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "position_mutations_total",
			Help: "Mutating position calls by operation and outcome code",
		},
			[]string{"op", "code"},
		),
		lockWait: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "position_lock_wait_seconds",
			Help:    "Time a mutation waited for its position lock",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 2, 5},
		},
			[]string{"op"},
		),
	}
}

// MutationRecorded counts one mutation. Successful calls are labelled "OK".
func (r *Recorder) MutationRecorded(op string, err error) {
	code := "OK"
	if err != nil {
		code = ports.ErrorCode(err)
	}
	r.mutations.WithLabelValues(op, code).Inc()
}

// LockWaited observes a lock wait.
func (r *Recorder) LockWaited(op string, d time.Duration) {
	r.lockWait.WithLabelValues(op).Observe(d.Seconds())
}

// Handler exposes the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{
		MaxRequestsInFlight: 5,
		Timeout:             30 * time.Second,
	})
}

// Noop discards every measurement.
type Noop struct{}

func (Noop) MutationRecorded(string, error) {}
func (Noop) LockWaited(string, time.Duration) {}
