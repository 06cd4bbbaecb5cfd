package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"docgraph/src/models"
)

// Recorder counts and times engine operations per model. A nil *Recorder records nothing.
type Recorder struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	documents  *prometheus.CounterVec
}

// NewRecorder registers the engine metrics with reg. Pass prometheus.DefaultRegisterer to
// expose them on the default /metrics handler.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docgraph_operations_total",
				Help: "Total number of engine operations",
			},
			[]string{"model", "operation", "status"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docgraph_operation_duration_seconds",
				Help:    "Engine operation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"model", "operation"},
		),
		documents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docgraph_documents_read_total",
				Help: "Total number of documents materialized from the backend",
			},
			[]string{"model"},
		),
	}
}

// Observe records one finished operation. The status label is "ok", the kind of an
// ActionError, or "error".
func (r *Recorder) Observe(model, operation string, start time.Time, err error) {
	if r == nil {
		return
	}
	r.operations.WithLabelValues(model, operation, Status(err)).Inc()
	r.duration.WithLabelValues(model, operation).Observe(time.Since(start).Seconds())
}

// DocumentsRead adds n materialized documents for model.
func (r *Recorder) DocumentsRead(model string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.documents.WithLabelValues(model).Add(float64(n))
}

func Status(err error) string {
	if err == nil {
		return "ok"
	}
	var actionErr *models.ActionError
	if errors.As(err, &actionErr) {
		return actionErr.Kind.String()
	}
	return "error"
}
