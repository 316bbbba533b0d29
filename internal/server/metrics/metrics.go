// Package metrics exports upload pipeline counters to Prometheus.
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
)

// Options configures the collectors. A nil Registerer means the default one.
type Options struct {
	Registerer prometheus.Registerer
	Namespace  string
}

// Recorder records upload outcomes and lockouts. A nil *Recorder is a no-op.
type Recorder struct {
	uploads  *prometheus.CounterVec
	bytes    prometheus.Counter
	duration *prometheus.HistogramVec
	attempts prometheus.Histogram
	lockouts prometheus.Counter
}

func NewRecorder(opts Options) (*Recorder, error) {
	namespace := opts.Namespace
	if namespace == "" {
		namespace = "snapvault"
	}
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Recorder{
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Uploads processed, partitioned by outcome.",
		}, []string{"outcome"}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploaded_bytes_total",
			Help:      "Bytes stored in object storage.",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upload_duration_seconds",
			Help:      "Time from download start to final status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		attempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upload_attempts",
			Help:      "Storage attempts needed per upload.",
			Buckets:   []float64{1, 2, 3, 4, 5},
		}),
		lockouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "access_lockouts_total",
			Help:      "Session access lockouts triggered by failed keys.",
		}),
	}

	var err error
	if m.uploads, err = register(reg, m.uploads); err != nil {
		return nil, err
	}
	if m.bytes, err = register(reg, m.bytes); err != nil {
		return nil, err
	}
	if m.duration, err = register(reg, m.duration); err != nil {
		return nil, err
	}
	if m.attempts, err = register(reg, m.attempts); err != nil {
		return nil, err
	}
	if m.lockouts, err = register(reg, m.lockouts); err != nil {
		return nil, err
	}
	return m, nil
}

// register adds c to reg, reusing an already registered collector of the same type.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		var zero C
		return zero, fmt.Errorf("register collector: %w", err)
	}
	return c, nil
}

func (m *Recorder) ObserveUpload(outcome string, size int64, attempts int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(outcome).Inc()
	m.duration.WithLabelValues(outcome).Observe(elapsed.Seconds())
	if outcome == OutcomeCompleted {
		m.bytes.Add(float64(size))
	}
	if attempts > 0 {
		m.attempts.Observe(float64(attempts))
	}
}

func (m *Recorder) ObserveLockout() {
	if m == nil {
		return
	}
	m.lockouts.Inc()
}
