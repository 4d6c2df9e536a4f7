package refresh

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	rotationOK       = "ok"
	rotationReused   = "reused"
	rotationRejected = "rejected"
)

// Metrics holds refresh-token counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Issued         prometheus.Counter
	Rotations      *prometheus.CounterVec
	VerifyFailures *prometheus.CounterVec
	Revocations    prometheus.Counter
}

// NewMetrics creates the counters and registers them with reg when non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Issued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "postboard",
			Subsystem: "refresh",
			Name:      "issued_total",
			Help:      "Refresh tokens issued.",
		}),
		Rotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "postboard",
			Subsystem: "refresh",
			Name:      "rotations_total",
			Help:      "Refresh rotations by result (ok, reused, rejected).",
		}, []string{"result"}),
		VerifyFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "postboard",
			Subsystem: "refresh",
			Name:      "verify_failures_total",
			Help:      "Failed refresh verifications by reason.",
		}, []string{"reason"}),
		Revocations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "postboard",
			Subsystem: "refresh",
			Name:      "revocations_total",
			Help:      "Refresh records revoked by RevokeByID (no-ops are not counted).",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.Issued, m.Rotations, m.VerifyFailures, m.Revocations)
	}
	return m
}

func (m *Metrics) issued() {
	if m == nil {
		return
	}
	m.Issued.Inc()
}

func (m *Metrics) rotated(result string) {
	if m == nil {
		return
	}
	m.Rotations.WithLabelValues(result).Inc()
}

func (m *Metrics) revoked() {
	if m == nil {
		return
	}
	m.Revocations.Inc()
}

func (m *Metrics) verifyFailed(err error) {
	if m == nil {
		return
	}
	m.VerifyFailures.WithLabelValues(failureReason(err)).Inc()
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrRevoked):
		return "revoked"
	case errors.Is(err, ErrExpired):
		return "expired"
	default:
		return "other"
	}
}
