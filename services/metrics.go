package services

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for the memorial grid.
type Metrics struct {
	PhotosCommittedTotal prometheus.Counter
	SubmitRejectedTotal  *prometheus.CounterVec
	ReflectionsTotal     *prometheus.CounterVec
	SummariesTotal       *prometheus.CounterVec
	MemorialsCompleted   prometheus.Counter
	GeneratorDuration    *prometheus.HistogramVec
	InvitationsTotal     *prometheus.CounterVec
	SweepReleasedClaims  prometheus.Counter
	SweepExpiredInvites  prometheus.Counter
	NotificationFailures *prometheus.CounterVec
}

// NewMetrics registers the metrics once per process; later calls return the
// same instance.
//
// Metrics:
//   - memorial_photos_committed_total
//   - memorial_submit_rejected_total{reason}
//   - memorial_reflections_total{result} - "ok" or "failed"
//   - memorial_summaries_total{result}
//   - memorial_completed_total
//   - memorial_generator_duration_seconds{op}
//   - memorial_invitations_total{event} - "sent", "accepted", "expired"
//   - memorial_sweep_released_claims_total
//   - memorial_sweep_expired_invitations_total
//   - memorial_notification_failures_total{notifier}
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			PhotosCommittedTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "memorial_photos_committed_total",
				Help: "Total number of photos committed to a grid position",
			}),
			SubmitRejectedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "memorial_submit_rejected_total",
				Help: "Total number of rejected photo submissions",
			}, []string{"reason"}),
			ReflectionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "memorial_reflections_total",
				Help: "Total number of per-photo reflection attempts",
			}, []string{"result"}),
			SummariesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "memorial_summaries_total",
				Help: "Total number of tribute summary attempts",
			}, []string{"result"}),
			MemorialsCompleted: promauto.NewCounter(prometheus.CounterOpts{
				Name: "memorial_completed_total",
				Help: "Total number of memorials that reached completion",
			}),
			GeneratorDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "memorial_generator_duration_seconds",
				Help:    "Duration of text generation calls in seconds",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 45, 90},
			}, []string{"op"}),
			InvitationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "memorial_invitations_total",
				Help: "Invitation lifecycle events",
			}, []string{"event"}),
			SweepReleasedClaims: promauto.NewCounter(prometheus.CounterOpts{
				Name: "memorial_sweep_released_claims_total",
				Help: "Stale position claims released by the sweep",
			}),
			SweepExpiredInvites: promauto.NewCounter(prometheus.CounterOpts{
				Name: "memorial_sweep_expired_invitations_total",
				Help: "Invitations marked expired by the sweep",
			}),
			NotificationFailures: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "memorial_notification_failures_total",
				Help: "Grid events that could not be delivered",
			}, []string{"notifier"}),
		}
	})
	return globalMetrics
}
