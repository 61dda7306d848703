package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	LeasesGranted      *prometheus.CounterVec
	LeaseRequestFailed *prometheus.CounterVec
	LeasesReclaimed    *prometheus.CounterVec
	Submissions        prometheus.Counter
	Verdicts           *prometheus.CounterVec
	CommissionPosted   prometheus.Counter
	Withdrawals        *prometheus.CounterVec
	StoreTx            *prometheus.HistogramVec
}

// New creates the engine collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LeasesGranted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tasker_leases_granted_total",
			Help: "Leases granted, by task kind.",
		}, []string{"kind"}),
		LeaseRequestFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tasker_lease_requests_failed_total",
			Help: "Lease requests that did not produce a lease, by reason.",
		}, []string{"reason"}),
		LeasesReclaimed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tasker_leases_reclaimed_total",
			Help: "Leases returned to the pool without a verdict, by reason.",
		}, []string{"reason"}),
		Submissions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tasker_submissions_total",
			Help: "Leases moved to submitted.",
		}),
		Verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tasker_verdicts_total",
			Help: "Verdicts applied to submitted leases.",
		}, []string{"verdict"}),
		CommissionPosted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tasker_commission_posted_total",
			Help: "Referral commission credited, in minor units.",
		}),
		Withdrawals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tasker_withdrawals_total",
			Help: "Withdrawal lifecycle events.",
		}, []string{"event"}),
		StoreTx: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tasker_store_tx_seconds",
			Help:    "Duration of engine transactions.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
	}
	reg.MustRegister(
		m.LeasesGranted,
		m.LeaseRequestFailed,
		m.LeasesReclaimed,
		m.Submissions,
		m.Verdicts,
		m.CommissionPosted,
		m.Withdrawals,
		m.StoreTx,
	)
	return m
}

// NewNop returns collectors bound to a private registry.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

// ObserveTx records how long op took since start.
func (m *Metrics) ObserveTx(op string, start time.Time) {
	m.StoreTx.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
