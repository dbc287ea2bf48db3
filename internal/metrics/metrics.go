package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	ReservationsCreated   prometheus.Counter
	ReservationsRejected  *prometheus.CounterVec
	ReservationsCancelled *prometheus.CounterVec
	ReservationsCompleted prometheus.Counter
	ReservationsExpired   prometheus.Counter
	ReviewsCreated        prometheus.Counter
	OutboxDelivered       prometheus.Counter
	OutboxFailed          prometheus.Counter
	OutboxDead            prometheus.Counter
	RelayBatchDuration    prometheus.Histogram
	InboxStored           prometheus.Counter
}

// New registers all collectors on reg
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ReservationsCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "reservations_created_total",
			Help: "Total number of reservations created",
		}),
		ReservationsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "reservations_rejected_total",
			Help: "Total number of reservation operations rejected, by error kind",
		}, []string{"kind"}),
		ReservationsCancelled: f.NewCounterVec(prometheus.CounterOpts{
			Name: "reservations_cancelled_total",
			Help: "Total number of reservations cancelled, by initiator role",
		}, []string{"role"}),
		ReservationsCompleted: f.NewCounter(prometheus.CounterOpts{
			Name: "reservations_completed_total",
			Help: "Total number of reservations picked up",
		}),
		ReservationsExpired: f.NewCounter(prometheus.CounterOpts{
			Name: "reservations_expired_total",
			Help: "Total number of reservations expired by the sweep",
		}),
		ReviewsCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "reviews_created_total",
			Help: "Total number of reviews created",
		}),
		OutboxDelivered: f.NewCounter(prometheus.CounterOpts{
			Name: "outbox_delivered_total",
			Help: "Total number of outbox messages delivered",
		}),
		OutboxFailed: f.NewCounter(prometheus.CounterOpts{
			Name: "outbox_failed_total",
			Help: "Total number of failed outbox delivery attempts",
		}),
		OutboxDead: f.NewCounter(prometheus.CounterOpts{
			Name: "outbox_dead_total",
			Help: "Total number of outbox messages given up after max attempts",
		}),
		RelayBatchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "outbox_relay_batch_duration_seconds",
			Help:    "Outbox relay batch duration in seconds",
			Buckets: []float64{.005, .01, .05, .1, .5, 1, 5},
		}),
		InboxStored: f.NewCounter(prometheus.CounterOpts{
			Name: "inbox_notifications_stored_total",
			Help: "Total number of in-app notifications stored",
		}),
	}
}

func (m *Metrics) RecordCreated() {
	if m == nil {
		return
	}
	m.ReservationsCreated.Inc()
}

func (m *Metrics) RecordRejected(kind string) {
	if m == nil {
		return
	}
	m.ReservationsRejected.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordCancelled(role string) {
	if m == nil {
		return
	}
	m.ReservationsCancelled.WithLabelValues(role).Inc()
}

func (m *Metrics) RecordCompleted() {
	if m == nil {
		return
	}
	m.ReservationsCompleted.Inc()
}

func (m *Metrics) RecordExpired(n int) {
	if m == nil {
		return
	}
	m.ReservationsExpired.Add(float64(n))
}

func (m *Metrics) RecordReview() {
	if m == nil {
		return
	}
	m.ReviewsCreated.Inc()
}

// RecordDelivery records the outcome of one outbox delivery attempt
func (m *Metrics) RecordDelivery(err error, dead bool) {
	if m == nil {
		return
	}
	switch {
	case err == nil:
		m.OutboxDelivered.Inc()
	case dead:
		m.OutboxFailed.Inc()
		m.OutboxDead.Inc()
	default:
		m.OutboxFailed.Inc()
	}
}

func (m *Metrics) RecordRelayBatch(d time.Duration) {
	if m == nil {
		return
	}
	m.RelayBatchDuration.Observe(d.Seconds())
}

func (m *Metrics) RecordInboxStored() {
	if m == nil {
		return
	}
	m.InboxStored.Inc()
}
