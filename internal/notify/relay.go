package notify

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/ariefcatur/pickup-reservations/internal/metrics"
)

// Dispatcher hands one outbox message to the delivery channel.
type Dispatcher interface {
	Dispatch(ctx context.Context, m OutboxMessage) error
}

// RelayConfig controls batching and the retry schedule.
type RelayConfig struct {
	BatchSize         int
	PollInterval      time.Duration
	Lease             time.Duration
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

// DefaultRelayConfig mirrors the env defaults.
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		BatchSize:         100,
		PollInterval:      time.Second,
		Lease:             30 * time.Second,
		MaxAttempts:       10,
		InitialBackoff:    time.Second,
		MaxBackoff:        10 * time.Minute,
		BackoffMultiplier: 2.0,
	}
}

// Relay drains the outbox into a Dispatcher with retry and backoff.
type Relay struct {
	store    OutboxStore
	dispatch Dispatcher
	cfg      RelayConfig
	now      func() time.Time
	log      zerolog.Logger
	metrics  *metrics.Metrics
}

func NewRelay(store OutboxStore, d Dispatcher, cfg RelayConfig, now func() time.Time, log zerolog.Logger, m *metrics.Metrics) *Relay {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.BackoffMultiplier < 1 {
		cfg.BackoffMultiplier = 1
	}
	return &Relay{
		store:    store,
		dispatch: d,
		cfg:      cfg,
		now:      now,
		log:      log.With().Str("component", "outbox-relay").Logger(),
		metrics:  m,
	}
}

// Run polls until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	t := time.NewTicker(r.cfg.PollInterval)
	defer t.Stop()

	for {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			r.log.Error().Err(err).Msg("relay batch failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

// RunOnce claims one batch and attempts each message once. It returns the number delivered.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() { r.metrics.RecordRelayBatch(time.Since(start)) }()

	msgs, err := r.store.ClaimDue(ctx, r.now(), r.cfg.Lease, r.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for i, m := range msgs {
		err := r.dispatch.Dispatch(ctx, m)
		if err == nil {
			if err := r.store.MarkDelivered(ctx, m.ID, r.now()); err != nil {
				// the lease expires and the message is sent again; the inbox dedups it
				r.log.Error().Err(err).Str("outbox_id", m.ID).Msg("mark delivered")
				continue
			}
			r.metrics.RecordDelivery(nil, false)
			delivered++
			continue
		}

		if errors.Is(err, ErrDispatcherUnavailable) {
			// breaker is open: give the rest of the batch back without spending attempts
			r.deferBatch(ctx, msgs[i:])
			r.log.Warn().Int("deferred", len(msgs)-i).Msg("dispatcher unavailable, deferring batch")
			return delivered, nil
		}
		r.fail(ctx, m, err)
	}
	return delivered, nil
}

func (r *Relay) fail(ctx context.Context, m OutboxMessage, cause error) {
	attempts := m.Attempts + 1
	dead := attempts >= r.cfg.MaxAttempts
	f := DeliveryFailure{
		ID:            m.ID,
		Attempts:      attempts,
		NextAttemptAt: r.now().Add(Backoff(attempts, r.cfg)),
		LastError:     cause.Error(),
		Dead:          dead,
	}
	if err := r.store.MarkFailed(ctx, f); err != nil {
		r.log.Error().Err(err).Str("outbox_id", m.ID).Msg("mark failed")
		return
	}
	r.metrics.RecordDelivery(cause, dead)

	ev := r.log.Warn()
	if dead {
		ev = r.log.Error()
	}
	ev.Err(cause).
		Str("outbox_id", m.ID).
		Str("recipient", m.Key).
		Int("attempts", attempts).
		Bool("dead", dead).
		Msg("notification delivery failed")
}

func (r *Relay) deferBatch(ctx context.Context, msgs []OutboxMessage) {
	next := r.now().Add(r.cfg.InitialBackoff)
	for _, m := range msgs {
		err := r.store.MarkFailed(ctx, DeliveryFailure{
			ID:            m.ID,
			Attempts:      m.Attempts,
			NextAttemptAt: next,
			LastError:     ErrDispatcherUnavailable.Error(),
		})
		if err != nil {
			r.log.Error().Err(err).Str("outbox_id", m.ID).Msg("defer message")
		}
	}
}

// Backoff is the delay before attempt number attempts+1.
func Backoff(attempts int, cfg RelayConfig) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := float64(cfg.InitialBackoff) * math.Pow(cfg.BackoffMultiplier, float64(attempts-1))
	if max := float64(cfg.MaxBackoff); cfg.MaxBackoff > 0 && d > max {
		d = max
	}
	return time.Duration(d)
}
