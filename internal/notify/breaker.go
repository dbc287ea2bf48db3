package notify

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// ErrDispatcherUnavailable is returned while the breaker is open.
var ErrDispatcherUnavailable = errors.New("notification dispatcher unavailable")

// BreakerDispatcher trips after repeated delivery failures so the relay stops
// hammering a broker that is down.
type BreakerDispatcher struct {
	next Dispatcher
	cb   *gobreaker.CircuitBreaker
}

func NewBreakerDispatcher(next Dispatcher, failureRatio float64, timeout time.Duration, log zerolog.Logger) *BreakerDispatcher {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "notification-dispatch",
		MaxRequests: 1,
		Interval:    timeout,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && ratio >= failureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	})
	return &BreakerDispatcher{next: next, cb: cb}
}

func (b *BreakerDispatcher) Dispatch(ctx context.Context, m OutboxMessage) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.Dispatch(ctx, m)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrDispatcherUnavailable
	}
	return err
}

// Healthy reports ErrDispatcherUnavailable while the breaker is open.
func (b *BreakerDispatcher) Healthy() error {
	if b.cb.State() == gobreaker.StateOpen {
		return ErrDispatcherUnavailable
	}
	return nil
}
