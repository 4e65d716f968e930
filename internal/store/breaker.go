package store

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Breaker fails store calls fast while the backend is unhealthy. It never
// retries: an open circuit returns gobreaker.ErrOpenState straight away.
type Breaker struct {
	next Store
	cb   *gobreaker.CircuitBreaker
}

// WithBreaker wraps next. A missing key is an answer, not a failure, so
// ErrNotFound does not count towards tripping.
func WithBreaker(next Store, timeout time.Duration, log *zap.Logger) *Breaker {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	st := gobreaker.Settings{
		Name:        "credential-store",
		MaxRequests: 1,
		Interval:    10 * time.Second,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}
	return &Breaker{next: next, cb: gobreaker.NewCircuitBreaker(st)}
}

// State exposes the current breaker state for health reporting.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

func (b *Breaker) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Get(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (b *Breaker) Set(ctx context.Context, key string, value []byte) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.Set(ctx, key, value)
	})
	return err
}

func (b *Breaker) Delete(ctx context.Context, key string) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.Delete(ctx, key)
	})
	return err
}

func (b *Breaker) Keys(ctx context.Context) ([]string, error) {
	v, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Keys(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

// Ping bypasses the breaker so health checks see the real backend.
func (b *Breaker) Ping(ctx context.Context) error {
	return b.next.Ping(ctx)
}

func (b *Breaker) Close() error {
	return b.next.Close()
}
