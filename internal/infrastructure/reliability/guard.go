package reliability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fluxx/internal/core/domain"
	"fluxx/pkg/circuitbreaker"
	"fluxx/pkg/retry"

	"go.uber.org/zap"
)

// expectedErrors are answers from a healthy store. They never trip a
// breaker and are never retried.
var expectedErrors = []error{
	domain.ErrAlreadyQueued,
	domain.ErrRoomNotFound,
	domain.ErrUserNotFound,
	domain.ErrNotInRoom,
}

func isExpected(err error) bool {
	for _, e := range expectedErrors {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}

// BreakerObserver is told about breaker transitions per store.
type BreakerObserver interface {
	StoreBreakerState(store string, state int)
}

type Config struct {
	Breaker circuitbreaker.Config
	// Retry applies to idempotent operations only.
	Retry retry.Config
}

func DefaultConfig() Config {
	rc := retry.DefaultConfig()
	rc.MaxAttempts = 2
	rc.InitialDelay = 50 * time.Millisecond
	rc.MaxDelay = 500 * time.Millisecond
	return Config{
		Breaker: circuitbreaker.DefaultConfig(),
		Retry:   rc,
	}
}

// guard fronts one store with its own breaker.
type guard struct {
	store   string
	breaker *circuitbreaker.CircuitBreaker
	retry   retry.Config
}

func newGuard(store string, cfg Config, observer BreakerObserver, logger *zap.SugaredLogger) *guard {
	bc := cfg.Breaker
	bc.IsFailure = func(err error) bool {
		return !isExpected(err) && !errors.Is(err, context.Canceled)
	}
	breaker := circuitbreaker.New(bc)
	breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Warnw("Store circuit breaker changed state",
			"store", store,
			"from", from.String(),
			"to", to.String(),
		)
		if observer != nil {
			observer.StoreBreakerState(store, int(to))
		}
	})

	rc := cfg.Retry
	rc.NonRetryable = append(append([]error{circuitbreaker.ErrOpen, context.Canceled}, expectedErrors...), rc.NonRetryable...)

	return &guard{store: store, breaker: breaker, retry: rc}
}

func (g *guard) wrap(err error) error {
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return fmt.Errorf("%s store unavailable: %w", g.store, err)
	}
	return err
}

// once runs fn through the breaker a single time.
func once[T any](ctx context.Context, g *guard, fn func(ctx context.Context) (T, error)) (T, error) {
	v, err := circuitbreaker.Call(ctx, g.breaker, fn)
	return v, g.wrap(err)
}

// retried runs fn through the breaker, retrying transient failures.
func retried[T any](ctx context.Context, g *guard, fn func(ctx context.Context) (T, error)) (T, error) {
	v, err := retry.Do(ctx, g.retry, func(ctx context.Context) (T, error) {
		return circuitbreaker.Call(ctx, g.breaker, fn)
	})
	return v, g.wrap(err)
}

func (g *guard) stats() circuitbreaker.Stats {
	return g.breaker.Stats()
}
