package custodian

import (
	"context"
	"errors"
	"time"

	"github.com/mvbraga/peertrade/internal/circuitbreaker"
)

// Guarded wraps a Custodian with a per-operation circuit breaker and a
// bounded timeout, so a stuck backend surfaces as ErrUnavailable
// instead of wedging trades.
//
// Domain outcomes (insufficient funds, already settled) are not
// breaker failures; only infrastructure errors trip it.
type Guarded struct {
	inner   Custodian
	breaker *circuitbreaker.Breaker
	timeout time.Duration
}

// NewGuarded wraps a custodian with breaker and timeout protection.
func NewGuarded(inner Custodian, breaker *circuitbreaker.Breaker, timeout time.Duration) *Guarded {
	return &Guarded{inner: inner, breaker: breaker, timeout: timeout}
}

var _ Custodian = (*Guarded)(nil)

func (g *Guarded) Lock(ctx context.Context, req LockRequest) error {
	return g.call(ctx, "custodian_lock", func(ctx context.Context) error {
		return g.inner.Lock(ctx, req)
	})
}

func (g *Guarded) Release(ctx context.Context, tradeID string) (*Receipt, error) {
	var receipt *Receipt
	err := g.call(ctx, "custodian_release", func(ctx context.Context) error {
		var err error
		receipt, err = g.inner.Release(ctx, tradeID)
		return err
	})
	return receipt, err
}

func (g *Guarded) Refund(ctx context.Context, tradeID string) (*Receipt, error) {
	var receipt *Receipt
	err := g.call(ctx, "custodian_refund", func(ctx context.Context) error {
		var err error
		receipt, err = g.inner.Refund(ctx, tradeID)
		return err
	})
	return receipt, err
}

func (g *Guarded) Get(ctx context.Context, tradeID string) (*Escrow, error) {
	return g.inner.Get(ctx, tradeID)
}

func (g *Guarded) call(ctx context.Context, key string, fn func(context.Context) error) error {
	if !g.breaker.Allow(key) {
		return ErrUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	err := fn(ctx)
	if err == nil || isDomainError(err) {
		g.breaker.RecordSuccess(key)
		return err
	}

	g.breaker.RecordFailure(key)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrUnavailable
	}
	return err
}

func isDomainError(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrAlreadySettled) ||
		errors.Is(err, ErrAlreadyLocked) ||
		errors.Is(err, ErrNotLocked)
}
