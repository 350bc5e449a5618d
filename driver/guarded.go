package driver

import (
	"context"
	"fmt"

	"github.com/plm/aggpay/domain"
)

// Breaker is the subset of storage/redis's CircuitBreaker that Guarded
// depends on, kept as a local interface so this package never imports
// the storage layer (SPEC_FULL.md §4: the teacher's mesh-node circuit
// breaker repurposed to guard per-account upstream gateway health).
type Breaker interface {
	Allow(ctx context.Context, key string) (bool, error)
	RecordSuccess(ctx context.Context, key string) error
	RecordFailure(ctx context.Context, key string) error
}

// ErrCircuitOpen is returned when an account's breaker has tripped.
var ErrCircuitOpen = fmt.Errorf("driver: circuit open for account")

// Guarded wraps a PaymentDriver so each call is gated by a per-account
// circuit breaker key, skipping accounts whose upstream gateway has been
// failing repeatedly instead of dispatching doomed payments to them.
type Guarded struct {
	inner   PaymentDriver
	breaker Breaker
}

// NewGuarded builds a Guarded driver.
func NewGuarded(inner PaymentDriver, breaker Breaker) *Guarded {
	return &Guarded{inner: inner, breaker: breaker}
}

func breakerKey(accountID string) string { return "driver-breaker:" + accountID }

func (g *Guarded) Submit(ctx context.Context, o *domain.Order, accountConfig map[string]string, buyer *domain.OrderBuyer, subject, returnURL, notifyURL string) (*SubmitResult, error) {
	key := breakerKey(o.PaymentChannelAccountID)
	allowed, err := g.breaker.Allow(ctx, key)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, ErrCircuitOpen
	}
	res, err := g.inner.Submit(ctx, o, accountConfig, buyer, subject, returnURL, notifyURL)
	g.record(ctx, key, err)
	return res, err
}

func (g *Guarded) Refund(ctx context.Context, o *domain.Order, accountConfig map[string]string, refund *domain.OrderRefund) (*RefundResult, error) {
	key := breakerKey(o.PaymentChannelAccountID)
	allowed, err := g.breaker.Allow(ctx, key)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, ErrCircuitOpen
	}
	res, err := g.inner.Refund(ctx, o, accountConfig, refund)
	g.record(ctx, key, err)
	return res, err
}

func (g *Guarded) Verify(ctx context.Context, rawCallbackParams map[string]string) (*VerifyResult, error) {
	// Callback verification isn't tied to a known account's health yet
	// (the account is derived from the verified trade_no), so it passes
	// through uninstrumented.
	return g.inner.Verify(ctx, rawCallbackParams)
}

func (g *Guarded) record(ctx context.Context, key string, err error) {
	if err != nil {
		_ = g.breaker.RecordFailure(ctx, key)
		return
	}
	_ = g.breaker.RecordSuccess(ctx, key)
}
