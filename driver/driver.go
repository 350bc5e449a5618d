// Package driver defines the fixed upstream-gateway interface every
// payment channel's driver implements (spec §6), plus a Guarded wrapper
// that trips a circuit breaker around a failing account instead of
// dispatching doomed payments to it (SPEC_FULL.md §4).
package driver

import (
	"context"

	"github.com/plm/aggpay/domain"
)

// SubmitResultType is the shape of a submit() response (spec §6).
type SubmitResultType string

const (
	SubmitRedirect SubmitResultType = "redirect"
	SubmitHTML     SubmitResultType = "html"
	SubmitJSON     SubmitResultType = "json"
	SubmitPage     SubmitResultType = "page"
	SubmitError    SubmitResultType = "error"
)

// SubmitResult is what submit() returns.
type SubmitResult struct {
	Type    SubmitResultType
	URL     string
	Data    map[string]any
	Page    string
	Message string
}

// RefundResult is what refund() returns.
type RefundResult struct {
	State       bool
	APIRefundNo string
	Message     string
}

// VerifyResult is what verify() returns.
type VerifyResult struct {
	Valid       bool
	TradeNo     string
	APITradeNo  string
	BillTradeNo string
	MchTradeNo  string
	PaymentTime string
	Buyer       VerifiedBuyer
}

// VerifiedBuyer is the buyer info a driver's callback verification may
// enrich beyond what was known at order-creation time.
type VerifiedBuyer struct {
	IP          string
	UserID      string
	BuyerOpenID string
	Mobile      string
}

// PaymentDriver is the fixed per-upstream-gateway interface (spec §6).
type PaymentDriver interface {
	Submit(ctx context.Context, o *domain.Order, accountConfig map[string]string, buyer *domain.OrderBuyer, subject, returnURL, notifyURL string) (*SubmitResult, error)
	Refund(ctx context.Context, o *domain.Order, accountConfig map[string]string, refund *domain.OrderRefund) (*RefundResult, error)
	Verify(ctx context.Context, rawCallbackParams map[string]string) (*VerifyResult, error)
}

// Registry resolves a channel's configured gateway key to a driver
// implementation (spec §3 PaymentChannel.gateway).
type Registry struct {
	drivers map[string]PaymentDriver
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{drivers: make(map[string]PaymentDriver)}
}

// Register adds a driver under the given gateway key.
func (r *Registry) Register(gateway string, d PaymentDriver) {
	r.drivers[gateway] = d
}

// Resolve looks up the driver for a gateway key.
func (r *Registry) Resolve(gateway string) (PaymentDriver, bool) {
	d, ok := r.drivers[gateway]
	return d, ok
}
