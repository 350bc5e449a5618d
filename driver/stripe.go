package driver

import (
	"context"
	"fmt"
	"strconv"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"
	"github.com/stripe/stripe-go/v76/refund"

	"github.com/plm/aggpay/domain"
)

// StripeDriver is the PaymentDriver implementation for the "stripe"
// gateway key. Adapted from payments/stripe.go: the mock-mode fallback
// (no secret key configured -> synthesize a response instead of calling
// Stripe) is kept, but the secret key now comes from the account's own
// Config map rather than a single process-wide env var, since each
// PaymentChannelAccount carries its own upstream credentials (spec §3).
type StripeDriver struct {
	currency string
}

// NewStripeDriver builds a StripeDriver. currency is the ISO currency
// code every order is submitted in (one currency per driver instance).
func NewStripeDriver(currency string) *StripeDriver {
	return &StripeDriver{currency: currency}
}

func stripeKey(cfg map[string]string) (key string, mock bool) {
	key = cfg["secret_key"]
	if key == "" {
		return "sk_test_mock_key", true
	}
	return key, false
}

// amountMinorUnits converts a Money amount (scale 2, i.e. whole currency
// units with 2 decimal places) to Stripe's integer minor-unit amount.
func amountMinorUnits(m interface{ String() string }) (int64, error) {
	// m.String() renders e.g. "12.34"; Stripe wants 1234.
	s := m.String()
	dot := -1
	for i, c := range s {
		if c == '.' {
			dot = i
			break
		}
	}
	if dot < 0 {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, err
		}
		return v * 100, nil
	}
	whole, frac := s[:dot], s[dot+1:]
	for len(frac) < 2 {
		frac += "0"
	}
	frac = frac[:2]
	v, err := strconv.ParseInt(whole+frac, 10, 64)
	if err != nil {
		return 0, err
	}
	return v, nil
}

// Submit creates a Stripe PaymentIntent and hands the client secret back
// as a JSON submit result for the merchant's frontend to confirm.
func (d *StripeDriver) Submit(ctx context.Context, o *domain.Order, accountConfig map[string]string, buyer *domain.OrderBuyer, subject, returnURL, notifyURL string) (*SubmitResult, error) {
	key, mock := stripeKey(accountConfig)

	amount, err := amountMinorUnits(o.BuyerPayAmount)
	if err != nil {
		return nil, fmt.Errorf("driver/stripe: amount %q: %w", o.BuyerPayAmount.String(), err)
	}

	if mock {
		return &SubmitResult{
			Type: SubmitJSON,
			Data: map[string]any{
				"payment_intent_id": fmt.Sprintf("pi_mock_%s", o.TradeNo),
				"client_secret":     fmt.Sprintf("pi_mock_%s_secret_mock", o.TradeNo),
				"amount":            amount,
				"currency":          d.currency,
				"status":            "requires_payment_method",
			},
		}, nil
	}

	stripe.Key = key
	params := &stripe.PaymentIntentParams{
		Amount:      stripe.Int64(amount),
		Currency:    stripe.String(d.currency),
		Description: stripe.String(subject),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Metadata = map[string]string{
		"trade_no":     o.TradeNo,
		"out_trade_no": o.OutTradeNo,
	}

	pi, err := paymentintent.New(params)
	if err != nil {
		return &SubmitResult{Type: SubmitError, Message: err.Error()}, nil
	}

	return &SubmitResult{
		Type: SubmitJSON,
		Data: map[string]any{
			"payment_intent_id": pi.ID,
			"client_secret":     pi.ClientSecret,
			"amount":            pi.Amount,
			"currency":          string(pi.Currency),
			"status":            string(pi.Status),
		},
	}, nil
}

// Refund issues a Stripe refund against the order's api_trade_no
// (the PaymentIntent ID captured at submit/verify time).
func (d *StripeDriver) Refund(ctx context.Context, o *domain.Order, accountConfig map[string]string, r *domain.OrderRefund) (*RefundResult, error) {
	_, mock := stripeKey(accountConfig)

	amount, err := amountMinorUnits(r.Amount)
	if err != nil {
		return nil, fmt.Errorf("driver/stripe: refund amount %q: %w", r.Amount.String(), err)
	}

	if mock {
		return &RefundResult{
			State:       true,
			APIRefundNo: fmt.Sprintf("re_mock_%s", o.APITradeNo),
		}, nil
	}

	key, _ := stripeKey(accountConfig)
	stripe.Key = key
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(o.APITradeNo),
		Amount:        stripe.Int64(amount),
	}
	rf, err := refund.New(params)
	if err != nil {
		return &RefundResult{State: false, Message: err.Error()}, nil
	}
	return &RefundResult{State: true, APIRefundNo: rf.ID}, nil
}

// Verify inspects a webhook's already-form-decoded parameters and
// reports whether the underlying PaymentIntent has succeeded. No event
// signature is checked, here or in the webhook route: the callback handler
// passes the parsed form fields to Verify as they arrive, and a callback
// with status "succeeded" and a non-empty trade_no is reported valid.
func (d *StripeDriver) Verify(ctx context.Context, rawCallbackParams map[string]string) (*VerifyResult, error) {
	status := rawCallbackParams["status"]
	tradeNo := rawCallbackParams["trade_no"]
	piID := rawCallbackParams["payment_intent_id"]

	if status != "succeeded" || tradeNo == "" {
		return &VerifyResult{Valid: false}, nil
	}

	return &VerifyResult{
		Valid:      true,
		TradeNo:    tradeNo,
		APITradeNo: piID,
		MchTradeNo: piID,
		Buyer: VerifiedBuyer{
			UserID: rawCallbackParams["customer_id"],
		},
	}, nil
}
