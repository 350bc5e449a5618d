// Package notify implements the NotificationDispatcher (spec §4.9):
// builds and signs the merchant callback payload, delivers it over HTTP
// with a bounded worker pool, persists the delivery attempt, and
// schedules retries on failure with exponential backoff. HTTP delivery
// is grounded on payments/stripe.go's outbound-call shape; the worker
// pool is engine/worker.Pool, repurposed from settlement processing to
// notification fan-out.
package notify

import (
	"bytes"
	"context"
	"crypto/rsa"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/plm/aggpay/domain"
	"github.com/plm/aggpay/engine/worker"
	"github.com/plm/aggpay/gwerr"
	"github.com/plm/aggpay/signer"
)

// OrderStore is the subset of order persistence the dispatcher needs.
type OrderStore interface {
	Get(ctx context.Context, tradeNo string) (*domain.Order, error)
	MarkNotifyResult(ctx context.Context, tradeNo string, state domain.NotifyState, nextRetry *time.Time, retryCount int) error
}

// Repo persists OrderNotification delivery-attempt rows.
type Repo interface {
	Insert(ctx context.Context, n *domain.OrderNotification) error
}

// maxRetries caps the exponential backoff sequence (spec §4.9): once
// retry_count exceeds this, notify_state is left FAILED permanently.
const maxRetries = 8

// Dispatcher builds, signs and delivers merchant callbacks.
type Dispatcher struct {
	orders     OrderStore
	repo       Repo
	pool       *worker.Pool
	httpClient *http.Client
	rsaKey     *rsa.PrivateKey
	now        func() time.Time
}

// New builds a Dispatcher. rsaKey is the platform's signing key used for
// every outbound notification (spec §4.9: always sign_type "rsa2").
func New(orders OrderStore, repo Repo, pool *worker.Pool, rsaKey *rsa.PrivateKey) *Dispatcher {
	return &Dispatcher{
		orders:     orders,
		repo:       repo,
		pool:       pool,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		rsaKey:     rsaKey,
		now:        time.Now,
	}
}

// buildPayload assembles the signed callback parameter map (spec §4.9).
func (d *Dispatcher) buildPayload(o *domain.Order) (map[string]string, error) {
	params := map[string]string{
		"trade_no":        o.TradeNo,
		"out_trade_no":    o.OutTradeNo,
		"bill_trade_no":   o.BillTradeNo,
		"total_amount":    o.TotalAmount.String(),
		"buyer_pay_amount": o.BuyerPayAmount.String(),
		"receipt_amount":  o.ReceiptAmount.String(),
		"attach":          o.Attach,
		"trade_state":     string(o.TradeState),
		"create_time":     o.CreateTime.Format(time.RFC3339),
		"timestamp":       strconv.FormatInt(d.now().Unix(), 10),
		"sign_type":       string(domain.SignRSA2),
	}
	if o.PaymentTime != nil {
		params["payment_time"] = o.PaymentTime.Format(time.RFC3339)
	}

	result, err := signer.Sign(params, domain.SignRSA2, nil, d.rsaKey)
	if err != nil {
		return nil, fmt.Errorf("notify: sign payload: %w", err)
	}
	params["sign"] = result.Signature
	return params, nil
}

// Deliver performs a single delivery attempt for an order's notification
// (spec §4.9). It is idempotent to call repeatedly — each call is one
// attempt recorded as its own OrderNotification row.
func (d *Dispatcher) Deliver(ctx context.Context, tradeNo string) error {
	o, err := d.orders.Get(ctx, tradeNo)
	if err != nil {
		return err
	}
	if o.NotifyState == domain.NotifySuccess {
		return nil
	}

	params, err := d.buildPayload(o)
	if err != nil {
		return err
	}

	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.NotifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return gwerr.Internal(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	start := d.now()
	resp, deliverErr := d.httpClient.Do(req)
	elapsed := int(d.now().Sub(start).Milliseconds())

	var success bool
	var body string
	if deliverErr != nil {
		body = deliverErr.Error()
	} else {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		body = string(raw)
		success = resp.StatusCode == http.StatusOK && strings.EqualFold(strings.TrimSpace(body), "success")
	}

	record := &domain.OrderNotification{
		TradeNo:         o.TradeNo,
		Status:          success,
		RequestDuration: elapsed,
		ResponseBody:    body,
		CreatedAt:       d.now(),
	}
	if err := d.repo.Insert(ctx, record); err != nil {
		log.Printf("notify: failed to persist delivery attempt for %s: %v", tradeNo, err)
	}

	if success {
		return d.orders.MarkNotifyResult(ctx, tradeNo, domain.NotifySuccess, nil, o.NotifyRetryCount)
	}

	retryCount := o.NotifyRetryCount + 1
	if retryCount > maxRetries {
		return d.orders.MarkNotifyResult(ctx, tradeNo, domain.NotifyFailed, nil, retryCount)
	}

	backoff := retryBackoff(retryCount)
	next := d.now().Add(backoff)
	return d.orders.MarkNotifyResult(ctx, tradeNo, domain.NotifyFailed, &next, retryCount)
}

// retryBackoff implements spec §4.9's 2^min(retry_count,8)*60s schedule.
func retryBackoff(retryCount int) time.Duration {
	exp := retryCount
	if exp > maxRetries {
		exp = maxRetries
	}
	seconds := 1
	for i := 0; i < exp; i++ {
		seconds *= 2
	}
	return time.Duration(seconds) * 60 * time.Second
}

// Enqueue submits a delivery attempt onto the bounded worker pool.
func (d *Dispatcher) Enqueue(ctx context.Context, tradeNo string) error {
	return d.pool.Submit(ctx, func(ctx context.Context) error {
		return d.Deliver(ctx, tradeNo)
	}, func(err error) {
		if err != nil {
			log.Printf("notify: delivery attempt failed for %s: %v", tradeNo, err)
		}
	})
}

// SignedReturnURL composes spec §4.9 step 6's synchronous return URL: the
// same callback params used for the async notification, signed with the
// platform key, appended to o.ReturnURL honoring any query string it
// already carries.
func (d *Dispatcher) SignedReturnURL(o *domain.Order) (string, error) {
	if o.ReturnURL == "" {
		return "", nil
	}
	params, err := d.buildPayload(o)
	if err != nil {
		return "", err
	}

	u, err := url.Parse(o.ReturnURL)
	if err != nil {
		return "", fmt.Errorf("notify: parse return_url: %w", err)
	}
	existing := u.Query()
	for k, v := range params {
		existing.Set(k, v)
	}
	u.RawQuery = existing.Encode()
	return u.String(), nil
}
