package notify

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/plm/aggpay/domain"
	"github.com/plm/aggpay/money"
)

func TestRetryBackoffSchedule(t *testing.T) {
	cases := []struct {
		retryCount int
		want       time.Duration
	}{
		{1, 2 * 60 * time.Second},
		{2, 4 * 60 * time.Second},
		{3, 8 * 60 * time.Second},
		{8, 256 * 60 * time.Second},
		{9, 256 * 60 * time.Second}, // clamped to 2^8
		{20, 256 * 60 * time.Second},
	}
	for _, c := range cases {
		if got := retryBackoff(c.retryCount); got != c.want {
			t.Errorf("retryBackoff(%d) = %v, want %v", c.retryCount, got, c.want)
		}
	}
}

// TestSignedReturnURLHonorsExistingQueryAndSigns matches spec §4.9 step 6:
// the composed return URL carries a sign field and preserves any query
// string return_url already had.
func TestSignedReturnURLHonorsExistingQueryAndSigns(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	d := New(nil, nil, nil, key)

	total, _ := money.FromString("100.00", money.ScaleAmount)
	buyerPay, _ := money.FromString("100.00", money.ScaleAmount)
	receipt, _ := money.FromString("97.50", money.ScaleAmount)
	o := &domain.Order{
		TradeNo:        "P2601010000001000000AAAAA",
		OutTradeNo:     "ORD-001",
		TotalAmount:    total,
		BuyerPayAmount: buyerPay,
		ReceiptAmount:  receipt,
		TradeState:     domain.TradeSuccess,
		CreateTime:     time.Now(),
		ReturnURL:      "https://merchant.example/return?existing=1",
	}

	out, err := d.SignedReturnURL(o)
	if err != nil {
		t.Fatalf("SignedReturnURL: %v", err)
	}

	u, err := url.Parse(out)
	if err != nil {
		t.Fatalf("parse result: %v", err)
	}
	q := u.Query()
	if q.Get("existing") != "1" {
		t.Fatalf("expected existing query param preserved, got %q", u.RawQuery)
	}
	if q.Get("trade_no") != o.TradeNo {
		t.Fatalf("trade_no = %q, want %q", q.Get("trade_no"), o.TradeNo)
	}
	if q.Get("sign") == "" {
		t.Fatal("expected a non-empty sign field")
	}
}

// TestSignedReturnURLEmptyWhenNoReturnURL matches the no-op case: an
// order with no return_url configured has nothing to compose.
func TestSignedReturnURLEmptyWhenNoReturnURL(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	d := New(nil, nil, nil, key)

	out, err := d.SignedReturnURL(&domain.Order{})
	if err != nil {
		t.Fatalf("SignedReturnURL: %v", err)
	}
	if out != "" {
		t.Fatalf("expected empty string, got %q", out)
	}
}

type fakeOrderStore struct {
	order *domain.Order
	state domain.NotifyState
}

func (f *fakeOrderStore) Get(ctx context.Context, tradeNo string) (*domain.Order, error) {
	return f.order, nil
}

func (f *fakeOrderStore) MarkNotifyResult(ctx context.Context, tradeNo string, state domain.NotifyState, nextRetry *time.Time, retryCount int) error {
	f.state = state
	return nil
}

type fakeNotifyRepo struct {
	rows []*domain.OrderNotification
}

func (f *fakeNotifyRepo) Insert(ctx context.Context, n *domain.OrderNotification) error {
	f.rows = append(f.rows, n)
	return nil
}

func TestSuccessBodyIsCaseInsensitive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("SUCCESS"))
	}))
	defer srv.Close()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	store := &fakeOrderStore{order: &domain.Order{
		TradeNo:    "P260101000000000000AAAAA",
		NotifyURL:  srv.URL,
		TradeState: domain.TradeSuccess,
		CreateTime: time.Now(),
	}}
	repo := &fakeNotifyRepo{}
	d := New(store, repo, nil, key)

	if err := d.Deliver(context.Background(), store.order.TradeNo); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if store.state != domain.NotifySuccess {
		t.Fatalf("notify_state = %q, want %q for body \"SUCCESS\"", store.state, domain.NotifySuccess)
	}
	if len(repo.rows) != 1 || !repo.rows[0].Status {
		t.Fatalf("expected one successful delivery row, got %+v", repo.rows)
	}
}
