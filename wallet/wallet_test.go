package wallet

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/plm/aggpay/domain"
	"github.com/plm/aggpay/gwerr"
	"github.com/plm/aggpay/money"
)

// A minimal in-memory database/sql driver standing in for Postgres, just
// enough to exercise Ledger's lock-read/save/insert sequence without a
// real database or an external mocking library.

type walletRow struct {
	available, unavailable, prepaid, margin string
}

type fakeBackend struct {
	mu      sync.Mutex
	wallets map[string]*walletRow
	records []string
}

type fakeDriver struct{ backend *fakeBackend }

func (d *fakeDriver) Open(name string) (driver.Conn, error) {
	return &fakeConn{backend: d.backend}, nil
}

type fakeConn struct{ backend *fakeBackend }

func (c *fakeConn) Prepare(query string) (driver.Stmt, error) {
	return &fakeStmt{backend: c.backend, query: query}, nil
}
func (c *fakeConn) Close() error { return nil }
func (c *fakeConn) Begin() (driver.Tx, error) {
	return &fakeTx{}, nil
}

type fakeTx struct{}

func (t *fakeTx) Commit() error   { return nil }
func (t *fakeTx) Rollback() error { return nil }

type fakeStmt struct {
	backend *fakeBackend
	query   string
}

func (s *fakeStmt) Close() error  { return nil }
func (s *fakeStmt) NumInput() int { return -1 }

func (s *fakeStmt) Exec(args []driver.Value) (driver.Result, error) {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()

	q := s.query
	switch {
	case strings.Contains(q, "UPDATE merchant_wallet") && strings.Contains(q, "SET available_balance"):
		merchantID := args[0].(string)
		s.backend.wallets[merchantID] = &walletRow{
			available:   args[1].(string),
			unavailable: args[2].(string),
			prepaid:     args[3].(string),
			margin:      args[4].(string),
		}
	case strings.Contains(q, "INSERT INTO merchant_wallet_record"):
		s.backend.records = append(s.backend.records, "wallet_record")
	case strings.Contains(q, "INSERT INTO merchant_wallet_prepaid_record"):
		s.backend.records = append(s.backend.records, "prepaid_record")
	}
	return driver.RowsAffected(1), nil
}

func (s *fakeStmt) Query(args []driver.Value) (driver.Rows, error) {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()

	if !strings.Contains(s.query, "FROM merchant_wallet WHERE merchant_id") {
		return nil, errors.New("fake driver: unsupported query")
	}
	merchantID := args[0].(string)
	w, ok := s.backend.wallets[merchantID]
	if !ok {
		return &fakeRows{}, nil
	}
	return &fakeRows{row: w, merchantID: merchantID}, nil
}

type fakeRows struct {
	row        *walletRow
	merchantID string
	done       bool
}

func (r *fakeRows) Columns() []string {
	return []string{"merchant_id", "available_balance", "unavailable_balance", "prepaid", "margin"}
}
func (r *fakeRows) Close() error { return nil }
func (r *fakeRows) Next(dest []driver.Value) error {
	if r.row == nil || r.done {
		return io.EOF
	}
	r.done = true
	dest[0] = r.merchantID
	dest[1] = r.row.available
	dest[2] = r.row.unavailable
	dest[3] = r.row.prepaid
	dest[4] = r.row.margin
	return nil
}

func newTestDB(t *testing.T, seed map[string]*walletRow) (*sql.DB, *fakeBackend) {
	t.Helper()
	backend := &fakeBackend{wallets: seed}
	drv := &fakeDriver{backend: backend}
	name := "wallet-fake-" + t.Name()
	sql.Register(name, drv)
	db, err := sql.Open(name, "")
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	return db, backend
}

func mustMoney(t *testing.T, s string) money.Money {
	t.Helper()
	m, err := money.FromString(s, money.ScaleAmount)
	if err != nil {
		t.Fatalf("money.FromString(%q): %v", s, err)
	}
	return m
}

func TestChangeAvailableCreditsBalance(t *testing.T) {
	db, backend := newTestDB(t, map[string]*walletRow{
		"m1": {available: "100.00", unavailable: "0.00", prepaid: "0.00", margin: "0.00"},
	})
	tx, err := db.BeginTx(context.Background(), nil)
	if err != nil {
		t.Fatalf("BeginTx: %v", err)
	}

	l := New()
	if err := l.ChangeAvailable(context.Background(), tx, "m1", mustMoney(t, "50.00"), domain.WalletChangeOrderSettle, "T1", "test", false); err != nil {
		t.Fatalf("ChangeAvailable: %v", err)
	}
	if backend.wallets["m1"].available != "150.00" {
		t.Fatalf("expected 150.00, got %s", backend.wallets["m1"].available)
	}
}

func TestChangeAvailableRejectsNegativeBalance(t *testing.T) {
	db, _ := newTestDB(t, map[string]*walletRow{
		"m1": {available: "10.00", unavailable: "0.00", prepaid: "0.00", margin: "0.00"},
	})
	tx, _ := db.BeginTx(context.Background(), nil)

	l := New()
	err := l.ChangeAvailable(context.Background(), tx, "m1", mustMoney(t, "-50.00"), domain.WalletChangeOrderSettle, "T1", "test", false)
	if err == nil {
		t.Fatal("expected insufficient funds error")
	}
	var gerr *gwerr.Error
	if !errors.As(err, &gerr) || gerr.Code != gwerr.CodeInsufficientFunds {
		t.Fatalf("expected CodeInsufficientFunds, got %v", err)
	}
}

func TestChangeAvailableReducesUnavailableOnSettlement(t *testing.T) {
	db, backend := newTestDB(t, map[string]*walletRow{
		"m1": {available: "0.00", unavailable: "80.00", prepaid: "0.00", margin: "0.00"},
	})
	tx, _ := db.BeginTx(context.Background(), nil)

	l := New()
	if err := l.ChangeAvailable(context.Background(), tx, "m1", mustMoney(t, "80.00"), domain.WalletChangeOrderSettle, "T1", "settlement", true); err != nil {
		t.Fatalf("ChangeAvailable: %v", err)
	}
	w := backend.wallets["m1"]
	if w.available != "80.00" || w.unavailable != "0.00" {
		t.Fatalf("expected available=80.00 unavailable=0.00, got available=%s unavailable=%s", w.available, w.unavailable)
	}
}

func TestChangeUnAvailableRejectsNegativeAvailableWhenReducing(t *testing.T) {
	db, _ := newTestDB(t, map[string]*walletRow{
		"m1": {available: "10.00", unavailable: "0.00", prepaid: "0.00", margin: "0.00"},
	})
	tx, _ := db.BeginTx(context.Background(), nil)

	l := New()
	err := l.ChangeUnAvailable(context.Background(), tx, "m1", mustMoney(t, "50.00"), domain.WalletChangeOrderSettle, "T1", "hold", true)
	if err == nil {
		t.Fatal("expected insufficient available balance error")
	}
}

func TestChangePrepaidRejectsNegative(t *testing.T) {
	db, _ := newTestDB(t, map[string]*walletRow{
		"m1": {available: "0.00", unavailable: "0.00", prepaid: "20.00", margin: "0.00"},
	})
	tx, _ := db.BeginTx(context.Background(), nil)

	l := New()
	err := l.ChangePrepaid(context.Background(), tx, "m1", mustMoney(t, "-30.00"), "deduct")
	if err == nil {
		t.Fatal("expected insufficient prepaid balance error")
	}
}

func TestChangePrepaidCredits(t *testing.T) {
	db, backend := newTestDB(t, map[string]*walletRow{
		"m1": {available: "0.00", unavailable: "0.00", prepaid: "20.00", margin: "0.00"},
	})
	tx, _ := db.BeginTx(context.Background(), nil)

	l := New()
	if err := l.ChangePrepaid(context.Background(), tx, "m1", mustMoney(t, "30.00"), "top up"); err != nil {
		t.Fatalf("ChangePrepaid: %v", err)
	}
	if backend.wallets["m1"].prepaid != "50.00" {
		t.Fatalf("expected 50.00, got %s", backend.wallets["m1"].prepaid)
	}
}
