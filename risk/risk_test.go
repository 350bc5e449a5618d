package risk

import (
	"context"
	"testing"
	"time"

	"github.com/plm/aggpay/domain"
)

type fakeBlacklist struct {
	entries map[string]*domain.Blacklist
}

func (f *fakeBlacklist) Find(ctx context.Context, hash string, now time.Time) (*domain.Blacklist, error) {
	e, ok := f.entries[hash]
	if !ok {
		return nil, nil
	}
	if e.ExpiredAt != nil && !e.ExpiredAt.After(now) {
		return nil, nil
	}
	return e, nil
}

type fakeCounter struct {
	counts map[string]int
}

func (f *fakeCounter) CountSince(ctx context.Context, field, value string, since time.Time) (int, error) {
	return f.counts[field+":"+value], nil
}

func (f *fakeCounter) Summary(ctx context.Context, ip, userID, buyerOpenID, mobile string) (int, int, error) {
	return 10, 7, nil
}

type fakeLogs struct{ entries []*domain.RiskLog }

func (f *fakeLogs) Write(ctx context.Context, log *domain.RiskLog) error {
	f.entries = append(f.entries, log)
	return nil
}

func TestCreateOrderCheckBlacklistedIP(t *testing.T) {
	ip := "203.0.113.9"
	bl := &fakeBlacklist{entries: map[string]*domain.Blacklist{
		EntityHash(domain.EntityIPAddress, ip): {EntityType: domain.EntityIPAddress, EntityValue: ip, Reason: "fraud ring"},
	}}
	counter := &fakeCounter{counts: map[string]int{}}
	logs := &fakeLogs{}
	eng := New(bl, counter, logs, DefaultConfig())

	msg, err := eng.CreateOrderCheck(context.Background(), CheckInput{IP: ip}, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if msg == "" {
		t.Fatal("expected blacklist hit")
	}
	if len(logs.entries) != 1 {
		t.Fatalf("expected 1 risk log, got %d", len(logs.entries))
	}
}

func TestCreateOrderCheckDailyCapS6(t *testing.T) {
	ip := "203.0.113.9"
	bl := &fakeBlacklist{entries: map[string]*domain.Blacklist{}}
	counter := &fakeCounter{counts: map[string]int{"ip:" + ip: 3}}
	logs := &fakeLogs{}
	cfg := &Config{IPOrderLimit: 3, AccountOrderLimit: 1000, Location: time.UTC}
	eng := New(bl, counter, logs, cfg)

	msg, err := eng.CreateOrderCheck(context.Background(), CheckInput{IP: ip}, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if msg == "" {
		t.Fatal("expected daily cap to trigger at the 4th order")
	}
}

func TestCreateOrderCheckAllowsWithinCap(t *testing.T) {
	ip := "198.51.100.1"
	bl := &fakeBlacklist{entries: map[string]*domain.Blacklist{}}
	counter := &fakeCounter{counts: map[string]int{"ip:" + ip: 2}}
	cfg := &Config{IPOrderLimit: 3, AccountOrderLimit: 1000, Location: time.UTC}
	eng := New(bl, counter, &fakeLogs{}, cfg)

	msg, err := eng.CreateOrderCheck(context.Background(), CheckInput{IP: ip}, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if msg != "" {
		t.Fatalf("expected no block, got %q", msg)
	}
}

func TestSummarize(t *testing.T) {
	eng := New(&fakeBlacklist{entries: map[string]*domain.Blacklist{}}, &fakeCounter{}, &fakeLogs{}, DefaultConfig())
	s, err := eng.Summarize(context.Background(), "1.1.1.1", "", "", "", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if s.TotalOrders != 10 || s.PaidOrders != 7 {
		t.Fatalf("unexpected summary: %+v", s)
	}
	if s.SuccessRate != 0.7 {
		t.Fatalf("success rate = %v, want 0.7", s.SuccessRate)
	}
}
