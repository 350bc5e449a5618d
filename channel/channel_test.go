package channel

import (
	"context"
	"testing"
	"time"

	"github.com/plm/aggpay/domain"
	"github.com/plm/aggpay/money"
)

type fakeChannelRepo struct {
	channels []*domain.PaymentChannel
}

func (f *fakeChannelRepo) Find(ctx context.Context, paymentType domain.PaymentType, code string) ([]*domain.PaymentChannel, error) {
	if code != "" {
		var out []*domain.PaymentChannel
		for _, c := range f.channels {
			if c.Code == code {
				out = append(out, c)
			}
		}
		return out, nil
	}
	var out []*domain.PaymentChannel
	for _, c := range f.channels {
		if c.PaymentType == paymentType {
			out = append(out, c)
		}
	}
	return out, nil
}

type fakeAccountRepo struct {
	byChannel map[string][]*domain.PaymentChannelAccount
}

func (f *fakeAccountRepo) ListActive(ctx context.Context, channelID string) ([]*domain.PaymentChannelAccount, error) {
	return f.byChannel[channelID], nil
}

type fakeDailyLimits struct {
	totals map[string]money.Money
}

func newFakeDailyLimits() *fakeDailyLimits { return &fakeDailyLimits{totals: map[string]money.Money{}} }

func (f *fakeDailyLimits) GetDailyTotal(ctx context.Context, key string, date string) (money.Money, error) {
	if v, ok := f.totals[key+":"+date]; ok {
		return v, nil
	}
	return money.Zero(money.ScaleAmount), nil
}

func (f *fakeDailyLimits) AddDailyTotal(ctx context.Context, key string, date string, amount money.Money) error {
	k := key + ":" + date
	f.totals[k] = f.totals[k].Add(amount)
	return nil
}

type fakeRotation struct {
	last map[string]string
}

func newFakeRotation() *fakeRotation { return &fakeRotation{last: map[string]string{}} }

func (f *fakeRotation) NextSequential(ctx context.Context, channelID string, sortedAccountIDs []string) (string, error) {
	if len(sortedAccountIDs) == 0 {
		return "", nil
	}
	last, ok := f.last[channelID]
	next := sortedAccountIDs[0]
	if ok {
		for i, id := range sortedAccountIDs {
			if id == last {
				next = sortedAccountIDs[(i+1)%len(sortedAccountIDs)]
				break
			}
		}
	}
	f.last[channelID] = next
	return next, nil
}

func mustMoney(t *testing.T, s string) money.Money {
	t.Helper()
	m, err := money.FromString(s, money.ScaleAmount)
	if err != nil {
		t.Fatalf("money.FromString(%q): %v", s, err)
	}
	return m
}

func TestSelectSkipsChannelOutsideAmountRange(t *testing.T) {
	min := mustMoney(t, "10.00")
	max := mustMoney(t, "100.00")
	channels := &fakeChannelRepo{channels: []*domain.PaymentChannel{
		{ID: "ch1", PaymentType: domain.PaymentTypeAlipay, MinAmount: &min, MaxAmount: &max, Status: true, RollMode: 3},
		{ID: "ch2", PaymentType: domain.PaymentTypeAlipay, Status: true, RollMode: 3},
	}}
	accounts := &fakeAccountRepo{byChannel: map[string][]*domain.PaymentChannelAccount{
		"ch2": {{ID: "acc1", ChannelID: "ch2", Status: true}},
	}}

	sel := New(channels, accounts, newFakeDailyLimits(), newFakeRotation())
	res, err := sel.Select(context.Background(), Request{
		PaymentType: domain.PaymentTypeAlipay,
		Amount:      mustMoney(t, "500.00"),
		Now:         time.Now(),
	})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if res.Channel.ID != "ch2" {
		t.Fatalf("expected ch2, got %s", res.Channel.ID)
	}
}

func TestSelectExceedsChannelDailyLimitFailsImmediately(t *testing.T) {
	limit := mustMoney(t, "1000.00")
	channels := &fakeChannelRepo{channels: []*domain.PaymentChannel{
		{ID: "ch1", PaymentType: domain.PaymentTypeAlipay, DailyLimit: &limit, Status: true, RollMode: 3},
	}}
	accounts := &fakeAccountRepo{}
	dl := newFakeDailyLimits()
	dl.totals["PaymentDailyLimit:channel:ch1:"+time.Now().Format("2006-01-02")] = mustMoney(t, "900.00")

	sel := New(channels, accounts, dl, newFakeRotation())
	_, err := sel.Select(context.Background(), Request{
		PaymentType: domain.PaymentTypeAlipay,
		Amount:      mustMoney(t, "200.00"),
		Now:         time.Now(),
	})
	if err == nil {
		t.Fatal("expected daily limit error")
	}
}

func TestSelectSequentialRotationCycles(t *testing.T) {
	channels := &fakeChannelRepo{channels: []*domain.PaymentChannel{
		{ID: "ch1", PaymentType: domain.PaymentTypeAlipay, Status: true, RollMode: 0},
	}}
	accounts := &fakeAccountRepo{byChannel: map[string][]*domain.PaymentChannelAccount{
		"ch1": {
			{ID: "a1", ChannelID: "ch1", Status: true},
			{ID: "a2", ChannelID: "ch1", Status: true},
		},
	}}

	sel := New(channels, accounts, newFakeDailyLimits(), newFakeRotation())
	req := Request{PaymentType: domain.PaymentTypeAlipay, Amount: mustMoney(t, "1.00"), Now: time.Now()}

	first, err := sel.Select(context.Background(), req)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	second, err := sel.Select(context.Background(), req)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if first.Account.ID == second.Account.ID {
		t.Fatalf("expected rotation to alternate accounts, got %s twice", first.Account.ID)
	}
}

func TestSelectRespectsMerchantWhitelist(t *testing.T) {
	channels := &fakeChannelRepo{channels: []*domain.PaymentChannel{
		{ID: "ch1", PaymentType: domain.PaymentTypeAlipay, Status: true, RollMode: 3},
		{ID: "ch2", PaymentType: domain.PaymentTypeAlipay, Status: true, RollMode: 3},
	}}
	accounts := &fakeAccountRepo{byChannel: map[string][]*domain.PaymentChannelAccount{
		"ch2": {{ID: "acc1", ChannelID: "ch2", Status: true}},
	}}
	merchant := &domain.Merchant{
		ChannelWhitelist: []domain.ChannelWhitelistEntry{
			{ChannelID: "ch2", UseAllAccounts: true},
		},
	}

	sel := New(channels, accounts, newFakeDailyLimits(), newFakeRotation())
	res, err := sel.Select(context.Background(), Request{
		PaymentType: domain.PaymentTypeAlipay,
		Amount:      mustMoney(t, "1.00"),
		Merchant:    merchant,
		Now:         time.Now(),
	})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if res.Channel.ID != "ch2" {
		t.Fatalf("expected whitelist to restrict to ch2, got %s", res.Channel.ID)
	}
}

func TestSelectNoAvailableAccount(t *testing.T) {
	channels := &fakeChannelRepo{channels: []*domain.PaymentChannel{
		{ID: "ch1", PaymentType: domain.PaymentTypeAlipay, Status: true, RollMode: 3},
	}}
	accounts := &fakeAccountRepo{}

	sel := New(channels, accounts, newFakeDailyLimits(), newFakeRotation())
	_, err := sel.Select(context.Background(), Request{
		PaymentType: domain.PaymentTypeAlipay,
		Amount:      mustMoney(t, "1.00"),
		Now:         time.Now(),
	})
	if err == nil {
		t.Fatal("expected no-available-account error")
	}
}
