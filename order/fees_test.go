package order

import (
	"testing"

	"github.com/plm/aggpay/domain"
	"github.com/plm/aggpay/money"
)

func mustMoney(t *testing.T, s string, scale money.Scale) money.Money {
	t.Helper()
	m, err := money.FromString(s, scale)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

// TestComputeFeesScenarioS2 matches spec §8 scenario S2 literally.
func TestComputeFeesScenarioS2(t *testing.T) {
	total := mustMoney(t, "100.00", money.ScaleAmount)
	rate := mustMoney(t, "0.0240", money.ScaleRate)
	fixedFee := mustMoney(t, "0.10", money.ScaleAmount)
	minFee := mustMoney(t, "0.00", money.ScaleAmount)
	costs := mustMoney(t, "0.0100", money.ScaleRate)
	fixedCosts := mustMoney(t, "0.00", money.ScaleAmount)

	ch := &domain.PaymentChannel{
		ID: "ch1", Rate: rate, FixedFee: fixedFee, MinFee: minFee,
		Costs: costs, FixedCosts: fixedCosts,
	}
	acc := &domain.PaymentChannelAccount{ID: "acc1", InheritConfig: true}

	fb := ComputeFees(total, nil, ch, acc)

	wantFee := mustMoney(t, "2.50", money.ScaleAmount)
	wantCost := mustMoney(t, "1.00", money.ScaleAmount)
	wantReceipt := mustMoney(t, "97.50", money.ScaleAmount)
	wantProfit := mustMoney(t, "1.50", money.ScaleAmount)

	if fb.Fee.Cmp(wantFee) != 0 {
		t.Errorf("fee = %s, want %s", fb.Fee, wantFee)
	}
	if fb.Cost.Cmp(wantCost) != 0 {
		t.Errorf("cost = %s, want %s", fb.Cost, wantCost)
	}
	if fb.Receipt.Cmp(wantReceipt) != 0 {
		t.Errorf("receipt = %s, want %s", fb.Receipt, wantReceipt)
	}
	if fb.Profit.Cmp(wantProfit) != 0 {
		t.Errorf("profit = %s, want %s", fb.Profit, wantProfit)
	}
}

func TestEffectiveRatePriority(t *testing.T) {
	chRate := mustMoney(t, "0.0200", money.ScaleRate)
	accRate := mustMoney(t, "0.0300", money.ScaleRate)
	merchantRate := mustMoney(t, "0.0100", money.ScaleRate)

	ch := &domain.PaymentChannel{ID: "ch1", Rate: chRate}
	acc := &domain.PaymentChannelAccount{ID: "acc1", InheritConfig: false, Rate: accRate}

	// No merchant override, account doesn't inherit -> account rate.
	if got := EffectiveRate(nil, ch, acc); got.Cmp(accRate) != 0 {
		t.Errorf("got %s want account rate %s", got, accRate)
	}

	// Account inherits -> channel rate.
	acc2 := &domain.PaymentChannelAccount{ID: "acc2", InheritConfig: true}
	if got := EffectiveRate(nil, ch, acc2); got.Cmp(chRate) != 0 {
		t.Errorf("got %s want channel rate %s", got, chRate)
	}

	// Merchant override beats everything.
	merchant := &domain.Merchant{ChannelWhitelist: []domain.ChannelWhitelistEntry{
		{ChannelID: "ch1", Accounts: []domain.ChannelAccountRef{{AccountID: "acc1", Rate: &merchantRate}}},
	}}
	if got := EffectiveRate(merchant, ch, acc); got.Cmp(merchantRate) != 0 {
		t.Errorf("got %s want merchant rate %s", got, merchantRate)
	}
}

func TestBuyerPayAmount(t *testing.T) {
	total := mustMoney(t, "100.00", money.ScaleAmount)
	fee := mustMoney(t, "2.50", money.ScaleAmount)

	if got := BuyerPayAmount(total, fee, false); got.Cmp(total) != 0 {
		t.Errorf("got %s want %s", got, total)
	}
	want := mustMoney(t, "102.50", money.ScaleAmount)
	if got := BuyerPayAmount(total, fee, true); got.Cmp(want) != 0 {
		t.Errorf("got %s want %s", got, want)
	}
}
