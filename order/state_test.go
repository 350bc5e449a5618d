package order

import (
	"testing"

	"github.com/plm/aggpay/domain"
)

func TestCanTransitionTrade(t *testing.T) {
	cases := []struct {
		from, to domain.TradeState
		want     bool
	}{
		{domain.TradeWaitPay, domain.TradeSuccess, true},
		{domain.TradeWaitPay, domain.TradeClosed, true},
		{domain.TradeWaitPay, domain.TradeRefund, false},
		{domain.TradeSuccess, domain.TradeRefund, true},
		{domain.TradeSuccess, domain.TradeFinish, true},
		{domain.TradeSuccess, domain.TradeFrozen, true},
		{domain.TradeSuccess, domain.TradeWaitPay, false},
		{domain.TradeRefund, domain.TradeRefund, true},
		{domain.TradeRefund, domain.TradeFinish, true},
		{domain.TradeFrozen, domain.TradeSuccess, true},
		{domain.TradeFrozen, domain.TradeFinish, true},
		{domain.TradeClosed, domain.TradeSuccess, false},
		{domain.TradeFinish, domain.TradeRefund, false},
	}
	for _, c := range cases {
		if got := CanTransitionTrade(c.from, c.to, false); got != c.want {
			t.Errorf("CanTransitionTrade(%s, %s, false) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestCanTransitionTradeAdminOverrideBypassesGraph(t *testing.T) {
	if !CanTransitionTrade(domain.TradeClosed, domain.TradeSuccess, true) {
		t.Fatal("admin override should permit any transition")
	}
}

func TestCanTransitionSettle(t *testing.T) {
	cases := []struct {
		from, to domain.SettleState
		want     bool
	}{
		{domain.SettlePending, domain.SettleProcessing, true},
		{domain.SettlePending, domain.SettleCompleted, false},
		{domain.SettleProcessing, domain.SettleCompleted, true},
		{domain.SettleProcessing, domain.SettleFailed, true},
		{domain.SettleFailed, domain.SettleProcessing, true},
		{domain.SettleCompleted, domain.SettleProcessing, false},
	}
	for _, c := range cases {
		if got := CanTransitionSettle(c.from, c.to); got != c.want {
			t.Errorf("CanTransitionSettle(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

// TestCanTransitionNotifyAllowsLateSuccessAfterFailure matches spec §4.9
// step 5: a FAILED notification is retried and can still flip to SUCCESS.
func TestCanTransitionNotifyAllowsLateSuccessAfterFailure(t *testing.T) {
	if !CanTransitionNotify(domain.NotifyFailed, domain.NotifySuccess) {
		t.Fatal("expected FAILED -> SUCCESS to be a legal retry transition")
	}
	if !CanTransitionNotify(domain.NotifyFailed, domain.NotifyFailed) {
		t.Fatal("expected FAILED -> FAILED to be legal (repeated retry exhaustion)")
	}
	if CanTransitionNotify(domain.NotifySuccess, domain.NotifyFailed) {
		t.Fatal("SUCCESS should be terminal")
	}
}
