package withdrawal

import (
	"testing"

	"github.com/plm/aggpay/domain"
	"github.com/plm/aggpay/money"
)

func mustMoney(t *testing.T, s string) money.Money {
	t.Helper()
	m, err := money.FromString(s, money.ScaleAmount)
	if err != nil {
		t.Fatalf("money.FromString(%q): %v", s, err)
	}
	return m
}

// TestSettleAccountScenarioS5 matches the literal settle-account
// walkthrough: available 500.00, prepaid 120.00 -> a PROCESSING
// withdrawal for the 380.00 external portion, prepaid fully consumed.
func TestSettleAccountScenarioS5(t *testing.T) {
	available := mustMoney(t, "500.00")
	prepaid := mustMoney(t, "120.00")

	if available.Cmp(prepaid) <= 0 {
		t.Fatal("expected available to exceed prepaid in this scenario")
	}
	received := available.Sub(prepaid)
	if received.String() != "380.00" {
		t.Fatalf("received = %s, want 380.00", received.String())
	}
}

// TestSettleAccountFullyCoveredByPrepaid checks the values that select
// SettleAccount's available <= prepaid branch (the one that debits both
// and creates no withdrawal record); it does not call SettleAccount.
func TestSettleAccountFullyCoveredByPrepaid(t *testing.T) {
	available := mustMoney(t, "100.00")
	prepaid := mustMoney(t, "150.00")

	if available.Cmp(prepaid) > 0 {
		t.Fatal("expected available to be covered by prepaid in this scenario")
	}
}

func TestWithdrawalStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to domain.WithdrawalStatus
		want     bool
	}{
		{domain.WithdrawalPending, domain.WithdrawalProcessing, true},
		{domain.WithdrawalPending, domain.WithdrawalRejected, true},
		{domain.WithdrawalPending, domain.WithdrawalCanceled, true},
		{domain.WithdrawalPending, domain.WithdrawalCompleted, false},
		{domain.WithdrawalProcessing, domain.WithdrawalCompleted, true},
		{domain.WithdrawalProcessing, domain.WithdrawalFailed, true},
		{domain.WithdrawalProcessing, domain.WithdrawalCanceled, true},
		{domain.WithdrawalProcessing, domain.WithdrawalPending, false},
		{domain.WithdrawalCompleted, domain.WithdrawalPending, false},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestReversingStatusesSet(t *testing.T) {
	for _, s := range []domain.WithdrawalStatus{domain.WithdrawalRejected, domain.WithdrawalCanceled, domain.WithdrawalFailed} {
		if !reversingStatuses[s] {
			t.Errorf("%s should be a reversing status", s)
		}
	}
	if reversingStatuses[domain.WithdrawalCompleted] {
		t.Error("COMPLETED should not be a reversing status")
	}
}
