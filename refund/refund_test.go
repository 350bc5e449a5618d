package refund

import (
	"context"
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

type fakeRefundRepo struct {
	refunds []*domain.OrderRefund
}

func (f *fakeRefundRepo) SumNonFailed(ctx context.Context, tradeNo string) (money.Money, error) {
	sum := money.Zero(money.ScaleAmount)
	for _, r := range f.refunds {
		if r.TradeNo == tradeNo && r.Status != domain.RefundFailed && r.Status != domain.RefundRejected {
			sum = sum.Add(r.Amount)
		}
	}
	return sum, nil
}

func (f *fakeRefundRepo) FindByIdempotency(ctx context.Context, merchantID, outBizNo string) (*domain.OrderRefund, error) {
	for _, r := range f.refunds {
		if r.MerchantID == merchantID && r.OutBizNo == outBizNo {
			return r, nil
		}
	}
	return nil, nil
}

// TestRemainingRefundableComputation exercises the §4.7 "remaining
// refundable" arithmetic that Handle guards the requested amount against.
func TestRemainingRefundableComputation(t *testing.T) {
	repo := &fakeRefundRepo{refunds: []*domain.OrderRefund{
		{TradeNo: "t1", Amount: mustMoney(t, "40.00"), Status: domain.RefundCompleted},
	}}
	sum, err := repo.SumNonFailed(context.Background(), "t1")
	if err != nil {
		t.Fatalf("SumNonFailed: %v", err)
	}
	total := mustMoney(t, "100.00")
	remaining := total.Sub(sum)
	if remaining.String() != "60.00" {
		t.Fatalf("remaining = %s, want 60.00", remaining.String())
	}

	overRequest := mustMoney(t, "70.00")
	if overRequest.Cmp(remaining) <= 0 {
		t.Fatalf("expected 70.00 to exceed remaining 60.00")
	}

	underRequest := mustMoney(t, "60.00")
	if underRequest.Cmp(remaining) > 0 {
		t.Fatalf("expected 60.00 to be refundable against remaining 60.00")
	}
}

// TestRefundFeeProrationMatchesS2 matches the literal scenario from the
// partial-refund walkthrough: a 40.00 refund against a 100.00 order with a
// 2.50 total fee prorates to a 1.00 fee restitution.
func TestRefundFeeProrationMatchesS2(t *testing.T) {
	feeAmount := mustMoney(t, "2.50")
	totalAmount := mustMoney(t, "100.00")
	refundAmount := mustMoney(t, "40.00")

	ratio := refundAmount.Decimal().DivRound(totalAmount.Decimal(), 8)
	refundFee := feeAmount.MulScale(ratio, money.ScaleAmount)
	refundFee = money.Min(refundFee, feeAmount)

	if refundFee.String() != "1.00" {
		t.Fatalf("refund fee = %s, want 1.00", refundFee.String())
	}
}

// TestRefundFeeProrationClampsToFeeAmount guards the "≤ fee_amount" clamp
// even if a caller computes a ratio above 1 through rounding drift.
func TestRefundFeeProrationClampsToFeeAmount(t *testing.T) {
	feeAmount := mustMoney(t, "2.50")
	overRatio := mustMoney(t, "3.00")

	clamped := money.Min(overRatio, feeAmount)
	if clamped.String() != "2.50" {
		t.Fatalf("clamped fee = %s, want 2.50", clamped.String())
	}
}

func TestIdempotencyLookupDetectsMismatch(t *testing.T) {
	existing := &domain.OrderRefund{
		TradeNo:    "t1",
		MerchantID: "m-1",
		OutBizNo:   "biz-1",
		Amount:     mustMoney(t, "10.00"),
	}
	repo := &fakeRefundRepo{refunds: []*domain.OrderRefund{existing}}

	found, err := repo.FindByIdempotency(context.Background(), "m-1", "biz-1")
	if err != nil {
		t.Fatalf("FindByIdempotency: %v", err)
	}
	if found == nil {
		t.Fatal("expected existing refund")
	}

	mismatched := mustMoney(t, "20.00")
	if found.Amount.Cmp(mismatched) == 0 {
		t.Fatal("expected amount mismatch to be detectable")
	}
	if found.TradeNo != "t1" {
		t.Fatal("expected trade_no match for idempotent replay")
	}
}

func TestSecondPartialRefundAccumulatesTowardFinish(t *testing.T) {
	buyerPay := mustMoney(t, "100.00")
	repo := &fakeRefundRepo{refunds: []*domain.OrderRefund{
		{TradeNo: "t1", Amount: mustMoney(t, "40.00"), Status: domain.RefundCompleted},
	}}

	refunded, _ := repo.SumNonFailed(context.Background(), "t1")
	secondRefund := mustMoney(t, "60.00")
	newRefunded := refunded.Add(secondRefund)

	if newRefunded.Cmp(buyerPay) != 0 {
		t.Fatalf("newRefunded = %s, want exactly 100.00", newRefunded.String())
	}
	// newRefunded >= buyerPay means the order should move to FINISHED,
	// not stay in REFUND (spec §4.7 terminal transition).
	if newRefunded.Cmp(buyerPay) < 0 {
		t.Fatal("expected full refund to reach terminal state")
	}
}
