package money

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestAddSubRounding(t *testing.T) {
	a, _ := FromString("100.00", ScaleAmount)
	b, _ := FromString("2.505", ScaleAmount) // rounds half-even to 2.50
	got := a.Sub(b)
	want, _ := FromString("97.50", ScaleAmount)
	if got.Cmp(want) != 0 {
		t.Fatalf("got %s want %s", got, want)
	}
}

func TestFeeFormula(t *testing.T) {
	total, _ := FromString("100.00", ScaleAmount)
	rate, _ := decimal.NewFromString("0.0240")
	fixedFee, _ := FromString("0.10", ScaleAmount)

	fee := total.Mul(rate).Add(fixedFee)
	want, _ := FromString("2.50", ScaleAmount)
	if fee.Cmp(want) != 0 {
		t.Fatalf("fee = %s, want %s", fee, want)
	}

	receipt := Max(Zero(ScaleAmount), total.Sub(fee))
	wantReceipt, _ := FromString("97.50", ScaleAmount)
	if receipt.Cmp(wantReceipt) != 0 {
		t.Fatalf("receipt = %s, want %s", receipt, wantReceipt)
	}
}

func TestRefundFeeProration(t *testing.T) {
	feeAmount, _ := FromString("2.50", ScaleAmount)
	amount, _ := FromString("40.00", ScaleAmount)
	total, _ := FromString("100.00", ScaleAmount)

	ratio := amount.Decimal().DivRound(total.Decimal(), 8)
	refundFee := feeAmount.MulScale(ratio, ScaleAmount)
	refundFee = Min(refundFee, feeAmount)

	want, _ := FromString("1.00", ScaleAmount)
	if refundFee.Cmp(want) != 0 {
		t.Fatalf("refundFee = %s, want %s", refundFee, want)
	}
}

func TestCmpHelpers(t *testing.T) {
	zero := Zero(ScaleAmount)
	neg, _ := FromString("-1.00", ScaleAmount)
	if !neg.IsNegative() {
		t.Fatal("expected negative")
	}
	if Max(zero, neg).Cmp(zero) != 0 {
		t.Fatal("Max should pick zero")
	}
}
