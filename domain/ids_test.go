package domain

import (
	"regexp"
	"testing"
	"time"
)

func TestNewTradeNoFormat(t *testing.T) {
	now := time.Date(2026, 7, 31, 10, 20, 30, 123456000, time.UTC)
	tn, err := NewTradeNo(now)
	if err != nil {
		t.Fatal(err)
	}
	if len(tn) != 24 {
		t.Fatalf("trade_no length = %d, want 24 (%s)", len(tn), tn)
	}
	if !regexp.MustCompile(`^P\d{12}\d{6}[A-Z]{5}$`).MatchString(tn) {
		t.Fatalf("trade_no %q does not match expected shape", tn)
	}
}

func TestNewMerchantNumberFormat(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mn, err := NewMerchantNumber(now)
	if err != nil {
		t.Fatal(err)
	}
	if !regexp.MustCompile(`^M2026[A-Z0-9]{11}$`).MatchString(mn) {
		t.Fatalf("merchant_number %q does not match expected shape", mn)
	}
}

func TestNewRefundIDFormat(t *testing.T) {
	now := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	id, err := NewRefundID(now)
	if err != nil {
		t.Fatal(err)
	}
	if len(id) != 16 {
		t.Fatalf("refund id length = %d, want 16 (%s)", len(id), id)
	}
	if !regexp.MustCompile(`^R26[A-Z0-9]{13}$`).MatchString(id) {
		t.Fatalf("refund id %q does not match expected shape", id)
	}
}
