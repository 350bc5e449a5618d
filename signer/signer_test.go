package signer

import (
	"testing"

	"github.com/plm/aggpay/domain"
)

func TestCanonicalizeSkipsEmptyAndSign(t *testing.T) {
	params := map[string]string{
		"b":    "2",
		"a":    "1",
		"c":    "",
		"sign": "whatever",
	}
	got := Canonicalize(params)
	want := "a=1&b=2"
	if got != want {
		t.Fatalf("Canonicalize = %q, want %q", got, want)
	}
}

func TestSignVerifyRoundtripSHA3(t *testing.T) {
	params := map[string]string{"out_trade_no": "ORD-1", "total_amount": "100.00"}
	key := []byte("merchant-shared-hmac-key-32bytes")

	res, err := Sign(params, domain.SignSHA3, key, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := Verify(params, domain.SignSHA3, res.Signature, key, ""); err != nil {
		t.Fatalf("verify failed: %v", err)
	}
}

func TestSignVerifyRoundtripXXHAndSM3(t *testing.T) {
	params := map[string]string{"x": "1"}
	key := []byte("key")

	for _, st := range []domain.SignType{domain.SignXXH, domain.SignSM3} {
		res, err := Sign(params, st, key, nil)
		if err != nil {
			t.Fatalf("%s: %v", st, err)
		}
		if err := Verify(params, st, res.Signature, key, ""); err != nil {
			t.Fatalf("%s verify failed: %v", st, err)
		}
	}
}

func TestVerifyRejectsTamperedSignature(t *testing.T) {
	params := map[string]string{"x": "1"}
	key := []byte("key")
	res, _ := Sign(params, domain.SignSHA3, key, nil)
	if err := Verify(params, domain.SignSHA3, res.Signature+"00", key, ""); err == nil {
		t.Fatal("expected verification failure on tampered signature")
	}
}

func TestAllowedModes(t *testing.T) {
	cases := []struct {
		mode domain.EncryptionMode
		st   domain.SignType
		want bool
	}{
		{domain.EncModeOpen, domain.SignRSA2, true},
		{domain.EncModeOnlyXXH, domain.SignXXH, true},
		{domain.EncModeOnlyXXH, domain.SignSHA3, false},
		{domain.EncModeOnlySM3, domain.SignSM3, true},
		{domain.EncModeOnlyRSA2, domain.SignXXH, false},
	}
	for _, c := range cases {
		if got := Allowed(c.mode, c.st); got != c.want {
			t.Errorf("Allowed(%s, %s) = %v, want %v", c.mode, c.st, got, c.want)
		}
	}
}

func TestAdminCodecRoundtrip(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	codec, err := NewAdminCodec(key)
	if err != nil {
		t.Fatal(err)
	}
	plaintext := []byte(`{"action":"approve_withdrawal","id":"W1"}`)
	ciphertext, err := codec.Encrypt(plaintext)
	if err != nil {
		t.Fatal(err)
	}
	got, err := codec.Decrypt(ciphertext)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(plaintext) {
		t.Fatalf("roundtrip mismatch: got %q want %q", got, plaintext)
	}
}

func TestAdminCodecRejectsTamperedPayload(t *testing.T) {
	key := make([]byte, 32)
	codec, _ := NewAdminCodec(key)
	ciphertext, _ := codec.Encrypt([]byte("hello"))
	tampered := ciphertext[:len(ciphertext)-4] + "AAAA"
	if _, err := codec.Decrypt(tampered); err == nil {
		t.Fatal("expected decrypt failure on tampered payload")
	}
}
