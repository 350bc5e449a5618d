package signer

import (
	"encoding/hex"
	"testing"
)

func TestSM3KnownVector(t *testing.T) {
	// Official GB/T 32905-2016 test vector for the ASCII input "abc".
	got := SM3Sum([]byte("abc"))
	want := "66c7f0f462eeedd9d1f2d46bdc10e4e24167c4875cf2f7a2297da02b8f4ba8e0"
	if hex.EncodeToString(got[:]) != want {
		t.Fatalf("SM3(\"abc\") = %x, want %s", got, want)
	}
}
