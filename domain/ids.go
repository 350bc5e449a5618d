package domain

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

const alnumUpper = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
const alphaUpper = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

func randomFrom(alphabet string, n int) (string, error) {
	b := make([]byte, n)
	max := big.NewInt(int64(len(alphabet)))
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = alphabet[idx.Int64()]
	}
	return string(b), nil
}

// NewMerchantNumber builds an `M` + 4-digit year + 11 upper-alnum id.
// Callers retry on a unique-constraint collision (spec §3).
func NewMerchantNumber(now time.Time) (string, error) {
	suffix, err := randomFrom(alnumUpper, 11)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("M%04d%s", now.Year(), suffix), nil
}

// NewTradeNo builds a `P` + yymmddHHMMSS + 6-digit-micros + 5 upper-letters
// trade number, 24 characters total (spec §6). Callers retry on collision.
func NewTradeNo(now time.Time) (string, error) {
	suffix, err := randomFrom(alphaUpper, 5)
	if err != nil {
		return "", err
	}
	micros := now.Nanosecond() / 1000
	return fmt.Sprintf("P%s%06d%s", now.Format("060102150405"), micros, suffix), nil
}

// NewRefundID builds an `R` + 2-digit year + 13-char upper-alnum id, 16
// characters total (spec §6). Globally unique; callers retry on collision.
func NewRefundID(now time.Time) (string, error) {
	suffix, err := randomFrom(alnumUpper, 13)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("R%02d%s", now.Year()%100, suffix), nil
}
