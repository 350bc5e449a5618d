// Package signer implements canonicalized-parameter signing/verification
// (spec §4.2) across the four supported algorithms, plus the symmetric
// admin payload codec. Grounded on payments/stripe.go's digest-compute
// -then-constant-time-compare webhook verification shape, and on
// auth/password.go's use of crypto/subtle for comparisons.
package signer

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/plm/aggpay/domain"
	"golang.org/x/crypto/sha3"
)

var (
	// ErrSignTypeDisallowed is returned when a merchant's encryption mode
	// rejects the sign_type the request presented.
	ErrSignTypeDisallowed = errors.New("signer: sign type disallowed by merchant encryption mode")
	// ErrSignatureMismatch is returned by Verify on a bad signature.
	ErrSignatureMismatch = errors.New("signer: signature mismatch")
)

// Result carries both the canonical string (for audit logging) and the
// computed signature, per spec §4.2.
type Result struct {
	Canonical string
	Signature string
}

// Allowed reports whether signType may be used under mode.
func Allowed(mode domain.EncryptionMode, signType domain.SignType) bool {
	switch mode {
	case domain.EncModeOpen:
		return true
	case domain.EncModeOnlyXXH:
		return signType == domain.SignXXH
	case domain.EncModeOnlySHA3:
		return signType == domain.SignSHA3
	case domain.EncModeOnlySM3:
		return signType == domain.SignSM3
	case domain.EncModeOnlyRSA2:
		return signType == domain.SignRSA2
	default:
		return false
	}
}

// Sign computes a signature over params using signType. hashKey is the
// merchant's shared HMAC key (used by xxh/sha3/sm3); rsaPrivateKey is
// required only for SignRSA2.
func Sign(params map[string]string, signType domain.SignType, hashKey []byte, rsaPrivateKey *rsa.PrivateKey) (*Result, error) {
	canonical := Canonicalize(params)

	switch signType {
	case domain.SignXXH:
		h := xxhash.New()
		h.Write([]byte(canonical))
		h.Write(hashKey)
		return &Result{Canonical: canonical, Signature: hex.EncodeToString(uint64ToBytes(h.Sum64()))}, nil

	case domain.SignSHA3:
		sum := sha3.Sum256(append([]byte(canonical), hashKey...))
		return &Result{Canonical: canonical, Signature: hex.EncodeToString(sum[:])}, nil

	case domain.SignSM3:
		sum := SM3Sum(append([]byte(canonical), hashKey...))
		return &Result{Canonical: canonical, Signature: hex.EncodeToString(sum[:])}, nil

	case domain.SignRSA2:
		if rsaPrivateKey == nil {
			return nil, fmt.Errorf("signer: rsa2 signing requires a private key")
		}
		digest := sha256.Sum256([]byte(canonical))
		sig, err := rsa.SignPKCS1v15(rand.Reader, rsaPrivateKey, crypto.SHA256, digest[:])
		if err != nil {
			return nil, fmt.Errorf("signer: rsa2 sign: %w", err)
		}
		return &Result{Canonical: canonical, Signature: base64.StdEncoding.EncodeToString(sig)}, nil

	default:
		return nil, fmt.Errorf("signer: unsupported sign type %q", signType)
	}
}

// Verify checks sig against params for signType, per spec §4.2. rsaPublicKeyB64
// is the merchant's stored RSA public key, base64 without PEM headers —
// it is base64-decoded to DER and parsed directly (spec §4.2).
func Verify(params map[string]string, signType domain.SignType, sig string, hashKey []byte, rsaPublicKeyB64 string) error {
	switch signType {
	case domain.SignXXH, domain.SignSHA3, domain.SignSM3:
		expected, err := Sign(params, signType, hashKey, nil)
		if err != nil {
			return err
		}
		if subtle.ConstantTimeCompare([]byte(expected.Signature), []byte(sig)) != 1 {
			return ErrSignatureMismatch
		}
		return nil

	case domain.SignRSA2:
		pub, err := ParseRSAPublicKeyB64(rsaPublicKeyB64)
		if err != nil {
			return fmt.Errorf("signer: parse rsa public key: %w", err)
		}
		sigBytes, err := base64.StdEncoding.DecodeString(sig)
		if err != nil {
			return fmt.Errorf("signer: decode signature: %w", err)
		}
		canonical := Canonicalize(params)
		digest := sha256.Sum256([]byte(canonical))
		if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sigBytes); err != nil {
			return ErrSignatureMismatch
		}
		return nil

	default:
		return fmt.Errorf("signer: unsupported sign type %q", signType)
	}
}

// ParseRSAPublicKeyB64 base64-decodes a headerless DER public key and
// parses it as PKIX or PKCS1; no PEM block is built (spec §4.2).
func ParseRSAPublicKeyB64(b64 string) (*rsa.PublicKey, error) {
	der, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	pub, err := parsePKIXOrPKCS1(der)
	if err != nil {
		return nil, err
	}
	return pub, nil
}

func uint64ToBytes(v uint64) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}
