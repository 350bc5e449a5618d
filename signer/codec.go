package signer

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/plm/aggpay/gwerr"
	"golang.org/x/crypto/chacha20poly1305"
)

// AdminCodec implements the XChaCha20-Poly1305 admin payload codec
// (spec §4.2): a 24-byte random nonce is prefixed to the ciphertext,
// and the whole thing is base64-encoded. Grounded on x/crypto's
// chacha20poly1305.NewX, which replaces the teacher's literal
// aead/chacha20 + aead/poly1305 dependencies with the already-required
// x/crypto module (see DESIGN.md).
type AdminCodec struct {
	key []byte // 32 bytes
}

// NewAdminCodec builds a codec from a 32-byte platform key.
func NewAdminCodec(key []byte) (*AdminCodec, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("signer: admin codec key must be %d bytes", chacha20poly1305.KeySize)
	}
	return &AdminCodec{key: key}, nil
}

// Encrypt returns the base64(nonce || ciphertext) string for plaintext.
func (c *AdminCodec) Encrypt(plaintext []byte) (string, error) {
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	ciphertext := aead.Seal(nil, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(append(nonce, ciphertext...)), nil
}

// Decrypt reverses Encrypt. Any tag mismatch or malformed payload
// surfaces as INVALID_REQUEST (spec §4.2).
func (c *AdminCodec) Decrypt(payload string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.CodeInvalidRequest, "malformed admin payload", err)
	}
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, gwerr.Internal(err)
	}
	if len(raw) < aead.NonceSize() {
		return nil, gwerr.New(gwerr.CodeInvalidRequest, "admin payload too short")
	}
	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.CodeInvalidRequest, "admin payload authentication failed", err)
	}
	return plaintext, nil
}
