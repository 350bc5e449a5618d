package signer

import (
	"crypto/rsa"
	"crypto/x509"
	"errors"
)

// parsePKIXOrPKCS1 accepts either PKIX (SubjectPublicKeyInfo) or bare
// PKCS1 RSA public key DER, matching the two shapes merchants' stored
// keys may arrive in depending on how they were originally exported.
func parsePKIXOrPKCS1(der []byte) (*rsa.PublicKey, error) {
	if pub, err := x509.ParsePKIXPublicKey(der); err == nil {
		if rsaPub, ok := pub.(*rsa.PublicKey); ok {
			return rsaPub, nil
		}
		return nil, errors.New("signer: public key is not RSA")
	}
	if rsaPub, err := x509.ParsePKCS1PublicKey(der); err == nil {
		return rsaPub, nil
	}
	return nil, errors.New("signer: unrecognized RSA public key encoding")
}
