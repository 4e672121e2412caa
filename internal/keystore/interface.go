// Package keystore loads the gateway's signing identity
//
// The same key pair signs the SAML assertion and WS-Security timestamp of
// every outbound request. It can be loaded from:
//
//   - PEM files: a certificate and a PKCS#1, PKCS#8 or EC private key
//   - PKCS#12: a single bundle protected by a password
package keystore

import (
	"crypto"
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"time"
)

// Common errors
var (
	ErrKeyNotFound       = errors.New("signing key not found")
	ErrUnsupportedKey    = errors.New("signing key must be RSA")
	ErrKeyCertMismatch   = errors.New("private key does not match certificate")
	ErrCertificateExpiry = errors.New("certificate is not currently valid")
)

// KeyPair is a loaded signing identity
type KeyPair struct {
	Signer      crypto.Signer
	Certificate *x509.Certificate
	Chain       []*x509.Certificate
}

// Algorithm returns the XML signature algorithm URI for the key
func (k *KeyPair) Algorithm() string {
	return determineAlgorithmFromKey(k.Signer)
}

// Validate checks that the key is RSA, matches the certificate, and that the
// certificate is valid at now.
func (k *KeyPair) Validate(now time.Time) error {
	if k == nil || k.Signer == nil || k.Certificate == nil {
		return ErrKeyNotFound
	}
	pub, ok := k.Signer.Public().(*rsa.PublicKey)
	if !ok {
		return ErrUnsupportedKey
	}
	certPub, ok := k.Certificate.PublicKey.(*rsa.PublicKey)
	if !ok || !pub.Equal(certPub) {
		return ErrKeyCertMismatch
	}
	if now.Before(k.Certificate.NotBefore) || now.After(k.Certificate.NotAfter) {
		return ErrCertificateExpiry
	}
	return nil
}

// Info describes a signing key for logging
type Info struct {
	Algorithm          string
	KeySize            int
	NotBefore          time.Time
	NotAfter           time.Time
	CertificateSubject string
}

// Info summarizes the key pair
func (k *KeyPair) Info() Info {
	return Info{
		Algorithm:          keyAlgorithmName(k.Certificate.PublicKey),
		KeySize:            keySize(k.Certificate.PublicKey),
		NotBefore:          k.Certificate.NotBefore,
		NotAfter:           k.Certificate.NotAfter,
		CertificateSubject: k.Certificate.Subject.String(),
	}
}
