package certs

import (
	"crypto"
	"crypto/x509"
	"fmt"
	"os"

	"software.sslmate.com/src/go-pkcs12"
)

// Credential is a signing certificate with its private key, as shipped in a
// PKCS#12 (.p12) file.
type Credential struct {
	Certificate *x509.Certificate
	PrivateKey  crypto.PrivateKey
	CACerts     []*x509.Certificate
}

// LoadCredentialFile reads a PKCS#12 credential file from disk.
func LoadCredentialFile(path, password string) (*Credential, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read credential file: %w", err)
	}
	return ParseCredential(data, password)
}

// ParseCredential decodes PKCS#12 data.
func ParseCredential(data []byte, password string) (*Credential, error) {
	key, cert, caCerts, err := pkcs12.DecodeChain(data, password)
	if err != nil {
		return nil, fmt.Errorf("failed to decode credential file: %w", err)
	}
	return &Credential{Certificate: cert, PrivateKey: key, CACerts: caCerts}, nil
}

// Fingerprint returns the SHA-1 fingerprint of the credential's certificate.
func (c *Credential) Fingerprint() string {
	return Fingerprint(c.Certificate)
}

// Name returns the certificate's Common Name.
func (c *Credential) Name() string {
	return NewCertificate(c.Certificate).Name()
}
