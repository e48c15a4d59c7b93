package certs

import (
	"crypto/sha1"
	"crypto/x509"
	"encoding/asn1"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"strings"
)

var oidCommonName = asn1.ObjectIdentifier{2, 5, 4, 3}

// Certificate is a certificate found in the credential store
type Certificate struct {
	X509        *x509.Certificate
	Fingerprint string   // upper-case hex SHA-1 of the DER encoding
	Names       []string // Subject Common Names
}

// ParsePEM parses every CERTIFICATE block in data, keeping their order.
func ParsePEM(data []byte) ([]*Certificate, error) {
	var certs []*Certificate
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse certificate %d: %w", len(certs)+1, err)
		}
		certs = append(certs, NewCertificate(cert))
	}
	return certs, nil
}

// NewCertificate wraps an x509 certificate.
func NewCertificate(cert *x509.Certificate) *Certificate {
	return &Certificate{
		X509:        cert,
		Fingerprint: Fingerprint(cert),
		Names:       CommonNames(cert),
	}
}

// CommonNames returns all Common Name attributes of the certificate subject,
// including multi-valued RDNs.
func CommonNames(cert *x509.Certificate) []string {
	var names []string
	for _, atv := range cert.Subject.Names {
		if !atv.Type.Equal(oidCommonName) {
			continue
		}
		if s, ok := atv.Value.(string); ok {
			names = append(names, s)
		}
	}
	if len(names) == 0 && cert.Subject.CommonName != "" {
		names = append(names, cert.Subject.CommonName)
	}
	return names
}

// Fingerprint returns the SHA-1 fingerprint codesign accepts as identity.
func Fingerprint(cert *x509.Certificate) string {
	sum := sha1.Sum(cert.Raw)
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// IsFingerprint reports whether s is syntactically a SHA-1 fingerprint.
func IsFingerprint(s string) bool {
	if len(s) != sha1.Size*2 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// Name returns the first Common Name, or the fingerprint when there is none.
func (c *Certificate) Name() string {
	if len(c.Names) > 0 {
		return c.Names[0]
	}
	return c.Fingerprint
}

func (c *Certificate) matches(name string, relaxed bool) bool {
	for _, cn := range c.Names {
		if cn == name || (relaxed && strings.HasPrefix(cn, name)) {
			return true
		}
	}
	return false
}
