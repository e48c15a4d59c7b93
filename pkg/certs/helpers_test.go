package certs

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aluedeke/go-macpack/pkg/keychain"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type testCert struct {
	cert *x509.Certificate
	key  *ecdsa.PrivateKey
}

func newTestCert(t *testing.T, subject pkix.Name, notAfter time.Time) testCert {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	serial, _ := rand.Int(rand.Reader, big.NewInt(1<<62))
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      subject,
		NotBefore:    notAfter.AddDate(-1, 0, 0),
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageCodeSigning},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("failed to create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("failed to parse certificate: %v", err)
	}
	return testCert{cert: cert, key: key}
}

func named(t *testing.T, cn string) testCert {
	return newTestCert(t, pkix.Name{CommonName: cn, Organization: []string{"Example"}}, testNow.AddDate(1, 0, 0))
}

func pemOf(certs ...*x509.Certificate) []byte {
	var b strings.Builder
	for _, c := range certs {
		_ = pem.Encode(&b, &pem.Block{Type: "CERTIFICATE", Bytes: c.Raw})
	}
	return []byte(b.String())
}

// fakeSource filters its certificates by substring the way
// "security find-certificate -c" does.
type fakeSource struct {
	mu      sync.Mutex
	certs   []*x509.Certificate
	queries []keychain.Query
}

func (f *fakeSource) FindCertificates(_ context.Context, q keychain.Query) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	var out []*x509.Certificate
	for _, c := range f.certs {
		if q.Name == "" || strings.Contains(NewCertificate(c).Name(), q.Name) {
			out = append(out, c)
		}
	}
	return pemOf(out...), nil
}

func newResolver(src Source) *Resolver {
	r := NewResolver(src, nil)
	r.Now = func() time.Time { return testNow }
	return r
}
