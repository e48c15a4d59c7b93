package certs

import (
	"bytes"
	"context"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"software.sslmate.com/src/go-pkcs12"

	"github.com/aluedeke/go-macpack/pkg/keychain"
)

// unfilteredSource ignores the name filter of a query.
type unfilteredSource struct{ *fakeSource }

func (u *unfilteredSource) FindCertificates(ctx context.Context, q keychain.Query) ([]byte, error) {
	q.Name = ""
	return u.fakeSource.FindCertificates(ctx, q)
}

func devIDSelector(t *testing.T, team string) Selector {
	t.Helper()
	sel, err := StandardSelector(PurposeApp, false, team)
	if err != nil {
		t.Fatalf("StandardSelector() error: %v", err)
	}
	return sel
}

func TestResolve_ExactMatchPreferred(t *testing.T) {
	relaxed := named(t, "Developer ID Application: Example Corp (ABCDE12345) Old")
	exact := named(t, "Developer ID Application: Example Corp (ABCDE12345)")
	src := &fakeSource{certs: []*x509.Certificate{relaxed.cert, exact.cert}}

	id, err := newResolver(src).Resolve(context.Background(), Request{Selector: devIDSelector(t, "Example Corp (ABCDE12345)")})
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if id.Fingerprint != Fingerprint(exact.cert) {
		t.Errorf("selected %q, want the exact match", id.Name)
	}
}

func TestResolve_RelaxedMatchTakesFirst(t *testing.T) {
	first := named(t, "Developer ID Application: Example Corp (AAAAA11111)")
	second := named(t, "Developer ID Application: Example Corp (BBBBB22222)")
	src := &fakeSource{certs: []*x509.Certificate{first.cert, second.cert}}

	id, err := newResolver(src).Resolve(context.Background(), Request{Selector: devIDSelector(t, "Example Corp")})
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if id.Fingerprint != Fingerprint(first.cert) {
		t.Errorf("selected %q, want the first listed certificate", id.Name)
	}
}

func TestResolve_ExactMatchAmbiguity(t *testing.T) {
	const cn = "Developer ID Application: Example Corp"
	first := named(t, cn)
	second := named(t, cn)
	src := &fakeSource{certs: []*x509.Certificate{first.cert, second.cert}}

	var logs bytes.Buffer
	r := newResolver(src)
	r.Logger = slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelWarn}))

	for i := 0; i < 2; i++ {
		id, err := r.Resolve(context.Background(), Request{Selector: devIDSelector(t, "Example Corp")})
		if err != nil {
			t.Fatalf("Resolve() error: %v", err)
		}
		if id.Fingerprint != Fingerprint(first.cert) {
			t.Errorf("run %d selected %s, want the first listed certificate %s", i, id.Fingerprint, Fingerprint(first.cert))
		}
	}

	out := logs.String()
	if got := strings.Count(out, "multiple certificates match"); got != 2 {
		t.Errorf("expected one ambiguity warning per resolution, got %d:\n%s", got, out)
	}
	if !strings.Contains(out, Fingerprint(second.cert)) {
		t.Errorf("warning should list all candidates:\n%s", out)
	}
}

func TestResolve_PrefixPriority(t *testing.T) {
	dist := named(t, "Apple Distribution: Example Corp")
	legacy := named(t, "3rd Party Mac Developer Application: Example Corp")
	src := &fakeSource{certs: []*x509.Certificate{dist.cert, legacy.cert}}

	sel, err := StandardSelector(PurposeApp, true, "Example Corp")
	if err != nil {
		t.Fatal(err)
	}
	id, err := newResolver(src).Resolve(context.Background(), Request{Selector: sel})
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if id.Name != "3rd Party Mac Developer Application: Example Corp" {
		t.Errorf("selected %q, want the higher priority prefix", id.Name)
	}
}

func TestResolve_NotFound(t *testing.T) {
	src := &fakeSource{certs: []*x509.Certificate{named(t, "Developer ID Installer: Example Corp").cert}}

	_, err := newResolver(src).Resolve(context.Background(), Request{
		Selector: devIDSelector(t, "Example Corp"),
		Keychain: "/tmp/build.keychain-db",
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	var nf *NotFoundError
	if !errors.As(err, &nf) || nf.Keychain != "/tmp/build.keychain-db" {
		t.Fatalf("expected NotFoundError naming the keychain, got %#v", err)
	}
	if !strings.Contains(err.Error(), "/tmp/build.keychain-db") {
		t.Errorf("message %q does not name the keychain", err.Error())
	}
}

func TestResolve_Expired(t *testing.T) {
	expired := newTestCert(t, pkix.Name{CommonName: "Developer ID Application: Example Corp"}, testNow.AddDate(0, 0, -1))
	src := &fakeSource{certs: []*x509.Certificate{expired.cert}}

	_, err := newResolver(src).Resolve(context.Background(), Request{Selector: devIDSelector(t, "Example Corp")})
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestResolve_MultiValuedCommonName(t *testing.T) {
	c := newTestCert(t, pkix.Name{
		CommonName: "Some Other Name",
		ExtraNames: []pkix.AttributeTypeAndValue{{Type: oidCommonName, Value: "Developer ID Application: Example Corp"}},
	}, testNow.AddDate(1, 0, 0))
	src := &fakeSource{certs: []*x509.Certificate{c.cert}}

	// the -c filter of the fake only sees the first name, so ask for everything
	r := newResolver(&unfilteredSource{src})
	id, err := r.Resolve(context.Background(), Request{Selector: devIDSelector(t, "Example Corp")})
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if id.Fingerprint != Fingerprint(c.cert) {
		t.Errorf("unexpected certificate selected")
	}
}

func TestResolve_ByFingerprint(t *testing.T) {
	a := named(t, "Developer ID Application: A")
	b := named(t, "Developer ID Application: B")
	src := &fakeSource{certs: []*x509.Certificate{a.cert, b.cert}}

	fp := strings.ToLower(Fingerprint(b.cert))
	id, err := newResolver(src).Resolve(context.Background(), Request{Identity: fp, Keychain: "build.keychain"})
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if id.Name != "Developer ID Application: B" || id.Keychain != "build.keychain" {
		t.Errorf("unexpected identity %+v", id)
	}
	if len(src.queries) != 1 || src.queries[0].Name != "" {
		t.Errorf("fingerprint lookup should export all certificates, got %+v", src.queries)
	}
}

func TestResolve_UnknownFingerprintDoesNotFallBackToNames(t *testing.T) {
	src := &fakeSource{certs: []*x509.Certificate{named(t, "Developer ID Application: A").cert}}

	_, err := newResolver(src).Resolve(context.Background(), Request{
		Identity: strings.Repeat("AB", 20),
		Selector: devIDSelector(t, "A"),
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if len(src.queries) != 1 {
		t.Errorf("expected a single export, got %d", len(src.queries))
	}
}

func TestResolve_ExplicitNameIsExact(t *testing.T) {
	c := named(t, "My Signing Cert")
	src := &fakeSource{certs: []*x509.Certificate{c.cert}}

	id, err := newResolver(src).Resolve(context.Background(), Request{Identity: "My Signing Cert"})
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if id.Name != "My Signing Cert" {
		t.Errorf("Name = %q", id.Name)
	}
	if got := id.WithPrefix("com.example."); got.Prefix != "com.example." || id.Prefix != "" {
		t.Errorf("WithPrefix should copy, got %q / %q", got.Prefix, id.Prefix)
	}
}

func TestResolve_NoSelector(t *testing.T) {
	if _, err := newResolver(&fakeSource{}).Resolve(context.Background(), Request{}); err == nil {
		t.Fatal("expected error without identity or selector")
	}
}

func TestParseCredential(t *testing.T) {
	c := named(t, "Developer ID Application: Example Corp")
	data, err := pkcs12.Modern.Encode(c.key, c.cert, nil, "secret")
	if err != nil {
		t.Fatalf("failed to encode p12: %v", err)
	}

	cred, err := ParseCredential(data, "secret")
	if err != nil {
		t.Fatalf("ParseCredential() error: %v", err)
	}
	if cred.Fingerprint() != Fingerprint(c.cert) {
		t.Errorf("fingerprint mismatch")
	}
	if cred.Name() != "Developer ID Application: Example Corp" {
		t.Errorf("Name() = %q", cred.Name())
	}

	if _, err := ParseCredential(data, "wrong"); err == nil {
		t.Error("expected error for wrong password")
	}
}
