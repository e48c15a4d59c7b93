package certs

import (
	"context"
	"crypto/x509"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aluedeke/go-macpack/pkg/keychain"
)

// Source exports certificates from a credential store as PEM.
type Source interface {
	FindCertificates(ctx context.Context, q keychain.Query) ([]byte, error)
}

// Identity is a resolved signing identity
type Identity struct {
	// Fingerprint is the opaque reference passed to the signing tools.
	Fingerprint string
	// Name is the Common Name of the selected certificate.
	Name string
	// Prefix is the optional bundle identifier prefix used when signing.
	Prefix string
	// Keychain the certificate was found in, empty for the search list.
	Keychain    string
	Certificate *x509.Certificate
}

// WithPrefix returns a copy of the identity carrying the identifier prefix.
func (id Identity) WithPrefix(prefix string) *Identity {
	id.Prefix = prefix
	return &id
}

// Request describes what to resolve. Identity takes precedence over
// Selector: a fingerprint is looked up by hash, any other value is matched
// as an exact certificate name.
type Request struct {
	Identity string
	Selector Selector
	Keychain string
}

// Resolver finds signing identities in a credential store
type Resolver struct {
	Source Source
	Logger *slog.Logger
	Now    func() time.Time
}

// NewResolver returns a Resolver reading certificates from source.
func NewResolver(source Source, logger *slog.Logger) *Resolver {
	return &Resolver{Source: source, Logger: logger, Now: time.Now}
}

func (r *Resolver) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

func (r *Resolver) now() time.Time {
	if r.Now == nil {
		return time.Now()
	}
	return r.Now()
}

// Resolve selects exactly one certificate for req.
//
// Names are matched exactly first and by prefix only when no exact match
// exists. When several certificates qualify the first in the store's listing
// order wins and a warning is logged. The selected certificate must not be
// expired.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Identity, error) {
	if IsFingerprint(req.Identity) {
		return r.resolveFingerprint(ctx, req)
	}

	sel := req.Selector
	if req.Identity != "" {
		sel = ExactName(req.Identity)
	}
	if sel.IsZero() {
		return nil, fmt.Errorf("no signing identity or certificate selector given")
	}

	names := sel.Names()
	candidates, err := r.candidates(ctx, names, req.Keychain)
	if err != nil {
		return nil, err
	}

	matched := match(candidates, names, false)
	if len(matched) == 0 {
		matched = match(candidates, names, true)
	}
	if len(matched) == 0 {
		return nil, &NotFoundError{Names: names, Keychain: req.Keychain}
	}
	if len(matched) > 1 {
		fingerprints := make([]string, 0, len(matched))
		for _, c := range matched {
			fingerprints = append(fingerprints, c.Fingerprint)
		}
		r.logger().Warn("multiple certificates match, using the first",
			"selector", sel.String(),
			"certificates", strings.Join(fingerprints, ","),
			"selected", matched[0].Name())
	}
	return r.identity(matched[0], req.Keychain)
}

func (r *Resolver) resolveFingerprint(ctx context.Context, req Request) (*Identity, error) {
	pemData, err := r.Source.FindCertificates(ctx, keychain.Query{Keychain: req.Keychain})
	if err != nil {
		return nil, err
	}
	certs, err := ParsePEM(pemData)
	if err != nil {
		return nil, err
	}
	for _, c := range certs {
		if strings.EqualFold(c.Fingerprint, req.Identity) {
			return r.identity(c, req.Keychain)
		}
	}
	return nil, &NotFoundError{Names: []string{req.Identity}, Keychain: req.Keychain}
}

// candidates exports the certificates for every name in priority order,
// dropping duplicates.
func (r *Resolver) candidates(ctx context.Context, names []string, kc string) ([]*Certificate, error) {
	var all []*Certificate
	seen := make(map[string]bool)
	for _, name := range names {
		pemData, err := r.Source.FindCertificates(ctx, keychain.Query{Name: name, Keychain: kc})
		if err != nil {
			return nil, err
		}
		certs, err := ParsePEM(pemData)
		if err != nil {
			return nil, err
		}
		for _, c := range certs {
			if !seen[c.Fingerprint] {
				seen[c.Fingerprint] = true
				all = append(all, c)
			}
		}
	}
	return all, nil
}

func match(certs []*Certificate, names []string, relaxed bool) []*Certificate {
	var out []*Certificate
	for _, name := range names {
		for _, c := range certs {
			if c.matches(name, relaxed) && !containsCert(out, c) {
				out = append(out, c)
			}
		}
	}
	return out
}

func containsCert(certs []*Certificate, c *Certificate) bool {
	for _, x := range certs {
		if x.Fingerprint == c.Fingerprint {
			return true
		}
	}
	return false
}

func (r *Resolver) identity(c *Certificate, kc string) (*Identity, error) {
	if err := CheckValidity(c.X509, r.now()); err != nil {
		return nil, err
	}
	return &Identity{
		Fingerprint: c.Fingerprint,
		Name:        c.Name(),
		Keychain:    kc,
		Certificate: c.X509,
	}, nil
}

// CheckValidity returns an *ExpiredError when now is past the certificate's
// NotAfter date.
func CheckValidity(cert *x509.Certificate, now time.Time) error {
	if now.After(cert.NotAfter) {
		return &ExpiredError{Name: NewCertificate(cert).Name(), NotAfter: cert.NotAfter}
	}
	return nil
}
