package packager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aluedeke/go-macpack/pkg/certs"
	"github.com/aluedeke/go-macpack/pkg/keychain"
)

// TrustedTools may use an imported private key without prompting.
var TrustedTools = []string{"/usr/bin/codesign", "/usr/bin/productbuild", "/usr/bin/pkgbuild"}

// SigningPlan is the resolved signing setup of a build
type SigningPlan struct {
	// App signs the bundle. Nil signs ad-hoc.
	App *certs.Identity
	// Installer signs the package. Nil leaves it unsigned.
	Installer *certs.Identity
	// Keychain is the resolved keychain path, empty for the search list.
	Keychain            string
	Entitlements        string
	ProvisioningProfile string
	AppStore            bool
	Prefix              string
	// Scope adds Keychain to the search list while signing.
	Scope *keychain.Scope
}

// AdHoc reports whether the bundle is signed without an identity.
func (p *SigningPlan) AdHoc() bool { return p == nil || p.App == nil }

func (p *SigningPlan) withKeychain(ctx context.Context, body func(ctx context.Context) error) error {
	if p == nil || p.Scope == nil || p.Keychain == "" {
		return body(ctx)
	}
	return p.Scope.WithKeychains(ctx, []string{p.Keychain}, body)
}

// IdentityRequest describes the identities to resolve for a build
type IdentityRequest struct {
	AppIdentity       string
	InstallerIdentity string
	TeamName          string
	AppStore          bool
	Keychain          string
	// Installer requests an installer identity too.
	Installer bool
}

// ResolveIdentities resolves the application identity and, if requested, the
// installer identity. An expired application certificate does not stop the
// installer lookup so both problems are reported together; any other
// application failure is returned immediately.
func ResolveIdentities(ctx context.Context, r *certs.Resolver, req IdentityRequest) (app, installer *certs.Identity, err error) {
	app, appErr := resolvePurpose(ctx, r, certs.PurposeApp, req.AppIdentity, req)
	if appErr != nil && !errors.Is(appErr, certs.ErrExpired) {
		return nil, nil, appErr
	}

	var installerErr error
	if req.Installer {
		installer, installerErr = resolvePurpose(ctx, r, certs.PurposeInstaller, req.InstallerIdentity, req)
	}
	if err := errors.Join(appErr, installerErr); err != nil {
		return nil, nil, err
	}
	return app, installer, nil
}

func resolvePurpose(ctx context.Context, r *certs.Resolver, purpose certs.Purpose, identity string, req IdentityRequest) (*certs.Identity, error) {
	creq := certs.Request{Identity: identity, Keychain: req.Keychain}
	if identity == "" {
		sel, err := certs.StandardSelector(purpose, req.AppStore, req.TeamName)
		if err != nil {
			return nil, err
		}
		creq.Selector = sel
	}
	id, err := r.Resolve(ctx, creq)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s signing identity: %w", purpose, err)
	}
	return id, nil
}

// ImportCredential checks a PKCS#12 credential file and imports it into
// keychainPath. It returns the credential so its fingerprint can be used as
// identity.
func ImportCredential(ctx context.Context, store *keychain.Store, path, password, keychainPath string, now time.Time) (*certs.Credential, error) {
	cred, err := certs.LoadCredentialFile(path, password)
	if err != nil {
		return nil, err
	}
	if err := certs.CheckValidity(cred.Certificate, now); err != nil {
		return nil, err
	}
	if err := store.Import(ctx, path, password, keychainPath, TrustedTools...); err != nil {
		return nil, err
	}
	return cred, nil
}
