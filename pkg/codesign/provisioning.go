package codesign

import (
	"bytes"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.mozilla.org/pkcs7"
	"howett.net/plist"
)

// EmbeddedProfileName is where a bundle carries its provisioning profile,
// relative to the Contents directory.
const EmbeddedProfileName = "embedded.provisionprofile"

const platformMacOS = "OSX"

// ProvisioningProfile represents a parsed .provisionprofile file
type ProvisioningProfile struct {
	Name                        string                 `plist:"Name"`
	TeamName                    string                 `plist:"TeamName"`
	TeamIdentifier              []string               `plist:"TeamIdentifier"`
	AppIDName                   string                 `plist:"AppIDName"`
	ApplicationIdentifierPrefix []string               `plist:"ApplicationIdentifierPrefix"`
	Entitlements                map[string]interface{} `plist:"Entitlements"`
	DeveloperCertificates       [][]byte               `plist:"DeveloperCertificates"`
	ProvisionsAllDevices        bool                   `plist:"ProvisionsAllDevices"`
	CreationDate                time.Time              `plist:"CreationDate"`
	ExpirationDate              time.Time              `plist:"ExpirationDate"`
	UUID                        string                 `plist:"UUID"`
	Platform                    []string               `plist:"Platform"`
}

// ParseProvisioningProfile decodes the plist payload of a provisioning
// profile's CMS (PKCS#7) container.
func ParseProvisioningProfile(data []byte) (*ProvisioningProfile, error) {
	p7, err := pkcs7.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse PKCS#7 container: %w", err)
	}
	profile := &ProvisioningProfile{}
	if _, err := plist.Unmarshal(p7.Content, profile); err != nil {
		return nil, fmt.Errorf("failed to parse provisioning profile plist: %w", err)
	}
	return profile, nil
}

// ReadProvisioningProfile reads and parses a provisioning profile file.
func ReadProvisioningProfile(path string) (*ProvisioningProfile, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read provisioning profile: %w", err)
	}
	profile, err := ParseProvisioningProfile(data)
	if err != nil {
		return nil, nil, err
	}
	return profile, data, nil
}

// GetTeamID returns the team identifier from the profile
func (p *ProvisioningProfile) GetTeamID() string {
	if len(p.TeamIdentifier) > 0 {
		return p.TeamIdentifier[0]
	}
	if len(p.ApplicationIdentifierPrefix) > 0 {
		return p.ApplicationIdentifierPrefix[0]
	}
	return ""
}

// GetApplicationIdentifier returns the application identifier from entitlements
func (p *ProvisioningProfile) GetApplicationIdentifier() string {
	for _, key := range []string{EntitlementApplicationID, "application-identifier"} {
		if appID, ok := p.Entitlements[key].(string); ok {
			return appID
		}
	}
	return ""
}

// IsExpired checks if the provisioning profile has expired at now
func (p *ProvisioningProfile) IsExpired(now time.Time) bool {
	return now.After(p.ExpirationDate)
}

// GetCertificates parses and returns the developer certificates from the profile
func (p *ProvisioningProfile) GetCertificates() ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	for i, certData := range p.DeveloperCertificates {
		cert, err := x509.ParseCertificate(certData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse certificate %d: %w", i, err)
		}
		certs = append(certs, cert)
	}
	return certs, nil
}

// MatchesCertificate reports whether cert is one of the profile's developer
// certificates.
func (p *ProvisioningProfile) MatchesCertificate(cert *x509.Certificate) bool {
	for _, der := range p.DeveloperCertificates {
		if bytes.Equal(der, cert.Raw) {
			return true
		}
	}
	return false
}

// ForMacOS reports whether the profile targets macOS. Profiles without a
// platform list are accepted.
func (p *ProvisioningProfile) ForMacOS() bool {
	if len(p.Platform) == 0 {
		return true
	}
	for _, platform := range p.Platform {
		if platform == platformMacOS {
			return true
		}
	}
	return false
}

// Validate checks that the profile is usable at now for cert. A nil cert
// skips the certificate check.
func (p *ProvisioningProfile) Validate(now time.Time, cert *x509.Certificate) error {
	if !p.ForMacOS() {
		return fmt.Errorf("provisioning profile %q is for %s, not macOS", p.Name, strings.Join(p.Platform, ", "))
	}
	if p.IsExpired(now) {
		return fmt.Errorf("provisioning profile %q expired on %s", p.Name, p.ExpirationDate.Format(time.RFC3339))
	}
	if cert != nil && len(p.DeveloperCertificates) > 0 && !p.MatchesCertificate(cert) {
		return fmt.Errorf("provisioning profile %q does not include the signing certificate %q", p.Name, cert.Subject.CommonName)
	}
	return nil
}

// EmbedProvisioningProfile copies profile data into the bundle's Contents
// directory.
func EmbedProvisioningProfile(bundleRoot string, data []byte) error {
	dst := filepath.Join(bundleRoot, "Contents", EmbeddedProfileName)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create Contents directory: %w", err)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return fmt.Errorf("failed to embed provisioning profile: %w", err)
	}
	return nil
}
