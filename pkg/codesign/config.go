package codesign

import (
	"fmt"
	"os"

	"github.com/aluedeke/go-macpack/pkg/certs"
)

// AdHocIdentity is the identity codesign uses for ad-hoc signatures.
const AdHocIdentity = "-"

// Config is an immutable signing configuration. Use ConfigBuilder to create one.
type Config struct {
	identity     string
	prefix       string
	keychain     string
	entitlements string
}

// Identity returns the identity passed to codesign -s.
func (c Config) Identity() string {
	if c.identity == "" {
		return AdHocIdentity
	}
	return c.identity
}

// AdHoc reports whether signatures are ad-hoc.
func (c Config) AdHoc() bool { return c.Identity() == AdHocIdentity }

// Prefix returns the identifier prefix for signed code.
func (c Config) Prefix() string { return c.prefix }

// Keychain returns the keychain holding the identity, if any.
func (c Config) Keychain() string { return c.keychain }

// Entitlements returns the path of the entitlements file, if any.
func (c Config) Entitlements() string { return c.entitlements }

// ConfigBuilder assembles a Config
type ConfigBuilder struct {
	identity     *certs.Identity
	keychain     string
	entitlements string
	prefix       string
}

// NewConfigBuilder returns a builder for an ad-hoc configuration.
func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{}
}

// Identity sets the resolved signing identity. Nil means ad-hoc.
func (b *ConfigBuilder) Identity(id *certs.Identity) *ConfigBuilder {
	b.identity = id
	return b
}

// Prefix overrides the identifier prefix of the identity.
func (b *ConfigBuilder) Prefix(prefix string) *ConfigBuilder {
	b.prefix = prefix
	return b
}

// Keychain sets the keychain to look the identity up in.
func (b *ConfigBuilder) Keychain(path string) *ConfigBuilder {
	b.keychain = path
	return b
}

// Entitlements sets the entitlements file applied to executables.
func (b *ConfigBuilder) Entitlements(path string) *ConfigBuilder {
	b.entitlements = path
	return b
}

// Build validates the settings and returns the Config. Ad-hoc configurations
// drop the keychain, prefix and entitlements since codesign ignores them.
func (b *ConfigBuilder) Build() (Config, error) {
	if b.identity == nil {
		return Config{identity: AdHocIdentity}, nil
	}
	if b.identity.Fingerprint == "" {
		return Config{}, fmt.Errorf("signing identity %q has no fingerprint", b.identity.Name)
	}

	cfg := Config{
		identity:     b.identity.Fingerprint,
		prefix:       b.identity.Prefix,
		keychain:     b.keychain,
		entitlements: b.entitlements,
	}
	if b.prefix != "" {
		cfg.prefix = b.prefix
	}
	if cfg.keychain == "" {
		cfg.keychain = b.identity.Keychain
	}
	if cfg.entitlements != "" {
		info, err := os.Stat(cfg.entitlements)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read entitlements file: %w", err)
		}
		if info.IsDir() {
			return Config{}, fmt.Errorf("entitlements file %s is a directory", cfg.entitlements)
		}
	}
	return cfg, nil
}
