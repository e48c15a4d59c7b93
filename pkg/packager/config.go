package packager

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

// DefaultInstallDir is where packages install the application.
const DefaultInstallDir = "/Applications"

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9.-]+$`)

// Config models a build description file.
type Config struct {
	App     Application `yaml:"app"`
	Package *Package    `yaml:"package"`
	Signing Signing     `yaml:"signing"`
	// Output is the directory receiving the artifact.
	Output string `yaml:"output"`
}

// LoadConfig reads, defaults and validates a build description. Relative
// paths are resolved against the directory of the file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found", path)
		}
		return nil, err
	}
	cfg, err := FromYAML(data)
	if err != nil {
		return nil, err
	}
	cfg.resolvePaths(filepath.Dir(path))
	return cfg, nil
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Output == "" {
		c.Output = "."
	}
	if c.App.Version == "" {
		c.App.Version = "1.0"
	}
	if p := c.Package; p != nil {
		if p.InstallDir == "" {
			p.InstallDir = DefaultInstallDir
		}
		if p.Name == "" {
			p.Name = c.App.Name + "-" + c.App.Version
		}
		if p.VolumeName == "" {
			p.VolumeName = c.App.Name
		}
	}
}

func (c *Config) resolvePaths(base string) {
	abs := func(p *string) {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
	abs(&c.Output)
	abs(&c.App.Launcher)
	abs(&c.App.Input)
	abs(&c.App.Runtime)
	abs(&c.App.Icon)
	abs(&c.App.Image)
	for i := range c.App.Content {
		abs(&c.App.Content[i])
	}
	for i := range c.App.FileAssociations {
		abs(&c.App.FileAssociations[i].Icon)
	}
	if p := c.Package; p != nil {
		abs(&p.License)
		abs(&p.Scripts.PreInstall)
		abs(&p.Scripts.PostInstall)
	}
	abs(&c.Signing.Entitlements)
	abs(&c.Signing.ProvisioningProfile)
	abs(&c.Signing.P12)
}

// Validate ensures the config is consistent.
func (c *Config) Validate() error {
	app := &c.App
	if app.Name == "" {
		return fmt.Errorf("app.name is required")
	}
	if strings.ContainsAny(app.Name, `/:`) {
		return fmt.Errorf("app.name %q must not contain '/' or ':'", app.Name)
	}
	if app.Identifier == "" {
		return fmt.Errorf("app.identifier is required")
	}
	if !identifierPattern.MatchString(app.Identifier) {
		return fmt.Errorf("app.identifier %q may only contain letters, digits, '.' and '-'", app.Identifier)
	}
	if err := ValidateVersion(app.Version); err != nil {
		return err
	}
	if app.Image == "" && app.Launcher == "" {
		return fmt.Errorf("app.launcher or app.image is required")
	}
	for i, fa := range app.FileAssociations {
		if len(fa.Extensions) == 0 && len(fa.MimeTypes) == 0 {
			return fmt.Errorf("file association %d needs extensions or mime_types", i)
		}
		switch fa.Role {
		case "", "Editor", "Viewer", "Shell", "None":
		default:
			return fmt.Errorf("file association %d has unknown role %q", i, fa.Role)
		}
	}

	if p := c.Package; p != nil {
		switch p.Type {
		case TypeDMG, TypePKG:
		default:
			return fmt.Errorf("package.type must be %q or %q", TypeDMG, TypePKG)
		}
		if !filepath.IsAbs(p.InstallDir) {
			return fmt.Errorf("package.install_dir %q must be absolute", p.InstallDir)
		}
		for i, svc := range p.Services {
			if svc.Label == "" || svc.Program == "" {
				return fmt.Errorf("service %d needs a label and a program", i)
			}
		}
		if p.Type == TypeDMG && (p.HasServices() || p.Uninstaller || p.Scripts != (Scripts{})) {
			return fmt.Errorf("services, uninstaller and scripts require package.type %q", TypePKG)
		}
	}

	s := &c.Signing
	if s.AppStore {
		if !s.Sign {
			return fmt.Errorf("signing.app_store requires signing.sign")
		}
		if c.Package != nil && c.Package.Type != TypePKG {
			return fmt.Errorf("signing.app_store requires package.type %q", TypePKG)
		}
		if c.Package != nil && c.Package.HasServices() {
			return fmt.Errorf("signing.app_store does not support services")
		}
	}
	if s.ProvisioningProfile != "" && !s.AppStore {
		return fmt.Errorf("signing.provisioning_profile requires signing.app_store")
	}
	if s.P12 != "" && s.Keychain == "" {
		return fmt.Errorf("signing.p12 requires signing.keychain to import into")
	}
	if !s.Sign && (s.Identity != "" || s.InstallerIdentity != "" || s.P12 != "") {
		return fmt.Errorf("signing identities are set but signing.sign is false")
	}
	return nil
}

// ValidateVersion checks that version has one to three numeric components
// and the first one is greater than zero, as CFBundleVersion requires.
func ValidateVersion(version string) error {
	parts := strings.Split(version, ".")
	if len(parts) > 3 {
		return fmt.Errorf("version %q has more than three components", version)
	}
	for _, part := range parts {
		if part == "" || strings.Trim(part, "0123456789") != "" {
			return fmt.Errorf("version %q must consist of numbers separated by dots", version)
		}
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("invalid version %q: %w", version, err)
	}
	if v.Major() == 0 {
		return fmt.Errorf("version %q must start with a number greater than zero", version)
	}
	return nil
}
