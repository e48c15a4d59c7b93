package packager

// Application is the read-only description of the application to package
type Application struct {
	Name        string `yaml:"name"`
	Identifier  string `yaml:"identifier"`
	Version     string `yaml:"version"`
	Vendor      string `yaml:"vendor"`
	Copyright   string `yaml:"copyright"`
	Description string `yaml:"description"`
	// Category is an LSApplicationCategoryType value.
	Category string `yaml:"category"`

	// Launcher is the primary executable, installed as Contents/MacOS/<Name>.
	Launcher string `yaml:"launcher"`
	// Input is copied to Contents/app.
	Input string `yaml:"input"`
	// Runtime is a runtime image copied to Contents/runtime/Contents/Home.
	Runtime string `yaml:"runtime"`
	Icon    string `yaml:"icon"`
	// Content lists additional directories copied into Contents.
	Content []string `yaml:"content"`
	// Image is a prebuilt .app bundle used instead of building one.
	Image string `yaml:"image"`

	FileAssociations []FileAssociation `yaml:"file_associations"`
}

// LauncherName returns the file name of the primary launcher.
func (a *Application) LauncherName() string { return a.Name }

// BundleName returns the directory name of the application bundle.
func (a *Application) BundleName() string { return a.Name + ".app" }

// HasRuntime reports whether a runtime image is bundled.
func (a *Application) HasRuntime() bool { return a.Runtime != "" }

// FileAssociation registers document types with the application
type FileAssociation struct {
	Extensions  []string `yaml:"extensions"`
	MimeTypes   []string `yaml:"mime_types"`
	Description string   `yaml:"description"`
	Icon        string   `yaml:"icon"`
	// Role is Editor, Viewer, Shell or None.
	Role string `yaml:"role"`
}

// PackageType is the kind of installer artifact
type PackageType string

const (
	TypeDMG PackageType = "dmg"
	TypePKG PackageType = "pkg"
)

// Package describes the installer artifact
type Package struct {
	Type PackageType `yaml:"type"`
	// Name is the artifact file name without extension.
	Name       string `yaml:"name"`
	InstallDir string `yaml:"install_dir"`
	License    string `yaml:"license"`
	VolumeName string `yaml:"volume_name"`

	// Services are launchd jobs installed by a separate sub-package.
	Services []Service `yaml:"services"`
	// Uninstaller adds a support sub-package with an uninstall script.
	Uninstaller bool    `yaml:"uninstaller"`
	Scripts     Scripts `yaml:"scripts"`
}

// Service is a launchd job
type Service struct {
	Label     string   `yaml:"label"`
	Program   string   `yaml:"program"`
	Arguments []string `yaml:"arguments"`
	RunAtLoad bool     `yaml:"run_at_load"`
	KeepAlive bool     `yaml:"keep_alive"`
}

// Scripts are installer scripts for the application sub-package
type Scripts struct {
	PreInstall  string `yaml:"preinstall"`
	PostInstall string `yaml:"postinstall"`
}

// HasServices reports whether the services sub-package is built.
func (p *Package) HasServices() bool { return len(p.Services) > 0 }

// Signing configures code and installer signing
type Signing struct {
	Sign     bool `yaml:"sign"`
	AppStore bool `yaml:"app_store"`
	// Identity is a certificate name or fingerprint for application signing.
	Identity string `yaml:"identity"`
	// InstallerIdentity is a certificate name or fingerprint for the package.
	InstallerIdentity string `yaml:"installer_identity"`
	// TeamName completes the standard certificate name prefixes.
	TeamName            string `yaml:"team_name"`
	Keychain            string `yaml:"keychain"`
	Prefix              string `yaml:"prefix"`
	Entitlements        string `yaml:"entitlements"`
	ProvisioningProfile string `yaml:"provisioning_profile"`
	// P12 is a credential file imported into Keychain before signing.
	P12         string `yaml:"p12"`
	P12Password string `yaml:"p12_password"`
}
