package packager

import (
	"context"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aluedeke/go-macpack/pkg/codesign"
)

const (
	defaultCategory      = "public.app-category.utilities"
	minimumSystemVersion = "10.11"
	receiptName          = ".package"
)

type imageState struct {
	entitlements string
	profile      *codesign.ProvisioningProfile
	profileData  []byte
}

func setupImage(_ context.Context, s *BuildState) error {
	if err := os.RemoveAll(s.AppImage()); err != nil {
		return fmt.Errorf("failed to remove previous image: %w", err)
	}
	dirs := []string{s.configDir()}
	if s.App.Image == "" {
		dirs = append(dirs, filepath.Join(s.Contents(), "MacOS"), filepath.Join(s.Contents(), "Resources"))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

func copyImage(_ context.Context, s *BuildState) error {
	if err := copyTree(s.App.Image, s.AppImage(), nil); err != nil {
		return fmt.Errorf("failed to copy application image: %w", err)
	}
	return nil
}

func copyLauncher(_ context.Context, s *BuildState) error {
	dst := filepath.Join(s.Contents(), "MacOS", s.App.LauncherName())
	if err := copyFile(s.App.Launcher, dst, 0o755); err != nil {
		return fmt.Errorf("failed to copy launcher: %w", err)
	}
	return nil
}

func runtimeDir(s *BuildState) string {
	return filepath.Join(s.Contents(), "runtime")
}

func copyRuntime(_ context.Context, s *BuildState) error {
	home := filepath.Join(runtimeDir(s), "Contents", "Home")
	if err := copyTree(s.App.Runtime, home, nil); err != nil {
		return fmt.Errorf("failed to copy runtime: %w", err)
	}
	info := map[string]interface{}{
		"CFBundleDevelopmentRegion":     "English",
		"CFBundleIdentifier":            s.App.Identifier + ".runtime",
		"CFBundleInfoDictionaryVersion": "6.0",
		"CFBundleName":                  s.App.Name + " Runtime",
		"CFBundlePackageType":           "BNDL",
		"CFBundleShortVersionString":    s.App.Version,
		"CFBundleSignature":             "????",
		"CFBundleVersion":               s.App.Version,
	}
	return codesign.WritePlist(filepath.Join(runtimeDir(s), "Contents", "Info.plist"), info)
}

func copyContent(_ context.Context, s *BuildState) error {
	if err := copyTree(s.App.Input, filepath.Join(s.Contents(), "app"), s.Env.excluded); err != nil {
		return fmt.Errorf("failed to copy application content: %w", err)
	}
	return nil
}

func copyExtraContent(_ context.Context, s *BuildState) error {
	for _, dir := range s.App.Content {
		dst := filepath.Join(s.Contents(), filepath.Base(dir))
		if err := copyTree(dir, dst, s.Env.excluded); err != nil {
			return fmt.Errorf("failed to copy %s: %w", dir, err)
		}
	}
	return nil
}

func iconName(s *BuildState) string { return s.App.Name + ".icns" }

func copyIcon(_ context.Context, s *BuildState) error {
	dst := filepath.Join(s.Contents(), "Resources", iconName(s))
	if err := copyFile(s.App.Icon, dst, 0o644); err != nil {
		return fmt.Errorf("failed to copy icon: %w", err)
	}
	return nil
}

func writeInfoPlist(_ context.Context, s *BuildState) error {
	app := s.App
	category := app.Category
	if category == "" {
		category = defaultCategory
	}
	info := map[string]interface{}{
		"CFBundleDevelopmentRegion":     "English",
		"CFBundleExecutable":            app.LauncherName(),
		"CFBundleIdentifier":            app.Identifier,
		"CFBundleInfoDictionaryVersion": "6.0",
		"CFBundleName":                  app.Name,
		"CFBundlePackageType":           "APPL",
		"CFBundleShortVersionString":    app.Version,
		"CFBundleSignature":             "????",
		"CFBundleVersion":               app.Version,
		"LSApplicationCategoryType":     category,
		"LSMinimumSystemVersion":        minimumSystemVersion,
		"NSHighResolutionCapable":       true,
	}
	if app.Icon != "" {
		info["CFBundleIconFile"] = iconName(s)
	}
	if app.Copyright != "" {
		info["NSHumanReadableCopyright"] = app.Copyright
	}
	if archs := launcherArchitectures(s); len(archs) > 0 {
		info["LSArchitecturePriority"] = archs
	}

	docTypes, err := documentTypes(s)
	if err != nil {
		return err
	}
	if len(docTypes) > 0 {
		info["CFBundleDocumentTypes"] = docTypes
	}
	return codesign.WritePlist(codesign.InfoPlistPath(s.AppImage()), info)
}

// documentTypes builds CFBundleDocumentTypes and copies association icons.
func documentTypes(s *BuildState) ([]map[string]interface{}, error) {
	var types []map[string]interface{}
	for i, fa := range s.App.FileAssociations {
		role := fa.Role
		if role == "" {
			role = "Editor"
		}
		name := fa.Description
		if name == "" {
			name = fmt.Sprintf("%s document %d", s.App.Name, i+1)
		}
		docType := map[string]interface{}{
			"CFBundleTypeName": name,
			"CFBundleTypeRole": role,
			"LSHandlerRank":    "Owner",
		}
		if len(fa.Extensions) > 0 {
			docType["CFBundleTypeExtensions"] = fa.Extensions
		}
		if len(fa.MimeTypes) > 0 {
			docType["CFBundleTypeMIMETypes"] = fa.MimeTypes
		}
		if fa.Icon != "" {
			icon := filepath.Base(fa.Icon)
			if err := copyFile(fa.Icon, filepath.Join(s.Contents(), "Resources", icon), 0o644); err != nil {
				return nil, fmt.Errorf("failed to copy file association icon: %w", err)
			}
			docType["CFBundleTypeIconFile"] = icon
		}
		types = append(types, docType)
	}
	return types, nil
}

// launcherArchitectures returns the CPU types of the bundle's primary
// launcher, or nil when it is not a Mach-O binary.
func launcherArchitectures(s *BuildState) []string {
	launcher := filepath.Join(s.Contents(), "MacOS", launcherName(s))
	if !codesign.IsMachO(launcher) {
		return nil
	}
	archs, err := codesign.Architectures(launcher)
	if err != nil {
		s.Env.logger().Warn("failed to read launcher architectures", "path", launcher, "error", err)
		return nil
	}
	return archs
}

// launcherName returns the launcher of the bundle, which for prebuilt images
// comes from their Info.plist.
func launcherName(s *BuildState) string {
	if s.App.Image != "" {
		if name, err := codesign.GetAppExecutableName(s.AppImage()); err == nil {
			return name
		}
	}
	return s.App.LauncherName()
}

func writePkgInfo(_ context.Context, s *BuildState) error {
	if err := os.WriteFile(filepath.Join(s.Contents(), "PkgInfo"), []byte("APPL????"), 0o644); err != nil {
		return fmt.Errorf("failed to write PkgInfo: %w", err)
	}
	return nil
}

func writeReceipt(_ context.Context, s *BuildState) error {
	dir := filepath.Join(s.Contents(), "app")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	installed := filepath.Join(s.Package.InstallDir, s.App.BundleName())
	if err := os.WriteFile(filepath.Join(dir, receiptName), []byte(installed+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to write package file: %w", err)
	}
	return nil
}

func embedProfile(_ context.Context, s *BuildState) error {
	profile, data, err := codesign.ReadProvisioningProfile(s.Signing.ProvisioningProfile)
	if err != nil {
		return err
	}
	var cert *x509.Certificate
	if s.Signing.App != nil {
		cert = s.Signing.App.Certificate
	}
	if err := profile.Validate(s.Env.now(), cert); err != nil {
		return err
	}
	s.image.profile = profile
	s.image.profileData = data
	return codesign.EmbedProvisioningProfile(s.AppImage(), data)
}

func writeEntitlements(_ context.Context, s *BuildState) error {
	plan := s.Signing
	var entitlements map[string]interface{}
	if plan.Entitlements != "" {
		var err error
		if entitlements, err = codesign.ReadEntitlements(plan.Entitlements); err != nil {
			return err
		}
	} else {
		entitlements = codesign.DefaultEntitlements(plan.AppStore)
	}
	if profile := s.image.profile; profile != nil {
		entitlements = codesign.ApplicationIdentifierEntitlements(entitlements, profile.GetTeamID(), s.App.Identifier)
	}

	path := filepath.Join(s.configDir(), s.App.Name+".entitlements")
	if err := codesign.WriteEntitlements(path, entitlements); err != nil {
		return err
	}
	s.image.entitlements = path
	return nil
}

func signImage(ctx context.Context, s *BuildState) error {
	plan := s.Signing
	builder := codesign.NewConfigBuilder()
	if !plan.AdHoc() {
		builder = builder.Identity(plan.App).
			Keychain(plan.Keychain).
			Prefix(plan.Prefix).
			Entitlements(s.image.entitlements)
	}
	cfg, err := builder.Build()
	if err != nil {
		return err
	}

	bundle := codesign.Bundle{
		Root:         s.AppImage(),
		Launcher:     launcherName(s),
		ExtraContent: s.App.Content,
	}
	if _, err := os.Stat(runtimeDir(s)); err == nil {
		bundle.Runtime = filepath.Join("Contents", "runtime")
	}

	signer := codesign.NewSigner(s.Env.Runner, cfg, s.Env.logger())
	tree := codesign.NewTreeSigner(signer, s.Env.logger())
	return plan.withKeychain(ctx, func(ctx context.Context) error {
		return tree.Sign(ctx, bundle)
	})
}
