package packager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"howett.net/plist"

	"github.com/aluedeke/go-macpack/pkg/codesign"
	"github.com/aluedeke/go-macpack/pkg/command"
)

// Installer package tools.
const (
	PkgbuildTool     = "/usr/bin/pkgbuild"
	ProductbuildTool = "/usr/bin/productbuild"
)

const (
	launchDaemonsDir = "/Library/LaunchDaemons"
	supportDirRoot   = "/Library/Application Support"
	uninstallScript  = "uninstall.command"
)

// subPackage is a component package referenced by the distribution file
type subPackage struct {
	ID      string
	Version string
	// File is the package file name inside the package directory.
	File string
}

type pkgState struct {
	scripts        string
	componentPlist string
	packages       []subPackage
	distribution   string
	resources      string
}

func (s *BuildState) pkgDir() string {
	return filepath.Join(s.Env.WorkDir, "pkg")
}

// packagesDir holds the built sub-packages.
func (s *BuildState) packagesDir() string {
	return filepath.Join(s.pkgDir(), "packages")
}

func (s *BuildState) run(ctx context.Context, args ...string) error {
	_, err := s.Env.Runner.Run(ctx, args, command.Options{})
	return err
}

// pkgbuild builds the component package id from root.
func (s *BuildState) pkgbuild(ctx context.Context, id, root, location, scripts, componentPlist string) error {
	file := id + ".pkg"
	args := []string{PkgbuildTool, "--root", root, "--install-location", location}
	if componentPlist != "" {
		args = append(args, "--component-plist", componentPlist)
	}
	if scripts != "" {
		args = append(args, "--scripts", scripts)
	}
	args = append(args, "--identifier", id, "--version", s.App.Version, filepath.Join(s.packagesDir(), file))
	if err := os.MkdirAll(s.packagesDir(), 0o755); err != nil {
		return fmt.Errorf("failed to create package directory: %w", err)
	}
	if err := s.run(ctx, args...); err != nil {
		return fmt.Errorf("failed to build package %s: %w", id, err)
	}
	s.pkg.packages = append(s.pkg.packages, subPackage{ID: id, Version: s.App.Version, File: file})
	return nil
}

func writeScript(path, body string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte("#!/usr/bin/env sh\n\n"+body), 0o755); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func pkgScripts(_ context.Context, s *BuildState) error {
	dir := filepath.Join(s.pkgDir(), "scripts", "app")
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	scripts := map[string]string{
		"preinstall":  s.Package.Scripts.PreInstall,
		"postinstall": s.Package.Scripts.PostInstall,
	}
	for name, src := range scripts {
		if src == "" {
			continue
		}
		if err := copyFile(src, filepath.Join(dir, name), 0o755); err != nil {
			return fmt.Errorf("failed to copy %s script: %w", name, err)
		}
	}
	s.pkg.scripts = dir
	return nil
}

// pkgComponentList lets pkgbuild describe the bundle and pins it to the
// install location.
func pkgComponentList(ctx context.Context, s *BuildState) error {
	path := filepath.Join(s.configDir(), "cpl.plist")
	err := s.run(ctx, PkgbuildTool, "--root", s.ImageRoot(), "--install-location", s.Package.InstallDir, "--analyze", path)
	if err != nil {
		return fmt.Errorf("failed to analyze application image: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read component plist: %w", err)
	}
	var components []map[string]interface{}
	if _, err := plist.Unmarshal(data, &components); err != nil {
		return fmt.Errorf("failed to parse component plist: %w", err)
	}
	for _, c := range components {
		c["BundleIsRelocatable"] = false
	}
	if err := codesign.WritePlist(path, components); err != nil {
		return err
	}
	s.pkg.componentPlist = path
	return nil
}

func pkgApp(ctx context.Context, s *BuildState) error {
	return s.pkgbuild(ctx, s.App.Identifier, s.ImageRoot(), s.Package.InstallDir, s.pkg.scripts, s.pkg.componentPlist)
}

func serviceDefinition(svc Service) map[string]interface{} {
	return map[string]interface{}{
		"Label":            svc.Label,
		"ProgramArguments": append([]string{svc.Program}, svc.Arguments...),
		"RunAtLoad":        svc.RunAtLoad,
		"KeepAlive":        svc.KeepAlive,
	}
}

func servicePlist(svc Service) string {
	return filepath.Join(launchDaemonsDir, svc.Label+".plist")
}

// pkgServices builds the sub-package installing the launchd jobs, which
// are unloaded before and loaded after installation.
func pkgServices(ctx context.Context, s *BuildState) error {
	base := filepath.Join(s.pkgDir(), "services")
	root := filepath.Join(base, "root")
	scripts := filepath.Join(base, "scripts")
	if err := os.RemoveAll(base); err != nil {
		return err
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("failed to create services root: %w", err)
	}

	var unload, load strings.Builder
	for _, svc := range s.Package.Services {
		if err := codesign.WritePlist(filepath.Join(root, svc.Label+".plist"), serviceDefinition(svc)); err != nil {
			return err
		}
		fmt.Fprintf(&unload, "launchctl unload %q 2>/dev/null || true\n", servicePlist(svc))
		fmt.Fprintf(&load, "launchctl load -w %q\n", servicePlist(svc))
	}
	if err := writeScript(filepath.Join(scripts, "preinstall"), unload.String()); err != nil {
		return err
	}
	if err := writeScript(filepath.Join(scripts, "postinstall"), load.String()); err != nil {
		return err
	}
	return s.pkgbuild(ctx, s.App.Identifier+".services", root, launchDaemonsDir, scripts, "")
}

func (s *BuildState) supportDir() string {
	return filepath.Join(supportDirRoot, s.App.Name)
}

// uninstaller returns the script removing everything the package installs.
func (s *BuildState) uninstaller() string {
	var b strings.Builder
	for _, svc := range s.Package.Services {
		fmt.Fprintf(&b, "launchctl unload %q 2>/dev/null || true\n", servicePlist(svc))
		fmt.Fprintf(&b, "rm -f %q\n", servicePlist(svc))
	}
	fmt.Fprintf(&b, "rm -rf %q\n", filepath.Join(s.Package.InstallDir, s.App.BundleName()))
	for _, id := range []string{s.App.Identifier, s.App.Identifier + ".services", s.App.Identifier + ".support"} {
		fmt.Fprintf(&b, "pkgutil --forget %s 2>/dev/null || true\n", id)
	}
	fmt.Fprintf(&b, "rm -rf %q\n", s.supportDir())
	return b.String()
}

func pkgSupport(ctx context.Context, s *BuildState) error {
	root := filepath.Join(s.pkgDir(), "support", "root")
	if err := os.RemoveAll(filepath.Dir(root)); err != nil {
		return err
	}
	if err := writeScript(filepath.Join(root, uninstallScript), s.uninstaller()); err != nil {
		return err
	}
	return s.pkgbuild(ctx, s.App.Identifier+".support", root, s.supportDir(), "", "")
}

func pkgDistribution(_ context.Context, s *BuildState) error {
	d := distributionFor(s)
	if s.Package.License != "" {
		s.pkg.resources = filepath.Join(s.pkgDir(), "resources")
		name := filepath.Base(s.Package.License)
		if err := copyFile(s.Package.License, filepath.Join(s.pkg.resources, name), 0o644); err != nil {
			return fmt.Errorf("failed to copy license: %w", err)
		}
		d.License = &distributionFile{File: name}
	}

	path := filepath.Join(s.configDir(), "distribution.xml")
	if err := writeDistribution(path, d); err != nil {
		return err
	}
	s.pkg.distribution = path
	return nil
}

// productRequirements restricts an App Store package to the launcher's
// architectures.
func productRequirements(s *BuildState) map[string]interface{} {
	archs := launcherArchitectures(s)
	if len(archs) == 0 {
		return nil
	}
	return map[string]interface{}{
		"os":   []string{minimumSystemVersion},
		"arch": archs,
	}
}

// pkgProduct combines the sub-packages, or the bundle itself for the App
// Store, into the final installer and signs it if an installer identity is
// set.
func pkgProduct(ctx context.Context, s *BuildState) error {
	out := filepath.Join(s.pkgDir(), s.Package.Name+".pkg")
	if err := os.Remove(out); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove previous package: %w", err)
	}

	args := []string{ProductbuildTool}
	if s.Signing != nil && s.Signing.AppStore {
		if reqs := productRequirements(s); reqs != nil {
			path := filepath.Join(s.configDir(), "requirements.plist")
			if err := codesign.WritePlist(path, reqs); err != nil {
				return err
			}
			args = append(args, "--product", path)
		}
		args = append(args, "--component", s.AppImage(), s.Package.InstallDir)
	} else {
		args = append(args, "--distribution", s.pkg.distribution, "--package-path", s.packagesDir())
		if s.pkg.resources != "" {
			args = append(args, "--resources", s.pkg.resources)
		}
	}
	if s.Signing != nil && s.Signing.Installer != nil {
		args = append(args, "--sign", s.Signing.Installer.Fingerprint)
		if s.Signing.Keychain != "" {
			args = append(args, "--keychain", s.Signing.Keychain)
		}
	}
	args = append(args, out)

	err := s.Signing.withKeychain(ctx, func(ctx context.Context) error {
		return s.run(ctx, args...)
	})
	if err != nil {
		return fmt.Errorf("failed to build installer package: %w", err)
	}
	s.Artifact = out
	return nil
}
