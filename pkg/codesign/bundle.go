package codesign

import (
	"fmt"
	"os"
	"path/filepath"

	"howett.net/plist"
)

// BundleInfo holds the Info.plist keys the packager needs
type BundleInfo struct {
	Identifier   string `plist:"CFBundleIdentifier"`
	Executable   string `plist:"CFBundleExecutable"`
	Name         string `plist:"CFBundleName"`
	Version      string `plist:"CFBundleVersion"`
	ShortVersion string `plist:"CFBundleShortVersionString"`
	PackageType  string `plist:"CFBundlePackageType"`
}

// InfoPlistPath returns the path of a bundle's Info.plist.
func InfoPlistPath(bundleRoot string) string {
	return filepath.Join(bundleRoot, "Contents", "Info.plist")
}

// ReadBundleInfo reads Contents/Info.plist of a bundle
func ReadBundleInfo(bundleRoot string) (*BundleInfo, error) {
	data, err := os.ReadFile(InfoPlistPath(bundleRoot))
	if err != nil {
		return nil, fmt.Errorf("failed to read Info.plist: %w", err)
	}

	var info BundleInfo
	if _, err := plist.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to parse Info.plist: %w", err)
	}
	if info.Identifier == "" {
		return nil, fmt.Errorf("CFBundleIdentifier not found in Info.plist")
	}
	return &info, nil
}

// GetAppExecutableName reads the executable name from a bundle's Info.plist
func GetAppExecutableName(bundleRoot string) (string, error) {
	info, err := ReadBundleInfo(bundleRoot)
	if err != nil {
		return "", err
	}
	if info.Executable == "" {
		return "", fmt.Errorf("CFBundleExecutable not found in Info.plist")
	}
	return info.Executable, nil
}

// WritePlist writes v as an XML property list.
func WritePlist(path string, v interface{}) error {
	data, err := plist.MarshalIndent(v, plist.XMLFormat, "\t")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}
