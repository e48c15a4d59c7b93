package packager

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/aluedeke/go-macpack/pkg/codesign"
	"github.com/aluedeke/go-macpack/pkg/command"
)

// HdiutilTool is the disk image tool.
const HdiutilTool = "/usr/bin/hdiutil"

// dmgHeadroom is added to the content size when the image has to be created
// empty and populated after mounting.
const dmgHeadroom = 20 << 20

type dmgState struct {
	staging    string
	tempImage  string
	mountRoot  string
	mountPoint string
	// needsCopy is set when the image was created empty.
	needsCopy bool
}

func (s *BuildState) dmgDir() string {
	return filepath.Join(s.Env.WorkDir, "dmg")
}

// hdiutil runs a single disk image command.
func (s *BuildState) hdiutil(ctx context.Context, args ...string) (*command.Result, error) {
	argv := append([]string{HdiutilTool}, args...)
	return s.Env.Runner.Run(ctx, argv, command.Options{Timeout: s.Env.Retry.Timeout})
}

// hdiutilRetry runs a disk image command under policy.
func (s *BuildState) hdiutilRetry(ctx context.Context, policy command.RetryPolicy, args ...string) (*command.Result, error) {
	argv := append([]string{HdiutilTool}, args...)
	return command.NewRetryRunner(s.Env.Runner, policy, s.Env.logger()).Run(ctx, argv, command.Options{})
}

func dmgStaging(_ context.Context, s *BuildState) error {
	d := &s.dmg
	d.staging = filepath.Join(s.dmgDir(), "staging")
	d.mountRoot = filepath.Join(s.dmgDir(), "mnt")
	d.tempImage = filepath.Join(s.dmgDir(), s.Package.Name+"-tmp.dmg")
	d.needsCopy = false

	if err := os.RemoveAll(s.dmgDir()); err != nil {
		return fmt.Errorf("failed to clean disk image directory: %w", err)
	}
	if err := os.MkdirAll(d.mountRoot, 0o755); err != nil {
		return fmt.Errorf("failed to create mount root: %w", err)
	}
	if err := copyTree(s.AppImage(), filepath.Join(d.staging, s.App.BundleName()), nil); err != nil {
		return fmt.Errorf("failed to stage application: %w", err)
	}
	if err := os.Symlink(s.Package.InstallDir, filepath.Join(d.staging, filepath.Base(s.Package.InstallDir))); err != nil {
		return fmt.Errorf("failed to link install directory: %w", err)
	}
	return nil
}

// dmgCreate creates a writable image from the staging folder. Some inputs
// make that fail, in which case an empty image large enough for the content
// is created and populated after attaching it.
func dmgCreate(ctx context.Context, s *BuildState) error {
	d := &s.dmg
	common := []string{"-volname", s.Package.VolumeName, "-ov", d.tempImage, "-fs", "HFS+", "-format", "UDRW"}

	_, err := s.hdiutil(ctx, append([]string{"create", "-srcfolder", d.staging}, common...)...)
	if err == nil {
		return nil
	}
	s.Env.logger().Warn("creating disk image from folder failed, creating an empty image", "error", err)

	size, sizeErr := treeSize(d.staging)
	if sizeErr != nil {
		return fmt.Errorf("failed to measure staging folder: %w", sizeErr)
	}
	kb := (size + dmgHeadroom + 1023) / 1024
	if _, err := s.hdiutil(ctx, append([]string{"create", "-size", fmt.Sprintf("%dk", kb)}, common...)...); err != nil {
		return fmt.Errorf("failed to create disk image: %w", err)
	}
	d.needsCopy = true
	return nil
}

func dmgAttach(ctx context.Context, s *BuildState) error {
	d := &s.dmg
	_, err := s.hdiutilRetry(ctx, s.Env.Retry, "attach", d.tempImage,
		"-readwrite", "-noverify", "-noautoopen", "-mountroot", d.mountRoot)
	if err != nil {
		return fmt.Errorf("failed to attach disk image: %w", err)
	}
	d.mountPoint = filepath.Join(d.mountRoot, s.Package.VolumeName)
	return nil
}

// dmgPopulate copies the staged content into an image that was created
// empty. The volume is detached again when copying fails so that it is not
// left mounted inside the work directory.
func dmgPopulate(ctx context.Context, s *BuildState) error {
	d := &s.dmg
	if !d.needsCopy {
		return nil
	}
	if err := copyTree(d.staging, d.mountPoint, nil); err != nil {
		err = fmt.Errorf("failed to copy into disk image: %w", err)
		if detachErr := dmgDetach(ctx, s); detachErr != nil {
			return errors.Join(err, detachErr)
		}
		return err
	}
	return nil
}

// dmgDetach detaches the volume. hdiutil may report "resource busy" even
// though the volume went away, so retrying stops once the mount point is
// gone. A forced detach is the last resort.
func dmgDetach(ctx context.Context, s *BuildState) error {
	d := &s.dmg
	gone := func() bool {
		_, err := os.Stat(d.mountPoint)
		return errors.Is(err, fs.ErrNotExist)
	}

	_, err := s.hdiutilRetry(ctx, s.Env.Retry.WithAbort(gone), "detach", d.mountPoint)
	if err == nil {
		return nil
	}
	s.Env.logger().Warn("detaching disk image failed, forcing", "mountpoint", d.mountPoint, "error", err)
	if _, err := s.hdiutil(ctx, "detach", "-force", d.mountPoint); err != nil {
		return fmt.Errorf("failed to detach disk image: %w", err)
	}
	return nil
}

func dmgConvert(ctx context.Context, s *BuildState) error {
	final := filepath.Join(s.dmgDir(), s.Package.Name+".dmg")
	if err := os.Remove(final); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove previous image: %w", err)
	}
	_, err := s.hdiutilRetry(ctx, s.Env.Retry, "convert", s.dmg.tempImage, "-format", "UDZO", "-o", final)
	if err != nil {
		return fmt.Errorf("failed to convert disk image: %w", err)
	}
	s.Artifact = final
	return nil
}

// licenseResources returns the udifrez resources showing text as the
// English license agreement.
func licenseResources(text []byte) map[string]interface{} {
	lpic := []byte{0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}
	resource := func(id string, data []byte) []map[string]interface{} {
		return []map[string]interface{}{{
			"Attributes": "0x0000",
			"Data":       data,
			"ID":         id,
			"Name":       "English",
		}}
	}
	return map[string]interface{}{
		"LPic": resource("5000", lpic),
		"TEXT": resource("5000", text),
	}
}

func dmgLicense(ctx context.Context, s *BuildState) error {
	text, err := os.ReadFile(s.Package.License)
	if err != nil {
		return fmt.Errorf("failed to read license: %w", err)
	}
	path := filepath.Join(s.configDir(), "license.plist")
	if err := codesign.WritePlist(path, licenseResources(text)); err != nil {
		return err
	}
	if _, err := s.hdiutil(ctx, "udifrez", s.Artifact, "-xml", path); err != nil {
		return fmt.Errorf("failed to embed license: %w", err)
	}
	return nil
}
