package codesign

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// librarySuffixes are signed even without an execute bit.
var librarySuffixes = []string{".dylib", ".jnilib"}

// Bundle describes the application bundle to sign
type Bundle struct {
	// Root is the .app directory.
	Root string
	// Launcher is the file name of the primary launcher in Contents/MacOS.
	Launcher string
	// Runtime is the bundled runtime directory relative to Root, if any.
	Runtime string
	// ExtraContent lists additional content copied into the bundle.
	ExtraContent []string
}

// TreeSigner signs everything in a bundle in dependency order
type TreeSigner struct {
	Signer *Signer
	Logger *slog.Logger
	// LookPath locates the signing toolchain for failure hints.
	LookPath func(file string) (string, error)
}

// NewTreeSigner returns a TreeSigner using signer.
func NewTreeSigner(signer *Signer, logger *slog.Logger) *TreeSigner {
	return &TreeSigner{Signer: signer, Logger: logger, LookPath: exec.LookPath}
}

func (t *TreeSigner) logger() *slog.Logger {
	if t.Logger == nil {
		return slog.Default()
	}
	return t.Logger
}

// Sign signs all libraries and executables in the bundle, then the runtime,
// each framework and finally the bundle root. The primary launcher is only
// signed through the root and nothing inside a .dSYM bundle is signed.
func (t *TreeSigner) Sign(ctx context.Context, b Bundle) error {
	if err := t.sign(ctx, b); err != nil {
		return t.withHints(b, err)
	}
	return nil
}

func (t *TreeSigner) sign(ctx context.Context, b Bundle) error {
	files, err := SignableFiles(b)
	if err != nil {
		return err
	}
	for _, path := range files {
		if err := t.signFile(ctx, path); err != nil {
			return err
		}
	}

	if b.Runtime != "" {
		runtime := filepath.Join(b.Root, b.Runtime)
		if _, err := os.Lstat(runtime); err == nil {
			if err := t.signDirectory(ctx, runtime); err != nil {
				return err
			}
		}
	}

	frameworks := filepath.Join(b.Root, "Contents", "Frameworks")
	entries, err := os.ReadDir(frameworks)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to read frameworks: %w", err)
	}
	for _, entry := range entries {
		if err := t.signDirectory(ctx, filepath.Join(frameworks, entry.Name())); err != nil {
			return err
		}
	}

	return t.Signer.SignBundle(ctx, b.Root)
}

// signDirectory signs a runtime or framework unit with the directory variant.
// Paths that do not resolve to anything signable fail with ErrNoSigner.
func (t *TreeSigner) signDirectory(ctx context.Context, path string) error {
	if _, err := Classify(path); err != nil {
		return err
	}
	return t.Signer.SignAs(ctx, path, KindDirectory)
}

// signFile signs a single library or executable, making it writable for the
// duration of the call if needed.
func (t *TreeSigner) signFile(ctx context.Context, path string) (err error) {
	info, err := os.Lstat(path)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	mode := info.Mode()
	perm := mode & (fs.ModePerm | fs.ModeSetuid | fs.ModeSetgid | fs.ModeSticky)
	if perm&0o200 == 0 {
		if err := os.Chmod(path, perm|0o200); err != nil {
			return fmt.Errorf("failed to make %s writable: %w", path, err)
		}
		defer func() {
			if restoreErr := os.Chmod(path, perm); restoreErr != nil {
				if err != nil {
					t.logger().Error("failed to restore permissions", "path", path, "error", restoreErr)
					return
				}
				err = fmt.Errorf("failed to restore permissions of %s: %w", path, restoreErr)
			}
		}()
	}

	kind := KindFile
	if mode&0o111 != 0 {
		kind = KindExecutable
	}
	t.Signer.Unsign(ctx, path)
	return t.Signer.SignAs(ctx, path, kind)
}

// SignableFiles returns the libraries and executables under the bundle root
// in lexical order, without the primary launcher and debug symbols.
func SignableFiles(b Bundle) ([]string, error) {
	var launcher string
	if b.Launcher != "" {
		launcher = filepath.Join(b.Root, "Contents", "MacOS", b.Launcher)
	}

	var files []string
	err := filepath.WalkDir(b.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if path == launcher || inDebugSymbols(path) {
			return nil
		}
		if hasLibrarySuffix(path) {
			files = append(files, path)
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Mode()&0o111 != 0 {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk bundle: %w", err)
	}
	return files, nil
}

func inDebugSymbols(path string) bool {
	return strings.Contains(filepath.ToSlash(path), ".dSYM/Contents/")
}

func hasLibrarySuffix(path string) bool {
	for _, suffix := range librarySuffixes {
		if strings.HasSuffix(path, suffix) {
			return true
		}
	}
	return false
}

// withHints attaches likely causes to a signing tool failure.
func (t *TreeSigner) withHints(b Bundle, err error) error {
	var signErr *SignError
	if !errors.As(err, &signErr) {
		return err
	}
	if len(b.ExtraContent) > 0 {
		signErr.Hints = append(signErr.Hints, fmt.Sprintf(
			"the additional app content (%s) may contain files that cannot be signed",
			strings.Join(b.ExtraContent, ", ")))
	}
	if t.LookPath != nil {
		for _, tool := range []string{"codesign", "xcrun"} {
			if _, lookErr := t.LookPath(tool); lookErr != nil {
				signErr.Hints = append(signErr.Hints,
					fmt.Sprintf("%s was not found, install the Xcode command line tools (xcode-select --install)", tool))
				break
			}
		}
	}
	return err
}
