package codesign

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aluedeke/go-macpack/pkg/command"
)

// DefaultTool is the path of Apple's codesign tool.
const DefaultTool = "/usr/bin/codesign"

// TargetKind selects how a path is signed
type TargetKind int

const (
	// KindFile is a non-executable regular file such as a library.
	KindFile TargetKind = iota
	// KindExecutable is a regular file with an execute bit set.
	KindExecutable
	// KindDirectory is a bundle or framework directory.
	KindDirectory
)

func (k TargetKind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindExecutable:
		return "executable"
	case KindDirectory:
		return "directory"
	}
	return fmt.Sprintf("TargetKind(%d)", int(k))
}

// flags returns whether the kind signs with --force and with entitlements.
func (k TargetKind) flags() (force, entitlements bool) {
	switch k {
	case KindExecutable:
		return false, true
	case KindDirectory:
		return true, false
	}
	return false, false
}

// Classify inspects path (following symlinks) and returns its TargetKind.
func Classify(path string) (TargetKind, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("%w %s: %v", ErrNoSigner, path, err)
	}
	switch {
	case info.IsDir():
		return KindDirectory, nil
	case info.Mode().IsRegular() && info.Mode()&0o111 != 0:
		return KindExecutable, nil
	case info.Mode().IsRegular():
		return KindFile, nil
	}
	return 0, fmt.Errorf("%w %s: unsupported file mode %s", ErrNoSigner, path, info.Mode())
}

// Signer invokes codesign for single paths
type Signer struct {
	Runner command.Runner
	Config Config
	Tool   string
	Logger *slog.Logger
}

// NewSigner creates a Signer for cfg.
func NewSigner(r command.Runner, cfg Config, logger *slog.Logger) *Signer {
	return &Signer{Runner: r, Config: cfg, Tool: DefaultTool, Logger: logger}
}

func (s *Signer) tool() string {
	if s.Tool == "" {
		return DefaultTool
	}
	return s.Tool
}

func (s *Signer) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// Sign classifies path and signs it with the matching variant.
func (s *Signer) Sign(ctx context.Context, path string) error {
	kind, err := Classify(path)
	if err != nil {
		return err
	}
	return s.SignAs(ctx, path, kind)
}

// SignAs signs path as kind.
func (s *Signer) SignAs(ctx context.Context, path string, kind TargetKind) error {
	force, entitlements := kind.flags()
	return s.run(ctx, path, force, entitlements)
}

// SignBundle signs a bundle root. Unlike other directories the root carries
// the entitlements, since they apply to the primary launcher sealed with it.
func (s *Signer) SignBundle(ctx context.Context, root string) error {
	return s.run(ctx, root, true, true)
}

// Unsign removes an existing signature from path. Failures are ignored, the
// path may not have been signed before.
func (s *Signer) Unsign(ctx context.Context, path string) {
	args := []string{s.tool(), "--remove-signature", path}
	if _, err := s.Runner.Run(ctx, args, command.Options{Quiet: true}); err != nil {
		s.logger().Debug("remove signature failed", "path", path, "error", err)
	}
}

// Args returns the codesign command line for signing path.
func (s *Signer) Args(path string, force, entitlements bool) []string {
	cfg := s.Config
	args := []string{s.tool(), "-s", cfg.Identity(), "-vvvv"}
	if force {
		args = append(args, "--force")
	}
	if !cfg.AdHoc() {
		args = append(args, "--timestamp", "--options", "runtime")
		if cfg.Prefix() != "" {
			args = append(args, "--prefix", cfg.Prefix())
		}
		if cfg.Keychain() != "" {
			args = append(args, "--keychain", cfg.Keychain())
		}
		if entitlements && cfg.Entitlements() != "" {
			args = append(args, "--entitlements", cfg.Entitlements())
		}
	}
	return append(args, path)
}

func (s *Signer) run(ctx context.Context, path string, force, entitlements bool) error {
	args := s.Args(path, force, entitlements)
	s.logger().Debug("signing", "path", path, "identity", s.Config.Identity())
	if _, err := s.Runner.Run(ctx, args, command.Options{}); err != nil {
		return &SignError{Path: path, Output: command.OutputOf(err), Err: err}
	}
	return nil
}
