package keychain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aluedeke/go-macpack/pkg/command"
)

// DefaultTool is the path of the security tool.
const DefaultTool = "/usr/bin/security"

// exitItemNotFound is the status security exits with when no item matches.
const exitItemNotFound = 44

// Store wraps the security tool
type Store struct {
	Runner command.Runner
	Tool   string
}

// NewStore returns a Store running the security tool through r.
func NewStore(r command.Runner) *Store {
	return &Store{Runner: r, Tool: DefaultTool}
}

func (s *Store) tool() string {
	if s.Tool == "" {
		return DefaultTool
	}
	return s.Tool
}

// ListKeychains returns the active keychain search list.
func (s *Store) ListKeychains(ctx context.Context) ([]string, error) {
	res, err := s.Runner.Run(ctx, []string{s.tool(), "list-keychains"}, command.Options{Quiet: true})
	if err != nil {
		return nil, fmt.Errorf("failed to list keychains: %w", err)
	}
	var keychains []string
	for _, line := range res.Output {
		line = strings.TrimSpace(line)
		line = strings.Trim(line, `"`)
		if line != "" {
			keychains = append(keychains, line)
		}
	}
	return keychains, nil
}

// SetSearchList replaces the active keychain search list with keychains.
func (s *Store) SetSearchList(ctx context.Context, keychains []string) error {
	args := append([]string{s.tool(), "list-keychains", "-s"}, keychains...)
	if _, err := s.Runner.Run(ctx, args, command.Options{Quiet: true}); err != nil {
		return fmt.Errorf("failed to set keychain search list: %w", err)
	}
	return nil
}

// Query filters the certificates returned by FindCertificates
type Query struct {
	// Name restricts the result to certificates whose name contains Name.
	Name string
	// Keychain restricts the search to one keychain. Empty searches the
	// active search list.
	Keychain string
}

// FindCertificates exports all certificates matching q as PEM. An empty
// result is not an error.
func (s *Store) FindCertificates(ctx context.Context, q Query) ([]byte, error) {
	args := []string{s.tool(), "find-certificate", "-a"}
	if q.Name != "" {
		args = append(args, "-c", q.Name)
	}
	args = append(args, "-p")
	if q.Keychain != "" {
		args = append(args, q.Keychain)
	}

	res, err := s.Runner.Run(ctx, args, command.Options{Quiet: true})
	if err != nil {
		var exitErr *command.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode == exitItemNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find certificates: %w", err)
	}
	if len(res.Output) == 0 {
		return nil, nil
	}
	return []byte(strings.Join(res.Output, "\n") + "\n"), nil
}

// Import imports a PKCS#12 credential file into keychain and allows the
// given tools to use its private key without prompting.
func (s *Store) Import(ctx context.Context, credentialPath, password, keychain string, trustedTools ...string) error {
	args := []string{s.tool(), "import", credentialPath, "-f", "pkcs12"}
	if keychain != "" {
		args = append(args, "-k", keychain)
	}
	args = append(args, "-P", password)
	for _, tool := range trustedTools {
		args = append(args, "-T", tool)
	}
	if _, err := s.Runner.Run(ctx, args, command.Options{Quiet: true}); err != nil {
		return fmt.Errorf("failed to import %s: %w", credentialPath, err)
	}
	return nil
}
