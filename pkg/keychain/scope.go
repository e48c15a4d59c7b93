package keychain

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"

	"github.com/aluedeke/go-macpack/pkg/command"
)

// Starting with 10.12, codesign and productbuild only find identities in
// keychains that are on the search list.
var searchListVersion = semver.MustParse("10.12")

// The search list is process-wide state: only one scope may change it at a time.
var scopeMu sync.Mutex

// Scope temporarily adds keychains to the active search list.
type Scope struct {
	Store *Store
	// OSVersion reports the running macOS version. Defaults to sw_vers.
	OSVersion func(ctx context.Context) (*semver.Version, error)
	Logger    *slog.Logger
}

// NewScope returns a Scope backed by store.
func NewScope(store *Store, logger *slog.Logger) *Scope {
	return &Scope{Store: store, Logger: logger}
}

// WithKeychains runs body with every keychain in keychains on the active
// search list. Missing keychains are appended for the duration of body and
// the original list is restored afterwards, also when body fails.
func (s *Scope) WithKeychains(ctx context.Context, keychains []string, body func(ctx context.Context) error) (err error) {
	if len(keychains) == 0 {
		return body(ctx)
	}

	version, err := s.osVersion(ctx)
	if err != nil {
		return err
	}
	if version.LessThan(searchListVersion) {
		return body(ctx)
	}

	scopeMu.Lock()
	defer scopeMu.Unlock()

	original, err := s.Store.ListKeychains(ctx)
	if err != nil {
		return err
	}

	var missing []string
	for _, k := range keychains {
		path := ResolvePath(k)
		if !contains(original, path) && !contains(missing, path) {
			missing = append(missing, path)
		}
	}
	if len(missing) == 0 {
		return body(ctx)
	}

	if err := s.Store.SetSearchList(ctx, append(append([]string(nil), original...), missing...)); err != nil {
		return err
	}
	defer func() {
		rerr := s.Store.SetSearchList(context.WithoutCancel(ctx), original)
		if rerr == nil {
			return
		}
		if err == nil {
			err = fmt.Errorf("failed to restore keychain search list: %w", rerr)
			return
		}
		s.logger().Error("failed to restore keychain search list", "keychains", original, "error", rerr)
	}()

	return body(ctx)
}

func (s *Scope) osVersion(ctx context.Context) (*semver.Version, error) {
	if s.OSVersion != nil {
		return s.OSVersion(ctx)
	}
	return ProductVersion(ctx, s.Store.Runner)
}

func (s *Scope) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// ProductVersion returns the macOS version reported by sw_vers.
func ProductVersion(ctx context.Context, r command.Runner) (*semver.Version, error) {
	res, err := r.Run(ctx, []string{"/usr/bin/sw_vers", "-productVersion"}, command.Options{Quiet: true})
	if err != nil {
		return nil, fmt.Errorf("failed to query macOS version: %w", err)
	}
	if len(res.Output) == 0 {
		return nil, fmt.Errorf("sw_vers printed no version")
	}
	v, err := semver.NewVersion(strings.TrimSpace(res.Output[0]))
	if err != nil {
		return nil, fmt.Errorf("failed to parse macOS version %q: %w", res.Output[0], err)
	}
	return v, nil
}

func contains(list []string, path string) bool {
	for _, p := range list {
		if samePath(p, path) {
			return true
		}
	}
	return false
}
