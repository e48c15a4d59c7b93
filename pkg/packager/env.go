package packager

import (
	"log/slog"
	"path/filepath"
	"time"

	"github.com/aluedeke/go-macpack/pkg/command"
)

// Env is the build environment shared by all tasks of a run
type Env struct {
	// WorkDir holds intermediate files. It is owned by a single run.
	WorkDir string
	// OutputDir receives the artifact.
	OutputDir string
	// ExcludeDirs are skipped when copying application content, e.g. an
	// output directory located inside the input.
	ExcludeDirs []string

	Runner command.Runner
	// Retry applies to disk image steps that fail intermittently.
	Retry  command.RetryPolicy
	Logger *slog.Logger
	Now    func() time.Time
}

func (e *Env) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

func (e *Env) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

// excluded reports whether path is one of the excluded directories.
func (e *Env) excluded(path string) bool {
	for _, dir := range e.ExcludeDirs {
		if rel, err := filepath.Rel(dir, path); err == nil && rel == "." {
			return true
		}
	}
	return false
}

// BuildState is the state handed to every task
type BuildState struct {
	Env     *Env
	App     *Application
	Package *Package
	Signing *SigningPlan

	// Artifact is the path of the produced image or package.
	Artifact string

	image imageState
	dmg   dmgState
	pkg   pkgState
}

// NewBuildState returns the state for building app (and pkg, if not nil).
func NewBuildState(env *Env, app *Application, pkg *Package, signing *SigningPlan) *BuildState {
	return &BuildState{Env: env, App: app, Package: pkg, Signing: signing}
}

// ImageRoot is the directory containing the application bundle.
func (s *BuildState) ImageRoot() string {
	return filepath.Join(s.Env.WorkDir, "image")
}

// AppImage is the path of the application bundle being built.
func (s *BuildState) AppImage() string {
	return filepath.Join(s.ImageRoot(), s.App.BundleName())
}

// Contents is the Contents directory of the application bundle.
func (s *BuildState) Contents() string {
	return filepath.Join(s.AppImage(), "Contents")
}

// configDir holds generated descriptor files.
func (s *BuildState) configDir() string {
	return filepath.Join(s.Env.WorkDir, "config")
}
