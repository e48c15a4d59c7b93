package packager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aluedeke/go-macpack/pkg/certs"
	"github.com/aluedeke/go-macpack/pkg/keychain"
	"github.com/aluedeke/go-macpack/pkg/pipeline"
)

// Mode selects what a build produces
type Mode int

const (
	// ModePackage builds the application image and the installer artifact.
	ModePackage Mode = iota
	// ModeImage only builds the application image.
	ModeImage
)

// BuildGraph registers every packaging task. Tasks that a configuration does
// not need are disabled through BuildState.Enabled, not left out.
func BuildGraph() (*pipeline.Graph[*BuildState], error) {
	b := pipeline.NewBuilder[*BuildState]()

	b.Task(TaskSetup).Action(setupImage)
	b.Task(TaskCopyImage).Action(copyImage).AddDependency(TaskSetup)
	b.Task(TaskLauncher).Action(copyLauncher).AddDependency(TaskSetup)
	b.Task(TaskRuntime).Action(copyRuntime).AddDependency(TaskSetup)
	b.Task(TaskContent).Action(copyContent).AddDependency(TaskSetup)
	b.Task(TaskExtraContent).Action(copyExtraContent).AddDependency(TaskSetup)
	b.Task(TaskIcon).Action(copyIcon).AddDependency(TaskSetup)
	b.Task(TaskInfoPlist).Action(writeInfoPlist).AddDependency(TaskLauncher, TaskIcon)
	b.Task(TaskPkgInfo).Action(writePkgInfo).AddDependency(TaskSetup)
	b.Task(TaskReceipt).Action(writeReceipt).AddDependency(TaskCopyImage, TaskContent)
	b.Task(TaskProfile).Action(embedProfile).AddDependency(TaskCopyImage, TaskInfoPlist)
	b.Task(TaskEntitlements).Action(writeEntitlements).AddDependency(TaskProfile)
	b.Task(TaskSign).Action(signImage).AddDependency(
		TaskCopyImage, TaskLauncher, TaskRuntime, TaskContent, TaskExtraContent,
		TaskIcon, TaskInfoPlist, TaskPkgInfo, TaskReceipt, TaskProfile, TaskEntitlements,
	)
	b.Task(TaskAppImage).NoAction().AddDependency(TaskSign)

	b.Task(TaskDMGStaging).Action(dmgStaging).AddDependency(TaskAppImage)
	b.Task(TaskDMGCreate).Action(dmgCreate).AddDependency(TaskDMGStaging)
	b.Task(TaskDMGAttach).Action(dmgAttach).AddDependency(TaskDMGCreate)
	b.Task(TaskDMGPopulate).Action(dmgPopulate).AddDependency(TaskDMGAttach)
	b.Task(TaskDMGDetach).Action(dmgDetach).AddDependency(TaskDMGPopulate)
	b.Task(TaskDMGConvert).Action(dmgConvert).AddDependency(TaskDMGDetach)
	b.Task(TaskDMGLicense).Action(dmgLicense).AddDependency(TaskDMGConvert)

	b.Task(TaskPKGScripts).Action(pkgScripts).AddDependency(TaskAppImage)
	b.Task(TaskPKGComponentList).Action(pkgComponentList).AddDependency(TaskAppImage)
	b.Task(TaskPKGApp).Action(pkgApp).AddDependency(TaskPKGScripts, TaskPKGComponentList)
	b.Task(TaskPKGServices).Action(pkgServices).AddDependency(TaskPKGApp)
	b.Task(TaskPKGSupport).Action(pkgSupport).AddDependency(TaskPKGServices)
	b.Task(TaskPKGDistribution).Action(pkgDistribution).AddDependency(TaskPKGApp, TaskPKGServices, TaskPKGSupport)
	b.Task(TaskPKGProduct).Action(pkgProduct).AddDependency(TaskAppImage, TaskPKGDistribution)

	b.Task(TaskPackage).Action(moveArtifact).AddDependency(TaskDMGLicense, TaskPKGProduct)

	return b.Build()
}

// moveArtifact moves the installer into the output directory.
func moveArtifact(_ context.Context, s *BuildState) error {
	if s.Artifact == "" {
		return fmt.Errorf("no %s artifact was produced", s.Package.Type)
	}
	dst := filepath.Join(s.Env.OutputDir, filepath.Base(s.Artifact))
	if err := os.MkdirAll(s.Env.OutputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.Rename(s.Artifact, dst); err != nil {
		info, statErr := os.Stat(s.Artifact)
		if statErr != nil {
			return fmt.Errorf("failed to move artifact: %w", err)
		}
		if err := copyFile(s.Artifact, dst, info.Mode()); err != nil {
			return fmt.Errorf("failed to copy artifact: %w", err)
		}
	}
	s.Artifact = dst
	return nil
}

// Packager builds application images and installers from a Config
type Packager struct {
	Env      *Env
	Store    *keychain.Store
	Scope    *keychain.Scope
	Resolver *certs.Resolver
}

// New returns a Packager that drives the security tool through env.Runner.
func New(env *Env) *Packager {
	store := keychain.NewStore(env.Runner)
	return &Packager{
		Env:      env,
		Store:    store,
		Scope:    keychain.NewScope(store, env.Logger),
		Resolver: certs.NewResolver(store, env.Logger),
	}
}

// Plan resolves the signing identities configured in s. Without signing the
// bundle is signed ad-hoc.
func (p *Packager) Plan(ctx context.Context, s Signing, pkg *Package) (*SigningPlan, error) {
	plan := &SigningPlan{Scope: p.Scope}
	if !s.Sign {
		return plan, nil
	}
	if s.Keychain != "" {
		plan.Keychain = keychain.ResolvePath(s.Keychain)
	}

	identity := s.Identity
	if s.P12 != "" {
		cred, err := ImportCredential(ctx, p.Store, s.P12, s.P12Password, plan.Keychain, p.Env.now())
		if err != nil {
			return nil, err
		}
		p.Env.logger().Info("imported signing credential", "name", cred.Name(), "fingerprint", cred.Fingerprint())
		if identity == "" {
			identity = cred.Fingerprint()
		}
	}

	app, installer, err := ResolveIdentities(ctx, p.Resolver, IdentityRequest{
		AppIdentity:       identity,
		InstallerIdentity: s.InstallerIdentity,
		TeamName:          s.TeamName,
		AppStore:          s.AppStore,
		Keychain:          plan.Keychain,
		Installer:         pkg != nil && pkg.Type == TypePKG,
	})
	if err != nil {
		return nil, err
	}

	plan.App = app.WithPrefix(s.Prefix)
	plan.Installer = installer
	plan.Prefix = s.Prefix
	plan.Entitlements = s.Entitlements
	plan.ProvisioningProfile = s.ProvisioningProfile
	plan.AppStore = s.AppStore
	return plan, nil
}

// Create builds cfg and returns the path of the produced artifact: the
// application bundle in ModeImage, the installer otherwise.
func (p *Packager) Create(ctx context.Context, cfg *Config, mode Mode) (string, error) {
	env := *p.Env
	if env.OutputDir == "" {
		env.OutputDir = cfg.Output
	}
	outputDir, err := filepath.Abs(env.OutputDir)
	if err != nil {
		return "", err
	}
	env.OutputDir = outputDir
	env.ExcludeDirs = append(append([]string(nil), env.ExcludeDirs...), outputDir)
	if env.WorkDir == "" {
		dir, err := os.MkdirTemp("", "macpack-")
		if err != nil {
			return "", fmt.Errorf("failed to create work directory: %w", err)
		}
		defer os.RemoveAll(dir)
		env.WorkDir = dir
	}

	pkg := cfg.Package
	if mode == ModeImage {
		pkg = nil
	}

	graph, err := BuildGraph()
	if err != nil {
		return "", err
	}
	if mode == ModeImage {
		graph, err = graph.Restrict(func(id pipeline.TaskID) bool {
			return id.Scope == pipeline.ScopeAppImage
		})
		if err != nil {
			return "", err
		}
	}

	plan, err := p.Plan(ctx, cfg.Signing, pkg)
	if err != nil {
		return "", err
	}

	state := NewBuildState(&env, &cfg.App, pkg, plan)
	log := env.logger()
	err = graph.Execute(ctx, state,
		pipeline.WithTaskContext(state),
		pipeline.WithLogger(log),
		pipeline.WithAfterTask(func(id pipeline.TaskID, skipped bool, elapsed time.Duration) {
			if !skipped {
				log.Info("task done", "task", id.String(), "elapsed", elapsed.Round(time.Millisecond))
			}
		}),
	)
	if err != nil {
		return "", err
	}

	if mode == ModeImage {
		return publishImage(state)
	}
	return state.Artifact, nil
}

// publishImage replaces the bundle in the output directory with the built one.
func publishImage(s *BuildState) (string, error) {
	dst := filepath.Join(s.Env.OutputDir, s.App.BundleName())
	if err := os.RemoveAll(dst); err != nil {
		return "", fmt.Errorf("failed to remove previous image: %w", err)
	}
	if err := copyTree(s.AppImage(), dst, nil); err != nil {
		return "", fmt.Errorf("failed to copy application image: %w", err)
	}
	return dst, nil
}
