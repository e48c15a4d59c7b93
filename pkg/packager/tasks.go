package packager

import "github.com/aluedeke/go-macpack/pkg/pipeline"

// Application image tasks.
var (
	TaskSetup        = pipeline.AppImageTask("setup")
	TaskCopyImage    = pipeline.AppImageTask("copy-image")
	TaskLauncher     = pipeline.AppImageTask("launcher")
	TaskRuntime      = pipeline.AppImageTask("runtime")
	TaskContent      = pipeline.AppImageTask("content")
	TaskExtraContent = pipeline.AppImageTask("extra-content")
	TaskIcon         = pipeline.AppImageTask("icon")
	TaskInfoPlist    = pipeline.AppImageTask("info-plist")
	TaskPkgInfo      = pipeline.AppImageTask("pkginfo")
	TaskReceipt      = pipeline.AppImageTask("package-file")
	TaskProfile      = pipeline.AppImageTask("provisioning-profile")
	TaskEntitlements = pipeline.AppImageTask("entitlements")
	TaskSign         = pipeline.AppImageTask("sign")
	TaskAppImage     = pipeline.AppImageTask("app-image")
)

// Package tasks.
var (
	TaskDMGStaging  = pipeline.PackageTask("dmg-staging")
	TaskDMGCreate   = pipeline.PackageTask("dmg-create")
	TaskDMGAttach   = pipeline.PackageTask("dmg-attach")
	TaskDMGPopulate = pipeline.PackageTask("dmg-populate")
	TaskDMGDetach   = pipeline.PackageTask("dmg-detach")
	TaskDMGConvert  = pipeline.PackageTask("dmg-convert")
	TaskDMGLicense  = pipeline.PackageTask("dmg-license")

	TaskPKGScripts       = pipeline.PackageTask("pkg-scripts")
	TaskPKGComponentList = pipeline.PackageTask("pkg-component-plist")
	TaskPKGApp           = pipeline.PackageTask("pkg-app")
	TaskPKGServices      = pipeline.PackageTask("pkg-services")
	TaskPKGSupport       = pipeline.PackageTask("pkg-support")
	TaskPKGDistribution  = pipeline.PackageTask("pkg-distribution")
	TaskPKGProduct       = pipeline.PackageTask("pkg-product")

	TaskPackage = pipeline.PackageTask("package")
)

// imageBuildTasks assemble a bundle from parts and are skipped for prebuilt
// images.
var imageBuildTasks = map[pipeline.TaskID]bool{
	TaskLauncher:     true,
	TaskRuntime:      true,
	TaskContent:      true,
	TaskExtraContent: true,
	TaskIcon:         true,
	TaskInfoPlist:    true,
	TaskPkgInfo:      true,
}

var dmgTasks = map[pipeline.TaskID]bool{
	TaskDMGStaging: true, TaskDMGCreate: true, TaskDMGAttach: true, TaskDMGPopulate: true,
	TaskDMGDetach: true, TaskDMGConvert: true, TaskDMGLicense: true,
}

// Enabled implements pipeline.TaskContext for the configuration of the build.
func (s *BuildState) Enabled(id pipeline.TaskID) bool {
	// The receipt marks bundles installed by a package. It is written for
	// prebuilt images too, which skip every other image task.
	if id == TaskReceipt {
		return s.Package != nil
	}

	prebuilt := s.App.Image != ""
	if imageBuildTasks[id] && prebuilt {
		return false
	}

	switch id {
	case TaskCopyImage:
		return prebuilt
	case TaskRuntime:
		return s.App.HasRuntime()
	case TaskContent:
		return s.App.Input != ""
	case TaskExtraContent:
		return len(s.App.Content) > 0
	case TaskIcon:
		return s.App.Icon != ""
	case TaskProfile:
		return s.Signing != nil && s.Signing.ProvisioningProfile != ""
	case TaskEntitlements:
		return !s.Signing.AdHoc()
	}

	if id.Scope != pipeline.ScopePackage {
		return true
	}
	p := s.Package
	if p == nil {
		return false
	}
	if dmgTasks[id] {
		if p.Type != TypeDMG {
			return false
		}
		return id != TaskDMGLicense || p.License != ""
	}

	appStore := s.Signing != nil && s.Signing.AppStore
	switch id {
	case TaskPKGScripts:
		return p.Type == TypePKG && p.Scripts != (Scripts{}) && !appStore
	case TaskPKGComponentList, TaskPKGApp:
		return p.Type == TypePKG && !appStore
	case TaskPKGProduct:
		return p.Type == TypePKG
	case TaskPKGServices:
		return p.Type == TypePKG && p.HasServices() && !appStore
	case TaskPKGSupport:
		return p.Type == TypePKG && p.Uninstaller && !appStore
	case TaskPKGDistribution:
		return p.Type == TypePKG && !appStore
	}
	return true
}
