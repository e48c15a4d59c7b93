package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/docopt/docopt-go"

	"github.com/aluedeke/go-macpack/pkg/certs"
	"github.com/aluedeke/go-macpack/pkg/codesign"
	"github.com/aluedeke/go-macpack/pkg/command"
	"github.com/aluedeke/go-macpack/pkg/keychain"
	"github.com/aluedeke/go-macpack/pkg/packager"
)

const version = "1.0.0"

const usage = `go-macpack - macOS Application Packager

Builds signed macOS application bundles, disk images and installer packages.

Usage:
  go-macpack create --config=<path> [--image-only] [--output=<dir>] [--work-dir=<dir>] [--identity=<id>] [--keychain=<name>] [--p12=<path>] [--password=<password>] [-v]
  go-macpack sign --app=<path> [--identity=<id>] [--team=<name>] [--app-store] [--keychain=<name>] [--entitlements=<path>] [--prefix=<prefix>] [-v]
  go-macpack certs [--team=<name>] [--app-store] [--installer] [--keychain=<name>] [-v]
  go-macpack profile --profile=<path>
  go-macpack -h | --help
  go-macpack --version

Commands:
  create    Build the application image and package described by a YAML file
  sign      Sign an existing .app bundle and everything inside it
  certs     List the certificates matching a signing selector
  profile   Display information about a provisioning profile

Options:
  --config=<path>        Path to the YAML build description
  --image-only           Only build the application image, no dmg or pkg
  --output=<dir>         Output directory (overrides the build description)
  --work-dir=<dir>       Keep intermediate files in this directory
  --app=<path>           Path to the .app bundle to sign
  --identity=<id>        Certificate name or SHA-1 fingerprint (or MACPACK_SIGN_IDENTITY env var)
  --team=<name>          Team name completing the standard certificate names
  --app-store            Use the Mac App Store certificate names
  --installer            Select installer instead of application certificates
  --keychain=<name>      Keychain name or path (or MACPACK_KEYCHAIN env var)
  --entitlements=<path>  Entitlements file applied to executables
  --prefix=<prefix>      Identifier prefix for signed executables
  --p12=<path>           P12 credential to import into the keychain (or MACPACK_P12 env var)
  --password=<password>  Password of the P12 credential (or MACPACK_P12_PASSWORD env var)
  --profile=<path>       Path to a .provisionprofile file
  -v --verbose           Log every external command
  -h --help              Show this help message
  --version              Show version

Environment Variables:
  MACPACK_SIGN_IDENTITY  Signing identity (overridden by --identity)
  MACPACK_KEYCHAIN       Keychain name or path (overridden by --keychain)
  MACPACK_P12            P12 credential file (overridden by --p12)
  MACPACK_P12_PASSWORD   P12 credential password (overridden by --password)

Examples:
  # Build the package described in macpack.yaml
  go-macpack create --config=macpack.yaml

  # Build only the signed application image
  go-macpack create --config=macpack.yaml --image-only --output=dist

  # Import a credential into a CI keychain and sign with it
  export MACPACK_P12=/path/to/developer-id.p12
  export MACPACK_P12_PASSWORD=secret
  go-macpack create --config=macpack.yaml --keychain=build.keychain

  # Sign an existing bundle with a Developer ID certificate
  go-macpack sign --app=Example.app --team="Example Corp (ABCDE12345)"

  # Show the installer certificates available for the App Store
  go-macpack certs --app-store --installer
`

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing arguments: %v\n", err)
		os.Exit(1)
	}

	verbose, _ := opts.Bool("--verbose")
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var run func(ctx context.Context, opts docopt.Opts, logger *slog.Logger) error
	if create, _ := opts.Bool("create"); create {
		run = runCreate
	} else if sign, _ := opts.Bool("sign"); sign {
		run = runSign
	} else if list, _ := opts.Bool("certs"); list {
		run = runCerts
	} else if profile, _ := opts.Bool("profile"); profile {
		run = runProfile
	}
	if run == nil {
		return
	}
	if err := run(ctx, opts, logger); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// option returns the value of flag, or of the environment variable env when
// the flag is not given.
func option(opts docopt.Opts, flag, env string) string {
	value, _ := opts.String(flag)
	if value == "" && env != "" {
		value = os.Getenv(env)
	}
	return value
}

func runCreate(ctx context.Context, opts docopt.Opts, logger *slog.Logger) error {
	configPath, _ := opts.String("--config")
	imageOnly, _ := opts.Bool("--image-only")

	cfg, err := packager.LoadConfig(configPath)
	if err != nil {
		return err
	}

	s := &cfg.Signing
	if identity := option(opts, "--identity", "MACPACK_SIGN_IDENTITY"); identity != "" {
		s.Sign = true
		s.Identity = identity
	}
	if kc := option(opts, "--keychain", "MACPACK_KEYCHAIN"); kc != "" {
		s.Keychain = kc
	}
	if p12 := option(opts, "--p12", "MACPACK_P12"); p12 != "" {
		s.Sign = true
		s.P12 = p12
	}
	if password := option(opts, "--password", "MACPACK_P12_PASSWORD"); password != "" {
		s.P12Password = password
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	output := option(opts, "--output", "")
	workDir := option(opts, "--work-dir", "")
	if workDir != "" {
		if workDir, err = filepath.Abs(workDir); err != nil {
			return err
		}
	}

	runner := command.NewExecRunner(logger)
	env := &packager.Env{
		WorkDir:   workDir,
		OutputDir: output,
		Runner:    runner,
		Retry:     command.DefaultRetryPolicy(),
		Logger:    logger,
	}

	mode := packager.ModePackage
	what := "package"
	if imageOnly || cfg.Package == nil {
		mode = packager.ModeImage
		what = "application image"
	}
	fmt.Printf("Building %s for %s %s\n", what, cfg.App.Name, cfg.App.Version)
	if s.Sign {
		fmt.Printf("Signing: %s\n", describeSigning(s))
	} else {
		fmt.Printf("Signing: ad-hoc\n")
	}
	fmt.Println()

	artifact, err := packager.New(env).Create(ctx, cfg, mode)
	if err != nil {
		return err
	}
	fmt.Printf("Successfully created %s\n", artifact)
	return nil
}

func describeSigning(s *packager.Signing) string {
	switch {
	case s.Identity != "":
		return s.Identity
	case s.P12 != "":
		return "credential " + s.P12
	case s.TeamName != "":
		return "team " + s.TeamName
	}
	return "default certificate"
}

func runSign(ctx context.Context, opts docopt.Opts, logger *slog.Logger) error {
	appPath, _ := opts.String("--app")
	team := option(opts, "--team", "")
	appStore, _ := opts.Bool("--app-store")
	identity := option(opts, "--identity", "MACPACK_SIGN_IDENTITY")
	kc := keychain.ResolvePath(option(opts, "--keychain", "MACPACK_KEYCHAIN"))
	entitlements := option(opts, "--entitlements", "")
	prefix := option(opts, "--prefix", "")

	info, err := codesign.ReadBundleInfo(appPath)
	if err != nil {
		return err
	}

	runner := command.NewExecRunner(logger)
	store := keychain.NewStore(runner)

	builder := codesign.NewConfigBuilder()
	if identity != "" || team != "" {
		app, _, err := packager.ResolveIdentities(ctx, certs.NewResolver(store, logger), packager.IdentityRequest{
			AppIdentity: identity,
			TeamName:    team,
			AppStore:    appStore,
			Keychain:    kc,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Using certificate: %s (%s)\n", app.Name, app.Fingerprint)
		builder = builder.Identity(app).Keychain(kc).Prefix(prefix).Entitlements(entitlements)
	} else {
		fmt.Printf("Using ad-hoc signature\n")
	}
	cfg, err := builder.Build()
	if err != nil {
		return err
	}

	bundle := codesign.Bundle{Root: appPath, Launcher: info.Executable}
	if _, err := os.Stat(filepath.Join(appPath, "Contents", "runtime")); err == nil {
		bundle.Runtime = filepath.Join("Contents", "runtime")
	}

	tree := codesign.NewTreeSigner(codesign.NewSigner(runner, cfg, logger), logger)
	sign := func(ctx context.Context) error { return tree.Sign(ctx, bundle) }
	var keychains []string
	if kc != "" {
		keychains = []string{kc}
	}
	if err := keychain.NewScope(store, logger).WithKeychains(ctx, keychains, sign); err != nil {
		return err
	}
	fmt.Printf("Successfully signed %s (%s)\n", appPath, info.Identifier)
	return nil
}

func runCerts(ctx context.Context, opts docopt.Opts, logger *slog.Logger) error {
	team := option(opts, "--team", "")
	appStore, _ := opts.Bool("--app-store")
	installer, _ := opts.Bool("--installer")
	kc := keychain.ResolvePath(option(opts, "--keychain", "MACPACK_KEYCHAIN"))

	purpose := certs.PurposeApp
	if installer {
		purpose = certs.PurposeInstaller
	}
	sel, err := certs.StandardSelector(purpose, appStore, team)
	if err != nil {
		return err
	}

	store := keychain.NewStore(command.NewExecRunner(logger))
	fmt.Printf("Certificates matching %s\n", sel)
	fmt.Println("==============================")
	for _, name := range sel.Names() {
		data, err := store.FindCertificates(ctx, keychain.Query{Name: name, Keychain: kc})
		if err != nil {
			return err
		}
		found, err := certs.ParsePEM(data)
		if err != nil {
			return err
		}
		for _, c := range found {
			fmt.Printf("%s\n", c.Name())
			fmt.Printf("    Fingerprint: %s\n", c.Fingerprint)
			fmt.Printf("    Expires:     %s\n", c.X509.NotAfter.Format("2006-01-02"))
		}
	}

	id, err := certs.NewResolver(store, logger).Resolve(ctx, certs.Request{Selector: sel, Keychain: kc})
	fmt.Println()
	if err != nil {
		fmt.Printf("Selected: none (%v)\n", err)
		return nil
	}
	fmt.Printf("Selected: %s (%s)\n", id.Name, id.Fingerprint)
	return nil
}

func runProfile(_ context.Context, opts docopt.Opts, _ *slog.Logger) error {
	profilePath, _ := opts.String("--profile")

	profile, _, err := codesign.ReadProvisioningProfile(profilePath)
	if err != nil {
		return err
	}

	fmt.Println("Provisioning Profile Information")
	fmt.Println("================================")
	fmt.Printf("File:           %s\n", profilePath)
	fmt.Printf("Name:           %s\n", profile.Name)
	fmt.Printf("Team ID:        %s\n", profile.GetTeamID())
	fmt.Printf("App ID:         %s\n", profile.GetApplicationIdentifier())
	fmt.Printf("UUID:           %s\n", profile.UUID)
	fmt.Printf("Created:        %s\n", profile.CreationDate.Format("2006-01-02 15:04:05"))
	fmt.Printf("Expiration:     %s\n", profile.ExpirationDate.Format("2006-01-02 15:04:05"))
	fmt.Printf("Expired:        %v\n", profile.IsExpired(time.Now()))
	fmt.Printf("macOS:          %v\n", profile.ForMacOS())
	if certs, err := profile.GetCertificates(); err == nil {
		fmt.Printf("Certificates:   %d\n", len(certs))
		for i, cert := range certs {
			fmt.Printf("  [%d] %s\n", i+1, cert.Subject.CommonName)
			fmt.Printf("      Serial: %s\n", cert.SerialNumber.String())
			fmt.Printf("      Expires: %s\n", cert.NotAfter.Format("2006-01-02"))
		}
	}

	if ents, err := codesign.ExtractEntitlements(profile); err == nil {
		fmt.Println()
		fmt.Println("Entitlements:")
		fmt.Print(string(ents))
		fmt.Println()
	}
	return nil
}
