// Package codesign signs macOS application bundles with Apple's codesign tool.
//
// A Signer applies one signature to one path. The kind of path (plain file,
// executable or directory) selects the flags; paths that are none of these
// are rejected with ErrNoSigner. A TreeSigner signs a whole bundle inside out:
// libraries and executables first, then the bundled runtime and frameworks,
// then the bundle root.
//
// # Basic Usage
//
//	cfg, err := codesign.NewConfigBuilder().
//	    Identity(identity).
//	    Keychain("/Users/me/Library/Keychains/build.keychain-db").
//	    Entitlements("app.entitlements").
//	    Build()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	signer := codesign.NewSigner(runner, cfg, logger)
//	tree := codesign.NewTreeSigner(signer, logger)
//	err = tree.Sign(ctx, codesign.Bundle{Root: "MyApp.app", Launcher: "MyApp"})
//
// Without an identity the bundle is signed ad-hoc ("-"), which is enough to
// run it locally but not to distribute it.
//
// # Features
//
//   - Ad-hoc and Developer ID / App Store signing with hardened runtime
//   - Default entitlements for sandboxed and JIT-using applications
//   - Provisioning profile parsing and embedding
//   - Mach-O architecture detection for thin and universal binaries
package codesign
