package codesign

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/aluedeke/go-macpack/pkg/command/commandtest"
)

// makeBundle creates a bundle layout with a launcher, runtime, frameworks
// and debug symbols. Paths are relative to the returned root.
func makeBundle(t *testing.T, files map[string]os.FileMode) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "Example.app")
	for rel, mode := range files {
		path := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(rel), mode); err != nil {
			t.Fatal(err)
		}
		if err := os.Chmod(path, mode); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

var defaultLayout = map[string]os.FileMode{
	"Contents/MacOS/Example":                                 0o755,
	"Contents/MacOS/helper":                                  0o755,
	"Contents/Info.plist":                                    0o644,
	"Contents/app/Example.jar":                               0o644,
	"Contents/app/libnative.dylib":                           0o444,
	"Contents/runtime/Contents/Home/lib/libjava.dylib":       0o644,
	"Contents/runtime/Contents/Home/lib/jspawnhelper":        0o555,
	"Contents/runtime/Contents/Home/lib/libjsig.dylib.dSYM/Contents/Resources/DWARF/libjsig.dylib": 0o755,
	"Contents/Frameworks/Foo.framework/Foo":                  0o755,
	"Contents/Frameworks/Bar.framework/Bar":                  0o755,
	"Contents/Resources/Example.icns":                        0o644,
}

func exampleBundle(root string) Bundle {
	return Bundle{Root: root, Launcher: "Example", Runtime: "Contents/runtime"}
}

func signedPaths(runner *commandtest.Runner) []string {
	var paths []string
	for _, c := range runner.CallsTo("codesign") {
		if commandtest.Has(c.Args, "-s") {
			paths = append(paths, c.Args[len(c.Args)-1])
		}
	}
	return paths
}

func TestSignableFiles(t *testing.T) {
	root := makeBundle(t, defaultLayout)
	files, err := SignableFiles(exampleBundle(root))
	if err != nil {
		t.Fatalf("SignableFiles() error: %v", err)
	}

	var rel []string
	for _, f := range files {
		r, _ := filepath.Rel(root, f)
		rel = append(rel, filepath.ToSlash(r))
	}
	want := []string{
		"Contents/Frameworks/Bar.framework/Bar",
		"Contents/Frameworks/Foo.framework/Foo",
		"Contents/MacOS/helper",
		"Contents/app/libnative.dylib",
		"Contents/runtime/Contents/Home/lib/jspawnhelper",
		"Contents/runtime/Contents/Home/lib/libjava.dylib",
	}
	if !reflect.DeepEqual(rel, want) {
		t.Errorf("SignableFiles() = %q, want %q", rel, want)
	}
}

func TestTreeSigner_Order(t *testing.T) {
	root := makeBundle(t, defaultLayout)
	runner := &commandtest.Runner{}
	cfg, _ := NewConfigBuilder().Build()
	tree := NewTreeSigner(NewSigner(runner, cfg, nil), nil)

	if err := tree.Sign(context.Background(), exampleBundle(root)); err != nil {
		t.Fatalf("Sign() error: %v", err)
	}

	signed := signedPaths(runner)
	n := len(signed)
	if n != 6+1+2+1 {
		t.Fatalf("expected 10 signatures, got %d: %q", n, signed)
	}
	tail := []string{
		filepath.Join(root, "Contents/runtime"),
		filepath.Join(root, "Contents/Frameworks/Bar.framework"),
		filepath.Join(root, "Contents/Frameworks/Foo.framework"),
		root,
	}
	if !reflect.DeepEqual(signed[n-4:], tail) {
		t.Errorf("last signatures = %q, want %q", signed[n-4:], tail)
	}

	for _, p := range signed {
		if p == filepath.Join(root, "Contents/MacOS/Example") {
			t.Errorf("primary launcher was signed directly")
		}
		if strings.Contains(p, ".dSYM/Contents/") {
			t.Errorf("debug symbols were signed: %s", p)
		}
	}

	// every file signature is preceded by a signature removal
	calls := runner.CallsTo("codesign")
	for i, c := range calls {
		if !commandtest.Has(c.Args, "-s") || i >= len(calls)-4 {
			continue
		}
		prev := calls[i-1]
		if !commandtest.Has(prev.Args, "--remove-signature") || prev.Args[len(prev.Args)-1] != c.Args[len(c.Args)-1] {
			t.Errorf("signature of %s not preceded by --remove-signature", c.Args[len(c.Args)-1])
		}
		if !prev.Opts.Quiet {
			t.Errorf("--remove-signature should run quietly")
		}
	}
}

func TestTreeSigner_RestoresPermissions(t *testing.T) {
	root := makeBundle(t, defaultLayout)
	lib := filepath.Join(root, "Contents/app/libnative.dylib")
	helper := filepath.Join(root, "Contents/runtime/Contents/Home/lib/jspawnhelper")

	var writableWhileSigning bool
	runner := &commandtest.Runner{Handle: func(c commandtest.Call) commandtest.Reply {
		if commandtest.Has(c.Args, "-s") && c.Args[len(c.Args)-1] == lib {
			info, err := os.Stat(lib)
			writableWhileSigning = err == nil && info.Mode()&0o200 != 0
		}
		return commandtest.Reply{}
	}}
	cfg, _ := NewConfigBuilder().Build()
	if err := NewTreeSigner(NewSigner(runner, cfg, nil), nil).Sign(context.Background(), exampleBundle(root)); err != nil {
		t.Fatalf("Sign() error: %v", err)
	}

	if !writableWhileSigning {
		t.Error("read-only library should be writable while it is signed")
	}
	for path, want := range map[string]os.FileMode{lib: 0o444, helper: 0o555} {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatal(err)
		}
		if info.Mode().Perm() != want {
			t.Errorf("%s mode = %v, want %v", filepath.Base(path), info.Mode().Perm(), want)
		}
	}
}

func TestTreeSigner_RestoresPermissionsOnFailure(t *testing.T) {
	root := makeBundle(t, defaultLayout)
	lib := filepath.Join(root, "Contents/app/libnative.dylib")

	runner := &commandtest.Runner{Handle: func(c commandtest.Call) commandtest.Reply {
		if commandtest.Has(c.Args, "-s") && c.Args[len(c.Args)-1] == lib {
			return commandtest.Reply{ExitCode: 1, Output: []string{lib + ": errSecInternalComponent"}}
		}
		return commandtest.Reply{}
	}}
	cfg, _ := NewConfigBuilder().Build()
	tree := NewTreeSigner(NewSigner(runner, cfg, nil), nil)
	tree.LookPath = func(string) (string, error) { return "/usr/bin/codesign", nil }

	err := tree.Sign(context.Background(), exampleBundle(root))
	var signErr *SignError
	if !errors.As(err, &signErr) {
		t.Fatalf("expected SignError, got %v", err)
	}
	if signErr.Path != lib || len(signErr.Output) != 1 {
		t.Errorf("unexpected SignError %+v", signErr)
	}
	if len(signErr.Hints) != 0 {
		t.Errorf("unexpected hints %q", signErr.Hints)
	}

	info, err := os.Stat(lib)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o444 {
		t.Errorf("mode = %v after failed signing, want 0444", info.Mode().Perm())
	}
	if got := signedPaths(runner); got[len(got)-1] != lib {
		t.Errorf("signing should stop at the first failure, last was %s", got[len(got)-1])
	}
}

func TestTreeSigner_Hints(t *testing.T) {
	root := makeBundle(t, map[string]os.FileMode{"Contents/MacOS/Example": 0o755})
	runner := &commandtest.Runner{Handle: func(c commandtest.Call) commandtest.Reply {
		return commandtest.Reply{ExitCode: 1}
	}}
	cfg, _ := NewConfigBuilder().Build()
	tree := NewTreeSigner(NewSigner(runner, cfg, nil), nil)
	tree.LookPath = func(file string) (string, error) {
		if file == "xcrun" {
			return "", errors.New("not found")
		}
		return "/usr/bin/" + file, nil
	}

	b := exampleBundle(root)
	b.ExtraContent = []string{"/src/extra"}
	err := tree.Sign(context.Background(), b)
	var signErr *SignError
	if !errors.As(err, &signErr) {
		t.Fatalf("expected SignError, got %v", err)
	}
	if signErr.Path != root {
		t.Errorf("failing path = %s, want bundle root", signErr.Path)
	}
	if len(signErr.Hints) != 2 {
		t.Fatalf("expected 2 hints, got %q", signErr.Hints)
	}
	if !strings.Contains(signErr.Hints[0], "/src/extra") || !strings.Contains(signErr.Hints[1], "xcrun") {
		t.Errorf("unexpected hints %q", signErr.Hints)
	}
}

func TestTreeSigner_DanglingFramework(t *testing.T) {
	root := makeBundle(t, map[string]os.FileMode{
		"Contents/MacOS/Example":                0o755,
		"Contents/Frameworks/Foo.framework/Foo": 0o755,
	})
	gone := filepath.Join(root, "Contents", "Frameworks", "Gone.framework")
	if err := os.Symlink(filepath.Join(root, "missing"), gone); err != nil {
		t.Fatal(err)
	}
	runner := &commandtest.Runner{}
	cfg, _ := NewConfigBuilder().Build()
	tree := NewTreeSigner(NewSigner(runner, cfg, nil), nil)

	err := tree.Sign(context.Background(), exampleBundle(root))
	if !errors.Is(err, ErrNoSigner) {
		t.Fatalf("Sign() error = %v, want ErrNoSigner", err)
	}
	if !strings.Contains(err.Error(), "Gone.framework") {
		t.Errorf("error should name the path, got %v", err)
	}
	for _, p := range signedPaths(runner) {
		if p == gone || p == root {
			t.Errorf("%s should not have been signed", p)
		}
	}
}

func TestTreeSigner_DanglingRuntime(t *testing.T) {
	root := makeBundle(t, map[string]os.FileMode{"Contents/MacOS/Example": 0o755})
	if err := os.Symlink(filepath.Join(root, "missing"), filepath.Join(root, "Contents", "runtime")); err != nil {
		t.Fatal(err)
	}
	runner := &commandtest.Runner{}
	cfg, _ := NewConfigBuilder().Build()
	tree := NewTreeSigner(NewSigner(runner, cfg, nil), nil)

	if err := tree.Sign(context.Background(), exampleBundle(root)); !errors.Is(err, ErrNoSigner) {
		t.Fatalf("Sign() error = %v, want ErrNoSigner", err)
	}
	if got := signedPaths(runner); len(got) != 0 {
		t.Errorf("nothing should be signed, got %q", got)
	}
}
