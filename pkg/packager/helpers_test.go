package packager

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"howett.net/plist"

	"github.com/aluedeke/go-macpack/pkg/command"
	"github.com/aluedeke/go-macpack/pkg/command/commandtest"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeTools simulates the external tools on the local filesystem. A disk
// image is a directory next to the image path; attaching copies it to the
// mount point and detaching copies it back.
type fakeTools struct {
	t *testing.T

	mu sync.Mutex
	// failSrcfolder makes that many "hdiutil create -srcfolder" calls fail.
	failSrcfolder int
	// attached is called with the mount point after "hdiutil attach".
	attached func(mountPoint string)
	// detach overrides the result of "hdiutil detach".
	detach func(mountPoint string, force bool) commandtest.Reply
	// certs is the PEM output of "security find-certificate".
	certs map[string][]byte
	// volumeName is the volume name of attached images.
	volumeName string
	mounts     map[string]string
}

func newFakeTools(t *testing.T) *fakeTools {
	return &fakeTools{t: t, certs: map[string][]byte{}, mounts: map[string]string{}}
}

func backing(image string) string { return image + ".contents" }

func (f *fakeTools) runner() *commandtest.Runner {
	return &commandtest.Runner{Handle: f.handle}
}

func (f *fakeTools) handle(call commandtest.Call) commandtest.Reply {
	f.mu.Lock()
	defer f.mu.Unlock()

	args := call.Args
	switch filepath.Base(args[0]) {
	case "hdiutil":
		return f.hdiutil(args[1:])
	case "pkgbuild":
		if out := commandtest.Value(args, "--analyze"); out != "" {
			f.write(out, `<?xml version="1.0" encoding="UTF-8"?>
<plist version="1.0"><array><dict>
<key>BundleIsRelocatable</key><true/>
<key>RootRelativeBundlePath</key><string>Example.app</string>
</dict></array></plist>`)
			return commandtest.Reply{}
		}
		f.write(args[len(args)-1], "pkg")
	case "productbuild":
		f.write(args[len(args)-1], "product")
	case "security":
		if args[1] == "find-certificate" {
			name := commandtest.Value(args, "-c")
			var out []string
			for cn, data := range f.certs {
				if strings.Contains(cn, name) {
					out = append(out, command.SplitLines(string(data))...)
				}
			}
			if len(out) == 0 {
				return commandtest.Reply{ExitCode: 44}
			}
			return commandtest.Reply{Output: out}
		}
	}
	return commandtest.Reply{}
}

func (f *fakeTools) hdiutil(args []string) commandtest.Reply {
	switch args[0] {
	case "create":
		image := args[len(args)-5]
		if src := commandtest.Value(args, "-srcfolder"); src != "" {
			if f.failSrcfolder > 0 {
				f.failSrcfolder--
				return commandtest.Reply{ExitCode: 1, Output: []string{"hdiutil: create failed - Operation not permitted"}}
			}
			require.NoError(f.t, copyTree(src, backing(image), nil))
		} else {
			require.NoError(f.t, os.MkdirAll(backing(image), 0o755))
		}
		f.volumeName = commandtest.Value(args, "-volname")
		f.write(image, "image")
	case "attach":
		mountPoint := filepath.Join(commandtest.Value(args, "-mountroot"), f.volumeName)
		require.NoError(f.t, copyTree(backing(args[1]), mountPoint, nil))
		f.mounts[mountPoint] = args[1]
		if f.attached != nil {
			f.attached(mountPoint)
		}
	case "detach":
		force := commandtest.Has(args, "-force")
		mountPoint := args[len(args)-1]
		if f.detach != nil {
			if reply := f.detach(mountPoint, force); reply.ExitCode != 0 {
				return reply
			}
		}
		if image, ok := f.mounts[mountPoint]; ok {
			require.NoError(f.t, os.RemoveAll(backing(image)))
			require.NoError(f.t, copyTree(mountPoint, backing(image), nil))
			delete(f.mounts, mountPoint)
		}
		require.NoError(f.t, os.RemoveAll(mountPoint))
	case "convert":
		out := commandtest.Value(args, "-o")
		require.NoError(f.t, copyTree(backing(args[1]), backing(out), nil))
		f.write(out, "udzo")
	}
	return commandtest.Reply{}
}

func (f *fakeTools) write(path, content string) {
	require.NoError(f.t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(f.t, os.WriteFile(path, []byte(content), 0o644))
}

// addCert adds a certificate named cn valid until notAfter to the store.
func (f *fakeTools) addCert(cn string, notAfter time.Time) *x509.Certificate {
	cert, data := newCert(f.t, cn, notAfter)
	f.certs[cn] = data
	return cert
}

func newCert(t *testing.T, cn string, notAfter time.Time) (*x509.Certificate, []byte) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    testNow.Add(-365 * 24 * time.Hour),
		NotAfter:     notAfter,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

// writeFile creates a file with content below dir.
func writeFile(t *testing.T, dir, rel, content string, mode os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), mode))
	return path
}

// testApp returns an application with a launcher and some content.
func testApp(t *testing.T) Application {
	t.Helper()
	src := t.TempDir()
	input := filepath.Join(src, "input")
	writeFile(t, input, "Example.jar", "jar", 0o644)
	writeFile(t, input, "lib/libnative.dylib", "dylib", 0o644)
	return Application{
		Name:       "Example",
		Identifier: "com.example.app",
		Version:    "1.2.3",
		Launcher:   writeFile(t, src, "launcher", "#!/bin/sh\n", 0o755),
		Input:      input,
	}
}

func testEnv(t *testing.T, runner command.Runner) *Env {
	t.Helper()
	return &Env{
		WorkDir:   t.TempDir(),
		OutputDir: t.TempDir(),
		Runner:    runner,
		Retry:     command.RetryPolicy{MaxAttempts: 3},
		Now:       func() time.Time { return testNow },
	}
}

// relFiles lists the regular files below root relative to it.
func relFiles(t *testing.T, root string) []string {
	t.Helper()
	var files []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			rel, _ := filepath.Rel(root, path)
			files = append(files, filepath.ToSlash(rel))
		}
		return nil
	})
	require.NoError(t, err)
	return files
}

func readPlistArray(t *testing.T, path string) []map[string]interface{} {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var a []map[string]interface{}
	_, err = plist.Unmarshal(data, &a)
	require.NoError(t, err)
	return a
}
