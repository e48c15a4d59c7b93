// Package keychain talks to the macOS credential store through the security
// tool: it resolves keychain names to files, lists and exports certificates,
// imports credentials and temporarily extends the keychain search list.
package keychain

import (
	"os"
	"path/filepath"
)

// ResolvePath resolves a keychain name the way codesign and productbuild
// expect it. Absolute paths are returned unchanged. Otherwise the user's
// ~/Library/Keychains directory is checked for "<name>-db" (macOS 10.12+
// naming). When that file is missing but the login keychain still uses the
// legacy suffix-less name, the name is returned verbatim so the security tool
// resolves it itself. The "-db" path is the final fallback.
func ResolvePath(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return name
	}
	return resolvePath(home, name)
}

func resolvePath(home, name string) string {
	if name == "" {
		return ""
	}
	if filepath.IsAbs(name) {
		return name
	}

	dir := filepath.Join(home, "Library", "Keychains")
	dbPath := filepath.Join(dir, name+"-db")
	if fileExists(dbPath) {
		return dbPath
	}
	if fileExists(filepath.Join(dir, "login.keychain")) {
		return name
	}
	return dbPath
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func samePath(a, b string) bool {
	return filepath.Clean(a) == filepath.Clean(b)
}
