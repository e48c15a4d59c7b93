package codesign

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/blacktop/go-macho"
	"github.com/blacktop/go-macho/types"
)

// IsMachO reports whether path starts with a Mach-O or universal magic number.
func IsMachO(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	magic := make([]byte, 4)
	if _, err := io.ReadFull(f, magic); err != nil {
		return false
	}

	// MH_MAGIC_64 = 0xfeedfacf (little endian: cf fa ed fe)
	// MH_MAGIC    = 0xfeedface (little endian: ce fa ed fe)
	// FAT_MAGIC   = 0xcafebabe (big endian: ca fe ba be)
	// FAT_MAGIC_64 = 0xcafebabf (big endian: ca fe ba bf)
	return (magic[0] == 0xcf && magic[1] == 0xfa && magic[2] == 0xed && magic[3] == 0xfe) ||
		(magic[0] == 0xce && magic[1] == 0xfa && magic[2] == 0xed && magic[3] == 0xfe) ||
		(magic[0] == 0xca && magic[1] == 0xfe && magic[2] == 0xba && magic[3] == 0xbe) ||
		(magic[0] == 0xca && magic[1] == 0xfe && magic[2] == 0xba && magic[3] == 0xbf)
}

// Architectures returns the CPU architectures of a thin or universal Mach-O
// binary using installer names ("x86_64", "arm64").
func Architectures(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	m, err := macho.NewFile(bytes.NewReader(data))
	if err == nil {
		defer m.Close()
		return []string{archName(m.CPU)}, nil
	}

	// Try as fat binary
	fat, fatErr := macho.NewFatFile(bytes.NewReader(data))
	if fatErr != nil {
		return nil, fmt.Errorf("failed to parse Mach-O %s: %w", path, err)
	}
	defer fat.Close()

	var archs []string
	for _, arch := range fat.Arches {
		archs = appendArch(archs, archName(arch.CPU))
	}
	return archs, nil
}

func appendArch(archs []string, arch string) []string {
	for _, a := range archs {
		if a == arch {
			return archs
		}
	}
	return append(archs, arch)
}

func archName(cpu types.CPU) string {
	switch cpu {
	case types.CPUAmd64:
		return "x86_64"
	case types.CPUArm64:
		return "arm64"
	}
	return strings.ToLower(cpu.String())
}
