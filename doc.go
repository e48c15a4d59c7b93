// Package main provides the go-macpack CLI, which packages macOS
// applications into signed bundles, disk images and installer packages.
//
// The building blocks live in the pkg subpackages:
//
//	import "github.com/aluedeke/go-macpack/pkg/packager"
//
// # Installation
//
//	go install github.com/aluedeke/go-macpack@latest
package main
