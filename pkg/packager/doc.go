// Package packager turns a built application into a signed macOS application
// bundle and, optionally, a disk image (.dmg) or installer package (.pkg).
//
// A build is described by a Config, usually loaded from YAML:
//
//	app:
//	  name: Example
//	  identifier: com.example.app
//	  version: 1.2.3
//	  launcher: build/Example
//	  input: build/app
//	package:
//	  type: dmg
//	signing:
//	  sign: true
//	  team_name: Example Corp (ABCDE12345)
//
// The work is a pipeline.Graph of tasks sharing a *BuildState. Application
// image tasks build Example.app; package tasks turn it into the artifact.
package packager
