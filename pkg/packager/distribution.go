package packager

import (
	"encoding/xml"
	"fmt"
	"os"
	"strings"
)

// distribution is the productbuild distribution file
type distribution struct {
	XMLName        xml.Name             `xml:"installer-gui-script"`
	MinSpecVersion string               `xml:"minSpecVersion,attr"`
	Title          string               `xml:"title"`
	License        *distributionFile    `xml:"license,omitempty"`
	Options        distributionOptions  `xml:"options"`
	Domains        distributionDomains  `xml:"domains"`
	Outline        distributionOutline  `xml:"choices-outline"`
	Choices        []distributionChoice `xml:"choice"`
	PkgRefs        []distributionPkgRef `xml:"pkg-ref"`
}

type distributionFile struct {
	File string `xml:"file,attr"`
}

type distributionOptions struct {
	Customize         string `xml:"customize,attr"`
	RequireScripts    bool   `xml:"require-scripts,attr"`
	HostArchitectures string `xml:"hostArchitectures,attr,omitempty"`
}

type distributionDomains struct {
	EnableAnywhere        bool `xml:"enable_anywhere,attr"`
	EnableCurrentUserHome bool `xml:"enable_currentUserHome,attr"`
	EnableLocalSystem     bool `xml:"enable_localSystem,attr"`
}

type distributionOutline struct {
	Line distributionLine `xml:"line"`
}

type distributionLine struct {
	Choice string             `xml:"choice,attr"`
	Lines  []distributionLine `xml:"line"`
}

type distributionChoice struct {
	ID      string               `xml:"id,attr"`
	Visible *bool                `xml:"visible,attr,omitempty"`
	Title   string               `xml:"title,attr,omitempty"`
	PkgRefs []distributionPkgRef `xml:"pkg-ref"`
}

// distributionPkgRef is either a reference inside a choice (ID only) or the
// top-level declaration naming the package file.
type distributionPkgRef struct {
	ID           string `xml:"id,attr"`
	Version      string `xml:"version,attr,omitempty"`
	OnConclusion string `xml:"onConclusion,attr,omitempty"`
	File         string `xml:",chardata"`
}

// distributionFor describes the sub-packages built so far as one default
// choice.
func distributionFor(s *BuildState) *distribution {
	hidden := false
	d := &distribution{
		MinSpecVersion: "1",
		Title:          s.App.Name,
		Options: distributionOptions{
			Customize:         "never",
			HostArchitectures: strings.Join(launcherArchitectures(s), ","),
		},
		Domains: distributionDomains{EnableLocalSystem: true},
		Outline: distributionOutline{Line: distributionLine{Choice: "default"}},
		Choices: []distributionChoice{{ID: "default"}},
	}
	for _, p := range s.pkg.packages {
		d.Outline.Line.Lines = append(d.Outline.Line.Lines, distributionLine{Choice: p.ID})
		d.Choices = append(d.Choices, distributionChoice{
			ID:      p.ID,
			Visible: &hidden,
			PkgRefs: []distributionPkgRef{{ID: p.ID}},
		})
		d.PkgRefs = append(d.PkgRefs, distributionPkgRef{
			ID:           p.ID,
			Version:      p.Version,
			OnConclusion: "none",
			File:         p.File,
		})
	}
	return d
}

func writeDistribution(path string, d *distribution) error {
	data, err := xml.MarshalIndent(d, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to marshal distribution file: %w", err)
	}
	data = append([]byte(xml.Header), data...)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write distribution file: %w", err)
	}
	return nil
}
