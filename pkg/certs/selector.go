package certs

import (
	"fmt"
	"strings"
)

// Common Name prefixes of Apple issued signing certificates.
const (
	PrefixDeveloperIDApp       = "Developer ID Application: "
	PrefixDeveloperIDInstaller = "Developer ID Installer: "
	PrefixAppStoreApp          = "3rd Party Mac Developer Application: "
	PrefixAppleDistribution    = "Apple Distribution: "
	PrefixAppStoreInstaller    = "3rd Party Mac Developer Installer: "
	PrefixInstallerDistrib     = "Mac Installer Distribution: "
)

// Purpose is what a certificate is going to sign
type Purpose int

const (
	// PurposeApp signs executables and bundles.
	PurposeApp Purpose = iota
	// PurposeInstaller signs installer packages.
	PurposeInstaller
)

func (p Purpose) String() string {
	if p == PurposeInstaller {
		return "installer"
	}
	return "app"
}

// Pattern is one candidate certificate name: a prefix plus a team name
type Pattern struct {
	Prefix   string
	TeamName string
}

// Selector is an immutable, prioritized list of certificate name patterns.
type Selector struct {
	patterns []Pattern
}

// Patterns returns the selector's patterns in priority order.
func (s Selector) Patterns() []Pattern {
	return append([]Pattern(nil), s.patterns...)
}

// IsZero reports whether the selector has no patterns.
func (s Selector) IsZero() bool { return len(s.patterns) == 0 }

// Names returns the fully qualified names to match, in priority order. A
// team name that already carries one of the selector's prefixes is used
// verbatim; an empty team name matches by prefix alone.
func (s Selector) Names() []string {
	for _, p := range s.patterns {
		if p.Prefix != "" && p.TeamName != "" && strings.HasPrefix(p.TeamName, p.Prefix) {
			return []string{p.TeamName}
		}
	}
	var names []string
	seen := make(map[string]bool)
	for _, p := range s.patterns {
		name := p.Prefix + p.TeamName
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}

func (s Selector) String() string {
	return strings.Join(s.Names(), ", ")
}

// ExactName returns a selector matching exactly one certificate name.
func ExactName(name string) Selector {
	return Selector{patterns: []Pattern{{TeamName: name}}}
}

// SelectorBuilder assembles a Selector step by step
type SelectorBuilder struct {
	prefixes []string
	teamName string
}

// NewSelectorBuilder returns an empty builder.
func NewSelectorBuilder() *SelectorBuilder {
	return &SelectorBuilder{}
}

// Prefix appends prefixes in priority order.
func (b *SelectorBuilder) Prefix(prefixes ...string) *SelectorBuilder {
	b.prefixes = append(b.prefixes, prefixes...)
	return b
}

// TeamName sets the team (user) name following the prefix.
func (b *SelectorBuilder) TeamName(name string) *SelectorBuilder {
	b.teamName = strings.TrimSpace(name)
	return b
}

// Build validates the configuration and returns the Selector.
func (b *SelectorBuilder) Build() (Selector, error) {
	if len(b.prefixes) == 0 && b.teamName == "" {
		return Selector{}, fmt.Errorf("certificate selector needs at least one prefix or a team name")
	}
	if len(b.prefixes) == 0 {
		return ExactName(b.teamName), nil
	}
	patterns := make([]Pattern, 0, len(b.prefixes))
	for _, prefix := range b.prefixes {
		if strings.TrimSpace(prefix) == "" {
			return Selector{}, fmt.Errorf("empty certificate name prefix")
		}
		patterns = append(patterns, Pattern{Prefix: prefix, TeamName: b.teamName})
	}
	return Selector{patterns: patterns}, nil
}

// StandardPrefixes returns the certificate name prefixes for purpose.
func StandardPrefixes(purpose Purpose, appStore bool) []string {
	switch {
	case purpose == PurposeApp && !appStore:
		return []string{PrefixDeveloperIDApp}
	case purpose == PurposeApp:
		return []string{PrefixAppStoreApp, PrefixAppleDistribution}
	case !appStore:
		return []string{PrefixDeveloperIDInstaller}
	default:
		return []string{PrefixAppStoreInstaller, PrefixInstallerDistrib}
	}
}

// StandardSelector returns the selector Apple's distribution channels expect
// for purpose.
func StandardSelector(purpose Purpose, appStore bool, teamName string) (Selector, error) {
	return NewSelectorBuilder().Prefix(StandardPrefixes(purpose, appStore)...).TeamName(teamName).Build()
}
