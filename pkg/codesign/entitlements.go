package codesign

import (
	"fmt"
	"os"
	"strings"

	"howett.net/plist"
)

// Entitlement keys used by the packager.
const (
	EntitlementAppSandbox        = "com.apple.security.app-sandbox"
	EntitlementAllowJIT          = "com.apple.security.cs.allow-jit"
	EntitlementUnsignedExecMem   = "com.apple.security.cs.allow-unsigned-executable-memory"
	EntitlementDisableLibValid   = "com.apple.security.cs.disable-library-validation"
	EntitlementAllowDyldEnv      = "com.apple.security.cs.allow-dyld-environment-variables"
	EntitlementDebugger          = "com.apple.security.cs.debugger"
	EntitlementNetworkClient     = "com.apple.security.network.client"
	EntitlementApplicationID     = "com.apple.application-identifier"
	EntitlementTeamID            = "com.apple.developer.team-identifier"
	EntitlementFilesUserReadOnly = "com.apple.security.files.user-selected.read-only"
)

// DefaultEntitlements returns the entitlements applied when none are given.
// Applications for the App Store must be sandboxed; Developer ID builds run
// with hardened runtime and a bundled runtime needs JIT.
func DefaultEntitlements(appStore bool) map[string]interface{} {
	if appStore {
		return map[string]interface{}{
			EntitlementAppSandbox:        true,
			EntitlementFilesUserReadOnly: true,
			EntitlementNetworkClient:     true,
		}
	}
	return map[string]interface{}{
		EntitlementAllowJIT:        true,
		EntitlementUnsignedExecMem: true,
		EntitlementDisableLibValid: true,
		EntitlementAllowDyldEnv:    true,
		EntitlementDebugger:        true,
	}
}

// ExtractEntitlements extracts entitlements from a provisioning profile as XML plist bytes
func ExtractEntitlements(profile *ProvisioningProfile) ([]byte, error) {
	if profile.Entitlements == nil {
		return nil, fmt.Errorf("provisioning profile has no entitlements")
	}
	return EntitlementsToXML(profile.Entitlements)
}

// ApplicationIdentifierEntitlements returns entitlements with the App Store
// application identifier for bundleID set. A bundleID that already starts
// with the team ID is not prefixed again.
func ApplicationIdentifierEntitlements(entitlements map[string]interface{}, teamID, bundleID string) map[string]interface{} {
	updated := MergeEntitlements(entitlements, nil)
	if teamID == "" {
		return updated
	}

	appID := bundleID
	if !strings.HasPrefix(bundleID, teamID+".") {
		appID = fmt.Sprintf("%s.%s", teamID, bundleID)
	}
	updated[EntitlementApplicationID] = appID
	updated[EntitlementTeamID] = teamID
	return updated
}

// MergeEntitlements merges override entitlements into base entitlements
// Override values take precedence
func MergeEntitlements(base, override map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(base)+len(override))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	return merged
}

// EntitlementsToXML converts entitlements map to XML plist bytes
func EntitlementsToXML(entitlements map[string]interface{}) ([]byte, error) {
	data, err := plist.MarshalIndent(entitlements, plist.XMLFormat, "\t")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal entitlements to XML: %w", err)
	}
	return data, nil
}

// ParseEntitlementsXML parses XML plist entitlements into a map
func ParseEntitlementsXML(data []byte) (map[string]interface{}, error) {
	var entitlements map[string]interface{}
	_, err := plist.Unmarshal(data, &entitlements)
	if err != nil {
		return nil, fmt.Errorf("failed to parse entitlements XML: %w", err)
	}
	return entitlements, nil
}

// WriteEntitlements writes entitlements as an XML plist file.
func WriteEntitlements(path string, entitlements map[string]interface{}) error {
	data, err := EntitlementsToXML(entitlements)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write entitlements: %w", err)
	}
	return nil
}

// ReadEntitlements reads an XML plist entitlements file.
func ReadEntitlements(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read entitlements: %w", err)
	}
	return ParseEntitlementsXML(data)
}
