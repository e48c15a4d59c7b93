// Package certs finds the signing certificate to use for an operation.
//
// Certificates are discovered in the macOS credential store, matched by the
// Subject Common Name against a Selector (a prioritized list of name prefixes
// such as "Developer ID Application: " combined with a team name) or by
// SHA-1 fingerprint, and checked for expiry.
//
//	resolver := certs.NewResolver(keychain.NewStore(runner), logger)
//	sel, _ := certs.StandardSelector(certs.PurposeApp, false, "Example Corp (ABCDE12345)")
//	id, err := resolver.Resolve(ctx, certs.Request{Selector: sel})
//	if errors.Is(err, certs.ErrExpired) {
//	    // renew the certificate
//	}
package certs
