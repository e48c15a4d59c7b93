package codesign

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoSigner is returned for paths that are neither files, executables nor
// directories, e.g. dangling symlinks.
var ErrNoSigner = errors.New("no signer for path")

// SignError is a failed signing tool invocation
type SignError struct {
	Path string
	// Output is the captured output of the signing tool.
	Output []string
	// Hints are likely causes to show the operator.
	Hints []string
	Err   error
}

func (e *SignError) Error() string {
	msg := fmt.Sprintf("failed to sign %s: %v", e.Path, e.Err)
	if len(e.Hints) > 0 {
		msg += " (" + strings.Join(e.Hints, "; ") + ")"
	}
	return msg
}

func (e *SignError) Unwrap() error { return e.Err }
