// SPDX-License-Identifier: MPL-2.0

package manifest

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidManifest is the sentinel wrapped by every ManifestError.
var ErrInvalidManifest = errors.New("invalid manifest")

// ManifestError reports a manifest that fails schema validation or a consistency check.
type ManifestError struct {
	File     string
	ModuleID string
	Issues   []string
	// Err is the underlying decode or schema error, if any.
	Err error
}

// Error implements the error interface.
func (e *ManifestError) Error() string {
	subject := e.File
	if subject == "" {
		subject = FileName
	}
	if e.ModuleID != "" {
		subject = fmt.Sprintf("%s (module %q)", subject, e.ModuleID)
	}

	switch {
	case len(e.Issues) == 1:
		return fmt.Sprintf("%s: %s", subject, e.Issues[0])
	case len(e.Issues) > 1:
		return fmt.Sprintf("%s: %d problems:\n  %s", subject, len(e.Issues), strings.Join(e.Issues, "\n  "))
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", subject, e.Err)
	default:
		return subject + ": " + ErrInvalidManifest.Error()
	}
}

// Unwrap returns both the sentinel and the underlying cause.
func (e *ManifestError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrInvalidManifest, e.Err}
	}
	return []error{ErrInvalidManifest}
}
