// SPDX-License-Identifier: MPL-2.0

package packager

import (
	"errors"
	"fmt"
)

// ErrSignature is the sentinel wrapped by every SignatureError.
var ErrSignature = errors.New("package integrity check failed")

// SignatureError reports a payload whose integrity tag is missing or does not
// match its contents. Either the payload was tampered with or the key differs
// from the one used to package it.
type SignatureError struct {
	ModuleID string
	Reason   string
}

// Error implements the error interface.
func (e *SignatureError) Error() string {
	if e.ModuleID == "" {
		return fmt.Sprintf("%s: %s", ErrSignature, e.Reason)
	}
	return fmt.Sprintf("%s for module %q: %s", ErrSignature, e.ModuleID, e.Reason)
}

// Unwrap returns ErrSignature for errors.Is compatibility.
func (e *SignatureError) Unwrap() error { return ErrSignature }
