// SPDX-License-Identifier: MPL-2.0

package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is the sentinel wrapped by NotFoundError.
	ErrNotFound = errors.New("module not installed")
	// ErrAlreadyInstalled is the sentinel wrapped by AlreadyInstalledError.
	ErrAlreadyInstalled = errors.New("module already installed")
)

type (
	// NotFoundError reports an id with no install directory.
	NotFoundError struct {
		ID string
	}

	// AlreadyInstalledError reports an install over an existing module without force.
	AlreadyInstalledError struct {
		ID      string
		Version string
		Path    string
	}
)

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("module %q is not installed", e.ID)
}

// Unwrap returns ErrNotFound for errors.Is compatibility.
func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// Error implements the error interface.
func (e *AlreadyInstalledError) Error() string {
	if e.Version == "" {
		return fmt.Sprintf("module %q is already installed at %s", e.ID, e.Path)
	}
	return fmt.Sprintf("module %q is already installed at %s (version %s)", e.ID, e.Path, e.Version)
}

// Unwrap returns ErrAlreadyInstalled for errors.Is compatibility.
func (e *AlreadyInstalledError) Unwrap() error { return ErrAlreadyInstalled }
