// SPDX-License-Identifier: MPL-2.0

package chain

import (
	"errors"
	"fmt"

	"github.com/alienmod/alienmod/internal/capability"
	"github.com/alienmod/alienmod/pkg/manifest"
)

var (
	// ErrBusinessFailure is the sentinel wrapped by BusinessFailureError.
	ErrBusinessFailure = errors.New("step reported failure")
	// ErrPanic is wrapped when a capability panics during a call.
	ErrPanic = errors.New("capability panicked")
)

type (
	// StepError aborts a chain at one step.
	StepError struct {
		Index int
		Step  manifest.ChainStep
		Err   error
	}

	// BusinessFailureError aborts a chain run with stop-on-failure when a step
	// returns success=false.
	BusinessFailureError struct {
		Index  int
		Step   manifest.ChainStep
		Reason string
		Result capability.Result
	}
)

// Error implements the error interface.
func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s): %v", e.Index, e.Step.Label(), e.Err)
}

// Unwrap returns the underlying cause.
func (e *StepError) Unwrap() error { return e.Err }

// Error implements the error interface.
func (e *BusinessFailureError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("step %d (%s): %s", e.Index, e.Step.Label(), ErrBusinessFailure)
	}
	return fmt.Sprintf("step %d (%s): %s: %s", e.Index, e.Step.Label(), ErrBusinessFailure, e.Reason)
}

// Unwrap returns ErrBusinessFailure for errors.Is compatibility.
func (e *BusinessFailureError) Unwrap() error { return ErrBusinessFailure }
