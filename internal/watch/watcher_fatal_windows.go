// SPDX-License-Identifier: MPL-2.0

//go:build windows

package watch

import (
	"errors"
	"syscall"
)

// isFatal reports handle exhaustion, an invalidated directory handle, or a
// failed notification buffer allocation.
func isFatal(err error) bool {
	return errors.Is(err, syscall.Errno(4)) ||
		errors.Is(err, syscall.Errno(6)) ||
		errors.Is(err, syscall.Errno(8))
}
