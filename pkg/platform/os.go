// SPDX-License-Identifier: MPL-2.0

package platform

import (
	"runtime"
	"slices"
)

// OS names in runtime.GOOS form.
const (
	Windows = "windows"
	Darwin  = "darwin"
	Linux   = "linux"
	FreeBSD = "freebsd"
)

// Supported lists the platforms a manifest may name in requirements.platforms.
var Supported = []string{Linux, Darwin, Windows, FreeBSD}

// Current returns the host platform.
func Current() string { return runtime.GOOS }

// IsSupported reports whether name is one of Supported.
func IsSupported(name string) bool {
	return slices.Contains(Supported, name)
}
