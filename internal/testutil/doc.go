// SPDX-License-Identifier: MPL-2.0

// Package testutil provides fixtures for tests: module source trees, built
// packages, stub capabilities, and Must* helpers that fail the test instead
// of returning errors.
package testutil
