// SPDX-License-Identifier: MPL-2.0

// Package issue provides actionable errors and Markdown guidance for the
// failure classes a user can fix: bad keys, tampered packages, invalid
// manifests, missing modules and capabilities, and unmet host requirements.
package issue
