// SPDX-License-Identifier: MPL-2.0

// Package store manages the installed-modules directory.
//
// Each installed module lives in <root>/<id> as the unpacked payload of its
// package. Install extracts into a staging directory inside the root and
// swaps it into place with renames, so a failure never leaves a partially
// extracted tree under the module's id. Install and uninstall of the same id
// are serialized within one Store; coordinating several processes that share
// a root is the caller's responsibility.
//
// Loaded manifests are cached per Store. Uninstall evicts synchronously,
// Install refreshes, and Load repopulates lazily.
package store
