// SPDX-License-Identifier: MPL-2.0

// Package runner executes installed modules. It resolves the module through
// the store, builds the per-call execution context, and drives the module's
// chain through the chain executor with the module's defaults applied.
package runner
