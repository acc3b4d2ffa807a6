// SPDX-License-Identifier: MPL-2.0

// Package capability defines the uniform call contract between the chain
// executor and capability implementations, and the explicit Registry that
// maps capability names to constructors.
//
// A Capability exposes a single Invoke entry point backed by a method table,
// so an unknown method is a typed error rather than a lookup panic. Whether a
// capability receives the per-execution ExecutionContext is declared on its
// Registration.
package capability
