// SPDX-License-Identifier: MPL-2.0

// Package manifest defines the module manifest: the manifest.json document
// that describes a module's identity, its capability chain, UI shape,
// pricing, requirements and authorship.
//
// Manifests are pure data. [Parse] validates a document against the embedded
// CUE schema, fills defaults and checks the invariants the schema cannot
// express (semantic version syntax, unique step names, relative file paths).
// A packaged manifest additionally carries the injected file_hashes map and
// packaged_at timestamp.
package manifest
