// SPDX-License-Identifier: MPL-2.0

// Package watch monitors a module source tree and fires a debounced callback
// when files that end up in a package change. The CLI's package --watch
// re-packages the module from that callback.
package watch
