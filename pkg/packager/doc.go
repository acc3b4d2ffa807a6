// SPDX-License-Identifier: MPL-2.0

// Package packager builds and opens module packages.
//
// A package is a container (see package container) whose payload is a zip
// archive holding manifest.json, the module's declared and conventional files,
// and a "signature" entry carrying the sealer's integrity tag. The payload is
// sealed when the package is encrypted.
//
// Package turns a module source directory into a package file. Open reverses
// it into an in-memory Payload that can be verified, inspected and extracted.
package packager
