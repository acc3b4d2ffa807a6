// SPDX-License-Identifier: MPL-2.0

// Package cueutil validates structured documents against embedded CUE schemas.
//
// Both the module manifest (JSON) and the engine configuration file (CUE) go
// through the same three steps:
//
//  1. Compile the embedded schema and look up its root definition
//  2. Compile the document and unify it with the definition
//  3. Validate and decode into a Go value
//
// JSON is a subset of CUE, so manifest.json documents are compiled directly.
//
// # Usage
//
//	//go:embed manifest_schema.cue
//	var schemaSource string
//
//	var schema = cueutil.NewSchema(schemaSource, "#Manifest")
//
//	m, err := cueutil.Decode[Manifest](schema, data, cueutil.WithFilename("manifest.json"))
package cueutil
