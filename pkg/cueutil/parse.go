// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// DefaultMaxDocumentSize caps the size of a document accepted for validation (5MB).
const DefaultMaxDocumentSize int64 = 5 * 1024 * 1024

type (
	// Schema pairs embedded CUE source with the definition documents are unified against.
	Schema struct {
		source     string
		definition string
	}

	// Option configures Decode and Validate.
	Option func(*options)

	options struct {
		maxSize  int64
		concrete bool
		filename string
	}
)

// NewSchema returns a Schema for the given CUE source and root definition (e.g. "#Manifest").
func NewSchema(source, definition string) Schema {
	return Schema{source: source, definition: definition}
}

// Definition returns the root definition path.
func (s Schema) Definition() string { return s.definition }

// WithMaxSize overrides DefaultMaxDocumentSize.
func WithMaxSize(size int64) Option {
	return func(o *options) { o.maxSize = size }
}

// WithConcrete controls whether every field must be concrete after unification.
// Configuration files use false because all of their fields are optional.
func WithConcrete(concrete bool) Option {
	return func(o *options) { o.concrete = concrete }
}

// WithFilename sets the name reported in error messages.
func WithFilename(name string) Option {
	return func(o *options) { o.filename = name }
}

// Decode validates data against the schema and decodes the unified value into T.
func Decode[T any](schema Schema, data []byte, opts ...Option) (*T, error) {
	unified, o, err := unify(schema, data, opts)
	if err != nil {
		return nil, err
	}

	var out T
	if err := unified.Decode(&out); err != nil {
		return nil, FormatError(err, o.filename)
	}
	return &out, nil
}

// DecodeMap validates data against the schema and returns the unified value as a map.
// Used when the caller merges the document into another configuration source.
func DecodeMap(schema Schema, data []byte, opts ...Option) (map[string]any, error) {
	unified, o, err := unify(schema, data, opts)
	if err != nil {
		return nil, err
	}

	var out map[string]any
	if err := unified.Decode(&out); err != nil {
		return nil, FormatError(err, o.filename)
	}
	return out, nil
}

// Validate checks data against the schema without decoding it.
func Validate(schema Schema, data []byte, opts ...Option) error {
	_, _, err := unify(schema, data, opts)
	return err
}

func unify(schema Schema, data []byte, opts []Option) (cue.Value, options, error) {
	o := options{maxSize: DefaultMaxDocumentSize, concrete: true, filename: "<input>"}
	for _, opt := range opts {
		opt(&o)
	}

	if err := CheckSize(data, o.maxSize, o.filename); err != nil {
		return cue.Value{}, o, err
	}

	ctx := cuecontext.New()

	schemaValue := ctx.CompileString(schema.source)
	if schemaValue.Err() != nil {
		return cue.Value{}, o, fmt.Errorf("internal error: failed to compile schema: %w", schemaValue.Err())
	}

	root := schemaValue.LookupPath(cue.ParsePath(schema.definition))
	if root.Err() != nil {
		return cue.Value{}, o, fmt.Errorf("internal error: schema definition %s not found: %w", schema.definition, root.Err())
	}

	doc := ctx.CompileBytes(data, cue.Filename(o.filename))
	if doc.Err() != nil {
		return cue.Value{}, o, FormatError(doc.Err(), o.filename)
	}

	unified := root.Unify(doc)
	if err := unified.Validate(cue.Concrete(o.concrete)); err != nil {
		return cue.Value{}, o, FormatError(err, o.filename)
	}
	return unified, o, nil
}

// CheckSize rejects documents larger than maxSize bytes.
func CheckSize(data []byte, maxSize int64, filename string) error {
	if int64(len(data)) > maxSize {
		return fmt.Errorf("%s: document size %d bytes exceeds maximum %d bytes", filename, len(data), maxSize)
	}
	return nil
}
