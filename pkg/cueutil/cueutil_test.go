// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"errors"
	"strings"
	"testing"
)

const testSchema = `
#Doc: {
	id:    string & =~"^[a-z]+$"
	count: *1 | int & >=0
	tags?: [...string]
}
`

type testDoc struct {
	ID    string   `json:"id"`
	Count int      `json:"count"`
	Tags  []string `json:"tags,omitempty"`
}

func TestDecode(t *testing.T) {
	t.Parallel()

	schema := NewSchema(testSchema, "#Doc")

	t.Run("applies schema defaults", func(t *testing.T) {
		t.Parallel()

		doc, err := Decode[testDoc](schema, []byte(`{"id": "abc"}`), WithFilename("doc.json"))
		if err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		if doc.ID != "abc" || doc.Count != 1 {
			t.Errorf("Decode() = %+v, want id=abc count=1", doc)
		}
	})

	t.Run("reports field path on violation", func(t *testing.T) {
		t.Parallel()

		_, err := Decode[testDoc](schema, []byte(`{"id": "ABC", "count": -1}`), WithFilename("doc.json"))
		if err == nil {
			t.Fatal("expected validation error")
		}
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("expected *ValidationError, got %T: %v", err, err)
		}
		if !strings.Contains(err.Error(), "doc.json") {
			t.Errorf("error should name the file, got %q", err)
		}
	})

	t.Run("rejects malformed documents", func(t *testing.T) {
		t.Parallel()

		if _, err := Decode[testDoc](schema, []byte(`{"id": `)); err == nil {
			t.Fatal("expected parse error")
		}
	})

	t.Run("enforces size limit", func(t *testing.T) {
		t.Parallel()

		_, err := Decode[testDoc](schema, []byte(`{"id": "abc"}`), WithMaxSize(4))
		if err == nil || !strings.Contains(err.Error(), "exceeds maximum") {
			t.Fatalf("expected size error, got %v", err)
		}
	})
}

func TestDecodeMapNonConcrete(t *testing.T) {
	t.Parallel()

	schema := NewSchema(`#Cfg: { workers?: int & >0, level?: "debug" | "info" }`, "#Cfg")
	m, err := DecodeMap(schema, []byte(`workers: 4`), WithConcrete(false), WithFilename("config.cue"))
	if err != nil {
		t.Fatalf("DecodeMap() error = %v", err)
	}
	if got, ok := m["workers"]; !ok || got == nil {
		t.Errorf("DecodeMap() missing workers: %v", m)
	}

	if err := Validate(schema, []byte(`workers: 0`), WithConcrete(false)); err == nil {
		t.Error("Validate() should reject workers: 0")
	}
}

func TestJSONPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		parts []string
		want  string
	}{
		{nil, ""},
		{[]string{"id"}, "id"},
		{[]string{"ui", "output_type"}, "ui.output_type"},
		{[]string{"primitives", "0", "method"}, "primitives[0].method"},
		{[]string{"ui", "form_fields", "2", "options", "1"}, "ui.form_fields[2].options[1]"},
	}

	for _, tt := range tests {
		if got := jsonPath(tt.parts); got != tt.want {
			t.Errorf("jsonPath(%v) = %q, want %q", tt.parts, got, tt.want)
		}
	}
}

func TestFormatErrorNonCUE(t *testing.T) {
	t.Parallel()

	if FormatError(nil, "x") != nil {
		t.Error("FormatError(nil) should be nil")
	}
	err := FormatError(errors.New("boom"), "manifest.json")
	if !strings.Contains(err.Error(), "manifest.json") || !strings.Contains(err.Error(), "boom") {
		t.Errorf("unexpected message %q", err)
	}
}
