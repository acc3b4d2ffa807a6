// SPDX-License-Identifier: MPL-2.0

package manifest

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/alienmod/alienmod/pkg/cueutil"

	"golang.org/x/mod/semver"
)

//go:embed manifest_schema.cue
var schemaSource string

var schema = cueutil.NewSchema(schemaSource, "#Manifest")

// Parse validates a manifest document and returns it with defaults applied.
// JSON nulls are treated as absent fields.
func Parse(data []byte, filename string) (*Manifest, error) {
	if filename == "" {
		filename = FileName
	}
	if err := cueutil.CheckSize(data, cueutil.DefaultMaxDocumentSize, filename); err != nil {
		return nil, &ManifestError{File: filename, Err: err}
	}

	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &ManifestError{File: filename, Err: fmt.Errorf("malformed JSON: %w", err)}
	}
	if doc == nil {
		return nil, &ManifestError{File: filename, Issues: []string{"document must be a JSON object"}}
	}
	stripNulls(doc)
	applyDefaults(doc)

	normalized, err := json.Marshal(doc)
	if err != nil {
		return nil, &ManifestError{File: filename, Err: err}
	}
	if err := cueutil.Validate(schema, normalized, cueutil.WithFilename(filename)); err != nil {
		merr := &ManifestError{File: filename, Err: err}
		if id, ok := doc["id"].(string); ok {
			merr.ModuleID = id
		}
		var verr *cueutil.ValidationError
		if errors.As(err, &verr) {
			for _, issue := range verr.Issues {
				if issue.Path != "" {
					merr.Issues = append(merr.Issues, issue.Path+": "+issue.Message)
				} else {
					merr.Issues = append(merr.Issues, issue.Message)
				}
			}
		}
		return nil, merr
	}

	var m Manifest
	if err := json.Unmarshal(normalized, &m); err != nil {
		return nil, &ManifestError{File: filename, Err: err}
	}
	if err := m.validate(filename); err != nil {
		return nil, err
	}
	return &m, nil
}

// Load reads and parses a manifest. path may name the manifest file or a
// module directory containing manifest.json.
func Load(p string) (*Manifest, error) {
	if info, err := os.Stat(p); err == nil && info.IsDir() {
		p = filepath.Join(p, FileName)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	return Parse(data, p)
}

// Marshal renders the manifest as indented JSON with a trailing newline.
func Marshal(m *Manifest) ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Validate checks the invariants the schema cannot express.
func (m *Manifest) Validate() error {
	return m.validate("")
}

func (m *Manifest) validate(filename string) error {
	var issues []string

	if !ValidID(m.ID) {
		issues = append(issues, fmt.Sprintf("id: %q is not a filesystem-safe identifier", m.ID))
	}
	if !semver.IsValid("v" + m.Version) {
		issues = append(issues, fmt.Sprintf("version: %q is not a semantic version", m.Version))
	}

	seen := make(map[string]int, len(m.Primitives))
	for i, step := range m.Primitives {
		if step.Module == "" || step.Method == "" {
			issues = append(issues, fmt.Sprintf("primitives[%d]: module and method are required", i))
		}
		if step.Name == "" {
			continue
		}
		if prev, dup := seen[step.Name]; dup {
			issues = append(issues, fmt.Sprintf("primitives[%d].name: %q already used by primitives[%d]", i, step.Name, prev))
			continue
		}
		seen[step.Name] = i
	}

	for _, name := range sortedKeys(m.Files) {
		if !IsLocalPath(m.Files[name]) {
			issues = append(issues, fmt.Sprintf("files.%s: %q must be a relative path inside the module", name, m.Files[name]))
		}
	}

	if len(issues) > 0 {
		return &ManifestError{File: filename, ModuleID: m.ID, Issues: issues}
	}
	return nil
}

// IsLocalPath reports whether a slash-separated path stays within its root.
func IsLocalPath(p string) bool {
	if p == "" || path.IsAbs(p) {
		return false
	}
	return filepath.IsLocal(filepath.FromSlash(p))
}

func stripNulls(v any) {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			if child == nil {
				delete(t, k)
				continue
			}
			stripNulls(child)
		}
	case []any:
		for _, child := range t {
			stripNulls(child)
		}
	}
}

func applyDefaults(doc map[string]any) {
	setDefault(doc, "version", DefaultVersion)
	setDefault(doc, "execution_mode", string(ExecutionHybrid))
	setDefault(doc, "tags", []any{})
	setDefault(doc, "primitives", []any{})
	setDefault(doc, "files", map[string]any{})

	ui := object(doc, "ui")
	setDefault(ui, "form_fields", []any{})
	setDefault(ui, "output_type", "text")

	pricing := object(doc, "pricing")
	setDefault(pricing, "license_type", string(LicenseLease))
	setDefault(pricing, "price", 0)
	setDefault(pricing, "currency", "KES")
	setDefault(pricing, "preview_days", 7)
	setDefault(pricing, "preview_executions", 100)

	req := object(doc, "requirements")
	setDefault(req, "requires_hal", false)
	setDefault(req, "requires_gpu", false)
	setDefault(req, "min_memory_mb", 256)
	setDefault(req, "compatible_auras", []any{"default"})
	setDefault(req, "wasm_compatible", true)
}

func setDefault(doc map[string]any, key string, value any) {
	if doc == nil {
		return
	}
	if _, ok := doc[key]; !ok {
		doc[key] = value
	}
}

// object returns doc[key] as a map, creating it when absent. A present value of
// another type is left for the schema to reject.
func object(doc map[string]any, key string) map[string]any {
	switch v := doc[key].(type) {
	case map[string]any:
		return v
	case nil:
		m := map[string]any{}
		doc[key] = m
		return m
	default:
		return nil
	}
}
