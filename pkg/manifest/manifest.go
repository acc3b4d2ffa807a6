// SPDX-License-Identifier: MPL-2.0

package manifest

import (
	"fmt"
	"maps"
	"regexp"
	"slices"

	"github.com/alienmod/alienmod/pkg/platform"
)

const (
	// FileName is the manifest's name at the root of a module source tree and payload.
	FileName = "manifest.json"

	// DefaultVersion is used when a manifest omits its version.
	DefaultVersion = "1.0.0"

	// ExecutionServer modules run only on the host.
	ExecutionServer ExecutionMode = "server"
	// ExecutionBrowser modules can run entirely client-side.
	ExecutionBrowser ExecutionMode = "browser"
	// ExecutionHybrid modules may run on either side.
	ExecutionHybrid ExecutionMode = "hybrid"

	// LicensePreview grants a limited trial by days or executions.
	LicensePreview LicenseType = "preview"
	// LicenseLease is a recurring rental and the default.
	LicenseLease LicenseType = "lease"
	// LicensePurchase is a one-off perpetual license.
	LicensePurchase LicenseType = "purchase"
	// LicenseFree modules carry no charge.
	LicenseFree LicenseType = "free"
)

// idPattern mirrors the schema's id constraint: a filesystem-safe token.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

type (
	// ExecutionMode says where a module's chain may run.
	ExecutionMode string

	// Category is the marketplace business-domain tag.
	Category string

	// LicenseType is the pricing model of a module.
	LicenseType string

	// ChainStep is one capability call in a module's chain.
	ChainStep struct {
		// Name identifies the step in parallel results and logs. Optional.
		Name string `json:"name,omitempty"`
		// Module is the capability name resolved through the registry at run time.
		Module string `json:"module"`
		// Method is resolved on the capability instance at call time.
		Method string `json:"method"`
		// Config holds static arguments; upstream result keys take precedence.
		Config map[string]any `json:"config,omitempty"`
		// InputMapping copies result keys into call arguments: argument name -> result key.
		InputMapping map[string]string `json:"input_mapping,omitempty"`
	}

	// UIField is one input of the module's generated form.
	UIField struct {
		Name     string   `json:"name"`
		Type     string   `json:"type"`
		Label    string   `json:"label"`
		Required bool     `json:"required,omitempty"`
		Default  any      `json:"default,omitempty"`
		Options  []string `json:"options,omitempty"`
		Accept   string   `json:"accept,omitempty"`
	}

	// UIDefinition describes the form and output presentation of a module.
	UIDefinition struct {
		FormFields []UIField `json:"form_fields"`
		OutputType string    `json:"output_type"`
		Theme      string    `json:"theme,omitempty"`
	}

	// Pricing is the marketplace license terms.
	Pricing struct {
		LicenseType       LicenseType `json:"license_type"`
		Price             float64     `json:"price"`
		Currency          string      `json:"currency"`
		PreviewDays       int         `json:"preview_days"`
		PreviewExecutions int         `json:"preview_executions"`
	}

	// Requirements lists host prerequisites checked before a module runs.
	Requirements struct {
		RequiresHAL     bool     `json:"requires_hal"`
		RequiresGPU     bool     `json:"requires_gpu"`
		MinMemoryMB     int      `json:"min_memory_mb"`
		Platforms       []string `json:"platforms,omitempty"`
		CompatibleAuras []string `json:"compatible_auras"`
		// Packages are executables that must be resolvable on PATH.
		Packages       []string `json:"packages,omitempty"`
		WASMCompatible bool     `json:"wasm_compatible"`
	}

	// Author identifies who published the module.
	Author struct {
		Name         string `json:"name"`
		Email        string `json:"email,omitempty"`
		Organization string `json:"organization,omitempty"`
		Website      string `json:"website,omitempty"`
	}

	// Manifest is the parsed manifest.json of a module.
	Manifest struct {
		ID              string            `json:"id"`
		Name            string            `json:"name"`
		Version         string            `json:"version"`
		Description     string            `json:"description"`
		LongDescription string            `json:"long_description,omitempty"`
		Category        Category          `json:"category"`
		Tags            []string          `json:"tags"`
		ExecutionMode   ExecutionMode     `json:"execution_mode"`
		Primitives      []ChainStep       `json:"primitives"`
		StopOnFailure   bool              `json:"stop_on_failure,omitempty"`
		UI              UIDefinition      `json:"ui"`
		Icon            string            `json:"icon,omitempty"`
		Screenshots     []string          `json:"screenshots,omitempty"`
		Pricing         Pricing           `json:"pricing"`
		Requirements    Requirements      `json:"requirements"`
		Author          Author            `json:"author"`
		Files           map[string]string `json:"files"`
		CreatedAt       string            `json:"created_at,omitempty"`
		UpdatedAt       string            `json:"updated_at,omitempty"`

		// FileHashes and PackagedAt are injected by the packager.
		FileHashes map[string]string `json:"file_hashes,omitempty"`
		PackagedAt string            `json:"packaged_at,omitempty"`
	}
)

// ValidID reports whether id is a filesystem-safe module identifier on every
// supported platform.
func ValidID(id string) bool {
	return idPattern.MatchString(id) && !platform.IsWindowsReservedName(id)
}

// SupportsBrowser reports whether the mode allows client-side execution.
func (m ExecutionMode) SupportsBrowser() bool {
	return m == ExecutionBrowser || m == ExecutionHybrid
}

// Label returns the step's display name, falling back to module.method.
func (s ChainStep) Label() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Module + "." + s.Method
}

// Clone returns a deep-enough copy: config and mapping maps are copied one level.
func (s ChainStep) Clone() ChainStep {
	out := s
	if s.Config != nil {
		out.Config = maps.Clone(s.Config)
	}
	if s.InputMapping != nil {
		out.InputMapping = maps.Clone(s.InputMapping)
	}
	return out
}

// Executable reports an error when the manifest has no chain to run.
func (m *Manifest) Executable() error {
	if len(m.Primitives) == 0 {
		return &ManifestError{ModuleID: m.ID, Issues: []string{"primitives: chain is empty"}}
	}
	return nil
}

// Chain returns a copy of the capability chain.
func (m *Manifest) Chain() []ChainStep {
	out := make([]ChainStep, len(m.Primitives))
	for i, s := range m.Primitives {
		out[i] = s.Clone()
	}
	return out
}

// DeclaredFiles returns the relative paths of the files map, sorted.
func (m *Manifest) DeclaredFiles() []string {
	return slices.Sorted(maps.Values(m.Files))
}

// String implements fmt.Stringer.
func (m *Manifest) String() string {
	return fmt.Sprintf("%s@%s", m.ID, m.Version)
}
