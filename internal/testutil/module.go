// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alienmod/alienmod/pkg/manifest"
	"github.com/alienmod/alienmod/pkg/packager"
	"github.com/alienmod/alienmod/pkg/sealer"
)

// ModuleSource describes a module source tree to write.
type ModuleSource struct {
	// ID defaults to "test-module".
	ID string
	// Version defaults to manifest.DefaultVersion.
	Version string
	// Steps defaults to a single Echo.echo step.
	Steps []manifest.ChainStep
	// StopOnFailure sets the manifest flag.
	StopOnFailure bool
	// Requirements replaces the scaffold requirements when non-nil.
	Requirements *manifest.Requirements
	// Files are extra files written relative to the module root.
	Files map[string]string
}

// NewSealer returns a sealer with fresh random key material.
func NewSealer(t testing.TB) *sealer.Sealer {
	t.Helper()
	s, err := sealer.New(sealer.GenerateKey())
	if err != nil {
		t.Fatalf("failed to create sealer: %v", err)
	}
	return s
}

// WriteModule writes a module source tree under dir/<id> and returns its path.
func WriteModule(t testing.TB, dir string, src ModuleSource) string {
	t.Helper()

	if src.ID == "" {
		src.ID = "test-module"
	}
	m := manifest.Example(src.ID)
	if src.Version != "" {
		m.Version = src.Version
	}
	if src.Steps != nil {
		m.Primitives = src.Steps
	}
	m.StopOnFailure = src.StopOnFailure
	if src.Requirements != nil {
		m.Requirements = *src.Requirements
	}
	m.Files = map[string]string{}

	data, err := manifest.Marshal(m)
	if err != nil {
		t.Fatalf("failed to encode manifest: %v", err)
	}

	root := filepath.Join(dir, src.ID)
	MustWriteFile(t, filepath.Join(root, manifest.FileName), string(data))
	for rel, content := range src.Files {
		MustWriteFile(t, filepath.Join(root, filepath.FromSlash(rel)), content)
	}
	return root
}

// BuildPackage packages a module source tree into a fresh temporary
// directory and returns the package path.
func BuildPackage(t testing.TB, source string, s *sealer.Sealer, encrypt bool) string {
	t.Helper()
	info, err := packager.Package(context.Background(), packager.PackageOptions{
		Source:  source,
		Output:  t.TempDir(),
		Sealer:  s,
		Encrypt: encrypt,
	})
	if err != nil {
		t.Fatalf("failed to package %s: %v", source, err)
	}
	return info.Path
}
