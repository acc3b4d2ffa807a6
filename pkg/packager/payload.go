// SPDX-License-Identifier: MPL-2.0

package packager

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/alienmod/alienmod/pkg/container"
	"github.com/alienmod/alienmod/pkg/manifest"
	"github.com/alienmod/alienmod/pkg/sealer"
)

// Payload is an opened, decrypted package archive held in memory.
type Payload struct {
	Header container.Header

	zr      *zip.Reader
	names   []string
	entries map[string]*zip.File
}

// OpenFile reads and opens the package at path.
func OpenFile(path string, s *sealer.Sealer) (*Payload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading package: %w", err)
	}
	return Open(data, s)
}

// Open decodes a container, unseals its payload when encrypted and indexes
// the archive. s may be nil for plaintext packages that are only inspected.
func Open(data []byte, s *sealer.Sealer) (*Payload, error) {
	header, body, err := container.Decode(data)
	if err != nil {
		return nil, err
	}

	if header.Encrypted {
		if s == nil {
			return nil, &sealer.CryptoError{Op: "unseal", Err: errors.New("package is encrypted and no key was provided")}
		}
		if body, err = s.Unseal(body); err != nil {
			return nil, err
		}
	}

	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		if errors.Is(err, zip.ErrInsecurePath) {
			return nil, fmt.Errorf("payload contains an unsafe path: %w", err)
		}
		return nil, fmt.Errorf("payload is not a valid archive: %w", err)
	}

	p := &Payload{Header: header, zr: zr, entries: make(map[string]*zip.File, len(zr.File))}
	for _, f := range zr.File {
		mode := f.Mode()
		if strings.HasSuffix(f.Name, "/") || mode.IsDir() {
			continue
		}
		if !mode.IsRegular() {
			return nil, fmt.Errorf("payload entry %q is not a regular file (mode %s)", f.Name, mode)
		}
		if !manifest.IsLocalPath(f.Name) {
			return nil, fmt.Errorf("payload contains an unsafe path: %q", f.Name)
		}
		if _, dup := p.entries[f.Name]; dup {
			return nil, fmt.Errorf("payload contains %q more than once", f.Name)
		}
		p.entries[f.Name] = f
		p.names = append(p.names, f.Name)
	}
	slices.Sort(p.names)
	return p, nil
}

// FS exposes the archive as a read-only file system.
func (p *Payload) FS() fs.FS { return p.zr }

// Files returns the sorted paths of every file entry.
func (p *Payload) Files() []string { return slices.Clone(p.names) }

// ReadFile returns the contents of one entry.
func (p *Payload) ReadFile(name string) ([]byte, error) {
	return fs.ReadFile(p.zr, name)
}

// Tag returns the stored integrity tag, if any.
func (p *Payload) Tag() (string, bool) {
	data, err := p.ReadFile(sealer.TagFile)
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(string(data)), true
}

// Verify checks the stored integrity tag against the payload contents.
func (p *Payload) Verify(s *sealer.Sealer) error {
	id := p.moduleID()
	tag, ok := p.Tag()
	if !ok {
		return &SignatureError{ModuleID: id, Reason: "payload has no " + sealer.TagFile + " entry"}
	}
	if s == nil {
		return &SignatureError{ModuleID: id, Reason: "no key available to verify the integrity tag"}
	}
	if !s.Verify(p.zr, tag) {
		return &SignatureError{ModuleID: id, Reason: "integrity tag does not match the payload (tampered package or wrong key)"}
	}
	return nil
}

// VerifyHashes compares every file against the manifest's file_hashes. The
// manifest's own entry is skipped since it was hashed before file_hashes was injected.
func (p *Payload) VerifyHashes(m *manifest.Manifest) error {
	hashes, err := hashFiles(p.zr, slices.DeleteFunc(p.Files(), func(name string) bool {
		_, declared := m.FileHashes[name]
		return !declared || name == manifest.FileName
	}))
	if err != nil {
		return err
	}
	for _, name := range sortedNames(m.FileHashes) {
		if name == manifest.FileName {
			continue
		}
		got, ok := hashes[name]
		if !ok {
			return &SignatureError{ModuleID: m.ID, Reason: fmt.Sprintf("%s is listed in file_hashes but missing from the payload", name)}
		}
		if got != m.FileHashes[name] {
			return &SignatureError{ModuleID: m.ID, Reason: fmt.Sprintf("%s does not match its recorded hash", name)}
		}
	}
	return nil
}

// Manifest parses the payload's manifest.json.
func (p *Payload) Manifest() (*manifest.Manifest, error) {
	data, err := p.ReadFile(manifest.FileName)
	if err != nil {
		return nil, &manifest.ManifestError{Issues: []string{"payload has no " + manifest.FileName}, Err: err}
	}
	return manifest.Parse(data, manifest.FileName)
}

// Extract writes every file entry under dir, creating it if needed. It covers
// exactly the entries the integrity tag is computed over.
func (p *Payload) Extract(dir string) error {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve destination directory: %w", err)
	}
	if err := os.MkdirAll(absDir, 0o755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}

	for _, name := range p.names {
		f := p.entries[name]
		destPath := filepath.Join(absDir, filepath.FromSlash(f.Name))
		rel, relErr := filepath.Rel(absDir, destPath)
		if relErr != nil || !filepath.IsLocal(rel) {
			return fmt.Errorf("invalid path in payload: %s", f.Name)
		}
		if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
			return fmt.Errorf("failed to create parent directory: %w", err)
		}
		if err := extractFile(f, destPath); err != nil {
			return fmt.Errorf("failed to extract %s: %w", f.Name, err)
		}
	}
	return nil
}

func (p *Payload) moduleID() string {
	if m, err := p.Manifest(); err == nil {
		return m.ID
	}
	return ""
}

func extractFile(file *zip.File, destPath string) (err error) {
	rc, err := file.Open()
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := rc.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	destFile, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := destFile.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	//nolint:gosec // G110: payload integrity is verified before extraction
	_, err = io.Copy(destFile, rc)
	return err
}

func sortedNames(m map[string]string) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
