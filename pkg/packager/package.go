// SPDX-License-Identifier: MPL-2.0

package packager

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/alienmod/alienmod/pkg/container"
	"github.com/alienmod/alienmod/pkg/manifest"
	"github.com/alienmod/alienmod/pkg/sealer"

	"github.com/bmatcuk/doublestar/v4"
)

// Conventional files picked up from the module root when present.
var optionalRootFiles = []string{"ui.marimo", "ui.py", "config.yaml"}

const (
	assetsPattern = "assets/**"
	wasmPattern   = "primitives/**/*.wasm"
)

type (
	// PackageOptions configures Package.
	PackageOptions struct {
		// Source is the module source directory containing manifest.json.
		Source string
		// Output is the package file to write. A directory receives <id>.alienmodule;
		// empty writes next to Source.
		Output string
		// Sealer computes the integrity tag and, when Encrypt is set, seals the payload.
		Sealer *sealer.Sealer
		// Encrypt seals the payload.
		Encrypt bool
		// Now stamps packaged_at. Defaults to time.Now.
		Now func() time.Time
	}

	// PackageInfo describes a written package.
	PackageInfo struct {
		Path      string
		ModuleID  string
		Version   string
		Size      int64
		SHA256    string
		Encrypted bool
		// Files lists the payload entries in archive order.
		Files []string
		// Missing lists declared files that were absent from the source tree.
		Missing []string
	}
)

// Package builds a package from a module source directory.
func Package(ctx context.Context, opts PackageOptions) (*PackageInfo, error) {
	if opts.Sealer == nil {
		return nil, errors.New("packaging requires a key to compute the integrity tag")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	source, err := filepath.Abs(opts.Source)
	if err != nil {
		return nil, fmt.Errorf("resolving source directory: %w", err)
	}
	m, err := manifest.Load(source)
	if err != nil {
		return nil, err
	}

	files, missing, err := collect(source, m)
	if err != nil {
		return nil, err
	}

	staging, err := os.MkdirTemp("", "alienmod-package-*")
	if err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(staging) }() // Best-effort cleanup

	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := copyFile(filepath.Join(source, filepath.FromSlash(rel)), filepath.Join(staging, filepath.FromSlash(rel))); err != nil {
			return nil, fmt.Errorf("staging %s: %w", rel, err)
		}
	}

	// Hashes cover the staged files as authored, before the manifest rewrite.
	hashes, err := hashFiles(os.DirFS(staging), files)
	if err != nil {
		return nil, err
	}
	m.FileHashes = hashes
	m.PackagedAt = opts.Now().UTC().Format(time.RFC3339)

	manifestData, err := manifest.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(staging, manifest.FileName), manifestData, 0o644); err != nil {
		return nil, fmt.Errorf("writing manifest: %w", err)
	}

	tag, err := opts.Sealer.Tag(os.DirFS(staging))
	if err != nil {
		return nil, fmt.Errorf("computing integrity tag: %w", err)
	}
	if err := os.WriteFile(filepath.Join(staging, sealer.TagFile), []byte(tag), 0o644); err != nil {
		return nil, fmt.Errorf("writing integrity tag: %w", err)
	}

	entries := append(slices.Clone(files), sealer.TagFile)
	slices.Sort(entries)
	payload, err := writeZip(os.DirFS(staging), entries)
	if err != nil {
		return nil, fmt.Errorf("archiving payload: %w", err)
	}

	if opts.Encrypt {
		if payload, err = opts.Sealer.Seal(payload); err != nil {
			return nil, err
		}
	}
	data := container.Encode(payload, opts.Encrypt)

	outPath, err := outputPath(opts.Output, source, m.ID)
	if err != nil {
		return nil, err
	}
	if err := writeFileAtomic(outPath, data); err != nil {
		return nil, fmt.Errorf("writing package: %w", err)
	}

	sum := sha256.Sum256(data)
	return &PackageInfo{
		Path:      outPath,
		ModuleID:  m.ID,
		Version:   m.Version,
		Size:      int64(len(data)),
		SHA256:    hex.EncodeToString(sum[:]),
		Encrypted: opts.Encrypt,
		Files:     entries,
		Missing:   missing,
	}, nil
}

// collect returns the sorted slash paths to include and the declared files not found.
func collect(source string, m *manifest.Manifest) (files, missing []string, err error) {
	fsys := os.DirFS(source)
	seen := map[string]bool{}
	add := func(rel string) {
		if !seen[rel] {
			seen[rel] = true
			files = append(files, rel)
		}
	}

	add(manifest.FileName)

	for _, rel := range m.DeclaredFiles() {
		rel = filepath.ToSlash(filepath.Clean(filepath.FromSlash(rel)))
		if isRegular(fsys, rel) {
			add(rel)
		} else {
			missing = append(missing, rel)
		}
	}

	for _, rel := range optionalRootFiles {
		if isRegular(fsys, rel) {
			add(rel)
		}
	}

	patterns := []string{assetsPattern}
	if m.ExecutionMode.SupportsBrowser() {
		patterns = append(patterns, wasmPattern)
	}
	for _, pattern := range patterns {
		matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, nil, fmt.Errorf("matching %s: %w", pattern, err)
		}
		for _, rel := range matches {
			if rel != sealer.TagFile {
				add(rel)
			}
		}
	}

	// A root-level file named like the tag entry would be overwritten.
	files = slices.DeleteFunc(files, func(rel string) bool { return rel == sealer.TagFile })
	slices.Sort(files)
	return files, missing, nil
}

func isRegular(fsys fs.FS, rel string) bool {
	info, err := fs.Stat(fsys, rel)
	return err == nil && info.Mode().IsRegular()
}

// hashFiles returns the hex SHA-256 of each listed file.
func hashFiles(fsys fs.FS, files []string) (map[string]string, error) {
	hashes := make(map[string]string, len(files))
	for _, rel := range files {
		data, err := fs.ReadFile(fsys, rel)
		if err != nil {
			return nil, fmt.Errorf("hashing %s: %w", rel, err)
		}
		sum := sha256.Sum256(data)
		hashes[rel] = hex.EncodeToString(sum[:])
	}
	return hashes, nil
}

func outputPath(output, source, id string) (string, error) {
	name := id + container.Extension
	if output == "" {
		return filepath.Join(filepath.Dir(source), name), nil
	}
	abs, err := filepath.Abs(output)
	if err != nil {
		return "", fmt.Errorf("resolving output path: %w", err)
	}
	if info, err := os.Stat(abs); err == nil && info.IsDir() {
		return filepath.Join(abs, name), nil
	}
	return abs, nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}

// writeFileAtomic writes data to a temporary sibling and renames it into place.
func writeFileAtomic(path string, data []byte) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name()) // Best-effort cleanup
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
