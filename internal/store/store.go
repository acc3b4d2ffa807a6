// SPDX-License-Identifier: MPL-2.0

package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/alienmod/alienmod/pkg/manifest"
	"github.com/alienmod/alienmod/pkg/packager"
	"github.com/alienmod/alienmod/pkg/sealer"

	"github.com/charmbracelet/log"
	"gopkg.in/yaml.v3"
)

const (
	// ConfigFile holds module-level default arguments inside an install directory.
	ConfigFile = "config.yaml"

	stagingPrefix = ".staging-"
	trashPrefix   = ".trash-"
)

type (
	// Options configures a Store.
	Options struct {
		// Root is the install root. It is created if missing.
		Root string
		// Sealer unseals and verifies packages on install.
		Sealer *sealer.Sealer
		// Logger defaults to a discarding logger.
		Logger *log.Logger
		// Probe answers host requirement checks. Defaults to NewSystemProbe().
		Probe HostProbe
	}

	// Store manages one install root.
	Store struct {
		root   string
		sealer *sealer.Sealer
		logger *log.Logger
		probe  HostProbe

		mu    sync.RWMutex
		cache map[string]*manifest.Manifest

		locksMu sync.Mutex
		locks   map[string]*idLock

		// Filesystem steps of Install, replaceable in tests.
		extract func(p *packager.Payload, dir string) error
		rename  func(from, to string) error
	}

	// InstalledModule describes a completed install.
	InstalledModule struct {
		ID       string
		Version  string
		Path     string
		Replaced bool
		Manifest *manifest.Manifest
	}

	// ModuleSummary is one entry of List.
	ModuleSummary struct {
		ID            string
		Name          string
		Version       string
		Description   string
		Category      string
		ExecutionMode string
		Path          string
	}
)

// New opens (creating if needed) the install root.
func New(opts Options) (*Store, error) {
	if opts.Root == "" {
		return nil, errors.New("install root is required")
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("resolving install root: %w", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating install root: %w", err)
	}

	s := &Store{
		root:    root,
		sealer:  opts.Sealer,
		logger:  opts.Logger,
		probe:   opts.Probe,
		cache:   make(map[string]*manifest.Manifest),
		locks:   make(map[string]*idLock),
		extract: (*packager.Payload).Extract,
		rename:  os.Rename,
	}
	if s.logger == nil {
		s.logger = log.New(io.Discard)
	}
	if s.probe == nil {
		s.probe = NewSystemProbe(SystemProbeOptions{})
	}
	return s, nil
}

// Root returns the absolute install root.
func (s *Store) Root() string { return s.root }

// Path returns the install directory for id. The directory may not exist.
func (s *Store) Path(id string) string {
	return filepath.Join(s.root, id)
}

// Install verifies and installs the package at packagePath. An existing
// install of the same id is replaced only when force is set.
func (s *Store) Install(ctx context.Context, packagePath string, force bool) (*InstalledModule, error) {
	payload, err := packager.OpenFile(packagePath, s.sealer)
	if err != nil {
		return nil, err
	}
	if err := payload.Verify(s.sealer); err != nil {
		return nil, err
	}
	m, err := payload.Manifest()
	if err != nil {
		return nil, err
	}
	if err := payload.VerifyHashes(m); err != nil {
		return nil, err
	}

	unlock := s.lock(m.ID)
	defer unlock()

	target := s.Path(m.ID)
	_, statErr := os.Stat(target)
	exists := statErr == nil
	if exists && !force {
		existing := &AlreadyInstalledError{ID: m.ID, Path: target}
		if prev, err := s.Load(m.ID); err == nil {
			existing.Version = prev.Version
		}
		return nil, existing
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	staging, err := os.MkdirTemp(s.root, stagingPrefix+m.ID+"-*")
	if err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}
	if err := s.extract(payload, staging); err != nil {
		_ = os.RemoveAll(staging) // Best-effort cleanup
		return nil, fmt.Errorf("extracting module %s: %w", m.ID, err)
	}

	if err := s.swap(m.ID, staging, target, exists); err != nil {
		_ = os.RemoveAll(staging) // Best-effort cleanup
		return nil, err
	}

	s.mu.Lock()
	s.cache[m.ID] = m
	s.mu.Unlock()

	s.logger.Info("module installed", "id", m.ID, "version", m.Version, "replaced", exists)
	return &InstalledModule{ID: m.ID, Version: m.Version, Path: target, Replaced: exists, Manifest: m}, nil
}

// swap moves staging into target. An existing target is moved aside first and
// restored if the final rename fails.
func (s *Store) swap(id, staging, target string, exists bool) error {
	if !exists {
		if err := s.rename(staging, target); err != nil {
			return fmt.Errorf("moving module %s into place: %w", id, err)
		}
		return nil
	}

	trash, err := os.MkdirTemp(s.root, trashPrefix+id+"-*")
	if err != nil {
		return fmt.Errorf("reserving trash directory: %w", err)
	}
	// MkdirTemp reserves a unique name; the rename needs it absent.
	if err := os.Remove(trash); err != nil {
		return fmt.Errorf("reserving trash directory: %w", err)
	}

	if err := s.rename(target, trash); err != nil {
		return fmt.Errorf("moving previous install of %s aside: %w", id, err)
	}
	if err := s.rename(staging, target); err != nil {
		if restoreErr := os.Rename(trash, target); restoreErr != nil {
			s.logger.Error("failed to restore previous install", "id", id, "trash", trash, "error", restoreErr)
			return errors.Join(fmt.Errorf("moving module %s into place: %w", id, err), restoreErr)
		}
		return fmt.Errorf("moving module %s into place: %w", id, err)
	}

	if err := os.RemoveAll(trash); err != nil {
		s.logger.Warn("failed to remove previous install", "id", id, "path", trash, "error", err)
	}
	return nil
}

// Uninstall removes an installed module and evicts its cache entry.
func (s *Store) Uninstall(ctx context.Context, id string) error {
	if !manifest.ValidID(id) {
		return &NotFoundError{ID: id}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	unlock := s.lock(id)
	defer unlock()

	target := s.Path(id)
	if info, err := os.Stat(target); err != nil || !info.IsDir() {
		s.evict(id)
		return &NotFoundError{ID: id}
	}
	if err := os.RemoveAll(target); err != nil {
		return fmt.Errorf("removing module %s: %w", id, err)
	}
	s.evict(id)

	s.logger.Info("module uninstalled", "id", id)
	return nil
}

// Load returns the manifest of an installed module, cache first. A manifest
// whose id differs from its directory name is rejected.
func (s *Store) Load(id string) (*manifest.Manifest, error) {
	if !manifest.ValidID(id) {
		return nil, &NotFoundError{ID: id}
	}

	s.mu.RLock()
	m, ok := s.cache[id]
	s.mu.RUnlock()
	if ok {
		return m, nil
	}

	path := filepath.Join(s.Path(id), manifest.FileName)
	m, err := manifest.Load(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &NotFoundError{ID: id}
		}
		return nil, err
	}
	if m.ID != id {
		return nil, &manifest.ManifestError{
			File:     path,
			ModuleID: m.ID,
			Issues:   []string{fmt.Sprintf("id: %q does not match its install directory %q", m.ID, id)},
		}
	}

	s.mu.Lock()
	s.cache[id] = m
	s.mu.Unlock()
	return m, nil
}

// List enumerates installed modules sorted by id. Directories without a
// readable manifest are skipped.
func (s *Store) List() ([]ModuleSummary, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading install root: %w", err)
	}

	var out []ModuleSummary
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		m, err := s.Load(e.Name())
		if err != nil {
			s.logger.Debug("skipping unreadable module", "dir", e.Name(), "error", err)
			continue
		}
		out = append(out, ModuleSummary{
			ID:            m.ID,
			Name:          m.Name,
			Version:       m.Version,
			Description:   m.Description,
			Category:      string(m.Category),
			ExecutionMode: string(m.ExecutionMode),
			Path:          s.Path(e.Name()),
		})
	}
	slices.SortFunc(out, func(a, b ModuleSummary) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

// Defaults returns the module's config.yaml as a map, or nil when it has none.
func (s *Store) Defaults(id string) (map[string]any, error) {
	if _, err := s.Load(id); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.Path(id), ConfigFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s defaults: %w", id, err)
	}

	var defaults map[string]any
	if err := yaml.Unmarshal(data, &defaults); err != nil {
		return nil, fmt.Errorf("parsing %s/%s: %w", id, ConfigFile, err)
	}
	return defaults, nil
}

func (s *Store) evict(id string) {
	s.mu.Lock()
	delete(s.cache, id)
	s.mu.Unlock()
}

// idLock is a per-id mutex shared by every caller currently holding or
// waiting for it.
type idLock struct {
	mu   sync.Mutex
	refs int
}

// lock serializes mutations of one module id. The entry is dropped once no
// caller holds or waits for it.
func (s *Store) lock(id string) (unlock func()) {
	s.locksMu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &idLock{}
		s.locks[id] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.locksMu.Lock()
		if l.refs--; l.refs == 0 {
			delete(s.locks, id)
		}
		s.locksMu.Unlock()
	}
}
