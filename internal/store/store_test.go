// SPDX-License-Identifier: MPL-2.0

package store

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/alienmod/alienmod/internal/testutil"
	"github.com/alienmod/alienmod/pkg/container"
	"github.com/alienmod/alienmod/pkg/manifest"
	"github.com/alienmod/alienmod/pkg/packager"
	"github.com/alienmod/alienmod/pkg/sealer"
)

type fakeProbe struct {
	memoryMB    uint64
	memoryErr   error
	gpu         bool
	halErr      error
	executables []string
	platform    string
}

func (f *fakeProbe) TotalMemoryMB(context.Context) (uint64, error) { return f.memoryMB, f.memoryErr }
func (f *fakeProbe) GPUAvailable(context.Context) bool             { return f.gpu }
func (f *fakeProbe) HALAvailable(context.Context) error            { return f.halErr }
func (f *fakeProbe) HasExecutable(name string) bool                { return slices.Contains(f.executables, name) }
func (f *fakeProbe) Platform() string                              { return f.platform }

func newTestStore(t *testing.T, s *sealer.Sealer) *Store {
	t.Helper()
	st, err := New(Options{Root: t.TempDir(), Sealer: s, Probe: &fakeProbe{memoryMB: 8192, platform: "linux"}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return st
}

func buildModule(t *testing.T, s *sealer.Sealer, src testutil.ModuleSource) string {
	t.Helper()
	dir := testutil.WriteModule(t, t.TempDir(), src)
	return testutil.BuildPackage(t, dir, s, true)
}

func TestInstallAndLoad(t *testing.T) {
	t.Parallel()

	s := testutil.NewSealer(t)
	st := newTestStore(t, s)
	pkg := buildModule(t, s, testutil.ModuleSource{
		ID:    "invoice",
		Files: map[string]string{"config.yaml": "currency: KES\nlimit: 5\n"},
	})

	got, err := st.Install(context.Background(), pkg, false)
	if err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	if got.ID != "invoice" || got.Replaced {
		t.Errorf("Install() = %+v, want fresh install of invoice", got)
	}
	if !testutil.Exists(filepath.Join(st.Path("invoice"), manifest.FileName)) {
		t.Error("manifest not extracted")
	}
	if !testutil.Exists(filepath.Join(st.Path("invoice"), sealer.TagFile)) {
		t.Error("signature file not extracted")
	}

	m, err := st.Load("invoice")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if m.Version != manifest.DefaultVersion {
		t.Errorf("Load().Version = %q", m.Version)
	}

	defaults, err := st.Defaults("invoice")
	if err != nil {
		t.Fatalf("Defaults() error = %v", err)
	}
	if defaults["currency"] != "KES" || defaults["limit"] != 5 {
		t.Errorf("Defaults() = %v", defaults)
	}
}

func TestInstallTwice(t *testing.T) {
	t.Parallel()

	s := testutil.NewSealer(t)
	st := newTestStore(t, s)
	v1 := buildModule(t, s, testutil.ModuleSource{ID: "dup", Version: "1.0.0"})
	v2 := buildModule(t, s, testutil.ModuleSource{ID: "dup", Version: "2.0.0"})

	if _, err := st.Install(context.Background(), v1, false); err != nil {
		t.Fatalf("first Install() error = %v", err)
	}

	_, err := st.Install(context.Background(), v2, false)
	var already *AlreadyInstalledError
	if !errors.As(err, &already) {
		t.Fatalf("second Install() error = %v, want AlreadyInstalledError", err)
	}
	if already.Version != "1.0.0" {
		t.Errorf("AlreadyInstalledError.Version = %q, want 1.0.0", already.Version)
	}
	if !errors.Is(err, ErrAlreadyInstalled) {
		t.Error("error does not match ErrAlreadyInstalled")
	}

	got, err := st.Install(context.Background(), v2, true)
	if err != nil {
		t.Fatalf("forced Install() error = %v", err)
	}
	if !got.Replaced {
		t.Error("forced Install() did not report replacement")
	}

	m, err := st.Load("dup")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if m.Version != "2.0.0" {
		t.Errorf("cached version = %q, want 2.0.0", m.Version)
	}
	assertNoLeftovers(t, st)
}

func TestInstallRejectsWrongKey(t *testing.T) {
	t.Parallel()

	pkg := buildModule(t, testutil.NewSealer(t), testutil.ModuleSource{ID: "foreign"})
	st := newTestStore(t, testutil.NewSealer(t))

	if _, err := st.Install(context.Background(), pkg, false); !errors.Is(err, sealer.ErrCrypto) {
		t.Fatalf("Install() error = %v, want ErrCrypto", err)
	}
	if testutil.Exists(st.Path("foreign")) {
		t.Error("module directory created for rejected package")
	}
}

func TestInstallRejectsIrregularEntry(t *testing.T) {
	t.Parallel()

	s := testutil.NewSealer(t)
	st := newTestStore(t, s)
	dir := testutil.WriteModule(t, t.TempDir(), testutil.ModuleSource{ID: "plain"})
	pkg := testutil.BuildPackage(t, dir, s, false)

	p, err := packager.OpenFile(pkg, s)
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range p.Files() {
		data, err := p.ReadFile(name)
		if err != nil {
			t.Fatal(err)
		}
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write(data); err != nil {
			t.Fatal(err)
		}
	}
	hdr := &zip.FileHeader{Name: ConfigFile, Method: zip.Deflate}
	hdr.SetMode(os.ModeSymlink | 0o777)
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte("message: injected\n")); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	tampered := filepath.Join(t.TempDir(), "plain.alienmodule")
	testutil.MustWriteFile(t, tampered, string(container.Encode(buf.Bytes(), false)))

	if _, err := st.Install(context.Background(), tampered, false); err == nil {
		t.Fatal("Install(tampered) error = nil, want rejection")
	}
	if testutil.Exists(st.Path("plain")) {
		t.Error("tampered package was extracted")
	}
	if _, err := st.Defaults("plain"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Defaults() error = %v, want ErrNotFound", err)
	}
	assertNoLeftovers(t, st)
}

func TestInstallFailureKeepsPreviousInstall(t *testing.T) {
	t.Parallel()

	s := testutil.NewSealer(t)
	v1 := buildModule(t, s, testutil.ModuleSource{ID: "atomic", Version: "1.0.0"})
	v2 := buildModule(t, s, testutil.ModuleSource{ID: "atomic", Version: "2.0.0"})

	tests := []struct {
		name  string
		setup func(st *Store)
	}{
		{
			name: "extract fails",
			setup: func(st *Store) {
				st.extract = func(*packager.Payload, string) error { return errors.New("disk full") }
			},
		},
		{
			name: "final rename fails",
			setup: func(st *Store) {
				st.rename = func(from, to string) error {
					if strings.Contains(filepath.Base(from), stagingPrefix) {
						return errors.New("rename refused")
					}
					return os.Rename(from, to)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			st := newTestStore(t, s)
			if _, err := st.Install(context.Background(), v1, false); err != nil {
				t.Fatalf("Install(v1) error = %v", err)
			}
			tt.setup(st)

			if _, err := st.Install(context.Background(), v2, true); err == nil {
				t.Fatal("Install(v2) succeeded, want error")
			}

			st.evict("atomic")
			m, err := st.Load("atomic")
			if err != nil {
				t.Fatalf("Load() after failed install error = %v", err)
			}
			if m.Version != "1.0.0" {
				t.Errorf("installed version = %q, want 1.0.0", m.Version)
			}
			assertNoLeftovers(t, st)
		})
	}
}

func TestInstallFailureOnFreshInstall(t *testing.T) {
	t.Parallel()

	s := testutil.NewSealer(t)
	st := newTestStore(t, s)
	st.extract = func(*packager.Payload, string) error { return errors.New("boom") }

	pkg := buildModule(t, s, testutil.ModuleSource{ID: "fresh"})
	if _, err := st.Install(context.Background(), pkg, false); err == nil {
		t.Fatal("Install() succeeded, want error")
	}
	if testutil.Exists(st.Path("fresh")) {
		t.Error("partial module directory left behind")
	}
	assertNoLeftovers(t, st)
}

func TestUninstall(t *testing.T) {
	t.Parallel()

	s := testutil.NewSealer(t)
	st := newTestStore(t, s)
	pkg := buildModule(t, s, testutil.ModuleSource{ID: "gone"})
	if _, err := st.Install(context.Background(), pkg, false); err != nil {
		t.Fatalf("Install() error = %v", err)
	}

	if err := st.Uninstall(context.Background(), "gone"); err != nil {
		t.Fatalf("Uninstall() error = %v", err)
	}
	if testutil.Exists(st.Path("gone")) {
		t.Error("module directory still present")
	}
	if _, err := st.Load("gone"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load() after uninstall error = %v, want ErrNotFound", err)
	}

	var notFound *NotFoundError
	if err := st.Uninstall(context.Background(), "gone"); !errors.As(err, &notFound) {
		t.Errorf("second Uninstall() error = %v, want NotFoundError", err)
	}
	if err := st.Uninstall(context.Background(), "../escape"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Uninstall(../escape) error = %v, want ErrNotFound", err)
	}
}

func TestList(t *testing.T) {
	t.Parallel()

	s := testutil.NewSealer(t)
	st := newTestStore(t, s)
	for _, id := range []string{"zeta", "alpha"} {
		if _, err := st.Install(context.Background(), buildModule(t, s, testutil.ModuleSource{ID: id}), false); err != nil {
			t.Fatalf("Install(%s) error = %v", id, err)
		}
	}
	testutil.MustWriteFile(t, filepath.Join(st.Root(), "corrupt", manifest.FileName), "{not json")
	testutil.MustMkdirAll(t, filepath.Join(st.Root(), "empty"), 0o755)
	testutil.MustMkdirAll(t, filepath.Join(st.Root(), ".staging-leftover"), 0o755)
	alpha := testutil.MustReadFile(t, filepath.Join(st.Path("alpha"), manifest.FileName))
	testutil.MustWriteFile(t, filepath.Join(st.Root(), "renamed", manifest.FileName), alpha)

	got, err := st.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	var ids []string
	for _, m := range got {
		ids = append(ids, m.ID)
	}
	if !slices.Equal(ids, []string{"alpha", "zeta"}) {
		t.Errorf("List() ids = %v, want [alpha zeta]", ids)
	}
	if got[0].ExecutionMode != string(manifest.ExecutionHybrid) {
		t.Errorf("List()[0].ExecutionMode = %q", got[0].ExecutionMode)
	}

	if _, err := st.Load("renamed"); !errors.Is(err, manifest.ErrInvalidManifest) {
		t.Errorf("Load(renamed) error = %v, want ErrInvalidManifest", err)
	}
}

func TestConcurrentInstallsReleaseLocks(t *testing.T) {
	t.Parallel()

	s := testutil.NewSealer(t)
	st := newTestStore(t, s)
	pkg := buildModule(t, s, testutil.ModuleSource{ID: "shared"})

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := st.Install(context.Background(), pkg, true); err != nil {
				t.Errorf("Install() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if _, err := st.Load("shared"); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := st.Uninstall(context.Background(), "shared"); err != nil {
		t.Fatalf("Uninstall() error = %v", err)
	}
	st.locksMu.Lock()
	n := len(st.locks)
	st.locksMu.Unlock()
	if n != 0 {
		t.Errorf("lock table holds %d entries after all operations finished", n)
	}
	assertNoLeftovers(t, st)
}

func TestDefaultsMissingConfig(t *testing.T) {
	t.Parallel()

	s := testutil.NewSealer(t)
	st := newTestStore(t, s)
	if _, err := st.Install(context.Background(), buildModule(t, s, testutil.ModuleSource{ID: "plain"}), false); err != nil {
		t.Fatalf("Install() error = %v", err)
	}

	got, err := st.Defaults("plain")
	if err != nil {
		t.Fatalf("Defaults() error = %v", err)
	}
	if got != nil {
		t.Errorf("Defaults() = %v, want nil", got)
	}
	if _, err := st.Defaults("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Defaults(missing) error = %v, want ErrNotFound", err)
	}
}

func TestCheckRequirements(t *testing.T) {
	t.Parallel()

	s := testutil.NewSealer(t)
	pkg := buildModule(t, s, testutil.ModuleSource{
		ID: "needy",
		Requirements: &manifest.Requirements{
			RequiresHAL: true,
			RequiresGPU: true,
			MinMemoryMB: 4096,
			Platforms:   []string{"linux"},
			Packages:    []string{"ffmpeg", "git"},
		},
	})

	tests := []struct {
		name       string
		probe      *fakeProbe
		wantIssues []string
	}{
		{
			name:  "all met",
			probe: &fakeProbe{memoryMB: 8192, gpu: true, executables: []string{"ffmpeg", "git"}, platform: "linux"},
		},
		{
			name:  "every requirement unmet",
			probe: &fakeProbe{memoryMB: 1024, halErr: errors.New("connection refused"), platform: "windows", executables: []string{"git"}},
			wantIssues: []string{
				"HAL service not available",
				"GPU (CUDA) not available",
				"insufficient memory: 1024 MB available, 4096 MB required",
				"platform windows not supported",
				"missing executables: ffmpeg",
			},
		},
		{
			name:       "memory unknown",
			probe:      &fakeProbe{memoryErr: errors.New("no procfs"), gpu: true, executables: []string{"ffmpeg", "git"}, platform: "linux"},
			wantIssues: []string{"cannot determine host memory"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			st, err := New(Options{Root: t.TempDir(), Sealer: s, Probe: tt.probe})
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if _, err := st.Install(context.Background(), pkg, false); err != nil {
				t.Fatalf("Install() error = %v", err)
			}

			report, err := st.CheckRequirements(context.Background(), "needy")
			if err != nil {
				t.Fatalf("CheckRequirements() error = %v", err)
			}
			if report.Met != (len(tt.wantIssues) == 0) {
				t.Errorf("Met = %v, issues = %v", report.Met, report.Issues)
			}
			if len(report.Issues) != len(tt.wantIssues) {
				t.Fatalf("Issues = %q, want %d entries", report.Issues, len(tt.wantIssues))
			}
			for i, want := range tt.wantIssues {
				if !strings.Contains(report.Issues[i], want) {
					t.Errorf("Issues[%d] = %q, want it to contain %q", i, report.Issues[i], want)
				}
			}
		})
	}
}

func TestSystemProbeHAL(t *testing.T) {
	t.Parallel()

	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(healthy.Close)
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(down.Close)

	if err := NewSystemProbe(SystemProbeOptions{HALStatusURL: healthy.URL}).HALAvailable(context.Background()); err != nil {
		t.Errorf("HALAvailable(healthy) error = %v", err)
	}
	if err := NewSystemProbe(SystemProbeOptions{HALStatusURL: down.URL}).HALAvailable(context.Background()); err == nil {
		t.Error("HALAvailable(503) returned nil")
	}
}

func assertNoLeftovers(t *testing.T, st *Store) {
	t.Helper()
	entries, err := os.ReadDir(st.Root())
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), stagingPrefix) || strings.HasPrefix(e.Name(), trashPrefix) {
			t.Errorf("leftover directory %s", e.Name())
		}
	}
}
