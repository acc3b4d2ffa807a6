// SPDX-License-Identifier: MPL-2.0

package store

import (
	"context"
	"fmt"
	"net/http"
	"os/exec"
	"slices"
	"strings"
	"time"

	"github.com/alienmod/alienmod/pkg/platform"

	"github.com/shirou/gopsutil/v4/mem"
)

const (
	// DefaultHALStatusURL is polled when a module requires the hardware abstraction layer.
	DefaultHALStatusURL = "http://localhost:8080/api/v1/hal/status"
	// DefaultProbeTimeout bounds each host probe.
	DefaultProbeTimeout = 2 * time.Second
)

type (
	// HostProbe answers questions about the current host.
	HostProbe interface {
		// TotalMemoryMB returns installed physical memory.
		TotalMemoryMB(ctx context.Context) (uint64, error)
		// GPUAvailable reports whether a CUDA-capable GPU is usable.
		GPUAvailable(ctx context.Context) bool
		// HALAvailable returns nil when the HAL service answers its status probe.
		HALAvailable(ctx context.Context) error
		// HasExecutable reports whether name resolves on PATH.
		HasExecutable(name string) bool
		// Platform returns the host OS in GOOS form.
		Platform() string
	}

	// SystemProbeOptions configures NewSystemProbe.
	SystemProbeOptions struct {
		HALStatusURL string
		Timeout      time.Duration
		Client       *http.Client
	}

	// SystemProbe inspects the real host.
	SystemProbe struct {
		halURL  string
		timeout time.Duration
		client  *http.Client
	}

	// RequirementsReport lists every unmet requirement of a module.
	RequirementsReport struct {
		ModuleID string
		Met      bool
		Issues   []string
	}
)

// NewSystemProbe returns a probe of the current host.
func NewSystemProbe(opts SystemProbeOptions) *SystemProbe {
	p := &SystemProbe{halURL: opts.HALStatusURL, timeout: opts.Timeout, client: opts.Client}
	if p.halURL == "" {
		p.halURL = DefaultHALStatusURL
	}
	if p.timeout <= 0 {
		p.timeout = DefaultProbeTimeout
	}
	if p.client == nil {
		p.client = &http.Client{Timeout: p.timeout}
	}
	return p
}

// TotalMemoryMB implements HostProbe.
func (p *SystemProbe) TotalMemoryMB(ctx context.Context) (uint64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.Total / (1024 * 1024), nil
}

// GPUAvailable implements HostProbe.
func (p *SystemProbe) GPUAvailable(ctx context.Context) bool {
	if !p.HasExecutable("nvidia-smi") {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return exec.CommandContext(ctx, "nvidia-smi", "-L").Run() == nil
}

// HALAvailable implements HostProbe.
func (p *SystemProbe) HALAvailable(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.halURL, http.NoBody)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("status %s", resp.Status)
	}
	return nil
}

// HasExecutable implements HostProbe.
func (p *SystemProbe) HasExecutable(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// Platform implements HostProbe.
func (p *SystemProbe) Platform() string { return platform.Current() }

// CheckRequirements evaluates every declared requirement of an installed
// module and accumulates all unmet ones.
func (s *Store) CheckRequirements(ctx context.Context, id string) (*RequirementsReport, error) {
	m, err := s.Load(id)
	if err != nil {
		return nil, err
	}
	req := m.Requirements
	report := &RequirementsReport{ModuleID: id}

	if req.RequiresHAL {
		if err := s.probe.HALAvailable(ctx); err != nil {
			report.Issues = append(report.Issues, fmt.Sprintf("HAL service not available (NFC/biometrics required): %v", err))
		}
	}
	if req.RequiresGPU && !s.probe.GPUAvailable(ctx) {
		report.Issues = append(report.Issues, "GPU (CUDA) not available")
	}
	if req.MinMemoryMB > 0 {
		total, err := s.probe.TotalMemoryMB(ctx)
		switch {
		case err != nil:
			report.Issues = append(report.Issues, fmt.Sprintf("cannot determine host memory: %v", err))
		case total < uint64(req.MinMemoryMB):
			report.Issues = append(report.Issues, fmt.Sprintf("insufficient memory: %d MB available, %d MB required", total, req.MinMemoryMB))
		}
	}
	if len(req.Platforms) > 0 && !slices.Contains(req.Platforms, s.probe.Platform()) {
		report.Issues = append(report.Issues, fmt.Sprintf("platform %s not supported (supported: %s)", s.probe.Platform(), strings.Join(req.Platforms, ", ")))
	}

	var missing []string
	for _, pkg := range req.Packages {
		if !s.probe.HasExecutable(pkg) {
			missing = append(missing, pkg)
		}
	}
	if len(missing) > 0 {
		report.Issues = append(report.Issues, "missing executables: "+strings.Join(missing, ", "))
	}

	report.Met = len(report.Issues) == 0
	s.logger.Debug("requirements checked", "id", id, "met", report.Met, "issues", len(report.Issues))
	return report, nil
}
