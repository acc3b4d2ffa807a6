// SPDX-License-Identifier: MPL-2.0

package runner

import (
	"context"
	"io"
	"time"

	"github.com/alienmod/alienmod/internal/capability"
	"github.com/alienmod/alienmod/internal/chain"
	"github.com/alienmod/alienmod/pkg/manifest"

	"github.com/charmbracelet/log"
)

type (
	// ModuleSource resolves installed modules. *store.Store satisfies it.
	ModuleSource interface {
		Load(id string) (*manifest.Manifest, error)
		Defaults(id string) (map[string]any, error)
	}

	// Request identifies one module execution.
	Request struct {
		ModuleID  string
		UserID    string
		AuthToken string
		// Input seeds the accumulated result. It is not modified.
		Input map[string]any
	}

	// Runner runs installed modules.
	Runner struct {
		modules ModuleSource
		exec    *chain.Executor
		logger  *log.Logger
	}
)

// New creates a Runner. A nil logger discards output.
func New(modules ModuleSource, exec *chain.Executor, logger *log.Logger) *Runner {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Runner{modules: modules, exec: exec, logger: logger}
}

// Run executes the chain of an installed module.
//
// Module defaults from config.yaml feed every step with the lowest
// precedence. A manifest with stop_on_failure set aborts on the first
// business failure.
func (r *Runner) Run(ctx context.Context, req Request) (*chain.Outcome, error) {
	m, err := r.modules.Load(req.ModuleID)
	if err != nil {
		return nil, err
	}
	if err := m.Executable(); err != nil {
		return nil, err
	}
	defaults, err := r.modules.Defaults(req.ModuleID)
	if err != nil {
		return nil, err
	}

	ec := &capability.ExecutionContext{
		ModuleID:  m.ID,
		UserID:    req.UserID,
		AuthToken: req.AuthToken,
	}

	start := time.Now()
	r.logger.Info("running module", "id", m.ID, "version", m.Version, "steps", len(m.Primitives))
	out, err := r.exec.Run(ctx, m.Chain(), capability.Result(req.Input), ec,
		chain.WithDefaults(defaults),
		chain.WithStopOnFailure(m.StopOnFailure),
	)
	if err != nil {
		r.logger.Error("module run failed", "id", m.ID, "error", err)
		return nil, err
	}
	r.logger.Info("module finished", "id", m.ID, "duration", time.Since(start))
	return out, nil
}
