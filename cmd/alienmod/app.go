// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"

	"github.com/alienmod/alienmod/internal/capability"
	"github.com/alienmod/alienmod/internal/capability/builtin"
	"github.com/alienmod/alienmod/internal/chain"
	"github.com/alienmod/alienmod/internal/config"
	"github.com/alienmod/alienmod/internal/issue"
	"github.com/alienmod/alienmod/internal/orchestrate"
	"github.com/alienmod/alienmod/internal/runner"
	"github.com/alienmod/alienmod/internal/store"
	"github.com/alienmod/alienmod/pkg/sealer"

	"github.com/charmbracelet/log"
)

type (
	// App is the composition root of the CLI. Command handlers receive it and
	// build services lazily from the effective configuration.
	App struct {
		stdout io.Writer
		stderr io.Writer

		// Global flag values.
		configPath string
		modulesDir string
		key        string
		verbose    bool

		once     sync.Once
		setupErr error
		cfg      *config.Config
		logger   *log.Logger
		registry *capability.Registry
		exec     *chain.Executor
		orch     *orchestrate.Orchestrator

		storeOnce sync.Once
		st        *store.Store
		storeErr  error
	}

	// Dependencies are the injection points of NewApp. Nil writers default to
	// os.Stdout and os.Stderr.
	Dependencies struct {
		Stdout io.Writer
		Stderr io.Writer
	}
)

// NewApp creates an App with defaults for omitted dependencies.
func NewApp(deps Dependencies) *App {
	if deps.Stdout == nil {
		deps.Stdout = os.Stdout
	}
	if deps.Stderr == nil {
		deps.Stderr = os.Stderr
	}
	return &App{stdout: deps.Stdout, stderr: deps.Stderr}
}

// setup loads configuration and builds the logger and capability plumbing once.
func (a *App) setup(ctx context.Context) error {
	a.once.Do(func() {
		overrides := map[string]any{}
		if a.modulesDir != "" {
			overrides["install_root"] = a.modulesDir
		}
		if a.key != "" {
			overrides["encryption_key"] = a.key
		}
		if a.verbose {
			overrides["log.level"] = "debug"
		}

		cfg, _, err := config.Load(ctx, config.LoadOptions{ConfigFilePath: a.configPath, Overrides: overrides})
		if err != nil {
			a.setupErr = err
			return
		}
		a.cfg = cfg

		level, err := log.ParseLevel(cfg.Log.Level)
		if err != nil {
			level = log.InfoLevel
		}
		a.logger = log.NewWithOptions(a.stderr, log.Options{Prefix: "alienmod", Level: level})

		a.registry = capability.NewRegistry()
		a.exec = chain.New(a.registry, chain.WithLogger(a.logger))
		a.orch = orchestrate.New(a.exec, orchestrate.Options{
			Workers:     cfg.Parallel.Workers,
			StepTimeout: cfg.Parallel.StepTimeout,
			Logger:      a.logger,
		})
		a.setupErr = builtin.Register(a.registry, builtin.Deps{Orchestrator: a.orch})
	})
	return a.setupErr
}

// Config returns the effective configuration.
func (a *App) Config(ctx context.Context) (*config.Config, error) {
	if err := a.setup(ctx); err != nil {
		return nil, err
	}
	return a.cfg, nil
}

// Sealer builds the sealer from the configured key material.
func (a *App) Sealer(ctx context.Context) (*sealer.Sealer, error) {
	cfg, err := a.Config(ctx)
	if err != nil {
		return nil, err
	}
	if cfg.EncryptionKey == "" {
		return nil, errKeyMissing
	}
	s, err := sealer.New(cfg.EncryptionKey)
	if err != nil {
		return nil, err
	}
	if s.Derived() {
		a.logger.Debug("key material is not a raw key; deriving one with PBKDF2")
	}
	return s, nil
}

// Store opens the install root. A missing key is tolerated: read-only
// commands work without one and Install reports it.
func (a *App) Store(ctx context.Context) (*store.Store, error) {
	cfg, err := a.Config(ctx)
	if err != nil {
		return nil, err
	}
	a.storeOnce.Do(func() {
		s, err := a.Sealer(ctx)
		if err != nil && !errors.Is(err, errKeyMissing) {
			a.storeErr = err
			return
		}
		a.st, a.storeErr = store.New(store.Options{
			Root:   cfg.InstallRoot,
			Sealer: s,
			Logger: a.logger,
			Probe: store.NewSystemProbe(store.SystemProbeOptions{
				HALStatusURL: cfg.Requirements.HALStatusURL,
				Timeout:      cfg.Requirements.ProbeTimeout,
			}),
		})
	})
	return a.st, a.storeErr
}

// Runner wires the store to the chain executor.
func (a *App) Runner(ctx context.Context) (*runner.Runner, error) {
	st, err := a.Store(ctx)
	if err != nil {
		return nil, err
	}
	return runner.New(st, a.exec, a.logger), nil
}

// Registry returns the capability registry with every builtin registered.
func (a *App) Registry(ctx context.Context) (*capability.Registry, error) {
	if err := a.setup(ctx); err != nil {
		return nil, err
	}
	return a.registry, nil
}

var errKeyMissing = issue.NewErrorContext().
	WithOperation("load encryption key").
	WithSuggestion("Run 'alienmod keygen' and export ALIENMOD_ENCRYPTION_KEY").
	WithSuggestion("Or pass --key").
	Wrap(errors.New("no encryption key configured")).
	Build()
