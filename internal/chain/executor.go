// SPDX-License-Identifier: MPL-2.0

package chain

import (
	"context"
	"fmt"
	"io"
	"maps"
	"time"

	"github.com/alienmod/alienmod/internal/capability"
	"github.com/alienmod/alienmod/pkg/manifest"

	"github.com/charmbracelet/log"
)

type (
	// Option configures an Executor.
	Option func(*Executor)

	// RunOption configures a single Run or Call.
	RunOption func(*runConfig)

	runConfig struct {
		stopOnFailure bool
		defaults      map[string]any
	}

	// Executor runs capability chains against an explicit registry.
	Executor struct {
		registry *capability.Registry
		logger   *log.Logger
	}

	// StepRecord summarizes one executed step.
	StepRecord struct {
		Index      int
		Name       string
		Capability string
		Method     string
		Duration   time.Duration
		Failed     bool
		Reason     string
	}

	// Outcome is the result of a chain run.
	Outcome struct {
		// Data starts as the input and accumulates every step's output.
		Data capability.Result
		// OutputFile is the last output_file any step reported.
		OutputFile string
		Steps      []StepRecord
	}
)

// WithLogger sets the executor's logger. The default discards output.
func WithLogger(l *log.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithStopOnFailure makes a step's business failure abort the run with a
// *BusinessFailureError.
func WithStopOnFailure(stop bool) RunOption {
	return func(c *runConfig) { c.stopOnFailure = stop }
}

// WithDefaults supplies module-level arguments with the lowest precedence.
func WithDefaults(defaults map[string]any) RunOption {
	return func(c *runConfig) { c.defaults = defaults }
}

// New creates an Executor resolving capabilities through registry.
func New(registry *capability.Registry, opts ...Option) *Executor {
	e := &Executor{registry: registry, logger: log.New(io.Discard)}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the registry the executor resolves capabilities through.
func (e *Executor) Registry() *capability.Registry { return e.registry }

// Logger returns the executor's logger.
func (e *Executor) Logger() *log.Logger { return e.logger }

// Run executes steps in order, threading the accumulated result through each call.
func (e *Executor) Run(ctx context.Context, steps []manifest.ChainStep, input capability.Result, ec *capability.ExecutionContext, opts ...RunOption) (*Outcome, error) {
	cfg := newRunConfig(opts)
	out := &Outcome{Data: input.Clone(), Steps: make([]StepRecord, 0, len(steps))}

	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return nil, &StepError{Index: i, Step: step, Err: err}
		}

		start := time.Now()
		result, err := e.call(ctx, step, out.Data, ec, cfg)
		elapsed := time.Since(start)
		if err != nil {
			e.logger.Debug("step aborted chain", "index", i, "step", step.Label(), "error", err)
			return nil, &StepError{Index: i, Step: step, Err: err}
		}

		record := StepRecord{
			Index:      i,
			Name:       step.Name,
			Capability: step.Module,
			Method:     step.Method,
			Duration:   elapsed,
			Failed:     result.Failed(),
			Reason:     result.Reason(),
		}
		out.Steps = append(out.Steps, record)
		e.logger.Debug("step finished", "index", i, "step", step.Label(), "duration", elapsed, "failed", record.Failed)

		if record.Failed && cfg.stopOnFailure {
			return nil, &BusinessFailureError{Index: i, Step: step, Reason: record.Reason, Result: result}
		}

		maps.Copy(out.Data, result)
		if f := result.OutputFile(); f != "" {
			out.OutputFile = f
		}
	}
	return out, nil
}

// Call performs one step against input without touching any accumulated state.
// It is the primitive the orchestrator builds parallel, conditional and loop
// shapes on. Errors are returned unwrapped.
func (e *Executor) Call(ctx context.Context, step manifest.ChainStep, input capability.Result, ec *capability.ExecutionContext, opts ...RunOption) (capability.Result, error) {
	return e.call(ctx, step, input, ec, newRunConfig(opts))
}

func (e *Executor) call(ctx context.Context, step manifest.ChainStep, input capability.Result, ec *capability.ExecutionContext, cfg runConfig) (_ capability.Result, err error) {
	// Covers capability constructors as well as Invoke.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()

	c, err := e.registry.Instantiate(step.Module, ec)
	if err != nil {
		return nil, err
	}

	result, err := c.Invoke(ctx, step.Method, BuildArgs(step, input, cfg.defaults))
	if err != nil {
		return nil, err
	}
	if result == nil {
		result = capability.Result{}
	}
	return result, nil
}

// BuildArgs merges defaults, then step config, then input, and applies the
// step's input_mapping on top.
func BuildArgs(step manifest.ChainStep, input capability.Result, defaults map[string]any) capability.Args {
	args := make(capability.Args, len(defaults)+len(step.Config)+len(input))
	maps.Copy(args, defaults)
	maps.Copy(args, step.Config)
	maps.Copy(args, input)
	for arg, key := range step.InputMapping {
		if v, ok := input[key]; ok {
			args[arg] = v
		}
	}
	return args
}

func newRunConfig(opts []RunOption) runConfig {
	var cfg runConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
