// SPDX-License-Identifier: MPL-2.0

package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/alienmod/alienmod/internal/capability"
	"github.com/alienmod/alienmod/internal/chain"
	"github.com/alienmod/alienmod/pkg/manifest"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultWorkers bounds parallel fan-out.
	DefaultWorkers = 10
	// DefaultStepTimeout bounds each parallel step.
	DefaultStepTimeout = 60 * time.Second

	// DefaultBranch is used when the condition value matches no branch.
	DefaultBranch = "default"
)

var (
	// ErrTimeout is the sentinel wrapped by TimeoutError.
	ErrTimeout = errors.New("step timed out")
	// ErrNoBranch is the sentinel wrapped by NoBranchError.
	ErrNoBranch = errors.New("no matching branch")
)

type (
	// Options configures an Orchestrator. Zero values select the defaults.
	Options struct {
		Workers     int
		StepTimeout time.Duration
		Logger      *log.Logger
	}

	// Orchestrator runs parallel, conditional and looped shapes.
	Orchestrator struct {
		exec    *chain.Executor
		workers int
		timeout time.Duration
		logger  *log.Logger
	}

	// TimeoutError reports a parallel step that exceeded its timeout. The
	// step's goroutine is abandoned and its late result discarded.
	TimeoutError struct {
		Step    string
		Timeout time.Duration
	}

	// NoBranchError reports a conditional with no matching and no default branch.
	NoBranchError struct {
		Field string
		Value string
	}
)

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("step %s timed out after %s", e.Step, e.Timeout)
}

// Unwrap returns ErrTimeout for errors.Is compatibility.
func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// Error implements the error interface.
func (e *NoBranchError) Error() string {
	return fmt.Sprintf("no branch for %s=%q and no %q branch", e.Field, e.Value, DefaultBranch)
}

// Unwrap returns ErrNoBranch for errors.Is compatibility.
func (e *NoBranchError) Unwrap() error { return ErrNoBranch }

// New creates an Orchestrator on top of exec.
func New(exec *chain.Executor, opts Options) *Orchestrator {
	o := &Orchestrator{
		exec:    exec,
		workers: opts.Workers,
		timeout: opts.StepTimeout,
		logger:  opts.Logger,
	}
	if o.workers <= 0 {
		o.workers = DefaultWorkers
	}
	if o.timeout <= 0 {
		o.timeout = DefaultStepTimeout
	}
	if o.logger == nil {
		o.logger = exec.Logger()
	}
	if o.logger == nil {
		o.logger = log.New(io.Discard)
	}
	return o
}

// Executor returns the underlying chain executor.
func (o *Orchestrator) Executor() *chain.Executor { return o.exec }

// Workers returns the parallel pool size.
func (o *Orchestrator) Workers() int { return o.workers }

// Conditional runs the branch named by input[field], falling back to the
// "default" branch. String values select the branch directly; other values
// are formatted with fmt.Sprint.
func (o *Orchestrator) Conditional(ctx context.Context, field string, branches map[string][]manifest.ChainStep, input capability.Result, ec *capability.ExecutionContext, opts ...chain.RunOption) (*chain.Outcome, error) {
	value, present := input[field]
	key := ""
	if present {
		if s, ok := value.(string); ok {
			key = s
		} else {
			key = fmt.Sprint(value)
		}
	}

	branch, ok := branches[key]
	if !present || !ok {
		if branch, ok = branches[DefaultBranch]; !ok {
			return nil, &NoBranchError{Field: field, Value: key}
		}
		o.logger.Debug("conditional fell back to default branch", "field", field, "value", key)
	}
	return o.exec.Run(ctx, branch, input, ec, opts...)
}

// group returns an errgroup bounded by the worker count.
func (o *Orchestrator) group() *errgroup.Group {
	g := new(errgroup.Group)
	g.SetLimit(o.workers)
	return g
}
