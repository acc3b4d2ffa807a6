// SPDX-License-Identifier: MPL-2.0

package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alienmod/alienmod/internal/capability"
	"github.com/alienmod/alienmod/internal/chain"
	"github.com/alienmod/alienmod/pkg/manifest"
)

type (
	// StepOutcome is the isolated result of one parallel step.
	StepOutcome struct {
		Index    int
		Label    string
		Result   capability.Result
		Err      error
		Duration time.Duration
	}

	// ParallelOutcome holds every step's outcome in step order.
	ParallelOutcome struct {
		Steps []StepOutcome
	}

	callResult struct {
		result capability.Result
		err    error
	}
)

// OK reports whether the step completed without error.
func (s StepOutcome) OK() bool { return s.Err == nil }

// Failed counts steps that ended with an error.
func (p *ParallelOutcome) Failed() int {
	n := 0
	for _, s := range p.Steps {
		if s.Err != nil {
			n++
		}
	}
	return n
}

// ByLabel indexes outcomes by step label. Repeated labels get a "#index" suffix.
func (p *ParallelOutcome) ByLabel() map[string]StepOutcome {
	out := make(map[string]StepOutcome, len(p.Steps))
	for _, s := range p.Steps {
		key := s.Label
		if _, dup := out[key]; dup {
			key = fmt.Sprintf("%s#%d", s.Label, s.Index)
		}
		out[key] = s
	}
	return out
}

// Parallel calls every step with the same input on a bounded worker pool.
// Each step has its own timeout; an error or timeout affects only that step.
func (o *Orchestrator) Parallel(ctx context.Context, steps []manifest.ChainStep, input capability.Result, ec *capability.ExecutionContext, opts ...chain.RunOption) *ParallelOutcome {
	out := &ParallelOutcome{Steps: make([]StepOutcome, len(steps))}
	g := o.group()
	for i, step := range steps {
		g.Go(func() error {
			out.Steps[i] = o.runStep(ctx, i, step, input, ec, opts)
			return nil
		})
	}
	_ = g.Wait() // Workers never return errors

	o.logger.Debug("parallel fan-out finished", "steps", len(steps), "failed", out.Failed())
	return out
}

func (o *Orchestrator) runStep(ctx context.Context, index int, step manifest.ChainStep, input capability.Result, ec *capability.ExecutionContext, opts []chain.RunOption) StepOutcome {
	outcome := StepOutcome{Index: index, Label: step.Label()}
	start := time.Now()

	stepCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	// Buffered so an abandoned call can still deliver and exit.
	done := make(chan callResult, 1)
	go func() {
		result, err := o.exec.Call(stepCtx, step, input, ec, opts...)
		done <- callResult{result: result, err: err}
	}()

	select {
	case r := <-done:
		outcome.Result, outcome.Err = r.result, r.err
	case <-stepCtx.Done():
		if errors.Is(stepCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			outcome.Err = &TimeoutError{Step: step.Label(), Timeout: o.timeout}
		} else {
			outcome.Err = ctx.Err()
		}
		o.logger.Debug("parallel step abandoned", "step", step.Label(), "error", outcome.Err)
	}
	outcome.Duration = time.Since(start)
	return outcome
}
