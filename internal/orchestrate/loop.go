// SPDX-License-Identifier: MPL-2.0

package orchestrate

import (
	"context"

	"github.com/alienmod/alienmod/internal/capability"
	"github.com/alienmod/alienmod/internal/chain"
	"github.com/alienmod/alienmod/pkg/manifest"
)

const (
	// KeyItem and KeyIndex seed each loop iteration.
	KeyItem  = "item"
	KeyIndex = "index"
)

type (
	// Iteration is the isolated result of one loop pass.
	Iteration struct {
		Index   int
		Item    any
		Outcome *chain.Outcome
		Err     error
	}

	// LoopOutcome holds every iteration in item order.
	LoopOutcome struct {
		Iterations []Iteration
		Count      int
	}
)

// Failed counts iterations that ended with an error.
func (l *LoopOutcome) Failed() int {
	n := 0
	for _, it := range l.Iterations {
		if it.Err != nil {
			n++
		}
	}
	return n
}

// Loop runs steps once per item, seeding each pass with {item, index}. A
// failing iteration is recorded and the loop continues.
func (o *Orchestrator) Loop(ctx context.Context, items []any, steps []manifest.ChainStep, ec *capability.ExecutionContext, opts ...chain.RunOption) *LoopOutcome {
	out := &LoopOutcome{Iterations: make([]Iteration, 0, len(items)), Count: len(items)}
	for i, item := range items {
		seed := capability.Result{KeyItem: item, KeyIndex: i}
		outcome, err := o.exec.Run(ctx, steps, seed, ec, opts...)
		if err != nil {
			o.logger.Debug("loop iteration failed", "index", i, "error", err)
		}
		out.Iterations = append(out.Iterations, Iteration{Index: i, Item: item, Outcome: outcome, Err: err})
	}
	return out
}
