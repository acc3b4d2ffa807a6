// SPDX-License-Identifier: MPL-2.0

package builtin

import (
	"context"
	"fmt"

	"github.com/alienmod/alienmod/internal/capability"
	"github.com/alienmod/alienmod/internal/chain"
	"github.com/alienmod/alienmod/internal/orchestrate"
	"github.com/alienmod/alienmod/pkg/manifest"

	"github.com/go-viper/mapstructure/v2"
)

// WorkflowOrchestratorName is the registered name of the WorkflowOrchestrator capability.
const WorkflowOrchestratorName = "WorkflowOrchestrator"

// Argument keys that configure a workflow rather than feed it.
var workflowControlKeys = []string{"steps", "branches", "condition_field", "items"}

// WorkflowOrchestrator returns the capability exposing nested execution shapes
// to manifests. Nested failures are reported as business failures so the
// enclosing chain decides whether to stop.
func WorkflowOrchestrator(o *orchestrate.Orchestrator) capability.Registration {
	return capability.Registration{
		Name:         WorkflowOrchestratorName,
		Description:  "Run nested sequential, parallel, conditional and looped chains",
		WantsContext: true,
		New: func(ec *capability.ExecutionContext) capability.Capability {
			w := &workflow{o: o, ec: ec}
			return capability.NewTable(WorkflowOrchestratorName, capability.Methods{
				"execute":             w.execute,
				"execute_parallel":    w.executeParallel,
				"execute_conditional": w.executeConditional,
				"execute_loop":        w.executeLoop,
			})
		},
	}
}

type workflow struct {
	o  *orchestrate.Orchestrator
	ec *capability.ExecutionContext
}

func (w *workflow) execute(ctx context.Context, args capability.Args) (capability.Result, error) {
	steps, err := decodeSteps(args["steps"])
	if err != nil {
		return capability.Failuref("steps: %v", err), nil
	}
	out, err := w.o.Executor().Run(ctx, steps, workflowInput(args), w.ec)
	if err != nil {
		return capability.Failure(err.Error()), nil
	}
	return outcomeResult(out), nil
}

func (w *workflow) executeParallel(ctx context.Context, args capability.Args) (capability.Result, error) {
	steps, err := decodeSteps(args["steps"])
	if err != nil {
		return capability.Failuref("steps: %v", err), nil
	}
	out := w.o.Parallel(ctx, steps, workflowInput(args), w.ec)

	results := make(map[string]any, len(out.Steps))
	for label, s := range out.ByLabel() {
		if s.Err != nil {
			results[label] = map[string]any{"error": s.Err.Error()}
			continue
		}
		results[label] = map[string]any(s.Result)
	}
	return capability.Result{"success": true, "step_results": results, "failed": out.Failed()}, nil
}

func (w *workflow) executeConditional(ctx context.Context, args capability.Args) (capability.Result, error) {
	field := args.String("condition_field")
	if field == "" {
		return capability.Failure("condition_field is required"), nil
	}
	rawBranches, ok := args["branches"].(map[string]any)
	if !ok {
		return capability.Failure("branches: expected an object of step lists"), nil
	}
	branches := make(map[string][]manifest.ChainStep, len(rawBranches))
	for name, raw := range rawBranches {
		steps, err := decodeSteps(raw)
		if err != nil {
			return capability.Failuref("branches.%s: %v", name, err), nil
		}
		branches[name] = steps
	}

	out, err := w.o.Conditional(ctx, field, branches, workflowInput(args), w.ec)
	if err != nil {
		return capability.Failure(err.Error()), nil
	}
	return outcomeResult(out), nil
}

func (w *workflow) executeLoop(ctx context.Context, args capability.Args) (capability.Result, error) {
	items, ok := args["items"].([]any)
	if !ok {
		return capability.Failure("items: expected a list"), nil
	}
	steps, err := decodeSteps(args["steps"])
	if err != nil {
		return capability.Failuref("steps: %v", err), nil
	}

	out := w.o.Loop(ctx, items, steps, w.ec)
	results := make([]any, 0, len(out.Iterations))
	for _, it := range out.Iterations {
		if it.Err != nil {
			results = append(results, map[string]any{"success": false, "error": it.Err.Error()})
			continue
		}
		results = append(results, map[string]any(outcomeResult(it.Outcome)))
	}
	return capability.Result{"success": true, "results": results, "item_count": out.Count, "failed": out.Failed()}, nil
}

// decodeSteps converts a JSON-shaped step list into chain steps.
func decodeSteps(raw any) ([]manifest.ChainStep, error) {
	if raw == nil {
		return nil, fmt.Errorf("a list of steps is required")
	}
	var steps []manifest.ChainStep
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:     "json",
		ErrorUnused: true,
		Result:      &steps,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(raw); err != nil {
		return nil, err
	}
	for i, s := range steps {
		if s.Module == "" || s.Method == "" {
			return nil, fmt.Errorf("step %d: module and method are required", i)
		}
	}
	return steps, nil
}

func workflowInput(args capability.Args) capability.Result {
	input := make(capability.Result, len(args))
	for k, v := range args {
		input[k] = v
	}
	for _, k := range workflowControlKeys {
		delete(input, k)
	}
	return input
}

func outcomeResult(out *chain.Outcome) capability.Result {
	result := capability.Result{"success": true, "final_result": map[string]any(out.Data)}
	if out.OutputFile != "" {
		result[capability.KeyOutputFile] = out.OutputFile
	}
	return result
}
