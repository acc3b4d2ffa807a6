// SPDX-License-Identifier: MPL-2.0

package orchestrate

import (
	"context"
	"errors"
	"maps"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alienmod/alienmod/internal/capability"
	"github.com/alienmod/alienmod/internal/chain"
	"github.com/alienmod/alienmod/pkg/manifest"
)

func newOrchestrator(t *testing.T, opts Options, methods capability.Methods) *Orchestrator {
	t.Helper()

	reg := capability.NewRegistry()
	reg.MustRegister(capability.Registration{Name: "Test", New: func(*capability.ExecutionContext) capability.Capability {
		return capability.NewTable("Test", methods)
	}})
	return New(chain.New(reg), opts)
}

func step(name, method string) manifest.ChainStep {
	return manifest.ChainStep{Name: name, Module: "Test", Method: method}
}

func TestParallelIsolatesTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	o := newOrchestrator(t, Options{StepTimeout: 50 * time.Millisecond}, capability.Methods{
		"ok": func(_ context.Context, args capability.Args) (capability.Result, error) {
			return capability.Result{"success": true, "seen": args["seed"]}, nil
		},
		"hang": func(context.Context, capability.Args) (capability.Result, error) {
			<-release
			return capability.Result{"late": true}, nil
		},
	})

	out := o.Parallel(context.Background(),
		[]manifest.ChainStep{step("ok_step", "ok"), step("timeout_step", "hang")},
		capability.Result{"seed": 7}, nil)

	if len(out.Steps) != 2 {
		t.Fatalf("len(Steps) = %d, want 2", len(out.Steps))
	}
	okStep := out.Steps[0]
	if !okStep.OK() || okStep.Result["seen"] != 7 || okStep.Label != "ok_step" {
		t.Errorf("ok_step = %+v", okStep)
	}

	slow := out.Steps[1]
	var terr *TimeoutError
	if !errors.As(slow.Err, &terr) || !errors.Is(slow.Err, ErrTimeout) {
		t.Fatalf("timeout_step error = %v, want *TimeoutError", slow.Err)
	}
	if terr.Step != "timeout_step" {
		t.Errorf("TimeoutError.Step = %q", terr.Step)
	}
	if slow.Result != nil {
		t.Errorf("timed-out step kept a result: %v", slow.Result)
	}
	if out.Failed() != 1 {
		t.Errorf("Failed() = %d, want 1", out.Failed())
	}
}

func TestParallelIsolatesErrors(t *testing.T) {
	t.Parallel()

	o := newOrchestrator(t, Options{}, capability.Methods{
		"ok": func(context.Context, capability.Args) (capability.Result, error) {
			return capability.Result{"ok": true}, nil
		},
	})

	out := o.Parallel(context.Background(), []manifest.ChainStep{
		step("", "ok"),
		step("", "missing"),
		{Module: "Nope", Method: "x"},
		step("", "ok"),
	}, nil, nil)

	if !out.Steps[0].OK() || !out.Steps[3].OK() {
		t.Errorf("healthy steps failed: %+v / %+v", out.Steps[0], out.Steps[3])
	}
	if !errors.Is(out.Steps[1].Err, capability.ErrUnknownMethod) {
		t.Errorf("Steps[1].Err = %v, want ErrUnknownMethod", out.Steps[1].Err)
	}
	if !errors.Is(out.Steps[2].Err, capability.ErrUnknownCapability) {
		t.Errorf("Steps[2].Err = %v, want ErrUnknownCapability", out.Steps[2].Err)
	}

	byLabel := out.ByLabel()
	if _, ok := byLabel["Test.ok"]; !ok {
		t.Errorf("ByLabel() = %v, missing Test.ok", byLabel)
	}
	if _, ok := byLabel["Test.ok#3"]; !ok {
		t.Errorf("ByLabel() = %v, missing Test.ok#3", byLabel)
	}
}

func TestParallelIsolatesConstructorPanic(t *testing.T) {
	t.Parallel()

	reg := capability.NewRegistry()
	reg.MustRegister(
		capability.Registration{Name: "Ok", New: func(*capability.ExecutionContext) capability.Capability {
			return capability.NewTable("Ok", capability.Methods{
				"run": func(context.Context, capability.Args) (capability.Result, error) {
					return capability.Result{"ok": true}, nil
				},
			})
		}},
		capability.Registration{Name: "Boom", New: func(*capability.ExecutionContext) capability.Capability {
			panic("constructor failed")
		}},
	)
	o := New(chain.New(reg), Options{})

	out := o.Parallel(context.Background(), []manifest.ChainStep{
		{Name: "fine", Module: "Ok", Method: "run"},
		{Name: "boom", Module: "Boom", Method: "x"},
	}, nil, nil)

	if len(out.Steps) != 2 {
		t.Fatalf("len(Steps) = %d, want 2", len(out.Steps))
	}
	if !out.Steps[0].OK() || out.Steps[0].Result["ok"] != true {
		t.Errorf("fine = %+v", out.Steps[0])
	}
	if !errors.Is(out.Steps[1].Err, chain.ErrPanic) {
		t.Errorf("boom error = %v, want ErrPanic", out.Steps[1].Err)
	}
	if out.Failed() != 1 {
		t.Errorf("Failed() = %d, want 1", out.Failed())
	}
}

func TestParallelBoundsConcurrency(t *testing.T) {
	t.Parallel()

	var running, peak atomic.Int32
	o := newOrchestrator(t, Options{Workers: 2}, capability.Methods{
		"work": func(context.Context, capability.Args) (capability.Result, error) {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			running.Add(-1)
			return capability.Result{}, nil
		},
	})

	steps := make([]manifest.ChainStep, 8)
	for i := range steps {
		steps[i] = step("", "work")
	}
	out := o.Parallel(context.Background(), steps, nil, nil)
	if out.Failed() != 0 {
		t.Fatalf("Failed() = %d", out.Failed())
	}
	if got := peak.Load(); got > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", got)
	}
}

func TestParallelParentCancellation(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	o := newOrchestrator(t, Options{StepTimeout: time.Minute}, capability.Methods{
		"hang": func(context.Context, capability.Args) (capability.Result, error) {
			<-release
			return nil, nil
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	out := o.Parallel(ctx, []manifest.ChainStep{step("", "hang")}, nil, nil)
	if !errors.Is(out.Steps[0].Err, context.DeadlineExceeded) {
		t.Errorf("Err = %v, want parent deadline", out.Steps[0].Err)
	}
	if errors.Is(out.Steps[0].Err, ErrTimeout) {
		t.Error("parent cancellation reported as a step timeout")
	}
}

func TestConditional(t *testing.T) {
	t.Parallel()

	o := newOrchestrator(t, Options{}, capability.Methods{
		"tag": func(_ context.Context, args capability.Args) (capability.Result, error) {
			return capability.Result{"branch": args["label"]}, nil
		},
	})
	tagStep := func(label string) []manifest.ChainStep {
		return []manifest.ChainStep{{Module: "Test", Method: "tag", Config: map[string]any{"label": label}}}
	}
	branches := map[string][]manifest.ChainStep{
		"mpesa":   tagStep("mpesa"),
		"42":      tagStep("forty-two"),
		"default": tagStep("fallback"),
	}

	tests := []struct {
		name  string
		input capability.Result
		want  string
	}{
		{"string match", capability.Result{"method": "mpesa"}, "mpesa"},
		{"non-string value", capability.Result{"method": 42}, "forty-two"},
		{"no match uses default", capability.Result{"method": "card"}, "fallback"},
		{"absent field uses default", capability.Result{}, "fallback"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			out, err := o.Conditional(context.Background(), "method", branches, tt.input, nil)
			if err != nil {
				t.Fatalf("Conditional() error = %v", err)
			}
			if out.Data["branch"] != tt.want {
				t.Errorf("branch = %v, want %s", out.Data["branch"], tt.want)
			}
		})
	}

	noDefault := maps.Clone(branches)
	delete(noDefault, "default")
	_, err := o.Conditional(context.Background(), "method", noDefault, capability.Result{"method": "card"}, nil)
	var nerr *NoBranchError
	if !errors.As(err, &nerr) || nerr.Value != "card" || nerr.Field != "method" {
		t.Errorf("Conditional() error = %v, want *NoBranchError for method=card", err)
	}
}

func TestLoopIsolatesIterations(t *testing.T) {
	t.Parallel()

	o := newOrchestrator(t, Options{}, capability.Methods{
		"double": func(_ context.Context, args capability.Args) (capability.Result, error) {
			n := args["item"].(int)
			if n == 2 {
				return nil, errors.New("cannot process item 2")
			}
			return capability.Result{"doubled": n * 2}, nil
		},
	})

	out := o.Loop(context.Background(), []any{1, 2, 3}, []manifest.ChainStep{step("", "double")}, nil)
	if out.Count != 3 || len(out.Iterations) != 3 {
		t.Fatalf("Count = %d, len = %d, want 3", out.Count, len(out.Iterations))
	}
	if out.Failed() != 1 {
		t.Errorf("Failed() = %d, want 1", out.Failed())
	}

	first, second, third := out.Iterations[0], out.Iterations[1], out.Iterations[2]
	if first.Err != nil || first.Outcome.Data["doubled"] != 2 || first.Outcome.Data["index"] != 0 {
		t.Errorf("iteration 1 = %+v", first)
	}
	if second.Err == nil || second.Outcome != nil {
		t.Errorf("iteration 2 = %+v, want error and no outcome", second)
	}
	if third.Err != nil || third.Outcome.Data["doubled"] != 6 || third.Outcome.Data["item"] != 3 {
		t.Errorf("iteration 3 = %+v", third)
	}
}

func TestNewDefaults(t *testing.T) {
	t.Parallel()

	o := New(chain.New(capability.NewRegistry()), Options{})
	if o.Workers() != DefaultWorkers || o.timeout != DefaultStepTimeout {
		t.Errorf("defaults = %d workers / %s", o.Workers(), o.timeout)
	}
}
