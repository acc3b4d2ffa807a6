// SPDX-License-Identifier: MPL-2.0

package builtin

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/alienmod/alienmod/internal/capability"
	"github.com/alienmod/alienmod/internal/chain"
	"github.com/alienmod/alienmod/internal/orchestrate"
	"github.com/alienmod/alienmod/pkg/manifest"
)

func newRegistry(t *testing.T) (*capability.Registry, *orchestrate.Orchestrator) {
	t.Helper()

	reg := capability.NewRegistry()
	o := orchestrate.New(chain.New(reg), orchestrate.Options{StepTimeout: time.Second})
	if err := Register(reg, Deps{Orchestrator: o}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	return reg, o
}

func invoke(t *testing.T, reg *capability.Registry, ec *capability.ExecutionContext, name, method string, args capability.Args) capability.Result {
	t.Helper()

	c, err := reg.Instantiate(name, ec)
	if err != nil {
		t.Fatalf("Instantiate(%s) error = %v", name, err)
	}
	res, err := c.Invoke(context.Background(), method, args)
	if err != nil {
		t.Fatalf("%s.%s error = %v", name, method, err)
	}
	return res
}

// jsonArgs decodes a JSON object the way manifest config values arrive.
func jsonArgs(t *testing.T, doc string) capability.Args {
	t.Helper()
	var args capability.Args
	if err := json.Unmarshal([]byte(doc), &args); err != nil {
		t.Fatal(err)
	}
	return args
}

func TestRegisterNames(t *testing.T) {
	t.Parallel()

	reg, _ := newRegistry(t)
	want := []string{DataValidationName, EchoName, StorageName, WorkflowOrchestratorName}
	if got := reg.Names(); !slices.Equal(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}

	plain := capability.NewRegistry()
	if err := Register(plain, Deps{}); err != nil {
		t.Fatal(err)
	}
	if _, ok := plain.Lookup(WorkflowOrchestratorName); ok {
		t.Error("WorkflowOrchestrator registered without an orchestrator")
	}
}

func TestEcho(t *testing.T) {
	t.Parallel()

	reg, _ := newRegistry(t)
	if got := invoke(t, reg, nil, EchoName, "echo", capability.Args{"message": "hi"}); got["message"] != "hi" {
		t.Errorf("echo = %v", got)
	}
	if got := invoke(t, reg, nil, EchoName, "fail", capability.Args{"reason": "boom"}); !got.Failed() || got.Reason() != "boom" {
		t.Errorf("fail = %v", got)
	}
	if got := invoke(t, reg, nil, EchoName, "sleep", capability.Args{"duration": "bogus"}); !got.Failed() {
		t.Errorf("sleep(bogus) = %v, want failure", got)
	}

	c, _ := reg.Instantiate(EchoName, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Invoke(ctx, "sleep", capability.Args{"duration": "1h"}); !errors.Is(err, context.Canceled) {
		t.Errorf("sleep(cancelled) error = %v, want context.Canceled", err)
	}
}

func TestDataValidation(t *testing.T) {
	t.Parallel()

	reg, _ := newRegistry(t)
	tests := []struct {
		name      string
		method    string
		args      capability.Args
		wantValid bool
		check     func(t *testing.T, r capability.Result)
	}{
		{"email ok", "validate_email", capability.Args{"email": " Ada@Example.COM "}, true, func(t *testing.T, r capability.Result) {
			if r["normalized"] != "ada@example.com" {
				t.Errorf("normalized = %v", r["normalized"])
			}
		}},
		{"email bad", "validate_email", capability.Args{"email": "not-an-email"}, false, nil},
		{"phone local", "validate_phone_number", capability.Args{"phone": "0712 345 678"}, true, func(t *testing.T, r capability.Result) {
			if r["normalized"] != "254712345678" {
				t.Errorf("normalized = %v", r["normalized"])
			}
		}},
		{"phone short", "validate_phone_number", capability.Args{"phone": "12345"}, false, nil},
		{"amount in range", "validate_amount", capability.Args{"amount": 150.0, "min_amount": 100.0, "max_amount": 200.0}, true, nil},
		{"amount string", "validate_amount", capability.Args{"amount": "99.5"}, true, nil},
		{"amount too low", "validate_amount", capability.Args{"amount": 5.0, "min_amount": 10.0}, false, nil},
		{"schema ok", "validate_schema", jsonArgs(t, `{"data": {"name": "Ada", "age": 36}, "schema": {"name": {"required": true, "min_length": 2}, "age": {"type": "int", "min": 18}}}`), true, nil},
		{"schema problems", "validate_schema", jsonArgs(t, `{"data": {"age": 12.5}, "schema": {"name": {"required": true}, "age": {"type": "int", "min": 18}}}`), false, func(t *testing.T, r capability.Result) {
			if errs, _ := r["errors"].([]any); len(errs) != 3 {
				t.Errorf("errors = %v, want 3 problems", r["errors"])
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := invoke(t, reg, nil, DataValidationName, tt.method, tt.args)
			if r["valid"] != tt.wantValid {
				t.Errorf("valid = %v, want %v (%v)", r["valid"], tt.wantValid, r)
			}
			if tt.check != nil {
				tt.check(t, r)
			}
		})
	}

	if r := invoke(t, reg, nil, DataValidationName, "validate_schema", capability.Args{}); !r.Failed() {
		t.Errorf("validate_schema without data = %v, want failure", r)
	}

	r := invoke(t, reg, nil, DataValidationName, "sanitize_input", capability.Args{"data": "<b>hi</b>; DROP table\x00"})
	if r["sanitized"] != "&ltb&gthi&lt/b&gt  table" {
		t.Errorf("sanitized = %q", r["sanitized"])
	}
}

func TestStorageNamespacesByModule(t *testing.T) {
	t.Parallel()

	reg, _ := newRegistry(t)
	a := &capability.ExecutionContext{ModuleID: "mod-a"}
	b := &capability.ExecutionContext{ModuleID: "mod-b"}

	invoke(t, reg, a, StorageName, "set", capability.Args{"key": "counter", "value": 1.0})
	if got := invoke(t, reg, a, StorageName, "get", capability.Args{"key": "counter"}); got["value"] != 1.0 {
		t.Errorf("mod-a get = %v", got)
	}
	if got := invoke(t, reg, b, StorageName, "get", capability.Args{"key": "counter"}); !got.Failed() {
		t.Errorf("mod-b read mod-a's key: %v", got)
	}
	if got := invoke(t, reg, b, StorageName, "get", capability.Args{"key": "counter", "default": 0.0}); got["value"] != 0.0 || got.Failed() {
		t.Errorf("mod-b get with default = %v", got)
	}

	keys := invoke(t, reg, a, StorageName, "list_keys", nil)
	if ks, _ := keys["keys"].([]any); len(ks) != 1 || ks[0] != "counter" {
		t.Errorf("list_keys = %v", keys)
	}
	if got := invoke(t, reg, a, StorageName, "delete", capability.Args{"key": "counter"}); got["deleted"] != true {
		t.Errorf("delete = %v", got)
	}
	if got := invoke(t, reg, a, StorageName, "set", capability.Args{}); !got.Failed() {
		t.Errorf("set without key = %v, want failure", got)
	}
}

func TestWorkflowOrchestrator(t *testing.T) {
	t.Parallel()

	reg, _ := newRegistry(t)
	ec := &capability.ExecutionContext{ModuleID: "wf"}

	t.Run("execute", func(t *testing.T) {
		t.Parallel()
		r := invoke(t, reg, ec, WorkflowOrchestratorName, "execute", jsonArgs(t, `{
			"order": 7,
			"steps": [{"module": "Echo", "method": "echo", "input_mapping": {"message": "order"}}]
		}`))
		final, _ := r["final_result"].(map[string]any)
		if r.Failed() || final["message"] != 7.0 {
			t.Errorf("execute = %v", r)
		}
		if _, leaked := final["steps"]; leaked {
			t.Error("control key steps leaked into the nested input")
		}
	})

	t.Run("execute reports nested abort as failure", func(t *testing.T) {
		t.Parallel()
		r := invoke(t, reg, ec, WorkflowOrchestratorName, "execute", jsonArgs(t, `{"steps": [{"module": "Ghost", "method": "x"}]}`))
		if !r.Failed() {
			t.Errorf("execute = %v, want failure", r)
		}
	})

	t.Run("execute rejects malformed steps", func(t *testing.T) {
		t.Parallel()
		r := invoke(t, reg, ec, WorkflowOrchestratorName, "execute", jsonArgs(t, `{"steps": [{"module": "Echo", "method": "echo", "bogus": 1}]}`))
		if !r.Failed() {
			t.Errorf("execute = %v, want failure for unknown step field", r)
		}
	})

	t.Run("parallel", func(t *testing.T) {
		t.Parallel()
		r := invoke(t, reg, ec, WorkflowOrchestratorName, "execute_parallel", jsonArgs(t, `{
			"message": "fan-out",
			"steps": [
				{"name": "a", "module": "Echo", "method": "echo"},
				{"name": "b", "module": "Echo", "method": "nope"}
			]
		}`))
		results, _ := r["step_results"].(map[string]any)
		a, _ := results["a"].(map[string]any)
		b, _ := results["b"].(map[string]any)
		if a["message"] != "fan-out" || b["error"] == nil || r["failed"] != 1 {
			t.Errorf("execute_parallel = %v", r)
		}
	})

	t.Run("conditional", func(t *testing.T) {
		t.Parallel()
		r := invoke(t, reg, ec, WorkflowOrchestratorName, "execute_conditional", jsonArgs(t, `{
			"tier": "gold",
			"condition_field": "tier",
			"branches": {
				"gold": [{"module": "Echo", "method": "echo", "config": {"message": "vip"}}],
				"default": [{"module": "Echo", "method": "echo", "config": {"message": "standard"}}]
			}
		}`))
		final, _ := r["final_result"].(map[string]any)
		if final["message"] != "vip" {
			t.Errorf("execute_conditional = %v", r)
		}
	})

	t.Run("loop", func(t *testing.T) {
		t.Parallel()
		r := invoke(t, reg, ec, WorkflowOrchestratorName, "execute_loop", jsonArgs(t, `{
			"items": ["a", "b", "c"],
			"steps": [{"module": "Echo", "method": "echo", "input_mapping": {"message": "item"}}]
		}`))
		results, _ := r["results"].([]any)
		if r["item_count"] != 3 || len(results) != 3 {
			t.Fatalf("execute_loop = %v", r)
		}
		last, _ := results[2].(map[string]any)
		final, _ := last["final_result"].(map[string]any)
		if final["message"] != "c" || final["index"] != 2 {
			t.Errorf("iteration 3 = %v", last)
		}
	})
}

func TestDecodeStepsFromManifestShape(t *testing.T) {
	t.Parallel()

	var raw any
	if err := json.Unmarshal([]byte(`[{"name": "n", "module": "M", "method": "m", "config": {"k": "v"}, "input_mapping": {"a": "b"}}]`), &raw); err != nil {
		t.Fatal(err)
	}
	steps, err := decodeSteps(raw)
	if err != nil {
		t.Fatalf("decodeSteps() error = %v", err)
	}
	want := manifest.ChainStep{Name: "n", Module: "M", Method: "m", Config: map[string]any{"k": "v"}, InputMapping: map[string]string{"a": "b"}}
	got := steps[0]
	if got.Name != want.Name || got.Module != want.Module || got.Config["k"] != "v" || got.InputMapping["a"] != "b" {
		t.Errorf("decodeSteps() = %+v, want %+v", got, want)
	}

	if _, err := decodeSteps([]any{map[string]any{"module": "M"}}); err == nil {
		t.Error("decodeSteps() without method error = nil")
	}
	if _, err := decodeSteps(nil); err == nil {
		t.Error("decodeSteps(nil) error = nil")
	}
}
