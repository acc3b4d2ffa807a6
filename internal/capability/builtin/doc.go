// SPDX-License-Identifier: MPL-2.0

// Package builtin provides the capabilities shipped with the engine: Echo for
// wiring checks, DataValidation for input checks, Storage over a key-value
// contract, and WorkflowOrchestrator, which exposes parallel, conditional and
// looped execution to manifests.
package builtin

import (
	"github.com/alienmod/alienmod/internal/capability"
	"github.com/alienmod/alienmod/internal/orchestrate"
)

// Deps are the collaborators the builtin capabilities need.
type Deps struct {
	// Orchestrator backs WorkflowOrchestrator. When nil the capability is not registered.
	Orchestrator *orchestrate.Orchestrator
	// KV backs Storage. Defaults to an in-memory store.
	KV KV
}

// Registrations returns every builtin registration.
func Registrations(deps Deps) []capability.Registration {
	if deps.KV == nil {
		deps.KV = NewMemoryKV()
	}
	regs := []capability.Registration{
		Echo(),
		DataValidation(),
		Storage(deps.KV),
	}
	if deps.Orchestrator != nil {
		regs = append(regs, WorkflowOrchestrator(deps.Orchestrator))
	}
	return regs
}

// Register adds every builtin registration to r.
func Register(r *capability.Registry, deps Deps) error {
	for _, reg := range Registrations(deps) {
		if err := r.Register(reg); err != nil {
			return err
		}
	}
	return nil
}
