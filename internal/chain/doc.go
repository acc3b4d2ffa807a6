// SPDX-License-Identifier: MPL-2.0

// Package chain executes a module's capability chain sequentially.
//
// Each step's call arguments are built from the module defaults, then the
// step's static config, then the accumulated result, so data produced upstream
// always overrides static configuration of the same name. input_mapping
// entries are applied last. The step's output is merged into the accumulated
// result.
//
// Structural failures (unknown capability, unknown method, a call error or
// panic) abort the chain with a *StepError and no partial result. Business
// failures, results carrying success=false, flow on as data unless the run
// asks to stop on failure.
package chain
