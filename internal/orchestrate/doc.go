// SPDX-License-Identifier: MPL-2.0

// Package orchestrate adds parallel, conditional and looped execution shapes
// on top of the chain executor.
//
// Parallel and loop failures are isolated per unit of work: each step or
// iteration records its own error and siblings are unaffected. A conditional
// runs one branch as an ordinary chain and therefore aborts like one.
package orchestrate
