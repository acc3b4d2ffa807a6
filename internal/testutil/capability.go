// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"context"
	"maps"
	"sync"

	"github.com/alienmod/alienmod/internal/capability"
)

// Call is one invocation observed by a Recorder.
type Call struct {
	Method  string
	Args    capability.Args
	Context *capability.ExecutionContext
}

// Recorder is a stub capability that records calls and answers with canned results.
type Recorder struct {
	Name string
	// Results maps method name to the result it returns. Unlisted methods
	// return an empty success.
	Results map[string]capability.Result

	mu    sync.Mutex
	calls []Call
}

// Registration registers the recorder under its Name with WantsContext set.
func (r *Recorder) Registration() capability.Registration {
	return capability.Registration{
		Name:         r.Name,
		WantsContext: true,
		New: func(ec *capability.ExecutionContext) capability.Capability {
			return &recorderInstance{r: r, ec: ec}
		},
	}
}

// Calls returns a copy of the recorded calls.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

type recorderInstance struct {
	r  *Recorder
	ec *capability.ExecutionContext
}

func (ri *recorderInstance) Invoke(_ context.Context, method string, args capability.Args) (capability.Result, error) {
	ri.r.mu.Lock()
	defer ri.r.mu.Unlock()
	ri.r.calls = append(ri.r.calls, Call{Method: method, Args: maps.Clone(args), Context: ri.ec})
	if res, ok := ri.r.Results[method]; ok {
		return res.Clone(), nil
	}
	return capability.Result{}, nil
}
