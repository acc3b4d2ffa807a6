// SPDX-License-Identifier: MPL-2.0

package builtin

import (
	"context"
	"fmt"
	"time"

	"github.com/alienmod/alienmod/internal/capability"
)

// EchoName is the registered name of the Echo capability.
const EchoName = "Echo"

// Echo returns the Echo capability: echo returns its message, fail reports a
// business failure and sleep waits for a duration or until cancelled.
func Echo() capability.Registration {
	return capability.Registration{
		Name:        EchoName,
		Description: "Return arguments unchanged; useful for wiring checks",
		New: func(*capability.ExecutionContext) capability.Capability {
			return capability.NewTable(EchoName, capability.Methods{
				"echo":  echo,
				"fail":  fail,
				"sleep": sleep,
			})
		},
	}
}

func echo(_ context.Context, args capability.Args) (capability.Result, error) {
	return capability.Result{"success": true, "message": args["message"]}, nil
}

func fail(_ context.Context, args capability.Args) (capability.Result, error) {
	reason := args.String("reason")
	if reason == "" {
		reason = "failure requested"
	}
	return capability.Failure(reason), nil
}

func sleep(ctx context.Context, args capability.Args) (capability.Result, error) {
	d, err := time.ParseDuration(args.String("duration"))
	if err != nil {
		return capability.Failuref("duration: %v", err), nil
	}
	select {
	case <-time.After(d):
		return capability.Result{"success": true, "slept": d.String()}, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("sleep interrupted: %w", ctx.Err())
	}
}
