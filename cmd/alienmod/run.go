// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/alienmod/alienmod/internal/capability"
	"github.com/alienmod/alienmod/internal/runner"

	"github.com/spf13/cobra"
)

func newRunCommand(app *App) *cobra.Command {
	var (
		inputJSON string
		inputFile string
		userID    string
		token     string
	)
	cmd := &cobra.Command{
		Use:   "run <module-id>",
		Short: "Run an installed module's chain",
		Long: `Run an installed module's chain and print the accumulated result as JSON.

The input object seeds the result. Each step receives the module defaults,
its static config and the accumulated result, in increasing precedence.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := readInput(inputJSON, inputFile)
			if err != nil {
				return err
			}
			r, err := app.Runner(cmd.Context())
			if err != nil {
				return err
			}
			out, err := r.Run(cmd.Context(), runner.Request{
				ModuleID:  args[0],
				UserID:    userID,
				AuthToken: token,
				Input:     input,
			})
			if err != nil {
				return withExitCode(err)
			}

			for _, step := range out.Steps {
				if step.Failed {
					app.logger.Warn("step reported failure", "step", step.Index, "capability", step.Capability, "method", step.Method, "reason", step.Reason)
				}
			}
			return writeJSON(app.stdout, out.Data)
		},
	}
	cmd.Flags().StringVar(&inputJSON, "input", "", "input object as JSON")
	cmd.Flags().StringVar(&inputFile, "input-file", "", "read the input object from a JSON file")
	cmd.Flags().StringVar(&userID, "user", "", "user id passed to capabilities")
	cmd.Flags().StringVar(&token, "token", "", "auth token passed to capabilities")
	cmd.MarkFlagsMutuallyExclusive("input", "input-file")
	return cmd
}

func readInput(inline, path string) (map[string]any, error) {
	data := []byte(inline)
	if path != "" {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return nil, fmt.Errorf("reading input: %w", err)
		}
	}
	if len(data) == 0 {
		return map[string]any{}, nil
	}
	var input map[string]any
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, fmt.Errorf("input must be a JSON object: %w", err)
	}
	return input, nil
}

func newCapabilitiesCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "capabilities",
		Short: "List registered capabilities and their methods",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := app.Registry(cmd.Context())
			if err != nil {
				return err
			}
			for _, name := range reg.Names() {
				r, _ := reg.Lookup(name)
				fmt.Fprintf(app.stdout, "%s  %s\n", CmdStyle.Render(name), SubtitleStyle.Render(r.Description))
				c, err := reg.Instantiate(name, &capability.ExecutionContext{})
				if err != nil {
					return err
				}
				if lister, ok := c.(capability.MethodLister); ok {
					for _, m := range lister.MethodNames() {
						fmt.Fprintf(app.stdout, "  - %s\n", m)
					}
				}
			}
			return nil
		},
	}
}
