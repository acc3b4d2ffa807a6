// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"github.com/alienmod/alienmod/internal/config"

	"github.com/spf13/cobra"
)

func newConfigCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	var format string
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Long: `Print the configuration after merging defaults, config.cue, environment
variables and flags. The encryption key is redacted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.Config(cmd.Context())
			if err != nil {
				return err
			}
			out, err := config.Render(cfg, format)
			if err != nil {
				return err
			}
			_, err = app.stdout.Write(out)
			return err
		},
	}
	show.Flags().StringVar(&format, "format", config.FormatCUE, "output format: cue, json or toml")
	cmd.AddCommand(show)
	return cmd
}
