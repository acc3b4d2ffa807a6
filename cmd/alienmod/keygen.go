// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"

	"github.com/alienmod/alienmod/pkg/sealer"

	"github.com/spf13/cobra"
)

func newKeygenCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Print fresh random key material",
		Long: `Print 32 random bytes in URL-safe base64. Use the output as
ALIENMOD_ENCRYPTION_KEY on every host that packages or installs modules.`,
		Args: cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			fmt.Fprintln(app.stdout, sealer.GenerateKey())
			return nil
		},
	}
}
