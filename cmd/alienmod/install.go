// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
)

func newInstallCommand(app *App) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "install <package>",
		Short: "Verify and install a package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if _, err := app.Sealer(ctx); err != nil {
				return err
			}
			st, err := app.Store(ctx)
			if err != nil {
				return err
			}
			got, err := st.Install(ctx, args[0], force)
			if err != nil {
				return withExitCode(err)
			}
			verb := "Installed"
			if got.Replaced {
				verb = "Replaced"
			}
			fmt.Fprintf(app.stdout, "%s %s %s@%s\n", SuccessStyle.Render("✓"), verb, CmdStyle.Render(got.ID), got.Version)
			fmt.Fprint(app.stdout, field("path", got.Path))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "replace an existing install of the same module")
	return cmd
}

func newUninstallCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall <module-id>",
		Short: "Remove an installed module",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := app.Store(cmd.Context())
			if err != nil {
				return err
			}
			if err := st.Uninstall(cmd.Context(), args[0]); err != nil {
				return withExitCode(err)
			}
			fmt.Fprintf(app.stdout, "%s Uninstalled %s\n", SuccessStyle.Render("✓"), CmdStyle.Render(args[0]))
			return nil
		},
	}
}

func newListCommand(app *App) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List installed modules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := app.Store(cmd.Context())
			if err != nil {
				return err
			}
			modules, err := st.List()
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(app.stdout, modules)
			}
			if len(modules) == 0 {
				fmt.Fprintln(app.stdout, SubtitleStyle.Render("No modules installed in "+st.Root()))
				return nil
			}

			t := table.New().
				Border(lipgloss.NormalBorder()).
				BorderStyle(SubtitleStyle).
				Headers("ID", "VERSION", "MODE", "NAME").
				StyleFunc(func(row, _ int) lipgloss.Style {
					if row == table.HeaderRow {
						return TitleStyle.Padding(0, 1)
					}
					return lipgloss.NewStyle().Padding(0, 1)
				})
			for _, m := range modules {
				t.Row(m.ID, m.Version, m.ExecutionMode, m.Name)
			}
			fmt.Fprintln(app.stdout, t.Render())
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the list as JSON")
	return cmd
}

func newInfoCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "info <module-id>",
		Short: "Show an installed module's manifest and requirement status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := app.Store(ctx)
			if err != nil {
				return err
			}
			m, err := st.Load(args[0])
			if err != nil {
				return withExitCode(err)
			}

			fmt.Fprintln(app.stdout, TitleStyle.Render(m.Name)+" "+SubtitleStyle.Render(m.ID+"@"+m.Version))
			if m.Description != "" {
				fmt.Fprintln(app.stdout, m.Description)
			}
			fmt.Fprintln(app.stdout)
			fmt.Fprint(app.stdout, field("category", string(m.Category)))
			fmt.Fprint(app.stdout, field("mode", string(m.ExecutionMode)))
			fmt.Fprint(app.stdout, field("license", string(m.Pricing.LicenseType)))
			fmt.Fprint(app.stdout, field("author", m.Author.Name))
			fmt.Fprint(app.stdout, field("packaged", m.PackagedAt))
			fmt.Fprint(app.stdout, field("stop on failure", m.StopOnFailure))

			fmt.Fprintln(app.stdout, "\n"+SubtitleStyle.Render("Chain:"))
			for i, step := range m.Primitives {
				fmt.Fprintf(app.stdout, "  %d. %s %s\n", i+1, CmdStyle.Render(step.Module+"."+step.Method), SubtitleStyle.Render(step.Name))
			}

			report, err := st.CheckRequirements(ctx, m.ID)
			if err != nil {
				return err
			}
			fmt.Fprintln(app.stdout, "\n"+SubtitleStyle.Render("Requirements:"))
			app.printRequirementIssues(report.Issues)
			return nil
		},
	}
}

func newRequirementsCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "requirements <module-id>",
		Short: "Check an installed module's host requirements",
		Long: `Check every declared requirement of an installed module against this host.
Exits with status 5 when any requirement is unmet.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := app.Store(cmd.Context())
			if err != nil {
				return err
			}
			report, err := st.CheckRequirements(cmd.Context(), args[0])
			if err != nil {
				return withExitCode(err)
			}
			app.printRequirementIssues(report.Issues)
			if !report.Met {
				return withExitCode(fmt.Errorf("%s: %w: %s", report.ModuleID, errRequirementsNotMet, strings.Join(report.Issues, "; ")))
			}
			return nil
		},
	}
}

func (a *App) printRequirementIssues(issues []string) {
	if len(issues) == 0 {
		fmt.Fprintf(a.stdout, "  %s all requirements met\n", SuccessStyle.Render("✓"))
		return
	}
	for _, i := range issues {
		fmt.Fprintf(a.stdout, "  %s %s\n", ErrorStyle.Render("✗"), i)
	}
}
