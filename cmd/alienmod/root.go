// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

// NewRootCommand builds the command tree bound to app.
func NewRootCommand(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:   "alienmod",
		Short: "Package, install and run business modules",
		Long: TitleStyle.Render("alienmod") + SubtitleStyle.Render(" - module distribution and execution engine") + `

Modules are directories with a manifest.json describing a chain of
capability calls. alienmod packages them into sealed .alienmodule files,
installs packages into a module root and runs their chains.

` + SubtitleStyle.Render("Examples:") + `
  alienmod init invoice               Scaffold a module source tree
  alienmod package invoice            Build invoice.alienmodule
  alienmod install invoice.alienmodule
  alienmod run invoice --input '{"amount": "120"}'`,
		SilenceUsage: true,
	}
	root.SetOut(app.stdout)
	root.SetErr(app.stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&app.configPath, "config", "", "config file (default is $XDG_CONFIG_HOME/alienmod/config.cue)")
	flags.StringVar(&app.modulesDir, "modules-dir", "", "install root for modules (overrides install_root)")
	flags.StringVar(&app.key, "key", "", "encryption key material (overrides encryption_key)")
	flags.BoolVarP(&app.verbose, "verbose", "v", false, "enable verbose output")

	root.AddCommand(
		newInitCommand(app),
		newPackageCommand(app),
		newInspectCommand(app),
		newValidateCommand(app),
		newInstallCommand(app),
		newUninstallCommand(app),
		newListCommand(app),
		newInfoCommand(app),
		newRequirementsCommand(app),
		newRunCommand(app),
		newCapabilitiesCommand(app),
		newKeygenCommand(app),
		newConfigCommand(app),
	)
	return root
}

func versionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Main runs the CLI and returns the process exit code.
func Main() int {
	app := NewApp(Dependencies{})
	err := fang.Execute(
		context.Background(),
		NewRootCommand(app),
		fang.WithVersion(versionString()),
		fang.WithNotifySignal(os.Interrupt),
	)
	if err == nil {
		return 0
	}
	if app.verbose {
		app.renderGuidance(err)
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return 1
}

// Execute runs the CLI and exits the process. It is called by main.main().
func Execute() {
	os.Exit(Main())
}
