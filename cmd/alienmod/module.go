// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/alienmod/alienmod/internal/issue"
	"github.com/alienmod/alienmod/internal/watch"
	"github.com/alienmod/alienmod/pkg/container"
	"github.com/alienmod/alienmod/pkg/manifest"
	"github.com/alienmod/alienmod/pkg/packager"
	"github.com/alienmod/alienmod/pkg/sealer"

	"github.com/spf13/cobra"
)

const sampleConfig = `# Module defaults. Every key is passed to each step with the lowest precedence.
greeting: hello
`

func newInitCommand(app *App) *cobra.Command {
	var id, name string
	cmd := &cobra.Command{
		Use:   "init <dir>",
		Short: "Scaffold a module source tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := args[0]
			if id == "" {
				id = filepath.Base(filepath.Clean(dir))
			}
			if !manifest.ValidID(id) {
				return issue.NewErrorContext().
					WithOperation("initialize module").
					WithResource(dir).
					WithSuggestion("Use --id with letters, digits, '.', '_' or '-'").
					Wrap(fmt.Errorf("invalid module id %q", id)).
					BuildError()
			}
			manifestPath := filepath.Join(dir, manifest.FileName)
			if _, err := os.Stat(manifestPath); err == nil {
				return fmt.Errorf("%s already exists", manifestPath)
			}

			m := manifest.Example(id)
			if name != "" {
				m.Name = name
			}
			data, err := manifest.Marshal(m)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Join(dir, "assets"), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(manifestPath, data, 0o644); err != nil {
				return err
			}
			if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(sampleConfig), 0o644); err != nil {
				return err
			}

			fmt.Fprintf(app.stdout, "%s Created module %s in %s\n", SuccessStyle.Render("✓"), CmdStyle.Render(id), dir)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "module id (default: directory name)")
	cmd.Flags().StringVar(&name, "name", "", "display name (default: module id)")
	return cmd
}

func newPackageCommand(app *App) *cobra.Command {
	var (
		output    string
		noEncrypt bool
		watchMode bool
	)
	cmd := &cobra.Command{
		Use:   "package <source-dir>",
		Short: "Build a .alienmodule package from a module source tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := app.Sealer(ctx)
			if err != nil {
				return err
			}
			build := func(ctx context.Context) error {
				info, err := packager.Package(ctx, packager.PackageOptions{
					Source:  args[0],
					Output:  output,
					Sealer:  s,
					Encrypt: !noEncrypt,
				})
				if err != nil {
					return err
				}
				app.printPackageInfo(info)
				return nil
			}

			if err := build(ctx); err != nil {
				return withExitCode(err)
			}
			if !watchMode {
				return nil
			}

			w, err := watch.New(watch.Config{
				BaseDir: args[0],
				Logger:  app.logger,
				OnChange: func(ctx context.Context, changed []string) error {
					app.logger.Info("rebuilding", "changed", strings.Join(changed, ", "))
					return build(ctx)
				},
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(app.stdout, SubtitleStyle.Render("Watching "+args[0]+" for changes (Ctrl+C to stop)"))
			return w.Run(ctx)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file or directory (default: next to the source directory)")
	cmd.Flags().BoolVar(&noEncrypt, "no-encrypt", false, "write the payload unsealed (the integrity tag is still computed)")
	cmd.Flags().BoolVar(&watchMode, "watch", false, "re-package whenever the source tree changes")
	return cmd
}

func (a *App) printPackageInfo(info *packager.PackageInfo) {
	fmt.Fprintf(a.stdout, "%s Packaged %s@%s\n", SuccessStyle.Render("✓"), info.ModuleID, info.Version)
	fmt.Fprint(a.stdout, field("path", info.Path))
	fmt.Fprint(a.stdout, field("size", formatSize(info.Size)))
	fmt.Fprint(a.stdout, field("sha256", info.SHA256))
	fmt.Fprint(a.stdout, field("encrypted", info.Encrypted))
	fmt.Fprint(a.stdout, field("files", len(info.Files)))
	for _, m := range info.Missing {
		fmt.Fprintf(a.stdout, "%s declared file %s not found; skipped\n", WarningStyle.Render("!"), m)
	}
}

func newInspectCommand(app *App) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "inspect <package>",
		Short: "Show a package's header and, when readable, its manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := packager.Inspect(args[0])
			if err != nil {
				return withExitCode(err)
			}

			report := inspectReport{Path: info.Path, FormatVersion: info.Version, Encrypted: info.Encrypted, Size: info.Size}
			s, err := app.sealerOrNil(cmd.Context())
			if err != nil {
				return err
			}
			if !info.Encrypted || s != nil {
				if p, err := packager.OpenFile(args[0], s); err == nil {
					report.Files = p.Files()
					if m, err := p.Manifest(); err == nil {
						report.ModuleID, report.Version, report.Name = m.ID, m.Version, m.Name
					}
					if s != nil {
						verified := p.Verify(s) == nil
						report.Verified = &verified
					}
				} else {
					report.Error = err.Error()
				}
			}

			if asJSON {
				return writeJSON(app.stdout, report)
			}
			app.printInspectReport(report)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

type inspectReport struct {
	Path          string   `json:"path"`
	FormatVersion uint16   `json:"format_version"`
	Encrypted     bool     `json:"encrypted"`
	Size          int64    `json:"size"`
	ModuleID      string   `json:"module_id,omitempty"`
	Name          string   `json:"name,omitempty"`
	Version       string   `json:"version,omitempty"`
	Files         []string `json:"files,omitempty"`
	Verified      *bool    `json:"verified,omitempty"`
	Error         string   `json:"error,omitempty"`
}

func (a *App) printInspectReport(r inspectReport) {
	fmt.Fprintln(a.stdout, TitleStyle.Render(filepath.Base(r.Path)))
	fmt.Fprint(a.stdout, field("format", fmt.Sprintf("%s v%d", container.Magic, r.FormatVersion)))
	fmt.Fprint(a.stdout, field("encrypted", r.Encrypted))
	fmt.Fprint(a.stdout, field("size", formatSize(r.Size)))
	if r.ModuleID != "" {
		fmt.Fprint(a.stdout, field("module", r.ModuleID+"@"+r.Version))
		fmt.Fprint(a.stdout, field("name", r.Name))
	}
	if r.Verified != nil {
		status := SuccessStyle.Render("valid")
		if !*r.Verified {
			status = ErrorStyle.Render("INVALID")
		}
		fmt.Fprint(a.stdout, field("integrity", status))
	}
	if len(r.Files) > 0 {
		fmt.Fprint(a.stdout, field("files", r.Files))
	}
	if r.Error != "" {
		fmt.Fprint(a.stdout, field("payload", WarningStyle.Render(r.Error)))
	}
}

func newValidateCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <dir|manifest.json|package>",
		Short: "Validate a module source tree, manifest or package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if isPackage(path) {
				return withExitCode(app.validatePackage(cmd.Context(), path))
			}

			m, err := manifest.Load(path)
			if err != nil {
				return err
			}
			root := path
			if filepath.Base(path) == manifest.FileName {
				root = filepath.Dir(path)
			}
			for _, rel := range m.DeclaredFiles() {
				if _, err := os.Stat(filepath.Join(root, filepath.FromSlash(rel))); errors.Is(err, fs.ErrNotExist) {
					fmt.Fprintf(app.stdout, "%s declared file %s not found\n", WarningStyle.Render("!"), rel)
				}
			}
			fmt.Fprintf(app.stdout, "%s %s is valid\n", SuccessStyle.Render("✓"), m)
			return nil
		},
	}
}

func (a *App) validatePackage(ctx context.Context, path string) error {
	s, err := a.Sealer(ctx)
	if err != nil {
		return err
	}
	p, err := packager.OpenFile(path, s)
	if err != nil {
		return err
	}
	if err := p.Verify(s); err != nil {
		return err
	}
	m, err := p.Manifest()
	if err != nil {
		return err
	}
	if err := p.VerifyHashes(m); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "%s %s is valid (%d files)\n", SuccessStyle.Render("✓"), m, len(p.Files()))
	return nil
}

// isPackage reports whether path is a regular file with the container magic.
func isPackage(path string) bool {
	if strings.HasSuffix(path, container.Extension) {
		return true
	}
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()
	_, err = container.ReadHeader(f)
	return err == nil
}

// sealerOrNil returns the configured sealer, or nil when no key is set.
func (a *App) sealerOrNil(ctx context.Context) (*sealer.Sealer, error) {
	s, err := a.Sealer(ctx)
	if errors.Is(err, errKeyMissing) {
		return nil, nil
	}
	return s, err
}
