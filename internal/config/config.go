// SPDX-License-Identifier: MPL-2.0

package config

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/alienmod/alienmod/internal/issue"
	"github.com/alienmod/alienmod/pkg/cueutil"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

const (
	// AppName names the configuration directory.
	AppName = "alienmod"
	// FileName is the configuration file looked up in the config directory
	// and then in the working directory.
	FileName = "config.cue"
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "ALIENMOD"

	// FormatCUE, FormatJSON and FormatTOML are accepted by Render.
	FormatCUE  = "cue"
	FormatJSON = "json"
	FormatTOML = "toml"

	redacted = "<redacted>"
)

//go:embed config_schema.cue
var schemaSource string

var (
	schema = cueutil.NewSchema(schemaSource, "#Config")

	// ErrInvalidConfig is wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid configuration")

	// legacyEnv are the variable names older deployments use.
	legacyEnv = map[string]string{
		"encryption_key": "MODULE_ENCRYPTION_KEY",
		"install_root":   "MODULES_INSTALL_DIR",
	}
)

type (
	// LoadOptions selects the configuration sources.
	LoadOptions struct {
		// ConfigFilePath forces one file; it must exist.
		ConfigFilePath string
		// ConfigDirPath replaces the platform config directory.
		ConfigDirPath string
		// Overrides are applied last, keyed by dotted config key.
		Overrides map[string]any
	}

	// InvalidConfigError reports a value outside its allowed range after all
	// sources were merged.
	InvalidConfigError struct {
		Key    string
		Value  any
		Reason string
	}
)

// Error implements the error interface.
func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("%s = %v: %s", e.Key, e.Value, e.Reason)
}

// Unwrap returns ErrInvalidConfig.
func (e *InvalidConfigError) Unwrap() error { return ErrInvalidConfig }

// Dir returns the platform configuration directory: %APPDATA% on Windows,
// ~/Library/Application Support on macOS and $XDG_CONFIG_HOME elsewhere.
func Dir() (string, error) {
	var base string
	switch runtime.GOOS {
	case "windows":
		base = os.Getenv("APPDATA")
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		base = filepath.Join(home, "Library", "Application Support")
	default:
		base = os.Getenv("XDG_CONFIG_HOME")
	}
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, AppName), nil
}

// Load merges every configuration source. It returns the config and the path
// of the file used, or "" when only defaults and the environment applied.
func Load(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", fmt.Errorf("load config canceled: %w", err)
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		if err := v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(key), legacy); err != nil {
			return nil, "", err
		}
	}

	path, err := resolveFile(opts)
	if err != nil {
		return nil, "", err
	}
	if path != "" {
		if err := mergeFile(v, path); err != nil {
			return nil, "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(path).
				WithSuggestion("Check that the file contains valid CUE syntax").
				WithSuggestion("Run 'alienmod config show' to see the effective configuration").
				Wrap(err).
				BuildError()
		}
	}

	for key, value := range opts.Overrides {
		v.Set(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return &cfg, path, nil
}

// Validate checks constraints the environment and flags can violate after
// the file passed schema validation.
func (c *Config) Validate() error {
	switch {
	case c.InstallRoot == "":
		return &InvalidConfigError{Key: "install_root", Value: `""`, Reason: "must not be empty"}
	case c.Parallel.Workers < 1:
		return &InvalidConfigError{Key: "parallel.workers", Value: c.Parallel.Workers, Reason: "must be at least 1"}
	case c.Parallel.StepTimeout <= 0:
		return &InvalidConfigError{Key: "parallel.step_timeout", Value: c.Parallel.StepTimeout, Reason: "must be positive"}
	case c.Requirements.ProbeTimeout <= 0:
		return &InvalidConfigError{Key: "requirements.probe_timeout", Value: c.Requirements.ProbeTimeout, Reason: "must be positive"}
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return &InvalidConfigError{Key: "log.level", Value: c.Log.Level, Reason: "must be debug, info, warn or error"}
	}
	return nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("install_root", d.InstallRoot)
	v.SetDefault("encryption_key", d.EncryptionKey)
	v.SetDefault("parallel.workers", d.Parallel.Workers)
	v.SetDefault("parallel.step_timeout", d.Parallel.StepTimeout)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("requirements.hal_status_url", d.Requirements.HALStatusURL)
	v.SetDefault("requirements.probe_timeout", d.Requirements.ProbeTimeout)
}

// resolveFile picks the explicit file, then the config directory, then the
// working directory.
func resolveFile(opts LoadOptions) (string, error) {
	if opts.ConfigFilePath != "" {
		if !fileExists(opts.ConfigFilePath) {
			return "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(opts.ConfigFilePath).
				WithSuggestion("Verify the file path is correct").
				Wrap(fmt.Errorf("config file not found: %s", opts.ConfigFilePath)).
				BuildError()
		}
		return opts.ConfigFilePath, nil
	}

	dir := opts.ConfigDirPath
	if dir == "" {
		var err error
		if dir, err = Dir(); err != nil {
			return "", err
		}
	}
	for _, candidate := range []string{filepath.Join(dir, FileName), FileName} {
		if fileExists(candidate) {
			return candidate, nil
		}
	}
	return "", nil
}

// mergeFile validates a CUE file against #Config and merges it into v.
func mergeFile(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	doc, err := cueutil.DecodeMap(schema, data, cueutil.WithConcrete(false), cueutil.WithFilename(path))
	if err != nil {
		return err
	}
	if err := v.MergeConfigMap(doc); err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}
	return nil
}

// Render formats cfg as CUE, JSON or TOML. The encryption key is never printed.
func Render(cfg *Config, format string) ([]byte, error) {
	switch format {
	case "", FormatCUE:
		return []byte(GenerateCUE(cfg)), nil
	case FormatJSON:
		out, err := json.MarshalIndent(cfg.document(), "", "  ")
		if err != nil {
			return nil, err
		}
		return append(out, '\n'), nil
	case FormatTOML:
		var buf bytes.Buffer
		enc := toml.NewEncoder(&buf)
		enc.SetIndentTables(true)
		if err := enc.Encode(cfg.document()); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unknown format %q (want %s, %s or %s)", format, FormatCUE, FormatJSON, FormatTOML)
	}
}

// GenerateCUE renders cfg as a config.cue document.
func GenerateCUE(cfg *Config) string {
	d := cfg.document()
	var sb strings.Builder

	sb.WriteString("// alienmod configuration\n\n")
	fmt.Fprintf(&sb, "install_root: %q\n", d.InstallRoot)
	if d.EncryptionKey != "" {
		fmt.Fprintf(&sb, "encryption_key: %q\n", d.EncryptionKey)
	}

	sb.WriteString("\nparallel: {\n")
	fmt.Fprintf(&sb, "\tworkers:      %d\n", d.Parallel.Workers)
	fmt.Fprintf(&sb, "\tstep_timeout: %q\n", d.Parallel.StepTimeout)
	sb.WriteString("}\n")

	sb.WriteString("\nlog: {\n")
	fmt.Fprintf(&sb, "\tlevel: %q\n", d.Log.Level)
	sb.WriteString("}\n")

	sb.WriteString("\nrequirements: {\n")
	fmt.Fprintf(&sb, "\thal_status_url: %q\n", d.Requirements.HALStatusURL)
	fmt.Fprintf(&sb, "\tprobe_timeout:  %q\n", d.Requirements.ProbeTimeout)
	sb.WriteString("}\n")

	return sb.String()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
