// SPDX-License-Identifier: MPL-2.0

package config

import (
	"time"

	"github.com/alienmod/alienmod/internal/orchestrate"
	"github.com/alienmod/alienmod/internal/store"
)

// DefaultInstallRoot is relative to the working directory.
const DefaultInstallRoot = "installed_modules"

type (
	// Config is the effective engine configuration.
	Config struct {
		InstallRoot   string             `mapstructure:"install_root"`
		EncryptionKey string             `mapstructure:"encryption_key"`
		Parallel      ParallelConfig     `mapstructure:"parallel"`
		Log           LogConfig          `mapstructure:"log"`
		Requirements  RequirementsConfig `mapstructure:"requirements"`
	}

	// ParallelConfig sizes the orchestrator's worker pool.
	ParallelConfig struct {
		Workers     int           `mapstructure:"workers"`
		StepTimeout time.Duration `mapstructure:"step_timeout"`
	}

	// LogConfig controls CLI log output.
	LogConfig struct {
		Level string `mapstructure:"level"`
	}

	// RequirementsConfig configures host probes.
	RequirementsConfig struct {
		HALStatusURL string        `mapstructure:"hal_status_url"`
		ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
	}

	// document is the rendered form of a Config. Durations are strings and the
	// key is redacted.
	document struct {
		InstallRoot   string `json:"install_root" toml:"install_root"`
		EncryptionKey string `json:"encryption_key,omitempty" toml:"encryption_key,omitempty"`
		Parallel      struct {
			Workers     int    `json:"workers" toml:"workers"`
			StepTimeout string `json:"step_timeout" toml:"step_timeout"`
		} `json:"parallel" toml:"parallel"`
		Log struct {
			Level string `json:"level" toml:"level"`
		} `json:"log" toml:"log"`
		Requirements struct {
			HALStatusURL string `json:"hal_status_url" toml:"hal_status_url"`
			ProbeTimeout string `json:"probe_timeout" toml:"probe_timeout"`
		} `json:"requirements" toml:"requirements"`
	}
)

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		InstallRoot: DefaultInstallRoot,
		Parallel: ParallelConfig{
			Workers:     orchestrate.DefaultWorkers,
			StepTimeout: orchestrate.DefaultStepTimeout,
		},
		Log: LogConfig{Level: "info"},
		Requirements: RequirementsConfig{
			HALStatusURL: store.DefaultHALStatusURL,
			ProbeTimeout: store.DefaultProbeTimeout,
		},
	}
}

func (c *Config) document() document {
	var d document
	d.InstallRoot = c.InstallRoot
	if c.EncryptionKey != "" {
		d.EncryptionKey = redacted
	}
	d.Parallel.Workers = c.Parallel.Workers
	d.Parallel.StepTimeout = c.Parallel.StepTimeout.String()
	d.Log.Level = c.Log.Level
	d.Requirements.HALStatusURL = c.Requirements.HALStatusURL
	d.Requirements.ProbeTimeout = c.Requirements.ProbeTimeout.String()
	return d
}
