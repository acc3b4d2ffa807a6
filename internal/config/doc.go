// SPDX-License-Identifier: MPL-2.0

// Package config loads engine configuration with Viper, using CUE as the file
// format.
//
// Precedence, lowest first: built-in defaults, config.cue (validated against
// the embedded #Config schema), ALIENMOD_* environment variables plus the
// legacy MODULE_ENCRYPTION_KEY and MODULES_INSTALL_DIR, then explicit
// overrides from command-line flags.
package config
