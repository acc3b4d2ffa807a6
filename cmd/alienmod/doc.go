// SPDX-License-Identifier: MPL-2.0

// Package cmd contains the alienmod command-line interface.
package cmd
