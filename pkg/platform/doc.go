// SPDX-License-Identifier: MPL-2.0

// Package platform names the host operating systems a module may declare
// and guards module directory names against names some hosts reserve.
package platform
