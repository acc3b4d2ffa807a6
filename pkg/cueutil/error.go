// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue/errors"
)

type (
	// FieldIssue is one schema violation located by its JSON path.
	FieldIssue struct {
		// Path is the JSON path of the offending field (e.g. "primitives[0].method").
		Path    string
		Message string
	}

	// ValidationError collects every schema violation found in one document.
	ValidationError struct {
		File   string
		Issues []FieldIssue
	}
)

// Error implements the error interface.
func (e *ValidationError) Error() string {
	lines := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		if issue.Path != "" {
			lines = append(lines, issue.Path+": "+issue.Message)
		} else {
			lines = append(lines, issue.Message)
		}
	}
	if len(lines) == 1 {
		return fmt.Sprintf("%s: %s", e.File, lines[0])
	}
	return fmt.Sprintf("%s: validation failed:\n  %s", e.File, strings.Join(lines, "\n  "))
}

// FormatError converts a CUE error into a *ValidationError with JSON-path locations.
// Errors that carry no CUE detail are wrapped with the filename only.
func FormatError(err error, filename string) error {
	if err == nil {
		return nil
	}

	cueErrs := errors.Errors(err)
	if len(cueErrs) == 0 {
		return fmt.Errorf("%s: %w", filename, err)
	}

	verr := &ValidationError{File: filename}
	for _, e := range cueErrs {
		path := jsonPath(errors.Path(e))
		msg := e.Error()
		if path != "" && strings.HasPrefix(msg, path) {
			msg = strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(msg, path), ":"))
		}
		verr.Issues = append(verr.Issues, FieldIssue{Path: path, Message: msg})
	}
	return verr
}

// jsonPath renders ["primitives", "0", "method"] as "primitives[0].method".
func jsonPath(parts []string) string {
	var b strings.Builder
	for i, part := range parts {
		if i > 0 && isIndex(part) {
			b.WriteString("[" + part + "]")
			continue
		}
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(part)
	}
	return b.String()
}

func isIndex(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
