// SPDX-License-Identifier: MPL-2.0

package packager

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io/fs"
)

// writeZip archives the listed files of fsys in the given order. Entries carry
// no timestamps so identical trees produce identical archives.
func writeZip(fsys fs.FS, entries []string) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	for _, name := range entries {
		data, readErr := fs.ReadFile(fsys, name)
		if readErr != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, readErr)
		}

		header := &zip.FileHeader{Name: name, Method: zip.Deflate}
		header.SetMode(0o644)
		w, createErr := zw.CreateHeader(header)
		if createErr != nil {
			return nil, fmt.Errorf("failed to create ZIP entry %s: %w", name, createErr)
		}
		if _, writeErr := w.Write(data); writeErr != nil {
			return nil, fmt.Errorf("failed to write ZIP entry %s: %w", name, writeErr)
		}
	}

	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
