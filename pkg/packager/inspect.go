// SPDX-License-Identifier: MPL-2.0

package packager

import (
	"fmt"
	"os"

	"github.com/alienmod/alienmod/pkg/container"
)

// ContainerInfo is the result of a header-only inspection.
type ContainerInfo struct {
	Path      string
	Version   uint16
	Encrypted bool
	Size      int64
}

// Inspect validates a package's header without reading or decrypting the payload.
func Inspect(path string) (_ *ContainerInfo, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening package: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("opening package: %w", err)
	}
	h, err := container.ReadHeader(f)
	if err != nil {
		return nil, err
	}
	return &ContainerInfo{Path: path, Version: h.Version, Encrypted: h.Encrypted, Size: info.Size()}, nil
}
