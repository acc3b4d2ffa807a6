// SPDX-License-Identifier: MPL-2.0

package manifest

import (
	"maps"
	"slices"
	"time"
)

// Example returns a scaffold manifest for a new module with a single echo step.
func Example(id string) *Manifest {
	now := time.Now().UTC().Format(time.RFC3339)
	return &Manifest{
		ID:            id,
		Name:          id,
		Version:       DefaultVersion,
		Description:   "Describe what " + id + " does.",
		Category:      "business",
		Tags:          []string{},
		ExecutionMode: ExecutionHybrid,
		Primitives: []ChainStep{
			{
				Name:   "greet",
				Module: "Echo",
				Method: "echo",
				Config: map[string]any{"message": "hello from " + id},
			},
		},
		UI: UIDefinition{
			FormFields: []UIField{},
			OutputType: "text",
		},
		Pricing: Pricing{
			LicenseType:       LicenseFree,
			Currency:          "KES",
			PreviewDays:       7,
			PreviewExecutions: 100,
		},
		Requirements: Requirements{
			MinMemoryMB:     256,
			CompatibleAuras: []string{"default"},
			WASMCompatible:  true,
		},
		Author:    Author{Name: "Unknown"},
		Files:     map[string]string{"config": "config.yaml"},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
