// SPDX-License-Identifier: MPL-2.0

package builtin

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/alienmod/alienmod/internal/capability"
)

// StorageName is the registered name of the Storage capability.
const StorageName = "Storage"

type (
	// KV is the key-value contract persistent storage backends implement.
	KV interface {
		Get(ctx context.Context, key string) (value any, found bool, err error)
		Set(ctx context.Context, key string, value any) error
		Delete(ctx context.Context, key string) (existed bool, err error)
		Keys(ctx context.Context, prefix string) ([]string, error)
	}

	// MemoryKV is a process-local KV.
	MemoryKV struct {
		mu   sync.RWMutex
		data map[string]any
	}
)

// NewMemoryKV returns an empty MemoryKV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string]any)}
}

// Get implements KV.
func (m *MemoryKV) Get(_ context.Context, key string) (any, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

// Set implements KV.
func (m *MemoryKV) Set(_ context.Context, key string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

// Delete implements KV.
func (m *MemoryKV) Delete(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	delete(m.data, key)
	return ok, nil
}

// Keys implements KV.
func (m *MemoryKV) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for _, k := range slices.Sorted(maps.Keys(m.data)) {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// Storage returns the Storage capability. Keys are namespaced by the
// executing module so modules cannot read each other's entries.
func Storage(kv KV) capability.Registration {
	return capability.Registration{
		Name:         StorageName,
		Description:  "Module-scoped key-value storage",
		WantsContext: true,
		New: func(ec *capability.ExecutionContext) capability.Capability {
			s := &storage{kv: kv, namespace: "_anonymous/"}
			if ec != nil && ec.ModuleID != "" {
				s.namespace = ec.ModuleID + "/"
			}
			return capability.NewTable(StorageName, capability.Methods{
				"set":       s.set,
				"get":       s.get,
				"delete":    s.remove,
				"list_keys": s.listKeys,
			})
		},
	}
}

type storage struct {
	kv        KV
	namespace string
}

func (s *storage) set(ctx context.Context, args capability.Args) (capability.Result, error) {
	key := args.String("key")
	if key == "" {
		return capability.Failure("key is required"), nil
	}
	if err := s.kv.Set(ctx, s.namespace+key, args["value"]); err != nil {
		return capability.Failuref("storing %s: %v", key, err), nil
	}
	return capability.Result{"success": true, "key": key}, nil
}

func (s *storage) get(ctx context.Context, args capability.Args) (capability.Result, error) {
	key := args.String("key")
	v, found, err := s.kv.Get(ctx, s.namespace+key)
	if err != nil {
		return capability.Failuref("reading %s: %v", key, err), nil
	}
	if !found {
		if def, ok := args["default"]; ok {
			return capability.Result{"success": true, "key": key, "value": def, "found": false}, nil
		}
		return capability.Failuref("key %q not found", key), nil
	}
	return capability.Result{"success": true, "key": key, "value": v, "found": true}, nil
}

func (s *storage) remove(ctx context.Context, args capability.Args) (capability.Result, error) {
	key := args.String("key")
	existed, err := s.kv.Delete(ctx, s.namespace+key)
	if err != nil {
		return capability.Failuref("deleting %s: %v", key, err), nil
	}
	return capability.Result{"success": true, "key": key, "deleted": existed}, nil
}

func (s *storage) listKeys(ctx context.Context, _ capability.Args) (capability.Result, error) {
	keys, err := s.kv.Keys(ctx, s.namespace)
	if err != nil {
		return capability.Failuref("listing keys: %v", err), nil
	}
	out := make([]any, 0, len(keys))
	for _, k := range keys {
		out = append(out, strings.TrimPrefix(k, s.namespace))
	}
	return capability.Result{"success": true, "keys": out}, nil
}
