package core

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JonMunkholm/stonecat/internal/catalog"
)

var (
	registry   = make(map[string]EntityDefinition)
	registryMu sync.RWMutex
)

// BuildPayloadFunc builds a create payload from a validated row.
type BuildPayloadFunc func(row Row, schema EntitySchema) (any, error)

// CreateFunc sends a payload built by BuildPayloadFunc to the catalog API.
type CreateFunc func(ctx context.Context, api CatalogAPI, payload any) (catalog.CreateOutcome, error)

// EntityDefinition contains everything needed to import one entity type.
// Hierarchy rows have no BuildPayload/Create; they go through the resolver.
type EntityDefinition struct {
	Schema       EntitySchema
	BuildPayload BuildPayloadFunc
	Create       CreateFunc
}

// Key returns the entity type key.
func (d EntityDefinition) Key() string { return d.Schema.Key }

// Hierarchical reports whether rows describe a full variant chain.
func (d EntityDefinition) Hierarchical() bool { return d.Schema.Key == EntityHierarchy }

// Register adds an entity definition to the registry.
// Panics if the key is already registered.
func Register(def EntityDefinition) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[def.Key()]; exists {
		panic(fmt.Sprintf("entity already registered: %s", def.Key()))
	}
	registry[def.Key()] = def
}

// Get returns an entity definition by key.
func Get(key string) (EntityDefinition, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	def, ok := registry[key]
	return def, ok
}

// All returns all registered definitions sorted by key.
func All() []EntityDefinition {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]EntityDefinition, 0, len(registry))
	for _, def := range registry {
		result = append(result, def)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Key() < result[j].Key()
	})
	return result
}

// EntityCount returns the number of registered entity types.
func EntityCount() int {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return len(registry)
}
