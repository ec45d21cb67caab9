package provider

import (
	"fmt"
	"sort"
	"sync"

	"github.com/actionmesh/actionmesh/types"
	"go.uber.org/zap"
)

// Registry maps (category, provider name) to concrete adapters.
// Registration happens during process startup, before any action is
// accepted; an empty registry is a fatal startup condition.
type Registry struct {
	adapters map[registryKey]Adapter
	logger   *zap.Logger
	mu       sync.RWMutex
}

type registryKey struct {
	category Category
	name     string
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		adapters: make(map[registryKey]Adapter),
		logger:   logger.With(zap.String("component", "provider_registry")),
	}
}

// Register constructs the adapter via its factory and installs it under
// (category, name). Duplicate registration and unknown categories are
// configuration errors.
func (r *Registry) Register(category Category, name string, factory Factory) error {
	if !category.Valid() {
		return fmt.Errorf("unknown provider category: %s", category)
	}
	if name == "" {
		return fmt.Errorf("provider name is required")
	}

	adapter, err := factory()
	if err != nil {
		return fmt.Errorf("provider %s/%s factory failed: %w", category, name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	key := registryKey{category: category, name: name}
	if _, exists := r.adapters[key]; exists {
		return fmt.Errorf("provider %s/%s already registered", category, name)
	}
	r.adapters[key] = adapter

	r.logger.Info("provider registered",
		zap.String("category", string(category)),
		zap.String("provider", name),
		zap.Strings("operations", adapter.SupportedOperations()))
	return nil
}

// Resolve returns the adapter for (category, name), or a NOT_FOUND error
// when unregistered.
func (r *Registry) Resolve(category Category, name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[registryKey{category: category, name: name}]
	if !ok {
		return nil, types.NewError(types.ErrNotFound,
			fmt.Sprintf("provider %s/%s is not registered", category, name)).
			WithProvider(name).
			WithHTTPStatus(404)
	}
	return adapter, nil
}

// Operations returns the sorted union of all registered adapters'
// supported operations.
func (r *Registry) Operations() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, adapter := range r.adapters {
		for _, op := range adapter.SupportedOperations() {
			seen[op] = struct{}{}
		}
	}
	ops := make([]string, 0, len(seen))
	for op := range seen {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

// Len returns the number of registered adapters.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.adapters)
}

// MustBeNonEmpty panics when no adapter was registered. Called once at
// startup after all registrations: accepting actions with nothing to route
// them to is a deployment error, not a per-request condition.
func (r *Registry) MustBeNonEmpty() {
	if r.Len() == 0 {
		panic("provider registry is empty: no adapters registered at startup")
	}
}
