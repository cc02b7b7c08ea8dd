package widget

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// DrawConfigs is the opaque per-widget rendering configuration.
type DrawConfigs map[string]any

// RenderFunc populates a container from fetched data.
type RenderFunc func(container *Container, data any, drawConfigs DrawConfigs) error

// ModuleRegistry maps module type names to render functions. Registration is append-only.
type ModuleRegistry struct {
	mutex     sync.RWMutex
	renderers map[string]RenderFunc
}

// NewModuleRegistry returns an empty registry.
func NewModuleRegistry() *ModuleRegistry {
	return &ModuleRegistry{renderers: make(map[string]RenderFunc)}
}

// Register adds a render function under name. Names are unique.
func (registry *ModuleRegistry) Register(name string, renderFunc RenderFunc) error {
	normalizedName := strings.TrimSpace(name)
	if normalizedName == "" {
		return fmt.Errorf("%w: empty name", ErrRenderModule)
	}
	if renderFunc == nil {
		return fmt.Errorf("%w: nil render function for %q", ErrRenderModule, normalizedName)
	}
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	if _, exists := registry.renderers[normalizedName]; exists {
		return fmt.Errorf("%w: %q already registered", ErrRenderModule, normalizedName)
	}
	registry.renderers[normalizedName] = renderFunc
	return nil
}

// Lookup resolves a render function by type name.
func (registry *ModuleRegistry) Lookup(name string) (RenderFunc, bool) {
	if registry == nil {
		return nil, false
	}
	registry.mutex.RLock()
	defer registry.mutex.RUnlock()
	renderFunc, found := registry.renderers[name]
	return renderFunc, found
}

// Names lists the registered types in order.
func (registry *ModuleRegistry) Names() []string {
	registry.mutex.RLock()
	defer registry.mutex.RUnlock()
	names := make([]string, 0, len(registry.renderers))
	for name := range registry.renderers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
