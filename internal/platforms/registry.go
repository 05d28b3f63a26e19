package platforms

import (
	"fmt"

	"github.com/angelmondragon/reelcast-backend/pkg/enums"
)

// Registry resolves the adapter for a platform. It is built once at startup and read-only afterwards.
type Registry struct {
	adapters map[enums.Platform]Adapter
}

// NewRegistry indexes adapters by Platform(). Registering the same platform twice is an error.
func NewRegistry(adapters ...Adapter) (*Registry, error) {
	r := &Registry{adapters: make(map[enums.Platform]Adapter, len(adapters))}
	for _, adapter := range adapters {
		if adapter == nil {
			continue
		}
		platform := adapter.Platform()
		if !platform.IsValid() {
			return nil, fmt.Errorf("adapter reports unknown platform %q", platform)
		}
		if _, exists := r.adapters[platform]; exists {
			return nil, fmt.Errorf("adapter for %s already registered", platform)
		}
		r.adapters[platform] = adapter
	}
	return r, nil
}

func (r *Registry) Get(platform enums.Platform) (Adapter, bool) {
	if r == nil {
		return nil, false
	}
	adapter, ok := r.adapters[platform]
	return adapter, ok
}

// Platforms lists registered platforms in canonical order.
func (r *Registry) Platforms() []enums.Platform {
	if r == nil {
		return nil
	}
	out := make([]enums.Platform, 0, len(r.adapters))
	for _, platform := range enums.Platforms() {
		if _, ok := r.adapters[platform]; ok {
			out = append(out, platform)
		}
	}
	return out
}
