package jsonapi

import (
	"sync"

	"github.com/rs/zerolog"

	cklog "github.com/tridentstream/client-kodi/internal/log"
)

// Constructor builds the typed capability wrapper for a resource object of a
// registered type. It runs once, when the document first creates the object.
type Constructor func(*ResourceObject) any

// Registry maps resource type names to constructors. Types without a
// registration fall back to the generic ResourceObject. Registration is
// idempotent; the last constructor registered for a type wins.
type Registry struct {
	logger zerolog.Logger

	mu    sync.RWMutex
	ctors map[string]Constructor
}

// NewRegistry returns an empty type registry.
func NewRegistry() *Registry {
	return &Registry{
		logger: cklog.WithComponent("jsonapi"),
		ctors:  make(map[string]Constructor),
	}
}

// Register installs a constructor for the given resource type.
func (r *Registry) Register(typeName string, ctor Constructor) {
	r.logger.Debug().
		Str("event", "registry.register").
		Str("type", typeName).
		Msg("registering resource type")

	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctors[typeName] = ctor
}

func (r *Registry) construct(obj *ResourceObject) any {
	r.mu.RLock()
	ctor, ok := r.ctors[obj.Type]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	return ctor(obj)
}
