// Package registry tracks the click handler bound to each marker element,
// keyed by location id, so markers can be torn down without leaving handlers
// behind.
package registry

import "sync"

// Handler reacts to a click on a bound element.
type Handler func()

type binding struct {
	elementID string
	handler   Handler
}

// Registry holds at most one handler per location id.
type Registry struct {
	mu         sync.RWMutex
	byLocation map[string]binding
	byElement  map[string]string
}

func New() *Registry {
	return &Registry{
		byLocation: make(map[string]binding),
		byElement:  make(map[string]string),
	}
}

// Bind attaches h to elementID for locationID. A previous binding for the
// same location is replaced, never stacked.
func (r *Registry) Bind(elementID, locationID string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byLocation[locationID]; ok {
		delete(r.byElement, prev.elementID)
	}
	if prevLoc, ok := r.byElement[elementID]; ok && prevLoc != locationID {
		delete(r.byLocation, prevLoc)
	}
	r.byLocation[locationID] = binding{elementID: elementID, handler: h}
	r.byElement[elementID] = locationID
}

// Unbind removes the handler for locationID.
func (r *Registry) Unbind(locationID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.byLocation[locationID]
	if !ok {
		return false
	}
	delete(r.byLocation, locationID)
	delete(r.byElement, b.elementID)
	return true
}

// UnbindAll removes every handler and returns how many were bound. Calling
// it on an empty registry is a no-op.
func (r *Registry) UnbindAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.byLocation)
	r.byLocation = make(map[string]binding)
	r.byElement = make(map[string]string)
	return n
}

// Dispatch invokes the handler bound to elementID. The handler runs without
// the registry lock held.
func (r *Registry) Dispatch(elementID string) bool {
	r.mu.RLock()
	loc, ok := r.byElement[elementID]
	var h Handler
	if ok {
		h = r.byLocation[loc].handler
	}
	r.mu.RUnlock()

	if h == nil {
		return false
	}
	h()
	return true
}

// Lookup returns the location id bound to elementID.
func (r *Registry) Lookup(elementID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	loc, ok := r.byElement[elementID]
	return loc, ok
}

// Element returns the element id bound for locationID.
func (r *Registry) Element(locationID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.byLocation[locationID]
	return b.elementID, ok
}

// Len returns the number of active bindings.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byLocation)
}
