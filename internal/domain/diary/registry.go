package diary

import (
	"sort"
	"sync"
)

// Registry is the set of identifiers already delivered for one item kind.
// It only grows: there is no removal.
type Registry struct {
	mu        sync.RWMutex
	kind      Kind
	ids       map[string]struct{}
	populated bool
}

// NewRegistry creates an empty, unpopulated registry.
func NewRegistry(kind Kind) *Registry {
	return &Registry{
		kind: kind,
		ids:  make(map[string]struct{}),
	}
}

// RestoreRegistry creates a registry from persisted ids.
// A nil slice means the registry was never baselined.
func RestoreRegistry(kind Kind, ids []string) *Registry {
	r := NewRegistry(kind)
	if ids != nil {
		r.Baseline(ids)
	}
	return r
}

// Kind returns the item kind this registry tracks.
func (r *Registry) Kind() Kind {
	return r.kind
}

// Contains reports whether id was already seen.
func (r *Registry) Contains(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.ids[id]
	return ok
}

// Add marks id as seen. Adding to an unpopulated registry populates it.
func (r *Registry) Add(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids[id] = struct{}{}
	r.populated = true
}

// Baseline adds every id and marks the registry as populated.
func (r *Registry) Baseline(ids []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		r.ids[id] = struct{}{}
	}
	r.populated = true
}

// Populated reports whether the registry holds a baseline.
func (r *Registry) Populated() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.populated
}

// Len returns the number of seen ids.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ids)
}

// IDs returns the seen ids in sorted order, or nil if the registry was never
// populated. The nil/empty distinction survives JSON encoding (null vs []).
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.populated {
		return nil
	}

	ids := make([]string, 0, len(r.ids))
	for id := range r.ids {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Registries bundles the three seen-item registries of a client.
type Registries struct {
	Homeworks *Registry
	Marks     *Registry
	Messages  *Registry
}

// NewRegistries creates three empty, unpopulated registries.
func NewRegistries() *Registries {
	return &Registries{
		Homeworks: NewRegistry(KindHomework),
		Marks:     NewRegistry(KindMark),
		Messages:  NewRegistry(KindMessage),
	}
}

// RegistriesFromSnapshot rebuilds registries from a persisted snapshot.
func RegistriesFromSnapshot(s *Snapshot) *Registries {
	if s == nil {
		return NewRegistries()
	}
	return &Registries{
		Homeworks: RestoreRegistry(KindHomework, s.Homeworks),
		Marks:     RestoreRegistry(KindMark, s.Marks),
		Messages:  RestoreRegistry(KindMessage, s.Messages),
	}
}
