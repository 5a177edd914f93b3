package detection

import (
	"fmt"
	"sort"
	"sync"

	"github.com/matthewbaird/signalintel/internal/keylock"
)

// Factory builds a detector on first use.
type Factory func() (Detector, error)

type registration struct {
	instance    Detector
	factory     Factory
	signalTypes []string
}

// Registry maps detector ids to ready instances or lazy factories.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*registration
	build   keylock.Map
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*registration)}
}

// Register adds a ready detector.
func (r *Registry) Register(d Detector) error {
	id := d.ID()
	if id == "" {
		return fmt.Errorf("register detector: empty id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.entries[id]; dup {
		return fmt.Errorf("register detector %s: already registered", id)
	}
	r.entries[id] = &registration{instance: d, signalTypes: d.SignalTypes()}
	return nil
}

// RegisterFactory adds a detector that is built by f the first time it is
// resolved. signalTypes declares what it emits so routing works before then.
func (r *Registry) RegisterFactory(id string, signalTypes []string, f Factory) error {
	if id == "" || f == nil {
		return fmt.Errorf("register detector factory %q: id and factory are required", id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.entries[id]; dup {
		return fmt.Errorf("register detector %s: already registered", id)
	}
	r.entries[id] = &registration{factory: f, signalTypes: append([]string(nil), signalTypes...)}
	return nil
}

// Unregister removes id and reports whether it was present.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[id]
	delete(r.entries, id)
	return ok
}

// List returns the registered ids, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count returns the number of registered detectors.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[id]
	return ok
}

// Resolve returns the instance for id, building it once from its factory.
// Concurrent resolves of the same id share one build. A failed build is not
// cached.
func (r *Registry) Resolve(id string) (Detector, error) {
	r.mu.RLock()
	reg, ok := r.entries[id]
	var d Detector
	if ok {
		d = reg.instance
	}
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("resolve detector %s: not registered", id)
	}
	if d != nil {
		return d, nil
	}

	unlock := r.build.Lock(id)
	defer unlock()

	r.mu.RLock()
	d, factory := reg.instance, reg.factory
	r.mu.RUnlock()
	if d != nil {
		return d, nil
	}
	d, err := factory()
	if err != nil {
		return nil, fmt.Errorf("build detector %s: %w", id, err)
	}
	if d.ID() != id {
		return nil, fmt.Errorf("build detector %s: factory returned %q", id, d.ID())
	}
	r.mu.Lock()
	reg.instance = d
	if len(reg.signalTypes) == 0 {
		reg.signalTypes = d.SignalTypes()
	}
	r.mu.Unlock()
	return d, nil
}

// SignalTypes maps each registered detector id to its declared signal types.
func (r *Registry) SignalTypes() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string][]string, len(r.entries))
	for id, reg := range r.entries {
		out[id] = append([]string(nil), reg.signalTypes...)
	}
	return out
}

// FindDetectorForSignalType returns the id of the detector that declares
// signalType. When several do, the lowest id wins.
func (r *Registry) FindDetectorForSignalType(signalType string) (string, bool) {
	for _, id := range r.List() {
		r.mu.RLock()
		reg, ok := r.entries[id]
		var declared []string
		if ok {
			declared = reg.signalTypes
		}
		r.mu.RUnlock()
		for _, t := range declared {
			if t == signalType {
				return id, true
			}
		}
	}
	return "", false
}
