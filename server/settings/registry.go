package settings

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// Handle is the untyped view of an accessor, used where settings of
// different value types must be treated uniformly (the HTTP surface,
// listings). Values cross this interface as their stored JSON encoding.
type Handle interface {
	// Key returns the store key of the setting.
	Key() string

	// DefaultJSON returns the JSON encoding of the setting's default value.
	DefaultJSON() (json.RawMessage, error)

	// CurrentJSON returns the stored JSON value; ok is false when the
	// setting was never set.
	CurrentJSON() (raw json.RawMessage, ok bool, err error)

	// SetJSON decodes raw into the setting's value type and writes it.
	// Rejects input that does not decode, so watchers never receive a value
	// of the wrong shape.
	SetJSON(raw json.RawMessage) error

	// Reset writes the default value.
	Reset() error

	// Remove deletes the setting from the store.
	Remove() error
}

// DefaultJSON implements Handle.
func (a *Accessor[T]) DefaultJSON() (json.RawMessage, error) {
	raw, err := json.Marshal(a.def.Default)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to encode default for setting %s", a.def.Key)
	}
	return raw, nil
}

// CurrentJSON implements Handle.
func (a *Accessor[T]) CurrentJSON() (json.RawMessage, bool, error) {
	raw, ok, err := a.rawGet()
	return raw, ok, err
}

// SetJSON implements Handle.
func (a *Accessor[T]) SetJSON(raw json.RawMessage) error {
	var value T
	if err := json.Unmarshal(raw, &value); err != nil {
		return errors.Wrapf(err, "invalid value for setting %s", a.def.Key)
	}
	return a.Set(value)
}

// Registry indexes the settings a plugin has declared, keyed by store key.
type Registry struct {
	mu      sync.RWMutex
	handles map[string]Handle
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handles: make(map[string]Handle)}
}

// Add registers a setting. Registering two settings under the same key is a
// programming error and is rejected.
func (r *Registry) Add(h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := h.Key()
	if _, exists := r.handles[key]; exists {
		return errors.Errorf("setting %s is already registered", key)
	}
	r.handles[key] = h
	return nil
}

// Get looks up a setting by key.
func (r *Registry) Get(key string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[key]
	return h, ok
}

// All returns every registered setting, ordered by key.
func (r *Registry) All() []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handles := make([]Handle, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i].Key() < handles[j].Key() })
	return handles
}
