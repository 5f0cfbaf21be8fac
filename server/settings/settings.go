// Package settings provides typed, watchable plugin settings stored in a
// host-provided key-value store. Each setting is described by a Definition
// (key plus default) and accessed through an Accessor, a stateless façade:
// all state lives in the store, so any number of accessor instances for the
// same key, in any server process, observe the same value.
//
// Error propagation is deliberately asymmetric. Explicit mutation and plain
// reads (Get, Set, Remove, Reset) log and return failures so the caller can
// retry or alert. Read-for-display (GetWithDefault) and cleanup paths (Watch
// setup, the unregister function) never surface errors to the caller: they
// log and degrade to the default value or a no-op.
package settings

import (
	"encoding/json"
	"sync"

	"github.com/pkg/errors"

	"github.com/mattermost/mattermost-plugin-settings-store/server/store/kvstore"
)

// ErrStoreUnavailable indicates that the underlying store call failed or
// reported an error through its side channel. It is the only failure kind
// this package produces for store trouble; match it with errors.Is.
var ErrStoreUnavailable = errors.New("settings store unavailable")

// Definition describes one setting: the store key it lives under and the
// value substituted when nothing is stored. It is supplied at construction
// and never changes; the key must be unique within the store's namespace for
// the lifetime of the accessor.
type Definition[T any] struct {
	Key     string
	Default T
}

// Accessor is the typed façade over one setting. It holds only its
// definition and references to the store and logger; it carries no cached
// value and no other mutable state.
type Accessor[T any] struct {
	store kvstore.Store
	def   Definition[T]
	log   kvstore.Logger
}

// New creates an accessor for the given definition. No store access happens
// until an operation is called.
func New[T any](store kvstore.Store, def Definition[T], log kvstore.Logger) *Accessor[T] {
	return &Accessor[T]{store: store, def: def, log: log}
}

// Definition returns the accessor's immutable definition without touching
// the store.
func (a *Accessor[T]) Definition() Definition[T] {
	return a.def
}

// Key returns the store key this accessor operates on.
func (a *Accessor[T]) Key() string {
	return a.def.Key
}

// Get reads the current value. ok is false when the setting was never set.
// A store failure is logged and returned matching ErrStoreUnavailable.
func (a *Accessor[T]) Get() (value T, ok bool, err error) {
	var zero T

	raw, found, err := a.rawGet()
	if err != nil {
		return zero, false, err
	}
	if !found {
		return zero, false, nil
	}

	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		a.log.Error("Failed to decode setting", "key", a.def.Key, "error", err.Error())
		return zero, false, storeFailure("decode", a.def.Key, err)
	}
	return v, true, nil
}

// GetWithDefault reads the current value, substituting the definition's
// default when the setting was never set or when the read fails. It never
// returns an error; failures are logged by Get and absorbed here.
func (a *Accessor[T]) GetWithDefault() T {
	value, ok, err := a.Get()
	if err != nil || !ok {
		return a.def.Default
	}
	return value
}

// Set writes value. The store reports write failures through its side
// channel after the completion callback fires; such a failure is logged and
// returned matching ErrStoreUnavailable, and the value is not committed.
func (a *Accessor[T]) Set(value T) error {
	raw, err := json.Marshal(value)
	if err != nil {
		a.log.Error("Failed to encode setting", "key", a.def.Key, "error", err.Error())
		return errors.Wrapf(err, "failed to encode setting %s", a.def.Key)
	}
	return a.rawSet(raw)
}

// Reset writes the definition's default value.
func (a *Accessor[T]) Reset() error {
	return a.Set(a.def.Default)
}

// Remove deletes the setting from the store entirely; a subsequent Get
// reports it as never set. Store failures are logged and returned matching
// ErrStoreUnavailable.
func (a *Accessor[T]) Remove() error {
	resolve, wait := newResolver[error]()
	a.store.Remove(a.def.Key, func() {
		resolve(a.store.LastError())
	})
	if err := <-wait; err != nil {
		a.log.Error("Failed to remove setting", "key", a.def.Key, "error", err.Error())
		return storeFailure("remove", a.def.Key, err)
	}
	return nil
}

// rawGet reads the stored bytes for the accessor's key. Store failures are
// logged here so every read path reports them once.
func (a *Accessor[T]) rawGet() ([]byte, bool, error) {
	type outcome struct {
		raw []byte
		ok  bool
		err error
	}

	resolve, wait := newResolver[outcome]()
	a.store.Get([]string{a.def.Key}, func(result map[string][]byte) {
		raw, ok := result[a.def.Key]
		resolve(outcome{raw: raw, ok: ok, err: a.store.LastError()})
	})

	out := <-wait
	if out.err != nil {
		a.log.Error("Failed to read setting", "key", a.def.Key, "error", out.err.Error())
		return nil, false, storeFailure("read", a.def.Key, out.err)
	}
	return out.raw, out.ok, nil
}

func (a *Accessor[T]) rawSet(raw []byte) error {
	resolve, wait := newResolver[error]()
	a.store.Set(map[string][]byte{a.def.Key: raw}, func() {
		resolve(a.store.LastError())
	})
	if err := <-wait; err != nil {
		a.log.Error("Failed to write setting", "key", a.def.Key, "error", err.Error())
		return storeFailure("write", a.def.Key, err)
	}
	return nil
}

// newResolver returns a resolve function that delivers at most one outcome
// on the returned channel. Store implementations own the completion
// callback; if a misbehaving one invokes it twice, the extra resolution is
// dropped instead of corrupting a later call.
func newResolver[R any]() (resolve func(R), wait <-chan R) {
	ch := make(chan R, 1)
	var once sync.Once
	return func(r R) {
		once.Do(func() { ch <- r })
	}, ch
}

func storeFailure(op, key string, cause error) error {
	return errors.Wrapf(ErrStoreUnavailable, "%s of setting %s failed: %v", op, key, cause)
}
