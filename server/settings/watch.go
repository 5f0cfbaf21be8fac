package settings

import (
	"encoding/json"
	"sync"

	"github.com/mattermost/mattermost-plugin-settings-store/server/store/kvstore"
)

// Watch invokes fn with the new value every time this setting changes in the
// store, regardless of which accessor instance or server process made the
// change. Changes to other keys are filtered out. When the setting is
// removed, fn receives the zero value of T.
//
// The returned unregister function removes the subscription. It is
// idempotent, and it never fails from the caller's perspective: internal
// unsubscribe errors are logged and swallowed. If subscribing fails in the
// first place, Watch logs the failure and returns a no-op unregister rather
// than an error.
//
// The subscription holds an entry in the store's global listener registry
// until unregister is called. An accessor discarded without unregistering
// leaks that entry for the lifetime of the store; callers own the watcher
// lifecycle.
func (a *Accessor[T]) Watch(fn func(value T)) (unregister func()) {
	sub, err := a.store.Subscribe(func(changes kvstore.ChangeSet) {
		change, ok := changes[a.def.Key]
		if !ok {
			return
		}

		var value T
		if change.NewValue != nil {
			if err := json.Unmarshal(change.NewValue, &value); err != nil {
				a.log.Warn("Discarding undecodable setting change", "key", a.def.Key, "error", err.Error())
				return
			}
		}
		fn(value)
	})
	if err != nil {
		a.log.Error("Failed to watch setting", "key", a.def.Key, "error", err.Error())
		return func() {}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if err := a.store.Unsubscribe(sub); err != nil {
				a.log.Warn("Failed to unregister setting watcher", "key", a.def.Key, "error", err.Error())
			}
		})
	}
}
