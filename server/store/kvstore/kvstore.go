package kvstore

// Store is the host-provided key-value service the settings accessors are
// built on. The contract deliberately mirrors the awkward shape of platform
// storage APIs: calls complete through a callback, and failures are reported
// through a side channel rather than a return value. The accessor layer in
// server/settings is responsible for converting this into ordinary Go error
// returns; nothing above this package should have to know about LastError.
//
// Implementations must hold their operation lock across the completion
// callback so that LastError, read from within the callback, reports the
// outcome of that specific call.
type Store interface {
	// Get looks up the given keys and invokes done with the values found.
	// Keys that were never set are absent from the result map. On failure
	// done is invoked with a nil map and LastError reports the cause.
	Get(keys []string, done func(result map[string][]byte))

	// Set writes all entries, then invokes done. On failure LastError
	// reports the cause and the failed entries are not committed.
	Set(entries map[string][]byte, done func())

	// Remove deletes key, then invokes done. Removing a key that was never
	// set is not an error.
	Remove(key string, done func())

	// LastError reports the error of the call whose completion callback is
	// currently executing, or nil if it succeeded.
	LastError() error

	// Subscribe registers fn on the store-wide change feed. The listener
	// receives every change batch, regardless of key; filtering is the
	// caller's job.
	Subscribe(fn Listener) (*Subscription, error)

	// Unsubscribe removes a previously registered listener. Unsubscribing a
	// handle that was already removed is a no-op.
	Unsubscribe(sub *Subscription) error
}

// Change describes one key's transition in a change batch. A nil NewValue
// means the key was removed; a nil OldValue means it did not exist before.
// Values are raw stored bytes, so a batch can be serialized and replayed on
// another node.
type Change struct {
	NewValue []byte `json:"new_value,omitempty"`
	OldValue []byte `json:"old_value,omitempty"`
}

// ChangeSet maps changed keys to their transitions.
type ChangeSet map[string]Change

// Listener is invoked with every change batch published on a store's feed.
type Listener func(changes ChangeSet)

// Logger is the subset of logging used by this package and the settings
// layer. *pluginapi.LogService satisfies it.
type Logger interface {
	Error(message string, keyValuePairs ...interface{})
	Warn(message string, keyValuePairs ...interface{})
	Debug(message string, keyValuePairs ...interface{})
}
