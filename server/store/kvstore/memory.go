package kvstore

import "sync"

// MemoryStore is an in-process Store backed by a map. It exists for tests
// and embedded use: operations are deterministic, complete synchronously,
// and a failure can be injected with SetFailure to exercise the accessor
// error paths against a misbehaving host store.
type MemoryStore struct {
	mu      sync.Mutex // serializes operations; held across completion callbacks
	data    map[string][]byte
	failure error

	errMu   sync.Mutex
	lastErr error

	bus Bus
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

// SetFailure makes every subsequent operation fail with err until cleared
// with SetFailure(nil). Failed writes commit nothing.
func (s *MemoryStore) SetFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failure = err
}

// Get implements Store.
func (s *MemoryStore) Get(keys []string, done func(result map[string][]byte)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failure != nil {
		s.setLastError(s.failure)
		done(nil)
		return
	}

	result := make(map[string][]byte, len(keys))
	for _, key := range keys {
		if value, ok := s.data[key]; ok {
			result[key] = cloneBytes(value)
		}
	}
	s.setLastError(nil)
	done(result)
}

// Set implements Store.
func (s *MemoryStore) Set(entries map[string][]byte, done func()) {
	s.mu.Lock()

	if s.failure != nil {
		s.setLastError(s.failure)
		done()
		s.mu.Unlock()
		return
	}

	changes := make(ChangeSet, len(entries))
	for key, value := range entries {
		var old []byte
		if existing, ok := s.data[key]; ok {
			old = cloneBytes(existing)
		}
		stored := cloneBytes(value)
		s.data[key] = stored
		changes[key] = Change{NewValue: cloneBytes(stored), OldValue: old}
	}
	s.setLastError(nil)
	done()
	s.mu.Unlock()

	s.bus.Publish(changes)
}

// Remove implements Store.
func (s *MemoryStore) Remove(key string, done func()) {
	s.mu.Lock()

	if s.failure != nil {
		s.setLastError(s.failure)
		done()
		s.mu.Unlock()
		return
	}

	old, existed := s.data[key]
	delete(s.data, key)
	s.setLastError(nil)
	done()
	s.mu.Unlock()

	if existed {
		s.bus.Publish(ChangeSet{key: {OldValue: cloneBytes(old)}})
	}
}

// LastError implements Store.
func (s *MemoryStore) LastError() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.lastErr
}

// Subscribe implements Store.
func (s *MemoryStore) Subscribe(fn Listener) (*Subscription, error) {
	return s.bus.Subscribe(fn), nil
}

// Unsubscribe implements Store.
func (s *MemoryStore) Unsubscribe(sub *Subscription) error {
	s.bus.Unsubscribe(sub)
	return nil
}

// setLastError records the outcome of the operation in progress. It uses a
// separate lock so LastError can be read from within a completion callback
// while the operation lock is still held.
func (s *MemoryStore) setLastError(err error) {
	s.errMu.Lock()
	s.lastErr = err
	s.errMu.Unlock()
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
