package kvstore

import "sync"

// Subscription is an opaque handle identifying one registered listener.
// Listeners are functions and therefore not comparable, so removal works
// through the handle returned at registration time.
type Subscription struct {
	id int
}

// Bus is the store-wide change feed: a shared listener registry that store
// implementations publish change batches to. Store implementations embed or
// hold a Bus and expose it through Subscribe/Unsubscribe.
//
// The zero value is ready to use.
type Bus struct {
	mu        sync.Mutex
	nextID    int
	listeners map[int]Listener
}

// Subscribe registers fn and returns the handle needed to remove it.
func (b *Bus) Subscribe(fn Listener) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.listeners == nil {
		b.listeners = make(map[int]Listener)
	}
	b.nextID++
	b.listeners[b.nextID] = fn
	return &Subscription{id: b.nextID}
}

// Unsubscribe removes the listener identified by sub. Removing a handle that
// is nil or was already removed is a no-op.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.listeners, sub.id)
}

// Publish delivers one change batch to every registered listener. The
// listener list is snapshotted under the lock and invoked outside it, so a
// listener may subscribe or unsubscribe from within its callback. Listeners
// registered during delivery do not receive the batch being delivered.
func (b *Bus) Publish(changes ChangeSet) {
	if len(changes) == 0 {
		return
	}

	b.mu.Lock()
	snapshot := make([]Listener, 0, len(b.listeners))
	for _, fn := range b.listeners {
		snapshot = append(snapshot, fn)
	}
	b.mu.Unlock()

	for _, fn := range snapshot {
		fn(changes)
	}
}
