package kvstore

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// get runs a Get for a single key and returns what the completion callback
// observed, including the side-channel error.
func get(s Store, key string) (value []byte, ok bool, err error) {
	s.Get([]string{key}, func(result map[string][]byte) {
		value, ok = result[key]
		err = s.LastError()
	})
	return value, ok, err
}

func set(s Store, key string, value []byte) (err error) {
	s.Set(map[string][]byte{key: value}, func() {
		err = s.LastError()
	})
	return err
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore()

	require.NoError(t, set(store, "theme", []byte(`"dark"`)))

	value, ok, err := get(store, "theme")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte(`"dark"`), value)
}

func TestMemoryStoreGetNeverSetKey(t *testing.T) {
	store := NewMemoryStore()

	value, ok, err := get(store, "theme")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, value)
}

func TestMemoryStoreRemove(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, set(store, "theme", []byte(`"dark"`)))

	var removeErr error
	store.Remove("theme", func() { removeErr = store.LastError() })
	require.NoError(t, removeErr)

	_, ok, err := get(store, "theme")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStoreInjectedFailure(t *testing.T) {
	store := NewMemoryStore()
	boom := errors.New("host store down")
	store.SetFailure(boom)

	err := set(store, "theme", []byte(`"dark"`))
	require.Error(t, err)
	assert.Equal(t, boom, err)

	value, ok, err := get(store, "theme")
	assert.Error(t, err)
	assert.False(t, ok)
	assert.Nil(t, value)

	// Nothing was committed while failing; after healing, the key is still
	// absent.
	store.SetFailure(nil)
	_, ok, err = get(store, "theme")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStoreSetPublishesChange(t *testing.T) {
	store := NewMemoryStore()

	var batches []ChangeSet
	_, err := store.Subscribe(func(changes ChangeSet) { batches = append(batches, changes) })
	require.NoError(t, err)

	require.NoError(t, set(store, "theme", []byte(`"dark"`)))
	require.NoError(t, set(store, "theme", []byte(`"light"`)))

	require.Len(t, batches, 2)
	assert.Equal(t, ChangeSet{"theme": {NewValue: []byte(`"dark"`)}}, batches[0])
	assert.Equal(t, ChangeSet{"theme": {NewValue: []byte(`"light"`), OldValue: []byte(`"dark"`)}}, batches[1])
}

func TestMemoryStoreRemovePublishesChange(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, set(store, "theme", []byte(`"dark"`)))

	var batches []ChangeSet
	_, err := store.Subscribe(func(changes ChangeSet) { batches = append(batches, changes) })
	require.NoError(t, err)

	store.Remove("theme", func() {})

	require.Len(t, batches, 1)
	assert.Equal(t, ChangeSet{"theme": {OldValue: []byte(`"dark"`)}}, batches[0])

	// Removing an absent key changes nothing, so no batch is published.
	store.Remove("theme", func() {})
	assert.Len(t, batches, 1)
}

func TestMemoryStoreFailedWritePublishesNothing(t *testing.T) {
	store := NewMemoryStore()

	calls := 0
	_, err := store.Subscribe(func(ChangeSet) { calls++ })
	require.NoError(t, err)

	store.SetFailure(errors.New("host store down"))
	_ = set(store, "theme", []byte(`"dark"`))
	store.Remove("theme", func() {})

	assert.Equal(t, 0, calls)
}

func TestMemoryStoreUnsubscribe(t *testing.T) {
	store := NewMemoryStore()

	calls := 0
	sub, err := store.Subscribe(func(ChangeSet) { calls++ })
	require.NoError(t, err)

	require.NoError(t, store.Unsubscribe(sub))
	require.NoError(t, store.Unsubscribe(sub))

	require.NoError(t, set(store, "theme", []byte(`"dark"`)))
	assert.Equal(t, 0, calls)
}

func TestMemoryStoreStoredValuesAreIsolated(t *testing.T) {
	store := NewMemoryStore()

	buf := []byte(`"dark"`)
	require.NoError(t, set(store, "theme", buf))
	buf[1] = 'x'

	value, ok, err := get(store, "theme")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte(`"dark"`), value)
}
