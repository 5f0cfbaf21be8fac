package kvstore

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/mattermost/mattermost/server/public/pluginapi"
	"github.com/pkg/errors"
)

// ClusterEventChanges is the plugin cluster event ID under which change
// batches are relayed to the other nodes of a multi-server deployment.
// Watchers must observe changes made by any accessor instance, including
// instances running in another server process; the plugin KV store itself
// has no change feed, so writes through this store broadcast their batch and
// each node replays incoming batches onto its local feed.
const ClusterEventChanges = "settings_store_changes"

// kvAPI is the slice of the plugin KV API this store uses. It is satisfied
// by *pluginapi.KVService and kept narrow so tests can substitute a fake.
type kvAPI interface {
	Get(key string, o interface{}) error
	Set(key string, value interface{}, options ...pluginapi.KVSetOption) (bool, error)
	Delete(key string) error
}

// Broadcaster publishes plugin cluster events. plugin.API satisfies it.
type Broadcaster interface {
	PublishPluginClusterEvent(ev model.PluginClusterEvent, opts model.PluginClusterEventSendOptions) error
}

// PluginStore is a Store backed by the Mattermost plugin KV store. It adapts
// the synchronous pluginapi calls to the callback-and-side-channel contract,
// publishes change batches for successful writes, and relays them across the
// cluster.
type PluginStore struct {
	mu sync.Mutex // serializes operations; held across completion callbacks

	kv  kvAPI
	bc  Broadcaster
	log Logger

	errMu   sync.Mutex
	lastErr error

	bus Bus
}

// NewPluginStore wraps the KV store of the given pluginapi client. api may
// be nil, in which case change batches are published locally only.
func NewPluginStore(client *pluginapi.Client, api Broadcaster) *PluginStore {
	return &PluginStore{
		kv:  &client.KV,
		bc:  api,
		log: &client.Log,
	}
}

// newPluginStore is the seam used by tests.
func newPluginStore(kv kvAPI, bc Broadcaster, log Logger) *PluginStore {
	return &PluginStore{kv: kv, bc: bc, log: log}
}

// Get implements Store.
func (s *PluginStore) Get(keys []string, done func(result map[string][]byte)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make(map[string][]byte, len(keys))
	for _, key := range keys {
		value, err := s.read(key)
		if err != nil {
			s.setLastError(errors.Wrapf(err, "failed to read key %s", key))
			done(nil)
			return
		}
		if value != nil {
			result[key] = value
		}
	}
	s.setLastError(nil)
	done(result)
}

// Set implements Store. Entries are written in key order; on failure the
// entries written before the error stay committed and their changes are
// still published, matching the non-transactional host contract.
func (s *PluginStore) Set(entries map[string][]byte, done func()) {
	s.mu.Lock()

	keys := make([]string, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	changes := make(ChangeSet, len(entries))
	var failure error
	for _, key := range keys {
		// The old value only feeds the change event; a failed read here is
		// treated as the key being absent.
		old, _ := s.read(key)

		if _, err := s.kv.Set(key, entries[key]); err != nil {
			failure = errors.Wrapf(err, "failed to write key %s", key)
			break
		}
		changes[key] = Change{NewValue: cloneBytes(entries[key]), OldValue: old}
	}
	s.setLastError(failure)
	done()
	s.mu.Unlock()

	s.publish(changes)
}

// Remove implements Store.
func (s *PluginStore) Remove(key string, done func()) {
	s.mu.Lock()

	old, _ := s.read(key)
	var changes ChangeSet
	if err := s.kv.Delete(key); err != nil {
		s.setLastError(errors.Wrapf(err, "failed to delete key %s", key))
	} else {
		s.setLastError(nil)
		if old != nil {
			changes = ChangeSet{key: {OldValue: old}}
		}
	}
	done()
	s.mu.Unlock()

	s.publish(changes)
}

// LastError implements Store.
func (s *PluginStore) LastError() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.lastErr
}

// Subscribe implements Store.
func (s *PluginStore) Subscribe(fn Listener) (*Subscription, error) {
	return s.bus.Subscribe(fn), nil
}

// Unsubscribe implements Store.
func (s *PluginStore) Unsubscribe(sub *Subscription) error {
	s.bus.Unsubscribe(sub)
	return nil
}

// HandleClusterEvent replays a change batch received from another node onto
// the local feed. Wire it to the plugin's OnPluginClusterEvent hook for
// events with ID ClusterEventChanges.
func (s *PluginStore) HandleClusterEvent(data []byte) {
	var changes ChangeSet
	if err := json.Unmarshal(data, &changes); err != nil {
		s.log.Warn("Discarding malformed cluster change batch", "error", err.Error())
		return
	}
	s.bus.Publish(changes)
}

// read returns the stored bytes for key, or nil if the key was never set.
// The plugin KV store does not distinguish a missing key from empty bytes,
// and the settings layer never stores empty values, so empty means absent.
func (s *PluginStore) read(key string) ([]byte, error) {
	var data []byte
	if err := s.kv.Get(key, &data); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	return data, nil
}

// publish fans a change batch out to local listeners and to the rest of the
// cluster. Broadcast failures are logged, never surfaced: a node that missed
// a batch degrades to stale watchers, not to a failed write.
func (s *PluginStore) publish(changes ChangeSet) {
	if len(changes) == 0 {
		return
	}

	s.bus.Publish(changes)

	if s.bc == nil {
		return
	}
	data, err := json.Marshal(changes)
	if err != nil {
		s.log.Warn("Failed to encode change batch for cluster relay", "error", err.Error())
		return
	}
	ev := model.PluginClusterEvent{Id: ClusterEventChanges, Data: data}
	if err := s.bc.PublishPluginClusterEvent(ev, model.PluginClusterEventSendOptions{}); err != nil {
		s.log.Warn("Failed to relay change batch to cluster", "error", err.Error())
	}
}

func (s *PluginStore) setLastError(err error) {
	s.errMu.Lock()
	s.lastErr = err
	s.errMu.Unlock()
}
