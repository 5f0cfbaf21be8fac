package settings

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattermost/mattermost-plugin-settings-store/server/store/kvstore"
)

// testLogger records log calls so tests can assert that failures are logged
// with the key name on the soft-failure paths.
type testLogger struct {
	errorMessages []string
	warnMessages  []string
	debugMessages []string
}

func (l *testLogger) Error(message string, _ ...interface{}) {
	l.errorMessages = append(l.errorMessages, message)
}

func (l *testLogger) Warn(message string, _ ...interface{}) {
	l.warnMessages = append(l.warnMessages, message)
}

func (l *testLogger) Debug(message string, _ ...interface{}) {
	l.debugMessages = append(l.debugMessages, message)
}

func newThemeAccessor() (*Accessor[string], *kvstore.MemoryStore, *testLogger) {
	store := kvstore.NewMemoryStore()
	log := &testLogger{}
	return New(store, Definition[string]{Key: "theme", Default: "light"}, log), store, log
}

func TestAccessorRoundTrip(t *testing.T) {
	accessor, _, _ := newThemeAccessor()

	require.NoError(t, accessor.Set("dark"))

	value, ok, err := accessor.Get()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "dark", value)
}

func TestAccessorRoundTripStructValue(t *testing.T) {
	type notifyRules struct {
		Enabled  bool     `json:"enabled"`
		Channels []string `json:"channels"`
	}

	store := kvstore.NewMemoryStore()
	accessor := New(store, Definition[notifyRules]{Key: "notify_rules"}, &testLogger{})

	want := notifyRules{Enabled: true, Channels: []string{"town-square", "alerts"}}
	require.NoError(t, accessor.Set(want))

	got, ok, err := accessor.Get()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)
}

func TestAccessorGetNeverSet(t *testing.T) {
	accessor, _, _ := newThemeAccessor()

	value, ok, err := accessor.Get()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "", value)
}

func TestAccessorGetStoreFailure(t *testing.T) {
	accessor, store, log := newThemeAccessor()
	store.SetFailure(errors.New("host store down"))

	_, ok, err := accessor.Get()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStoreUnavailable))
	assert.False(t, ok)
	assert.NotEmpty(t, log.errorMessages)
}

func TestAccessorGetWithDefault(t *testing.T) {
	accessor, store, _ := newThemeAccessor()

	// Never set: the default.
	assert.Equal(t, "light", accessor.GetWithDefault())

	// Set: the stored value.
	require.NoError(t, accessor.Set("dark"))
	assert.Equal(t, "dark", accessor.GetWithDefault())

	// Failing store: the default again, and no error escapes.
	store.SetFailure(errors.New("host store down"))
	assert.Equal(t, "light", accessor.GetWithDefault())
}

func TestAccessorSetStoreFailure(t *testing.T) {
	accessor, store, log := newThemeAccessor()
	store.SetFailure(errors.New("host store down"))

	err := accessor.Set("dark")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStoreUnavailable))
	assert.NotEmpty(t, log.errorMessages)

	// The failed write committed nothing.
	store.SetFailure(nil)
	_, ok, getErr := accessor.Get()
	require.NoError(t, getErr)
	assert.False(t, ok)
}

func TestAccessorReset(t *testing.T) {
	accessor, _, _ := newThemeAccessor()

	require.NoError(t, accessor.Set("dark"))
	require.NoError(t, accessor.Reset())

	value, ok, err := accessor.Get()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "light", value)
}

func TestAccessorRemove(t *testing.T) {
	accessor, _, _ := newThemeAccessor()

	require.NoError(t, accessor.Set("dark"))
	require.NoError(t, accessor.Remove())

	_, ok, err := accessor.Get()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAccessorRemoveStoreFailure(t *testing.T) {
	accessor, store, log := newThemeAccessor()
	store.SetFailure(errors.New("host store down"))

	err := accessor.Remove()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStoreUnavailable))
	assert.NotEmpty(t, log.errorMessages)
}

func TestAccessorGetCorruptValue(t *testing.T) {
	accessor, store, log := newThemeAccessor()

	// Something outside the accessor wrote bytes that do not decode as T.
	store.Set(map[string][]byte{"theme": []byte("{")}, func() {})

	_, _, err := accessor.Get()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStoreUnavailable))
	assert.NotEmpty(t, log.errorMessages)

	assert.Equal(t, "light", accessor.GetWithDefault())
}

func TestAccessorDefinition(t *testing.T) {
	accessor, _, _ := newThemeAccessor()

	def := accessor.Definition()
	assert.Equal(t, "theme", def.Key)
	assert.Equal(t, "light", def.Default)
	assert.Equal(t, "theme", accessor.Key())
}

// TestAccessorThemeScenario walks the whole lifecycle of one setting the way
// a plugin would use it.
func TestAccessorThemeScenario(t *testing.T) {
	accessor, store, _ := newThemeAccessor()

	// Fresh store: the default.
	assert.Equal(t, "light", accessor.GetWithDefault())

	// Explicit write.
	require.NoError(t, accessor.Set("dark"))
	value, ok, err := accessor.Get()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "dark", value)

	// An external change to the same key reaches a registered watcher.
	var seen []string
	unregister := accessor.Watch(func(value string) { seen = append(seen, value) })
	defer unregister()

	store.Set(map[string][]byte{"theme": []byte(`"dark"`)}, func() {})
	assert.Equal(t, []string{"dark"}, seen)

	// Reset restores the default.
	require.NoError(t, accessor.Reset())
	value, ok, err = accessor.Get()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "light", value)
}

func TestTwoAccessorsShareState(t *testing.T) {
	store := kvstore.NewMemoryStore()
	def := Definition[string]{Key: "theme", Default: "light"}
	first := New(store, def, &testLogger{})
	second := New(store, def, &testLogger{})

	require.NoError(t, first.Set("dark"))

	value, ok, err := second.Get()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "dark", value)
}
