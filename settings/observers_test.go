package settings

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserversNotifyInOrder(t *testing.T) {
	var obs Observers
	var calls []string

	obs.Subscribe(func(*Settings) { calls = append(calls, "first") })
	h := obs.Subscribe(func(*Settings) { calls = append(calls, "second") })
	obs.Subscribe(func(*Settings) { calls = append(calls, "third") })

	obs.Notify(Default())
	assert.Equal(t, []string{"first", "second", "third"}, calls)

	calls = nil
	obs.Unsubscribe(h)
	obs.Unsubscribe(h)
	obs.Notify(Default())
	assert.Equal(t, []string{"first", "third"}, calls)
	assert.Equal(t, 2, obs.Len())
}

func TestObserversReceiveClones(t *testing.T) {
	var obs Observers
	s := Default()
	s.Exclude = []string{"x"}

	obs.Subscribe(func(got *Settings) { got.Exclude[0] = "mutated" })
	obs.Notify(s)

	assert.Equal(t, "x", s.Exclude[0])
}

func TestWatcherReloadsOnExternalWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, Save(Default(), path))

	var obs Observers
	got := make(chan *Settings, 4)
	obs.Subscribe(func(s *Settings) { got <- s })

	w, err := NewWatcher(path, &obs)
	require.NoError(t, err)
	w.debouncePeriod = 20 * time.Millisecond
	w.Start()
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("suggestion_delay_ms = 42\n"), 0600))

	select {
	case s := <-got:
		assert.Equal(t, 42, s.SuggestionDelayMS)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not publish reloaded settings")
	}
}

func TestWatcherIgnoresOwnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, Save(Default(), path))

	w, err := NewWatcher(path, &Observers{})
	require.NoError(t, err)
	defer w.Stop()

	w.MarkOwnWrite()
	assert.True(t, w.checkOwnWrite())
	assert.False(t, w.checkOwnWrite())
}

func TestIsBackupFile(t *testing.T) {
	assert.True(t, isBackupFile("/x/config.toml.back1"))
	assert.True(t, isBackupFile("config.toml.back3"))
	assert.False(t, isBackupFile("config.toml"))
}
