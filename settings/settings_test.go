package settings

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	s := Default()

	assert.True(t, s.Enabled)
	assert.Equal(t, 500, s.SuggestionDelayMS)
	assert.Equal(t, 500*time.Millisecond, s.SuggestionDelay())
	assert.False(t, s.OnlyOnHotkey)
	assert.False(t, s.OnlyInCodeBlock)
	assert.Empty(t, s.Exclude)
	assert.Equal(t, "default", s.Agent.RuntimePath)
	assert.Equal(t, 10*time.Second, s.Agent.RequestTimeout())
	assert.Equal(t, "Tab", s.Hotkeys.Accept)
	assert.Equal(t, "Escape", s.Hotkeys.Cancel)
	assert.Equal(t, "Cmd-Shift-/", s.Hotkeys.Request)
	assert.Equal(t, "Cmd-Shift-.", s.Hotkeys.PartialAccept)
	assert.Equal(t, "Cmd-Shift-ArrowDown", s.Hotkeys.Next)
	assert.Equal(t, "Cmd-Shift-ArrowRight", s.Hotkeys.Toggle)
	assert.Equal(t, []string{"agent.runtime_path"}, s.DeviceSpecific.Keys)
	assert.Equal(t, DefaultChatBaseURL, s.Chat.BaseURL)
	assert.Equal(t, 4, s.Formatting.TabSize)

	require.NoError(t, s.Validate())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
suggestion_delay_ms = 250
only_in_code_block = true
exclude = ["private/", "journal"]

[agent]
script_path = "/opt/agent/agent.js"

[hotkeys]
accept = "Ctrl-Enter"
`), 0600))

	s, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, 250, s.SuggestionDelayMS)
	assert.True(t, s.OnlyInCodeBlock)
	assert.Equal(t, []string{"private/", "journal"}, s.Exclude)
	assert.Equal(t, "/opt/agent/agent.js", s.Agent.ScriptPath)
	assert.Equal(t, "Ctrl-Enter", s.Hotkeys.Accept)
	// untouched keys keep defaults
	assert.Equal(t, "Escape", s.Hotkeys.Cancel)
	assert.True(t, s.Enabled)
}

func TestLoadFromFile_Missing(t *testing.T) {
	s, err := LoadFromFile(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), s)
}

func TestLoadFromFile_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("enabled = = true"), 0600))

	_, err := LoadFromFile(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr string
	}{
		{"defaults", func(*Settings) {}, ""},
		{"zero delay is valid", func(s *Settings) { s.SuggestionDelayMS = 0 }, ""},
		{"negative delay", func(s *Settings) { s.SuggestionDelayMS = -1 }, "suggestion_delay_ms"},
		{"zero timeout", func(s *Settings) { s.Agent.RequestTimeoutMS = 0 }, "request_timeout_ms"},
		{"zero tab size", func(s *Settings) { s.Formatting.TabSize = 0 }, "tab_size"},
		{"empty hotkey", func(s *Settings) { s.Hotkeys.Next = "" }, "hotkeys.next"},
		{"duplicate hotkey", func(s *Settings) { s.Hotkeys.Cancel = "Tab" }, "both bound"},
		{"device keys recursion", func(s *Settings) {
			s.DeviceSpecific.Enabled = true
			s.DeviceSpecific.Keys = []string{"device_specific.enabled"}
		}, "device_specific.keys"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Default()
			tt.mutate(s)
			err := s.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestClone(t *testing.T) {
	s := Default()
	s.Exclude = []string{"a"}

	c := s.Clone()
	c.Exclude[0] = "b"
	c.DeviceSpecific.Keys[0] = "other"

	assert.Equal(t, "a", s.Exclude[0])
	assert.Equal(t, "agent.runtime_path", s.DeviceSpecific.Keys[0])
	assert.Nil(t, (*Settings)(nil).Clone())
}

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	s := Default()
	s.Enabled = false
	s.Exclude = []string{"secret/"}
	s.Agent.ScriptPath = "/srv/agent.js"
	require.NoError(t, Save(s, path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, s, loaded)
}

func TestSaveRotatesBackups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	s := Default()

	for delay := 100; delay <= 500; delay += 100 {
		s.SuggestionDelayMS = delay
		require.NoError(t, Save(s, path))
	}

	for _, suffix := range []string{".back1", ".back2", ".back3"} {
		assert.FileExists(t, path+suffix)
	}
	assert.NoFileExists(t, path+".back4")

	back1, err := LoadFromFile(path + ".back1")
	require.NoError(t, err)
	assert.Equal(t, 400, back1.SuggestionDelayMS)

	back3, err := LoadFromFile(path + ".back3")
	require.NoError(t, err)
	assert.Equal(t, 200, back3.SuggestionDelayMS)
}

func TestDeviceSpecificSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	s := Default()
	s.DeviceSpecific.Enabled = true
	s.Agent.RuntimePath = "/usr/local/bin/node"
	s.Agent.ScriptPath = "/srv/agent.js"
	require.NoError(t, Save(s, path))

	shared, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(shared), "/usr/local/bin/node")
	assert.Contains(t, string(shared), "/srv/agent.js")

	device, err := os.ReadFile(DevicePath(path))
	require.NoError(t, err)
	assert.Contains(t, string(device), "/usr/local/bin/node")

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/usr/local/bin/node", loaded.Agent.RuntimePath)
	assert.Equal(t, "/srv/agent.js", loaded.Agent.ScriptPath)
}

func TestDevicePath(t *testing.T) {
	p := DevicePath("/home/u/.ghostline/config.toml")
	assert.Equal(t, "/home/u/.ghostline", filepath.Dir(p))
	assert.Regexp(t, `^device-[A-Za-z0-9_-]+\.toml$`, filepath.Base(p))
}

func TestMapPaths(t *testing.T) {
	m := map[string]interface{}{
		"agent": map[string]interface{}{"runtime_path": "node", "args": ""},
		"debug": true,
	}

	device := splitDeviceKeys(m, []string{"agent.runtime_path", "debug", "missing.key"})

	v, ok := lookupPath(device, "agent.runtime_path")
	assert.True(t, ok)
	assert.Equal(t, "node", v)
	_, ok = lookupPath(m, "agent.runtime_path")
	assert.False(t, ok)
	_, ok = lookupPath(m, "agent.args")
	assert.True(t, ok)
	_, ok = lookupPath(m, "debug")
	assert.False(t, ok)
	_, ok = lookupPath(device, "missing.key")
	assert.False(t, ok)
}
