package commands

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/ghostline/errors"
)

// run executes sub under a bare root carrying the persistent --config flag.
func run(t *testing.T, sub *cobra.Command, args ...string) (string, error) {
	t.Helper()
	root := &cobra.Command{Use: "ghostline", SilenceUsage: true, SilenceErrors: true}
	root.PersistentFlags().String("config", "", "")
	root.AddCommand(sub)
	t.Cleanup(func() { root.RemoveCommand(sub) })

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLocateInsideWorkingDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "notes"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes", "go.md"), []byte("x"), 0o600))
	t.Chdir(dir)

	wd, err := workingDir()
	require.NoError(t, err)

	base, rel, err := locate(filepath.Join("notes", "go.md"))
	require.NoError(t, err)
	assert.Equal(t, wd, base)
	assert.Equal(t, "notes/go.md", rel)
}

func TestLocateOutsideWorkingDir(t *testing.T) {
	outside := t.TempDir()
	file := filepath.Join(outside, "draft.md")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
	t.Chdir(t.TempDir())

	base, rel, err := locate(file)
	require.NoError(t, err)
	assert.Equal(t, outside, base)
	assert.Equal(t, "draft.md", rel)
}

func TestSettingsShowJSON(t *testing.T) {
	path := writeConfig(t, "suggestion_delay_ms = 250\n\n[hotkeys]\naccept = \"Ctrl-Enter\"\n")

	out, err := run(t, SettingsCmd, "settings", "show", "--format", "json", "--config", path)
	require.NoError(t, err)

	var shown map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &shown))
	assert.EqualValues(t, 250, shown["suggestion_delay_ms"])
	assert.Equal(t, "Ctrl-Enter", shown["hotkeys"].(map[string]any)["accept"])
}

func TestSettingsShowRejectsUnknownFormat(t *testing.T) {
	path := writeConfig(t, "")

	_, err := run(t, SettingsCmd, "settings", "show", "--format", "ini", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported format: ini")
}

func TestSettingsValidate(t *testing.T) {
	path := writeConfig(t, "enabled = true\n")

	out, err := run(t, SettingsCmd, "settings", "validate", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Settings are valid")
}

func TestSettingsValidateReportsConfigurationError(t *testing.T) {
	path := writeConfig(t, "[formatting]\ntab_size = 0\n")

	_, err := run(t, SettingsCmd, "settings", "validate", "--config", path)
	require.Error(t, err)
	assert.Equal(t, "configuration", errors.Kind(err))
	assert.Contains(t, err.Error(), "formatting.tab_size")
	assert.NotEmpty(t, errors.GetAllHints(err))
}

func TestVersionJSON(t *testing.T) {
	out, err := run(t, VersionCmd, "version", "--json")
	require.NoError(t, err)

	var info map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, "dev", info["version"])
	assert.NotEmpty(t, info["platform"])
}
