package plugin

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/teranos/ghostline/agent"
	"github.com/teranos/ghostline/settings"
)

func TestNormalizeChord(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Tab", "tab"},
		{"Cmd-Shift-ArrowDown", "cmd-shift-arrowdown"},
		{"Shift-Cmd-ArrowDown", "cmd-shift-arrowdown"},
		{"Mod+Shift+/", "cmd-shift-/"},
		{"Control-Option-x", "alt-ctrl-x"},
		{"Ctrl--", "ctrl--"},
		{"Shift++", "shift-+"},
		{"Cmd-Cmd-k", "cmd-k"},
		{" Escape ", "escape"},
		{"-", "-"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeChord(tt.in))
		})
	}
}

func TestKeymapDefaults(t *testing.T) {
	k := NewKeymap(settings.Default().Hotkeys)

	for chord, want := range map[string]Action{
		"Tab":                  ActionAccept,
		"escape":               ActionCancel,
		"Shift-Cmd-/":          ActionRequest,
		"Cmd-Shift-.":          ActionPartialAccept,
		"Cmd-Shift-ArrowDown":  ActionNext,
		"Cmd-Shift-ArrowRight": ActionToggle,
	} {
		got, ok := k.Lookup(chord)
		assert.True(t, ok, chord)
		assert.Equal(t, want, got, chord)
	}

	_, ok := k.Lookup("Cmd-s")
	assert.False(t, ok)
}

func TestKeymapFirstBindingWins(t *testing.T) {
	h := settings.Default().Hotkeys
	h.Cancel = "tab"
	h.Next = ""

	k := NewKeymap(h)
	got, ok := k.Lookup("Tab")
	assert.True(t, ok)
	assert.Equal(t, ActionAccept, got)

	_, ok = k.Lookup("Cmd-Shift-ArrowDown")
	assert.False(t, ok)
}

func TestStatusLabel(t *testing.T) {
	assert.Equal(t, "Ghostline: off", Status{}.Label())
	assert.Equal(t, "Ghostline: on", Status{Enabled: true, Agent: agent.Ready}.Label())
	assert.Equal(t, "Ghostline: sign-in required", Status{Enabled: true, Agent: agent.SignInRequired}.Label())
}
