package plugin

import (
	"slices"
	"strings"

	"github.com/teranos/ghostline/settings"
)

// Action is a hotkey action. The names match settings.Hotkeys.Bindings.
type Action string

const (
	ActionAccept        Action = "accept"
	ActionCancel        Action = "cancel"
	ActionRequest       Action = "request"
	ActionPartialAccept Action = "partial_accept"
	ActionNext          Action = "next"
	ActionToggle        Action = "toggle"
)

// Keymap resolves key chords to actions.
type Keymap struct {
	actions map[string]Action
}

// NewKeymap builds a keymap from the configured hotkeys. Empty chords are
// skipped; when two actions share a chord the first binding wins.
func NewKeymap(h settings.Hotkeys) Keymap {
	k := Keymap{actions: make(map[string]Action)}
	for _, b := range h.Bindings() {
		chord := NormalizeChord(b.Chord)
		if chord == "" {
			continue
		}
		if _, taken := k.actions[chord]; taken {
			continue
		}
		k.actions[chord] = Action(b.Action)
	}
	return k
}

// Lookup returns the action bound to chord.
func (k Keymap) Lookup(chord string) (Action, bool) {
	a, ok := k.actions[NormalizeChord(chord)]
	return a, ok
}

// NormalizeChord puts a chord such as "Shift-Cmd-ArrowDown" into a canonical
// form: modifiers deduplicated and sorted, everything lower case, "-" as the
// separator. "+" is accepted as a separator too. A trailing doubled
// separator means the key itself is "-" or "+", as in "Ctrl--".
func NormalizeChord(chord string) string {
	chord = strings.TrimSpace(chord)
	if len(chord) <= 1 {
		return strings.ToLower(chord)
	}

	var key string
	if n := len(chord); isChordSeparator(rune(chord[n-1])) && isChordSeparator(rune(chord[n-2])) {
		key, chord = chord[n-1:], chord[:n-2]
	}

	parts := strings.FieldsFunc(chord, isChordSeparator)
	if key == "" {
		if len(parts) == 0 {
			return ""
		}
		key, parts = parts[len(parts)-1], parts[:len(parts)-1]
	}

	mods := make([]string, 0, len(parts))
	for _, p := range parts {
		mods = append(mods, canonicalModifier(p))
	}
	slices.Sort(mods)
	mods = slices.Compact(mods)

	return strings.Join(append(mods, strings.ToLower(key)), "-")
}

func isChordSeparator(r rune) bool {
	return r == '-' || r == '+'
}

func canonicalModifier(m string) string {
	switch m = strings.ToLower(strings.TrimSpace(m)); m {
	case "meta", "command", "mod", "super":
		return "cmd"
	case "control":
		return "ctrl"
	case "option", "opt":
		return "alt"
	default:
		return m
	}
}
