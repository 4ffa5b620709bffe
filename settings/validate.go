package settings

import (
	"github.com/teranos/ghostline/errors"
)

// Validate checks that the settings are usable.
func (s *Settings) Validate() error {
	if s.SuggestionDelayMS < 0 {
		return errors.Newf("suggestion_delay_ms must be >= 0, got %d", s.SuggestionDelayMS)
	}
	if s.Agent.RequestTimeoutMS <= 0 {
		return errors.Newf("agent.request_timeout_ms must be > 0, got %d", s.Agent.RequestTimeoutMS)
	}
	if s.Formatting.TabSize <= 0 {
		return errors.Newf("formatting.tab_size must be > 0, got %d", s.Formatting.TabSize)
	}
	if s.Formatting.IndentSize <= 0 {
		return errors.Newf("formatting.indent_size must be > 0, got %d", s.Formatting.IndentSize)
	}

	// One binding per action, and no chord shared between actions
	seen := make(map[string]string)
	for _, b := range s.Hotkeys.Bindings() {
		if b.Chord == "" {
			return errors.Newf("hotkeys.%s cannot be empty", b.Action)
		}
		if other, ok := seen[b.Chord]; ok {
			return errors.Newf("hotkeys.%s and hotkeys.%s are both bound to %q", other, b.Action, b.Chord)
		}
		seen[b.Chord] = b.Action
	}

	if s.DeviceSpecific.Enabled {
		for _, key := range s.DeviceSpecific.Keys {
			if key == "device_specific.enabled" || key == "device_specific.keys" {
				return errors.Newf("device_specific.keys cannot contain %q", key)
			}
		}
	}

	return nil
}

// Binding pairs an action name with its chord.
type Binding struct {
	Action string
	Chord  string
}

// Bindings lists the hotkeys in a fixed order.
func (h Hotkeys) Bindings() []Binding {
	return []Binding{
		{"accept", h.Accept},
		{"cancel", h.Cancel},
		{"request", h.Request},
		{"partial_accept", h.PartialAccept},
		{"next", h.Next},
		{"toggle", h.Toggle},
	}
}
