// Package plugin is the root of ghostline inside a host editor.
//
// The host owns the documents, the settings blob and the notification area.
// It reaches ghostline through a Plugin: OnLoad when the plugin is enabled,
// event methods as the user works, HandleKey for every key chord and
// OnUnload on shutdown. Everything the plugin needs from the host comes in
// through the small interfaces below.
//
// Architecture:
//   - agent.Supervisor runs the completion agent and owns its session
//   - completion.Coordinator turns edits into agent traffic
//   - suggest.Machine holds the ghost-text suggestion
//   - render.Adapter projects the suggestion for the host to draw
//   - settings.Observers fans configuration changes out to all of them
package plugin

import (
	"github.com/teranos/ghostline/agent"
	"github.com/teranos/ghostline/settings"
)

// Workspace is the host vault.
type Workspace interface {
	// BasePath is the absolute vault root; document paths are relative to it
	BasePath() string

	// Read returns the full text of a vault document
	Read(path string) (string, error)
}

// Editor is the focused editor buffer. Offsets are byte offsets into Text.
type Editor interface {
	// Path is the vault-relative path of the open document
	Path() string

	// Text is the full buffer content
	Text() string

	// Selection returns the selected range; from == to is a bare cursor
	Selection() (from, to int)

	// Replace swaps [from, to) for text
	Replace(from, to int, text string)

	// SetCursor collapses the selection to offset
	SetCursor(offset int)
}

// SettingsStore persists the settings blob on behalf of the host.
type SettingsStore interface {
	Load() (*settings.Settings, error)
	Save(s *settings.Settings) error
}

// Status summarizes the plugin for the host's status bar.
type Status struct {
	// Enabled mirrors settings.enabled
	Enabled bool

	// Agent is the supervisor's lifecycle state
	Agent agent.State

	// Showing is true while a suggestion is on screen
	Showing bool
}

// Label is the short status bar text.
func (s Status) Label() string {
	switch {
	case !s.Enabled:
		return "Ghostline: off"
	case s.Agent == agent.Ready:
		return "Ghostline: on"
	default:
		return "Ghostline: " + s.Agent.String()
	}
}
