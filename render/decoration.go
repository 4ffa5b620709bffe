// Package render projects the suggestion state into what the editor draws:
// ghost text at the cursor and an "i / N" counter when there are several
// candidates.
package render

import (
	"fmt"
	"sync"

	"github.com/teranos/ghostline/suggest"
)

// Decoration is one inline, non-interactive widget at Offset.
type Decoration struct {
	Offset int
	Text   string
	// Counter is "i / N", empty for a single candidate.
	Counter string
}

// Project returns the decoration for snap, or false when nothing shows.
func Project(snap suggest.Snapshot) (Decoration, bool) {
	c, ok := snap.Selected()
	if !ok {
		return Decoration{}, false
	}
	d := Decoration{Offset: snap.Anchor, Text: c.Label()}
	if n := len(snap.Candidates); n > 1 {
		d.Counter = fmt.Sprintf("%d / %d", snap.Index+1, n)
	}
	return d, true
}

// Adapter keeps the last rendered decoration and recomputes it on every
// view update.
type Adapter struct {
	machine *suggest.Machine

	mu    sync.Mutex
	last  Decoration
	shown bool
}

// NewAdapter returns an adapter reading from m.
func NewAdapter(m *suggest.Machine) *Adapter {
	return &Adapter{machine: m}
}

// Update recomputes the decoration from the machine's current state.
func (a *Adapter) Update() (Decoration, bool) {
	d, ok := Project(a.machine.Snapshot())
	a.mu.Lock()
	a.last, a.shown = d, ok
	a.mu.Unlock()
	return d, ok
}

// Current returns what the last Update rendered.
func (a *Adapter) Current() (Decoration, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last, a.shown
}

// Click handles selecting the decoration: it dismisses the suggestion.
func (a *Adapter) Click() {
	a.machine.Cancel()
}
