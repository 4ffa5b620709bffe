package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/pterm/pterm"
)

// Terminal draws decorations into plain text for the CLI, with pterm
// colors for the ghost text and counter.
type Terminal struct {
	Ghost   func(a ...interface{}) string
	Counter func(a ...interface{}) string
}

// NewTerminal returns a renderer with gray ghost text.
func NewTerminal() *Terminal {
	return &Terminal{Ghost: pterm.Gray, Counter: pterm.LightBlue}
}

// Render returns text with d inserted at its offset.
func (t *Terminal) Render(text string, d Decoration) string {
	at := clampOffset(text, d.Offset)
	return text[:at] + t.widget(d) + text[at:]
}

// RenderLine returns only the line holding the cursor, with d inserted.
func (t *Terminal) RenderLine(text string, d Decoration) string {
	at := clampOffset(text, d.Offset)
	start := strings.LastIndexByte(text[:at], '\n') + 1
	end := len(text)
	if i := strings.IndexByte(text[at:], '\n'); i >= 0 {
		end = at + i
	}
	return text[start:at] + t.widget(d) + text[at:end]
}

// Print writes the cursor line with its decoration to w.
func (t *Terminal) Print(w io.Writer, text string, d Decoration) error {
	_, err := fmt.Fprintln(w, t.RenderLine(text, d))
	return err
}

func (t *Terminal) widget(d Decoration) string {
	out := t.Ghost(d.Text)
	if d.Counter != "" {
		out += " " + t.Counter("["+d.Counter+"]")
	}
	return out
}

func clampOffset(text string, off int) int {
	return max(0, min(off, len(text)))
}
