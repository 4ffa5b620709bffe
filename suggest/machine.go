// Package suggest holds the inline suggestion currently offered to the user
// and computes the buffer edits that accepting it requires.
//
// The Machine has two states. Empty means nothing is rendered. Showing holds
// one or more candidates with one selected. Every buffer change that the
// machine did not produce itself, and every cursor move away from where the
// suggestion was anchored, returns it to Empty.
package suggest

import (
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	protocol "github.com/tliron/glsp/protocol_3_16"
	"go.uber.org/zap"

	"github.com/teranos/ghostline/logger"
)

// State is the machine's coarse state.
type State int

const (
	Empty State = iota
	Showing
)

func (s State) String() string {
	switch s {
	case Empty:
		return "empty"
	case Showing:
		return "showing"
	default:
		return "unknown"
	}
}

// Candidate is one completion offered to the user.
type Candidate struct {
	Text string
	// Display overrides Text for rendering when set.
	Display string
	// Range is the span Text replaces. Nil means the current selection.
	Range *protocol.Range
}

// Label returns the text to render for c.
func (c Candidate) Label() string {
	if c.Display != "" {
		return c.Display
	}
	return c.Text
}

// Edit replaces buffer bytes [From, To) with Insert and leaves the cursor at
// Cursor.
type Edit struct {
	From   int
	To     int
	Insert string
	Cursor int
}

// Apply returns text with the edit applied.
func (e Edit) Apply(text string) string {
	return text[:e.From] + e.Insert + text[e.To:]
}

// Snapshot is an immutable copy of the machine state for rendering.
type Snapshot struct {
	State      State
	Candidates []Candidate
	Index      int
	// Anchor is the cursor offset the suggestion was received at.
	Anchor int
}

// Selected returns the selected candidate. ok is false when Empty.
func (s Snapshot) Selected() (Candidate, bool) {
	if s.State != Showing || len(s.Candidates) == 0 {
		return Candidate{}, false
	}
	return s.Candidates[s.Index], true
}

// Config configures a Machine.
type Config struct {
	Logger *zap.SugaredLogger
	// Defer schedules f to run after the current update cycle. Cancel and
	// the clear that follows an accept go through it. The default runs f on
	// a timer goroutine.
	Defer func(f func())
}

// Machine is the suggestion state machine. It is safe for concurrent use;
// observers run outside its lock.
type Machine struct {
	mu         sync.Mutex
	candidates []Candidate
	index      int
	anchor     int
	// epoch increments whenever a new set is installed so a deferred clear
	// scheduled for an older set is ignored.
	epoch uint64
	// clearing is set between an accept/cancel and its deferred clear.
	clearing bool
	// expected is the document text the machine's own last edit produces.
	expected *string

	deferFn   func(func())
	logger    *zap.SugaredLogger
	observers []func(Snapshot)
}

// New creates an Empty machine.
func New(cfg Config) *Machine {
	d := cfg.Defer
	if d == nil {
		d = func(f func()) { time.AfterFunc(0, f) }
	}
	return &Machine{
		deferFn: d,
		logger:  logger.Or(cfg.Logger).With(logger.FieldComponent, "suggest"),
	}
}

// OnChange registers fn to receive a snapshot after every state change.
func (m *Machine) OnChange(fn func(Snapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

// Snapshot returns the current state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// State returns Showing while a suggestion is displayed.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.candidates) == 0 {
		return Empty
	}
	return Showing
}

// Active reports whether the suggestion can still be acted on: it is
// Showing and no accept or cancel is waiting to clear it.
func (m *Machine) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.candidates) > 0 && !m.clearing
}

// Receive installs a new candidate set anchored at cursor, replacing any
// previous one. Candidates with no text are skipped; an empty result leaves
// the machine Empty.
func (m *Machine) Receive(candidates []Candidate, cursor int) {
	kept := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Text != "" {
			kept = append(kept, c)
		}
	}

	m.mu.Lock()
	m.epoch++
	m.clearing = false
	m.expected = nil
	if len(kept) == 0 {
		changed := len(m.candidates) > 0
		m.candidates = nil
		m.index = 0
		m.mu.Unlock()
		if changed {
			m.notify()
		}
		return
	}
	m.candidates = kept
	m.index = 0
	m.anchor = cursor
	m.mu.Unlock()

	m.logger.Debugw("Suggestion received", logger.FieldCandidates, len(kept))
	m.notify()
}

// CycleNext selects the next candidate, wrapping at the end.
func (m *Machine) CycleNext() bool {
	m.mu.Lock()
	if len(m.candidates) == 0 || m.clearing {
		m.mu.Unlock()
		return false
	}
	m.index = (m.index + 1) % len(m.candidates)
	m.mu.Unlock()

	m.notify()
	return true
}

// Accept returns the edit that inserts the selected candidate into text.
// The candidate's range is used when present; otherwise the selection
// [selFrom, selTo) is replaced. The machine clears on the next tick.
func (m *Machine) Accept(text string, selFrom, selTo int) (Edit, bool) {
	m.mu.Lock()
	if len(m.candidates) == 0 || m.clearing {
		m.mu.Unlock()
		return Edit{}, false
	}
	c := m.candidates[m.index]
	edit := buildEdit(text, c.Range, c.Text, selFrom, selTo)
	m.expectLocked(edit.Apply(text))
	m.clearing = true
	epoch := m.epoch
	m.mu.Unlock()

	m.scheduleClear(epoch)
	return edit, true
}

// PartialAccept returns the edit that inserts only the first word of the
// selected candidate, together with the whitespace that follows it. The
// remaining candidates lose that prefix and stay on screen. When the
// selected candidate is used up the machine clears as after Accept.
func (m *Machine) PartialAccept(text string, selFrom, selTo int) (Edit, bool) {
	m.mu.Lock()
	if len(m.candidates) == 0 || m.clearing {
		m.mu.Unlock()
		return Edit{}, false
	}
	selected := m.candidates[m.index]
	token := firstToken(selected.Text)
	edit := buildEdit(text, selected.Range, token, selFrom, selTo)
	m.expectLocked(edit.Apply(text))

	rest := stripToken(selected.Text, token)
	if rest == "" {
		m.clearing = true
		epoch := m.epoch
		m.mu.Unlock()
		m.scheduleClear(epoch)
		return edit, true
	}

	var next []Candidate
	index := 0
	for i, c := range m.candidates {
		remainder := stripToken(c.Text, token)
		if remainder == "" {
			continue
		}
		if i == m.index {
			index = len(next)
		}
		next = append(next, Candidate{Text: remainder})
	}
	m.candidates = next
	m.index = index
	m.anchor = edit.Cursor
	m.mu.Unlock()

	m.logger.Debugw("Partial accept", "token", token, logger.FieldCandidates, len(next))
	m.notify()
	return edit, true
}

// Cancel clears the suggestion on the next tick without editing.
func (m *Machine) Cancel() bool {
	m.mu.Lock()
	if len(m.candidates) == 0 || m.clearing {
		m.mu.Unlock()
		return false
	}
	m.clearing = true
	epoch := m.epoch
	m.mu.Unlock()

	m.scheduleClear(epoch)
	return true
}

// Clear drops the suggestion immediately.
func (m *Machine) Clear() {
	m.mu.Lock()
	changed := m.clearLocked()
	m.mu.Unlock()
	if changed {
		m.notify()
	}
}

// DocumentChanged reports the buffer's new text. A change that is not the
// result of the machine's own last edit invalidates the suggestion.
func (m *Machine) DocumentChanged(text string) {
	m.mu.Lock()
	if m.expected != nil && *m.expected == text {
		m.expected = nil
		m.mu.Unlock()
		return
	}
	m.expected = nil
	changed := m.clearLocked()
	m.mu.Unlock()

	if changed {
		m.logger.Debugw("Suggestion invalidated by document change")
		m.notify()
	}
}

// CursorMoved reports the cursor's new offset. Moving away from the anchor
// invalidates the suggestion.
func (m *Machine) CursorMoved(offset int) {
	m.mu.Lock()
	if len(m.candidates) == 0 || offset == m.anchor {
		m.mu.Unlock()
		return
	}
	m.clearLocked()
	m.mu.Unlock()

	m.logger.Debugw("Suggestion invalidated by cursor move", "offset", offset)
	m.notify()
}

func (m *Machine) scheduleClear(epoch uint64) {
	m.deferFn(func() {
		m.mu.Lock()
		if m.epoch != epoch {
			m.mu.Unlock()
			return
		}
		changed := m.clearLocked()
		m.mu.Unlock()
		if changed {
			m.notify()
		}
	})
}

func (m *Machine) expectLocked(text string) {
	m.expected = &text
}

func (m *Machine) clearLocked() bool {
	m.clearing = false
	if len(m.candidates) == 0 {
		return false
	}
	m.candidates = nil
	m.index = 0
	m.epoch++
	return true
}

func (m *Machine) snapshotLocked() Snapshot {
	if len(m.candidates) == 0 {
		return Snapshot{State: Empty}
	}
	cands := make([]Candidate, len(m.candidates))
	copy(cands, m.candidates)
	return Snapshot{State: Showing, Candidates: cands, Index: m.index, Anchor: m.anchor}
}

func (m *Machine) notify() {
	m.mu.Lock()
	snap := m.snapshotLocked()
	observers := make([]func(Snapshot), len(m.observers))
	copy(observers, m.observers)
	m.mu.Unlock()

	for _, fn := range observers {
		fn(snap)
	}
}

func buildEdit(text string, r *protocol.Range, insert string, selFrom, selTo int) Edit {
	var from, to int
	if r != nil {
		from, to = RangeOffsets(text, *r)
	} else {
		from, to = clamp(selFrom, 0, len(text)), clamp(selTo, 0, len(text))
		if from > to {
			from, to = to, from
		}
	}
	return Edit{From: from, To: to, Insert: insert, Cursor: from + len(insert)}
}

// firstToken returns leading whitespace, the first run of non-space
// characters and the whitespace after it.
func firstToken(s string) string {
	i := 0
	for _, inWord := range []bool{false, true, false} {
		for i < len(s) {
			r, size := utf8.DecodeRuneInString(s[i:])
			if unicode.IsSpace(r) == inWord {
				break
			}
			i += size
		}
	}
	return s[:i]
}

// stripToken removes token from the front of s. When s does not start
// with it, the first occurrence of the bare word is removed instead and
// leading whitespace trimmed.
func stripToken(s, token string) string {
	if rest, ok := strings.CutPrefix(s, token); ok {
		return rest
	}
	word := strings.TrimSpace(token)
	if word == "" {
		return s
	}
	if i := strings.Index(s, word); i >= 0 {
		s = s[:i] + s[i+len(word):]
	}
	return strings.TrimLeftFunc(s, unicode.IsSpace)
}
