// Package completion turns editor events into agent traffic: a change
// notification followed by a completion request, debounced and gated by
// settings, with the result handed to the suggestion state machine.
package completion

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	protocol "github.com/tliron/glsp/protocol_3_16"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/ghostline/agent/rpc"
	"github.com/teranos/ghostline/docversion"
	"github.com/teranos/ghostline/errors"
	"github.com/teranos/ghostline/logger"
	"github.com/teranos/ghostline/settings"
	"github.com/teranos/ghostline/suggest"
)

// Session is the part of the agent session the coordinator drives.
type Session interface {
	NotifyOpen(ctx context.Context, uri string, languageID string, version int32, text string) error
	NotifyChange(ctx context.Context, uri string, version int32, text string) error
	RequestCompletions(ctx context.Context, doc rpc.DocumentContext, pos protocol.Position, opts rpc.FormattingOptions) rpc.CompletionList
}

// Workspace reads documents from the host vault.
type Workspace interface {
	BasePath() string
	Read(path string) (string, error)
}

// Config wires a Coordinator to its collaborators.
type Config struct {
	Logger    *zap.SugaredLogger
	Settings  *settings.Settings
	Versions  *docversion.Cache
	Machine   *suggest.Machine
	Workspace Workspace
	// Session returns the live agent session, or nil while the agent is
	// not running. Events arriving without a session produce no traffic.
	Session func() Session
	// OnFatal receives transport and protocol failures, which end the
	// session. Other failures are only logged.
	OnFatal func(error)
}

// Coordinator owns the change → completion pipeline.
type Coordinator struct {
	logger    *zap.SugaredLogger
	versions  *docversion.Cache
	machine   *suggest.Machine
	workspace Workspace
	session   func() Session
	onFatal   func(error)

	mu       sync.RWMutex
	settings *settings.Settings

	debouncer *Debouncer
	// changeMu keeps bump and notifyChange atomic so versions reach the
	// agent in order. lastSent is the generation of the newest change
	// sent; older runs that lose the race for changeMu are skipped.
	changeMu sync.Mutex
	lastSent uint64
	// generation is advanced when an event arrives, before debouncing;
	// only a run holding the latest value may install its result.
	generation atomic.Uint64
	failures   rate.Sometimes

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a coordinator. Settings are copied.
func New(cfg Config) *Coordinator {
	s := cfg.Settings
	if s == nil {
		s = settings.Default()
	}
	versions := cfg.Versions
	if versions == nil {
		versions = docversion.New()
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Coordinator{
		logger:    logger.Or(cfg.Logger).With(logger.FieldComponent, "completion"),
		versions:  versions,
		machine:   cfg.Machine,
		workspace: cfg.Workspace,
		session:   cfg.Session,
		onFatal:   cfg.OnFatal,
		settings:  s.Clone(),
		debouncer: NewDebouncer(s.SuggestionDelay()),
		failures:  rate.Sometimes{First: 3, Interval: 30 * time.Second},
		ctx:       ctx,
		cancel:    cancel,
	}
}

// UpdateSettings replaces the settings snapshot. It is meant to be
// subscribed to settings.Observers.
func (c *Coordinator) UpdateSettings(s *settings.Settings) {
	c.mu.Lock()
	c.settings = s.Clone()
	c.mu.Unlock()
	c.debouncer.SetDelay(s.SuggestionDelay())
}

func (c *Coordinator) currentSettings() *settings.Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings
}

// OnFileOpened sends the full content of path with its current version and
// makes it the active document. Excluded paths produce no traffic.
func (c *Coordinator) OnFileOpened(ctx context.Context, path string) {
	s := c.currentSettings()
	if Excluded(path, s.Exclude) {
		c.logger.Debugw("Ignoring excluded file", logger.FieldPath, path)
		return
	}
	// completions still in flight belong to the previous document
	c.generation.Add(1)

	doc := docversion.Document{BasePath: c.workspace.BasePath(), Path: path}
	sess := c.sessionOrNil()
	if sess == nil {
		c.versions.SetActiveDocument(doc.BasePath, doc.Path)
		return
	}

	text, err := c.workspace.Read(path)
	if err != nil {
		c.logFailure("open", path, errors.Wrapf(err, "failed to read %s", path))
		return
	}

	if err := sess.NotifyOpen(ctx, doc.URI(), rpc.LanguageMarkdown, c.versions.Current(path), text); err != nil {
		c.logFailure("open", path, err)
		return
	}
	c.versions.SetActiveDocument(doc.BasePath, doc.Path)
	c.logger.Debugw("Document opened", logger.FieldPath, path, logger.FieldVersion, c.versions.Current(path))
}

// OnEditorChanged reports an edit. After debouncing, the version is
// bumped, the full text sent and, unless a gate closes, completions
// requested at (line, char). Line and char are LSP coordinates. A newer
// event supersedes this one from the moment it arrives, even while it is
// still held by the debouncer.
func (c *Coordinator) OnEditorChanged(path, text string, line, char int) {
	s := c.currentSettings()
	if Excluded(path, s.Exclude) {
		return
	}
	if !s.Enabled {
		return
	}

	ev := change{path: path, text: text, line: line, char: char, bump: true, gated: true}
	ev.gen = c.generation.Add(1)
	c.debouncer.Trigger(func() { c.spawn(ev) })
}

// RequestNow asks for completions in the active document without waiting
// for the debounce window and without bumping the version. The
// only-on-hotkey and code-block gates do not apply. It reports whether a
// request was started.
func (c *Coordinator) RequestNow(text string, line, char int) bool {
	doc := c.versions.ActiveDocument()
	if doc.IsZero() {
		c.logger.Debugw("On-demand completion without an active document")
		return false
	}
	s := c.currentSettings()
	if !s.Enabled || Excluded(doc.Path, s.Exclude) {
		return false
	}

	c.spawn(change{path: doc.Path, text: text, line: line, char: char, gen: c.generation.Add(1)})
	return true
}

// Wait blocks until every pipeline started so far has finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Close drops pending events, cancels in-flight requests and waits for
// them to return.
func (c *Coordinator) Close() {
	c.debouncer.Stop()
	c.cancel()
	c.wg.Wait()
}

type change struct {
	path  string
	text  string
	line  int
	char  int
	bump  bool
	gated bool
	gen   uint64
}

func (c *Coordinator) spawn(ev change) {
	if c.ctx.Err() != nil {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				c.logger.Errorw("Panic in completion pipeline", "panic", r, logger.FieldPath, ev.path)
			}
		}()
		c.run(c.ctx, ev)
	}()
}

func (c *Coordinator) run(ctx context.Context, ev change) {
	sess := c.sessionOrNil()
	if sess == nil {
		return
	}
	s := c.currentSettings()

	doc := docversion.Document{BasePath: c.workspace.BasePath(), Path: ev.path}
	uri := doc.URI()

	c.changeMu.Lock()
	if ev.gen <= c.lastSent {
		c.changeMu.Unlock()
		c.logger.Debugw("Skipping superseded change", logger.FieldPath, ev.path, "generation", ev.gen)
		return
	}
	c.lastSent = ev.gen
	version := c.versions.Current(ev.path)
	if ev.bump {
		version = c.versions.Bump(ev.path)
	}
	err := sess.NotifyChange(ctx, uri, version, ev.text)
	c.changeMu.Unlock()
	if err != nil {
		c.logFailure("change", ev.path, err)
		return
	}

	if ev.gated {
		if s.OnlyOnHotkey {
			return
		}
		if s.OnlyInCodeBlock && !InCodeBlock(ev.text, ev.line) {
			return
		}
	}

	pos := protocol.Position{Line: protocol.UInteger(ev.line), Character: protocol.UInteger(ev.char)}
	started := time.Now()
	list := sess.RequestCompletions(ctx,
		rpc.DocumentContext{URI: uri, Version: version},
		pos,
		rpc.FormattingOptions{
			TabSize:      s.Formatting.TabSize,
			IndentSize:   s.Formatting.IndentSize,
			InsertSpaces: s.Formatting.InsertSpaces,
		})

	if latest := c.generation.Load(); ev.gen != latest {
		c.logger.Debugw("Discarding stale completions",
			logger.FieldVersion, version,
			"generation", ev.gen,
			"latest", latest)
		return
	}

	c.logger.Debugw("Completions received",
		logger.FieldPath, ev.path,
		logger.FieldVersion, version,
		logger.FieldCandidates, list.Len(),
		logger.FieldDurationMS, time.Since(started).Milliseconds())

	if c.machine != nil {
		c.machine.Receive(Candidates(list), suggest.OffsetAt(ev.text, pos))
	}
}

// Candidates converts an agent completion list for the state machine.
func Candidates(list rpc.CompletionList) []suggest.Candidate {
	out := make([]suggest.Candidate, 0, list.Len())
	for _, item := range list.Completions {
		out = append(out, suggest.Candidate{
			Text:    item.Insertion(),
			Display: item.DisplayText,
			Range:   item.Range,
		})
	}
	return out
}

func (c *Coordinator) sessionOrNil() Session {
	if c.session == nil {
		return nil
	}
	return c.session()
}

// logFailure records a pipeline failure at debug level, throttled so a
// dead agent does not flood the log while the user types.
func (c *Coordinator) logFailure(op, path string, err error) {
	if errors.IsFatal(err) && c.onFatal != nil {
		c.onFatal(err)
	}
	c.failures.Do(func() {
		c.logger.Debugw("Completion pipeline step failed",
			logger.FieldOperation, op,
			logger.FieldPath, path,
			logger.FieldErrorKind, errors.Kind(err),
			logger.FieldError, err)
	})
}
