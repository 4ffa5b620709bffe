package plugin

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/ghostline/agent"
	"github.com/teranos/ghostline/auth"
	"github.com/teranos/ghostline/completion"
	"github.com/teranos/ghostline/docversion"
	"github.com/teranos/ghostline/errors"
	"github.com/teranos/ghostline/logger"
	"github.com/teranos/ghostline/render"
	"github.com/teranos/ghostline/settings"
	"github.com/teranos/ghostline/suggest"
)

// Config wires a Plugin to its host.
type Config struct {
	Logger *zap.SugaredLogger
	// Workspace is required.
	Workspace Workspace
	Store     SettingsStore
	Notifier  agent.Notifier
	// Prompter shows device codes during sign-in. Optional.
	Prompter auth.Prompter

	// WatchPath, when set, is watched for external edits to the settings
	// file. It normally matches the FileStore path.
	WatchPath string

	// OnRender receives the decoration after every suggestion change;
	// ok is false when nothing should be drawn.
	OnRender func(d render.Decoration, ok bool)
	// OnStatus receives the status after every enable or agent change.
	OnStatus func(Status)

	// Agent process plumbing, replaced in tests.
	Launcher       agent.Launcher
	CheckRuntime   func(ctx context.Context, cfg settings.AgentSettings) (agent.Runtime, error)
	HealthInterval time.Duration
	StopGrace      time.Duration
	// Defer schedules the suggestion machine's deferred clears.
	Defer func(f func())
}

// Plugin is the ghostline root. Create it with New, then call OnLoad.
type Plugin struct {
	logger    *zap.SugaredLogger
	store     SettingsStore
	notifier  agent.Notifier
	watchPath string
	onRender  func(render.Decoration, bool)
	onStatus  func(Status)

	versions  *docversion.Cache
	machine   *suggest.Machine
	adapter   *render.Adapter
	sup       *agent.Supervisor
	coord     *completion.Coordinator
	observers *settings.Observers
	watcher   *settings.Watcher

	mu       sync.RWMutex
	settings *settings.Settings
	keymap   Keymap
	handles  []settings.Handle
	loaded   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New assembles the plugin with default settings. Nothing runs until OnLoad.
func New(cfg Config) *Plugin {
	log := logger.Or(cfg.Logger)
	s := settings.Default()
	ctx, cancel := context.WithCancel(context.Background())

	p := &Plugin{
		logger:    log.With(logger.FieldComponent, "plugin"),
		store:     cfg.Store,
		notifier:  cfg.Notifier,
		watchPath: cfg.WatchPath,
		onRender:  cfg.OnRender,
		onStatus:  cfg.OnStatus,
		versions:  docversion.New(),
		observers: &settings.Observers{},
		settings:  s,
		keymap:    NewKeymap(s.Hotkeys),
		ctx:       ctx,
		cancel:    cancel,
	}
	if p.notifier == nil {
		p.notifier = logNotifier{p.logger}
	}

	p.machine = suggest.New(suggest.Config{Logger: log, Defer: cfg.Defer})
	p.adapter = render.NewAdapter(p.machine)
	p.machine.OnChange(func(suggest.Snapshot) {
		d, ok := p.adapter.Update()
		if p.onRender != nil {
			p.onRender(d, ok)
		}
	})

	p.sup = agent.New(agent.Config{
		Logger:         log,
		Settings:       s,
		BasePath:       cfg.Workspace.BasePath(),
		Launcher:       cfg.Launcher,
		Notifier:       p.notifier,
		Prompter:       cfg.Prompter,
		HealthInterval: cfg.HealthInterval,
		StopGrace:      cfg.StopGrace,
		CheckRuntime:   cfg.CheckRuntime,
		OnNotification: p.agentNotification,
	})
	p.sup.OnStateChange(p.agentStateChanged)

	p.coord = completion.New(completion.Config{
		Logger:    log,
		Settings:  s,
		Versions:  p.versions,
		Machine:   p.machine,
		Workspace: cfg.Workspace,
		Session:   p.session,
		OnFatal:   p.sup.Fail,
	})
	return p
}

// OnLoad reads the settings, subscribes every component to settings
// changes, starts the settings watcher and, when enabled, the agent. The
// agent starts in the background; its failures reach the Notifier.
func (p *Plugin) OnLoad(ctx context.Context) error {
	p.mu.Lock()
	if p.loaded {
		p.mu.Unlock()
		return errors.New("plugin already loaded")
	}
	p.loaded = true
	p.mu.Unlock()

	s, err := p.loadSettings()
	if err != nil {
		return err
	}
	p.install(s)

	p.mu.Lock()
	p.handles = []settings.Handle{
		p.observers.Subscribe(p.coord.UpdateSettings),
		p.observers.Subscribe(p.sup.UpdateSettings),
		p.observers.Subscribe(p.apply),
	}
	p.mu.Unlock()

	if p.watchPath != "" {
		w, err := settings.NewWatcher(p.watchPath, p.observers)
		if err != nil {
			p.logger.Warnw("Settings watcher unavailable", logger.FieldPath, p.watchPath, logger.FieldError, err)
		} else {
			p.watcher = w
			settings.SetGlobalWatcher(w)
			w.Start()
		}
	}

	p.logger.Infow("Plugin loaded", "enabled", s.Enabled)
	if s.Enabled {
		p.startAgent()
	}
	p.publishStatus()
	return nil
}

// OnUnload stops the agent and every background task. The plugin cannot be
// loaded again.
func (p *Plugin) OnUnload(ctx context.Context) error {
	p.mu.Lock()
	handles := p.handles
	p.handles = nil
	p.mu.Unlock()
	for _, h := range handles {
		p.observers.Unsubscribe(h)
	}

	var errs error
	if p.watcher != nil {
		if settings.GetGlobalWatcher() == p.watcher {
			settings.SetGlobalWatcher(nil)
		}
		if err := p.watcher.Stop(); err != nil {
			errs = errors.CombineErrors(errs, errors.Wrap(err, "failed to stop settings watcher"))
		}
	}

	// A start still in its handshake sees the cancelled context and backs
	// out before Stop runs.
	p.cancel()
	p.wg.Wait()
	p.coord.Close()
	if err := p.sup.Stop(ctx); err != nil {
		errs = errors.CombineErrors(errs, err)
	}
	p.machine.Clear()

	p.logger.Infow("Plugin unloaded")
	return errs
}

// Settings returns a copy of the current settings.
func (p *Plugin) Settings() *settings.Settings {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.settings.Clone()
}

// Observers is the settings publish/subscribe list. Hosts subscribe to it
// to refresh a settings panel.
func (p *Plugin) Observers() *settings.Observers {
	return p.observers
}

// Supervisor exposes the agent supervisor for sign-in commands.
func (p *Plugin) Supervisor() *agent.Supervisor {
	return p.sup
}

// SaveSettings validates, persists and publishes s.
func (p *Plugin) SaveSettings(s *settings.Settings) error {
	if err := s.Validate(); err != nil {
		return errors.WithHint(errors.Configuration(err), "Fix the setting and save again.")
	}
	if p.store != nil {
		if err := p.store.Save(s); err != nil {
			return errors.Wrap(err, "failed to save settings")
		}
	}
	p.observers.Notify(s)
	return nil
}

// Toggle flips settings.enabled, persists it and publishes the change.
func (p *Plugin) Toggle() error {
	s := p.Settings()
	s.Enabled = !s.Enabled
	return p.SaveSettings(s)
}

// Status returns the current status bar summary.
func (p *Plugin) Status() Status {
	p.mu.RLock()
	enabled := p.settings.Enabled
	p.mu.RUnlock()
	return Status{Enabled: enabled, Agent: p.sup.State(), Showing: p.machine.State() == suggest.Showing}
}

// Decoration returns the decoration last rendered.
func (p *Plugin) Decoration() (render.Decoration, bool) {
	return p.adapter.Current()
}

// ClickDecoration handles a click on the ghost text.
func (p *Plugin) ClickDecoration() {
	p.adapter.Click()
}

// FileOpened reports that the host opened path in an editor.
func (p *Plugin) FileOpened(ctx context.Context, path string) {
	p.machine.Clear()
	p.coord.OnFileOpened(ctx, path)
}

// EditorChanged reports an edit in ed.
func (p *Plugin) EditorChanged(ed Editor) {
	text := ed.Text()
	p.machine.DocumentChanged(text)

	_, cursor := ed.Selection()
	pos := suggest.PositionAt(text, cursor)
	p.coord.OnEditorChanged(ed.Path(), text, int(pos.Line), int(pos.Character))
}

// CursorMoved reports a cursor or selection change without an edit.
func (p *Plugin) CursorMoved(ed Editor) {
	_, cursor := ed.Selection()
	p.machine.CursorMoved(cursor)
}

// RequestNow asks for completions at ed's cursor immediately.
func (p *Plugin) RequestNow(ed Editor) bool {
	text := ed.Text()
	_, cursor := ed.Selection()
	pos := suggest.PositionAt(text, cursor)
	return p.coord.RequestNow(text, int(pos.Line), int(pos.Character))
}

// HandleKey dispatches a key chord. It reports whether the chord was
// consumed; the host applies its own binding otherwise. Accept, cancel,
// partial accept and next only act on a live suggestion.
func (p *Plugin) HandleKey(chord string, ed Editor) bool {
	p.mu.RLock()
	action, ok := p.keymap.Lookup(chord)
	p.mu.RUnlock()
	if !ok {
		return false
	}

	switch action {
	case ActionAccept:
		return p.applyEdit(ed, p.machine.Accept)
	case ActionPartialAccept:
		return p.applyEdit(ed, p.machine.PartialAccept)
	case ActionNext:
		return p.machine.CycleNext()
	case ActionCancel:
		return p.machine.Cancel()
	case ActionRequest:
		p.RequestNow(ed)
		return true
	case ActionToggle:
		if err := p.Toggle(); err != nil {
			p.logger.Warnw("Failed to toggle completions", logger.FieldError, err)
			p.notifier.Notify("Ghostline: " + err.Error())
		}
		return true
	}
	return false
}

func (p *Plugin) applyEdit(ed Editor, accept func(text string, from, to int) (suggest.Edit, bool)) bool {
	if !p.machine.Active() {
		return false
	}
	text := ed.Text()
	from, to := ed.Selection()
	edit, ok := accept(text, from, to)
	if !ok {
		return false
	}
	ed.Replace(edit.From, edit.To, edit.Insert)
	ed.SetCursor(edit.Cursor)
	return true
}

// loadSettings falls back to defaults when the stored settings are invalid
// so a bad file never keeps the plugin from loading.
func (p *Plugin) loadSettings() (*settings.Settings, error) {
	if p.store == nil {
		return settings.Default(), nil
	}
	s, err := p.store.Load()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load settings")
	}
	if err := s.Validate(); err != nil {
		p.logger.Warnw("Invalid settings, using defaults", logger.FieldError, err)
		p.notifier.Notify("Ghostline: invalid settings, using defaults: " + err.Error())
		return settings.Default(), nil
	}
	return s, nil
}

// install sets s without the enable/disable side effects of apply.
func (p *Plugin) install(s *settings.Settings) {
	p.mu.Lock()
	p.settings = s.Clone()
	p.keymap = NewKeymap(s.Hotkeys)
	p.mu.Unlock()
	p.coord.UpdateSettings(s)
	p.sup.UpdateSettings(s)
}

// apply is the plugin's own settings subscriber.
func (p *Plugin) apply(s *settings.Settings) {
	p.mu.Lock()
	wasEnabled := p.settings.Enabled
	p.settings = s
	p.keymap = NewKeymap(s.Hotkeys)
	p.mu.Unlock()

	switch {
	case wasEnabled && !s.Enabled:
		p.machine.Clear()
		p.logger.Infow("Completions disabled")
	case !wasEnabled && s.Enabled:
		p.logger.Infow("Completions enabled")
		if p.sup.State() == agent.Stopped {
			p.startAgent()
		}
	}
	if wasEnabled != s.Enabled {
		p.publishStatus()
	}
}

func (p *Plugin) startAgent() {
	if p.ctx.Err() != nil {
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.sup.Start(p.ctx); err != nil {
			p.logger.Warnw("Agent failed to start",
				logger.FieldError, err,
				logger.FieldErrorKind, errors.Kind(err))
		}
	}()
}

// session hides a nil *rpc.Session behind a nil interface.
func (p *Plugin) session() completion.Session {
	if s := p.sup.Session(); s != nil {
		return s
	}
	return nil
}

func (p *Plugin) agentStateChanged(st agent.State) {
	switch st {
	case agent.Ready:
		// A fresh agent has not seen the open document yet.
		if doc := p.versions.ActiveDocument(); !doc.IsZero() {
			p.coord.OnFileOpened(p.ctx, doc.Path)
		}
	case agent.Stopped:
		p.machine.Clear()
	}
	p.publishStatus()
}

func (p *Plugin) agentNotification(method string, params json.RawMessage) {
	p.logger.Debugw("Agent notification", logger.FieldMethod, method, logger.FieldSize, len(params))
}

func (p *Plugin) publishStatus() {
	if p.onStatus != nil {
		p.onStatus(p.Status())
	}
}

type logNotifier struct {
	logger *zap.SugaredLogger
}

func (n logNotifier) Notify(msg string) {
	n.logger.Infow("Notice", "message", msg)
}
