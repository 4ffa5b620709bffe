// Package agent supervises the completion agent process: it checks the
// runtime, launches the agent, performs the handshake, watches for exit and
// runs the sign-in flow when the agent reports it is signed out.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/ghostline/agent/rpc"
	"github.com/teranos/ghostline/auth"
	"github.com/teranos/ghostline/errors"
	"github.com/teranos/ghostline/logger"
	"github.com/teranos/ghostline/settings"
	"github.com/teranos/ghostline/version"
)

const (
	// DefaultHealthInterval is how often a Ready agent is sampled.
	DefaultHealthInterval = 5 * time.Second
	// DefaultStopGrace is how long Stop waits before killing the agent.
	DefaultStopGrace = 3 * time.Second

	// StoppedNotice is shown when the agent exits on its own.
	StoppedNotice = "Ghostline: the completion agent has stopped."
)

var errStoppedWhileStarting = errors.New("agent stopped while starting")

// Notifier shows a short message to the user.
type Notifier interface {
	Notify(message string)
}

// Config configures a Supervisor.
type Config struct {
	Logger   *zap.SugaredLogger
	Settings *settings.Settings
	// BasePath is the workspace root sent as rootUri.
	BasePath string
	Launcher Launcher
	Notifier Notifier
	// Prompter shows device codes. Without one, a signed-out agent only
	// produces a notice.
	Prompter auth.Prompter
	// HealthInterval defaults to DefaultHealthInterval; negative disables.
	HealthInterval time.Duration
	StopGrace      time.Duration
	// CheckRuntime replaces the runtime check, mainly for tests.
	CheckRuntime func(ctx context.Context, cfg settings.AgentSettings) (Runtime, error)
	// OnNotification receives agent notifications.
	OnNotification func(method string, params json.RawMessage)
}

// Supervisor owns at most one running agent.
type Supervisor struct {
	cfg    Config
	logger *zap.SugaredLogger

	mu        sync.Mutex
	state     State
	current   *run
	observers []func(State)
	// pending is the run still in its handshake. abortStart is set by a
	// Stop that arrives while Starting; startDone closes when Start returns.
	pending    *run
	abortStart bool
	startDone  chan struct{}

	signingOut atomic.Bool
	wg         sync.WaitGroup
}

type run struct {
	session  *rpc.Session
	proc     Process
	exited   chan struct{}
	exitErr  error
	ctx      context.Context
	cancel   context.CancelFunc
	stopping atomic.Bool
}

// New returns a stopped supervisor.
func New(cfg Config) *Supervisor {
	if cfg.Launcher == nil {
		cfg.Launcher = ExecLauncher{}
	}
	if cfg.Settings == nil {
		cfg.Settings = settings.Default()
	}
	if cfg.HealthInterval == 0 {
		cfg.HealthInterval = DefaultHealthInterval
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = DefaultStopGrace
	}
	if cfg.CheckRuntime == nil {
		cfg.CheckRuntime = CheckRuntime
	}
	return &Supervisor{
		cfg:    cfg,
		logger: logger.Or(cfg.Logger).With(logger.FieldComponent, "agent"),
	}
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OnStateChange registers fn for every transition. fn runs outside the
// supervisor's lock on whichever goroutine made the transition.
func (s *Supervisor) OnStateChange(fn func(State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// Session returns the live session while the agent is Ready, else nil.
func (s *Supervisor) Session() *rpc.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Ready || s.current == nil {
		return nil
	}
	return s.current.session
}

// UpdateSettings replaces the settings used by the next Start.
func (s *Supervisor) UpdateSettings(cfg *settings.Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Settings = cfg.Clone()
}

// Start checks the runtime, launches the agent and completes the
// handshake. Configuration and handshake failures leave the supervisor
// Stopped and are also shown through the Notifier.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Stopped {
		state := s.state
		s.mu.Unlock()
		return errors.Newf("agent already %s", state)
	}
	cfg := s.cfg.Settings.Clone()
	s.state = Starting
	s.abortStart = false
	done := make(chan struct{})
	s.startDone = done
	s.mu.Unlock()
	defer close(done)
	s.publish(Starting)

	r, status, err := s.launch(ctx, cfg)

	s.mu.Lock()
	aborted := s.abortStart
	s.pending = nil
	if err == nil && !aborted {
		s.current = r
		s.state = Ready
	}
	s.mu.Unlock()

	if aborted {
		if r != nil {
			s.teardown(r)
		}
		s.setState(Stopped)
		s.logger.Infow("Agent stopped while starting")
		return errStoppedWhileStarting
	}
	if err != nil {
		s.setState(Stopped)
		s.notify("Ghostline: " + err.Error())
		return err
	}
	s.publish(Ready)

	s.wg.Add(1)
	go s.monitor(r)

	s.logger.Infow("Agent ready", "pid", r.proc.Pid(), "status", status.Status, "user", status.User)
	if status.Status == rpc.StatusNotSignedIn {
		s.requireSignIn()
	}
	return nil
}

func (s *Supervisor) launch(ctx context.Context, cfg *settings.Settings) (*run, rpc.StatusResult, error) {
	rt, err := s.cfg.CheckRuntime(ctx, cfg.Agent)
	if err != nil {
		return nil, rpc.StatusResult{}, err
	}

	cmd := rt.Command()
	proc, err := s.cfg.Launcher.Launch(cmd)
	if err != nil {
		return nil, rpc.StatusResult{}, errors.Transport(err)
	}
	s.logger.Infow("Launched agent", "command", cmd.String(), "pid", proc.Pid())

	runCtx, cancel := context.WithCancel(context.Background())
	r := &run{proc: proc, exited: make(chan struct{}), ctx: runCtx, cancel: cancel}
	r.session = rpc.NewSession(proc.Stdout(), proc.Stdin(), rpc.Config{
		Logger:         s.logger,
		RequestTimeout: cfg.Agent.RequestTimeout(),
		OnMessage:      s.tap,
		OnNotification: s.cfg.OnNotification,
		TraceFrames:    cfg.Debug,
	})

	go logLines(proc.Stderr(), s.logger)
	go func() {
		r.exitErr = proc.Wait()
		close(r.exited)
	}()

	s.mu.Lock()
	aborted := s.abortStart
	if !aborted {
		s.pending = r
	}
	s.mu.Unlock()
	if aborted {
		s.teardown(r)
		return nil, rpc.StatusResult{}, errStoppedWhileStarting
	}

	status, err := s.handshake(ctx, r.session)
	if err != nil {
		s.teardown(r)
		return nil, rpc.StatusResult{}, err
	}
	return r, status, nil
}

func (s *Supervisor) handshake(ctx context.Context, session *rpc.Session) (rpc.StatusResult, error) {
	info := version.Get()
	_, err := session.Initialize(ctx, rpc.InitializeParams{
		ProcessID:    os.Getpid(),
		ClientInfo:   rpc.ClientInfo{Name: version.Name, Version: info.Version},
		RootURI:      "file://" + s.cfg.BasePath,
		Capabilities: rpc.ClientCapabilities{Copilot: rpc.CopilotCapabilities{OpenURL: true}},
	})
	if err != nil {
		return rpc.StatusResult{}, err
	}

	status, err := session.CheckStatus(ctx, false)
	if err != nil {
		return rpc.StatusResult{}, errors.Wrap(err, "agent status check failed")
	}

	editor := rpc.EditorInfo{Name: version.Name, Version: info.Version}
	if err := session.SetEditorInfo(ctx, rpc.SetEditorInfoParams{EditorInfo: editor, EditorPluginInfo: editor}); err != nil {
		return rpc.StatusResult{}, errors.Wrap(err, "setEditorInfo failed")
	}
	return status, nil
}

// Status asks the running agent for its sign-in status.
func (s *Supervisor) Status(ctx context.Context) (rpc.StatusResult, error) {
	session := s.liveSession()
	if session == nil {
		return rpc.StatusResult{}, errors.New("agent is not running")
	}
	return session.CheckStatus(ctx, false)
}

// SignIn runs the device-code flow against the running agent and returns
// to Ready on success.
func (s *Supervisor) SignIn(ctx context.Context) (string, error) {
	return s.SignInWith(ctx, s.cfg.Prompter)
}

// SignInWith is SignIn with a prompter other than the configured one.
func (s *Supervisor) SignInWith(ctx context.Context, prompter auth.Prompter) (string, error) {
	session := s.liveSession()
	if session == nil {
		return "", errors.New("agent is not running")
	}
	user, err := auth.SignIn(ctx, session, prompter)
	if err != nil {
		return "", err
	}
	s.transition(SignInRequired, Ready)
	return user, nil
}

// SignOut signs the agent out. The supervisor waits in SignInRequired
// without prompting.
func (s *Supervisor) SignOut(ctx context.Context) error {
	session := s.liveSession()
	if session == nil {
		return errors.New("agent is not running")
	}
	s.signingOut.Store(true)
	defer s.signingOut.Store(false)

	if err := auth.SignOut(ctx, session); err != nil {
		return err
	}
	s.transition(Ready, SignInRequired)
	return nil
}

// Fail stops the agent after a fatal session error reported by a caller.
// Non-fatal errors are ignored.
func (s *Supervisor) Fail(err error) {
	if !errors.IsFatal(err) {
		return
	}
	s.mu.Lock()
	r := s.current
	s.mu.Unlock()
	if r != nil {
		s.exit(r, err)
	}
}

// Stop shuts the agent down: exit notification, interrupt, then kill after
// the grace period. It is not an error to stop a stopped supervisor. A Stop
// during Start abandons the handshake and waits for Start to return.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	r := s.current
	var starting chan struct{}
	if r == nil && s.state == Starting {
		s.abortStart = true
		r = s.pending
		starting = s.startDone
	}
	s.mu.Unlock()

	if r != nil {
		r.stopping.Store(true)
		r.session.Dispose()

		grace := time.NewTimer(s.cfg.StopGrace)
		defer grace.Stop()
		select {
		case <-r.exited:
		case <-grace.C:
			s.logger.Warnw("Agent did not exit in time, killing it", "pid", r.proc.Pid())
			s.terminate(r)
		case <-ctx.Done():
			s.terminate(r)
		}
		s.exit(r, nil)
	}
	if starting != nil {
		select {
		case <-starting:
		case <-ctx.Done():
		}
	}

	s.wg.Wait()
	return nil
}

func (s *Supervisor) terminate(r *run) {
	if err := r.proc.Interrupt(); err != nil {
		s.logger.Debugw("Interrupt failed", logger.FieldError, err)
	}
	select {
	case <-r.exited:
	case <-time.After(500 * time.Millisecond):
		if err := r.proc.Kill(); err != nil {
			s.logger.Debugw("Kill failed", logger.FieldError, err)
		}
	}
}

func (s *Supervisor) monitor(r *run) {
	defer s.wg.Done()
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Errorw("Panic in agent monitor", "panic", rec)
		}
	}()

	var tick <-chan time.Time
	if s.cfg.HealthInterval > 0 && r.proc.Pid() > 0 {
		ticker := time.NewTicker(s.cfg.HealthInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-r.exited:
			s.exit(r, errors.Transport(errors.Wrap(exitError(r.exitErr), "agent process exited")))
			return
		case <-r.session.Done():
			cause := r.session.Err()
			if cause == nil {
				cause = rpc.ErrConnectionClosed
			}
			s.exit(r, cause)
			return
		case <-tick:
			h, err := ProbeProcess(r.ctx, r.proc.Pid())
			if err != nil {
				s.logger.Debugw("Agent health probe failed", logger.FieldError, err)
				continue
			}
			if !h.Alive {
				s.exit(r, errors.Transport(errors.New("agent process vanished")))
				return
			}
			s.logger.Debugw("Agent health", "pid", r.proc.Pid(), "rss_bytes", h.RSS)
		}
	}
}

// exit moves r to Stopped once. Unless Stop caused it, the user is told.
func (s *Supervisor) exit(r *run, cause error) {
	s.mu.Lock()
	if s.current != r {
		s.mu.Unlock()
		return
	}
	s.current = nil
	s.state = Stopped
	s.mu.Unlock()

	s.teardown(r)
	s.publish(Stopped)

	if r.stopping.Load() {
		s.logger.Infow("Agent stopped")
		return
	}
	s.logger.Errorw("Agent stopped unexpectedly", logger.FieldError, cause)
	s.notify(StoppedNotice)
}

func (s *Supervisor) teardown(r *run) {
	r.cancel()
	r.session.Dispose()
	select {
	case <-r.exited:
	default:
		if err := r.proc.Kill(); err != nil {
			s.logger.Debugw("Kill failed", logger.FieldError, err)
		}
	}
}

// tap sees every inbound frame. A NotSignedIn status while Ready starts
// the sign-in flow.
func (s *Supervisor) tap(raw json.RawMessage) {
	if !bytes.Contains(raw, []byte(rpc.StatusNotSignedIn)) || s.signingOut.Load() {
		return
	}
	var msg struct {
		Result struct {
			Status string `json:"status"`
		} `json:"result"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Result.Status != rpc.StatusNotSignedIn {
		return
	}
	s.requireSignIn()
}

func (s *Supervisor) requireSignIn() {
	s.mu.Lock()
	if s.state != Ready || s.current == nil {
		s.mu.Unlock()
		return
	}
	s.state = SignInRequired
	r := s.current
	s.mu.Unlock()
	s.publish(SignInRequired)

	if s.cfg.Prompter == nil {
		s.notify("Ghostline: sign in to use completions. Run 'ghostline signin'.")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		user, err := auth.SignIn(r.ctx, r.session, s.cfg.Prompter)
		if err != nil {
			if r.ctx.Err() == nil {
				s.logger.Warnw("Sign-in failed", logger.FieldError, err)
				s.notify("Ghostline: sign-in failed: " + err.Error())
			}
			return
		}
		s.logger.Infow("Signed in", "user", user)
		s.transition(SignInRequired, Ready)
	}()
}

func (s *Supervisor) liveSession() *rpc.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	return s.current.session
}

func (s *Supervisor) transition(from, to State) {
	s.mu.Lock()
	if s.state != from {
		s.mu.Unlock()
		return
	}
	s.state = to
	s.mu.Unlock()
	s.publish(to)
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	s.publish(st)
}

func (s *Supervisor) publish(st State) {
	s.mu.Lock()
	observers := append([]func(State){}, s.observers...)
	s.mu.Unlock()
	for _, fn := range observers {
		fn(st)
	}
}

func (s *Supervisor) notify(msg string) {
	if s.cfg.Notifier != nil {
		s.cfg.Notifier.Notify(msg)
	}
}

func exitError(err error) error {
	if err == nil {
		return errors.New("exit status 0")
	}
	return err
}
