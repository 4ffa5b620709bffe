package agent_test

import (
	"context"
	"encoding/json"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/teranos/ghostline/agent"
	"github.com/teranos/ghostline/agent/agenttest"
	"github.com/teranos/ghostline/agent/rpc"
	"github.com/teranos/ghostline/auth"
	"github.com/teranos/ghostline/errors"
	"github.com/teranos/ghostline/settings"
)

type notices struct {
	mu   sync.Mutex
	msgs []string
}

func (n *notices) Notify(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
}

func (n *notices) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.msgs...)
}

type fixture struct {
	sup      *agent.Supervisor
	notices  *notices
	logs     *observer.ObservedLogs
	mu       sync.Mutex
	procs    []*agenttest.Process
	commands []agent.Command
	states   []agent.State
	// setup runs on each new process before the handshake
	setup func(p *agenttest.Process)
}

func (f *fixture) proc(i int) *agenttest.Process {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.procs[i]
}

func (f *fixture) seen() []agent.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]agent.State(nil), f.states...)
}

func newFixture(t *testing.T, mutate func(*agent.Config)) *fixture {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	f := &fixture{notices: &notices{}, logs: logs}

	cfg := settings.Default()
	cfg.Agent.RequestTimeoutMS = 2000

	c := agent.Config{
		Logger:         zap.New(core).Sugar(),
		Settings:       cfg,
		BasePath:       "/vault",
		Notifier:       f.notices,
		HealthInterval: -1,
		StopGrace:      200 * time.Millisecond,
		CheckRuntime: func(context.Context, settings.AgentSettings) (agent.Runtime, error) {
			return agent.Runtime{Path: "/usr/bin/node", Script: "/agent/language-server.js", Args: []string{"--trace"}}, nil
		},
		Launcher: agent.LauncherFunc(func(cmd agent.Command) (agent.Process, error) {
			p := agenttest.NewProcess(t)
			f.mu.Lock()
			f.procs = append(f.procs, p)
			f.commands = append(f.commands, cmd)
			setup := f.setup
			f.mu.Unlock()
			if setup != nil {
				setup(p)
			}
			return p, nil
		}),
	}
	if mutate != nil {
		mutate(&c)
	}

	f.sup = agent.New(c)
	f.sup.OnStateChange(func(s agent.State) {
		f.mu.Lock()
		f.states = append(f.states, s)
		f.mu.Unlock()
	})
	t.Cleanup(func() { _ = f.sup.Stop(context.Background()) })
	return f
}

func TestStartHandshake(t *testing.T) {
	f := newFixture(t, nil)

	require.NoError(t, f.sup.Start(context.Background()))
	assert.Equal(t, agent.Ready, f.sup.State())
	require.NotNil(t, f.sup.Session())
	assert.Equal(t, []agent.State{agent.Starting, agent.Ready}, f.seen())

	require.Len(t, f.commands, 1)
	assert.Equal(t, "/usr/bin/node", f.commands[0].Path)
	assert.Equal(t, []string{"/agent/language-server.js", "--trace", "--stdio"}, f.commands[0].Args)

	p := f.proc(0)
	assert.Equal(t, []string{
		rpc.MethodInitialize,
		rpc.MethodInitialized,
		rpc.MethodCheckStatus,
		rpc.MethodSetEditorInfo,
	}, p.Methods())

	var init struct {
		ProcessID    int    `json:"processId"`
		RootURI      string `json:"rootUri"`
		Capabilities struct {
			Copilot struct {
				OpenURL bool `json:"openURL"`
			} `json:"copilot"`
		} `json:"capabilities"`
		ClientInfo struct {
			Name string `json:"name"`
		} `json:"clientInfo"`
	}
	require.NoError(t, json.Unmarshal(p.CallsTo(rpc.MethodInitialize)[0].Params, &init))
	assert.Positive(t, init.ProcessID)
	assert.Equal(t, "file:///vault", init.RootURI)
	assert.True(t, init.Capabilities.Copilot.OpenURL)
	assert.Equal(t, "ghostline", init.ClientInfo.Name)

	assert.JSONEq(t, `{"localChecksOnly":false}`, string(p.CallsTo(rpc.MethodCheckStatus)[0].Params))
}

func TestStartTwiceFails(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.sup.Start(context.Background()))
	assert.Error(t, f.sup.Start(context.Background()))
	assert.Len(t, f.commands, 1)
}

func TestStartConfigurationError(t *testing.T) {
	f := newFixture(t, func(c *agent.Config) {
		c.CheckRuntime = func(context.Context, settings.AgentSettings) (agent.Runtime, error) {
			return agent.Runtime{}, errors.Configuration(errors.New("node 16 is too old"))
		}
	})

	err := f.sup.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, "configuration", errors.Kind(err))
	assert.Equal(t, agent.Stopped, f.sup.State())
	assert.Empty(t, f.commands)
	require.Len(t, f.notices.all(), 1)
	assert.Contains(t, f.notices.all()[0], "node 16 is too old")
}

func TestHandshakeFailureStops(t *testing.T) {
	f := newFixture(t, nil)
	f.setup = func(p *agenttest.Process) {
		p.Handle(rpc.MethodInitialize, agenttest.Fail(-32603, "boom"))
	}

	err := f.sup.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, "protocol", errors.Kind(err))
	assert.Equal(t, agent.Stopped, f.sup.State())
	assert.Nil(t, f.sup.Session())

	select {
	case <-waitDone(f.proc(0)):
	case <-time.After(2 * time.Second):
		t.Fatal("agent process still running after failed handshake")
	}
}

func TestUnexpectedExitNotifies(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.sup.Start(context.Background()))

	f.proc(0).Crash(errors.New("exit status 1"))

	require.Eventually(t, func() bool { return f.sup.State() == agent.Stopped }, 2*time.Second, 5*time.Millisecond)
	assert.Nil(t, f.sup.Session())
	assert.Equal(t, []string{agent.StoppedNotice}, f.notices.all())
	assert.Equal(t, agent.Stopped, f.seen()[len(f.seen())-1])
}

func TestStopIsQuietAndRestartable(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.sup.Start(context.Background()))

	require.NoError(t, f.sup.Stop(context.Background()))
	assert.Equal(t, agent.Stopped, f.sup.State())
	assert.Empty(t, f.notices.all())
	assert.True(t, f.proc(0).WaitFor(rpc.MethodExit, 1, time.Second))

	// stopping again is a no-op
	require.NoError(t, f.sup.Stop(context.Background()))

	require.NoError(t, f.sup.Start(context.Background()))
	assert.Equal(t, agent.Ready, f.sup.State())
	assert.Len(t, f.commands, 2)
}

func TestStopDuringHandshake(t *testing.T) {
	f := newFixture(t, nil)
	entered := make(chan struct{})
	var once sync.Once
	f.setup = func(p *agenttest.Process) {
		p.Handle(rpc.MethodInitialize, func(params json.RawMessage) (interface{}, *rpc.ResponseError) {
			once.Do(func() { close(entered) })
			return agenttest.Silent()(params)
		})
	}

	started := make(chan error, 1)
	go func() { started <- f.sup.Start(context.Background()) }()

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("handshake never reached the agent")
	}
	require.NoError(t, f.sup.Stop(context.Background()))

	select {
	case err := <-started:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
	assert.Equal(t, agent.Stopped, f.sup.State())
	assert.Nil(t, f.sup.Session())
	assert.NotContains(t, f.seen(), agent.Ready)
	assert.Empty(t, f.notices.all())

	select {
	case <-waitDone(f.proc(0)):
	case <-time.After(2 * time.Second):
		t.Fatal("agent process still running after Stop")
	}
}

func TestFailStopsOnlyOnFatalErrors(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.sup.Start(context.Background()))

	f.sup.Fail(errors.Request(errors.New("completion timed out")))
	assert.Equal(t, agent.Ready, f.sup.State())

	f.sup.Fail(errors.Transport(errors.New("broken pipe")))
	assert.Equal(t, agent.Stopped, f.sup.State())
	assert.Equal(t, []string{agent.StoppedNotice}, f.notices.all())
}

func TestNotSignedInAtStartRunsSignIn(t *testing.T) {
	var mu sync.Mutex
	var shown []auth.DeviceCode
	f := newFixture(t, func(c *agent.Config) {
		c.Prompter = auth.PrompterFunc(func(_ context.Context, code auth.DeviceCode) error {
			mu.Lock()
			shown = append(shown, code)
			mu.Unlock()
			return nil
		})
	})
	f.setup = func(p *agenttest.Process) {
		p.Handle(rpc.MethodCheckStatus, agenttest.Result(rpc.StatusResult{Status: rpc.StatusNotSignedIn}))
		p.Handle(rpc.MethodSignInInitiate, agenttest.Result(rpc.SignInInitiateResult{
			Status:          rpc.StatusPromptUserCode,
			UserCode:        "ABCD-EFGH",
			VerificationURI: "https://github.com/login/device",
		}))
		p.Handle(rpc.MethodSignInConfirm, agenttest.Result(rpc.StatusResult{Status: rpc.StatusOK, User: "octocat"}))
	}

	require.NoError(t, f.sup.Start(context.Background()))

	require.Eventually(t, func() bool {
		return len(f.proc(0).CallsTo(rpc.MethodSignInConfirm)) == 1 && f.sup.State() == agent.Ready
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	require.Len(t, shown, 1)
	assert.Equal(t, "ABCD-EFGH", shown[0].UserCode)
	mu.Unlock()
	assert.Equal(t, []agent.State{agent.Starting, agent.Ready, agent.SignInRequired, agent.Ready}, f.seen())
	assert.JSONEq(t, `{"userCode":"ABCD-EFGH"}`, string(f.proc(0).CallsTo(rpc.MethodSignInConfirm)[0].Params))
}

func TestNotSignedInWhileReadyWithoutPrompter(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.sup.Start(context.Background()))

	f.proc(0).Handle(rpc.MethodCheckStatus, agenttest.Result(rpc.StatusResult{Status: rpc.StatusNotSignedIn}))
	_, err := f.sup.Status(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool { return f.sup.State() == agent.SignInRequired }, 2*time.Second, 5*time.Millisecond)
	assert.Nil(t, f.sup.Session())
	require.Len(t, f.notices.all(), 1)
	assert.Contains(t, f.notices.all()[0], "ghostline signin")
}

func TestSignOutWaitsWithoutPrompting(t *testing.T) {
	prompted := false
	f := newFixture(t, func(c *agent.Config) {
		c.Prompter = auth.PrompterFunc(func(context.Context, auth.DeviceCode) error {
			prompted = true
			return nil
		})
	})
	require.NoError(t, f.sup.Start(context.Background()))

	require.NoError(t, f.sup.SignOut(context.Background()))
	assert.Equal(t, agent.SignInRequired, f.sup.State())
	assert.Len(t, f.proc(0).CallsTo(rpc.MethodSignOut), 1)
	assert.Empty(t, f.proc(0).CallsTo(rpc.MethodSignInInitiate))
	assert.False(t, prompted)
}

func TestExplicitSignIn(t *testing.T) {
	f := newFixture(t, func(c *agent.Config) {
		c.Prompter = auth.PrompterFunc(func(context.Context, auth.DeviceCode) error { return nil })
	})
	f.setup = func(p *agenttest.Process) {
		p.Handle(rpc.MethodSignInInitiate, agenttest.Result(rpc.SignInInitiateResult{
			Status: rpc.StatusAlreadySignedIn,
			User:   "octocat",
		}))
	}
	require.NoError(t, f.sup.Start(context.Background()))

	user, err := f.sup.SignIn(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "octocat", user)
	assert.Equal(t, agent.Ready, f.sup.State())
}

func TestSignInWithPrompterAfterNotice(t *testing.T) {
	f := newFixture(t, nil)
	f.setup = func(p *agenttest.Process) {
		p.Handle(rpc.MethodCheckStatus, agenttest.Result(rpc.StatusResult{Status: rpc.StatusNotSignedIn}))
		p.Handle(rpc.MethodSignInInitiate, agenttest.Result(rpc.SignInInitiateResult{
			Status:          rpc.StatusPromptUserCode,
			UserCode:        "WXYZ-1234",
			VerificationURI: "https://github.com/login/device",
		}))
		p.Handle(rpc.MethodSignInConfirm, agenttest.Result(rpc.StatusResult{Status: rpc.StatusOK, User: "octocat"}))
	}
	require.NoError(t, f.sup.Start(context.Background()))
	assert.Equal(t, agent.SignInRequired, f.sup.State())

	var code string
	user, err := f.sup.SignInWith(context.Background(), auth.PrompterFunc(func(_ context.Context, dc auth.DeviceCode) error {
		code = dc.UserCode
		return nil
	}))
	require.NoError(t, err)
	assert.Equal(t, "octocat", user)
	assert.Equal(t, "WXYZ-1234", code)
	assert.Equal(t, agent.Ready, f.sup.State())
}

func TestSignInRequiresRunningAgent(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.sup.SignIn(context.Background())
	assert.Error(t, err)
	assert.Error(t, f.sup.SignOut(context.Background()))
	_, err = f.sup.Status(context.Background())
	assert.Error(t, err)
}

func TestStderrIsLogged(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.sup.Start(context.Background()))

	require.NoError(t, f.proc(0).WriteStderr("[agent] something odd"))
	require.Eventually(t, func() bool {
		return f.logs.FilterMessage("Agent stderr").FilterField(zap.String("message", "[agent] something odd")).Len() == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestHealthProbeDetectsVanishedProcess(t *testing.T) {
	cmd := exec.Command("true")
	if err := cmd.Run(); err != nil {
		t.Skipf("cannot run true: %v", err)
	}
	deadPid := cmd.ProcessState.Pid()

	f := newFixture(t, func(c *agent.Config) { c.HealthInterval = 10 * time.Millisecond })
	f.setup = func(p *agenttest.Process) { p.WithPid(deadPid) }
	require.NoError(t, f.sup.Start(context.Background()))

	require.Eventually(t, func() bool { return f.sup.State() == agent.Stopped }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{agent.StoppedNotice}, f.notices.all())
}

func waitDone(p *agenttest.Process) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		_ = p.Wait()
		close(ch)
	}()
	return ch
}
