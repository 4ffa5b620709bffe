package agenttest

import (
	"io"
	"sync"
	"testing"

	"github.com/teranos/ghostline/errors"
)

// Process wraps an Agent so it can stand in for a launched agent process.
type Process struct {
	*Agent

	pid     int
	stderrR *io.PipeReader
	stderrW *io.PipeWriter

	once   sync.Once
	exited chan struct{}
	err    error

	mu          sync.Mutex
	interrupted bool
	killed      bool
}

// NewProcess starts a fake agent process, torn down when the test ends.
func NewProcess(t testing.TB) *Process {
	t.Helper()
	r, w := io.Pipe()
	p := &Process{
		Agent:   New(),
		stderrR: r,
		stderrW: w,
		exited:  make(chan struct{}),
	}
	// a real agent exits once its stdin closes
	go func() {
		<-p.Agent.done
		p.Crash(nil)
	}()
	t.Cleanup(func() {
		p.Crash(nil)
		p.Agent.Close()
	})
	return p
}

// WithPid sets the pid the process reports.
func (p *Process) WithPid(pid int) *Process {
	p.pid = pid
	return p
}

func (p *Process) Stderr() io.Reader { return p.stderrR }
func (p *Process) Pid() int          { return p.pid }

// Wait blocks until Crash, Kill or Interrupt.
func (p *Process) Wait() error {
	<-p.exited
	return p.err
}

func (p *Process) Kill() error {
	p.mu.Lock()
	p.killed = true
	p.mu.Unlock()
	p.Crash(errors.New("signal: killed"))
	return nil
}

func (p *Process) Interrupt() error {
	p.mu.Lock()
	p.interrupted = true
	p.mu.Unlock()
	p.Crash(errors.New("signal: interrupt"))
	return nil
}

// Killed reports whether Kill was called.
func (p *Process) Killed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

// Crash makes the process exit with err: stdout and stderr close and Wait
// returns. Only the first call has an effect.
func (p *Process) Crash(err error) {
	p.once.Do(func() {
		p.err = err
		p.Agent.Exit()
		p.stderrW.Close()
		close(p.exited)
	})
}

// WriteStderr writes a line to the process's stderr.
func (p *Process) WriteStderr(line string) error {
	_, err := p.stderrW.Write([]byte(line + "\n"))
	return err
}
