package agent

import (
	"bufio"
	"io"
	"os"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/ghostline/errors"
	"github.com/teranos/ghostline/logger"
)

// Command is what the supervisor asks a Launcher to start.
type Command struct {
	Path string
	Args []string
	Dir  string
}

func (c Command) String() string {
	return strings.Join(append([]string{c.Path}, c.Args...), " ")
}

// Process is a running agent with piped standard streams.
type Process interface {
	Stdin() io.WriteCloser
	Stdout() io.Reader
	Stderr() io.Reader
	Pid() int
	// Wait blocks until the process exits.
	Wait() error
	Kill() error
	// Interrupt asks the process to exit.
	Interrupt() error
}

// Launcher starts agent processes.
type Launcher interface {
	Launch(cmd Command) (Process, error)
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(cmd Command) (Process, error)

func (f LauncherFunc) Launch(cmd Command) (Process, error) {
	return f(cmd)
}

// ExecLauncher starts the agent as an OS process.
type ExecLauncher struct{}

// Launch starts cmd with stdin, stdout and stderr piped.
func (ExecLauncher) Launch(c Command) (Process, error) {
	cmd := exec.Command(c.Path, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = os.Environ()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create agent stdin")
	}

	// os.Pipe rather than StdoutPipe: Wait must not close the read side
	// while the session is still draining it.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create agent stdout")
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdoutR.Close()
		stdoutW.Close()
		return nil, errors.Wrap(err, "failed to create agent stderr")
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		stdoutR.Close()
		stdoutW.Close()
		stderrR.Close()
		stderrW.Close()
		return nil, errors.Wrapf(err, "failed to start agent (%s)", c)
	}
	// the child holds its own copies
	stdoutW.Close()
	stderrW.Close()

	return &execProcess{cmd: cmd, stdin: stdin, stdout: stdoutR, stderr: stderrR}, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *os.File
	stderr *os.File
}

func (p *execProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *execProcess) Stdout() io.Reader     { return p.stdout }
func (p *execProcess) Stderr() io.Reader     { return p.stderr }
func (p *execProcess) Pid() int              { return p.cmd.Process.Pid }

func (p *execProcess) Wait() error {
	return p.cmd.Wait()
}

func (p *execProcess) Kill() error {
	return p.cmd.Process.Kill()
}

func (p *execProcess) Interrupt() error {
	return p.cmd.Process.Signal(os.Interrupt)
}

// logLines forwards each line of the agent's stderr to the log until r ends.
func logLines(r io.Reader, log *zap.SugaredLogger) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			log.Warnw("Agent stderr", "message", line)
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		log.Debugw("Agent stderr closed", logger.FieldError, err)
	}
}
