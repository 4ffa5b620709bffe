package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/ghostline/agent"
	"github.com/teranos/ghostline/auth"
	"github.com/teranos/ghostline/errors"
	"github.com/teranos/ghostline/logger"
	"github.com/teranos/ghostline/plugin"
	"github.com/teranos/ghostline/settings"
)

// settingsStore returns the store named by --config.
func settingsStore(cmd *cobra.Command) plugin.FileStore {
	path, _ := cmd.Flags().GetString("config")
	return plugin.FileStore{Path: settings.ExpandPath(path)}
}

// loadSettings reads and validates the settings for cmd.
func loadSettings(cmd *cobra.Command) (*settings.Settings, error) {
	s, err := settingsStore(cmd).Load()
	if err != nil {
		return nil, errors.WithHint(errors.Configuration(err), "check the settings file with 'ghostline settings path'")
	}
	if err := s.Validate(); err != nil {
		return nil, errors.WithHint(
			errors.Configuration(errors.Wrap(err, "invalid settings")),
			"run 'ghostline settings validate' after fixing the file")
	}
	return s, nil
}

// noticePrinter shows supervisor notices on stderr.
type noticePrinter struct {
	w io.Writer
}

func (n noticePrinter) Notify(msg string) {
	pterm.Warning.WithWriter(n.w).Println(msg)
}

// terminalPrompter shows the device code and waits for Enter.
type terminalPrompter struct {
	in  io.Reader
	out io.Writer
}

func (p terminalPrompter) PromptDeviceCode(ctx context.Context, code auth.DeviceCode) error {
	pterm.DefaultBox.WithTitle("Sign in").WithWriter(p.out).Println(
		fmt.Sprintf("Open %s\nand enter the code %s", code.VerificationURI, pterm.Bold.Sprint(code.UserCode)))
	fmt.Fprint(p.out, "Press Enter once the code is accepted... ")

	line := make(chan error, 1)
	go func() {
		_, err := bufio.NewReader(p.in).ReadString('\n')
		line <- err
	}()
	select {
	case err := <-line:
		if err != nil && err != io.EOF {
			return errors.Wrap(err, "failed to read confirmation")
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// workingDir is the workspace root for commands that do not name one.
func workingDir() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", errors.Wrap(err, "failed to get working directory")
	}
	return filepath.Abs(wd)
}

// quietNotifier keeps notices in the debug log.
type quietNotifier struct{}

func (quietNotifier) Notify(msg string) {
	logger.Logger.Debugw("Notice", "message", msg)
}

// startAgent launches the agent for the workspace at base and completes the
// handshake. A nil notifier prints notices on stderr. No prompter is
// configured, so a signed-out agent only produces a notice.
func startAgent(cmd *cobra.Command, s *settings.Settings, base string, notifier agent.Notifier) (*agent.Supervisor, error) {
	if notifier == nil {
		notifier = noticePrinter{cmd.ErrOrStderr()}
	}
	sup := agent.New(agent.Config{
		Logger:   logger.Logger,
		Settings: s,
		BasePath: base,
		Notifier: notifier,
	})
	if err := sup.Start(cmd.Context()); err != nil {
		return nil, err
	}
	return sup, nil
}

// stopAgent shuts the agent down with a bounded wait.
func stopAgent(sup *agent.Supervisor) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sup.Stop(ctx); err != nil {
		logger.Logger.Warnw("Failed to stop agent", logger.FieldError, err)
	}
}
