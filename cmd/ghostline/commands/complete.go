package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/teranos/ghostline/agent"
	"github.com/teranos/ghostline/completion"
	"github.com/teranos/ghostline/docversion"
	"github.com/teranos/ghostline/errors"
	"github.com/teranos/ghostline/logger"
	"github.com/teranos/ghostline/render"
	"github.com/teranos/ghostline/suggest"
)

// CompleteCmd asks the agent for completions at a position in a file
var CompleteCmd = &cobra.Command{
	Use:   "complete FILE",
	Short: "Ask the agent for completions in a file",
	Long: `Launch the agent, open FILE, request completions at --line/--char and
print each candidate as ghost text on the cursor line.

Positions are zero-based, as in LSP; --char counts UTF-16 code units. Without
a position the cursor is placed at the end of the file.

With --accept the selected candidate is inserted and the resulting file is
written to stdout.`,
	Example: `  ghostline complete notes/go.md --line 12 --char 4
  ghostline complete draft.md --accept > draft.completed.md`,
	Args: cobra.ExactArgs(1),
	RunE: runComplete,
}

var (
	completeLine   int
	completeChar   int
	completeAccept bool
)

func init() {
	CompleteCmd.Flags().IntVarP(&completeLine, "line", "l", 0, "Cursor line (zero-based)")
	CompleteCmd.Flags().IntVarP(&completeChar, "char", "c", 0, "Cursor character (zero-based, UTF-16)")
	CompleteCmd.Flags().BoolVar(&completeAccept, "accept", false, "Insert the first candidate and print the file")
}

// dirWorkspace serves documents from a directory.
type dirWorkspace struct {
	base string
}

func (w dirWorkspace) BasePath() string { return w.base }

func (w dirWorkspace) Read(path string) (string, error) {
	data, err := os.ReadFile(filepath.Join(w.base, path))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func runComplete(cmd *cobra.Command, args []string) error {
	s, err := loadSettings(cmd)
	if err != nil {
		return err
	}

	base, rel, err := locate(args[0])
	if err != nil {
		return err
	}
	ws := dirWorkspace{base: base}
	text, err := ws.Read(rel)
	if err != nil {
		return errors.Wrapf(err, "failed to read %s", args[0])
	}

	pos := suggest.PositionAt(text, len(text))
	if cmd.Flags().Changed("line") || cmd.Flags().Changed("char") {
		pos = protocol.Position{Line: protocol.UInteger(completeLine), Character: protocol.UInteger(completeChar)}
	}

	sup, err := startAgent(cmd, s, base, nil)
	if err != nil {
		return err
	}
	defer stopAgent(sup)
	if st := sup.State(); st != agent.Ready {
		return errors.WithHint(errors.Newf("agent is %s", st), "run 'ghostline signin'")
	}

	machine := suggest.New(suggest.Config{Logger: logger.Logger, Defer: func(f func()) { f() }})
	coord := completion.New(completion.Config{
		Logger:    logger.Logger,
		Settings:  s,
		Versions:  docversion.New(),
		Machine:   machine,
		Workspace: ws,
		Session: func() completion.Session {
			if sess := sup.Session(); sess != nil {
				return sess
			}
			return nil
		},
		OnFatal: sup.Fail,
	})
	defer coord.Close()

	coord.OnFileOpened(cmd.Context(), rel)
	if !coord.RequestNow(text, int(pos.Line), int(pos.Character)) {
		return errors.WithHint(
			errors.Newf("completions are off for %s", rel),
			"check 'enabled' and 'exclude' in the settings")
	}
	coord.Wait()

	snap := machine.Snapshot()
	if snap.State == suggest.Empty {
		pterm.Info.WithWriter(cmd.ErrOrStderr()).Println("No completions")
		return nil
	}

	out := cmd.OutOrStdout()
	if completeAccept {
		offset := suggest.OffsetAt(text, pos)
		edit, ok := machine.Accept(text, offset, offset)
		if !ok {
			return errors.New("suggestion vanished before it could be accepted")
		}
		_, err := fmt.Fprint(out, edit.Apply(text))
		return err
	}

	term := render.NewTerminal()
	for range snap.Candidates {
		d, ok := render.Project(machine.Snapshot())
		if !ok {
			break
		}
		if err := term.Print(out, text, d); err != nil {
			return err
		}
		machine.CycleNext()
	}
	return nil
}

// locate splits file into a workspace root and a path relative to it. The
// working directory is the root when it contains file.
func locate(file string) (base, rel string, err error) {
	abs, err := filepath.Abs(file)
	if err != nil {
		return "", "", errors.Wrapf(err, "failed to resolve %s", file)
	}
	wd, err := workingDir()
	if err != nil {
		return "", "", err
	}
	rel, err = filepath.Rel(wd, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return filepath.Dir(abs), filepath.Base(abs), nil
	}
	return wd, filepath.ToSlash(rel), nil
}
