package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/ghostline/cmd/ghostline/commands"
	"github.com/teranos/ghostline/errors"
	"github.com/teranos/ghostline/logger"
)

var rootCmd = &cobra.Command{
	Use:   "ghostline",
	Short: "Ghostline - inline completions from a local agent",
	Long: `Ghostline - inline ghost-text completions and chat for your notes.

Ghostline drives a local completion agent over JSON-RPC and shows its
suggestions as ghost text. The same core runs inside the editor plugin;
this CLI exercises it from a terminal.

Available commands:
  check    - Check the agent runtime
  complete - Ask the agent for completions in a file
  signin   - Sign the agent in (device-code flow)
  signout  - Sign the agent out
  status   - Show the agent's sign-in status
  settings - Show, locate and validate settings
  chat     - Chat with the remote model
  version  - Show version information

Examples:
  ghostline check                         # Verify node and the agent script
  ghostline complete notes/go.md -l 3 -c 7
  ghostline settings show --format yaml
  ghostline chat "explain this regex: ^a+$"`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		if err := logger.Initialize(false, verbosity); err != nil {
			return errors.Wrap(err, "failed to initialize logger")
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv)")
	rootCmd.PersistentFlags().String("config", "", "Settings file (default: layered ~/.ghostline/config.toml, ./ghostline.toml, GHOSTLINE_*)")

	rootCmd.AddCommand(commands.CheckCmd)
	rootCmd.AddCommand(commands.CompleteCmd)
	rootCmd.AddCommand(commands.SigninCmd)
	rootCmd.AddCommand(commands.SignoutCmd)
	rootCmd.AddCommand(commands.StatusCmd)
	rootCmd.AddCommand(commands.SettingsCmd)
	rootCmd.AddCommand(commands.ChatCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		pterm.Error.WithWriter(os.Stderr).Println(err.Error())
		for _, hint := range errors.GetAllHints(err) {
			fmt.Fprintf(os.Stderr, "hint: %s\n", hint)
		}
		os.Exit(1)
	}
}
