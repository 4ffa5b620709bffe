package commands

import (
	"fmt"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/ghostline/agent"
)

// CheckCmd verifies the agent runtime before anything is launched
var CheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check the agent runtime",
	Long: `Resolve the runtime (node), check its version against ` + agent.MinRuntimeVersion + `
and make sure the agent script exists. Nothing is launched.`,
	Args: cobra.NoArgs,
	RunE: runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	s, err := loadSettings(cmd)
	if err != nil {
		return err
	}

	rt, err := agent.CheckRuntime(cmd.Context(), s.Agent)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	pterm.Success.WithWriter(out).Printfln("Runtime %s (v%s)", rt.Path, rt.Version)
	fmt.Fprintf(out, "  Agent script: %s\n", rt.Script)
	if len(rt.Args) > 0 {
		fmt.Fprintf(out, "  Extra args:   %s\n", strings.Join(rt.Args, " "))
	}
	return nil
}
