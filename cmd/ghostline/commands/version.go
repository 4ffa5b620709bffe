package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teranos/ghostline/agent"
	"github.com/teranos/ghostline/display"
	"github.com/teranos/ghostline/version"
)

// VersionCmd represents the version command
var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show ghostline version information",
	Long:  `Display version, build time, commit hash, and platform information for the ghostline binary.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		info := version.Get()

		if display.ShouldOutputJSON(cmd) {
			return display.WriteJSON(out, info)
		}
		fmt.Fprintln(out, info.String())
		fmt.Fprintf(out, "Platform: %s\n", info.Platform)
		fmt.Fprintf(out, "Go: %s\n", info.GoVersion)
		fmt.Fprintf(out, "Agent runtime: node %s\n", agent.MinRuntimeVersion)
		return nil
	},
}

func init() {
	VersionCmd.Flags().BoolP("json", "j", false, "Output version info as JSON")
}
