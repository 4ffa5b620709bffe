package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/ghostline/agent"
	"github.com/teranos/ghostline/display"
)

func init() {
	StatusCmd.Flags().BoolP("json", "j", false, "Output status as JSON")
}

// signInTimeout bounds the whole device-code flow; device codes expire
// after fifteen minutes.
const signInTimeout = 15 * time.Minute

// SigninCmd runs the agent's device-code sign-in
var SigninCmd = &cobra.Command{
	Use:   "signin",
	Short: "Sign the agent in",
	Long: `Launch the agent and sign it in with the device-code flow: open the
shown URL, enter the code, then press Enter here.`,
	Args: cobra.NoArgs,
	RunE: runSignin,
}

// SignoutCmd signs the agent out
var SignoutCmd = &cobra.Command{
	Use:   "signout",
	Short: "Sign the agent out",
	Args:  cobra.NoArgs,
	RunE:  runSignout,
}

// StatusCmd performs the handshake and reports the sign-in status
var StatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the agent's sign-in status",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func runSignin(cmd *cobra.Command, args []string) error {
	s, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	base, err := workingDir()
	if err != nil {
		return err
	}

	sup, err := startAgent(cmd, s, base, quietNotifier{})
	if err != nil {
		return err
	}
	defer stopAgent(sup)

	ctx, cancel := context.WithTimeout(cmd.Context(), signInTimeout)
	defer cancel()

	prompter := terminalPrompter{in: cmd.InOrStdin(), out: cmd.OutOrStdout()}
	user, err := sup.SignInWith(ctx, prompter)
	if err != nil {
		return err
	}
	pterm.Success.WithWriter(cmd.OutOrStdout()).Printfln("Signed in as %s", user)
	return nil
}

func runSignout(cmd *cobra.Command, args []string) error {
	s, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	base, err := workingDir()
	if err != nil {
		return err
	}

	sup, err := startAgent(cmd, s, base, nil)
	if err != nil {
		return err
	}
	defer stopAgent(sup)

	if sup.State() == agent.SignInRequired {
		pterm.Info.WithWriter(cmd.OutOrStdout()).Println("Already signed out")
		return nil
	}
	if err := sup.SignOut(cmd.Context()); err != nil {
		return err
	}
	pterm.Success.WithWriter(cmd.OutOrStdout()).Println("Signed out")
	return nil
}

type statusReport struct {
	Agent   string `json:"agent"`
	Status  string `json:"status"`
	User    string `json:"user,omitempty"`
	Enabled bool   `json:"enabled"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	s, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	base, err := workingDir()
	if err != nil {
		return err
	}

	sup, err := startAgent(cmd, s, base, nil)
	if err != nil {
		return err
	}
	defer stopAgent(sup)

	status, err := sup.Status(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if display.ShouldOutputJSON(cmd) {
		return display.WriteJSON(out, statusReport{
			Agent:   sup.State().String(),
			Status:  status.Status,
			User:    status.User,
			Enabled: s.Enabled,
		})
	}
	fmt.Fprintf(out, "Agent:   %s\n", sup.State())
	fmt.Fprintf(out, "Status:  %s\n", status.Status)
	if status.User != "" {
		fmt.Fprintf(out, "User:    %s\n", status.User)
	}
	fmt.Fprintf(out, "Enabled: %t\n", s.Enabled)
	return nil
}
