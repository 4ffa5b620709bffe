package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/ghostline/auth"
	"github.com/teranos/ghostline/chat"
	"github.com/teranos/ghostline/display"
	"github.com/teranos/ghostline/errors"
	"github.com/teranos/ghostline/logger"
	"github.com/teranos/ghostline/settings"
)

// ChatCmd sends a prompt to the chat backend
var ChatCmd = &cobra.Command{
	Use:   "chat PROMPT",
	Short: "Chat with the remote model",
	Long: `Send PROMPT to the chat-completions backend and print the reply.

Conversations are kept in a local SQLite database. Without --conversation a
new conversation is started; its id is printed after the reply.

Run 'ghostline chat login' once to authorize this machine.`,
	Example: `  ghostline chat login
  ghostline chat "summarize the difference between a mutex and a channel"
  ghostline chat --conversation 5f0c... "and when would I pick either?"
  ghostline chat list`,
	Args: cobra.MinimumNArgs(1),
	RunE: runChat,
}

var chatListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent conversations",
	Args:  cobra.NoArgs,
	RunE:  runChatList,
}

var chatShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Print a conversation",
	Args:  cobra.ExactArgs(1),
	RunE:  runChatShow,
}

var chatDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a conversation",
	Args:  cobra.ExactArgs(1),
	RunE:  runChatDelete,
}

var chatLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authorize chat with a GitHub device code",
	Args:  cobra.NoArgs,
	RunE:  runChatLogin,
}

var (
	chatConversation string
	chatListLimit    int
)

func init() {
	ChatCmd.Flags().StringVar(&chatConversation, "conversation", "", "Continue the conversation with this id")
	chatListCmd.Flags().IntVarP(&chatListLimit, "limit", "n", 20, "Maximum number of conversations (0 = all)")
	chatListCmd.Flags().BoolP("json", "j", false, "Output conversations as JSON")

	ChatCmd.AddCommand(chatListCmd)
	ChatCmd.AddCommand(chatShowCmd)
	ChatCmd.AddCommand(chatDeleteCmd)
	ChatCmd.AddCommand(chatLoginCmd)
}

// openHistory opens the conversation database for s.
func openHistory(s *settings.Settings) (*chat.History, func() error, error) {
	path := chat.HistoryPath(s.Chat)
	history, closeFn, err := chat.OpenHistory(path, logger.Logger)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to open chat history at %s", path)
	}
	return history, closeFn, nil
}

func runChat(cmd *cobra.Command, args []string) error {
	s, err := loadSettings(cmd)
	if err != nil {
		return err
	}

	history, closeHistory, err := openHistory(s)
	if err != nil {
		return err
	}
	defer closeHistory()

	store, err := auth.NewStore(auth.StoreConfig{Logger: logger.Logger})
	if err != nil {
		return err
	}
	defer store.Close()

	client := chat.NewClient(chat.Config{
		Logger:   logger.Logger,
		Settings: s.Chat,
		History:  history,
		Tokens:   auth.NewTokenSource(store, auth.NewGitHub()),
	})

	spinner, _ := pterm.DefaultSpinner.WithWriter(cmd.ErrOrStderr()).Start("Thinking...")
	reply, err := client.Send(cmd.Context(), chatConversation, strings.Join(args, " "))
	if err != nil {
		spinner.Fail("No reply")
		if errors.Is(err, auth.ErrNotSignedIn) {
			return errors.WithHint(err, "run 'ghostline chat login'")
		}
		return err
	}
	_ = spinner.Stop()

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, reply.Content)
	fmt.Fprintln(out)
	fmt.Fprintln(out, pterm.Gray("conversation "+reply.ConversationID))
	return nil
}

func runChatList(cmd *cobra.Command, args []string) error {
	s, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	history, closeHistory, err := openHistory(s)
	if err != nil {
		return err
	}
	defer closeHistory()

	convs, err := history.List(cmd.Context(), chatListLimit)
	if err != nil {
		return err
	}
	if display.ShouldOutputJSON(cmd) {
		return display.WriteJSON(cmd.OutOrStdout(), convs)
	}
	if len(convs) == 0 {
		pterm.Info.WithWriter(cmd.OutOrStdout()).Println("No conversations yet")
		return nil
	}

	data := pterm.TableData{{"ID", "Title", "Model", "Updated"}}
	for _, c := range convs {
		data = append(data, []string{c.ID, c.Title, c.Model, c.UpdatedAt.Local().Format(time.DateTime)})
	}
	return pterm.DefaultTable.WithHasHeader().WithWriter(cmd.OutOrStdout()).WithData(data).Render()
}

func runChatShow(cmd *cobra.Command, args []string) error {
	s, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	history, closeHistory, err := openHistory(s)
	if err != nil {
		return err
	}
	defer closeHistory()

	conv, err := history.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	msgs, err := history.Messages(cmd.Context(), conv.ID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	pterm.DefaultSection.WithWriter(out).Println(conv.Title)
	for _, m := range msgs {
		fmt.Fprintf(out, "%s\n%s\n\n", pterm.LightBlue(m.Role+":"), m.Content)
	}
	return nil
}

func runChatDelete(cmd *cobra.Command, args []string) error {
	s, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	history, closeHistory, err := openHistory(s)
	if err != nil {
		return err
	}
	defer closeHistory()

	if err := history.Delete(cmd.Context(), args[0]); err != nil {
		return err
	}
	pterm.Success.WithWriter(cmd.OutOrStdout()).Printfln("Deleted %s", args[0])
	return nil
}

func runChatLogin(cmd *cobra.Command, args []string) error {
	store, err := auth.NewStore(auth.StoreConfig{Logger: logger.Logger})
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), signInTimeout)
	defer cancel()

	gh := auth.NewGitHub()
	code, deviceCode, err := gh.RequestDeviceCode(ctx)
	if err != nil {
		return err
	}
	if err := store.Update(func(c *auth.Credentials) { c.DeviceCode = deviceCode }); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	pterm.DefaultBox.WithTitle("Chat login").WithWriter(out).Println(
		fmt.Sprintf("Open %s\nand enter the code %s", code.VerificationURI, pterm.Bold.Sprint(code.UserCode)))

	spinner, _ := pterm.DefaultSpinner.WithWriter(cmd.ErrOrStderr()).Start("Waiting for authorization...")
	pat, err := gh.WaitForAccessToken(ctx, deviceCode, time.Duration(code.Interval)*time.Second)
	if err != nil {
		spinner.Fail("Authorization failed")
		return err
	}
	spinner.Success("Authorized")

	// A new token invalidates whatever API token was cached for the old one.
	if err := store.Update(func(c *auth.Credentials) {
		c.PAT = pat
		c.AccessToken = auth.AccessToken{}
	}); err != nil {
		return err
	}

	pterm.Success.WithWriter(out).Printfln("Chat credentials saved to %s", store.Path())
	return nil
}
