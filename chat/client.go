// Package chat sends prompts to the chat-completions backend and keeps
// conversations in SQLite.
package chat

import (
	"context"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/teranos/ghostline/errors"
	"github.com/teranos/ghostline/logger"
	"github.com/teranos/ghostline/settings"
)

const titleLength = 60

// Config configures a Client.
type Config struct {
	Logger   *zap.SugaredLogger
	Settings settings.ChatSettings
	History  *History
	Tokens   TokenSource
	// Transport is the underlying HTTP transport; defaults to
	// http.DefaultTransport.
	Transport http.RoundTripper
}

// Reply is the assistant's answer within a conversation.
type Reply struct {
	ConversationID string
	Content        string
	FinishReason   string
}

// Client is a chat-completions client with persistent history.
type Client struct {
	api     *openai.Client
	history *History
	tokens  TokenSource
	model   string
	system  string
	logger  *zap.SugaredLogger
}

// NewClient builds a client for cfg.Settings.BaseURL.
func NewClient(cfg Config) *Client {
	oc := openai.DefaultConfig("")
	oc.BaseURL = strings.TrimRight(cfg.Settings.BaseURL, "/")
	oc.HTTPClient = &http.Client{
		Timeout:   2 * time.Minute,
		Transport: &bearerTransport{base: cfg.Transport, tokens: cfg.Tokens},
	}

	return &Client{
		api:     openai.NewClientWithConfig(oc),
		history: cfg.History,
		tokens:  cfg.Tokens,
		model:   cfg.Settings.Model,
		system:  cfg.Settings.SystemPrompt,
		logger:  logger.Or(cfg.Logger).With(logger.FieldComponent, "chat"),
	}
}

// Send asks prompt within conversationID, creating a conversation when the
// id is empty, and stores both turns.
func (c *Client) Send(ctx context.Context, conversationID, prompt string) (Reply, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return Reply{}, errors.New("prompt is empty")
	}

	if conversationID == "" {
		conv, err := c.history.Create(ctx, title(prompt), c.model)
		if err != nil {
			return Reply{}, err
		}
		conversationID = conv.ID
	} else if _, err := c.history.Get(ctx, conversationID); err != nil {
		return Reply{}, err
	}

	past, err := c.history.Messages(ctx, conversationID)
	if err != nil {
		return Reply{}, err
	}

	req := openai.ChatCompletionRequest{Model: c.model}
	if c.system != "" {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: c.system})
	}
	for _, m := range past {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})

	c.logger.Debugw("Sending chat request",
		"conversation", conversationID,
		"model", c.model,
		"messages", len(req.Messages))

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		if unauthorized(err) {
			if ierr := c.tokens.Invalidate(); ierr != nil {
				c.logger.Warnw("Failed to invalidate chat token", logger.FieldError, ierr)
			}
			return Reply{}, errors.WithHint(
				errors.Request(errors.Wrap(err, "chat backend rejected the token")),
				"try again; if it keeps failing run 'ghostline chat login'")
		}
		return Reply{}, errors.Request(errors.Wrap(err, "chat request failed"))
	}
	if len(resp.Choices) == 0 {
		return Reply{}, errors.Request(errors.New("chat backend returned no choices"))
	}

	choice := resp.Choices[0]
	if err := c.history.Append(ctx, conversationID,
		Message{Role: openai.ChatMessageRoleUser, Content: prompt},
		Message{Role: openai.ChatMessageRoleAssistant, Content: choice.Message.Content},
	); err != nil {
		return Reply{}, err
	}

	return Reply{
		ConversationID: conversationID,
		Content:        choice.Message.Content,
		FinishReason:   string(choice.FinishReason),
	}, nil
}

func unauthorized(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusUnauthorized
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusUnauthorized
	}
	return false
}

func title(prompt string) string {
	line, _, _ := strings.Cut(prompt, "\n")
	if utf8.RuneCountInString(line) <= titleLength {
		return line
	}
	return string([]rune(line)[:titleLength]) + "…"
}
