package chat

import (
	"context"
	"net/http"

	"github.com/teranos/ghostline/errors"
	"github.com/teranos/ghostline/version"
)

// IntegrationID identifies the client to the chat backend.
const IntegrationID = "vscode-chat"

// TokenSource supplies bearer tokens. *auth.TokenSource implements it.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate() error
}

// bearerTransport authorizes each request with a fresh token and adds the
// editor headers the backend requires.
type bearerTransport struct {
	base   http.RoundTripper
	tokens TokenSource
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.tokens.Token(req.Context())
	if err != nil {
		return nil, errors.Wrap(err, "no chat token")
	}

	r := req.Clone(req.Context())
	r.Header.Set("Authorization", "Bearer "+token)
	r.Header.Set("Editor-Version", version.EditorVersion())
	r.Header.Set("Editor-Plugin-Version", version.EditorVersion())
	r.Header.Set("Copilot-Integration-Id", IntegrationID)
	r.Header.Set("Openai-Intent", "conversation-panel")

	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(r)
}
