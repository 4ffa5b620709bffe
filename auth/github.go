package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/teranos/ghostline/errors"
	"github.com/teranos/ghostline/version"
)

const (
	githubDeviceCodeURL = "https://github.com/login/device/code"
	githubTokenURL      = "https://github.com/login/oauth/access_token"
	copilotTokenURL     = "https://api.github.com/copilot_internal/v2/token"

	// copilotClientID is the public OAuth app id editor integrations use.
	copilotClientID = "Iv1.b507a08c87ecfe98"

	deviceGrantType = "urn:ietf:params:oauth:grant-type:device_code"
)

// ErrAuthorizationPending means the user has not entered the code yet.
var ErrAuthorizationPending = errors.New("authorization pending")

// GitHub talks to GitHub's device-code OAuth endpoints and the Copilot
// token endpoint. Zero-valued URLs use the public endpoints.
type GitHub struct {
	Client        *http.Client
	DeviceCodeURL string
	TokenURL      string
	CopilotURL    string
}

// NewGitHub returns a client for the public endpoints.
func NewGitHub() *GitHub {
	return &GitHub{Client: &http.Client{Timeout: 30 * time.Second}}
}

// RequestDeviceCode starts a device-code authorization.
func (g *GitHub) RequestDeviceCode(ctx context.Context) (DeviceCode, string, error) {
	var resp struct {
		DeviceCode      string `json:"device_code"`
		UserCode        string `json:"user_code"`
		VerificationURI string `json:"verification_uri"`
		ExpiresIn       int    `json:"expires_in"`
		Interval        int    `json:"interval"`
	}
	body := map[string]string{"client_id": copilotClientID, "scope": "read:user"}
	if err := g.post(ctx, or(g.DeviceCodeURL, githubDeviceCodeURL), body, &resp); err != nil {
		return DeviceCode{}, "", errors.Wrap(err, "failed to request device code")
	}
	if resp.DeviceCode == "" || resp.UserCode == "" {
		return DeviceCode{}, "", errors.New("device code response is missing codes")
	}

	return DeviceCode{
		UserCode:        resp.UserCode,
		VerificationURI: resp.VerificationURI,
		ExpiresIn:       resp.ExpiresIn,
		Interval:        resp.Interval,
	}, resp.DeviceCode, nil
}

// PollAccessToken makes one attempt to trade deviceCode for a personal
// access token. It returns ErrAuthorizationPending until the user has
// entered the code.
func (g *GitHub) PollAccessToken(ctx context.Context, deviceCode string) (string, error) {
	var resp struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		Scope       string `json:"scope"`
		Error       string `json:"error"`
		ErrorDesc   string `json:"error_description"`
	}
	body := map[string]string{
		"client_id":   copilotClientID,
		"device_code": deviceCode,
		"grant_type":  deviceGrantType,
	}
	if err := g.post(ctx, or(g.TokenURL, githubTokenURL), body, &resp); err != nil {
		return "", errors.Wrap(err, "access token request failed")
	}

	switch resp.Error {
	case "":
	case "authorization_pending", "slow_down":
		return "", ErrAuthorizationPending
	default:
		return "", errors.Newf("GitHub OAuth error: %s - %s", resp.Error, resp.ErrorDesc)
	}
	if resp.AccessToken == "" {
		return "", errors.New("no access token in response")
	}
	return resp.AccessToken, nil
}

// WaitForAccessToken polls every interval until the user authorized the
// device code, ctx ends, or GitHub reports an error.
func (g *GitHub) WaitForAccessToken(ctx context.Context, deviceCode string, interval time.Duration) (string, error) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		pat, err := g.PollAccessToken(ctx, deviceCode)
		if err == nil {
			return pat, nil
		}
		if !errors.Is(err, ErrAuthorizationPending) {
			return "", err
		}
		select {
		case <-ctx.Done():
			return "", errors.Wrap(ctx.Err(), "gave up waiting for authorization")
		case <-ticker.C:
		}
	}
}

// Exchange implements Exchanger against the Copilot token endpoint.
func (g *GitHub) Exchange(ctx context.Context, pat string) (AccessToken, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, or(g.CopilotURL, copilotTokenURL), nil)
	if err != nil {
		return AccessToken{}, errors.Wrap(err, "failed to create token request")
	}
	req.Header.Set("Authorization", "token "+pat)
	setEditorHeaders(req)

	var resp struct {
		Token     string `json:"token"`
		ExpiresAt int64  `json:"expires_at"`
	}
	if err := g.do(req, &resp); err != nil {
		return AccessToken{}, err
	}
	if resp.Token == "" {
		return AccessToken{}, errors.New("no token in response")
	}
	return AccessToken{Token: resp.Token, ExpiresAt: resp.ExpiresAt}, nil
}

func (g *GitHub) post(ctx context.Context, url string, body interface{}, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "failed to encode request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")
	setEditorHeaders(req)
	return g.do(req, out)
}

func (g *GitHub) do(req *http.Request, out interface{}) error {
	client := g.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", req.Method, req.URL.Path)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "failed to read response")
	}
	if resp.StatusCode != http.StatusOK {
		return errors.Newf("GitHub API error: %d - %s", resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errors.Wrap(err, "failed to parse response")
	}
	return nil
}

func setEditorHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Editor-Version", version.EditorVersion())
	req.Header.Set("Editor-Plugin-Version", version.EditorVersion())
	req.Header.Set("User-Agent", version.EditorVersion())
}

func or(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
