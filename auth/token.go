package auth

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/teranos/ghostline/errors"
	"github.com/teranos/ghostline/logger"
)

// ErrNotSignedIn means no personal access token is stored.
var ErrNotSignedIn = errors.New("not signed in to chat")

// expirySkew is subtracted from token lifetimes so a token is refreshed
// before the server starts rejecting it.
const expirySkew = 60 * time.Second

const tokenKey = "access_token"

// Exchanger trades a personal access token for a short-lived API token.
type Exchanger interface {
	Exchange(ctx context.Context, pat string) (AccessToken, error)
}

// TokenSource hands out a valid API token, exchanging the stored personal
// access token when the cached one has expired.
type TokenSource struct {
	store     *Store
	exchanger Exchanger
	cache     *ttlcache.Cache[string, AccessToken]
	now       func() time.Time
	// mu keeps concurrent callers from exchanging twice.
	mu sync.Mutex
}

// NewTokenSource returns a source backed by store and exchanger.
func NewTokenSource(store *Store, exchanger Exchanger) *TokenSource {
	return &TokenSource{
		store:     store,
		exchanger: exchanger,
		cache: ttlcache.New[string, AccessToken](
			ttlcache.WithDisableTouchOnHit[string, AccessToken](),
		),
		now: time.Now,
	}
}

// Token returns a bearer token for the chat API.
func (ts *TokenSource) Token(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	now := ts.now()
	if item := ts.cache.Get(tokenKey); item != nil && item.Value().Valid(now.Add(expirySkew)) {
		return item.Value().Token, nil
	}

	creds, err := ts.store.Load()
	if err != nil {
		return "", err
	}
	if creds.AccessToken.Valid(now.Add(expirySkew)) {
		ts.remember(creds.AccessToken, now)
		return creds.AccessToken.Token, nil
	}
	if creds.PAT == "" {
		return "", errors.WithHint(ErrNotSignedIn, "run 'ghostline chat login' to authorize this machine")
	}

	token, err := ts.exchanger.Exchange(ctx, creds.PAT)
	if err != nil {
		return "", errors.Request(errors.Wrap(err, "failed to exchange access token"))
	}
	creds.AccessToken = token
	if err := ts.store.Save(creds); err != nil {
		logger.Logger.Warnw("Failed to persist access token", logger.FieldError, err)
	}
	ts.remember(token, now)
	return token.Token, nil
}

// Invalidate drops the cached and stored API token so the next call
// exchanges a new one. The personal access token is kept.
func (ts *TokenSource) Invalidate() error {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	ts.cache.Delete(tokenKey)
	return ts.store.Update(func(c *Credentials) {
		c.AccessToken = AccessToken{}
	})
}

func (ts *TokenSource) remember(token AccessToken, now time.Time) {
	ttl := time.Unix(token.ExpiresAt, 0).Sub(now) - expirySkew
	if ttl <= 0 {
		return
	}
	ts.cache.Set(tokenKey, token, ttl)
}
