package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/ghostline/errors"
)

type fakeExchanger struct {
	mu    sync.Mutex
	calls []string
	token AccessToken
	err   error
}

func (f *fakeExchanger) Exchange(_ context.Context, pat string) (AccessToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, pat)
	return f.token, f.err
}

func (f *fakeExchanger) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestTokenSourceNotSignedIn(t *testing.T) {
	ts := NewTokenSource(newTestStore(t, t.TempDir(), "m"), &fakeExchanger{})

	_, err := ts.Token(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotSignedIn))
	assert.NotEmpty(t, errors.GetAllHints(err))
}

func TestTokenSourceExchangesOnce(t *testing.T) {
	store := newTestStore(t, t.TempDir(), "m")
	require.NoError(t, store.Save(Credentials{PAT: "ghu_pat"}))

	ex := &fakeExchanger{token: AccessToken{Token: "tid=abc", ExpiresAt: time.Now().Add(time.Hour).Unix()}}
	ts := NewTokenSource(store, ex)

	for range 3 {
		tok, err := ts.Token(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "tid=abc", tok)
	}
	assert.Equal(t, []string{"ghu_pat"}, ex.calls)

	creds, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "tid=abc", creds.AccessToken.Token)
	assert.Equal(t, "ghu_pat", creds.PAT)
}

func TestTokenSourceUsesStoredToken(t *testing.T) {
	store := newTestStore(t, t.TempDir(), "m")
	require.NoError(t, store.Save(Credentials{
		PAT:         "ghu_pat",
		AccessToken: AccessToken{Token: "stored", ExpiresAt: time.Now().Add(time.Hour).Unix()},
	}))

	ex := &fakeExchanger{}
	tok, err := NewTokenSource(store, ex).Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "stored", tok)
	assert.Zero(t, ex.count())
}

func TestTokenSourceRefreshesNearExpiry(t *testing.T) {
	store := newTestStore(t, t.TempDir(), "m")
	require.NoError(t, store.Save(Credentials{
		PAT: "ghu_pat",
		// inside the refresh window
		AccessToken: AccessToken{Token: "old", ExpiresAt: time.Now().Add(30 * time.Second).Unix()},
	}))

	ex := &fakeExchanger{token: AccessToken{Token: "new", ExpiresAt: time.Now().Add(time.Hour).Unix()}}
	tok, err := NewTokenSource(store, ex).Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new", tok)
	assert.Equal(t, 1, ex.count())
}

func TestTokenSourceInvalidate(t *testing.T) {
	store := newTestStore(t, t.TempDir(), "m")
	require.NoError(t, store.Save(Credentials{PAT: "ghu_pat"}))

	ex := &fakeExchanger{token: AccessToken{Token: "t1", ExpiresAt: time.Now().Add(time.Hour).Unix()}}
	ts := NewTokenSource(store, ex)

	_, err := ts.Token(context.Background())
	require.NoError(t, err)
	require.NoError(t, ts.Invalidate())

	creds, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, creds.AccessToken.Token)
	assert.Equal(t, "ghu_pat", creds.PAT)

	_, err = ts.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, ex.count())
}

func TestTokenSourceExchangeFailure(t *testing.T) {
	store := newTestStore(t, t.TempDir(), "m")
	require.NoError(t, store.Save(Credentials{PAT: "ghu_pat"}))

	ex := &fakeExchanger{err: errors.New("401 bad credentials")}
	_, err := NewTokenSource(store, ex).Token(context.Background())
	require.Error(t, err)
	assert.Equal(t, "request", errors.Kind(err))
}
