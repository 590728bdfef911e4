package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"readiness/internal/store"
)

// refreshBuffer renews tokens this long before they expire
const refreshBuffer = 60 * time.Second

// TokenSource wraps oauth2.TokenSource with persistence
// It automatically refreshes tokens and calls onRefresh when a new token is obtained
type TokenSource struct {
	config    *oauth2.Config
	token     *oauth2.Token
	onRefresh func(*oauth2.Token) error
	now       func() time.Time
	mu        sync.Mutex
}

// NewTokenSource creates a new TokenSource that will refresh tokens as needed
// and call onRefresh to persist new tokens
func NewTokenSource(cfg *oauth2.Config, token *oauth2.Token, onRefresh func(*oauth2.Token) error) *TokenSource {
	return &TokenSource{
		config:    cfg,
		token:     token,
		onRefresh: onRefresh,
		now:       time.Now,
	}
}

// StoredTokenSource loads a provider's tokens and persists every refresh back to the store
func StoredTokenSource(ctx context.Context, oc *oauth2.Config, tokens TokenStore, provider store.Provider) (*TokenSource, error) {
	a, err := tokens.GetAuth(ctx, provider)
	if err != nil {
		return nil, fmt.Errorf("loading %s tokens: %w", provider, err)
	}

	token := &oauth2.Token{
		AccessToken:  a.AccessToken,
		RefreshToken: a.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       a.ExpiresAt,
	}

	return NewTokenSource(oc, token, func(t *oauth2.Token) error {
		log.Debug().Str("provider", string(provider)).Time("expires", t.Expiry).Msg("token refreshed")
		// Refreshes run outside any request context
		return tokens.UpdateTokens(context.Background(), provider, t.AccessToken, t.RefreshToken, t.Expiry)
	}), nil
}

// Token returns a valid token, refreshing if necessary
func (ts *TokenSource) Token() (*oauth2.Token, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.token.Expiry.Sub(ts.now()) > refreshBuffer {
		return ts.token, nil
	}

	src := ts.config.TokenSource(context.Background(), &oauth2.Token{RefreshToken: ts.token.RefreshToken})
	newToken, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("refreshing token: %w", err)
	}

	// Strava may omit the refresh token when it has not rotated
	if newToken.RefreshToken == "" {
		newToken.RefreshToken = ts.token.RefreshToken
	}

	if ts.onRefresh != nil {
		if err := ts.onRefresh(newToken); err != nil {
			return nil, err
		}
	}

	ts.token = newToken
	return newToken, nil
}

// IsExpired checks if the current token is expired or will expire within the buffer
func (ts *TokenSource) IsExpired() bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.token.Expiry.Sub(ts.now()) <= refreshBuffer
}

// CurrentToken returns the current token without refreshing
func (ts *TokenSource) CurrentToken() *oauth2.Token {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.token
}
