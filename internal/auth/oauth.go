// Package auth holds the social provider's OAuth2 configuration, the manual
// authorization-code exchange, and a token source that persists refreshes.
package auth

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"readiness/internal/store"
)

const (
	// Strava OAuth endpoints
	AuthURL  = "https://www.strava.com/oauth/authorize"
	TokenURL = "https://www.strava.com/oauth/token"

	// DefaultRedirectURL is registered with the app; the code is copied from the browser bar
	DefaultRedirectURL = "http://localhost/exchange_token"
)

// Scopes required for our app (Strava uses comma-separated scopes)
var Scopes = []string{
	"read,activity:read_all",
}

// Config holds the OAuth client credentials
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	TokenURL     string // overrides TokenURL, used in tests
}

// NewOAuthConfig creates an oauth2.Config from our Config
func NewOAuthConfig(cfg Config) *oauth2.Config {
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = TokenURL
	}
	redirect := cfg.RedirectURL
	if redirect == "" {
		redirect = DefaultRedirectURL
	}
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:   AuthURL,
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		RedirectURL: redirect,
		Scopes:      Scopes,
	}
}

// AuthorizeURL is the page the athlete opens to grant access
func AuthorizeURL(oc *oauth2.Config) string {
	return oc.AuthCodeURL("readiness", oauth2.SetAuthURLParam("approval_prompt", "auto"))
}

// AuthResult contains the token and athlete info from successful auth
type AuthResult struct {
	Token     *oauth2.Token
	AthleteID int64
}

// ExtractAthleteID extracts the athlete ID from the token extras
// Strava includes athlete info in the token response
func ExtractAthleteID(token *oauth2.Token) int64 {
	if athlete, ok := token.Extra("athlete").(map[string]interface{}); ok {
		if id, ok := athlete["id"].(float64); ok {
			return int64(id)
		}
	}
	return 0
}

// TokenStore persists provider tokens
type TokenStore interface {
	GetAuth(ctx context.Context, provider store.Provider) (*store.Auth, error)
	SaveAuth(ctx context.Context, auth *store.Auth) error
	UpdateTokens(ctx context.Context, provider store.Provider, accessToken, refreshToken string, expiresAt time.Time) error
}

// Exchange trades an authorization code for tokens and stores them for the social provider
func Exchange(ctx context.Context, oc *oauth2.Config, tokens TokenStore, code string) (*AuthResult, error) {
	token, err := oc.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchanging code: %w", err)
	}

	result := &AuthResult{Token: token, AthleteID: ExtractAthleteID(token)}
	err = tokens.SaveAuth(ctx, &store.Auth{
		Provider:     store.ProviderSocial,
		AthleteID:    result.AthleteID,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
	})
	if err != nil {
		return nil, fmt.Errorf("saving tokens: %w", err)
	}
	return result, nil
}
