package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// ErrAuthRefreshFailed is wrapped by FatalError when a ChatGPT-auth
// refresh round trip fails permanently (spec §4.3, §7).
var ErrAuthRefreshFailed = errors.New("chatgpt auth refresh failed")

// ChatGPTAuth holds the cached ChatGPT-style access token and drives its
// refresh, mirroring the teacher's OAuth provider shape
// (internal/auth/oauth.go) but against an opaque provider-issued token
// this client does not sign or verify itself.
type ChatGPTAuth struct {
	mu          sync.Mutex
	config      oauth2.Config
	refreshTok  string
	accessToken string
	expiresAt   time.Time
}

// NewChatGPTAuth builds an auth helper seeded with the initial access and
// refresh tokens obtained out of band (interactive login).
func NewChatGPTAuth(config oauth2.Config, accessToken, refreshToken string) *ChatGPTAuth {
	a := &ChatGPTAuth{config: config, accessToken: accessToken, refreshTok: refreshToken}
	a.expiresAt = expiryOf(accessToken)
	return a
}

// AccessToken returns the current cached access token.
func (a *ChatGPTAuth) AccessToken() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.accessToken
}

// NeedsPreemptiveRefresh reports whether the cached token's exp claim
// falls within skew of now, inspected without verifying the provider's
// signature — it is not ours to verify.
func (a *ChatGPTAuth) NeedsPreemptiveRefresh(skew time.Duration) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.expiresAt.IsZero() {
		return true
	}
	return time.Now().Add(skew).After(a.expiresAt)
}

// Refresh exchanges the refresh token for a new access token. A
// transient failure (network error, 5xx) returns a RetryableError; a
// permanent failure (invalid_grant and similar) returns a FatalError
// with kind FatalAuthRefreshFailed, per spec §4.3's "Permanent refresh
// failure is fatal; transient refresh failure counts as a retry."
func (a *ChatGPTAuth) Refresh(ctx context.Context) error {
	a.mu.Lock()
	refreshTok := a.refreshTok
	a.mu.Unlock()
	if refreshTok == "" {
		return &FatalError{Kind: FatalAuthRefreshFailed, Message: ErrAuthRefreshFailed.Error()}
	}

	source := a.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshTok})
	tok, err := source.Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil && retrieveErr.Response.StatusCode < 500 {
			return &FatalError{Kind: FatalAuthRefreshFailed, Message: err.Error()}
		}
		return &RetryableError{Cause: err}
	}

	a.mu.Lock()
	a.accessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		a.refreshTok = tok.RefreshToken
	}
	a.expiresAt = expiryOf(tok.AccessToken)
	a.mu.Unlock()
	return nil
}

// expiryOf parses the unverified "exp" claim out of a JWT access token.
// A malformed or non-JWT token yields the zero time, which
// NeedsPreemptiveRefresh treats as "refresh now".
func expiryOf(accessToken string) time.Time {
	if accessToken == "" {
		return time.Time{}
	}
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(accessToken, claims); err != nil {
		return time.Time{}
	}
	expFloat, ok := claims["exp"].(float64)
	if !ok {
		return time.Time{}
	}
	return time.Unix(int64(expFloat), 0)
}
