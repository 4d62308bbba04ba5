package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/apperrors"
	"gitlab.com/timkado/api/daisi-comms-pipeline/pkg/utils"
)

const defaultTokenSkew = 30 * time.Second

// Token is a bearer credential with its expiry. A zero ExpiresAt never expires.
type Token struct {
	AccessToken string
	ExpiresAt   time.Time
}

// TokenSource fetches a fresh token. Loading credentials is its concern alone.
type TokenSource interface {
	FetchToken(ctx context.Context) (Token, error)
}

// TokenCache holds the current provider token and refreshes it when it is
// within skew of expiring. One cache is created per provider client.
type TokenCache struct {
	source TokenSource
	skew   time.Duration
	now    func() time.Time

	mu    sync.Mutex
	token Token
}

// NewTokenCache creates a cache in front of source.
func NewTokenCache(source TokenSource) *TokenCache {
	return &TokenCache{
		source: source,
		skew:   defaultTokenSkew,
		now:    utils.Now,
	}
}

// Token returns a valid access token, refreshing it first if needed.
func (c *TokenCache) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.valid() {
		return c.token.AccessToken, nil
	}

	tok, err := c.source.FetchToken(ctx)
	if err != nil {
		return "", err
	}
	if tok.AccessToken == "" {
		return "", apperrors.NewRetryable(apperrors.ErrProvider, "token source returned an empty token")
	}
	c.token = tok
	return tok.AccessToken, nil
}

// Invalidate drops the cached token, forcing a refresh on next use.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	c.token = Token{}
	c.mu.Unlock()
}

func (c *TokenCache) valid() bool {
	if c.token.AccessToken == "" {
		return false
	}
	if c.token.ExpiresAt.IsZero() {
		return true
	}
	return c.now().Add(c.skew).Before(c.token.ExpiresAt)
}

// StaticTokenSource always returns the same non-expiring token.
type StaticTokenSource string

// FetchToken implements TokenSource.
func (s StaticTokenSource) FetchToken(context.Context) (Token, error) {
	return Token{AccessToken: string(s)}, nil
}

// ClientCredentialsSource exchanges a client id and secret for a token.
type ClientCredentialsSource struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// FetchToken implements TokenSource.
func (s *ClientCredentialsSource) FetchToken(ctx context.Context) (Token, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {s.ClientID},
		"client_secret": {s.ClientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, apperrors.NewFatal(err, "build token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	httpClient := s.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return Token{}, apperrors.NewRetryable(fmt.Errorf("%w: %w", apperrors.ErrProvider, err), "fetch token")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Token{}, classifyStatus("token", resp.StatusCode, readSnippet(resp.Body))
	}

	var body tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Token{}, apperrors.NewRetryable(fmt.Errorf("%w: %w", apperrors.ErrProvider, err), "decode token response")
	}

	tok := Token{AccessToken: body.AccessToken}
	if body.ExpiresIn > 0 {
		tok.ExpiresAt = utils.Now().Add(time.Duration(body.ExpiresIn) * time.Second)
	}
	return tok, nil
}
