package esi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultTokenURL is the SSO refresh endpoint.
const DefaultTokenURL = "https://login.eveonline.com/v2/oauth/token"

// maxTokenLen caps the accepted access token size.
const maxTokenLen = 4096

// expirySkew is subtracted from the reported token lifetime so a token is
// never presented right at its deadline.
const expirySkew = 7 * time.Second

// earlyRefresh is how far before expiry the cache starts refreshing.
const earlyRefresh = 10 * time.Second

// TokenCache holds one bearer token refreshed on demand from a long-lived
// refresh token. Shared by every authenticated fetch.
type TokenCache struct {
	httpc        *http.Client
	log          zerolog.Logger
	tokenURL     string
	clientID     string
	clientSecret string
	refreshToken string

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time
}

// NewTokenCache builds a cache around the given SSO credentials. tokenURL
// may be empty to use the production endpoint.
func NewTokenCache(log zerolog.Logger, tokenURL, clientID, clientSecret, refreshToken string) *TokenCache {
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	return &TokenCache{
		httpc:        &http.Client{Timeout: attemptTimeout},
		log:          log,
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		refreshToken: refreshToken,
	}
}

type ssoResponse struct {
	AccessToken  string `json:"access_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token"`
}

// Token returns a valid bearer token, refreshing it when the cached one is
// within 10 s of expiry. No network I/O happens on the fast path.
func (c *TokenCache) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if time.Now().Add(earlyRefresh).Before(c.expiresAt) {
		return c.accessToken, nil
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {c.refreshToken},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	req.SetBasicAuth(c.clientID, c.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("token refresh: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", fmt.Errorf("token refresh read: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token refresh: sso status %d", resp.StatusCode)
	}

	var sso ssoResponse
	if err := json.Unmarshal(body, &sso); err != nil {
		return "", fmt.Errorf("token refresh parse: %w", err)
	}
	if sso.TokenType != "Bearer" {
		return "", fmt.Errorf("token refresh: unexpected token type %q", sso.TokenType)
	}
	if sso.RefreshToken != c.refreshToken {
		// A rotated refresh token would silently strand the daemon on its
		// next refresh; surface it immediately.
		return "", fmt.Errorf("token refresh: sso semantics changed, refresh token rotated")
	}
	if sso.ExpiresIn < 0 || sso.ExpiresIn > math.MaxInt32 {
		return "", fmt.Errorf("token refresh: expires_in %d out of range", sso.ExpiresIn)
	}
	if len(sso.AccessToken) > maxTokenLen {
		return "", fmt.Errorf("token refresh: access token too long (%d bytes)", len(sso.AccessToken))
	}

	c.accessToken = sso.AccessToken
	c.expiresAt = time.Now().Add(time.Duration(sso.ExpiresIn)*time.Second - expirySkew)
	c.log.Debug().Time("expires_at", c.expiresAt).Msg("sso token refreshed")
	return c.accessToken, nil
}
