package esi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ssoServer(t *testing.T, calls *atomic.Int64, respond func(w http.ResponseWriter, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		user, pass, ok := r.BasicAuth()
		require.True(t, ok, "basic auth missing")
		require.Equal(t, "client-id", user)
		require.Equal(t, "client-secret", pass)
		require.NoError(t, r.ParseForm())
		require.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		require.Equal(t, "refresh-me", r.PostForm.Get("refresh_token"))
		respond(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func grant(w http.ResponseWriter, token string, expiresIn int64, tokenType, refreshToken string) {
	json.NewEncoder(w).Encode(map[string]any{
		"access_token":  token,
		"expires_in":    expiresIn,
		"token_type":    tokenType,
		"refresh_token": refreshToken,
	})
}

func TestTokenRefreshAndCache(t *testing.T) {
	var calls atomic.Int64
	srv := ssoServer(t, &calls, func(w http.ResponseWriter, _ *http.Request) {
		grant(w, "tok-1", 1200, "Bearer", "refresh-me")
	})

	c := NewTokenCache(zerolog.Nop(), srv.URL, "client-id", "client-secret", "refresh-me")
	tok, err := c.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)
	assert.Equal(t, int64(1), calls.Load())

	// Within the validity window no network I/O happens.
	for i := 0; i < 5; i++ {
		tok, err = c.Token(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "tok-1", tok)
	}
	assert.Equal(t, int64(1), calls.Load())
}

func TestTokenRefreshNearExpiry(t *testing.T) {
	var calls atomic.Int64
	srv := ssoServer(t, &calls, func(w http.ResponseWriter, _ *http.Request) {
		grant(w, "tok-2", 1200, "Bearer", "refresh-me")
	})

	c := NewTokenCache(zerolog.Nop(), srv.URL, "client-id", "client-secret", "refresh-me")
	c.accessToken = "stale"
	c.expiresAt = time.Now().Add(5 * time.Second) // inside the 10 s window

	tok, err := c.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-2", tok)
	assert.Equal(t, int64(1), calls.Load())
}

func TestTokenRejectsNonBearer(t *testing.T) {
	var calls atomic.Int64
	srv := ssoServer(t, &calls, func(w http.ResponseWriter, _ *http.Request) {
		grant(w, "tok", 1200, "MAC", "refresh-me")
	})
	c := NewTokenCache(zerolog.Nop(), srv.URL, "client-id", "client-secret", "refresh-me")
	_, err := c.Token(context.Background())
	assert.ErrorContains(t, err, "token type")
}

func TestTokenRejectsRotatedRefreshToken(t *testing.T) {
	var calls atomic.Int64
	srv := ssoServer(t, &calls, func(w http.ResponseWriter, _ *http.Request) {
		grant(w, "tok", 1200, "Bearer", "something-else")
	})
	c := NewTokenCache(zerolog.Nop(), srv.URL, "client-id", "client-secret", "refresh-me")
	_, err := c.Token(context.Background())
	assert.ErrorContains(t, err, "refresh token rotated")
}

func TestTokenRejectsOversizedToken(t *testing.T) {
	var calls atomic.Int64
	srv := ssoServer(t, &calls, func(w http.ResponseWriter, _ *http.Request) {
		grant(w, strings.Repeat("a", maxTokenLen+1), 1200, "Bearer", "refresh-me")
	})
	c := NewTokenCache(zerolog.Nop(), srv.URL, "client-id", "client-secret", "refresh-me")
	_, err := c.Token(context.Background())
	assert.ErrorContains(t, err, "too long")
}

func TestTokenRejectsNegativeExpiry(t *testing.T) {
	var calls atomic.Int64
	srv := ssoServer(t, &calls, func(w http.ResponseWriter, _ *http.Request) {
		grant(w, "tok", -1, "Bearer", "refresh-me")
	})
	c := NewTokenCache(zerolog.Nop(), srv.URL, "client-id", "client-secret", "refresh-me")
	_, err := c.Token(context.Background())
	assert.ErrorContains(t, err, "out of range")
}

func TestTokenSSOFailure(t *testing.T) {
	var calls atomic.Int64
	srv := ssoServer(t, &calls, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})
	c := NewTokenCache(zerolog.Nop(), srv.URL, "client-id", "client-secret", "refresh-me")
	_, err := c.Token(context.Background())
	assert.ErrorContains(t, err, "sso status 400")
}
