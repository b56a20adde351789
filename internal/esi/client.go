// Package esi implements the upstream HTTP layer: a single fetch operation
// with a process-wide cooldown gate, a bounded retry policy keyed on the
// upstream's backoff signals, and an OAuth token cache for authenticated
// calls.
package esi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/evemarket/emd/internal/metrics"
)

// DefaultBaseURL is the production upstream.
const DefaultBaseURL = "https://esi.evetech.net/latest"

// attemptTimeout bounds one HTTP attempt.
const attemptTimeout = 7 * time.Second

// fallbackCooldown is applied when the upstream signals a backoff without
// a usable duration.
const fallbackCooldown = 20 * time.Second

// maxPages clamps the X-Pages header.
const maxPages = 10000

// headerTimeLayout is the format of Expires and Last-Modified.
const headerTimeLayout = "Mon, 02 Jan 2006 15:04:05 GMT"

// Response is the outcome of a successful fetch.
type Response struct {
	Body []byte
	// Pages is the upstream X-Pages header, 0 when absent.
	Pages int
	// Expires and Modified are epoch seconds, 0 when absent or unparsable.
	Expires  uint64
	Modified uint64
}

// Client performs upstream requests. The gate and token cache are shared
// across goroutines; the client itself is safe for concurrent use.
type Client struct {
	httpc   *http.Client
	log     zerolog.Logger
	baseURL string
	gate    *Gate
	tokens  *TokenCache
	limiter *rate.Limiter
	metrics *metrics.Set
}

// NewClient builds a fetch client. baseURL may be empty for production;
// tokens may be nil when no authenticated calls will be made; m may be nil.
func NewClient(log zerolog.Logger, baseURL string, gate *Gate, tokens *TokenCache, m *metrics.Set) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		httpc:   &http.Client{},
		log:     log,
		baseURL: baseURL,
		gate:    gate,
		tokens:  tokens,
		// Steady-state politeness: the worker cadences stay far below
		// this; it only smooths the page sweeps.
		limiter: rate.NewLimiter(rate.Limit(20), 40),
		metrics: m,
	}
}

// Fetch performs one upstream request with up to retries attempts. Each
// attempt consumes one retry slot. The retry policy follows the upstream
// backoff signals; any other non-200 is a non-retriable UpstreamError.
func (c *Client) Fetch(ctx context.Context, method, uri string, body []byte, authenticated bool, retries int) (*Response, error) {
	var token string
	if authenticated {
		if c.tokens == nil {
			return nil, &AuthError{Err: fmt.Errorf("no token cache configured")}
		}
		var err error
		token, err = c.tokens.Token(ctx)
		if err != nil {
			return nil, &AuthError{Err: err}
		}
	}

	var lastErr error
	for try := 0; try < retries; try++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		slept, err := c.gate.Wait(ctx)
		if err != nil {
			return nil, err
		}
		if slept > 0 && c.metrics != nil {
			c.metrics.GateWaits.Inc()
		}

		resp, err := c.attempt(ctx, method, uri, body, token)
		if err != nil {
			lastErr = &TransportError{Err: err}
			if c.metrics != nil {
				c.metrics.TransportErrors.Inc()
			}
			c.log.Warn().Err(err).Str("uri", uri).Int("try", try+1).Msg("transport error")
			continue
		}
		if c.metrics != nil {
			c.metrics.UpstreamResponses.WithLabelValues(metrics.StatusClass(resp.status)).Inc()
		}

		switch resp.status {
		case http.StatusOK:
			return resp.toResponse(), nil
		case http.StatusInternalServerError, http.StatusServiceUnavailable, http.StatusTooManyRequests:
			c.gate.Advance(fallbackCooldown)
			lastErr = fmt.Errorf("upstream status %d", resp.status)
		case 420:
			c.gate.Advance(errorLimitCooldown(resp.header.Get("X-Esi-Error-Limit-Reset")))
			lastErr = fmt.Errorf("upstream error limited")
		case http.StatusGatewayTimeout:
			c.gate.Advance(gatewayTimeoutCooldown(resp.body))
			lastErr = fmt.Errorf("upstream gateway timeout")
		default:
			return nil, &UpstreamError{Status: resp.status, Message: upstreamMessage(resp.body)}
		}
		c.log.Warn().Int("status", resp.status).Str("uri", uri).Int("try", try+1).Msg("retriable upstream failure")
	}
	return nil, fmt.Errorf("%s %s after %d tries (%v): %w", method, uri, retries, lastErr, ErrOutOfRetries)
}

type attemptResult struct {
	status   int
	header   http.Header
	body     []byte
	expires  uint64
	modified uint64
	pages    int
}

func (r *attemptResult) toResponse() *Response {
	return &Response{Body: r.body, Pages: r.pages, Expires: r.expires, Modified: r.modified}
}

func (c *Client) attempt(ctx context.Context, method, uri string, body []byte, token string) (*attemptResult, error) {
	actx, cancel := context.WithTimeout(ctx, attemptTimeout)
	defer cancel()

	var rd io.Reader
	if method == http.MethodPost || method == http.MethodPut {
		// bytes.Reader gives the request an explicit Content-Length.
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(actx, method, c.baseURL+uri, rd)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	// The transport advertises gzip and decompresses transparently.

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	res := &attemptResult{status: resp.StatusCode, header: resp.Header, body: raw}
	if resp.StatusCode == http.StatusOK {
		res.pages = clampPages(resp.Header.Get("X-Pages"))
		res.expires = headerEpoch(resp.Header.Get("Expires"))
		res.modified = headerEpoch(resp.Header.Get("Last-Modified"))
	}
	return res, nil
}

func clampPages(s string) int {
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0
	}
	if n > maxPages {
		return maxPages
	}
	return n
}

func headerEpoch(s string) uint64 {
	if s == "" {
		return 0
	}
	t, err := time.Parse(headerTimeLayout, s)
	if err != nil {
		return 0
	}
	return uint64(t.Unix())
}

// errorLimitCooldown parses X-Esi-Error-Limit-Reset. Values outside 1..120
// seconds fall back to the default cooldown.
func errorLimitCooldown(s string) time.Duration {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > 120 {
		return fallbackCooldown
	}
	return time.Duration(n) * time.Second
}

// gatewayTimeoutCooldown parses the 504 body {"timeout": N}.
func gatewayTimeoutCooldown(body []byte) time.Duration {
	var payload struct {
		Timeout int `json:"timeout"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Timeout <= 0 {
		return fallbackCooldown
	}
	return time.Duration(payload.Timeout) * time.Second
}

func upstreamMessage(body []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return payload.Error
}
