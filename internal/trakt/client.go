// Package trakt is a client for the Trakt v2 API.
package trakt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/charmbracelet/log"
	"github.com/goccy/go-json"
	"github.com/wirelessalien/moviesync/internal/config"
	"github.com/wirelessalien/moviesync/internal/session"
	"golang.org/x/oauth2"
)

const apiVersion = "2"

var (
	// ErrUnauthorized is returned when trakt rejects the access token.
	ErrUnauthorized = errors.New("trakt: unauthorized")
	// ErrNotAuthenticated is returned when no token has been stored yet.
	ErrNotAuthenticated = errors.New("trakt: not authenticated, run `moviesync auth` first")
)

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
	// RetryAfter is the parsed Retry-After header, -1 if absent.
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API request failed with status %d: %s", e.StatusCode, e.Body)
}

func (e *APIError) retryable() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Limiter gates outgoing requests.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// TokenStore persists the oauth token.
type TokenStore interface {
	Token(ctx context.Context) (*oauth2.Token, error)
	SaveToken(ctx context.Context, tok *oauth2.Token) error
	TokenSource(ctx context.Context, base oauth2.TokenSource) oauth2.TokenSource
}

// Client is a Trakt API client.
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	client       *http.Client
	limiter      Limiter
	tokens       TokenStore
	oauth        *oauth2.Config
	newBackOff   func() backoff.BackOff

	mu     sync.Mutex
	source oauth2.TokenSource
}

// Option configures a Client.
type Option func(*Client)

// WithBackOff replaces the retry policy for 429 and 5xx responses.
func WithBackOff(f func() backoff.BackOff) Option {
	return func(c *Client) {
		c.newBackOff = f
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.client = hc
	}
}

// New creates a trakt client.
func New(cfg *config.TraktConfig, limiter Limiter, tokens TokenStore, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		baseURL:      cfg.URL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		client: &http.Client{
			Timeout: timeout,
		},
		limiter: limiter,
		tokens:  tokens,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  "urn:ietf:wg:oauth:2.0:oob",
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.URL + "/oauth/authorize",
				TokenURL:  cfg.URL + "/oauth/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		newBackOff: defaultBackOff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 2 * time.Minute
	return backoff.WithMaxRetries(b, 5)
}

// retryAfterBackOff prefers the server supplied Retry-After delay over the wrapped policy.
type retryAfterBackOff struct {
	backoff.BackOff
	wait time.Duration
}

func (b *retryAfterBackOff) NextBackOff() time.Duration {
	d := b.BackOff.NextBackOff()
	if d == backoff.Stop {
		return d
	}
	if b.wait >= 0 {
		d = b.wait
		b.wait = -1
	}
	return d
}

func (b *retryAfterBackOff) Reset() {
	b.BackOff.Reset()
	b.wait = -1
}

// Result is the outcome of an asynchronous request.
type Result struct {
	Body []byte
	Err  error
}

// Get decodes the response of endpoint into out.
func (c *Client) Get(ctx context.Context, endpoint string, out any) error {
	resp, err := c.do(ctx, http.MethodGet, endpoint, nil, true)
	if err != nil {
		return err
	}
	return decode(resp.body, out)
}

// GetPublic is Get without the user token, for endpoints that do not need one.
func (c *Client) GetPublic(ctx context.Context, endpoint string, out any) error {
	resp, err := c.do(ctx, http.MethodGet, endpoint, nil, false)
	if err != nil {
		return err
	}
	return decode(resp.body, out)
}

// Post sends body as JSON and decodes the response into out, if out is not nil.
func (c *Client) Post(ctx context.Context, endpoint string, body, out any) error {
	resp, err := c.do(ctx, http.MethodPost, endpoint, body, true)
	if err != nil {
		return err
	}
	return decode(resp.body, out)
}

// Delete issues a DELETE request on endpoint.
func (c *Client) Delete(ctx context.Context, endpoint string) error {
	_, err := c.do(ctx, http.MethodDelete, endpoint, nil, true)
	return err
}

// PostAsync runs Post in the background. Exactly one Result is delivered, then the channel is closed.
func (c *Client) PostAsync(ctx context.Context, endpoint string, body any) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		defer close(ch)
		resp, err := c.do(ctx, http.MethodPost, endpoint, body, true)
		if err != nil {
			ch <- Result{Err: err}
			return
		}
		ch <- Result{Body: resp.body}
	}()
	return ch
}

// GetAll follows the X-Pagination-Page-Count header and returns the items of all pages.
func GetAll[T any](ctx context.Context, c *Client, endpoint string, limit int) ([]T, error) {
	var all []T
	for page := 1; ; page++ {
		u, err := url.Parse(endpoint)
		if err != nil {
			return nil, fmt.Errorf("failed to parse endpoint: %w", err)
		}
		query := u.Query()
		query.Set("page", strconv.Itoa(page))
		if limit > 0 {
			query.Set("limit", strconv.Itoa(limit))
		}
		u.RawQuery = query.Encode()

		resp, err := c.do(ctx, http.MethodGet, u.String(), nil, true)
		if err != nil {
			return nil, err
		}
		var items []T
		if err := decode(resp.body, &items); err != nil {
			return nil, err
		}
		all = append(all, items...)

		pageCount, err := strconv.Atoi(resp.header.Get("X-Pagination-Page-Count"))
		if err != nil || page >= pageCount || len(items) == 0 {
			return all, nil
		}
	}
}

func decode(body []byte, out any) error {
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

type response struct {
	header http.Header
	body   []byte
}

// do sends the request, retrying rate limited and unavailable responses.
func (c *Client) do(ctx context.Context, method, endpoint string, payload any, auth bool) (*response, error) {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	bo := &retryAfterBackOff{BackOff: c.newBackOff(), wait: -1}
	var resp *response
	operation := func() error {
		if err := c.limiter.Acquire(ctx); err != nil {
			return backoff.Permanent(err)
		}
		r, err := c.send(ctx, method, endpoint, body, auth)
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.retryable() {
				bo.wait = apiErr.RetryAfter
				return err
			}
			return backoff.Permanent(err)
		}
		resp = r
		return nil
	}

	notify := func(err error, d time.Duration) {
		log.Warn("trakt request failed, retrying", "method", method, "endpoint", endpoint, "retry_in", d, "error", err)
	}
	if err := backoff.RetryNotify(operation, backoff.WithContext(bo, ctx), notify); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) send(ctx context.Context, method, endpoint string, body []byte, auth bool) (*response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("trakt-api-version", apiVersion)
	req.Header.Set("trakt-api-key", c.clientID)
	if auth {
		token, err := c.accessToken(ctx)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Body:       string(respBody),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
		if resp.StatusCode == http.StatusUnauthorized {
			c.resetToken()
			return nil, fmt.Errorf("%w: %w", ErrUnauthorized, apiErr)
		}
		return nil, apiErr
	}

	return &response{header: resp.Header, body: respBody}, nil
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return -1
	}
	if seconds, err := strconv.Atoi(v); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		return max(time.Until(t), 0)
	}
	return -1
}

// accessToken returns a valid access token, refreshing and persisting it when expired.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.source == nil {
		tok, err := c.tokens.Token(ctx)
		if err != nil {
			c.mu.Unlock()
			if errors.Is(err, session.ErrNotFound) {
				return "", ErrNotAuthenticated
			}
			return "", fmt.Errorf("failed to load trakt token: %w", err)
		}
		// the token source outlives ctx, so refreshes use a background context
		refreshCtx := context.WithValue(context.Background(), oauth2.HTTPClient, c.client)
		c.source = c.tokens.TokenSource(refreshCtx, c.oauth.TokenSource(refreshCtx, tok))
	}
	src := c.source
	c.mu.Unlock()

	tok, err := src.Token()
	if err != nil {
		return "", fmt.Errorf("%w: failed to refresh token: %v", ErrUnauthorized, err)
	}
	return tok.AccessToken, nil
}

func (c *Client) resetToken() {
	c.mu.Lock()
	c.source = nil
	c.mu.Unlock()
}

// Authenticated reports whether a token is stored.
func (c *Client) Authenticated(ctx context.Context) bool {
	_, err := c.tokens.Token(ctx)
	return err == nil
}
