package trakt

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wirelessalien/moviesync/internal/config"
	"github.com/wirelessalien/moviesync/internal/database/mock"
	"github.com/wirelessalien/moviesync/internal/session"
	"golang.org/x/oauth2"
)

type countingLimiter struct {
	calls atomic.Int32
}

func (l *countingLimiter) Acquire(ctx context.Context) error {
	l.calls.Add(1)
	return ctx.Err()
}

type testEnv struct {
	client  *Client
	limiter *countingLimiter
	store   *session.Store
}

func newTestEnv(t *testing.T, handler http.HandlerFunc, authenticated bool) *testEnv {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	store := session.New(mock.NewMockDB())
	if authenticated {
		require.NoError(t, store.SaveToken(context.Background(), &oauth2.Token{
			AccessToken:  "access",
			RefreshToken: "refresh",
			TokenType:    "Bearer",
			Expiry:       time.Now().Add(time.Hour),
		}))
	}

	limiter := &countingLimiter{}
	client := New(&config.TraktConfig{
		URL:          server.URL,
		ClientID:     "client-id",
		ClientSecret: "client-secret",
	}, limiter, store, WithBackOff(func() backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 3)
	}))
	return &testEnv{client: client, limiter: limiter, store: store}
}

func TestGetSetsHeaders(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sync/watchlist/movies", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "2", r.Header.Get("trakt-api-version"))
		assert.Equal(t, "client-id", r.Header.Get("trakt-api-key"))
		assert.Equal(t, "Bearer access", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`[{"type":"movie","movie":{"title":"The Matrix","year":1999,"ids":{"trakt":481,"tmdb":603}}}]`))
	}, true)

	var items []Item
	require.NoError(t, env.client.Get(context.Background(), "/sync/watchlist/movies", &items))
	require.Len(t, items, 1)
	assert.Equal(t, int64(603), items[0].Movie.IDs.TMDB)
	assert.Equal(t, int32(1), env.limiter.calls.Load())
}

func TestNotAuthenticated(t *testing.T) {
	var hits atomic.Int32
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}, false)

	err := env.client.Get(context.Background(), "/sync/history", nil)
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	assert.Zero(t, hits.Load())
	assert.False(t, env.client.Authenticated(context.Background()))
}

func TestUnauthorized(t *testing.T) {
	var hits atomic.Int32
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}, true)

	err := env.client.Get(context.Background(), "/sync/history", nil)
	assert.ErrorIs(t, err, ErrUnauthorized)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, int32(1), hits.Load())
}

func TestRetriesRateLimitedRequests(t *testing.T) {
	var hits atomic.Int32
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}, true)

	var items []Item
	require.NoError(t, env.client.Get(context.Background(), "/sync/ratings/movies", &items))
	assert.Equal(t, int32(3), hits.Load())
	// every attempt goes through the limiter
	assert.Equal(t, int32(3), env.limiter.calls.Load())
}

func TestRetryAfterIsHonored(t *testing.T) {
	var hits atomic.Int32
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}, true)

	start := time.Now()
	require.NoError(t, env.client.Get(context.Background(), "/sync/ratings/movies", nil))
	assert.GreaterOrEqual(t, time.Since(start), time.Second)
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var hits atomic.Int32
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}, true)

	err := env.client.Get(context.Background(), "/sync/ratings/movies", nil)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, "boom", apiErr.Body)
	assert.Equal(t, int32(1), hits.Load())
}

func TestRetriesGiveUp(t *testing.T) {
	var hits atomic.Int32
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}, true)

	err := env.client.Get(context.Background(), "/sync/ratings/movies", nil)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.Equal(t, int32(4), hits.Load())
}

func TestPostAsync(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var req SyncRequest
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Len(t, req.Movies, 1)
		_, _ = w.Write([]byte(`{"added":{"movies":1}}`))
	}, true)

	ch := env.client.PostAsync(context.Background(), "/sync/history", SyncRequest{
		Movies: []HistoryMovie{{IDs: IDs{TMDB: 603}}},
	})

	res, ok := <-ch
	require.True(t, ok)
	require.NoError(t, res.Err)
	var resp SyncResponse
	require.NoError(t, json.Unmarshal(res.Body, &resp))
	assert.Equal(t, 1, resp.Added.Movies)

	_, ok = <-ch
	assert.False(t, ok, "channel must be closed after the result")
}

func TestPostAsyncDeliversErrors(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}, true)

	res := <-env.client.PostAsync(context.Background(), "/sync/history", SyncRequest{})
	var apiErr *APIError
	require.True(t, errors.As(res.Err, &apiErr))
	assert.Nil(t, res.Body)
}

func TestGetAllFollowsPagination(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		page, err := strconv.Atoi(r.URL.Query().Get("page"))
		require.NoError(t, err)
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		assert.Equal(t, "full", r.URL.Query().Get("extended"))
		w.Header().Set("X-Pagination-Page-Count", "3")
		if page == 3 {
			_, _ = w.Write([]byte(`[{"id":5}]`))
			return
		}
		_, _ = w.Write([]byte(`[{"id":` + strconv.Itoa(page*2-1) + `},{"id":` + strconv.Itoa(page*2) + `}]`))
	}, true)

	items, err := GetAll[Item](context.Background(), env.client, "/sync/history/movies?extended=full", 2)
	require.NoError(t, err)
	require.Len(t, items, 5)
	assert.Equal(t, int64(5), items[4].ID)
}

func TestExpiredTokenIsRefreshedAndPersisted(t *testing.T) {
	var refreshes atomic.Int32
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/token":
			refreshes.Add(1)
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
			assert.Equal(t, "old-refresh", r.PostForm.Get("refresh_token"))
			assert.Equal(t, "client-secret", r.PostForm.Get("client_secret"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"access_token":"new-access","refresh_token":"new-refresh","token_type":"bearer","expires_in":7776000}`))
		default:
			assert.Equal(t, "Bearer new-access", r.Header.Get("Authorization"))
			_, _ = w.Write([]byte(`[]`))
		}
	}, false)

	ctx := context.Background()
	require.NoError(t, env.store.SaveToken(ctx, &oauth2.Token{
		AccessToken:  "old-access",
		RefreshToken: "old-refresh",
		Expiry:       time.Now().Add(-time.Hour),
	}))

	require.NoError(t, env.client.Get(ctx, "/sync/history", nil))
	require.NoError(t, env.client.Get(ctx, "/sync/history", nil))
	assert.Equal(t, int32(1), refreshes.Load())

	tok, err := env.store.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "new-access", tok.AccessToken)
	assert.Equal(t, "new-refresh", tok.RefreshToken)
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, time.Duration(-1), parseRetryAfter(""))
	assert.Equal(t, 3*time.Second, parseRetryAfter("3"))
	assert.Equal(t, time.Duration(-1), parseRetryAfter("soon"))
	assert.Equal(t, time.Duration(0), parseRetryAfter(time.Now().Add(-time.Minute).UTC().Format(http.TimeFormat)))
}
