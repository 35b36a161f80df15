package tmdb

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wirelessalien/moviesync/internal/cache"
	"github.com/wirelessalien/moviesync/internal/config"
	"github.com/wirelessalien/moviesync/internal/media"
)

type countingLimiter struct {
	calls atomic.Int32
}

func (l *countingLimiter) Acquire(ctx context.Context) error {
	l.calls.Add(1)
	return ctx.Err()
}

func newTestClient(t *testing.T, handler http.HandlerFunc, withCache bool) (*Client, *countingLimiter) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	var apiCache *cache.APICache
	if withCache {
		var err error
		apiCache, err = cache.NewAPICache(&config.CacheConfig{Type: config.CacheTypeMemory, TTL: time.Minute})
		require.NoError(t, err)
	}

	limiter := &countingLimiter{}
	return New(&config.TMDBConfig{
		URL:         server.URL,
		AccessToken: "test-token",
		Language:    "en-US",
	}, limiter, apiCache), limiter
}

func TestMovieDetails(t *testing.T) {
	client, limiter := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/movie/603", r.URL.Path)
		assert.Equal(t, "en-US", r.URL.Query().Get("language"))
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":603,"title":"The Matrix","overview":"Neo","vote_average":8.2,"release_date":"1999-03-30","genres":[{"id":28,"name":"Action"}]}`))
	}, false)

	d, err := client.Details(context.Background(), media.TMDB(media.KindMovie, 603))
	require.NoError(t, err)
	assert.Equal(t, "The Matrix", d.Name)
	assert.Equal(t, []int64{28}, d.GenreIDs)
	assert.Nil(t, d.Seasons)
	assert.Equal(t, int32(1), limiter.calls.Load())
}

func TestShowDetailsEncodesSeasons(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tv/1399", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":1399,"name":"Game of Thrones","seasons":[{"season_number":1,"episode_count":3},{"season_number":0,"episode_count":2}]}`))
	}, false)

	d, err := client.Details(context.Background(), media.TMDB(media.KindShow, 1399))
	require.NoError(t, err)
	assert.Equal(t, "1{1,2,3}", d.Seasons.Encode())
}

func TestDetailsErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{name: "not found", status: http.StatusNotFound, body: `{"status_code":34}`, wantErr: ErrNotFound},
		{name: "missing title", status: http.StatusOK, body: `{"id":603}`, wantErr: ErrInvalidDetails},
		{name: "malformed json", status: http.StatusOK, body: `{"id":`, wantErr: ErrInvalidDetails},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}, false)

			_, err := client.Details(context.Background(), media.TMDB(media.KindMovie, 603))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestServerErrorIsAPIError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}, false)

	_, err := client.MovieDetails(context.Background(), 1)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
}

func TestResponsesAreCached(t *testing.T) {
	var hits atomic.Int32
	client, limiter := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"id":603,"title":"The Matrix"}`))
	}, true)

	for range 3 {
		_, err := client.MovieDetails(context.Background(), 603)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, int32(1), limiter.calls.Load())
}

func TestWithoutCacheRefreshesCachedResponse(t *testing.T) {
	var hits atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			_, _ = w.Write([]byte(`{"id":603,"title":"Old Title"}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":603,"title":"New Title"}`))
	}, true)

	m, err := client.MovieDetails(context.Background(), 603)
	require.NoError(t, err)
	assert.Equal(t, "Old Title", m.Title)

	m, err = client.MovieDetails(context.Background(), 603, WithoutCache())
	require.NoError(t, err)
	assert.Equal(t, "New Title", m.Title)
	assert.Equal(t, int32(2), hits.Load())

	// the fresh body replaced the cached one
	m, err = client.MovieDetails(context.Background(), 603)
	require.NoError(t, err)
	assert.Equal(t, "New Title", m.Title)
	assert.Equal(t, int32(2), hits.Load())
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var hits atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}, false)

	for range 5 {
		_, err := client.MovieDetails(context.Background(), 1)
		require.Error(t, err)
	}
	_, err := client.MovieDetails(context.Background(), 1)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(5), hits.Load())
}

func TestNotFoundDoesNotOpenBreaker(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}, false)

	for range 10 {
		_, err := client.MovieDetails(context.Background(), 1)
		assert.ErrorIs(t, err, ErrNotFound)
	}
}
