package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wirelessalien/moviesync/internal/cache"
	"github.com/wirelessalien/moviesync/internal/config"
	"github.com/wirelessalien/moviesync/internal/database"
	"github.com/wirelessalien/moviesync/internal/database/mock"
	"github.com/wirelessalien/moviesync/internal/media"
	"github.com/wirelessalien/moviesync/internal/ratelimit"
	"github.com/wirelessalien/moviesync/internal/tmdb"
)

type fakeSource struct {
	mu    sync.Mutex
	calls map[media.Identifier]int
	fail  map[media.Identifier]error
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		calls: make(map[media.Identifier]int),
		fail:  make(map[media.Identifier]error),
	}
}

func (s *fakeSource) Details(_ context.Context, id media.Identifier, _ ...tmdb.RequestOption) (*tmdb.Details, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[id]++
	if err, ok := s.fail[id]; ok {
		return nil, err
	}
	return &tmdb.Details{Identifier: id, Name: "Title " + id.String()}, nil
}

func (s *fakeSource) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

func seedLibrary(t *testing.T, db *mock.MockDB, ids ...media.Identifier) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, db.SaveMedia(context.Background(), &database.SavedMedia{
			TMDBID: id.ID,
			Kind:   id.Kind,
			Title:  id.String(),
		}))
	}
}

func TestFetchMissing(t *testing.T) {
	db := mock.NewMockDB()
	movie := media.TMDB(media.KindMovie, 603)
	show := media.TMDB(media.KindShow, 1399)
	seedLibrary(t, db, movie)
	require.NoError(t, db.ReplaceSyncRecords(context.Background(), "watchlist", "shows", []database.SyncRecord{
		{Key: "show:1", Type: media.KindShow, TMDBID: 1399, Title: "Game of Thrones"},
	}))

	source := newFakeSource()
	result, err := New(db, source, 2).FetchMissing(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, &Result{Requested: 2, Fetched: 2}, result)

	for _, id := range []media.Identifier{movie, show} {
		d, err := db.GetDetails(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, "Title "+id.String(), d.Name)
		assert.False(t, d.FetchedAt.IsZero())
	}
}

func TestCachedIdentifierIsNotFetched(t *testing.T) {
	db := mock.NewMockDB()
	movie := media.TMDB(media.KindMovie, 603)
	seedLibrary(t, db, movie)
	cached := &database.Details{
		Source:    media.SourceTMDB,
		Kind:      media.KindMovie,
		RemoteID:  603,
		Name:      "Cached",
		FetchedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, db.UpsertDetails(context.Background(), cached))

	source := newFakeSource()
	result, err := New(db, source, 1).FetchMissing(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped)
	assert.Zero(t, source.total())

	d, err := db.GetDetails(context.Background(), movie)
	require.NoError(t, err)
	assert.Equal(t, *cached, *d)
}

func TestForceReplacesCachedRow(t *testing.T) {
	db := mock.NewMockDB()
	movie := media.TMDB(media.KindMovie, 603)
	seedLibrary(t, db, movie)
	require.NoError(t, db.UpsertDetails(context.Background(), &database.Details{
		Source: media.SourceTMDB, Kind: media.KindMovie, RemoteID: 603, Name: "Old", Overview: "stale",
	}))

	source := newFakeSource()
	result, err := New(db, source, 1).FetchMissing(context.Background(), Options{Force: true})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Fetched)

	d, err := db.GetDetails(context.Background(), movie)
	require.NoError(t, err)
	assert.Equal(t, "Title tmdb:movie:603", d.Name)
	assert.Empty(t, d.Overview)
}

func TestFailureIsIsolatedAndRetried(t *testing.T) {
	db := mock.NewMockDB()
	ok1 := media.TMDB(media.KindMovie, 1)
	bad := media.TMDB(media.KindMovie, 2)
	ok2 := media.TMDB(media.KindMovie, 3)
	seedLibrary(t, db, ok1, bad, ok2)

	source := newFakeSource()
	source.fail[bad] = errors.New("connection reset")
	f := New(db, source, 3)

	result, err := f.FetchMissing(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Fetched)
	assert.Equal(t, []media.Identifier{bad}, result.Failed)

	has, err := db.HasDetails(context.Background(), bad)
	require.NoError(t, err)
	assert.False(t, has)

	delete(source.fail, bad)
	result, err = f.FetchMissing(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Fetched)
	assert.Equal(t, 2, result.Skipped)
	assert.Equal(t, 2, source.calls[bad])
}

func TestStorageFailureIsRecorded(t *testing.T) {
	db := mock.NewMockDB()
	movie := media.TMDB(media.KindMovie, 1)
	seedLibrary(t, db, movie, media.TMDB(media.KindMovie, 2))
	db.UpsertDetailsErrorFor[movie] = mock.ErrMock

	result, err := New(db, newFakeSource(), 1).FetchMissing(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, []media.Identifier{movie}, result.Failed)
	assert.Equal(t, 1, result.Fetched)
}

func TestKindsFilter(t *testing.T) {
	db := mock.NewMockDB()
	seedLibrary(t, db, media.TMDB(media.KindMovie, 1), media.TMDB(media.KindShow, 2))

	source := newFakeSource()
	result, err := New(db, source, 1).FetchMissing(context.Background(), Options{Kinds: []media.Kind{media.KindShow}})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Requested)
	assert.Equal(t, 1, source.calls[media.TMDB(media.KindShow, 2)])
}

func TestLibraryErrorAbortsPass(t *testing.T) {
	db := mock.NewMockDB()
	db.GetLibraryIdentifiersError = mock.ErrMock

	_, err := New(db, newFakeSource(), 1).FetchMissing(context.Background(), Options{})
	assert.ErrorIs(t, err, mock.ErrMock)
}

func TestFetchOne(t *testing.T) {
	db := mock.NewMockDB()
	source := newFakeSource()
	f := New(db, source, 1)
	id := media.TMDB(media.KindMovie, 603)

	d, err := f.FetchOne(context.Background(), id, false)
	require.NoError(t, err)
	assert.Equal(t, "Title tmdb:movie:603", d.Name)

	_, err = f.FetchOne(context.Background(), id, false)
	require.NoError(t, err)
	assert.Equal(t, 1, source.calls[id])

	_, err = f.FetchOne(context.Background(), media.Identifier{}, false)
	assert.Error(t, err)
}

func TestShowSeasonsThroughTMDB(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/tv/1399", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":1399,"name":"Game of Thrones","seasons":[{"season_number":1,"episode_count":3},{"season_number":0,"episode_count":2}]}`))
	}))
	defer server.Close()

	limiter, err := ratelimit.New(5, time.Second)
	require.NoError(t, err)
	client := tmdb.New(&config.TMDBConfig{URL: server.URL, AccessToken: "token"}, limiter, nil)

	db := mock.NewMockDB()
	show := media.TMDB(media.KindShow, 1399)
	seedLibrary(t, db, show)

	f := New(db, client, 2)
	_, err = f.FetchMissing(context.Background(), Options{})
	require.NoError(t, err)

	d, err := db.GetDetails(context.Background(), show)
	require.NoError(t, err)
	assert.Equal(t, "1{1,2,3}", d.Seasons.Encode())

	// second pass is served from the local cache
	_, err = f.FetchMissing(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestForceBypassesResponseCache(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			_, _ = w.Write([]byte(`{"id":603,"title":"Old Title"}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":603,"title":"New Title"}`))
	}))
	defer server.Close()

	limiter, err := ratelimit.New(5, time.Second)
	require.NoError(t, err)
	apiCache, err := cache.NewAPICache(&config.CacheConfig{Type: config.CacheTypeMemory, TTL: time.Hour})
	require.NoError(t, err)
	client := tmdb.New(&config.TMDBConfig{URL: server.URL, AccessToken: "token"}, limiter, apiCache)

	db := mock.NewMockDB()
	movie := media.TMDB(media.KindMovie, 603)
	seedLibrary(t, db, movie)
	f := New(db, client, 1)

	_, err = f.FetchMissing(context.Background(), Options{})
	require.NoError(t, err)
	result, err := f.FetchMissing(context.Background(), Options{Force: true})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Fetched)
	assert.Equal(t, int32(2), hits.Load())

	d, err := db.GetDetails(context.Background(), movie)
	require.NoError(t, err)
	assert.Equal(t, "New Title", d.Name)

	d, err = f.FetchOne(context.Background(), movie, true)
	require.NoError(t, err)
	assert.Equal(t, "New Title", d.Name)
	assert.Equal(t, int32(3), hits.Load())
}
