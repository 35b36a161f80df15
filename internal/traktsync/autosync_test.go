package traktsync

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wirelessalien/moviesync/internal/database"
	"github.com/wirelessalien/moviesync/internal/database/mock"
	"github.com/wirelessalien/moviesync/internal/media"
	"github.com/wirelessalien/moviesync/internal/session"
	"github.com/wirelessalien/moviesync/internal/trakt"
)

func seedWatched(t *testing.T, db *mock.MockDB) {
	t.Helper()
	ctx := context.Background()
	watchedAt := time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC)
	require.NoError(t, db.SaveMedia(ctx, &database.SavedMedia{
		TMDBID: 603, Kind: media.KindMovie, Title: "The Matrix", Watched: true, WatchedAt: &watchedAt,
	}))
	require.NoError(t, db.SaveMedia(ctx, &database.SavedMedia{
		TMDBID: 27205, Kind: media.KindMovie, Title: "Inception",
	}))
	for _, ep := range []struct{ season, number int }{{1, 2}, {1, 1}, {2, 1}} {
		require.NoError(t, db.SaveWatchedEpisode(ctx, &database.WatchedEpisode{
			ShowTMDBID: 1399, Season: ep.season, Number: ep.number, WatchedAt: watchedAt,
		}))
	}
}

func TestAutoSyncMarksItemsSynced(t *testing.T) {
	e := newEnv(t, true, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sync/history", r.URL.Path)
		_, _ = w.Write([]byte(`{"added":{"movies":1,"episodes":3},"not_found":{"movies":[],"shows":[]}}`))
	})
	seedWatched(t, e.db)
	ctx := context.Background()
	auto := NewAutoSyncer(e.client, e.db, e.session)

	result, err := auto.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Movies)
	assert.Equal(t, 3, result.Episodes)
	require.NotNil(t, result.Response)
	assert.Equal(t, 3, result.Response.Added.Episodes)

	var req trakt.SyncRequest
	require.NoError(t, json.Unmarshal([]byte(e.log.lastBody("/sync/history")), &req))
	require.Len(t, req.Movies, 1)
	assert.Equal(t, int64(603), req.Movies[0].IDs.TMDB)
	require.Len(t, req.Shows, 1)
	require.Len(t, req.Shows[0].Seasons, 2)
	assert.Equal(t, 1, req.Shows[0].Seasons[0].Number)
	assert.Equal(t, []int{1, 2}, []int{req.Shows[0].Seasons[0].Episodes[0].Number, req.Shows[0].Seasons[0].Episodes[1].Number})

	movies, err := e.db.GetUnsyncedMovies(ctx)
	require.NoError(t, err)
	assert.Empty(t, movies)
	episodes, err := e.db.GetUnsyncedEpisodes(ctx)
	require.NoError(t, err)
	assert.Empty(t, episodes)

	lastAutoSync, err := e.session.Time(ctx, session.KeyLastAutoSync)
	require.NoError(t, err)
	assert.False(t, lastAutoSync.IsZero())

	// synced items are excluded from the next run
	_, err = auto.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, e.log.count(http.MethodPost, "/sync/history"))
}

func TestAutoSyncFailureKeepsItemsPending(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	e := newEnv(t, true, func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"added":{"movies":1,"episodes":3}}`))
	})
	seedWatched(t, e.db)
	ctx := context.Background()
	auto := NewAutoSyncer(e.client, e.db, e.session)

	_, err := auto.Run(ctx)
	require.Error(t, err)
	assert.Zero(t, e.db.CallCount("MarkSynced"))

	movies, err := e.db.GetUnsyncedMovies(ctx)
	require.NoError(t, err)
	assert.Len(t, movies, 1)

	fail.Store(false)
	result, err := auto.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Movies)
	assert.Equal(t, 3, result.Episodes)
	assert.Equal(t, 2, e.log.count(http.MethodPost, "/sync/history"))
	assert.Equal(t, 1, e.db.CallCount("MarkSynced"))

	runs, err := e.db.GetSyncRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	failed := 0
	for _, run := range runs {
		if !run.Succeeded() {
			failed++
		}
	}
	assert.Equal(t, 1, failed)
}

func TestAutoSyncKeepsItemWatchedDuringRequest(t *testing.T) {
	rewatchedAt := time.Date(2024, 6, 1, 21, 0, 0, 0, time.UTC)
	var e *env
	e = newEnv(t, true, func(w http.ResponseWriter, r *http.Request) {
		if e.log.count(http.MethodPost, "/sync/history") == 1 {
			assert.NoError(t, e.db.SaveMedia(context.Background(), &database.SavedMedia{
				TMDBID: 603, Kind: media.KindMovie, Title: "The Matrix", Watched: true, WatchedAt: &rewatchedAt,
			}))
		}
		_, _ = w.Write([]byte(`{"added":{"movies":1,"episodes":3}}`))
	})
	seedWatched(t, e.db)
	ctx := context.Background()
	auto := NewAutoSyncer(e.client, e.db, e.session)

	result, err := auto.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Movies)
	assert.Equal(t, 3, result.Marked)

	movies, err := e.db.GetUnsyncedMovies(ctx)
	require.NoError(t, err)
	require.Len(t, movies, 1)
	require.NotNil(t, movies[0].WatchedAt)
	assert.True(t, rewatchedAt.Equal(*movies[0].WatchedAt))

	// the new watch goes out on the next run
	result, err = auto.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Movies)
	assert.Equal(t, 1, result.Marked)

	var req trakt.SyncRequest
	require.NoError(t, json.Unmarshal([]byte(e.log.lastBody("/sync/history")), &req))
	require.Len(t, req.Movies, 1)
	require.NotNil(t, req.Movies[0].WatchedAt)
	assert.True(t, rewatchedAt.Equal(*req.Movies[0].WatchedAt))
}

func TestAutoSyncNothingPending(t *testing.T) {
	e := newEnv(t, true, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %s", r.URL.Path)
	})

	result, err := NewAutoSyncer(e.client, e.db, e.session).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Movies)
	assert.Zero(t, result.Episodes)
}

func TestAutoSyncMarkFailure(t *testing.T) {
	e := newEnv(t, true, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})
	seedWatched(t, e.db)
	e.db.MarkSyncedError = mock.ErrMock

	_, err := NewAutoSyncer(e.client, e.db, e.session).Run(context.Background())
	assert.ErrorIs(t, err, mock.ErrMock)
}
