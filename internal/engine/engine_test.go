package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wirelessalien/moviesync/internal/config"
	"github.com/wirelessalien/moviesync/internal/database"
	"github.com/wirelessalien/moviesync/internal/database/mock"
	"github.com/wirelessalien/moviesync/internal/fetcher"
	"github.com/wirelessalien/moviesync/internal/media"
	"github.com/wirelessalien/moviesync/internal/scheduler"
	"github.com/wirelessalien/moviesync/internal/session"
	"github.com/wirelessalien/moviesync/internal/trakt"
)

func testConfig(t *testing.T, tmdbURL, traktURL string) *config.Config {
	t.Helper()
	return &config.Config{
		Listen:   "127.0.0.1:0",
		APIKey:   "secret",
		API:      &config.APIConfig{Enabled: true},
		Database: &config.DatabaseConfig{Dir: t.TempDir()},
		TMDB:     &config.TMDBConfig{URL: tmdbURL, AccessToken: "tmdb-token", Language: "en-US", Timeout: 5 * time.Second},
		Trakt: &config.TraktConfig{
			URL:          traktURL,
			ClientID:     "client-id",
			ClientSecret: "client-secret",
			SyncStrategy: config.SyncStrategyReplace,
			Timeout:      5 * time.Second,
			RateLimit:    &config.RateLimitConfig{Permits: 100, Period: time.Second},
		},
		RateLimit: &config.RateLimitConfig{Permits: 100, Period: time.Second},
		Fetch:     &config.FetchConfig{Workers: 2},
		Schedule: &config.ScheduleConfig{
			Sync:      "0 0 1 1 *",
			AutoSync:  "0 0 1 1 *",
			Fetch:     "0 0 1 1 *",
			Calendar:  "0 0 1 1 *",
			Reminders: "0 0 1 1 *",
		},
		Calendar:  &config.CalendarConfig{Days: 7},
		Cache:     &config.CacheConfig{Type: config.CacheTypeMemory, TTL: time.Hour},
		Reminders: &config.RemindersConfig{Enabled: false, LeadTime: 24 * time.Hour},
		Email:     &config.EmailConfig{Enabled: false},
		Ntfy:      &config.NtfyConfig{Enabled: false},
	}
}

func newTestEngine(t *testing.T, cfg *config.Config, db database.DB) *Engine {
	t.Helper()
	e, err := New(cfg, db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestJobsRegistered(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1", "http://127.0.0.1:1")
	e := newTestEngine(t, cfg, mock.NewMockDB())
	assert.Equal(t, []string{JobCalendarRefresh, JobDetailsFetch, JobTraktAutoSync, JobTraktSync}, e.GetScheduler().JobIDs())

	job, ok := e.GetScheduler().GetJob(JobTraktSync)
	require.True(t, ok)
	assert.True(t, job.Singleton)
	assert.True(t, job.InstantAfterStart)

	cfg.Reminders.Enabled = true
	e = newTestEngine(t, cfg, mock.NewMockDB())
	assert.Contains(t, e.GetScheduler().JobIDs(), JobReminders)
}

func TestInitialSyncNotRepeated(t *testing.T) {
	db := mock.NewMockDB()
	require.NoError(t, session.New(db).SetBool(context.Background(), session.KeyInitialSyncDone, true))

	e := newTestEngine(t, testConfig(t, "http://127.0.0.1:1", "http://127.0.0.1:1"), db)
	job, ok := e.GetScheduler().GetJob(JobTraktSync)
	require.True(t, ok)
	assert.False(t, job.InstantAfterStart)
}

func TestInvalidScheduleFails(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1", "http://127.0.0.1:1")
	cfg.Schedule.Fetch = "every day"
	_, err := New(cfg, mock.NewMockDB())
	assert.ErrorContains(t, err, "details_fetch")
}

func TestSendRemindersDisabled(t *testing.T) {
	e := newTestEngine(t, testConfig(t, "http://127.0.0.1:1", "http://127.0.0.1:1"), mock.NewMockDB())
	_, err := e.SendReminders(context.Background())
	assert.ErrorIs(t, err, ErrRemindersDisabled)
}

func TestTraktSyncJobRequiresAccount(t *testing.T) {
	e := newTestEngine(t, testConfig(t, "http://127.0.0.1:1", "http://127.0.0.1:1"), mock.NewMockDB())
	assert.ErrorIs(t, e.runTraktSyncJob(context.Background()), trakt.ErrNotAuthenticated)
	assert.NoError(t, e.runAutoSyncJob(context.Background()))
}

func TestFetchMissingStoresLastFetch(t *testing.T) {
	var hits atomic.Int32
	tmdbSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":603,"title":"The Matrix","overview":"","release_date":"1999-03-30","genres":[{"id":28,"name":"Action"}]}`))
	}))
	defer tmdbSrv.Close()

	db := mock.NewMockDB()
	require.NoError(t, db.SaveMedia(context.Background(), &database.SavedMedia{TMDBID: 603, Kind: media.KindMovie, Title: "The Matrix"}))

	e := newTestEngine(t, testConfig(t, tmdbSrv.URL, "http://127.0.0.1:1"), db)
	result, err := e.FetchMissing(context.Background(), fetcher.Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Fetched)
	assert.EqualValues(t, 1, hits.Load())

	last, err := e.Session().Time(context.Background(), session.KeyLastFetch)
	require.NoError(t, err)
	assert.False(t, last.IsZero())

	details, err := e.Details(context.Background(), media.TMDB(media.KindMovie, 603), false)
	require.NoError(t, err)
	assert.Equal(t, "The Matrix", details.Name)
	assert.EqualValues(t, 1, hits.Load())
}

func TestCalendarJobRunsThroughScheduler(t *testing.T) {
	var hits atomic.Int32
	traktSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer traktSrv.Close()

	e := newTestEngine(t, testConfig(t, "http://127.0.0.1:1", traktSrv.URL), mock.NewMockDB())
	e.GetScheduler().Start()

	require.NoError(t, e.GetScheduler().RunJobNow(JobCalendarRefresh))
	assert.Eventually(t, func() bool {
		job, _ := e.GetScheduler().GetJob(JobCalendarRefresh)
		return job.Status == scheduler.JobStatusFailed || job.Status == scheduler.JobStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	// without a linked account only the two global endpoints are reachable
	job, _ := e.GetScheduler().GetJob(JobCalendarRefresh)
	assert.Equal(t, scheduler.JobStatusFailed, job.Status)
	assert.EqualValues(t, 2, hits.Load())
}

func TestStats(t *testing.T) {
	db := mock.NewMockDB()
	e := newTestEngine(t, testConfig(t, "http://127.0.0.1:1", "http://127.0.0.1:1"), db)

	stats, err := e.Stats(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, stats.Database)
	assert.Len(t, stats.Cache, 2)
	assert.False(t, stats.Authenticated)
	assert.Equal(t, 100, stats.TMDBAvailable)
	assert.Contains(t, stats.LastRuns, "sync")
	assert.Nil(t, stats.LastRuns["sync"])

	db.StatsError = mock.ErrMock
	_, err = e.Stats(context.Background())
	assert.ErrorIs(t, err, mock.ErrMock)
}
