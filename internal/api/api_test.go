package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/wirelessalien/moviesync/internal/api/auth"
	"github.com/wirelessalien/moviesync/internal/calendar"
	"github.com/wirelessalien/moviesync/internal/config"
	"github.com/wirelessalien/moviesync/internal/database"
	"github.com/wirelessalien/moviesync/internal/database/mock"
	"github.com/wirelessalien/moviesync/internal/engine"
	"github.com/wirelessalien/moviesync/internal/media"
)

const apiKey = "secret"

type APITestSuite struct {
	suite.Suite
	tmdb   *httptest.Server
	db     *mock.MockDB
	engine *engine.Engine
	server *Server
}

func TestAPITestSuite(t *testing.T) {
	suite.Run(t, new(APITestSuite))
}

func (s *APITestSuite) SetupTest() {
	gin.SetMode(gin.TestMode)

	s.tmdb = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/movie/603":
			_, _ = w.Write([]byte(`{"id":603,"title":"The Matrix","release_date":"1999-03-30","genres":[{"id":28,"name":"Action"}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"status_code":34,"status_message":"The resource you requested could not be found."}`))
		}
	}))

	cfg := &config.Config{
		Listen:   "127.0.0.1:0",
		APIKey:   apiKey,
		API:      &config.APIConfig{Enabled: true},
		Database: &config.DatabaseConfig{Dir: s.T().TempDir()},
		TMDB:     &config.TMDBConfig{URL: s.tmdb.URL, AccessToken: "tmdb-token", Timeout: 5 * time.Second},
		Trakt: &config.TraktConfig{
			URL:          "http://127.0.0.1:1",
			ClientID:     "client-id",
			ClientSecret: "client-secret",
			Timeout:      time.Second,
			RateLimit:    &config.RateLimitConfig{Permits: 100, Period: time.Second},
		},
		RateLimit: &config.RateLimitConfig{Permits: 100, Period: time.Second},
		Schedule: &config.ScheduleConfig{
			Sync:      "0 0 1 1 *",
			AutoSync:  "0 0 1 1 *",
			Fetch:     "0 0 1 1 *",
			Calendar:  "0 0 1 1 *",
			Reminders: "0 0 1 1 *",
		},
		Cache: &config.CacheConfig{Type: config.CacheTypeMemory, TTL: time.Hour},
	}

	s.db = mock.NewMockDB()
	var err error
	s.engine, err = engine.New(cfg, s.db)
	s.Require().NoError(err)
	s.server, err = New(cfg, s.engine, false)
	s.Require().NoError(err)
}

func (s *APITestSuite) TearDownTest() {
	_ = s.engine.Close()
	s.tmdb.Close()
}

func (s *APITestSuite) do(method, path string, withKey bool, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if withKey {
		req.Header.Set(auth.HeaderAPIKey, apiKey)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.server.Handler().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func (s *APITestSuite) TestHealthIsPublic() {
	w := s.do(http.MethodGet, "/health", false)
	s.Equal(http.StatusOK, w.Code)
	s.Equal("ok", decodeBody(s.T(), w)["status"])
}

func (s *APITestSuite) TestAPIRequiresKey() {
	for _, path := range []string{"/api/jobs", "/api/stats", "/api/calendar", "/api/details/movie/603"} {
		w := s.do(http.MethodGet, path, false)
		s.Equal(http.StatusUnauthorized, w.Code, path)
	}
}

func (s *APITestSuite) TestGetJobs() {
	w := s.do(http.MethodGet, "/api/jobs", true)
	s.Require().Equal(http.StatusOK, w.Code)

	jobs, ok := decodeBody(s.T(), w)["jobs"].([]any)
	s.Require().True(ok)
	s.Require().Len(jobs, 4)
	s.Equal(engine.JobCalendarRefresh, jobs[0].(map[string]any)["id"])
}

func (s *APITestSuite) TestRunJob() {
	s.engine.GetScheduler().Start()

	w := s.do(http.MethodPost, "/api/jobs/"+engine.JobDetailsFetch+"/run", true)
	s.Equal(http.StatusAccepted, w.Code)

	s.Eventually(func() bool {
		job, _ := s.engine.GetScheduler().GetJob(engine.JobDetailsFetch)
		return job.RunCount == 1
	}, 5*time.Second, 10*time.Millisecond)

	w = s.do(http.MethodPost, "/api/jobs/unknown/run", true)
	s.Equal(http.StatusNotFound, w.Code)
}

func (s *APITestSuite) TestGetStats() {
	w := s.do(http.MethodGet, "/api/stats", true)
	s.Require().Equal(http.StatusOK, w.Code)

	body := decodeBody(s.T(), w)
	s.Contains(body["tables"], "saved_media")
	s.Equal(false, body["authenticated"])
	s.Equal("never", body["lastRuns"].(map[string]any)["sync"])
}

func (s *APITestSuite) TestGetCalendar() {
	airsAt := time.Now().UTC().Add(48 * time.Hour)
	s.Require().NoError(s.db.ReplaceCalendarEntries(context.Background(), calendar.ScopeMy, media.KindEpisode, []database.CalendarEntry{
		{AirsAt: airsAt, Title: "Severance", TraktID: 1, Season: 2, Number: 1},
	}))
	s.Require().NoError(s.db.ReplaceCalendarEntries(context.Background(), calendar.ScopeGlobal, media.KindMovie, []database.CalendarEntry{
		{AirsAt: airsAt, Title: "Dune", TraktID: 2},
	}))

	w := s.do(http.MethodGet, "/api/calendar?scope=my", true)
	s.Require().Equal(http.StatusOK, w.Code)
	releases := decodeBody(s.T(), w)["releases"].([]any)
	s.Require().Len(releases, 1)
	s.Equal("Severance", releases[0].(map[string]any)["title"])

	w = s.do(http.MethodGet, "/api/calendar", true)
	s.Require().Equal(http.StatusOK, w.Code)
	s.Len(decodeBody(s.T(), w)["releases"], 2)

	w = s.do(http.MethodGet, "/api/calendar?scope=friends", true)
	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *APITestSuite) TestGetDetails() {
	w := s.do(http.MethodGet, "/api/details/movie/603", true)
	s.Require().Equal(http.StatusOK, w.Code)
	details := decodeBody(s.T(), w)["details"].(map[string]any)
	s.Equal("The Matrix", details["name"])
	s.Equal(1, s.db.CallCount("UpsertDetails"))

	w = s.do(http.MethodGet, "/api/details/tv/404", true)
	s.Equal(http.StatusNotFound, w.Code)

	w = s.do(http.MethodGet, "/api/details/album/1", true)
	s.Equal(http.StatusBadRequest, w.Code)

	w = s.do(http.MethodGet, "/api/details/movie/abc", true)
	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *APITestSuite) TestResponsesAreCompressed() {
	w := s.do(http.MethodGet, "/api/jobs", true, "Accept-Encoding", "gzip")
	s.Equal(http.StatusOK, w.Code)
	s.Equal("gzip", w.Header().Get("Content-Encoding"))
}

func (s *APITestSuite) TestClearCache() {
	w := s.do(http.MethodDelete, "/api/cache", true)
	s.Equal(http.StatusOK, w.Code)
}

func TestNewRequiresEngine(t *testing.T) {
	_, err := New(&config.Config{}, nil, false)
	assert.Error(t, err)
	_, err = New(nil, nil, false)
	assert.Error(t, err)
}
