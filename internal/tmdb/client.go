// Package tmdb implements the parts of the TMDB v3 API moviesync needs.
package tmdb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"
	"github.com/wirelessalien/moviesync/internal/cache"
	"github.com/wirelessalien/moviesync/internal/config"
	"github.com/wirelessalien/moviesync/internal/media"
)

var (
	// ErrNotFound is returned when TMDB does not know the requested id.
	ErrNotFound = errors.New("tmdb: not found")
	// ErrInvalidDetails is returned when a response lacks required fields.
	ErrInvalidDetails = errors.New("tmdb: invalid details")
)

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API request failed with status %d: %s", e.StatusCode, e.Body)
}

// RequestOption changes how a single request is served.
type RequestOption func(*requestOptions)

type requestOptions struct {
	skipCache bool
}

// WithoutCache always asks TMDB. The fresh response replaces the cached one.
func WithoutCache() RequestOption {
	return func(o *requestOptions) {
		o.skipCache = true
	}
}

func buildOptions(opts []RequestOption) requestOptions {
	var o requestOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Limiter gates outgoing requests.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// Client is a TMDB API client.
type Client struct {
	baseURL  string
	token    string
	language string
	client   *http.Client
	limiter  Limiter
	cache    *cache.APICache
	breaker  *gobreaker.CircuitBreaker[[]byte]
}

// New creates a TMDB client. apiCache may be nil.
func New(cfg *config.TMDBConfig, limiter Limiter, apiCache *cache.APICache) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		baseURL:  cfg.URL,
		token:    cfg.AccessToken,
		language: cfg.Language,
		client: &http.Client{
			Timeout: timeout,
		},
		limiter: limiter,
		cache:   apiCache,
	}
	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "tmdb",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: isBreakerSuccess,
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("Circuit breaker changed state", "name", name, "from", from.String(), "to", to.String())
		},
	})
	return c
}

// isBreakerSuccess treats client side outcomes as healthy so only server and transport
// failures open the circuit.
func isBreakerSuccess(err error) bool {
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode < 500 && apiErr.StatusCode != http.StatusTooManyRequests
	}
	return false
}

// Genre is a TMDB genre.
type Genre struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// MovieDetails is the response of /movie/{id}.
type MovieDetails struct {
	ID            int64   `json:"id"`
	Title         string  `json:"title"`
	OriginalTitle string  `json:"original_title"`
	Overview      string  `json:"overview"`
	PosterPath    string  `json:"poster_path"`
	BackdropPath  string  `json:"backdrop_path"`
	VoteAverage   float64 `json:"vote_average"`
	ReleaseDate   string  `json:"release_date"`
	Runtime       int     `json:"runtime"`
	Status        string  `json:"status"`
	Genres        []Genre `json:"genres"`
}

// ShowDetails is the response of /tv/{id}.
type ShowDetails struct {
	ID               int64               `json:"id"`
	Name             string              `json:"name"`
	OriginalName     string              `json:"original_name"`
	Overview         string              `json:"overview"`
	PosterPath       string              `json:"poster_path"`
	BackdropPath     string              `json:"backdrop_path"`
	VoteAverage      float64             `json:"vote_average"`
	FirstAirDate     string              `json:"first_air_date"`
	Status           string              `json:"status"`
	NumberOfSeasons  int                 `json:"number_of_seasons"`
	NumberOfEpisodes int                 `json:"number_of_episodes"`
	Genres           []Genre             `json:"genres"`
	Seasons          []media.SeasonCount `json:"seasons"`
}

// Details is the normalized metadata of a movie or show.
type Details struct {
	Identifier   media.Identifier
	Name         string
	Overview     string
	PosterPath   string
	BackdropPath string
	VoteAverage  float64
	ReleaseDate  string
	GenreIDs     []int64
	Seasons      media.SeasonEpisodes
}

// MovieDetails fetches the details of a movie.
func (c *Client) MovieDetails(ctx context.Context, id int64, opts ...RequestOption) (*MovieDetails, error) {
	var m MovieDetails
	if err := c.get(ctx, c.movieCache(), "/movie/"+strconv.FormatInt(id, 10), id, buildOptions(opts), &m, func() error {
		if m.ID <= 0 || m.Title == "" {
			return fmt.Errorf("%w: movie %d lacks id or title", ErrInvalidDetails, id)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &m, nil
}

// ShowDetails fetches the details of a show.
func (c *Client) ShowDetails(ctx context.Context, id int64, opts ...RequestOption) (*ShowDetails, error) {
	var s ShowDetails
	if err := c.get(ctx, c.showCache(), "/tv/"+strconv.FormatInt(id, 10), id, buildOptions(opts), &s, func() error {
		if s.ID <= 0 || s.Name == "" {
			return fmt.Errorf("%w: show %d lacks id or name", ErrInvalidDetails, id)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &s, nil
}

// Details fetches the details of a tmdb movie or show identifier.
func (c *Client) Details(ctx context.Context, id media.Identifier, opts ...RequestOption) (*Details, error) {
	if id.Source != media.SourceTMDB {
		return nil, fmt.Errorf("unsupported source %q", id.Source)
	}

	switch id.Kind {
	case media.KindMovie:
		m, err := c.MovieDetails(ctx, id.ID, opts...)
		if err != nil {
			return nil, err
		}
		return &Details{
			Identifier:   id,
			Name:         m.Title,
			Overview:     m.Overview,
			PosterPath:   m.PosterPath,
			BackdropPath: m.BackdropPath,
			VoteAverage:  m.VoteAverage,
			ReleaseDate:  m.ReleaseDate,
			GenreIDs:     genreIDs(m.Genres),
		}, nil
	case media.KindShow:
		s, err := c.ShowDetails(ctx, id.ID, opts...)
		if err != nil {
			return nil, err
		}
		return &Details{
			Identifier:   id,
			Name:         s.Name,
			Overview:     s.Overview,
			PosterPath:   s.PosterPath,
			BackdropPath: s.BackdropPath,
			VoteAverage:  s.VoteAverage,
			ReleaseDate:  s.FirstAirDate,
			GenreIDs:     genreIDs(s.Genres),
			Seasons:      media.FromCounts(s.Seasons),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported kind %q", id.Kind)
	}
}

func genreIDs(genres []Genre) []int64 {
	ids := make([]int64, 0, len(genres))
	for _, g := range genres {
		ids = append(ids, g.ID)
	}
	return ids
}

func (c *Client) movieCache() *cache.PrefixedCache[json.RawMessage] {
	if c.cache == nil {
		return nil
	}
	return c.cache.TMDBMovies
}

func (c *Client) showCache() *cache.PrefixedCache[json.RawMessage] {
	if c.cache == nil {
		return nil
	}
	return c.cache.TMDBShows
}

// get decodes the response of path into out, serving it from cache unless o.skipCache is set.
// validate runs after decoding; only validated bodies are cached.
func (c *Client) get(ctx context.Context, pc *cache.PrefixedCache[json.RawMessage], path string, id int64, o requestOptions, out any, validate func() error) error {
	if pc != nil && !o.skipCache {
		if body, err := pc.Get(ctx, id); err == nil && len(body) > 0 {
			if err := json.Unmarshal(body, out); err == nil && validate() == nil {
				log.Debug("tmdb cache hit", "path", path)
				return nil
			}
		}
	}

	body, err := c.breaker.Execute(func() ([]byte, error) {
		if err := c.limiter.Acquire(ctx); err != nil {
			return nil, err
		}
		return c.doRequest(ctx, path)
	})
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: failed to decode %s: %v", ErrInvalidDetails, path, err)
	}
	if err := validate(); err != nil {
		return err
	}

	if pc != nil {
		if err := pc.Set(ctx, id, json.RawMessage(body)); err != nil {
			log.Warn("failed to cache tmdb response", "path", path, "error", err)
		}
	}
	return nil
}

func (c *Client) doRequest(ctx context.Context, path string) ([]byte, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	if c.language != "" {
		query := u.Query()
		query.Set("language", c.language)
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}
