// Package calendar mirrors the upcoming trakt releases into the local database.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jonboulle/clockwork"
	"github.com/wirelessalien/moviesync/internal/database"
	"github.com/wirelessalien/moviesync/internal/media"
	"github.com/wirelessalien/moviesync/internal/session"
	"github.com/wirelessalien/moviesync/internal/trakt"
)

// Calendar scopes.
const (
	// ScopeGlobal holds the releases of all shows and movies.
	ScopeGlobal = "global"
	// ScopeMy holds the releases of the shows and movies the user follows.
	ScopeMy = "my"
)

const defaultDays = 7

// Store is the storage the calendar is mirrored into.
type Store interface {
	ReplaceCalendarEntries(ctx context.Context, scope string, kind media.Kind, entries []database.CalendarEntry) error
	GetCalendarEntries(ctx context.Context, scope string, from, to time.Time) ([]database.CalendarEntry, error)
}

type endpoint struct {
	scope string
	kind  media.Kind
}

func (e endpoint) path(start time.Time, days int) string {
	remote := "all"
	if e.scope == ScopeMy {
		remote = "my"
	}
	typ := "movies"
	if e.kind == media.KindEpisode {
		typ = "shows"
	}
	return fmt.Sprintf("/calendars/%s/%s/%s/%d", remote, typ, start.Format(time.DateOnly), days)
}

var endpoints = []endpoint{
	{scope: ScopeGlobal, kind: media.KindEpisode},
	{scope: ScopeGlobal, kind: media.KindMovie},
	{scope: ScopeMy, kind: media.KindEpisode},
	{scope: ScopeMy, kind: media.KindMovie},
}

// Result is the outcome of one calendar endpoint.
type Result struct {
	Scope   string
	Kind    media.Kind
	Entries int
	Err     error
}

// Report summarizes a refresh.
type Report struct {
	Start   time.Time
	Days    int
	Results []Result
}

// Err joins the errors of the failed endpoints.
func (r *Report) Err() error {
	var errs []error
	for _, res := range r.Results {
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("%s/%s: %w", res.Scope, res.Kind, res.Err))
		}
	}
	return errors.Join(errs...)
}

// Worker refreshes the calendar mirror.
type Worker struct {
	db      Store
	client  *trakt.Client
	session *session.Store
	clock   clockwork.Clock
	days    int
}

// New creates a calendar worker covering days days starting today.
func New(db Store, client *trakt.Client, sess *session.Store, clock clockwork.Clock, days int) *Worker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if days <= 0 {
		days = defaultDays
	}
	return &Worker{
		db:      db,
		client:  client,
		session: sess,
		clock:   clock,
		days:    days,
	}
}

// Run refreshes every scope and type. Each endpoint replaces only its own rows,
// and a failing endpoint does not affect the others.
func (w *Worker) Run(ctx context.Context) (*Report, error) {
	start := w.today()
	report := &Report{Start: start, Days: w.days}
	log.Info("Refreshing calendar", "start", start.Format(time.DateOnly), "days", w.days)

	for _, ep := range endpoints {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		n, err := w.refresh(ctx, ep, start)
		if err != nil {
			log.Error("Failed to refresh calendar", "scope", ep.scope, "kind", ep.kind, "error", err)
		}
		report.Results = append(report.Results, Result{Scope: ep.scope, Kind: ep.kind, Entries: n, Err: err})
	}

	if err := report.Err(); err != nil {
		return report, err
	}
	if w.session != nil {
		if err := w.session.SetTime(ctx, session.KeyLastCalendarSync, w.clock.Now()); err != nil {
			log.Warn("Failed to store last calendar sync time", "error", err)
		}
	}
	return report, nil
}

func (w *Worker) refresh(ctx context.Context, ep endpoint, start time.Time) (int, error) {
	path := ep.path(start, w.days)

	var entries []database.CalendarEntry
	switch ep.kind {
	case media.KindEpisode:
		var shows []trakt.CalendarShow
		if err := w.get(ctx, ep, path, &shows); err != nil {
			return 0, err
		}
		entries = showEntries(shows)
	default:
		var movies []trakt.CalendarMovie
		if err := w.get(ctx, ep, path, &movies); err != nil {
			return 0, err
		}
		entries = movieEntries(movies)
	}

	if err := w.db.ReplaceCalendarEntries(ctx, ep.scope, ep.kind, entries); err != nil {
		return 0, fmt.Errorf("failed to store calendar: %w", err)
	}
	log.Debug("Refreshed calendar", "scope", ep.scope, "kind", ep.kind, "entries", len(entries))
	return len(entries), nil
}

func (w *Worker) get(ctx context.Context, ep endpoint, path string, out any) error {
	if ep.scope == ScopeGlobal {
		return w.client.GetPublic(ctx, path, out)
	}
	return w.client.Get(ctx, path, out)
}

// Upcoming returns the entries of scope airing from now until now+within. An empty scope returns all scopes.
func (w *Worker) Upcoming(ctx context.Context, scope string, within time.Duration) ([]database.CalendarEntry, error) {
	now := w.clock.Now().UTC()
	return w.db.GetCalendarEntries(ctx, scope, now, now.Add(within))
}

func (w *Worker) today() time.Time {
	now := w.clock.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

func showEntries(shows []trakt.CalendarShow) []database.CalendarEntry {
	entries := make([]database.CalendarEntry, 0, len(shows))
	for _, s := range shows {
		entries = append(entries, database.CalendarEntry{
			Type:           media.KindEpisode,
			AirsAt:         s.FirstAired.UTC(),
			Title:          s.Show.Title,
			Year:           s.Show.Year,
			TraktID:        s.Show.IDs.Trakt,
			TMDBID:         s.Show.IDs.TMDB,
			Season:         s.Episode.Season,
			Number:         s.Episode.Number,
			EpisodeTitle:   s.Episode.Title,
			EpisodeTraktID: s.Episode.IDs.Trakt,
		})
	}
	return entries
}

func movieEntries(movies []trakt.CalendarMovie) []database.CalendarEntry {
	entries := make([]database.CalendarEntry, 0, len(movies))
	for _, m := range movies {
		released, err := time.Parse(time.DateOnly, m.Released)
		if err != nil {
			log.Warn("Skipping calendar movie with invalid release date", "title", m.Movie.Title, "released", m.Released)
			continue
		}
		entries = append(entries, database.CalendarEntry{
			Type:    media.KindMovie,
			AirsAt:  released,
			Title:   m.Movie.Title,
			Year:    m.Movie.Year,
			TraktID: m.Movie.IDs.Trakt,
			TMDBID:  m.Movie.IDs.TMDB,
		})
	}
	return entries
}
