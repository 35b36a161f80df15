package traktsync

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/charmbracelet/log"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/wirelessalien/moviesync/internal/database"
	"github.com/wirelessalien/moviesync/internal/session"
	"github.com/wirelessalien/moviesync/internal/trakt"
)

const historyEndpoint = "/sync/history"

// LibraryStore is the storage the auto sync reads pending items from.
type LibraryStore interface {
	GetUnsyncedMovies(ctx context.Context) ([]database.SavedMedia, error)
	GetUnsyncedEpisodes(ctx context.Context) ([]database.WatchedEpisode, error)
	MarkSynced(ctx context.Context, movies []database.SavedMedia, episodes []database.WatchedEpisode, at time.Time) (int64, error)
	SaveSyncRun(ctx context.Context, run *database.SyncRun) error
}

// AutoSyncResult summarizes an auto sync run.
type AutoSyncResult struct {
	Movies   int
	Episodes int
	// Marked counts the items flagged as synced. Items saved again while the
	// request was in flight are not flagged.
	Marked   int
	Response *trakt.SyncResponse
}

// AutoSyncer pushes locally watched items to the trakt history.
type AutoSyncer struct {
	client  *trakt.Client
	db      LibraryStore
	session *session.Store
}

// NewAutoSyncer creates an AutoSyncer.
func NewAutoSyncer(client *trakt.Client, db LibraryStore, sess *session.Store) *AutoSyncer {
	return &AutoSyncer{
		client:  client,
		db:      db,
		session: sess,
	}
}

// Run sends all watched but unsynced items in one history request. Items are
// marked synced only after trakt accepted the request; a failed request leaves
// all of them pending for the next run.
func (a *AutoSyncer) Run(ctx context.Context) (*AutoSyncResult, error) {
	movies, err := a.db.GetUnsyncedMovies(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get unsynced movies: %w", err)
	}
	episodes, err := a.db.GetUnsyncedEpisodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get unsynced episodes: %w", err)
	}

	result := &AutoSyncResult{Movies: len(movies), Episodes: len(episodes)}
	if len(movies) == 0 && len(episodes) == 0 {
		log.Debug("Nothing to auto sync")
		return result, nil
	}

	run := &database.SyncRun{
		UUID:      uuid.NewString(),
		Kind:      "autosync",
		Category:  string(CategoryHistory),
		StartedAt: time.Now().UTC(),
		Items:     len(movies) + len(episodes),
	}
	defer func() {
		run.FinishedAt = time.Now().UTC()
		if err := a.db.SaveSyncRun(context.WithoutCancel(ctx), run); err != nil {
			log.Warn("Failed to record auto sync run", "error", err)
		}
	}()

	log.Info("Auto syncing watched items", "movies", len(movies), "episodes", len(episodes))

	var res trakt.Result
	select {
	case res = <-a.client.PostAsync(ctx, historyEndpoint, buildHistoryRequest(movies, episodes)):
	case <-ctx.Done():
		run.Error = ctx.Err().Error()
		return result, ctx.Err()
	}
	if res.Err != nil {
		run.Error = res.Err.Error()
		log.Error("Failed to post history, items stay pending", "error", res.Err)
		return result, fmt.Errorf("failed to post history: %w", res.Err)
	}

	var resp trakt.SyncResponse
	if err := json.Unmarshal(res.Body, &resp); err != nil {
		log.Warn("Failed to decode history response", "error", err)
	} else {
		result.Response = &resp
		if n := len(resp.NotFound.Movies) + len(resp.NotFound.Shows); n > 0 {
			log.Warn("Trakt did not recognize some items", "count", n)
		}
	}

	now := time.Now().UTC()
	marked, err := a.db.MarkSynced(context.WithoutCancel(ctx), movies, episodes, now)
	if err != nil {
		run.Error = err.Error()
		return result, fmt.Errorf("failed to mark items synced: %w", err)
	}
	result.Marked = int(marked)
	if skipped := len(movies) + len(episodes) - result.Marked; skipped > 0 {
		log.Info("Items changed while syncing, they stay pending", "count", skipped)
	}
	if err := a.session.SetTime(ctx, session.KeyLastAutoSync, now); err != nil {
		log.Warn("Failed to store last auto sync time", "error", err)
	}

	log.Info("Auto sync finished", "movies", len(movies), "episodes", len(episodes))
	return result, nil
}

// buildHistoryRequest groups episodes by show and season.
func buildHistoryRequest(movies []database.SavedMedia, episodes []database.WatchedEpisode) trakt.SyncRequest {
	var req trakt.SyncRequest
	for _, m := range movies {
		req.Movies = append(req.Movies, trakt.HistoryMovie{
			WatchedAt: utcPtr(m.WatchedAt),
			IDs:       trakt.IDs{TMDB: m.TMDBID},
		})
	}

	byShow := lo.GroupBy(episodes, func(e database.WatchedEpisode) int64 { return e.ShowTMDBID })
	showIDs := lo.Keys(byShow)
	slices.Sort(showIDs)
	for _, showID := range showIDs {
		bySeason := lo.GroupBy(byShow[showID], func(e database.WatchedEpisode) int { return e.Season })
		seasonNumbers := lo.Keys(bySeason)
		slices.Sort(seasonNumbers)

		show := trakt.HistoryShow{IDs: trakt.IDs{TMDB: showID}}
		for _, number := range seasonNumbers {
			eps := bySeason[number]
			slices.SortFunc(eps, func(a, b database.WatchedEpisode) int { return cmp.Compare(a.Number, b.Number) })
			season := trakt.HistorySeason{Number: number}
			for _, e := range eps {
				watchedAt := e.WatchedAt
				season.Episodes = append(season.Episodes, trakt.HistoryEpisode{
					Number:    e.Number,
					WatchedAt: utcPtr(&watchedAt),
				})
			}
			show.Seasons = append(show.Seasons, season)
		}
		req.Shows = append(req.Shows, show)
	}
	return req
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	utc := t.UTC()
	return &utc
}
