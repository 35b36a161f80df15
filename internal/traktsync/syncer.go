// Package traktsync mirrors a trakt account into the local database and
// pushes locally watched items back to trakt.
package traktsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/wirelessalien/moviesync/internal/config"
	"github.com/wirelessalien/moviesync/internal/database"
	"github.com/wirelessalien/moviesync/internal/session"
	"github.com/wirelessalien/moviesync/internal/trakt"
)

// Category is a trakt sync category.
type Category string

const (
	CategoryCollection Category = "collection"
	CategoryWatched    Category = "watched"
	CategoryHistory    Category = "history"
	CategoryRatings    Category = "ratings"
	CategoryWatchlist  Category = "watchlist"
	CategoryFavorites  Category = "favorites"
)

// Categories lists the categories in the order a sync pass runs them.
var Categories = []Category{
	CategoryCollection,
	CategoryWatched,
	CategoryHistory,
	CategoryRatings,
	CategoryWatchlist,
	CategoryFavorites,
}

// Scopes are the media types every category is fetched for.
var Scopes = []string{"movies", "shows"}

// historyPageSize is the page size for the paginated history endpoints.
const historyPageSize = 1000

// Store is the storage a sync pass writes to.
type Store interface {
	ReplaceSyncRecords(ctx context.Context, category, scope string, records []database.SyncRecord) error
	MergeSyncRecords(ctx context.Context, category, scope string, records []database.SyncRecord) error
	SaveSyncRun(ctx context.Context, run *database.SyncRun) error
}

// CategoryResult is the outcome of one category and scope.
type CategoryResult struct {
	Category Category
	Scope    string
	Items    int
	Err      error
}

// Report summarizes a sync pass.
type Report struct {
	Strategy   config.SyncStrategy
	StartedAt  time.Time
	FinishedAt time.Time
	Results    []CategoryResult
}

// Failed returns the results that ended with an error.
func (r *Report) Failed() []CategoryResult {
	var failed []CategoryResult
	for _, res := range r.Results {
		if res.Err != nil {
			failed = append(failed, res)
		}
	}
	return failed
}

// Err joins the errors of all failed categories.
func (r *Report) Err() error {
	var errs []error
	for _, res := range r.Failed() {
		errs = append(errs, fmt.Errorf("%s/%s: %w", res.Category, res.Scope, res.Err))
	}
	return errors.Join(errs...)
}

// Syncer mirrors the trakt account into the local database.
type Syncer struct {
	client   *trakt.Client
	db       Store
	session  *session.Store
	strategy config.SyncStrategy
}

// New creates a Syncer.
func New(client *trakt.Client, db Store, sess *session.Store, strategy config.SyncStrategy) *Syncer {
	if strategy == "" {
		strategy = config.SyncStrategyReplace
	}
	return &Syncer{
		client:   client,
		db:       db,
		session:  sess,
		strategy: strategy,
	}
}

// SyncAll pulls every category for movies and shows. A failing category is
// logged and recorded in the report; the remaining categories still run.
// The returned error joins all category errors.
func (s *Syncer) SyncAll(ctx context.Context) (*Report, error) {
	report := &Report{
		Strategy:  s.strategy,
		StartedAt: time.Now().UTC(),
	}
	log.Info("Starting trakt sync", "strategy", s.strategy)

	for _, category := range Categories {
		for _, scope := range Scopes {
			if err := ctx.Err(); err != nil {
				report.FinishedAt = time.Now().UTC()
				return report, err
			}

			items, err := s.SyncCategory(ctx, category, scope)
			report.Results = append(report.Results, CategoryResult{
				Category: category,
				Scope:    scope,
				Items:    items,
				Err:      err,
			})
			if errors.Is(err, trakt.ErrNotAuthenticated) {
				report.FinishedAt = time.Now().UTC()
				return report, err
			}
		}
	}
	report.FinishedAt = time.Now().UTC()

	if err := s.session.SetTime(ctx, session.KeyLastSync, report.FinishedAt); err != nil {
		log.Warn("Failed to store last sync time", "error", err)
	}
	if len(report.Failed()) == 0 {
		if err := s.session.SetBool(ctx, session.KeyInitialSyncDone, true); err != nil {
			log.Warn("Failed to store initial sync flag", "error", err)
		}
	}

	log.Info("Finished trakt sync",
		"categories", len(report.Results),
		"failed", len(report.Failed()),
		"duration", report.FinishedAt.Sub(report.StartedAt),
	)
	return report, report.Err()
}

// SyncCategory fetches one category and scope and applies it to the local mirror.
// The response is fully decoded before anything is written.
func (s *Syncer) SyncCategory(ctx context.Context, category Category, scope string) (int, error) {
	run := &database.SyncRun{
		UUID:      uuid.NewString(),
		Kind:      "sync",
		Category:  string(category) + "/" + scope,
		StartedAt: time.Now().UTC(),
	}
	defer func() {
		run.FinishedAt = time.Now().UTC()
		if err := s.db.SaveSyncRun(context.WithoutCancel(ctx), run); err != nil {
			log.Warn("Failed to record sync run", "category", run.Category, "error", err)
		}
	}()

	items, err := s.fetch(ctx, category, scope)
	if err != nil {
		run.Error = err.Error()
		log.Error("Failed to fetch trakt category", "category", category, "scope", scope, "error", err)
		return 0, err
	}

	records := toRecords(category, items)
	switch s.strategy {
	case config.SyncStrategyMerge:
		err = s.db.MergeSyncRecords(ctx, string(category), scope, records)
	default:
		err = s.db.ReplaceSyncRecords(ctx, string(category), scope, records)
	}
	if err != nil {
		run.Error = err.Error()
		log.Error("Failed to store trakt category", "category", category, "scope", scope, "error", err)
		return 0, err
	}

	run.Items = len(records)
	log.Debug("Synced trakt category", "category", category, "scope", scope, "items", len(items), "records", len(records))
	return len(records), nil
}

func (s *Syncer) fetch(ctx context.Context, category Category, scope string) ([]trakt.Item, error) {
	endpoint := fmt.Sprintf("/sync/%s/%s", category, scope)
	if category == CategoryHistory {
		return trakt.GetAll[trakt.Item](ctx, s.client, endpoint, historyPageSize)
	}
	var items []trakt.Item
	if err := s.client.Get(ctx, endpoint, &items); err != nil {
		return nil, err
	}
	return items, nil
}
