// Package fetcher fills the local details cache with TMDB metadata for every
// movie and show the library or the trakt mirror references.
package fetcher

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/samber/lo"
	"github.com/wirelessalien/moviesync/internal/database"
	"github.com/wirelessalien/moviesync/internal/media"
	"github.com/wirelessalien/moviesync/internal/tmdb"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const defaultWorkers = 4

// DetailSource fetches remote metadata.
type DetailSource interface {
	Details(ctx context.Context, id media.Identifier, opts ...tmdb.RequestOption) (*tmdb.Details, error)
}

// Store is the storage the fetcher reads identifiers from and writes details to.
type Store interface {
	GetLibraryIdentifiers(ctx context.Context) ([]media.Identifier, error)
	GetMirroredIdentifiers(ctx context.Context) ([]media.Identifier, error)
	GetDetails(ctx context.Context, id media.Identifier) (*database.Details, error)
	HasDetails(ctx context.Context, id media.Identifier) (bool, error)
	UpsertDetails(ctx context.Context, d *database.Details) error
}

// Options control a fetch pass.
type Options struct {
	// Force refetches identifiers that are already cached.
	Force bool
	// Kinds limits the pass to the given kinds. Empty means movies and shows.
	Kinds []media.Kind
}

// Result summarizes a fetch pass.
type Result struct {
	Requested int
	Fetched   int
	Skipped   int
	Failed    []media.Identifier
}

// Fetcher is the detail fetcher.
type Fetcher struct {
	db      Store
	source  DetailSource
	workers int
}

// New creates a Fetcher running at most workers fetches at once.
func New(db Store, source DetailSource, workers int) *Fetcher {
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Fetcher{
		db:      db,
		source:  source,
		workers: workers,
	}
}

// FetchMissing fetches and stores the details of every known identifier that is not cached yet.
// A failing identifier is recorded in the result and retried on the next pass.
func (f *Fetcher) FetchMissing(ctx context.Context, opts Options) (*Result, error) {
	ids, err := f.identifiers(ctx, opts.Kinds)
	if err != nil {
		return nil, err
	}

	result := &Result{Requested: len(ids)}
	if len(ids) == 0 {
		log.Debug("No identifiers to fetch details for")
		return result, nil
	}
	log.Info("Fetching details", "identifiers", len(ids), "force", opts.Force, "workers", f.workers)

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(f.workers)
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			fetched, err := f.fetch(ctx, id, opts.Force)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				log.Warn("Failed to fetch details", "id", id, "error", err)
				result.Failed = append(result.Failed, id)
			case fetched:
				result.Fetched++
			default:
				result.Skipped++
			}
			return nil
		})
	}
	_ = g.Wait()

	slices.SortFunc(result.Failed, compareIdentifiers)
	log.Info("Finished fetching details",
		"requested", result.Requested,
		"fetched", result.Fetched,
		"skipped", result.Skipped,
		"failed", len(result.Failed),
	)
	return result, ctx.Err()
}

// FetchOne returns the cached details of id, fetching them first if they are missing or force is set.
func (f *Fetcher) FetchOne(ctx context.Context, id media.Identifier, force bool) (*database.Details, error) {
	if !id.Valid() {
		return nil, fmt.Errorf("invalid identifier %s", id)
	}
	if !force {
		d, err := f.db.GetDetails(ctx, id)
		if err == nil {
			return d, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	if _, err := f.fetch(ctx, id, force); err != nil {
		return nil, err
	}
	return f.db.GetDetails(ctx, id)
}

// fetch reports whether a request was made. Cached identifiers are skipped unless force is set,
// in which case the response cache of the source is bypassed too.
func (f *Fetcher) fetch(ctx context.Context, id media.Identifier, force bool) (bool, error) {
	var opts []tmdb.RequestOption
	if force {
		opts = append(opts, tmdb.WithoutCache())
	} else {
		cached, err := f.db.HasDetails(ctx, id)
		if err != nil {
			return false, fmt.Errorf("failed to check cache: %w", err)
		}
		if cached {
			return false, nil
		}
	}

	d, err := f.source.Details(ctx, id, opts...)
	if err != nil {
		return false, err
	}
	if err := f.db.UpsertDetails(ctx, toRecord(d, time.Now().UTC())); err != nil {
		return false, fmt.Errorf("failed to store details: %w", err)
	}
	log.Debug("Fetched details", "id", id, "name", d.Name)
	return true, nil
}

func (f *Fetcher) identifiers(ctx context.Context, kinds []media.Kind) ([]media.Identifier, error) {
	library, err := f.db.GetLibraryIdentifiers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get library identifiers: %w", err)
	}
	mirrored, err := f.db.GetMirroredIdentifiers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get mirrored identifiers: %w", err)
	}

	if len(kinds) == 0 {
		kinds = []media.Kind{media.KindMovie, media.KindShow}
	}
	ids := lo.Filter(lo.Uniq(append(library, mirrored...)), func(id media.Identifier, _ int) bool {
		return id.Source == media.SourceTMDB && id.Valid() && lo.Contains(kinds, id.Kind)
	})
	slices.SortFunc(ids, compareIdentifiers)
	return ids, nil
}

func compareIdentifiers(a, b media.Identifier) int {
	return cmp.Or(
		cmp.Compare(a.Kind, b.Kind),
		cmp.Compare(a.ID, b.ID),
	)
}

func toRecord(d *tmdb.Details, fetchedAt time.Time) *database.Details {
	return &database.Details{
		Source:       d.Identifier.Source,
		Kind:         d.Identifier.Kind,
		RemoteID:     d.Identifier.ID,
		Name:         d.Name,
		Overview:     d.Overview,
		PosterPath:   d.PosterPath,
		BackdropPath: d.BackdropPath,
		VoteAverage:  d.VoteAverage,
		ReleaseDate:  d.ReleaseDate,
		GenreIDs:     d.GenreIDs,
		Seasons:      d.Seasons,
		FetchedAt:    fetchedAt,
	}
}
