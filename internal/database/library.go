package database

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/samber/lo"
	"github.com/wirelessalien/moviesync/internal/media"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SavedMedia is a movie or show tracked in the local library.
type SavedMedia struct {
	gorm.Model
	TMDBID    int64      `gorm:"column:tmdb_id;uniqueIndex:idx_saved_media_kind_tmdb;not null"`
	Kind      media.Kind `gorm:"uniqueIndex:idx_saved_media_kind_tmdb;not null"`
	Title     string
	Year      int
	Watched   bool `gorm:"default:false"`
	WatchedAt *time.Time
	Rating    int
	Synced    bool `gorm:"index;default:false"`
	SyncedAt  *time.Time
	// Revision is bumped on every save.
	Revision int64 `gorm:"not null;default:0"`
}

// Identifier returns the tmdb identifier of the item.
func (m SavedMedia) Identifier() media.Identifier {
	return media.TMDB(m.Kind, m.TMDBID)
}

// WatchedEpisode is a locally watched episode of a show.
type WatchedEpisode struct {
	gorm.Model
	ShowTMDBID int64 `gorm:"column:show_tmdb_id;uniqueIndex:idx_watched_episode;not null"`
	Season     int   `gorm:"uniqueIndex:idx_watched_episode;not null"`
	Number     int   `gorm:"uniqueIndex:idx_watched_episode;not null"`
	WatchedAt  time.Time
	Synced     bool `gorm:"index;default:false"`
	SyncedAt   *time.Time
	Revision   int64 `gorm:"not null;default:0"`
}

var bumpRevision = clause.Assignment{Column: clause.Column{Name: "revision"}, Value: gorm.Expr("revision + 1")}

// SaveMedia inserts a library item or updates the existing one with the same kind and tmdb id.
// Changing the watch state resets the synced flag.
func (c *Client) SaveMedia(ctx context.Context, m *SavedMedia) error {
	if err := c.library.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "kind"}, {Name: "tmdb_id"}},
		DoUpdates: append(
			clause.AssignmentColumns([]string{"title", "year", "watched", "watched_at", "rating", "synced", "synced_at", "updated_at", "deleted_at"}),
			bumpRevision,
		),
	}).Create(m).Error; err != nil {
		log.Error("failed to save media", "tmdb_id", m.TMDBID, "kind", m.Kind, "error", err)
		return err
	}
	return nil
}

// SaveWatchedEpisode records a watched episode. Watching it again resets the synced flag.
func (c *Client) SaveWatchedEpisode(ctx context.Context, e *WatchedEpisode) error {
	if err := c.library.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "show_tmdb_id"}, {Name: "season"}, {Name: "number"}},
		DoUpdates: append(
			clause.AssignmentColumns([]string{"watched_at", "synced", "synced_at", "updated_at", "deleted_at"}),
			bumpRevision,
		),
	}).Create(e).Error; err != nil {
		log.Error("failed to save watched episode", "show", e.ShowTMDBID, "season", e.Season, "episode", e.Number, "error", err)
		return err
	}
	return nil
}

func (c *Client) GetSavedMedia(ctx context.Context) ([]SavedMedia, error) {
	var items []SavedMedia
	if err := c.library.WithContext(ctx).Order("id").Find(&items).Error; err != nil {
		log.Error("failed to get saved media", "error", err)
		return nil, err
	}
	return items, nil
}

// GetLibraryIdentifiers returns the tmdb identifiers of all saved media and of every show
// with a watched episode.
func (c *Client) GetLibraryIdentifiers(ctx context.Context) ([]media.Identifier, error) {
	items, err := c.GetSavedMedia(ctx)
	if err != nil {
		return nil, err
	}

	var showIDs []int64
	if err := c.library.WithContext(ctx).Model(&WatchedEpisode{}).Distinct().Pluck("show_tmdb_id", &showIDs).Error; err != nil {
		log.Error("failed to get watched show ids", "error", err)
		return nil, err
	}

	ids := lo.Map(items, func(m SavedMedia, _ int) media.Identifier { return m.Identifier() })
	ids = append(ids, lo.Map(showIDs, func(id int64, _ int) media.Identifier { return media.TMDB(media.KindShow, id) })...)
	return lo.Uniq(ids), nil
}

// GetUnsyncedMovies returns watched movies not yet pushed to trakt.
func (c *Client) GetUnsyncedMovies(ctx context.Context) ([]SavedMedia, error) {
	var items []SavedMedia
	if err := c.library.WithContext(ctx).
		Where("kind = ? AND watched = ? AND synced = ?", media.KindMovie, true, false).
		Order("id").
		Find(&items).Error; err != nil {
		log.Error("failed to get unsynced movies", "error", err)
		return nil, err
	}
	return items, nil
}

// GetUnsyncedEpisodes returns watched episodes not yet pushed to trakt.
func (c *Client) GetUnsyncedEpisodes(ctx context.Context) ([]WatchedEpisode, error) {
	var eps []WatchedEpisode
	if err := c.library.WithContext(ctx).
		Where("synced = ?", false).
		Order("show_tmdb_id, season, number").
		Find(&eps).Error; err != nil {
		log.Error("failed to get unsynced episodes", "error", err)
		return nil, err
	}
	return eps, nil
}

// MarkSynced flags the given movies and episodes as pushed in a single transaction.
// A row is only flagged while it still has the revision it was read with, so an item
// saved again in the meantime stays pending. It returns the number of flagged rows.
func (c *Client) MarkSynced(ctx context.Context, movies []SavedMedia, episodes []WatchedEpisode, at time.Time) (int64, error) {
	var marked int64
	err := c.library.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		marked = 0
		for _, m := range movies {
			res := tx.Model(&SavedMedia{}).
				Where("id = ? AND revision = ? AND synced = ?", m.ID, m.Revision, false).
				Updates(map[string]any{"synced": true, "synced_at": at})
			if res.Error != nil {
				return res.Error
			}
			marked += res.RowsAffected
		}
		for _, e := range episodes {
			res := tx.Model(&WatchedEpisode{}).
				Where("id = ? AND revision = ? AND synced = ?", e.ID, e.Revision, false).
				Updates(map[string]any{"synced": true, "synced_at": at})
			if res.Error != nil {
				return res.Error
			}
			marked += res.RowsAffected
		}
		return nil
	})
	if err != nil {
		log.Error("failed to mark items synced", "error", err)
		return 0, err
	}
	return marked, nil
}
