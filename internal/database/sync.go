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

const batchSize = 200

// SyncRecord mirrors one entry of a remote trakt sync category.
type SyncRecord struct {
	ID         uint       `gorm:"primaryKey"`
	Category   string     `gorm:"uniqueIndex:idx_sync_record_key;index:idx_sync_record_scope;not null"`
	Scope      string     `gorm:"uniqueIndex:idx_sync_record_key;index:idx_sync_record_scope;not null"`
	Key        string     `gorm:"column:record_key;uniqueIndex:idx_sync_record_key;not null"`
	Type       media.Kind `gorm:"not null"`
	Title      string
	Year       int
	TraktID    int64
	TMDBID     int64  `gorm:"column:tmdb_id;index"`
	IMDBID     string `gorm:"column:imdb_id"`
	Slug       string
	ShowTitle  string
	ShowTMDBID int64 `gorm:"column:show_tmdb_id"`
	Season     int
	Number     int
	Rating     int
	Plays      int
	HistoryID  int64
	EventAt    *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// SyncRun records the outcome of one sync step.
type SyncRun struct {
	UUID       string `gorm:"column:uuid;primaryKey"`
	Kind       string `gorm:"index"`
	Category   string
	StartedAt  time.Time `gorm:"index"`
	FinishedAt time.Time
	Items      int
	Error      string
}

// Succeeded reports whether the run finished without error.
func (r SyncRun) Succeeded() bool {
	return r.Error == ""
}

// ReplaceSyncRecords deletes all rows of category and scope and inserts records, in one transaction.
func (c *Client) ReplaceSyncRecords(ctx context.Context, category, scope string, records []SyncRecord) error {
	return c.trakt.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("category = ? AND scope = ?", category, scope).Delete(&SyncRecord{}).Error; err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}
		return tx.CreateInBatches(stamp(records, category, scope), batchSize).Error
	})
}

// MergeSyncRecords upserts records by key and deletes rows of category and scope
// the remote no longer returned, in one transaction.
func (c *Client) MergeSyncRecords(ctx context.Context, category, scope string, records []SyncRecord) error {
	return c.trakt.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing []string
		if err := tx.Model(&SyncRecord{}).
			Where("category = ? AND scope = ?", category, scope).
			Pluck("record_key", &existing).Error; err != nil {
			return err
		}

		if len(records) > 0 {
			if err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "category"}, {Name: "scope"}, {Name: "record_key"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"type", "title", "year", "trakt_id", "tmdb_id", "imdb_id", "slug", "show_title", "show_tmdb_id",
					"season", "number", "rating", "plays", "history_id", "event_at", "updated_at",
				}),
			}).CreateInBatches(stamp(records, category, scope), batchSize).Error; err != nil {
				return err
			}
		}

		keep := lo.Map(records, func(r SyncRecord, _ int) string { return r.Key })
		stale := lo.Without(existing, keep...)
		for _, chunk := range lo.Chunk(stale, batchSize) {
			if err := tx.Where("category = ? AND scope = ? AND record_key IN ?", category, scope, chunk).
				Delete(&SyncRecord{}).Error; err != nil {
				return err
			}
		}
		if len(stale) > 0 {
			log.Debug("removed stale sync records", "category", category, "scope", scope, "count", len(stale))
		}
		return nil
	})
}

// stamp sets category and scope on every record and drops duplicate keys, keeping the first.
func stamp(records []SyncRecord, category, scope string) []SyncRecord {
	records = lo.UniqBy(records, func(r SyncRecord) string { return r.Key })
	out := make([]SyncRecord, len(records))
	for i, r := range records {
		r.ID = 0
		r.Category = category
		r.Scope = scope
		out[i] = r
	}
	return out
}

func (c *Client) GetSyncRecords(ctx context.Context, category, scope string) ([]SyncRecord, error) {
	var records []SyncRecord
	if err := c.trakt.WithContext(ctx).
		Where("category = ? AND scope = ?", category, scope).
		Order("id").
		Find(&records).Error; err != nil {
		log.Error("failed to get sync records", "category", category, "scope", scope, "error", err)
		return nil, err
	}
	return records, nil
}

// GetMirroredIdentifiers returns the tmdb identifiers of all mirrored movies and shows.
func (c *Client) GetMirroredIdentifiers(ctx context.Context) ([]media.Identifier, error) {
	var records []SyncRecord
	if err := c.trakt.WithContext(ctx).
		Select("type", "tmdb_id", "show_tmdb_id").
		Where("tmdb_id > 0 OR show_tmdb_id > 0").
		Find(&records).Error; err != nil {
		log.Error("failed to get mirrored identifiers", "error", err)
		return nil, err
	}

	ids := make([]media.Identifier, 0, len(records))
	for _, r := range records {
		switch r.Type {
		case media.KindMovie:
			ids = append(ids, media.TMDB(media.KindMovie, r.TMDBID))
		case media.KindShow:
			ids = append(ids, media.TMDB(media.KindShow, r.TMDBID))
		case media.KindSeason, media.KindEpisode:
			if r.ShowTMDBID > 0 {
				ids = append(ids, media.TMDB(media.KindShow, r.ShowTMDBID))
			}
		}
	}
	return lo.Uniq(lo.Filter(ids, func(id media.Identifier, _ int) bool { return id.ID > 0 })), nil
}

func (c *Client) SaveSyncRun(ctx context.Context, run *SyncRun) error {
	if err := c.trakt.WithContext(ctx).Create(run).Error; err != nil {
		log.Error("failed to save sync run", "kind", run.Kind, "category", run.Category, "error", err)
		return err
	}
	return nil
}

// GetSyncRuns returns the most recent runs first.
func (c *Client) GetSyncRuns(ctx context.Context, limit int) ([]SyncRun, error) {
	var runs []SyncRun
	q := c.trakt.WithContext(ctx).Order("started_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&runs).Error; err != nil {
		log.Error("failed to get sync runs", "error", err)
		return nil, err
	}
	return runs, nil
}
