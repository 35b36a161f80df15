package database

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/wirelessalien/moviesync/internal/media"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CalendarEntry is an upcoming episode or movie release.
type CalendarEntry struct {
	ID             uint       `gorm:"primaryKey"`
	Scope          string     `gorm:"index:idx_calendar_scope_type;not null"`
	Type           media.Kind `gorm:"index:idx_calendar_scope_type;not null"`
	AirsAt         time.Time  `gorm:"index"`
	Title          string
	Year           int
	TraktID        int64
	TMDBID         int64 `gorm:"column:tmdb_id"`
	Season         int
	Number         int
	EpisodeTitle   string
	EpisodeTraktID int64
	CreatedAt      time.Time
}

// Key identifies the release independently of refreshes.
func (e CalendarEntry) Key() string {
	if e.Type == media.KindEpisode {
		return fmt.Sprintf("episode:%d:%d:%d:%d", e.TraktID, e.Season, e.Number, e.EpisodeTraktID)
	}
	return fmt.Sprintf("%s:%d:%s", e.Type, e.TraktID, e.AirsAt.UTC().Format(time.DateOnly))
}

// ReminderSent marks a calendar entry a reminder was sent for.
type ReminderSent struct {
	CalendarKey string `gorm:"primaryKey"`
	SentAt      time.Time
}

func (ReminderSent) TableName() string {
	return "reminders_sent"
}

// ReplaceCalendarEntries deletes all entries of scope and kind and inserts entries, in one transaction.
func (c *Client) ReplaceCalendarEntries(ctx context.Context, scope string, kind media.Kind, entries []CalendarEntry) error {
	return c.trakt.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("scope = ? AND type = ?", scope, kind).Delete(&CalendarEntry{}).Error; err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}
		rows := make([]CalendarEntry, len(entries))
		for i, e := range entries {
			e.ID = 0
			e.Scope = scope
			e.Type = kind
			rows[i] = e
		}
		return tx.CreateInBatches(rows, batchSize).Error
	})
}

// GetCalendarEntries returns entries of scope airing in [from, to), ordered by air time.
// An empty scope matches all scopes.
func (c *Client) GetCalendarEntries(ctx context.Context, scope string, from, to time.Time) ([]CalendarEntry, error) {
	var entries []CalendarEntry
	q := c.trakt.WithContext(ctx).Where("airs_at >= ? AND airs_at < ?", from, to)
	if scope != "" {
		q = q.Where("scope = ?", scope)
	}
	if err := q.Order("airs_at, id").Find(&entries).Error; err != nil {
		log.Error("failed to get calendar entries", "scope", scope, "error", err)
		return nil, err
	}
	return entries, nil
}

func (c *Client) HasReminderSent(ctx context.Context, key string) (bool, error) {
	var n int64
	if err := c.trakt.WithContext(ctx).Model(&ReminderSent{}).Where("calendar_key = ?", key).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *Client) MarkReminderSent(ctx context.Context, key string, at time.Time) error {
	return c.trakt.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&ReminderSent{CalendarKey: key, SentAt: at}).Error
}
