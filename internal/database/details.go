package database

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"github.com/wirelessalien/moviesync/internal/media"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Details is the cached remote metadata of a media item.
type Details struct {
	ID           uint         `gorm:"primaryKey"`
	Source       media.Source `gorm:"uniqueIndex:idx_details_identifier;not null"`
	Kind         media.Kind   `gorm:"uniqueIndex:idx_details_identifier;not null"`
	RemoteID     int64        `gorm:"uniqueIndex:idx_details_identifier;not null"`
	Name         string       `gorm:"not null"`
	Overview     string
	PosterPath   string
	BackdropPath string
	VoteAverage  float64
	ReleaseDate  string
	GenreIDs     []int64              `gorm:"serializer:json"`
	Seasons      media.SeasonEpisodes `gorm:"type:text"`
	FetchedAt    time.Time
}

// Identifier returns the identifier the row is keyed by.
func (d Details) Identifier() media.Identifier {
	return media.Identifier{Source: d.Source, Kind: d.Kind, ID: d.RemoteID}
}

func (c *Client) GetDetails(ctx context.Context, id media.Identifier) (*Details, error) {
	var d Details
	if err := c.cache.WithContext(ctx).
		Where("source = ? AND kind = ? AND remote_id = ?", id.Source, id.Kind, id.ID).
		First(&d).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Error("failed to get details", "id", id, "error", err)
		}
		return nil, err
	}
	return &d, nil
}

func (c *Client) HasDetails(ctx context.Context, id media.Identifier) (bool, error) {
	var n int64
	if err := c.cache.WithContext(ctx).Model(&Details{}).
		Where("source = ? AND kind = ? AND remote_id = ?", id.Source, id.Kind, id.ID).
		Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

// UpsertDetails inserts the row or fully replaces the existing row with the same identifier.
func (c *Client) UpsertDetails(ctx context.Context, d *Details) error {
	if err := c.cache.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "source"}, {Name: "kind"}, {Name: "remote_id"}},
		UpdateAll: true,
	}).Create(d).Error; err != nil {
		log.Error("failed to upsert details", "id", d.Identifier(), "error", err)
		return err
	}
	return nil
}

func (c *Client) GetCachedIdentifiers(ctx context.Context) ([]media.Identifier, error) {
	var rows []Details
	if err := c.cache.WithContext(ctx).Select("source", "kind", "remote_id").Find(&rows).Error; err != nil {
		log.Error("failed to get cached identifiers", "error", err)
		return nil, err
	}
	ids := make([]media.Identifier, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.Identifier())
	}
	return ids, nil
}
