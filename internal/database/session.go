package database

import (
	"context"
	"errors"

	"github.com/charmbracelet/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SessionValue is a single persisted session entry.
type SessionValue struct {
	Key   string `gorm:"column:session_key;primaryKey"`
	Value string
}

// GetSessionValue returns the value stored under key or gorm.ErrRecordNotFound.
func (c *Client) GetSessionValue(ctx context.Context, key string) (string, error) {
	var v SessionValue
	if err := c.library.WithContext(ctx).Where("session_key = ?", key).First(&v).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Error("failed to get session value", "key", key, "error", err)
		}
		return "", err
	}
	return v.Value, nil
}

func (c *Client) SetSessionValue(ctx context.Context, key, value string) error {
	if err := c.library.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&SessionValue{Key: key, Value: value}).Error; err != nil {
		log.Error("failed to set session value", "key", key, "error", err)
		return err
	}
	return nil
}

func (c *Client) DeleteSessionValue(ctx context.Context, key string) error {
	return c.library.WithContext(ctx).Where("session_key = ?", key).Delete(&SessionValue{}).Error
}
