package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/wirelessalien/moviesync/internal/media"
	"gorm.io/gorm"
)

// Database file names inside the data directory.
const (
	LibraryFile = "library.db"
	CacheFile   = "cache.db"
	TraktFile   = "trakt.db"
)

// LibraryDB holds the locally tracked media and watch state.
type LibraryDB interface {
	SaveMedia(ctx context.Context, m *SavedMedia) error
	SaveWatchedEpisode(ctx context.Context, e *WatchedEpisode) error
	GetSavedMedia(ctx context.Context) ([]SavedMedia, error)
	GetLibraryIdentifiers(ctx context.Context) ([]media.Identifier, error)
	GetUnsyncedMovies(ctx context.Context) ([]SavedMedia, error)
	GetUnsyncedEpisodes(ctx context.Context) ([]WatchedEpisode, error)
	MarkSynced(ctx context.Context, movies []SavedMedia, episodes []WatchedEpisode, at time.Time) (int64, error)
}

// SessionDB is the key/value store backing the session.
type SessionDB interface {
	GetSessionValue(ctx context.Context, key string) (string, error)
	SetSessionValue(ctx context.Context, key, value string) error
	DeleteSessionValue(ctx context.Context, key string) error
}

// CacheDB holds the fetched remote metadata.
type CacheDB interface {
	GetDetails(ctx context.Context, id media.Identifier) (*Details, error)
	HasDetails(ctx context.Context, id media.Identifier) (bool, error)
	UpsertDetails(ctx context.Context, d *Details) error
	GetCachedIdentifiers(ctx context.Context) ([]media.Identifier, error)
}

// TraktDB holds the trakt mirror, the calendar and the bookkeeping around them.
type TraktDB interface {
	ReplaceSyncRecords(ctx context.Context, category, scope string, records []SyncRecord) error
	MergeSyncRecords(ctx context.Context, category, scope string, records []SyncRecord) error
	GetSyncRecords(ctx context.Context, category, scope string) ([]SyncRecord, error)
	GetMirroredIdentifiers(ctx context.Context) ([]media.Identifier, error)
	SaveSyncRun(ctx context.Context, run *SyncRun) error
	GetSyncRuns(ctx context.Context, limit int) ([]SyncRun, error)
	ReplaceCalendarEntries(ctx context.Context, scope string, kind media.Kind, entries []CalendarEntry) error
	GetCalendarEntries(ctx context.Context, scope string, from, to time.Time) ([]CalendarEntry, error)
	HasReminderSent(ctx context.Context, key string) (bool, error)
	MarkReminderSent(ctx context.Context, key string, at time.Time) error
}

// DB is the complete storage used by moviesync.
type DB interface {
	LibraryDB
	SessionDB
	CacheDB
	TraktDB
	Stats(ctx context.Context) (*Stats, error)
	Close() error
}

var _ DB = (*Client)(nil) // Ensure Client implements DB

// Client wraps one gorm.DB per database file.
type Client struct {
	dir     string
	library *gorm.DB
	cache   *gorm.DB
	trakt   *gorm.DB
}

// New opens the database files in dir and performs migrations.
func New(dir string) (*Client, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	library, err := open(filepath.Join(dir, LibraryFile), &SavedMedia{}, &WatchedEpisode{}, &SessionValue{})
	if err != nil {
		return nil, err
	}
	cache, err := open(filepath.Join(dir, CacheFile), &Details{})
	if err != nil {
		return nil, err
	}
	trakt, err := open(filepath.Join(dir, TraktFile), &SyncRecord{}, &CalendarEntry{}, &SyncRun{}, &ReminderSent{})
	if err != nil {
		return nil, err
	}

	return &Client{
		dir:     dir,
		library: library,
		cache:   cache,
		trakt:   trakt,
	}, nil
}

func open(path string, models ...any) (*gorm.DB, error) {
	// WAL and a busy timeout let the scheduled jobs share a file without immediate SQLITE_BUSY errors.
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database %s: %w", filepath.Base(path), err)
	}

	if err := db.AutoMigrate(models...); err != nil {
		return nil, fmt.Errorf("failed to migrate database %s: %w", filepath.Base(path), err)
	}
	return db, nil
}

// Close closes all database files.
func (c *Client) Close() error {
	var errs []error
	for _, db := range []*gorm.DB{c.library, c.cache, c.trakt} {
		sqlDB, err := db.DB()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		errs = append(errs, sqlDB.Close())
	}
	return errors.Join(errs...)
}

// Stats describes the size of the local databases.
type Stats struct {
	Tables map[string]int64
	Files  map[string]int64
}

// Stats returns row counts per table and the file size of every database.
func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		Tables: make(map[string]int64),
		Files:  make(map[string]int64),
	}

	counts := []struct {
		db    *gorm.DB
		name  string
		model any
	}{
		{c.library, "saved_media", &SavedMedia{}},
		{c.library, "watched_episodes", &WatchedEpisode{}},
		{c.cache, "details", &Details{}},
		{c.trakt, "sync_records", &SyncRecord{}},
		{c.trakt, "calendar_entries", &CalendarEntry{}},
		{c.trakt, "sync_runs", &SyncRun{}},
		{c.trakt, "reminders_sent", &ReminderSent{}},
	}
	for _, t := range counts {
		var n int64
		if err := t.db.WithContext(ctx).Model(t.model).Count(&n).Error; err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", t.name, err)
		}
		stats.Tables[t.name] = n
	}

	for _, name := range []string{LibraryFile, CacheFile, TraktFile} {
		info, err := os.Stat(filepath.Join(c.dir, name))
		if err != nil {
			continue
		}
		stats.Files[name] = info.Size()
	}

	return stats, nil
}

// Dir returns the data directory.
func (c *Client) Dir() string {
	return c.dir
}
