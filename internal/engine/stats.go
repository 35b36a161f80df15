package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/wirelessalien/moviesync/internal/cache"
	"github.com/wirelessalien/moviesync/internal/database"
	"github.com/wirelessalien/moviesync/internal/session"
	"golang.org/x/sync/errgroup"
)

// DiskUsage describes the filesystem holding the data directory.
type DiskUsage struct {
	Path        string  `json:"path"`
	Total       uint64  `json:"total"`
	Free        uint64  `json:"free"`
	Used        uint64  `json:"used"`
	UsedPercent float64 `json:"usedPercent"`
}

// Stats is a snapshot of the local state.
type Stats struct {
	Database      *database.Stats       `json:"database"`
	Disk          *DiskUsage            `json:"disk,omitempty"`
	Cache         []cache.Stats         `json:"cache"`
	LastRuns      map[string]*time.Time `json:"lastRuns"`
	Authenticated bool                  `json:"authenticated"`
	TMDBAvailable int                   `json:"tmdbAvailable"`
}

var lastRunKeys = map[string]string{
	"sync":     session.KeyLastSync,
	"autosync": session.KeyLastAutoSync,
	"calendar": session.KeyLastCalendarSync,
	"fetch":    session.KeyLastFetch,
}

// Stats collects database, disk and cache statistics.
func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		Cache:         e.apiCache.GetStats(),
		LastRuns:      make(map[string]*time.Time, len(lastRunKeys)),
		TMDBAvailable: e.tmdbLimiter.Available(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		dbStats, err := e.db.Stats(gctx)
		if err != nil {
			return fmt.Errorf("failed to get database stats: %w", err)
		}
		stats.Database = dbStats
		return nil
	})
	g.Go(func() error {
		// disk usage is informational, a failure only omits it
		usage, err := e.diskUsage(gctx)
		if err != nil {
			log.Warn("Failed to get disk usage", "path", e.cfg.Database.Dir, "error", err)
			return nil
		}
		stats.Disk = usage
		return nil
	})
	g.Go(func() error {
		stats.Authenticated = e.trakt.Authenticated(gctx)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for name, key := range lastRunKeys {
		t, err := e.session.Time(ctx, key)
		if err != nil || t.IsZero() {
			stats.LastRuns[name] = nil
			continue
		}
		stats.LastRuns[name] = &t
	}
	return stats, nil
}

func (e *Engine) diskUsage(ctx context.Context) (*DiskUsage, error) {
	usage, err := disk.UsageWithContext(ctx, e.cfg.Database.Dir)
	if err != nil {
		return nil, err
	}
	return &DiskUsage{
		Path:        usage.Path,
		Total:       usage.Total,
		Free:        usage.Free,
		Used:        usage.Used,
		UsedPercent: usage.UsedPercent,
	}, nil
}
