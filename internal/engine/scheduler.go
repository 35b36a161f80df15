package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/wirelessalien/moviesync/internal/fetcher"
	"github.com/wirelessalien/moviesync/internal/scheduler"
	"github.com/wirelessalien/moviesync/internal/session"
	"github.com/wirelessalien/moviesync/internal/trakt"
)

// Job ids.
const (
	JobTraktSync       = "trakt_sync"
	JobTraktAutoSync   = "trakt_autosync"
	JobDetailsFetch    = "details_fetch"
	JobCalendarRefresh = "calendar_refresh"
	JobReminders       = "reminders"
)

// GetScheduler returns the scheduler instance for API access.
func (e *Engine) GetScheduler() *scheduler.Scheduler {
	return e.scheduler
}

// Run starts the engine and all its background jobs.
func (e *Engine) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Start the scheduler
	e.scheduler.Start()

	// Wait for context cancellation
	<-ctx.Done()
	return nil
}

// Close stops the engine and cleans up resources.
func (e *Engine) Close() error {
	return e.scheduler.Stop()
}

type jobSpec struct {
	id, name, description, schedule string
	run                             scheduler.JobFunc
	instant                         bool
}

// setupJobs configures all scheduled jobs.
func (e *Engine) setupJobs() error {
	initialSyncDone, err := e.session.Bool(context.Background(), session.KeyInitialSyncDone)
	if err != nil {
		log.Warn("Failed to read initial sync state", "error", err)
	}

	jobs := []jobSpec{
		{
			JobTraktSync, "Trakt Sync", "Mirrors collection, watched, history, ratings, watchlist and favorites from trakt",
			e.cfg.Schedule.Sync, e.runTraktSyncJob, !initialSyncDone,
		},
		{
			JobTraktAutoSync, "Trakt Auto Sync", "Pushes locally watched movies and episodes to the trakt history",
			e.cfg.Schedule.AutoSync, e.runAutoSyncJob, false,
		},
		{
			JobDetailsFetch, "Details Fetch", "Fetches missing TMDB details for the library and the trakt mirror",
			e.cfg.Schedule.Fetch, e.runFetchJob, false,
		},
		{
			JobCalendarRefresh, "Calendar Refresh", "Refreshes the upcoming releases",
			e.cfg.Schedule.Calendar, e.runCalendarJob, false,
		},
	}
	if e.cfg.Reminders != nil && e.cfg.Reminders.Enabled {
		jobs = append(jobs, jobSpec{
			JobReminders, "Reminders", "Announces upcoming releases of followed shows and movies",
			e.cfg.Schedule.Reminders, e.runRemindersJob, false,
		})
	}

	for _, job := range jobs {
		if err := e.scheduler.AddSingletonJob(job.id, job.name, job.description, job.schedule, job.run, job.instant); err != nil {
			return fmt.Errorf("failed to add %s job: %w", job.id, err)
		}
	}

	log.Info("Scheduled jobs configured successfully", "jobs", len(jobs))
	return nil
}

func (e *Engine) runTraktSyncJob(ctx context.Context) error {
	if !e.trakt.Authenticated(ctx) {
		log.Warn("Skipping trakt sync, no account linked. Run `moviesync auth` first")
		return trakt.ErrNotAuthenticated
	}
	report, err := e.SyncTrakt(ctx)
	if report != nil {
		log.Info("Trakt sync finished", "categories", len(report.Results), "failed", len(report.Failed()))
	}
	return err
}

func (e *Engine) runAutoSyncJob(ctx context.Context) error {
	if !e.trakt.Authenticated(ctx) {
		log.Debug("Skipping trakt auto sync, no account linked")
		return nil
	}
	result, err := e.AutoSync(ctx)
	if err != nil {
		return err
	}
	log.Info("Trakt auto sync finished", "movies", result.Movies, "episodes", result.Episodes, "marked", result.Marked)
	return nil
}

func (e *Engine) runFetchJob(ctx context.Context) error {
	result, err := e.FetchMissing(ctx, fetcher.Options{})
	if err != nil {
		return err
	}
	if len(result.Failed) > 0 {
		return fmt.Errorf("failed to fetch details of %d items", len(result.Failed))
	}
	return nil
}

func (e *Engine) runCalendarJob(ctx context.Context) error {
	_, err := e.RefreshCalendar(ctx)
	return err
}

func (e *Engine) runRemindersJob(ctx context.Context) error {
	result, err := e.SendReminders(ctx)
	if result != nil && result.Due > 0 {
		log.Info("Reminders sent", "due", result.Due, "sent", result.Sent, "failed", result.Failed)
	}
	return err
}

func calendarWindow(days int) time.Duration {
	return time.Duration(days) * 24 * time.Hour
}
