package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/jonboulle/clockwork"
	"github.com/wirelessalien/moviesync/internal/cache"
	"github.com/wirelessalien/moviesync/internal/calendar"
	"github.com/wirelessalien/moviesync/internal/config"
	"github.com/wirelessalien/moviesync/internal/database"
	"github.com/wirelessalien/moviesync/internal/fetcher"
	"github.com/wirelessalien/moviesync/internal/media"
	"github.com/wirelessalien/moviesync/internal/notify/email"
	"github.com/wirelessalien/moviesync/internal/notify/ntfy"
	"github.com/wirelessalien/moviesync/internal/ratelimit"
	"github.com/wirelessalien/moviesync/internal/reminder"
	"github.com/wirelessalien/moviesync/internal/scheduler"
	"github.com/wirelessalien/moviesync/internal/session"
	"github.com/wirelessalien/moviesync/internal/tmdb"
	"github.com/wirelessalien/moviesync/internal/trakt"
	"github.com/wirelessalien/moviesync/internal/traktsync"
)

// ErrRemindersDisabled is returned when reminders are triggered without an enabled channel.
var ErrRemindersDisabled = errors.New("reminders are disabled")

// Engine wires the sync components together and runs them as scheduled jobs.
type Engine struct {
	cfg     *config.Config
	db      database.DB
	session *session.Store
	clock   clockwork.Clock

	apiCache     *cache.APICache
	tmdbLimiter  *ratelimit.Limiter
	traktLimiter *ratelimit.Limiter
	tmdb         *tmdb.Client
	trakt        *trakt.Client

	fetcher    *fetcher.Fetcher
	syncer     *traktsync.Syncer
	autoSyncer *traktsync.AutoSyncer
	calendar   *calendar.Worker
	reminders  *reminder.Service

	scheduler *scheduler.Scheduler
}

// Option configures the engine.
type Option func(*options)

type options struct {
	clock      clockwork.Clock
	traktOpts  []trakt.Option
	noSchedule bool
}

// WithClock sets the clock used by the scheduler, the calendar and the reminders.
func WithClock(clock clockwork.Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// WithTraktOptions passes options to the trakt client.
func WithTraktOptions(opts ...trakt.Option) Option {
	return func(o *options) {
		o.traktOpts = append(o.traktOpts, opts...)
	}
}

// WithoutSchedule creates the engine without registering the background jobs.
// It is used by the one shot CLI commands.
func WithoutSchedule() Option {
	return func(o *options) {
		o.noSchedule = true
	}
}

// New creates a new Engine instance.
func New(cfg *config.Config, db database.DB, opts ...Option) (*Engine, error) {
	o := &options{clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(o)
	}

	sched, err := scheduler.New(scheduler.WithClock(o.clock))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	apiCache, err := cache.NewAPICache(cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("failed to create api cache: %w", err)
	}

	tmdbLimiter, err := ratelimit.New(cfg.RateLimit.Permits, cfg.RateLimit.Period, ratelimit.WithClock(o.clock))
	if err != nil {
		return nil, fmt.Errorf("failed to create tmdb rate limiter: %w", err)
	}
	traktLimiter, err := ratelimit.New(cfg.Trakt.RateLimit.Permits, cfg.Trakt.RateLimit.Period, ratelimit.WithClock(o.clock))
	if err != nil {
		return nil, fmt.Errorf("failed to create trakt rate limiter: %w", err)
	}

	sess := session.New(db)
	tmdbClient := tmdb.New(cfg.TMDB, tmdbLimiter, apiCache)
	traktClient := trakt.New(cfg.Trakt, traktLimiter, sess, o.traktOpts...)

	// the reminder service only knows interfaces, so disabled channels must stay untyped nil
	var ntfySender reminder.NtfySender
	if cfg.Ntfy != nil && cfg.Ntfy.Enabled {
		ntfySender = ntfy.NewClient(cfg.Ntfy)
	}
	var emailSender reminder.EmailSender
	if cfg.Email != nil && cfg.Email.Enabled {
		emailSender = email.New(cfg.Email)
	}

	engine := &Engine{
		cfg:          cfg,
		db:           db,
		session:      sess,
		clock:        o.clock,
		apiCache:     apiCache,
		tmdbLimiter:  tmdbLimiter,
		traktLimiter: traktLimiter,
		tmdb:         tmdbClient,
		trakt:        traktClient,
		fetcher:      fetcher.New(db, tmdbClient, cfg.GetFetchWorkers()),
		syncer:       traktsync.New(traktClient, db, sess, cfg.GetSyncStrategy()),
		autoSyncer:   traktsync.NewAutoSyncer(traktClient, db, sess),
		calendar:     calendar.New(db, traktClient, sess, o.clock, cfg.GetCalendarDays()),
		reminders:    reminder.New(db, ntfySender, emailSender, o.clock, cfg.GetReminderLeadTime()),
		scheduler:    sched,
	}

	if o.noSchedule {
		return engine, nil
	}

	// Setup scheduled jobs
	if err := engine.setupJobs(); err != nil {
		return nil, fmt.Errorf("failed to setup jobs: %w", err)
	}

	return engine, nil
}

// Session returns the session store.
func (e *Engine) Session() *session.Store {
	return e.session
}

// Authenticate links a trakt account with the device flow.
func (e *Engine) Authenticate(ctx context.Context, prompt func(*trakt.DeviceCode)) error {
	return e.trakt.Authenticate(ctx, prompt)
}

// Authenticated reports whether a trakt token is stored.
func (e *Engine) Authenticated(ctx context.Context) bool {
	return e.trakt.Authenticated(ctx)
}

// SyncTrakt runs a full trakt sync pass.
func (e *Engine) SyncTrakt(ctx context.Context) (*traktsync.Report, error) {
	return e.syncer.SyncAll(ctx)
}

// AutoSync pushes locally watched items to the trakt history.
func (e *Engine) AutoSync(ctx context.Context) (*traktsync.AutoSyncResult, error) {
	return e.autoSyncer.Run(ctx)
}

// FetchMissing fetches the details of every known identifier not cached yet.
func (e *Engine) FetchMissing(ctx context.Context, opts fetcher.Options) (*fetcher.Result, error) {
	result, err := e.fetcher.FetchMissing(ctx, opts)
	if err != nil {
		return result, err
	}
	if err := e.session.SetTime(ctx, session.KeyLastFetch, e.clock.Now()); err != nil {
		log.Warn("Failed to store last fetch time", "error", err)
	}
	return result, nil
}

// Details returns the cached details of id, fetching them on a miss.
func (e *Engine) Details(ctx context.Context, id media.Identifier, force bool) (*database.Details, error) {
	return e.fetcher.FetchOne(ctx, id, force)
}

// RefreshCalendar refreshes the calendar mirror.
func (e *Engine) RefreshCalendar(ctx context.Context) (*calendar.Report, error) {
	return e.calendar.Run(ctx)
}

// SendReminders announces upcoming releases.
func (e *Engine) SendReminders(ctx context.Context) (*reminder.Result, error) {
	if e.cfg.Reminders == nil || !e.cfg.Reminders.Enabled {
		return nil, ErrRemindersDisabled
	}
	return e.reminders.Run(ctx)
}

// Calendar returns the mirrored releases of scope.
func (e *Engine) Calendar(ctx context.Context, scope string) ([]database.CalendarEntry, error) {
	return e.calendar.Upcoming(ctx, scope, calendarWindow(e.cfg.GetCalendarDays()))
}

// ClearCache clears the API response caches.
func (e *Engine) ClearCache(ctx context.Context) {
	e.apiCache.ClearAll(ctx)
}
