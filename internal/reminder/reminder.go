// Package reminder notifies about upcoming releases of followed shows and movies.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jonboulle/clockwork"
	"github.com/mergestat/timediff"
	"github.com/wirelessalien/moviesync/internal/calendar"
	"github.com/wirelessalien/moviesync/internal/database"
	"github.com/wirelessalien/moviesync/internal/media"
	"github.com/wirelessalien/moviesync/internal/notify/email"
	"github.com/wirelessalien/moviesync/internal/notify/ntfy"
)

// Store is the storage the reminders are read from and recorded in.
type Store interface {
	GetCalendarEntries(ctx context.Context, scope string, from, to time.Time) ([]database.CalendarEntry, error)
	HasReminderSent(ctx context.Context, key string) (bool, error)
	MarkReminderSent(ctx context.Context, key string, at time.Time) error
}

// NtfySender sends ntfy reminders.
type NtfySender interface {
	SendReminder(ctx context.Context, r ntfy.Release) error
}

// EmailSender sends reminder digests by email.
type EmailSender interface {
	SendReminderDigest(digest email.ReminderDigest) error
}

// Result summarizes a reminder run.
type Result struct {
	Due    int
	Sent   int
	Failed int
}

// Service sends one reminder per release of the "my" calendar.
type Service struct {
	db       Store
	ntfy     NtfySender
	email    EmailSender
	clock    clockwork.Clock
	leadTime time.Duration
}

// New creates a reminder service. Either sender may be nil.
func New(db Store, ntfySender NtfySender, emailSender EmailSender, clock clockwork.Clock, leadTime time.Duration) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{
		db:       db,
		ntfy:     ntfySender,
		email:    emailSender,
		clock:    clock,
		leadTime: leadTime,
	}
}

// Delivery channels recorded per release.
const (
	channelEmail = "email"
	channelNtfy  = "ntfy"
)

// pending is a release with the channels that still have to announce it.
type pending struct {
	entry database.CalendarEntry
	email bool
	ntfy  bool
}

// Run notifies about every release airing within the lead time that was not announced yet.
// Each channel is recorded per release once it accepted it, and the release itself once
// all enabled channels did, so a retry only repeats the channels that failed.
func (s *Service) Run(ctx context.Context) (*Result, error) {
	if s.ntfy == nil && s.email == nil {
		log.Debug("No reminder channel enabled, skipping reminders")
		return &Result{}, nil
	}

	now := s.clock.Now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	entries, err := s.db.GetCalendarEntries(ctx, calendar.ScopeMy, today, now.Add(s.leadTime))
	if err != nil {
		return nil, fmt.Errorf("failed to get upcoming releases: %w", err)
	}

	var due []*pending
	for _, e := range entries {
		// movies only carry a release date and stay due for the whole day
		if e.Type != media.KindMovie && e.AirsAt.Before(now) {
			continue
		}
		p, err := s.pendingChannels(ctx, e)
		if err != nil {
			return nil, fmt.Errorf("failed to check reminder state: %w", err)
		}
		if p != nil {
			due = append(due, p)
		}
	}

	result := &Result{Due: len(due)}
	if len(due) == 0 {
		return result, nil
	}
	log.Info("Sending reminders", "releases", len(due))

	var errs []error
	if err := s.sendDigest(ctx, now, due); err != nil {
		errs = append(errs, err)
	}

	for _, p := range due {
		e := p.entry
		if p.ntfy {
			if err := s.ntfy.SendReminder(ctx, ntfy.Release{
				Title:  e.Title,
				Detail: episodeLabel(e),
				When:   when(e, now),
			}); err != nil {
				log.Error("Failed to send ntfy reminder", "release", e.Key(), "error", err)
				errs = append(errs, err)
			} else {
				p.ntfy = false
				s.mark(ctx, channelKey(e, channelNtfy), now, &errs)
			}
		}

		if p.email || p.ntfy {
			result.Failed++
			continue
		}
		s.mark(ctx, e.Key(), now, &errs)
		result.Sent++
	}
	return result, errors.Join(errs...)
}

// pendingChannels returns nil when the release was already announced on every enabled channel.
func (s *Service) pendingChannels(ctx context.Context, e database.CalendarEntry) (*pending, error) {
	done, err := s.db.HasReminderSent(ctx, e.Key())
	if err != nil || done {
		return nil, err
	}

	p := &pending{entry: e}
	if s.email != nil {
		sent, err := s.db.HasReminderSent(ctx, channelKey(e, channelEmail))
		if err != nil {
			return nil, err
		}
		p.email = !sent
	}
	if s.ntfy != nil {
		sent, err := s.db.HasReminderSent(ctx, channelKey(e, channelNtfy))
		if err != nil {
			return nil, err
		}
		p.ntfy = !sent
	}
	return p, nil
}

// sendDigest mails one digest of every release the email channel has not announced yet.
func (s *Service) sendDigest(ctx context.Context, now time.Time, due []*pending) error {
	if s.email == nil {
		return nil
	}
	digest := email.ReminderDigest{GeneratedAt: now}
	var covered []*pending
	for _, p := range due {
		if !p.email {
			continue
		}
		digest.Releases = append(digest.Releases, email.Release{
			Title:  p.entry.Title,
			Detail: episodeLabel(p.entry),
			AirsAt: p.entry.AirsAt,
			When:   when(p.entry, now),
		})
		covered = append(covered, p)
	}
	if len(covered) == 0 {
		return nil
	}

	if err := s.email.SendReminderDigest(digest); err != nil {
		log.Error("Failed to send reminder email", "releases", len(covered), "error", err)
		return fmt.Errorf("failed to send reminder email: %w", err)
	}
	var errs []error
	for _, p := range covered {
		p.email = false
		s.mark(ctx, channelKey(p.entry, channelEmail), now, &errs)
	}
	return errors.Join(errs...)
}

func (s *Service) mark(ctx context.Context, key string, now time.Time, errs *[]error) {
	if err := s.db.MarkReminderSent(ctx, key, now); err != nil {
		log.Error("Failed to record reminder", "key", key, "error", err)
		*errs = append(*errs, err)
	}
}

func channelKey(e database.CalendarEntry, channel string) string {
	return e.Key() + "@" + channel
}

func when(e database.CalendarEntry, now time.Time) string {
	if e.Type == media.KindMovie && !e.AirsAt.After(now) {
		return "today"
	}
	return timediff.TimeDiff(e.AirsAt, timediff.WithStartTime(now))
}

func episodeLabel(e database.CalendarEntry) string {
	if e.Type != media.KindEpisode {
		return ""
	}
	label := fmt.Sprintf("S%02dE%02d", e.Season, e.Number)
	if e.EpisodeTitle != "" {
		label += " " + e.EpisodeTitle
	}
	return label
}
