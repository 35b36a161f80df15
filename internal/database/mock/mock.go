package mock

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/wirelessalien/moviesync/internal/database"
	"github.com/wirelessalien/moviesync/internal/media"
	"gorm.io/gorm"
)

var _ database.DB = (*MockDB)(nil)

// MockDB is a mock implementation of database.DB for testing.
type MockDB struct {
	mu sync.RWMutex

	savedMedia  map[uint]*database.SavedMedia
	episodes    map[uint]*database.WatchedEpisode
	nextMediaID uint
	session     map[string]string
	details     map[media.Identifier]*database.Details
	records     map[string][]database.SyncRecord
	runs        []database.SyncRun
	calendar    map[string][]database.CalendarEntry
	reminders   map[string]time.Time

	// Calls counts invocations per method name.
	Calls map[string]int

	// Error simulation
	GetUnsyncedMoviesError   error
	GetUnsyncedEpisodesError error
	MarkSyncedError          error
	UpsertDetailsError       error
	// UpsertDetailsErrorFor fails UpsertDetails only for the listed identifiers.
	UpsertDetailsErrorFor      map[media.Identifier]error
	ReplaceSyncRecordsError    error
	MergeSyncRecordsError      error
	ReplaceCalendarError       error
	GetCalendarEntriesError    error
	MarkReminderSentError      error
	GetSessionValueError       error
	SetSessionValueError       error
	GetLibraryIdentifiersError error
	StatsError                 error
}

// NewMockDB creates a new MockDB instance.
func NewMockDB() *MockDB {
	return &MockDB{
		savedMedia:            make(map[uint]*database.SavedMedia),
		episodes:              make(map[uint]*database.WatchedEpisode),
		nextMediaID:           1,
		session:               make(map[string]string),
		details:               make(map[media.Identifier]*database.Details),
		records:               make(map[string][]database.SyncRecord),
		calendar:              make(map[string][]database.CalendarEntry),
		reminders:             make(map[string]time.Time),
		Calls:                 make(map[string]int),
		UpsertDetailsErrorFor: make(map[media.Identifier]error),
	}
}

func (m *MockDB) called(name string) {
	m.Calls[name]++
}

func (m *MockDB) SaveMedia(_ context.Context, item *database.SavedMedia) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.called("SaveMedia")

	for id, existing := range m.savedMedia {
		if existing.Kind == item.Kind && existing.TMDBID == item.TMDBID {
			item.ID = id
			cp := *item
			cp.Revision = existing.Revision + 1
			m.savedMedia[id] = &cp
			return nil
		}
	}
	item.ID = m.nextMediaID
	m.nextMediaID++
	cp := *item
	m.savedMedia[item.ID] = &cp
	return nil
}

func (m *MockDB) SaveWatchedEpisode(_ context.Context, e *database.WatchedEpisode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.called("SaveWatchedEpisode")

	for id, existing := range m.episodes {
		if existing.ShowTMDBID == e.ShowTMDBID && existing.Season == e.Season && existing.Number == e.Number {
			e.ID = id
			cp := *e
			cp.Revision = existing.Revision + 1
			m.episodes[id] = &cp
			return nil
		}
	}
	e.ID = m.nextMediaID
	m.nextMediaID++
	cp := *e
	m.episodes[e.ID] = &cp
	return nil
}

func (m *MockDB) GetSavedMedia(_ context.Context) ([]database.SavedMedia, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	items := make([]database.SavedMedia, 0, len(m.savedMedia))
	for _, item := range m.savedMedia {
		items = append(items, *item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (m *MockDB) GetLibraryIdentifiers(ctx context.Context) ([]media.Identifier, error) {
	if m.GetLibraryIdentifiersError != nil {
		return nil, m.GetLibraryIdentifiersError
	}
	items, _ := m.GetSavedMedia(ctx)

	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := lo.Map(items, func(item database.SavedMedia, _ int) media.Identifier { return item.Identifier() })
	for _, e := range m.episodes {
		ids = append(ids, media.TMDB(media.KindShow, e.ShowTMDBID))
	}
	return lo.Uniq(ids), nil
}

func (m *MockDB) GetUnsyncedMovies(_ context.Context) ([]database.SavedMedia, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.called("GetUnsyncedMovies")
	if m.GetUnsyncedMoviesError != nil {
		return nil, m.GetUnsyncedMoviesError
	}

	var items []database.SavedMedia
	for _, item := range m.savedMedia {
		if item.Kind == media.KindMovie && item.Watched && !item.Synced {
			items = append(items, *item)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (m *MockDB) GetUnsyncedEpisodes(_ context.Context) ([]database.WatchedEpisode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.called("GetUnsyncedEpisodes")
	if m.GetUnsyncedEpisodesError != nil {
		return nil, m.GetUnsyncedEpisodesError
	}

	var eps []database.WatchedEpisode
	for _, e := range m.episodes {
		if !e.Synced {
			eps = append(eps, *e)
		}
	}
	sort.Slice(eps, func(i, j int) bool { return eps[i].ID < eps[j].ID })
	return eps, nil
}

func (m *MockDB) MarkSynced(_ context.Context, movies []database.SavedMedia, episodes []database.WatchedEpisode, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.called("MarkSynced")
	if m.MarkSyncedError != nil {
		return 0, m.MarkSyncedError
	}

	var marked int64
	for _, read := range movies {
		if item, ok := m.savedMedia[read.ID]; ok && item.Revision == read.Revision && !item.Synced {
			item.Synced = true
			item.SyncedAt = &at
			marked++
		}
	}
	for _, read := range episodes {
		if e, ok := m.episodes[read.ID]; ok && e.Revision == read.Revision && !e.Synced {
			e.Synced = true
			e.SyncedAt = &at
			marked++
		}
	}
	return marked, nil
}

func (m *MockDB) GetSessionValue(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.GetSessionValueError != nil {
		return "", m.GetSessionValueError
	}
	v, ok := m.session[key]
	if !ok {
		return "", gorm.ErrRecordNotFound
	}
	return v, nil
}

func (m *MockDB) SetSessionValue(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SetSessionValueError != nil {
		return m.SetSessionValueError
	}
	m.session[key] = value
	return nil
}

func (m *MockDB) DeleteSessionValue(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.session, key)
	return nil
}

func (m *MockDB) GetDetails(_ context.Context, id media.Identifier) (*database.Details, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.details[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *MockDB) HasDetails(_ context.Context, id media.Identifier) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.details[id]
	return ok, nil
}

func (m *MockDB) UpsertDetails(_ context.Context, d *database.Details) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.called("UpsertDetails")
	if m.UpsertDetailsError != nil {
		return m.UpsertDetailsError
	}
	if err, ok := m.UpsertDetailsErrorFor[d.Identifier()]; ok {
		return err
	}
	cp := *d
	m.details[d.Identifier()] = &cp
	return nil
}

func (m *MockDB) GetCachedIdentifiers(_ context.Context) ([]media.Identifier, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return lo.Keys(m.details), nil
}

func recordsKey(category, scope string) string {
	return category + "/" + scope
}

func (m *MockDB) ReplaceSyncRecords(_ context.Context, category, scope string, records []database.SyncRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.called("ReplaceSyncRecords")
	if m.ReplaceSyncRecordsError != nil {
		return m.ReplaceSyncRecordsError
	}
	m.records[recordsKey(category, scope)] = stamp(records, category, scope)
	return nil
}

func (m *MockDB) MergeSyncRecords(_ context.Context, category, scope string, records []database.SyncRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.called("MergeSyncRecords")
	if m.MergeSyncRecordsError != nil {
		return m.MergeSyncRecordsError
	}
	m.records[recordsKey(category, scope)] = stamp(records, category, scope)
	return nil
}

func stamp(records []database.SyncRecord, category, scope string) []database.SyncRecord {
	out := lo.UniqBy(slices.Clone(records), func(r database.SyncRecord) string { return r.Key })
	for i := range out {
		out[i].Category = category
		out[i].Scope = scope
	}
	return out
}

func (m *MockDB) GetSyncRecords(_ context.Context, category, scope string) ([]database.SyncRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.records[recordsKey(category, scope)]), nil
}

func (m *MockDB) GetMirroredIdentifiers(_ context.Context) ([]media.Identifier, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []media.Identifier
	for _, records := range m.records {
		for _, r := range records {
			switch {
			case r.Type == media.KindMovie && r.TMDBID > 0:
				ids = append(ids, media.TMDB(media.KindMovie, r.TMDBID))
			case r.Type == media.KindShow && r.TMDBID > 0:
				ids = append(ids, media.TMDB(media.KindShow, r.TMDBID))
			case r.ShowTMDBID > 0:
				ids = append(ids, media.TMDB(media.KindShow, r.ShowTMDBID))
			}
		}
	}
	return lo.Uniq(ids), nil
}

func (m *MockDB) SaveSyncRun(_ context.Context, run *database.SyncRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, *run)
	return nil
}

func (m *MockDB) GetSyncRuns(_ context.Context, limit int) ([]database.SyncRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	runs := slices.Clone(m.runs)
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func calendarKey(scope string, kind media.Kind) string {
	return scope + "/" + string(kind)
}

func (m *MockDB) ReplaceCalendarEntries(_ context.Context, scope string, kind media.Kind, entries []database.CalendarEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.called("ReplaceCalendarEntries")
	if m.ReplaceCalendarError != nil {
		return m.ReplaceCalendarError
	}
	rows := slices.Clone(entries)
	for i := range rows {
		rows[i].Scope = scope
		rows[i].Type = kind
	}
	m.calendar[calendarKey(scope, kind)] = rows
	return nil
}

func (m *MockDB) GetCalendarEntries(_ context.Context, scope string, from, to time.Time) ([]database.CalendarEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.GetCalendarEntriesError != nil {
		return nil, m.GetCalendarEntriesError
	}

	var out []database.CalendarEntry
	for _, entries := range m.calendar {
		for _, e := range entries {
			if scope != "" && e.Scope != scope {
				continue
			}
			if e.AirsAt.Before(from) || !e.AirsAt.Before(to) {
				continue
			}
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].AirsAt.Before(out[j].AirsAt) })
	return out, nil
}

func (m *MockDB) HasReminderSent(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.reminders[key]
	return ok, nil
}

func (m *MockDB) MarkReminderSent(_ context.Context, key string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.called("MarkReminderSent")
	if m.MarkReminderSentError != nil {
		return m.MarkReminderSentError
	}
	if _, ok := m.reminders[key]; !ok {
		m.reminders[key] = at
	}
	return nil
}

func (m *MockDB) Stats(_ context.Context) (*database.Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.StatsError != nil {
		return nil, m.StatsError
	}

	var records, entries int
	for _, r := range m.records {
		records += len(r)
	}
	for _, e := range m.calendar {
		entries += len(e)
	}
	return &database.Stats{
		Tables: map[string]int64{
			"saved_media":      int64(len(m.savedMedia)),
			"watched_episodes": int64(len(m.episodes)),
			"details":          int64(len(m.details)),
			"sync_records":     int64(records),
			"calendar_entries": int64(entries),
			"sync_runs":        int64(len(m.runs)),
			"reminders_sent":   int64(len(m.reminders)),
		},
		Files: map[string]int64{},
	}, nil
}

func (m *MockDB) Close() error {
	return nil
}

// CallCount returns how often a method was called.
func (m *MockDB) CallCount(name string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Calls[name]
}

// ErrMock is a generic error for failure injection.
var ErrMock = errors.New("mock error")
