// Package session provides typed access to the persisted key/value state
// shared by the sync components, such as the trakt token and sync flags.
package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/goccy/go-json"
	"github.com/wirelessalien/moviesync/internal/database"
	"golang.org/x/oauth2"
	"gorm.io/gorm"
)

// ErrNotFound is returned when a key has no value.
var ErrNotFound = errors.New("session value not found")

// Well known keys.
const (
	KeyTraktToken       = "trakt.token"
	KeyLastSync         = "trakt.last_sync"
	KeyLastAutoSync     = "trakt.last_autosync"
	KeyLastCalendarSync = "trakt.last_calendar_sync"
	KeyLastFetch        = "tmdb.last_fetch"
	KeyInitialSyncDone  = "trakt.initial_sync_done"
)

// Store is the explicit replacement for a global preference store.
type Store struct {
	db database.SessionDB
	mu sync.Mutex
}

// New creates a session store backed by db.
func New(db database.SessionDB) *Store {
	return &Store{db: db}
}

func (s *Store) String(ctx context.Context, key string) (string, error) {
	v, err := s.db.GetSessionValue(ctx, key)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	return v, err
}

func (s *Store) SetString(ctx context.Context, key, value string) error {
	return s.db.SetSessionValue(ctx, key, value)
}

// Bool returns the stored flag, false if it was never set.
func (s *Store) Bool(ctx context.Context, key string) (bool, error) {
	v, err := s.String(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return strconv.ParseBool(v)
}

func (s *Store) SetBool(ctx context.Context, key string, value bool) error {
	return s.SetString(ctx, key, strconv.FormatBool(value))
}

// Time returns the stored time, the zero time if it was never set.
func (s *Store) Time(ctx context.Context, key string) (time.Time, error) {
	v, err := s.String(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, v)
}

func (s *Store) SetTime(ctx context.Context, key string, t time.Time) error {
	return s.SetString(ctx, key, t.UTC().Format(time.RFC3339Nano))
}

// Token returns the stored trakt token or ErrNotFound.
func (s *Store) Token(ctx context.Context) (*oauth2.Token, error) {
	v, err := s.String(ctx, KeyTraktToken)
	if err != nil {
		return nil, err
	}
	var tok oauth2.Token
	if err := json.Unmarshal([]byte(v), &tok); err != nil {
		return nil, fmt.Errorf("failed to decode stored token: %w", err)
	}
	return &tok, nil
}

func (s *Store) SaveToken(ctx context.Context, tok *oauth2.Token) error {
	if tok == nil {
		return s.db.DeleteSessionValue(ctx, KeyTraktToken)
	}
	b, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}
	return s.SetString(ctx, KeyTraktToken, string(b))
}

// ClearToken removes the stored trakt token.
func (s *Store) ClearToken(ctx context.Context) error {
	return s.db.DeleteSessionValue(ctx, KeyTraktToken)
}

// TokenSource wraps base so that every refreshed token is written back to the store.
func (s *Store) TokenSource(ctx context.Context, base oauth2.TokenSource) oauth2.TokenSource {
	return &persistingSource{ctx: ctx, store: s, base: base}
}

type persistingSource struct {
	ctx   context.Context
	store *Store
	base  oauth2.TokenSource
	last  string
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := p.base.Token()
	if err != nil {
		return nil, err
	}

	p.store.mu.Lock()
	defer p.store.mu.Unlock()
	if tok.AccessToken != p.last {
		if err := p.store.SaveToken(p.ctx, tok); err != nil {
			log.Error("failed to persist refreshed token", "error", err)
		} else if p.last != "" {
			log.Info("Refreshed trakt token", "expiry", tok.Expiry)
		}
		p.last = tok.AccessToken
	}
	return tok, nil
}
