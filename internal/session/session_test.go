package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wirelessalien/moviesync/internal/database/mock"
	"golang.org/x/oauth2"
)

func TestTypedAccessors(t *testing.T) {
	ctx := context.Background()
	s := New(mock.NewMockDB())

	_, err := s.String(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	done, err := s.Bool(ctx, KeyInitialSyncDone)
	require.NoError(t, err)
	assert.False(t, done)
	require.NoError(t, s.SetBool(ctx, KeyInitialSyncDone, true))
	done, err = s.Bool(ctx, KeyInitialSyncDone)
	require.NoError(t, err)
	assert.True(t, done)

	zero, err := s.Time(ctx, KeyLastSync)
	require.NoError(t, err)
	assert.True(t, zero.IsZero())

	now := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)
	require.NoError(t, s.SetTime(ctx, KeyLastSync, now))
	got, err := s.Time(ctx, KeyLastSync)
	require.NoError(t, err)
	assert.True(t, now.Equal(got))
}

func TestTokenRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New(mock.NewMockDB())

	_, err := s.Token(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	tok := &oauth2.Token{AccessToken: "access", RefreshToken: "refresh", TokenType: "Bearer", Expiry: time.Now().Add(time.Hour).Round(time.Second)}
	require.NoError(t, s.SaveToken(ctx, tok))

	got, err := s.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "access", got.AccessToken)
	assert.Equal(t, "refresh", got.RefreshToken)
	assert.True(t, tok.Expiry.Equal(got.Expiry))

	require.NoError(t, s.ClearToken(ctx))
	_, err = s.Token(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
}

type sequenceSource struct {
	tokens []*oauth2.Token
	i      int
}

func (s *sequenceSource) Token() (*oauth2.Token, error) {
	tok := s.tokens[s.i]
	if s.i < len(s.tokens)-1 {
		s.i++
	}
	return tok, nil
}

func TestTokenSourcePersistsRefresh(t *testing.T) {
	ctx := context.Background()
	db := mock.NewMockDB()
	s := New(db)

	src := s.TokenSource(ctx, &sequenceSource{tokens: []*oauth2.Token{
		{AccessToken: "first", RefreshToken: "r1"},
		{AccessToken: "second", RefreshToken: "r2"},
	}})

	tok, err := src.Token()
	require.NoError(t, err)
	assert.Equal(t, "first", tok.AccessToken)

	tok, err = src.Token()
	require.NoError(t, err)
	assert.Equal(t, "second", tok.AccessToken)

	stored, err := s.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "second", stored.AccessToken)
	assert.Equal(t, "r2", stored.RefreshToken)
}
