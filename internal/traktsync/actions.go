package traktsync

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/wirelessalien/moviesync/internal/database"
	"github.com/wirelessalien/moviesync/internal/media"
	"github.com/wirelessalien/moviesync/internal/trakt"
)

// PushRatings sends the local ratings of the given items to trakt. Items without a rating are ignored.
func (s *Syncer) PushRatings(ctx context.Context, items []database.SavedMedia) (*trakt.SyncResponse, error) {
	var req trakt.RatingRequest
	now := time.Now().UTC()
	for _, item := range items {
		if item.Rating < 1 || item.Rating > 10 {
			continue
		}
		r := trakt.RatingRequestItem{
			Rating:  item.Rating,
			RatedAt: &now,
			IDs:     trakt.IDs{TMDB: item.TMDBID},
		}
		switch item.Kind {
		case media.KindMovie:
			req.Movies = append(req.Movies, r)
		case media.KindShow:
			req.Shows = append(req.Shows, r)
		}
	}
	if len(req.Movies) == 0 && len(req.Shows) == 0 {
		return &trakt.SyncResponse{}, nil
	}
	return s.post(ctx, "/sync/ratings", req)
}

// AddToWatchlist adds tmdb movies and shows to the trakt watchlist.
func (s *Syncer) AddToWatchlist(ctx context.Context, ids []media.Identifier) (*trakt.SyncResponse, error) {
	return s.post(ctx, "/sync/watchlist", identifierRequest(ids))
}

// RemoveFromWatchlist removes tmdb movies and shows from the trakt watchlist.
func (s *Syncer) RemoveFromWatchlist(ctx context.Context, ids []media.Identifier) (*trakt.SyncResponse, error) {
	return s.post(ctx, "/sync/watchlist/remove", identifierRequest(ids))
}

// RemoveHistory removes history entries by their history id.
func (s *Syncer) RemoveHistory(ctx context.Context, historyIDs []int64) (*trakt.SyncResponse, error) {
	return s.post(ctx, "/sync/history/remove", trakt.SyncRequest{IDs: historyIDs})
}

// DeleteCheckin cancels the active checkin, if any.
func (s *Syncer) DeleteCheckin(ctx context.Context) error {
	if err := s.client.Delete(ctx, "/checkin"); err != nil {
		return fmt.Errorf("failed to delete checkin: %w", err)
	}
	log.Info("Deleted active trakt checkin")
	return nil
}

func (s *Syncer) post(ctx context.Context, endpoint string, body any) (*trakt.SyncResponse, error) {
	var resp trakt.SyncResponse
	if err := s.client.Post(ctx, endpoint, body, &resp); err != nil {
		return nil, fmt.Errorf("failed to post %s: %w", endpoint, err)
	}
	return &resp, nil
}

func identifierRequest(ids []media.Identifier) trakt.SyncRequest {
	var req trakt.SyncRequest
	for _, id := range ids {
		if id.Source != media.SourceTMDB {
			continue
		}
		switch id.Kind {
		case media.KindMovie:
			req.Movies = append(req.Movies, trakt.HistoryMovie{IDs: trakt.IDs{TMDB: id.ID}})
		case media.KindShow:
			req.Shows = append(req.Shows, trakt.HistoryShow{IDs: trakt.IDs{TMDB: id.ID}})
		}
	}
	return req
}
