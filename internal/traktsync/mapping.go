package traktsync

import (
	"fmt"
	"time"

	"github.com/wirelessalien/moviesync/internal/database"
	"github.com/wirelessalien/moviesync/internal/media"
	"github.com/wirelessalien/moviesync/internal/trakt"
)

// toRecords maps the items of one category to mirror rows. Shows carrying
// seasons are expanded into one row for the show and one per episode.
func toRecords(category Category, items []trakt.Item) []database.SyncRecord {
	records := make([]database.SyncRecord, 0, len(items))
	for _, item := range items {
		eventAt := firstTime(item.WatchedAt, item.LastWatchedAt, item.CollectedAt, item.RatedAt, item.ListedAt)
		base := database.SyncRecord{
			Rating:    item.Rating,
			Plays:     item.Plays,
			HistoryID: item.ID,
			EventAt:   eventAt,
		}

		switch {
		case item.Movie != nil:
			r := base
			r.Type = media.KindMovie
			setMovie(&r, item.Movie)
			r.Key = recordKey(category, item, fmt.Sprintf("movie:%d", item.Movie.IDs.Trakt))
			records = append(records, r)

		case item.Show != nil && item.Episode != nil:
			r := base
			r.Type = media.KindEpisode
			setShow(&r, item.Show)
			setEpisode(&r, item.Episode)
			r.Key = recordKey(category, item, episodeKey(item.Show, item.Episode.Season, item.Episode.Number))
			records = append(records, r)

		case item.Show != nil && item.Season != nil:
			r := base
			r.Type = media.KindSeason
			setShow(&r, item.Show)
			r.Season = item.Season.Number
			r.TraktID = item.Season.IDs.Trakt
			r.TMDBID = item.Season.IDs.TMDB
			r.Key = recordKey(category, item, fmt.Sprintf("season:%d:%d", item.Show.IDs.Trakt, item.Season.Number))
			records = append(records, r)

		case item.Show != nil:
			r := base
			r.Type = media.KindShow
			r.Title = item.Show.Title
			r.Year = item.Show.Year
			r.TraktID = item.Show.IDs.Trakt
			r.TMDBID = item.Show.IDs.TMDB
			r.IMDBID = item.Show.IDs.IMDB
			r.Slug = item.Show.IDs.Slug
			r.Key = recordKey(category, item, fmt.Sprintf("show:%d", item.Show.IDs.Trakt))
			records = append(records, r)

			for _, season := range item.Seasons {
				for _, ep := range season.Episodes {
					er := database.SyncRecord{
						Type:    media.KindEpisode,
						Season:  season.Number,
						Number:  ep.Number,
						Plays:   ep.Plays,
						EventAt: firstTime(ep.LastWatchedAt, ep.WatchedAt, ep.CollectedAt),
					}
					setShow(&er, item.Show)
					er.Key = episodeKey(item.Show, season.Number, ep.Number)
					records = append(records, er)
				}
			}
		}
	}
	return records
}

// recordKey prefers the history id, which is the only unique key of a history entry.
func recordKey(category Category, item trakt.Item, natural string) string {
	if category == CategoryHistory && item.ID > 0 {
		return fmt.Sprintf("history:%d", item.ID)
	}
	return natural
}

func episodeKey(show *trakt.Show, season, number int) string {
	return fmt.Sprintf("episode:%d:%d:%d", show.IDs.Trakt, season, number)
}

func setMovie(r *database.SyncRecord, m *trakt.Movie) {
	r.Title = m.Title
	r.Year = m.Year
	r.TraktID = m.IDs.Trakt
	r.TMDBID = m.IDs.TMDB
	r.IMDBID = m.IDs.IMDB
	r.Slug = m.IDs.Slug
}

func setShow(r *database.SyncRecord, s *trakt.Show) {
	r.ShowTitle = s.Title
	r.ShowTMDBID = s.IDs.TMDB
	r.Year = s.Year
	r.Slug = s.IDs.Slug
}

func setEpisode(r *database.SyncRecord, e *trakt.Episode) {
	r.Title = e.Title
	r.Season = e.Season
	r.Number = e.Number
	r.TraktID = e.IDs.Trakt
	r.TMDBID = e.IDs.TMDB
	r.IMDBID = e.IDs.IMDB
}

func firstTime(times ...*time.Time) *time.Time {
	for _, t := range times {
		if t != nil && !t.IsZero() {
			utc := t.UTC()
			return &utc
		}
	}
	return nil
}
