package trakt

import "time"

// IDs holds the identifiers trakt reports for an item.
type IDs struct {
	Trakt int64  `json:"trakt,omitempty"`
	Slug  string `json:"slug,omitempty"`
	IMDB  string `json:"imdb,omitempty"`
	TMDB  int64  `json:"tmdb,omitempty"`
	TVDB  int64  `json:"tvdb,omitempty"`
}

type Movie struct {
	Title string `json:"title,omitempty"`
	Year  int    `json:"year,omitempty"`
	IDs   IDs    `json:"ids"`
}

type Show struct {
	Title string `json:"title,omitempty"`
	Year  int    `json:"year,omitempty"`
	IDs   IDs    `json:"ids"`
}

type Season struct {
	Number   int       `json:"number"`
	IDs      IDs       `json:"ids"`
	Episodes []Episode `json:"episodes,omitempty"`
}

type Episode struct {
	Season        int        `json:"season,omitempty"`
	Number        int        `json:"number"`
	Title         string     `json:"title,omitempty"`
	IDs           IDs        `json:"ids"`
	Plays         int        `json:"plays,omitempty"`
	WatchedAt     *time.Time `json:"watched_at,omitempty"`
	LastWatchedAt *time.Time `json:"last_watched_at,omitempty"`
	CollectedAt   *time.Time `json:"collected_at,omitempty"`
}

// Item is the common shape of the /sync list endpoints: history, watched,
// collection, ratings, watchlist and favorites. Only the fields relevant to
// the endpoint are set.
type Item struct {
	ID            int64      `json:"id,omitempty"`
	Type          string     `json:"type,omitempty"`
	Action        string     `json:"action,omitempty"`
	Rank          int        `json:"rank,omitempty"`
	Rating        int        `json:"rating,omitempty"`
	Plays         int        `json:"plays,omitempty"`
	WatchedAt     *time.Time `json:"watched_at,omitempty"`
	LastWatchedAt *time.Time `json:"last_watched_at,omitempty"`
	CollectedAt   *time.Time `json:"collected_at,omitempty"`
	RatedAt       *time.Time `json:"rated_at,omitempty"`
	ListedAt      *time.Time `json:"listed_at,omitempty"`
	Movie         *Movie     `json:"movie,omitempty"`
	Show          *Show      `json:"show,omitempty"`
	Season        *Season    `json:"season,omitempty"`
	Episode       *Episode   `json:"episode,omitempty"`
	Seasons       []Season   `json:"seasons,omitempty"`
}

// CalendarShow is an entry of /calendars/{scope}/shows.
type CalendarShow struct {
	FirstAired time.Time `json:"first_aired"`
	Episode    Episode   `json:"episode"`
	Show       Show      `json:"show"`
}

// CalendarMovie is an entry of /calendars/{scope}/movies.
type CalendarMovie struct {
	Released string `json:"released"`
	Movie    Movie  `json:"movie"`
}

// HistoryMovie is a movie in a /sync/history request.
type HistoryMovie struct {
	WatchedAt *time.Time `json:"watched_at,omitempty"`
	IDs       IDs        `json:"ids"`
}

// HistoryShow is a show in a /sync/history request.
type HistoryShow struct {
	IDs     IDs             `json:"ids"`
	Seasons []HistorySeason `json:"seasons,omitempty"`
}

type HistorySeason struct {
	Number   int              `json:"number"`
	Episodes []HistoryEpisode `json:"episodes,omitempty"`
}

type HistoryEpisode struct {
	Number    int        `json:"number"`
	WatchedAt *time.Time `json:"watched_at,omitempty"`
}

// SyncRequest is the body of the /sync add and remove endpoints.
type SyncRequest struct {
	Movies []HistoryMovie `json:"movies,omitempty"`
	Shows  []HistoryShow  `json:"shows,omitempty"`
	IDs    []int64        `json:"ids,omitempty"`
}

// RatingRequestItem is a movie or show in a /sync/ratings request.
type RatingRequestItem struct {
	Rating  int        `json:"rating"`
	RatedAt *time.Time `json:"rated_at,omitempty"`
	IDs     IDs        `json:"ids"`
}

type RatingRequest struct {
	Movies []RatingRequestItem `json:"movies,omitempty"`
	Shows  []RatingRequestItem `json:"shows,omitempty"`
}

// SyncCounts holds the per type counters of a sync response.
type SyncCounts struct {
	Movies   int `json:"movies"`
	Shows    int `json:"shows"`
	Seasons  int `json:"seasons"`
	Episodes int `json:"episodes"`
}

// SyncResponse is the response of the /sync add and remove endpoints.
type SyncResponse struct {
	Added    SyncCounts `json:"added"`
	Deleted  SyncCounts `json:"deleted"`
	Existing SyncCounts `json:"existing"`
	NotFound struct {
		Movies []HistoryMovie `json:"movies"`
		Shows  []HistoryShow  `json:"shows"`
	} `json:"not_found"`
}
