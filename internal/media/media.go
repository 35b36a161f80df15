// Package media defines the identifiers shared by the metadata cache and the trakt mirror.
package media

import (
	"fmt"
	"strconv"
	"strings"
)

// Source is the remote service an identifier belongs to.
type Source string

const (
	SourceTMDB  Source = "tmdb"
	SourceTrakt Source = "trakt"
)

// Kind is the type of a media item.
type Kind string

const (
	KindMovie   Kind = "movie"
	KindShow    Kind = "show"
	KindSeason  Kind = "season"
	KindEpisode Kind = "episode"
)

// Identifier uniquely addresses a media item at a remote source.
type Identifier struct {
	Source Source `json:"source"`
	Kind   Kind   `json:"kind"`
	ID     int64  `json:"id"`
}

// TMDB returns a tmdb identifier of the given kind.
func TMDB(kind Kind, id int64) Identifier {
	return Identifier{Source: SourceTMDB, Kind: kind, ID: id}
}

func (i Identifier) String() string {
	return fmt.Sprintf("%s:%s:%d", i.Source, i.Kind, i.ID)
}

// Valid reports whether the identifier has a known source, kind and a positive id.
func (i Identifier) Valid() bool {
	switch i.Source {
	case SourceTMDB, SourceTrakt:
	default:
		return false
	}
	return ParseKind(string(i.Kind)) != "" && i.ID > 0
}

// ParseKind normalizes a kind, accepting the "tv" alias used by TMDB.
// It returns an empty Kind for unknown values.
func ParseKind(s string) Kind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "movie", "movies":
		return KindMovie
	case "show", "shows", "tv":
		return KindShow
	case "season", "seasons":
		return KindSeason
	case "episode", "episodes":
		return KindEpisode
	}
	return ""
}

// ParseIdentifier parses the form produced by Identifier.String.
func ParseIdentifier(s string) (Identifier, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return Identifier{}, fmt.Errorf("invalid identifier %q", s)
	}
	id, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return Identifier{}, fmt.Errorf("invalid identifier %q: %w", s, err)
	}
	ident := Identifier{Source: Source(parts[0]), Kind: ParseKind(parts[1]), ID: id}
	if !ident.Valid() {
		return Identifier{}, fmt.Errorf("invalid identifier %q", s)
	}
	return ident, nil
}
