package media

import (
	"database/sql/driver"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/samber/lo"
)

// SeasonCount is the number of episodes in a season as reported by TMDB.
type SeasonCount struct {
	SeasonNumber int `json:"season_number"`
	EpisodeCount int `json:"episode_count"`
}

// SeasonEpisodes maps a season number to its ordered episode numbers.
// Season 0 (specials) is never present.
type SeasonEpisodes map[int][]int

// FromCounts builds a SeasonEpisodes where season n holds episodes 1..episode_count.
func FromCounts(counts []SeasonCount) SeasonEpisodes {
	se := make(SeasonEpisodes, len(counts))
	for _, c := range counts {
		if c.SeasonNumber <= 0 || c.EpisodeCount <= 0 {
			continue
		}
		se[c.SeasonNumber] = lo.RangeFrom(1, c.EpisodeCount)
	}
	return se
}

// Seasons returns the season numbers in ascending order.
func (s SeasonEpisodes) Seasons() []int {
	keys := lo.Keys(s)
	slices.Sort(keys)
	return keys
}

// EpisodeCount returns the total number of episodes across all seasons.
func (s SeasonEpisodes) EpisodeCount() int {
	return lo.SumBy(lo.Values(s), func(eps []int) int { return len(eps) })
}

// Encode renders the compact form "1{1,2,3},2{1,2}".
func (s SeasonEpisodes) Encode() string {
	var b strings.Builder
	for i, season := range s.Seasons() {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(season))
		b.WriteByte('{')
		b.WriteString(strings.Join(lo.Map(s[season], func(ep int, _ int) string { return strconv.Itoa(ep) }), ","))
		b.WriteByte('}')
	}
	return b.String()
}

var seasonPattern = regexp.MustCompile(`(\d+)\{([\d,]*)\}`)

// ParseSeasonEpisodes reads the compact form produced by Encode.
func ParseSeasonEpisodes(s string) (SeasonEpisodes, error) {
	se := SeasonEpisodes{}
	s = strings.TrimSpace(s)
	if s == "" {
		return se, nil
	}
	matches := seasonPattern.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return nil, fmt.Errorf("invalid season encoding %q", s)
	}
	for _, m := range matches {
		season, err := strconv.Atoi(m[1])
		if err != nil {
			return nil, fmt.Errorf("invalid season number %q: %w", m[1], err)
		}
		var eps []int
		for _, part := range strings.Split(m[2], ",") {
			if part == "" {
				continue
			}
			ep, err := strconv.Atoi(part)
			if err != nil {
				return nil, fmt.Errorf("invalid episode number %q: %w", part, err)
			}
			eps = append(eps, ep)
		}
		if season == 0 {
			continue
		}
		se[season] = eps
	}
	return se, nil
}

// Value stores the structured form as JSON.
func (s SeasonEpisodes) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan reads the JSON form written by Value.
func (s *SeasonEpisodes) Scan(value any) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*s = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("unsupported season episodes type %T", value)
	}
	se := SeasonEpisodes{}
	if err := json.Unmarshal(raw, &se); err != nil {
		return fmt.Errorf("failed to decode season episodes: %w", err)
	}
	*s = se
	return nil
}
