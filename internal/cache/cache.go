package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/eko/gocache/lib/v4/cache"
	"github.com/eko/gocache/lib/v4/codec"
	"github.com/eko/gocache/lib/v4/store"
	go_store "github.com/eko/gocache/store/go_cache/v4"
	redis_store "github.com/eko/gocache/store/redis/v4"
	"github.com/goccy/go-json"
	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"github.com/wirelessalien/moviesync/internal/config"
)

// Cache key prefixes.
const (
	TMDBMoviePrefix = "tmdb-movie-"
	TMDBShowPrefix  = "tmdb-show-"
)

// PrefixedCache wraps a cache.Cache and adds a prefix to all keys.
type PrefixedCache[T any] struct {
	cache     *cache.Cache[[]byte]
	cacheType config.CacheType
	prefix    string
	ttl       time.Duration
}

// NewPrefixedCache creates a new prefixed cache wrapper.
func NewPrefixedCache[T any](c *cache.Cache[[]byte], cacheType config.CacheType, prefix string, ttl time.Duration) *PrefixedCache[T] {
	return &PrefixedCache[T]{
		cache:     c,
		cacheType: cacheType,
		prefix:    prefix,
		ttl:       ttl,
	}
}

func (p *PrefixedCache[T]) key(key any) string {
	return p.prefix + fmt.Sprintf("%v", key)
}

// Get retrieves a value from the cache with the prefixed key.
func (p *PrefixedCache[T]) Get(ctx context.Context, key any) (T, error) {
	data, err := p.cache.Get(ctx, p.key(key))
	if err != nil {
		return *new(T), err
	}
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return *new(T), err
	}
	return result, nil
}

// Set stores a value in the cache with the prefixed key and the default expiration.
func (p *PrefixedCache[T]) Set(ctx context.Context, key any, object T, options ...store.Option) error {
	data, err := json.Marshal(object)
	if err != nil {
		return err
	}
	if p.ttl > 0 {
		options = append([]store.Option{store.WithExpiration(p.ttl)}, options...)
	}
	return p.cache.Set(ctx, p.key(key), data, options...)
}

// Delete removes a value from the cache with the prefixed key.
func (p *PrefixedCache[T]) Delete(ctx context.Context, key any) error {
	return p.cache.Delete(ctx, p.key(key))
}

// Clear removes all values from the cache.
func (p *PrefixedCache[T]) Clear(ctx context.Context) error {
	return p.cache.Clear(ctx)
}

// GetType returns the cache type.
func (p *PrefixedCache[T]) GetType() config.CacheType {
	return p.cacheType
}

// GetStats returns the cache statistics.
func (p *PrefixedCache[T]) GetStats() *codec.Stats {
	return p.cache.GetCodec().GetStats()
}

// APICache holds the caches for remote API responses.
type APICache struct {
	TMDBMovies *PrefixedCache[json.RawMessage]
	TMDBShows  *PrefixedCache[json.RawMessage]
}

// NewAPICache creates the API response caches from the cache config.
func NewAPICache(cfg *config.CacheConfig) (*APICache, error) {
	if cfg == nil {
		cfg = &config.CacheConfig{Type: config.CacheTypeMemory, TTL: time.Hour}
	}
	movies, err := newCacheInstanceByType(cfg)
	if err != nil {
		return nil, err
	}
	shows, err := newCacheInstanceByType(cfg)
	if err != nil {
		return nil, err
	}
	return &APICache{
		TMDBMovies: NewPrefixedCache[json.RawMessage](movies, cfg.Type, TMDBMoviePrefix, cfg.TTL),
		TMDBShows:  NewPrefixedCache[json.RawMessage](shows, cfg.Type, TMDBShowPrefix, cfg.TTL),
	}, nil
}

// ClearAll clears every cache and logs failures.
func (a *APICache) ClearAll(ctx context.Context) {
	errs := []error{
		a.TMDBMovies.Clear(ctx),
		a.TMDBShows.Clear(ctx),
	}
	for _, err := range errs {
		if err != nil {
			log.Errorf("failed to clear cache: %v", err)
		}
	}
}

// Stats holds the statistics of one cache.
type Stats struct {
	*codec.Stats
	Name string           `json:"name"`
	Type config.CacheType `json:"type"`
}

// GetStats returns the statistics of every cache.
func (a *APICache) GetStats() []Stats {
	return []Stats{
		{Stats: a.TMDBMovies.GetStats(), Name: "tmdb-movies", Type: a.TMDBMovies.GetType()},
		{Stats: a.TMDBShows.GetStats(), Name: "tmdb-shows", Type: a.TMDBShows.GetType()},
	}
}

func newCacheInstanceByType(cfg *config.CacheConfig) (*cache.Cache[[]byte], error) {
	switch cfg.Type {
	case config.CacheTypeRedis:
		return newRedisCache(cfg)
	default:
		return newMemoryCache(cfg.TTL), nil
	}
}

func newMemoryCache(ttl time.Duration) *cache.Cache[[]byte] {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	gocacheClient := gocache.New(ttl, 10*time.Minute)
	gocacheStore := go_store.NewGoCache(gocacheClient)
	return cache.New[[]byte](gocacheStore)
}

func newRedisCache(cfg *config.CacheConfig) (*cache.Cache[[]byte], error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		// plain host:port
		opts = &redis.Options{Addr: cfg.RedisURL}
	}
	redisClient := redis.NewClient(opts)
	redisStore := redis_store.NewRedis(redisClient)
	return cache.New[[]byte](redisStore), nil
}
