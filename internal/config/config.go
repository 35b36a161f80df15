package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/viper"
)

type CacheType string

const (
	CacheTypeMemory CacheType = "memory"
	CacheTypeRedis  CacheType = "redis"
)

// SyncStrategy controls how a Trakt sync pass writes into the local mirror.
type SyncStrategy string

const (
	// SyncStrategyReplace deletes all rows of a category and reinserts the remote state.
	SyncStrategyReplace SyncStrategy = "replace"
	// SyncStrategyMerge upserts remote rows and deletes rows the remote no longer returns.
	SyncStrategyMerge SyncStrategy = "merge"
)

// Config holds the configuration for the moviesync server and its dependencies.
type Config struct {
	// Listen is the address the API server will listen on.
	Listen string `yaml:"listen" mapstructure:"listen"`
	// APIKey protects the admin API.
	APIKey string `yaml:"api_key" mapstructure:"api_key"`
	// API holds the admin API configuration.
	API *APIConfig `yaml:"api" mapstructure:"api"`
	// Database holds the database configuration.
	Database *DatabaseConfig `yaml:"database" mapstructure:"database"`
	// TMDB holds the configuration for the TMDB metadata API.
	TMDB *TMDBConfig `yaml:"tmdb" mapstructure:"tmdb"`
	// Trakt holds the configuration for the Trakt API.
	Trakt *TraktConfig `yaml:"trakt" mapstructure:"trakt"`
	// RateLimit bounds the outgoing TMDB requests.
	RateLimit *RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
	// Fetch holds the detail fetcher configuration.
	Fetch *FetchConfig `yaml:"fetch" mapstructure:"fetch"`
	// Schedule holds the cron expressions of all background jobs.
	Schedule *ScheduleConfig `yaml:"schedule" mapstructure:"schedule"`
	// Calendar holds the calendar refresh configuration.
	Calendar *CalendarConfig `yaml:"calendar" mapstructure:"calendar"`
	// Cache holds the cache engine configuration.
	Cache *CacheConfig `yaml:"cache" mapstructure:"cache"`
	// Reminders holds the episode reminder configuration.
	Reminders *RemindersConfig `yaml:"reminders" mapstructure:"reminders"`
	// Email holds the email notification configuration.
	Email *EmailConfig `yaml:"email" mapstructure:"email"`
	// Ntfy holds the ntfy notification configuration.
	Ntfy *NtfyConfig `yaml:"ntfy" mapstructure:"ntfy"`
}

type APIConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// DatabaseConfig holds the database configuration.
type DatabaseConfig struct {
	// Dir is the directory holding the library, cache and trakt database files.
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// TMDBConfig holds the configuration for the TMDB API.
type TMDBConfig struct {
	// URL is the base URL of the TMDB API.
	URL string `yaml:"url" mapstructure:"url"`
	// AccessToken is the v4 read access token used as bearer token.
	AccessToken string `yaml:"access_token" mapstructure:"access_token"`
	// Language is passed as the language query parameter.
	Language string `yaml:"language" mapstructure:"language"`
	// Timeout is the HTTP client timeout.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// TraktConfig holds the configuration for the Trakt API.
type TraktConfig struct {
	// URL is the base URL of the Trakt API.
	URL string `yaml:"url" mapstructure:"url"`
	// ClientID is sent as trakt-api-key header and used for oauth.
	ClientID string `yaml:"client_id" mapstructure:"client_id"`
	// ClientSecret is used to exchange and refresh tokens.
	ClientSecret string `yaml:"client_secret" mapstructure:"client_secret"`
	// SyncStrategy is either "replace" or "merge".
	SyncStrategy SyncStrategy `yaml:"sync_strategy" mapstructure:"sync_strategy"`
	// Timeout is the HTTP client timeout.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
	// RateLimit bounds the outgoing Trakt requests.
	RateLimit *RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// RateLimitConfig describes a sliding window of at most Permits calls per Period.
type RateLimitConfig struct {
	Permits int           `yaml:"permits" mapstructure:"permits"`
	Period  time.Duration `yaml:"period" mapstructure:"period"`
}

type FetchConfig struct {
	// Workers is the number of concurrent detail fetches.
	Workers int `yaml:"workers" mapstructure:"workers"`
}

// ScheduleConfig holds the cron schedules for the background jobs.
type ScheduleConfig struct {
	Sync      string `yaml:"sync" mapstructure:"sync"`
	AutoSync  string `yaml:"autosync" mapstructure:"autosync"`
	Fetch     string `yaml:"fetch" mapstructure:"fetch"`
	Calendar  string `yaml:"calendar" mapstructure:"calendar"`
	Reminders string `yaml:"reminders" mapstructure:"reminders"`
}

type CalendarConfig struct {
	// Days is the length of the calendar window starting today.
	Days int `yaml:"days" mapstructure:"days"`
}

// CacheConfig holds the configuration for the cache engine.
type CacheConfig struct {
	// Type is the type of cache engine to use (e.g., "memory", "redis").
	Type CacheType `yaml:"type" mapstructure:"type"`
	// RedisURL is the URL for the Redis cache if using Redis.
	RedisURL string `yaml:"redis_url" mapstructure:"redis_url"`
	// TTL is the expiration of cached API responses.
	TTL time.Duration `yaml:"ttl" mapstructure:"ttl"`
}

// RemindersConfig holds the configuration for upcoming episode reminders.
type RemindersConfig struct {
	// Enabled indicates whether reminders are sent at all.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// LeadTime is how long before the air date a reminder is sent.
	LeadTime time.Duration `yaml:"lead_time" mapstructure:"lead_time"`
}

// EmailConfig holds the email notification configuration.
type EmailConfig struct {
	// Enabled indicates whether email notifications are enabled.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// SMTPHost is the SMTP server host.
	SMTPHost string `yaml:"smtp_host" mapstructure:"smtp_host"`
	// SMTPPort is the SMTP server port.
	SMTPPort int `yaml:"smtp_port" mapstructure:"smtp_port"`
	// Username is the SMTP username.
	Username string `yaml:"username" mapstructure:"username"`
	// Password is the SMTP password.
	Password string `yaml:"password" mapstructure:"password"`
	// FromEmail is the email address from which notifications are sent.
	FromEmail string `yaml:"from_email" mapstructure:"from_email"`
	// FromName is the name from which notifications are sent.
	FromName string `yaml:"from_name" mapstructure:"from_name"`
	// To is the recipient of reminder emails.
	To string `yaml:"to" mapstructure:"to"`
	// UseTLS indicates whether to use TLS for the SMTP connection.
	UseTLS bool `yaml:"use_tls" mapstructure:"use_tls"`
	// UseSSL indicates whether to use SSL for the SMTP connection.
	UseSSL bool `yaml:"use_ssl" mapstructure:"use_ssl"`
	// InsecureSkipVerify indicates whether to skip TLS certificate verification.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify" mapstructure:"insecure_skip_verify"`
}

// NtfyConfig holds the ntfy notification configuration.
type NtfyConfig struct {
	// Enabled indicates whether ntfy notifications are enabled.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// ServerURL is the URL of the ntfy server.
	ServerURL string `yaml:"server_url" mapstructure:"server_url"`
	// Topic is the ntfy topic to publish notifications to.
	Topic string `yaml:"topic" mapstructure:"topic"`
	// Username is the ntfy username for authentication.
	Username string `yaml:"username" mapstructure:"username"`
	// Password is the ntfy password for authentication.
	Password string `yaml:"password" mapstructure:"password"`
	// Token is the ntfy token for authentication.
	Token string `yaml:"token" mapstructure:"token"`
}

// Load reads the configuration from the specified path and returns a Config struct.
// If path is empty, it will use default search paths for config files.
func Load(path string) (*Config, error) {
	v := viper.New()

	// bind some weirdly unsupported nested env vars
	bindNestedEnv(v)

	setDefaults(v)

	v.SetConfigType("yaml")
	v.SetEnvPrefix("MOVIESYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var configFileFound bool
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.moviesync")
		v.AddConfigPath("/etc/moviesync")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		configFileFound = true
	}

	if configFileFound {
		log.Debug("Using config file", "file", v.ConfigFileUsed())
		log.Debug("Some environment variables can be set with the MOVIESYNC_ prefix to override config file values")
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	sanitizeConfig(&c)

	if err := validateConfig(&c); err != nil {
		return nil, err
	}

	return &c, nil
}

// setDefaults sets default values for the configuration.
func setDefaults(v *viper.Viper) {
	v.SetDefault("listen", "0.0.0.0:3003")
	v.SetDefault("api_key", "")
	v.SetDefault("api.enabled", true)

	v.SetDefault("database.dir", "./data")

	v.SetDefault("tmdb.url", "https://api.themoviedb.org/3")
	v.SetDefault("tmdb.language", "en-US")
	v.SetDefault("tmdb.timeout", 30*time.Second)

	v.SetDefault("trakt.url", "https://api.trakt.tv")
	v.SetDefault("trakt.sync_strategy", SyncStrategyReplace)
	v.SetDefault("trakt.timeout", 30*time.Second)
	v.SetDefault("trakt.rate_limit.permits", 1000)
	v.SetDefault("trakt.rate_limit.period", 5*time.Minute)

	// TMDB allows roughly 40 requests per 10 seconds
	v.SetDefault("rate_limit.permits", 40)
	v.SetDefault("rate_limit.period", 10*time.Second)

	v.SetDefault("fetch.workers", 4)

	v.SetDefault("schedule.sync", "0 */6 * * *")
	v.SetDefault("schedule.autosync", "*/15 * * * *")
	v.SetDefault("schedule.fetch", "30 */6 * * *")
	v.SetDefault("schedule.calendar", "0 3 * * *")
	v.SetDefault("schedule.reminders", "0 * * * *")

	v.SetDefault("calendar.days", 7)

	v.SetDefault("cache.type", CacheTypeMemory)
	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.ttl", time.Hour)

	v.SetDefault("reminders.enabled", false)
	v.SetDefault("reminders.lead_time", 24*time.Hour)

	v.SetDefault("email.enabled", false)
	v.SetDefault("email.smtp_host", "")
	v.SetDefault("email.smtp_port", 587)
	v.SetDefault("email.username", "")
	v.SetDefault("email.password", "")
	v.SetDefault("email.from_name", "moviesync")
	v.SetDefault("email.to", "")
	v.SetDefault("email.use_tls", true)
	v.SetDefault("email.use_ssl", false)
	v.SetDefault("email.insecure_skip_verify", false)

	v.SetDefault("ntfy.enabled", false)
	v.SetDefault("ntfy.server_url", "https://ntfy.sh")
	v.SetDefault("ntfy.topic", "moviesync")
	v.SetDefault("ntfy.username", "")
	v.SetDefault("ntfy.password", "")
	v.SetDefault("ntfy.token", "")
}

// the auto env function from viper only works for nested structs, if the struct to which a value binds isn't nil.
// Secrets have no default, so they have to be bound manually.
func bindNestedEnv(v *viper.Viper) {
	v.MustBindEnv("tmdb.access_token", "MOVIESYNC_TMDB_ACCESS_TOKEN")
	v.MustBindEnv("trakt.client_id", "MOVIESYNC_TRAKT_CLIENT_ID")
	v.MustBindEnv("trakt.client_secret", "MOVIESYNC_TRAKT_CLIENT_SECRET")
	v.MustBindEnv("email.from_email", "MOVIESYNC_EMAIL_FROM_EMAIL")
}

// validateConfig validates the configuration.
func validateConfig(c *Config) error {
	if c == nil {
		return fmt.Errorf("missing moviesync config")
	}

	if c.API != nil && c.API.Enabled && c.APIKey == "" {
		return fmt.Errorf("api key is required when the api is enabled")
	}

	if c.Database == nil || c.Database.Dir == "" {
		return fmt.Errorf("database directory is required")
	}

	if c.TMDB == nil {
		return fmt.Errorf("missing tmdb config")
	}
	if c.TMDB.URL == "" {
		return fmt.Errorf("tmdb URL is required")
	}
	if c.TMDB.AccessToken == "" {
		return fmt.Errorf("tmdb access token is required")
	}

	if c.Trakt == nil {
		return fmt.Errorf("missing trakt config")
	}
	if c.Trakt.URL == "" {
		return fmt.Errorf("trakt URL is required")
	}
	if c.Trakt.ClientID == "" {
		return fmt.Errorf("trakt client ID is required")
	}
	if c.Trakt.ClientSecret == "" {
		return fmt.Errorf("trakt client secret is required")
	}
	switch c.Trakt.SyncStrategy {
	case SyncStrategyReplace, SyncStrategyMerge:
	default:
		return fmt.Errorf("trakt sync strategy must be one of %q or %q, got %q", SyncStrategyReplace, SyncStrategyMerge, c.Trakt.SyncStrategy)
	}

	if err := validateRateLimit("rate_limit", c.RateLimit); err != nil {
		return err
	}
	if err := validateRateLimit("trakt.rate_limit", c.Trakt.RateLimit); err != nil {
		return err
	}

	if c.Schedule == nil {
		return fmt.Errorf("missing schedule config")
	}
	for name, expr := range map[string]string{
		"sync":      c.Schedule.Sync,
		"autosync":  c.Schedule.AutoSync,
		"fetch":     c.Schedule.Fetch,
		"calendar":  c.Schedule.Calendar,
		"reminders": c.Schedule.Reminders,
	} {
		if expr == "" {
			return fmt.Errorf("%s schedule is required", name)
		}
		// Basic validation for cron format (5 fields)
		if len(strings.Fields(expr)) != 5 {
			return fmt.Errorf("%s schedule must be a valid cron expression with 5 fields (minute hour day month weekday)", name)
		}
	}

	if c.Cache != nil {
		if c.Cache.Type == "" {
			return fmt.Errorf("cache type is required when cache is enabled")
		}
		if c.Cache.Type != CacheTypeMemory && c.Cache.Type != CacheTypeRedis {
			return fmt.Errorf("unknown cache type %q", c.Cache.Type)
		}
		if c.Cache.Type == CacheTypeRedis && c.Cache.RedisURL == "" {
			return fmt.Errorf("Redis URL is required when Redis cache is enabled") //nolint:staticcheck
		}
	} else {
		c.Cache = &CacheConfig{
			Type: CacheTypeMemory,
			TTL:  time.Hour,
		}
	}

	if c.Ntfy != nil && c.Ntfy.Enabled {
		if c.Ntfy.ServerURL == "" {
			return fmt.Errorf("ntfy server URL is required when ntfy is enabled")
		}
		if c.Ntfy.Topic == "" {
			return fmt.Errorf("ntfy topic is required when ntfy is enabled")
		}
	}

	if c.Email != nil && c.Email.Enabled {
		if c.Email.SMTPHost == "" {
			return fmt.Errorf("SMTP host is required when email is enabled")
		}
		if c.Email.FromEmail == "" {
			return fmt.Errorf("from email is required when email is enabled")
		}
		if c.Email.To == "" {
			return fmt.Errorf("recipient email is required when email is enabled")
		}
	}

	return nil
}

func validateRateLimit(name string, rl *RateLimitConfig) error {
	if rl == nil {
		return fmt.Errorf("missing %s config", name)
	}
	if rl.Permits <= 0 {
		return fmt.Errorf("%s.permits must be greater than 0", name)
	}
	if rl.Period <= 0 {
		return fmt.Errorf("%s.period must be greater than 0", name)
	}
	return nil
}

// sanitizeConfig sanitizes the configuration values.
func sanitizeConfig(c *Config) {
	if c == nil {
		return
	}

	c.Listen = urlSanitize(c.Listen)

	if c.TMDB != nil {
		c.TMDB.URL = urlSanitize(c.TMDB.URL)
	}

	if c.Trakt != nil {
		c.Trakt.URL = urlSanitize(c.Trakt.URL)
		c.Trakt.SyncStrategy = SyncStrategy(strings.ToLower(strings.TrimSpace(string(c.Trakt.SyncStrategy))))
	}

	if c.Ntfy != nil {
		c.Ntfy.ServerURL = urlSanitize(c.Ntfy.ServerURL)
	}
}

func urlSanitize(url string) string {
	return strings.TrimSuffix(strings.TrimSpace(url), "/")
}

// GetFetchWorkers returns the number of detail fetch workers with proper defaults.
func (c *Config) GetFetchWorkers() int {
	if c == nil || c.Fetch == nil || c.Fetch.Workers <= 0 {
		return 4
	}
	return c.Fetch.Workers
}

// GetCalendarDays returns the calendar window in days with proper defaults.
func (c *Config) GetCalendarDays() int {
	if c == nil || c.Calendar == nil || c.Calendar.Days <= 0 {
		return 7
	}
	return c.Calendar.Days
}

// GetSyncStrategy returns the trakt sync strategy, defaulting to replace.
func (c *Config) GetSyncStrategy() SyncStrategy {
	if c == nil || c.Trakt == nil || c.Trakt.SyncStrategy == "" {
		return SyncStrategyReplace
	}
	return c.Trakt.SyncStrategy
}

// GetReminderLeadTime returns the reminder lead time with proper defaults.
func (c *Config) GetReminderLeadTime() time.Duration {
	if c == nil || c.Reminders == nil || c.Reminders.LeadTime <= 0 {
		return 24 * time.Hour
	}
	return c.Reminders.LeadTime
}

// GetCacheTTL returns the cache expiration with proper defaults.
func (c *Config) GetCacheTTL() time.Duration {
	if c == nil || c.Cache == nil || c.Cache.TTL <= 0 {
		return time.Hour
	}
	return c.Cache.TTL
}
