package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// DatabaseConfig holds the database connection information.
type DatabaseConfig struct {
	Type string `yaml:"type" env:"TYPE"`
	DSN  string `yaml:"dsn" env:"DSN"`
}

// SearchConfig controls the lookup chain and the key loop.
type SearchConfig struct {
	EngineID          string `yaml:"engine_id" env:"ENGINE_ID"`
	QuerySuffix       string `yaml:"query_suffix" env:"QUERY_SUFFIX"`
	PlaceholderURL    string `yaml:"placeholder_url" env:"PLACEHOLDER_URL"`
	SpellingImageURL  string `yaml:"spelling_image_url" env:"SPELLING_IMAGE_URL"`
	MinUsableKeys     int    `yaml:"min_usable_keys" env:"MIN_USABLE_KEYS"`
	ExhaustedCooldown string `yaml:"exhausted_cooldown" env:"EXHAUSTED_COOLDOWN"`
	RecentWindow      string `yaml:"recent_window" env:"RECENT_WINDOW"`
	UpstreamTimeout   string `yaml:"upstream_timeout" env:"UPSTREAM_TIMEOUT"`
	// AbortOnBadRequest stops trying further keys once any key gets a 400.
	// LoadConfig defaults it to true.
	AbortOnBadRequest bool `yaml:"abort_on_bad_request" env:"ABORT_ON_BAD_REQUEST"`
	CookieMaxAge      int  `yaml:"cookie_max_age" env:"COOKIE_MAX_AGE"`
}

// GoogleConfig holds Custom Search client settings.
type GoogleConfig struct {
	Endpoint string `yaml:"endpoint" env:"ENDPOINT"`
}

// TMDBConfig holds settings for the TMDB fallback and details proxy.
type TMDBConfig struct {
	Token     string `yaml:"token" env:"TOKEN"`
	Endpoint  string `yaml:"endpoint" env:"ENDPOINT"`
	ImageBase string `yaml:"image_base" env:"IMAGE_BASE"`
}

// RedisConfig enables the shared cache tier when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
	TTL      string `yaml:"ttl" env:"TTL"`
}

// AdminConfig holds configuration for the admin API.
type AdminConfig struct {
	Password string `yaml:"password" env:"PASSWORD"`
}

// SchedulerConfig holds configuration for the scheduler.
type SchedulerConfig struct {
	KeyRestoreSpec     string `yaml:"key_restore_spec" env:"KEY_RESTORE_SPEC"`
	ExtraInfoRetention string `yaml:"extra_info_retention" env:"EXTRA_INFO_RETENTION"`
}

// Config is the root configuration of the service.
type Config struct {
	Database  DatabaseConfig  `yaml:"database" envPrefix:"DATABASE_"`
	Search    SearchConfig    `yaml:"search" envPrefix:"SEARCH_"`
	Google    GoogleConfig    `yaml:"google" envPrefix:"GOOGLE_"`
	TMDB      TMDBConfig      `yaml:"tmdb" envPrefix:"TMDB_"`
	Redis     RedisConfig     `yaml:"redis" envPrefix:"REDIS_"`
	Admin     AdminConfig     `yaml:"admin" envPrefix:"ADMIN_"`
	Scheduler SchedulerConfig `yaml:"scheduler" envPrefix:"SCHEDULER_"`
	Port      int             `yaml:"port" env:"PORT"`
	Debug     bool            `yaml:"debug" env:"DEBUG"`
}

const envPrefix = "GOPOSTER_"

// Defaults mirror the behavior of the legacy search script.
const (
	DefaultPlaceholderURL    = "/assets/img/not-found.jpg"
	DefaultSpellingImageURL  = "https://upload.wikimedia.org/wikipedia/commons/b/bc/Refresh_icon.png"
	DefaultQuerySuffix       = "movie or web series full hd poster"
	DefaultMinUsableKeys     = 10
	DefaultExhaustedCooldown = 20 * time.Minute
	DefaultRecentWindow      = 24 * time.Hour
	DefaultUpstreamTimeout   = 10 * time.Second
	DefaultCookieMaxAge      = 360000
	DefaultRedisTTL          = 100 * time.Hour
	DefaultRetention         = 30 * 24 * time.Hour
	DefaultPort              = 8080
)

// LoadConfig reads and parses the configuration file, then applies .env and
// GOPOSTER_* environment overrides. It returns the config and any warnings
// about defaulted values.
var LoadConfig = func(path string) (*Config, []string, error) {
	var config Config
	var warnings []string
	// Seeded before parsing so an explicit false in the file or env wins.
	config.Search.AbortOnBadRequest = true

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("failed to read config file: %w", err)
	}
	// A missing file is fine, the environment may carry everything.

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		warnings = append(warnings, fmt.Sprintf("failed to load .env file: %v", err))
	}

	if err := env.ParseWithOptions(&config, env.Options{Prefix: envPrefix}); err != nil {
		return nil, nil, fmt.Errorf("failed to parse environment overrides: %w", err)
	}

	warnings = append(warnings, config.applyDefaults()...)

	if config.Database.Type == "" || config.Database.DSN == "" {
		return nil, nil, fmt.Errorf("database type and dsn must be configured in config.yaml or via environment variables")
	}
	if err := config.validate(); err != nil {
		return nil, nil, err
	}

	return &config, warnings, nil
}

func (c *Config) applyDefaults() []string {
	var warnings []string
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Search.PlaceholderURL == "" {
		c.Search.PlaceholderURL = DefaultPlaceholderURL
	}
	if c.Search.SpellingImageURL == "" {
		c.Search.SpellingImageURL = DefaultSpellingImageURL
	}
	if c.Search.QuerySuffix == "" {
		c.Search.QuerySuffix = DefaultQuerySuffix
	}
	if c.Search.MinUsableKeys == 0 {
		c.Search.MinUsableKeys = DefaultMinUsableKeys
		warnings = append(warnings, fmt.Sprintf("search.min_usable_keys not set, using default value of %d", DefaultMinUsableKeys))
	}
	if c.Search.CookieMaxAge == 0 {
		c.Search.CookieMaxAge = DefaultCookieMaxAge
	}
	if c.Search.EngineID == "" {
		warnings = append(warnings, "search.engine_id not set, Google lookups will fail until it is configured")
	}
	if c.Admin.Password == "" {
		warnings = append(warnings, "admin.password not set, admin API is disabled")
	}
	return warnings
}

func (c *Config) validate() error {
	for name, value := range map[string]string{
		"search.exhausted_cooldown":      c.Search.ExhaustedCooldown,
		"search.recent_window":           c.Search.RecentWindow,
		"search.upstream_timeout":        c.Search.UpstreamTimeout,
		"redis.ttl":                      c.Redis.TTL,
		"scheduler.extra_info_retention": c.Scheduler.ExtraInfoRetention,
	} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid duration for %s: %w", name, err)
		}
	}
	return nil
}

func durationOr(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return d
}

// Cooldown returns how long an exhausted key rests before it may be restored.
func (s SearchConfig) Cooldown() time.Duration {
	return durationOr(s.ExhaustedCooldown, DefaultExhaustedCooldown)
}

// Window returns how far back unapproved queries are still served.
func (s SearchConfig) Window() time.Duration {
	return durationOr(s.RecentWindow, DefaultRecentWindow)
}

// Timeout returns the per-call upstream timeout.
func (s SearchConfig) Timeout() time.Duration {
	return durationOr(s.UpstreamTimeout, DefaultUpstreamTimeout)
}

// CacheTTL returns the Redis entry lifetime.
func (r RedisConfig) CacheTTL() time.Duration {
	return durationOr(r.TTL, DefaultRedisTTL)
}

// Retention returns how long extra_info rows are kept.
func (s SchedulerConfig) Retention() time.Duration {
	return durationOr(s.ExtraInfoRetention, DefaultRetention)
}
