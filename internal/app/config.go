package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	StoreDisk   = "disk"
	StoreMemory = "memory"
)

type Config struct {
	HTTPAddr  string `env:"HTTP_ADDR"  envDefault:":8080"`
	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	// Watch history is disabled when MongoURI is empty.
	MongoURI      string `env:"MONGO_URI"`
	MongoDatabase string `env:"MONGO_DB" envDefault:"playerhub"`

	CacheEnabled          bool   `env:"CACHE_ENABLED"                envDefault:"true"`
	CacheStore            string `env:"CACHE_STORE"                  envDefault:"disk"`
	CacheDir              string `env:"CACHE_DIR"                    envDefault:"data/cache"`
	CacheMemoryLimitBytes int64  `env:"CACHE_MEMORY_LIMIT_BYTES"     envDefault:"268435456"`
	FetchChunkBytes       int    `env:"CACHE_FETCH_CHUNK_BYTES"      envDefault:"65536"`
	FetchRateLimitBytes   int    `env:"CACHE_FETCH_RATE_LIMIT_BYTES" envDefault:"0"`
	IdleFetchBytes        int64  `env:"CACHE_IDLE_FETCH_BYTES"       envDefault:"16777216"`
	RideWindowBytes       int64  `env:"CACHE_RIDE_WINDOW_BYTES"      envDefault:"262144"`
	PreloadBytes          int64  `env:"CACHE_PRELOAD_BYTES"          envDefault:"4194304"`

	// Disk pressure pruning is off when zero.
	MinFreeBytes int64 `env:"CACHE_MIN_FREE_BYTES" envDefault:"0"`

	PlayerLookahead time.Duration `env:"PLAYER_LOOKAHEAD" envDefault:"2s"`

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
	RateLimitRPS       float64  `env:"HTTP_RATE_LIMIT_RPS"   envDefault:"100"`
	RateLimitBurst     int      `env:"HTTP_RATE_LIMIT_BURST" envDefault:"200"`
}

// LoadConfig reads the environment and validates the result.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.LogFormat = strings.ToLower(strings.TrimSpace(cfg.LogFormat))
	cfg.CacheStore = strings.ToLower(strings.TrimSpace(cfg.CacheStore))
	cfg.MongoURI = strings.TrimSpace(cfg.MongoURI)

	origins := cfg.CORSAllowedOrigins[:0]
	for _, o := range cfg.CORSAllowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	cfg.CORSAllowedOrigins = origins

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	var errs []error
	switch c.CacheStore {
	case StoreDisk:
		if strings.TrimSpace(c.CacheDir) == "" {
			errs = append(errs, errors.New("CACHE_DIR is required for the disk store"))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("CACHE_STORE must be %q or %q, got %q", StoreDisk, StoreMemory, c.CacheStore))
	}
	if c.CacheMemoryLimitBytes < 0 {
		errs = append(errs, errors.New("CACHE_MEMORY_LIMIT_BYTES must not be negative"))
	}
	if c.FetchChunkBytes <= 0 {
		errs = append(errs, errors.New("CACHE_FETCH_CHUNK_BYTES must be positive"))
	}
	if c.FetchRateLimitBytes < 0 {
		errs = append(errs, errors.New("CACHE_FETCH_RATE_LIMIT_BYTES must not be negative"))
	}
	if c.RideWindowBytes < 0 {
		errs = append(errs, errors.New("CACHE_RIDE_WINDOW_BYTES must not be negative"))
	}
	if c.PreloadBytes < 0 {
		errs = append(errs, errors.New("CACHE_PRELOAD_BYTES must not be negative"))
	}
	if c.MinFreeBytes < 0 {
		errs = append(errs, errors.New("CACHE_MIN_FREE_BYTES must not be negative"))
	}
	if c.PlayerLookahead <= 0 {
		errs = append(errs, errors.New("PLAYER_LOOKAHEAD must be positive"))
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		errs = append(errs, errors.New("HTTP rate limit must be positive"))
	}
	return errors.Join(errs...)
}
