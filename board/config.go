package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"taskboard/board/localstore"
)

const envPrefix = "BOARD"

// Config is read from BOARD_* variables; command line flags win.
type Config struct {
	APIURL      string        `envconfig:"API_URL" default:"http://localhost:8080"`
	Token       string        `envconfig:"TOKEN"`
	Owner       string        `envconfig:"OWNER"`
	CacheDriver string        `envconfig:"CACHE_DRIVER" default:"file"`
	CacheDir    string        `envconfig:"CACHE_DIR" default:".taskboard"`
	RedisURL    string        `envconfig:"REDIS_URL"`
	Timeout     time.Duration `envconfig:"TIMEOUT" default:"10s"`
	Debug       bool          `envconfig:"DEBUG"`
}

func loadConfig(flags *pflag.FlagSet) (Config, error) {
	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	// lookups cannot fail: every name is bound by bindFlags with a matching type
	str := func(name string, dst *string) {
		if flags.Changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}
	str("api-url", &cfg.APIURL)
	str("token", &cfg.Token)
	str("owner", &cfg.Owner)
	str("cache", &cfg.CacheDriver)
	str("cache-dir", &cfg.CacheDir)
	str("redis-url", &cfg.RedisURL)
	if flags.Changed("timeout") {
		cfg.Timeout, _ = flags.GetDuration("timeout")
	}
	if flags.Changed("debug") {
		cfg.Debug, _ = flags.GetBool("debug")
	}

	if cfg.APIURL == "" {
		return Config{}, fmt.Errorf("api url must not be empty")
	}
	if cfg.Timeout <= 0 {
		return Config{}, fmt.Errorf("timeout must be positive, got %s", cfg.Timeout)
	}
	return cfg, nil
}

func bindFlags(flags *pflag.FlagSet) {
	flags.String("api-url", "", "task service base URL (BOARD_API_URL)")
	flags.String("token", "", "bearer token (BOARD_TOKEN)")
	flags.String("owner", "", "list tasks of this user when no token is given (BOARD_OWNER)")
	flags.String("cache", "", "local cache driver: file, redis or memory (BOARD_CACHE_DRIVER)")
	flags.String("cache-dir", "", "directory of the file cache (BOARD_CACHE_DIR)")
	flags.String("redis-url", "", "redis:// URL of the redis cache (BOARD_REDIS_URL)")
	flags.Duration("timeout", 0, "timeout of each task service call (BOARD_TIMEOUT)")
	flags.Bool("debug", false, "verbose logging (BOARD_DEBUG)")
}

// openCache returns the durable store named by cfg.CacheDriver and a close func.
func openCache(cfg Config) (localstore.Store, func() error, error) {
	noop := func() error { return nil }
	switch strings.ToLower(cfg.CacheDriver) {
	case "", "file":
		return localstore.NewFile(filepath.Clean(cfg.CacheDir)), noop, nil
	case "memory":
		return localstore.NewMemory(), noop, nil
	case "redis":
		if cfg.RedisURL == "" {
			return nil, nil, fmt.Errorf("redis cache requires BOARD_REDIS_URL")
		}
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		return localstore.NewRedis(client, "board:"), client.Close, nil
	}
	return nil, nil, fmt.Errorf("unsupported cache driver %q", cfg.CacheDriver)
}
