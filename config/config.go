// Package config loads service settings from defaults, an optional YAML file,
// a .env file and the environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	URL    string `mapstructure:"url"`
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Issuer string        `mapstructure:"issuer"`
	TTL    time.Duration `mapstructure:"ttl"`
}

type RedisConfig struct {
	// ConnectionString is a redis:// URL or "host:port,password=...,ssl=True".
	// Empty disables caching, idempotency and dedupe.
	ConnectionString string        `mapstructure:"connection_string"`
	BoardCacheTTL    time.Duration `mapstructure:"board_cache_ttl"`
	IdempotencyTTL   time.Duration `mapstructure:"idempotency_ttl"`
	DedupeTTL        time.Duration `mapstructure:"dedupe_ttl"`
}

type OverdueConfig struct {
	Queue                   string        `mapstructure:"queue"`
	StorageConnectionString string        `mapstructure:"storage_connection_string"`
	SweepInterval           time.Duration `mapstructure:"sweep_interval"`
	Workers                 int           `mapstructure:"workers"`
	Buffer                  int           `mapstructure:"buffer"`
	PublishTimeout          time.Duration `mapstructure:"publish_timeout"`
	HandoffTimeout          time.Duration `mapstructure:"handoff_timeout"`
}

type LogConfig struct {
	Format string `mapstructure:"format"`
	Debug  bool   `mapstructure:"debug"`
}

// Config is the full service configuration.
type Config struct {
	ListenAddr     string         `mapstructure:"listen_addr"`
	RequestTimeout time.Duration  `mapstructure:"request_timeout"`
	CORSOrigins    []string       `mapstructure:"cors_origins"`
	BcryptCost     int            `mapstructure:"bcrypt_cost"`
	SeedColumns    []string       `mapstructure:"seed_columns"`
	Log            LogConfig      `mapstructure:"log"`
	Database       DatabaseConfig `mapstructure:"database"`
	JWT            JWTConfig      `mapstructure:"jwt"`
	Redis          RedisConfig    `mapstructure:"redis"`
	Overdue        OverdueConfig  `mapstructure:"overdue"`
}

var envBindings = map[string][]string{
	"listen_addr":                       {"LISTEN_ADDR"},
	"request_timeout":                   {"REQUEST_TIMEOUT"},
	"cors_origins":                      {"CORS_ORIGINS"},
	"bcrypt_cost":                       {"BCRYPT_COST"},
	"seed_columns":                      {"BOARD_SEED_COLUMNS"},
	"log.format":                        {"LOG_FORMAT"},
	"log.debug":                         {"DEBUG"},
	"database.driver":                   {"DATABASE_DRIVER"},
	"database.url":                      {"DATABASE_URL"},
	"jwt.secret":                        {"JWT_SECRET"},
	"jwt.issuer":                        {"JWT_ISSUER"},
	"jwt.ttl":                           {"JWT_TTL"},
	"redis.connection_string":           {"REDIS_CONNECTION_STRING"},
	"redis.board_cache_ttl":             {"BOARD_CACHE_TTL"},
	"redis.idempotency_ttl":             {"IDEMPOTENCY_TTL"},
	"redis.dedupe_ttl":                  {"DEDUPER_TTL"},
	"overdue.queue":                     {"OVERDUE_QUEUE"},
	"overdue.storage_connection_string": {"STORAGE_CONNECTION_STRING"},
	"overdue.sweep_interval":            {"OVERDUE_SWEEP_INTERVAL"},
	"overdue.workers":                   {"OVERDUE_WORKERS"},
	"overdue.buffer":                    {"OVERDUE_BUFFER"},
	"overdue.publish_timeout":           {"OVERDUE_PUBLISH_TIMEOUT"},
	"overdue.handoff_timeout":           {"OVERDUE_HANDOFF_TIMEOUT"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("request_timeout", 30*time.Second)
	v.SetDefault("cors_origins", []string{"*"})
	v.SetDefault("bcrypt_cost", 10)
	v.SetDefault("seed_columns", []string{"To-do", "Doing", "Done"})
	v.SetDefault("log.format", "text")
	v.SetDefault("log.debug", false)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.url", "kanban.db")
	v.SetDefault("jwt.issuer", "kanban-api")
	v.SetDefault("jwt.ttl", 7*24*time.Hour)
	v.SetDefault("redis.board_cache_ttl", 5*time.Minute)
	v.SetDefault("redis.idempotency_ttl", 24*time.Hour)
	v.SetDefault("redis.dedupe_ttl", 30*24*time.Hour)
	v.SetDefault("overdue.sweep_interval", time.Duration(0))
	v.SetDefault("overdue.workers", 4)
	v.SetDefault("overdue.buffer", 256)
	v.SetDefault("overdue.publish_timeout", 30*time.Second)
	v.SetDefault("overdue.handoff_timeout", 5*time.Second)
}

// Load reads configuration. path may be empty; a missing file is not an
// error. A .env file in the working directory is loaded first without
// overriding variables already set.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	for key, envs := range envBindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("binding %s: %w", key, err)
		}
	}

	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// Azure Functions custom handlers announce their port this way.
	if port, ok := os.LookupEnv("FUNCTIONS_CUSTOMHANDLER_PORT"); ok && port != "" {
		cfg.ListenAddr = ":" + port
	}
	cfg.Database.Driver = strings.ToLower(strings.TrimSpace(cfg.Database.Driver))
	cfg.SeedColumns = trimAll(cfg.SeedColumns)
	cfg.CORSOrigins = trimAll(cfg.CORSOrigins)
	return cfg, nil
}

// Validate checks settings every command needs.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}
	if c.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if c.Overdue.Queue != "" && c.Overdue.StorageConnectionString == "" {
		return errors.New("overdue.queue requires STORAGE_CONNECTION_STRING")
	}
	if c.Overdue.SweepInterval < 0 {
		return errors.New("overdue.sweep_interval must not be negative")
	}
	return nil
}

// ValidateServer additionally checks settings only the HTTP server needs.
func (c *Config) ValidateServer() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.JWT.Secret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.JWT.TTL <= 0 {
		return errors.New("jwt.ttl must be positive")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("request_timeout must be positive")
	}
	if c.ListenAddr == "" {
		return errors.New("listen_addr is required")
	}
	return nil
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
