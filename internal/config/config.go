// Package config loads the settings shared by the command line tools.
//
// Values come from built-in defaults, then an optional YAML file, then the
// environment (after an optional .env file), then command line flags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/mathias-muench/igc-lab/internal/corpus"
	"github.com/mathias-muench/igc-lab/internal/flight"
	"github.com/mathias-muench/igc-lab/internal/igc"
	"github.com/mathias-muench/igc-lab/internal/logging"
	"github.com/mathias-muench/igc-lab/internal/storage"
)

// NATSConfig addresses the notification server. An empty URL disables it.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// APIConfig configures the query server.
type APIConfig struct {
	Addr      string `yaml:"addr"`
	CacheSize int    `yaml:"cache_size"` // Flights whose fix tables are kept in memory.
}

// Config is the complete tool configuration.
type Config struct {
	Timezone string         `yaml:"timezone"` // Zone of competition annotations.
	Policy   corpus.Policy  `yaml:"policy"`
	Workers  int            `yaml:"workers"` // 0 means one per CPU.
	Parsing  igc.Config     `yaml:"parsing"`
	Storage  storage.Config `yaml:"storage"`
	NATS     NATSConfig     `yaml:"nats"`
	API      APIConfig      `yaml:"api"`
	Log      logging.Config `yaml:"log"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Timezone: flight.DefaultTimezone,
		Policy:   corpus.Lenient,
		Parsing:  igc.DefaultConfig(),
		Storage:  storage.DefaultConfig(),
		API:      APIConfig{Addr: ":8081", CacheSize: 64},
		Log:      logging.DefaultConfig(),
	}
}

// Load reads a YAML file over the defaults. An empty path returns the
// defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadDotEnv loads variables from .env files into the environment.
// Missing files are ignored and variables already set win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overrides settings from environment variables.
func (c *Config) ApplyEnv() error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}

	str("IGC_TIMEZONE", &c.Timezone)
	num("IGC_WORKERS", &c.Workers)
	if v := os.Getenv("IGC_POLICY"); v != "" {
		p, err := corpus.ParsePolicy(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("IGC_POLICY: %w", err))
		} else {
			c.Policy = p
		}
	}

	str("IGC_SQLITE", &c.Storage.SQLitePath)
	str("CLICKHOUSE_HOST", &c.Storage.ClickHouse.Host)
	num("CLICKHOUSE_PORT", &c.Storage.ClickHouse.Port)
	str("CLICKHOUSE_DATABASE", &c.Storage.ClickHouse.Database)
	str("CLICKHOUSE_USER", &c.Storage.ClickHouse.User)
	str("CLICKHOUSE_PASSWORD", &c.Storage.ClickHouse.Password)
	str("POSTGRES_HOST", &c.Storage.Postgres.Host)
	num("POSTGRES_PORT", &c.Storage.Postgres.Port)
	str("POSTGRES_DATABASE", &c.Storage.Postgres.Database)
	str("POSTGRES_USER", &c.Storage.Postgres.User)
	str("POSTGRES_PASSWORD", &c.Storage.Postgres.Password)

	str("NATS_URL", &c.NATS.URL)
	str("NATS_SUBJECT", &c.NATS.Subject)
	str("API_ADDR", &c.API.Addr)
	num("API_CACHE_SIZE", &c.API.CacheSize)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FILE", &c.Log.File)

	return errors.Join(errs...)
}

// Location resolves the annotation timezone.
func (c Config) Location() (*time.Location, error) {
	name := strings.TrimSpace(c.Timezone)
	if name == "" {
		name = flight.DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", name, err)
	}
	return loc, nil
}

// CorpusOptions returns the aggregator options for this configuration.
func (c Config) CorpusOptions() (corpus.Options, error) {
	loc, err := c.Location()
	if err != nil {
		return corpus.Options{}, err
	}
	parsing := c.Parsing
	parsing.Location = loc
	return corpus.Options{
		Policy:  c.Policy,
		Workers: c.Workers,
		Parsing: parsing,
	}, nil
}
