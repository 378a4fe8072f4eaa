package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/mathias-muench/igc-lab/internal/corpus"
	"github.com/mathias-muench/igc-lab/internal/flight"
	"github.com/mathias-muench/igc-lab/internal/normalize"
)

// ErrNotConnected is returned when a read needs a backend the DB was
// opened without.
var ErrNotConnected = errors.New("backend not connected")

// Config holds database connection settings for every backend.
type Config struct {
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	SQLitePath string           `yaml:"sqlite_path"`
}

// DefaultConfig returns a configuration with default local development settings.
func DefaultConfig() Config {
	return Config{
		ClickHouse: ClickHouseConfig{
			Host:     "localhost",
			Port:     9000,
			Database: "igc",
			User:     "default",
			Password: "",
		},
		Postgres: PostgresConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "igc_corpus",
			User:     "igc",
			Password: "igc",
		},
		SQLitePath: "corpus.db",
	}
}

// CorpusWriter persists a finished corpus.
type CorpusWriter interface {
	SaveCorpus(ctx context.Context, c *corpus.Corpus) error
}

var (
	_ CorpusWriter = (*DB)(nil)
	_ CorpusWriter = (*SQLiteStore)(nil)
)

// DB wraps both ClickHouse and PostgreSQL connections.
type DB struct {
	CH *ClickHouseDB // ClickHouse for fix and thermal series.
	PG *PostgresDB   // PostgreSQL for flight metadata.
}

// Open opens connections to both ClickHouse and PostgreSQL.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	ch, err := OpenClickHouse(ctx, cfg.ClickHouse)
	if err != nil {
		return nil, fmt.Errorf("clickhouse: %w", err)
	}

	pg, err := OpenPostgres(ctx, cfg.Postgres)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("postgres: %w", err)
	}

	return &DB{CH: ch, PG: pg}, nil
}

// Close closes both database connections.
func (d *DB) Close() error {
	var errs []error
	if d.CH != nil {
		if err := d.CH.Close(); err != nil {
			errs = append(errs, fmt.Errorf("clickhouse: %w", err))
		}
	}
	if d.PG != nil {
		d.PG.Close()
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// CreateSchemas creates the schemas in both databases.
func (d *DB) CreateSchemas(ctx context.Context) error {
	if err := d.CH.CreateSchema(ctx); err != nil {
		return fmt.Errorf("clickhouse schema: %w", err)
	}
	if err := d.PG.CreateSchema(ctx); err != nil {
		return fmt.Errorf("postgres schema: %w", err)
	}
	return nil
}

// SaveCorpus writes the series to ClickHouse and the metadata to
// PostgreSQL. Either connection may be nil to skip that half.
func (d *DB) SaveCorpus(ctx context.Context, c *corpus.Corpus) error {
	if d.CH != nil {
		if err := d.CH.InsertFixes(ctx, c.Fixes); err != nil {
			return fmt.Errorf("clickhouse fixes: %w", err)
		}
		if err := d.CH.InsertThermals(ctx, c.Thermals); err != nil {
			return fmt.Errorf("clickhouse thermals: %w", err)
		}
	}
	if d.PG != nil {
		if err := d.PG.UpsertMetadata(ctx, c.Metadata); err != nil {
			return fmt.Errorf("postgres metadata: %w", err)
		}
		if err := d.PG.InsertRejections(ctx, c.Rejected); err != nil {
			return fmt.Errorf("postgres rejections: %w", err)
		}
	}
	return nil
}

// ListMetadata returns every flight stored in PostgreSQL.
func (d *DB) ListMetadata(ctx context.Context) ([]normalize.MetadataRow, error) {
	if d.PG == nil {
		return nil, fmt.Errorf("postgres: %w", ErrNotConnected)
	}
	return d.PG.ListMetadata(ctx, "")
}

// Metadata returns one flight's metadata. ok is false when it is unknown.
func (d *DB) Metadata(ctx context.Context, key flight.Key) (normalize.MetadataRow, bool, error) {
	if d.PG == nil {
		return normalize.MetadataRow{}, false, fmt.Errorf("postgres: %w", ErrNotConnected)
	}
	m, err := d.PG.GetMetadata(ctx, key)
	if err != nil || m == nil {
		return normalize.MetadataRow{}, false, err
	}
	return *m, true, nil
}

// Fixes returns one flight's fix rows from ClickHouse.
func (d *DB) Fixes(ctx context.Context, key flight.Key) ([]normalize.FixRow, error) {
	if d.CH == nil {
		return nil, fmt.Errorf("clickhouse: %w", ErrNotConnected)
	}
	return d.CH.QueryFixes(ctx, CHFixQuery{Key: key})
}

// Thermals returns one flight's thermal rows from ClickHouse.
func (d *DB) Thermals(ctx context.Context, key flight.Key) ([]normalize.ThermalRow, error) {
	if d.CH == nil {
		return nil, fmt.Errorf("clickhouse: %w", ErrNotConnected)
	}
	return d.CH.QueryThermals(ctx, key)
}

// Rejections returns the rejections stored in PostgreSQL.
func (d *DB) Rejections(ctx context.Context) ([]corpus.Rejection, error) {
	if d.PG == nil {
		return nil, fmt.Errorf("postgres: %w", ErrNotConnected)
	}
	return d.PG.Rejections(ctx)
}
