package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mathias-muench/igc-lab/internal/corpus"
	"github.com/mathias-muench/igc-lab/internal/flight"
	"github.com/mathias-muench/igc-lab/internal/normalize"
)

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// PostgresDB wraps a PostgreSQL connection pool for flight metadata.
type PostgresDB struct {
	pool *pgxpool.Pool
}

// OpenPostgres opens a connection pool to PostgreSQL.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*PostgresDB, error) {
	connStr := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	// Test the connection.
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresDB{pool: pool}, nil
}

// Close closes the PostgreSQL connection pool.
func (d *PostgresDB) Close() {
	d.pool.Close()
}

// Pool returns the underlying connection pool.
func (d *PostgresDB) Pool() *pgxpool.Pool {
	return d.pool
}

// CreateSchema creates the PostgreSQL tables.
func (d *PostgresDB) CreateSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS flight_metadata (
		flight_key        TEXT PRIMARY KEY,
		manufacturer_code TEXT NOT NULL DEFAULT '',
		unique_id         TEXT NOT NULL DEFAULT '',
		flight_date       TEXT NOT NULL DEFAULT '',
		opaque_key        TEXT NOT NULL DEFAULT '',
		source            TEXT,
		pilot             TEXT,
		competition       TEXT,
		class             TEXT,
		glider_type       TEXT,
		points            INTEGER,
		start_time        TIMESTAMPTZ,
		finish_time       TIMESTAMPTZ,
		first_fix         TIMESTAMPTZ NOT NULL,
		last_fix          TIMESTAMPTZ NOT NULL,
		fix_count         INTEGER NOT NULL,
		thermal_count     INTEGER NOT NULL,
		updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_flight_metadata_pilot ON flight_metadata(pilot);
	CREATE INDEX IF NOT EXISTS idx_flight_metadata_competition ON flight_metadata(competition, class);

	CREATE TABLE IF NOT EXISTS flight_rejections (
		id          SERIAL PRIMARY KEY,
		flight_key  TEXT NOT NULL,
		source      TEXT,
		notes       JSONB,
		error       TEXT,
		rejected_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_flight_rejections_key ON flight_rejections(flight_key);
	`

	_, err := d.pool.Exec(ctx, schema)
	if err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

const upsertMetadataSQL = `
	INSERT INTO flight_metadata (flight_key, manufacturer_code, unique_id, flight_date, opaque_key,
		source, pilot, competition, class, glider_type, points, start_time, finish_time,
		first_fix, last_fix, fix_count, thermal_count)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	ON CONFLICT (flight_key) DO UPDATE SET
		source = EXCLUDED.source,
		pilot = COALESCE(EXCLUDED.pilot, flight_metadata.pilot),
		competition = COALESCE(EXCLUDED.competition, flight_metadata.competition),
		class = COALESCE(EXCLUDED.class, flight_metadata.class),
		glider_type = COALESCE(EXCLUDED.glider_type, flight_metadata.glider_type),
		points = COALESCE(EXCLUDED.points, flight_metadata.points),
		start_time = COALESCE(EXCLUDED.start_time, flight_metadata.start_time),
		finish_time = COALESCE(EXCLUDED.finish_time, flight_metadata.finish_time),
		first_fix = EXCLUDED.first_fix,
		last_fix = EXCLUDED.last_fix,
		fix_count = EXCLUDED.fix_count,
		thermal_count = EXCLUDED.thermal_count,
		updated_at = NOW()
`

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// UpsertMetadata inserts or updates metadata rows in one batch. Earlier
// rejections of the same flights are cleared.
func (d *PostgresDB) UpsertMetadata(ctx context.Context, rows []normalize.MetadataRow) error {
	if len(rows) == 0 {
		return nil
	}

	keys := make([]string, len(rows))
	for i, m := range rows {
		keys[i] = m.Key.String()
	}
	if _, err := d.pool.Exec(ctx, `DELETE FROM flight_rejections WHERE flight_key = ANY($1)`, keys); err != nil {
		return fmt.Errorf("clear rejections: %w", err)
	}

	batch := &pgx.Batch{}
	for _, m := range rows {
		batch.Queue(upsertMetadataSQL,
			m.Key.String(), m.Key.ManufacturerCode, m.Key.UniqueID, m.Key.Date, m.Key.Opaque,
			nullableString(m.Source), nullableString(m.Pilot), nullableString(m.Competition),
			nullableString(m.Class), nullableString(m.GliderType), m.Points, m.Start, m.Finish,
			m.FirstFix, m.LastFix, m.Fixes, m.Thermals)
	}

	br := d.pool.SendBatch(ctx, batch)
	defer br.Close()
	for _, m := range rows {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("upsert metadata %s: %w", m.Key, err)
		}
	}
	return nil
}

// InsertRejections records flights dropped by a lenient build. Metadata
// and earlier rejections stored under the same keys are removed first.
func (d *PostgresDB) InsertRejections(ctx context.Context, rejected []corpus.Rejection) error {
	if len(rejected) == 0 {
		return nil
	}

	keys := make([]string, len(rejected))
	for i, r := range rejected {
		keys[i] = r.Key.String()
	}
	for _, table := range []string{"flight_metadata", "flight_rejections"} {
		if _, err := d.pool.Exec(ctx, `DELETE FROM `+table+` WHERE flight_key = ANY($1)`, keys); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	for _, r := range rejected {
		notesJSON, err := json.Marshal(r.Notes)
		if err != nil {
			return fmt.Errorf("marshal notes: %w", err)
		}
		var errText *string
		if r.Err != nil {
			s := r.Err.Error()
			errText = &s
		}
		_, err = d.pool.Exec(ctx, `
			INSERT INTO flight_rejections (flight_key, source, notes, error) VALUES ($1, $2, $3, $4)
		`, r.Key.String(), nullableString(r.Source), notesJSON, errText)
		if err != nil {
			return fmt.Errorf("insert rejection %s: %w", r.Key, err)
		}
	}
	return nil
}

const pgMetadataColumns = `manufacturer_code, unique_id, flight_date, opaque_key, source, pilot,
	competition, class, glider_type, points, start_time, finish_time, first_fix, last_fix,
	fix_count, thermal_count`

func scanPGMetadata(row pgx.Row) (normalize.MetadataRow, error) {
	var (
		m                                  normalize.MetadataRow
		source, pilot, comp, class, glider *string
	)
	err := row.Scan(&m.Key.ManufacturerCode, &m.Key.UniqueID, &m.Key.Date, &m.Key.Opaque,
		&source, &pilot, &comp, &class, &glider, &m.Points, &m.Start, &m.Finish,
		&m.FirstFix, &m.LastFix, &m.Fixes, &m.Thermals)
	if err != nil {
		return m, err
	}
	deref := func(p *string) string {
		if p == nil {
			return ""
		}
		return *p
	}
	m.Source, m.Pilot, m.Competition = deref(source), deref(pilot), deref(comp)
	m.Class, m.GliderType = deref(class), deref(glider)
	m.FirstFix, m.LastFix = m.FirstFix.UTC(), m.LastFix.UTC()
	if m.Start != nil {
		t := m.Start.UTC()
		m.Start = &t
	}
	if m.Finish != nil {
		t := m.Finish.UTC()
		m.Finish = &t
	}
	return m, nil
}

// GetMetadata retrieves one flight's metadata. It returns nil when the
// flight is unknown.
func (d *PostgresDB) GetMetadata(ctx context.Context, key flight.Key) (*normalize.MetadataRow, error) {
	m, err := scanPGMetadata(d.pool.QueryRow(ctx,
		`SELECT `+pgMetadataColumns+` FROM flight_metadata WHERE flight_key = $1`, key.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMetadata returns every flight of a competition, or all flights when
// competition is empty.
func (d *PostgresDB) ListMetadata(ctx context.Context, competition string) ([]normalize.MetadataRow, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT `+pgMetadataColumns+` FROM flight_metadata
		WHERE $1 = '' OR competition = $1
		ORDER BY opaque_key, manufacturer_code, unique_id, flight_date
	`, competition)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []normalize.MetadataRow
	for rows.Next() {
		m, err := scanPGMetadata(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Rejections returns the stored rejections, oldest first.
func (d *PostgresDB) Rejections(ctx context.Context) ([]corpus.Rejection, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT flight_key, source, notes FROM flight_rejections ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("query rejections: %w", err)
	}
	defer rows.Close()

	var out []corpus.Rejection
	for rows.Next() {
		var (
			key       string
			source    *string
			notesJSON []byte
		)
		if err := rows.Scan(&key, &source, &notesJSON); err != nil {
			return nil, fmt.Errorf("scan rejection: %w", err)
		}
		r := corpus.Rejection{Key: flight.ParseKey(key)}
		if source != nil {
			r.Source = *source
		}
		if len(notesJSON) > 0 {
			if err := json.Unmarshal(notesJSON, &r.Notes); err != nil {
				return nil, fmt.Errorf("decode notes of %s: %w", key, err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
