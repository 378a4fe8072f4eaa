// Package storage persists flight corpora.
//
// ClickHouse holds the large time series (fixes and thermals), PostgreSQL
// holds per-flight metadata and rejections, and SQLite keeps everything in
// one local file for single-machine use.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/mathias-muench/igc-lab/internal/flight"
	"github.com/mathias-muench/igc-lab/internal/normalize"
)

// ClickHouseConfig holds ClickHouse connection settings.
type ClickHouseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// ClickHouseDB wraps a ClickHouse connection for fix and thermal storage.
type ClickHouseDB struct {
	conn driver.Conn
}

// OpenClickHouse opens a connection to ClickHouse.
func OpenClickHouse(ctx context.Context, cfg ClickHouseConfig) (*ClickHouseDB, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout:     10 * time.Second,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}

	// Test the connection.
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}

	return &ClickHouseDB{conn: conn}, nil
}

// Close closes the ClickHouse connection.
func (d *ClickHouseDB) Close() error {
	return d.conn.Close()
}

// CreateSchema creates the ClickHouse tables.
func (d *ClickHouseDB) CreateSchema(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS fixes (
			flight_key          String,
			ts                  DateTime('UTC'),
			lat                 Nullable(Float64),
			lon                 Nullable(Float64),
			alt                 Nullable(Float64),
			gsp                 Nullable(Float64),
			bearing             Nullable(Float64),
			bearing_change_rate Nullable(Float64),
			flying              Nullable(Bool),
			circling            Nullable(Bool),
			in_task             Nullable(Bool),
			inserted_at         DateTime64(3) DEFAULT now64(3)
		)
		ENGINE = ReplacingMergeTree(inserted_at)
		PARTITION BY toYYYYMM(ts)
		ORDER BY (flight_key, ts)`,

		`CREATE TABLE IF NOT EXISTS thermals (
			flight_key  String,
			enter       DateTime64(6, 'UTC'),
			exit        DateTime64(6, 'UTC'),
			duration_s  Float64,
			climb       Nullable(Float64),
			inserted_at DateTime64(3) DEFAULT now64(3)
		)
		ENGINE = ReplacingMergeTree(inserted_at)
		PARTITION BY toYYYYMM(enter)
		ORDER BY (flight_key, enter)`,
	}

	for _, q := range queries {
		if err := d.conn.Exec(ctx, q); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

// InsertFixes stores fix rows in one batch.
func (d *ClickHouseDB) InsertFixes(ctx context.Context, rows []normalize.FixRow) error {
	if len(rows) == 0 {
		return nil
	}

	batch, err := d.conn.PrepareBatch(ctx, `
		INSERT INTO fixes (flight_key, ts, lat, lon, alt, gsp, bearing, bearing_change_rate, flying, circling, in_task)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, r := range rows {
		err := batch.Append(r.Key.String(), r.Time,
			floatPtr(r.Lat), floatPtr(r.Lon), floatPtr(r.Alt),
			floatPtr(r.GroundSpeed), floatPtr(r.Bearing), floatPtr(r.BearingChangeRate),
			boolPtr(r.Flying), boolPtr(r.Circling), boolPtr(r.InTask))
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// InsertThermals stores thermal rows in one batch.
func (d *ClickHouseDB) InsertThermals(ctx context.Context, rows []normalize.ThermalRow) error {
	if len(rows) == 0 {
		return nil
	}

	batch, err := d.conn.PrepareBatch(ctx, `INSERT INTO thermals (flight_key, enter, exit, duration_s, climb)`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, r := range rows {
		if err := batch.Append(r.Key.String(), r.Enter, r.Exit, r.Duration.Seconds(), floatPtr(r.Climb)); err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// CHFixQuery filters fix rows. From and To bound a half-open window
// [From, To), the same window Competition.InWindow uses; zero means
// unbounded.
type CHFixQuery struct {
	Key      flight.Key
	From, To time.Time
	Limit    int
}

func (q CHFixQuery) sql() (string, []interface{}) {
	query := `SELECT ts, lat, lon, alt, gsp, bearing, bearing_change_rate, flying, circling, in_task
		FROM fixes FINAL WHERE flight_key = ?`
	args := []interface{}{q.Key.String()}

	if !q.From.IsZero() {
		query += " AND ts >= ?"
		args = append(args, q.From)
	}
	if !q.To.IsZero() {
		query += " AND ts < ?"
		args = append(args, q.To)
	}
	query += " ORDER BY ts"
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}
	return query, args
}

// QueryFixes reads fix rows of one flight in time order.
func (d *ClickHouseDB) QueryFixes(ctx context.Context, q CHFixQuery) ([]normalize.FixRow, error) {
	query, args := q.sql()
	rows, err := d.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query fixes: %w", err)
	}
	defer rows.Close()

	var out []normalize.FixRow
	for rows.Next() {
		var (
			r                                normalize.FixRow
			lat, lon, alt, gsp, bearing, bcr *float64
			flying, circling, inTask         *bool
		)
		if err := rows.Scan(&r.Time, &lat, &lon, &alt, &gsp, &bearing, &bcr, &flying, &circling, &inTask); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		r.Key = q.Key
		r.Time = r.Time.UTC()
		r.Lat, r.Lon, r.Alt = derefFloat(lat), derefFloat(lon), derefFloat(alt)
		r.GroundSpeed, r.Bearing, r.BearingChangeRate = derefFloat(gsp), derefFloat(bearing), derefFloat(bcr)
		r.Flying, r.Circling, r.InTask = fromBoolPtr(flying), fromBoolPtr(circling), fromBoolPtr(inTask)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// QueryThermals reads thermal rows of one flight in entry order.
func (d *ClickHouseDB) QueryThermals(ctx context.Context, key flight.Key) ([]normalize.ThermalRow, error) {
	rows, err := d.conn.Query(ctx, `
		SELECT enter, exit, duration_s, climb FROM thermals FINAL WHERE flight_key = ? ORDER BY enter
	`, key.String())
	if err != nil {
		return nil, fmt.Errorf("query thermals: %w", err)
	}
	defer rows.Close()

	var out []normalize.ThermalRow
	for rows.Next() {
		var (
			r     = normalize.ThermalRow{Key: key}
			dur   float64
			climb *float64
		)
		if err := rows.Scan(&r.Enter, &r.Exit, &dur, &climb); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		r.Enter, r.Exit = r.Enter.UTC(), r.Exit.UTC()
		r.Duration = secondsDuration(dur)
		r.Climb = derefFloat(climb)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// CHStats counts stored rows.
type CHStats struct {
	Flights  uint64
	Fixes    uint64
	Thermals uint64
}

// GetStats returns row counts.
func (d *ClickHouseDB) GetStats(ctx context.Context) (*CHStats, error) {
	var stats CHStats
	if err := d.conn.QueryRow(ctx, `SELECT uniqExact(flight_key), count() FROM fixes FINAL`).Scan(&stats.Flights, &stats.Fixes); err != nil {
		return nil, fmt.Errorf("count fixes: %w", err)
	}
	if err := d.conn.QueryRow(ctx, `SELECT count() FROM thermals FINAL`).Scan(&stats.Thermals); err != nil {
		return nil, fmt.Errorf("count thermals: %w", err)
	}
	return &stats, nil
}
