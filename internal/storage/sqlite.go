package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mathias-muench/igc-lab/internal/corpus"
	"github.com/mathias-muench/igc-lab/internal/flight"
	"github.com/mathias-muench/igc-lab/internal/normalize"
)

// SQLiteStore keeps a whole corpus in one local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens or creates a SQLite database at the given path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for better concurrent access.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	if err := createSQLiteSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func createSQLiteSchema(db *sql.DB) error {
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
		start_time        TEXT,
		finish_time       TEXT,
		first_fix         TEXT NOT NULL,
		last_fix          TEXT NOT NULL,
		fix_count         INTEGER NOT NULL,
		thermal_count     INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS fixes (
		flight_key          TEXT NOT NULL,
		ts                  INTEGER NOT NULL,
		lat                 REAL,
		lon                 REAL,
		alt                 REAL,
		gsp                 REAL,
		bearing             REAL,
		bearing_change_rate REAL,
		flying              INTEGER,
		circling            INTEGER,
		in_task             INTEGER,
		PRIMARY KEY (flight_key, ts)
	) WITHOUT ROWID;

	CREATE TABLE IF NOT EXISTS thermals (
		flight_key  TEXT NOT NULL,
		enter_us    INTEGER NOT NULL,
		exit_us     INTEGER NOT NULL,
		duration_us INTEGER NOT NULL,
		climb       REAL,
		PRIMARY KEY (flight_key, enter_us)
	) WITHOUT ROWID;

	CREATE TABLE IF NOT EXISTS rejections (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		flight_key TEXT NOT NULL,
		source     TEXT,
		notes      TEXT,
		error      TEXT,
		created_at TEXT DEFAULT (datetime('now'))
	);

	CREATE INDEX IF NOT EXISTS idx_metadata_pilot ON flight_metadata(pilot);
	CREATE INDEX IF NOT EXISTS idx_metadata_date ON flight_metadata(flight_date);
	`
	_, err := db.Exec(schema)
	return err
}

// SaveCorpus writes a corpus in one transaction. Everything stored under
// the key of an accepted or rejected flight is replaced.
func (s *SQLiteStore) SaveCorpus(ctx context.Context, c *corpus.Corpus) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, key := range savedKeys(c) {
		for _, table := range []string{"flight_metadata", "fixes", "thermals", "rejections"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE flight_key = ?", key); err != nil {
				return fmt.Errorf("clear %s for %s: %w", table, key, err)
			}
		}
	}

	for _, m := range c.Metadata {
		key := m.Key.String()
		_, err := tx.ExecContext(ctx, `
			INSERT INTO flight_metadata (flight_key, manufacturer_code, unique_id, flight_date, opaque_key,
				source, pilot, competition, class, glider_type, points, start_time, finish_time,
				first_fix, last_fix, fix_count, thermal_count)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, key, m.Key.ManufacturerCode, m.Key.UniqueID, m.Key.Date, m.Key.Opaque,
			m.Source, m.Pilot, m.Competition, m.Class, m.GliderType, nullInt(m.Points),
			timeText(m.Start), timeText(m.Finish),
			m.FirstFix.UTC().Format(time.RFC3339), m.LastFix.UTC().Format(time.RFC3339), m.Fixes, m.Thermals)
		if err != nil {
			return fmt.Errorf("insert metadata %s: %w", key, err)
		}
	}

	fixStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO fixes (flight_key, ts, lat, lon, alt, gsp, bearing, bearing_change_rate, flying, circling, in_task)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare fixes: %w", err)
	}
	defer fixStmt.Close()

	for _, r := range c.Fixes {
		_, err := fixStmt.ExecContext(ctx, r.Key.String(), r.Time.Unix(),
			nullFloat(r.Lat), nullFloat(r.Lon), nullFloat(r.Alt),
			nullFloat(r.GroundSpeed), nullFloat(r.Bearing), nullFloat(r.BearingChangeRate),
			r.Flying, r.Circling, r.InTask)
		if err != nil {
			return fmt.Errorf("insert fix %s@%d: %w", r.Key, r.Time.Unix(), err)
		}
	}

	for _, r := range c.Thermals {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO thermals (flight_key, enter_us, exit_us, duration_us, climb) VALUES (?, ?, ?, ?, ?)
		`, r.Key.String(), r.Enter.UnixMicro(), r.Exit.UnixMicro(), r.Duration.Microseconds(), nullFloat(r.Climb))
		if err != nil {
			return fmt.Errorf("insert thermal %s: %w", r.Key, err)
		}
	}

	for _, r := range c.Rejected {
		var errText sql.NullString
		if r.Err != nil {
			errText = sql.NullString{String: r.Err.Error(), Valid: true}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO rejections (flight_key, source, notes, error) VALUES (?, ?, ?, ?)
		`, r.Key.String(), r.Source, strings.Join(r.Notes, "\n"), errText)
		if err != nil {
			return fmt.Errorf("insert rejection %s: %w", r.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

const metadataColumns = `manufacturer_code, unique_id, flight_date, opaque_key, source, pilot,
	competition, class, glider_type, points, start_time, finish_time, first_fix, last_fix,
	fix_count, thermal_count`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMetadata(sc rowScanner) (normalize.MetadataRow, error) {
	var (
		m                                  normalize.MetadataRow
		source, pilot, comp, class, glider sql.NullString
		points                             sql.NullInt64
		start, finish                      sql.NullString
		firstFix, lastFix                  string
	)
	err := sc.Scan(&m.Key.ManufacturerCode, &m.Key.UniqueID, &m.Key.Date, &m.Key.Opaque,
		&source, &pilot, &comp, &class, &glider, &points, &start, &finish,
		&firstFix, &lastFix, &m.Fixes, &m.Thermals)
	if err != nil {
		return m, err
	}
	m.Source, m.Pilot, m.Competition, m.Class, m.GliderType = source.String, pilot.String, comp.String, class.String, glider.String
	m.Points = fromNullInt(points)
	m.Start, m.Finish = parseTimeText(start), parseTimeText(finish)
	m.FirstFix, _ = time.Parse(time.RFC3339, firstFix)
	m.LastFix, _ = time.Parse(time.RFC3339, lastFix)
	return m, nil
}

// savedKeys lists the key of every flight in c, accepted or rejected.
func savedKeys(c *corpus.Corpus) []string {
	seen := make(map[string]bool, len(c.Metadata)+len(c.Rejected))
	var keys []string
	add := func(k flight.Key) {
		if s := k.String(); !seen[s] {
			seen[s] = true
			keys = append(keys, s)
		}
	}
	for _, m := range c.Metadata {
		add(m.Key)
	}
	for _, r := range c.Rejected {
		add(r.Key)
	}
	return keys
}

// ListMetadata returns every stored flight, ordered by key.
func (s *SQLiteStore) ListMetadata(ctx context.Context) ([]normalize.MetadataRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+metadataColumns+` FROM flight_metadata ORDER BY opaque_key, manufacturer_code, unique_id, flight_date`)
	if err != nil {
		return nil, fmt.Errorf("query metadata: %w", err)
	}
	defer rows.Close()

	var out []normalize.MetadataRow
	for rows.Next() {
		m, err := scanMetadata(rows)
		if err != nil {
			return nil, fmt.Errorf("scan metadata: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate metadata: %w", err)
	}
	return out, nil
}

// Metadata returns one flight's metadata. ok is false when it is unknown.
func (s *SQLiteStore) Metadata(ctx context.Context, key flight.Key) (normalize.MetadataRow, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+metadataColumns+` FROM flight_metadata WHERE flight_key = ?`, key.String())
	m, err := scanMetadata(row)
	if errors.Is(err, sql.ErrNoRows) {
		return m, false, nil
	}
	if err != nil {
		return m, false, fmt.Errorf("query metadata %s: %w", key, err)
	}
	return m, true, nil
}

// Fixes returns one flight's fix rows in time order.
func (s *SQLiteStore) Fixes(ctx context.Context, key flight.Key) ([]normalize.FixRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, lat, lon, alt, gsp, bearing, bearing_change_rate, flying, circling, in_task
		FROM fixes WHERE flight_key = ? ORDER BY ts
	`, key.String())
	if err != nil {
		return nil, fmt.Errorf("query fixes %s: %w", key, err)
	}
	defer rows.Close()

	var out []normalize.FixRow
	for rows.Next() {
		var (
			ts                               int64
			lat, lon, alt, gsp, bearing, bcr sql.NullFloat64
			r                                = normalize.FixRow{Key: key}
		)
		if err := rows.Scan(&ts, &lat, &lon, &alt, &gsp, &bearing, &bcr, &r.Flying, &r.Circling, &r.InTask); err != nil {
			return nil, fmt.Errorf("scan fix: %w", err)
		}
		r.Time = time.Unix(ts, 0).UTC()
		r.Lat, r.Lon, r.Alt = fromNullFloat(lat), fromNullFloat(lon), fromNullFloat(alt)
		r.GroundSpeed, r.Bearing, r.BearingChangeRate = fromNullFloat(gsp), fromNullFloat(bearing), fromNullFloat(bcr)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fixes: %w", err)
	}
	return out, nil
}

// Thermals returns one flight's thermal rows in entry order.
func (s *SQLiteStore) Thermals(ctx context.Context, key flight.Key) ([]normalize.ThermalRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT enter_us, exit_us, duration_us, climb FROM thermals WHERE flight_key = ? ORDER BY enter_us
	`, key.String())
	if err != nil {
		return nil, fmt.Errorf("query thermals %s: %w", key, err)
	}
	defer rows.Close()

	var out []normalize.ThermalRow
	for rows.Next() {
		var (
			enter, exit, dur int64
			climb            sql.NullFloat64
		)
		if err := rows.Scan(&enter, &exit, &dur, &climb); err != nil {
			return nil, fmt.Errorf("scan thermal: %w", err)
		}
		out = append(out, normalize.ThermalRow{
			Key:      key,
			Enter:    time.UnixMicro(enter).UTC(),
			Exit:     time.UnixMicro(exit).UTC(),
			Duration: time.Duration(dur) * time.Microsecond,
			Climb:    fromNullFloat(climb),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate thermals: %w", err)
	}
	return out, nil
}

// Rejections returns the stored rejections, oldest first.
func (s *SQLiteStore) Rejections(ctx context.Context) ([]corpus.Rejection, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT flight_key, source, notes FROM rejections ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query rejections: %w", err)
	}
	defer rows.Close()

	var out []corpus.Rejection
	for rows.Next() {
		var (
			key           string
			source, notes sql.NullString
		)
		if err := rows.Scan(&key, &source, &notes); err != nil {
			return nil, fmt.Errorf("scan rejection: %w", err)
		}
		r := corpus.Rejection{Key: flight.ParseKey(key), Source: source.String}
		if notes.String != "" {
			r.Notes = strings.Split(notes.String, "\n")
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rejections: %w", err)
	}
	return out, nil
}
