package storage

import (
	"context"
	"math"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"
)

// setupTestClickHouse creates a test database connection.
// Returns nil if no ClickHouse connection is available.
func setupTestClickHouse(t *testing.T) *ClickHouseDB {
	t.Helper()

	cfg := DefaultConfig().ClickHouse
	if host := os.Getenv("CLICKHOUSE_HOST"); host != "" {
		cfg.Host = host
	}
	if port, err := strconv.Atoi(os.Getenv("CLICKHOUSE_PORT")); err == nil {
		cfg.Port = port
	}
	if database := os.Getenv("CLICKHOUSE_DATABASE"); database != "" {
		cfg.Database = database
	}

	ctx := context.Background()
	ch, err := OpenClickHouse(ctx, cfg)
	if err != nil {
		return nil
	}
	if err := ch.CreateSchema(ctx); err != nil {
		_ = ch.Close()
		return nil
	}
	return ch
}

func TestCHFixQuerySQL(t *testing.T) {
	from := testStart
	to := testStart.Add(time.Hour)

	tests := []struct {
		name     string
		q        CHFixQuery
		contains []string
		absent   []string
		args     int
	}{
		{"whole flight", CHFixQuery{Key: testKey}, []string{"flight_key = ?", "ORDER BY ts"}, []string{"ts >=", "ts <", "LIMIT", "in_task ="}, 1},
		{"task window", CHFixQuery{Key: testKey, From: from, To: to}, []string{"ts >= ?", "ts < ?"}, []string{"ts <=", "in_task ="}, 3},
		{"open end", CHFixQuery{Key: testKey, From: from}, []string{"ts >= ?"}, []string{"ts < ?"}, 2},
		{"limit", CHFixQuery{Key: testKey, Limit: 10}, []string{"LIMIT 10"}, nil, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args := tt.q.sql()
			for _, s := range tt.contains {
				if !strings.Contains(query, s) {
					t.Errorf("query %q does not contain %q", query, s)
				}
			}
			for _, s := range tt.absent {
				if strings.Contains(query, s) {
					t.Errorf("query %q contains %q", query, s)
				}
			}
			if len(args) != tt.args {
				t.Errorf("got %d args, want %d", len(args), tt.args)
			}
			if args[0] != testKey.String() {
				t.Errorf("args[0] = %v, want %s", args[0], testKey)
			}
		})
	}
}

func TestSecondsDuration(t *testing.T) {
	if got := secondsDuration(89.5); got != 89500*time.Millisecond {
		t.Errorf("secondsDuration(89.5) = %v", got)
	}
	if got := secondsDuration(0.1 + 0.2); got != 300*time.Millisecond {
		t.Errorf("secondsDuration(0.3) = %v", got)
	}
}

func TestClickHouseFixesAndThermals(t *testing.T) {
	ch := setupTestClickHouse(t)
	if ch == nil {
		t.Skip("No ClickHouse connection available")
	}
	defer ch.Close()

	ctx := context.Background()
	c := testCorpus()
	cleanup := func() {
		for _, table := range []string{"fixes", "thermals"} {
			_ = ch.conn.Exec(ctx, "ALTER TABLE "+table+" DELETE WHERE flight_key = ? SETTINGS mutations_sync = 1", testKey.String())
		}
	}
	cleanup()
	defer cleanup()

	if err := ch.InsertFixes(ctx, c.Fixes); err != nil {
		t.Fatalf("InsertFixes() error = %v", err)
	}
	if err := ch.InsertThermals(ctx, c.Thermals); err != nil {
		t.Fatalf("InsertThermals() error = %v", err)
	}

	fixes, err := ch.QueryFixes(ctx, CHFixQuery{Key: testKey})
	if err != nil {
		t.Fatalf("QueryFixes() error = %v", err)
	}
	if len(fixes) != 3 {
		t.Fatalf("got %d fixes, want 3", len(fixes))
	}
	if !math.IsNaN(fixes[0].GroundSpeed) || fixes[0].Flying.Valid {
		t.Errorf("first fix = %+v, want undefined speed and flying", fixes[0])
	}
	if fixes[2].BearingChangeRate != 5 || !fixes[2].Circling.Bool {
		t.Errorf("last fix = %+v", fixes[2])
	}

	window, err := ch.QueryFixes(ctx, CHFixQuery{Key: testKey, From: testStart.Add(time.Second), To: testStart.Add(2 * time.Second)})
	if err != nil {
		t.Fatalf("QueryFixes() error = %v", err)
	}
	if len(window) != 1 || !window[0].Time.Equal(testStart.Add(time.Second)) {
		t.Errorf("window fixes = %+v, want the single fix at start+1s", window)
	}

	thermals, err := ch.QueryThermals(ctx, testKey)
	if err != nil {
		t.Fatalf("QueryThermals() error = %v", err)
	}
	if len(thermals) != 1 || thermals[0].Duration != c.Thermals[0].Duration || thermals[0].Climb != 1.5 {
		t.Errorf("thermals = %+v", thermals)
	}

	stats, err := ch.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats() error = %v", err)
	}
	if stats.Fixes < 3 || stats.Thermals < 1 || stats.Flights < 1 {
		t.Errorf("GetStats() = %+v", stats)
	}
}
