package export

import (
	"bytes"
	"database/sql"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/mathias-muench/igc-lab/internal/corpus"
	"github.com/mathias-muench/igc-lab/internal/flight"
	"github.com/mathias-muench/igc-lab/internal/normalize"
)

var t0 = time.Date(2023, 6, 10, 10, 0, 0, 0, time.UTC)

func testCorpus() *corpus.Corpus {
	key := flight.Key{ManufacturerCode: "LXN", UniqueID: "ABC", Date: "2023-06-10"}
	points := 850
	start, finish := t0, t0.Add(time.Hour)
	yes := sql.NullBool{Bool: true, Valid: true}
	return &corpus.Corpus{
		Metadata: []normalize.MetadataRow{{
			Key: key, Source: "lxn.igc", Pilot: "J. Doe", Points: &points,
			Start: &start, Finish: &finish,
			FirstFix: t0, LastFix: t0.Add(2 * time.Second), Fixes: 3, Thermals: 1,
		}},
		Fixes: []normalize.FixRow{
			{Key: key, Time: t0, Lat: 58.1, Lon: 15.2, Alt: 500,
				GroundSpeed: math.NaN(), Bearing: math.NaN(), BearingChangeRate: math.NaN()},
			{Key: key, Time: t0.Add(time.Second), Lat: 58.15, Lon: 15.25, Alt: 505,
				GroundSpeed: 80, Bearing: 90, BearingChangeRate: math.NaN(), Flying: yes},
			{Key: key, Time: t0.Add(2 * time.Second), Lat: 58.2, Lon: 15.3, Alt: 510,
				GroundSpeed: 82, Bearing: 91, BearingChangeRate: 1, Flying: yes, InTask: yes},
		},
		Thermals: []normalize.ThermalRow{{
			Key: key, Enter: t0, Exit: t0.Add(90 * time.Second), Duration: 90 * time.Second, Climb: 120,
		}},
		Rejected: []corpus.Rejection{{
			Key: flight.OpaqueKey("short.igc"), Source: "short.igc",
			Notes: []string{"no takeoff detected"}, Err: errors.New("invalid flight short.igc"),
		}},
	}
}

func TestWriteFixesTSV(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFixesTSV(&buf, testCorpus().Fixes); err != nil {
		t.Fatalf("WriteFixesTSV() error = %v", err)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want header + 3", len(lines))
	}
	if !strings.HasPrefix(lines[0], "manufacturer_code\tunique_id\tdate\tkey\ttime\tlat") {
		t.Errorf("header = %q", lines[0])
	}

	first := strings.Split(lines[1], "\t")
	if len(first) != len(fixesHeader) {
		t.Fatalf("row has %d cells, want %d", len(first), len(fixesHeader))
	}
	if first[0] != "LXN" || first[3] != "" {
		t.Errorf("key cells = %q", first[:4])
	}
	if first[4] != "2023-06-10T10:00:00Z" {
		t.Errorf("time = %q", first[4])
	}
	if first[5] != "58.1" {
		t.Errorf("lat = %q, want 58.1", first[5])
	}
	// Undefined values are empty.
	if first[8] != "" || first[11] != "" {
		t.Errorf("gsp = %q, flying = %q, want empty", first[8], first[11])
	}

	last := strings.Split(lines[3], "\t")
	if last[13] != "true" {
		t.Errorf("in_task = %q, want true", last[13])
	}
}

func TestWriteTSV(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	if err := WriteTSV(dir, testCorpus()); err != nil {
		t.Fatalf("WriteTSV() error = %v", err)
	}

	md, err := os.ReadFile(filepath.Join(dir, MetadataFile))
	if err != nil {
		t.Fatalf("read metadata: %v", err)
	}
	if !strings.Contains(string(md), "J. Doe") || !strings.Contains(string(md), "\t850\t") {
		t.Errorf("metadata = %q", md)
	}

	th, err := os.ReadFile(filepath.Join(dir, ThermalsFile))
	if err != nil {
		t.Fatalf("read thermals: %v", err)
	}
	if !strings.Contains(string(th), "\t90\t120") {
		t.Errorf("thermals = %q", th)
	}

	if _, err := os.Stat(filepath.Join(dir, FixesFile)); err != nil {
		t.Errorf("fixes file: %v", err)
	}
}

func TestBlobRoundTrip(t *testing.T) {
	c := testCorpus()
	var buf bytes.Buffer
	n, err := WriteBlob(&buf, c)
	if err != nil {
		t.Fatalf("WriteBlob() error = %v", err)
	}
	if n != int64(buf.Len()) {
		t.Errorf("WriteBlob() = %d bytes, buffer has %d", n, buf.Len())
	}

	got, err := ReadBlob(&buf)
	if err != nil {
		t.Fatalf("ReadBlob() error = %v", err)
	}
	if got.Summary() != c.Summary() {
		t.Errorf("Summary() = %+v, want %+v", got.Summary(), c.Summary())
	}

	m := got.Metadata[0]
	if m.Key != c.Metadata[0].Key || m.Pilot != "J. Doe" || m.Points == nil || *m.Points != 850 {
		t.Errorf("metadata = %+v", m)
	}
	if m.Start == nil || !m.Start.Equal(t0) {
		t.Errorf("Start = %v, want %v", m.Start, t0)
	}
	if !math.IsNaN(got.Fixes[0].GroundSpeed) {
		t.Errorf("GroundSpeed = %v, want NaN", got.Fixes[0].GroundSpeed)
	}
	if !got.Fixes[2].InTask.Valid || !got.Fixes[2].InTask.Bool {
		t.Errorf("InTask = %+v", got.Fixes[2].InTask)
	}
	if got.Thermals[0].Duration != 90*time.Second {
		t.Errorf("Duration = %v", got.Thermals[0].Duration)
	}
	if got.Rejected[0].Err == nil || got.Rejected[0].Err.Error() != "invalid flight short.igc" {
		t.Errorf("Rejected = %+v", got.Rejected[0])
	}
}

func TestReadBlobGarbage(t *testing.T) {
	if _, err := ReadBlob(strings.NewReader("not a blob")); err == nil {
		t.Error("ReadBlob() should fail on garbage")
	}
}

func TestWriteXLSX(t *testing.T) {
	old := maxSheetRows
	maxSheetRows = 2
	defer func() { maxSheetRows = old }()

	var buf bytes.Buffer
	if err := WriteXLSX(&buf, testCorpus()); err != nil {
		t.Fatalf("WriteXLSX() error = %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("OpenReader() error = %v", err)
	}
	defer f.Close()

	want := []string{MetadataSheet, FixesSheet, "fixes_2", ThermalsSheet}
	got := f.GetSheetList()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("sheets = %v, want %v", got, want)
	}

	meta, err := f.GetRows(MetadataSheet)
	if err != nil {
		t.Fatalf("GetRows(metadata) error = %v", err)
	}
	if len(meta) != 2 || meta[1][5] != "J. Doe" {
		t.Errorf("metadata rows = %v", meta)
	}

	first, err := f.GetRows(FixesSheet)
	if err != nil {
		t.Fatalf("GetRows(fixes) error = %v", err)
	}
	second, err := f.GetRows("fixes_2")
	if err != nil {
		t.Fatalf("GetRows(fixes_2) error = %v", err)
	}
	if len(first) != 3 || len(second) != 2 {
		t.Errorf("fix sheets have %d and %d rows, want 3 and 2", len(first), len(second))
	}
	if second[0][0] != "manufacturer_code" {
		t.Errorf("spill sheet header = %v", second[0])
	}
}
