package corpus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mathias-muench/igc-lab/internal/flight"
	"github.com/mathias-muench/igc-lab/internal/igc"
)

var testDate = time.Date(2023, 7, 1, 0, 0, 0, 0, time.UTC)

func quietOptions(p Policy) Options {
	return Options{
		Policy:  p,
		Workers: 4,
		Parsing: igc.DefaultConfig(),
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// testFlight builds a valid flight of n one-second fixes starting at
// startSec seconds after midnight.
func testFlight(code, id string, startSec, n int) *flight.Flight {
	f := &flight.Flight{
		Key:    flight.NewKey(code, id, testDate),
		Source: code + id + ".igc",
		Date:   testDate,
		Valid:  true,
	}
	base := float64(testDate.Unix() + int64(startSec))
	for i := 0; i < n; i++ {
		f.Fixes = append(f.Fixes, flight.Fix{
			Index:     i,
			Timestamp: base + float64(i),
			Lat:       58 + float64(i)*0.001,
			Lon:       15,
			Alt:       1000,
			Flying:    true,
		})
	}
	return f
}

func withWindow(f *flight.Flight, start, finish time.Time) *flight.Flight {
	f.Competition = &flight.Competition{Start: &start, Finish: &finish}
	return f
}

func invalidFlight(code, id string) *flight.Flight {
	f := testFlight(code, id, 36000, 10)
	f.Valid = false
	f.Notes = []string{"external parser rejected " + code}
	return f
}

func TestAggregateSortedAndUnique(t *testing.T) {
	flights := []*flight.Flight{
		testFlight("ZZZ", "001", 36000, 30),
		testFlight("AAA", "002", 36010, 30),
		testFlight("AAA", "001", 35990, 30),
	}
	flights[0].Thermals = []flight.Thermal{{Enter: flights[0].Fixes[5], Exit: flights[0].Fixes[20]}}
	flights[2].Thermals = []flight.Thermal{{Enter: flights[2].Fixes[1], Exit: flights[2].Fixes[3]}}

	c, err := Aggregate(context.Background(), flights, quietOptions(Strict))
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}

	if got := c.Summary(); got != (Summary{Flights: 3, Fixes: 90, Thermals: 2}) {
		t.Errorf("Summary() = %+v", got)
	}

	wantOrder := []string{"AAA_001_2023-07-01", "AAA_002_2023-07-01", "ZZZ_001_2023-07-01"}
	for i, m := range c.Metadata {
		if m.Key.String() != wantOrder[i] {
			t.Errorf("metadata %d: key = %s, want %s", i, m.Key, wantOrder[i])
		}
	}

	for i := 1; i < len(c.Fixes); i++ {
		prev, cur := c.Fixes[i-1], c.Fixes[i]
		switch cmp := prev.Key.Compare(cur.Key); {
		case cmp > 0:
			t.Fatalf("row %d: keys out of order", i)
		case cmp == 0 && !prev.Time.Before(cur.Time):
			t.Fatalf("row %d: times not strictly increasing within %s", i, cur.Key)
		}
	}

	if c.Thermals[0].Key.String() != "AAA_001_2023-07-01" {
		t.Errorf("first thermal key = %s", c.Thermals[0].Key)
	}
	if got := c.FlightFixes(flights[1].Key); len(got) != 30 || got[0].Key != flights[1].Key {
		t.Errorf("FlightFixes() returned %d rows", len(got))
	}
	if got := c.FlightThermals(flights[0].Key); len(got) != 1 {
		t.Errorf("FlightThermals() returned %d rows, want 1", len(got))
	}
}

func TestAggregateLenientDropsInvalid(t *testing.T) {
	flights := []*flight.Flight{
		testFlight("AAA", "001", 36000, 10),
		invalidFlight("BAD", "001"),
		testFlight("CCC", "001", 36000, 10),
	}

	c, err := Aggregate(context.Background(), flights, quietOptions(Lenient))
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}

	bad := flights[1].Key
	for _, m := range c.Metadata {
		if m.Key == bad {
			t.Error("invalid flight present in metadata")
		}
	}
	for _, r := range c.Fixes {
		if r.Key == bad {
			t.Fatal("invalid flight present in fixes")
		}
	}
	for _, r := range c.Thermals {
		if r.Key == bad {
			t.Fatal("invalid flight present in thermals")
		}
	}

	if len(c.Rejected) != 1 || c.Rejected[0].Key != bad {
		t.Fatalf("Rejected = %+v", c.Rejected)
	}
	if len(c.Rejected[0].Notes) != 1 || !strings.Contains(c.Rejected[0].Notes[0], "BAD") {
		t.Errorf("rejection notes = %q", c.Rejected[0].Notes)
	}
	if len(c.Metadata) != 2 {
		t.Errorf("got %d flights, want 2", len(c.Metadata))
	}

	// The rejection owns its notes.
	want := flights[1].Notes[0]
	c.Rejected[0].Notes[0] = "edited"
	if flights[1].Notes[0] != want {
		t.Errorf("editing the rejection changed the flight's notes to %q", flights[1].Notes[0])
	}
}

func TestAggregateStrictFailsOnFirstInvalid(t *testing.T) {
	flights := []*flight.Flight{
		testFlight("AAA", "001", 36000, 10),
		invalidFlight("BAD", "001"),
		invalidFlight("BAD", "002"),
	}

	c, err := Aggregate(context.Background(), flights, quietOptions(Strict))
	if c != nil {
		t.Error("strict aggregation returned a corpus alongside an error")
	}
	var ife *flight.InvalidFlightError
	if !errors.As(err, &ife) {
		t.Fatalf("Aggregate() error = %v, want *InvalidFlightError", err)
	}
	if ife.Key != flights[1].Key {
		t.Errorf("error key = %s, want the first invalid flight %s", ife.Key, flights[1].Key)
	}
}

func TestAggregateDuplicateKeys(t *testing.T) {
	flights := []*flight.Flight{
		testFlight("AAA", "001", 36000, 10),
		testFlight("AAA", "001", 40000, 10),
	}
	flights[1].Source = "copy.igc"

	c, err := Aggregate(context.Background(), flights, quietOptions(Lenient))
	if err != nil {
		t.Fatalf("lenient Aggregate() error = %v", err)
	}
	if len(c.Metadata) != 1 || len(c.Rejected) != 1 || c.Rejected[0].Source != "copy.igc" {
		t.Errorf("metadata %d, rejected %+v", len(c.Metadata), c.Rejected)
	}

	_, err = Aggregate(context.Background(), flights, quietOptions(Strict))
	var dk *DuplicateKeyError
	if !errors.As(err, &dk) {
		t.Errorf("strict Aggregate() error = %v, want *DuplicateKeyError", err)
	}
}

func TestInTaskWindow(t *testing.T) {
	start := testDate.Add(10*time.Hour + 5*time.Second)
	finish := start.Add(10 * time.Second)

	flights := []*flight.Flight{
		withWindow(testFlight("AAA", "001", 36000, 30), start, finish),
		testFlight("BBB", "001", 36000, 30),
	}
	c, err := Aggregate(context.Background(), flights, quietOptions(Strict))
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}

	rows := c.FlightFixes(flights[0].Key)
	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"before start", start.Add(-time.Second), false},
		{"at start", start, true},
		{"inside", start.Add(5 * time.Second), true},
		{"last second", finish.Add(-time.Second), true},
		{"at finish", finish, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, r := range rows {
				if !r.Time.Equal(tt.at) {
					continue
				}
				in, defined := c.InTaskWindow(r)
				if !defined {
					t.Fatal("window undefined")
				}
				if in != tt.want {
					t.Errorf("InTaskWindow(%v) = %v, want %v", tt.at, in, tt.want)
				}
				return
			}
			t.Fatalf("no row at %v", tt.at)
		})
	}

	if got := len(c.TaskFixes()); got != 10 {
		t.Errorf("TaskFixes() returned %d rows, want 10", got)
	}

	other := c.FlightFixes(flights[1].Key)
	if _, defined := c.InTaskWindow(other[0]); defined {
		t.Error("window defined for a flight without start and finish")
	}
	stray := other[0]
	stray.Key = flight.OpaqueKey("unknown")
	if _, defined := c.InTaskWindow(stray); defined {
		t.Error("window defined for an unknown flight")
	}
}

func TestAggregateCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Aggregate(ctx, []*flight.Flight{testFlight("AAA", "001", 36000, 10)}, quietOptions(Lenient))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Aggregate() error = %v, want context.Canceled", err)
	}
}

// igcFile renders a straight northbound recording.
func igcFile(code, id string, n int) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "A%s%s\r\nHFDTE010723\r\nHFPLTPILOTINCHARGE:Test Pilot\r\n", code, id)
	for i := 0; i < n; i++ {
		sec := 36000 + i
		thou := 58*60000 + i*18
		fmt.Fprintf(&b, "B%02d%02d%02d%02d%02d%03dN01500000EA%05d%05d\r\n",
			sec/3600, sec%3600/60, sec%60, thou/60000, thou%60000/1000, thou%1000, 1000+i, 1050+i)
	}
	b.WriteString("LSCR::CONTESTANT:Scraped Pilot\r\nLSCR::POINTS:700\r\n")
	return []byte(b.String())
}

func TestBuild(t *testing.T) {
	sources := []Source{
		BlobSource{Label: "b.igc", Data: igcFile("LXV", "BBB", 80)},
		BlobSource{Label: "short.igc", Data: igcFile("LXV", "SRT", 5)},
		BlobSource{Label: "a.igc", Data: igcFile("LXV", "AAA", 60)},
	}

	c, err := Build(context.Background(), sources, quietOptions(Lenient))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(c.Metadata) != 2 {
		t.Fatalf("got %d flights, want 2", len(c.Metadata))
	}
	if c.Metadata[0].Key.UniqueID != "AAA" || c.Metadata[0].Pilot != "Scraped Pilot" {
		t.Errorf("first metadata row = %+v", c.Metadata[0])
	}
	if c.Metadata[0].Points == nil || *c.Metadata[0].Points != 700 {
		t.Errorf("Points = %v", c.Metadata[0].Points)
	}
	if len(c.Fixes) != 140 {
		t.Errorf("got %d fix rows, want 140", len(c.Fixes))
	}
	if len(c.Rejected) != 1 || c.Rejected[0].Source != "short.igc" {
		t.Errorf("Rejected = %+v", c.Rejected)
	}

	if _, err := Build(context.Background(), sources, quietOptions(Strict)); !errors.Is(err, flight.ErrInvalidFlight) {
		t.Errorf("strict Build() error = %v, want ErrInvalidFlight", err)
	}
}

func TestBuildRejectsCorruptRecording(t *testing.T) {
	corrupt := append(igcFile("LXV", "BAD", 60), "L"+strings.Repeat("X", 2<<20)+"\r\n"...)
	sources := []Source{
		BlobSource{Label: "a.igc", Data: igcFile("LXV", "AAA", 60)},
		BlobSource{Label: "corrupt.igc", Data: corrupt},
	}

	c, err := Build(context.Background(), sources, quietOptions(Lenient))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(c.Metadata) != 1 || c.Metadata[0].Key.UniqueID != "AAA" {
		t.Errorf("Metadata = %+v", c.Metadata)
	}
	if len(c.Rejected) != 1 {
		t.Fatalf("got %d rejections, want 1", len(c.Rejected))
	}
	r := c.Rejected[0]
	if r.Source != "corrupt.igc" || r.Key != flight.OpaqueKey("corrupt.igc") || len(r.Notes) != 1 {
		t.Errorf("Rejected = %+v", r)
	}
	if !errors.Is(r.Err, flight.ErrInvalidFlight) {
		t.Errorf("rejection error = %v, want ErrInvalidFlight", r.Err)
	}

	if _, err := Build(context.Background(), sources, quietOptions(Strict)); !errors.Is(err, flight.ErrInvalidFlight) {
		t.Errorf("strict Build() error = %v, want ErrInvalidFlight", err)
	}
}

func TestBuildIOErrorIsFatal(t *testing.T) {
	sources := []Source{
		BlobSource{Label: "a.igc", Data: igcFile("LXV", "AAA", 60)},
		FileSource(filepath.Join(t.TempDir(), "missing.igc")),
	}
	_, err := Build(context.Background(), sources, quietOptions(Lenient))
	var ioe *flight.ExternalIOError
	if !errors.As(err, &ioe) {
		t.Fatalf("Build() error = %v, want *ExternalIOError", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Build() error = %v, want it to wrap os.ErrNotExist", err)
	}
}

func TestGlob(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.igc", "a.igc", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	sources, err := Glob(filepath.Join(dir, "*.igc"), filepath.Join(dir, "a*"))
	if err != nil {
		t.Fatalf("Glob() error = %v", err)
	}
	if len(sources) != 2 {
		t.Fatalf("Glob() returned %d sources, want 2", len(sources))
	}
	if filepath.Base(sources[0].Name()) != "a.igc" || filepath.Base(sources[1].Name()) != "b.igc" {
		t.Errorf("Glob() = %v, %v", sources[0].Name(), sources[1].Name())
	}
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    Policy
		wantErr bool
	}{
		{"", Lenient, false},
		{"lenient", Lenient, false},
		{"STRICT", Strict, false},
		{"sloppy", Lenient, true},
	}
	for _, tt := range tests {
		got, err := ParsePolicy(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParsePolicy(%q) = %v, %v", tt.in, got, err)
		}
	}
}
