// Package export writes a corpus to files: tab-separated tables, a
// compressed msgpack snapshot and an XLSX workbook.
package export

import (
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/mathias-muench/igc-lab/internal/corpus"
	"github.com/mathias-muench/igc-lab/internal/flight"
	"github.com/mathias-muench/igc-lab/internal/normalize"
)

// File names written by WriteTSV.
const (
	MetadataFile = "md.tsv"
	FixesFile    = "fixes.tsv"
	ThermalsFile = "thermals.tsv"
)

// Every table starts with the flight identity so the three files join on
// the same columns.
var keyHeader = []string{"manufacturer_code", "unique_id", "date", "key"}

var (
	metadataHeader = append(append([]string{}, keyHeader...),
		"source", "pilot", "competition", "class", "glider_type", "points",
		"start", "finish", "first_fix", "last_fix", "fixes", "thermals")
	fixesHeader = append(append([]string{}, keyHeader...),
		"time", "lat", "lon", "alt", "gsp", "bearing", "bearing_change_rate",
		"flying", "circling", "in_task")
	thermalsHeader = append(append([]string{}, keyHeader...),
		"enter", "exit", "duration", "climb")
)

// WriteTSV writes the three tables of c into dir, creating it if needed.
func WriteTSV(dir string, c *corpus.Corpus) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	files := []struct {
		name  string
		write func(io.Writer) error
	}{
		{MetadataFile, func(w io.Writer) error { return WriteMetadataTSV(w, c.Metadata) }},
		{FixesFile, func(w io.Writer) error { return WriteFixesTSV(w, c.Fixes) }},
		{ThermalsFile, func(w io.Writer) error { return WriteThermalsTSV(w, c.Thermals) }},
	}
	for _, f := range files {
		if err := writeFile(filepath.Join(dir, f.name), f.write); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func newTSVWriter(w io.Writer) *csv.Writer {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	return cw
}

// WriteMetadataTSV writes the metadata table with a header line.
func WriteMetadataTSV(w io.Writer, rows []normalize.MetadataRow) error {
	cw := newTSVWriter(w)
	if err := cw.Write(metadataHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, m := range rows {
		rec := append(keyCells(m.Key),
			m.Source, m.Pilot, m.Competition, m.Class, m.GliderType, intCell(m.Points),
			timePtrCell(m.Start), timePtrCell(m.Finish), timeCell(m.FirstFix), timeCell(m.LastFix),
			strconv.Itoa(m.Fixes), strconv.Itoa(m.Thermals))
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFixesTSV writes the fix table. Undefined values are empty cells.
func WriteFixesTSV(w io.Writer, rows []normalize.FixRow) error {
	cw := newTSVWriter(w)
	if err := cw.Write(fixesHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, r := range rows {
		rec := append(keyCells(r.Key),
			timeCell(r.Time), floatCell(r.Lat), floatCell(r.Lon), floatCell(r.Alt),
			floatCell(r.GroundSpeed), floatCell(r.Bearing), floatCell(r.BearingChangeRate),
			boolCell(r.Flying), boolCell(r.Circling), boolCell(r.InTask))
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteThermalsTSV writes the thermal table. Durations are in seconds.
func WriteThermalsTSV(w io.Writer, rows []normalize.ThermalRow) error {
	cw := newTSVWriter(w)
	if err := cw.Write(thermalsHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, r := range rows {
		rec := append(keyCells(r.Key),
			timeCell(r.Enter), timeCell(r.Exit), floatCell(r.Duration.Seconds()), floatCell(r.Climb))
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func keyCells(k flight.Key) []string {
	return []string{k.ManufacturerCode, k.UniqueID, k.Date, k.Opaque}
}

func floatCell(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func boolCell(v sql.NullBool) string {
	if !v.Valid {
		return ""
	}
	return strconv.FormatBool(v.Bool)
}

func intCell(p *int) string {
	if p == nil {
		return ""
	}
	return strconv.Itoa(*p)
}

func timeCell(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func timePtrCell(t *time.Time) string {
	if t == nil {
		return ""
	}
	return timeCell(*t)
}
