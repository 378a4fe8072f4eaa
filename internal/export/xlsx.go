package export

import (
	"database/sql"
	"fmt"
	"io"
	"math"

	"github.com/xuri/excelize/v2"

	"github.com/mathias-muench/igc-lab/internal/corpus"
	"github.com/mathias-muench/igc-lab/internal/flight"
)

// Sheet names of the workbook. Fix rows beyond one sheet spill over into
// "fixes_2", "fixes_3" and so on.
const (
	MetadataSheet = "metadata"
	FixesSheet    = "fixes"
	ThermalsSheet = "thermals"
)

// maxSheetRows is the number of data rows per sheet, below the header.
var maxSheetRows = excelize.TotalRows - 1

// WriteXLSX writes c as a workbook with one sheet per table.
func WriteXLSX(w io.Writer, c *corpus.Corpus) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", MetadataSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	meta := make([][]any, 0, len(c.Metadata))
	for _, m := range c.Metadata {
		row := append(keyValues(m.Key),
			m.Source, m.Pilot, m.Competition, m.Class, m.GliderType, intValue(m.Points),
			timePtrCell(m.Start), timePtrCell(m.Finish), timeCell(m.FirstFix), timeCell(m.LastFix),
			m.Fixes, m.Thermals)
		meta = append(meta, row)
	}
	if err := writeSheet(f, MetadataSheet, metadataHeader, meta); err != nil {
		return err
	}

	for part, sheet := 0, FixesSheet; part == 0 || part*maxSheetRows < len(c.Fixes); part++ {
		if part > 0 {
			sheet = fmt.Sprintf("%s_%d", FixesSheet, part+1)
		}
		lo := part * maxSheetRows
		hi := min(lo+maxSheetRows, len(c.Fixes))
		rows := make([][]any, 0, hi-lo)
		for _, r := range c.Fixes[lo:hi] {
			rows = append(rows, append(keyValues(r.Key),
				timeCell(r.Time), floatValue(r.Lat), floatValue(r.Lon), floatValue(r.Alt),
				floatValue(r.GroundSpeed), floatValue(r.Bearing), floatValue(r.BearingChangeRate),
				boolValue(r.Flying), boolValue(r.Circling), boolValue(r.InTask)))
		}
		if err := writeSheet(f, sheet, fixesHeader, rows); err != nil {
			return err
		}
	}

	therm := make([][]any, 0, len(c.Thermals))
	for _, r := range c.Thermals {
		therm = append(therm, append(keyValues(r.Key),
			timeCell(r.Enter), timeCell(r.Exit), r.Duration.Seconds(), floatValue(r.Climb)))
	}
	if err := writeSheet(f, ThermalsSheet, thermalsHeader, therm); err != nil {
		return err
	}

	f.SetActiveSheet(0)
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeSheet(f *excelize.File, sheet string, header []string, rows [][]any) error {
	if idx, _ := f.GetSheetIndex(sheet); idx < 0 {
		if _, err := f.NewSheet(sheet); err != nil {
			return fmt.Errorf("create sheet %s: %w", sheet, err)
		}
	}

	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return fmt.Errorf("stream sheet %s: %w", sheet, err)
	}

	head := make([]any, len(header))
	for i, h := range header {
		head[i] = h
	}
	if err := sw.SetRow("A1", head); err != nil {
		return fmt.Errorf("write %s header: %w", sheet, err)
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, row); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+2, err)
		}
	}
	if err := sw.Flush(); err != nil {
		return fmt.Errorf("flush sheet %s: %w", sheet, err)
	}
	return nil
}

func keyValues(k flight.Key) []any {
	return []any{k.ManufacturerCode, k.UniqueID, k.Date, k.Opaque}
}

// Undefined values are written as empty cells.

func floatValue(v float64) any {
	if math.IsNaN(v) {
		return nil
	}
	return v
}

func boolValue(v sql.NullBool) any {
	if !v.Valid {
		return nil
	}
	return v.Bool
}

func intValue(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}
