// Package igc reads IGC flight recordings.
//
// Files are ISO-8859-1 encoded and line oriented; each line starts with a
// record type letter. Only A, B, H, I and L records are interpreted, every
// other record type is skipped.
package igc

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/encoding/charmap"

	"github.com/mathias-muench/igc-lab/internal/flight"
)

const (
	maxLineLen  = 1024 * 1024
	secondsADay = 86400
)

// Parse reads one recording. Fixes are de-duplicated and carry Unix
// timestamps when the file has a date header. A line too long to be a
// record makes the recording a *flight.InvalidFlightError; other read
// failures come back as *flight.ExternalIOError.
func Parse(r io.Reader, source string) (flight.Records, error) {
	rec := flight.Records{Source: source}

	scanner := bufio.NewScanner(charmap.ISO8859_1.NewDecoder().Reader(r))
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineLen)

	var (
		exts    []Extension
		dedup   flight.Dedup
		offset  float64 // Seconds added for each midnight crossed.
		lastRaw = -1.0
		lineNo  int
	)

	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if line == "" {
			continue
		}

		switch line[0] {
		case RecordManufacturer:
			ParseA(line, &rec.Header)
		case RecordFix:
			fix, ok := ParseB(line, dedup.Len(), exts)
			if !ok {
				continue
			}
			if lastRaw >= 0 && fix.RawTime < lastRaw-secondsADay/2 {
				offset += secondsADay
			}
			lastRaw = fix.RawTime
			fix.Timestamp = fix.RawTime + offset
			dedup.Add(fix)
		case RecordHeader:
			ParseH(line, &rec.Header)
		case RecordExtension:
			exts = ParseI(line)
		case RecordAnnotation:
			rec.Annotations = append(rec.Annotations, line)
		}
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return rec, &flight.InvalidFlightError{
				Key:   flight.OpaqueKey(source),
				Notes: []string{fmt.Sprintf("parsing incomplete: line %d longer than %d bytes", lineNo+1, maxLineLen)},
			}
		}
		return rec, &flight.ExternalIOError{Op: "read", Path: source, Err: err}
	}

	rec.Fixes = dedup.Fixes()
	if !rec.Header.Date.IsZero() {
		epoch := float64(rec.Header.Date.Unix())
		for i := range rec.Fixes {
			rec.Fixes[i].Timestamp += epoch
		}
	}
	return rec, nil
}

// ParseFile reads the recording at path.
func ParseFile(path string) (flight.Records, error) {
	f, err := os.Open(path)
	if err != nil {
		return flight.Records{Source: path}, &flight.ExternalIOError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()
	return Parse(f, path)
}

// Load parses a recording and assembles it into a flight. An invalid
// flight is returned together with its *flight.InvalidFlightError.
func Load(r io.Reader, source string, cfg Config) (*flight.Flight, error) {
	rec, err := Parse(r, source)
	if err != nil {
		return nil, err
	}
	f, err := flight.Assemble(rec, NewAnalyzer(cfg), flight.AssembleConfig{Location: cfg.Location})
	if err != nil {
		return f, fmt.Errorf("assemble %s: %w", source, err)
	}
	return f, nil
}

// LoadFile is Load for a file on disk.
func LoadFile(path string, cfg Config) (*flight.Flight, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &flight.ExternalIOError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()
	return Load(f, path, cfg)
}
