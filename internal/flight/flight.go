// Package flight holds the flight aggregate and the assembler that builds it
// from parsed recording records.
//
// A Flight is built once by Assemble and must not be modified afterwards;
// every downstream stage (normalisation, aggregation, storage) only reads it.
package flight

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // Competition timezones must resolve without a system zoneinfo.

	"github.com/mathias-muench/igc-lab/internal/annotation"
)

// DefaultTimezone is the civil timezone competition start and finish times
// are published in.
const DefaultTimezone = "Europe/Stockholm"

// Header is the recorder and flight identification parsed from A and H
// records.
type Header struct {
	ManufacturerCode string    `json:"manufacturer_code,omitempty"`
	UniqueID         string    `json:"unique_id,omitempty"`
	Date             time.Time `json:"date"` // UTC midnight of the flight date.
	Pilot            string    `json:"pilot,omitempty"`
	GliderType       string    `json:"glider_type,omitempty"`
	GliderID         string    `json:"glider_id,omitempty"`
	CompetitionID    string    `json:"competition_id,omitempty"`
}

// Records is everything the recording parser collected for one flight.
type Records struct {
	Source      string
	Header      Header
	Annotations []string // Raw L lines, in file order.
	Fixes       []Fix    // Already de-duplicated.
}

// Analysis is what an Analyzer derives from the raw fixes.
type Analysis struct {
	Fixes    []Fix // Fixes with derived values filled in.
	Thermals []Thermal
	Valid    bool
	Notes    []string
}

// Analyzer computes derived kinematics, validity and thermal episodes.
// It is supplied by the recording format layer.
type Analyzer interface {
	Analyze(h Header, fixes []Fix) Analysis
}

// Competition is the metadata a competition scraper attached to a flight.
type Competition struct {
	Pilot  string     `json:"pilot,omitempty"`
	Name   string     `json:"name,omitempty"`
	Class  string     `json:"class,omitempty"`
	Points *int       `json:"points,omitempty"`
	Start  *time.Time `json:"start,omitempty"`  // UTC.
	Finish *time.Time `json:"finish,omitempty"` // UTC.
}

// HasWindow reports whether both start and finish are known.
func (c *Competition) HasWindow() bool {
	return c != nil && c.Start != nil && c.Finish != nil
}

// InWindow reports whether t lies in the half-open task window
// [Start, Finish). defined is false when the window is unknown.
func (c *Competition) InWindow(t time.Time) (in, defined bool) {
	if !c.HasWindow() {
		return false, false
	}
	return !t.Before(*c.Start) && t.Before(*c.Finish), true
}

// Flight is one pilot's recording for one competition day.
type Flight struct {
	Key              Key          `json:"key"`
	Source           string       `json:"source,omitempty"`
	ManufacturerCode string       `json:"manufacturer_code,omitempty"`
	UniqueID         string       `json:"unique_id,omitempty"`
	Date             time.Time    `json:"date"`
	Pilot            string       `json:"pilot,omitempty"`
	GliderType       string       `json:"glider_type,omitempty"`
	Competition      *Competition `json:"competition,omitempty"`
	Valid            bool         `json:"valid"`
	Notes            []string     `json:"notes,omitempty"`
	Fixes            []Fix        `json:"fixes"`
	Thermals         []Thermal    `json:"thermals"`
}

// PilotName prefers the competition contestant name over the recorder's
// pilot header.
func (f *Flight) PilotName() string {
	if f.Competition != nil && f.Competition.Pilot != "" {
		return f.Competition.Pilot
	}
	return f.Pilot
}

// AssembleConfig carries the settings the assembler needs beyond the
// records themselves.
type AssembleConfig struct {
	// Location is the timezone annotation start/finish times are written
	// in. Nil means DefaultTimezone.
	Location *time.Location
}

func (c AssembleConfig) location() *time.Location {
	if c.Location != nil {
		return c.Location
	}
	if loc, err := time.LoadLocation(DefaultTimezone); err == nil {
		return loc
	}
	return time.UTC
}

// Assemble builds a Flight from parsed records. When the flight turns out
// invalid it is still returned, together with an *InvalidFlightError that
// carries its notes.
func Assemble(rec Records, an Analyzer, cfg AssembleConfig) (*Flight, error) {
	h := rec.Header

	f := &Flight{
		Key:              keyFor(h, rec.Source),
		Source:           rec.Source,
		ManufacturerCode: h.ManufacturerCode,
		UniqueID:         h.UniqueID,
		Date:             h.Date,
		Pilot:            h.Pilot,
		GliderType:       h.GliderType,
	}

	var notes []string

	fields, err := annotation.Fold(rec.Annotations)
	if err != nil {
		notes = append(notes, err.Error())
	}
	if !fields.IsZero() {
		comp, compNotes := competitionFrom(fields, h.Date, cfg.location())
		f.Competition = comp
		notes = append(notes, compNotes...)
	}

	analysis := an.Analyze(h, rec.Fixes)
	notes = append(notes, analysis.Notes...)

	f.Fixes = analysis.Fixes
	f.Thermals = analysis.Thermals
	if f.Competition.HasWindow() {
		for i := range f.Fixes {
			f.Fixes[i].InTask = inTask(f.Competition, f.Fixes[i])
		}
		for i := range f.Thermals {
			f.Thermals[i].Enter.InTask = inTask(f.Competition, f.Thermals[i].Enter)
			f.Thermals[i].Exit.InTask = inTask(f.Competition, f.Thermals[i].Exit)
		}
	}

	f.Notes = notes
	f.Valid = analysis.Valid && len(notes) == 0
	if !f.Valid {
		return f, &InvalidFlightError{Key: f.Key, Notes: notes}
	}
	return f, nil
}

func keyFor(h Header, source string) Key {
	if h.ManufacturerCode != "" && h.UniqueID != "" && !h.Date.IsZero() {
		return NewKey(h.ManufacturerCode, h.UniqueID, h.Date)
	}
	return OpaqueKey(source)
}

func inTask(c *Competition, fix Fix) (v sql.NullBool) {
	in, defined := c.InWindow(fix.Time())
	v.Bool, v.Valid = in, defined
	return v
}

func competitionFrom(fields annotation.Fields, date time.Time, loc *time.Location) (*Competition, []string) {
	c := &Competition{
		Pilot:  fields.Contestant,
		Name:   fields.Competition,
		Class:  fields.Class,
		Points: fields.Points,
	}

	var notes []string
	start, err := ParseInstant(fields.Start, date, loc)
	if err != nil {
		notes = append(notes, fmt.Sprintf("start time: %v", err))
	}
	finish, err := ParseInstant(fields.Finish, date, loc)
	if err != nil {
		notes = append(notes, fmt.Sprintf("finish time: %v", err))
	}
	c.Start, c.Finish = start, finish
	return c, notes
}

var (
	dateTimeLayouts = []string{
		"2006-01-02T15:04:05",
		"2006-01-02T15:04",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
	}
	timeOfDayLayouts = []string{
		"15:04:05",
		"15:04",
	}
)

// ParseInstant interprets a local competition time in loc and returns it in
// UTC. Both full ISO date-times and bare times of day are accepted; the
// latter are placed on date. An empty string yields nil.
func ParseInstant(s string, date time.Time, loc *time.Location) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, layout := range dateTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	for _, layout := range timeOfDayLayouts {
		tod, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		if date.IsZero() {
			return nil, fmt.Errorf("time of day %q without a flight date", s)
		}
		t := time.Date(date.Year(), date.Month(), date.Day(),
			tod.Hour(), tod.Minute(), tod.Second(), 0, loc).UTC()
		return &t, nil
	}
	return nil, fmt.Errorf("unrecognised time %q", s)
}
