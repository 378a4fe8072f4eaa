// Package normalize turns one flight into fixed-cadence tables.
//
// Fixes are resampled onto whole UTC seconds. Continuous columns are
// linearly interpolated in time, state flags are carried forward from the
// most recent sample.
package normalize

import (
	"database/sql"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/mathias-muench/igc-lab/internal/flight"
)

// FixRow is one 1 Hz sample of a flight. NaN marks an undefined continuous
// value.
type FixRow struct {
	Key               flight.Key   `json:"key" msgpack:"key"`
	Time              time.Time    `json:"time" msgpack:"time"`
	Lat               float64      `json:"lat" msgpack:"lat"`
	Lon               float64      `json:"lon" msgpack:"lon"`
	Alt               float64      `json:"alt" msgpack:"alt"`
	GroundSpeed       float64      `json:"gsp" msgpack:"gsp"`
	Bearing           float64      `json:"bearing" msgpack:"bearing"`
	BearingChangeRate float64      `json:"bearing_change_rate" msgpack:"bearing_change_rate"`
	Flying            sql.NullBool `json:"flying" msgpack:"flying"`
	Circling          sql.NullBool `json:"circling" msgpack:"circling"`
	InTask            sql.NullBool `json:"in_task" msgpack:"in_task"`
}

// ThermalRow is one thermal episode, keyed by its entry time.
type ThermalRow struct {
	Key      flight.Key    `json:"key" msgpack:"key"`
	Enter    time.Time     `json:"enter" msgpack:"enter"`
	Exit     time.Time     `json:"exit" msgpack:"exit"`
	Duration time.Duration `json:"duration" msgpack:"duration"`
	Climb    float64       `json:"climb" msgpack:"climb"` // Altitude gained, m.
}

// MetadataRow describes one flight.
type MetadataRow struct {
	Key         flight.Key `json:"key" msgpack:"key"`
	Source      string     `json:"source,omitempty" msgpack:"source,omitempty"`
	Pilot       string     `json:"pilot,omitempty" msgpack:"pilot,omitempty"`
	Competition string     `json:"competition,omitempty" msgpack:"competition,omitempty"`
	Class       string     `json:"class,omitempty" msgpack:"class,omitempty"`
	GliderType  string     `json:"glider_type,omitempty" msgpack:"glider_type,omitempty"`
	Points      *int       `json:"points,omitempty" msgpack:"points,omitempty"`
	Start       *time.Time `json:"start,omitempty" msgpack:"start,omitempty"`
	Finish      *time.Time `json:"finish,omitempty" msgpack:"finish,omitempty"`
	FirstFix    time.Time  `json:"first_fix" msgpack:"first_fix"`
	LastFix     time.Time  `json:"last_fix" msgpack:"last_fix"`
	Fixes       int        `json:"fixes" msgpack:"fixes"`
	Thermals    int        `json:"thermals" msgpack:"thermals"`
}

// InWindow reports whether t lies in [Start, Finish). defined is false when
// either bound is missing.
func (m MetadataRow) InWindow(t time.Time) (in, defined bool) {
	if m.Start == nil || m.Finish == nil {
		return false, false
	}
	return !t.Before(*m.Start) && t.Before(*m.Finish), true
}

// Table is the normalised form of one flight.
type Table struct {
	Metadata MetadataRow
	Fixes    []FixRow
	Thermals []ThermalRow
}

// Normalize resamples a flight to 1 Hz. It fails with an
// *flight.InvalidFlightError for invalid flights or flights that cannot be
// resampled, and with a *flight.DuplicateTimestampError when two fixes share
// a timestamp.
func Normalize(f *flight.Flight) (Table, error) {
	if !f.Valid {
		return Table{}, &flight.InvalidFlightError{Key: f.Key, Notes: slices.Clone(f.Notes)}
	}
	fixes := f.Fixes
	if len(fixes) < 2 {
		return Table{}, invalid(f, fmt.Sprintf("%d fixes, at least 2 are needed to resample", len(fixes)))
	}
	for i := 1; i < len(fixes); i++ {
		dt := fixes[i].Timestamp - fixes[i-1].Timestamp
		if math.Abs(dt) < flight.TimestampEpsilon {
			return Table{}, &flight.DuplicateTimestampError{Key: f.Key, Time: fixes[i].Time()}
		}
		if dt < 0 {
			return Table{}, invalid(f, fmt.Sprintf("fix %d goes back in time", fixes[i].Index))
		}
	}

	first := int64(math.Ceil(fixes[0].Timestamp))
	last := int64(math.Floor(fixes[len(fixes)-1].Timestamp))
	if last < first {
		return Table{}, invalid(f, "fixes do not span a whole second")
	}

	rows := resample(f.Key, fixes, first, last)
	thermals := thermalRows(f.Key, f.Thermals)

	return Table{
		Metadata: metadataRow(f, rows, len(thermals)),
		Fixes:    rows,
		Thermals: thermals,
	}, nil
}

func invalid(f *flight.Flight, note string) error {
	notes := append(append([]string(nil), f.Notes...), note)
	return &flight.InvalidFlightError{Key: f.Key, Notes: notes}
}

// Column accessors for the continuous and state columns.
var (
	continuous = []func(*flight.Fix) float64{
		func(x *flight.Fix) float64 { return x.Lat },
		func(x *flight.Fix) float64 { return x.Lon },
		func(x *flight.Fix) float64 { return x.Alt },
		func(x *flight.Fix) float64 { return x.GroundSpeed },
		func(x *flight.Fix) float64 { return x.Bearing },
		func(x *flight.Fix) float64 { return x.BearingChangeRate },
	}
	states = []func(*flight.Fix) sql.NullBool{
		func(x *flight.Fix) sql.NullBool { return sql.NullBool{Bool: x.Flying, Valid: true} },
		func(x *flight.Fix) sql.NullBool { return sql.NullBool{Bool: x.Circling, Valid: true} },
		func(x *flight.Fix) sql.NullBool { return x.InTask },
	}
)

func resample(key flight.Key, fixes []flight.Fix, first, last int64) []FixRow {
	n := int(last - first + 1)
	rows := make([]FixRow, n)
	for i := range rows {
		rows[i].Key = key
		rows[i].Time = time.Unix(first+int64(i), 0).UTC()
	}

	values := make([][]float64, len(continuous))
	for c, get := range continuous {
		values[c] = interpolate(fixes, get, first, n)
	}
	flags := make([][]sql.NullBool, len(states))
	for c, get := range states {
		flags[c] = forwardFill(fixes, get, first, n)
	}

	for i := range rows {
		r := &rows[i]
		r.Lat, r.Lon, r.Alt = values[0][i], values[1][i], values[2][i]
		r.GroundSpeed, r.Bearing, r.BearingChangeRate = values[3][i], values[4][i], values[5][i]
		r.Flying, r.Circling, r.InTask = flags[0][i], flags[1][i], flags[2][i]
	}
	return rows
}

// interpolate samples one continuous column at n ticks starting at first.
// NaN samples are skipped. Ticks before the first defined sample are NaN,
// ticks after the last one repeat it.
func interpolate(fixes []flight.Fix, get func(*flight.Fix) float64, first int64, n int) []float64 {
	out := make([]float64, n)

	// prev and next index defined samples bracketing the current tick.
	prev, next := -1, nextDefined(fixes, get, 0)
	for i := range out {
		tick := float64(first + int64(i))
		for next >= 0 && fixes[next].Timestamp <= tick {
			prev = next
			next = nextDefined(fixes, get, next+1)
		}

		switch {
		case prev < 0:
			out[i] = math.NaN()
		case next < 0 || fixes[prev].Timestamp == tick:
			out[i] = get(&fixes[prev])
		default:
			t0, t1 := fixes[prev].Timestamp, fixes[next].Timestamp
			v0, v1 := get(&fixes[prev]), get(&fixes[next])
			out[i] = v0 + (v1-v0)*(tick-t0)/(t1-t0)
		}
	}
	return out
}

func nextDefined(fixes []flight.Fix, get func(*flight.Fix) float64, from int) int {
	for j := from; j < len(fixes); j++ {
		if !math.IsNaN(get(&fixes[j])) {
			return j
		}
	}
	return -1
}

// forwardFill gives each tick the latest defined state at or before it.
func forwardFill(fixes []flight.Fix, get func(*flight.Fix) sql.NullBool, first int64, n int) []sql.NullBool {
	out := make([]sql.NullBool, n)
	var (
		cur sql.NullBool
		j   int
	)
	for i := range out {
		tick := float64(first + int64(i))
		for ; j < len(fixes) && fixes[j].Timestamp <= tick; j++ {
			if v := get(&fixes[j]); v.Valid {
				cur = v
			}
		}
		out[i] = cur
	}
	return out
}

func thermalRows(key flight.Key, thermals []flight.Thermal) []ThermalRow {
	rows := make([]ThermalRow, 0, len(thermals))
	for _, th := range thermals {
		rows = append(rows, ThermalRow{
			Key:      key,
			Enter:    th.Enter.Time(),
			Exit:     th.Exit.Time(),
			Duration: time.Duration(math.Round(th.Duration() * float64(time.Second))),
			Climb:    th.AltitudeChange(),
		})
	}
	return rows
}

func metadataRow(f *flight.Flight, rows []FixRow, thermals int) MetadataRow {
	m := MetadataRow{
		Key:        f.Key,
		Source:     f.Source,
		Pilot:      f.PilotName(),
		GliderType: f.GliderType,
		FirstFix:   rows[0].Time,
		LastFix:    rows[len(rows)-1].Time,
		Fixes:      len(rows),
		Thermals:   thermals,
	}
	if c := f.Competition; c != nil {
		m.Competition = c.Name
		m.Class = c.Class
		m.Points = c.Points
		m.Start = c.Start
		m.Finish = c.Finish
	}
	return m
}
