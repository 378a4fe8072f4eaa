package flight

import (
	"database/sql"
	"math"
	"time"
)

// TimestampEpsilon is the smallest gap in seconds between two fixes that are
// still considered distinct samples.
const TimestampEpsilon = 1e-5

// Fix is one timestamped position and flight-state sample.
// Derived values (GroundSpeed, Bearing, BearingChangeRate) are NaN where they
// cannot be computed, typically at the start of the sequence.
type Fix struct {
	Index     int     `json:"index"`
	RawTime   float64 `json:"raw_time"`  // Seconds since UTC midnight, as recorded.
	Timestamp float64 `json:"timestamp"` // Seconds since the Unix epoch.
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	Validity  string  `json:"validity"` // "A" for 3D fix, "V" for 2D or no GPS.
	PressAlt  float64 `json:"press_alt"`
	GNSSAlt   float64 `json:"gnss_alt"`
	Alt       float64 `json:"alt"` // Chosen altitude, pressure or GNSS.

	GroundSpeed       float64 `json:"gsp"`                 // km/h.
	Bearing           float64 `json:"bearing"`             // Degrees, [0, 360).
	BearingChangeRate float64 `json:"bearing_change_rate"` // Degrees per second.

	Flying   bool         `json:"flying"`
	Circling bool         `json:"circling"`
	InTask   sql.NullBool `json:"in_task"`
}

// Time returns the fix timestamp as a UTC instant.
func (f Fix) Time() time.Time {
	return UnixTime(f.Timestamp)
}

// UnixTime converts fractional Unix seconds to a UTC time, rounded to the
// microsecond.
func UnixTime(ts float64) time.Time {
	sec := math.Floor(ts)
	usec := math.Round((ts - sec) * 1e6)
	return time.Unix(int64(sec), int64(usec)*int64(time.Microsecond)).UTC()
}

// Thermal is one climb episode bounded by the fix where circling started
// and the fix where it ended.
type Thermal struct {
	Enter Fix `json:"enter"`
	Exit  Fix `json:"exit"`
}

// Duration returns the thermal duration in seconds.
func (t Thermal) Duration() float64 {
	return t.Exit.Timestamp - t.Enter.Timestamp
}

// AltitudeChange returns the height gained (or lost) in the thermal.
func (t Thermal) AltitudeChange() float64 {
	return t.Exit.Alt - t.Enter.Alt
}

// Dedup accepts fixes one at a time, dropping any fix whose timestamp is
// within TimestampEpsilon of the last accepted one. Accepted fixes are
// re-indexed in acceptance order.
type Dedup struct {
	fixes []Fix
}

// Add offers a fix and reports whether it was kept.
func (d *Dedup) Add(f Fix) bool {
	if n := len(d.fixes); n > 0 && math.Abs(f.Timestamp-d.fixes[n-1].Timestamp) < TimestampEpsilon {
		return false
	}
	f.Index = len(d.fixes)
	d.fixes = append(d.fixes, f)
	return true
}

// Len returns the number of accepted fixes.
func (d *Dedup) Len() int {
	return len(d.fixes)
}

// Fixes returns the accepted fixes in order.
func (d *Dedup) Fixes() []Fix {
	return d.fixes
}

// Deduplicate runs a single left-to-right pass over fixes and returns the
// de-duplicated sequence. The first of two colliding fixes wins.
func Deduplicate(fixes []Fix) []Fix {
	d := Dedup{fixes: make([]Fix, 0, len(fixes))}
	for _, f := range fixes {
		d.Add(f)
	}
	return d.Fixes()
}
