package igc

import (
	"fmt"
	"math"
	"time"

	"github.com/mathias-muench/igc-lab/internal/flight"
)

// Altitude source selection.
const (
	AltitudeAuto     = "auto"
	AltitudePressure = "press"
	AltitudeGNSS     = "gnss"
)

const earthRadiusKm = 6371.0

// Config holds the thresholds used to validate a recording and derive its
// flight state.
type Config struct {
	MinFixes               int     `yaml:"min_fixes"`
	MaxSecondsBetweenFixes float64 `yaml:"max_seconds_between_fixes"`
	MaxTimeViolations      int     `yaml:"max_time_violations"`
	MaxNewDaysInFlight     int     `yaml:"max_new_days_in_flight"`

	MinAvgAbsAltChange     float64 `yaml:"min_avg_abs_alt_change"` // m per fix.
	MaxAltChangeRate       float64 `yaml:"max_alt_change_rate"`    // m/s.
	MaxAltChangeViolations int     `yaml:"max_alt_change_violations"`
	MaxAlt                 float64 `yaml:"max_alt"`
	MinAlt                 float64 `yaml:"min_alt"`
	WhichAltitude          string  `yaml:"which_altitude"`

	MinGroundSpeedFlying     float64 `yaml:"min_gsp_flight"`             // km/h.
	MinBearingChangeCircling float64 `yaml:"min_bearing_change_circling"` // deg/s.
	MinTimeForBearingChange  float64 `yaml:"min_time_for_bearing_change"` // s.
	MinTimeForThermal        float64 `yaml:"min_time_for_thermal"`        // s.

	// Location is the timezone competition annotations are written in.
	// Nil means flight.DefaultTimezone.
	Location *time.Location `yaml:"-"`
}

// DefaultConfig returns the thresholds commonly used for glider recordings.
func DefaultConfig() Config {
	return Config{
		MinFixes:                 50,
		MaxSecondsBetweenFixes:   50,
		MaxTimeViolations:        10,
		MaxNewDaysInFlight:       2,
		MinAvgAbsAltChange:       0.01,
		MaxAltChangeRate:         50,
		MaxAltChangeViolations:   3,
		MaxAlt:                   10000,
		MinAlt:                   -600,
		WhichAltitude:            AltitudeAuto,
		MinGroundSpeedFlying:     15,
		MinBearingChangeCircling: 6,
		MinTimeForBearingChange:  5,
		MinTimeForThermal:        60,
	}
}

// Analyzer derives kinematics, flight state and thermals from IGC fixes.
type Analyzer struct {
	cfg Config
}

// NewAnalyzer creates an Analyzer with the given thresholds.
func NewAnalyzer(cfg Config) *Analyzer {
	return &Analyzer{cfg: cfg}
}

var _ flight.Analyzer = (*Analyzer)(nil)

// Analyze implements flight.Analyzer. The input slice is not modified.
func (a *Analyzer) Analyze(h flight.Header, in []flight.Fix) flight.Analysis {
	fixes := make([]flight.Fix, len(in))
	copy(fixes, in)

	var notes []string
	if h.Date.IsZero() {
		notes = append(notes, "no date record (HFDTE) found")
	}
	if len(fixes) < a.cfg.MinFixes {
		notes = append(notes, fmt.Sprintf("file has %d fixes, less than the minimum %d", len(fixes), a.cfg.MinFixes))
		return flight.Analysis{Fixes: fixes, Notes: notes}
	}

	notes = append(notes, a.checkTimes(fixes)...)

	alt, altNotes := a.chooseAltitude(fixes)
	notes = append(notes, altNotes...)
	for i := range fixes {
		if alt == AltitudeGNSS {
			fixes[i].Alt = fixes[i].GNSSAlt
		} else {
			fixes[i].Alt = fixes[i].PressAlt
		}
	}

	computeKinematics(fixes)
	a.computeBearingChangeRates(fixes)
	a.computeFlightState(fixes)

	if !anyFlying(fixes) {
		notes = append(notes, "no takeoff detected")
	}

	return flight.Analysis{
		Fixes:    fixes,
		Thermals: a.findThermals(fixes),
		Valid:    len(notes) == 0,
		Notes:    notes,
	}
}

// checkTimes counts gaps that are too long, time going backwards and
// midnight rollovers.
func (a *Analyzer) checkTimes(fixes []flight.Fix) []string {
	var notes []string
	violations, newDays := 0, 0
	for i := 1; i < len(fixes); i++ {
		dt := fixes[i].Timestamp - fixes[i-1].Timestamp
		if dt < 0 || dt > a.cfg.MaxSecondsBetweenFixes {
			violations++
		}
		if fixes[i].RawTime < fixes[i-1].RawTime-12*3600 {
			newDays++
		}
	}
	if violations > a.cfg.MaxTimeViolations {
		notes = append(notes, fmt.Sprintf("too many fix time violations: %d", violations))
	}
	if newDays > a.cfg.MaxNewDaysInFlight {
		notes = append(notes, fmt.Sprintf("too many days in flight: %d", newDays+1))
	}
	return notes
}

// chooseAltitude decides between pressure and GNSS altitude. In auto mode
// pressure altitude wins unless it looks broken.
func (a *Analyzer) chooseAltitude(fixes []flight.Fix) (string, []string) {
	pressOK := a.altitudeUsable(fixes, func(f flight.Fix) float64 { return f.PressAlt })
	gnssOK := a.altitudeUsable(fixes, func(f flight.Fix) float64 { return f.GNSSAlt })

	switch a.cfg.WhichAltitude {
	case AltitudePressure:
		if !pressOK {
			return AltitudePressure, []string{"pressure altitude is unusable"}
		}
		return AltitudePressure, nil
	case AltitudeGNSS:
		if !gnssOK {
			return AltitudeGNSS, []string{"GNSS altitude is unusable"}
		}
		return AltitudeGNSS, nil
	}

	switch {
	case pressOK:
		return AltitudePressure, nil
	case gnssOK:
		return AltitudeGNSS, nil
	}
	return AltitudePressure, []string{"neither pressure nor GNSS altitude is usable"}
}

func (a *Analyzer) altitudeUsable(fixes []flight.Fix, alt func(flight.Fix) float64) bool {
	var sumAbs float64
	violations := 0
	for i, f := range fixes {
		v := alt(f)
		if v > a.cfg.MaxAlt || v < a.cfg.MinAlt {
			return false
		}
		if i == 0 {
			continue
		}
		change := v - alt(fixes[i-1])
		sumAbs += math.Abs(change)
		dt := f.Timestamp - fixes[i-1].Timestamp
		if dt > 0 && math.Abs(change)/dt > a.cfg.MaxAltChangeRate {
			violations++
		}
	}
	if sumAbs/float64(len(fixes)) < a.cfg.MinAvgAbsAltChange {
		return false
	}
	return violations <= a.cfg.MaxAltChangeViolations
}

// computeKinematics fills ground speed and bearing from each fix's
// predecessor. Both stay NaN on the first fix.
func computeKinematics(fixes []flight.Fix) {
	for i := 1; i < len(fixes); i++ {
		prev, cur := fixes[i-1], &fixes[i]
		dt := cur.Timestamp - prev.Timestamp
		if math.Abs(dt) < flight.TimestampEpsilon {
			cur.GroundSpeed = 0
		} else {
			cur.GroundSpeed = Distance(prev.Lat, prev.Lon, cur.Lat, cur.Lon) / dt * 3600
		}
		cur.Bearing = Bearing(prev.Lat, prev.Lon, cur.Lat, cur.Lon)
	}
}

// computeBearingChangeRates compares each fix with the latest earlier fix
// at least MinTimeForBearingChange seconds back.
func (a *Analyzer) computeBearingChangeRates(fixes []flight.Fix) {
	for i := range fixes {
		j := a.previousForBearing(fixes, i)
		if j < 0 || math.IsNaN(fixes[j].Bearing) || math.IsNaN(fixes[i].Bearing) {
			fixes[i].BearingChangeRate = math.NaN()
			continue
		}
		change := fixes[i].Bearing - fixes[j].Bearing
		if change > 180 {
			change -= 360
		} else if change < -180 {
			change += 360
		}
		fixes[i].BearingChangeRate = change / (fixes[i].Timestamp - fixes[j].Timestamp)
	}
}

func (a *Analyzer) previousForBearing(fixes []flight.Fix, i int) int {
	for j := i - 1; j >= 0; j-- {
		if fixes[i].Timestamp-fixes[j].Timestamp > a.cfg.MinTimeForBearingChange-1e-7 {
			return j
		}
	}
	return -1
}

func (a *Analyzer) computeFlightState(fixes []flight.Fix) {
	for i := range fixes {
		f := &fixes[i]
		f.Flying = !math.IsNaN(f.GroundSpeed) && f.GroundSpeed > a.cfg.MinGroundSpeedFlying
		f.Circling = f.Flying && !math.IsNaN(f.BearingChangeRate) &&
			math.Abs(f.BearingChangeRate) > a.cfg.MinBearingChangeCircling
	}
}

func anyFlying(fixes []flight.Fix) bool {
	for _, f := range fixes {
		if f.Flying {
			return true
		}
	}
	return false
}

// findThermals returns every circling run lasting at least
// MinTimeForThermal. The exit fix is the first fix after the run; a run
// still open at the end of the recording is dropped.
func (a *Analyzer) findThermals(fixes []flight.Fix) []flight.Thermal {
	var (
		thermals []flight.Thermal
		enter    = -1
	)
	for i, f := range fixes {
		switch {
		case enter < 0 && f.Circling:
			enter = i
		case enter >= 0 && !f.Circling:
			if f.Timestamp-fixes[enter].Timestamp > a.cfg.MinTimeForThermal-flight.TimestampEpsilon {
				thermals = append(thermals, flight.Thermal{Enter: fixes[enter], Exit: f})
			}
			enter = -1
		}
	}
	return thermals
}

// Distance returns the great-circle distance in kilometres.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	lat1r, lat2r := radians(lat1), radians(lat2)
	dLat := lat2r - lat1r
	dLon := radians(lon2 - lon1)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1r)*math.Cos(lat2r)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Bearing returns the initial bearing from the first point to the second
// in degrees, [0, 360).
func Bearing(lat1, lon1, lat2, lon2 float64) float64 {
	lat1r, lat2r := radians(lat1), radians(lat2)
	dLon := radians(lon2 - lon1)
	y := math.Sin(dLon) * math.Cos(lat2r)
	x := math.Cos(lat1r)*math.Sin(lat2r) - math.Sin(lat1r)*math.Cos(lat2r)*math.Cos(dLon)
	return math.Mod(math.Atan2(y, x)*180/math.Pi+360, 360)
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
