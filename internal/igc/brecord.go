package igc

import (
	"math"
	"strconv"
	"strings"

	"github.com/mathias-muench/igc-lab/internal/flight"
)

// minBRecordLen covers time, position, validity and both altitudes.
const minBRecordLen = 35

// ParseB parses one B record into a fix. index is the running fix index.
// Lines that are too short or carry unparseable fields yield ok == false.
//
// Layout: B HHMMSS DDMMmmmN DDDMMmmmE V PPPPP GGGGG [extensions]
func ParseB(line string, index int, exts []Extension) (flight.Fix, bool) {
	if len(line) < minBRecordLen || line[0] != RecordFix {
		return flight.Fix{}, false
	}

	raw, ok := parseClock(line[1:7])
	if !ok {
		return flight.Fix{}, false
	}
	lat, ok := ParseLatitude(line[7:14], line[14])
	if !ok {
		return flight.Fix{}, false
	}
	lon, ok := ParseLongitude(line[15:23], line[23])
	if !ok {
		return flight.Fix{}, false
	}
	validity := line[24:25]
	if validity != "A" && validity != "V" {
		return flight.Fix{}, false
	}
	press, err := strconv.Atoi(strings.TrimSpace(line[25:30]))
	if err != nil {
		return flight.Fix{}, false
	}
	gnss, err := strconv.Atoi(strings.TrimSpace(line[30:35]))
	if err != nil {
		return flight.Fix{}, false
	}

	for _, e := range exts {
		if e.Code != "TDS" {
			continue
		}
		if v, ok := e.Value(line); ok {
			if tenths, err := strconv.Atoi(v); err == nil {
				raw += float64(tenths) / math.Pow10(len(v))
			}
		}
	}

	return flight.Fix{
		Index:             index,
		RawTime:           raw,
		Timestamp:         raw,
		Lat:               lat,
		Lon:               lon,
		Validity:          validity,
		PressAlt:          float64(press),
		GNSSAlt:           float64(gnss),
		GroundSpeed:       math.NaN(),
		Bearing:           math.NaN(),
		BearingChangeRate: math.NaN(),
	}, true
}

// parseClock converts HHMMSS to seconds since midnight.
func parseClock(s string) (float64, bool) {
	if len(s) != 6 {
		return 0, false
	}
	h, err1 := strconv.Atoi(s[0:2])
	m, err2 := strconv.Atoi(s[2:4])
	sec, err3 := strconv.Atoi(s[4:6])
	if err1 != nil || err2 != nil || err3 != nil || h > 23 || m > 59 || sec > 59 {
		return 0, false
	}
	return float64(h*3600 + m*60 + sec), true
}
