package igc

import (
	"strconv"
)

// ParseCoord parses an IGC coordinate in degrees plus thousandths of
// minutes and returns decimal degrees. degDigits is 2 for latitude
// (DDMMmmm) and 3 for longitude (DDDMMmmm). S and W make the result
// negative.
func ParseCoord(s string, degDigits int, hemi byte) (float64, bool) {
	if len(s) != degDigits+5 {
		return 0, false
	}

	deg, err := strconv.Atoi(s[:degDigits])
	if err != nil {
		return 0, false
	}
	minWhole, err := strconv.Atoi(s[degDigits : degDigits+2])
	if err != nil {
		return 0, false
	}
	minThousandths, err := strconv.Atoi(s[degDigits+2:])
	if err != nil {
		return 0, false
	}
	if minWhole >= 60 {
		return 0, false
	}

	result := float64(deg) + (float64(minWhole)+float64(minThousandths)/1000.0)/60.0

	switch hemi {
	case 'N', 'E':
	case 'S', 'W':
		result = -result
	default:
		return 0, false
	}
	return result, true
}

// ParseLatitude parses a DDMMmmm latitude.
func ParseLatitude(value string, hemi byte) (float64, bool) {
	v, ok := ParseCoord(value, 2, hemi)
	if !ok || v < -90 || v > 90 {
		return 0, false
	}
	return v, true
}

// ParseLongitude parses a DDDMMmmm longitude.
func ParseLongitude(value string, hemi byte) (float64, bool) {
	v, ok := ParseCoord(value, 3, hemi)
	if !ok || v < -180 || v > 180 {
		return 0, false
	}
	return v, true
}
