package igc

import (
	"strconv"
	"strings"
	"time"

	"github.com/mathias-muench/igc-lab/internal/flight"
)

// Record type letters.
const (
	RecordManufacturer = 'A'
	RecordFix          = 'B'
	RecordHeader       = 'H'
	RecordExtension    = 'I'
	RecordAnnotation   = 'L'
)

// Extension describes one additional B record field declared by an I
// record. Start and End are 1-based inclusive byte positions.
type Extension struct {
	Code  string
	Start int
	End   int
}

// ParseI parses an I record such as "I023638FXA3940SIU".
func ParseI(line string) []Extension {
	if len(line) < 3 {
		return nil
	}
	n, err := strconv.Atoi(line[1:3])
	if err != nil {
		return nil
	}

	var exts []Extension
	for i := 0; i < n; i++ {
		off := 3 + i*7
		if off+7 > len(line) {
			break
		}
		group := line[off : off+7]
		start, err1 := strconv.Atoi(group[0:2])
		end, err2 := strconv.Atoi(group[2:4])
		if err1 != nil || err2 != nil || start < 1 || end < start {
			continue
		}
		exts = append(exts, Extension{Code: group[4:7], Start: start, End: end})
	}
	return exts
}

// Value returns the extension's raw text inside a B record.
func (e Extension) Value(line string) (string, bool) {
	if e.End > len(line) {
		return "", false
	}
	return line[e.Start-1 : e.End], true
}

// ParseA fills the manufacturer code and logger ID from an A record.
func ParseA(line string, h *flight.Header) {
	if len(line) >= 4 {
		h.ManufacturerCode = strings.TrimSpace(line[1:4])
	}
	if len(line) >= 7 {
		h.UniqueID = strings.TrimSpace(line[4:7])
	}
}

// ParseH applies one H record to the header. Unknown subtypes are ignored.
func ParseH(line string, h *flight.Header) {
	if len(line) < 5 {
		return
	}
	switch line[2:5] {
	case "DTE":
		if d, ok := parseDate(line[5:]); ok {
			h.Date = d
		}
	case "PLT":
		h.Pilot = headerValue(line)
	case "GTY":
		h.GliderType = headerValue(line)
	case "GID":
		h.GliderID = headerValue(line)
	case "CID":
		h.CompetitionID = headerValue(line)
	}
}

// headerValue returns the text after the long name, e.g. "John Doe" from
// "HFPLTPILOTINCHARGE:John Doe". Old recorders omit the long name.
func headerValue(line string) string {
	if _, v, ok := strings.Cut(line, ":"); ok {
		return strings.TrimSpace(v)
	}
	return strings.TrimSpace(line[5:])
}

// parseDate accepts "DDMMYY" and the newer "DATE:DDMMYY,NN".
func parseDate(s string) (time.Time, bool) {
	if _, v, ok := strings.Cut(s, ":"); ok {
		s = v
	}
	s = strings.TrimSpace(s)
	if len(s) < 6 {
		return time.Time{}, false
	}
	day, err1 := strconv.Atoi(s[0:2])
	month, err2 := strconv.Atoi(s[2:4])
	year, err3 := strconv.Atoi(s[4:6])
	if err1 != nil || err2 != nil || err3 != nil || month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	if year >= 80 {
		year += 1900
	} else {
		year += 2000
	}
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC), true
}
