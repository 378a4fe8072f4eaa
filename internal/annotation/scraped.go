package annotation

import (
	"bytes"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/mathias-muench/igc-lab/internal/annotation/lscr"
)

// ScrapedEntry is one row of a competition results page: the pilot's
// recording plus the start and finish times and points published for it.
// Start and Finish are local ISO times, e.g. "2023-07-01T12:34:56".
type ScrapedEntry struct {
	Start      string
	Finish     string
	Contestant string
	Points     int
}

// Letters that do not decompose into a base letter plus diacritics.
var foldReplacer = strings.NewReplacer(
	"ø", "o", "Ø", "O",
	"æ", "ae", "Æ", "AE",
	"ß", "ss",
	"đ", "d", "Đ", "D",
	"ł", "l", "Ł", "L",
	"þ", "th", "Þ", "TH",
)

// ToASCII folds s to plain ASCII: diacritics are stripped and anything that
// still is not ASCII becomes '?'.
func ToASCII(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, foldReplacer.Replace(s))
	if err != nil {
		folded = s
	}
	return strings.Map(func(r rune) rune {
		if r > unicode.MaxASCII {
			return '?'
		}
		return r
	}, folded)
}

// AppendScraped appends the LSCR lines for entry to a raw recording.
func AppendScraped(content []byte, entry ScrapedEntry) []byte {
	var b bytes.Buffer
	b.Write(content)
	if len(content) > 0 && content[len(content)-1] != '\n' {
		b.WriteString("\r\n")
	}

	write := func(field, value string) {
		b.WriteString(lscr.Marker)
		b.WriteString(field)
		b.WriteByte(':')
		b.WriteString(ToASCII(value))
		b.WriteString("\r\n")
	}
	write(lscr.FieldStart, entry.Start)
	write(lscr.FieldFinish, entry.Finish)
	write(lscr.FieldContestant, entry.Contestant)
	write(lscr.FieldPoints, strconv.Itoa(entry.Points))

	return b.Bytes()
}
