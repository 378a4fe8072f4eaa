// Package lscr parses the LSCR annotation namespace that the competition
// scraper appends to downloaded IGC files.
//
// Each line has the form "LSCR::FIELD:value", e.g. "LSCR::POINTS:850".
package lscr

import (
	"strings"

	"github.com/mathias-muench/igc-lab/internal/registry"
)

// Marker opens every LSCR line.
const Marker = "LSCR::"

// Field names understood by the parser.
const (
	FieldStart       = "START"
	FieldFinish      = "FINISH"
	FieldPoints      = "POINTS"
	FieldContestant  = "CONTESTANT"
	FieldCompetition = "COMPETITION"
	FieldClass       = "CLASS"
)

var knownFields = map[string]bool{
	FieldStart:       true,
	FieldFinish:      true,
	FieldPoints:      true,
	FieldContestant:  true,
	FieldCompetition: true,
	FieldClass:       true,
}

// Parser parses LSCR annotation lines.
type Parser struct{}

func init() {
	registry.Register(&Parser{})
}

func (p *Parser) Name() string      { return "lscr" }
func (p *Parser) Namespace() string { return Marker }
func (p *Parser) Priority() int     { return 10 }

// QuickCheck requires the marker followed by at least one more separator.
func (p *Parser) QuickCheck(line string) bool {
	return strings.HasPrefix(line, Marker) && strings.Contains(line[len(Marker):], ":")
}

// Parse splits the line on "::" and then on the first ":" of the remainder.
// Unknown field names are not an error; they are skipped.
func (p *Parser) Parse(line string) (registry.Update, bool) {
	_, rest, ok := strings.Cut(line, "::")
	if !ok {
		return registry.Update{}, false
	}
	field, value, ok := strings.Cut(rest, ":")
	if !ok || !knownFields[field] {
		return registry.Update{}, false
	}
	return registry.Update{
		Namespace: Marker,
		Field:     field,
		Value:     strings.TrimSpace(value),
		Line:      line,
	}, true
}
