// Package annotation folds the free-text annotation lines of a recording
// into competition metadata.
//
// Parsing is done by the namespace parsers registered with the registry
// package; this package only decides how their updates combine. Updates are
// applied left to right and a later value for the same field replaces an
// earlier one.
package annotation

import (
	"fmt"
	"strconv"

	"github.com/mathias-muench/igc-lab/internal/annotation/lscr"
	"github.com/mathias-muench/igc-lab/internal/registry"
)

// Fields is the competition metadata carried by annotation lines.
// Start and Finish stay textual; they are interpreted by the assembler,
// which knows the flight date and timezone.
type Fields struct {
	Start       string `json:"start,omitempty"`
	Finish      string `json:"finish,omitempty"`
	Contestant  string `json:"contestant,omitempty"`
	Competition string `json:"competition,omitempty"`
	Class       string `json:"class,omitempty"`
	Points      *int   `json:"points,omitempty"`
}

// IsZero reports whether no field was set.
func (f Fields) IsZero() bool {
	return f == Fields{}
}

// MalformedAnnotationError reports a recognised field whose value could not
// be interpreted.
type MalformedAnnotationError struct {
	Line   string
	Reason string
}

func (e *MalformedAnnotationError) Error() string {
	return fmt.Sprintf("malformed annotation %q: %s", e.Line, e.Reason)
}

// Apply returns f with the update applied. Unknown fields leave f unchanged.
func Apply(f Fields, u registry.Update) (Fields, error) {
	switch u.Field {
	case lscr.FieldStart:
		f.Start = u.Value
	case lscr.FieldFinish:
		f.Finish = u.Value
	case lscr.FieldContestant:
		f.Contestant = u.Value
	case lscr.FieldCompetition:
		f.Competition = u.Value
	case lscr.FieldClass:
		f.Class = u.Value
	case lscr.FieldPoints:
		n, err := strconv.Atoi(u.Value)
		if err != nil {
			return f, &MalformedAnnotationError{Line: u.Line, Reason: "points is not an integer"}
		}
		f.Points = &n
	}
	return f, nil
}

// Fold applies every line through the default registry. A malformed line is
// skipped and the first such error is returned alongside the fields folded
// from the remaining lines.
func Fold(lines []string) (Fields, error) {
	return FoldWith(registry.Default(), lines)
}

// FoldWith is Fold with an explicit registry.
func FoldWith(r *registry.Registry, lines []string) (Fields, error) {
	var (
		f        Fields
		firstErr error
	)
	for _, line := range lines {
		for _, u := range r.Dispatch(line) {
			next, err := Apply(f, u)
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			f = next
		}
	}
	return f, firstErr
}
