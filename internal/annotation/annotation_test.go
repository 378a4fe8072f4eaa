package annotation

import (
	"errors"
	"strings"
	"testing"
)

func TestFold(t *testing.T) {
	fields, err := Fold([]string{
		"LSCR::START:10:00:00",
		"LSCR::FINISH:11:30:00",
		"LSCR::POINTS:850",
		"LSCR::CONTESTANT:J. Doe",
		"LSCR::COMPETITION:Nationals",
		"LSCR::CLASS:Club",
		"LXNAV::SOMETHING:else",
		"LSCR::UNKNOWN:ignored",
		"LPLTfree text",
	})
	if err != nil {
		t.Fatalf("Fold() error = %v", err)
	}

	if fields.Start != "10:00:00" || fields.Finish != "11:30:00" {
		t.Errorf("Start/Finish = %q/%q", fields.Start, fields.Finish)
	}
	if fields.Points == nil || *fields.Points != 850 {
		t.Errorf("Points = %v, want 850", fields.Points)
	}
	if fields.Contestant != "J. Doe" || fields.Competition != "Nationals" || fields.Class != "Club" {
		t.Errorf("fields = %+v", fields)
	}
}

func TestFoldLastWins(t *testing.T) {
	fields, err := Fold([]string{
		"LSCR::POINTS:100",
		"LSCR::CONTESTANT:First",
		"LSCR::POINTS:200",
		"LSCR::CONTESTANT:Second",
	})
	if err != nil {
		t.Fatalf("Fold() error = %v", err)
	}
	if fields.Points == nil || *fields.Points != 200 {
		t.Errorf("Points = %v, want 200", fields.Points)
	}
	if fields.Contestant != "Second" {
		t.Errorf("Contestant = %q, want %q", fields.Contestant, "Second")
	}
}

func TestFoldMalformedPoints(t *testing.T) {
	fields, err := Fold([]string{
		"LSCR::POINTS:100",
		"LSCR::POINTS:many",
		"LSCR::CONTESTANT:J. Doe",
	})

	var mae *MalformedAnnotationError
	if !errors.As(err, &mae) {
		t.Fatalf("Fold() error = %v, want *MalformedAnnotationError", err)
	}
	if mae.Line != "LSCR::POINTS:many" {
		t.Errorf("Line = %q", mae.Line)
	}
	// The malformed line is skipped; the rest still folds.
	if fields.Points == nil || *fields.Points != 100 {
		t.Errorf("Points = %v, want 100", fields.Points)
	}
	if fields.Contestant != "J. Doe" {
		t.Errorf("Contestant = %q", fields.Contestant)
	}
}

func TestFoldEmpty(t *testing.T) {
	fields, err := Fold(nil)
	if err != nil || !fields.IsZero() {
		t.Errorf("Fold(nil) = %+v, %v", fields, err)
	}
}

func TestToASCII(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"J. Doe", "J. Doe"},
		{"Åsa Öberg", "Asa Oberg"},
		{"Søren Kjærgaard", "Soren Kjaergaard"},
		{"Łukasz Straße", "Lukasz Strasse"},
		{"李", "?"},
	}
	for _, tt := range tests {
		if got := ToASCII(tt.in); got != tt.want {
			t.Errorf("ToASCII(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAppendScraped(t *testing.T) {
	content := []byte("AXXXABC\r\nHFDTE010723")
	out := AppendScraped(content, ScrapedEntry{
		Start:      "2023-07-01T12:00:00",
		Finish:     "2023-07-01T15:30:00",
		Contestant: "Åsa Öberg",
		Points:     912,
	})

	want := "AXXXABC\r\nHFDTE010723\r\n" +
		"LSCR::START:2023-07-01T12:00:00\r\n" +
		"LSCR::FINISH:2023-07-01T15:30:00\r\n" +
		"LSCR::CONTESTANT:Asa Oberg\r\n" +
		"LSCR::POINTS:912\r\n"
	if string(out) != want {
		t.Errorf("AppendScraped() =\n%q\nwant\n%q", out, want)
	}

	// The appended lines fold back into the same metadata.
	var lines []string
	for _, l := range strings.Split(string(out), "\r\n") {
		if strings.HasPrefix(l, "L") {
			lines = append(lines, l)
		}
	}
	fields, err := Fold(lines)
	if err != nil {
		t.Fatalf("Fold() error = %v", err)
	}
	if fields.Contestant != "Asa Oberg" || fields.Points == nil || *fields.Points != 912 {
		t.Errorf("round trip = %+v", fields)
	}
}
