package lscr

import (
	"testing"
)

func TestLSCRParser(t *testing.T) {
	tests := []struct {
		name      string
		line      string
		wantCheck bool
		wantOK    bool
		wantField string
		wantValue string
	}{
		{"start", "LSCR::START:2023-07-01T12:34:56", true, true, FieldStart, "2023-07-01T12:34:56"},
		{"bare time keeps its colons", "LSCR::FINISH:11:30:00", true, true, FieldFinish, "11:30:00"},
		{"points", "LSCR::POINTS: 850 ", true, true, FieldPoints, "850"},
		{"contestant", "LSCR::CONTESTANT:J. Doe", true, true, FieldContestant, "J. Doe"},
		{"competition", "LSCR::COMPETITION:Swedish Nationals", true, true, FieldCompetition, "Swedish Nationals"},
		{"class", "LSCR::CLASS:Standard", true, true, FieldClass, "Standard"},
		{"empty value", "LSCR::CLASS:", true, true, FieldClass, ""},
		{"unknown field", "LSCR::WINDSPEED:12", true, false, "", ""},
		{"no field separator", "LSCR::POINTS", false, false, "", ""},
		{"other namespace", "LXNA::POINTS:12", false, false, "", ""},
	}

	p := &Parser{}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.QuickCheck(tt.line); got != tt.wantCheck {
				t.Fatalf("QuickCheck(%q) = %v, want %v", tt.line, got, tt.wantCheck)
			}
			if !tt.wantCheck {
				return
			}

			u, ok := p.Parse(tt.line)
			if ok != tt.wantOK {
				t.Fatalf("Parse(%q) ok = %v, want %v", tt.line, ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if u.Field != tt.wantField {
				t.Errorf("Field = %q, want %q", u.Field, tt.wantField)
			}
			if u.Value != tt.wantValue {
				t.Errorf("Value = %q, want %q", u.Value, tt.wantValue)
			}
			if u.Namespace != Marker || u.Line != tt.line {
				t.Errorf("Namespace/Line = %q/%q", u.Namespace, u.Line)
			}
		})
	}
}
