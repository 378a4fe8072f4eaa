package registry

import (
	"strings"
	"testing"
)

// stubParser accepts "<ns>FIELD:value" lines.
type stubParser struct {
	name     string
	ns       string
	priority int
}

func (p stubParser) Name() string      { return p.name }
func (p stubParser) Namespace() string { return p.ns }
func (p stubParser) Priority() int     { return p.priority }

func (p stubParser) QuickCheck(line string) bool {
	return strings.HasPrefix(line, p.ns)
}

func (p stubParser) Parse(line string) (Update, bool) {
	field, value, ok := strings.Cut(line[len(p.ns):], ":")
	if !ok {
		return Update{}, false
	}
	return Update{Namespace: p.ns, Field: field, Value: p.name + "=" + value, Line: line}, true
}

func TestDispatchPriority(t *testing.T) {
	r := New()
	r.Register(stubParser{name: "late", ns: "TEST::", priority: 20})
	r.Register(stubParser{name: "early", ns: "TEST::", priority: 10})
	r.Register(stubParser{name: "other", ns: "OTHR::", priority: 0})

	got := r.Dispatch("TEST::A:1")
	if len(got) != 2 {
		t.Fatalf("Dispatch() returned %d updates, want 2", len(got))
	}
	if got[0].Value != "early=1" || got[1].Value != "late=1" {
		t.Errorf("Dispatch() order = %q, %q", got[0].Value, got[1].Value)
	}

	if got := r.Dispatch("NONE::A:1"); got != nil {
		t.Errorf("Dispatch() on unknown namespace = %v, want nil", got)
	}
	if got := r.Dispatch("TEST"); got != nil {
		t.Errorf("Dispatch() on short line = %v, want nil", got)
	}
	if got := r.Dispatch("TEST::nofield"); len(got) != 0 {
		t.Errorf("Dispatch() on unparseable line = %v, want none", got)
	}
}

func TestNamespacesAndCount(t *testing.T) {
	r := New()
	r.Register(stubParser{name: "a", ns: "BBBB::"})
	r.Register(stubParser{name: "b", ns: "AAAA::"})
	r.Register(stubParser{name: "a", ns: "AAAA::"})

	ns := r.Namespaces()
	if len(ns) != 2 || ns[0] != "AAAA::" || ns[1] != "BBBB::" {
		t.Errorf("Namespaces() = %v", ns)
	}
	if n := r.ParserCount(); n != 2 {
		t.Errorf("ParserCount() = %d, want 2", n)
	}
}

func TestTrace(t *testing.T) {
	r := New()
	r.Register(stubParser{name: "stub", ns: "TEST::"})

	traces := r.Trace("TEST::A:1")
	if len(traces) != 1 {
		t.Fatalf("Trace() returned %d results, want 1", len(traces))
	}
	tr := traces[0]
	if tr.ParserName != "stub" || !tr.QuickCheck || !tr.Matched || tr.Update == nil {
		t.Errorf("Trace() = %+v", tr)
	}

	traces = r.Trace("TEST::broken")
	if len(traces) != 1 || traces[0].Matched {
		t.Errorf("Trace() on unparseable line = %+v", traces)
	}
}
