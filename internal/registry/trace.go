package registry

// TraceResult contains trace information from a parser's attempt to parse a line.
type TraceResult struct {
	ParserName string  `json:"parser"`
	QuickCheck bool    `json:"quick_check"` // Whether the quick check passed.
	Matched    bool    `json:"matched"`     // Whether the parser produced an update.
	Update     *Update `json:"update,omitempty"`
}

// Trace runs every parser of the line's namespace and reports what each one
// did. It is the debugging counterpart of Dispatch.
func (r *Registry) Trace(line string) []TraceResult {
	if len(line) < NamespaceLen {
		return nil
	}

	r.Sort()

	r.mu.RLock()
	defer r.mu.RUnlock()

	var traces []TraceResult
	for _, p := range r.byNamespace[line[:NamespaceLen]] {
		tr := TraceResult{ParserName: p.Name(), QuickCheck: p.QuickCheck(line)}
		if tr.QuickCheck {
			if u, ok := p.Parse(line); ok {
				tr.Matched = true
				tr.Update = &u
			}
		}
		traces = append(traces, tr)
	}
	return traces
}
