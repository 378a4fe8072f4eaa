// Package registry provides an annotation parser registry for dispatching
// free-text IGC L records to the parser owning their namespace.
package registry

import (
	"sort"
	"sync"
)

// NamespaceLen is the length of the marker that opens every namespaced
// annotation line, e.g. "LSCR::".
const NamespaceLen = 6

// Update is one field assignment extracted from an annotation line.
type Update struct {
	Namespace string `json:"namespace"`
	Field     string `json:"field"`
	Value     string `json:"value"`
	Line      string `json:"line"`
}

// Parser is implemented by each annotation namespace parser.
type Parser interface {
	// Name returns the parser's unique identifier.
	Name() string

	// Namespace returns the NamespaceLen-character marker this parser owns.
	Namespace() string

	// QuickCheck performs a fast string check before parsing.
	// Returns true if the line MIGHT be parseable (false = definitely skip).
	QuickCheck(line string) bool

	// Priority determines order when multiple parsers share a namespace.
	// Lower number = checked first.
	Priority() int

	// Parse extracts a field assignment. ok is false for lines the parser
	// does not recognise; those are ignored by the caller.
	Parse(line string) (u Update, ok bool)
}

// Registry holds all registered parsers keyed by namespace.
type Registry struct {
	mu sync.RWMutex

	// byNamespace maps markers to parser slices, sorted by Priority (ascending)
	byNamespace map[string][]Parser

	// sorted tracks whether parsers have been sorted
	sorted bool
}

// New creates a new Registry instance.
func New() *Registry {
	return &Registry{
		byNamespace: make(map[string][]Parser),
	}
}

// Global default registry.
var defaultRegistry = New()

// Default returns the global registry instance.
func Default() *Registry {
	return defaultRegistry
}

// Register adds a parser to the default registry.
// Called during init() in each parser package.
func Register(p Parser) {
	defaultRegistry.Register(p)
}

// Register adds a parser to the registry.
func (r *Registry) Register(p Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ns := p.Namespace()
	r.byNamespace[ns] = append(r.byNamespace[ns], p)
	r.sorted = false
}

// Sort sorts all parser slices by priority. Dispatch sorts lazily, calling
// Sort up front only avoids taking the write lock later.
func (r *Registry) Sort() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sortLocked()
}

func (r *Registry) sortLocked() {
	if r.sorted {
		return
	}
	for ns := range r.byNamespace {
		parsers := r.byNamespace[ns]
		sort.SliceStable(parsers, func(i, j int) bool {
			return parsers[i].Priority() < parsers[j].Priority()
		})
	}
	r.sorted = true
}

// Dispatch routes a line to the parsers of its namespace and returns every
// update they produced, in priority order. Lines without a registered
// namespace produce nothing.
func (r *Registry) Dispatch(line string) []Update {
	if len(line) < NamespaceLen {
		return nil
	}

	r.mu.RLock()
	if !r.sorted {
		r.mu.RUnlock()
		r.Sort()
		r.mu.RLock()
	}
	defer r.mu.RUnlock()

	var updates []Update
	for _, p := range r.byNamespace[line[:NamespaceLen]] {
		// Quick check before parsing.
		if !p.QuickCheck(line) {
			continue
		}
		if u, ok := p.Parse(line); ok {
			updates = append(updates, u)
		}
	}
	return updates
}

// Namespaces returns all namespaces that have parsers registered.
func (r *Registry) Namespaces() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	namespaces := make([]string, 0, len(r.byNamespace))
	for ns := range r.byNamespace {
		namespaces = append(namespaces, ns)
	}
	sort.Strings(namespaces)
	return namespaces
}

// ParserCount returns the total number of unique registered parsers.
func (r *Registry) ParserCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	for _, parsers := range r.byNamespace {
		for _, p := range parsers {
			seen[p.Name()] = true
		}
	}
	return len(seen)
}
