// Package corpus merges normalised flights into three sorted tables:
// metadata, fixes and thermals.
//
// A Corpus is built once per batch and is read-only afterwards.
package corpus

import (
	"sort"
	"sync"
	"time"

	"github.com/mathias-muench/igc-lab/internal/flight"
	"github.com/mathias-muench/igc-lab/internal/normalize"
)

// Rejection records a flight dropped by a lenient build.
type Rejection struct {
	Key    flight.Key `json:"key"`
	Source string     `json:"source,omitempty"`
	Notes  []string   `json:"notes,omitempty"`
	Err    error      `json:"-"`
}

// Corpus is the merged output of a batch.
type Corpus struct {
	Metadata []normalize.MetadataRow // Sorted by key.
	Fixes    []normalize.FixRow      // Sorted by key, then time.
	Thermals []normalize.ThermalRow  // Sorted by key, then entry time.
	Rejected []Rejection             // Input order.

	indexOnce sync.Once
	byKey     map[flight.Key]int // Into Metadata.
}

// Summary counts what a corpus holds.
type Summary struct {
	Flights  int `json:"flights"`
	Fixes    int `json:"fixes"`
	Thermals int `json:"thermals"`
	Rejected int `json:"rejected"`
}

// Summary returns the row counts.
func (c *Corpus) Summary() Summary {
	return Summary{
		Flights:  len(c.Metadata),
		Fixes:    len(c.Fixes),
		Thermals: len(c.Thermals),
		Rejected: len(c.Rejected),
	}
}

func (c *Corpus) index() map[flight.Key]int {
	c.indexOnce.Do(func() {
		c.byKey = make(map[flight.Key]int, len(c.Metadata))
		for i, m := range c.Metadata {
			c.byKey[m.Key] = i
		}
	})
	return c.byKey
}

// Lookup returns the metadata row for key.
func (c *Corpus) Lookup(key flight.Key) (normalize.MetadataRow, bool) {
	i, ok := c.index()[key]
	if !ok {
		return normalize.MetadataRow{}, false
	}
	return c.Metadata[i], true
}

// InTaskWindow reports whether a fix row lies inside its flight's task
// window [start, finish). defined is false when the flight has no metadata
// or no start and finish.
func (c *Corpus) InTaskWindow(row normalize.FixRow) (in, defined bool) {
	m, ok := c.Lookup(row.Key)
	if !ok {
		return false, false
	}
	return m.InWindow(row.Time)
}

// TaskFixes returns the fix rows inside their task window, in corpus order.
func (c *Corpus) TaskFixes() []normalize.FixRow {
	var rows []normalize.FixRow
	for _, r := range c.Fixes {
		if in, _ := c.InTaskWindow(r); in {
			rows = append(rows, r)
		}
	}
	return rows
}

// FlightFixes returns the contiguous fix rows of one flight.
func (c *Corpus) FlightFixes(key flight.Key) []normalize.FixRow {
	lo := sort.Search(len(c.Fixes), func(i int) bool { return c.Fixes[i].Key.Compare(key) >= 0 })
	hi := sort.Search(len(c.Fixes), func(i int) bool { return c.Fixes[i].Key.Compare(key) > 0 })
	return c.Fixes[lo:hi]
}

// FlightThermals returns the thermal rows of one flight.
func (c *Corpus) FlightThermals(key flight.Key) []normalize.ThermalRow {
	lo := sort.Search(len(c.Thermals), func(i int) bool { return c.Thermals[i].Key.Compare(key) >= 0 })
	hi := sort.Search(len(c.Thermals), func(i int) bool { return c.Thermals[i].Key.Compare(key) > 0 })
	return c.Thermals[lo:hi]
}

// merge concatenates per-flight tables and sorts the result.
func merge(tables []normalize.Table) *Corpus {
	c := &Corpus{}
	for _, t := range tables {
		c.Metadata = append(c.Metadata, t.Metadata)
		c.Fixes = append(c.Fixes, t.Fixes...)
		c.Thermals = append(c.Thermals, t.Thermals...)
	}

	sort.SliceStable(c.Metadata, func(i, j int) bool {
		return c.Metadata[i].Key.Compare(c.Metadata[j].Key) < 0
	})
	sort.SliceStable(c.Fixes, func(i, j int) bool {
		return lessByKeyTime(c.Fixes[i].Key, c.Fixes[i].Time, c.Fixes[j].Key, c.Fixes[j].Time)
	})
	sort.SliceStable(c.Thermals, func(i, j int) bool {
		return lessByKeyTime(c.Thermals[i].Key, c.Thermals[i].Enter, c.Thermals[j].Key, c.Thermals[j].Enter)
	})
	return c
}

func lessByKeyTime(k1 flight.Key, t1 time.Time, k2 flight.Key, t2 time.Time) bool {
	if c := k1.Compare(k2); c != 0 {
		return c < 0
	}
	return t1.Before(t2)
}

// checkUnique verifies no two fix rows share a (key, time) pair.
func (c *Corpus) checkUnique() error {
	for i := 1; i < len(c.Fixes); i++ {
		prev, cur := c.Fixes[i-1], c.Fixes[i]
		if prev.Key == cur.Key && prev.Time.Equal(cur.Time) {
			return &flight.DuplicateTimestampError{Key: cur.Key, Time: cur.Time}
		}
	}
	return nil
}
