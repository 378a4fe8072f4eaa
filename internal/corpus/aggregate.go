package corpus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/mathias-muench/igc-lab/internal/flight"
	"github.com/mathias-muench/igc-lab/internal/igc"
	"github.com/mathias-muench/igc-lab/internal/normalize"
)

// Options controls a batch build.
type Options struct {
	Policy  Policy
	Workers int        // Defaults to runtime.NumCPU().
	Parsing igc.Config // Used by Build only.
	Logger  *slog.Logger
}

func (o Options) workers() int {
	if o.Workers > 0 {
		return o.Workers
	}
	return runtime.NumCPU()
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// DuplicateKeyError reports two flights of one batch with the same key.
type DuplicateKeyError struct {
	Key     flight.Key
	Sources [2]string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("flight %s appears twice (%s, %s)", e.Key, e.Sources[0], e.Sources[1])
}

// result is what one worker produces for one input.
type result struct {
	key    flight.Key
	source string
	notes  []string
	table  normalize.Table
	err    error
}

// Aggregate normalises already assembled flights and merges them.
func Aggregate(ctx context.Context, flights []*flight.Flight, opts Options) (*Corpus, error) {
	return run(ctx, len(flights), opts, func(i int) result {
		f := flights[i]
		tbl, err := normalize.Normalize(f)
		return result{key: f.Key, source: f.Source, notes: slices.Clone(f.Notes), table: tbl, err: err}
	})
}

// Build parses, normalises and merges raw recordings. One task runs per
// source. I/O failures abort the batch under either policy.
func Build(ctx context.Context, sources []Source, opts Options) (*Corpus, error) {
	return run(ctx, len(sources), opts, func(i int) result {
		return load(sources[i], opts.Parsing)
	})
}

func load(src Source, cfg igc.Config) result {
	res := result{source: src.Name()}

	rc, err := src.Open()
	if err != nil {
		res.err = &flight.ExternalIOError{Op: "open", Path: src.Name(), Err: err}
		return res
	}
	defer rc.Close()

	f, err := igc.Load(rc, src.Name(), cfg)
	var inv *flight.InvalidFlightError
	switch {
	case f != nil:
		res.key, res.notes = f.Key, slices.Clone(f.Notes)
	case errors.As(err, &inv):
		res.key, res.notes = inv.Key, inv.Notes
	}
	if err != nil {
		res.err = err
		return res
	}
	res.table, res.err = normalize.Normalize(f)
	return res
}

// run executes task for every input on a bounded worker pool. Failing
// tasks never cancel their siblings; results are consumed in input order
// once every task has finished.
func run(ctx context.Context, n int, opts Options, task func(int) result) (*Corpus, error) {
	results := make([]result, n)

	var g errgroup.Group
	g.SetLimit(opts.workers())
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			results[i] = task(i)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	log := opts.logger()
	var (
		tables   []normalize.Table
		rejected []Rejection
		owners   = make(map[flight.Key]string)
	)
	for _, r := range results {
		err := r.err
		if err == nil {
			if prev, dup := owners[r.key]; dup {
				err = &DuplicateKeyError{Key: r.key, Sources: [2]string{prev, r.source}}
			}
		}
		if err != nil {
			if opts.Policy == Strict || !perFlight(err) {
				return nil, err
			}
			log.Warn("flight rejected",
				slog.String("key", r.key.String()),
				slog.String("source", r.source),
				slog.Any("notes", r.notes),
				slog.String("error", err.Error()))
			rejected = append(rejected, Rejection{Key: r.key, Source: r.source, Notes: r.notes, Err: err})
			continue
		}
		owners[r.key] = r.source
		tables = append(tables, r.table)
	}

	c := merge(tables)
	c.Rejected = rejected
	if err := c.checkUnique(); err != nil {
		return nil, err
	}
	log.Info("corpus built",
		slog.Int("flights", len(c.Metadata)),
		slog.Int("fixes", len(c.Fixes)),
		slog.Int("thermals", len(c.Thermals)),
		slog.Int("rejected", len(rejected)),
		slog.String("policy", opts.Policy.String()))
	return c, nil
}

// perFlight reports whether err only concerns one flight, so a lenient
// build may drop it and continue.
func perFlight(err error) bool {
	var dk *DuplicateKeyError
	return errors.Is(err, flight.ErrInvalidFlight) ||
		errors.Is(err, flight.ErrDuplicateTimestamp) ||
		errors.As(err, &dk)
}
