// Command igccorpus builds normalised corpora from IGC competition flights.
//
// Usage:
//
//	igccorpus build    [options] DIR|GLOB|FILE...
//	igccorpus annotate -input FILE -start T -finish T -contestant NAME -points N [-output FILE]
//	igccorpus inspect  -input FILE [-trace] [-pretty]
//
// build parses every recording, resamples each valid flight to 1 Hz and
// merges the results into three tables (metadata, fixes, thermals). The
// tables can be written as TSV, a msgpack blob, an XLSX workbook, a SQLite
// file, ClickHouse/PostgreSQL, and announced on NATS.
//
// Settings come from -config (YAML), then .env and the environment
// (IGC_TIMEZONE, IGC_WORKERS, IGC_POLICY, POSTGRES_HOST, CLICKHOUSE_HOST,
// NATS_URL, LOG_LEVEL ...), then flags.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/mdobak/go-xerrors"

	"github.com/mathias-muench/igc-lab/internal/annotation"
	"github.com/mathias-muench/igc-lab/internal/config"
	"github.com/mathias-muench/igc-lab/internal/corpus"
	"github.com/mathias-muench/igc-lab/internal/export"
	"github.com/mathias-muench/igc-lab/internal/igc"
	"github.com/mathias-muench/igc-lab/internal/logging"
	"github.com/mathias-muench/igc-lab/internal/normalize"
	"github.com/mathias-muench/igc-lab/internal/notify"
	"github.com/mathias-muench/igc-lab/internal/registry"
	"github.com/mathias-muench/igc-lab/internal/storage"
)

func usage(w io.Writer) {
	fmt.Fprintln(w, "igccorpus - commands:")
	fmt.Fprintln(w, "  build     - parse recordings and write the merged corpus")
	fmt.Fprintln(w, "  annotate  - append scraped competition results to a recording")
	fmt.Fprintln(w, "  inspect   - parse one recording and print it as JSON")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  igccorpus build [-strict] [-tsv DIR] [-blob FILE] [-xlsx FILE] [-sqlite FILE] [-clickhouse] [-postgres] [-nats URL] DIR|GLOB...")
	fmt.Fprintln(w, "  igccorpus annotate -input FILE -start 2023-06-10T12:00:00 -finish 2023-06-10T15:30:00 -contestant NAME -points 850")
	fmt.Fprintln(w, "  igccorpus inspect -input FILE [-trace]")
	fmt.Fprintln(w, "")
}

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}

	var err error
	cmd := strings.ToLower(os.Args[1])
	switch cmd {
	case "build":
		err = runBuild(os.Args[2:])
	case "annotate":
		err = runAnnotate(os.Args[2:])
	case "inspect":
		err = runInspect(os.Args[2:])
	case "-h", "--help", "help":
		usage(os.Stdout)
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage(os.Stderr)
		os.Exit(2)
	}

	if err != nil {
		fail(slog.Default(), cmd, err)
	}
}

// fail logs err with its stack and exits.
func fail(log *slog.Logger, cmd string, err error) {
	err = xerrors.New(err)
	log.ErrorContext(context.Background(), cmd+" failed", slog.Any("error", err))
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// loadConfig applies the YAML file, .env and environment in that order.
func loadConfig(path, envFile string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	if err := config.LoadDotEnv(envFile); err != nil {
		return cfg, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// expandInputs turns directories into *.igc globs.
func expandInputs(args []string) ([]corpus.Source, error) {
	var patterns []string
	for _, a := range args {
		if st, err := os.Stat(a); err == nil && st.IsDir() {
			patterns = append(patterns, filepath.Join(a, "*.igc"), filepath.Join(a, "*.IGC"))
			continue
		}
		patterns = append(patterns, a)
	}
	return corpus.Glob(patterns...)
}

func runBuild(args []string) error {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	cfgPath := fs.String("config", "", "YAML config file")
	envFile := fs.String("env", ".env", "dotenv file")
	strict := fs.Bool("strict", false, "Fail the batch on the first invalid flight")
	workers := fs.Int("workers", 0, "Parallel workers (default: one per CPU)")
	tz := fs.String("tz", "", "Timezone of annotation times (default from config)")
	tsvDir := fs.String("tsv", "", "Write md.tsv, fixes.tsv and thermals.tsv into DIR")
	blobPath := fs.String("blob", "", "Write a zstd-compressed msgpack snapshot")
	xlsxPath := fs.String("xlsx", "", "Write an XLSX workbook")
	sqlitePath := fs.String("sqlite", "", "Store the corpus in a SQLite file")
	useCH := fs.Bool("clickhouse", false, "Store fixes and thermals in ClickHouse")
	usePG := fs.Bool("postgres", false, "Store metadata and rejections in PostgreSQL")
	natsURL := fs.String("nats", "", "Announce the corpus on NATS (default from config)")
	logLevel := fs.String("log-level", "", "Log level (debug, info, warn, error)")
	logFile := fs.String("log-file", "", "Rotated JSON log file (default: stderr)")
	_ = fs.Parse(args)

	if fs.NArg() == 0 {
		return fmt.Errorf("no input recordings given")
	}

	cfg, err := loadConfig(*cfgPath, *envFile)
	if err != nil {
		return err
	}
	if *strict {
		cfg.Policy = corpus.Strict
	}
	if *workers > 0 {
		cfg.Workers = *workers
	}
	if *tz != "" {
		cfg.Timezone = *tz
	}
	if *natsURL != "" {
		cfg.NATS.URL = *natsURL
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *logFile != "" {
		cfg.Log.File = *logFile
	}

	log, closer, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer closer.Close()
	slog.SetDefault(log)

	opts, err := cfg.CorpusOptions()
	if err != nil {
		return err
	}
	opts.Logger = log

	sources, err := expandInputs(fs.Args())
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		return fmt.Errorf("no recordings match %v", fs.Args())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("building corpus", "sources", len(sources), "policy", opts.Policy.String(), "workers", opts.Workers)
	c, err := corpus.Build(ctx, sources, opts)
	if err != nil {
		return fmt.Errorf("build corpus: %w", err)
	}

	if *tsvDir != "" {
		if err := export.WriteTSV(*tsvDir, c); err != nil {
			return err
		}
		log.Info("wrote tsv", "dir", *tsvDir)
	}
	if *blobPath != "" {
		if err := writeTo(*blobPath, func(w io.Writer) error {
			n, err := export.WriteBlob(w, c)
			log.Info("wrote blob", "path", *blobPath, "bytes", n)
			return err
		}); err != nil {
			return err
		}
	}
	if *xlsxPath != "" {
		if err := writeTo(*xlsxPath, func(w io.Writer) error { return export.WriteXLSX(w, c) }); err != nil {
			return err
		}
		log.Info("wrote workbook", "path", *xlsxPath)
	}
	if *sqlitePath != "" {
		if err := saveSQLite(ctx, *sqlitePath, c); err != nil {
			return err
		}
		log.Info("stored corpus", "sqlite", *sqlitePath)
	}
	if *useCH || *usePG {
		if err := saveDB(ctx, log, cfg.Storage, *useCH, *usePG, c); err != nil {
			return err
		}
		log.Info("stored corpus", "clickhouse", *useCH, "postgres", *usePG)
	}
	if cfg.NATS.URL != "" {
		pub, err := notify.Connect(cfg.NATS.URL, cfg.NATS.Subject, log)
		if err != nil {
			return err
		}
		defer pub.Close()
		if err := pub.PublishCorpus(c); err != nil {
			return err
		}
	}

	s := c.Summary()
	fmt.Fprintf(os.Stderr, "flights=%d fixes=%d thermals=%d rejected=%d\n", s.Flights, s.Fixes, s.Thermals, s.Rejected)
	return nil
}

func writeTo(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func saveSQLite(ctx context.Context, path string, c *corpus.Corpus) error {
	store, err := storage.OpenSQLite(path)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.SaveCorpus(ctx, c)
}

func saveDB(ctx context.Context, log *slog.Logger, cfg storage.Config, useCH, usePG bool, c *corpus.Corpus) error {
	db := &storage.DB{}
	defer db.Close()

	if useCH {
		ch, err := storage.OpenClickHouse(ctx, cfg.ClickHouse)
		if err != nil {
			return fmt.Errorf("clickhouse: %w", err)
		}
		db.CH = ch
		if err := ch.CreateSchema(ctx); err != nil {
			return fmt.Errorf("clickhouse schema: %w", err)
		}
	}
	if usePG {
		pg, err := storage.OpenPostgres(ctx, cfg.Postgres)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		db.PG = pg
		if err := pg.CreateSchema(ctx); err != nil {
			return fmt.Errorf("postgres schema: %w", err)
		}
	}
	if err := db.SaveCorpus(ctx, c); err != nil {
		return err
	}
	if db.CH != nil {
		stats, err := db.CH.GetStats(ctx)
		if err != nil {
			return fmt.Errorf("clickhouse stats: %w", err)
		}
		log.Info("clickhouse totals", "flights", stats.Flights, "fixes", stats.Fixes, "thermals", stats.Thermals)
	}
	return nil
}

func runAnnotate(args []string) error {
	fs := flag.NewFlagSet("annotate", flag.ExitOnError)
	inPath := fs.String("input", "", "Recording to annotate")
	outPath := fs.String("output", "", "Output file (default: stdout)")
	start := fs.String("start", "", "Task start, local ISO time")
	finish := fs.String("finish", "", "Task finish, local ISO time")
	contestant := fs.String("contestant", "", "Contestant name")
	points := fs.Int("points", 0, "Points scored")
	_ = fs.Parse(args)

	if *inPath == "" {
		return fmt.Errorf("-input is required")
	}
	content, err := os.ReadFile(*inPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", *inPath, err)
	}

	out := annotation.AppendScraped(content, annotation.ScrapedEntry{
		Start:      *start,
		Finish:     *finish,
		Contestant: *contestant,
		Points:     *points,
	})

	if *outPath == "" {
		_, err := os.Stdout.Write(out)
		return err
	}
	return os.WriteFile(*outPath, out, 0o644)
}

// inspectOut is the JSON printed by inspect. Fix series are summarised by
// the normalised metadata row since raw fixes carry NaN values.
type inspectOut struct {
	Key         string                 `json:"key"`
	Source      string                 `json:"source"`
	Valid       bool                   `json:"valid"`
	Notes       []string               `json:"notes,omitempty"`
	Pilot       string                 `json:"pilot,omitempty"`
	Fixes       int                    `json:"fixes"`
	Thermals    int                    `json:"thermals"`
	Metadata    *normalize.MetadataRow `json:"metadata,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Annotations []annotationTrace      `json:"annotations,omitempty"`
}

type annotationTrace struct {
	Line   string                 `json:"line"`
	Traces []registry.TraceResult `json:"traces"`
}

func runInspect(args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	inPath := fs.String("input", "", "Recording to inspect")
	cfgPath := fs.String("config", "", "YAML config file")
	trace := fs.Bool("trace", false, "Show which annotation parsers matched each L line")
	pretty := fs.Bool("pretty", false, "Pretty-print JSON output")
	_ = fs.Parse(args)

	if *inPath == "" {
		return fmt.Errorf("-input is required")
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}
	opts, err := cfg.CorpusOptions()
	if err != nil {
		return err
	}

	rec, err := igc.ParseFile(*inPath)
	if err != nil {
		return err
	}

	out := inspectOut{Source: *inPath}
	f, loadErr := igc.LoadFile(*inPath, opts.Parsing)
	if f == nil {
		return loadErr
	}
	out.Key, out.Valid, out.Notes = f.Key.String(), f.Valid, f.Notes
	out.Pilot, out.Fixes, out.Thermals = f.PilotName(), len(f.Fixes), len(f.Thermals)
	if loadErr != nil {
		out.Error = loadErr.Error()
	} else if tbl, err := normalize.Normalize(f); err != nil {
		out.Error = err.Error()
	} else {
		out.Metadata = &tbl.Metadata
	}

	if *trace {
		for _, line := range rec.Annotations {
			out.Annotations = append(out.Annotations, annotationTrace{
				Line:   line,
				Traces: registry.Default().Trace(line),
			})
		}
	}

	enc := json.NewEncoder(os.Stdout)
	if *pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(out)
}
