// Package main provides the corpus-api server for stored flight corpora.
//
// It serves a SQLite corpus written by "igccorpus build -sqlite", or with
// -backend db the ClickHouse and PostgreSQL tables written by
// "igccorpus build -clickhouse -postgres".
//
// Usage:
//
//	corpus-api [options]
//
// Options:
//
//	-config FILE        YAML config file
//	-backend NAME       sqlite or db (default: sqlite)
//	-db FILE            SQLite corpus (default: corpus.db, env: IGC_SQLITE)
//	-addr ADDR          Listen address (default: :8081, env: API_ADDR)
//	-cache N            Fix tables kept in memory (default: 64)
//	-auth               Enable API key authentication
//	-api-keys KEYS      Comma-separated list of valid API keys
//
// API Endpoints:
//
//	GET /api/v1/health
//	GET /api/v1/flights?competition=&class=
//	GET /api/v1/flights/{key}
//	GET /api/v1/flights/{key}/fixes?in_task=1&limit=N
//	GET /api/v1/flights/{key}/thermals
//	GET /api/v1/rejections
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mdobak/go-xerrors"

	"github.com/mathias-muench/igc-lab/internal/api"
	"github.com/mathias-muench/igc-lab/internal/config"
	"github.com/mathias-muench/igc-lab/internal/logging"
	"github.com/mathias-muench/igc-lab/internal/storage"
)

var (
	_ api.Store = (*storage.SQLiteStore)(nil)
	_ api.Store = (*storage.DB)(nil)
)

func main() {
	if err := run(); err != nil {
		err = xerrors.New(err)
		slog.Error("corpus-api failed", slog.Any("error", err))
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfgPath := flag.String("config", "", "YAML config file")
	envFile := flag.String("env", ".env", "dotenv file")
	backend := flag.String("backend", "sqlite", "Corpus backend: sqlite or db (ClickHouse + PostgreSQL)")
	dbPath := flag.String("db", "", "SQLite corpus file (default from config)")
	addr := flag.String("addr", "", "HTTP listen address (default from config)")
	cacheSize := flag.Int("cache", 0, "Fix tables kept in memory (default from config)")
	authEnabled := flag.Bool("auth", false, "Enable API key authentication")
	apiKeys := flag.String("api-keys", "", "Comma-separated list of valid API keys (when auth enabled)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}
	if err := config.LoadDotEnv(*envFile); err != nil {
		return err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return err
	}
	if *dbPath != "" {
		cfg.Storage.SQLitePath = *dbPath
	}
	if *addr != "" {
		cfg.API.Addr = *addr
	}
	if *cacheSize > 0 {
		cfg.API.CacheSize = *cacheSize
	}

	log, closer, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer closer.Close()
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store interface {
		api.Store
		Close() error
	}
	switch *backend {
	case "sqlite":
		store, err = storage.OpenSQLite(cfg.Storage.SQLitePath)
	case "db":
		store, err = storage.Open(ctx, cfg.Storage)
	default:
		return fmt.Errorf("unknown backend %q", *backend)
	}
	if err != nil {
		return fmt.Errorf("open corpus: %w", err)
	}
	defer store.Close()
	log.Info("serving corpus", "backend", *backend)

	// Parse API keys.
	var keys []string
	if *apiKeys != "" {
		keys = strings.Split(*apiKeys, ",")
		for i := range keys {
			keys[i] = strings.TrimSpace(keys[i])
		}
	}

	server := api.NewServer(store, api.Config{
		Addr:        cfg.API.Addr,
		AuthEnabled: *authEnabled,
		APIKeys:     keys,
		CacheSize:   cfg.API.CacheSize,
		Logger:      log,
	})

	return server.Run(ctx)
}
