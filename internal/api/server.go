// Package api provides REST API endpoints for a stored flight corpus.
package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/mathias-muench/igc-lab/internal/corpus"
	"github.com/mathias-muench/igc-lab/internal/flight"
	"github.com/mathias-muench/igc-lab/internal/normalize"
)

// Store is the read side of a corpus store.
type Store interface {
	ListMetadata(ctx context.Context) ([]normalize.MetadataRow, error)
	Metadata(ctx context.Context, key flight.Key) (normalize.MetadataRow, bool, error)
	Fixes(ctx context.Context, key flight.Key) ([]normalize.FixRow, error)
	Thermals(ctx context.Context, key flight.Key) ([]normalize.ThermalRow, error)
	Rejections(ctx context.Context) ([]corpus.Rejection, error)
}

// Server serves flights, fixes and thermals from a Store.
type Server struct {
	store       Store
	addr        string
	authEnabled bool
	apiKeys     map[string]bool // Simple API key auth (when enabled).
	fixes       *expirable.LRU[flight.Key, []normalize.FixRow]
	log         *slog.Logger
}

// Config holds configuration for the API server.
type Config struct {
	Addr        string
	AuthEnabled bool
	APIKeys     []string      // List of valid API keys.
	CacheSize   int           // Fix tables kept in memory. Defaults to 64.
	CacheTTL    time.Duration // Defaults to one hour.
	Logger      *slog.Logger
}

// NewServer creates a new API server.
func NewServer(store Store, cfg Config) *Server {
	keys := make(map[string]bool)
	for _, k := range cfg.APIKeys {
		if k != "" {
			keys[k] = true
		}
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 64
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Server{
		store:       store,
		addr:        cfg.Addr,
		authEnabled: cfg.AuthEnabled,
		apiKeys:     keys,
		fixes:       expirable.NewLRU[flight.Key, []normalize.FixRow](cfg.CacheSize, nil, cfg.CacheTTL),
		log:         cfg.Logger,
	}
}

// Run starts the HTTP server and blocks until ctx is cancelled or the
// server fails.
func (s *Server) Run(ctx context.Context) error {
	r := chi.NewRouter()

	// Standard middleware.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))

	// CORS for browser access.
	r.Use(corsMiddleware)

	r.Mount("/api/v1", s.Router())

	srv := &http.Server{Addr: s.addr, Handler: r}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	s.log.Info("corpus API starting", "addr", s.addr, "auth", s.authEnabled)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// Router returns the configured chi router for embedding in other servers.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	// Health check (no auth required).
	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		if s.authEnabled {
			r.Use(s.authMiddleware)
		}
		r.Get("/flights", s.handleListFlights)
		r.Get("/flights/{key}", s.handleGetFlight)
		r.Get("/flights/{key}/fixes", s.handleGetFixes)
		r.Get("/flights/{key}/thermals", s.handleGetThermals)
		r.Get("/rejections", s.handleRejections)
	})

	return r
}

// corsMiddleware adds CORS headers for browser access.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-API-Key")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// authMiddleware validates API key authentication.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Check X-API-Key header first.
		apiKey := r.Header.Get("X-API-Key")

		// Fall back to Authorization: Bearer <key>.
		if apiKey == "" {
			auth := r.Header.Get("Authorization")
			if strings.HasPrefix(auth, "Bearer ") {
				apiKey = strings.TrimPrefix(auth, "Bearer ")
			}
		}

		if apiKey == "" {
			writeError(w, http.StatusUnauthorized, "API key required")
			return
		}

		if !s.apiKeys[apiKey] {
			writeError(w, http.StatusForbidden, "Invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// FlightResponse is the JSON form of one flight's metadata.
type FlightResponse struct {
	Key         string `json:"key"`
	Source      string `json:"source,omitempty"`
	Pilot       string `json:"pilot,omitempty"`
	Competition string `json:"competition,omitempty"`
	Class       string `json:"class,omitempty"`
	GliderType  string `json:"glider_type,omitempty"`
	Points      *int   `json:"points,omitempty"`
	Start       string `json:"start,omitempty"`
	Finish      string `json:"finish,omitempty"`
	FirstFix    string `json:"first_fix"`
	LastFix     string `json:"last_fix"`
	Fixes       int    `json:"fixes"`
	Thermals    int    `json:"thermals"`
}

func flightToResponse(m normalize.MetadataRow) FlightResponse {
	resp := FlightResponse{
		Key:         m.Key.String(),
		Source:      m.Source,
		Pilot:       m.Pilot,
		Competition: m.Competition,
		Class:       m.Class,
		GliderType:  m.GliderType,
		Points:      m.Points,
		FirstFix:    m.FirstFix.UTC().Format(time.RFC3339),
		LastFix:     m.LastFix.UTC().Format(time.RFC3339),
		Fixes:       m.Fixes,
		Thermals:    m.Thermals,
	}
	if m.Start != nil {
		resp.Start = m.Start.UTC().Format(time.RFC3339)
	}
	if m.Finish != nil {
		resp.Finish = m.Finish.UTC().Format(time.RFC3339)
	}
	return resp
}

// FixResponse is one 1 Hz sample. Undefined values are null.
type FixResponse struct {
	Time              string   `json:"time"`
	Lat               *float64 `json:"lat"`
	Lon               *float64 `json:"lon"`
	Alt               *float64 `json:"alt"`
	GroundSpeed       *float64 `json:"gsp"`
	Bearing           *float64 `json:"bearing"`
	BearingChangeRate *float64 `json:"bearing_change_rate"`
	Flying            *bool    `json:"flying"`
	Circling          *bool    `json:"circling"`
	InTask            *bool    `json:"in_task"`
}

func fixToResponse(r normalize.FixRow) FixResponse {
	f := func(v float64) *float64 {
		if math.IsNaN(v) {
			return nil
		}
		return &v
	}
	b := func(v sql.NullBool) *bool {
		if !v.Valid {
			return nil
		}
		x := v.Bool
		return &x
	}
	return FixResponse{
		Time:              r.Time.UTC().Format(time.RFC3339),
		Lat:               f(r.Lat),
		Lon:               f(r.Lon),
		Alt:               f(r.Alt),
		GroundSpeed:       f(r.GroundSpeed),
		Bearing:           f(r.Bearing),
		BearingChangeRate: f(r.BearingChangeRate),
		Flying:            b(r.Flying),
		Circling:          b(r.Circling),
		InTask:            b(r.InTask),
	}
}

// ThermalResponse is one thermal episode.
type ThermalResponse struct {
	Enter    string   `json:"enter"`
	Exit     string   `json:"exit"`
	Duration float64  `json:"duration_s"`
	Climb    *float64 `json:"climb_m"`
}

// RejectionResponse is one flight dropped by a lenient build.
type RejectionResponse struct {
	Key    string   `json:"key"`
	Source string   `json:"source,omitempty"`
	Notes  []string `json:"notes,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleListFlights(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.ListMetadata(r.Context())
	if err != nil {
		s.serverError(w, "list flights", err)
		return
	}

	q := r.URL.Query()
	competition, class := q.Get("competition"), q.Get("class")

	results := make([]FlightResponse, 0, len(rows))
	for _, m := range rows {
		if competition != "" && !strings.EqualFold(m.Competition, competition) {
			continue
		}
		if class != "" && !strings.EqualFold(m.Class, class) {
			continue
		}
		results = append(results, flightToResponse(m))
	}

	writeJSON(w, http.StatusOK, results)
}

// flightKey reads and validates the {key} URL parameter.
func (s *Server) flightKey(w http.ResponseWriter, r *http.Request) (flight.Key, bool) {
	raw, err := url.PathUnescape(chi.URLParam(r, "key"))
	if err != nil || strings.TrimSpace(raw) == "" {
		writeError(w, http.StatusBadRequest, "flight key is required")
		return flight.Key{}, false
	}
	return flight.ParseKey(raw), true
}

func (s *Server) handleGetFlight(w http.ResponseWriter, r *http.Request) {
	key, ok := s.flightKey(w, r)
	if !ok {
		return
	}

	m, found, err := s.store.Metadata(r.Context(), key)
	if err != nil {
		s.serverError(w, "get flight", err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "Flight not found")
		return
	}

	writeJSON(w, http.StatusOK, flightToResponse(m))
}

func (s *Server) handleGetFixes(w http.ResponseWriter, r *http.Request) {
	key, ok := s.flightKey(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	inTaskOnly := q.Get("in_task") == "1" || q.Get("in_task") == "true"
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	m, found, err := s.store.Metadata(r.Context(), key)
	if err != nil {
		s.serverError(w, "get flight", err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "Flight not found")
		return
	}

	rows, err := s.cachedFixes(r.Context(), key)
	if err != nil {
		s.serverError(w, "get fixes", err)
		return
	}

	results := make([]FixResponse, 0, len(rows))
	for _, row := range rows {
		if inTaskOnly {
			// The window is taken from the metadata, not the stored flag.
			if in, defined := m.InWindow(row.Time); !defined || !in {
				continue
			}
		}
		results = append(results, fixToResponse(row))
		if limit > 0 && len(results) == limit {
			break
		}
	}

	writeJSON(w, http.StatusOK, results)
}

func (s *Server) cachedFixes(ctx context.Context, key flight.Key) ([]normalize.FixRow, error) {
	if rows, ok := s.fixes.Get(key); ok {
		return rows, nil
	}
	rows, err := s.store.Fixes(ctx, key)
	if err != nil {
		return nil, err
	}
	s.fixes.Add(key, rows)
	return rows, nil
}

func (s *Server) handleGetThermals(w http.ResponseWriter, r *http.Request) {
	key, ok := s.flightKey(w, r)
	if !ok {
		return
	}

	if _, found, err := s.store.Metadata(r.Context(), key); err != nil {
		s.serverError(w, "get flight", err)
		return
	} else if !found {
		writeError(w, http.StatusNotFound, "Flight not found")
		return
	}

	rows, err := s.store.Thermals(r.Context(), key)
	if err != nil {
		s.serverError(w, "get thermals", err)
		return
	}

	results := make([]ThermalResponse, 0, len(rows))
	for _, t := range rows {
		resp := ThermalResponse{
			Enter:    t.Enter.UTC().Format(time.RFC3339Nano),
			Exit:     t.Exit.UTC().Format(time.RFC3339Nano),
			Duration: t.Duration.Seconds(),
		}
		if !math.IsNaN(t.Climb) {
			climb := t.Climb
			resp.Climb = &climb
		}
		results = append(results, resp)
	}

	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleRejections(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.Rejections(r.Context())
	if err != nil {
		s.serverError(w, "list rejections", err)
		return
	}

	results := make([]RejectionResponse, 0, len(rows))
	for _, rj := range rows {
		results = append(results, RejectionResponse{Key: rj.Key.String(), Source: rj.Source, Notes: rj.Notes})
	}

	writeJSON(w, http.StatusOK, results)
}

func (s *Server) serverError(w http.ResponseWriter, op string, err error) {
	s.log.Error(op, "error", err)
	writeError(w, http.StatusInternalServerError, err.Error())
}

// Helper functions.

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
