// internal/httpserver/server.go
//
// HTTP server wiring for the memory game backend.
// Responsibilities:
//   - Router + middleware (JSON, CORS, timeouts, panic recovery, request IDs).
//   - Public endpoints: "/", "/health", "/images/*", "/debug/images".
//   - Game endpoints (optional auth): see routes_game.go.
//   - Results endpoints: see routes_results.go.
//   - Account endpoints: see auth.go and users.go.
//
// Notes:
//   - CORS is origin‑aware and credentials‑enabled (so cookies work).
//   - The websocket stream and image files are mounted outside the JSON/timeout
//     group: streams outlive the handler timeout and images carry their own type.

package httpserver

import (
	"database/sql"
	"encoding/json"
	"io/fs"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/robalobadob/memory/apps/go-server/internal/deck"
	"github.com/robalobadob/memory/apps/go-server/internal/events"
	"github.com/robalobadob/memory/apps/go-server/internal/game"
	"github.com/robalobadob/memory/apps/go-server/internal/results"
	"github.com/robalobadob/memory/apps/go-server/internal/store"
)

// Config carries the game wiring the server needs beyond the store and DB.
type Config struct {
	Images fs.FS            // image source served under /images/
	Boards game.BoardSource // builds a board per new game
	Delay  time.Duration    // mismatch delay; zero = game.DefaultDelay
	Tick   time.Duration    // clock interval; zero = game.DefaultTick
	Events events.Publisher // nil = events.Nop
}

// Server bundles router, session store, DB handle and game wiring.
type Server struct {
	r       *chi.Mux
	store   store.Store
	db      *sql.DB
	results *results.Store
	auth    authConfig
	cfg     Config
}

// New constructs a Server, installs middleware, and registers routes.
func New(st store.Store, db *sql.DB, cfg Config) *Server {
	if cfg.Events == nil {
		cfg.Events = events.Nop{}
	}
	s := &Server{
		r:       chi.NewRouter(),
		store:   st,
		db:      db,
		results: results.NewStore(db),
		auth:    authConfigFromEnv(),
		cfg:     cfg,
	}

	// --- middleware ---
	s.r.Use(chimw.RequestID) // add X-Request-ID
	s.r.Use(chimw.RealIP)    // set RemoteAddr from X-Forwarded-For etc.
	s.r.Use(chimw.Recoverer) // recover from panics
	s.r.Use(corsFromEnv)     // credentials-friendly CORS

	// Long-lived and non-JSON routes.
	s.r.Handle("/images/*", http.StripPrefix("/images/", http.FileServer(http.FS(cfg.Images))))
	s.r.With(s.withOptionalAuth()).Get("/game/{id}/ws", s.handleStream)

	s.r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(10 * time.Second)) // bound handler time
		r.Use(jsonContentType)                 // default JSON responses

		// --- diagnostics ---
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"service":"memory-go","endpoints":["/health","POST /game/new","POST /game/select","GET /game/{id}","GET /game/{id}/ws","/results/leaderboard","/auth/*"]}`))
		})
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"ok":true}`))
		})
		r.Get("/debug/images", s.handleImageCounts)

		// Game endpoints: guests can play, signed-in players get stats.
		s.mountGame(r.With(s.withOptionalAuth()))
		s.mountResults(r)
		s.mountAuthRoutes(r)

		// JSON 404 for easier debugging
		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"error":"not_found","path":"`+r.URL.Path+`"}`, http.StatusNotFound)
		})
	})

	return s
}

// Start begins serving HTTP on addr.
func (s *Server) Start(addr string) error { return http.ListenAndServe(addr, s.r) }

// Router exposes the internal router (useful for tests).
func (s *Server) Router() chi.Router { return s.r }

// handleImageCounts reports how many motifs and covers the image source holds.
func (s *Server) handleImageCounts(w http.ResponseWriter, r *http.Request) {
	cat, err := deck.Scan(s.cfg.Images)
	if err != nil {
		http.Error(w, `{"error":"scan_failed"}`, http.StatusInternalServerError)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]int{"motifs": cat.MotifCount(), "covers": len(cat.Covers)})
}

// ----------------------------- middleware ----------------------------------

// jsonContentType sets a default JSON Content-Type header on all responses.
func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		next.ServeHTTP(w, r)
	})
}

// corsFromEnv enables credentialed CORS for a single origin.
// Uses CLIENT_ORIGIN env var; defaults to http://localhost:5173.
func corsFromEnv(next http.Handler) http.Handler {
	origin := clientOrigin()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientOrigin() string {
	return getEnv("CLIENT_ORIGIN", "http://localhost:5173")
}

// getEnv returns the value of k or def if unset/empty.
func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
