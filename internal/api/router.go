package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	json "github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"journal/internal/domain"
	"journal/internal/store"
)

// Store is the persistence the API reads and writes through.
type Store interface {
	Ping(ctx context.Context) error
	ListAccounts(ctx context.Context) ([]domain.Account, error)
	AccountExists(ctx context.Context, id string) (bool, error)
	InsertTrades(ctx context.Context, trades []domain.Trade) (int, error)
	RebuildAccount(ctx context.Context, accountID string) (*store.RebuildStats, error)
	ListClosedLots(ctx context.Context, accountID string) ([]domain.ClosedLot, error)
	ListOpenLots(ctx context.Context, accountID string) ([]domain.OpenLot, error)
	ListTrades(ctx context.Context, accountID string, filter store.TradeFilter) (*store.TradeListResult, error)
}

// Options tunes a Server. Zero fields take defaults.
type Options struct {
	Location            *time.Location
	MaxUploadBytes      int64
	IngestRatePerMinute int
}

// Server holds the HTTP server dependencies.
type Server struct {
	repo      Store
	nc        *nats.Conn
	loc       *time.Location
	maxUpload int64
	limiter   *rate.Limiter
	now       func() time.Time
	logger    zerolog.Logger
}

// NewServer creates a new API server. nc may be nil when NATS is disabled.
func NewServer(repo Store, nc *nats.Conn, opts Options) *Server {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 10 << 20
	}
	if opts.IngestRatePerMinute <= 0 {
		opts.IngestRatePerMinute = 30
	}
	return &Server{
		repo:      repo,
		nc:        nc,
		loc:       opts.Location,
		maxUpload: opts.MaxUploadBytes,
		limiter:   rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.IngestRatePerMinute)), opts.IngestRatePerMinute),
		now:       time.Now,
		logger:    log.With().Str("component", "api").Logger(),
	}
}

// Router returns the configured chi router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	r.MethodNotAllowed(methodNotAllowed)
	r.NotFound(notFound)

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/import", s.handleImportTrades)
		r.Post("/ingest", s.handleIngestCSV)
		r.Get("/ingest/templates", s.handleListTemplates)

		r.Get("/accounts", s.handleListAccounts)
		r.Route("/accounts/{accountId}", func(r chi.Router) {
			r.Get("/metrics", s.handleMetrics)
			r.Get("/chart", s.handleChart)
			r.Get("/insights", s.handleInsights)
			r.Get("/lots", s.handleListLots)
			r.Get("/positions", s.handleListPositions)
			r.Get("/trades", s.handleListTrades)
			r.Post("/rebuild", s.handleRebuild)
		})
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("request_id", middleware.GetReqID(r.Context())).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "not found")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
