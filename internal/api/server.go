package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/kjannette/marketdash-backend/internal/aggregator"
	"github.com/kjannette/marketdash-backend/internal/alerts"
	"github.com/kjannette/marketdash-backend/internal/chat"
	"github.com/kjannette/marketdash-backend/internal/marketsync"
	"github.com/kjannette/marketdash-backend/internal/models"
	"github.com/kjannette/marketdash-backend/internal/portfolio"
	"github.com/kjannette/marketdash-backend/internal/repository"
)

const maxQueryLimit = 1000

type QuoteService interface {
	GetQuotes(ctx context.Context, symbols []string, onProgress aggregator.ProgressFunc) (aggregator.Response, error)
	GetGlobalQuotes(ctx context.Context) aggregator.Response
	GetHistory(ctx context.Context, symbol string) (aggregator.HistoryResponse, error)
	HistoryFor(ctx context.Context, symbols []string) map[string][]models.HistoryPoint
	ClearCache() int
}

type Searcher interface {
	Search(ctx context.Context, query string) ([]models.SearchResult, error)
}

type NewsSource interface {
	FetchNews(ctx context.Context, pageSize int) models.NewsPage
}

type SyncRunner interface {
	Run(ctx context.Context, b marketsync.Batch) (marketsync.Outcome, error)
}

type RankingReader interface {
	ListRankings(ctx context.Context, market models.Market, limit int) ([]models.RankingEntry, error)
}

type Chatter interface {
	Ask(ctx context.Context, req chat.Request) (string, error)
}

type AlertService interface {
	Active(ctx context.Context) ([]models.AlertWithProfile, error)
	Acknowledge(ctx context.Context, id string) error
	Run(ctx context.Context) (alerts.Report, error)
}

// SnapshotReader lists stored quote snapshots, newest first.
type SnapshotReader interface {
	GetBySymbol(ctx context.Context, symbol string, limit int) ([]models.HistoryRow, error)
}

type PortfolioValuer interface {
	Valuate(ctx context.Context, userID string) (portfolio.Summary, error)
}

// Deps are the services behind the routes. Any may be nil; the matching
// routes then answer 503.
type Deps struct {
	Quotes    QuoteService
	Search    Searcher
	News      NewsSource
	Sync      SyncRunner
	Rankings  RankingReader
	Chat      Chatter
	Alerts    AlertService
	Portfolio PortfolioValuer
	SyncLogs  repository.SyncLogReader
	Snapshots SnapshotReader
	Ping      func(ctx context.Context) error
}

type Config struct {
	Port       int
	APIKey     string
	CORSOrigin string
	DBDriver   string
	// Providers reports which upstream credentials are configured, for /health.
	Providers map[string]bool
}

type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	log        zerolog.Logger
	apiKey     string
	cfg        Config
	deps       Deps
}

func NewServer(cfg Config, deps Deps, log zerolog.Logger) *Server {
	s := &Server{
		router: chi.NewRouter(),
		log:    log.With().Str("component", "api").Logger(),
		apiKey: cfg.APIKey,
		cfg:    cfg,
		deps:   deps,
	}

	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(corsHandler(cfg.CORSOrigin))
	s.router.Use(s.authMiddleware)

	s.routes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	// Health check (no auth required)
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/v1", func(r chi.Router) {
		// The stream holds its connection open, so it stays outside the timeout.
		r.Get("/quotes/stream", s.handleQuoteStream)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(55 * time.Second))

			r.Post("/quotes", s.handlePostQuotes)
			r.Get("/quotes", s.handleGetQuotes)
			r.Get("/history/{symbol}", s.handleHistory)
			r.Get("/global", s.handleGlobal)
			r.Post("/cache/clear", s.handleCacheClear)

			r.Post("/search", s.handleSearch)
			r.Get("/news", s.handleNews)

			r.Post("/sync", s.handleSync)
			r.Get("/rankings/{market}", s.handleRankings)

			r.Post("/chat", s.handleChat)

			r.Get("/alerts/check", s.handleAlertsList)
			r.Post("/alerts/check", s.handleAlertsCheck)
			r.Post("/alerts/run", s.handleAlertsRun)

			r.Get("/portfolio/{userID}/quotes", s.handlePortfolioQuotes)
		})
	})
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Bool("auth", s.apiKey != "").Msg("REST API server started")
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// --- middleware ---

// authMiddleware checks the bearer API key. The websocket stream may pass it
// as ?access_token= since browsers cannot set headers on upgrades.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" || r.URL.Path == "/health" || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		auth := r.Header.Get("Authorization")
		if auth == "" && r.URL.Path == "/v1/quotes/stream" {
			if tok := r.URL.Query().Get("access_token"); tok != "" {
				auth = "Bearer " + tok
			}
		}
		if auth == "" {
			writeError(w, http.StatusUnauthorized, "missing Authorization header")
			return
		}

		token := strings.TrimPrefix(auth, "Bearer ")
		if token == auth || token != s.apiKey {
			writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func corsHandler(allowOrigin string) func(http.Handler) http.Handler {
	origins := []string{"*"}
	if allowOrigin != "" && allowOrigin != "*" {
		origins = strings.Split(allowOrigin, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
