package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/loghawk/loghawk/internal/extract"
	"github.com/loghawk/loghawk/internal/pipeline"
	"github.com/loghawk/loghawk/internal/storage"
)

type ctxKey int

const userIDKey ctxKey = 0

// Server exposes the analysis pipeline over HTTP. Authentication itself is
// owned by an external layer; this server only consumes the identity it
// establishes.
type Server struct {
	store    *storage.Store
	content  extract.ContentStore
	pipeline *pipeline.Pipeline
	settings SettingsStore
	registry *prometheus.Registry
	logger   *zap.Logger
}

// New wires the HTTP server.
func New(store *storage.Store, content extract.ContentStore, pl *pipeline.Pipeline, settings SettingsStore, registry *prometheus.Registry, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		store:    store,
		content:  content,
		pipeline: pl,
		settings: settings,
		registry: registry,
		logger:   logger.Named("http"),
	}
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, map[string]string{"status": "ok"})
	})
	if s.registry != nil {
		r.Method(http.MethodGet, "/metrics",
			promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(s.sessionMiddleware)

		r.Post("/uploads", s.handleCreateUpload)
		r.Get("/uploads/{id}", s.handleGetUpload)
		r.Post("/uploads/{id}/analyze", s.handleAnalyze)
		r.Get("/uploads/{id}/report.xlsx", s.handleReport)
		r.Get("/findings", s.handleListFindings)
		r.Get("/settings", s.handleGetSettings)
		r.Put("/settings", s.handlePutSettings)
	})

	return r
}

// sessionMiddleware resolves the caller identity established by the
// external auth layer. The default contract is the X-User-ID header set by
// the fronting proxy; no header means no session.
func (s *Server) sessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-User-ID")
		if userID == "" {
			renderError(w, r, http.StatusUnauthorized, KindUnauthorized, "no session")
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userID(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey).(string)
	return id
}

// ListenAndServe runs the server until the context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Router()}
	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()
	s.logger.Info("listening", zap.String("addr", addr))
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
