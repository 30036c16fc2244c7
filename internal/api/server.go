// Package api serves the mirror daemon's HTTP surface: health, metrics,
// node lookup, exports and the export archive.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Mr-Dark-debug/treesnap/internal/database"
	"github.com/Mr-Dark-debug/treesnap/internal/export"
	"github.com/Mr-Dark-debug/treesnap/internal/ingestion"
	"github.com/Mr-Dark-debug/treesnap/internal/logging"
	"github.com/Mr-Dark-debug/treesnap/internal/resolve"
	"github.com/Mr-Dark-debug/treesnap/internal/tree"
)

// Archive lists and fetches recorded exports.
type Archive interface {
	ListExports(ctx context.Context, filter database.ExportFilter) ([]*export.Snapshot, error)
	GetExport(ctx context.Context, id string) (*export.Snapshot, error)
}

// Info is the body of GET /api/info.
type Info struct {
	Version      string            `json:"version"`
	Capabilities tree.Capabilities `json:"capabilities"`
	Ingestion    *ingestion.Stats  `json:"ingestion,omitempty"`
}

// Server holds the handlers' dependencies.
type Server struct {
	store    tree.Store
	exporter *export.Exporter
	archive  Archive
	gatherer prometheus.Gatherer
	stats    func() ingestion.Stats
	version  string
	logger   *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithArchive enables the /api/exports routes.
func WithArchive(a Archive) Option {
	return func(s *Server) { s.archive = a }
}

// WithGatherer serves g on /metrics. The default is the global registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithIngestionStats reports the daemon's counters on /api/info.
func WithIngestionStats(stats func() ingestion.Stats) Option {
	return func(s *Server) { s.stats = stats }
}

// WithVersion sets the version reported on /api/info.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// New creates a Server reading nodes from store and exporting with exporter.
func New(store tree.Store, exporter *export.Exporter, opts ...Option) *Server {
	s := &Server{
		store:    store,
		exporter: exporter,
		gatherer: prometheus.DefaultGatherer,
		version:  "dev",
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/health", s.health)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/info", s.info)
		r.Get("/nodes/{id}", s.getNode)
		r.Post("/export/{id}", s.postExport)
		r.Get("/exports", s.listExports)
		r.Get("/exports/{exportID}", s.getExport)
	})
	return r
}

// ListenAndServe serves the router on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("http api listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"elapsed", time.Since(start),
		)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) info(w http.ResponseWriter, r *http.Request) {
	info := Info{Version: s.version}
	if reporter, ok := s.store.(tree.CapabilityReporter); ok {
		info.Capabilities = reporter.Capabilities()
	}
	if s.stats != nil {
		stats := s.stats()
		info.Ingestion = &stats
	}
	s.writeJSON(w, http.StatusOK, info)
}

func (s *Server) getNode(w http.ResponseWriter, r *http.Request) {
	id := tree.ID(chi.URLParam(r, "id"))
	n, err := s.store.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, n)
}

func (s *Server) postExport(w http.ResponseWriter, r *http.Request) {
	id := tree.ID(chi.URLParam(r, "id"))
	snap, err := s.exporter.Export(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) listExports(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		http.Error(w, "export archive disabled", http.StatusNotFound)
		return
	}

	filter := database.ExportFilter{Limit: 50}
	q := r.URL.Query()
	if root := q.Get("root"); root != "" {
		id := tree.ID(root)
		filter.Root = &id
	}
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		filter.Limit = n
	}

	list, err := s.archive.ListExports(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if list == nil {
		list = []*export.Snapshot{}
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) getExport(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		http.Error(w, "export archive disabled", http.StatusNotFound)
		return
	}
	snap, err := s.archive.GetExport(r.Context(), chi.URLParam(r, "exportID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

// statusOf maps domain errors to HTTP statuses.
func statusOf(err error) int {
	var violation *resolve.InvariantViolation
	switch {
	case errors.Is(err, tree.ErrNodeNotFound), errors.Is(err, database.ErrExportNotFound):
		return http.StatusNotFound
	case errors.Is(err, export.ErrSuperseded):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &violation):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("encoding response failed", "error", err)
	}
}
