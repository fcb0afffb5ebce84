// Package server exposes bulk jobs and retried record writes over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/open-cli-collective/salesforce-sync/api"
	"github.com/open-cli-collective/salesforce-sync/api/bulk"
	"github.com/open-cli-collective/salesforce-sync/api/record"
	"github.com/open-cli-collective/salesforce-sync/api/records"
	"github.com/open-cli-collective/salesforce-sync/internal/store"
	"github.com/open-cli-collective/salesforce-sync/internal/version"
)

// DefaultRequestTimeout bounds a single request. Batch inserts pause between
// chunks, so this is generous.
const DefaultRequestTimeout = 10 * time.Minute

// DefaultShutdownTimeout is how long Serve waits for in-flight requests.
const DefaultShutdownTimeout = 30 * time.Second

// BulkJobs is the bulk job surface the server drives.
type BulkJobs interface {
	SubmitIngest(ctx context.Context, req bulk.IngestRequest) (string, error)
	SubmitQuery(ctx context.Context, soql string, op bulk.Operation) (string, error)
	Status(ctx context.Context, jobID string, isQuery bool) (*bulk.JobStatus, error)
	Results(ctx context.Context, jobID string, isQuery bool) (*bulk.ResultSet, error)
	Abort(ctx context.Context, jobID string, isQuery bool) (*bulk.JobStatus, error)
}

// RecordWriter is the retried single-record surface.
type RecordWriter interface {
	InsertWithRetry(ctx context.Context, object string, rec record.Record) (*api.RecordResult, int, error)
	UpdateByID(ctx context.Context, object, id string, rec record.Record) (int, error)
	DeleteByID(ctx context.Context, object, id string) (int, error)
	UpsertByExternalID(ctx context.Context, object, field, value string, rec record.Record) (*api.RecordResult, int, error)
	BatchInsert(ctx context.Context, object string, recs []record.Record) ([]records.Inserted, []records.FailedRecord)
	CheckStorageHeadroom(ctx context.Context) bool
}

// Ledger persists submitted jobs and failed records.
type Ledger interface {
	RecordJob(ctx context.Context, job store.Job) error
	UpdateJob(ctx context.Context, id string, patch store.JobPatch) error
	ListJobs(ctx context.Context, limit int) ([]store.Job, error)
	SaveFailures(ctx context.Context, batchID, object string, failures []records.FailedRecord) error
}

// Config holds the server's collaborators and settings.
type Config struct {
	Bulk    BulkJobs
	Records RecordWriter
	// Ledger is optional; without it /jobs is empty and nothing is persisted.
	Ledger Ledger
	Logger *slog.Logger

	CORSOrigins    []string
	RequestTimeout time.Duration
}

// Server is the HTTP front end.
type Server struct {
	bulk    BulkJobs
	records RecordWriter
	ledger  Ledger
	logger  *slog.Logger
	router  *chi.Mux
}

// New builds a Server with its middleware and routes in place.
func New(cfg Config) *Server {
	s := &Server{
		bulk:    cfg.Bulk,
		records: cfg.Records,
		ledger:  cfg.Ledger,
		logger:  cfg.Logger,
		router:  chi.NewRouter(),
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	s.setupMiddleware(cfg.CORSOrigins, timeout)
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware(origins []string, timeout time.Duration) {
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(withLogger(s.logger))
	s.router.Use(requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(timeout))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/bulk", func(r chi.Router) {
		r.Post("/ingest", s.handleSubmitIngest)
		r.Post("/query", s.handleSubmitQuery)
		r.Get("/jobs/{id}", s.handleJobStatus)
		r.Get("/jobs/{id}/results", s.handleJobResults)
		r.Post("/jobs/{id}/abort", s.handleAbortJob)
	})

	s.router.Get("/jobs", s.handleListJobs)

	s.router.Post("/records/{object}", s.handleCreateRecord)
	s.router.Post("/records/{object}/batch", s.handleBatchInsert)
	s.router.Patch("/records/{object}/{id}", s.handleUpdateRecord)
	s.router.Delete("/records/{object}/{id}", s.handleDeleteRecord)
	s.router.Put("/records/{object}/{field}/{value}", s.handleUpsertRecord)

	s.router.Get("/storage", s.handleStorage)
}

// Serve accepts connections on ln until ctx is done, then shuts down
// gracefully. It returns nil after a clean shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := s.httpServer(ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info("starting server", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) httpServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": version.Info()})
}
