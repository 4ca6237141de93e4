// Package httpapi exposes the project-scoped HTTP surface.
//
// Routes are grouped by role: analyst endpoints cover the candidate
// lifecycle and readiness reads; admin endpoints cover freeze, projection
// triggers and maintenance operations. Every mutating response echoes
// project_id, session_id and request_id so operators can correlate it with
// the structured logs and the ops log.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/tesela-labs/tesela/internal/freeze"
	"github.com/tesela-labs/tesela/internal/lifecycle"
	"github.com/tesela-labs/tesela/internal/ops"
	"github.com/tesela-labs/tesela/internal/projection"
	"github.com/tesela-labs/tesela/internal/readiness"
	"github.com/tesela-labs/tesela/internal/storage"
)

// Config tunes the HTTP surface.
type Config struct {
	// APIKeys maps X-API-Key values to roles (admin or analyst). Empty
	// disables auth, for local development and tests.
	APIKeys map[string]string
	// RequestTimeout bounds each handler.
	RequestTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	return c
}

// Server wires the engines behind the HTTP surface.
type Server struct {
	store  storage.Ledger
	engine *lifecycle.Engine
	gate   *readiness.Gate
	frozen *freeze.Controller
	runner *ops.Runner
	sync   *projection.Synchronizer
	cfg    Config
	log    *zap.Logger
}

// NewServer builds the server.
func NewServer(store storage.Ledger, engine *lifecycle.Engine, gate *readiness.Gate, frozen *freeze.Controller, runner *ops.Runner, sync *projection.Synchronizer, cfg Config, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		store:  store,
		engine: engine,
		gate:   gate,
		frozen: frozen,
		runner: runner,
		sync:   sync,
		cfg:    cfg.withDefaults(),
		log:    log,
	}
}

// Router builds the chi route tree.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))
	r.Use(s.requestContext)
	r.Use(s.recoverer)
	r.Use(middleware.Timeout(s.cfg.RequestTimeout))

	r.Get("/health", s.handleHealth)
	r.Get("/readyz", s.handleReadyz)

	r.Group(func(r chi.Router) {
		r.Use(s.requireRole(roleAnalyst))

		r.Get("/readiness", s.handleReadiness)
		r.Get("/gate/analysis", s.handleAnalysisGate)
		r.Get("/stats", s.handleStats)
		r.Get("/versions", s.handleVersions)

		r.Post("/candidates/check-batch", s.handleCheckBatch)
		r.Post("/candidates", s.handleSubmit)
		r.Post("/candidates/batch", s.handleSubmitBatch)
		r.Get("/candidates", s.handleListCandidates)
		r.Put("/candidates/{id}/validate", s.handleValidateCandidate)
		r.Put("/candidates/{id}/reject", s.handleRejectCandidate)
		r.Post("/candidates/{id}/promote", s.handlePromoteCandidate)
		r.Post("/candidates/merge", s.handleMergeIDs)

		r.Post("/axial/relations", s.handleCreateAxial)
		r.Put("/axial/relations/{id}/validate", s.handleValidateAxial)
		r.Put("/axial/relations/{id}/reject", s.handleRejectAxial)

		r.Post("/predictions", s.handleCreatePrediction)
		r.Put("/predictions/{id}/validate", s.handleValidatePrediction)
		r.Put("/predictions/{id}/reject", s.handleRejectPrediction)

		r.Post("/fragments/batch", s.handleFragmentsBatch)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.requireRole(roleAdmin))

		r.Get("/freeze", s.handleGetFreeze)
		r.Post("/freeze", s.handleFreeze)
		r.Post("/freeze/break", s.handleFreezeBreak)

		r.Post("/candidates/auto-merge", s.handleMergePairs)

		r.Post("/sync/{entity}", s.handleSyncEntity)
		r.Post("/ops/{operation}", s.handleOperation)
		r.Get("/ops/recent", s.handleOpsRecent)
		r.Get("/ops/log", s.handleOpsLog)
	})

	return r
}

// Handler returns the root handler, for http.Server and tests.
func (s *Server) Handler() http.Handler { return s.Router() }
