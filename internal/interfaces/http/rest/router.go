// Package rest exposes the application over HTTP. One Router owns the
// middleware chain and every handler; Setup returns the http.Handler
// the server mounts.
package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"curio-backend/internal/config"
	apperrors "curio-backend/internal/errors"
	"curio-backend/internal/infrastructure/events"
	"curio-backend/internal/interfaces/http/rest/middleware"
	"curio-backend/internal/observability"
	"curio-backend/internal/repository"
	"curio-backend/internal/service/hierarchy"
	"curio-backend/internal/service/importer"
	"curio-backend/internal/service/llm"
	"curio-backend/internal/service/queue"
)

// Pinger reports liveness of the backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Router wires the HTTP surface to the services.
type Router struct {
	cfg         *config.Config
	importer    *importer.Service
	nodes       repository.NodeRepository
	meta        repository.MetadataRepository
	audits      repository.AuditRepository
	hier        *hierarchy.Service
	queue       *queue.Service
	bus         *events.Bus
	invalidator repository.HierarchyInvalidator
	health      *healthChecker
	validate    *validator.Validate
	logger      *zap.Logger
	metrics     *observability.Collector
}

// NewRouter builds the REST surface. invalidator and pinger may be nil
// when no caching reader or persistent store is installed.
func NewRouter(
	cfg *config.Config,
	imp *importer.Service,
	nodes repository.NodeRepository,
	meta repository.MetadataRepository,
	audits repository.AuditRepository,
	hier *hierarchy.Service,
	q *queue.Service,
	bus *events.Bus,
	invalidator repository.HierarchyInvalidator,
	pinger Pinger,
	llmClient *llm.Client,
	logger *zap.Logger,
	metrics *observability.Collector,
) *Router {
	return &Router{
		cfg:         cfg,
		importer:    imp,
		nodes:       nodes,
		meta:        meta,
		audits:      audits,
		hier:        hier,
		queue:       q,
		bus:         bus,
		invalidator: invalidator,
		health:      newHealthChecker(pinger, llmClient, q),
		validate:    validator.New(),
		logger:      logger.Named("http"),
		metrics:     metrics,
	}
}

// Setup assembles the middleware chain and the route table.
func (rt *Router) Setup() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(rt.logger, rt.metrics))
	r.Use(apperrors.Recovery(rt.logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   rt.cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(chimiddleware.Compress(5))
	r.Use(maxBody(rt.cfg.Server.MaxBodyBytes))
	if rt.cfg.RateLimit.Enabled {
		r.Use(httprate.LimitByIP(rt.cfg.RateLimit.PerMinute, time.Minute))
	}

	r.Get("/health", rt.handleHealth)
	r.Get("/health/full", rt.handleHealthFull)
	r.Method(http.MethodGet, "/metrics",
		promhttp.HandlerFor(rt.metrics.Registry(), promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		// Imports carry their own tighter limit on top of the global one.
		r.Group(func(r chi.Router) {
			if rt.cfg.RateLimit.Enabled {
				r.Use(httprate.LimitByIP(rt.cfg.RateLimit.ImportPerMinute, time.Minute))
			}
			r.Post("/import", rt.handleImport)
			r.Post("/batch-import", rt.handleBatchImport)
		})
		r.Get("/batch-import/{batchID}", rt.handleGetBatch)
		r.Post("/batch-import/{batchID}/cancel", rt.handleCancelBatch)

		r.Route("/nodes", func(r chi.Router) {
			r.Get("/", rt.handleListNodes)
			r.Get("/{nodeID}", rt.handleGetNode)
			r.Put("/{nodeID}", rt.handleUpdateNode)
			r.Delete("/{nodeID}", rt.handleDeleteNode)
			r.Get("/{nodeID}/metadata", rt.handleNodeMetadata)
			r.Get("/{nodeID}/history", rt.handleNodeHistory)
		})

		r.Get("/search", rt.handleSearch)
		r.Get("/search/advanced", rt.handleAdvancedSearch)

		r.Route("/hierarchy", func(r chi.Router) {
			r.Post("/invalidate", rt.handleInvalidateHierarchy)
			r.Get("/subtree/{view}/{prefix}", rt.handleSubtree)
			r.Get("/path/{view}/{nodeID}", rt.handleAncestry)
			r.Get("/{view}", rt.handleTree)
		})

		r.Route("/queue", func(r chi.Router) {
			r.Get("/status", rt.handleQueueStatus)
			r.Get("/jobs", rt.handleListJobs)
			r.Get("/jobs/{nodeID}", rt.handleJobsForNode)
			r.Delete("/jobs/{jobID}", rt.handleCancelJob)
			r.Post("/retry/{jobID}", rt.handleRetryJob)
			r.Post("/clear", rt.handleClearQueue)
		})

		r.Get("/events", rt.handleEvents)
	})

	return r
}

// maxBody caps request bodies so a hostile client cannot buffer
// arbitrary amounts into a JSON decode.
func maxBody(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limit > 0 && r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}
