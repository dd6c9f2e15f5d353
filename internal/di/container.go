// Package di assembles the application object graph by hand. The
// construction order mirrors the dependency order; Close tears
// everything down in reverse.
package di

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"curio-backend/internal/config"
	"curio-backend/internal/infrastructure/cache"
	"curio-backend/internal/infrastructure/events"
	"curio-backend/internal/infrastructure/fetch"
	"curio-backend/internal/infrastructure/sqlite"
	"curio-backend/internal/interfaces/http/rest"
	"curio-backend/internal/observability"
	"curio-backend/internal/service/classifier"
	"curio-backend/internal/service/enricher"
	"curio-backend/internal/service/extraction"
	"curio-backend/internal/service/hierarchy"
	"curio-backend/internal/service/importer"
	"curio-backend/internal/service/llm"
	"curio-backend/internal/service/queue"
	"curio-backend/internal/service/urlvalidation"
)

// Container holds the wired application.
type Container struct {
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *observability.Collector
	Tracer  *observability.TracerProvider
	Watcher *config.Watcher

	Store *sqlite.Store
	Bus   *events.Bus

	Queue      *queue.Service
	Maintainer *queue.Maintainer
	Hierarchy  *hierarchy.Service
	Importer   *importer.Service
	Enricher   *enricher.Service

	Server *http.Server

	shutdown []func(context.Context) error
}

func (c *Container) onShutdown(fn func(context.Context) error) {
	c.shutdown = append(c.shutdown, fn)
}

// New builds the full object graph from a validated configuration.
func New(ctx context.Context, cfg *config.Config) (*Container, error) {
	c := &Container{Config: cfg}

	logger, err := observability.NewLogger(cfg.Environment, cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	c.Logger = logger
	c.onShutdown(func(context.Context) error {
		_ = logger.Sync()
		return nil
	})

	c.Metrics = observability.NewCollector("curio")

	tracer, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "curio-backend",
		Version:     config.Version,
		Environment: cfg.Environment,
		Endpoint:    cfg.Tracing.Endpoint,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		return nil, c.failAndClose(ctx, err)
	}
	c.Tracer = tracer
	c.onShutdown(tracer.Shutdown)

	watcher, err := config.NewWatcher(cfg, os.Getenv("CONFIG_FILE"), logger)
	if err != nil {
		return nil, c.failAndClose(ctx, err)
	}
	c.Watcher = watcher
	c.onShutdown(func(context.Context) error {
		watcher.Stop()
		return nil
	})

	store, err := sqlite.Open(cfg.Database, logger)
	if err != nil {
		return nil, c.failAndClose(ctx, err)
	}
	c.Store = store
	c.onShutdown(func(context.Context) error { return store.Close() })
	if err := store.Migrate(ctx); err != nil {
		return nil, c.failAndClose(ctx, err)
	}

	c.Bus = events.NewBus(logger)

	nodes := sqlite.NewNodeRepository(store)
	meta := sqlite.NewMetadataRepository(store)
	audits := sqlite.NewAuditRepository(store)
	queueRepo := sqlite.NewQueueRepository(store)

	hierMem := cache.NewMemoryCache("hierarchy", cfg.Cache.MaxEntries, logger, c.Metrics)
	hierMem.StartCleanup(time.Minute)
	c.onShutdown(func(context.Context) error {
		hierMem.Close()
		return nil
	})
	hierCache := cache.NewHierarchyCache(nodes, hierMem, cfg.Cache.HierarchyTTL, logger)

	c.Hierarchy = hierarchy.NewService(nodes, hierCache, audits, logger, c.Metrics)

	c.Queue = queue.NewService(queueRepo, c.Bus, queue.Config{
		BackoffBase:    cfg.Queue.BackoffBase,
		BackoffCeiling: cfg.Queue.BackoffCeiling,
		MaxAttempts:    cfg.Queue.MaxAttempts,
	}, logger, c.Metrics)
	c.Maintainer = queue.NewMaintainer(c.Queue, queue.MaintenanceConfig{
		VisibilityTimeout:  cfg.Queue.VisibilityTimeout,
		ReaperInterval:     cfg.Queue.ReaperInterval,
		CompletedRetention: cfg.Queue.CompletedRetention,
	}, logger)

	llmClient := llm.NewClient(llm.NewAnthropicProvider(cfg.LLM.APIKey), cfg.LLM, logger, c.Metrics)

	fetchClient := fetch.NewClient(cfg.Fetch, logger)
	extractors := extraction.NewRegistry(logger, c.Metrics,
		extraction.NewGitHubExtractor(fetchClient, cfg.Fetch.GitHubToken),
		extraction.NewYouTubeExtractor(fetchClient),
		extraction.NewTwitterExtractor(fetchClient),
		extraction.NewArxivExtractor(fetchClient),
		extraction.NewGenericExtractor(fetchClient),
	)

	clsMem := cache.NewMemoryCache("classification", cfg.Cache.MaxEntries, logger, c.Metrics)
	clsMem.StartCleanup(time.Minute)
	c.onShutdown(func(context.Context) error {
		clsMem.Close()
		return nil
	})
	cls := classifier.NewService(llmClient, clsMem,
		cfg.LLM.ClassifyModel, int64(cfg.LLM.ClassifyMaxTokens), cfg.Cache.ClassificationTTL,
		logger, c.Metrics)

	c.Importer = importer.NewService(
		urlvalidation.NewValidator(urlvalidation.Options{DisableHTTPSUpgrade: !cfg.Fetch.UpgradeHTTP}),
		extractors, cls, c.Hierarchy, nodes, meta, audits, store, c.Queue,
		hierCache, tracer, logger, c.Metrics)

	c.Enricher = enricher.NewService(c.Queue, nodes, meta, audits, store,
		c.Hierarchy, llmClient, c.Bus, hierCache, enricher.Config{
			Workers:      cfg.Queue.Workers,
			PollInterval: cfg.Queue.PollInterval,
			Model:        cfg.LLM.EnrichModel,
			MaxTokens:    int64(cfg.LLM.EnrichMaxTokens),
		}, logger, c.Metrics)

	router := rest.NewRouter(cfg, c.Importer, nodes, meta, audits,
		c.Hierarchy, c.Queue, c.Bus, hierCache, store, llmClient, logger, c.Metrics)
	router.RegisterCache("hierarchy", hierMem)
	router.RegisterCache("classification", clsMem)

	c.Server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:     router.Setup(),
		ReadTimeout: cfg.Server.ReadTimeout,
		IdleTimeout: cfg.Server.IdleTimeout,
		// No WriteTimeout: the SSE endpoint holds its response open for
		// the life of the subscription.
	}

	return c, nil
}

// Start launches the background workers. The HTTP listener stays with
// the caller so it controls the drain.
func (c *Container) Start(ctx context.Context) {
	c.Maintainer.Start(ctx)
	c.Enricher.Start(ctx)
}

// Stop halts the background workers, waiting for in-flight jobs.
func (c *Container) Stop() {
	c.Enricher.Stop()
	c.Maintainer.Stop()
}

// Close releases everything New acquired, in reverse order.
func (c *Container) Close(ctx context.Context) error {
	var first error
	for i := len(c.shutdown) - 1; i >= 0; i-- {
		if err := c.shutdown[i](ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (c *Container) failAndClose(ctx context.Context, err error) error {
	_ = c.Close(ctx)
	return err
}
