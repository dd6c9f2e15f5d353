package rest

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"curio-backend/internal/config"
	"curio-backend/internal/infrastructure/cache"
	"curio-backend/internal/service/llm"
	"curio-backend/internal/service/queue"
)

// fullHealthTTL caps how often the deep checks run; monitoring systems
// poll far more aggressively than the answer changes.
const fullHealthTTL = 30 * time.Second

type healthCheck struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

type fullHealth struct {
	Status  string                 `json:"status"`
	Checks  map[string]healthCheck `json:"checks"`
	Uptime  string                 `json:"uptime"`
	Version string                 `json:"version"`
}

type healthChecker struct {
	pinger    Pinger
	llm       *llm.Client
	queue     *queue.Service
	caches    map[string]*cache.MemoryCache
	startedAt time.Time

	mu       sync.Mutex
	cached   *fullHealth
	cachedAt time.Time
}

func newHealthChecker(pinger Pinger, llmClient *llm.Client, q *queue.Service) *healthChecker {
	return &healthChecker{
		pinger:    pinger,
		llm:       llmClient,
		queue:     q,
		caches:    make(map[string]*cache.MemoryCache),
		startedAt: time.Now(),
	}
}

// RegisterCache adds a named cache to the deep health report. Call
// before Setup; the map is not guarded after the server starts.
func (rt *Router) RegisterCache(name string, c *cache.MemoryCache) {
	rt.health.caches[name] = c
}

func (h *healthChecker) ping(ctx context.Context) error {
	if h.pinger == nil {
		return nil
	}
	return h.pinger.Ping(ctx)
}

// handleHealth is the shallow liveness probe: one store round trip.
func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	err := rt.health.ping(r.Context())
	latency := float64(time.Since(start).Microseconds()) / 1000

	if err != nil {
		rt.respond(w, http.StatusServiceUnavailable, map[string]any{
			"status":    "down",
			"latencyMs": latency,
		})
		return
	}
	rt.respond(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"latencyMs": latency,
	})
}

// handleHealthFull fans the deep checks out concurrently and caches the
// verdict.
func (rt *Router) handleHealthFull(w http.ResponseWriter, r *http.Request) {
	h := rt.health.full(r.Context())
	status := http.StatusOK
	if h.Status == "down" {
		status = http.StatusServiceUnavailable
	}
	rt.respond(w, status, h)
}

func (h *healthChecker) full(ctx context.Context) *fullHealth {
	h.mu.Lock()
	if h.cached != nil && time.Since(h.cachedAt) < fullHealthTTL {
		cached := h.cached
		h.mu.Unlock()
		return cached
	}
	h.mu.Unlock()

	var (
		checksMu sync.Mutex
		checks   = make(map[string]healthCheck, 3)
	)
	set := func(name string, c healthCheck) {
		checksMu.Lock()
		checks[name] = c
		checksMu.Unlock()
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := h.ping(ctx); err != nil {
			set("database", healthCheck{Status: "down", Detail: err.Error()})
		} else {
			set("database", healthCheck{Status: "ok"})
		}
		return nil
	})
	g.Go(func() error {
		if h.llm != nil && h.llm.IsAvailable() {
			set("llm", healthCheck{Status: "ok"})
		} else {
			set("llm", healthCheck{Status: "degraded", Detail: "model provider not configured"})
		}
		return nil
	})
	g.Go(func() error {
		stats, err := h.queue.Stats(ctx)
		if err != nil {
			set("queue", healthCheck{Status: "down", Detail: err.Error()})
			return nil
		}
		set("queue", healthCheck{
			Status: "ok",
			Detail: fmt.Sprintf("%d pending, %d processing, %d failed", stats.Pending, stats.Processing, stats.Failed),
		})
		return nil
	})
	for name, mc := range h.caches {
		name, mc := name, mc
		g.Go(func() error {
			s := mc.Stats()
			set("cache:"+name, healthCheck{
				Status: "ok",
				Detail: fmt.Sprintf("%d entries, %.0f%% hit rate", s.Entries, s.HitRate*100),
			})
			return nil
		})
	}
	_ = g.Wait()

	status := "ok"
	for _, c := range checks {
		switch {
		case c.Status == "down":
			status = "down"
		case c.Status == "degraded" && status == "ok":
			status = "degraded"
		}
	}

	out := &fullHealth{
		Status:  status,
		Checks:  checks,
		Uptime:  time.Since(h.startedAt).Round(time.Second).String(),
		Version: config.Version,
	}

	h.mu.Lock()
	h.cached = out
	h.cachedAt = time.Now()
	h.mu.Unlock()
	return out
}
