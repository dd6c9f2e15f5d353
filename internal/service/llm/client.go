package llm

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"curio-backend/internal/config"
	apperrors "curio-backend/internal/errors"
	"curio-backend/internal/observability"
)

// Client enforces the shared model-call policy in front of a Provider:
// at most cfg.MaxConcurrent in-flight calls, a per-process circuit
// breaker, a call timeout and token accounting per phase.
type Client struct {
	provider Provider
	cfg      config.LLMConfig
	sem      *semaphore.Weighted
	breaker  *gobreaker.CircuitBreaker
	logger   *zap.Logger
	metrics  *observability.Collector
}

// NewClient wraps provider with the call policy.
func NewClient(provider Provider, cfg config.LLMConfig, logger *zap.Logger, metrics *observability.Collector) *Client {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "llm",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
		// Rejections and auth failures say nothing about backend
		// health; only real outages should open the circuit.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			switch apperrors.CodeOf(err) {
			case apperrors.CodeLLMUnavailable, apperrors.CodeLLMTimeout:
				return false
			}
			return true
		},
	})

	return &Client{
		provider: provider,
		cfg:      cfg,
		sem:      semaphore.NewWeighted(cfg.MaxConcurrent),
		breaker:  breaker,
		logger:   logger,
		metrics:  metrics,
	}
}

// IsAvailable reports whether the underlying provider can take calls.
func (c *Client) IsAvailable() bool {
	return c.provider != nil && c.provider.IsAvailable()
}

// Complete runs one completion under the policy. phase labels the token
// and latency metrics ("classify" or "enrich").
func (c *Client) Complete(ctx context.Context, phase string, req Request) (*Response, error) {
	if !c.IsAvailable() {
		return nil, apperrors.External(apperrors.CodeLLMNotInitialized, "model provider not configured").
			WithOperation("llm.Complete").
			Build()
	}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, apperrors.Timeout(apperrors.CodeLLMTimeout, "gave up waiting for a model slot").
			WithOperation("llm.Complete").
			WithCause(err).
			Build()
	}
	defer c.sem.Release(1)

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	start := time.Now()
	result, err := c.breaker.Execute(func() (any, error) {
		return c.provider.Complete(callCtx, req)
	})
	elapsed := time.Since(start)
	c.metrics.LLMDuration.WithLabelValues(phase).Observe(elapsed.Seconds())

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, apperrors.External(apperrors.CodeLLMUnavailable, "model circuit open").
				WithOperation("llm.Complete").
				WithCause(err).
				Build()
		}
		c.logger.Warn("model call failed",
			zap.String("phase", phase),
			zap.String("model", req.Model),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return nil, err
	}

	resp := result.(*Response)
	c.metrics.LLMTokens.WithLabelValues(phase, "input").Add(float64(resp.InputTokens))
	c.metrics.LLMTokens.WithLabelValues(phase, "output").Add(float64(resp.OutputTokens))
	c.logger.Debug("model call complete",
		zap.String("phase", phase),
		zap.String("model", req.Model),
		zap.Int64("inputTokens", resp.InputTokens),
		zap.Int64("outputTokens", resp.OutputTokens),
		zap.Duration("elapsed", elapsed))
	return resp, nil
}
