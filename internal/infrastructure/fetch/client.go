// Package fetch is the single egress point for outbound HTTP.
// Every extractor goes through Client, which enforces the per-request
// timeout, the body cap, per-host and global concurrency limits, and a
// circuit breaker per host so one misbehaving site cannot absorb the
// worker pool.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"curio-backend/internal/config"
	apperrors "curio-backend/internal/errors"
)

const maxRedirects = 5

// errUpstream5xx marks a completed round trip whose status should count
// against the host's circuit breaker.
var errUpstream5xx = errors.New("upstream 5xx")

// Response is a fully buffered outbound response. Body is never larger
// than the configured cap.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	FinalURL   string
}

// ContentType returns the media type portion of the Content-Type header.
func (r *Response) ContentType() string {
	ct := r.Header.Get("Content-Type")
	for i := 0; i < len(ct); i++ {
		if ct[i] == ';' {
			return ct[:i]
		}
	}
	return ct
}

// RequestOption mutates an outbound request before it is sent.
type RequestOption func(*http.Request)

// WithHeader sets a header on the outbound request.
func WithHeader(key, value string) RequestOption {
	return func(req *http.Request) {
		req.Header.Set(key, value)
	}
}

// Client wraps http.Client with the egress policy. Safe for concurrent use.
type Client struct {
	cfg    config.FetchConfig
	http   *http.Client
	logger *zap.Logger

	global *semaphore.Weighted

	mu       sync.Mutex
	perHost  map[string]*semaphore.Weighted
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewClient builds the egress client from configuration.
func NewClient(cfg config.FetchConfig, logger *zap.Logger) *Client {
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
					return fmt.Errorf("redirect to unsupported scheme %q", req.URL.Scheme)
				}
				return nil
			},
		},
		logger:   logger,
		global:   semaphore.NewWeighted(cfg.GlobalConcurrency),
		perHost:  make(map[string]*semaphore.Weighted),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Get fetches url and returns the buffered response. Responses with
// status >= 400 are returned as errors already mapped to the unified
// error taxonomy; callers only see *Response for 2xx/3xx outcomes.
func (c *Client) Get(ctx context.Context, url string, opts ...RequestOption) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperrors.Validation(apperrors.CodeURLInvalid, "cannot build request").
			WithOperation("fetch.Get").
			WithCause(err).
			Build()
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/json,application/atom+xml;q=0.9,*/*;q=0.8")
	for _, opt := range opts {
		opt(req)
	}

	host := req.URL.Hostname()

	if err := c.global.Acquire(ctx, 1); err != nil {
		return nil, c.mapTransportError(err, url)
	}
	defer c.global.Release(1)

	sem := c.hostSemaphore(host)
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, c.mapTransportError(err, url)
	}
	defer sem.Release(1)

	result, err := c.breaker(host).Execute(func() (any, error) {
		resp, err := c.roundTrip(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			return resp, errUpstream5xx
		}
		return resp, nil
	})

	switch {
	case err == nil:
	case errors.Is(err, errUpstream5xx):
		resp := result.(*Response)
		return nil, apperrors.External(apperrors.CodeFetchFailed,
			fmt.Sprintf("upstream returned %d", resp.StatusCode)).
			WithOperation("fetch.Get").
			WithContext("url", url).
			WithContext("status", resp.StatusCode).
			Build()
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return nil, apperrors.External(apperrors.CodeFetchFailed, "host circuit open").
			WithOperation("fetch.Get").
			WithContext("host", host).
			WithCause(err).
			Build()
	default:
		return nil, c.mapTransportError(err, url)
	}

	resp := result.(*Response)
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, apperrors.RateLimit(apperrors.CodeRateLimitExceeded, "upstream rate limit").
			WithOperation("fetch.Get").
			WithContext("url", url).
			WithRetryAfter(retryAfter(resp.Header)).
			Build()
	}
	if resp.StatusCode >= 400 {
		return nil, apperrors.External(apperrors.CodeFetchFailed,
			fmt.Sprintf("upstream returned %d", resp.StatusCode)).
			WithOperation("fetch.Get").
			WithContext("url", url).
			WithContext("status", resp.StatusCode).
			WithRetryable(false).
			Build()
	}
	return resp, nil
}

// roundTrip performs the request and buffers at most cap+1 bytes so an
// oversized body is detected without reading it to the end.
func (c *Client) roundTrip(req *http.Request) (*Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.ContentLength > c.cfg.MaxBodyBytes {
		return nil, apperrors.External(apperrors.CodeContentTooLarge,
			fmt.Sprintf("declared length %d exceeds cap %d", resp.ContentLength, c.cfg.MaxBodyBytes)).
			WithOperation("fetch.Get").
			WithContext("url", req.URL.String()).
			Build()
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > c.cfg.MaxBodyBytes {
		return nil, apperrors.External(apperrors.CodeContentTooLarge,
			fmt.Sprintf("body exceeds cap %d", c.cfg.MaxBodyBytes)).
			WithOperation("fetch.Get").
			WithContext("url", req.URL.String()).
			Build()
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		FinalURL:   resp.Request.URL.String(),
	}, nil
}

func (c *Client) mapTransportError(err error, url string) error {
	var ue *apperrors.UnifiedError
	if errors.As(err, &ue) {
		return err
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return apperrors.Timeout(apperrors.CodeTimeout, "fetch timed out").
			WithOperation("fetch.Get").
			WithContext("url", url).
			WithCause(err).
			Build()
	}
	if errors.Is(err, context.Canceled) {
		return apperrors.Internal(apperrors.CodeInternalError, "fetch canceled").
			WithOperation("fetch.Get").
			WithCause(err).
			Build()
	}
	return apperrors.External(apperrors.CodeFetchFailed, "fetch failed").
		WithOperation("fetch.Get").
		WithContext("url", url).
		WithCause(err).
		Build()
}

func (c *Client) hostSemaphore(host string) *semaphore.Weighted {
	c.mu.Lock()
	defer c.mu.Unlock()
	sem, ok := c.perHost[host]
	if !ok {
		sem = semaphore.NewWeighted(c.cfg.PerHostConcurrency)
		c.perHost[host] = sem
	}
	return sem
}

func (c *Client) breaker(host string) *gobreaker.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	cb, ok := c.breakers[host]
	if !ok {
		cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "fetch:" + host,
			MaxRequests: 5,
			Interval:    30 * time.Second,
			Timeout:     60 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				if counts.Requests < 5 {
					return false
				}
				return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.8
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				c.logger.Warn("circuit breaker state changed",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		})
		c.breakers[host] = cb
	}
	return cb
}

// retryAfter parses a Retry-After header; it falls back to 30s when the
// header is absent or malformed.
func retryAfter(h http.Header) time.Duration {
	raw := h.Get("Retry-After")
	if raw == "" {
		return 30 * time.Second
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(raw); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 30 * time.Second
}
