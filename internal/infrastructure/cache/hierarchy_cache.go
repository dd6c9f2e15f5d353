package cache

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"curio-backend/internal/domain/node"
	"curio-backend/internal/repository"
)

// Cache key namespaces, one per reader operation.
const (
	opSubtree  = "subtree"
	opAncestry = "ancestry"
	opCode     = "code"
)

// HierarchyCache is a read-through decorator over a HierarchyReader.
// Identical in-flight lookups are collapsed through a singleflight
// group so a cold subtree is rebuilt once, not once per caller.
// Cached values are shared between callers and must be treated as
// read-only; every mutation path goes through the node repository and
// invalidates here after its transaction commits.
type HierarchyCache struct {
	inner  repository.HierarchyReader
	cache  *MemoryCache
	group  singleflight.Group
	ttl    time.Duration
	logger *zap.Logger
}

var (
	_ repository.HierarchyReader      = (*HierarchyCache)(nil)
	_ repository.HierarchyInvalidator = (*HierarchyCache)(nil)
)

// NewHierarchyCache wraps inner with memoization in cache. The cache
// instance must be dedicated to this decorator; invalidation clears it
// wholesale.
func NewHierarchyCache(inner repository.HierarchyReader, cache *MemoryCache, ttl time.Duration, logger *zap.Logger) *HierarchyCache {
	return &HierarchyCache{
		inner:  inner,
		cache:  cache,
		ttl:    ttl,
		logger: logger.Named("hierarchy_cache"),
	}
}

// GetSubtree returns the cached projection for (view, prefix), reading
// through on a miss.
func (h *HierarchyCache) GetSubtree(ctx context.Context, view node.View, prefix string) ([]*node.Node, error) {
	key := cacheKey(opSubtree, view, prefix)
	if v, ok := h.cache.Get(key); ok {
		return v.([]*node.Node), nil
	}
	v, err, _ := h.group.Do(key, func() (any, error) {
		nodes, err := h.inner.GetSubtree(ctx, view, prefix)
		if err != nil {
			return nil, err
		}
		h.cache.Set(key, nodes, h.ttl)
		return nodes, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]*node.Node), nil
}

// GetAncestry returns the cached root-to-node chain, reading through
// on a miss.
func (h *HierarchyCache) GetAncestry(ctx context.Context, view node.View, id node.ID) ([]*node.Node, error) {
	key := cacheKey(opAncestry, view, id.String())
	if v, ok := h.cache.Get(key); ok {
		return v.([]*node.Node), nil
	}
	v, err, _ := h.group.Do(key, func() (any, error) {
		chain, err := h.inner.GetAncestry(ctx, view, id)
		if err != nil {
			return nil, err
		}
		h.cache.Set(key, chain, h.ttl)
		return chain, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]*node.Node), nil
}

// GetNodeByHierarchyCode resolves an exact code, reading through on a
// miss. Misses in the store are errors and are never cached.
func (h *HierarchyCache) GetNodeByHierarchyCode(ctx context.Context, view node.View, code string) (*node.Node, error) {
	key := cacheKey(opCode, view, code)
	if v, ok := h.cache.Get(key); ok {
		return v.(*node.Node), nil
	}
	v, err, _ := h.group.Do(key, func() (any, error) {
		n, err := h.inner.GetNodeByHierarchyCode(ctx, view, code)
		if err != nil {
			return nil, err
		}
		h.cache.Set(key, n, h.ttl)
		return n, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*node.Node), nil
}

// InvalidateAll drops every cached projection.
func (h *HierarchyCache) InvalidateAll() {
	if n := h.cache.Clear("*"); n > 0 {
		h.logger.Debug("hierarchy cache flushed", zap.Int("entries", n))
	}
}

// InvalidatePrefixes drops projections affected by a committed
// restructure. Subtree entries go when their prefix overlaps a pair
// member in either direction; code entries go when the code sits under
// a member. Ancestry entries are keyed by node id, which says nothing
// about where the node lives, so they are all dropped.
func (h *HierarchyCache) InvalidatePrefixes(pairs []repository.PrefixPair) {
	if len(pairs) == 0 {
		return
	}

	prefixes := make([]string, 0, len(pairs)*2)
	for _, p := range pairs {
		if p.Old != "" {
			prefixes = append(prefixes, p.Old)
		}
		if p.New != "" && p.New != p.Old {
			prefixes = append(prefixes, p.New)
		}
	}
	if len(prefixes) == 0 {
		return
	}

	dropped := h.cache.ClearMatching(func(key string) bool {
		return staleForPrefixes(key, prefixes)
	})
	if dropped > 0 {
		h.logger.Debug("hierarchy cache invalidated",
			zap.Int("prefixes", len(prefixes)),
			zap.Int("entries", dropped))
	}
}

func cacheKey(op string, view node.View, arg string) string {
	return op + "|" + view.String() + "|" + arg
}

func staleForPrefixes(key string, prefixes []string) bool {
	parts := strings.SplitN(key, "|", 3)
	if len(parts) != 3 {
		return true
	}
	op, arg := parts[0], parts[2]

	switch op {
	case opAncestry:
		return true
	case opSubtree:
		for _, p := range prefixes {
			// A cached subtree is stale when the changed region sits
			// inside it or it sits inside the changed region.
			if node.CodeHasPrefix(p, arg) || node.CodeHasPrefix(arg, p) {
				return true
			}
		}
		return false
	case opCode:
		for _, p := range prefixes {
			if node.CodeHasPrefix(arg, p) {
				return true
			}
		}
		return false
	default:
		return true
	}
}
