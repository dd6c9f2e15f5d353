// Package repository defines the persistence contracts the services
// depend on. Implementations live in internal/infrastructure; tests
// use the in-memory fakes under repository/mocks.
//
// Every method takes a context and honors an ambient transaction
// installed by TransactionManager.WithTransaction, so a service can
// compose several repository calls into one atomic unit.
package repository

import (
	"context"
	"time"

	"curio-backend/internal/domain/audit"
	"curio-backend/internal/domain/job"
	"curio-backend/internal/domain/metadata"
	"curio-backend/internal/domain/node"
)

// NodeFilter narrows node listings. Zero fields are ignored.
type NodeFilter struct {
	Segment      string
	Category     string
	ContentType  string
	Organization string
	Company      string
	Domain       string
}

// SortOrder names a listing order.
type SortOrder string

const (
	SortDateAddedDesc SortOrder = "date_added_desc"
	SortDateAddedAsc  SortOrder = "date_added_asc"
	SortTitleAsc      SortOrder = "title_asc"
	SortRelevance     SortOrder = "relevance"
)

// SearchQuery is the full-text + faceted search request.
type SearchQuery struct {
	Text        string
	Filter      NodeFilter
	Tags        []string
	HasMetadata *bool
	AddedAfter  *time.Time
	AddedBefore *time.Time
	Sort        SortOrder
	Page        Page
}

// Facets are the aggregate counts computed over everything the query
// matched, not just the returned page. Organizations keeps the top ten.
type Facets struct {
	Segments      map[string]int `json:"segments"`
	Categories    map[string]int `json:"categories"`
	ContentTypes  map[string]int `json:"contentTypes"`
	Organizations map[string]int `json:"organizations"`
}

// SearchResult is one page of matches plus the facet counts.
type SearchResult struct {
	PaginatedResult[*node.Node]
	Facets Facets `json:"facets"`
}

// NodeRepository is the primary store for the curated-item aggregate.
type NodeRepository interface {
	HierarchyReader

	Create(ctx context.Context, n *node.Node) error
	Update(ctx context.Context, n *node.Node) error
	SoftDelete(ctx context.Context, id node.ID) error

	Get(ctx context.Context, id node.ID) (*node.Node, error)
	// GetByURL looks a live node up by its canonical URL.
	GetByURL(ctx context.Context, canonicalURL string) (*node.Node, error)

	ListPaginated(ctx context.Context, filter NodeFilter, page Page) (*PaginatedResult[*node.Node], error)
	// ListAll returns every live node matching the filter ordered by
	// date_added descending. Kept for export-style consumers that need
	// the unpaged set.
	ListAll(ctx context.Context, filter NodeFilter) ([]*node.Node, error)

	// KeywordSearch runs lexical search with filters.
	KeywordSearch(ctx context.Context, q SearchQuery) (*PaginatedResult[*node.Node], error)
	// AdvancedSearch additionally computes facet counts over the match set.
	AdvancedSearch(ctx context.Context, q SearchQuery) (*SearchResult, error)

	// ApplyCodeMutations relocates a batch of sibling codes within one
	// view. All mutations land or none do; live-code uniqueness holds
	// before and after, never in between as observed by other readers.
	ApplyCodeMutations(ctx context.Context, view node.View, muts []node.CodeMutation) error
}

// HierarchyReader is the read side of the hierarchy projections. The
// SQLite node repository implements it directly; the caching decorator
// in internal/infrastructure/cache wraps it.
type HierarchyReader interface {
	// GetSubtree returns live nodes whose code in the view sits at or
	// below prefix, ordered by code. An empty prefix returns the whole
	// view.
	GetSubtree(ctx context.Context, view node.View, prefix string) ([]*node.Node, error)
	// GetAncestry returns the chain from the view root down to the
	// node, nearest-root first, ending with the node itself.
	GetAncestry(ctx context.Context, view node.View, id node.ID) ([]*node.Node, error)
	// GetNodeByHierarchyCode resolves an exact code within the view.
	GetNodeByHierarchyCode(ctx context.Context, view node.View, code string) (*node.Node, error)
}

// PrefixPair names the code prefixes vacated and occupied by one
// restructure mutation, for targeted cache invalidation.
type PrefixPair struct {
	Old string
	New string
}

// HierarchyInvalidator is implemented by caching hierarchy readers.
type HierarchyInvalidator interface {
	// InvalidateAll drops every cached projection.
	InvalidateAll()
	// InvalidatePrefixes drops projections whose argument falls under
	// any member of any pair.
	InvalidatePrefixes(pairs []PrefixPair)
}

// NodeMetadata is a node's tag link joined with its registry entry.
type NodeMetadata struct {
	Entry      metadata.RegistryEntry `json:"entry"`
	Confidence float64                `json:"confidence"`
	Source     metadata.Source        `json:"source"`
}

// MetadataRepository manages the shared typed-tag registry and the
// per-node links. Implementations adjust registry usage counts in the
// same transaction as the link change.
type MetadataRepository interface {
	// UpsertRegistryEntry returns the entry for (type, code), creating
	// it on first reference.
	UpsertRegistryEntry(ctx context.Context, typ, code, displayName string) (*metadata.RegistryEntry, error)
	GetRegistryEntry(ctx context.Context, typ, code string) (*metadata.RegistryEntry, error)
	// ListRegistryEntries returns entries of one type, or all types
	// when typ is empty, ordered by usage count descending.
	ListRegistryEntries(ctx context.Context, typ string) ([]*metadata.RegistryEntry, error)

	// SetNodeMetadata replaces the node's links from one source with
	// the given codes.
	SetNodeMetadata(ctx context.Context, nodeID node.ID, source metadata.Source, codes []metadata.Code) error
	// AddNodeMetadata attaches codes without touching existing links.
	// A code already linked to the node keeps its original row.
	AddNodeMetadata(ctx context.Context, nodeID node.ID, codes []metadata.Code) error
	GetNodeMetadata(ctx context.Context, nodeID node.ID) ([]NodeMetadata, error)
}

// JobFilter narrows queue listings. Zero fields are ignored.
type JobFilter struct {
	Status job.Status
	Phase  job.Phase
	NodeID string
}

// QueueRepository persists deferred work. Retry policy (backoff, the
// retryable decision) belongs to the queue service; this interface
// provides the atomic state moves.
type QueueRepository interface {
	// Enqueue inserts j unless a live job already exists for its
	// (node, phase), in which case the existing job is returned with
	// created=false. A terminal job for the pair is replaced.
	Enqueue(ctx context.Context, j *job.Job) (created bool, live *job.Job, err error)

	// Claim atomically takes the most urgent eligible pending job:
	// highest priority, oldest created_at, next_eligible_at <= now.
	// The claimed job moves to processing with the attempt counted and
	// the owner recorded. Returns nil when nothing is eligible.
	Claim(ctx context.Context, owner string, now time.Time) (*job.Job, error)

	// MarkComplete settles a processing job.
	MarkComplete(ctx context.Context, id string, now time.Time) (*job.Job, error)
	// MarkFailed settles a processing job as permanently failed.
	MarkFailed(ctx context.Context, id, errMsg string, now time.Time) (*job.Job, error)
	// Reschedule returns a processing job to pending with the given
	// eligibility time. The attempt counter is not touched.
	Reschedule(ctx context.Context, id, errMsg string, nextEligibleAt time.Time) (*job.Job, error)
	// CancelPending fails a pending job with a cancellation message.
	// Processing jobs refuse cancellation.
	CancelPending(ctx context.Context, id string) (*job.Job, error)
	// ResetForRetry returns a failed job to pending with attempts
	// zeroed and the error cleared.
	ResetForRetry(ctx context.Context, id string) (*job.Job, error)

	Get(ctx context.Context, id string) (*job.Job, error)
	ListForNode(ctx context.Context, nodeID string) ([]*job.Job, error)
	List(ctx context.Context, filter JobFilter, page Page) (*PaginatedResult[*job.Job], error)
	// ListStale returns processing jobs claimed before the cutoff.
	ListStale(ctx context.Context, claimedBefore time.Time) ([]*job.Job, error)
	// DeleteCompleted removes complete jobs older than the cutoff and
	// reports how many went.
	DeleteCompleted(ctx context.Context, olderThan time.Time) (int64, error)
	CountByStatus(ctx context.Context) (job.Stats, error)
}

// AuditRepository is the append-only history of hierarchy changes.
type AuditRepository interface {
	Record(ctx context.Context, entries ...audit.Entry) error
	ListForNode(ctx context.Context, nodeID string, page Page) (*PaginatedResult[audit.Entry], error)
	ListRecent(ctx context.Context, page Page) (*PaginatedResult[audit.Entry], error)
}

// TransactionManager runs fn atomically. The transaction travels in
// the context fn receives; repository calls made with that context
// join it. fn returning an error rolls everything back.
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
