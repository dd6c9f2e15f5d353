// Package mocks provides an in-memory implementation of the
// repository interfaces for service tests. Semantics mirror the SQLite
// implementation: live-code uniqueness, at-most-one-live queue slots,
// usage-count maintenance and snapshot rollback on failed transactions.
package mocks

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"curio-backend/internal/domain/audit"
	"curio-backend/internal/domain/job"
	"curio-backend/internal/domain/metadata"
	"curio-backend/internal/domain/node"
	apperrors "curio-backend/internal/errors"
	"curio-backend/internal/repository"
)

// MockRepository is a map-backed store implementing NodeRepository,
// MetadataRepository and TransactionManager. The queue and audit
// facets hang off it via Queue() and Audit(), sharing the same state
// and locks so cross-repository transactions behave like one store.
//
// Mutators always replace stored values with fresh copies, so a
// shallow map snapshot is enough for transaction rollback.
type MockRepository struct {
	mu sync.RWMutex

	nodes    map[string]*node.Node
	registry map[string]*metadata.RegistryEntry // keyed type + "|" + code
	links    map[string][]metadata.Link         // nodeID -> links
	jobs     map[string]*job.Job
	audits   []audit.Entry

	registrySeq int64
	linkSeq     int64

	shouldFailOn map[string]error

	queue *MockQueueRepository
	audit *MockAuditRepository
}

var (
	_ repository.NodeRepository     = (*MockRepository)(nil)
	_ repository.MetadataRepository = (*MockRepository)(nil)
	_ repository.TransactionManager = (*MockRepository)(nil)
	_ repository.QueueRepository    = (*MockQueueRepository)(nil)
	_ repository.AuditRepository    = (*MockAuditRepository)(nil)
)

// NewMockRepository creates an empty in-memory repository.
func NewMockRepository() *MockRepository {
	m := &MockRepository{
		nodes:        make(map[string]*node.Node),
		registry:     make(map[string]*metadata.RegistryEntry),
		links:        make(map[string][]metadata.Link),
		jobs:         make(map[string]*job.Job),
		shouldFailOn: make(map[string]error),
	}
	m.queue = &MockQueueRepository{store: m}
	m.audit = &MockAuditRepository{store: m}
	return m
}

// Queue returns the queue facet over the same state.
func (m *MockRepository) Queue() *MockQueueRepository { return m.queue }

// Audit returns the audit facet over the same state.
func (m *MockRepository) Audit() *MockAuditRepository { return m.audit }

// SetError makes the named method return err until cleared.
func (m *MockRepository) SetError(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shouldFailOn[method] = err
}

// ClearErrors removes all injected errors.
func (m *MockRepository) ClearErrors() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shouldFailOn = make(map[string]error)
}

func (m *MockRepository) failure(method string) error {
	return m.shouldFailOn[method]
}

// ---- transactions ----

type snapshot struct {
	nodes    map[string]*node.Node
	registry map[string]*metadata.RegistryEntry
	links    map[string][]metadata.Link
	jobs     map[string]*job.Job
	audits   []audit.Entry
}

func (m *MockRepository) snapshot() snapshot {
	s := snapshot{
		nodes:    make(map[string]*node.Node, len(m.nodes)),
		registry: make(map[string]*metadata.RegistryEntry, len(m.registry)),
		links:    make(map[string][]metadata.Link, len(m.links)),
		jobs:     make(map[string]*job.Job, len(m.jobs)),
		audits:   append([]audit.Entry(nil), m.audits...),
	}
	for k, v := range m.nodes {
		s.nodes[k] = v
	}
	for k, v := range m.registry {
		s.registry[k] = v
	}
	for k, v := range m.links {
		s.links[k] = append([]metadata.Link(nil), v...)
	}
	for k, v := range m.jobs {
		s.jobs[k] = v
	}
	return s
}

func (m *MockRepository) restore(s snapshot) {
	m.nodes = s.nodes
	m.registry = s.registry
	m.links = s.links
	m.jobs = s.jobs
	m.audits = s.audits
}

// WithTransaction runs fn and rolls the store back to its prior state
// when fn fails, so commit-or-nothing behavior is observable in tests.
func (m *MockRepository) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := m.failure("WithTransaction"); err != nil {
		return err
	}
	m.mu.Lock()
	before := m.snapshot()
	m.mu.Unlock()

	if err := fn(ctx); err != nil {
		m.mu.Lock()
		m.restore(before)
		m.mu.Unlock()
		return err
	}
	return nil
}

// ---- nodes ----

func (m *MockRepository) Create(ctx context.Context, n *node.Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("Create"); err != nil {
		return err
	}
	id := n.ID.String()
	if _, exists := m.nodes[id]; exists {
		return apperrors.Conflict(apperrors.CodeDuplicateEntry, "node already exists").
			WithContext("nodeId", id).Build()
	}
	for _, other := range m.nodes {
		if !other.IsDeleted && other.URL == n.URL {
			return apperrors.Conflict(apperrors.CodeDuplicateEntry, "canonical URL already stored").
				WithContext("url", n.URL).Build()
		}
	}
	if err := m.checkCodeFree(n, ""); err != nil {
		return err
	}
	cp := *n
	m.nodes[id] = &cp
	return nil
}

func (m *MockRepository) Update(ctx context.Context, n *node.Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("Update"); err != nil {
		return err
	}
	id := n.ID.String()
	if _, exists := m.nodes[id]; !exists {
		return nodeNotFound(id)
	}
	if err := m.checkCodeFree(n, id); err != nil {
		return err
	}
	cp := *n
	m.nodes[id] = &cp
	return nil
}

// checkCodeFree enforces live-code uniqueness per view.
func (m *MockRepository) checkCodeFree(n *node.Node, skipID string) error {
	if n.IsDeleted {
		return nil
	}
	for _, other := range m.nodes {
		if other.IsDeleted || other.ID.String() == skipID {
			continue
		}
		for _, v := range node.Views {
			code := n.HierarchyCode(v)
			if code != "" && other.HierarchyCode(v) == code {
				return apperrors.Conflict(apperrors.CodeDatabaseConstraintViolation, "hierarchy code already occupied").
					WithContext("view", v.String()).
					WithContext("code", code).Build()
			}
		}
	}
	return nil
}

func (m *MockRepository) SoftDelete(ctx context.Context, id node.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("SoftDelete"); err != nil {
		return err
	}
	n, exists := m.nodes[id.String()]
	if !exists || n.IsDeleted {
		return nodeNotFound(id.String())
	}
	cp := *n
	cp.IsDeleted = true
	cp.UpdatedAt = time.Now().UTC()
	m.nodes[id.String()] = &cp

	// Dropping a node releases its tag links and their usage counts.
	for _, l := range m.links[id.String()] {
		m.adjustUsage(l.RegistryID, -1)
	}
	delete(m.links, id.String())
	return nil
}

func (m *MockRepository) Get(ctx context.Context, id node.ID) (*node.Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure("Get"); err != nil {
		return nil, err
	}
	n, exists := m.nodes[id.String()]
	if !exists || n.IsDeleted {
		return nil, nodeNotFound(id.String())
	}
	cp := *n
	return &cp, nil
}

func (m *MockRepository) GetByURL(ctx context.Context, canonicalURL string) (*node.Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure("GetByURL"); err != nil {
		return nil, err
	}
	for _, n := range m.nodes {
		if !n.IsDeleted && n.URL == canonicalURL {
			cp := *n
			return &cp, nil
		}
	}
	return nil, apperrors.NotFound(apperrors.CodeNodeNotFound, "no node for URL").
		WithContext("url", canonicalURL).Build()
}

func (m *MockRepository) ListPaginated(ctx context.Context, filter repository.NodeFilter, page repository.Page) (*repository.PaginatedResult[*node.Node], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure("ListPaginated"); err != nil {
		return nil, err
	}
	all := m.filtered(filter)
	sortByDateAddedDesc(all)
	return repository.Slice(all, page), nil
}

func (m *MockRepository) ListAll(ctx context.Context, filter repository.NodeFilter) ([]*node.Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure("ListAll"); err != nil {
		return nil, err
	}
	all := m.filtered(filter)
	sortByDateAddedDesc(all)
	return all, nil
}

func (m *MockRepository) filtered(filter repository.NodeFilter) []*node.Node {
	var out []*node.Node
	for _, n := range m.nodes {
		if n.IsDeleted || !matches(n, filter) {
			continue
		}
		cp := *n
		out = append(out, &cp)
	}
	return out
}

func matches(n *node.Node, f repository.NodeFilter) bool {
	if f.Segment != "" && n.SegmentCode != f.Segment {
		return false
	}
	if f.Category != "" && n.CategoryCode != f.Category {
		return false
	}
	if f.ContentType != "" && n.ContentTypeCode != f.ContentType {
		return false
	}
	if f.Organization != "" && n.Organization != f.Organization {
		return false
	}
	if f.Company != "" && !strings.EqualFold(n.Company, f.Company) {
		return false
	}
	if f.Domain != "" && n.SourceDomain != strings.ToLower(f.Domain) {
		return false
	}
	return true
}

func sortByDateAddedDesc(nodes []*node.Node) {
	sort.SliceStable(nodes, func(i, j int) bool {
		if !nodes[i].DateAdded.Equal(nodes[j].DateAdded) {
			return nodes[i].DateAdded.After(nodes[j].DateAdded)
		}
		return nodes[i].ID.String() < nodes[j].ID.String()
	})
}

func (m *MockRepository) KeywordSearch(ctx context.Context, q repository.SearchQuery) (*repository.PaginatedResult[*node.Node], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure("KeywordSearch"); err != nil {
		return nil, err
	}
	return repository.Slice(m.searchMatches(q), q.Page), nil
}

func (m *MockRepository) AdvancedSearch(ctx context.Context, q repository.SearchQuery) (*repository.SearchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure("AdvancedSearch"); err != nil {
		return nil, err
	}
	all := m.searchMatches(q)
	facets := repository.Facets{
		Segments:      map[string]int{},
		Categories:    map[string]int{},
		ContentTypes:  map[string]int{},
		Organizations: map[string]int{},
	}
	for _, n := range all {
		facets.Segments[n.SegmentCode]++
		facets.Categories[n.CategoryCode]++
		facets.ContentTypes[n.ContentTypeCode]++
		facets.Organizations[n.Organization]++
	}
	trimOrganizations(facets.Organizations, 10)
	return &repository.SearchResult{
		PaginatedResult: *repository.Slice(all, q.Page),
		Facets:          facets,
	}, nil
}

// searchMatches is a deliberately plain stand-in for FTS: substring
// match over the searchable fields, newest first.
func (m *MockRepository) searchMatches(q repository.SearchQuery) []*node.Node {
	text := strings.ToLower(strings.TrimSpace(q.Text))
	var out []*node.Node
	for _, n := range m.nodes {
		if n.IsDeleted || !matches(n, q.Filter) {
			continue
		}
		if q.HasMetadata != nil && n.Enriched() != *q.HasMetadata {
			continue
		}
		if q.AddedAfter != nil && n.DateAdded.Before(*q.AddedAfter) {
			continue
		}
		if q.AddedBefore != nil && !n.DateAdded.Before(*q.AddedBefore) {
			continue
		}
		if len(q.Tags) > 0 && !hasAllTags(n, q.Tags) {
			continue
		}
		if text != "" {
			haystack := strings.ToLower(n.Title + " " + n.Descriptor + " " + n.AISummary)
			if !strings.Contains(haystack, text) {
				continue
			}
		}
		cp := *n
		out = append(out, &cp)
	}
	sortByDateAddedDesc(out)
	return out
}

// trimOrganizations keeps only the keep highest-count organizations,
// breaking count ties by code.
func trimOrganizations(counts map[string]int, keep int) {
	if len(counts) <= keep {
		return
	}
	codes := make([]string, 0, len(counts))
	for code := range counts {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool {
		if counts[codes[i]] != counts[codes[j]] {
			return counts[codes[i]] > counts[codes[j]]
		}
		return codes[i] < codes[j]
	})
	for _, code := range codes[keep:] {
		delete(counts, code)
	}
}

func hasAllTags(n *node.Node, tags []string) bool {
	have := make(map[string]bool, len(n.MetadataTags))
	for _, t := range n.MetadataTags {
		have[strings.ToLower(t)] = true
	}
	for _, t := range tags {
		if !have[strings.ToLower(t)] {
			return false
		}
	}
	return true
}

// ---- hierarchy reads ----

func (m *MockRepository) GetSubtree(ctx context.Context, view node.View, prefix string) ([]*node.Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure("GetSubtree"); err != nil {
		return nil, err
	}
	var out []*node.Node
	for _, n := range m.nodes {
		if n.IsDeleted {
			continue
		}
		code := n.HierarchyCode(view)
		if code == "" || !node.CodeHasPrefix(code, prefix) {
			continue
		}
		cp := *n
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].HierarchyCode(view) < out[j].HierarchyCode(view)
	})
	return out, nil
}

func (m *MockRepository) GetAncestry(ctx context.Context, view node.View, id node.ID) ([]*node.Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure("GetAncestry"); err != nil {
		return nil, err
	}
	self, exists := m.nodes[id.String()]
	if !exists || self.IsDeleted {
		return nil, nodeNotFound(id.String())
	}
	var chain []*node.Node
	for p := node.ParentPath(self.HierarchyCode(view)); p != ""; p = node.ParentPath(p) {
		if at := m.liveAtCode(view, p); at != nil {
			cp := *at
			chain = append(chain, &cp)
		}
	}
	// Collected child-up; return root-first ending with the node.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	cp := *self
	return append(chain, &cp), nil
}

func (m *MockRepository) GetNodeByHierarchyCode(ctx context.Context, view node.View, code string) (*node.Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure("GetNodeByHierarchyCode"); err != nil {
		return nil, err
	}
	if n := m.liveAtCode(view, code); n != nil {
		cp := *n
		return &cp, nil
	}
	return nil, apperrors.NotFound(apperrors.CodeNodeNotFound, "no node at code").
		WithContext("view", view.String()).
		WithContext("code", code).Build()
}

func (m *MockRepository) liveAtCode(view node.View, code string) *node.Node {
	for _, n := range m.nodes {
		if !n.IsDeleted && n.HierarchyCode(view) == code {
			return n
		}
	}
	return nil
}

func (m *MockRepository) ApplyCodeMutations(ctx context.Context, view node.View, muts []node.CodeMutation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("ApplyCodeMutations"); err != nil {
		return err
	}
	// Validate the full batch before touching anything.
	for _, mut := range muts {
		n, exists := m.nodes[mut.NodeID]
		if !exists || n.IsDeleted {
			return nodeNotFound(mut.NodeID)
		}
		if n.HierarchyCode(view) != mut.OldCode {
			return apperrors.Conflict(apperrors.CodeDatabaseConstraintViolation, "stale mutation").
				WithContext("nodeId", mut.NodeID).
				WithContext("expected", mut.OldCode).
				WithContext("actual", n.HierarchyCode(view)).Build()
		}
	}
	for _, mut := range muts {
		cp := *m.nodes[mut.NodeID]
		if err := cp.SetHierarchyCode(view, mut.NewCode); err != nil {
			return err
		}
		m.nodes[mut.NodeID] = &cp
	}
	return nil
}

// ---- metadata ----

func registryKey(typ, code string) string { return typ + "|" + code }

func (m *MockRepository) UpsertRegistryEntry(ctx context.Context, typ, code, displayName string) (*metadata.RegistryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("UpsertRegistryEntry"); err != nil {
		return nil, err
	}
	e := m.upsertEntryLocked(typ, code, displayName)
	cp := *e
	return &cp, nil
}

func (m *MockRepository) upsertEntryLocked(typ, code, displayName string) *metadata.RegistryEntry {
	key := registryKey(typ, code)
	if e, exists := m.registry[key]; exists {
		if displayName != "" && e.DisplayName == "" {
			cp := *e
			cp.DisplayName = displayName
			cp.UpdatedAt = time.Now().UTC()
			m.registry[key] = &cp
			return &cp
		}
		return e
	}
	m.registrySeq++
	now := time.Now().UTC()
	e := &metadata.RegistryEntry{
		ID:          m.registrySeq,
		Type:        typ,
		Code:        code,
		DisplayName: displayName,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.registry[key] = e
	return e
}

func (m *MockRepository) GetRegistryEntry(ctx context.Context, typ, code string) (*metadata.RegistryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure("GetRegistryEntry"); err != nil {
		return nil, err
	}
	e, exists := m.registry[registryKey(typ, code)]
	if !exists {
		return nil, apperrors.NotFound(apperrors.CodeResourceNotFound, "registry entry not found").
			WithContext("type", typ).
			WithContext("code", code).Build()
	}
	cp := *e
	return &cp, nil
}

func (m *MockRepository) ListRegistryEntries(ctx context.Context, typ string) ([]*metadata.RegistryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure("ListRegistryEntries"); err != nil {
		return nil, err
	}
	var out []*metadata.RegistryEntry
	for _, e := range m.registry {
		if typ != "" && e.Type != typ {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UsageCount != out[j].UsageCount {
			return out[i].UsageCount > out[j].UsageCount
		}
		return out[i].Code < out[j].Code
	})
	return out, nil
}

func (m *MockRepository) SetNodeMetadata(ctx context.Context, nodeID node.ID, source metadata.Source, codes []metadata.Code) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("SetNodeMetadata"); err != nil {
		return err
	}
	id := nodeID.String()
	kept := m.links[id][:0:0]
	for _, l := range m.links[id] {
		if l.Source == source {
			m.adjustUsage(l.RegistryID, -1)
			continue
		}
		kept = append(kept, l)
	}
	m.links[id] = kept
	return m.attachLocked(id, source, codes, false)
}

func (m *MockRepository) AddNodeMetadata(ctx context.Context, nodeID node.ID, codes []metadata.Code) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("AddNodeMetadata"); err != nil {
		return err
	}
	return m.attachLocked(nodeID.String(), "", codes, true)
}

// attachLocked links codes to a node, creating registry entries on
// first reference. A (node, entry) pair is linked at most once: with
// skipExisting an existing pair keeps its original row, otherwise it
// takes the new confidence and source.
func (m *MockRepository) attachLocked(nodeID string, source metadata.Source, codes []metadata.Code, skipExisting bool) error {
	for _, c := range codes {
		e := m.upsertEntryLocked(c.Type, c.Code, c.DisplayName)
		src := c.Source
		if source != "" {
			src = source
		}
		if m.linkedLocked(nodeID, e.ID) {
			if skipExisting {
				continue
			}
			for i, l := range m.links[nodeID] {
				if l.RegistryID == e.ID {
					m.links[nodeID][i].Confidence = c.Confidence
					m.links[nodeID][i].Source = src
					break
				}
			}
			continue
		}
		m.linkSeq++
		m.links[nodeID] = append(m.links[nodeID], metadata.Link{
			ID:         m.linkSeq,
			NodeID:     nodeID,
			RegistryID: e.ID,
			Confidence: c.Confidence,
			Source:     src,
			CreatedAt:  time.Now().UTC(),
		})
		m.adjustUsage(e.ID, 1)
	}
	return nil
}

func (m *MockRepository) linkedLocked(nodeID string, registryID int64) bool {
	for _, l := range m.links[nodeID] {
		if l.RegistryID == registryID {
			return true
		}
	}
	return false
}

func (m *MockRepository) adjustUsage(registryID int64, delta int) {
	for key, e := range m.registry {
		if e.ID == registryID {
			cp := *e
			cp.UsageCount += delta
			if cp.UsageCount < 0 {
				cp.UsageCount = 0
			}
			cp.UpdatedAt = time.Now().UTC()
			m.registry[key] = &cp
			return
		}
	}
}

func (m *MockRepository) GetNodeMetadata(ctx context.Context, nodeID node.ID) ([]repository.NodeMetadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure("GetNodeMetadata"); err != nil {
		return nil, err
	}
	var out []repository.NodeMetadata
	for _, l := range m.links[nodeID.String()] {
		for _, e := range m.registry {
			if e.ID == l.RegistryID {
				out = append(out, repository.NodeMetadata{
					Entry:      *e,
					Confidence: l.Confidence,
					Source:     l.Source,
				})
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Entry.Type != out[j].Entry.Type {
			return out[i].Entry.Type < out[j].Entry.Type
		}
		return out[i].Entry.Code < out[j].Entry.Code
	})
	return out, nil
}

// ---- queue facet ----

// MockQueueRepository implements repository.QueueRepository over the
// shared store.
type MockQueueRepository struct {
	store *MockRepository
}

func (q *MockQueueRepository) Enqueue(ctx context.Context, j *job.Job) (bool, *job.Job, error) {
	m := q.store
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("Enqueue"); err != nil {
		return false, nil, err
	}
	for id, existing := range m.jobs {
		if existing.NodeID != j.NodeID || existing.Phase != j.Phase {
			continue
		}
		if existing.Live() {
			cp := *existing
			return false, &cp, nil
		}
		delete(m.jobs, id)
	}
	cp := *j
	m.jobs[j.ID] = &cp
	out := cp
	return true, &out, nil
}

func (q *MockQueueRepository) Claim(ctx context.Context, owner string, now time.Time) (*job.Job, error) {
	m := q.store
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("Claim"); err != nil {
		return nil, err
	}
	var best *job.Job
	for _, j := range m.jobs {
		if j.Status != job.StatusPending || j.NextEligibleAt.After(now) {
			continue
		}
		if best == nil || claimBefore(j, best) {
			best = j
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	cp.Status = job.StatusProcessing
	cp.Attempts++
	cp.Owner = owner
	claimed := now
	cp.ClaimedAt = &claimed
	m.jobs[cp.ID] = &cp
	out := cp
	return &out, nil
}

// claimBefore orders candidates by priority descending then age.
func claimBefore(a, b *job.Job) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func (q *MockQueueRepository) MarkComplete(ctx context.Context, id string, now time.Time) (*job.Job, error) {
	return q.transition("MarkComplete", id, job.StatusProcessing, func(j *job.Job) {
		j.Status = job.StatusComplete
		j.ErrorMessage = ""
		j.ProcessedAt = &now
	})
}

func (q *MockQueueRepository) MarkFailed(ctx context.Context, id, errMsg string, now time.Time) (*job.Job, error) {
	return q.transition("MarkFailed", id, job.StatusProcessing, func(j *job.Job) {
		j.Status = job.StatusFailed
		j.ErrorMessage = errMsg
		j.ProcessedAt = &now
	})
}

func (q *MockQueueRepository) Reschedule(ctx context.Context, id, errMsg string, nextEligibleAt time.Time) (*job.Job, error) {
	return q.transition("Reschedule", id, job.StatusProcessing, func(j *job.Job) {
		j.Status = job.StatusPending
		j.ErrorMessage = errMsg
		j.NextEligibleAt = nextEligibleAt
		j.Owner = ""
		j.ClaimedAt = nil
	})
}

func (q *MockQueueRepository) CancelPending(ctx context.Context, id string) (*job.Job, error) {
	now := time.Now().UTC()
	return q.transition("CancelPending", id, job.StatusPending, func(j *job.Job) {
		j.Status = job.StatusFailed
		j.ErrorMessage = "cancelled"
		j.ProcessedAt = &now
	})
}

func (q *MockQueueRepository) ResetForRetry(ctx context.Context, id string) (*job.Job, error) {
	return q.transition("ResetForRetry", id, job.StatusFailed, func(j *job.Job) {
		j.Status = job.StatusPending
		j.Attempts = 0
		j.ErrorMessage = ""
		j.NextEligibleAt = time.Now().UTC()
		j.Owner = ""
		j.ClaimedAt = nil
		j.ProcessedAt = nil
	})
}

func (q *MockQueueRepository) transition(method, id string, want job.Status, apply func(*job.Job)) (*job.Job, error) {
	m := q.store
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure(method); err != nil {
		return nil, err
	}
	j, exists := m.jobs[id]
	if !exists {
		return nil, jobNotFound(id)
	}
	if j.Status != want {
		return nil, apperrors.Conflict(apperrors.CodeInvalidInput, "job is not in the required status").
			WithContext("jobId", id).
			WithContext("status", string(j.Status)).
			WithContext("required", string(want)).Build()
	}
	cp := *j
	apply(&cp)
	m.jobs[id] = &cp
	out := cp
	return &out, nil
}

func (q *MockQueueRepository) Get(ctx context.Context, id string) (*job.Job, error) {
	m := q.store
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure("GetJob"); err != nil {
		return nil, err
	}
	j, exists := m.jobs[id]
	if !exists {
		return nil, jobNotFound(id)
	}
	cp := *j
	return &cp, nil
}

func (q *MockQueueRepository) ListForNode(ctx context.Context, nodeID string) ([]*job.Job, error) {
	m := q.store
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure("ListForNode"); err != nil {
		return nil, err
	}
	var out []*job.Job
	for _, j := range m.jobs {
		if j.NodeID == nodeID {
			cp := *j
			out = append(out, &cp)
		}
	}
	sortJobs(out)
	return out, nil
}

func (q *MockQueueRepository) List(ctx context.Context, filter repository.JobFilter, page repository.Page) (*repository.PaginatedResult[*job.Job], error) {
	m := q.store
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure("ListJobs"); err != nil {
		return nil, err
	}
	var out []*job.Job
	for _, j := range m.jobs {
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		if filter.Phase != "" && j.Phase != filter.Phase {
			continue
		}
		if filter.NodeID != "" && j.NodeID != filter.NodeID {
			continue
		}
		cp := *j
		out = append(out, &cp)
	}
	sortJobs(out)
	return repository.Slice(out, page), nil
}

func sortJobs(jobs []*job.Job) {
	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
		}
		return jobs[i].ID < jobs[j].ID
	})
}

func (q *MockQueueRepository) ListStale(ctx context.Context, claimedBefore time.Time) ([]*job.Job, error) {
	m := q.store
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure("ListStale"); err != nil {
		return nil, err
	}
	var out []*job.Job
	for _, j := range m.jobs {
		if j.Status == job.StatusProcessing && j.ClaimedAt != nil && j.ClaimedAt.Before(claimedBefore) {
			cp := *j
			out = append(out, &cp)
		}
	}
	sortJobs(out)
	return out, nil
}

func (q *MockQueueRepository) DeleteCompleted(ctx context.Context, olderThan time.Time) (int64, error) {
	m := q.store
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("DeleteCompleted"); err != nil {
		return 0, err
	}
	var deleted int64
	for id, j := range m.jobs {
		if j.Status != job.StatusComplete {
			continue
		}
		settled := j.CreatedAt
		if j.ProcessedAt != nil {
			settled = *j.ProcessedAt
		}
		if settled.Before(olderThan) {
			delete(m.jobs, id)
			deleted++
		}
	}
	return deleted, nil
}

func (q *MockQueueRepository) CountByStatus(ctx context.Context) (job.Stats, error) {
	m := q.store
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure("CountByStatus"); err != nil {
		return job.Stats{}, err
	}
	var s job.Stats
	for _, j := range m.jobs {
		switch j.Status {
		case job.StatusPending:
			s.Pending++
		case job.StatusProcessing:
			s.Processing++
		case job.StatusComplete:
			s.Complete++
		case job.StatusFailed:
			s.Failed++
		}
	}
	return s, nil
}

// ---- audit facet ----

// MockAuditRepository implements repository.AuditRepository over the
// shared store.
type MockAuditRepository struct {
	store *MockRepository
}

func (a *MockAuditRepository) Record(ctx context.Context, entries ...audit.Entry) error {
	m := a.store
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("Record"); err != nil {
		return err
	}
	m.audits = append(m.audits, entries...)
	return nil
}

func (a *MockAuditRepository) ListForNode(ctx context.Context, nodeID string, page repository.Page) (*repository.PaginatedResult[audit.Entry], error) {
	m := a.store
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure("AuditListForNode"); err != nil {
		return nil, err
	}
	var out []audit.Entry
	for _, e := range m.audits {
		if e.NodeID == nodeID {
			out = append(out, e)
		}
	}
	sortAudits(out)
	return repository.Slice(out, page), nil
}

func (a *MockAuditRepository) ListRecent(ctx context.Context, page repository.Page) (*repository.PaginatedResult[audit.Entry], error) {
	m := a.store
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure("ListRecent"); err != nil {
		return nil, err
	}
	out := append([]audit.Entry(nil), m.audits...)
	sortAudits(out)
	return repository.Slice(out, page), nil
}

func sortAudits(entries []audit.Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].ChangedAt.After(entries[j].ChangedAt)
	})
}

// AuditEntries returns a copy of everything recorded, for assertions.
func (m *MockRepository) AuditEntries() []audit.Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]audit.Entry(nil), m.audits...)
}

// ---- helpers ----

func nodeNotFound(id string) error {
	return apperrors.NotFound(apperrors.CodeNodeNotFound, "node not found").
		WithContext("nodeId", id).Build()
}

func jobNotFound(id string) error {
	return apperrors.NotFound(apperrors.CodeResourceNotFound, "job not found").
		WithContext("jobId", id).Build()
}
