package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"curio-backend/internal/domain/node"
	apperrors "curio-backend/internal/errors"
	"curio-backend/internal/repository"
)

// NodeRepository is the SQLite-backed node store. It keeps the FTS
// index in step with the nodes table inside the same transaction, so
// search never observes a half-written node.
type NodeRepository struct {
	store *Store
}

func NewNodeRepository(store *Store) *NodeRepository {
	return &NodeRepository{store: store}
}

var _ repository.NodeRepository = (*NodeRepository)(nil)

const nodeColumns = `n.id, n.title, n.url, n.source_domain, n.company,
	n.segment_code, n.category_code, n.content_type_code, n.organization, n.confidence,
	n.function_hierarchy_code, n.organization_hierarchy_code,
	n.function_parent_id, n.organization_parent_id,
	n.extracted_fields, n.metadata_tags, n.key_concepts,
	n.short_description, n.phrase_description, n.ai_summary, n.descriptor, n.logo_url,
	n.is_deleted, n.date_added, n.created_at, n.updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (*node.Node, error) {
	var n node.Node
	var id, extracted, tags, concepts string
	err := row.Scan(
		&id, &n.Title, &n.URL, &n.SourceDomain, &n.Company,
		&n.SegmentCode, &n.CategoryCode, &n.ContentTypeCode, &n.Organization, &n.Confidence,
		&n.FunctionHierarchyCode, &n.OrganizationHierarchyCode,
		&n.FunctionParentID, &n.OrganizationParentID,
		&extracted, &tags, &concepts,
		&n.ShortDescription, &n.PhraseDescription, &n.AISummary, &n.Descriptor, &n.LogoURL,
		&n.IsDeleted, &n.DateAdded, &n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	n.ID, err = node.ParseID(id)
	if err != nil {
		return nil, err
	}
	if n.ExtractedFields, err = decodeObject(extracted); err != nil {
		return nil, err
	}
	if n.MetadataTags, err = decodeStrings(tags); err != nil {
		return nil, err
	}
	if n.KeyConcepts, err = decodeStrings(concepts); err != nil {
		return nil, err
	}
	return &n, nil
}

func nodeArgs(n *node.Node) ([]any, error) {
	extracted, err := encodeObject(n.ExtractedFields)
	if err != nil {
		return nil, err
	}
	return []any{
		n.ID.String(), n.Title, n.URL, n.SourceDomain, n.Company,
		n.SegmentCode, n.CategoryCode, n.ContentTypeCode, n.Organization, n.Confidence,
		n.FunctionHierarchyCode, n.OrganizationHierarchyCode,
		n.FunctionParentID, n.OrganizationParentID,
		extracted, encodeStrings(n.MetadataTags), encodeStrings(n.KeyConcepts),
		n.ShortDescription, n.PhraseDescription, n.AISummary, n.Descriptor, n.LogoURL,
		n.IsDeleted, n.DateAdded.UTC(), n.CreatedAt.UTC(), n.UpdatedAt.UTC(),
	}, nil
}

func encodeStrings(ss []string) string {
	if len(ss) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(ss)
	return string(b)
}

func decodeStrings(s string) ([]string, error) {
	if s == "" || s == "[]" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, apperrors.Internal(apperrors.CodeDatabaseQueryError, "corrupt stored list").
			WithCause(err).Build()
	}
	return out, nil
}

func encodeObject(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", apperrors.Internal(apperrors.CodeInvalidInput, "unencodable extracted fields").
			WithCause(err).Build()
	}
	return string(b), nil
}

func decodeObject(s string) (map[string]any, error) {
	if s == "" || s == "{}" {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, apperrors.Internal(apperrors.CodeDatabaseQueryError, "corrupt stored object").
			WithCause(err).Build()
	}
	return out, nil
}

func nodeNotFound(id string) error {
	return apperrors.NotFound(apperrors.CodeNodeNotFound, "node not found").
		WithContext("nodeId", id).Build()
}

// ---- writes ----

func (r *NodeRepository) Create(ctx context.Context, n *node.Node) error {
	if err := n.Validate(); err != nil {
		return err
	}
	args, err := nodeArgs(n)
	if err != nil {
		return err
	}
	return r.store.WithTransaction(ctx, func(ctx context.Context) error {
		w := r.store.write(ctx)
		var live int
		if err := w.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM nodes WHERE url = ? AND is_deleted = 0`, n.URL).Scan(&live); err != nil {
			return storeErr("nodes.create", err)
		}
		if live > 0 {
			return apperrors.Conflict(apperrors.CodeDuplicateEntry, "canonical URL already stored").
				WithContext("url", n.URL).Build()
		}
		if _, err := w.ExecContext(ctx, `
INSERT INTO nodes (
	id, title, url, source_domain, company,
	segment_code, category_code, content_type_code, organization, confidence,
	function_hierarchy_code, organization_hierarchy_code,
	function_parent_id, organization_parent_id,
	extracted_fields, metadata_tags, key_concepts,
	short_description, phrase_description, ai_summary, descriptor, logo_url,
	is_deleted, date_added, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			args...); err != nil {
			return storeErr("nodes.create", err)
		}
		return r.insertFTS(ctx, w, n.ID.String())
	})
}

func (r *NodeRepository) Update(ctx context.Context, n *node.Node) error {
	if err := n.Validate(); err != nil {
		return err
	}
	args, err := nodeArgs(n)
	if err != nil {
		return err
	}
	return r.store.WithTransaction(ctx, func(ctx context.Context) error {
		w := r.store.write(ctx)
		if err := r.deleteFTS(ctx, w, n.ID.String()); err != nil {
			return err
		}
		res, err := w.ExecContext(ctx, `
UPDATE nodes SET
	title = ?2, url = ?3, source_domain = ?4, company = ?5,
	segment_code = ?6, category_code = ?7, content_type_code = ?8, organization = ?9, confidence = ?10,
	function_hierarchy_code = ?11, organization_hierarchy_code = ?12,
	function_parent_id = ?13, organization_parent_id = ?14,
	extracted_fields = ?15, metadata_tags = ?16, key_concepts = ?17,
	short_description = ?18, phrase_description = ?19, ai_summary = ?20, descriptor = ?21, logo_url = ?22,
	is_deleted = ?23, date_added = ?24, created_at = ?25, updated_at = ?26
WHERE id = ?1 AND is_deleted = 0`,
			args...)
		if err != nil {
			return storeErr("nodes.update", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return storeErr("nodes.update", err)
		}
		if affected == 0 {
			return nodeNotFound(n.ID.String())
		}
		return r.insertFTS(ctx, w, n.ID.String())
	})
}

func (r *NodeRepository) SoftDelete(ctx context.Context, id node.ID) error {
	return r.store.WithTransaction(ctx, func(ctx context.Context) error {
		w := r.store.write(ctx)
		if err := r.deleteFTS(ctx, w, id.String()); err != nil {
			return err
		}
		res, err := w.ExecContext(ctx,
			`UPDATE nodes SET is_deleted = 1, updated_at = ? WHERE id = ? AND is_deleted = 0`,
			time.Now().UTC(), id.String())
		if err != nil {
			return storeErr("nodes.softDelete", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return storeErr("nodes.softDelete", err)
		}
		if affected == 0 {
			return nodeNotFound(id.String())
		}
		// Release the node's metadata links and give back their usage.
		if _, err := w.ExecContext(ctx, `
UPDATE metadata_code_registry
SET usage_count = MAX(0, usage_count - 1), updated_at = ?
WHERE id IN (SELECT registry_id FROM node_metadata WHERE node_id = ?)`,
			time.Now().UTC(), id.String()); err != nil {
			return storeErr("nodes.softDelete", err)
		}
		if _, err := w.ExecContext(ctx,
			`DELETE FROM node_metadata WHERE node_id = ?`, id.String()); err != nil {
			return storeErr("nodes.softDelete", err)
		}
		return nil
	})
}

// insertFTS indexes the node's current row. Must run after the nodes
// row is in place within the same transaction.
func (r *NodeRepository) insertFTS(ctx context.Context, w dbtx, id string) error {
	if _, err := w.ExecContext(ctx, `
INSERT INTO nodes_fts (rowid, title, company, source_domain,
	short_description, phrase_description, ai_summary, key_concepts, descriptor)
SELECT rowid, title, company, source_domain,
	short_description, phrase_description, ai_summary, key_concepts, descriptor
FROM nodes WHERE id = ?`, id); err != nil {
		return storeErr("nodes.fts", err)
	}
	return nil
}

// deleteFTS removes the node's index entry using its still-stored old
// values. Must run before the nodes row changes.
func (r *NodeRepository) deleteFTS(ctx context.Context, w dbtx, id string) error {
	if _, err := w.ExecContext(ctx, `
INSERT INTO nodes_fts (nodes_fts, rowid, title, company, source_domain,
	short_description, phrase_description, ai_summary, key_concepts, descriptor)
SELECT 'delete', rowid, title, company, source_domain,
	short_description, phrase_description, ai_summary, key_concepts, descriptor
FROM nodes WHERE id = ? AND is_deleted = 0`, id); err != nil {
		return storeErr("nodes.fts", err)
	}
	return nil
}

// ---- reads ----

func (r *NodeRepository) Get(ctx context.Context, id node.ID) (*node.Node, error) {
	row := r.store.read(ctx).QueryRowContext(ctx,
		`SELECT `+nodeColumns+` FROM nodes n WHERE n.id = ? AND n.is_deleted = 0`, id.String())
	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nodeNotFound(id.String())
	}
	if err != nil {
		return nil, storeErr("nodes.get", err)
	}
	return n, nil
}

func (r *NodeRepository) GetByURL(ctx context.Context, canonicalURL string) (*node.Node, error) {
	row := r.store.read(ctx).QueryRowContext(ctx,
		`SELECT `+nodeColumns+` FROM nodes n WHERE n.url = ? AND n.is_deleted = 0`, canonicalURL)
	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound(apperrors.CodeNodeNotFound, "no node for URL").
			WithContext("url", canonicalURL).Build()
	}
	if err != nil {
		return nil, storeErr("nodes.getByURL", err)
	}
	return n, nil
}

func filterWhere(f repository.NodeFilter) ([]string, []any) {
	conds := []string{"n.is_deleted = 0"}
	var args []any
	if f.Segment != "" {
		conds = append(conds, "n.segment_code = ?")
		args = append(args, f.Segment)
	}
	if f.Category != "" {
		conds = append(conds, "n.category_code = ?")
		args = append(args, f.Category)
	}
	if f.ContentType != "" {
		conds = append(conds, "n.content_type_code = ?")
		args = append(args, f.ContentType)
	}
	if f.Organization != "" {
		conds = append(conds, "n.organization = ?")
		args = append(args, f.Organization)
	}
	if f.Company != "" {
		conds = append(conds, "n.company = ? COLLATE NOCASE")
		args = append(args, f.Company)
	}
	if f.Domain != "" {
		conds = append(conds, "n.source_domain = ?")
		args = append(args, strings.ToLower(f.Domain))
	}
	return conds, args
}

func (r *NodeRepository) ListPaginated(ctx context.Context, filter repository.NodeFilter, page repository.Page) (*repository.PaginatedResult[*node.Node], error) {
	conds, args := filterWhere(filter)
	where := strings.Join(conds, " AND ")
	p := page.Clamped()

	var total int
	if err := r.store.read(ctx).QueryRowContext(ctx,
		`SELECT COUNT(1) FROM nodes n WHERE `+where, args...).Scan(&total); err != nil {
		return nil, storeErr("nodes.list", err)
	}

	rows, err := r.store.read(ctx).QueryContext(ctx,
		`SELECT `+nodeColumns+` FROM nodes n WHERE `+where+`
		 ORDER BY n.date_added DESC, n.id ASC LIMIT ? OFFSET ?`,
		append(args, p.Limit, p.Offset())...)
	if err != nil {
		return nil, storeErr("nodes.list", err)
	}
	items, err := collectNodes(rows)
	if err != nil {
		return nil, err
	}
	return repository.NewPaginatedResult(items, p, total), nil
}

func (r *NodeRepository) ListAll(ctx context.Context, filter repository.NodeFilter) ([]*node.Node, error) {
	conds, args := filterWhere(filter)
	rows, err := r.store.read(ctx).QueryContext(ctx,
		`SELECT `+nodeColumns+` FROM nodes n WHERE `+strings.Join(conds, " AND ")+`
		 ORDER BY n.date_added DESC, n.id ASC`, args...)
	if err != nil {
		return nil, storeErr("nodes.listAll", err)
	}
	return collectNodes(rows)
}

func collectNodes(rows *sql.Rows) ([]*node.Node, error) {
	defer rows.Close()
	var out []*node.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, storeErr("nodes.scan", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("nodes.scan", err)
	}
	return out, nil
}

// ---- search ----

// searchWhere renders every non-text predicate of the query.
func searchWhere(q repository.SearchQuery) ([]string, []any) {
	conds, args := filterWhere(q.Filter)
	if q.HasMetadata != nil {
		if *q.HasMetadata {
			conds = append(conds, "n.ai_summary != ''")
		} else {
			conds = append(conds, "n.ai_summary = ''")
		}
	}
	if q.AddedAfter != nil {
		conds = append(conds, "n.date_added >= ?")
		args = append(args, q.AddedAfter.UTC())
	}
	if q.AddedBefore != nil {
		conds = append(conds, "n.date_added < ?")
		args = append(args, q.AddedBefore.UTC())
	}
	for _, tag := range q.Tags {
		conds = append(conds, `EXISTS (
			SELECT 1 FROM json_each(n.metadata_tags) je WHERE je.value = ? COLLATE NOCASE)`)
		args = append(args, tag)
	}
	return conds, args
}

// ftsQuery quotes each token so user text can never inject FTS5
// operators; tokens are implicitly AND-ed.
func ftsQuery(text string) string {
	fields := strings.Fields(text)
	quoted := make([]string, 0, len(fields))
	for _, f := range fields {
		quoted = append(quoted, `"`+strings.ReplaceAll(f, `"`, `""`)+`"`)
	}
	return strings.Join(quoted, " ")
}

func orderBy(s repository.SortOrder, fts bool) string {
	switch s {
	case repository.SortDateAddedAsc:
		return "n.date_added ASC, n.id ASC"
	case repository.SortTitleAsc:
		return "n.title COLLATE NOCASE ASC, n.id ASC"
	case repository.SortRelevance:
		if fts {
			return "bm25(nodes_fts), n.id ASC"
		}
		return "n.date_added DESC, n.id ASC"
	case "", repository.SortDateAddedDesc:
		if s == "" && fts {
			return "bm25(nodes_fts), n.id ASC"
		}
		return "n.date_added DESC, n.id ASC"
	default:
		return "n.date_added DESC, n.id ASC"
	}
}

type searchSQL struct {
	from  string
	where string
	order string
	args  []any
}

func buildSearch(q repository.SearchQuery) searchSQL {
	conds, args := searchWhere(q)
	text := strings.TrimSpace(q.Text)
	fts := text != ""

	out := searchSQL{
		from:  "nodes n",
		order: orderBy(q.Sort, fts),
	}
	if fts {
		out.from = "nodes_fts JOIN nodes n ON n.rowid = nodes_fts.rowid"
		conds = append([]string{"nodes_fts MATCH ?"}, conds...)
		args = append([]any{ftsQuery(text)}, args...)
	}
	out.where = strings.Join(conds, " AND ")
	out.args = args
	return out
}

func (r *NodeRepository) KeywordSearch(ctx context.Context, q repository.SearchQuery) (*repository.PaginatedResult[*node.Node], error) {
	s := buildSearch(q)
	p := q.Page.Clamped()

	var total int
	if err := r.store.read(ctx).QueryRowContext(ctx,
		`SELECT COUNT(1) FROM `+s.from+` WHERE `+s.where, s.args...).Scan(&total); err != nil {
		return nil, storeErr("nodes.search", err)
	}

	rows, err := r.store.read(ctx).QueryContext(ctx,
		`SELECT `+nodeColumns+` FROM `+s.from+` WHERE `+s.where+`
		 ORDER BY `+s.order+` LIMIT ? OFFSET ?`,
		append(append([]any{}, s.args...), p.Limit, p.Offset())...)
	if err != nil {
		return nil, storeErr("nodes.search", err)
	}
	items, err := collectNodes(rows)
	if err != nil {
		return nil, err
	}
	return repository.NewPaginatedResult(items, p, total), nil
}

func (r *NodeRepository) AdvancedSearch(ctx context.Context, q repository.SearchQuery) (*repository.SearchResult, error) {
	pageResult, err := r.KeywordSearch(ctx, q)
	if err != nil {
		return nil, err
	}

	s := buildSearch(q)
	rows, err := r.store.read(ctx).QueryContext(ctx, `
SELECT n.segment_code, n.category_code, n.content_type_code, n.organization, COUNT(1)
FROM `+s.from+` WHERE `+s.where+`
GROUP BY n.segment_code, n.category_code, n.content_type_code, n.organization`,
		s.args...)
	if err != nil {
		return nil, storeErr("nodes.facets", err)
	}
	defer rows.Close()

	facets := repository.Facets{
		Segments:      map[string]int{},
		Categories:    map[string]int{},
		ContentTypes:  map[string]int{},
		Organizations: map[string]int{},
	}
	for rows.Next() {
		var seg, cat, ct, org string
		var count int
		if err := rows.Scan(&seg, &cat, &ct, &org, &count); err != nil {
			return nil, storeErr("nodes.facets", err)
		}
		facets.Segments[seg] += count
		facets.Categories[cat] += count
		facets.ContentTypes[ct] += count
		facets.Organizations[org] += count
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("nodes.facets", err)
	}
	trimOrganizationFacet(facets.Organizations, 10)

	return &repository.SearchResult{
		PaginatedResult: *pageResult,
		Facets:          facets,
	}, nil
}

func trimOrganizationFacet(counts map[string]int, keep int) {
	if len(counts) <= keep {
		return
	}
	type kv struct {
		code  string
		count int
	}
	ranked := make([]kv, 0, len(counts))
	for code, count := range counts {
		ranked = append(ranked, kv{code, count})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].code < ranked[j].code
	})
	for _, e := range ranked[keep:] {
		delete(counts, e.code)
	}
}

// ---- hierarchy ----

func codeColumn(view node.View) string {
	if view == node.ViewOrganization {
		return "organization_hierarchy_code"
	}
	return "function_hierarchy_code"
}

func (r *NodeRepository) GetSubtree(ctx context.Context, view node.View, prefix string) ([]*node.Node, error) {
	col := "n." + codeColumn(view)
	query := `SELECT ` + nodeColumns + ` FROM nodes n
		WHERE n.is_deleted = 0 AND ` + col + ` != ''`
	var args []any
	if prefix != "" {
		// GLOB keeps '_' literal, which LIKE would treat as a wildcard;
		// organization codes may contain underscores.
		query += ` AND (` + col + ` = ? OR ` + col + ` GLOB ?)`
		args = append(args, prefix, prefix+".*")
	}
	query += ` ORDER BY ` + col + ` ASC`

	rows, err := r.store.read(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("nodes.subtree", err)
	}
	return collectNodes(rows)
}

func (r *NodeRepository) GetAncestry(ctx context.Context, view node.View, id node.ID) ([]*node.Node, error) {
	self, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	var chain []*node.Node
	for p := node.ParentPath(self.HierarchyCode(view)); p != ""; p = node.ParentPath(p) {
		at, err := r.GetNodeByHierarchyCode(ctx, view, p)
		if apperrors.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		chain = append(chain, at)
	}
	// Collected child-up; return root-first ending with the node.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return append(chain, self), nil
}

func (r *NodeRepository) GetNodeByHierarchyCode(ctx context.Context, view node.View, code string) (*node.Node, error) {
	row := r.store.read(ctx).QueryRowContext(ctx,
		`SELECT `+nodeColumns+` FROM nodes n
		 WHERE n.is_deleted = 0 AND n.`+codeColumn(view)+` = ?`, code)
	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound(apperrors.CodeNodeNotFound, "no node at code").
			WithContext("view", view.String()).
			WithContext("code", code).Build()
	}
	if err != nil {
		return nil, storeErr("nodes.byCode", err)
	}
	return n, nil
}

func (r *NodeRepository) ApplyCodeMutations(ctx context.Context, view node.View, muts []node.CodeMutation) error {
	if len(muts) == 0 {
		return nil
	}
	col := codeColumn(view)
	return r.store.WithTransaction(ctx, func(ctx context.Context) error {
		w := r.store.write(ctx)

		// Validate the full batch before touching anything.
		for _, mut := range muts {
			var current string
			err := w.QueryRowContext(ctx,
				`SELECT `+col+` FROM nodes WHERE id = ? AND is_deleted = 0`,
				mut.NodeID).Scan(&current)
			if errors.Is(err, sql.ErrNoRows) {
				return nodeNotFound(mut.NodeID)
			}
			if err != nil {
				return storeErr("nodes.mutate", err)
			}
			if current != mut.OldCode {
				return apperrors.Conflict(apperrors.CodeDatabaseConstraintViolation, "stale mutation").
					WithContext("nodeId", mut.NodeID).
					WithContext("expected", mut.OldCode).
					WithContext("actual", current).Build()
			}
			if !node.ValidHierarchyCode(mut.NewCode) {
				return apperrors.Internal(apperrors.CodeInternalError, "malformed hierarchy code").
					WithContext("nodeId", mut.NodeID).
					WithContext("code", mut.NewCode).Build()
			}
		}

		// Park every moving node on a placeholder first so the unique
		// index never sees two nodes at one code mid-shuffle.
		for _, mut := range muts {
			if _, err := w.ExecContext(ctx,
				`UPDATE nodes SET `+col+` = '~' || id WHERE id = ?`, mut.NodeID); err != nil {
				return storeErr("nodes.mutate", err)
			}
		}
		now := time.Now().UTC()
		for _, mut := range muts {
			if _, err := w.ExecContext(ctx,
				`UPDATE nodes SET `+col+` = ?, updated_at = ? WHERE id = ?`,
				mut.NewCode, now, mut.NodeID); err != nil {
				return storeErr("nodes.mutate", err)
			}
		}
		return nil
	})
}
