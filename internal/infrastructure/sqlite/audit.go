package sqlite

import (
	"context"
	"database/sql"

	"curio-backend/internal/domain/audit"
	"curio-backend/internal/repository"
)

// AuditRepository is the append-only SQLite history of hierarchy
// changes.
type AuditRepository struct {
	store *Store
}

func NewAuditRepository(store *Store) *AuditRepository {
	return &AuditRepository{store: store}
}

var _ repository.AuditRepository = (*AuditRepository)(nil)

const auditColumns = `id, node_id, hierarchy_type, old_code, new_code,
	change_type, triggered_by, reason, related_node_ids, metadata, changed_at`

func (r *AuditRepository) Record(ctx context.Context, entries ...audit.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	return r.store.WithTransaction(ctx, func(ctx context.Context) error {
		w := r.store.write(ctx)
		for _, e := range entries {
			meta, err := encodeObject(e.Metadata)
			if err != nil {
				return err
			}
			if _, err := w.ExecContext(ctx, `
INSERT INTO hierarchy_audit_log (
	id, node_id, hierarchy_type, old_code, new_code,
	change_type, triggered_by, reason, related_node_ids, metadata, changed_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				e.ID, e.NodeID, e.HierarchyType, e.OldCode, e.NewCode,
				string(e.ChangeType), string(e.TriggeredBy), e.Reason,
				encodeStrings(e.RelatedNodeIDs), meta, e.ChangedAt.UTC()); err != nil {
				return storeErr("audit.record", err)
			}
		}
		return nil
	})
}

func (r *AuditRepository) ListForNode(ctx context.Context, nodeID string, page repository.Page) (*repository.PaginatedResult[audit.Entry], error) {
	return r.list(ctx, "node_id = ?", []any{nodeID}, page)
}

func (r *AuditRepository) ListRecent(ctx context.Context, page repository.Page) (*repository.PaginatedResult[audit.Entry], error) {
	return r.list(ctx, "", nil, page)
}

func (r *AuditRepository) list(ctx context.Context, cond string, args []any, page repository.Page) (*repository.PaginatedResult[audit.Entry], error) {
	where := ""
	if cond != "" {
		where = " WHERE " + cond
	}
	p := page.Clamped()

	var total int
	if err := r.store.read(ctx).QueryRowContext(ctx,
		`SELECT COUNT(1) FROM hierarchy_audit_log`+where, args...).Scan(&total); err != nil {
		return nil, storeErr("audit.list", err)
	}

	rows, err := r.store.read(ctx).QueryContext(ctx,
		`SELECT `+auditColumns+` FROM hierarchy_audit_log`+where+`
		 ORDER BY changed_at DESC, rowid ASC LIMIT ? OFFSET ?`,
		append(append([]any{}, args...), p.Limit, p.Offset())...)
	if err != nil {
		return nil, storeErr("audit.list", err)
	}
	defer rows.Close()

	items := []audit.Entry{}
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("audit.list", err)
	}
	return repository.NewPaginatedResult(items, p, total), nil
}

func scanAuditEntry(rows *sql.Rows) (audit.Entry, error) {
	var e audit.Entry
	var change, trigger, related, meta string
	if err := rows.Scan(
		&e.ID, &e.NodeID, &e.HierarchyType, &e.OldCode, &e.NewCode,
		&change, &trigger, &e.Reason, &related, &meta, &e.ChangedAt,
	); err != nil {
		return audit.Entry{}, storeErr("audit.scan", err)
	}
	e.ChangeType = audit.ChangeType(change)
	e.TriggeredBy = audit.TriggeredBy(trigger)

	var err error
	if e.RelatedNodeIDs, err = decodeStrings(related); err != nil {
		return audit.Entry{}, err
	}
	if e.Metadata, err = decodeObject(meta); err != nil {
		return audit.Entry{}, err
	}
	return e, nil
}
