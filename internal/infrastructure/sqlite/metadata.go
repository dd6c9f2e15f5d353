package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"curio-backend/internal/domain/metadata"
	"curio-backend/internal/domain/node"
	apperrors "curio-backend/internal/errors"
	"curio-backend/internal/repository"
)

// MetadataRepository is the SQLite-backed typed-tag registry. Usage
// counts move in the same transaction as the link change.
type MetadataRepository struct {
	store *Store
}

func NewMetadataRepository(store *Store) *MetadataRepository {
	return &MetadataRepository{store: store}
}

var _ repository.MetadataRepository = (*MetadataRepository)(nil)

const registryColumns = `id, type, code, display_name, description, usage_count, created_at, updated_at`

func scanRegistryEntry(row rowScanner) (*metadata.RegistryEntry, error) {
	var e metadata.RegistryEntry
	err := row.Scan(&e.ID, &e.Type, &e.Code, &e.DisplayName, &e.Description,
		&e.UsageCount, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *MetadataRepository) UpsertRegistryEntry(ctx context.Context, typ, code, displayName string) (*metadata.RegistryEntry, error) {
	var entry *metadata.RegistryEntry
	err := r.store.WithTransaction(ctx, func(ctx context.Context) error {
		var err error
		entry, err = r.upsertEntry(ctx, r.store.write(ctx), typ, code, displayName)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// upsertEntry creates the (type, code) entry on first reference. An
// existing entry only ever gains a display name it was missing; later
// assertions never overwrite one already stored.
func (r *MetadataRepository) upsertEntry(ctx context.Context, w dbtx, typ, code, displayName string) (*metadata.RegistryEntry, error) {
	now := time.Now().UTC()
	if _, err := w.ExecContext(ctx, `
INSERT INTO metadata_code_registry (type, code, display_name, usage_count, created_at, updated_at)
VALUES (?, ?, ?, 0, ?, ?)
ON CONFLICT (type, code) DO UPDATE SET
	display_name = excluded.display_name,
	updated_at   = excluded.updated_at
WHERE metadata_code_registry.display_name = '' AND excluded.display_name != ''`,
		typ, code, displayName, now, now); err != nil {
		return nil, storeErr("metadata.upsert", err)
	}
	entry, err := scanRegistryEntry(w.QueryRowContext(ctx,
		`SELECT `+registryColumns+` FROM metadata_code_registry WHERE type = ? AND code = ?`,
		typ, code))
	if err != nil {
		return nil, storeErr("metadata.upsert", err)
	}
	return entry, nil
}

func (r *MetadataRepository) GetRegistryEntry(ctx context.Context, typ, code string) (*metadata.RegistryEntry, error) {
	entry, err := scanRegistryEntry(r.store.read(ctx).QueryRowContext(ctx,
		`SELECT `+registryColumns+` FROM metadata_code_registry WHERE type = ? AND code = ?`,
		typ, code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound(apperrors.CodeResourceNotFound, "registry entry not found").
			WithContext("type", typ).
			WithContext("code", code).Build()
	}
	if err != nil {
		return nil, storeErr("metadata.get", err)
	}
	return entry, nil
}

func (r *MetadataRepository) ListRegistryEntries(ctx context.Context, typ string) ([]*metadata.RegistryEntry, error) {
	query := `SELECT ` + registryColumns + ` FROM metadata_code_registry`
	var args []any
	if typ != "" {
		query += ` WHERE type = ?`
		args = append(args, typ)
	}
	query += ` ORDER BY usage_count DESC, code ASC`

	rows, err := r.store.read(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("metadata.list", err)
	}
	defer rows.Close()

	var out []*metadata.RegistryEntry
	for rows.Next() {
		e, err := scanRegistryEntry(rows)
		if err != nil {
			return nil, storeErr("metadata.list", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("metadata.list", err)
	}
	return out, nil
}

func (r *MetadataRepository) SetNodeMetadata(ctx context.Context, nodeID node.ID, source metadata.Source, codes []metadata.Code) error {
	return r.store.WithTransaction(ctx, func(ctx context.Context) error {
		w := r.store.write(ctx)
		// Drop this source's existing links, returning their usage.
		if _, err := w.ExecContext(ctx, `
UPDATE metadata_code_registry
SET usage_count = MAX(0, usage_count - 1), updated_at = ?
WHERE id IN (SELECT registry_id FROM node_metadata WHERE node_id = ? AND source = ?)`,
			time.Now().UTC(), nodeID.String(), string(source)); err != nil {
			return storeErr("metadata.set", err)
		}
		if _, err := w.ExecContext(ctx,
			`DELETE FROM node_metadata WHERE node_id = ? AND source = ?`,
			nodeID.String(), string(source)); err != nil {
			return storeErr("metadata.set", err)
		}
		return r.attach(ctx, w, nodeID.String(), source, codes, false)
	})
}

func (r *MetadataRepository) AddNodeMetadata(ctx context.Context, nodeID node.ID, codes []metadata.Code) error {
	return r.store.WithTransaction(ctx, func(ctx context.Context) error {
		return r.attach(ctx, r.store.write(ctx), nodeID.String(), "", codes, true)
	})
}

// attach links codes to a node, creating registry entries on first
// reference. A (node, entry) pair is linked at most once: with
// skipExisting an existing pair keeps its original row, otherwise it
// takes the new confidence and source.
func (r *MetadataRepository) attach(ctx context.Context, w dbtx, nodeID string, source metadata.Source, codes []metadata.Code, skipExisting bool) error {
	for _, c := range codes {
		entry, err := r.upsertEntry(ctx, w, c.Type, c.Code, c.DisplayName)
		if err != nil {
			return err
		}
		src := c.Source
		if source != "" {
			src = source
		}

		var linkID int64
		err = w.QueryRowContext(ctx,
			`SELECT id FROM node_metadata WHERE node_id = ? AND registry_id = ?`,
			nodeID, entry.ID).Scan(&linkID)
		switch {
		case err == nil:
			if skipExisting {
				continue
			}
			if _, err := w.ExecContext(ctx,
				`UPDATE node_metadata SET confidence = ?, source = ? WHERE id = ?`,
				c.Confidence, string(src), linkID); err != nil {
				return storeErr("metadata.attach", err)
			}
		case errors.Is(err, sql.ErrNoRows):
			if _, err := w.ExecContext(ctx, `
INSERT INTO node_metadata (node_id, registry_id, confidence, source, created_at)
VALUES (?, ?, ?, ?, ?)`,
				nodeID, entry.ID, c.Confidence, string(src), time.Now().UTC()); err != nil {
				return storeErr("metadata.attach", err)
			}
			if _, err := w.ExecContext(ctx,
				`UPDATE metadata_code_registry SET usage_count = usage_count + 1, updated_at = ? WHERE id = ?`,
				time.Now().UTC(), entry.ID); err != nil {
				return storeErr("metadata.attach", err)
			}
		default:
			return storeErr("metadata.attach", err)
		}
	}
	return nil
}

func (r *MetadataRepository) GetNodeMetadata(ctx context.Context, nodeID node.ID) ([]repository.NodeMetadata, error) {
	rows, err := r.store.read(ctx).QueryContext(ctx, `
SELECT r.id, r.type, r.code, r.display_name, r.description, r.usage_count, r.created_at, r.updated_at,
	nm.confidence, nm.source
FROM node_metadata nm
JOIN metadata_code_registry r ON r.id = nm.registry_id
WHERE nm.node_id = ?
ORDER BY r.type ASC, r.code ASC`, nodeID.String())
	if err != nil {
		return nil, storeErr("metadata.forNode", err)
	}
	defer rows.Close()

	var out []repository.NodeMetadata
	for rows.Next() {
		var m repository.NodeMetadata
		var src string
		if err := rows.Scan(
			&m.Entry.ID, &m.Entry.Type, &m.Entry.Code, &m.Entry.DisplayName, &m.Entry.Description,
			&m.Entry.UsageCount, &m.Entry.CreatedAt, &m.Entry.UpdatedAt,
			&m.Confidence, &src,
		); err != nil {
			return nil, storeErr("metadata.forNode", err)
		}
		m.Source = metadata.Source(src)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("metadata.forNode", err)
	}
	return out, nil
}
