package sqlite

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	apperrors "curio-backend/internal/errors"
)

// Migration is one schema step. Up and Down are complete SQL scripts;
// each migration runs in its own transaction and is recorded in
// _migrations, so re-running Migrate is a no-op.
type Migration struct {
	ID   int
	Name string
	Up   string
	Down string
}

var migrations = []Migration{
	{
		ID:   1,
		Name: "create_nodes",
		Up: `
CREATE TABLE nodes (
	id                          TEXT PRIMARY KEY,
	title                       TEXT NOT NULL,
	url                         TEXT NOT NULL,
	source_domain               TEXT NOT NULL DEFAULT '',
	company                     TEXT NOT NULL DEFAULT '',
	segment_code                TEXT NOT NULL,
	category_code               TEXT NOT NULL,
	content_type_code           TEXT NOT NULL,
	organization                TEXT NOT NULL,
	confidence                  REAL NOT NULL DEFAULT 0,
	function_hierarchy_code     TEXT NOT NULL DEFAULT '',
	organization_hierarchy_code TEXT NOT NULL DEFAULT '',
	function_parent_id          TEXT NOT NULL DEFAULT '',
	organization_parent_id      TEXT NOT NULL DEFAULT '',
	extracted_fields            TEXT NOT NULL DEFAULT '{}',
	metadata_tags               TEXT NOT NULL DEFAULT '[]',
	key_concepts                TEXT NOT NULL DEFAULT '[]',
	short_description           TEXT NOT NULL DEFAULT '',
	phrase_description          TEXT NOT NULL DEFAULT '',
	ai_summary                  TEXT NOT NULL DEFAULT '',
	descriptor                  TEXT NOT NULL DEFAULT '',
	logo_url                    TEXT NOT NULL DEFAULT '',
	is_deleted                  INTEGER NOT NULL DEFAULT 0,
	date_added                  TIMESTAMP NOT NULL,
	created_at                  TIMESTAMP NOT NULL,
	updated_at                  TIMESTAMP NOT NULL
);
CREATE UNIQUE INDEX idx_nodes_live_url
	ON nodes(url) WHERE is_deleted = 0;
CREATE UNIQUE INDEX idx_nodes_live_function_code
	ON nodes(function_hierarchy_code)
	WHERE is_deleted = 0 AND function_hierarchy_code != '';
CREATE UNIQUE INDEX idx_nodes_live_organization_code
	ON nodes(organization_hierarchy_code)
	WHERE is_deleted = 0 AND organization_hierarchy_code != '';
CREATE INDEX idx_nodes_classification
	ON nodes(segment_code, category_code, content_type_code)
	WHERE is_deleted = 0;
CREATE INDEX idx_nodes_date_added ON nodes(date_added DESC);
`,
		Down: `DROP TABLE nodes;`,
	},
	{
		ID:   2,
		Name: "create_metadata_registry",
		Up: `
CREATE TABLE metadata_code_registry (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	type         TEXT NOT NULL,
	code         TEXT NOT NULL,
	display_name TEXT NOT NULL DEFAULT '',
	description  TEXT NOT NULL DEFAULT '',
	usage_count  INTEGER NOT NULL DEFAULT 0,
	created_at   TIMESTAMP NOT NULL,
	updated_at   TIMESTAMP NOT NULL,
	UNIQUE (type, code)
);
CREATE TABLE node_metadata (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	node_id     TEXT NOT NULL,
	registry_id INTEGER NOT NULL REFERENCES metadata_code_registry(id),
	confidence  REAL NOT NULL DEFAULT 0,
	source      TEXT NOT NULL,
	created_at  TIMESTAMP NOT NULL,
	UNIQUE (node_id, registry_id)
);
CREATE INDEX idx_node_metadata_node ON node_metadata(node_id);
`,
		Down: `
DROP TABLE node_metadata;
DROP TABLE metadata_code_registry;
`,
	},
	{
		ID:   3,
		Name: "create_processing_queue",
		Up: `
CREATE TABLE processing_queue (
	id               TEXT PRIMARY KEY,
	node_id          TEXT NOT NULL,
	phase            TEXT NOT NULL,
	status           TEXT NOT NULL,
	priority         INTEGER NOT NULL DEFAULT 0,
	attempts         INTEGER NOT NULL DEFAULT 0,
	max_attempts     INTEGER NOT NULL DEFAULT 3,
	error_message    TEXT NOT NULL DEFAULT '',
	owner            TEXT NOT NULL DEFAULT '',
	next_eligible_at TIMESTAMP NOT NULL,
	claimed_at       TIMESTAMP,
	created_at       TIMESTAMP NOT NULL,
	processed_at     TIMESTAMP
);
CREATE INDEX idx_queue_claim
	ON processing_queue(status, priority DESC, created_at ASC);
CREATE UNIQUE INDEX idx_queue_live_node_phase
	ON processing_queue(node_id, phase)
	WHERE status IN ('pending', 'processing');
`,
		Down: `DROP TABLE processing_queue;`,
	},
	{
		ID:   4,
		Name: "create_hierarchy_audit_log",
		Up: `
CREATE TABLE hierarchy_audit_log (
	id               TEXT PRIMARY KEY,
	node_id          TEXT NOT NULL,
	hierarchy_type   TEXT NOT NULL,
	old_code         TEXT NOT NULL DEFAULT '',
	new_code         TEXT NOT NULL DEFAULT '',
	change_type      TEXT NOT NULL,
	triggered_by     TEXT NOT NULL,
	reason           TEXT NOT NULL DEFAULT '',
	related_node_ids TEXT NOT NULL DEFAULT '[]',
	metadata         TEXT NOT NULL DEFAULT '{}',
	changed_at       TIMESTAMP NOT NULL
);
CREATE INDEX idx_audit_node ON hierarchy_audit_log(node_id, changed_at DESC);
CREATE INDEX idx_audit_recent ON hierarchy_audit_log(changed_at DESC);
`,
		Down: `DROP TABLE hierarchy_audit_log;`,
	},
	{
		ID:   5,
		Name: "create_nodes_fts",
		Up: `
CREATE VIRTUAL TABLE nodes_fts USING fts5(
	title,
	company,
	source_domain,
	short_description,
	phrase_description,
	ai_summary,
	key_concepts,
	descriptor,
	content='nodes',
	content_rowid='rowid',
	tokenize='porter unicode61'
);
`,
		Down: `DROP TABLE nodes_fts;`,
	},
}

// Migrate applies every unapplied migration in id order. A failing
// migration rolls back alone and aborts the run.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.writer.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS _migrations (
	id         INTEGER PRIMARY KEY,
	name       TEXT NOT NULL,
	applied_at TIMESTAMP NOT NULL
);`); err != nil {
		return storeErr("migrate.init", err)
	}

	applied, err := s.appliedMigrations(ctx)
	if err != nil {
		return err
	}

	ordered := append([]Migration(nil), migrations...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	for _, m := range ordered {
		if applied[m.ID] {
			continue
		}
		if err := s.applyMigration(ctx, m); err != nil {
			return err
		}
		s.logger.Info("migration applied", zap.Int("id", m.ID), zap.String("name", m.Name))
	}
	return nil
}

// MigrateDownTo unwinds applied migrations with id greater than
// target, newest first. MigrateDownTo(ctx, 0) drops everything.
func (s *Store) MigrateDownTo(ctx context.Context, target int) error {
	applied, err := s.appliedMigrations(ctx)
	if err != nil {
		return err
	}

	ordered := append([]Migration(nil), migrations...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID > ordered[j].ID })

	for _, m := range ordered {
		if m.ID <= target || !applied[m.ID] {
			continue
		}
		if err := s.revertMigration(ctx, m); err != nil {
			return err
		}
		s.logger.Info("migration reverted", zap.Int("id", m.ID), zap.String("name", m.Name))
	}
	return nil
}

func (s *Store) appliedMigrations(ctx context.Context) (map[int]bool, error) {
	rows, err := s.writer.QueryContext(ctx, `SELECT id FROM _migrations`)
	if err != nil {
		return nil, storeErr("migrate.applied", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, storeErr("migrate.applied", err)
		}
		applied[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("migrate.applied", err)
	}
	return applied, nil
}

func (s *Store) applyMigration(ctx context.Context, m Migration) error {
	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("migrate.begin", err)
	}
	if _, err := tx.ExecContext(ctx, m.Up); err != nil {
		tx.Rollback()
		return apperrors.Internal(apperrors.CodeDatabaseTransactionError, "migration failed").
			WithContext("id", m.ID).
			WithContext("name", m.Name).
			WithCause(err).Build()
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO _migrations (id, name, applied_at) VALUES (?, ?, ?)`,
		m.ID, m.Name, time.Now().UTC()); err != nil {
		tx.Rollback()
		return storeErr("migrate.record", err)
	}
	if err := tx.Commit(); err != nil {
		return storeErr("migrate.commit", err)
	}
	return nil
}

func (s *Store) revertMigration(ctx context.Context, m Migration) error {
	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("migrate.begin", err)
	}
	if _, err := tx.ExecContext(ctx, m.Down); err != nil {
		tx.Rollback()
		return apperrors.Internal(apperrors.CodeDatabaseTransactionError, "migration rollback failed").
			WithContext("id", m.ID).
			WithContext("name", m.Name).
			WithCause(err).Build()
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM _migrations WHERE id = ?`, m.ID); err != nil {
		tx.Rollback()
		return storeErr("migrate.record", err)
	}
	if err := tx.Commit(); err != nil {
		return storeErr("migrate.commit", err)
	}
	return nil
}
