package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"curio-backend/internal/domain/job"
	apperrors "curio-backend/internal/errors"
	"curio-backend/internal/repository"
)

// QueueRepository is the SQLite-backed durable job queue. The single
// writer connection makes Claim an atomic take without SELECT ... FOR
// UPDATE machinery.
type QueueRepository struct {
	store *Store
}

func NewQueueRepository(store *Store) *QueueRepository {
	return &QueueRepository{store: store}
}

var _ repository.QueueRepository = (*QueueRepository)(nil)

const jobColumns = `id, node_id, phase, status, priority, attempts, max_attempts,
	error_message, owner, next_eligible_at, claimed_at, created_at, processed_at`

func scanJob(row rowScanner) (*job.Job, error) {
	var j job.Job
	var phase, status string
	var claimedAt, processedAt sql.NullTime
	err := row.Scan(
		&j.ID, &j.NodeID, &phase, &status, &j.Priority, &j.Attempts, &j.MaxAttempts,
		&j.ErrorMessage, &j.Owner, &j.NextEligibleAt, &claimedAt, &j.CreatedAt, &processedAt,
	)
	if err != nil {
		return nil, err
	}
	j.Phase = job.Phase(phase)
	j.Status = job.Status(status)
	if claimedAt.Valid {
		t := claimedAt.Time
		j.ClaimedAt = &t
	}
	if processedAt.Valid {
		t := processedAt.Time
		j.ProcessedAt = &t
	}
	return &j, nil
}

func jobNotFound(id string) error {
	return apperrors.NotFound(apperrors.CodeResourceNotFound, "job not found").
		WithContext("jobId", id).Build()
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func (r *QueueRepository) Enqueue(ctx context.Context, j *job.Job) (bool, *job.Job, error) {
	var created bool
	var live *job.Job
	err := r.store.WithTransaction(ctx, func(ctx context.Context) error {
		w := r.store.write(ctx)
		existing, err := scanJob(w.QueryRowContext(ctx,
			`SELECT `+jobColumns+` FROM processing_queue
			 WHERE node_id = ? AND phase = ? AND status IN ('pending', 'processing')`,
			j.NodeID, string(j.Phase)))
		if err == nil {
			live = existing
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return storeErr("queue.enqueue", err)
		}
		// Replace any settled job for the pair.
		if _, err := w.ExecContext(ctx,
			`DELETE FROM processing_queue WHERE node_id = ? AND phase = ?`,
			j.NodeID, string(j.Phase)); err != nil {
			return storeErr("queue.enqueue", err)
		}
		if _, err := w.ExecContext(ctx, `
INSERT INTO processing_queue (
	id, node_id, phase, status, priority, attempts, max_attempts,
	error_message, owner, next_eligible_at, claimed_at, created_at, processed_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			j.ID, j.NodeID, string(j.Phase), string(j.Status), j.Priority, j.Attempts, j.MaxAttempts,
			j.ErrorMessage, j.Owner, j.NextEligibleAt.UTC(), nullableTime(j.ClaimedAt),
			j.CreatedAt.UTC(), nullableTime(j.ProcessedAt)); err != nil {
			return storeErr("queue.enqueue", err)
		}
		created = true
		cp := *j
		live = &cp
		return nil
	})
	if err != nil {
		return false, nil, err
	}
	return created, live, nil
}

func (r *QueueRepository) Claim(ctx context.Context, owner string, now time.Time) (*job.Job, error) {
	var claimed *job.Job
	err := r.store.WithTransaction(ctx, func(ctx context.Context) error {
		w := r.store.write(ctx)
		var id string
		err := w.QueryRowContext(ctx, `
SELECT id FROM processing_queue
WHERE status = 'pending' AND next_eligible_at <= ?
ORDER BY priority DESC, created_at ASC, id ASC
LIMIT 1`, now.UTC()).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return storeErr("queue.claim", err)
		}
		if _, err := w.ExecContext(ctx, `
UPDATE processing_queue
SET status = 'processing', attempts = attempts + 1, owner = ?, claimed_at = ?
WHERE id = ? AND status = 'pending'`,
			owner, now.UTC(), id); err != nil {
			return storeErr("queue.claim", err)
		}
		claimed, err = scanJob(w.QueryRowContext(ctx,
			`SELECT `+jobColumns+` FROM processing_queue WHERE id = ?`, id))
		if err != nil {
			return storeErr("queue.claim", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *QueueRepository) MarkComplete(ctx context.Context, id string, now time.Time) (*job.Job, error) {
	return r.transition(ctx, "queue.complete", id, job.StatusProcessing,
		`status = 'complete', error_message = '', processed_at = ?`, now.UTC())
}

func (r *QueueRepository) MarkFailed(ctx context.Context, id, errMsg string, now time.Time) (*job.Job, error) {
	return r.transition(ctx, "queue.fail", id, job.StatusProcessing,
		`status = 'failed', error_message = ?, processed_at = ?`, errMsg, now.UTC())
}

func (r *QueueRepository) Reschedule(ctx context.Context, id, errMsg string, nextEligibleAt time.Time) (*job.Job, error) {
	return r.transition(ctx, "queue.reschedule", id, job.StatusProcessing,
		`status = 'pending', error_message = ?, next_eligible_at = ?, owner = '', claimed_at = NULL`,
		errMsg, nextEligibleAt.UTC())
}

func (r *QueueRepository) CancelPending(ctx context.Context, id string) (*job.Job, error) {
	return r.transition(ctx, "queue.cancel", id, job.StatusPending,
		`status = 'failed', error_message = 'cancelled', processed_at = ?`, time.Now().UTC())
}

func (r *QueueRepository) ResetForRetry(ctx context.Context, id string) (*job.Job, error) {
	return r.transition(ctx, "queue.retry", id, job.StatusFailed,
		`status = 'pending', attempts = 0, error_message = '', next_eligible_at = ?,
		 owner = '', claimed_at = NULL, processed_at = NULL`, time.Now().UTC())
}

// transition runs a guarded status move: the update only lands when
// the job is still in the required status, otherwise the caller gets a
// conflict naming where the job actually is.
func (r *QueueRepository) transition(ctx context.Context, op, id string, want job.Status, set string, args ...any) (*job.Job, error) {
	var out *job.Job
	err := r.store.WithTransaction(ctx, func(ctx context.Context) error {
		w := r.store.write(ctx)
		res, err := w.ExecContext(ctx,
			`UPDATE processing_queue SET `+set+` WHERE id = ? AND status = ?`,
			append(append([]any{}, args...), id, string(want))...)
		if err != nil {
			return storeErr(op, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return storeErr(op, err)
		}
		if affected == 0 {
			var current string
			err := w.QueryRowContext(ctx,
				`SELECT status FROM processing_queue WHERE id = ?`, id).Scan(&current)
			if errors.Is(err, sql.ErrNoRows) {
				return jobNotFound(id)
			}
			if err != nil {
				return storeErr(op, err)
			}
			return apperrors.Conflict(apperrors.CodeInvalidInput, "job is not in the required status").
				WithContext("jobId", id).
				WithContext("status", current).
				WithContext("required", string(want)).Build()
		}
		out, err = scanJob(w.QueryRowContext(ctx,
			`SELECT `+jobColumns+` FROM processing_queue WHERE id = ?`, id))
		if err != nil {
			return storeErr(op, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *QueueRepository) Get(ctx context.Context, id string) (*job.Job, error) {
	j, err := scanJob(r.store.read(ctx).QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM processing_queue WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, jobNotFound(id)
	}
	if err != nil {
		return nil, storeErr("queue.get", err)
	}
	return j, nil
}

func (r *QueueRepository) ListForNode(ctx context.Context, nodeID string) ([]*job.Job, error) {
	rows, err := r.store.read(ctx).QueryContext(ctx,
		`SELECT `+jobColumns+` FROM processing_queue
		 WHERE node_id = ? ORDER BY created_at DESC, id ASC`, nodeID)
	if err != nil {
		return nil, storeErr("queue.forNode", err)
	}
	return collectJobs(rows)
}

func (r *QueueRepository) List(ctx context.Context, filter repository.JobFilter, page repository.Page) (*repository.PaginatedResult[*job.Job], error) {
	conds := []string{"1 = 1"}
	var args []any
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Phase != "" {
		conds = append(conds, "phase = ?")
		args = append(args, string(filter.Phase))
	}
	if filter.NodeID != "" {
		conds = append(conds, "node_id = ?")
		args = append(args, filter.NodeID)
	}
	where := strings.Join(conds, " AND ")
	p := page.Clamped()

	var total int
	if err := r.store.read(ctx).QueryRowContext(ctx,
		`SELECT COUNT(1) FROM processing_queue WHERE `+where, args...).Scan(&total); err != nil {
		return nil, storeErr("queue.list", err)
	}

	rows, err := r.store.read(ctx).QueryContext(ctx,
		`SELECT `+jobColumns+` FROM processing_queue WHERE `+where+`
		 ORDER BY created_at DESC, id ASC LIMIT ? OFFSET ?`,
		append(args, p.Limit, p.Offset())...)
	if err != nil {
		return nil, storeErr("queue.list", err)
	}
	items, err := collectJobs(rows)
	if err != nil {
		return nil, err
	}
	return repository.NewPaginatedResult(items, p, total), nil
}

func (r *QueueRepository) ListStale(ctx context.Context, claimedBefore time.Time) ([]*job.Job, error) {
	rows, err := r.store.read(ctx).QueryContext(ctx,
		`SELECT `+jobColumns+` FROM processing_queue
		 WHERE status = 'processing' AND claimed_at IS NOT NULL AND claimed_at < ?
		 ORDER BY created_at DESC, id ASC`, claimedBefore.UTC())
	if err != nil {
		return nil, storeErr("queue.stale", err)
	}
	return collectJobs(rows)
}

func (r *QueueRepository) DeleteCompleted(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.store.write(ctx).ExecContext(ctx,
		`DELETE FROM processing_queue
		 WHERE status = 'complete' AND COALESCE(processed_at, created_at) < ?`,
		olderThan.UTC())
	if err != nil {
		return 0, storeErr("queue.sweep", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, storeErr("queue.sweep", err)
	}
	return deleted, nil
}

func (r *QueueRepository) CountByStatus(ctx context.Context) (job.Stats, error) {
	rows, err := r.store.read(ctx).QueryContext(ctx,
		`SELECT status, COUNT(1) FROM processing_queue GROUP BY status`)
	if err != nil {
		return job.Stats{}, storeErr("queue.stats", err)
	}
	defer rows.Close()

	var stats job.Stats
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return job.Stats{}, storeErr("queue.stats", err)
		}
		switch job.Status(status) {
		case job.StatusPending:
			stats.Pending = count
		case job.StatusProcessing:
			stats.Processing = count
		case job.StatusComplete:
			stats.Complete = count
		case job.StatusFailed:
			stats.Failed = count
		}
	}
	if err := rows.Err(); err != nil {
		return job.Stats{}, storeErr("queue.stats", err)
	}
	return stats, nil
}

func collectJobs(rows *sql.Rows) ([]*job.Job, error) {
	defer rows.Close()
	var out []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, storeErr("queue.scan", err)
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("queue.scan", err)
	}
	return out, nil
}
