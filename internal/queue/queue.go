// Package queue is the durable pending-operation queue. Operations created
// while the authority is unreachable (or while a direct authority write
// failed) are persisted here before the caller is told they succeeded, and
// drained in creation order by the sync engine.
//
// Entries are never deleted on failure. MarkFailed keeps an entry PENDING
// until the caller's attempt limit is reached, after which it is FAILED and
// waits for an operator (ListFailed, Requeue).
package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/posync/internal/pos"
	"github.com/roach88/posync/internal/store"
)

// Queue is a logical view over one store.
type Queue struct {
	st  *store.Store
	now func() time.Time
}

// New returns the queue view of st.
func New(st *store.Store) *Queue {
	return &Queue{st: st, now: time.Now}
}

// WithClock overrides the time source used for updated_at stamps.
func (q *Queue) WithClock(now func() time.Time) *Queue {
	q.now = now
	return q
}

const opColumns = `id, kind, idempotency_key, payload, status, attempt_count, last_error, created_at, updated_at`

// Enqueue persists op in its own transaction. It returns the stored id; an
// operation whose idempotency key is already queued is not duplicated and
// the existing id is returned.
func (q *Queue) Enqueue(ctx context.Context, op pos.PendingOperation) (int64, error) {
	var id int64
	err := q.st.Transaction(ctx, func(tx *sql.Tx) error {
		var err error
		id, err = EnqueueTx(ctx, tx, op, q.now())
		return err
	})
	return id, err
}

// EnqueueTx persists op inside tx, so a sale and its queue entry commit
// together.
func EnqueueTx(ctx context.Context, tx *sql.Tx, op pos.PendingOperation, now time.Time) (int64, error) {
	if op.IdempotencyKey == "" {
		return 0, pos.Validationf("enqueue", "operation has no idempotency key")
	}
	created := op.CreatedAt
	if created.IsZero() {
		created = now
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO pending_operations
		(kind, idempotency_key, payload, status, attempt_count, last_error, created_at, updated_at)
		VALUES (?, ?, ?, 'PENDING', 0, '', ?, ?)
		ON CONFLICT(idempotency_key) DO NOTHING
	`, string(op.Kind), op.IdempotencyKey, string(op.Payload), store.FormatTime(created), store.FormatTime(now))
	if err != nil {
		return 0, fmt.Errorf("enqueue %s: %w", op.IdempotencyKey, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return res.LastInsertId()
	}
	var id int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM pending_operations WHERE idempotency_key = ?`, op.IdempotencyKey).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("enqueue %s: select existing: %w", op.IdempotencyKey, err)
	}
	return id, nil
}

// DequeueReady returns PENDING operations, oldest first. It does not change
// their status; limit <= 0 means no limit.
func (q *Queue) DequeueReady(ctx context.Context, limit int) ([]pos.PendingOperation, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := q.st.DB().QueryContext(ctx, `
		SELECT `+opColumns+`
		FROM pending_operations
		WHERE status = 'PENDING'
		ORDER BY created_at ASC, id ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("dequeue ready: %w", err)
	}
	return collect(rows)
}

// Get returns one operation by id.
func (q *Queue) Get(ctx context.Context, id int64) (pos.PendingOperation, error) {
	row := q.st.DB().QueryRowContext(ctx, `SELECT `+opColumns+` FROM pending_operations WHERE id = ?`, id)
	op, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return pos.PendingOperation{}, fmt.Errorf("operation %d: %w", id, pos.ErrNotFound)
	}
	return op, err
}

// MarkSyncing flags an operation as being submitted. Only PENDING entries
// move; it reports whether this call claimed the entry.
func (q *Queue) MarkSyncing(ctx context.Context, id int64) (bool, error) {
	res, err := q.st.DB().ExecContext(ctx, `
		UPDATE pending_operations SET status = 'SYNCING', updated_at = ?
		WHERE id = ? AND status = 'PENDING'
	`, store.FormatTime(q.now()), id)
	if err != nil {
		return false, fmt.Errorf("mark syncing %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark syncing %d: %w", id, err)
	}
	return n > 0, nil
}

// MarkSynced records the authority's acknowledgment.
func (q *Queue) MarkSynced(ctx context.Context, id int64) error {
	return q.st.Transaction(ctx, func(tx *sql.Tx) error {
		return MarkSyncedTx(ctx, tx, id, q.now())
	})
}

// MarkSyncedTx is MarkSynced inside a transaction.
func MarkSyncedTx(ctx context.Context, tx *sql.Tx, id int64, now time.Time) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE pending_operations SET status = 'SYNCED', last_error = '', updated_at = ?
		WHERE id = ?
	`, store.FormatTime(now), id)
	if err != nil {
		return fmt.Errorf("mark synced %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("mark synced %d: %w", id, pos.ErrNotFound)
	}
	return nil
}

// MarkFailed counts a failed attempt. The entry goes back to PENDING, or to
// FAILED once attempt_count reaches maxAttempts (maxAttempts <= 0 retries
// forever). It returns the resulting status.
func (q *Queue) MarkFailed(ctx context.Context, id int64, cause error, maxAttempts int) (pos.OpStatus, error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	var status string
	err := q.st.Transaction(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			UPDATE pending_operations
			SET attempt_count = attempt_count + 1,
			    last_error = ?1,
			    status = CASE WHEN ?2 > 0 AND attempt_count + 1 >= ?2 THEN 'FAILED' ELSE 'PENDING' END,
			    updated_at = ?3
			WHERE id = ?4 AND status IN ('PENDING', 'SYNCING')
			RETURNING status
		`, msg, maxAttempts, store.FormatTime(q.now()), id).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("mark failed %d: %w", id, pos.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("mark failed %d: %w", id, err)
		}
		return nil
	})
	return pos.OpStatus(status), err
}

// Count returns the number of operations in status.
func (q *Queue) Count(ctx context.Context, status pos.OpStatus) (int, error) {
	var n int
	err := q.st.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_operations WHERE status = ?`, string(status)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s operations: %w", status, err)
	}
	return n, nil
}

// Unsynced returns the number of operations not yet acknowledged and not
// given up on (PENDING or SYNCING).
func (q *Queue) Unsynced(ctx context.Context) (int, error) {
	var n int
	err := q.st.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_operations WHERE status IN ('PENDING', 'SYNCING')`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unsynced operations: %w", err)
	}
	return n, nil
}

// ListFailed returns FAILED operations, oldest first, for manual export.
func (q *Queue) ListFailed(ctx context.Context) ([]pos.PendingOperation, error) {
	rows, err := q.st.DB().QueryContext(ctx, `
		SELECT `+opColumns+`
		FROM pending_operations
		WHERE status = 'FAILED'
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list failed: %w", err)
	}
	return collect(rows)
}

// Requeue moves a FAILED operation back to PENDING with a fresh attempt
// budget.
func (q *Queue) Requeue(ctx context.Context, id int64) error {
	res, err := q.st.DB().ExecContext(ctx, `
		UPDATE pending_operations SET status = 'PENDING', attempt_count = 0, updated_at = ?
		WHERE id = ? AND status = 'FAILED'
	`, store.FormatTime(q.now()), id)
	if err != nil {
		return fmt.Errorf("requeue %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("requeue %d: no FAILED operation: %w", id, pos.ErrNotFound)
	}
	return nil
}

// Release returns a SYNCING operation to PENDING without counting an
// attempt, for submissions abandoned before the authority answered.
func (q *Queue) Release(ctx context.Context, id int64) error {
	_, err := q.st.DB().ExecContext(ctx, `
		UPDATE pending_operations SET status = 'PENDING', updated_at = ?
		WHERE id = ? AND status = 'SYNCING'
	`, store.FormatTime(q.now()), id)
	if err != nil {
		return fmt.Errorf("release %d: %w", id, err)
	}
	return nil
}

// ResetSyncing returns entries left SYNCING by a crash to PENDING. The
// authority deduplicates by idempotency key, so resubmitting is safe.
func (q *Queue) ResetSyncing(ctx context.Context) (int, error) {
	res, err := q.st.DB().ExecContext(ctx, `
		UPDATE pending_operations SET status = 'PENDING', updated_at = ?
		WHERE status = 'SYNCING'
	`, store.FormatTime(q.now()))
	if err != nil {
		return 0, fmt.Errorf("reset syncing: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scan(row rowScanner) (pos.PendingOperation, error) {
	var op pos.PendingOperation
	var kind, status, payload, created, updated string
	err := row.Scan(&op.ID, &kind, &op.IdempotencyKey, &payload, &status, &op.AttemptCount, &op.LastError, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return pos.PendingOperation{}, err
		}
		return pos.PendingOperation{}, fmt.Errorf("scan operation: %w", err)
	}
	op.Kind = pos.OpKind(kind)
	op.Status = pos.OpStatus(status)
	op.Payload = []byte(payload)
	if op.CreatedAt, err = store.ParseTime(created); err != nil {
		return pos.PendingOperation{}, err
	}
	if op.UpdatedAt, err = store.ParseTime(updated); err != nil {
		return pos.PendingOperation{}, err
	}
	return op, nil
}

func collect(rows *sql.Rows) ([]pos.PendingOperation, error) {
	defer rows.Close()
	ops := []pos.PendingOperation{}
	for rows.Next() {
		op, err := scan(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate operations: %w", err)
	}
	return ops, nil
}
