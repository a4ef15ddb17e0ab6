package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/posync/internal/authority"
	"github.com/roach88/posync/internal/mode"
	"github.com/roach88/posync/internal/pos"
	"github.com/roach88/posync/internal/queue"
	"github.com/roach88/posync/internal/sales"
	"github.com/roach88/posync/internal/store"
)

// PushResult counts the outcome of one push pass.
type PushResult struct {
	Synced int `json:"synced"`
	Failed int `json:"failed"`
}

// PushPending submits every ready operation of the active store, oldest
// first. Nothing is pushed while the active store is the authority itself.
func (e *Engine) PushPending(ctx context.Context) (PushResult, error) {
	e.pushMu.Lock()
	defer e.pushMu.Unlock()
	return e.push(ctx)
}

func (e *Engine) push(ctx context.Context) (PushResult, error) {
	var res PushResult
	err := e.backends.With(ctx, func(b mode.Backend) error {
		if b.Direct {
			return nil
		}
		if b.Authority == nil {
			return pos.E(pos.KindConnectivity, "push pending", ErrOffline)
		}
		var err error
		res, err = e.pushFrom(ctx, b.Store, b.Authority)
		return err
	})
	if err != nil {
		slog.Warn("push failed", "error", err)
		return res, err
	}
	if res.Synced > 0 || res.Failed > 0 {
		slog.Info("pushed pending operations", "synced", res.Synced, "failed", res.Failed)
	}
	return res, nil
}

// Replay drains the queue of from into to. The mode controller calls it
// while reconnecting, with the access lock held, so it must not go through
// the backends. It fails if anything is still PENDING or SYNCING afterwards;
// operations that reached FAILED do not block the reconnect.
func (e *Engine) Replay(ctx context.Context, from *store.Store, to authority.Authority) error {
	var total PushResult
	for {
		res, err := e.pushFrom(ctx, from, to)
		total.Synced += res.Synced
		total.Failed += res.Failed
		if err != nil {
			return err
		}
		if res.Synced == 0 || res.Failed > 0 {
			break
		}
	}

	left, err := queue.New(from).Unsynced(ctx)
	if err != nil {
		return err
	}
	slog.Info("replayed offline operations", "synced", total.Synced, "failed", total.Failed, "left", left)
	if left > 0 {
		return pos.E(pos.KindConnectivity, "replay", fmt.Errorf("%d operations still pending", left))
	}
	return nil
}

// pushFrom runs one pass over the ready operations of st. Only local
// storage errors end the pass early.
func (e *Engine) pushFrom(ctx context.Context, st *store.Store, auth authority.Authority) (PushResult, error) {
	var res PushResult
	q := queue.New(st).WithClock(e.clock.Now)

	ops, err := q.DequeueReady(ctx, e.batchSize)
	if err != nil {
		return res, err
	}
	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		ok, err := q.MarkSyncing(ctx, op.ID)
		if err != nil {
			return res, err
		}
		if !ok {
			continue
		}

		// The entry is claimed; its bookkeeping must land even if ctx ends
		// mid-submit, or it would stay SYNCING until the next restart.
		keep := context.WithoutCancel(ctx)
		ack, subErr := submit(ctx, auth, op)
		if subErr != nil && ctx.Err() != nil {
			if err := q.Release(keep, op.ID); err != nil {
				return res, err
			}
			slog.Debug("submission abandoned", "op", op.ID, "key", op.IdempotencyKey, "error", subErr)
			return res, ctx.Err()
		}
		if subErr != nil {
			status, err := q.MarkFailed(keep, op.ID, subErr, e.attemptsFor(subErr))
			if err != nil {
				return res, err
			}
			res.Failed++
			slog.Warn("operation not accepted",
				"op", op.ID,
				"kind", op.Kind,
				"key", op.IdempotencyKey,
				"attempt", op.AttemptCount+1,
				"status", status,
				"error", subErr)
			continue
		}

		err = st.Transaction(keep, func(tx *sql.Tx) error {
			if err := queue.MarkSyncedTx(keep, tx, op.ID, e.clock.Now()); err != nil {
				return err
			}
			if op.Kind != pos.OpSale {
				return nil
			}
			err := sales.MarkSyncedTx(keep, tx, op.IdempotencyKey, ack.AuthorityID)
			if errors.Is(err, pos.ErrNotFound) {
				return nil
			}
			return err
		})
		if err != nil {
			return res, err
		}
		res.Synced++
		slog.Debug("operation synced",
			"op", op.ID,
			"key", op.IdempotencyKey,
			"authority_id", ack.AuthorityID,
			"duplicate", ack.Duplicate)
	}
	return res, nil
}

// attemptsFor returns the attempt bound for a failure. An operation that
// cannot even be decoded will never succeed.
func (e *Engine) attemptsFor(err error) int {
	if pos.IsValidation(err) {
		return 1
	}
	return e.maxAttempts
}

func submit(ctx context.Context, auth authority.Authority, op pos.PendingOperation) (authority.Ack, error) {
	switch op.Kind {
	case pos.OpSale:
		s, err := op.Sale()
		if err != nil {
			return authority.Ack{}, pos.E(pos.KindValidation, "decode", err)
		}
		return auth.SubmitSale(ctx, s)
	case pos.OpStockAdjustment:
		a, err := op.Adjustment()
		if err != nil {
			return authority.Ack{}, pos.E(pos.KindValidation, "decode", err)
		}
		return auth.SubmitAdjustment(ctx, a)
	default:
		return authority.Ack{}, pos.Validationf("decode", "unknown operation kind %q", op.Kind)
	}
}
