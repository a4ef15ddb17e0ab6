package pos

import (
	"encoding/json"
	"fmt"
	"time"
)

// OpKind identifies the mutation wrapped by a pending operation.
type OpKind string

const (
	OpSale            OpKind = "sale"
	OpStockAdjustment OpKind = "stock_adjustment"
)

// OpStatus is the lifecycle state of a pending operation.
type OpStatus string

const (
	StatusPending OpStatus = "PENDING"
	StatusSyncing OpStatus = "SYNCING"
	StatusSynced  OpStatus = "SYNCED"
	StatusFailed  OpStatus = "FAILED"
)

// PendingOperation is a locally queued mutation awaiting acknowledgment
// from the authority. The idempotency key is the local id of the wrapped
// sale or adjustment.
type PendingOperation struct {
	ID             int64           `json:"id"`
	Kind           OpKind          `json:"kind"`
	IdempotencyKey string          `json:"idempotency_key"`
	Payload        json.RawMessage `json:"payload"`
	Status         OpStatus        `json:"status"`
	AttemptCount   int             `json:"attempt_count"`
	LastError      string          `json:"last_error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// NewSaleOperation wraps a sale for the queue.
func NewSaleOperation(s Sale) (PendingOperation, error) {
	payload, err := json.Marshal(s)
	if err != nil {
		return PendingOperation{}, fmt.Errorf("encode sale %s: %w", s.LocalID, err)
	}
	return PendingOperation{
		Kind:           OpSale,
		IdempotencyKey: s.LocalID,
		Payload:        payload,
		Status:         StatusPending,
		CreatedAt:      s.CreatedAt,
	}, nil
}

// NewAdjustmentOperation wraps a stock adjustment for the queue.
func NewAdjustmentOperation(a StockAdjustment) (PendingOperation, error) {
	payload, err := json.Marshal(a)
	if err != nil {
		return PendingOperation{}, fmt.Errorf("encode adjustment %s: %w", a.LocalID, err)
	}
	return PendingOperation{
		Kind:           OpStockAdjustment,
		IdempotencyKey: a.LocalID,
		Payload:        payload,
		Status:         StatusPending,
		CreatedAt:      a.CreatedAt,
	}, nil
}

// Sale decodes the payload of a sale operation.
func (op PendingOperation) Sale() (Sale, error) {
	if op.Kind != OpSale {
		return Sale{}, fmt.Errorf("operation %d is %s, not a sale", op.ID, op.Kind)
	}
	var s Sale
	if err := json.Unmarshal(op.Payload, &s); err != nil {
		return Sale{}, fmt.Errorf("decode sale operation %d: %w", op.ID, err)
	}
	return s, nil
}

// Adjustment decodes the payload of a stock adjustment operation.
func (op PendingOperation) Adjustment() (StockAdjustment, error) {
	if op.Kind != OpStockAdjustment {
		return StockAdjustment{}, fmt.Errorf("operation %d is %s, not a stock adjustment", op.ID, op.Kind)
	}
	var a StockAdjustment
	if err := json.Unmarshal(op.Payload, &a); err != nil {
		return StockAdjustment{}, fmt.Errorf("decode adjustment operation %d: %w", op.ID, err)
	}
	return a, nil
}
