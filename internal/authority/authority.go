// Package authority talks to the source of truth for the catalog and the
// sink for sales. Two adapters exist: Store, which applies submissions to a
// SQLite file directly (the shared-database topology and the authority
// host), and Client, which speaks HTTP to a Server.
package authority

import (
	"context"
	"time"

	"github.com/roach88/posync/internal/pos"
)

// Authority is what the sync engine needs from the source of truth.
//
// Submissions are idempotent on the local id of the sale or adjustment: a
// repeat returns Ack{Duplicate: true} and changes nothing.
type Authority interface {
	// Health reports whether the authority is reachable.
	Health(ctx context.Context) error

	// FetchCatalog returns the full catalog when since is nil, otherwise the
	// products changed after *since.
	FetchCatalog(ctx context.Context, since *time.Time) (Catalog, error)

	SubmitSale(ctx context.Context, sale pos.Sale) (Ack, error)
	SubmitAdjustment(ctx context.Context, adj pos.StockAdjustment) (Ack, error)
}

// Catalog is one pull result. AsOf is the authority's clock when the
// snapshot was taken; the next incremental pull asks for changes after it.
type Catalog struct {
	Products []pos.Product `json:"products"`
	AsOf     time.Time     `json:"as_of"`
	Full     bool          `json:"full"`
}

// Ack acknowledges a submission.
type Ack struct {
	AuthorityID int64 `json:"authority_id,omitempty"`
	Duplicate   bool  `json:"duplicate,omitempty"`
}
