package testutil

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/posync/internal/authority"
	"github.com/roach88/posync/internal/pos"
)

// ErrUnreachable is what a FakeAuthority returns while down.
var ErrUnreachable = errors.New("authority unreachable")

// FakeAuthority wraps a real authority and can be switched off, or told to
// reject specific local ids, to script connectivity scenarios.
//
// Thread-safety: safe for concurrent use.
type FakeAuthority struct {
	inner authority.Authority
	down  atomic.Bool

	mu      sync.Mutex
	reject  map[string]bool
	calls   map[string]int
	delay   time.Duration
	submits []string
}

var _ authority.Authority = (*FakeAuthority)(nil)

// NewFakeAuthority wraps inner. It starts up.
func NewFakeAuthority(inner authority.Authority) *FakeAuthority {
	return &FakeAuthority{inner: inner, reject: map[string]bool{}, calls: map[string]int{}}
}

// SetDown switches the authority off or on.
func (f *FakeAuthority) SetDown(down bool) { f.down.Store(down) }

// Reject makes submissions with localID fail with a conflict.
func (f *FakeAuthority) Reject(localID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reject[localID] = true
}

// SetDelay slows every call by d.
func (f *FakeAuthority) SetDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
}

// Calls returns how many times method was called.
func (f *FakeAuthority) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// Submitted returns the local ids submitted, in order, duplicates included.
func (f *FakeAuthority) Submitted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.submits...)
}

func (f *FakeAuthority) enter(ctx context.Context, method, localID string) error {
	f.mu.Lock()
	f.calls[method]++
	if localID != "" {
		f.submits = append(f.submits, localID)
	}
	delay := f.delay
	rejected := f.reject[localID]
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return pos.E(pos.KindConnectivity, method, ctx.Err())
		}
	}
	if f.down.Load() {
		return pos.E(pos.KindConnectivity, method, ErrUnreachable)
	}
	if rejected {
		return pos.E(pos.KindSyncConflict, method, errors.New("rejected by script"))
	}
	return nil
}

func (f *FakeAuthority) Health(ctx context.Context) error {
	if err := f.enter(ctx, "Health", ""); err != nil {
		return err
	}
	return f.inner.Health(ctx)
}

func (f *FakeAuthority) FetchCatalog(ctx context.Context, since *time.Time) (authority.Catalog, error) {
	if err := f.enter(ctx, "FetchCatalog", ""); err != nil {
		return authority.Catalog{}, err
	}
	return f.inner.FetchCatalog(ctx, since)
}

func (f *FakeAuthority) SubmitSale(ctx context.Context, sale pos.Sale) (authority.Ack, error) {
	if err := f.enter(ctx, "SubmitSale", sale.LocalID); err != nil {
		return authority.Ack{}, err
	}
	return f.inner.SubmitSale(ctx, sale)
}

func (f *FakeAuthority) SubmitAdjustment(ctx context.Context, adj pos.StockAdjustment) (authority.Ack, error) {
	if err := f.enter(ctx, "SubmitAdjustment", adj.LocalID); err != nil {
		return authority.Ack{}, err
	}
	return f.inner.SubmitAdjustment(ctx, adj)
}
