package testutil

import (
	"fmt"
	"sync/atomic"
)

// SequentialIDs generates predictable local ids ("prefix-0001", ...) so
// scenario traces and golden files are stable across runs.
//
// Thread-safety: safe for concurrent use.
type SequentialIDs struct {
	prefix string
	n      atomic.Int64
}

// NewSequentialIDs creates a generator. An empty prefix uses "local".
func NewSequentialIDs(prefix string) *SequentialIDs {
	if prefix == "" {
		prefix = "local"
	}
	return &SequentialIDs{prefix: prefix}
}

// Next returns the next id.
func (g *SequentialIDs) Next() string {
	return fmt.Sprintf("%s-%04d", g.prefix, g.n.Add(1))
}
