// Package store provides the SQLite storage backend used for both the
// primary (shared) and the backup (local) physical stores.
//
// Both stores carry the same schema (products, sales, sale_lines,
// stock_movements, pending_operations, cache_meta) so a backup can take over
// without translation. The physical medium only changes the tuning profile:
//
//   - Shared: the file lives on a network share next to other terminals.
//     Long busy timeout (30s), infrequent WAL checkpoints, FULL sync, no mmap.
//   - Local: the file is on the terminal's own disk. Short busy timeout,
//     frequent checkpoints, NORMAL sync, memory-mapped reads.
//
// # Transactions
//
// Multi-row mutations go through Transaction, which commits or rolls back as
// a unit. The pool is limited to a single connection, so code running inside
// a transaction callback must use the *sql.Tx it was given; touching DB()
// from inside the callback deadlocks.
//
// # Time
//
// Timestamps are stored as fixed-width UTC text (TimeLayout) so lexical
// ORDER BY matches chronological order.
package store
