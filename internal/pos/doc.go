// Package pos defines the point-of-sale data model shared by every layer of
// posync: catalog products, sales and their lines, stock adjustments, the
// pending operations that carry them to the authority, and the connection
// state surfaced to the terminal UI.
//
// # Money
//
// All monetary amounts are decimal.Decimal values rounded to two fractional
// digits (the currency minor unit). A sale is consistent when every line
// total equals quantity * unit price rounded to the minor unit, and the sale
// total equals the sum of its line totals.
//
// # Errors
//
// Failures are reported as *Error values carrying a Kind from the taxonomy
// below. Use errors.As or the IsX helpers, since errors are usually wrapped:
//
//   - ConnectivityFailure: authority unreachable, handled by reconnection
//   - TransactionFailure: local storage fault during a write
//   - ValidationFailure: rejected before any write, never queued
//   - SyncConflict: authority rejected an item for a non-transient reason
//   - FatalStorageFailure: no backend could be opened
package pos
