// Package engine moves data between a terminal's active store and the
// authority.
//
// Two flows run on independent schedules:
//
//   - Pull: the catalog comes down from the authority into the local cache,
//     as a full snapshot or as a delta since the last successful pull. A
//     failed pull leaves the cache exactly as it was.
//   - Push: pending operations go up in creation order. Each one is marked
//     SYNCING, submitted, then marked SYNCED (an authority-reported duplicate
//     counts as success) or failed with its attempt count bumped. A single
//     failure never stops the rest of the pass.
//
// Background runs that find the previous run of the same flow still going
// are skipped. ForceSync waits for them instead.
//
// The engine never decides connectivity. It asks the mode controller for
// the active backend and does nothing useful while there is no authority.
package engine
