// Package harness runs terminal scenarios: scripted sequences of sales,
// lookups, outages and syncs executed against a real terminal and a real
// authority, with the observed outcomes recorded as a trace.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	topology: remote            # or shared
//	catalog:                    # optional; a three-product fixture otherwise
//	  - { id: 1, code: "123", description: Café, price: 8.50, stock: 10 }
//	setup:
//	  - action: authority.down
//	    args: {}
//	flow:
//	  - invoke: sale.create
//	    args: { lines: [{ code: "123", quantity: 2 }], payment: cash }
//	    expect:
//	      case: OK
//	      result: { total: "17.00", synced: false }
//	assertions:
//	  - type: trace_count
//	    action: sale.create
//	    count: 1
//	  - type: final_state
//	    store: authority
//	    table: products
//	    where: { code: "123" }
//	    expect: { stock_quantity: 8 }
//
// # Actions
//
//   - authority.down, authority.up: cut or restore the authority (a dropped
//     network mount in the shared topology)
//   - authority.reject: make the authority refuse a local id (remote only)
//   - terminal.probe, terminal.sync, terminal.status
//   - product.find, product.search, sale.create, stock.adjust
//   - queue.failed, queue.requeue
//
// A completion's case is OK, INCOMPLETE for a sync that left work behind,
// or the failure kind (VALIDATION_FAILURE, ...).
//
// # Assertion Types
//
//   - trace_contains: Verifies an action appears in the trace with matching args
//   - trace_order: Verifies actions appear in specified order
//   - trace_count: Verifies an action appears exactly N times
//   - final_state: Queries a table of the terminal's or the authority's store
//
// # Deterministic Testing
//
// Every run uses a fresh directory, a manual clock fixed at
// testutil.Epoch and sequential local ids, so traces are identical across
// runs and can be compared against golden files.
package harness
