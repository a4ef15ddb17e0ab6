package harness

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/roach88/posync/internal/store"
)

// identPattern limits table and column names, which cannot be bound as
// query parameters, to plain SQL identifiers.
var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// AssertionError describes a failed assertion. Trace, when set, is printed
// as the list of invocations that ran.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

func (e *AssertionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&b, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&b, "  Actual: %s\n", e.Actual)
	if len(e.Trace) == 0 {
		return b.String()
	}
	b.WriteString("\nFull trace:\n")
	for i, ev := range e.Trace {
		if ev.Type == EventInvocation {
			fmt.Fprintf(&b, "  [%d] %s %v\n", i+1, ev.Action, ev.Args)
		}
	}
	return b.String()
}

// invocations yields the invocation events of trace with their 1-based
// position in the full trace.
func invocations(trace []TraceEvent, fn func(pos int, ev TraceEvent)) {
	for i, ev := range trace {
		if ev.Type == EventInvocation {
			fn(i+1, ev)
		}
	}
}

func assertTraceContains(trace []TraceEvent, a Assertion) error {
	found := false
	invocations(trace, func(_ int, ev TraceEvent) {
		if !found && ev.Action == a.Action && matchArgs(ev.Args, a.Args) {
			found = true
		}
	})
	if found {
		return nil
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("action %s with args %v", a.Action, a.Args),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that the first invocation of each listed action
// comes after the first invocation of the one before it. Other actions may
// run in between.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	first := make(map[string]int, len(a.Actions))
	invocations(trace, func(pos int, ev TraceEvent) {
		if _, seen := first[ev.Action]; !seen {
			first[ev.Action] = pos
		}
	})

	prev := ""
	for _, action := range a.Actions {
		pos, ok := first[action]
		if !ok {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all actions present: %v", a.Actions),
				Actual:   "missing action: " + action,
				Trace:    trace,
			}
		}
		if prev != "" && first[prev] >= pos {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("actions in order: %v", a.Actions),
				Actual:   fmt.Sprintf("%s (pos %d) should be before %s (pos %d)", prev, first[prev], action, pos),
				Trace:    trace,
			}
		}
		prev = action
	}
	return nil
}

func assertTraceCount(trace []TraceEvent, a Assertion) error {
	n := 0
	invocations(trace, func(_ int, ev TraceEvent) {
		if ev.Action == a.Action {
			n++
		}
	})
	if n == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertTraceCount,
		Expected: fmt.Sprintf("%d occurrences of %s", a.Count, a.Action),
		Actual:   fmt.Sprintf("%d occurrences", n),
		Trace:    trace,
	}
}

// assertFinalState looks up exactly one row of a.Table matching a.Where and
// compares the columns named in a.Expect. Columns not named are ignored.
func assertFinalState(ctx context.Context, st *store.Store, a Assertion) error {
	if a.Table == "" {
		return fmt.Errorf("final_state assertion requires table name")
	}
	if !identPattern.MatchString(a.Table) {
		return fmt.Errorf("invalid table name %q: must match pattern %s", a.Table, identPattern)
	}
	cond, args, err := buildWhereClause(a.Where)
	if err != nil {
		return err
	}

	query := "SELECT * FROM " + a.Table
	if cond != "" {
		query += " WHERE " + cond
	}
	row, err := selectOne(ctx, st.DB(), query, args)
	if err != nil {
		return err
	}

	switch {
	case row.err != nil:
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: "query table " + a.Table,
			Actual:   fmt.Sprintf("query error: %v", row.err),
		}
	case row.matches == 0:
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("row in %s where %s", a.Table, describeWhere(a.Where)),
			Actual:   "row not found",
		}
	case row.matches > 1:
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("exactly one row in %s where %s", a.Table, describeWhere(a.Where)),
			Actual:   "multiple rows matched (assertion is ambiguous)",
		}
	}

	for _, col := range sortedKeys(a.Expect) {
		want := a.Expect[col]
		got, ok := row.values[col]
		if !ok {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q to exist", col),
				Actual:   fmt.Sprintf("field %q not present in result columns: %v", col, row.columns),
			}
		}
		if !stateValuesEqual(want, got) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q = %v (type %T)", col, want, want),
				Actual:   fmt.Sprintf("field %q = %v (type %T)", col, got, got),
			}
		}
	}
	return nil
}

// selectedRow is the first row of a query plus how many rows matched, up
// to two. err holds a failure of the query itself.
type selectedRow struct {
	columns []string
	values  map[string]any
	matches int
	err     error
}

func selectOne(ctx context.Context, db *sql.DB, query string, args []any) (selectedRow, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return selectedRow{err: err}, nil
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return selectedRow{}, fmt.Errorf("get columns: %w", err)
	}
	out := selectedRow{columns: columns}
	if !rows.Next() {
		return out, rows.Err()
	}

	cells := make([]any, len(columns))
	dest := make([]any, len(columns))
	for i := range cells {
		dest[i] = &cells[i]
	}
	if err := rows.Scan(dest...); err != nil {
		return selectedRow{}, fmt.Errorf("scan row: %w", err)
	}
	out.values = make(map[string]any, len(columns))
	for i, col := range columns {
		out.values[col] = cells[i]
	}
	out.matches = 1
	if rows.Next() {
		out.matches = 2
	}
	return out, nil
}

// buildWhereClause turns where into "col = ?" terms joined by AND, in
// column order, with the values as bind arguments.
func buildWhereClause(where map[string]any) (string, []any, error) {
	if len(where) == 0 {
		return "", nil, nil
	}
	cols := sortedKeys(where)
	terms := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, col := range cols {
		if !identPattern.MatchString(col) {
			return "", nil, fmt.Errorf("invalid column name %q in where clause: must match pattern %s", col, identPattern)
		}
		terms[i] = col + " = ?"
		args[i] = bindValue(where[col])
	}
	return strings.Join(terms, " AND "), args, nil
}

// bindValue passes through the types the sqlite driver binds directly and
// formats anything else as text.
func bindValue(v any) any {
	switch v.(type) {
	case string, int, int64, bool:
		return v
	}
	return fmt.Sprint(v)
}

func describeWhere(where map[string]any) string {
	if len(where) == 0 {
		return "(no conditions)"
	}
	parts := make([]string, 0, len(where))
	for _, k := range sortedKeys(where) {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// stateValuesEqual compares a YAML-decoded expectation with a value the
// sqlite driver scanned. Integers come back as int64, booleans as 0/1 and
// money as decimal text, so those are compared by meaning rather than type.
func stateValuesEqual(expected, actual any) bool {
	if expected == nil || actual == nil {
		return expected == nil && actual == nil
	}
	switch want := expected.(type) {
	case string:
		got, ok := actual.(string)
		return ok && got == want
	case int:
		got, ok := asInt64(actual)
		return ok && got == int64(want)
	case int64:
		got, ok := actual.(int64)
		return ok && got == want
	case bool:
		if got, ok := actual.(bool); ok {
			return got == want
		}
		got, ok := actual.(int64)
		return ok && (got != 0) == want
	case float64:
		text, ok := actual.(string)
		if !ok {
			return false
		}
		got, err := decimal.NewFromString(text)
		return err == nil && got.Equal(decimal.NewFromFloat(want))
	}
	return reflect.DeepEqual(expected, actual)
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	}
	return 0, false
}

// matchArgs reports whether every key of expected is present in actual
// with an equal value. Keys only in actual are ignored.
func matchArgs(actual, expected map[string]any) bool {
	for k, want := range expected {
		got, ok := actual[k]
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

// AssertionContext gives final_state assertions access to the stores.
type AssertionContext struct {
	Ctx context.Context

	// Query runs fn against the named store ("terminal" or "authority").
	Query func(ctx context.Context, which string, fn func(*store.Store) error) error
}

// EvaluateAssertions checks every assertion against result and returns one
// message per failure.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var failures []string
	for i, a := range assertions {
		if err := evaluate(result.Trace, a, actx); err != nil {
			var ae *AssertionError
			if !errors.As(err, &ae) {
				err = fmt.Errorf("assertion[%d]: %w", i, err)
			}
			failures = append(failures, err.Error())
		}
	}
	return failures
}

func evaluate(trace []TraceEvent, a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertTraceContains:
		return assertTraceContains(trace, a)
	case AssertTraceOrder:
		return assertTraceOrder(trace, a)
	case AssertTraceCount:
		return assertTraceCount(trace, a)
	case AssertFinalState:
		if actx == nil || actx.Query == nil {
			return fmt.Errorf("final_state requires database context")
		}
		which := a.Store
		if which == "" {
			which = StoreTerminal
		}
		return actx.Query(actx.Ctx, which, func(st *store.Store) error {
			return assertFinalState(actx.Ctx, st, a)
		})
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}
