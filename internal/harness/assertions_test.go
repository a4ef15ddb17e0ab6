package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/posync/internal/authority"
	"github.com/roach88/posync/internal/store"
	"github.com/roach88/posync/internal/testutil"
)

func sampleTrace() []TraceEvent {
	return []TraceEvent{
		{Seq: 1, Type: EventInvocation, Action: ActionAuthorityDown},
		{Seq: 2, Type: EventCompletion, Action: ActionAuthorityDown, Case: CaseOK},
		{Seq: 3, Type: EventInvocation, Action: ActionSaleCreate, Args: map[string]any{"payment": "cash"}},
		{Seq: 4, Type: EventCompletion, Action: ActionSaleCreate, Case: CaseOK, Result: map[string]any{"total": "17.00"}},
		{Seq: 5, Type: EventInvocation, Action: ActionAuthorityUp},
		{Seq: 6, Type: EventCompletion, Action: ActionAuthorityUp, Case: CaseOK},
		{Seq: 7, Type: EventInvocation, Action: ActionSaleCreate, Args: map[string]any{"payment": "card"}},
		{Seq: 8, Type: EventCompletion, Action: ActionSaleCreate, Case: CaseOK},
	}
}

func TestAssertTraceContains(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceContains(trace, Assertion{Action: ActionSaleCreate, Args: map[string]any{"payment": "card"}}))
	assert.NoError(t, assertTraceContains(trace, Assertion{Action: ActionAuthorityUp}))

	err := assertTraceContains(trace, Assertion{Action: ActionSaleCreate, Args: map[string]any{"payment": "transfer"}})
	require.Error(t, err)
	var assertErr *AssertionError
	require.ErrorAs(t, err, &assertErr)
	assert.Equal(t, "trace_contains", assertErr.Type)
	assert.Equal(t, "not found in trace", assertErr.Actual)
	assert.Contains(t, err.Error(), "[3] sale.create")
}

func TestAssertTraceContains_IgnoresCompletions(t *testing.T) {
	trace := []TraceEvent{
		{Seq: 1, Type: EventCompletion, Action: ActionStockAdjust, Case: CaseOK},
	}
	assert.Error(t, assertTraceContains(trace, Assertion{Action: ActionStockAdjust}))
}

func TestAssertTraceOrder(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceOrder(trace, Assertion{Actions: []string{ActionAuthorityDown, ActionSaleCreate, ActionAuthorityUp}}))

	err := assertTraceOrder(trace, Assertion{Actions: []string{ActionAuthorityUp, ActionAuthorityDown}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "should be before")

	err = assertTraceOrder(trace, Assertion{Actions: []string{ActionAuthorityDown, ActionQueueRequeue}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing action: queue.requeue")
}

func TestAssertTraceCount(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceCount(trace, Assertion{Action: ActionSaleCreate, Count: 2}))
	assert.NoError(t, assertTraceCount(trace, Assertion{Action: ActionSync, Count: 0}))

	err := assertTraceCount(trace, Assertion{Action: ActionSaleCreate, Count: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 occurrences")
}

func seededStore(t *testing.T) *store.Store {
	t.Helper()
	st := testutil.OpenStore(t, "state.db", store.Local)
	require.NoError(t, authority.NewStore(st).Import(context.Background(), testutil.Catalog()))
	return st
}

func TestAssertFinalState(t *testing.T) {
	ctx := context.Background()
	st := seededStore(t)

	tests := []struct {
		name    string
		where   map[string]any
		expect  map[string]any
		wantErr string
	}{
		{
			name:   "integer column",
			where:  map[string]any{"code": "123"},
			expect: map[string]any{"stock_quantity": 10, "description": "Café Molido 500g"},
		},
		{
			name:   "money as decimal",
			where:  map[string]any{"code": "123"},
			expect: map[string]any{"price": 8.5},
		},
		{
			name:   "boolean stored as integer",
			where:  map[string]any{"code": "456"},
			expect: map[string]any{"active": true},
		},
		{
			name:    "value mismatch",
			where:   map[string]any{"code": "123"},
			expect:  map[string]any{"stock_quantity": 9},
			wantErr: `field "stock_quantity" = 9`,
		},
		{
			name:    "missing column",
			where:   map[string]any{"code": "123"},
			expect:  map[string]any{"colour": "red"},
			wantErr: `field "colour" to exist`,
		},
		{
			name:    "no row",
			where:   map[string]any{"code": "nope"},
			expect:  map[string]any{"stock_quantity": 1},
			wantErr: "row not found",
		},
		{
			name:    "ambiguous",
			where:   map[string]any{"active": 1},
			expect:  map[string]any{"stock_quantity": 1},
			wantErr: "multiple rows matched",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := assertFinalState(ctx, st, Assertion{Table: "products", Where: tt.where, Expect: tt.expect})
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestAssertFinalState_RejectsUnsafeIdentifiers(t *testing.T) {
	ctx := context.Background()
	st := seededStore(t)

	err := assertFinalState(ctx, st, Assertion{Table: "products; DROP TABLE sales", Expect: map[string]any{"x": 1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid table name")

	err = assertFinalState(ctx, st, Assertion{Table: "products", Where: map[string]any{"code OR 1=1": "x"}, Expect: map[string]any{"x": 1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid column name")
}

func TestBuildWhereClause_SortedAndParameterized(t *testing.T) {
	sql, args, err := buildWhereClause(map[string]any{"status": "FAILED", "kind": "sale", "attempt_count": 3})
	require.NoError(t, err)
	assert.Equal(t, "attempt_count = ? AND kind = ? AND status = ?", sql)
	assert.Equal(t, []any{3, "sale", "FAILED"}, args)

	sql, args, err = buildWhereClause(nil)
	require.NoError(t, err)
	assert.Empty(t, sql)
	assert.Nil(t, args)
}

func TestStateValuesEqual(t *testing.T) {
	tests := []struct {
		name     string
		expected any
		actual   any
		want     bool
	}{
		{"nil both", nil, nil, true},
		{"nil one side", nil, "x", false},
		{"string", "SYNCED", "SYNCED", true},
		{"int vs int64", 8, int64(8), true},
		{"int mismatch", 8, int64(7), false},
		{"bool vs int64", true, int64(1), true},
		{"float vs decimal text", 17.0, "17", true},
		{"float vs padded decimal text", 8.5, "8.50", true},
		{"float vs garbage", 8.5, "abc", false},
		{"string vs int", "8", int64(8), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stateValuesEqual(tt.expected, tt.actual))
		})
	}
}

func TestMatchArgs(t *testing.T) {
	actual := map[string]any{
		"mode":  "ONLINE",
		"count": 1,
		"keys":  []any{"local-0001"},
	}

	assert.True(t, matchArgs(actual, nil))
	assert.True(t, matchArgs(actual, map[string]any{"mode": "ONLINE"}))
	assert.True(t, matchArgs(actual, map[string]any{"keys": []any{"local-0001"}, "count": 1}))
	assert.False(t, matchArgs(actual, map[string]any{"mode": "OFFLINE"}))
	assert.False(t, matchArgs(actual, map[string]any{"pending": 0}))
	assert.False(t, matchArgs(nil, map[string]any{"mode": "ONLINE"}))
}

func TestEvaluateAssertions_FinalStateNeedsQuery(t *testing.T) {
	result := NewResult()
	errs := EvaluateAssertions(result, []Assertion{
		{Type: AssertFinalState, Table: "products", Expect: map[string]any{"code": "123"}},
		{Type: "bogus"},
	}, nil)
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0], "requires database context")
	assert.Contains(t, errs[1], `unknown assertion type "bogus"`)
}

func TestEvaluateAssertions_RoutesStore(t *testing.T) {
	st := seededStore(t)
	var asked []string
	actx := &AssertionContext{
		Ctx: context.Background(),
		Query: func(ctx context.Context, which string, fn func(*store.Store) error) error {
			asked = append(asked, which)
			return fn(st)
		},
	}

	errs := EvaluateAssertions(NewResult(), []Assertion{
		{Type: AssertFinalState, Table: "products", Where: map[string]any{"code": "789"}, Expect: map[string]any{"stock_quantity": 24}},
		{Type: AssertFinalState, Store: StoreAuthority, Table: "products", Where: map[string]any{"code": "456"}, Expect: map[string]any{"stock_quantity": 40}},
	}, actx)
	assert.Empty(t, errs)
	assert.Equal(t, []string{StoreTerminal, StoreAuthority}, asked)
}
