package harness

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/roach88/posync/internal/authority"
	"github.com/roach88/posync/internal/mode"
	"github.com/roach88/posync/internal/pos"
	"github.com/roach88/posync/internal/store"
	"github.com/roach88/posync/internal/terminal"
	"github.com/roach88/posync/internal/testutil"
)

// Harness is one scenario execution: a terminal, the authority it talks
// to, and the knobs that script outages.
type Harness struct {
	topology string
	term     *terminal.Terminal
	clock    *testutil.ManualClock
	seq      int64

	// remote topology
	fake      *testutil.FakeAuthority
	authStore *store.Store

	// shared topology
	share   string
	primary string
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh temporary directory, against a real
// terminal whose outcomes are compared with the scenario's expectations.
//
// Execution flow:
// 1. Seed the authority with the scenario catalog
// 2. Open the terminal (it probes and, if reachable, pulls)
// 3. Execute setup steps
// 4. Execute flow steps with expect validation
// 5. Evaluate assertions against the trace and the stores
func Run(scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "posync-scenario-*")
	if err != nil {
		return nil, fmt.Errorf("create scenario dir: %w", err)
	}
	defer os.RemoveAll(dir)

	ctx := context.Background()
	h, err := open(ctx, dir, scenario)
	if err != nil {
		return nil, err
	}
	defer h.close()

	result := NewResult()
	if err := h.executeSetup(ctx, scenario.Setup, result); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}
	if err := h.executeFlow(ctx, scenario.Flow, result); err != nil {
		return nil, fmt.Errorf("failed to execute flow: %w", err)
	}

	actx := &AssertionContext{Ctx: ctx, Query: h.query}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func open(ctx context.Context, dir string, scenario *Scenario) (*Harness, error) {
	products := testutil.Catalog()
	if len(scenario.Catalog) > 0 {
		var err error
		if products, err = authority.Products(scenario.Catalog); err != nil {
			return nil, err
		}
	}

	h := &Harness{topology: scenario.Topology, clock: testutil.NewManualClock(testutil.Epoch)}
	opts := terminal.Options{
		TerminalID:  "T1",
		LocalPath:   filepath.Join(dir, "terminal.db"),
		Clock:       h.clock,
		NewID:       testutil.NewSequentialIDs(scenario.IDPrefix).Next,
		MaxAttempts: 3,
	}

	switch scenario.Topology {
	case TopologyShared:
		h.share = filepath.Join(dir, "share")
		h.primary = filepath.Join(h.share, "primary.db")
		if err := os.MkdirAll(h.share, 0o755); err != nil {
			return nil, err
		}
		if err := seed(ctx, h.primary, store.Shared, products, h.clock); err != nil {
			return nil, err
		}
		opts.Topology = mode.Shared
		opts.PrimaryPath = h.primary
	default:
		path := filepath.Join(dir, "authority.db")
		if err := seed(ctx, path, store.Local, products, h.clock); err != nil {
			return nil, err
		}
		st, err := store.Open(path, store.Local)
		if err != nil {
			return nil, err
		}
		h.authStore = st
		h.fake = testutil.NewFakeAuthority(authority.NewStore(st).WithClock(h.clock.Now))
		opts.Topology = mode.Remote
		opts.Authority = h.fake
	}

	t, err := terminal.Open(ctx, opts)
	if err != nil {
		h.close()
		return nil, fmt.Errorf("open terminal: %w", err)
	}
	h.term = t
	return h, nil
}

func seed(ctx context.Context, path string, profile store.Profile, products []pos.Product, clock *testutil.ManualClock) error {
	st, err := store.Open(path, profile)
	if err != nil {
		return err
	}
	defer st.Close()
	return authority.NewStore(st).WithClock(clock.Now).Import(ctx, products)
}

func (h *Harness) close() {
	if h.term != nil {
		h.term.Close()
	}
	h.authStore.Close()
}

// executeSetup runs all setup steps. Setup steps must succeed.
func (h *Harness) executeSetup(ctx context.Context, setup []ActionStep, result *Result) error {
	for i, step := range setup {
		outcome, _, err := h.step(ctx, step.Action, step.Args, result)
		if err != nil {
			return fmt.Errorf("setup step %d: %w", i, err)
		}
		if outcome != CaseOK {
			return fmt.Errorf("setup step %d: %s completed with %s", i, step.Action, outcome)
		}
	}
	return nil
}

// executeFlow runs all flow steps and validates expect clauses against
// what the terminal actually did.
func (h *Harness) executeFlow(ctx context.Context, flow []FlowStep, result *Result) error {
	for i, step := range flow {
		outcome, got, err := h.step(ctx, step.Invoke, step.Args, result)
		if err != nil {
			return fmt.Errorf("flow step %d: %w", i, err)
		}
		if step.Expect == nil {
			continue
		}
		if outcome != step.Expect.Case {
			result.AddError(fmt.Sprintf("flow[%d] %s: expected case %s, got %s %v", i, step.Invoke, step.Expect.Case, outcome, got))
			continue
		}
		if !matchArgs(got, step.Expect.Result) {
			result.AddError(fmt.Sprintf("flow[%d] %s: expected result %v, got %v", i, step.Invoke, step.Expect.Result, got))
		}
	}
	return nil
}

// step runs one action and traces it.
func (h *Harness) step(ctx context.Context, action string, args map[string]any, result *Result) (string, map[string]any, error) {
	h.seq++
	result.AddInvocationTrace(action, args, h.seq)

	got, opErr, err := h.invoke(ctx, action, args)
	if err != nil {
		return "", nil, err
	}
	outcome := CaseOK
	if opErr != nil {
		outcome = caseOf(opErr)
	} else if ok, isBool := got["ok"].(bool); isBool && !ok {
		outcome = CaseIncomplete
	}

	h.seq++
	result.AddCompletionTrace(action, outcome, got, h.seq)
	return outcome, got, nil
}

// caseOf names the completion case of a failed operation.
func caseOf(err error) string {
	if kind := pos.KindOf(err); kind != "" {
		return string(kind)
	}
	if errors.Is(err, pos.ErrNotFound) {
		return "NOT_FOUND"
	}
	return CaseError
}

// query runs fn against the store an assertion names.
func (h *Harness) query(ctx context.Context, which string, fn func(*store.Store) error) error {
	if which == StoreAuthority {
		if h.authStore != nil {
			return fn(h.authStore)
		}
		st, err := store.Open(h.primary, store.Shared)
		if err != nil {
			return err
		}
		defer st.Close()
		return fn(st)
	}
	return h.term.Inspect(ctx, fn)
}
