package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/posync/internal/authority"
	"github.com/roach88/posync/internal/store"
	"github.com/roach88/posync/internal/testutil"
)

// cliEnv is a shared-topology terminal: a seeded primary on a "share"
// directory, a backup path and a config file pointing at both.
type cliEnv struct {
	dir     string
	config  string
	primary string
	clock   *testutil.ManualClock
	ids     *testutil.SequentialIDs
}

func newSharedEnv(t *testing.T) *cliEnv {
	t.Helper()
	dir := t.TempDir()
	share := filepath.Join(dir, "share")
	require.NoError(t, os.MkdirAll(share, 0o755))

	env := &cliEnv{
		dir:     dir,
		config:  filepath.Join(dir, "posync.yaml"),
		primary: filepath.Join(share, "primary.db"),
		clock:   testutil.NewManualClock(testutil.Epoch),
		ids:     testutil.NewSequentialIDs("cli"),
	}

	st, err := store.Open(env.primary, store.Shared)
	require.NoError(t, err)
	require.NoError(t, authority.NewStore(st).WithClock(env.clock.Now).Import(context.Background(), testutil.Catalog()))
	require.NoError(t, st.Close())

	cfg := fmt.Sprintf("terminal_id: T9\ntopology: shared\nprimary_path: %s\nbackup_path: %s\nmax_attempts: 3\n",
		env.primary, filepath.Join(dir, "backup.db"))
	require.NoError(t, os.WriteFile(env.config, []byte(cfg), 0o644))
	return env
}

// run executes one CLI invocation against the environment and returns
// its stdout.
func (e *cliEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return e.runContext(t, context.Background(), args...)
}

func (e *cliEnv) runContext(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand(&RootOptions{Clock: e.clock, NewID: e.ids.Next})
	out, diag := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(diag)
	cmd.SetArgs(append([]string{"--config", e.config}, args...))
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func (e *cliEnv) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := e.run(t, args...)
	require.NoError(t, err, out)
	return out
}

func decodeData(t *testing.T, out string, into any) {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "ok", resp.Status, out)
	require.NoError(t, json.Unmarshal(resp.Data, into))
}

func golden(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestProductFind_Text(t *testing.T) {
	env := newSharedEnv(t)
	out := env.mustRun(t, "product", "find", "123")
	golden(t).Assert(t, "product_find", []byte(out))
}

func TestProductFind_ByEANAsJSON(t *testing.T) {
	env := newSharedEnv(t)
	out := env.mustRun(t, "--format", "json", "product", "find", "7791234567890")

	var p struct {
		Code          string `json:"code"`
		Price         string `json:"price"`
		StockQuantity int64  `json:"stock_quantity"`
	}
	decodeData(t, out, &p)
	assert.Equal(t, "123", p.Code)
	assert.Equal(t, int64(10), p.StockQuantity)
}

func TestProductFind_NotFound(t *testing.T) {
	env := newSharedEnv(t)
	out, err := env.run(t, "product", "find", "000")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [NOT_FOUND]")
}

func TestProductSearch(t *testing.T) {
	env := newSharedEnv(t)

	out := env.mustRun(t, "product", "search", "leche")
	assert.Contains(t, out, "Leche Entera")
	assert.NotContains(t, out, "Azúcar")

	out = env.mustRun(t, "product", "search", "vino")
	assert.Equal(t, "No products match \"vino\"\n", out)
}

func TestSaleCreate_Text(t *testing.T) {
	env := newSharedEnv(t)
	out := env.mustRun(t, "sale", "create", "--line", "123:2", "--payment", "cash")
	golden(t).Assert(t, "sale_create", []byte(out))

	out = env.mustRun(t, "--format", "json", "product", "find", "123")
	var p struct {
		StockQuantity int64 `json:"stock_quantity"`
	}
	decodeData(t, out, &p)
	assert.Equal(t, int64(8), p.StockQuantity)
}

func TestSaleCreate_JSON(t *testing.T) {
	env := newSharedEnv(t)
	out := env.mustRun(t, "--format", "json", "sale", "create", "-l", "456:1", "-l", "789:2", "-p", "card")

	var sale struct {
		LocalID       string `json:"local_id"`
		PaymentMethod string `json:"payment_method"`
		Synced        bool   `json:"synced"`
		Lines         []any  `json:"lines"`
	}
	decodeData(t, out, &sale)
	assert.Equal(t, "cli-0001", sale.LocalID)
	assert.Equal(t, "card", sale.PaymentMethod)
	assert.True(t, sale.Synced)
	assert.Len(t, sale.Lines, 2)
}

func TestSaleCreate_Rejected(t *testing.T) {
	env := newSharedEnv(t)

	out, err := env.run(t, "sale", "create", "--line", "123:11")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [VALIDATION_FAILURE]")

	_, err = env.run(t, "sale", "create", "--line", "123:x")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = env.run(t, "sale", "create")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}

func TestStockAdjust(t *testing.T) {
	env := newSharedEnv(t)

	out := env.mustRun(t, "stock", "adjust", "--reason", "breakage", "456", "-3")
	assert.Equal(t, "✓ Adjusted 456 by -3 (cli-0001)\n", out)

	out = env.mustRun(t, "--format", "json", "product", "find", "456")
	var p struct {
		StockQuantity int64 `json:"stock_quantity"`
	}
	decodeData(t, out, &p)
	assert.Equal(t, int64(37), p.StockQuantity)

	_, err := env.run(t, "stock", "adjust", "456", "0")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestStatusAndSync(t *testing.T) {
	env := newSharedEnv(t)

	out := env.mustRun(t, "--format", "json", "status")
	var s struct {
		Connection struct {
			Mode string `json:"mode"`
		} `json:"connection"`
		PendingCount int `json:"pending_count"`
		CacheSize    int `json:"cache_size"`
	}
	decodeData(t, out, &s)
	assert.Equal(t, "ONLINE", s.Connection.Mode)
	assert.Zero(t, s.PendingCount)
	assert.Equal(t, 3, s.CacheSize)

	out = env.mustRun(t, "sync")
	assert.Contains(t, out, "✓ In sync")
	assert.Contains(t, out, "mode:      ONLINE")
	assert.Contains(t, out, "cache:     3 products")
}

func TestReadCommands_RemoteStayOffTheNetwork(t *testing.T) {
	var hits atomic.Int32
	hang := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-hang
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(hang) })

	dir := t.TempDir()
	env := &cliEnv{
		dir:    dir,
		config: filepath.Join(dir, "posync.yaml"),
		clock:  testutil.NewManualClock(testutil.Epoch),
		ids:    testutil.NewSequentialIDs("cli"),
	}
	cfg := fmt.Sprintf("terminal_id: T9\ntopology: remote\nauthority_url: %s\nbackup_path: %s\n",
		srv.URL, filepath.Join(dir, "local.db"))
	require.NoError(t, os.WriteFile(env.config, []byte(cfg), 0o644))

	out := env.mustRun(t, "--format", "json", "status")
	var s struct {
		Connection struct {
			Mode string `json:"mode"`
		} `json:"connection"`
	}
	decodeData(t, out, &s)
	assert.Equal(t, "OFFLINE", s.Connection.Mode)

	out = env.mustRun(t, "queue", "failed")
	assert.Equal(t, "No failed operations\n", out)
	out = env.mustRun(t, "product", "search", "leche")
	assert.Contains(t, out, "No products match")

	assert.Zero(t, hits.Load())
}

func TestQueueCommands(t *testing.T) {
	env := newSharedEnv(t)

	out := env.mustRun(t, "queue", "failed")
	assert.Equal(t, "No failed operations\n", out)

	exported := filepath.Join(env.dir, "failed.json")
	out = env.mustRun(t, "queue", "export", "--out", exported)
	assert.Contains(t, out, "Exported 0 operation(s)")
	data, err := os.ReadFile(exported)
	require.NoError(t, err)
	assert.Equal(t, "[]\n", string(data))

	out, err = env.run(t, "queue", "requeue", "42")
	require.Error(t, err)
	assert.Contains(t, out, "Error [")

	_, err = env.run(t, "queue", "requeue", "forty-two")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestBackupAndOptimize(t *testing.T) {
	env := newSharedEnv(t)
	dest := filepath.Join(env.dir, "copy.db")

	out := env.mustRun(t, "backup", "--out", dest)
	assert.Equal(t, fmt.Sprintf("✓ Backup written to %s\n", dest), out)
	_, err := os.Stat(dest)
	require.NoError(t, err)

	_, err = env.run(t, "backup", "--out", dest)
	require.Error(t, err, "existing destination must not be overwritten")

	out = env.mustRun(t, "optimize")
	assert.Contains(t, out, "✓ Checkpointed")
}

func TestMissingConfig(t *testing.T) {
	cmd := newRootCommand(&RootOptions{})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "nope.yaml"), "status"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load config")
}

func TestAuthorityImport(t *testing.T) {
	db := filepath.Join(t.TempDir(), "authority.db")
	cmd := newRootCommand(&RootOptions{})
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"authority", "import", "--db", db, "../authority/testdata/catalog.yaml"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, fmt.Sprintf("✓ Imported 3 product(s) into %s\n", db), out.String())

	st, err := store.Open(db, store.Local)
	require.NoError(t, err)
	defer st.Close()
	var n int
	require.NoError(t, st.DB().QueryRow(`SELECT COUNT(*) FROM products`).Scan(&n))
	assert.Equal(t, 3, n)
}

func TestAuthorityImport_BadCatalog(t *testing.T) {
	dir := t.TempDir()
	catalog := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(catalog, []byte("products:\n  - { id: 1, code: \"1\", description: x, price: free, stock: 1 }\n"), 0o644))

	cmd := newRootCommand(&RootOptions{})
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"authority", "import", "--db", filepath.Join(dir, "a.db"), catalog})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out.String(), "Error [VALIDATION_FAILURE]")
}
