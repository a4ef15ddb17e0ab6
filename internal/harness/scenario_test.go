package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalScenario = `
name: test_scenario
description: "Test scenario for validation"
flow:
  - invoke: product.find
    args:
      code: "123"
assertions:
  - type: trace_contains
    action: product.find
`

func TestLoadScenario_ValidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalScenario), 0o644))

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "test_scenario", scenario.Name)
	assert.Equal(t, "Test scenario for validation", scenario.Description)
	assert.Equal(t, TopologyRemote, scenario.Topology)
	assert.Len(t, scenario.Flow, 1)
	assert.Len(t, scenario.Assertions, 1)
	assert.Equal(t, ActionProductFind, scenario.Flow[0].Invoke)
	assert.Equal(t, "123", scenario.Flow[0].Args["code"])
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestParseScenario_Catalog(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: catalog
description: custom catalog
topology: shared
id_prefix: t9
catalog:
  - { id: 7, code: "777", description: Yerba 1kg, price: 4.75, stock: 12 }
flow:
  - invoke: product.find
    args: { code: "777" }
assertions:
  - type: trace_count
    action: product.find
    count: 1
`))
	require.NoError(t, err)
	assert.Equal(t, TopologyShared, scenario.Topology)
	assert.Equal(t, "t9", scenario.IDPrefix)
	require.Len(t, scenario.Catalog, 1)
	assert.Equal(t, "4.75", scenario.Catalog[0].Price)
	assert.Equal(t, int64(12), scenario.Catalog[0].Stock)
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "unknown field",
			yaml:    minimalScenario + "assertion: []\n",
			wantErr: "field assertion not found",
		},
		{
			name: "missing name",
			yaml: `
description: d
flow: [{ invoke: terminal.status }]
assertions: [{ type: trace_count, action: terminal.status, count: 1 }]
`,
			wantErr: "name is required",
		},
		{
			name: "missing description",
			yaml: `
name: n
flow: [{ invoke: terminal.status }]
assertions: [{ type: trace_count, action: terminal.status, count: 1 }]
`,
			wantErr: "description is required",
		},
		{
			name: "bad topology",
			yaml: `
name: n
description: d
topology: mainframe
flow: [{ invoke: terminal.status }]
assertions: [{ type: trace_count, action: terminal.status, count: 1 }]
`,
			wantErr: "topology must be",
		},
		{
			name: "empty flow",
			yaml: `
name: n
description: d
flow: []
assertions: [{ type: trace_count, action: terminal.status, count: 1 }]
`,
			wantErr: "flow list is required",
		},
		{
			name: "no assertions",
			yaml: `
name: n
description: d
flow: [{ invoke: terminal.status }]
`,
			wantErr: "assertions list is required",
		},
		{
			name: "unknown flow action",
			yaml: `
name: n
description: d
flow: [{ invoke: sale.refund }]
assertions: [{ type: trace_count, action: sale.refund, count: 1 }]
`,
			wantErr: `flow[0]: unknown action "sale.refund"`,
		},
		{
			name: "unknown setup action",
			yaml: `
name: n
description: d
setup: [{ action: printer.jam }]
flow: [{ invoke: terminal.status }]
assertions: [{ type: trace_count, action: terminal.status, count: 1 }]
`,
			wantErr: `setup[0]: unknown action "printer.jam"`,
		},
		{
			name: "expect without case",
			yaml: `
name: n
description: d
flow: [{ invoke: terminal.status, expect: { result: { mode: ONLINE } } }]
assertions: [{ type: trace_count, action: terminal.status, count: 1 }]
`,
			wantErr: "flow[0].expect: case is required",
		},
		{
			name: "bad catalog price",
			yaml: `
name: n
description: d
catalog: [{ id: 1, code: "1", description: x, price: cheap, stock: 1 }]
flow: [{ invoke: terminal.status }]
assertions: [{ type: trace_count, action: terminal.status, count: 1 }]
`,
			wantErr: "catalog:",
		},
		{
			name: "final_state without table",
			yaml: `
name: n
description: d
flow: [{ invoke: terminal.status }]
assertions: [{ type: final_state, expect: { stock_quantity: 1 } }]
`,
			wantErr: "table is required for final_state",
		},
		{
			name: "final_state without expect",
			yaml: `
name: n
description: d
flow: [{ invoke: terminal.status }]
assertions: [{ type: final_state, table: products }]
`,
			wantErr: "expect is required for final_state",
		},
		{
			name: "final_state bad store",
			yaml: `
name: n
description: d
flow: [{ invoke: terminal.status }]
assertions: [{ type: final_state, store: cloud, table: products, expect: { x: 1 } }]
`,
			wantErr: "store must be",
		},
		{
			name: "trace_order without actions",
			yaml: `
name: n
description: d
flow: [{ invoke: terminal.status }]
assertions: [{ type: trace_order }]
`,
			wantErr: "actions list is required for trace_order",
		},
		{
			name: "unknown assertion type",
			yaml: `
name: n
description: d
flow: [{ invoke: terminal.status }]
assertions: [{ type: eventually }]
`,
			wantErr: `unknown assertion type "eventually"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestTestdataScenariosParse(t *testing.T) {
	files, err := FindScenarioFiles("testdata/scenarios", "")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, file := range files {
		_, err := LoadScenario(file)
		assert.NoError(t, err, file)
	}
}
