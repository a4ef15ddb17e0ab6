package harness

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// TraceSnapshot captures the complete trace for a scenario execution.
// Maps marshal with sorted keys, so the JSON is deterministic.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Topology     string       `json:"topology"`
	Trace        []TraceEvent `json:"trace"`
}

// MarshalTrace renders a snapshot the way golden files store it.
func MarshalTrace(s TraceSnapshot) ([]byte, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if trace doesn't match golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := assertGolden(t, TraceSnapshot{
		ScenarioName: scenario.Name,
		Topology:     scenario.Topology,
		Trace:        result.Trace,
	}); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares the given result's trace against a golden file
// without re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()
	return assertGolden(t, TraceSnapshot{ScenarioName: scenarioName, Trace: result.Trace})
}

func assertGolden(t *testing.T, snapshot TraceSnapshot) error {
	t.Helper()

	traceJSON, err := MarshalTrace(snapshot)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, snapshot.ScenarioName, traceJSON)
	return nil
}
