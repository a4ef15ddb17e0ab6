package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Shared(t *testing.T) {
	cfg, err := Load("testdata/shared.yaml")
	require.NoError(t, err)

	assert.Equal(t, "caja-01", cfg.TerminalID)
	assert.Equal(t, TopologyShared, cfg.Topology)
	assert.Equal(t, "/mnt/pos/primary.db", cfg.PrimaryPath)
	assert.Equal(t, 3*time.Second, cfg.ProbeInterval)
	assert.Equal(t, 2*time.Minute, cfg.PullInterval)
	assert.Equal(t, 5, cfg.MaxAttempts)

	// Unset fields keep their defaults.
	assert.Equal(t, 30*time.Second, cfg.PushInterval)
	assert.Equal(t, 20, cfg.SearchLimit)
}

func TestLoad_Remote(t *testing.T) {
	cfg, err := Load("testdata/remote.yaml")
	require.NoError(t, err)

	assert.Equal(t, TopologyRemote, cfg.Topology)
	assert.Equal(t, "http://10.0.0.5:8080", cfg.AuthorityURL)
	assert.Equal(t, 2*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 3, cfg.Retries)
	assert.Equal(t, 250*time.Millisecond, cfg.RetryDelay)
	assert.Equal(t, 50, cfg.SearchLimit)
}

func TestParse_RejectsSchemaViolations(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown key", "terminal_id: a\ntopology: remote\nauthority_url: http://x\nbackup_path: l.db\ncolour: blue\n"},
		{"bad topology", "terminal_id: a\ntopology: mesh\n"},
		{"missing terminal id", "topology: remote\nauthority_url: http://x\nbackup_path: l.db\n"},
		{"shared without primary", "terminal_id: a\ntopology: shared\nbackup_path: b.db\n"},
		{"remote without url", "terminal_id: a\ntopology: remote\nbackup_path: l.db\n"},
		{"url without scheme", "terminal_id: a\ntopology: remote\nauthority_url: 10.0.0.5\nbackup_path: l.db\n"},
		{"numeric duration", "terminal_id: a\ntopology: remote\nauthority_url: http://x\nbackup_path: l.db\nprobe_interval: 5\n"},
		{"bad duration", "terminal_id: a\ntopology: remote\nauthority_url: http://x\nbackup_path: l.db\npull_interval: soon\n"},
		{"too many retries", "terminal_id: a\ntopology: remote\nauthority_url: http://x\nbackup_path: l.db\nretries: 11\n"},
		{"zero max attempts", "terminal_id: a\ntopology: remote\nauthority_url: http://x\nbackup_path: l.db\nmax_attempts: 0\n"},
		{"search limit", "terminal_id: a\ntopology: remote\nauthority_url: http://x\nbackup_path: l.db\nsearch_limit: 500\n"},
		{"empty document", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.name, []byte(tt.doc))
			require.Error(t, err)
			assert.True(t, IsValidationError(err), "got %v", err)
		})
	}
}

func TestParse_MalformedYAML(t *testing.T) {
	_, err := Parse("broken", []byte("terminal_id: [unclosed"))
	require.Error(t, err)
	assert.False(t, IsValidationError(err))
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidationError_Message(t *testing.T) {
	_, err := Parse("t.yaml", []byte("terminal_id: a\ntopology: mesh\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config t.yaml")
}
