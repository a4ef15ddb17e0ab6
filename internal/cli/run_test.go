package cli

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunStopsOnContextCancel(t *testing.T) {
	env := newSharedEnv(t)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	out, err := env.runContext(t, ctx, "run")
	require.NoError(t, err)
	assert.Contains(t, out, "Terminal T9 running.")
	assert.Contains(t, out, "Press Ctrl-C to stop.")
}

func TestRunRejectsArgs(t *testing.T) {
	env := newSharedEnv(t)
	_, err := env.run(t, "run", "extra")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command")
}

func TestRunBadConfig(t *testing.T) {
	env := newSharedEnv(t)
	env.config = env.dir // a directory is not a config file

	_, err := env.run(t, "run")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
