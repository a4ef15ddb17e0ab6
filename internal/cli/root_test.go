package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "posync", cmd.Use)
	assert.Contains(t, cmd.Long, "offline-first")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := [][]string{
		{"run"}, {"status"}, {"sync"}, {"backup"}, {"optimize"}, {"scenario"},
		{"product", "find"}, {"product", "search"},
		{"sale", "create"},
		{"stock", "adjust"},
		{"queue", "failed"}, {"queue", "export"}, {"queue", "requeue"},
		{"authority", "serve"}, {"authority", "import"},
	}

	for _, path := range commands {
		name := path[len(path)-1]
		t.Run(name, func(t *testing.T) {
			subCmd, _, err := cmd.Find(path)
			require.NoError(t, err, "Command %v should exist", path)
			require.NotNil(t, subCmd)
			assert.Equal(t, name, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)
	assert.Equal(t, DefaultConfigPath, configFlag.DefValue)
}

func TestSaleCreateFlags(t *testing.T) {
	cmd := NewRootCommand()
	create, _, err := cmd.Find([]string{"sale", "create"})
	require.NoError(t, err)

	lineFlag := create.Flags().Lookup("line")
	require.NotNil(t, lineFlag)
	assert.Equal(t, "l", lineFlag.Shorthand)

	paymentFlag := create.Flags().Lookup("payment")
	require.NotNil(t, paymentFlag)
	assert.Equal(t, "cash", paymentFlag.DefValue)
}

func TestAuthorityCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	serve, _, err := cmd.Find([]string{"authority", "serve"})
	require.NoError(t, err)

	dbFlag := serve.InheritedFlags().Lookup("db")
	require.NotNil(t, dbFlag)
	// --db is required, so default is empty
	assert.Equal(t, "", dbFlag.DefValue)

	addrFlag := serve.Flags().Lookup("addr")
	require.NotNil(t, addrFlag)
	assert.Equal(t, ":8080", addrFlag.DefValue)
}

func TestScenarioCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	scenarioCmd, _, err := cmd.Find([]string{"scenario"})
	require.NoError(t, err)

	updateFlag := scenarioCmd.Flags().Lookup("update")
	require.NotNil(t, updateFlag)
	assert.Equal(t, "false", updateFlag.DefValue)

	require.NotNil(t, scenarioCmd.Flags().Lookup("filter"))
}

func TestFormatValidation(t *testing.T) {
	assert.True(t, isValidFormat("text"))
	assert.True(t, isValidFormat("json"))

	assert.False(t, isValidFormat("xml"))
	assert.False(t, isValidFormat(""))
	assert.False(t, isValidFormat("TEXT"))
}

func TestFormatValidationIntegration(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	cmd.SetArgs([]string{"--format", "invalid", "status"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestParseLine(t *testing.T) {
	line, err := parseLine("123:2")
	require.NoError(t, err)
	assert.Equal(t, "123", line.Code)
	assert.Equal(t, int64(2), line.Quantity)

	line, err = parseLine(" 7791234567890 ")
	require.NoError(t, err)
	assert.Equal(t, "7791234567890", line.Code)
	assert.Equal(t, int64(1), line.Quantity)

	_, err = parseLine(":3")
	assert.Error(t, err)
	_, err = parseLine("123:two")
	assert.Error(t, err)
}
