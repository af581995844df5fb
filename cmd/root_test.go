package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	expected := []string{"discover", "rebuild", "queue", "export", "targets", "strategy", "migrate", "serve"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "speedrun", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestDiscoverCommand_Flags(t *testing.T) {
	for _, name := range []string{"company-id", "workspace", "employees", "flag-large", "profiles", "companies", "concurrency", "retry-failed", "limit", "json"} {
		assert.NotNil(t, discoverCmd.Flags().Lookup(name), "discover should have --%s", name)
	}
	assert.Equal(t, "100", discoverCmd.Flags().Lookup("limit").DefValue)
}

func TestQueueCommand_Flags(t *testing.T) {
	format := queueCmd.Flags().Lookup("format")
	require.NotNil(t, format)
	assert.Equal(t, "table", format.DefValue)

	assert.NotNil(t, queueCmd.PersistentFlags().Lookup("workspace"))

	var hasExplain bool
	for _, c := range queueCmd.Commands() {
		if c.Name() == "explain" {
			hasExplain = true
		}
	}
	assert.True(t, hasExplain, "queue should have an explain subcommand")
}

func TestExportCommand_Flags(t *testing.T) {
	flag := exportCmd.Flags().Lookup("format")
	require.NotNil(t, flag)
	assert.Equal(t, "csv", flag.DefValue)
	assert.Equal(t, "o", exportCmd.Flags().Lookup("output").Shorthand)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}
