package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Equal(t, "hamon-engine "+version+"\n", out.String())
}

func TestRootCommand_Subcommands(t *testing.T) {
	root := newRootCommand()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"serve", "healthcheck", "analyze", "dispatch", "flush", "migrate", "version"} {
		assert.Contains(t, names, want)
	}

	migrateCmd, _, err := root.Find([]string{"migrate", "status"})
	require.NoError(t, err)
	assert.Equal(t, "status", migrateCmd.Name())
}

func TestLoadConfig_InvalidBackend(t *testing.T) {
	t.Setenv("HAMON_METRIC_STORE", "cassandra")
	_, err := loadConfig(t.Context(), &rootFlags{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "metric_store.backend")
}

func TestLoadConfig_DebugFlag(t *testing.T) {
	cfg, err := loadConfig(t.Context(), &rootFlags{debug: true})
	require.NoError(t, err)
	assert.True(t, cfg.Logging.Debug)
	assert.Equal(t, version, cfg.Logging.Release)
}
