package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Equal(t, "stratbot dev\n", out.String())
}

func TestConfigCommand_Redacts(t *testing.T) {
	t.Setenv("STRATBOT_AI_API_KEY", "sk-secret")

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"config", "--config", ""})

	require.NoError(t, root.Execute())
	assert.NotContains(t, out.String(), "sk-secret")
	assert.Contains(t, out.String(), `api_key = "***"`)
	assert.Contains(t, out.String(), `mode = "full"`)
}

func TestRootCommand_InvalidMode(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"--config", "", "--mode", "trade"})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown mode "trade"`)
}
