package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/cuemby/burrow/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestConfigCommandPrintsEffectiveSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "burrow.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers: 2\nstop_timeout: 3s\nnetwork:\n  bridge: br-test\n"), 0o644))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"config", "--config", path})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	require.NoError(t, rootCmd.Execute())

	var got config.Settings
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, 2, got.Workers)
	assert.Equal(t, "3s", got.StopTimeout.String())
	assert.Equal(t, "br-test", got.Network.Bridge)
	assert.Equal(t, config.Default().Network.Subnet, got.Network.Subnet)
}

func TestConfigCommandRejectsInvalidSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "burrow.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers: 0\n"), 0o644))

	rootCmd.SetOut(&bytes.Buffer{})
	rootCmd.SetArgs([]string{"config", "--config", path})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	assert.Error(t, rootCmd.Execute())
}
