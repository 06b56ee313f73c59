package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-dev/inkwell/internal/config"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	buf := &bytes.Buffer{}
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestInitCmd_WritesConfig(t *testing.T) {
	dir := t.TempDir()

	out, err := runCommand(t, "init", "--vault", dir)
	require.NoError(t, err)
	assert.Contains(t, out, config.ConfigFileName)

	path := filepath.Join(dir, config.ConfigFileName)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "story_bible_path")

	cfg, err := config.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "characters", cfg.Vault.CharacterFolder)
}

func TestInitCmd_RefusesOverwrite(t *testing.T) {
	dir := t.TempDir()

	_, err := runCommand(t, "init", "--vault", dir)
	require.NoError(t, err)

	_, err = runCommand(t, "init", "--vault", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--force")

	_, err = runCommand(t, "init", "--vault", dir, "--force")
	assert.NoError(t, err)
}

func TestInitCmd_MissingVault(t *testing.T) {
	_, err := runCommand(t, "init", "--vault", filepath.Join(t.TempDir(), "absent"))
	assert.Error(t, err)
}
