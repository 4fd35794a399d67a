package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sweep.txt")
	content := "# atari sweep\nSpaceInvaders-v0\n\nBreakout-v0\n  Pong-v0  \n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	envs, err := readEnvFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"SpaceInvaders-v0", "Breakout-v0", "Pong-v0"}, envs)
}

func TestReadEnvFileEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sweep.txt")
	require.NoError(t, os.WriteFile(path, []byte("# nothing here\n\n"), 0644))

	_, err := readEnvFile(path)
	assert.Error(t, err)
}

func TestReadEnvFileMissing(t *testing.T) {
	_, err := readEnvFile(filepath.Join(t.TempDir(), "nope.txt"))
	assert.Error(t, err)
}
