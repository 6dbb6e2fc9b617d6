package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoadJSON_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	in := map[string]int{"a": 1, "b": 2}
	require.NoError(t, saveJSON(path, in))

	out := make(map[string]int)
	ok, err := loadJSON(path, &out)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, in, out)
}

func TestLoadJSON_MissingFileIsNotAnError(t *testing.T) {
	out := make(map[string]int)
	ok, err := loadJSON(filepath.Join(t.TempDir(), "absent.json"), &out)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, out)
}

func TestSaveJSON_ReplacesExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	require.NoError(t, saveJSON(path, map[string]string{"v": "one"}))
	require.NoError(t, saveJSON(path, map[string]string{"v": "two"}))

	out := make(map[string]string)
	_, err := loadJSON(path, &out)
	require.NoError(t, err)
	assert.Equal(t, "two", out["v"])
}

func TestSaveJSON_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	require.NoError(t, saveJSON(path, map[string]string{"v": "one"}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "state.json", entries[0].Name())
}

func TestLoadJSON_CorruptFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	out := make(map[string]string)
	_, err := loadJSON(path, &out)
	require.Error(t, err)
}
