package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadJSONMapReturnsEmptyMapForBlankPath(t *testing.T) {
	m, err := loadJSONMap("")
	require.NoError(t, err)
	require.Empty(t, m)
}

func TestLoadJSONMapParsesFile(t *testing.T) {
	var dir = t.TempDir()
	var path = filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"api_key": "secret", "region": "us"}`), 0o644))

	m, err := loadJSONMap(path)
	require.NoError(t, err)
	require.Equal(t, "secret", m["api_key"])
	require.Equal(t, "us", m["region"])
}

func TestLoadJSONMapRejectsMalformedJSON(t *testing.T) {
	var dir = t.TempDir()
	var path = filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o644))

	_, err := loadJSONMap(path)
	require.Error(t, err)
}

func TestLoadStoreReturnsFreshInMemoryStoreForBlankPath(t *testing.T) {
	store, err := loadStore("")
	require.NoError(t, err)
	require.NotNil(t, store)
	require.False(t, store.PartitionCompleted("widgets", "us"))
}

func TestLoadStoreCreatesFileOnFirstSave(t *testing.T) {
	var dir = t.TempDir()
	var path = filepath.Join(dir, "state.json")

	store, err := loadStore(path)
	require.NoError(t, err)
	require.NoError(t, store.SetPartitionCompleted("widgets", "us", true))

	_, statErr := os.Stat(path)
	require.NoError(t, statErr)
}
