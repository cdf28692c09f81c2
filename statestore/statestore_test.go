package statestore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInMemoryStoreRoundTrip(t *testing.T) {
	var s = New()
	require.NoError(t, s.SetStreamCursor("widgets", "2024-01-02"))
	cursor, ok := s.StreamCursor("widgets")
	require.True(t, ok)
	require.Equal(t, "2024-01-02", cursor)
}

func TestPartitionCursorAndCompletion(t *testing.T) {
	var s = New()
	require.NoError(t, s.SetPartitionCursor("orders", "p1", "abc"))
	require.NoError(t, s.SetPartitionCompleted("orders", "p1", true))

	cursor, ok := s.PartitionCursor("orders", "p1")
	require.True(t, ok)
	require.Equal(t, "abc", cursor)
	require.True(t, s.PartitionCompleted("orders", "p1"))
	require.False(t, s.PartitionCompleted("orders", "p2"))
}

func TestSaveWritesAtomicallyAndLoadFileRoundTrips(t *testing.T) {
	var dir = t.TempDir()
	var path = filepath.Join(dir, "state.json")

	var s = New(WithPath(path))
	require.NoError(t, s.SetStreamCursor("widgets", "cursor-1"))
	require.NoError(t, s.Save())

	var loaded, err = LoadFile(path)
	require.NoError(t, err)
	cursor, ok := loaded.StreamCursor("widgets")
	require.True(t, ok)
	require.Equal(t, "cursor-1", cursor)
}

func TestLoadFileMissingIsEmptyDocument(t *testing.T) {
	var dir = t.TempDir()
	var s, err = LoadFile(filepath.Join(dir, "missing.json"))
	require.NoError(t, err)
	_, ok := s.StreamCursor("widgets")
	require.False(t, ok)
}

func TestAutoSavePersistsOnEveryMutation(t *testing.T) {
	var dir = t.TempDir()
	var path = filepath.Join(dir, "state.json")
	var s = New(WithPath(path), WithAutoSave())

	require.NoError(t, s.SetStreamCursor("widgets", "c1"))

	var loaded, err = LoadFile(path)
	require.NoError(t, err)
	cursor, ok := loaded.StreamCursor("widgets")
	require.True(t, ok)
	require.Equal(t, "c1", cursor)
}

func TestSnapshotReflectsMutations(t *testing.T) {
	var s = New()
	require.NoError(t, s.SetStreamCursor("widgets", "c1"))
	raw, err := s.Snapshot()
	require.NoError(t, err)
	require.Contains(t, string(raw), "c1")
}
