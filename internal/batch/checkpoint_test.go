package batch

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileCheckpointStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	store := NewFileCheckpointStore(path)

	cp := NewCheckpoint("run-1")
	cp.BatchID = "msgbatch_abc"
	cp.MarkProcessed(93)
	cp.MarkProcessed(148)
	cp.Counters.Submitted = 3
	cp.Counters.Succeeded = 2
	cp.CountField("circumstances")
	cp.CountField("circumstances")
	require.NoError(t, store.Save(cp))

	got, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, "msgbatch_abc", got.BatchID)
	assert.True(t, got.IsProcessed(93))
	assert.True(t, got.IsProcessed(148))
	assert.False(t, got.IsProcessed(7))
	assert.Equal(t, 3, got.Counters.Submitted)
	assert.Equal(t, 2, got.Counters.FieldUpdates["circumstances"])
}

func TestFileCheckpointStoreLoadMissing(t *testing.T) {
	store := NewFileCheckpointStore(filepath.Join(t.TempDir(), "absent.json"))

	got, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestFileCheckpointStoreSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store := NewFileCheckpointStore(filepath.Join(dir, "checkpoint.json"))

	cp := NewCheckpoint("run-1")
	require.NoError(t, store.Save(cp))
	cp.MarkProcessed(1)
	require.NoError(t, store.Save(cp))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "checkpoint.json", entries[0].Name())
}

func TestFileCheckpointStoreRejectsUnknownVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	raw, err := json.Marshal(map[string]any{"version": 99, "run_id": "run-1"})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	_, err = NewFileCheckpointStore(path).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "version")
}

func TestFileCheckpointStoreRemoveIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	store := NewFileCheckpointStore(path)

	require.NoError(t, store.Save(NewCheckpoint("run-1")))
	require.NoError(t, store.Remove())
	require.NoError(t, store.Remove())

	got, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, got)
}
