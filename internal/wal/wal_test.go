package wal

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvusdb/corvus/internal/types"
)

func corruptCheckpointFile(t *testing.T, dir, ts string) {
	t.Helper()
	path := filepath.Join(dir, checkpointFileName(ts))
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
}

func TestAppendThenReadAll(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir)
	require.NoError(t, err)
	defer w.Close()

	entry := types.WALEntry{
		TransactionID: "tx1",
		Timestamp:     time.Now(),
		Operation:     types.OpInsert,
		DBName:        "shop",
		Collection:    "users",
		DocumentID:    "a",
		AfterState:    types.Document{"_id": "a"},
	}
	require.NoError(t, w.Append(entry))

	entries, err := ReadAll(dir, "shop")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "tx1", entries[0].TransactionID)
}

func TestReadAllOnMissingFileReturnsEmpty(t *testing.T) {
	entries, err := ReadAll(t.TempDir(), "missing")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCompactKeepsOnlyEntriesAfterCutoff(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir)
	require.NoError(t, err)

	old := time.Now().Add(-time.Hour)
	require.NoError(t, w.Append(types.WALEntry{TransactionID: "old", Timestamp: old, DBName: "shop"}))

	cutoff := time.Now()
	require.NoError(t, w.Append(types.WALEntry{TransactionID: "new", Timestamp: cutoff.Add(time.Minute), DBName: "shop"}))
	w.Close()

	require.NoError(t, Compact(dir, "shop", cutoff))

	entries, err := ReadAll(dir, "shop")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "new", entries[0].TransactionID)
}

func TestWriteCheckpointPrunesToRetainCount(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 7; i++ {
		ts := base.Add(time.Duration(i) * time.Minute)
		cp := types.Checkpoint{Timestamp: ts, ActiveTransactions: map[string][]string{}}
		require.NoError(t, WriteCheckpoint(dir, ts.Format("20060102_150405"), cp, 5))
	}

	names, err := ListCheckpointFiles(dir)
	require.NoError(t, err)
	assert.Len(t, names, 5)
}

func TestLatestCheckpointSkipsCorruptFiles(t *testing.T) {
	dir := t.TempDir()
	ts1 := "20260101_000000"
	ts2 := "20260101_000001"

	cp := types.Checkpoint{Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	require.NoError(t, WriteCheckpoint(dir, ts1, cp, 5))
	require.NoError(t, WriteCheckpoint(dir, ts2, types.Checkpoint{Timestamp: cp.Timestamp.Add(time.Second)}, 5))

	// Corrupt the newest file.
	corruptCheckpointFile(t, dir, ts2)

	got, err := LatestCheckpoint(dir)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, cp.Timestamp, got.Timestamp)
}

func TestLatestCheckpointReturnsNilWhenDirEmpty(t *testing.T) {
	got, err := LatestCheckpoint(t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, got)
}
