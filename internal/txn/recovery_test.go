package txn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvusdb/corvus/internal/catalog"
	"github.com/corvusdb/corvus/internal/storage"
	"github.com/corvusdb/corvus/internal/types"
	"github.com/corvusdb/corvus/internal/wal"
)

// An entry with no commit marker after the checkpoint timestamp must be
// undone by restoring before_state.
func TestRecoveryUndoesUncommittedTransaction(t *testing.T) {
	dataDir := t.TempDir()
	cat := catalog.New(dataDir)
	require.NoError(t, cat.EnsureRoot())
	require.NoError(t, cat.EnsureDB("shop"))

	store := storage.NewStore()
	collPath := cat.CollectionPath("shop", "users")
	require.NoError(t, store.Save(collPath, []types.Document{{"_id": "a", "name": "original"}}))

	m, err := New(cat.WALDir(), cat.CheckpointDir(), 30*time.Second, 0, 5, nil)
	require.NoError(t, err)

	checkpointTime := time.Now()
	require.NoError(t, wal.WriteCheckpoint(cat.CheckpointDir(), checkpointTime.Format("20060102_150405"),
		types.Checkpoint{Timestamp: checkpointTime, ActiveTransactions: map[string][]string{}}, 5))

	// A transaction writes a new value but never commits (simulated crash).
	tx := m.Begin(types.Serializable)
	require.NoError(t, m.Acquire("shop", "users", "a", types.LockWrite, tx))
	require.NoError(t, m.Log(tx, types.OpUpdate, "shop", "users", "a",
		types.Document{"_id": "a", "name": "original"},
		types.Document{"_id": "a", "name": "uncommitted"}))
	require.NoError(t, store.Save(collPath, []types.Document{{"_id": "a", "name": "uncommitted"}}))
	// Note: no Commit call — the process "crashed" here.

	ok, _ := m.Recover(cat, store)
	require.True(t, ok)

	docs, err := store.Load(collPath)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "original", docs[0]["name"])
}

// A transaction with a commit marker after the checkpoint is redone
// idempotently (relevant when after_state was logged but the collection
// write itself never made it to disk before a crash).
func TestRecoveryRedoesCommittedTransaction(t *testing.T) {
	dataDir := t.TempDir()
	cat := catalog.New(dataDir)
	require.NoError(t, cat.EnsureRoot())
	require.NoError(t, cat.EnsureDB("shop"))

	store := storage.NewStore()
	collPath := cat.CollectionPath("shop", "users")
	require.NoError(t, store.Save(collPath, []types.Document{{"_id": "a", "name": "original"}}))

	m, err := New(cat.WALDir(), cat.CheckpointDir(), 30*time.Second, 0, 5, nil)
	require.NoError(t, err)

	checkpointTime := time.Now()
	require.NoError(t, wal.WriteCheckpoint(cat.CheckpointDir(), checkpointTime.Format("20060102_150405"),
		types.Checkpoint{Timestamp: checkpointTime, ActiveTransactions: map[string][]string{}}, 5))

	tx := m.Begin(types.Serializable)
	require.NoError(t, m.Acquire("shop", "users", "a", types.LockWrite, tx))
	require.NoError(t, m.Log(tx, types.OpUpdate, "shop", "users", "a",
		types.Document{"_id": "a", "name": "original"},
		types.Document{"_id": "a", "name": "committed"}))
	require.NoError(t, m.Commit(tx))
	// Collection write never landed on disk before the simulated crash.

	ok, _ := m.Recover(cat, store)
	require.True(t, ok)

	docs, err := store.Load(collPath)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "committed", docs[0]["name"])
}

func TestRecoverWithNoCheckpointStartsFresh(t *testing.T) {
	dataDir := t.TempDir()
	cat := catalog.New(dataDir)
	require.NoError(t, cat.EnsureRoot())

	m, err := New(cat.WALDir(), cat.CheckpointDir(), 30*time.Second, 0, 5, nil)
	require.NoError(t, err)

	store := storage.NewStore()
	ok, msg := m.Recover(cat, store)
	assert.True(t, ok)
	assert.Contains(t, msg, "no checkpoint")
}
