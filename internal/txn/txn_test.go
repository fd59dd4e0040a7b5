package txn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreerrors "github.com/corvusdb/corvus/internal/errors"
	"github.com/corvusdb/corvus/internal/types"
)

func newManager(t *testing.T) *Manager {
	t.Helper()
	dir := t.TempDir()
	m, err := New(dir+"/logs", dir+"/checkpoints", 30*time.Second, 0, 5, nil)
	require.NoError(t, err)
	return m
}

func TestBeginStateIsActive(t *testing.T) {
	m := newManager(t)
	tx := m.Begin(types.Serializable)
	state, ok := m.State(tx)
	require.True(t, ok)
	assert.Equal(t, types.TxActive, state)
}

func TestCommitReleasesLocksAndIsTerminal(t *testing.T) {
	m := newManager(t)
	tx := m.Begin(types.Serializable)
	require.NoError(t, m.Acquire("db", "c", "doc1", types.LockWrite, tx))

	require.NoError(t, m.Commit(tx))
	state, _ := m.State(tx)
	assert.Equal(t, types.TxCommitted, state)

	// Locks must be fully released: another transaction can take it.
	tx2 := m.Begin(types.Serializable)
	require.NoError(t, m.Acquire("db", "c", "doc1", types.LockWrite, tx2))

	// A terminal transaction cannot commit or abort again.
	require.Error(t, m.Commit(tx))
	require.Error(t, m.Abort(tx))
}

func TestAbortReleasesLocks(t *testing.T) {
	m := newManager(t)
	tx := m.Begin(types.Serializable)
	require.NoError(t, m.Acquire("db", "c", "doc1", types.LockWrite, tx))
	require.NoError(t, m.Abort(tx))

	state, _ := m.State(tx)
	assert.Equal(t, types.TxAborted, state)

	tx2 := m.Begin(types.Serializable)
	require.NoError(t, m.Acquire("db", "c", "doc1", types.LockWrite, tx2))
}

func TestAcquireOnTerminalTransactionFails(t *testing.T) {
	m := newManager(t)
	tx := m.Begin(types.Serializable)
	require.NoError(t, m.Commit(tx))

	err := m.Acquire("db", "c", "doc1", types.LockWrite, tx)
	require.Error(t, err)
	assert.True(t, coreerrors.Is(err, coreerrors.KindTransactionState))
}

func TestAcquireConflictMovesTransactionToBlocked(t *testing.T) {
	m := newManager(t)
	tx1 := m.Begin(types.Serializable)
	tx2 := m.Begin(types.Serializable)

	require.NoError(t, m.Acquire("db", "c", "doc1", types.LockWrite, tx1))
	err := m.Acquire("db", "c", "doc1", types.LockWrite, tx2)
	require.Error(t, err)

	state, ok := m.State(tx2)
	require.True(t, ok)
	assert.Equal(t, types.TxBlocked, state)
}

func TestLogRequiresKnownTransaction(t *testing.T) {
	m := newManager(t)
	err := m.Log("nonexistent", types.OpInsert, "db", "c", "doc1", nil, types.Document{"_id": "doc1"})
	require.Error(t, err)
	assert.True(t, coreerrors.Is(err, coreerrors.KindTransactionState))
}

func TestActiveSnapshotIncludesHeldLocks(t *testing.T) {
	m := newManager(t)
	tx := m.Begin(types.Serializable)
	require.NoError(t, m.Acquire("db", "c", "doc1", types.LockWrite, tx))

	snap := m.ActiveSnapshot()
	require.Contains(t, snap, tx)
	assert.Contains(t, snap[tx], "db/c/doc1")

	require.NoError(t, m.Commit(tx))
	snap = m.ActiveSnapshot()
	assert.NotContains(t, snap, tx)
}
