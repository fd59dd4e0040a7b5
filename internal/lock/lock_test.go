package lock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreerrors "github.com/corvusdb/corvus/internal/errors"
	"github.com/corvusdb/corvus/internal/types"
)

func key(doc string) Key {
	return Key{DB: "d", Collection: "c", DocID: doc}
}

func TestAcquireUncontended(t *testing.T) {
	m := New(30*time.Second, 0)
	err := m.Acquire(key("1"), types.LockWrite, "tx1", types.Serializable)
	require.NoError(t, err)
}

func TestAcquireSameTxUpgrade(t *testing.T) {
	m := New(30*time.Second, 0)
	require.NoError(t, m.Acquire(key("1"), types.LockRead, "tx1", types.Serializable))
	require.NoError(t, m.Acquire(key("1"), types.LockWrite, "tx1", types.Serializable))
}

func TestAcquireConflictQueues(t *testing.T) {
	m := New(30*time.Second, 0)
	require.NoError(t, m.Acquire(key("1"), types.LockWrite, "tx1", types.Serializable))
	err := m.Acquire(key("1"), types.LockWrite, "tx2", types.Serializable)
	require.Error(t, err)
	kind, ok := coreerrors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, coreerrors.KindLockDenied, kind)
}

func TestDeadlockDetected(t *testing.T) {
	m := New(30*time.Second, 0)
	require.NoError(t, m.Acquire(key("1"), types.LockWrite, "tx1", types.Serializable))
	require.NoError(t, m.Acquire(key("2"), types.LockWrite, "tx2", types.Serializable))

	// tx2 waits on tx1's lock on "1" — fine, queued.
	err := m.Acquire(key("1"), types.LockWrite, "tx2", types.Serializable)
	require.Error(t, err)

	// tx1 now wants "2", held by tx2, which is waiting on tx1: a cycle.
	err = m.Acquire(key("2"), types.LockWrite, "tx1", types.Serializable)
	require.Error(t, err)
	kind, _ := coreerrors.KindOf(err)
	assert.Equal(t, coreerrors.KindLockDenied, kind)
	assert.ErrorIs(t, err, coreerrors.ErrDeadlock)
}

func TestReleaseGrantsNextWaiter(t *testing.T) {
	m := New(30*time.Second, 0)
	require.NoError(t, m.Acquire(key("1"), types.LockWrite, "tx1", types.Serializable))
	err := m.Acquire(key("1"), types.LockWrite, "tx2", types.Serializable)
	require.Error(t, err)

	ok := m.Release(key("1"), "tx1")
	require.True(t, ok)

	// tx2 should now hold it: acquiring the same mode for tx2 again should
	// succeed without queuing (it already owns it).
	require.NoError(t, m.Acquire(key("1"), types.LockWrite, "tx2", types.Serializable))
}

func TestReleaseDropsTimedOutWaiter(t *testing.T) {
	m := New(1*time.Millisecond, 0)
	require.NoError(t, m.Acquire(key("1"), types.LockWrite, "tx1", types.Serializable))
	require.Error(t, m.Acquire(key("1"), types.LockWrite, "tx2", types.Serializable))

	time.Sleep(5 * time.Millisecond)
	ok := m.Release(key("1"), "tx1")
	require.True(t, ok)

	// tx2's wait timed out and was dropped, so the key is now free.
	require.NoError(t, m.Acquire(key("1"), types.LockWrite, "tx3", types.Serializable))
}

func TestReleaseAllClearsEverything(t *testing.T) {
	m := New(30*time.Second, 0)
	require.NoError(t, m.Acquire(key("1"), types.LockWrite, "tx1", types.Serializable))
	require.NoError(t, m.Acquire(key("2"), types.LockWrite, "tx1", types.Serializable))
	m.ReleaseAll("tx1")

	require.NoError(t, m.Acquire(key("1"), types.LockWrite, "tx2", types.Serializable))
	require.NoError(t, m.Acquire(key("2"), types.LockWrite, "tx2", types.Serializable))
}

func TestWaitingQueueFull(t *testing.T) {
	m := New(30*time.Second, 1)
	require.NoError(t, m.Acquire(key("1"), types.LockWrite, "tx1", types.Serializable))
	require.Error(t, m.Acquire(key("1"), types.LockWrite, "tx2", types.Serializable))

	err := m.Acquire(key("1"), types.LockWrite, "tx3", types.Serializable)
	require.Error(t, err)
	assert.ErrorIs(t, err, coreerrors.ErrWaitingQueueFull)
}
