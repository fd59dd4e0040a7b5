// Package lock implements the pessimistic lock manager: per-document
// read/write locks, a wait-for graph for deadlock detection, and FIFO
// waiter queues with timeouts. Lock acquisition never blocks the caller;
// a denied request is handed back immediately with the reason (deadlock,
// queue full, or simply "try again later") and the caller retries on its
// own schedule.
package lock

import (
	"sync"
	"time"

	coreerrors "github.com/corvusdb/corvus/internal/errors"
	"github.com/corvusdb/corvus/internal/types"
)

// Key identifies the document a lock guards.
type Key struct {
	DB         string
	Collection string
	DocID      string
}

type grant struct {
	txID      string
	mode      types.LockMode
	timestamp time.Time
	isolation types.IsolationLevel
}

type waiter struct {
	txID      string
	mode      types.LockMode
	timestamp time.Time
}

// Manager is the pessimistic lock table plus wait-for graph.
type Manager struct {
	mu      sync.Mutex
	timeout time.Duration
	maxWait int

	held    map[Key]*grant
	waiters map[Key][]*waiter

	// waitFor[a] is the set of transactions a is waiting on; a cycle in
	// this graph means deadlock.
	waitFor map[string]map[string]bool

	// byTx indexes held locks by owning transaction for ReleaseAll.
	byTx map[string]map[Key]bool
}

func New(timeout time.Duration, maxWaitersPerKey int) *Manager {
	return &Manager{
		timeout: timeout,
		maxWait: maxWaitersPerKey,
		held:    make(map[Key]*grant),
		waiters: make(map[Key][]*waiter),
		waitFor: make(map[string]map[string]bool),
		byTx:    make(map[string]map[Key]bool),
	}
}

// Acquire attempts to grant mode on key to txID. On success it returns
// nil. On failure it returns a *errors.CoreError of KindLockDenied whose
// Cause is one of ErrDeadlock, ErrWaitingQueueFull, or nil (meaning "no
// conflict resolved yet, queued behind an existing holder — retry").
func (m *Manager) Acquire(key Key, mode types.LockMode, txID string, isolation types.IsolationLevel) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.held[key]

	if current == nil {
		m.grant(key, mode, txID, isolation)
		return nil
	}

	// Same transaction already holds it: WRITE always upgrades; READ only
	// "upgrades" if the current hold is itself a READ (a held WRITE
	// already dominates).
	if current.txID == txID {
		if mode == types.LockWrite || current.mode == types.LockRead {
			m.grant(key, mode, txID, isolation)
		}
		return nil
	}

	// Conflicting holder: would waiting on it close a cycle?
	m.addWaitEdge(txID, current.txID)
	if m.hasCycle(txID) {
		m.removeWaitEdge(txID, current.txID)
		return coreerrors.Wrap(coreerrors.KindLockDenied, "Deadlock detected", coreerrors.ErrDeadlock)
	}

	queue := m.waiters[key]
	if m.maxWait > 0 && len(queue) >= m.maxWait {
		m.removeWaitEdge(txID, current.txID)
		return coreerrors.Wrap(coreerrors.KindLockDenied, "waiter queue is full for this document", coreerrors.ErrWaitingQueueFull)
	}

	m.waiters[key] = append(queue, &waiter{txID: txID, mode: mode, timestamp: time.Now()})
	return coreerrors.New(coreerrors.KindLockDenied, "Lock acquisition failed - waiting")
}

func (m *Manager) grant(key Key, mode types.LockMode, txID string, isolation types.IsolationLevel) {
	m.held[key] = &grant{txID: txID, mode: mode, timestamp: time.Now(), isolation: isolation}
	if m.byTx[txID] == nil {
		m.byTx[txID] = make(map[Key]bool)
	}
	m.byTx[txID][key] = true
}

// Release drops txID's hold on key, if any, and hands the lock to the
// next FIFO waiter unless that waiter has aged past the lock timeout, in
// which case it is dropped instead.
func (m *Manager) Release(key Key, txID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.held[key]
	if current == nil || current.txID != txID {
		return false
	}

	delete(m.held, key)
	if set := m.byTx[txID]; set != nil {
		delete(set, key)
	}

	queue := m.waiters[key]
	for len(queue) > 0 {
		head := queue[0]
		queue = queue[1:]
		if time.Since(head.timestamp) > m.timeout {
			continue
		}
		// An awakened waiter is always tagged READ_COMMITTED, whatever
		// level it originally requested under.
		m.grant(key, head.mode, head.txID, types.ReadCommitted)
		m.removeWaitEdge(head.txID, txID)
		break
	}
	m.waiters[key] = queue
	return true
}

// ReleaseAll drops every lock held by txID, removes txID's own entries
// from every waiter queue, and clears txID out of the wait-for graph.
// Called on commit and abort.
func (m *Manager) ReleaseAll(txID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, queue := range m.waiters {
		kept := queue[:0]
		for _, w := range queue {
			if w.txID != txID {
				kept = append(kept, w)
			}
		}
		m.waiters[key] = kept
	}

	for key := range m.byTx[txID] {
		if current := m.held[key]; current != nil && current.txID == txID {
			delete(m.held, key)

			queue := m.waiters[key]
			for len(queue) > 0 {
				head := queue[0]
				queue = queue[1:]
				if time.Since(head.timestamp) > m.timeout {
					continue
				}
				m.grant(key, head.mode, head.txID, types.ReadCommitted)
				m.removeWaitEdge(head.txID, txID)
				break
			}
			m.waiters[key] = queue
		}
	}
	delete(m.byTx, txID)
	delete(m.waitFor, txID)
	for node := range m.waitFor {
		delete(m.waitFor[node], txID)
	}
}

func (m *Manager) addWaitEdge(from, to string) {
	if from == to {
		return
	}
	if m.waitFor[from] == nil {
		m.waitFor[from] = make(map[string]bool)
	}
	m.waitFor[from][to] = true
}

func (m *Manager) removeWaitEdge(from, to string) {
	if set := m.waitFor[from]; set != nil {
		delete(set, to)
	}
}

// hasCycle runs a DFS from start over the wait-for graph.
func (m *Manager) hasCycle(start string) bool {
	visited := make(map[string]bool)
	path := make(map[string]bool)

	var dfs func(node string) bool
	dfs = func(node string) bool {
		if path[node] {
			return true
		}
		if visited[node] {
			return false
		}
		visited[node] = true
		path[node] = true
		for neighbor := range m.waitFor[node] {
			if dfs(neighbor) {
				return true
			}
		}
		path[node] = false
		return false
	}
	return dfs(start)
}
