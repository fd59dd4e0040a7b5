// Package txn implements the transaction manager: begins/commits/aborts
// transactions, tracks per-transaction state and held locks, writes WAL
// entries, and coordinates recovery. The periodic checkpoint loop itself
// lives in package checkpoint, which holds a *Manager and, on a timer,
// writes a checkpoint from ActiveSnapshot and compacts the logs.
package txn

import (
	"errors"
	"sync"
	"time"

	"github.com/corvusdb/corvus/internal/docid"
	coreerrors "github.com/corvusdb/corvus/internal/errors"
	"github.com/corvusdb/corvus/internal/lock"
	"github.com/corvusdb/corvus/internal/logger"
	"github.com/corvusdb/corvus/internal/types"
	"github.com/corvusdb/corvus/internal/wal"
)

// transaction is the Manager's private bookkeeping record; callers only
// ever see a transaction's id and, via State, its current types.TxState.
type transaction struct {
	id             string
	state          types.TxState
	isolation      types.IsolationLevel
	startTime      time.Time
	endTime        time.Time
	locks          map[lock.Key]bool
	dbs            map[string]bool
	lastCheckpoint *types.Checkpoint
}

// Manager is the transaction table plus the lock manager it coordinates.
// Its own mutex guards the transaction table; the lock table has its own
// mutex inside *lock.Manager.
type Manager struct {
	Locks *lock.Manager

	walDir        string
	checkpointDir string
	retain        int
	writer        *wal.Writer
	log           *logger.Logger

	mu  sync.Mutex
	txs map[string]*transaction
}

func New(walDir, checkpointDir string, lockTimeout time.Duration, maxWaiters, checkpointRetain int, log *logger.Logger) (*Manager, error) {
	writer, err := wal.NewWriter(walDir)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Default()
	}
	return &Manager{
		Locks:         lock.New(lockTimeout, maxWaiters),
		walDir:        walDir,
		checkpointDir: checkpointDir,
		retain:        checkpointRetain,
		writer:        writer,
		log:           log,
		txs:           make(map[string]*transaction),
	}, nil
}

// Begin starts a new ACTIVE transaction and returns its id.
func (m *Manager) Begin(isolation types.IsolationLevel) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := docid.New()
	cp, _ := wal.LatestCheckpoint(m.checkpointDir)
	m.txs[id] = &transaction{
		id:             id,
		state:          types.TxActive,
		isolation:      isolation,
		startTime:      time.Now(),
		locks:          make(map[lock.Key]bool),
		dbs:            make(map[string]bool),
		lastCheckpoint: cp,
	}
	return id
}

// State returns a transaction's current state, and false if txID is
// unknown.
func (m *Manager) State(txID string) (types.TxState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.txs[txID]
	if !ok {
		return 0, false
	}
	return tx.state, true
}

// Acquire acquires mode on (db, collection, docID) on behalf of txID. On
// success the lock key is recorded against the transaction so Commit and
// Abort can release it. If the lock manager reports the transaction is
// now queued behind another holder, the transaction's state moves to
// BLOCKED.
func (m *Manager) Acquire(db, collection, docID string, mode types.LockMode, txID string) error {
	m.mu.Lock()
	tx, ok := m.txs[txID]
	if !ok {
		m.mu.Unlock()
		return coreerrors.New(coreerrors.KindTransactionState, "transaction not found")
	}
	if tx.state != types.TxActive {
		state := tx.state
		m.mu.Unlock()
		return coreerrors.New(coreerrors.KindTransactionState, "transaction is "+state.String())
	}
	m.mu.Unlock()

	key := lock.Key{DB: db, Collection: collection, DocID: docID}
	err := m.Locks.Acquire(key, mode, txID, tx.isolation)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		tx.locks[key] = true
		return nil
	}

	// Only a queued request carries no cause; deadlock and full-queue
	// denials enqueue nothing.
	if coreerrors.Is(err, coreerrors.KindLockDenied) && errors.Unwrap(err) == nil && tx.state == types.TxActive {
		tx.state = types.TxBlocked
	}
	return err
}

// Log appends a WAL entry for an in-flight operation on txID.
func (m *Manager) Log(txID string, op types.OperationType, db, collection, docID string, before, after types.Document) error {
	m.mu.Lock()
	tx, ok := m.txs[txID]
	if ok {
		tx.dbs[db] = true
	}
	m.mu.Unlock()
	if !ok {
		return coreerrors.New(coreerrors.KindTransactionState, "transaction not found")
	}

	entry := types.WALEntry{
		TransactionID:  txID,
		Timestamp:      time.Now(),
		Operation:      op,
		DBName:         db,
		Collection:     collection,
		DocumentID:     docID,
		BeforeState:    before,
		AfterState:     after,
		IsolationLevel: tx.isolation,
	}
	return m.writer.Append(entry)
}

// Commit marks txID COMMITTED and releases its locks.
func (m *Manager) Commit(txID string) error {
	return m.finish(txID, types.TxCommitted)
}

// Abort marks txID ABORTED and releases its locks. Aborting does not
// undo already-applied collection writes made under a held write lock;
// that is left to crash recovery's undo pass, which replays before_state
// for any transaction with no commit marker.
func (m *Manager) Abort(txID string) error {
	return m.finish(txID, types.TxAborted)
}

func (m *Manager) finish(txID string, to types.TxState) error {
	m.mu.Lock()
	tx, ok := m.txs[txID]
	if !ok {
		m.mu.Unlock()
		return coreerrors.New(coreerrors.KindTransactionState, "transaction not found")
	}
	if tx.state != types.TxActive && (tx.state != types.TxBlocked || to != types.TxAborted) {
		state := tx.state
		m.mu.Unlock()
		return coreerrors.New(coreerrors.KindTransactionState, "transaction is "+state.String())
	}
	tx.state = to
	tx.endTime = time.Now()
	dbs := make([]string, 0, len(tx.dbs))
	for db := range tx.dbs {
		dbs = append(dbs, db)
	}
	m.mu.Unlock()

	if to == types.TxCommitted {
		for _, db := range dbs {
			entry := types.WALEntry{
				TransactionID: txID,
				Timestamp:     time.Now(),
				Operation:     types.OpCommit,
				DBName:        db,
			}
			if err := m.writer.Append(entry); err != nil {
				m.log.Error("failed to write commit marker for %s in %s: %v", txID, db, err)
			}
		}
	}

	m.Locks.ReleaseAll(txID)
	return nil
}

// ActiveSnapshot returns the held-lock keys of every ACTIVE or BLOCKED
// transaction, grouped by transaction id, for inclusion in a checkpoint.
func (m *Manager) ActiveSnapshot() map[string][]string {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := make(map[string][]string)
	for id, tx := range m.txs {
		if tx.state != types.TxActive && tx.state != types.TxBlocked {
			continue
		}
		keys := make([]string, 0, len(tx.locks))
		for k := range tx.locks {
			keys = append(keys, k.DB+"/"+k.Collection+"/"+k.DocID)
		}
		snapshot[id] = keys
	}
	return snapshot
}

// Writer exposes the WAL writer for packages (checkpoint) that need to
// reopen it after compaction.
func (m *Manager) Writer() *wal.Writer { return m.writer }

// WALDir and CheckpointDir expose the directories this manager was
// constructed with, for the checkpoint loop and recovery to share.
func (m *Manager) WALDir() string        { return m.walDir }
func (m *Manager) CheckpointDir() string { return m.checkpointDir }
func (m *Manager) Retain() int           { return m.retain }
func (m *Manager) Logger() *logger.Logger { return m.log }
