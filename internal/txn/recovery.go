package txn

import (
	"github.com/corvusdb/corvus/internal/catalog"
	"github.com/corvusdb/corvus/internal/storage"
	"github.com/corvusdb/corvus/internal/types"
	"github.com/corvusdb/corvus/internal/wal"
)

// Recover runs crash recovery at startup: locate the newest valid
// checkpoint (or start fresh if none exists), then for every
// database log, undo any transaction that has no commit marker after the
// checkpoint timestamp (or that the checkpoint lists as still active),
// redo every committed transaction's entries idempotently, and finally
// compact the log past the checkpoint.
func (m *Manager) Recover(cat *catalog.Catalog, store *storage.Store) (bool, string) {
	cp, err := wal.LatestCheckpoint(m.checkpointDir)
	if err != nil {
		return false, "failed to read checkpoint: " + err.Error()
	}
	if cp == nil {
		return true, "no checkpoint found, starting fresh"
	}

	dbs, err := wal.ListDatabases(m.walDir)
	if err != nil {
		return false, "failed to list WAL files: " + err.Error()
	}

	for _, db := range dbs {
		if err := m.recoverDatabase(db, *cp, cat, store); err != nil {
			return false, "recovery failed for database " + db + ": " + err.Error()
		}
	}
	return true, "recovery completed"
}

func (m *Manager) recoverDatabase(db string, cp types.Checkpoint, cat *catalog.Catalog, store *storage.Store) error {
	entries, err := wal.ReadAll(m.walDir, db)
	if err != nil {
		return err
	}

	byTx := make(map[string][]types.WALEntry)
	committed := make(map[string]bool)
	for _, e := range entries {
		if !e.Timestamp.After(cp.Timestamp) {
			continue
		}
		if e.Operation == types.OpCommit {
			committed[e.TransactionID] = true
			continue
		}
		byTx[e.TransactionID] = append(byTx[e.TransactionID], e)
	}

	for txID, txEntries := range byTx {
		_, stillActive := cp.ActiveTransactions[txID]
		if committed[txID] && !stillActive {
			for _, e := range txEntries {
				applyAfter(cat, store, e)
			}
			continue
		}

		for i := len(txEntries) - 1; i >= 0; i-- {
			applyBefore(cat, store, txEntries[i])
		}
	}

	if err := wal.Compact(m.walDir, db, cp.Timestamp); err != nil {
		return err
	}
	return m.writer.Reopen(db)
}

func applyAfter(cat *catalog.Catalog, store *storage.Store, e types.WALEntry) {
	if e.Collection == "" || e.DocumentID == "" {
		return
	}
	path := cat.CollectionPath(e.DBName, e.Collection)
	store.Mutate(path, e.DocumentID, func(existing types.Document) (types.Document, error) {
		return e.AfterState, nil
	})
}

func applyBefore(cat *catalog.Catalog, store *storage.Store, e types.WALEntry) {
	if e.Collection == "" || e.DocumentID == "" {
		return
	}
	path := cat.CollectionPath(e.DBName, e.Collection)
	store.Mutate(path, e.DocumentID, func(existing types.Document) (types.Document, error) {
		return e.BeforeState, nil
	})
}
