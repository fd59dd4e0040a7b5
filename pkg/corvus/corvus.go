// Package corvus is the embeddable, in-process client API for the
// transaction/storage core: it owns a data directory and hands back a
// *DB that wraps the catalog, transaction manager, checkpoint loop, and
// query executor behind one small surface an application can import
// directly, with no IPC layer in between.
package corvus

import (
	"fmt"

	"github.com/corvusdb/corvus/internal/catalog"
	"github.com/corvusdb/corvus/internal/checkpoint"
	"github.com/corvusdb/corvus/internal/config"
	coreerrors "github.com/corvusdb/corvus/internal/errors"
	"github.com/corvusdb/corvus/internal/executor"
	"github.com/corvusdb/corvus/internal/logger"
	"github.com/corvusdb/corvus/internal/storage"
	"github.com/corvusdb/corvus/internal/txn"
	"github.com/corvusdb/corvus/internal/types"
)

// DB is a single open instance of the database, rooted at one data
// directory. It is safe for concurrent use by multiple goroutines.
type DB struct {
	cfg  *config.Config
	cat  *catalog.Catalog
	tm   *txn.Manager
	exec *executor.Executor
	ckpt *checkpoint.Loop
	log  *logger.Logger
}

// Stats summarizes what happened on open: whether recovery completed and
// the human-readable message it produced.
type Stats struct {
	Recovered bool
	Message   string
}

// Open initializes (or resumes) a database rooted at cfg.DataDir,
// running crash recovery before accepting any operations, then starts
// the background checkpoint loop. Callers must call Close when done.
func Open(cfg *config.Config) (*DB, *Stats, error) {
	if cfg == nil {
		cfg = config.DefaultConfig("")
	}
	log := logger.Default()

	cat := catalog.New(cfg.DataDir)
	if err := cat.EnsureRoot(); err != nil {
		return nil, nil, err
	}

	walDir := cat.WALDir()
	checkpointDir := cat.CheckpointDir()

	tm, err := txn.New(walDir, checkpointDir, cfg.Lock.Timeout, cfg.Lock.MaxWaitersPerKey, cfg.Checkpoint.Retain, log)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore()
	recovered, message := tm.Recover(cat, store)

	exec := executor.New(cat, tm, store, cfg.BTree.Order, 128, cfg.Batch.MaxStatements, cfg.Batch.Timeout, log)

	ckpt, err := checkpoint.New(tm, cfg.Checkpoint.Interval, cfg.Checkpoint.Retain, log)
	if err != nil {
		return nil, nil, err
	}
	ckpt.Start()

	db := &DB{
		cfg:  cfg,
		cat:  cat,
		tm:   tm,
		exec: exec,
		ckpt: ckpt,
		log:  log,
	}
	return db, &Stats{Recovered: recovered, Message: message}, nil
}

// Close stops the background checkpoint loop. It does not delete any data.
func (db *DB) Close() error {
	db.ckpt.Stop()
	return nil
}

// Checkpoint forces an immediate checkpoint, bypassing the loop's
// interval check (useful for tests and graceful-shutdown paths).
func (db *DB) Checkpoint() {
	db.ckpt.RunNow()
}

// CreateDatabase creates a new database directory.
func (db *DB) CreateDatabase(name string) error {
	ok, msg := db.exec.CreateDatabase(name)
	if !ok {
		return coreerrors.New(coreerrors.KindInvalidName, msg)
	}
	return nil
}

// DeleteDatabase removes a database directory and everything under it.
func (db *DB) DeleteDatabase(name string) error {
	ok, msg := db.exec.DeleteDatabase(name)
	if !ok {
		return coreerrors.New(coreerrors.KindNotFound, msg)
	}
	return nil
}

// ListDatabases returns the names of every database on disk.
func (db *DB) ListDatabases() ([]string, error) {
	return db.cat.ListDatabases()
}

// CreateCollection creates an empty collection within a database.
func (db *DB) CreateCollection(dbName, collection string) error {
	ok, msg := db.exec.CreateCollection(dbName, collection)
	if !ok {
		return coreerrors.New(coreerrors.KindInvalidName, msg)
	}
	return nil
}

// ListCollections returns every collection name within a database.
func (db *DB) ListCollections(dbName string) ([]string, error) {
	return db.cat.ListCollections(dbName)
}

// CreateIndex builds a secondary B+ tree index on (collection, field).
func (db *DB) CreateIndex(dbName, collection, field string) error {
	ok, msg := db.exec.CreateIndex(dbName, collection, field)
	if !ok {
		return coreerrors.New(coreerrors.KindAlreadyExists, msg)
	}
	return nil
}

// DropIndex removes a secondary index.
func (db *DB) DropIndex(dbName, collection, field string) error {
	ok, msg := db.exec.DropIndex(dbName, collection, field)
	if !ok {
		return coreerrors.New(coreerrors.KindNotFound, msg)
	}
	return nil
}

// Find returns every document in collection whose fields equal
// selector's (conjunctive equality). An empty selector matches all.
func (db *DB) Find(dbName, collection string, selector map[string]interface{}) ([]types.Document, error) {
	return db.exec.Find(dbName, collection, selector)
}

// Insert assigns _id if absent, validates, and persists one document.
func (db *DB) Insert(dbName, collection string, doc types.Document) (types.Document, error) {
	return db.exec.Insert(dbName, collection, doc)
}

// InsertMany inserts every document under one transaction, all-or-nothing.
func (db *DB) InsertMany(dbName, collection string, docs []types.Document) ([]types.Document, error) {
	return db.exec.InsertMany(dbName, collection, docs)
}

// Update applies update's "$set" fields to every document matching
// selector and returns the number of documents changed.
func (db *DB) Update(dbName, collection string, selector, update map[string]interface{}) (int, error) {
	return db.exec.Update(dbName, collection, selector, update)
}

// Delete removes every document matching selector and returns the count.
func (db *DB) Delete(dbName, collection string, selector map[string]interface{}) (int, error) {
	return db.exec.Delete(dbName, collection, selector)
}

// Query runs one `db.<collection>.<op>(...)` statement and returns a
// human-readable result message, or the first error encountered.
func (db *DB) Query(dbName, statement string) (string, error) {
	return db.exec.Execute(dbName, statement)
}

// QueryBatch runs every `;`-separated statement in batch under a single
// SERIALIZABLE transaction: all statements commit together, or none do.
func (db *DB) QueryBatch(dbName, batch string) (string, error) {
	return db.exec.ExecuteBatch(dbName, batch)
}

// DataDir returns the root directory this DB was opened against.
func (db *DB) DataDir() string {
	return db.cfg.DataDir
}

// String implements fmt.Stringer for debug logging.
func (s *Stats) String() string {
	if s == nil {
		return ""
	}
	return fmt.Sprintf("recovered=%v: %s", s.Recovered, s.Message)
}
