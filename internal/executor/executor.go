package executor

import (
	"fmt"
	"sync"
	"time"

	"github.com/corvusdb/corvus/internal/catalog"
	coreerrors "github.com/corvusdb/corvus/internal/errors"
	"github.com/corvusdb/corvus/internal/index"
	"github.com/corvusdb/corvus/internal/logger"
	"github.com/corvusdb/corvus/internal/queryparser"
	"github.com/corvusdb/corvus/internal/storage"
	"github.com/corvusdb/corvus/internal/txn"
	"github.com/corvusdb/corvus/internal/types"
	"github.com/corvusdb/corvus/internal/validator"
)

// Executor runs every query operation as one atomic transaction:
// acquire locks on the touched documents, validate, log, mutate, update
// indexes, then commit or abort.
type Executor struct {
	cat   *catalog.Catalog
	tm    *txn.Manager
	store *storage.Store
	log   *logger.Logger

	btreeOrder     int
	indexCacheSize int
	maxBatch       int
	batchTimeout   time.Duration

	// stateMu guards the lazily-built per-database validators and index
	// managers below.
	stateMu    sync.Mutex
	validators map[string]*validator.Validator
	indexes    map[string]*index.Manager

	// undoMu guards undo, a per-transaction stack of compensating
	// actions. Abort runs the stack in reverse so an aborted
	// transaction's already-applied collection and index writes are
	// rolled back in-process rather than waiting for crash recovery.
	undoMu sync.Mutex
	undo   map[string][]func()
}

func New(cat *catalog.Catalog, tm *txn.Manager, store *storage.Store, btreeOrder, indexCacheSize, maxBatch int, batchTimeout time.Duration, log *logger.Logger) *Executor {
	if log == nil {
		log = logger.Default()
	}
	return &Executor{
		cat:            cat,
		tm:             tm,
		store:          store,
		log:            log,
		btreeOrder:     btreeOrder,
		indexCacheSize: indexCacheSize,
		maxBatch:       maxBatch,
		batchTimeout:   batchTimeout,
		validators:     make(map[string]*validator.Validator),
		indexes:        make(map[string]*index.Manager),
		undo:           make(map[string][]func()),
	}
}

func (e *Executor) recordUndo(txID string, fn func()) {
	e.undoMu.Lock()
	e.undo[txID] = append(e.undo[txID], fn)
	e.undoMu.Unlock()
}

func (e *Executor) clearUndo(txID string) {
	e.undoMu.Lock()
	delete(e.undo, txID)
	e.undoMu.Unlock()
}

// abort rolls back every mutation the transaction applied, newest first,
// then marks it aborted and releases its locks.
func (e *Executor) abort(txID string) {
	e.undoMu.Lock()
	stack := e.undo[txID]
	delete(e.undo, txID)
	e.undoMu.Unlock()

	for i := len(stack) - 1; i >= 0; i-- {
		stack[i]()
	}
	e.tm.Abort(txID)
}

// commit ends the transaction and drops its undo stack — once committed
// there is nothing left to compensate.
func (e *Executor) commit(txID string) error {
	err := e.tm.Commit(txID)
	e.clearUndo(txID)
	return err
}

func (e *Executor) validatorFor(db string) (*validator.Validator, error) {
	e.stateMu.Lock()
	v, ok := e.validators[db]
	e.stateMu.Unlock()
	if ok {
		return v, nil
	}
	if !e.cat.DatabaseExists(db) {
		return nil, coreerrors.New(coreerrors.KindNotFound, "database '"+db+"' does not exist")
	}
	im, _ := e.indexManagerFor(db)

	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	if v, ok := e.validators[db]; ok {
		return v, nil
	}
	v = validator.New(e.cat.DBPath(db))
	collections, _ := e.cat.ListCollections(db)
	for _, c := range collections {
		v.CreateUniqueIndex(c, "_id")
		if im == nil {
			continue
		}
		// Re-register the unique constraints behind previously created
		// secondary indexes.
		for _, field := range im.List(c) {
			v.CreateUniqueIndex(c, field)
		}
	}
	e.validators[db] = v
	return v, nil
}

func (e *Executor) indexManagerFor(db string) (*index.Manager, error) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	if m, ok := e.indexes[db]; ok {
		return m, nil
	}
	if !e.cat.DatabaseExists(db) {
		return nil, coreerrors.New(coreerrors.KindNotFound, "database '"+db+"' does not exist")
	}
	m, err := index.New(e.cat.IndexesDir(db), e.btreeOrder, e.indexCacheSize)
	if err != nil {
		return nil, err
	}
	e.indexes[db] = m
	return m, nil
}

// CreateDatabase creates a new database directory under one SERIALIZABLE
// transaction.
func (e *Executor) CreateDatabase(db string) (bool, string) {
	if err := catalog.ValidateName(db); err != nil {
		return false, err.Error()
	}
	txID := e.tm.Begin(types.Serializable)
	if err := e.createDatabaseInTx(txID, db); err != nil {
		e.abort(txID)
		return false, err.Error()
	}
	if err := e.commit(txID); err != nil {
		return false, "failed to commit transaction: " + err.Error()
	}
	return true, "database created successfully"
}

func (e *Executor) createDatabaseInTx(txID, db string) error {
	if e.cat.DatabaseExists(db) {
		return coreerrors.New(coreerrors.KindAlreadyExists, "database already exists")
	}
	if err := e.cat.EnsureDB(db); err != nil {
		return err
	}
	if _, err := e.indexManagerFor(db); err != nil {
		return err
	}
	return e.tm.Log(txID, types.OpCreateDatabase, db, "", "", nil, types.Document{"name": db})
}

// DeleteDatabase removes a database directory under one SERIALIZABLE
// transaction.
func (e *Executor) DeleteDatabase(db string) (bool, string) {
	txID := e.tm.Begin(types.Serializable)
	if err := e.deleteDatabaseInTx(txID, db); err != nil {
		e.abort(txID)
		return false, err.Error()
	}
	if err := e.commit(txID); err != nil {
		return false, "failed to commit transaction: " + err.Error()
	}
	return true, "database '" + db + "' deleted successfully"
}

func (e *Executor) deleteDatabaseInTx(txID, db string) error {
	if !e.cat.DatabaseExists(db) {
		return coreerrors.New(coreerrors.KindNotFound, "database '"+db+"' does not exist")
	}
	if err := e.tm.Log(txID, types.OpDeleteDatabase, db, "", "", types.Document{"path": e.cat.DBPath(db)}, nil); err != nil {
		return err
	}
	if err := e.cat.RemoveDB(db); err != nil {
		return err
	}
	e.stateMu.Lock()
	delete(e.validators, db)
	delete(e.indexes, db)
	e.stateMu.Unlock()
	return nil
}

// CreateCollection creates a new, empty collection file and registers its
// _id unique index.
func (e *Executor) CreateCollection(db, collection string) (bool, string) {
	if err := catalog.ValidateName(collection); err != nil {
		return false, err.Error()
	}
	txID := e.tm.Begin(types.Serializable)
	if err := e.createCollectionInTx(txID, db, collection); err != nil {
		e.abort(txID)
		return false, err.Error()
	}
	if err := e.commit(txID); err != nil {
		return false, "failed to commit transaction: " + err.Error()
	}
	return true, "collection created successfully"
}

func (e *Executor) createCollectionInTx(txID, db, collection string) error {
	if !e.cat.DatabaseExists(db) {
		return coreerrors.New(coreerrors.KindNotFound, "database does not exist")
	}
	if e.cat.CollectionExists(db, collection) {
		return coreerrors.New(coreerrors.KindAlreadyExists, "collection already exists")
	}
	if err := e.store.Save(e.cat.CollectionPath(db, collection), nil); err != nil {
		return err
	}
	if v, err := e.validatorFor(db); err == nil {
		v.CreateUniqueIndex(collection, "_id")
	}
	return e.tm.Log(txID, types.OpCreateCollection, db, collection, "", nil, types.Document{"name": collection})
}

// CreateIndex creates a secondary B+ tree index on (collection, field)
// and backfills it from the collection's existing documents.
func (e *Executor) CreateIndex(db, collection, field string) (bool, string) {
	txID := e.tm.Begin(types.Serializable)
	if err := e.createIndexInTx(txID, db, collection, field); err != nil {
		e.abort(txID)
		return false, err.Error()
	}
	if err := e.commit(txID); err != nil {
		return false, "failed to commit transaction: " + err.Error()
	}
	return true, fmt.Sprintf("index created on %s.%s", collection, field)
}

func (e *Executor) createIndexInTx(txID, db, collection, field string) error {
	im, err := e.indexManagerFor(db)
	if err != nil {
		return err
	}
	if err := im.Create(collection, field); err != nil {
		if coreerrors.Is(err, coreerrors.KindAlreadyExists) {
			return coreerrors.New(coreerrors.KindAlreadyExists, "index already exists on "+collection+"."+field)
		}
		return err
	}

	// An index also declares the field unique: register the constraint
	// and backfill it alongside the tree.
	v, err := e.validatorFor(db)
	if err != nil {
		return err
	}
	if err := v.CreateUniqueIndex(collection, field); err != nil {
		return err
	}

	docs, _ := e.store.Load(e.cat.CollectionPath(db, collection))
	for _, doc := range docs {
		if _, ok := doc[field]; ok {
			im.AddDocument(collection, doc, doc.ID())
			v.Restore(collection, types.Document{"_id": doc["_id"], field: doc[field]})
		}
	}

	return e.tm.Log(txID, types.OpCreateIndex, db, collection, "", nil, types.Document{"field": field})
}

// DropIndex removes a secondary index.
func (e *Executor) DropIndex(db, collection, field string) (bool, string) {
	txID := e.tm.Begin(types.Serializable)
	if err := e.dropIndexInTx(txID, db, collection, field); err != nil {
		e.abort(txID)
		return false, err.Error()
	}
	if err := e.commit(txID); err != nil {
		return false, "failed to commit transaction: " + err.Error()
	}
	return true, fmt.Sprintf("index dropped from %s.%s", collection, field)
}

func (e *Executor) dropIndexInTx(txID, db, collection, field string) error {
	im, err := e.indexManagerFor(db)
	if err != nil {
		return err
	}
	if err := im.Drop(collection, field); err != nil {
		if coreerrors.Is(err, coreerrors.KindNotFound) {
			return coreerrors.New(coreerrors.KindNotFound, "index does not exist on "+collection+"."+field)
		}
		return err
	}
	if field != "_id" {
		if v, err := e.validatorFor(db); err == nil {
			if err := v.DropUniqueIndex(collection, field); err != nil {
				return err
			}
		}
	}
	return e.tm.Log(txID, types.OpDropIndex, db, collection, "", types.Document{"field": field}, nil)
}

// Find runs a read-only conjunctive-equality scan over a collection.
func (e *Executor) Find(db, collection string, selector map[string]interface{}) ([]types.Document, error) {
	txID := e.tm.Begin(types.RepeatableRead)
	matched, err := e.findInTx(txID, db, collection, selector)
	if err != nil {
		e.abort(txID)
		return nil, err
	}
	if err := e.commit(txID); err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindTransactionState, "failed to commit transaction", err)
	}
	return matched, nil
}

func (e *Executor) findInTx(txID, db, collection string, selector map[string]interface{}) ([]types.Document, error) {
	docs, err := e.store.Load(e.cat.CollectionPath(db, collection))
	if err != nil {
		return nil, err
	}
	var matched []types.Document
	for _, doc := range docs {
		if err := e.tm.Acquire(db, collection, doc.ID(), types.LockRead, txID); err != nil {
			return nil, err
		}
		if conjunctiveMatch(doc, selector) {
			matched = append(matched, doc)
		}
	}
	return matched, nil
}

// Insert validates, locks, logs, and persists a single document.
func (e *Executor) Insert(db, collection string, doc types.Document) (types.Document, error) {
	txID := e.tm.Begin(types.Serializable)
	doc, err := e.insertOne(txID, db, collection, doc)
	if err != nil {
		e.abort(txID)
		return nil, err
	}
	if err := e.commit(txID); err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindTransactionState, "failed to commit transaction", err)
	}
	return doc, nil
}

// InsertMany inserts every document in one pass, aborting the whole
// batch on the first failure.
func (e *Executor) InsertMany(db, collection string, docs []types.Document) ([]types.Document, error) {
	txID := e.tm.Begin(types.Serializable)
	inserted := make([]types.Document, 0, len(docs))
	for _, doc := range docs {
		result, err := e.insertOne(txID, db, collection, doc)
		if err != nil {
			e.abort(txID)
			return nil, err
		}
		inserted = append(inserted, result)
	}
	if err := e.commit(txID); err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindTransactionState, "failed to commit transaction", err)
	}
	return inserted, nil
}

func (e *Executor) insertOne(txID, db, collection string, doc types.Document) (types.Document, error) {
	if !e.cat.CollectionExists(db, collection) {
		return nil, coreerrors.New(coreerrors.KindNotFound, "collection '"+collection+"' does not exist")
	}
	v, err := e.validatorFor(db)
	if err != nil {
		return nil, err
	}
	doc = validator.EnsureID(doc.Clone())
	if err := v.Validate(collection, doc, false, nil); err != nil {
		return nil, err
	}
	e.recordUndo(txID, func() { v.RemoveFromIndexes(collection, doc) })

	docID := doc.ID()
	if err := e.tm.Acquire(db, collection, docID, types.LockWrite, txID); err != nil {
		return nil, err
	}
	if err := e.tm.Log(txID, types.OpInsert, db, collection, docID, nil, doc); err != nil {
		return nil, err
	}

	path := e.cat.CollectionPath(db, collection)
	if _, err := e.store.Mutate(path, docID, func(existing types.Document) (types.Document, error) {
		return doc, nil
	}); err != nil {
		return nil, err
	}
	e.recordUndo(txID, func() {
		e.store.Mutate(path, docID, func(types.Document) (types.Document, error) { return nil, nil })
	})

	if im, err := e.indexManagerFor(db); err == nil {
		im.AddDocument(collection, doc, docID)
		e.recordUndo(txID, func() { im.RemoveDocument(collection, doc, docID) })
	}
	return doc, nil
}

// Update applies a conjunctive-equality selector plus a $set document to
// every matching document.
func (e *Executor) Update(db, collection string, selector, update map[string]interface{}) (int, error) {
	txID := e.tm.Begin(types.RepeatableRead)
	count, err := e.updateInTx(txID, db, collection, selector, update)
	if err != nil {
		e.abort(txID)
		return 0, err
	}
	if err := e.commit(txID); err != nil {
		return 0, coreerrors.Wrap(coreerrors.KindTransactionState, "failed to commit transaction", err)
	}
	return count, nil
}

func (e *Executor) updateInTx(txID, db, collection string, selector, update map[string]interface{}) (int, error) {
	v, err := e.validatorFor(db)
	if err != nil {
		return 0, err
	}

	path := e.cat.CollectionPath(db, collection)
	docs, err := e.store.Load(path)
	if err != nil {
		return 0, err
	}

	setFields, _ := update["$set"].(map[string]interface{})
	count := 0

	for _, doc := range docs {
		if !conjunctiveMatch(doc, selector) {
			continue
		}
		doc := doc
		newDoc := doc.Clone()
		for k, val := range setFields {
			newDoc[k] = val
		}

		if err := v.Validate(collection, newDoc, true, doc); err != nil {
			return 0, err
		}
		e.recordUndo(txID, func() {
			v.RemoveFromIndexes(collection, newDoc)
			v.Restore(collection, doc)
		})

		// Claims for the document's previous values are now stale.
		if changed := changedFields(doc, newDoc); len(changed) > 0 {
			v.RemoveFromIndexes(collection, changed)
		}

		docID := doc.ID()
		if err := e.tm.Acquire(db, collection, docID, types.LockWrite, txID); err != nil {
			return 0, err
		}
		if err := e.tm.Log(txID, types.OpUpdate, db, collection, docID, doc, newDoc); err != nil {
			return 0, err
		}

		if _, err := e.store.Mutate(path, docID, func(existing types.Document) (types.Document, error) {
			return newDoc, nil
		}); err != nil {
			return 0, err
		}
		e.recordUndo(txID, func() {
			e.store.Mutate(path, docID, func(types.Document) (types.Document, error) { return doc, nil })
		})

		if im, err := e.indexManagerFor(db); err == nil {
			im.RemoveDocument(collection, doc, docID)
			im.AddDocument(collection, newDoc, docID)
			e.recordUndo(txID, func() {
				im.RemoveDocument(collection, newDoc, docID)
				im.AddDocument(collection, doc, docID)
			})
		}
		count++
	}

	return count, nil
}

// Delete removes every document matching selector.
func (e *Executor) Delete(db, collection string, selector map[string]interface{}) (int, error) {
	txID := e.tm.Begin(types.RepeatableRead)
	count, err := e.deleteInTx(txID, db, collection, selector)
	if err != nil {
		e.abort(txID)
		return 0, err
	}
	if err := e.commit(txID); err != nil {
		return 0, coreerrors.Wrap(coreerrors.KindTransactionState, "failed to commit transaction", err)
	}
	return count, nil
}

func (e *Executor) deleteInTx(txID, db, collection string, selector map[string]interface{}) (int, error) {
	path := e.cat.CollectionPath(db, collection)
	docs, err := e.store.Load(path)
	if err != nil {
		return 0, err
	}

	v, _ := e.validatorFor(db)
	im, _ := e.indexManagerFor(db)
	count := 0

	for _, doc := range docs {
		if !conjunctiveMatch(doc, selector) {
			continue
		}
		doc := doc
		docID := doc.ID()
		if err := e.tm.Acquire(db, collection, docID, types.LockWrite, txID); err != nil {
			return 0, err
		}
		if err := e.tm.Log(txID, types.OpDelete, db, collection, docID, doc, nil); err != nil {
			return 0, err
		}
		if _, err := e.store.Mutate(path, docID, func(existing types.Document) (types.Document, error) {
			return nil, nil
		}); err != nil {
			return 0, err
		}
		e.recordUndo(txID, func() {
			e.store.Mutate(path, docID, func(types.Document) (types.Document, error) { return doc, nil })
		})
		if v != nil {
			v.RemoveFromIndexes(collection, doc)
			e.recordUndo(txID, func() { v.Restore(collection, doc) })
		}
		if im != nil {
			im.RemoveDocument(collection, doc, docID)
			e.recordUndo(txID, func() { im.AddDocument(collection, doc, docID) })
		}
		count++
	}

	return count, nil
}

// Execute parses and runs a single `db.<collection>.<op>(...)` statement,
// each under its own transaction at the isolation level its operation
// calls for.
func (e *Executor) Execute(db, query string) (string, error) {
	stmt, err := queryparser.Parse(query)
	if err != nil {
		return "", err
	}
	switch stmt.Operation {
	case "find":
		docs, err := e.Find(db, stmt.Collection, stmt.Filter)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d document(s) found", len(docs)), nil
	case "insert":
		if _, err := e.Insert(db, stmt.Collection, stmt.Document); err != nil {
			return "", err
		}
		return "1 document inserted", nil
	case "insert_many":
		docs := make([]types.Document, len(stmt.Documents))
		for i, d := range stmt.Documents {
			docs[i] = types.Document(d)
		}
		inserted, err := e.InsertMany(db, stmt.Collection, docs)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d document(s) inserted", len(inserted)), nil
	case "update":
		n, err := e.Update(db, stmt.Collection, stmt.Filter, stmt.Update)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d document(s) updated", n), nil
	case "delete":
		n, err := e.Delete(db, stmt.Collection, stmt.Filter)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d document(s) deleted", n), nil
	case "create_collection":
		_, msg := e.CreateCollection(db, stmt.Collection)
		return msg, nil
	case "create_index":
		_, msg := e.CreateIndex(db, stmt.Collection, stmt.Field)
		return msg, nil
	case "drop_index":
		_, msg := e.DropIndex(db, stmt.Collection, stmt.Field)
		return msg, nil
	case "create_database":
		_, msg := e.CreateDatabase(stmt.Name)
		return msg, nil
	case "delete_database":
		_, msg := e.DeleteDatabase(stmt.Name)
		return msg, nil
	default:
		return "", coreerrors.New(coreerrors.KindParseError, "unsupported operation: "+stmt.Operation)
	}
}

// ExecuteBatch runs every `;`-separated statement in batch under a
// single SERIALIZABLE transaction: all statements commit together or
// none do. It enforces the max-statement-count and wall-clock limits the
// executor was constructed with, and fails with the statement's 1-based
// position on the first error.
func (e *Executor) ExecuteBatch(db, batch string) (string, error) {
	statements := queryparser.SplitBatch(batch)
	if len(statements) == 0 {
		return "", coreerrors.New(coreerrors.KindParseError, "batch contains no statements")
	}
	if len(statements) > e.maxBatch {
		return "", coreerrors.New(coreerrors.KindBatchError, fmt.Sprintf("batch exceeds maximum of %d statements", e.maxBatch))
	}

	deadline := time.Now().Add(e.batchTimeout)
	txID := e.tm.Begin(types.Serializable)

	for i, raw := range statements {
		if time.Now().After(deadline) {
			e.abort(txID)
			return "", coreerrors.New(coreerrors.KindBatchError, fmt.Sprintf("Query %d failed: batch exceeded %s time budget", i+1, e.batchTimeout))
		}
		if err := e.executeInTx(txID, db, raw); err != nil {
			e.abort(txID)
			return "", coreerrors.Wrap(coreerrors.KindBatchError, fmt.Sprintf("Query %d failed", i+1), err)
		}
	}

	if err := e.commit(txID); err != nil {
		return "", coreerrors.Wrap(coreerrors.KindTransactionState, "failed to commit batch transaction", err)
	}
	return fmt.Sprintf("batch of %d statement(s) committed successfully", len(statements)), nil
}

// executeInTx runs one parsed statement against an already-open
// transaction, for use from ExecuteBatch. Schema operations that the
// single-statement Execute path runs as their own SERIALIZABLE
// transaction are folded into the batch's shared one here instead.
func (e *Executor) executeInTx(txID, db, query string) error {
	stmt, err := queryparser.Parse(query)
	if err != nil {
		return err
	}
	switch stmt.Operation {
	case "find":
		_, err := e.findInTx(txID, db, stmt.Collection, stmt.Filter)
		return err
	case "insert":
		_, err := e.insertOne(txID, db, stmt.Collection, stmt.Document)
		return err
	case "insert_many":
		for _, d := range stmt.Documents {
			if _, err := e.insertOne(txID, db, stmt.Collection, types.Document(d)); err != nil {
				return err
			}
		}
		return nil
	case "update":
		_, err := e.updateInTx(txID, db, stmt.Collection, stmt.Filter, stmt.Update)
		return err
	case "delete":
		_, err := e.deleteInTx(txID, db, stmt.Collection, stmt.Filter)
		return err
	case "create_collection":
		return e.createCollectionInTx(txID, db, stmt.Collection)
	case "create_index":
		return e.createIndexInTx(txID, db, stmt.Collection, stmt.Field)
	case "drop_index":
		return e.dropIndexInTx(txID, db, stmt.Collection, stmt.Field)
	case "create_database":
		return e.createDatabaseInTx(txID, stmt.Name)
	case "delete_database":
		return e.deleteDatabaseInTx(txID, stmt.Name)
	default:
		return coreerrors.New(coreerrors.KindParseError, "unsupported operation: "+stmt.Operation)
	}
}

// changedFields returns the old document restricted to the fields whose
// values differ in the new one. _id is excluded so callers releasing
// stale unique claims never touch the _id index.
func changedFields(oldDoc, newDoc types.Document) types.Document {
	changed := types.Document{}
	for k, oldVal := range oldDoc {
		if k == "_id" {
			continue
		}
		if newVal, ok := newDoc[k]; !ok || fmt.Sprint(oldVal) != fmt.Sprint(newVal) {
			changed[k] = oldVal
		}
	}
	if len(changed) == 0 {
		return nil
	}
	return changed
}

// conjunctiveMatch is the match path find/update/delete use: every
// (k, v) in selector must equal the document's value at k exactly. The
// richer operator-aware Match function in matcher.go is available to
// callers that want it.
func conjunctiveMatch(doc types.Document, selector map[string]interface{}) bool {
	for k, v := range selector {
		if !deepEqual(doc[k], v) {
			return false
		}
	}
	return true
}
