// Package validator assigns document ids and enforces unique-field
// constraints: one JSON value->docID index file per (collection, field)
// unique index, consulted and updated on every insert/update.
package validator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/corvusdb/corvus/internal/docid"
	coreerrors "github.com/corvusdb/corvus/internal/errors"
	"github.com/corvusdb/corvus/internal/types"
)

// Validator owns the unique-index registrations and files for a single
// database. dbDir is "<dataDir>/<db>"; each collection's unique indexes
// live under dbDir/<collection>/indexes/<field>.idx.
type Validator struct {
	dbDir string

	mu      sync.Mutex
	indexes map[string]map[string]string // collection -> field -> index file path
}

func New(dbDir string) *Validator {
	return &Validator{dbDir: dbDir, indexes: make(map[string]map[string]string)}
}

// EnsureID assigns a fresh _id if the document doesn't already have one.
func EnsureID(doc types.Document) types.Document {
	if _, ok := doc["_id"]; !ok {
		doc["_id"] = docid.New()
	}
	return doc
}

func (v *Validator) indexPath(collection, field string) string {
	return filepath.Join(v.dbDir, collection, "indexes", field+".idx")
}

// CreateUniqueIndex registers field as a unique constraint on collection,
// creating its (possibly empty) backing index file if needed.
func (v *Validator) CreateUniqueIndex(collection, field string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	path := v.indexPath(collection, field)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return coreerrors.Wrap(coreerrors.KindIOError, "create unique index directory", err)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeIndex(path, map[string]string{}); err != nil {
			return err
		}
	}

	if v.indexes[collection] == nil {
		v.indexes[collection] = make(map[string]string)
	}
	v.indexes[collection][field] = path
	return nil
}

// Validate ensures doc has an _id and, for every unique field registered
// on collection, that doc's value for that field does not collide with a
// different document's. On success the relevant index files have already
// been updated to claim doc's values — callers must not call Validate
// twice for the same insert.
func (v *Validator) Validate(collection string, doc types.Document, isUpdate bool, oldDoc types.Document) error {
	doc = EnsureID(doc)
	docIDVal := doc.ID()

	v.mu.Lock()
	fields := v.indexes[collection]
	v.mu.Unlock()

	for field, path := range fields {
		value, ok := doc[field]
		if !ok {
			continue
		}
		if isUpdate && oldDoc != nil {
			if oldVal, ok := oldDoc[field]; ok && fmt.Sprint(oldVal) == fmt.Sprint(value) {
				continue
			}
		}
		ok, err := v.checkAndClaim(path, value, docIDVal, isUpdate)
		if err != nil {
			return err
		}
		if !ok {
			return coreerrors.New(coreerrors.KindValidationError, "Duplicate value for unique field '"+field+"'")
		}
	}
	return nil
}

// checkAndClaim reads the index file, rejects a claimed value, and
// otherwise claims it for docID. On insert any existing claim rejects —
// two documents with the same _id claim the same (value, id) pair, so
// the owner check alone would wave the duplicate through. On update a
// claim held by this document is fine.
func (v *Validator) checkAndClaim(path string, value interface{}, docID string, isUpdate bool) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	index, err := readIndex(path)
	if err != nil {
		return false, err
	}

	key := fmt.Sprint(value)
	if existing, ok := index[key]; ok && (!isUpdate || existing != docID) {
		return false, nil
	}
	index[key] = docID
	if err := writeIndex(path, index); err != nil {
		return false, err
	}
	return true, nil
}

// Restore unconditionally records doc's values in every unique index
// registered on collection, reversing a prior removal. Used by index
// backfill and by transaction rollback.
func (v *Validator) Restore(collection string, doc types.Document) error {
	v.mu.Lock()
	fields := v.indexes[collection]
	v.mu.Unlock()

	for field, path := range fields {
		value, ok := doc[field]
		if !ok {
			continue
		}
		if err := v.claim(path, value, doc.ID()); err != nil {
			return err
		}
	}
	return nil
}

func (v *Validator) claim(path string, value interface{}, docID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	index, err := readIndex(path)
	if err != nil {
		return err
	}
	index[fmt.Sprint(value)] = docID
	return writeIndex(path, index)
}

// DropUniqueIndex removes field's registration and backing index file.
func (v *Validator) DropUniqueIndex(collection, field string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.indexes[collection] == nil {
		return nil
	}
	path := v.indexes[collection][field]
	delete(v.indexes[collection], field)
	if path != "" {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return coreerrors.Wrap(coreerrors.KindIOError, "remove unique index file", err)
		}
	}
	return nil
}

// RemoveFromIndexes releases doc's values from every unique index
// registered on collection — called on delete.
func (v *Validator) RemoveFromIndexes(collection string, doc types.Document) error {
	v.mu.Lock()
	fields := v.indexes[collection]
	v.mu.Unlock()

	for field, path := range fields {
		value, ok := doc[field]
		if !ok {
			continue
		}
		if err := v.removeFromIndex(path, value); err != nil {
			return err
		}
	}
	return nil
}

func (v *Validator) removeFromIndex(path string, value interface{}) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	index, err := readIndex(path)
	if err != nil {
		return err
	}
	delete(index, fmt.Sprint(value))
	return writeIndex(path, index)
}

// IndexedFields lists the unique-constrained fields for a collection.
func (v *Validator) IndexedFields(collection string) []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	fields := make([]string, 0, len(v.indexes[collection]))
	for f := range v.indexes[collection] {
		fields = append(fields, f)
	}
	return fields
}

func readIndex(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindIOError, "read unique index file", err)
	}
	index := map[string]string{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &index); err != nil {
			return nil, coreerrors.Wrap(coreerrors.KindIOError, "decode unique index file", err)
		}
	}
	return index, nil
}

func writeIndex(path string, index map[string]string) error {
	data, err := json.Marshal(index)
	if err != nil {
		return coreerrors.Wrap(coreerrors.KindIOError, "encode unique index file", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return coreerrors.Wrap(coreerrors.KindIOError, "write unique index file", err)
	}
	return nil
}
