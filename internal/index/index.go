// Package index manages the B+ tree secondary indexes: one btree.Tree
// per (collection, field), persisted as a JSON dump in the database's
// indexes/ directory and kept warm in an LRU cache so repeated lookups
// on a hot field skip the disk round trip.
package index

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/corvusdb/corvus/internal/btree"
	coreerrors "github.com/corvusdb/corvus/internal/errors"
)

// fileDump is the on-disk shape of a single field index: an object
// keyed by the stringified index value, each holding its doc-id list.
type fileDump struct {
	Collection string              `json:"collection"`
	Field      string              `json:"field"`
	Data       map[string][]string `json:"index_data"`
}

// cacheKey identifies one field index within a database's indexes dir.
type cacheKey struct {
	collection string
	field      string
}

// Manager owns every field index for a single database.
type Manager struct {
	dir   string // <dataDir>/<db>/indexes
	order int

	mu      sync.Mutex
	fields  map[string]map[string]bool // collection -> field -> exists
	cache   *lru.Cache[cacheKey, *btree.Tree]
}

// New builds a Manager rooted at indexesDir, caching up to cacheSize
// parsed trees in memory.
func New(indexesDir string, order, cacheSize int) (*Manager, error) {
	if err := os.MkdirAll(indexesDir, 0o755); err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindIOError, "create indexes directory", err)
	}
	if cacheSize <= 0 {
		cacheSize = 32
	}
	cache, err := lru.New[cacheKey, *btree.Tree](cacheSize)
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindIOError, "create index cache", err)
	}
	m := &Manager{
		dir:    indexesDir,
		order:  order,
		fields: make(map[string]map[string]bool),
		cache:  cache,
	}
	m.discoverExisting()
	return m, nil
}

func (m *Manager) discoverExisting() {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return
	}
	const suffix = "_index.json"
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if len(name) <= len(suffix) || name[len(name)-len(suffix):] != suffix {
			continue
		}
		data, err := os.ReadFile(filepath.Join(m.dir, name))
		if err != nil {
			continue
		}
		var dump fileDump
		if err := json.Unmarshal(data, &dump); err != nil {
			continue
		}
		m.markExists(dump.Collection, dump.Field)
	}
}

func (m *Manager) markExists(collection, field string) {
	if m.fields[collection] == nil {
		m.fields[collection] = make(map[string]bool)
	}
	m.fields[collection][field] = true
}

func (m *Manager) path(collection, field string) string {
	return filepath.Join(m.dir, collection+"_"+field+"_index.json")
}

// Exists reports whether an index on (collection, field) has been created.
func (m *Manager) Exists(collection, field string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fields[collection] != nil && m.fields[collection][field]
}

// List returns the indexed field names for a collection.
func (m *Manager) List(collection string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	fields := make([]string, 0, len(m.fields[collection]))
	for f := range m.fields[collection] {
		fields = append(fields, f)
	}
	return fields
}

// Create registers a new, empty index on (collection, field) and persists
// it. Returns an AlreadyExists error if one is already registered.
func (m *Manager) Create(collection, field string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fields[collection] != nil && m.fields[collection][field] {
		return coreerrors.New(coreerrors.KindAlreadyExists, "index already exists on "+collection+"."+field)
	}
	m.markExists(collection, field)
	tree := btree.New(m.order)
	m.cache.Add(cacheKey{collection, field}, tree)
	return m.saveLocked(collection, field, tree)
}

// Drop removes an index's registration, cache entry, and file.
func (m *Manager) Drop(collection, field string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fields[collection] == nil || !m.fields[collection][field] {
		return coreerrors.New(coreerrors.KindNotFound, "no index on "+collection+"."+field)
	}
	delete(m.fields[collection], field)
	if len(m.fields[collection]) == 0 {
		delete(m.fields, collection)
	}
	m.cache.Remove(cacheKey{collection, field})
	if err := os.Remove(m.path(collection, field)); err != nil && !os.IsNotExist(err) {
		return coreerrors.Wrap(coreerrors.KindIOError, "remove index file", err)
	}
	return nil
}

// get loads (from cache or disk) the tree for (collection, field). It
// must be called with m.mu held.
func (m *Manager) get(collection, field string) (*btree.Tree, error) {
	key := cacheKey{collection, field}
	if t, ok := m.cache.Get(key); ok {
		return t, nil
	}
	data, err := os.ReadFile(m.path(collection, field))
	if err != nil {
		if os.IsNotExist(err) {
			t := btree.New(m.order)
			m.cache.Add(key, t)
			return t, nil
		}
		return nil, coreerrors.Wrap(coreerrors.KindIOError, "read index file", err)
	}
	var dump fileDump
	if err := json.Unmarshal(data, &dump); err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindIOError, "decode index file", err)
	}
	entries := make([]btree.Entry, 0, len(dump.Data))
	for k, ids := range dump.Data {
		entries = append(entries, btree.Entry{Key: k, DocIDs: ids})
	}
	t := btree.LoadEntries(m.order, entries)
	m.cache.Add(key, t)
	return t, nil
}

func (m *Manager) saveLocked(collection, field string, t *btree.Tree) error {
	dump := fileDump{Collection: collection, Field: field, Data: map[string][]string{}}
	for _, e := range t.Dump() {
		dump.Data[fmt.Sprint(e.Key)] = e.DocIDs
	}
	data, err := json.MarshalIndent(dump, "", "  ")
	if err != nil {
		return coreerrors.Wrap(coreerrors.KindIOError, "encode index file", err)
	}
	if err := os.WriteFile(m.path(collection, field), data, 0o644); err != nil {
		return coreerrors.Wrap(coreerrors.KindIOError, "write index file", err)
	}
	return nil
}

// AddDocument indexes one (value, docID) pair under every indexed field that
// exists for collection, given the document it came from.
func (m *Manager) AddDocument(collection string, doc map[string]interface{}, docID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for field := range m.fields[collection] {
		value, ok := doc[field]
		if !ok {
			continue
		}
		t, err := m.get(collection, field)
		if err != nil {
			return err
		}
		t.Insert(value, docID)
		if err := m.saveLocked(collection, field, t); err != nil {
			return err
		}
	}
	return nil
}

// RemoveDocument removes docID from every indexed field's tree.
func (m *Manager) RemoveDocument(collection string, doc map[string]interface{}, docID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for field := range m.fields[collection] {
		value, ok := doc[field]
		if !ok {
			continue
		}
		t, err := m.get(collection, field)
		if err != nil {
			return err
		}
		t.Remove(value, docID)
		if err := m.saveLocked(collection, field, t); err != nil {
			return err
		}
	}
	return nil
}

// Find returns the doc ids indexed under value for (collection, field).
func (m *Manager) Find(collection, field string, value interface{}) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fields[collection] == nil || !m.fields[collection][field] {
		return nil, nil
	}
	t, err := m.get(collection, field)
	if err != nil {
		return nil, err
	}
	return t.Find(value), nil
}
