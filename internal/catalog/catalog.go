// Package catalog validates database/collection names, resolves them to
// filesystem paths, and lists the databases and collections that exist
// on disk.
package catalog

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	coreerrors "github.com/corvusdb/corvus/internal/errors"
)

// ReservedDirs are system directory names that live alongside database
// directories under the data root and are excluded from listings.
var ReservedDirs = map[string]bool{
	"transaction_logs": true,
	"checkpoints":      true,
}

var namePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// ValidateName checks a database or collection name: it must start with
// a letter and contain only letters, digits, and underscore.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return coreerrors.New(coreerrors.KindInvalidName,
			"name must start with a letter and contain only letters, digits, and underscore: "+name)
	}
	return nil
}

// Catalog resolves database/collection names to filesystem paths rooted
// at DataDir and lists what currently exists.
type Catalog struct {
	DataDir string
}

func New(dataDir string) *Catalog {
	return &Catalog{DataDir: dataDir}
}

// DBPath returns the directory a database's collections/indexes live in.
func (c *Catalog) DBPath(dbName string) string {
	return filepath.Join(c.DataDir, dbName)
}

// CollectionPath returns the JSON array file backing a collection.
func (c *Catalog) CollectionPath(dbName, collection string) string {
	return filepath.Join(c.DBPath(dbName), collection+".json")
}

// IndexesDir returns the directory B+ tree index dumps live in for a db.
func (c *Catalog) IndexesDir(dbName string) string {
	return filepath.Join(c.DBPath(dbName), "indexes")
}

// BTreeIndexPath returns the path to a (collection, field) B+ tree dump.
func (c *Catalog) BTreeIndexPath(dbName, collection, field string) string {
	return filepath.Join(c.IndexesDir(dbName), collection+"_"+field+"_index.json")
}

// UniqueIndexDir returns the directory a collection's unique-constraint
// index files live in: <db>/<collection>/indexes/<field>.idx.
func (c *Catalog) UniqueIndexDir(dbName, collection string) string {
	return filepath.Join(c.DBPath(dbName), collection, "indexes")
}

// UniqueIndexPath returns the path to a single unique-constraint index.
func (c *Catalog) UniqueIndexPath(dbName, collection, field string) string {
	return filepath.Join(c.UniqueIndexDir(dbName, collection), field+".idx")
}

// DatabaseExists reports whether dbName has a directory on disk.
func (c *Catalog) DatabaseExists(dbName string) bool {
	info, err := os.Stat(c.DBPath(dbName))
	return err == nil && info.IsDir()
}

// CollectionExists reports whether a collection file exists for dbName.
func (c *Catalog) CollectionExists(dbName, collection string) bool {
	info, err := os.Stat(c.CollectionPath(dbName, collection))
	return err == nil && !info.IsDir()
}

// ListDatabases lists database directories, excluding reserved system dirs.
func (c *Catalog) ListDatabases() ([]string, error) {
	entries, err := os.ReadDir(c.DataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, coreerrors.Wrap(coreerrors.KindIOError, "list databases", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || ReservedDirs[e.Name()] {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

// ListCollections lists collection names (".json" files, minus the
// extension) for a database, skipping the "indexes" subdirectory.
func (c *Catalog) ListCollections(dbName string) ([]string, error) {
	entries, err := os.ReadDir(c.DBPath(dbName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, coreerrors.Wrap(coreerrors.KindIOError, "list collections", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), ".json") {
			names = append(names, strings.TrimSuffix(e.Name(), ".json"))
		}
	}
	return names, nil
}

// WALDir returns the process-wide transaction_logs directory, shared by
// every database under the data root.
func (c *Catalog) WALDir() string {
	return filepath.Join(c.DataDir, "transaction_logs")
}

// CheckpointDir returns the process-wide checkpoints directory.
func (c *Catalog) CheckpointDir() string {
	return filepath.Join(c.DataDir, "checkpoints")
}

// EnsureRoot creates DataDir along with the shared transaction_logs/ and
// checkpoints/ directories, so a fresh data directory is ready for the
// transaction manager and recovery on first Open.
func (c *Catalog) EnsureRoot() error {
	for _, dir := range []string{c.DataDir, c.WALDir(), c.CheckpointDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return coreerrors.Wrap(coreerrors.KindIOError, "create data directory", err)
		}
	}
	return nil
}

// EnsureDB creates the database directory (and its indexes/ subdir).
func (c *Catalog) EnsureDB(dbName string) error {
	if err := os.MkdirAll(c.IndexesDir(dbName), 0o755); err != nil {
		return coreerrors.Wrap(coreerrors.KindIOError, "create database directory", err)
	}
	return nil
}

// RemoveDB deletes a database directory and everything under it.
func (c *Catalog) RemoveDB(dbName string) error {
	if err := os.RemoveAll(c.DBPath(dbName)); err != nil {
		return coreerrors.Wrap(coreerrors.KindIOError, "remove database directory", err)
	}
	return nil
}
