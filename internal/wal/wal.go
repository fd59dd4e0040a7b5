// Package wal implements the write-ahead log: one append-only JSON-lines
// file per database, fsynced on every entry, plus the checkpoint and
// compaction bookkeeping that keeps those files bounded.
//
// Each line is a single types.WALEntry encoded with encoding/json. There
// is no binary framing or checksum: durability comes from fsync-per-append
// and the fact that a half-written trailing line is simply skipped by the
// reader, never treated as corruption of the entries before it.
package wal

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	coreerrors "github.com/corvusdb/corvus/internal/errors"
	"github.com/corvusdb/corvus/internal/types"
)

// Writer appends WAL entries for every database sharing one log directory.
// Each database gets its own "<db>_transactions.log" file; a single
// mutex serializes appends (and their fsyncs) across all databases.
type Writer struct {
	dir string

	mu    sync.Mutex
	files map[string]*os.File
}

func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindIOError, "create WAL directory", err)
	}
	return &Writer{dir: dir, files: make(map[string]*os.File)}, nil
}

func (w *Writer) logPath(dbName string) string {
	return filepath.Join(w.dir, dbName+"_transactions.log")
}

func (w *Writer) fileFor(dbName string) (*os.File, error) {
	if f, ok := w.files[dbName]; ok {
		return f, nil
	}
	f, err := os.OpenFile(w.logPath(dbName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindIOError, "open WAL file", err)
	}
	w.files[dbName] = f
	return f, nil
}

// Append writes one entry, fsyncing before returning so a crash right
// after Append cannot lose it.
func (w *Writer) Append(entry types.WALEntry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := w.fileFor(entry.DBName)
	if err != nil {
		return err
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return coreerrors.Wrap(coreerrors.KindIOError, "encode WAL entry", err)
	}
	line = append(line, '\n')

	if _, err := f.Write(line); err != nil {
		return coreerrors.Wrap(coreerrors.KindIOError, "append WAL entry", err)
	}
	if err := f.Sync(); err != nil {
		return coreerrors.Wrap(coreerrors.KindIOError, "fsync WAL entry", err)
	}
	return nil
}

// Reopen closes and reopens dbName's file handle. Callers must invoke
// this after Compact replaces the file out from under a live Writer —
// otherwise subsequent Append calls would keep writing to the unlinked
// pre-compaction inode instead of the file now at the same path.
func (w *Writer) Reopen(dbName string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if f, ok := w.files[dbName]; ok {
		f.Close()
		delete(w.files, dbName)
	}
	_, err := w.fileFor(dbName)
	return err
}

// Close releases every open file handle.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var firstErr error
	for name, f := range w.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(w.files, name)
	}
	return firstErr
}

// ReadAll reads every well-formed entry in a database's log, in append
// order. A trailing partial line (a crash mid-write) is skipped rather
// than treated as an error.
func ReadAll(dir, dbName string) ([]types.WALEntry, error) {
	path := filepath.Join(dir, dbName+"_transactions.log")
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, coreerrors.Wrap(coreerrors.KindIOError, "open WAL file", err)
	}
	defer f.Close()

	var entries []types.WALEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e types.WALEntry
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// LogSize returns the current size in bytes of a database's log file, or
// 0 if it does not exist.
func LogSize(dir, dbName string) uint64 {
	info, err := os.Stat(filepath.Join(dir, dbName+"_transactions.log"))
	if err != nil {
		return 0
	}
	return uint64(info.Size())
}

// ListDatabases returns the database names that have a WAL file in dir.
func ListDatabases(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, coreerrors.Wrap(coreerrors.KindIOError, "list WAL directory", err)
	}
	const suffix = "_transactions.log"
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if len(e.Name()) > len(suffix) && e.Name()[len(e.Name())-len(suffix):] == suffix {
			names = append(names, e.Name()[:len(e.Name())-len(suffix)])
		}
	}
	return names, nil
}
