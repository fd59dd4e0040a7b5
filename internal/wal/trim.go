package wal

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	coreerrors "github.com/corvusdb/corvus/internal/errors"
)

// Compact rewrites a database's log file keeping only entries whose
// timestamp is strictly after cutoff, discarding everything a checkpoint
// already covers. It writes to a temp file and renames it over the
// original so a crash mid-compaction never leaves a half-rewritten log
// in place.
func Compact(dir, dbName string, cutoff time.Time) error {
	path := filepath.Join(dir, dbName+"_transactions.log")
	in, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return coreerrors.Wrap(coreerrors.KindIOError, "open WAL file for compaction", err)
	}
	defer in.Close()

	tmpPath := path + ".tmp"
	out, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return coreerrors.Wrap(coreerrors.KindIOError, "create WAL compaction temp file", err)
	}

	writer := bufio.NewWriter(out)
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var probe struct {
			Timestamp time.Time `json:"timestamp"`
		}
		if err := json.Unmarshal(line, &probe); err != nil {
			continue
		}
		if probe.Timestamp.After(cutoff) {
			writer.Write(line)
			writer.WriteByte('\n')
		}
	}
	if err := writer.Flush(); err != nil {
		out.Close()
		os.Remove(tmpPath)
		return coreerrors.Wrap(coreerrors.KindIOError, "flush WAL compaction temp file", err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(tmpPath)
		return coreerrors.Wrap(coreerrors.KindIOError, "fsync WAL compaction temp file", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmpPath)
		return coreerrors.Wrap(coreerrors.KindIOError, "close WAL compaction temp file", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return coreerrors.Wrap(coreerrors.KindIOError, "replace WAL file with compacted copy", err)
	}
	return nil
}
