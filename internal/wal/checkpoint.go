package wal

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	coreerrors "github.com/corvusdb/corvus/internal/errors"
	"github.com/corvusdb/corvus/internal/types"
)

const checkpointPrefix = "checkpoint_"

// checkpointFileName builds checkpoint_<YYYYMMDD_HHMMSS>.json; the
// timestamp format makes lexicographic sort order equal chronological
// order.
func checkpointFileName(ts string) string {
	return checkpointPrefix + ts + ".json"
}

// WriteCheckpoint writes a checkpoint file named from ts (already
// formatted "YYYYMMDD_HHMMSS" by the caller) and prunes the directory
// down to the newest `retain` files.
func WriteCheckpoint(dir, ts string, cp types.Checkpoint, retain int) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return coreerrors.Wrap(coreerrors.KindIOError, "create checkpoint directory", err)
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return coreerrors.Wrap(coreerrors.KindIOError, "encode checkpoint", err)
	}
	path := filepath.Join(dir, checkpointFileName(ts))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return coreerrors.Wrap(coreerrors.KindIOError, "write checkpoint file", err)
	}
	return PruneCheckpoints(dir, retain)
}

// ListCheckpointFiles returns checkpoint_* file names sorted oldest-first.
func ListCheckpointFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, coreerrors.Wrap(coreerrors.KindIOError, "list checkpoint directory", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), checkpointPrefix) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// PruneCheckpoints deletes all but the newest `retain` checkpoint files.
func PruneCheckpoints(dir string, retain int) error {
	names, err := ListCheckpointFiles(dir)
	if err != nil {
		return err
	}
	if retain <= 0 || len(names) <= retain {
		return nil
	}
	for _, name := range names[:len(names)-retain] {
		os.Remove(filepath.Join(dir, name))
	}
	return nil
}

// LatestCheckpoint returns the newest valid checkpoint in dir, deleting
// any corrupted or empty file it encounters along the way and trying the
// next newest. It returns (nil, nil) if none remain.
func LatestCheckpoint(dir string) (*types.Checkpoint, error) {
	names, err := ListCheckpointFiles(dir)
	if err != nil {
		return nil, err
	}
	for i := len(names) - 1; i >= 0; i-- {
		path := filepath.Join(dir, names[i])
		info, err := os.Stat(path)
		if err != nil || info.Size() == 0 {
			os.Remove(path)
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			os.Remove(path)
			continue
		}
		var cp types.Checkpoint
		if err := json.Unmarshal(data, &cp); err != nil {
			os.Remove(path)
			continue
		}
		return &cp, nil
	}
	return nil, nil
}
