// Package checkpoint runs the periodic checkpoint/compaction loop: a
// single background worker wakes every second, and once the checkpoint
// interval has elapsed since the last checkpoint it snapshots active
// transactions, prunes old checkpoint files, and compacts every
// database's WAL past the new checkpoint. The loop is one
// ants.Pool-submitted task per tick rather than an unmanaged goroutine,
// and Stop() shuts it down cleanly.
package checkpoint

import (
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/corvusdb/corvus/internal/logger"
	"github.com/corvusdb/corvus/internal/txn"
	"github.com/corvusdb/corvus/internal/types"
	"github.com/corvusdb/corvus/internal/wal"
)

// Loop owns the ticking goroutine and the single-worker ants.Pool the
// actual checkpoint work runs on.
type Loop struct {
	tm       *txn.Manager
	interval time.Duration
	retain   int
	log      *logger.Logger

	pool *ants.Pool

	mu              sync.Mutex
	lastCheckpoint  time.Time
	stop            chan struct{}
	stopped         chan struct{}
}

func New(tm *txn.Manager, interval time.Duration, retain int, log *logger.Logger) (*Loop, error) {
	pool, err := ants.NewPool(1, ants.WithNonblocking(false))
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Default()
	}
	return &Loop{
		tm:             tm,
		interval:       interval,
		retain:         retain,
		log:            log,
		pool:           pool,
		lastCheckpoint: time.Now(),
	}, nil
}

// Start launches the background wake-every-second loop. Calling Start
// twice is a no-op.
func (l *Loop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stop != nil {
		return
	}
	l.stop = make(chan struct{})
	l.stopped = make(chan struct{})

	go func() {
		defer close(l.stopped)
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-l.stop:
				return
			case <-ticker.C:
				l.mu.Lock()
				due := time.Since(l.lastCheckpoint) >= l.interval
				l.mu.Unlock()
				if !due {
					continue
				}
				if err := l.pool.Submit(l.runCheckpoint); err != nil {
					l.log.Error("failed to submit checkpoint task: %v", err)
				}
			}
		}
	}()
}

// Stop ends the background loop and releases the worker pool. It blocks
// until the goroutine has exited.
func (l *Loop) Stop() {
	l.mu.Lock()
	stop := l.stop
	stopped := l.stopped
	l.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-stopped
	l.pool.Release()
}

// RunNow forces an immediate checkpoint, bypassing the interval check —
// used by DB.Checkpoint (the shell's .checkpoint command).
func (l *Loop) RunNow() {
	l.runCheckpoint()
}

func (l *Loop) runCheckpoint() {
	now := time.Now()
	ts := now.Format("20060102_150405")

	cp := types.Checkpoint{
		Timestamp:          now,
		ActiveTransactions: l.tm.ActiveSnapshot(),
		LastCheckpointTime: l.lastCheckpointTime(),
	}

	if err := wal.WriteCheckpoint(l.tm.CheckpointDir(), ts, cp, l.retain); err != nil {
		l.log.Error("failed to write checkpoint: %v", err)
		return
	}

	l.mu.Lock()
	l.lastCheckpoint = now
	l.mu.Unlock()

	dbs, err := wal.ListDatabases(l.tm.WALDir())
	if err != nil {
		l.log.Error("failed to list WAL databases for compaction: %v", err)
		return
	}
	var remaining uint64
	for _, db := range dbs {
		if err := wal.Compact(l.tm.WALDir(), db, cp.Timestamp); err != nil {
			l.log.Error("failed to compact WAL for %s: %v", db, err)
			continue
		}
		if err := l.tm.Writer().Reopen(db); err != nil {
			l.log.Error("failed to reopen WAL writer for %s: %v", db, err)
		}
		remaining += wal.LogSize(l.tm.WALDir(), db)
	}
	l.log.Info("checkpoint %s written, %d database logs compacted, %s of log retained",
		ts, len(dbs), logger.Bytes(remaining))
}

func (l *Loop) lastCheckpointTime() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastCheckpoint
}
