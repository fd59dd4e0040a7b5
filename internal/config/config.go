// Package config collects the constructor-time tunables: lock timeout,
// checkpoint interval and retention, batch limits, and B+ tree order.
package config

import "time"

type Config struct {
	// DataDir is the root of the on-disk layout: DataDir/<db>/...,
	// DataDir/transaction_logs/, DataDir/checkpoints/.
	DataDir string

	Lock       LockConfig
	WAL        WALConfig
	Checkpoint CheckpointConfig
	Batch      BatchConfig
	BTree      BTreeConfig
}

type LockConfig struct {
	// Timeout is how long a queued waiter may sit before being dropped on
	// the next release. Default 30s.
	Timeout time.Duration

	// MaxWaitersPerKey bounds the waiter queue for a single (db, coll,
	// doc) key; 0 means unbounded. Exceeding it returns LockDenied
	// (WaitingQueueFull).
	MaxWaitersPerKey int
}

type WALConfig struct {
	// Dir is the transaction_logs directory, rooted under DataDir.
	Dir string
}

type CheckpointConfig struct {
	// Dir is the checkpoints directory, rooted under DataDir.
	Dir string

	// Interval is how often the background goroutine creates a new
	// checkpoint. Default 60s. The goroutine itself wakes every second
	// and compares against this interval.
	Interval time.Duration

	// Retain is how many checkpoint files are kept. Default 5.
	Retain int
}

type BatchConfig struct {
	// MaxStatements bounds a single `;`-separated batch. Default 100.
	MaxStatements int

	// Timeout is the wall-clock budget for a whole batch. Default 30s.
	Timeout time.Duration
}

type BTreeConfig struct {
	// Order is the B+ tree order (4: at most 3 keys per node). Exposed
	// as a tunable for tests that want a smaller order to exercise
	// splits with fewer inserts.
	Order int
}

func DefaultConfig(dataDir string) *Config {
	if dataDir == "" {
		dataDir = "./databases"
	}
	return &Config{
		DataDir: dataDir,
		Lock: LockConfig{
			Timeout:          30 * time.Second,
			MaxWaitersPerKey: 0,
		},
		WAL: WALConfig{
			Dir: "transaction_logs",
		},
		Checkpoint: CheckpointConfig{
			Dir:      "checkpoints",
			Interval: 60 * time.Second,
			Retain:   5,
		},
		Batch: BatchConfig{
			MaxStatements: 100,
			Timeout:       30 * time.Second,
		},
		BTree: BTreeConfig{
			Order: 4,
		},
	}
}
