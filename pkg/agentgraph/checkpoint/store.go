// Package checkpoint persists per-thread execution snapshots so a graph run
// can be suspended, inspected, and resumed, possibly in another process.
package checkpoint

import (
	"context"
	"errors"
	"time"
)

// Store persists checkpoints keyed by thread and step.
// Implementations must be safe for concurrent use. Saves are atomic per
// thread: a concurrent Load sees either the previous or the new checkpoint.
type Store interface {
	// Save stores the checkpoint for (threadID, step).
	// Overwrites if one already exists for that step.
	Save(ctx context.Context, threadID string, step int, data []byte) error

	// Load returns the checkpoint with the highest step for a thread.
	// Returns ErrNotFound if the thread has none.
	Load(ctx context.Context, threadID string) ([]byte, error)

	// LoadStep returns the checkpoint saved at a specific step.
	// Returns ErrNotFound if it doesn't exist.
	LoadStep(ctx context.Context, threadID string, step int) ([]byte, error)

	// History returns checkpoint metadata for a thread, ordered by step.
	// Returns an empty slice (not error) for unknown threads.
	History(ctx context.Context, threadID string) ([]Info, error)

	// Threads returns all thread IDs with at least one checkpoint, sorted.
	Threads(ctx context.Context) ([]string, error)

	// Delete removes every checkpoint of a thread.
	// Returns nil if the thread has none.
	Delete(ctx context.Context, threadID string) error

	// Close releases any resources (connections, files).
	Close() error
}

// Info provides metadata without loading full state.
type Info struct {
	ThreadID  string
	Step      int
	Timestamp time.Time
	Size      int64
}

// Sentinel errors for checkpoint operations.
var (
	// ErrNotFound indicates a checkpoint doesn't exist.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("checkpoint store closed")

	// ErrVersionMismatch indicates a checkpoint written by an incompatible version.
	ErrVersionMismatch = errors.New("checkpoint version mismatch")
)
