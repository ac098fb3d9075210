package storage

import (
	"context"
	"errors"
	"strings"

	"hookbot/internal/task"
	logx "hookbot/pkg/logx"
)

// Store is the persistence API for scheduled tasks.
//
// All methods are safe for concurrent use. Mutations are write-through:
// the record set is persisted before the call returns, but a persistence
// failure is logged rather than rolled back (best-effort durability).
type Store interface {
	// Add inserts a new task. The caller guarantees id uniqueness;
	// markers are checked against active tasks (ErrDuplicateMarker).
	Add(ctx context.Context, t task.Task) error

	// ByOwner returns every task of one owner, any status,
	// ordered by scheduled time.
	ByOwner(ctx context.Context, owner int64) ([]task.Task, error)

	// Pending returns all pending tasks ordered by scheduled time.
	Pending(ctx context.Context) ([]task.Task, error)

	// All returns every stored task ordered by scheduled time.
	All(ctx context.Context) ([]task.Task, error)

	// Claim atomically transitions id from pending to running and
	// reports whether this caller won. Exactly one concurrent caller
	// can win a given task.
	Claim(ctx context.Context, id string) (bool, error)

	// UpdateStatus sets the status of id and, when result is non-nil,
	// the result. A nil result never erases a previously stored one.
	// Unknown ids and transitions out of a terminal status are no-ops.
	UpdateStatus(ctx context.Context, id string, status task.Status, result *task.Result) error

	// Cancel transitions id from pending to cancelled. It returns true
	// only when the task was pending at call time.
	Cancel(ctx context.Context, id string) (bool, error)

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
