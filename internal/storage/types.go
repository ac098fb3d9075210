package storage

import (
	"errors"
	"time"
)

var (
	ErrClosed = errors.New("store closed")

	// ErrDuplicateMarker is returned by Add when another active
	// (pending or running) task carries an equal marker. Monitoring
	// locates feed entries by marker text, so two live tasks with the
	// same marker would watch the wrong entry.
	ErrDuplicateMarker = errors.New("marker already in use by an active task")
)

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free JSON snapshot backend
//   - "sqlite": SQLite database file (optional build tag)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}
