// Package storage persists scheduled submission tasks.
//
// Two drivers share one contract:
//   - "file": JSON snapshot, rewritten atomically on every mutation
//   - "sqlite": SQLite database file (build with -tags sqlite)
//
// Tasks are never deleted; terminal records stay for history.
package storage
