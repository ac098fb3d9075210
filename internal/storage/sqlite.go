//go:build sqlite
// +build sqlite

package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"hookbot/internal/task"
	logx "hookbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Add(ctx context.Context, t task.Task) error {
	if strings.TrimSpace(t.ID) == "" {
		return errors.New("task id is empty")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var clash int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM tasks
		 WHERE status IN ('pending','running') AND lower(marker) = lower(?)`,
		t.Marker,
	).Scan(&clash)
	if err != nil {
		return err
	}
	if clash > 0 {
		return ErrDuplicateMarker
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO tasks(id, owner, target, marker, scheduled_at, status, created_at, result)
		 VALUES(?,?,?,?,?,?,?,?)`,
		t.ID, t.Owner, t.Target, t.Marker,
		t.ScheduledAt.UnixMilli(), string(t.Status), t.CreatedAt.UnixMilli(),
		resultJSON(t.Result),
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) ByOwner(ctx context.Context, owner int64) ([]task.Task, error) {
	return s.query(ctx,
		`SELECT id, owner, target, marker, scheduled_at, status, created_at, result
		 FROM tasks WHERE owner = ? ORDER BY scheduled_at, id`, owner)
}

func (s *sqliteStore) Pending(ctx context.Context) ([]task.Task, error) {
	return s.query(ctx,
		`SELECT id, owner, target, marker, scheduled_at, status, created_at, result
		 FROM tasks WHERE status = 'pending' ORDER BY scheduled_at, id`)
}

func (s *sqliteStore) All(ctx context.Context) ([]task.Task, error) {
	return s.query(ctx,
		`SELECT id, owner, target, marker, scheduled_at, status, created_at, result
		 FROM tasks ORDER BY scheduled_at, id`)
}

func (s *sqliteStore) Claim(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = 'running' WHERE id = ? AND status = 'pending'`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (s *sqliteStore) UpdateStatus(ctx context.Context, id string, status task.Status, result *task.Result) error {
	var err error
	if result == nil {
		_, err = s.db.ExecContext(ctx,
			`UPDATE tasks SET status = ?
			 WHERE id = ? AND status NOT IN ('completed','failed','cancelled')`,
			string(status), id)
	} else {
		_, err = s.db.ExecContext(ctx,
			`UPDATE tasks SET status = ?, result = ?
			 WHERE id = ? AND status NOT IN ('completed','failed','cancelled')`,
			string(status), resultJSON(result), id)
	}
	return err
}

func (s *sqliteStore) Cancel(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = 'cancelled' WHERE id = ? AND status = 'pending'`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (s *sqliteStore) query(ctx context.Context, q string, args ...any) ([]task.Task, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []task.Task
	for rows.Next() {
		var (
			t          task.Task
			status     string
			schedMS    int64
			createdMS  int64
			resultBlob sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.Owner, &t.Target, &t.Marker,
			&schedMS, &status, &createdMS, &resultBlob); err != nil {
			return nil, err
		}
		t.Status = task.Status(status)
		t.ScheduledAt = time.UnixMilli(schedMS)
		t.CreatedAt = time.UnixMilli(createdMS)
		if resultBlob.Valid && resultBlob.String != "" {
			var r task.Result
			if err := json.Unmarshal([]byte(resultBlob.String), &r); err != nil {
				s.log.Warn("task result decode failed",
					logx.String("task", t.ID), logx.Err(err))
			} else {
				t.Result = &r
			}
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func resultJSON(r *task.Result) any {
	if r == nil {
		return nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		return nil
	}
	return string(b)
}
