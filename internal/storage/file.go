package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"hookbot/internal/task"
	logx "hookbot/pkg/logx"
)

// fileStore keeps the full task set in memory and rewrites one JSON
// snapshot on every mutation (temp file + rename, so a crash mid-write
// leaves the previous snapshot intact).
type fileStore struct {
	log  logx.Logger
	path string

	mu     sync.Mutex
	tasks  map[string]task.Task
	closed bool
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{log: log, path: path, tasks: map[string]task.Task{}}
	s.load()
	return s, nil
}

// load reads the snapshot. A missing file is a cold start; a corrupt one
// degrades to an empty store with an error log instead of blocking startup.
func (s *fileStore) load() {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Error("task store read failed", logx.String("path", s.path), logx.Err(err))
		}
		return
	}
	var m map[string]task.Task
	if err := json.Unmarshal(b, &m); err != nil {
		s.log.Error("task store decode failed, starting empty",
			logx.String("path", s.path), logx.Err(err))
		return
	}
	for id, t := range m {
		if id == "" {
			continue
		}
		s.tasks[id] = t
	}
	s.log.Debug("task store loaded", logx.Int("tasks", len(s.tasks)))
}

// persistLocked writes the snapshot. Failures are logged, never returned:
// the in-memory state is already committed.
func (s *fileStore) persistLocked() {
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		s.log.Error("task store persist failed", logx.Err(err))
		return
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s.tasks); err != nil {
		_ = f.Close()
		s.log.Error("task store encode failed", logx.Err(err))
		return
	}
	if err := f.Close(); err != nil {
		s.log.Error("task store close failed", logx.Err(err))
		return
	}
	if err := os.Rename(tmp, s.path); err != nil {
		s.log.Error("task store rename failed", logx.Err(err))
	}
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fileStore) Add(ctx context.Context, t task.Task) error {
	_ = ctx
	if strings.TrimSpace(t.ID) == "" {
		return errors.New("task id is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for _, other := range s.tasks {
		if other.Status.Terminal() {
			continue
		}
		if strings.EqualFold(other.Marker, t.Marker) {
			return ErrDuplicateMarker
		}
	}
	s.tasks[t.ID] = t.Clone()
	s.persistLocked()
	return nil
}

func (s *fileStore) ByOwner(ctx context.Context, owner int64) ([]task.Task, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []task.Task
	for _, t := range s.tasks {
		if t.Owner == owner {
			out = append(out, t.Clone())
		}
	}
	sortTasks(out)
	return out, nil
}

func (s *fileStore) Pending(ctx context.Context) ([]task.Task, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []task.Task
	for _, t := range s.tasks {
		if t.Status == task.StatusPending {
			out = append(out, t.Clone())
		}
	}
	sortTasks(out)
	return out, nil
}

func (s *fileStore) All(ctx context.Context) ([]task.Task, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]task.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.Clone())
	}
	sortTasks(out)
	return out, nil
}

func (s *fileStore) Claim(ctx context.Context, id string) (bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	t, ok := s.tasks[id]
	if !ok || t.Status != task.StatusPending {
		return false, nil
	}
	t.Status = task.StatusRunning
	s.tasks[id] = t
	s.persistLocked()
	return true, nil
}

func (s *fileStore) UpdateStatus(ctx context.Context, id string, status task.Status, result *task.Result) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	t, ok := s.tasks[id]
	if !ok {
		s.log.Debug("status update for unknown task", logx.String("task", id))
		return nil
	}
	if t.Status.Terminal() {
		s.log.Warn("status update on terminal task ignored",
			logx.String("task", id),
			logx.String("have", string(t.Status)),
			logx.String("want", string(status)))
		return nil
	}
	t.Status = status
	if result != nil {
		t.Result = result.Clone()
	}
	s.tasks[id] = t
	s.persistLocked()
	return nil
}

func (s *fileStore) Cancel(ctx context.Context, id string) (bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	t, ok := s.tasks[id]
	if !ok || t.Status != task.StatusPending {
		return false, nil
	}
	t.Status = task.StatusCancelled
	s.tasks[id] = t
	s.persistLocked()
	return true, nil
}

func sortTasks(ts []task.Task) {
	sort.Slice(ts, func(i, j int) bool {
		if !ts[i].ScheduledAt.Equal(ts[j].ScheduledAt) {
			return ts[i].ScheduledAt.Before(ts[j].ScheduledAt)
		}
		return ts[i].ID < ts[j].ID
	})
}
