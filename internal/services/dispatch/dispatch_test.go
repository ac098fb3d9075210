package dispatch

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"hookbot/internal/platform"
	"hookbot/internal/services/monitor"
	"hookbot/internal/task"
	logx "hookbot/pkg/logx"
)

type memStore struct {
	mu    sync.Mutex
	tasks map[string]task.Task
}

func newMemStore(tasks ...task.Task) *memStore {
	s := &memStore{tasks: map[string]task.Task{}}
	for _, t := range tasks {
		s.tasks[t.ID] = t
	}
	return s
}

func (s *memStore) Add(_ context.Context, t task.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = t
	return nil
}

func (s *memStore) ByOwner(_ context.Context, owner int64) ([]task.Task, error) {
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

func (s *memStore) Pending(_ context.Context) ([]task.Task, error) {
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

func (s *memStore) All(_ context.Context) ([]task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []task.Task
	for _, t := range s.tasks {
		out = append(out, t.Clone())
	}
	sortTasks(out)
	return out, nil
}

func (s *memStore) Claim(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok || t.Status != task.StatusPending {
		return false, nil
	}
	t.Status = task.StatusRunning
	s.tasks[id] = t
	return true, nil
}

func (s *memStore) UpdateStatus(_ context.Context, id string, status task.Status, result *task.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok || t.Status.Terminal() {
		return nil
	}
	t.Status = status
	if result != nil {
		t.Result = result.Clone()
	}
	s.tasks[id] = t
	return nil
}

func (s *memStore) Cancel(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok || t.Status != task.StatusPending {
		return false, nil
	}
	t.Status = task.StatusCancelled
	s.tasks[id] = t
	return true, nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) get(id string) task.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks[id].Clone()
}

func sortTasks(ts []task.Task) {
	sort.Slice(ts, func(i, j int) bool { return ts[i].ScheduledAt.Before(ts[j].ScheduledAt) })
}

type fakeGateway struct {
	mu        sync.Mutex
	loginErr  error
	submitErr error
	page      string
	submits   int
}

func (g *fakeGateway) Login(context.Context) error { return g.loginErr }

func (g *fakeGateway) Submit(_ context.Context, target, marker string) (platform.SubmitReceipt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.submitErr != nil {
		return platform.SubmitReceipt{}, g.submitErr
	}
	g.submits++
	return platform.SubmitReceipt{Note: "submission queued"}, nil
}

func (g *fakeGateway) FetchResultPage(context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.page, nil
}

func (g *fakeGateway) Close() error { return nil }

func (g *fakeGateway) submitCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.submits
}

type recNotifier struct {
	mu    sync.Mutex
	texts []string
}

func (n *recNotifier) Notify(_ int64, text string) {
	n.mu.Lock()
	n.texts = append(n.texts, text)
	n.mu.Unlock()
}

func (n *recNotifier) joined() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return strings.Join(n.texts, "\n")
}

func fastMonitor() monitor.Config {
	return monitor.Config{
		MaxConfirmAttempts: 2,
		ConfirmDelay:       time.Millisecond,
		MaxPollAttempts:    3,
		PollDelay:          time.Millisecond,
		ProgressEvery:      100,
	}
}

func pendingTask(id string, at time.Time) task.Task {
	return task.Task{
		ID:          id,
		Owner:       42,
		Target:      "https://hooks.example.com/" + id,
		Marker:      "hookbot-" + id,
		ScheduledAt: at,
		Status:      task.StatusPending,
		CreatedAt:   at.Add(-time.Hour),
	}
}

func newService(store *memStore, gw *fakeGateway, n Notifier) *Service {
	factory := func(context.Context) (platform.Gateway, error) { return gw, nil }
	return New(Config{Interval: time.Hour, Workers: 4}, fastMonitor(), store, factory, n, logx.Nop())
}

func startService(t *testing.T, s *Service) {
	t.Helper()
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
}

func TestScanRunsScoredFlow(t *testing.T) {
	t.Parallel()

	past := time.Now().Add(-time.Minute)
	store := newMemStore(pendingTask("t1", past))
	gw := &fakeGateway{page: "entry hookbot-t1 completed Overall Score: 91.2 Accuracy: 88%"}
	n := &recNotifier{}
	s := newService(store, gw, n)
	startService(t, s)

	s.scan(context.Background())
	s.workerWG.Wait()

	got := store.get("t1")
	if got.Status != task.StatusCompleted {
		t.Fatalf("status = %q, want completed", got.Status)
	}
	if got.Result == nil || got.Result.Kind != task.KindScored {
		t.Fatalf("result = %+v, want scored", got.Result)
	}
	if got.Result.Metrics[task.MetricOverallScore] != "91.2" {
		t.Fatalf("metrics = %v", got.Result.Metrics)
	}
	msgs := n.joined()
	if !strings.Contains(msgs, "started") || !strings.Contains(msgs, "scored") {
		t.Fatalf("notifications missing lifecycle messages:\n%s", msgs)
	}
}

func TestScanSkipsFutureTasks(t *testing.T) {
	t.Parallel()

	future := time.Now().Add(time.Hour)
	store := newMemStore(pendingTask("t1", future))
	gw := &fakeGateway{}
	s := newService(store, gw, &recNotifier{})
	startService(t, s)

	s.scan(context.Background())
	s.workerWG.Wait()

	if got := store.get("t1"); got.Status != task.StatusPending {
		t.Fatalf("status = %q, want pending", got.Status)
	}
	if gw.submitCount() != 0 {
		t.Fatalf("submitted a future task")
	}
}

func TestConcurrentScansClaimOnce(t *testing.T) {
	t.Parallel()

	past := time.Now().Add(-time.Minute)
	store := newMemStore(pendingTask("t1", past))
	gw := &fakeGateway{page: "entry hookbot-t1 completed Score: 77"}
	s := newService(store, gw, &recNotifier{})
	startService(t, s)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.scan(context.Background())
		}()
	}
	wg.Wait()
	s.workerWG.Wait()

	if got := gw.submitCount(); got != 1 {
		t.Fatalf("submits = %d, want exactly 1", got)
	}
}

func TestSubmitFailureMarksActionFailed(t *testing.T) {
	t.Parallel()

	past := time.Now().Add(-time.Minute)
	store := newMemStore(pendingTask("t1", past))
	gw := &fakeGateway{submitErr: errors.New("409 cooldown active")}
	n := &recNotifier{}
	s := newService(store, gw, n)
	startService(t, s)

	s.scan(context.Background())
	s.workerWG.Wait()

	got := store.get("t1")
	if got.Status != task.StatusFailed {
		t.Fatalf("status = %q, want failed", got.Status)
	}
	if got.Result == nil || got.Result.Kind != task.KindActionFailed {
		t.Fatalf("result = %+v, want action_failed", got.Result)
	}
	if !strings.Contains(n.joined(), "submission failed") {
		t.Fatalf("owner was not told about the failure:\n%s", n.joined())
	}
}

func TestCooldownPersistsAsCompleted(t *testing.T) {
	t.Parallel()

	past := time.Now().Add(-time.Minute)
	store := newMemStore(pendingTask("t1", past))
	// The feed never shows the marker.
	gw := &fakeGateway{page: "feed without our entry"}
	s := newService(store, gw, &recNotifier{})
	startService(t, s)

	s.scan(context.Background())
	s.workerWG.Wait()

	got := store.get("t1")
	if got.Status != task.StatusCompleted {
		t.Fatalf("status = %q, want completed (cooldown is not a failure)", got.Status)
	}
	if got.Result == nil || got.Result.Kind != task.KindCooldown {
		t.Fatalf("result = %+v, want cooldown", got.Result)
	}
}

func TestStartRecoversOrphans(t *testing.T) {
	t.Parallel()

	orphan := pendingTask("t1", time.Now().Add(-time.Hour))
	orphan.Status = task.StatusRunning
	store := newMemStore(orphan)
	n := &recNotifier{}
	s := newService(store, &fakeGateway{}, n)
	startService(t, s)

	got := store.get("t1")
	if got.Status != task.StatusFailed {
		t.Fatalf("status = %q, want failed", got.Status)
	}
	if got.Result == nil || got.Result.Error != "interrupted by restart" {
		t.Fatalf("result = %+v", got.Result)
	}
	if !strings.Contains(n.joined(), "interrupted") {
		t.Fatalf("owner not notified about the orphan:\n%s", n.joined())
	}
}
