package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"hookbot/internal/task"
)

// testStoreContract runs the driver-independent Store checks.
func testStoreContract(t *testing.T, open func(t *testing.T) Store) {
	t.Helper()

	base := time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC)

	newTask := func(id string, owner int64, marker string, at time.Time) task.Task {
		return task.Task{
			ID:          id,
			Owner:       owner,
			Target:      "https://example.com/webhook",
			Marker:      marker,
			ScheduledAt: at,
			Status:      task.StatusPending,
			CreatedAt:   base,
		}
	}

	t.Run("add and list by owner", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		if err := s.Add(ctx, newTask("b", 7, "run b", base.Add(2*time.Hour))); err != nil {
			t.Fatalf("Add: %v", err)
		}
		if err := s.Add(ctx, newTask("a", 7, "run a", base.Add(time.Hour))); err != nil {
			t.Fatalf("Add: %v", err)
		}
		if err := s.Add(ctx, newTask("c", 8, "run c", base)); err != nil {
			t.Fatalf("Add: %v", err)
		}

		got, err := s.ByOwner(ctx, 7)
		if err != nil {
			t.Fatalf("ByOwner: %v", err)
		}
		if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
			t.Fatalf("ByOwner(7) = %v, want [a b] in schedule order", ids(got))
		}

		all, err := s.All(ctx)
		if err != nil {
			t.Fatalf("All: %v", err)
		}
		if len(all) != 3 {
			t.Fatalf("All returned %d tasks, want 3", len(all))
		}
	})

	t.Run("duplicate marker rejected while active", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		if err := s.Add(ctx, newTask("t1", 1, "Nightly Run", base)); err != nil {
			t.Fatalf("Add: %v", err)
		}
		err := s.Add(ctx, newTask("t2", 2, "nightly run", base.Add(time.Hour)))
		if !errors.Is(err, ErrDuplicateMarker) {
			t.Fatalf("Add with clashing marker: err = %v, want ErrDuplicateMarker", err)
		}

		// Terminal tasks release their marker.
		if ok, err := s.Cancel(ctx, "t1"); err != nil || !ok {
			t.Fatalf("Cancel(t1) = %v, %v", ok, err)
		}
		if err := s.Add(ctx, newTask("t3", 2, "nightly run", base.Add(time.Hour))); err != nil {
			t.Fatalf("Add after cancel: %v", err)
		}
	})

	t.Run("claim wins exactly once", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		if err := s.Add(ctx, newTask("due", 1, "claim me", base)); err != nil {
			t.Fatalf("Add: %v", err)
		}

		const racers = 16
		var wg sync.WaitGroup
		wins := make(chan bool, racers)
		for i := 0; i < racers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := s.Claim(ctx, "due")
				if err != nil {
					t.Errorf("Claim: %v", err)
					return
				}
				if ok {
					wins <- true
				}
			}()
		}
		wg.Wait()
		close(wins)

		n := 0
		for range wins {
			n++
		}
		if n != 1 {
			t.Fatalf("claim won %d times, want exactly 1", n)
		}
	})

	t.Run("claim unknown or non-pending", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		if ok, err := s.Claim(ctx, "ghost"); err != nil || ok {
			t.Fatalf("Claim(ghost) = %v, %v, want false", ok, err)
		}

		if err := s.Add(ctx, newTask("t", 1, "m", base)); err != nil {
			t.Fatalf("Add: %v", err)
		}
		if ok, _ := s.Claim(ctx, "t"); !ok {
			t.Fatalf("first Claim lost")
		}
		if ok, _ := s.Claim(ctx, "t"); ok {
			t.Fatalf("second Claim on running task won")
		}
	})

	t.Run("cancel only pending", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		if ok, _ := s.Cancel(ctx, "ghost"); ok {
			t.Fatalf("Cancel(ghost) = true")
		}

		if err := s.Add(ctx, newTask("p", 1, "pending one", base)); err != nil {
			t.Fatalf("Add: %v", err)
		}
		if ok, _ := s.Cancel(ctx, "p"); !ok {
			t.Fatalf("Cancel(pending) = false, want true")
		}
		if ok, _ := s.Cancel(ctx, "p"); ok {
			t.Fatalf("Cancel(cancelled) = true, want false")
		}

		if err := s.Add(ctx, newTask("r", 1, "running one", base)); err != nil {
			t.Fatalf("Add: %v", err)
		}
		if ok, _ := s.Claim(ctx, "r"); !ok {
			t.Fatalf("Claim lost")
		}
		if ok, _ := s.Cancel(ctx, "r"); ok {
			t.Fatalf("Cancel(running) = true, want false")
		}
	})

	t.Run("update status keeps result", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		if err := s.Add(ctx, newTask("t", 1, "m", base)); err != nil {
			t.Fatalf("Add: %v", err)
		}
		if ok, _ := s.Claim(ctx, "t"); !ok {
			t.Fatalf("Claim lost")
		}

		res := &task.Result{
			Kind:       task.KindScored,
			Details:    "status: completed, overall_score: 87.5",
			Metrics:    task.Metrics{task.MetricOverallScore: "87.5"},
			FinishedAt: base.Add(time.Hour),
		}
		if err := s.UpdateStatus(ctx, "t", task.StatusCompleted, res); err != nil {
			t.Fatalf("UpdateStatus: %v", err)
		}

		got, err := s.ByOwner(ctx, 1)
		if err != nil || len(got) != 1 {
			t.Fatalf("ByOwner: %v %v", got, err)
		}
		if got[0].Status != task.StatusCompleted {
			t.Fatalf("status = %s, want completed", got[0].Status)
		}
		if got[0].Result == nil || got[0].Result.Metrics[task.MetricOverallScore] != "87.5" {
			t.Fatalf("result not stored: %+v", got[0].Result)
		}

		// A terminal task ignores further updates, and a nil result
		// never erases the stored one.
		if err := s.UpdateStatus(ctx, "t", task.StatusFailed, nil); err != nil {
			t.Fatalf("UpdateStatus: %v", err)
		}
		got, _ = s.ByOwner(ctx, 1)
		if got[0].Status != task.StatusCompleted || got[0].Result == nil {
			t.Fatalf("terminal task mutated: status=%s result=%v", got[0].Status, got[0].Result)
		}
	})

	t.Run("update status unknown id is a no-op", func(t *testing.T) {
		s := open(t)
		if err := s.UpdateStatus(context.Background(), "ghost", task.StatusFailed, nil); err != nil {
			t.Fatalf("UpdateStatus(ghost) = %v, want nil", err)
		}
	})

	t.Run("pending filter", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		if err := s.Add(ctx, newTask("p1", 1, "m1", base.Add(time.Hour))); err != nil {
			t.Fatalf("Add: %v", err)
		}
		if err := s.Add(ctx, newTask("p2", 1, "m2", base)); err != nil {
			t.Fatalf("Add: %v", err)
		}
		if err := s.Add(ctx, newTask("x", 1, "m3", base)); err != nil {
			t.Fatalf("Add: %v", err)
		}
		if ok, _ := s.Claim(ctx, "x"); !ok {
			t.Fatalf("Claim lost")
		}

		got, err := s.Pending(ctx)
		if err != nil {
			t.Fatalf("Pending: %v", err)
		}
		if len(got) != 2 || got[0].ID != "p2" || got[1].ID != "p1" {
			t.Fatalf("Pending = %v, want [p2 p1]", ids(got))
		}
	})
}

func ids(ts []task.Task) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.ID
	}
	return out
}
