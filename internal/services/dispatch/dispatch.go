// Package dispatch fires due tasks: it scans the store on a cadence,
// claims what is due, submits to the platform, and hands the marker to
// the monitor until a terminal state lands back in the store.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"hookbot/internal/classify"
	"hookbot/internal/platform"
	"hookbot/internal/services/monitor"
	"hookbot/internal/storage"
	"hookbot/internal/task"
	logx "hookbot/pkg/logx"
)

type Config struct {
	Interval time.Duration // scan cadence, default 30s
	Workers  int           // concurrent submissions, default 4
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	return c
}

// Notifier delivers owner-facing progress messages. Fire and forget.
type Notifier interface {
	Notify(owner int64, text string)
}

type Service struct {
	mu     sync.Mutex
	cfg    Config
	monCfg monitor.Config

	store    storage.Store
	factory  platform.Factory
	notifier Notifier
	log      logx.Logger

	now func() time.Time

	cron    *cron.Cron
	entryID cron.EntryID

	runCtx    context.Context
	runCancel context.CancelFunc
	sem       chan struct{}
	workerWG  sync.WaitGroup
	running   bool
}

func New(cfg Config, monCfg monitor.Config, store storage.Store, factory platform.Factory, notifier Notifier, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:      cfg.withDefaults(),
		monCfg:   monCfg,
		store:    store,
		factory:  factory,
		notifier: notifier,
		log:      log,
		now:      time.Now,
	}
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	s.runCtx, s.runCancel = context.WithCancel(ctx)
	s.sem = make(chan struct{}, s.cfg.Workers)

	if err := s.recoverOrphans(s.runCtx); err != nil {
		s.runCancel()
		return fmt.Errorf("orphan recovery: %w", err)
	}

	s.cron = cron.New()
	id, err := s.cron.AddFunc(cadenceSpec(s.cfg.Interval), func() {
		s.scan(s.runCtx)
	})
	if err != nil {
		s.runCancel()
		return fmt.Errorf("schedule scan: %w", err)
	}
	s.entryID = id
	s.cron.Start()
	s.running = true

	s.log.Info("dispatcher started",
		logx.Duration("interval", s.cfg.Interval),
		logx.Int("workers", s.cfg.Workers))
	return nil
}

// Stop halts scanning and waits for in-flight workers until ctx expires.
// Workers that outlive ctx keep their tasks in running; the next Start
// folds those into failed via orphan recovery.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cr := s.cron
	cancel := s.runCancel
	s.cron = nil
	s.mu.Unlock()

	<-cr.Stop().Done()
	cancel()

	done := make(chan struct{})
	go func() {
		s.workerWG.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Apply updates the scan cadence and monitoring budgets. Workers already
// in flight finish under the old monitor config.
func (s *Service) Apply(cfg Config, monCfg monitor.Config) error {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.cfg
	s.cfg = cfg
	s.monCfg = monCfg
	if !s.running || old.Interval == cfg.Interval {
		return nil
	}

	s.cron.Remove(s.entryID)
	id, err := s.cron.AddFunc(cadenceSpec(cfg.Interval), func() {
		s.scan(s.runCtx)
	})
	if err != nil {
		return fmt.Errorf("reschedule scan: %w", err)
	}
	s.entryID = id
	s.log.Info("dispatch interval changed",
		logx.Duration("old", old.Interval),
		logx.Duration("new", cfg.Interval))
	return nil
}

// recoverOrphans fails tasks left running by a previous process. Their
// monitors died with it; the owner gets a definitive answer instead of
// a task stuck in running forever.
func (s *Service) recoverOrphans(ctx context.Context) error {
	tasks, err := s.store.All(ctx)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		if t.Status != task.StatusRunning {
			continue
		}
		res := &task.Result{
			Kind:       task.KindErrored,
			Error:      "interrupted by restart",
			FinishedAt: s.now(),
		}
		if err := s.store.UpdateStatus(ctx, t.ID, task.StatusFailed, res); err != nil {
			s.log.Error("orphan update failed", logx.String("task", t.ID), logx.Err(err))
			continue
		}
		s.log.Warn("orphaned task failed", logx.String("task", t.ID))
		s.notifier.Notify(t.Owner, fmt.Sprintf("⚠️ Task `%s` was interrupted by a restart and marked failed.", t.ID))
	}
	return nil
}

// scan claims every due pending task it has worker capacity for.
func (s *Service) scan(ctx context.Context) {
	s.mu.Lock()
	sem := s.sem
	s.mu.Unlock()

	pending, err := s.store.Pending(ctx)
	if err != nil {
		s.log.Error("pending scan failed", logx.Err(err))
		return
	}
	now := s.now()

	for _, t := range pending {
		if !t.Due(now) {
			continue
		}
		select {
		case sem <- struct{}{}:
		default:
			// All workers busy; the task stays pending for the next tick.
			return
		}

		won, err := s.store.Claim(ctx, t.ID)
		if err != nil {
			<-sem
			s.log.Error("claim failed", logx.String("task", t.ID), logx.Err(err))
			continue
		}
		if !won {
			<-sem
			continue
		}

		t := t
		s.workerWG.Add(1)
		go func() {
			defer s.workerWG.Done()
			defer func() { <-sem }()
			s.run(ctx, t)
		}()
	}
}

func (s *Service) run(ctx context.Context, t task.Task) {
	s.mu.Lock()
	monCfg := s.monCfg
	s.mu.Unlock()

	log := s.log.With(logx.String("task", t.ID), logx.Int64("owner", t.Owner))
	log.Info("task started", logx.String("target", t.Target))
	s.notifier.Notify(t.Owner, fmt.Sprintf("🚀 Task `%s` started: submitting %s", t.ID, t.Target))

	gw, err := s.factory(ctx)
	if err != nil {
		s.fail(ctx, t, "opening platform session failed", err)
		return
	}
	defer gw.Close()

	if err := gw.Login(ctx); err != nil {
		s.fail(ctx, t, "platform login failed", err)
		return
	}

	receipt, err := gw.Submit(ctx, t.Target, t.Marker)
	if err != nil {
		s.fail(ctx, t, "submission failed", err)
		return
	}
	log.Info("submitted", logx.String("note", receipt.Note))
	note := receipt.Note
	if note == "" {
		note = "submission accepted"
	}
	s.notifier.Notify(t.Owner, fmt.Sprintf("📬 Task `%s`: %s. Watching the result feed.", t.ID, note))

	mon := monitor.New(monCfg, gw, log, monitor.WithProgress(func(_ string, cycle int, status classify.Status) {
		s.notifier.Notify(t.Owner, fmt.Sprintf("⏳ Task `%s` still %s after %d checks.", t.ID, status, cycle))
	}))

	out, err := mon.Run(ctx, t.Marker)
	if err != nil {
		// Shutdown mid-monitor: leave the task running so the next start
		// recovers it as an orphan.
		log.Warn("monitoring interrupted", logx.Err(err))
		return
	}

	kind := out.Kind()
	res := &task.Result{
		Kind:       kind,
		Details:    out.Details,
		Metrics:    out.Metrics,
		FinishedAt: s.now(),
	}
	if err := s.store.UpdateStatus(ctx, t.ID, kind.FinalStatus(), res); err != nil {
		log.Error("result update failed", logx.Err(err))
	}
	log.Info("task finished",
		logx.String("state", string(out.State)),
		logx.Int("polls", out.PollAttempts))
	s.notifier.Notify(t.Owner, terminalMessage(t, out))
}

func (s *Service) fail(ctx context.Context, t task.Task, summary string, cause error) {
	s.log.Error(summary, logx.String("task", t.ID), logx.Err(cause))
	res := &task.Result{
		Kind:       task.KindActionFailed,
		Details:    summary,
		Error:      cause.Error(),
		FinishedAt: s.now(),
	}
	if err := s.store.UpdateStatus(ctx, t.ID, task.StatusFailed, res); err != nil {
		s.log.Error("failure update failed", logx.String("task", t.ID), logx.Err(err))
	}
	s.notifier.Notify(t.Owner, fmt.Sprintf("❌ Task `%s`: %s (%v)", t.ID, summary, cause))
}

func terminalMessage(t task.Task, out monitor.Outcome) string {
	switch out.State {
	case monitor.StateScored:
		return fmt.Sprintf("✅ Task `%s` scored!\n%s", t.ID, out.Details)
	case monitor.StateCooldown:
		return fmt.Sprintf("⏸ Task `%s`: submission never appeared on the feed. The platform is likely rate limiting; try again later.", t.ID)
	case monitor.StateErrored:
		return fmt.Sprintf("❌ Task `%s`: the platform reported an error.\n%s", t.ID, out.Details)
	default:
		return fmt.Sprintf("⌛ Task `%s`: no result after %d checks. Check the dashboard manually.", t.ID, out.PollAttempts)
	}
}

func cadenceSpec(d time.Duration) string {
	return "@every " + d.String()
}
