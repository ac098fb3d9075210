// Package monitor drives the post-submission watch: confirm the entry
// appeared on the result feed, then poll until it scores, errors, or
// the attempt budget runs out.
package monitor

import (
	"context"
	"fmt"
	"time"

	"hookbot/internal/classify"
	"hookbot/internal/task"
	logx "hookbot/pkg/logx"
)

// State is the terminal verdict of one monitoring run.
type State string

const (
	// StateScored: the feed showed substantial metrics for the entry.
	StateScored State = "scored"
	// StateCooldown: the entry never appeared during confirmation. The
	// platform is assumed to be rate limiting, not broken.
	StateCooldown State = "cooldown"
	// StateTimedOut: the poll budget ran out while still processing.
	StateTimedOut State = "timed_out"
	// StateErrored: the feed reported an error for the entry.
	StateErrored State = "errored"
)

type Config struct {
	MaxConfirmAttempts int           // default 2
	ConfirmDelay       time.Duration // default 10s
	MaxPollAttempts    int           // default 6000
	PollDelay          time.Duration // default 10s
	ProgressEvery      int           // progress callback cadence in cycles, default 10
}

func (c Config) withDefaults() Config {
	if c.MaxConfirmAttempts <= 0 {
		c.MaxConfirmAttempts = 2
	}
	if c.ConfirmDelay <= 0 {
		c.ConfirmDelay = 10 * time.Second
	}
	if c.MaxPollAttempts <= 0 {
		c.MaxPollAttempts = 6000
	}
	if c.PollDelay <= 0 {
		c.PollDelay = 10 * time.Second
	}
	if c.ProgressEvery <= 0 {
		c.ProgressEvery = 10
	}
	return c
}

// Fetcher yields the current result feed rendered to text.
type Fetcher interface {
	FetchResultPage(ctx context.Context) (string, error)
}

// Outcome is the summary of a finished run.
type Outcome struct {
	State           State
	Marker          string
	LastStatus      classify.Status
	Details         string
	Metrics         task.Metrics
	ConfirmAttempts int
	PollAttempts    int
}

// Kind maps the monitor verdict to the task's terminal outcome kind.
func (o Outcome) Kind() task.Kind {
	switch o.State {
	case StateScored:
		return task.KindScored
	case StateCooldown:
		return task.KindCooldown
	case StateErrored:
		return task.KindErrored
	default:
		return task.KindTimedOut
	}
}

type Monitor struct {
	cfg     Config
	fetcher Fetcher
	log     logx.Logger

	sleep    func(ctx context.Context, d time.Duration) error
	progress func(marker string, cycle int, status classify.Status)
}

type Option func(*Monitor)

// WithSleep replaces the delay primitive; tests pass a recorder.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(m *Monitor) { m.sleep = fn }
}

// WithProgress installs a callback fired every ProgressEvery poll cycles
// while the entry is still processing.
func WithProgress(fn func(marker string, cycle int, status classify.Status)) Option {
	return func(m *Monitor) { m.progress = fn }
}

func New(cfg Config, fetcher Fetcher, log logx.Logger, opts ...Option) *Monitor {
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &Monitor{
		cfg:     cfg.withDefaults(),
		fetcher: fetcher,
		log:     log,
		sleep:   sleepCtx,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Run watches the feed for marker until a terminal state. The returned
// error is non-nil only when ctx was canceled; every feed-side failure
// folds into the Outcome instead.
func (m *Monitor) Run(ctx context.Context, marker string) (Outcome, error) {
	out := Outcome{Marker: marker, LastStatus: classify.StatusUnknown}

	confirmed := false
	for attempt := 1; attempt <= m.cfg.MaxConfirmAttempts; attempt++ {
		out.ConfirmAttempts = attempt
		text, err := m.fetcher.FetchResultPage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			m.log.Warn("confirm fetch failed",
				logx.String("marker", marker),
				logx.Int("attempt", attempt),
				logx.Err(err))
		} else if classify.MarkerPresent(text, marker) {
			confirmed = true
			break
		}
		if attempt < m.cfg.MaxConfirmAttempts {
			if err := m.sleep(ctx, m.cfg.ConfirmDelay); err != nil {
				return out, err
			}
		}
	}
	if !confirmed {
		out.State = StateCooldown
		out.Details = fmt.Sprintf("Submission not visible after %d checks; platform likely rate limiting", out.ConfirmAttempts)
		m.log.Info("submission not confirmed",
			logx.String("marker", marker),
			logx.Int("attempts", out.ConfirmAttempts))
		return out, nil
	}
	m.log.Info("submission confirmed",
		logx.String("marker", marker),
		logx.Int("attempts", out.ConfirmAttempts))

	for cycle := 1; cycle <= m.cfg.MaxPollAttempts; cycle++ {
		out.PollAttempts = cycle
		text, err := m.fetcher.FetchResultPage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			// A flaky fetch still consumes budget; otherwise a dead
			// platform pins the worker forever.
			m.log.Warn("poll fetch failed",
				logx.String("marker", marker),
				logx.Int("cycle", cycle),
				logx.Err(err))
		} else {
			res := classify.Classify(text, marker)
			out.LastStatus = res.Status
			out.Details = res.Details
			out.Metrics = res.Metrics

			switch {
			case res.HasResults:
				out.State = StateScored
				m.log.Info("submission scored",
					logx.String("marker", marker),
					logx.Int("cycles", cycle))
				return out, nil
			case res.HasError:
				out.State = StateErrored
				m.log.Info("submission errored",
					logx.String("marker", marker),
					logx.Int("cycles", cycle))
				return out, nil
			}

			// Only while processing: a feed stuck in another non-terminal
			// state should not ping the owner with progress.
			if m.progress != nil && res.IsProcessing && cycle%m.cfg.ProgressEvery == 0 {
				m.progress(marker, cycle, res.Status)
			}
		}

		if cycle < m.cfg.MaxPollAttempts {
			if err := m.sleep(ctx, m.cfg.PollDelay); err != nil {
				return out, err
			}
		}
	}

	out.State = StateTimedOut
	if out.Details == "" {
		out.Details = fmt.Sprintf("No terminal state after %d polls", out.PollAttempts)
	}
	m.log.Info("monitoring timed out",
		logx.String("marker", marker),
		logx.Int("cycles", out.PollAttempts))
	return out, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
