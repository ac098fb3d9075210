// Package notify delivers bot messages to owners through the transport
// adapter: a bounded queue, a rate limit, and bounded retry. Producers
// never block; on overflow the message is dropped with a warning.
package notify

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	kit "hookbot/internal/transport"
	logx "hookbot/pkg/logx"
)

type Config struct {
	QueueSize     int           // default 256
	RatePerSec    int           // default 3
	RetryMax      int           // retries after the first attempt, default 2
	RetryBase     time.Duration // default 500ms
	RetryMaxDelay time.Duration // default 10s
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 3
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	return c
}

type Message struct {
	Owner    int64
	Text     string
	Keyboard kit.InlineKeyboard
}

type Service struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	adapter kit.Adapter
	log     logx.Logger

	queue     chan Message
	accepting bool
	sendWG    sync.WaitGroup

	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup
}

func New(cfg Config, adapter kit.Adapter, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{adapter: adapter, log: log}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	cfg = cfg.withDefaults()
	s.cfg = cfg
	// Burst equals the per-second rate so short spikes drain quickly.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.queue != nil {
		s.mu.Unlock()
		return
	}
	s.queue = make(chan Message, s.cfg.QueueSize)
	s.accepting = true
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	q, runCtx := s.queue, s.runCtx
	s.mu.Unlock()

	// A single worker keeps per-owner ordering without extra bookkeeping.
	s.workerWG.Add(1)
	go func() {
		defer s.workerWG.Done()
		for m := range q {
			select {
			case <-runCtx.Done():
				return
			default:
			}
			s.deliver(runCtx, m)
		}
	}()
}

// Stop blocks new messages and drains the queue until ctx expires.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q := s.queue
	cancel := s.runCancel
	if q == nil {
		s.mu.Unlock()
		return
	}
	s.accepting = false
	s.queue = nil
	s.runCancel = nil
	s.runCtx = nil
	s.mu.Unlock()

	// Let in-flight enqueues clear first; closing under them panics.
	sent := make(chan struct{})
	go func() {
		s.sendWG.Wait()
		close(sent)
	}()
	select {
	case <-ctx.Done():
		cancel()
		return
	case <-sent:
	}

	close(q)
	done := make(chan struct{})
	go func() {
		s.workerWG.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		cancel()
		<-done
	case <-done:
		cancel()
	}
}

// Notify queues a Markdown-formatted message for owner. Never blocks.
func (s *Service) Notify(owner int64, text string) {
	s.enqueue(Message{Owner: owner, Text: text})
}

// NotifyMarkup is Notify with an inline keyboard attached.
func (s *Service) NotifyMarkup(owner int64, text string, kb kit.InlineKeyboard) {
	s.enqueue(Message{Owner: owner, Text: text, Keyboard: kb})
}

func (s *Service) enqueue(m Message) {
	if m.Text == "" {
		return
	}
	s.mu.Lock()
	q := s.queue
	if !s.accepting || q == nil {
		s.mu.Unlock()
		s.log.Warn("notify after stop, dropped", logx.Int64("owner", m.Owner))
		return
	}
	// Registered under the lock so Stop waits for this send before
	// closing the queue.
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	select {
	case q <- m:
	default:
		s.log.Warn("notify queue full, dropped", logx.Int64("owner", m.Owner))
	}
}

func (s *Service) deliver(ctx context.Context, m Message) {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	s.mu.Unlock()

	to := kit.ChatTarget{ChatID: m.Owner}
	opt := &kit.SendOptions{ParseMode: "Markdown", DisablePreview: true, Keyboard: m.Keyboard}

	var lastErr error
	for attempt := 0; attempt <= cfg.RetryMax; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return
		}
		callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		_, err := s.adapter.SendText(callCtx, to, m.Text, opt)
		cancel()
		if err == nil {
			return
		}
		lastErr = err
		s.log.Debug("send failed",
			logx.Int64("owner", m.Owner),
			logx.Int("attempt", attempt+1),
			logx.Err(err))

		if attempt < cfg.RetryMax {
			if !sleepCtx(ctx, retryDelay(cfg, attempt)) {
				return
			}
		}
	}

	// Markdown with stray markers is the usual reject cause; one last
	// try as plain text so the owner still hears about their task.
	callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	_, err := s.adapter.SendText(callCtx, to, stripMarkdown(m.Text), &kit.SendOptions{
		DisablePreview: true,
		Keyboard:       m.Keyboard,
	})
	cancel()
	if err != nil {
		s.log.Error("message undeliverable",
			logx.Int64("owner", m.Owner),
			logx.Err(lastErr))
	}
}

func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase << attempt
	if d > cfg.RetryMaxDelay || d <= 0 {
		d = cfg.RetryMaxDelay
	}
	// Jitter 0.7..1.3 to spread retries.
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	return min(d, cfg.RetryMaxDelay)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func stripMarkdown(s string) string {
	return strings.NewReplacer("*", "", "`", "", "_", "").Replace(s)
}
