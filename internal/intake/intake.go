// Package intake owns the chat-facing side of the bot: the command set
// and the three-step scheduling conversation. One goroutine consumes
// every update, so per-owner session state needs no locking beyond the
// map itself.
package intake

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	rtsup "hookbot/internal/runtime/supervisor"
	"hookbot/internal/schedtime"
	"hookbot/internal/storage"
	"hookbot/internal/task"
	kit "hookbot/internal/transport"
	logx "hookbot/pkg/logx"
	"hookbot/pkg/tgui"
)

type Config struct {
	DefaultTarget string
	Timezone      *time.Location
}

// Notifier is the outbound message queue.
type Notifier interface {
	Notify(owner int64, text string)
	NotifyMarkup(owner int64, text string, kb kit.InlineKeyboard)
}

type step int

const (
	stepTime step = iota + 1
	stepTarget
	stepMarker
)

type session struct {
	step        step
	scheduledAt time.Time
	target      string
}

type Service struct {
	cfg      Config
	adapter  kit.Adapter
	store    storage.Store
	notifier Notifier
	log      logx.Logger

	now func() time.Time

	mu       sync.Mutex
	sessions map[int64]*session

	sup     *rtsup.Supervisor
	updates chan kit.Update
	running bool
}

func New(cfg Config, adapter kit.Adapter, store storage.Store, notifier Notifier, log logx.Logger) *Service {
	if cfg.Timezone == nil {
		cfg.Timezone = time.UTC
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:      cfg,
		adapter:  adapter,
		store:    store,
		notifier: notifier,
		log:      log,
		now:      time.Now,
		sessions: map[int64]*session{},
	}
}

var commands = []kit.BotCommand{
	{Command: "/start", Description: "Show the welcome message"},
	{Command: "/schedule", Description: "Schedule a new submission"},
	{Command: "/mytasks", Description: "List your tasks"},
	{Command: "/cancel", Description: "Cancel a pending task"},
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.updates = make(chan kit.Update, 128)
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log))
	updates, sup := s.updates, s.sup
	s.mu.Unlock()

	if err := s.adapter.Start(ctx, updates); err != nil {
		return err
	}
	if err := s.adapter.SetCommands(ctx, commands); err != nil {
		s.log.Warn("command menu not set", logx.Err(err))
	}

	sup.Go0("intake.loop", func(c context.Context) {
		for {
			select {
			case <-c.Done():
				return
			case up := <-updates:
				s.handle(c, up)
			}
		}
	})
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	sup := s.sup
	s.mu.Unlock()

	err := s.adapter.Stop(ctx)
	if serr := sup.Stop(ctx); err == nil {
		err = serr
	}
	return err
}

func (s *Service) handle(ctx context.Context, up kit.Update) {
	switch {
	case up.Message != nil:
		s.handleMessage(ctx, up.Message)
	case up.Callback != nil:
		s.handleCallback(ctx, up.Callback)
	}
}

func (s *Service) handleMessage(ctx context.Context, m *kit.Message) {
	owner := m.ChatID
	text := strings.TrimSpace(m.Text)

	if strings.HasPrefix(text, "/") {
		// Any command abandons an in-progress conversation.
		s.clearSession(owner)
		cmd, _, _ := strings.Cut(text, " ")
		cmd, _, _ = strings.Cut(cmd, "@")
		switch cmd {
		case "/start":
			s.notifier.Notify(owner, welcomeText)
		case "/schedule":
			s.setSession(owner, &session{step: stepTime})
			s.notifier.Notify(owner, "🕐 When should the submission run?\nExamples: `8:15 pm`, `20:15`, `tomorrow 8:15 pm`, `2026-09-01 10:00 am`")
		case "/mytasks":
			s.listTasks(ctx, owner)
		case "/cancel":
			s.offerCancel(ctx, owner)
		default:
			s.notifier.Notify(owner, "Unknown command. Try /schedule, /mytasks or /cancel.")
		}
		return
	}

	sess := s.getSession(owner)
	if sess == nil {
		s.notifier.Notify(owner, "Use /schedule to set up a submission.")
		return
	}
	switch sess.step {
	case stepTime:
		s.stepTime(owner, sess, text)
	case stepTarget:
		s.stepTarget(owner, sess, text)
	case stepMarker:
		s.stepMarker(ctx, owner, sess, text)
	}
}

func (s *Service) stepTime(owner int64, sess *session, text string) {
	at, err := schedtime.Parse(text, s.now().In(s.cfg.Timezone))
	switch {
	case errors.Is(err, schedtime.ErrNotFuture):
		s.notifier.Notify(owner, "⚠️ That time already passed. Send a time in the future.")
		return
	case err != nil:
		s.notifier.Notify(owner, "⚠️ I could not read that time. Examples: `8:15 pm`, `20:15`, `tomorrow 8:15 pm`.")
		return
	}
	sess.scheduledAt = at
	sess.step = stepTarget
	s.notifier.Notify(owner, fmt.Sprintf("📅 Scheduled for *%s*.\nNow send the webhook URL, or `default` for the configured one.",
		at.Format("Mon, 2 Jan 15:04 MST")))
}

func (s *Service) stepTarget(owner int64, sess *session, text string) {
	target := strings.TrimSpace(text)
	if strings.EqualFold(target, "default") {
		if s.cfg.DefaultTarget == "" {
			s.notifier.Notify(owner, "⚠️ No default webhook is configured. Send a full URL.")
			return
		}
		target = s.cfg.DefaultTarget
	}
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		s.notifier.Notify(owner, "⚠️ The webhook URL must start with `http://` or `https://`.")
		return
	}
	sess.target = target
	sess.step = stepMarker
	s.notifier.Notify(owner, "🏷 Last step: send a short notes text for this submission. It tags the entry on the result feed, so make it unique.")
}

func (s *Service) stepMarker(ctx context.Context, owner int64, sess *session, text string) {
	marker := strings.TrimSpace(text)
	if marker == "" {
		s.notifier.Notify(owner, "⚠️ The notes text cannot be empty.")
		return
	}

	t := task.Task{
		ID:          uuid.NewString(),
		Owner:       owner,
		Target:      sess.target,
		Marker:      marker,
		ScheduledAt: sess.scheduledAt,
		Status:      task.StatusPending,
		CreatedAt:   s.now(),
	}
	err := s.store.Add(ctx, t)
	switch {
	case errors.Is(err, storage.ErrDuplicateMarker):
		s.notifier.Notify(owner, "⚠️ Another active task already uses that notes text. Send a different one.")
		return
	case err != nil:
		s.log.Error("task add failed", logx.Int64("owner", owner), logx.Err(err))
		s.clearSession(owner)
		s.notifier.Notify(owner, "❌ Could not save the task. Please try /schedule again.")
		return
	}
	s.clearSession(owner)

	local := t.ScheduledAt.In(s.cfg.Timezone)
	s.log.Info("task scheduled",
		logx.String("task", t.ID),
		logx.Int64("owner", owner),
		logx.Time("at", t.ScheduledAt))
	s.notifier.Notify(owner, fmt.Sprintf(
		"✅ Task scheduled!\nID: `%s`\nRuns: *%s* (%s)\nTarget: %s\nNotes: `%s`",
		t.ID,
		local.Format("Mon, 2 Jan 15:04 MST"),
		humanUntil(local.Sub(s.now().In(s.cfg.Timezone))),
		t.Target,
		tgui.EscapeMarkdown(tgui.TruncRunes(marker, 64)),
	))
}

func (s *Service) listTasks(ctx context.Context, owner int64) {
	tasks, err := s.store.ByOwner(ctx, owner)
	if err != nil {
		s.log.Error("task listing failed", logx.Int64("owner", owner), logx.Err(err))
		s.notifier.Notify(owner, "❌ Could not load your tasks right now.")
		return
	}
	if len(tasks) == 0 {
		s.notifier.Notify(owner, "You have no tasks yet. Use /schedule to create one.")
		return
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("📋 *Your tasks* (%d)\n", len(tasks)))
	for _, t := range tasks {
		b.WriteString(fmt.Sprintf("\n%s *%s* · %s\n`%s`\n",
			statusEmoji(t),
			t.ScheduledAt.In(s.cfg.Timezone).Format("2 Jan 15:04"),
			t.Status,
			tgui.EscapeMarkdown(tgui.TruncRunes(t.Marker, 40))))
		switch {
		case t.Status == task.StatusPending:
			b.WriteString(humanUntil(t.ScheduledAt.Sub(s.now())) + "\n")
		case t.Result != nil && t.Result.Details != "":
			b.WriteString(tgui.TruncRunes(t.Result.Details, 120) + "\n")
		}
	}
	s.notifier.Notify(owner, b.String())
}

func (s *Service) offerCancel(ctx context.Context, owner int64) {
	tasks, err := s.store.ByOwner(ctx, owner)
	if err != nil {
		s.log.Error("task listing failed", logx.Int64("owner", owner), logx.Err(err))
		s.notifier.Notify(owner, "❌ Could not load your tasks right now.")
		return
	}
	var kb kit.InlineKeyboard
	for _, t := range tasks {
		if t.Status != task.StatusPending {
			continue
		}
		label := fmt.Sprintf("⏰ %s · %s",
			t.ScheduledAt.In(s.cfg.Timezone).Format("2 Jan 15:04"),
			tgui.TruncRunes(t.Marker, 20))
		kb = append(kb, []kit.InlineButton{{Text: label, Data: tgui.Data("cancel", t.ID)}})
	}
	if len(kb) == 0 {
		s.notifier.Notify(owner, "You have no pending tasks to cancel.")
		return
	}
	s.notifier.NotifyMarkup(owner, "Which task should I cancel?", kb)
}

func (s *Service) handleCallback(ctx context.Context, cb *kit.Callback) {
	action, payload := tgui.Split(cb.Data)
	if action != "cancel" || payload == "" {
		_ = s.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}

	ok, err := s.store.Cancel(ctx, payload)
	if err != nil {
		s.log.Error("cancel failed", logx.String("task", payload), logx.Err(err))
		_ = s.adapter.AnswerCallback(ctx, cb.ID, "Something went wrong.")
		return
	}
	ref := kit.MessageRef{ChatID: cb.ChatID, MessageID: cb.MessageID}
	if !ok {
		_ = s.adapter.AnswerCallback(ctx, cb.ID, "That task already started or finished.")
		_ = s.adapter.EditText(ctx, ref, "The task can no longer be cancelled.", nil)
		return
	}
	s.log.Info("task cancelled", logx.String("task", payload), logx.Int64("owner", cb.ChatID))
	_ = s.adapter.AnswerCallback(ctx, cb.ID, "Cancelled.")
	_ = s.adapter.EditText(ctx, ref, "❌ Task cancelled.", nil)
}

func (s *Service) getSession(owner int64) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[owner]
}

func (s *Service) setSession(owner int64, sess *session) {
	s.mu.Lock()
	s.sessions[owner] = sess
	s.mu.Unlock()
}

func (s *Service) clearSession(owner int64) {
	s.mu.Lock()
	delete(s.sessions, owner)
	s.mu.Unlock()
}

func statusEmoji(t task.Task) string {
	switch t.Status {
	case task.StatusPending:
		return "⏳"
	case task.StatusRunning:
		return "🚀"
	case task.StatusCancelled:
		return "🚫"
	case task.StatusFailed:
		return "❌"
	}
	if t.Result != nil && t.Result.Kind == task.KindScored {
		return "🏆"
	}
	return "✅"
}

func humanUntil(d time.Duration) string {
	if d <= 0 {
		return "due now"
	}
	if d < time.Minute {
		return "in under a minute"
	}
	d = d.Round(time.Minute)
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	switch {
	case h == 0:
		return fmt.Sprintf("in %dm", m)
	case h >= 48:
		return fmt.Sprintf("in %dd %dh", h/24, h%24)
	default:
		return fmt.Sprintf("in %dh %dm", h, m)
	}
}

const welcomeText = "👋 *Webhook scheduler*\n\n" +
	"I submit your webhook to the evaluation platform at a time you pick and watch the result feed until it scores.\n\n" +
	"/schedule – set up a submission\n" +
	"/mytasks – list your tasks\n" +
	"/cancel – cancel a pending task"
