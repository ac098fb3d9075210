// Package ops serves a small read-only HTTP API for operators: health
// plus task listings. Disabled by default and bound to loopback; a
// non-loopback bind requires a bearer token.
package ops

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"hookbot/internal/storage"
	"hookbot/internal/task"
	logx "hookbot/pkg/logx"
)

type Config struct {
	Enabled bool
	Addr    string // default 127.0.0.1:8090
	Token   string // bearer token; required off-loopback
}

type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger

	store     storage.Store
	startedAt time.Time

	ln  net.Listener
	srv *http.Server
}

func New(cfg Config, store storage.Store, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, store: store, log: log, startedAt: time.Now()}
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked(ctx)
}

func (s *Service) startLocked(ctx context.Context) error {
	if s.srv != nil || !s.cfg.Enabled {
		return nil
	}

	addr := strings.TrimSpace(s.cfg.Addr)
	if addr == "" {
		addr = "127.0.0.1:8090"
	}
	// Refuse a tokenless public bind rather than warn and serve.
	if s.cfg.Token == "" && !isLoopbackAddr(addr) {
		return errors.New("ops: non-loopback addr requires a token")
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:      s.router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.ln = ln
	s.srv = srv

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("ops server stopped", logx.Err(err))
		}
	}()
	s.log.Info("ops api started",
		logx.String("addr", ln.Addr().String()),
		logx.Bool("token_set", s.cfg.Token != ""))
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.ln = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Reconfigure applies cfg, restarting the server when the bind or token
// changed and starting/stopping it when enabled flipped.
func (s *Service) Reconfigure(ctx context.Context, cfg Config) error {
	s.mu.Lock()
	prev := s.cfg
	running := s.srv != nil
	s.cfg = cfg
	s.mu.Unlock()

	switch {
	case !cfg.Enabled && running:
		return s.Stop(ctx)
	case cfg.Enabled && !running:
		return s.Start(ctx)
	case cfg.Enabled && running && (prev.Addr != cfg.Addr || prev.Token != cfg.Token):
		if err := s.Stop(ctx); err != nil {
			return err
		}
		return s.Start(ctx)
	}
	return nil
}

// Addr returns the live listen address, for tests and logs.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func (s *Service) router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.auth)
	r.Get("/healthz", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/tasks", s.handleTasks)
		r.Get("/tasks/{id}", s.handleTask)
	})
	return r
}

func (s *Service) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		token := s.cfg.Token
		s.mu.Unlock()
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type healthResponse struct {
	Status string         `json:"status"`
	Uptime string         `json:"uptime"`
	Tasks  map[string]int `json:"tasks"`
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.store.All(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store unavailable")
		return
	}
	counts := map[string]int{}
	for _, t := range tasks {
		counts[string(t.Status)]++
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status: "ok",
		Uptime: time.Since(s.startedAt).Round(time.Second).String(),
		Tasks:  counts,
	})
}

func (s *Service) handleTasks(w http.ResponseWriter, r *http.Request) {
	var (
		tasks []task.Task
		err   error
	)
	if raw := r.URL.Query().Get("owner"); raw != "" {
		owner, perr := strconv.ParseInt(raw, 10, 64)
		if perr != nil {
			writeError(w, http.StatusBadRequest, "owner must be an integer")
			return
		}
		tasks, err = s.store.ByOwner(r.Context(), owner)
	} else {
		tasks, err = s.store.All(r.Context())
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store unavailable")
		return
	}
	if tasks == nil {
		tasks = []task.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Service) handleTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	tasks, err := s.store.All(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store unavailable")
		return
	}
	for _, t := range tasks {
		if t.ID == id {
			writeJSON(w, http.StatusOK, t)
			return
		}
	}
	writeError(w, http.StatusNotFound, "no such task")
}

func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	if host == "" || strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
