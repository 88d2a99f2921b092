package session

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teslashibe/go-callbridge/internal/log"
	"github.com/teslashibe/go-callbridge/pkg/leg"
)

// Manager accepts telephony connections and owns one Session per call.
// It holds no per-call logic.
type Manager struct {
	base     Config
	registry *prometheus.Registry
	metrics  *Metrics
	logger   *slog.Logger
	legOpts  []leg.Option

	mu       sync.RWMutex
	sessions map[string]*Session

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	accepted atomic.Uint64
	rejected atomic.Uint64
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithRegistry uses reg instead of a private registry.
func WithRegistry(reg *prometheus.Registry) ManagerOption {
	return func(m *Manager) {
		m.registry = reg
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithLegOptions adds options applied to every accepted telephony leg.
func WithLegOptions(opts ...leg.Option) ManagerOption {
	return func(m *Manager) {
		m.legOpts = append(m.legOpts, opts...)
	}
}

// NewManager creates a Manager. base is copied into every Session; its ID,
// Metrics and Logger fields are filled per call.
func NewManager(base Config, opts ...ManagerOption) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		base:     base,
		logger:   log.Component("manager"),
		sessions: make(map[string]*Session),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = prometheus.NewRegistry()
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	m.metrics = NewMetrics(m.registry)
	return m
}

// NewID returns a fresh session id of the form call_<8 hex>.
func NewID() string {
	return "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// Registry returns the Prometheus registry holding session metrics.
func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}

// Metrics returns the shared collectors.
func (m *Manager) Metrics() *Metrics {
	return m.metrics
}

// RegisterRoutes mounts the telephony WebSocket endpoint at / and /ws/telephony.
func (m *Manager) RegisterRoutes(app fiber.Router) {
	upgrade := func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
	handler := websocket.New(m.handleTelephony)

	app.Get("/", upgrade, handler)
	app.Get("/ws/telephony", upgrade, handler)
}

// RegisterAPIRoutes mounts session listing under api.
func (m *Manager) RegisterAPIRoutes(api fiber.Router) {
	sessions := api.Group("/sessions")

	sessions.Get("/", func(c *fiber.Ctx) error {
		infos := m.Sessions()
		return c.JSON(fiber.Map{
			"sessions": infos,
			"count":    len(infos),
		})
	})

	sessions.Get("/stats", func(c *fiber.Ctx) error {
		return c.JSON(m.Stats())
	})

	sessions.Get("/:id", func(c *fiber.Ctx) error {
		s := m.Get(c.Params("id"))
		if s == nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "session not found"})
		}
		return c.JSON(s.Info())
	})

	sessions.Get("/:id/legs/:role", func(c *fiber.Ctx) error {
		s := m.Get(c.Params("id"))
		if s == nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "session not found"})
		}
		role, err := leg.ParseRole(c.Params("role"))
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		info, ok := s.Leg(role)
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "leg not attached"})
		}
		return c.JSON(info)
	})
}

// MetricsHandler serves the registry in the Prometheus text format.
func (m *Manager) MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}

func (m *Manager) handleTelephony(c *websocket.Conn) {
	m.logger.Debug("telephony upgrade", "remote", c.RemoteAddr().String())
	m.Serve(c, leg.WithCloseClassifier(websocket.IsCloseError))
}

// Serve bridges one accepted telephony connection. It blocks until the call's
// session has closed.
func (m *Manager) Serve(ws leg.WSConn, opts ...leg.Option) {
	m.mu.Lock()
	if m.ctx.Err() != nil {
		m.mu.Unlock()
		m.rejected.Add(1)
		_ = ws.Close()
		return
	}
	m.wg.Add(1)
	m.mu.Unlock()

	s := m.newSession()
	m.logger.Info("telephony connected", "session_id", s.ID())

	go func() {
		defer m.wg.Done()
		_ = s.Run(m.ctx)
		s.WaitActions()
	}()

	legOpts := []leg.Option{leg.WithLogger(m.logger.With("session_id", s.ID()))}
	legOpts = append(legOpts, m.legOpts...)
	legOpts = append(legOpts, opts...)

	tel := leg.NewConn(leg.RoleTelephony, ws, s.Post, legOpts...)
	s.Track(tel)
	tel.Start()
	tel.ReadLoop()

	<-s.Done()
	m.remove(s)
	m.logger.Info("telephony disconnected", "session_id", s.ID(), "reason", s.Reason())
}

func (m *Manager) newSession() *Session {
	cfg := m.base
	cfg.ID = NewID()
	cfg.Metrics = m.metrics
	if cfg.Logger == nil {
		cfg.Logger = log.Component("session")
	}

	s := New(cfg)
	m.add(s)
	return s
}

func (m *Manager) add(s *Session) {
	m.mu.Lock()
	m.sessions[s.ID()] = s
	count := len(m.sessions)
	m.mu.Unlock()

	m.accepted.Add(1)
	m.metrics.SessionsTotal.Inc()
	m.metrics.SessionsActive.Inc()
	m.logger.Debug("session added", "session_id", s.ID(), "active", count)
}

func (m *Manager) remove(s *Session) {
	m.mu.Lock()
	_, ok := m.sessions[s.ID()]
	delete(m.sessions, s.ID())
	m.mu.Unlock()

	if ok {
		m.metrics.SessionsActive.Dec()
	}
}

// Get returns a live session by id, or nil.
func (m *Manager) Get(id string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id]
}

// Sessions returns info for every live session, oldest first.
func (m *Manager) Sessions() []Info {
	m.mu.RLock()
	infos := make([]Info, 0, len(m.sessions))
	for _, s := range m.sessions {
		infos = append(infos, s.Info())
	}
	m.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Started.Before(infos[j].Started)
	})
	return infos
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Stats contains manager statistics.
type Stats struct {
	Active   int    `json:"active"`
	Accepted uint64 `json:"accepted"`
	Rejected uint64 `json:"rejected"`
}

// Stats returns manager statistics.
func (m *Manager) Stats() Stats {
	return Stats{
		Active:   m.Count(),
		Accepted: m.accepted.Load(),
		Rejected: m.rejected.Load(),
	}
}

// Shutdown tears down every session and waits for them, bounded by ctx.
// New connections are refused afterwards.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.cancel()
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("all sessions closed")
		return nil
	case <-ctx.Done():
		m.logger.Warn("shutdown timed out", "active", m.Count())
		return ctx.Err()
	}
}
