package server

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/syncline-dev/syncline/pkg/protocol"
	"github.com/syncline-dev/syncline/pkg/state"
	"github.com/syncline-dev/syncline/pkg/store"
)

// Manager owns all live sessions for one engine instance: creation and
// token lookup, the reconnect handshake, idle eviction, and persistence to
// a backing store so sessions can survive a process restart.
type Manager struct {
	sessions map[string]*Session
	mu       sync.RWMutex

	schema     *state.Schema
	registry   *Registry
	middleware []Middleware

	config *ManagerConfig
	store  store.Store // optional

	done        chan struct{}
	cleanupDone chan struct{}
	stopOnce    sync.Once

	totalCreated atomic.Uint64
	totalClosed  atomic.Uint64

	onCreate func(*Session)
	onClose  func(*Session)

	logger *slog.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithStore sets the persistence backend for sessions. Detached sessions
// are saved to it, unknown tokens are looked up in it, and all sessions
// are flushed to it on shutdown.
func WithStore(st store.Store) ManagerOption {
	return func(m *Manager) {
		m.store = st
	}
}

// WithMiddleware sets the dispatch middleware chain applied to every
// handler invocation, in order.
func WithMiddleware(mw ...Middleware) ManagerOption {
	return func(m *Manager) {
		m.middleware = mw
	}
}

// WithLogger sets the manager's logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// OnSessionCreate sets a callback invoked for each new session.
func OnSessionCreate(fn func(*Session)) ManagerOption {
	return func(m *Manager) {
		m.onCreate = fn
	}
}

// OnSessionClose sets a callback invoked when a session closes.
func OnSessionClose(fn func(*Session)) ManagerOption {
	return func(m *Manager) {
		m.onClose = fn
	}
}

// NewManager creates a session manager for the given schema and handler
// registry and starts its cleanup loop.
func NewManager(schema *state.Schema, registry *Registry, config *ManagerConfig, opts ...ManagerOption) *Manager {
	if config == nil {
		config = DefaultManagerConfig()
	}
	if config.Session == nil {
		config.Session = DefaultSessionConfig()
	}

	m := &Manager{
		sessions:    make(map[string]*Session),
		schema:      schema,
		registry:    registry,
		config:      config,
		done:        make(chan struct{}),
		cleanupDone: make(chan struct{}),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "session_manager")

	go m.cleanupLoop()
	return m
}

// Create creates and registers a new session with a fresh state tree.
func (m *Manager) Create() (*Session, error) {
	m.mu.Lock()
	if m.config.MaxSessions > 0 && len(m.sessions) >= m.config.MaxSessions {
		m.mu.Unlock()
		return nil, ErrMaxSessionsReached
	}

	sess := newSession(m.schema, m.registry, m.middleware, m.config.Session, m.logger)
	sess.onDetach = m.onSessionDetach
	sess.onClose = m.onSessionClosed
	m.sessions[sess.Token] = sess
	m.mu.Unlock()

	m.totalCreated.Add(1)
	if m.onCreate != nil {
		m.onCreate(sess)
	}

	m.logger.Info("session created",
		"session_id", sess.Token,
		"active_sessions", m.Count())
	return sess, nil
}

// Get retrieves a live session by token, or nil.
func (m *Manager) Get(token string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[token]
}

// Count returns the number of registered sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Handshake answers a client hello on a fresh connection: resume the named
// session when the token is live (or restorable from the store), otherwise
// issue a brand-new session. It writes the welcome, brings the client up
// to date by delta replay or snapshot, and starts the session loops.
func (m *Manager) Handshake(conn *websocket.Conn, hello *protocol.Hello) (*Session, error) {
	var sess *Session
	resumed := false

	if hello.Token != "" && !hello.Fresh {
		sess = m.Get(hello.Token)
		if sess == nil && m.store != nil {
			sess = m.restoreFromStore(hello.Token)
		}
		if sess != nil && sess.IsClosed() {
			sess = nil
		}
		resumed = sess != nil
	}

	if sess == nil {
		created, err := m.Create()
		if err != nil {
			return nil, err
		}
		sess = created
	}

	sess.Attach(conn)

	welcome := protocol.MustEncode(protocol.MsgWelcome, &protocol.Welcome{
		Token:      sess.Token,
		Seq:        sess.Seq(),
		Resumed:    resumed,
		ServerTime: time.Now().UnixMilli(),
	})
	if err := sess.writeFrame(welcome); err != nil {
		return nil, err
	}

	if resumed {
		m.catchUp(sess, hello.LastSeq)
	} else {
		// A fresh session's snapshot is conceptually delta zero.
		sess.SendSnapshot()
	}

	sess.markEstablished()
	sess.Start()
	return sess, nil
}

// catchUp brings a resumed client from lastSeq to the session's current
// sequence, replaying missed deltas when the history covers the gap and
// falling back to a snapshot when it cannot.
func (m *Manager) catchUp(sess *Session, lastSeq uint64) {
	sess.acquire()
	defer sess.release()

	if lastSeq == sess.sendSeq.Load() {
		return
	}
	if frames := sess.history.Frames(lastSeq); frames != nil {
		for _, frame := range frames {
			sess.writeFrame(frame)
		}
		sess.logger.Info("replayed deltas", "after_seq", lastSeq, "count", len(frames))
		return
	}
	sess.logger.Info("history cannot cover gap, sending snapshot", "last_seq", lastSeq)
	sess.sendSnapshotLocked()
}

// restoreFromStore revives a session persisted by a previous process.
func (m *Manager) restoreFromStore(token string) *Session {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, err := m.store.Load(ctx, token)
	if err != nil || data == nil {
		if err != nil {
			m.logger.Warn("store load failed", "session_id", token, "error", err)
		}
		return nil
	}

	ss, err := store.Unmarshal(data)
	if err != nil {
		m.logger.Warn("stored session unreadable", "session_id", token, "error", err)
		return nil
	}

	sess, err := m.RestoreSession(ss)
	if err != nil {
		m.logger.Warn("session restore failed", "session_id", token, "error", err)
		return nil
	}
	return sess
}

// RestoreSession registers a session rebuilt from its serialized form. The
// tree's vars are restored and computed fields recompute lazily from
// schema; the delta sequence resumes from the persisted value so a
// reconnecting client never sees it move backwards.
func (m *Manager) RestoreSession(ss *store.SerializedSession) (*Session, error) {
	m.mu.Lock()
	if existing, ok := m.sessions[ss.Token]; ok {
		m.mu.Unlock()
		return existing, nil
	}
	if m.config.MaxSessions > 0 && len(m.sessions) >= m.config.MaxSessions {
		m.mu.Unlock()
		return nil, ErrMaxSessionsReached
	}
	m.mu.Unlock()

	sess := newSession(m.schema, m.registry, m.middleware, m.config.Session, m.logger)
	if err := sess.tree.RestoreState(ss.Nodes); err != nil {
		return nil, NewSessionError(ss.Token, "restore", err)
	}
	sess.Token = ss.Token
	sess.CreatedAt = ss.CreatedAt
	sess.sendSeq.Store(ss.Seq)
	sess.logger = m.logger.With("session_id", ss.Token)
	sess.onDetach = m.onSessionDetach
	sess.onClose = m.onSessionClosed

	m.mu.Lock()
	m.sessions[sess.Token] = sess
	m.mu.Unlock()

	m.logger.Info("session restored", "session_id", sess.Token, "seq", ss.Seq)
	return sess, nil
}

// Close closes and removes a session by token.
func (m *Manager) Close(token string) error {
	sess := m.Get(token)
	if sess == nil {
		return ErrSessionNotFound
	}
	sess.Close()
	return nil
}

// onSessionDetach persists a detached session so it survives a restart.
func (m *Manager) onSessionDetach(sess *Session) {
	if m.store == nil || sess.IsClosed() {
		return
	}
	data, err := sess.Serialize()
	if err != nil {
		m.logger.Warn("serialize failed", "session_id", sess.Token, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	expiresAt := time.Now().Add(m.config.ResumeWindow)
	if err := m.store.Save(ctx, sess.Token, data, expiresAt); err != nil {
		m.logger.Warn("store save failed", "session_id", sess.Token, "error", err)
	}
}

// onSessionClosed removes a closed session from the registry and drops its
// persisted copy: a closed token must resolve to a fresh session, never a
// resumed one.
func (m *Manager) onSessionClosed(sess *Session) {
	m.mu.Lock()
	delete(m.sessions, sess.Token)
	m.mu.Unlock()
	m.totalClosed.Add(1)

	if m.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.store.Delete(ctx, sess.Token); err != nil {
			m.logger.Warn("store delete failed", "session_id", sess.Token, "error", err)
		}
	}
	if m.onClose != nil {
		m.onClose(sess)
	}
}

// cleanupLoop evicts sessions whose resume window or idle timeout lapsed.
func (m *Manager) cleanupLoop() {
	defer close(m.cleanupDone)

	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.evictExpired()
		case <-m.done:
			return
		}
	}
}

func (m *Manager) evictExpired() {
	now := time.Now()

	m.mu.RLock()
	var expired []*Session
	for _, sess := range m.sessions {
		if sess.IsClosed() {
			continue
		}
		if sess.IsDetached() {
			detachedAt := sess.DetachedAt()
			if !detachedAt.IsZero() && now.Sub(detachedAt) > m.config.ResumeWindow {
				expired = append(expired, sess)
				continue
			}
		}
		if now.Sub(sess.LastActive()) > m.config.Session.IdleTimeout {
			expired = append(expired, sess)
		}
	}
	m.mu.RUnlock()

	for _, sess := range expired {
		m.logger.Info("evicting idle session",
			"session_id", sess.Token,
			"last_active", sess.LastActive())
		sess.Close()
	}
}

// Shutdown stops the cleanup loop, persists every session to the store,
// and closes them all.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.stopOnce.Do(func() { close(m.done) })

	select {
	case <-m.cleanupDone:
	case <-ctx.Done():
	}

	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.mu.RUnlock()

	if m.store != nil {
		records := make(map[string]store.Record, len(sessions))
		expiresAt := time.Now().Add(m.config.ResumeWindow)
		for _, sess := range sessions {
			data, err := sess.Serialize()
			if err != nil {
				m.logger.Warn("serialize failed", "session_id", sess.Token, "error", err)
				continue
			}
			records[sess.Token] = store.Record{Data: data, ExpiresAt: expiresAt}
		}
		if len(records) > 0 {
			if err := m.store.SaveAll(ctx, records); err != nil {
				m.logger.Error("store save all failed", "error", err)
			}
		}
	}

	for _, sess := range sessions {
		// Skip the per-session store delete during shutdown; the point of
		// SaveAll is that these tokens stay resumable after restart.
		sess.onClose = nil
		sess.Close()
		m.mu.Lock()
		delete(m.sessions, sess.Token)
		m.mu.Unlock()
	}

	m.logger.Info("manager shut down",
		"created", m.totalCreated.Load(),
		"closed", m.totalClosed.Load())
	return nil
}

// Stats returns aggregate manager statistics.
func (m *Manager) Stats() ManagerStats {
	m.mu.RLock()
	active, detached := 0, 0
	for _, sess := range m.sessions {
		if sess.IsDetached() {
			detached++
		} else {
			active++
		}
	}
	m.mu.RUnlock()

	return ManagerStats{
		Active:       active,
		Detached:     detached,
		TotalCreated: m.totalCreated.Load(),
		TotalClosed:  m.totalClosed.Load(),
	}
}

// ManagerStats contains aggregate session counts.
type ManagerStats struct {
	Active       int
	Detached     int
	TotalCreated uint64
	TotalClosed  uint64
}

// RegisterMetrics registers session gauges and lifetime counters with reg.
// Call it once per process; registering the same manager twice, or two
// managers with the same registry, returns a duplicate-collector error from
// the registry.
func (m *Manager) RegisterMetrics(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "syncline",
			Name:      "sessions_active",
			Help:      "Number of sessions with a connected channel.",
		}, func() float64 { return float64(m.Stats().Active) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "syncline",
			Name:      "sessions_detached",
			Help:      "Number of sessions inside the resume window with no channel.",
		}, func() float64 { return float64(m.Stats().Detached) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "syncline",
			Name:      "sessions_created_total",
			Help:      "Total sessions created since process start.",
		}, func() float64 { return float64(m.totalCreated.Load()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "syncline",
			Name:      "sessions_closed_total",
			Help:      "Total sessions closed since process start.",
		}, func() float64 { return float64(m.totalClosed.Load()) }),
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
