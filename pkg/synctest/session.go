package synctest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/syncline-dev/syncline/pkg/protocol"
	"github.com/syncline-dev/syncline/pkg/server"
	"github.com/syncline-dev/syncline/pkg/state"
	"github.com/syncline-dev/syncline/pkg/store"
)

// ErrNoSavedSession is returned by SimulateReconnect before any
// SimulateDisconnect.
var ErrNoSavedSession = errors.New("synctest: no saved session")

// TestSession wraps a live server session with delta capture and
// lifecycle simulation.
type TestSession struct {
	*server.Session

	manager *server.Manager
	store   store.Store
	cursor  uint64 // last sequence already returned by Deltas
	saved   []byte // snapshot taken by SimulateDisconnect
}

// Config configures the harness.
type Config struct {
	// ResumeWindow is how long disconnected sessions stay resumable.
	ResumeWindow time.Duration

	// Store backs restart simulation. If nil, a memory store is created.
	Store store.Store

	// Middleware is the dispatch middleware chain.
	Middleware []server.Middleware

	// LockTimeout bounds background lock acquisition in tests.
	LockTimeout time.Duration
}

// Option configures the harness.
type Option func(*Config)

// WithResumeWindow sets the resume window.
func WithResumeWindow(d time.Duration) Option {
	return func(c *Config) { c.ResumeWindow = d }
}

// WithStore sets the persistence backend for restart tests.
func WithStore(st store.Store) Option {
	return func(c *Config) { c.Store = st }
}

// WithMiddleware sets the dispatch middleware chain.
func WithMiddleware(mw ...server.Middleware) Option {
	return func(c *Config) { c.Middleware = mw }
}

// New builds a manager around schema and registry and opens one session
// on it. Cleanup is registered on t.
func New(t *testing.T, schema *state.Schema, registry *server.Registry, opts ...Option) *TestSession {
	t.Helper()

	config := Config{
		ResumeWindow: 5 * time.Minute,
		LockTimeout:  time.Second,
	}
	for _, opt := range opts {
		opt(&config)
	}
	if config.Store == nil {
		config.Store = store.NewMemoryStore()
	}

	mc := server.DefaultManagerConfig()
	mc.ResumeWindow = config.ResumeWindow
	mc.Session.LockTimeout = config.LockTimeout

	manager := server.NewManager(schema, registry, mc,
		server.WithStore(config.Store),
		server.WithMiddleware(config.Middleware...),
	)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := manager.Shutdown(ctx); err != nil {
			t.Errorf("synctest: manager shutdown failed: %v", err)
		}
	})

	sess, err := manager.Create()
	if err != nil {
		t.Fatalf("synctest: session create failed: %v", err)
	}

	return &TestSession{
		Session: sess,
		manager: manager,
		store:   config.Store,
	}
}

// Manager returns the harness's session manager.
func (ts *TestSession) Manager() *server.Manager {
	return ts.manager
}

// Dispatch runs a main-queue handler synchronously, as a wire event would.
func (ts *TestSession) Dispatch(handler string, args ...any) error {
	return ts.Invoke(handler, args...)
}

// WaitTasks blocks until all background tasks finish or the timeout
// elapses.
func (ts *TestSession) WaitTasks(t *testing.T, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for ts.BackgroundActive() > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("synctest: %d background tasks still running after %v",
				ts.BackgroundActive(), timeout)
		}
		time.Sleep(time.Millisecond)
	}
}

// Deltas returns the deltas emitted since the previous call, decoded from
// the session's replay history, oldest first.
func (ts *TestSession) Deltas(t *testing.T) []*protocol.Delta {
	t.Helper()

	frames := ts.History().Frames(ts.cursor)
	if frames == nil {
		if ts.Seq() != ts.cursor {
			t.Fatalf("synctest: history cannot cover seq %d..%d; raise MaxDeltaHistory or call Deltas more often",
				ts.cursor, ts.Seq())
		}
		return nil
	}

	deltas := make([]*protocol.Delta, 0, len(frames))
	for _, frame := range frames {
		env, err := protocol.Decode(frame)
		if err != nil {
			t.Fatalf("synctest: bad frame in history: %v", err)
		}
		d, err := protocol.DecodeDelta(env.Data)
		if err != nil {
			t.Fatalf("synctest: bad delta in history: %v", err)
		}
		deltas = append(deltas, d)
	}
	if n := len(deltas); n > 0 {
		ts.cursor = deltas[n-1].Seq
	}
	return deltas
}

// LastDelta returns the most recent delta since the previous Deltas call,
// or nil when none were emitted.
func (ts *TestSession) LastDelta(t *testing.T) *protocol.Delta {
	t.Helper()
	deltas := ts.Deltas(t)
	if len(deltas) == 0 {
		return nil
	}
	return deltas[len(deltas)-1]
}

// Node returns a node of the session's state tree.
func (ts *TestSession) Node(t *testing.T, path string) *state.Node {
	t.Helper()
	node, err := ts.Tree().Node(path)
	if err != nil {
		t.Fatalf("synctest: no node at %q: %v", path, err)
	}
	return node
}

// SimulateDisconnect snapshots the session the way the manager persists a
// detached session, then closes it. State lives on in the harness until
// SimulateReconnect.
func (ts *TestSession) SimulateDisconnect(t *testing.T) {
	t.Helper()

	data, err := ts.Serialize()
	if err != nil {
		t.Fatalf("synctest: serialize failed: %v", err)
	}
	ts.saved = data
	ts.Close()
}

// SimulateReconnect restores the snapshot taken by SimulateDisconnect, as
// a process restart followed by a resume handshake would. The embedded
// session is replaced; state and sequence numbering continue.
func (ts *TestSession) SimulateReconnect(t *testing.T) {
	t.Helper()

	if ts.saved == nil {
		t.Fatal(ErrNoSavedSession)
	}
	ss, err := store.Unmarshal(ts.saved)
	if err != nil {
		t.Fatalf("synctest: corrupt snapshot: %v", err)
	}
	sess, err := ts.manager.RestoreSession(ss)
	if err != nil {
		t.Fatalf("synctest: restore failed: %v", err)
	}
	ts.Session = sess
	ts.cursor = sess.Seq()
	ts.saved = nil
}
