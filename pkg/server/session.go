package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/syncline-dev/syncline/pkg/protocol"
	"github.com/syncline-dev/syncline/pkg/state"
	"github.com/syncline-dev/syncline/pkg/store"
)

// Session is the durable binding between one client and its state tree.
// It survives transport reconnects: the channel may detach and reattach,
// but the tree, the event queue, and the delta sequence live on until the
// session is closed or evicted.
type Session struct {
	// Identity
	Token     string
	CreatedAt time.Time

	lastActive atomic.Int64 // Unix nanos

	// Connection. connMu protects conn, connDone, and writes.
	conn       *websocket.Conn
	connDone   chan struct{}
	connMu     sync.Mutex
	closed     atomic.Bool
	detachedAt atomic.Int64 // Unix nanos, 0 while attached

	// State. The tree is only touched while holding stateLock.
	tree       *state.Tree
	registry   *Registry
	middleware []Middleware

	// stateLock is the session's exclusive state lock: send to acquire,
	// receive to release. A channel rather than a mutex so background
	// tasks can bound their wait (LockTimeout).
	stateLock chan struct{}

	// Sequence numbers. sendSeq is advanced only while holding stateLock.
	sendSeq atomic.Uint64 // Last emitted delta sequence
	ackSeq  atomic.Uint64 // Last acknowledged by client

	history *DeltaHistory

	// Queues
	events      chan *protocol.Event
	done        chan struct{}
	loopStarted atomic.Bool

	// Events received while a connection is still establishing are
	// buffered here and replayed once the handshake completes.
	established atomic.Bool
	pending     []*protocol.Event
	pendingMu   sync.Mutex

	// Background tasks
	tasks    map[string]*backgroundTask
	tasksMu  sync.Mutex
	bgActive atomic.Int64

	// Lifecycle callbacks, set by the manager.
	onDetach func(*Session)
	onClose  func(*Session)

	config *SessionConfig
	logger *slog.Logger

	// Metrics
	eventCount atomic.Uint64
	deltaCount atomic.Uint64
	bytesSent  atomic.Uint64
	bytesRecv  atomic.Uint64
}

type backgroundTask struct {
	id        string
	handler   string
	cancel    chan struct{}
	cancelled atomic.Bool
	started   time.Time
}

// newSessionToken generates a cryptographically random session token.
func newSessionToken() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		// Weak tokens are dangerous; fail hard on entropy loss.
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return hex.EncodeToString(b)
}

// newSession creates a session with a fresh tree built from the schema.
func newSession(schema *state.Schema, registry *Registry, middleware []Middleware, config *SessionConfig, logger *slog.Logger) *Session {
	now := time.Now()
	token := newSessionToken()

	s := &Session{
		Token:      token,
		CreatedAt:  now,
		tree:       state.NewTree(schema),
		registry:   registry,
		middleware: middleware,
		stateLock:  make(chan struct{}, 1),
		history:    NewDeltaHistory(config.MaxDeltaHistory),
		events:     make(chan *protocol.Event, config.MaxEventQueue),
		done:       make(chan struct{}),
		tasks:      make(map[string]*backgroundTask),
		config:     config,
		logger:     logger.With("session_id", token),
	}
	s.lastActive.Store(now.UnixNano())
	return s
}

// Tree returns the session's state tree. Callers outside a handler must
// hold the state lock to touch it.
func (s *Session) Tree() *state.Tree {
	return s.tree
}

// Seq returns the last emitted delta sequence.
func (s *Session) Seq() uint64 {
	return s.sendSeq.Load()
}

// History returns the session's delta replay history.
func (s *Session) History() *DeltaHistory {
	return s.history
}

// LastActive returns the time of the last client activity.
func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

func (s *Session) touch() {
	s.lastActive.Store(time.Now().UnixNano())
}

// IsClosed reports whether the session is closed.
func (s *Session) IsClosed() bool {
	return s.closed.Load()
}

// IsDetached reports whether the session currently has no channel.
func (s *Session) IsDetached() bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.conn == nil
}

// DetachedAt returns when the channel detached, or the zero time while
// attached.
func (s *Session) DetachedAt() time.Time {
	ns := s.detachedAt.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Done returns a channel closed when the session shuts down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// =============================================================================
// State lock
// =============================================================================

func (s *Session) acquire() {
	s.stateLock <- struct{}{}
}

func (s *Session) release() {
	<-s.stateLock
}

// acquireTimeout acquires the state lock, waiting at most d. A zero or
// negative d waits forever.
func (s *Session) acquireTimeout(d time.Duration) error {
	if d <= 0 {
		s.acquire()
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case s.stateLock <- struct{}{}:
		return nil
	case <-timer.C:
		return ErrLockTimeout
	}
}

// =============================================================================
// Delta emission
// =============================================================================

// flushAndSend flushes dirty state into a delta, assigns it the next
// sequence number, records it for replay, and writes it to the channel.
// Returns false when nothing changed since the last flush. The caller must
// hold the state lock.
func (s *Session) flushAndSend() bool {
	if !s.tree.HasDirty() {
		return false
	}
	changes := s.tree.FlushDirty()
	if len(changes) == 0 {
		// Every dirtied field landed back on its previous value.
		return false
	}

	// Claim the sequence number only after the frame encodes: a failed
	// encode must not leave a hole that history replay can never fill.
	seq := s.sendSeq.Load() + 1
	frame, err := protocol.Encode(protocol.MsgDelta, &protocol.Delta{
		Token: s.Token,
		Seq:   seq,
		Nodes: changes,
	})
	if err != nil {
		// Unreachable for values the schema accepted; Set rejects
		// anything the wire format cannot carry.
		s.logger.Error("delta encode failed", "error", err)
		return false
	}
	s.sendSeq.Store(seq)

	// Record before writing: even if the channel is gone, a reconnecting
	// client replays this delta from history.
	s.history.Add(seq, frame)
	s.deltaCount.Add(1)
	s.writeFrame(frame)

	s.logger.Debug("sent delta", "seq", seq, "nodes", len(changes))
	return true
}

// SendSnapshot emits a full-state snapshot tagged with the current
// sequence number, establishing a resync baseline for the client.
// Snapshots are not added to the replay history.
func (s *Session) SendSnapshot() {
	s.acquire()
	defer s.release()
	s.sendSnapshotLocked()
}

func (s *Session) sendSnapshotLocked() {
	frame := protocol.EncodeDelta(&protocol.Delta{
		Token:    s.Token,
		Seq:      s.sendSeq.Load(),
		Snapshot: true,
		Nodes:    s.tree.Snapshot(),
	})
	s.writeFrame(frame)
	s.logger.Debug("sent snapshot", "seq", s.sendSeq.Load())
}

// writeFrame writes one encoded message to the channel. A write failure
// detaches the channel; the session itself stays alive for resume.
func (s *Session) writeFrame(frame []byte) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn == nil {
		return ErrNoConnection
	}

	s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		s.logger.Error("write error", "error", err)
		s.detachLocked()
		return err
	}
	s.bytesSent.Add(uint64(len(frame)))
	return nil
}

// sendError reports a failure to the client without closing the channel.
func (s *Session) sendError(code protocol.ErrorCode, message string) {
	s.writeFrame(protocol.EncodeErrorMessage(protocol.NewError(code, message)))
}

func (s *Session) sendPing() error {
	frame := protocol.MustEncode(protocol.MsgPing, &protocol.PingPong{
		Timestamp: time.Now().UnixMilli(),
	})
	return s.writeFrame(frame)
}

// =============================================================================
// Dispatch
// =============================================================================

// dispatch executes one main-queue event: resolve, lock, run, flush.
// Handler failures roll the tree back to the last successful flush and are
// reported to this session only.
func (s *Session) dispatch(ev *protocol.Event) {
	s.eventCount.Add(1)
	s.touch()

	fn, background, ok := s.registry.Lookup(ev.Handler)
	if !ok {
		s.logger.Warn("handler not found", "handler", ev.Handler)
		s.sendError(protocol.ErrCodeHandlerNotFound, "no handler at "+ev.Handler)
		return
	}

	nodePath, _ := ev.NodePath()
	node, err := s.tree.Node(nodePath)
	if err != nil {
		s.logger.Warn("handler targets unknown node", "handler", ev.Handler)
		s.sendError(protocol.ErrCodeHandlerNotFound, "no node at "+nodePath)
		return
	}

	if background {
		s.spawnTask(ev.Handler, fn, node, ev.Args)
		return
	}

	s.acquire()
	ctx := &Ctx{
		session: s,
		node:    node,
		handler: ev.Handler,
		args:    ev.Args,
		stdCtx:  context.Background(),
		logger:  s.logger.With("handler", ev.Handler),
	}

	if err := s.safeExecute(ctx, fn); err != nil {
		s.tree.Rollback()
		s.release()
		s.logger.Error("handler failed", "handler", ev.Handler, "error", err)
		s.sendError(protocol.ErrCodeHandlerFailed, err.Error())
		return
	}
	s.release()
}

// Invoke dispatches a handler synchronously from server-side code, outside
// the main event queue. The error a wire dispatch would report to the
// client is returned to the caller instead. Background handlers are
// rejected; use StartTask for those.
func (s *Session) Invoke(handler string, args ...any) error {
	if s.closed.Load() {
		return NewSessionError(s.Token, "invoke", ErrSessionClosed)
	}

	fn, background, ok := s.registry.Lookup(handler)
	if !ok {
		return NewSessionError(s.Token, "invoke", ErrHandlerNotFound)
	}
	if background {
		return NewSessionError(s.Token, "invoke", ErrHandlerNotFound)
	}

	ev := &protocol.Event{Token: s.Token, Handler: handler, Args: args}
	nodePath, _ := ev.NodePath()
	node, err := s.tree.Node(nodePath)
	if err != nil {
		return NewSessionError(s.Token, "invoke", ErrHandlerNotFound)
	}

	s.touch()
	s.acquire()
	ctx := &Ctx{
		session: s,
		node:    node,
		handler: handler,
		args:    args,
		stdCtx:  context.Background(),
		logger:  s.logger.With("handler", handler),
	}
	if err := s.safeExecute(ctx, fn); err != nil {
		s.tree.Rollback()
		s.release()
		return err
	}
	s.release()
	return nil
}

// safeExecute runs a handler through the middleware chain. The innermost
// link recovers handler panics and performs the completion flush, so
// middleware observes both the *HandlerError and the dispatch's full
// delta count. The outer recover guards against panics in middleware
// itself.
func (s *Session) safeExecute(ctx *Ctx, fn HandlerFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			s.logger.Error("middleware panic",
				"panic", r,
				"handler", ctx.handler,
				"stack", string(stack))
			err = NewHandlerError(s.Token, ctx.handler, r, stack)
		}
	}()

	call := func(c *Ctx) (err error) {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				s.logger.Error("handler panic",
					"panic", r,
					"handler", c.handler,
					"stack", string(stack))
				err = NewHandlerError(s.Token, c.handler, r, stack)
			}
		}()
		if err := fn(c); err != nil {
			return err
		}
		if s.flushAndSend() {
			c.deltas++
		}
		return nil
	}
	for i := len(s.middleware) - 1; i >= 0; i-- {
		call = s.middleware[i](call)
	}
	return call(ctx)
}

// =============================================================================
// Background tasks
// =============================================================================

// StartTask runs a registered handler as a background task, outside the
// main queue, and returns its task id.
func (s *Session) StartTask(handler string, args ...any) (string, error) {
	if s.closed.Load() {
		return "", ErrSessionClosed
	}
	fn, _, ok := s.registry.Lookup(handler)
	if !ok {
		return "", ErrHandlerNotFound
	}
	nodePath, _ := (&protocol.Event{Handler: handler}).NodePath()
	node, err := s.tree.Node(nodePath)
	if err != nil {
		return "", ErrHandlerNotFound
	}
	return s.spawnTask(handler, fn, node, args), nil
}

func (s *Session) spawnTask(handler string, fn HandlerFunc, node *state.Node, args []any) string {
	task := &backgroundTask{
		id:      uuid.NewString(),
		handler: handler,
		cancel:  make(chan struct{}),
		started: time.Now(),
	}
	s.tasksMu.Lock()
	s.tasks[task.id] = task
	s.tasksMu.Unlock()
	s.bgActive.Add(1)

	s.logger.Debug("task started", "task_id", task.id, "handler", handler)
	go s.runTask(task, fn, node, args)
	return task.id
}

func (s *Session) runTask(task *backgroundTask, fn HandlerFunc, node *state.Node, args []any) {
	defer func() {
		s.tasksMu.Lock()
		delete(s.tasks, task.id)
		s.tasksMu.Unlock()
		s.bgActive.Add(-1)
	}()

	if err := s.acquireTimeout(s.config.LockTimeout); err != nil {
		s.logger.Warn("task lock timeout", "task_id", task.id, "handler", task.handler)
		s.sendError(protocol.ErrCodeLockTimeout, "background task "+task.id+" timed out waiting for state lock")
		return
	}

	ctx := &Ctx{
		session: s,
		node:    node,
		handler: task.handler,
		args:    args,
		task:    task,
		stdCtx:  context.Background(),
		logger:  s.logger.With("handler", task.handler, "task_id", task.id),
	}

	err := s.safeExecute(ctx, fn)
	switch {
	case err == nil:
		s.release()

	case errors.Is(err, ErrTaskCancelled):
		// Yield released the lock before observing the cancel; everything
		// mutated before it was already flushed.
		s.logger.Info("task cancelled", "task_id", task.id, "handler", task.handler)

	case errors.Is(err, ErrSessionClosed):
		// Session shut down under the task; nothing left to report to.

	case errors.Is(err, ErrLockTimeout):
		// Reacquire at a yield timed out; the lock is not held.
		s.logger.Warn("task lock timeout at yield", "task_id", task.id, "handler", task.handler)
		s.sendError(protocol.ErrCodeLockTimeout, "background task "+task.id+" timed out waiting for state lock")

	default:
		s.tree.Rollback()
		s.release()
		s.logger.Error("task failed", "task_id", task.id, "handler", task.handler, "error", err)
		s.sendError(protocol.ErrCodeHandlerFailed, err.Error())
	}
}

// CancelTask requests cooperative cancellation of a background task. The
// task observes it at its next yield; a task that never yields cannot be
// cancelled.
func (s *Session) CancelTask(id string) error {
	s.tasksMu.Lock()
	task, ok := s.tasks[id]
	s.tasksMu.Unlock()
	if !ok {
		return ErrTaskNotFound
	}
	if task.cancelled.CompareAndSwap(false, true) {
		close(task.cancel)
	}
	return nil
}

// Tasks returns the ids of currently running background tasks.
func (s *Session) Tasks() []string {
	s.tasksMu.Lock()
	defer s.tasksMu.Unlock()
	ids := make([]string, 0, len(s.tasks))
	for id := range s.tasks {
		ids = append(ids, id)
	}
	return ids
}

// BackgroundActive returns the number of executing background tasks.
func (s *Session) BackgroundActive() int {
	return int(s.bgActive.Load())
}

func (s *Session) cancelAllTasks() {
	s.tasksMu.Lock()
	defer s.tasksMu.Unlock()
	for _, task := range s.tasks {
		if task.cancelled.CompareAndSwap(false, true) {
			close(task.cancel)
		}
	}
}

// =============================================================================
// Event queue
// =============================================================================

// QueueEvent enqueues a client event for the main queue. Events received
// while a connection is still establishing are buffered and replayed once
// the handshake completes, never silently dropped.
func (s *Session) QueueEvent(ev *protocol.Event) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}

	if !s.established.Load() {
		s.pendingMu.Lock()
		defer s.pendingMu.Unlock()
		if !s.established.Load() {
			if len(s.pending) >= s.config.MaxPendingEvents {
				return ErrEventQueueFull
			}
			s.pending = append(s.pending, ev)
			return nil
		}
	}

	select {
	case s.events <- ev:
		return nil
	default:
		s.logger.Warn("event queue full, dropping event", "handler", ev.Handler)
		return ErrEventQueueFull
	}
}

// markEstablished flips the session into established mode and replays any
// events buffered during connection establishment, in arrival order. The
// replay happens under pendingMu, before established flips: a concurrent
// QueueEvent waits on the mutex and enqueues behind every buffered event.
func (s *Session) markEstablished() {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	buffered := s.pending
	s.pending = nil
	for _, ev := range buffered {
		select {
		case s.events <- ev:
		default:
			s.logger.Warn("event queue full replaying buffered event", "handler", ev.Handler)
		}
	}
	s.established.Store(true)

	if len(buffered) > 0 {
		s.logger.Debug("replayed buffered events", "count", len(buffered))
	}
}

// =============================================================================
// Channel lifecycle
// =============================================================================

// Attach binds a new WebSocket connection to the session, replacing and
// closing any previous one.
func (s *Session) Attach(conn *websocket.Conn) {
	s.connMu.Lock()
	old := s.conn
	s.conn = conn
	if s.connDone != nil {
		close(s.connDone)
	}
	s.connDone = make(chan struct{})
	s.detachedAt.Store(0)
	s.connMu.Unlock()

	if old != nil {
		old.Close()
	}
	s.touch()
	s.logger.Info("channel attached")
}

// Detach drops the given connection if it is still the session's current
// one. The session, its queue, and its sequence survive for resume.
func (s *Session) Detach(conn *websocket.Conn) {
	s.connMu.Lock()
	if s.conn == nil || (conn != nil && s.conn != conn) {
		s.connMu.Unlock()
		return
	}
	s.detachLocked()
	s.connMu.Unlock()
}

// detachLocked detaches the current connection. connMu must be held.
func (s *Session) detachLocked() {
	conn := s.conn
	s.conn = nil
	if s.connDone != nil {
		close(s.connDone)
		s.connDone = nil
	}
	s.established.Store(false)
	s.detachedAt.Store(time.Now().UnixNano())

	if conn != nil {
		conn.Close()
	}
	s.logger.Info("channel detached", "seq", s.sendSeq.Load())

	if s.onDetach != nil {
		go s.onDetach(s)
	}
}

// Start launches the read and write loops for the attached connection, and
// the event loop if it is not already running.
func (s *Session) Start() {
	s.connMu.Lock()
	conn := s.conn
	connDone := s.connDone
	s.connMu.Unlock()

	if conn != nil {
		go s.ReadLoop(conn)
		go s.WriteLoop(connDone)
	}
	if s.loopStarted.CompareAndSwap(false, true) {
		go s.EventLoop()
	}
}

// Close shuts the session down: cancels background tasks, stops the loops,
// and closes the channel.
func (s *Session) Close() {
	if s.closed.Swap(true) {
		return
	}

	s.cancelAllTasks()
	close(s.done)

	s.connMu.Lock()
	conn := s.conn
	s.conn = nil
	if s.connDone != nil {
		close(s.connDone)
		s.connDone = nil
	}
	s.connMu.Unlock()

	if conn != nil {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		conn.Close()
	}

	s.logger.Info("session closed",
		"events", s.eventCount.Load(),
		"deltas", s.deltaCount.Load(),
		"bytes_sent", s.bytesSent.Load(),
		"bytes_recv", s.bytesRecv.Load())

	if s.onClose != nil {
		s.onClose(s)
	}
}

// =============================================================================
// Persistence
// =============================================================================

// Serialize captures the session for a backing store: token, sequence, and
// the tree's vars. Computed fields are rebuilt from schema on restore.
func (s *Session) Serialize() ([]byte, error) {
	s.acquire()
	defer s.release()

	return store.Marshal(&store.SerializedSession{
		Token:      s.Token,
		Seq:        s.sendSeq.Load(),
		CreatedAt:  s.CreatedAt,
		LastActive: s.LastActive(),
		Nodes:      s.tree.MarshalState(),
	})
}

// Stats returns a point-in-time summary of the session.
func (s *Session) Stats() SessionStats {
	return SessionStats{
		Token:           s.Token,
		CreatedAt:       s.CreatedAt,
		LastActive:      s.LastActive(),
		Seq:             s.sendSeq.Load(),
		AckSeq:          s.ackSeq.Load(),
		EventCount:      s.eventCount.Load(),
		DeltaCount:      s.deltaCount.Load(),
		BytesSent:       s.bytesSent.Load(),
		BytesRecv:       s.bytesRecv.Load(),
		BackgroundTasks: s.BackgroundActive(),
		Attached:        !s.IsDetached(),
	}
}

// SessionStats contains session statistics.
type SessionStats struct {
	Token           string
	CreatedAt       time.Time
	LastActive      time.Time
	Seq             uint64
	AckSeq          uint64
	EventCount      uint64
	DeltaCount      uint64
	BytesSent       uint64
	BytesRecv       uint64
	BackgroundTasks int
	Attached        bool
}
