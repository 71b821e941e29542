package server

import (
	"context"
	"log/slog"

	"github.com/syncline-dev/syncline/pkg/state"
)

// Ctx is the handler's view of one dispatch: the target state node, the
// event arguments, and the yield point. A Ctx is valid only for the
// duration of its handler invocation.
type Ctx struct {
	session *Session
	node    *state.Node
	handler string
	args    []any
	task    *backgroundTask // nil for main-queue handlers
	stdCtx  context.Context
	logger  *slog.Logger
	deltas  int // deltas emitted by this dispatch, final flush included
}

// Node returns the state node the handler is registered on.
func (c *Ctx) Node() *state.Node {
	return c.node
}

// Root returns the root state node.
func (c *Ctx) Root() *state.Node {
	return c.session.tree.Root()
}

// At returns the state node at an absolute path.
func (c *Ctx) At(path string) (*state.Node, error) {
	return c.session.tree.Node(path)
}

// HandlerPath returns the dotted path this dispatch targets.
func (c *Ctx) HandlerPath() string {
	return c.handler
}

// SessionToken returns the session's token.
func (c *Ctx) SessionToken() string {
	return c.session.Token
}

// Background reports whether this handler runs as a background task.
func (c *Ctx) Background() bool {
	return c.task != nil
}

// TaskID returns the background task identifier, or "" on the main queue.
func (c *Ctx) TaskID() string {
	if c.task == nil {
		return ""
	}
	return c.task.id
}

// Args returns the event arguments as decoded from the wire.
func (c *Ctx) Args() []any {
	return c.args
}

// Arg returns the i-th argument, or nil if out of range.
func (c *Ctx) Arg(i int) any {
	if i < 0 || i >= len(c.args) {
		return nil
	}
	return c.args[i]
}

// ArgInt returns the i-th argument as an int64. JSON numbers arrive as
// float64; integral values are coerced.
func (c *Ctx) ArgInt(i int) int64 {
	switch v := c.Arg(i).(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

// ArgString returns the i-th argument as a string, or "".
func (c *Ctx) ArgString(i int) string {
	if v, ok := c.Arg(i).(string); ok {
		return v
	}
	return ""
}

// ArgBool returns the i-th argument as a bool, or false.
func (c *Ctx) ArgBool(i int) bool {
	if v, ok := c.Arg(i).(bool); ok {
		return v
	}
	return false
}

// ArgFloat returns the i-th argument as a float64, or 0.
func (c *Ctx) ArgFloat(i int) float64 {
	switch v := c.Arg(i).(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	default:
		return 0
	}
}

// Yield flushes dirty state and emits the resulting delta immediately, so
// a long handler can stream partial updates. Fields set since the previous
// yield always land together in one delta.
//
// For background tasks, Yield additionally releases the state lock, checks
// for cancellation, and reacquires the lock before returning. It returns
// ErrTaskCancelled if the task was cancelled, ErrSessionClosed if the
// session shut down, or ErrLockTimeout if the lock could not be reacquired
// in time; in all three cases the lock is no longer held and the handler
// must return the error unchanged.
func (c *Ctx) Yield() error {
	s := c.session
	if s.flushAndSend() {
		c.deltas++
	}
	if c.task == nil {
		return nil
	}

	s.release()
	select {
	case <-c.task.cancel:
		return ErrTaskCancelled
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	return s.acquireTimeout(s.config.LockTimeout)
}

// Logger returns a logger scoped to this session and handler.
func (c *Ctx) Logger() *slog.Logger {
	return c.logger
}

// Context returns the standard context for this dispatch. Background task
// contexts are not cancelled on task cancellation; cancellation is
// cooperative and observed at Yield.
func (c *Ctx) Context() context.Context {
	return c.stdCtx
}

// DeltaCount returns how many deltas this dispatch has emitted so far.
// After the handler returns, middleware sees the final count including the
// completion flush.
func (c *Ctx) DeltaCount() int {
	return c.deltas
}
