package client

import (
	"log/slog"
	"sync"

	"github.com/syncline-dev/syncline/pkg/protocol"
)

// ResyncFunc is invoked when Apply detects a sequence gap. LastSeq is the
// last sequence the mirror successfully applied; the transport layer should
// send a resync request carrying it.
type ResyncFunc func(lastSeq uint64)

// DeriveFunc computes a derived view value from the current mirror.
// The get argument resolves "node.field" paths against authoritative state.
type DeriveFunc func(get func(path string) any) any

type derivedView struct {
	name   string
	inputs []string // "node.field" paths
	fn     DeriveFunc
	value  any
}

// Store mirrors one session's state tree on the client side.
//
// Apply is the only mutation path for authoritative state; everything else
// reads. SetOptimistic writes to a separate overlay that Apply overwrites,
// never merges, as soon as the authoritative value for that field arrives.
type Store struct {
	mu sync.RWMutex

	token   string
	lastSeq uint64
	synced  bool // a snapshot has established a baseline

	nodes      map[string]map[string]any
	optimistic map[string]map[string]any
	views      map[string]*derivedView

	outbound chan *protocol.Event
	onResync ResyncFunc
	logger   *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// OnResync registers the callback fired when Apply detects a gap.
func OnResync(fn ResyncFunc) Option {
	return func(s *Store) { s.onResync = fn }
}

// WithOutboundBuffer sets the outbound event queue capacity (default 64).
func WithOutboundBuffer(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.outbound = make(chan *protocol.Event, n)
		}
	}
}

// New creates an empty mirror. No state exists until the first snapshot
// is applied.
func New(opts ...Option) *Store {
	s := &Store{
		nodes:      make(map[string]map[string]any),
		optimistic: make(map[string]map[string]any),
		views:      make(map[string]*derivedView),
		outbound:   make(chan *protocol.Event, 64),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ApplyWelcome records the session token and sequence baseline from a
// handshake. When the server did not resume, the mirror is cleared and
// waits for the snapshot that follows.
func (s *Store) ApplyWelcome(w *protocol.Welcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = w.Token
	if !w.Resumed {
		s.nodes = make(map[string]map[string]any)
		s.optimistic = make(map[string]map[string]any)
		s.synced = false
		s.lastSeq = 0
	}
}

// Apply merges a delta into the mirror.
//
// A snapshot replaces the mirror wholesale and resets the sequence
// baseline. A regular delta must carry seq == lastSeq+1; anything else
// returns SequenceGapError, fires the resync callback, and leaves the
// mirror untouched. Authoritative values overwrite any optimistic entry
// for the same field. Derived views whose inputs changed are recomputed
// before Apply returns.
func (s *Store) Apply(d *protocol.Delta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d.IsSnapshot() {
		s.nodes = make(map[string]map[string]any)
		s.optimistic = make(map[string]map[string]any)
		for path, fields := range d.Nodes {
			node := make(map[string]any, len(fields))
			for f, v := range fields {
				node[f] = v
			}
			s.nodes[path] = node
		}
		s.lastSeq = d.Seq
		s.synced = true
		s.recomputeAll()
		s.logger.Debug("snapshot applied", "seq", d.Seq, "nodes", len(d.Nodes))
		return nil
	}

	if !s.synced {
		return ErrNoSnapshot
	}
	if d.Seq != s.lastSeq+1 {
		err := &SequenceGapError{Expected: s.lastSeq + 1, Got: d.Seq}
		s.logger.Warn("sequence gap", "expected", err.Expected, "got", err.Got)
		if s.onResync != nil {
			last := s.lastSeq
			fn := s.onResync
			s.mu.Unlock()
			fn(last)
			s.mu.Lock()
		}
		return err
	}

	changed := make(map[string]bool)
	for path, fields := range d.Nodes {
		node := s.nodes[path]
		if node == nil {
			node = make(map[string]any, len(fields))
			s.nodes[path] = node
		}
		for f, v := range fields {
			node[f] = v
			changed[path+"."+f] = true
			// Authoritative value wins over any optimistic guess.
			if opt := s.optimistic[path]; opt != nil {
				delete(opt, f)
				if len(opt) == 0 {
					delete(s.optimistic, path)
				}
			}
		}
	}
	s.lastSeq = d.Seq
	s.recompute(changed)
	return nil
}

// Emit queues an outbound event for the transport layer to send. The token
// recorded by ApplyWelcome is stamped onto the event.
func (s *Store) Emit(handler string, args ...any) error {
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()

	ev := &protocol.Event{Token: token, Handler: handler, Args: args}
	select {
	case s.outbound <- ev:
		return nil
	default:
		return ErrOutboundFull
	}
}

// Outbound returns the queue of events waiting to be sent.
func (s *Store) Outbound() <-chan *protocol.Event {
	return s.outbound
}

// SetOptimistic records a local guess for a field. It shadows the
// authoritative value in Get until the next delta touching that field
// arrives and overwrites it.
func (s *Store) SetOptimistic(node, field string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	opt := s.optimistic[node]
	if opt == nil {
		opt = make(map[string]any)
		s.optimistic[node] = opt
	}
	opt[field] = value
}

// Get returns the value a UI should display: the optimistic overlay when
// one exists, the authoritative mirror otherwise, nil when neither has
// the field.
func (s *Store) Get(node, field string) any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if opt := s.optimistic[node]; opt != nil {
		if v, ok := opt[field]; ok {
			return v
		}
	}
	if n := s.nodes[node]; n != nil {
		return n[field]
	}
	return nil
}

// Authoritative returns the server-confirmed value, ignoring the
// optimistic overlay.
func (s *Store) Authoritative(node, field string) any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n := s.nodes[node]; n != nil {
		return n[field]
	}
	return nil
}

// Node returns a copy of a node's authoritative fields, nil when the
// mirror has no such node.
func (s *Store) Node(path string) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := s.nodes[path]
	if n == nil {
		return nil
	}
	out := make(map[string]any, len(n))
	for f, v := range n {
		out[f] = v
	}
	return out
}

// Bind registers a derived view recomputed whenever one of its input
// fields ("node.field" paths) changes. The view is computed immediately
// from current state.
func (s *Store) Bind(name string, inputs []string, fn DeriveFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()

	view := &derivedView{name: name, inputs: inputs, fn: fn}
	view.value = fn(s.resolve)
	s.views[name] = view
}

// Derived returns the current value of a bound view.
func (s *Store) Derived(name string) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	view, ok := s.views[name]
	if !ok {
		return nil, ErrViewNotFound
	}
	return view.value, nil
}

// LastSeq returns the sequence of the last applied delta or snapshot.
func (s *Store) LastSeq() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSeq
}

// Token returns the session token recorded by ApplyWelcome.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Synced reports whether a snapshot has established a baseline.
func (s *Store) Synced() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.synced
}

// resolve looks up a "node.field" path in authoritative state. Callers
// hold s.mu.
func (s *Store) resolve(path string) any {
	node, field := splitFieldPath(path)
	if n := s.nodes[node]; n != nil {
		return n[field]
	}
	return nil
}

func (s *Store) recompute(changed map[string]bool) {
	for _, view := range s.views {
		for _, in := range view.inputs {
			if changed[in] {
				view.value = view.fn(s.resolve)
				break
			}
		}
	}
}

func (s *Store) recomputeAll() {
	for _, view := range s.views {
		view.value = view.fn(s.resolve)
	}
}

// splitFieldPath splits "root.child.field" into node path and field name
// at the last dot.
func splitFieldPath(path string) (node, field string) {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '.' {
			return path[:i], path[i+1:]
		}
	}
	return "", path
}
