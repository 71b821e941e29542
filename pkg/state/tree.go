package state

import "fmt"

// Tree is the arena of Nodes forming one session's state. Nodes are indexed
// by dotted path and hold references to each other as path strings, never
// direct pointers.
//
// A Tree is not safe for concurrent use: the session's dispatcher owns a
// state lock and every handler mutation happens while holding it.
type Tree struct {
	schema *Schema
	nodes  map[string]*Node

	// dirty is the set of nodes with unflushed changes. FlushDirty walks
	// only this set, keeping flush cost proportional to what changed.
	dirty map[string]*Node
}

// NewTree instantiates a tree from the schema: one node per declared path,
// every var at its default.
func NewTree(schema *Schema) *Tree {
	t := &Tree{
		schema: schema,
		nodes:  make(map[string]*Node, len(schema.specs)),
		dirty:  make(map[string]*Node),
	}
	for path, spec := range schema.specs {
		t.nodes[path] = newNode(path, spec, t)
	}
	// Baseline every computed field at its default-derived value, so a
	// flush before any snapshot only reports computed fields whose value
	// actually moved. Done after all nodes exist: compute functions may
	// read across nodes.
	for _, n := range t.nodes {
		for i := range n.spec.Computed {
			cs := &n.spec.Computed[i]
			n.flushed[cs.Name] = n.computeField(cs)
		}
	}
	return t
}

// Schema returns the schema this tree was built from.
func (t *Tree) Schema() *Schema {
	return t.schema
}

// Root returns the root node.
func (t *Tree) Root() *Node {
	return t.nodes[RootPath]
}

// Node returns the node at path.
func (t *Tree) Node(path string) (*Node, error) {
	n := t.nodes[path]
	if n == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownNode, path)
	}
	return n, nil
}

// MustNode is like Node but panics on unknown paths.
func (t *Tree) MustNode(path string) *Node {
	n, err := t.Node(path)
	if err != nil {
		panic(err)
	}
	return n
}

// node is the nil-returning lookup used internally by views and refs.
func (t *Tree) node(path string) *Node {
	return t.nodes[path]
}

// Deref resolves a Ref field value to its target node, or nil if the
// reference is empty or dangling.
func (t *Tree) Deref(r Ref) *Node {
	if r.IsZero() {
		return nil
	}
	return t.nodes[r.Path()]
}

// HasDirty reports whether any node has unflushed changes.
func (t *Tree) HasDirty() bool {
	return len(t.dirty) > 0
}

// FlushDirty returns the path -> field -> value mapping of every field
// whose value differs from the previous flush, then clears the dirty set.
// Pending computed fields are recomputed here, and included only when the
// recomputed value actually changed. Returns nil when nothing changed.
func (t *Tree) FlushDirty() map[string]map[string]any {
	if len(t.dirty) == 0 {
		return nil
	}
	out := make(map[string]map[string]any, len(t.dirty))
	for _, n := range t.dirty {
		n.flushInto(out)
	}
	t.dirty = make(map[string]*Node)
	if len(out) == 0 {
		return nil
	}
	return out
}

// Rollback discards every unflushed change, restoring vars to their values
// at the last flush. Used at the dispatch boundary when a handler fails:
// the state as of the last successful flush stays authoritative.
func (t *Tree) Rollback() {
	for _, n := range t.dirty {
		n.rollback()
	}
	t.dirty = make(map[string]*Node)
}

// Snapshot returns every field of every node, vars and computed, and resets
// dirty tracking so subsequent flushes diff against the snapshot. This is
// the payload of the sequence-zero delta sent on connect.
func (t *Tree) Snapshot() map[string]map[string]any {
	out := make(map[string]map[string]any, len(t.nodes))
	for _, path := range t.schema.Paths() {
		t.nodes[path].snapshotInto(out)
	}
	t.dirty = make(map[string]*Node)
	return out
}

// MarshalState returns the persistable vars of every node. Computed fields
// are omitted: they are derivable and recomputed on restore.
func (t *Tree) MarshalState() map[string]map[string]any {
	out := make(map[string]map[string]any, len(t.nodes))
	for path, n := range t.nodes {
		m := make(map[string]any, len(n.spec.Fields))
		for _, f := range n.spec.Fields {
			m[f.Name] = n.vals[f.Name]
		}
		out[path] = m
	}
	return out
}

// RestoreState loads persisted vars into the tree, validating each value
// against its declared kind. Unknown paths and fields are skipped: a schema
// may have dropped them since the state was saved. Restore does not mark
// anything dirty; the caller snapshots afterwards.
func (t *Tree) RestoreState(nodes map[string]map[string]any) error {
	for path, fields := range nodes {
		n := t.nodes[path]
		if n == nil {
			continue
		}
		for field, value := range fields {
			fs := n.spec.field(field)
			if fs == nil {
				continue
			}
			nv, ok := fs.Kind.normalize(value)
			if !ok {
				return &TypeMismatchError{Path: path, Field: field, Kind: fs.Kind, Value: value}
			}
			n.vals[field] = nv
			t.invalidate(path, field, true)
		}
	}
	return nil
}

// markDirty adds a node to the dirty set.
func (t *Tree) markDirty(n *Node) {
	t.dirty[n.path] = n
}

// invalidate transitively invalidates computed fields depending on
// path.field. With quiet set, memos are invalidated without queueing them
// for the next flush (used by rollback and restore, where the discarded
// values were never flushed).
func (t *Tree) invalidate(path, field string, quiet bool) {
	for _, ref := range t.schema.revDeps[path+"."+field] {
		n := t.nodes[ref.nodePath]
		if n == nil {
			continue
		}
		if _, queued := n.pending[ref.name]; queued && !quiet {
			continue // already invalidated since last flush
		}
		n.memoOK[ref.name] = false
		if !quiet {
			n.pending[ref.name] = struct{}{}
			t.markDirty(n)
		}
		t.invalidate(ref.nodePath, ref.name, quiet)
	}
}
