package state

import "reflect"

// Node is one path-addressed unit of state in a session's tree.
//
// All methods assume the owning session's state lock is held; Nodes have no
// locking of their own.
type Node struct {
	path string
	spec *NodeSpec
	tree *Tree

	// vals holds current var values, keyed by field name.
	vals map[string]any

	// baseline records, for each var dirtied since the last flush, its
	// value at that flush. Presence in the map is the dirty marker; the
	// stored value lets FlushDirty suppress A -> B -> A round trips and
	// Rollback restore the last-flushed state.
	baseline map[string]any

	// memo caches computed field values; memoOK tracks their validity.
	memo   map[string]any
	memoOK map[string]bool

	// pending marks computed fields whose inputs changed since the last
	// flush. flushed records the value each computed field had when last
	// flushed, so unchanged recomputations are suppressed.
	pending map[string]struct{}
	flushed map[string]any
}

func newNode(path string, spec *NodeSpec, tree *Tree) *Node {
	n := &Node{
		path:    path,
		spec:    spec,
		tree:    tree,
		vals:    make(map[string]any, len(spec.Fields)),
		memo:    make(map[string]any, len(spec.Computed)),
		memoOK:  make(map[string]bool, len(spec.Computed)),
		pending: make(map[string]struct{}),
		flushed: make(map[string]any, len(spec.Computed)),
	}
	n.resetDirty()
	for _, f := range spec.Fields {
		if f.Default != nil {
			v, _ := f.Kind.normalize(f.Default)
			n.vals[f.Name] = v
		} else {
			n.vals[f.Name] = f.Kind.zero()
		}
	}
	return n
}

// Path returns the node's stable dotted path from the root.
func (n *Node) Path() string {
	return n.path
}

// Get returns the current value of a var or computed field. Computed fields
// recompute lazily: an invalidated memo is re-evaluated here and cached
// until an input changes again.
func (n *Node) Get(field string) (any, error) {
	if fs := n.spec.field(field); fs != nil {
		return n.vals[field], nil
	}
	if cs := n.spec.computed(field); cs != nil {
		return n.computeField(cs), nil
	}
	return nil, &FieldError{Path: n.path, Field: field, Err: ErrUnknownField}
}

// MustGet is like Get but panics on unknown fields. Intended for handler
// bodies reading fields the schema is known to declare.
func (n *Node) MustGet(field string) any {
	v, err := n.Get(field)
	if err != nil {
		panic(err)
	}
	return v
}

// Int returns an Int field's value. Panics on unknown fields; returns 0 if
// the field holds a non-integer (possible only for computed fields).
func (n *Node) Int(field string) int64 {
	v, _ := n.MustGet(field).(int64)
	return v
}

// String returns a String field's value.
func (n *Node) String(field string) string {
	v, _ := n.MustGet(field).(string)
	return v
}

// Bool returns a Bool field's value.
func (n *Node) Bool(field string) bool {
	v, _ := n.MustGet(field).(bool)
	return v
}

// List returns a List field's value.
func (n *Node) List(field string) []any {
	v, _ := n.MustGet(field).([]any)
	return v
}

// Set validates value against the field's declared kind and stores it,
// marking the field dirty and transitively invalidating dependent computed
// fields (without recomputing them). Setting a field to an equal value is a
// no-op and does not dirty the field.
//
// Returns a *TypeMismatchError for incompatible values; the field keeps its
// previous value and the caller may continue.
func (n *Node) Set(field string, value any) error {
	fs := n.spec.field(field)
	if fs == nil {
		if n.spec.computed(field) != nil {
			return &FieldError{Path: n.path, Field: field, Err: ErrComputedField}
		}
		return &FieldError{Path: n.path, Field: field, Err: ErrUnknownField}
	}

	nv, ok := fs.Kind.normalize(value)
	if !ok {
		return &TypeMismatchError{Path: n.path, Field: field, Kind: fs.Kind, Value: value}
	}

	cur := n.vals[field]
	if valuesEqual(cur, nv) {
		return nil
	}

	if _, dirty := n.baseline[field]; !dirty {
		n.baseline[field] = cur
	}
	n.vals[field] = nv

	n.tree.markDirty(n)
	n.tree.invalidate(n.path, field, false)
	return nil
}

// MustSet is like Set but panics on error. Intended for handler bodies
// writing statically known fields.
func (n *Node) MustSet(field string, value any) {
	if err := n.Set(field, value); err != nil {
		panic(err)
	}
}

// Append appends items to a List field. The whole updated list is treated
// as the field's new value: list mutations ship as full replacement on the
// wire.
func (n *Node) Append(field string, items ...any) error {
	cur, err := n.Get(field)
	if err != nil {
		return err
	}
	list, ok := cur.([]any)
	if !ok {
		return &TypeMismatchError{Path: n.path, Field: field, Kind: KindList, Value: cur}
	}
	next := make([]any, 0, len(list)+len(items))
	next = append(next, list...)
	next = append(next, items...)
	return n.Set(field, next)
}

// View returns read access to this node for compute functions.
func (n *Node) View() View {
	return nodeView{n: n}
}

// computeField returns the memoized value for cs, recomputing if invalid.
func (n *Node) computeField(cs *ComputedSpec) any {
	if n.memoOK[cs.Name] {
		return n.memo[cs.Name]
	}
	v := cs.Compute(nodeView{n: n})
	n.memo[cs.Name] = v
	n.memoOK[cs.Name] = true
	return v
}

// resetDirty clears the node's dirty bookkeeping.
func (n *Node) resetDirty() {
	n.baseline = make(map[string]any)
	n.pending = make(map[string]struct{})
}

// flushInto appends the node's actually-changed fields to out and clears
// the dirty set. Cost is proportional to the number of dirty fields.
func (n *Node) flushInto(out map[string]map[string]any) {
	var changed map[string]any

	put := func(field string, v any) {
		if changed == nil {
			changed = make(map[string]any)
			out[n.path] = changed
		}
		changed[field] = v
	}

	for field, old := range n.baseline {
		if !valuesEqual(n.vals[field], old) {
			put(field, n.vals[field])
		}
	}

	for name := range n.pending {
		cs := n.spec.computed(name)
		v := n.computeField(cs)
		if !valuesEqual(v, n.flushed[name]) {
			put(name, v)
		}
		n.flushed[name] = v
	}

	n.resetDirty()
}

// rollback restores every dirty var to its last-flushed value and
// invalidates the memos that observed the discarded writes.
func (n *Node) rollback() {
	for field, old := range n.baseline {
		n.vals[field] = old
		n.tree.invalidate(n.path, field, true)
	}
	n.resetDirty()
}

// snapshotInto writes every field of the node, vars and computed, into out,
// and records computed values as flushed so later deltas diff against the
// snapshot.
func (n *Node) snapshotInto(out map[string]map[string]any) {
	m := make(map[string]any, len(n.spec.Fields)+len(n.spec.Computed))
	for _, f := range n.spec.Fields {
		m[f.Name] = n.vals[f.Name]
	}
	for i := range n.spec.Computed {
		cs := &n.spec.Computed[i]
		v := n.computeField(cs)
		m[cs.Name] = v
		n.flushed[cs.Name] = v
	}
	out[n.path] = m
	n.resetDirty()
}

// nodeView adapts a Node to the View interface. A nil receiver node yields
// nil values, so compute functions reading bad paths degrade instead of
// panicking.
type nodeView struct {
	n *Node
}

func (v nodeView) Get(field string) any {
	if v.n == nil {
		return nil
	}
	val, err := v.n.Get(field)
	if err != nil {
		return nil
	}
	return val
}

func (v nodeView) At(path string) View {
	if v.n == nil {
		return nodeView{}
	}
	return nodeView{n: v.n.tree.node(path)}
}

// valuesEqual compares canonical field values.
func valuesEqual(a, b any) bool {
	switch av := a.(type) {
	case int64:
		bv, ok := b.(int64)
		return ok && av == bv
	case float64:
		bv, ok := b.(float64)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case Ref:
		bv, ok := b.(Ref)
		return ok && av == bv
	default:
		return reflect.DeepEqual(a, b)
	}
}
