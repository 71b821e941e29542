// Package state implements the server-held reactive state tree.
//
// A session owns a Tree: an arena of path-addressed Nodes, each holding
// typed fields (vars) and computed fields derived from them. Mutations go
// through Node.Set, which validates values against the declared field kind
// and records dirty state. Tree.FlushDirty drains the dirty set into a
// minimal path -> field -> value mapping, which is the input to the delta
// encoder.
//
// Trees are not safe for concurrent use. The dispatcher serializes access
// through the session's state lock; every Node method assumes that lock is
// held.
package state
