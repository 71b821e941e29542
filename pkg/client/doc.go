// Package client maintains a local mirror of a server-side session state
// tree. Deltas are applied strictly in sequence order; a gap surfaces as a
// SequenceGapError and triggers a resync request rather than a partial
// merge. The mirror supports an optimistic overlay for snappy local
// feedback and derived views recomputed when their input fields change.
package client
