package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// SerializedSession is the JSON form of a persisted session: the save/load
// boundary between the engine and a Store backend.
type SerializedSession struct {
	// Token is the session's opaque identity.
	Token string `json:"token"`

	// Seq is the last emitted delta sequence number. A restored session
	// resumes emitting from Seq+1 so a reconnecting client never sees the
	// sequence move backwards.
	Seq uint64 `json:"seq"`

	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`

	// Nodes holds the tree's vars by node path. Computed fields are
	// omitted; they are recomputed from schema on restore.
	Nodes map[string]map[string]any `json:"nodes"`

	// Version is the serialization format version.
	Version int `json:"version"`
}

// SerializationVersion is the current format version. Increment on breaking
// changes to SerializedSession.
const SerializationVersion = 1

// Marshal converts a SerializedSession to bytes, stamping the version.
func Marshal(ss *SerializedSession) ([]byte, error) {
	ss.Version = SerializationVersion
	return json.Marshal(ss)
}

// Unmarshal converts bytes back to a SerializedSession, rejecting unknown
// format versions.
func Unmarshal(data []byte) (*SerializedSession, error) {
	var ss SerializedSession
	if err := json.Unmarshal(data, &ss); err != nil {
		return nil, fmt.Errorf("store: unmarshal session: %w", err)
	}
	if ss.Version > SerializationVersion {
		return nil, fmt.Errorf("store: unsupported serialization version %d", ss.Version)
	}
	return &ss, nil
}
