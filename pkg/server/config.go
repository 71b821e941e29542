package server

import (
	"net/http"
	"net/url"
	"time"

	"github.com/syncline-dev/syncline/pkg/protocol"
)

// SessionConfig holds configuration for individual sessions.
type SessionConfig struct {
	// Timeouts

	// ReadTimeout is the maximum time to wait for a message from the client.
	// Default: 60 seconds.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum time to wait when sending a message.
	// Default: 10 seconds.
	WriteTimeout time.Duration

	// IdleTimeout is the time after which an inactive session is evicted.
	// Default: 5 minutes.
	IdleTimeout time.Duration

	// HandshakeTimeout is the maximum time for the initial handshake.
	// Default: 10 seconds.
	HandshakeTimeout time.Duration

	// HeartbeatInterval is the time between heartbeat pings.
	// Default: 30 seconds.
	HeartbeatInterval time.Duration

	// LockTimeout bounds how long a background task waits for the session
	// state lock before failing with ErrLockTimeout. Zero means wait forever.
	// Default: 5 seconds.
	LockTimeout time.Duration

	// Limits

	// MaxMessageSize is the maximum size of an incoming message.
	// Default: protocol.MaxMessageSize.
	MaxMessageSize int64

	// MaxDeltaHistory is the number of recent deltas kept for replay on
	// reconnect. Default: 100.
	MaxDeltaHistory int

	// MaxEventQueue is the size of the main event queue buffer.
	// Default: 256.
	MaxEventQueue int

	// MaxPendingEvents bounds events buffered while a connection is still
	// establishing. Default: 64.
	MaxPendingEvents int
}

// DefaultSessionConfig returns a SessionConfig with sensible defaults.
func DefaultSessionConfig() *SessionConfig {
	return &SessionConfig{
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       5 * time.Minute,
		HandshakeTimeout:  10 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		LockTimeout:       5 * time.Second,
		MaxMessageSize:    protocol.MaxMessageSize,
		MaxDeltaHistory:   100,
		MaxEventQueue:     256,
		MaxPendingEvents:  64,
	}
}

// Clone returns a copy of the SessionConfig.
func (c *SessionConfig) Clone() *SessionConfig {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// ServerConfig holds configuration for the HTTP/WebSocket server.
type ServerConfig struct {
	// Address is the address to listen on (e.g., ":8080" or "localhost:3000").
	// Default: ":8080".
	Address string

	// ReadBufferSize is the WebSocket read buffer size.
	// Default: 4096.
	ReadBufferSize int

	// WriteBufferSize is the WebSocket write buffer size.
	// Default: 4096.
	WriteBufferSize int

	// CheckOrigin is called to validate the request origin.
	// Default: SameOriginCheck.
	CheckOrigin func(r *http.Request) bool

	// EnableCompression enables WebSocket compression.
	// Default: true.
	EnableCompression bool

	// ReadHeaderTimeout bounds reading HTTP request headers.
	// Default: 10 seconds.
	ReadHeaderTimeout time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	// Default: 30 seconds.
	ShutdownTimeout time.Duration
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
// CheckOrigin enforces same-origin by default to prevent cross-site
// WebSocket hijacking.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Address:           ":8080",
		ReadBufferSize:    4096,
		WriteBufferSize:   4096,
		CheckOrigin:       SameOriginCheck,
		EnableCompression: true,
		ReadHeaderTimeout: 10 * time.Second,
		ShutdownTimeout:   30 * time.Second,
	}
}

// Clone returns a copy of the ServerConfig.
func (c *ServerConfig) Clone() *ServerConfig {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// WithAddress sets the server address and returns the config for chaining.
func (c *ServerConfig) WithAddress(addr string) *ServerConfig {
	c.Address = addr
	return c
}

// WithCheckOrigin sets the origin check and returns the config for chaining.
func (c *ServerConfig) WithCheckOrigin(fn func(r *http.Request) bool) *ServerConfig {
	c.CheckOrigin = fn
	return c
}

// SameOriginCheck validates that the WebSocket request origin matches the host.
// This is the secure default for CheckOrigin.
func SameOriginCheck(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// No Origin header (e.g., same-origin request or curl)
		return true
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := r.Host
	if host == "" {
		return false
	}

	return originURL.Host == host
}

// OriginAllowlist returns an origin check accepting the listed origins
// in addition to same-origin requests. A single "*" accepts everything.
func OriginAllowlist(origins []string) func(r *http.Request) bool {
	allowed := make(map[string]bool, len(origins))
	wildcard := false
	for _, o := range origins {
		if o == "*" {
			wildcard = true
			continue
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			allowed[u.Host] = true
		} else {
			allowed[o] = true
		}
	}

	return func(r *http.Request) bool {
		if wildcard {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		originURL, err := url.Parse(origin)
		if err != nil {
			return false
		}
		if allowed[originURL.Host] {
			return true
		}
		return originURL.Host == r.Host
	}
}

// ManagerConfig holds configuration for the session manager.
type ManagerConfig struct {
	// Session is the configuration applied to each new session.
	// Default: DefaultSessionConfig().
	Session *SessionConfig

	// MaxSessions is the maximum number of concurrent sessions.
	// 0 means no limit. Default: 0.
	MaxSessions int

	// ResumeWindow is how long a detached session remains resumable before
	// eviction. Default: 5 minutes.
	ResumeWindow time.Duration

	// CleanupInterval is the interval for the session cleanup loop.
	// Default: 30 seconds.
	CleanupInterval time.Duration
}

// DefaultManagerConfig returns a ManagerConfig with sensible defaults.
func DefaultManagerConfig() *ManagerConfig {
	return &ManagerConfig{
		Session:         DefaultSessionConfig(),
		MaxSessions:     0,
		ResumeWindow:    5 * time.Minute,
		CleanupInterval: 30 * time.Second,
	}
}

// Clone returns a copy of the ManagerConfig.
func (c *ManagerConfig) Clone() *ManagerConfig {
	if c == nil {
		return nil
	}
	clone := *c
	if c.Session != nil {
		clone.Session = c.Session.Clone()
	}
	return &clone
}

// WithMaxSessions sets the session limit and returns the config for chaining.
func (c *ManagerConfig) WithMaxSessions(max int) *ManagerConfig {
	c.MaxSessions = max
	return c
}

// WithResumeWindow sets the resume window and returns the config for chaining.
func (c *ManagerConfig) WithResumeWindow(d time.Duration) *ManagerConfig {
	c.ResumeWindow = d
	return c
}
