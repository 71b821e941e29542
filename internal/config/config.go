package config

import (
	"context"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"gopkg.in/yaml.v3"

	"github.com/syncline-dev/syncline/internal/errors"
	"github.com/syncline-dev/syncline/pkg/server"
	"github.com/syncline-dev/syncline/pkg/store"
)

const (
	// ConfigFileName is the name of the configuration file.
	ConfigFileName = "syncline.yaml"

	// DefaultAddress is the default listen address.
	DefaultAddress = ":8080"
)

// Config represents the complete syncline.yaml configuration. Durations
// are strings in Go syntax ("30s", "5m"); zero values mean "use the
// default".
type Config struct {
	// Server contains listener configuration.
	Server ServerSection `yaml:"server,omitempty"`

	// Session contains per-session tuning.
	Session SessionSection `yaml:"session,omitempty"`

	// Manager contains session lifecycle configuration.
	Manager ManagerSection `yaml:"manager,omitempty"`

	// Store selects and configures the session persistence backend.
	Store StoreSection `yaml:"store,omitempty"`

	// Logging configures the slog handler.
	Logging LoggingSection `yaml:"logging,omitempty"`

	// configPath stores the path where the config was loaded from.
	configPath string
}

// ServerSection contains listener configuration.
type ServerSection struct {
	// Address is the host:port to listen on.
	Address string `yaml:"address,omitempty"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout string `yaml:"shutdown_timeout,omitempty"`

	// EnableCompression enables per-message websocket compression.
	EnableCompression bool `yaml:"enable_compression,omitempty"`

	// AllowedOrigins lists origins accepted during the websocket
	// upgrade. Empty means same-origin only; "*" accepts everything.
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`
}

// SessionSection contains per-session tuning.
type SessionSection struct {
	ReadTimeout       string `yaml:"read_timeout,omitempty"`
	WriteTimeout      string `yaml:"write_timeout,omitempty"`
	IdleTimeout       string `yaml:"idle_timeout,omitempty"`
	HeartbeatInterval string `yaml:"heartbeat_interval,omitempty"`
	LockTimeout       string `yaml:"lock_timeout,omitempty"`
	MaxMessageSize    int64  `yaml:"max_message_size,omitempty"`
	MaxDeltaHistory   int    `yaml:"max_delta_history,omitempty"`
	MaxEventQueue     int    `yaml:"max_event_queue,omitempty"`
	MaxPendingEvents  int    `yaml:"max_pending_events,omitempty"`
}

// ManagerSection contains session lifecycle configuration.
type ManagerSection struct {
	// MaxSessions caps concurrent sessions; 0 means unlimited.
	MaxSessions int `yaml:"max_sessions,omitempty"`

	// ResumeWindow is how long a detached session stays resumable.
	ResumeWindow string `yaml:"resume_window,omitempty"`

	// CleanupInterval is how often expired sessions are swept.
	CleanupInterval string `yaml:"cleanup_interval,omitempty"`
}

// StoreSection selects the persistence backend.
type StoreSection struct {
	// Backend is one of "memory", "redis", "s3". Default: memory.
	Backend string `yaml:"backend,omitempty"`

	Memory MemoryStoreSection `yaml:"memory,omitempty"`
	Redis  RedisStoreSection  `yaml:"redis,omitempty"`
	S3     S3StoreSection     `yaml:"s3,omitempty"`
}

// MemoryStoreSection configures the in-memory backend.
type MemoryStoreSection struct {
	CleanupInterval string `yaml:"cleanup_interval,omitempty"`
}

// RedisStoreSection configures the redis backend.
type RedisStoreSection struct {
	Addr     string `yaml:"addr,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
	Prefix   string `yaml:"prefix,omitempty"`
}

// S3StoreSection configures the s3 backend.
type S3StoreSection struct {
	Bucket string `yaml:"bucket,omitempty"`
	Prefix string `yaml:"prefix,omitempty"`
	Region string `yaml:"region,omitempty"`
}

// LoggingSection configures the slog handler.
type LoggingSection struct {
	// Level is one of "debug", "info", "warn", "error". Default: info.
	Level string `yaml:"level,omitempty"`

	// Format is "text" or "json". Default: text.
	Format string `yaml:"format,omitempty"`
}

// New returns a configuration with defaults filled in.
func New() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads syncline.yaml from dir.
func Load(dir string) (*Config, error) {
	return LoadFile(filepath.Join(dir, ConfigFileName))
}

// LoadFile reads and validates a configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("E101").
				WithDetail("No " + ConfigFileName + " found in " + filepath.Dir(path)).
				WithSuggestion("Create " + ConfigFileName + " or pass --config with an explicit path")
		}
		return nil, errors.New("E102").Wrap(err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.New("E102").
			WithDetail("Failed to parse " + path + ": " + err.Error()).
			WithSuggestion("Check indentation; YAML is whitespace-sensitive").
			Wrap(err)
	}

	cfg.configPath = path
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromWorkingDir walks up from the working directory looking for
// syncline.yaml.
func LoadFromWorkingDir() (*Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	root, err := FindProjectRoot(wd)
	if err != nil {
		return nil, err
	}
	return Load(root)
}

// FindProjectRoot walks up from startDir until it finds a directory
// containing syncline.yaml.
func FindProjectRoot(startDir string) (string, error) {
	dir := startDir
	for {
		if _, err := os.Stat(filepath.Join(dir, ConfigFileName)); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("E101").
				WithDetail("No " + ConfigFileName + " found in " + startDir + " or any parent directory")
		}
		dir = parent
	}
}

// Path returns the path the configuration was loaded from, or "" for a
// configuration built in memory.
func (c *Config) Path() string {
	return c.configPath
}

func (c *Config) applyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = DefaultAddress
	}
	if c.Store.Backend == "" {
		c.Store.Backend = "memory"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks field formats without touching the network.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Server.Address); err != nil {
		return errors.New("E105").
			WithDetail("server.address " + c.Server.Address + " is not host:port").
			WithExample("server:\n  address: \":8080\"").
			Wrap(err)
	}

	durations := map[string]string{
		"server.shutdown_timeout":    c.Server.ShutdownTimeout,
		"session.read_timeout":       c.Session.ReadTimeout,
		"session.write_timeout":      c.Session.WriteTimeout,
		"session.idle_timeout":       c.Session.IdleTimeout,
		"session.heartbeat_interval": c.Session.HeartbeatInterval,
		"session.lock_timeout":       c.Session.LockTimeout,
		"manager.resume_window":      c.Manager.ResumeWindow,
		"manager.cleanup_interval":   c.Manager.CleanupInterval,
		"store.memory.cleanup_interval": c.Store.Memory.CleanupInterval,
	}
	for field, val := range durations {
		if val == "" {
			continue
		}
		if _, err := time.ParseDuration(val); err != nil {
			return errors.New("E104").
				WithDetail(field + ": " + val).
				WithSuggestion("Use Go duration syntax, e.g. \"30s\" or \"5m\"").
				Wrap(err)
		}
	}

	switch c.Store.Backend {
	case "memory":
	case "redis":
		if c.Store.Redis.Addr == "" {
			return errors.New("E202").
				WithDetail("store.backend is redis but store.redis.addr is empty").
				WithExample("store:\n  backend: redis\n  redis:\n    addr: localhost:6379")
		}
	case "s3":
		if c.Store.S3.Bucket == "" {
			return errors.New("E202").
				WithDetail("store.backend is s3 but store.s3.bucket is empty").
				WithExample("store:\n  backend: s3\n  s3:\n    bucket: my-sessions")
		}
	default:
		return errors.New("E201").
			WithDetail("store.backend " + c.Store.Backend + " is not supported")
	}

	if c.Manager.MaxSessions < 0 {
		return errors.New("E103").
			WithDetail("manager.max_sessions must be >= 0")
	}
	return nil
}

// duration parses a validated duration string, returning fallback for "".
func duration(val string, fallback time.Duration) time.Duration {
	if val == "" {
		return fallback
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return d
}

// ServerConfig builds the pkg/server listener configuration.
func (c *Config) ServerConfig() *server.ServerConfig {
	sc := server.DefaultServerConfig()
	sc.Address = c.Server.Address
	sc.ShutdownTimeout = duration(c.Server.ShutdownTimeout, sc.ShutdownTimeout)
	sc.EnableCompression = c.Server.EnableCompression
	if len(c.Server.AllowedOrigins) > 0 {
		sc.CheckOrigin = server.OriginAllowlist(c.Server.AllowedOrigins)
	}
	return sc
}

// SessionConfig builds the pkg/server per-session configuration.
func (c *Config) SessionConfig() *server.SessionConfig {
	sc := server.DefaultSessionConfig()
	sc.ReadTimeout = duration(c.Session.ReadTimeout, sc.ReadTimeout)
	sc.WriteTimeout = duration(c.Session.WriteTimeout, sc.WriteTimeout)
	sc.IdleTimeout = duration(c.Session.IdleTimeout, sc.IdleTimeout)
	sc.HeartbeatInterval = duration(c.Session.HeartbeatInterval, sc.HeartbeatInterval)
	sc.LockTimeout = duration(c.Session.LockTimeout, sc.LockTimeout)
	if c.Session.MaxMessageSize > 0 {
		sc.MaxMessageSize = c.Session.MaxMessageSize
	}
	if c.Session.MaxDeltaHistory > 0 {
		sc.MaxDeltaHistory = c.Session.MaxDeltaHistory
	}
	if c.Session.MaxEventQueue > 0 {
		sc.MaxEventQueue = c.Session.MaxEventQueue
	}
	if c.Session.MaxPendingEvents > 0 {
		sc.MaxPendingEvents = c.Session.MaxPendingEvents
	}
	return sc
}

// ManagerConfig builds the pkg/server lifecycle configuration.
func (c *Config) ManagerConfig() *server.ManagerConfig {
	mc := server.DefaultManagerConfig()
	mc.Session = c.SessionConfig()
	mc.MaxSessions = c.Manager.MaxSessions
	mc.ResumeWindow = duration(c.Manager.ResumeWindow, mc.ResumeWindow)
	mc.CleanupInterval = duration(c.Manager.CleanupInterval, mc.CleanupInterval)
	return mc
}

// Logger builds a slog.Logger from the logging section, writing to stderr.
func (c *Config) Logger() *slog.Logger {
	var level slog.Level
	switch c.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if c.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// OpenStore builds the configured session persistence backend.
func (c *Config) OpenStore() (store.Store, error) {
	switch c.Store.Backend {
	case "memory":
		var opts []store.MemoryOption
		if d := duration(c.Store.Memory.CleanupInterval, 0); d > 0 {
			opts = append(opts, store.WithCleanupInterval(d))
		}
		return store.NewMemoryStore(opts...), nil

	case "redis":
		var opts []store.RedisOption
		if c.Store.Redis.Prefix != "" {
			opts = append(opts, store.WithPrefix(c.Store.Redis.Prefix))
		}
		return store.NewRedisStore(c.Store.Redis.Addr, c.Store.Redis.Password, c.Store.Redis.DB, opts...), nil

	case "s3":
		var loadOpts []func(*awsconfig.LoadOptions) error
		if c.Store.S3.Region != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(c.Store.S3.Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), loadOpts...)
		if err != nil {
			return nil, errors.New("E203").
				WithDetail("AWS configuration could not be loaded: " + err.Error()).
				Wrap(err)
		}
		client := s3.NewFromConfig(awsCfg)
		return store.NewS3Store(client, c.Store.S3.Bucket, c.Store.S3.Prefix), nil

	default:
		return nil, errors.New("E201").
			WithDetail("store.backend " + c.Store.Backend + " is not supported")
	}
}
