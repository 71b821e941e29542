// Package syncline provides the public API for the syncline state
// synchronization engine.
//
// This is the recommended import for most applications:
//
//	import "github.com/syncline-dev/syncline"
//
// Usage:
//
//	schema := syncline.MustSchema(&syncline.NodeSpec{
//	    Fields: []syncline.FieldSpec{
//	        {Name: "count", Kind: syncline.KindInt},
//	    },
//	})
//
//	app := syncline.NewApp(schema, syncline.WithAddress(":8080"))
//	app.Handle("root.increment", func(c *syncline.Ctx) error {
//	    return c.Node().Set("count", c.Node().Int("count")+1)
//	})
//	app.Run()
package syncline

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/syncline-dev/syncline/pkg/server"
	"github.com/syncline-dev/syncline/pkg/state"
	"github.com/syncline-dev/syncline/pkg/store"
)

// =============================================================================
// Re-exports (state schema and server types under one import)
// =============================================================================

// Ctx is the per-dispatch handler context.
type Ctx = server.Ctx

// HandlerFunc is the signature of an event handler.
type HandlerFunc = server.HandlerFunc

// Middleware wraps handler dispatch.
type Middleware = server.Middleware

// Session is one client's server-resident state session.
type Session = server.Session

// Schema describes a session's state tree.
type Schema = state.Schema

// NodeSpec declares the shape of one state node.
type NodeSpec = state.NodeSpec

// FieldSpec declares a single var on a node.
type FieldSpec = state.FieldSpec

// ComputedSpec declares a derived field on a node.
type ComputedSpec = state.ComputedSpec

// View is the read access given to compute functions.
type View = state.View

// Field kinds.
const (
	KindString = state.KindString
	KindInt    = state.KindInt
	KindFloat  = state.KindFloat
	KindBool   = state.KindBool
	KindList   = state.KindList
	KindMap    = state.KindMap
	KindRef    = state.KindRef
)

// NewSchema validates a node tree and returns its Schema.
var NewSchema = state.NewSchema

// MustSchema is NewSchema panicking on error, for package-level schemas.
var MustSchema = state.MustSchema

// =============================================================================
// App
// =============================================================================

// App bundles a schema, a handler registry, a session manager, and an HTTP
// server into one runnable unit.
type App struct {
	registry *server.Registry
	manager  *server.Manager
	server   *server.Server
}

type appOptions struct {
	serverConfig  *server.ServerConfig
	managerConfig *server.ManagerConfig
	store         store.Store
	middleware    []server.Middleware
	logger        *slog.Logger
}

// AppOption configures an App.
type AppOption func(*appOptions)

// WithAddress sets the listen address.
func WithAddress(addr string) AppOption {
	return func(o *appOptions) {
		if o.serverConfig == nil {
			o.serverConfig = server.DefaultServerConfig()
		}
		o.serverConfig.Address = addr
	}
}

// WithServerConfig sets the full listener configuration.
func WithServerConfig(cfg *server.ServerConfig) AppOption {
	return func(o *appOptions) { o.serverConfig = cfg }
}

// WithManagerConfig sets the session lifecycle configuration.
func WithManagerConfig(cfg *server.ManagerConfig) AppOption {
	return func(o *appOptions) { o.managerConfig = cfg }
}

// WithStore sets the session persistence backend, enabling resume across
// process restarts.
func WithStore(st store.Store) AppOption {
	return func(o *appOptions) { o.store = st }
}

// WithMiddleware sets the dispatch middleware chain.
func WithMiddleware(mw ...Middleware) AppOption {
	return func(o *appOptions) { o.middleware = mw }
}

// WithLogger sets the application logger.
func WithLogger(logger *slog.Logger) AppOption {
	return func(o *appOptions) { o.logger = logger }
}

// NewApp creates an App serving sessions shaped by schema.
func NewApp(schema *Schema, opts ...AppOption) *App {
	var o appOptions
	for _, opt := range opts {
		opt(&o)
	}

	registry := server.NewRegistry()

	var mgrOpts []server.ManagerOption
	if o.store != nil {
		mgrOpts = append(mgrOpts, server.WithStore(o.store))
	}
	if len(o.middleware) > 0 {
		mgrOpts = append(mgrOpts, server.WithMiddleware(o.middleware...))
	}
	if o.logger != nil {
		mgrOpts = append(mgrOpts, server.WithLogger(o.logger))
	}

	manager := server.NewManager(schema, registry, o.managerConfig, mgrOpts...)
	srv := server.New(manager, o.serverConfig)

	return &App{
		registry: registry,
		manager:  manager,
		server:   srv,
	}
}

// Handle registers a main-queue handler at path ("node.handler").
func (a *App) Handle(path string, fn HandlerFunc) {
	a.registry.Handle(path, fn)
}

// HandleBackground registers a handler dispatched as a background task.
func (a *App) HandleBackground(path string, fn HandlerFunc) {
	a.registry.HandleBackground(path, fn)
}

// Manager returns the session manager, for session lookup and stats.
func (a *App) Manager() *server.Manager {
	return a.manager
}

// Handler returns the HTTP handler, for mounting under an existing mux.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// ListenAndServe starts the server and blocks until shutdown.
func (a *App) ListenAndServe() error {
	return a.server.ListenAndServe()
}

// Run starts the server and blocks until SIGINT or SIGTERM, then shuts
// down gracefully.
func (a *App) Run() error {
	return a.server.Run()
}

// Shutdown gracefully stops the server and persists resumable sessions.
func (a *App) Shutdown(ctx context.Context) error {
	return a.server.Shutdown(ctx)
}
