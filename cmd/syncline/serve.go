package main

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/syncline-dev/syncline"
	"github.com/syncline-dev/syncline/internal/config"
	"github.com/syncline-dev/syncline/pkg/middleware"
	"github.com/syncline-dev/syncline/pkg/store"
)

func serveCmd() *cobra.Command {
	var (
		configPath string
		address    string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the demo sync server",
		Long: `Start a syncline server running the built-in demo application:
a counter with a computed double and a background log streamer.

The demo is a deployable smoke test for the engine and the wire
protocol; real applications embed syncline as a library and define
their own schema and handlers.

Configuration is read from syncline.yaml in the working directory or
any parent, or from --config. All settings have defaults, so the
server also starts with no configuration file at all.

Examples:
  syncline serve
  syncline serve --address=:9000
  syncline serve --config=/etc/syncline/syncline.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath, address)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to syncline.yaml")
	cmd.Flags().StringVarP(&address, "address", "a", "", "Listen address (overrides config)")

	return cmd
}

func runServe(configPath, address string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if address != "" {
		cfg.Server.Address = address
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	logger := cfg.Logger()
	slog.SetDefault(logger)

	st, err := cfg.OpenStore()
	if err != nil {
		return err
	}
	defer st.Close()

	app := newDemoApp(cfg, logger, st)
	if err := app.Manager().RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
		return err
	}

	info("listening on %s", cfg.Server.Address)
	info("store backend: %s", cfg.Store.Backend)
	return app.Run()
}

// loadConfig resolves the configuration from an explicit path, the working
// directory tree, or pure defaults when no file exists.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	cfg, err := config.LoadFromWorkingDir()
	if err == nil {
		return cfg, nil
	}
	return config.New(), nil
}

// newDemoApp wires the built-in counter/stream demo.
func newDemoApp(cfg *config.Config, logger *slog.Logger, st store.Store) *syncline.App {
	schema := syncline.MustSchema(&syncline.NodeSpec{
		Fields: []syncline.FieldSpec{
			{Name: "count", Kind: syncline.KindInt},
			{Name: "log", Kind: syncline.KindList},
			{Name: "title", Kind: syncline.KindString, Default: "syncline demo"},
		},
		Computed: []syncline.ComputedSpec{
			{Name: "double", Deps: []string{"count"}, Compute: func(v syncline.View) any {
				n, _ := v.Get("count").(int64)
				return n * 2
			}},
		},
	})

	app := syncline.NewApp(schema,
		syncline.WithServerConfig(cfg.ServerConfig()),
		syncline.WithManagerConfig(cfg.ManagerConfig()),
		syncline.WithStore(st),
		syncline.WithLogger(logger),
		syncline.WithMiddleware(
			middleware.Prometheus(),
			middleware.OpenTelemetry(),
		),
	)

	app.Handle("root.increment", func(c *syncline.Ctx) error {
		return c.Node().Set("count", c.Node().Int("count")+1)
	})
	app.Handle("root.rename", func(c *syncline.Ctx) error {
		return c.Node().Set("title", c.ArgString(0))
	})
	app.HandleBackground("root.stream", func(c *syncline.Ctx) error {
		n := int(c.ArgInt(0))
		for i := 1; i <= n; i++ {
			if err := c.Node().Append("log", time.Now().Format(time.RFC3339Nano)); err != nil {
				return err
			}
			if err := c.Yield(); err != nil {
				return err
			}
		}
		return nil
	})

	return app
}
