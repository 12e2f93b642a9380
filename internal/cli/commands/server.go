package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mrc-ide/outpack-server/internal/cache"
	"github.com/mrc-ide/outpack-server/internal/cli/config"
	"github.com/mrc-ide/outpack-server/internal/index"
	"github.com/mrc-ide/outpack-server/internal/logging"
	"github.com/mrc-ide/outpack-server/internal/metrics"
	"github.com/mrc-ide/outpack-server/internal/query"
	"github.com/mrc-ide/outpack-server/internal/store"
	"github.com/mrc-ide/outpack-server/internal/watch"
	"github.com/mrc-ide/outpack-server/internal/web/events"
	"github.com/mrc-ide/outpack-server/internal/web/router"
	"github.com/mrc-ide/outpack-server/internal/web/server"
)

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if root, _ := cmd.Flags().GetString("root"); root != "" {
		cfg.Root = root
	}
	return cfg, nil
}

// NewStartServerCommand creates the start-server command
func NewStartServerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start-server",
		Short: "Serve a repository over HTTP",
		Long: `Serve the repository's packets, files and query API.

Settings come from outpack.yaml (or --config) and OUTPACK_* environment
variables, for example OUTPACK_SERVER_PORT=8000 or OUTPACK_CACHE_BACKEND=redis.

Examples:
  outpack start-server --root /data/outpack
  outpack start-server --port 9000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port, _ = cmd.Flags().GetInt("port")
			}

			logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			color.New(color.FgCyan).Fprintf(cmd.OutOrStdout(), "Serving %s on %s\n", cfg.Root, cfg.Server.Address())
			return Serve(ctx, cfg, logger)
		},
	}

	cmd.Flags().IntP("port", "p", 8000, "Port to listen on")

	return cmd
}

// Serve opens the repository described by cfg and serves it until ctx is
// cancelled
func Serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	srv, err := NewServer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}

// NewServer wires the repository, index, cache, query engine, metrics, event
// hub and watcher behind an HTTP server. Components are released by the
// server's shutdown hooks.
func NewServer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*server.Server, error) {
	m := metrics.New()
	idx := index.New()

	root, err := store.Open(cfg.Root, idx,
		store.WithLogger(logger.Named("store")),
		store.WithIngestRecorder(m),
	)
	if err != nil {
		return nil, err
	}
	if _, err := root.LoadIndex(); err != nil {
		// unreadable files are skipped; the rest of the repository is served
		logger.Warn("some metadata could not be loaded", zap.Error(err))
	}
	m.RegisterRepository(root)

	resultCache, err := cache.New(cfg.Cache.CacheOptions())
	if err != nil {
		return nil, err
	}

	engineOpts := []query.Option{
		query.WithLogger(logger.Named("query")),
		query.WithObserver(m),
	}
	if resultCache != nil {
		engineOpts = append(engineOpts, query.WithCache(resultCache, cfg.Cache.TTL))
	}
	engine := query.NewEngine(idx, engineOpts...)

	hub := events.NewHub(ctx, logger.Named("events"), m)
	go hub.Run()
	idx.Subscribe(hub.PacketAdded)

	var watcher *watch.MetadataWatcher
	if cfg.Watch.Enabled {
		watcher, err = watch.NewMetadataWatcher(root.MetadataDir(), cfg.Watch.Delay, logger.Named("watch"),
			func([]string) error {
				_, err := root.Sync()
				return err
			})
		if err != nil {
			hub.Shutdown()
			return nil, err
		}
		if err := watcher.Start(); err != nil {
			hub.Shutdown()
			_ = watcher.Stop()
			return nil, err
		}
	}

	handler := router.New(router.Deps{
		Root:    root,
		Engine:  engine,
		Hub:     hub,
		Metrics: m,
		Logger:  logger.Named("http"),

		Profiling: cfg.Server.Profiling,
	})

	srv, err := server.New(server.DefaultConfig(cfg.Server.Address(), handler), logger)
	if err != nil {
		return nil, err
	}

	if watcher != nil {
		srv.RegisterHook(func(context.Context) error { return watcher.Stop() })
	}
	srv.RegisterHook(func(context.Context) error {
		hub.Shutdown()
		return nil
	})
	if resultCache != nil {
		srv.RegisterHook(func(context.Context) error { return resultCache.Close() })
	}

	return srv, nil
}
