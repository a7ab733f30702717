package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/stepflow/internal/cache"
	"github.com/roach88/stepflow/internal/config"
	"github.com/roach88/stepflow/internal/engine"
	"github.com/roach88/stepflow/internal/server"
	"github.com/roach88/stepflow/internal/store"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	ConfigPath string
	Addr       string
}

// NewServeCommand starts the HTTP server.
func NewServeCommand(opts *RootOptions) *cobra.Command {
	serveOpts := &ServeOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the engine over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(serveOpts.ConfigPath)
			if err != nil {
				return err
			}
			if serveOpts.Addr != "" {
				cfg.Server.Addr = serveOpts.Addr
			}

			level := slog.LevelInfo
			if opts.Verbose {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

			serverOpts := []server.Option{server.WithLogger(logger)}

			if cfg.Database.Path != "" {
				db, err := store.Open(cfg.Database.Path)
				if err != nil {
					return err
				}
				defer db.Close()
				serverOpts = append(serverOpts, server.WithStore(db))
			}

			if cfg.Redis.URL != "" {
				redisCache, err := cache.NewRedis(cmd.Context(), cfg.Redis.URL)
				if err != nil {
					return err
				}
				defer redisCache.Close()
				serverOpts = append(serverOpts, server.WithCache(redisCache, cfg.IdempotencyTTL()))
			}

			eng := engine.New(engine.WithLogger(logger))
			return server.New(eng, serverOpts...).Run(cfg.Server.Addr)
		},
	}

	cmd.Flags().StringVarP(&serveOpts.ConfigPath, "config", "c", "", "YAML config file")
	cmd.Flags().StringVar(&serveOpts.Addr, "addr", "", "listen address (overrides config)")

	return cmd
}
