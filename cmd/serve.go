package cmd

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/wirelessalien/moviesync/internal/api"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the moviesync server",
	Long:  `Start the moviesync server running the scheduled sync jobs and the status API.`,
	Example: `moviesync serve --config config.yml
moviesync serve -c /path/to/config.yml --log-level debug
`,
	Run: startServer,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func startServer(cmd *cobra.Command, _ []string) {
	cfg, engine, closeEngine, err := openEngine()
	if err != nil {
		log.Fatal(err)
	}
	defer closeEngine()

	// Wait for interrupt signal to gracefully shutdown
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return engine.Run(gctx)
	})

	if cfg.API != nil && cfg.API.Enabled {
		server, err := api.New(cfg, engine, log.GetLevel() == log.DebugLevel)
		if err != nil {
			log.Fatalf("failed to create API server: %v", err)
		}
		g.Go(func() error {
			log.Info("starting API server", "listen", cfg.Listen)
			return server.Run(gctx)
		})
	}

	log.Info("moviesync started successfully")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server error", "error", err)
	}
	log.Info("shutting down gracefully...")
}
