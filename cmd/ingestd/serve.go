package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"knowledge-base-backend/app"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

var withWorker bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API and MCP tools",
	Long: `Serve the HTTP API under /api/vector, the MCP tools under /mcp and
Prometheus metrics under /metrics.

With --with-worker the import queue is consumed in the same process, which
is required when mq.backend is "memory".`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		if cfg.MQ.Backend == "memory" {
			withWorker = true
		}

		a, err := newApp(ctx, app.Options{Consume: withWorker, Migrate: true})
		if err != nil {
			return err
		}
		defer func() {
			if err := a.Close(context.Background()); err != nil {
				logger.Error("failed to close app", "err", err)
			}
		}()

		srv := &http.Server{
			Addr:              ":" + cfg.Server.Port,
			Handler:           a.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			logger.Info("http server started", "addr", srv.Addr, "version", Version)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			logger.Info("http server shutting down")
			return srv.Shutdown(shutdownCtx)
		})
		if withWorker {
			g.Go(func() error {
				return a.Worker().Run(gctx)
			})
		}
		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().BoolVar(&withWorker, "with-worker", false, "also consume the import queue in this process")
}
