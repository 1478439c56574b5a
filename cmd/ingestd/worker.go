package main

import (
	"context"

	"knowledge-base-backend/app"

	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume the import queue",
	Long: `Consume import messages and run each one through download, parsing,
embedding and indexing. On SIGTERM the worker stops taking new messages and
waits up to pipeline.drain_timeout for in-flight tasks.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		a, err := newApp(ctx, app.Options{Consume: true})
		if err != nil {
			return err
		}
		defer func() {
			if err := a.Close(context.Background()); err != nil {
				logger.Error("failed to close app", "err", err)
			}
		}()

		logger.Info("worker started", "consumers", cfg.Pipeline.Consumers, "version", Version)
		return a.Worker().Run(ctx)
	},
}
