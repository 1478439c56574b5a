package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"knowledge-base-backend/app"
	"knowledge-base-backend/config"

	"github.com/spf13/cobra"
)

// Version 构建时通过 -ldflags 注入
var Version = "0.1.0"

var (
	configPath string

	cfg      *config.Config
	logger   *slog.Logger
	closeLog func() error
)

var rootCmd = &cobra.Command{
	Use:          "ingestd",
	Short:        "Knowledge base ingestion service",
	Version:      Version,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		logger, closeLog = config.SetupLogger(cfg.Log)
		slog.SetDefault(logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if closeLog != nil {
			_ = closeLog()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML config file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(reconcileCmd)
}

// signalContext SIGINT 或 SIGTERM 时取消
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newApp(ctx context.Context, opts app.Options) (*app.App, error) {
	opts.Version = Version
	a, err := app.New(ctx, cfg, logger, opts)
	if err != nil {
		return nil, err
	}
	if err := a.Broker.Start(); err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	return a, nil
}
