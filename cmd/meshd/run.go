package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ceyewan/meshlink/clog"
	"github.com/ceyewan/meshlink/mesh"
)

func newRunCommand(flags *rootFlags) *cobra.Command {
	var shutdownTimeout time.Duration
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the mesh and block until SIGINT/SIGTERM",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, loader, err := flags.load(ctx)
			if err != nil {
				return err
			}
			m, err := mesh.New(cfg)
			if err != nil {
				return err
			}
			if err := m.Start(ctx); err != nil {
				return err
			}
			if err := m.WatchStrategy(ctx, loader); err != nil {
				m.Logger.Warn("strategy hot reload disabled", clog.Error(err))
			}

			<-ctx.Done()
			m.Logger.Info("shutting down", clog.Duration("timeout", shutdownTimeout))

			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return m.Stop(stopCtx)
		},
	}
	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 10*time.Second, "graceful shutdown timeout")
	return cmd
}
