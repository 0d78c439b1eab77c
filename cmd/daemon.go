package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/MimeLyc/bazarr-autotranslate/internal/metrics"
	"github.com/MimeLyc/bazarr-autotranslate/internal/service"
	"github.com/MimeLyc/bazarr-autotranslate/pkg/log"
)

func newDaemonCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run translation cycles on CRON_EXPR until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			scheduler := cron.New()
			a, err := bootstrap(service.WithCron(scheduler))
			if err != nil {
				return err
			}
			defer a.Close()

			// Cycles run on a context that outlives the signal so Stop can drain them.
			if err := a.svc.Schedule(context.WithoutCancel(ctx)); err != nil {
				return err
			}
			scheduler.Start()

			var srv *http.Server
			if addr := a.cfg.Metrics.Addr; addr != "" {
				srv = &http.Server{
					Addr:              addr,
					Handler:           metrics.Handler(a.registry),
					ReadHeaderTimeout: 5 * time.Second,
				}
				go func() {
					log.Info("Serving metrics on %s/metrics", addr)
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						log.Error("Metrics server stopped: %v", err)
					}
				}()
			}

			<-ctx.Done()
			log.Info("Shutting down, waiting for the running cycle")

			if srv != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					log.Warn("Failed to stop metrics server: %v", err)
				}
			}
			<-scheduler.Stop().Done()
			return nil
		},
	}
}
