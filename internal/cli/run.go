package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gauss-stream/gauss/internal/bootstrap"
	"github.com/gauss-stream/gauss/internal/metrics"
	"github.com/gauss-stream/gauss/internal/pipeline"
	"github.com/gauss-stream/gauss/internal/realtime"
)

const metricsShutdownTimeout = 5 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a Gauss pipeline until signaled",
	Long: `run loads the configured topics and processors, starts the pipeline
supervisor, and blocks until SIGINT/SIGTERM, at which point it drains and
stops every tier in reverse order.`,
	RunE: runRun,
}

func init() {
	AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	built, err := bootstrap.Build(ctx, loadedConfig)
	if err != nil {
		return fmt.Errorf("building topology: %w", err)
	}

	sup := pipeline.NewSupervisor(built.Topology)
	if err := sup.Validate(); err != nil {
		built.Registry.ReleaseAll()
		return fmt.Errorf("validating topology: %w", err)
	}

	var metricsServer *http.Server
	if loadedConfig.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(loadedConfig.Metrics.Path, metrics.Handler())
		metricsServer = &http.Server{Addr: loadedConfig.Metrics.Listen, Handler: mux}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("metrics server stopped")
			}
		}()
		log.Info().Str("listen", loadedConfig.Metrics.Listen).Str("path", loadedConfig.Metrics.Path).Msg("metrics endpoint listening")
	}

	var realtimeServer *http.Server
	if built.Broker != nil && loadedConfig.Realtime.Enabled {
		mux := http.NewServeMux()
		mux.Handle(loadedConfig.Realtime.Path, realtime.NewHandler(built.Broker))
		realtimeServer = &http.Server{Addr: loadedConfig.Realtime.Listen, Handler: mux}
		go func() {
			if err := realtimeServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("realtime server stopped")
			}
		}()
		log.Info().Str("listen", loadedConfig.Realtime.Listen).Str("path", loadedConfig.Realtime.Path).Msg("realtime subscribe endpoint listening")
	}

	if built.Scheduler != nil {
		built.Scheduler.Start(ctx)
	}
	if built.Watcher != nil {
		built.Watcher.Start(ctx)
	}

	if err := sup.Start(ctx); err != nil {
		built.Registry.ReleaseAll()
		return fmt.Errorf("starting pipeline: %w", err)
	}
	log.Info().
		Int("topics", len(built.Topology.Topics)).
		Int("sources", len(built.Topology.Sources)).
		Int("transforms", len(built.Topology.Transforms)).
		Int("sinks", len(built.Topology.Sinks)).
		Msg("pipeline running")

	<-ctx.Done()
	log.Info().Msg("shutdown signal received, draining pipeline")
	sup.Shutdown()

	if built.Watcher != nil {
		if err := built.Watcher.Stop(); err != nil {
			log.Error().Err(err).Msg("stopping plugin watcher")
		}
	}
	if built.Scheduler != nil {
		built.Scheduler.Stop()
	}
	if built.Broker != nil {
		built.Broker.Stop()
	}

	if realtimeServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer shutdownCancel()
		_ = realtimeServer.Shutdown(shutdownCtx)
	}
	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer shutdownCancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}

	return nil
}
