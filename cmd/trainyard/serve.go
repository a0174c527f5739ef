package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/trainyard/pkg/api"
	"github.com/cuemby/trainyard/pkg/log"
	"github.com/cuemby/trainyard/pkg/metrics"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler, monitors and HTTP API",
	Long: `Run the trainyard server.

On start the server first recovers tasks left in marking or training by a
previous run: finished outputs are accepted, submitted jobs are watched
again and unsubmitted ones are requeued. Only then do the scheduler loops
start.

Recovery acts on every in-flight task in the store, so run one server per
store. With redis.enabled an old server that is still draining and its
replacement share the reservation locks and never overfill an asset.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("addr", "", "Listen address (overrides server.addr)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Server.Addr = addr
	}
	gin.SetMode(cfg.Server.Mode)
	metrics.SetVersion(Version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := newStack(ctx, cfg)
	if err != nil {
		metrics.UpdateComponent("storage", false, err.Error())
		return err
	}
	defer st.close()
	metrics.UpdateComponent("storage", true, cfg.Storage.Backend)

	st.broker.Start()
	defer st.broker.Stop()

	report, err := st.reconciler.Recover(ctx)
	if err != nil {
		log.Logger.Error().Err(err).Msg("Recovery finished with errors")
	}
	if report != nil {
		log.Logger.Info().
			Int("advanced", len(report.Advanced)).
			Int("resumed", len(report.Resumed)).
			Int("rolled_back", len(report.RolledBack)).
			Msg("Recovery complete")
	}

	st.scheduler.Start()
	st.reconciler.Start()
	collector := metrics.NewCollector(st.manager)
	collector.Start()

	server := api.NewServer(st.manager, st.broker, metrics.DefaultHealth())
	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(cfg.Server.Addr); err != nil {
			errCh <- fmt.Errorf("API server error: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigCh:
		log.Logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	case runErr = <-errCh:
		log.Logger.Error().Err(runErr).Msg("Shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Logger.Warn().Err(err).Msg("API shutdown incomplete")
	}

	// In-flight tasks stay in marking/training; the next start recovers them
	st.reconciler.Stop()
	st.scheduler.Stop()
	st.monitor.Stop()
	collector.Stop()

	log.Logger.Info().Msg("Shutdown complete")
	return runErr
}
