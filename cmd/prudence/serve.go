package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/prudence/internal/api"
	"github.com/opensource-finance/prudence/internal/authz"
	"github.com/opensource-finance/prudence/internal/scheduler"
	"github.com/opensource-finance/prudence/internal/worker"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	servePort   int
	serveWorker bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API, scheduler and scoring worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		if serveWorker {
			w := worker.NewWorker(a.bus, a.orchestrator)
			if err := w.Start(); err != nil {
				return err
			}
			defer w.Stop()
		}

		sched := scheduler.New(a.orchestrator, 0)
		if err := sched.Start(cfg.Schedule); err != nil {
			return err
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := sched.Stop(stopCtx); err != nil {
				zap.L().Warn("prudence: scheduler stop", zap.Error(err))
			}
		}()

		var tokens *authz.TokenService
		if cfg.Auth.JWTSecret != "" {
			tokens = authz.NewTokenService(cfg.Auth.JWTSecret, 0)
		} else {
			zap.L().Warn("prudence: no jwt secret configured, trusting actor headers")
		}

		serverCfg := cfg.Server
		if servePort != 0 {
			serverCfg.Port = servePort
		}

		srv := api.NewServer(serverCfg, api.Deps{
			Repo:         a.repo,
			Cache:        a.cache,
			Bus:          a.bus,
			Registry:     a.registry,
			Orchestrator: a.orchestrator,
			Recorder:     a.recorder,
			Ranking:      a.ranking,
			Tokens:       tokens,
			Version:      Version,
		})

		errCh := make(chan error, 1)
		go func() {
			if err := srv.Start(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
			close(errCh)
		}()

		zap.L().Info("prudence: ready",
			zap.String("version", Version),
			zap.String("commit", Commit),
			zap.String("build_date", BuildDate),
			zap.String("addr", fmt.Sprintf("%s:%d", serverCfg.Host, serverCfg.Port)),
			zap.Bool("worker", serveWorker),
			zap.Bool("tracing", cfg.Tracing.Enabled),
			zap.Int("scheduled_jobs", len(sched.Jobs())))

		select {
		case <-ctx.Done():
		case err := <-errCh:
			if err != nil {
				return eris.Wrap(err, "server listen")
			}
		}

		zap.L().Info("prudence: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zap.L().Error("prudence: server forced to shutdown", zap.Error(err))
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveWorker, "worker", true, "consume asynchronous scoring requests from the event bus")
	rootCmd.AddCommand(serveCmd)
}
