package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/speedrun-cli/internal/discovery"
	"github.com/sells-group/speedrun-cli/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API for queues and discovery",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		queues, err := newQueueService(env)
		if err != nil {
			return err
		}

		// Discovery is optional; without a provider the endpoint answers 503.
		var discoverer server.Discoverer
		if cfg.Enrichment.BaseURL != "" {
			svc, err := newDiscoveryService(env, newProvider(""))
			if err != nil {
				return err
			}
			discoverer = svc
			if cfg.Discovery.RetrySweepSecs > 0 {
				sweeper := discovery.NewSweeper(svc, time.Duration(cfg.Discovery.RetrySweepSecs)*time.Second, 0)
				go sweeper.Run(ctx)
			}
		} else {
			zap.L().Warn("enrichment.base_url not set, discovery endpoint disabled")
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           server.New(queues, discoverer, env.Store, cfg.Server.CORSOrigins).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
