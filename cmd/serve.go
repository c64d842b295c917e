package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"risk-desk/internal/api"
	"risk-desk/internal/monitor"
	"risk-desk/pkg/i18n"
	"risk-desk/pkg/trace"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP/WebSocket API and the gRPC health service",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func serve(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	msg := i18n.M()
	log.Info(msg.Starting, zap.String("version", version))
	log.Info(fmt.Sprintf(msg.ConfigLoaded, cfg.Port), zap.Strings("exchanges", cfg.Exchanges))

	if err := trace.Init(cfg.TracingEnabled, version); err != nil {
		log.Warn("tracing disabled", zap.Error(err))
	}

	a := newApp(cfg, log)
	defer a.close()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	mon := &monitor.Monitor{Bus: a.bus, Sink: monitor.LogSink{Log: log}, Log: log}
	mon.Start(ctx)

	gin.SetMode(gin.ReleaseMode)
	server := api.NewServer(a.engine, a.bus, a.metrics, api.Options{
		RateLimit: cfg.APIRateLimit,
		RateBurst: cfg.APIBurst,
		Log:       log,
	})
	if server.Limiter != nil {
		go server.Limiter.Run(ctx, 5*time.Minute)
	}

	health := api.NewHealthReporter(a.bus, a.recon.Keys, log)
	go health.Run(ctx, 5*time.Second)

	errCh := make(chan error, 2)
	go func() {
		log.Info(fmt.Sprintf(msg.ServerListening, cfg.Port))
		if err := server.Start(":" + cfg.Port); err != nil {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()
	go func() {
		log.Info(fmt.Sprintf(msg.GRPCListening, cfg.GRPCPort))
		if err := health.ServeGRPC(ctx, ":"+cfg.GRPCPort); err != nil {
			errCh <- fmt.Errorf("grpc: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		log.Error(fmt.Sprintf(msg.APIServerError, runErr))
	}

	log.Info(msg.ShuttingDown)
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	if err := trace.Shutdown(shutdownCtx); err != nil {
		log.Warn("trace shutdown", zap.Error(err))
	}
	return runErr
}
