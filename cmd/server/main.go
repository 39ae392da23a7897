package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/example/realtime-docstore/internal/config"
	"github.com/example/realtime-docstore/internal/observability"
	"github.com/example/realtime-docstore/internal/server"
	"github.com/example/realtime-docstore/internal/ws"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if cfg.DevMode {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	logger := log.With().Str("app", cfg.AppName).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	environment := "production"
	if cfg.DevMode {
		environment = "development"
	}
	telemetryShutdown, err := observability.Start(ctx, observability.Config{
		ServiceName:  cfg.AppName,
		MetricsAddr:  cfg.MetricsAddr,
		OTLPEndpoint: cfg.OTLPEndpoint,
		Environment:  environment,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer telemetryShutdown(context.Background())

	resources, err := config.NewResources(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize resources")
	}

	manager, err := server.NewManager(resources, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open databases")
	}

	service := server.NewService(manager, logger)
	registry := ws.NewConnectionRegistry()
	auth := server.NewAuthenticator(manager, logger)

	gateway, err := ws.NewGateway(auth, registry, logger, service.Hooks(), ws.GatewayConfig{
		HeartbeatInterval: cfg.WSHeartbeat,
		SendBuffer:        cfg.WSSendBuffer,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build websocket gateway")
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", gateway)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	server.NewAdminHandler(manager, cfg.AdminKey, logger).Register(mux)

	httpServer := &http.Server{Addr: cfg.HTTPListenAddr, Handler: mux}
	go func() {
		logger.Info().Str("addr", cfg.HTTPListenAddr).Msg("http server starting")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server failed")
		}
	}()

	logger.Info().Int("databases", len(manager.Names())).Msg("server initialized")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	_ = httpServer.Shutdown(shutdownCtx)

	done := make(chan struct{})
	go func() {
		manager.Close()
		if err := resources.Close(); err != nil {
			logger.Warn().Err(err).Msg("close settings store")
		}
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("shutdown complete")
	case <-shutdownCtx.Done():
		logger.Error().Err(shutdownCtx.Err()).Msg("forced shutdown")
	}
}
