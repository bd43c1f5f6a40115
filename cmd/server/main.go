package main

import (
	"context"
	"log"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/jackc/pgx/v4"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"teamup-messaging/internal/chat"
	"teamup-messaging/internal/identity"
	"teamup-messaging/internal/realtime"
	"teamup-messaging/internal/server"
	"teamup-messaging/internal/storage"
)

func main() {
	// a missing .env is fine, the environment may be set by the orchestrator
	_ = godotenv.Load()

	cfg := server.EnvConfig{}
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("Cannot parse env config: %v", err)
	}

	newLogger := zap.NewDevelopment
	if cfg.Production() {
		newLogger = zap.NewProduction
	}
	logger, err := newLogger()
	if err != nil {
		log.Fatalf("zap logger: %v", err)
	}
	defer logger.Sync()

	sugar := logger.Sugar()
	sugar.Info("Application is starting")

	sugar.Info("Current time:", time.Now())

	storeCfg := storage.Config{}
	if err := env.Parse(&storeCfg); err != nil {
		sugar.Fatalf("Cannot parse store env config: %v", err)
	}

	storeOpts := []storage.Option{storage.ConnectionTimeout(30 * time.Second)}
	if !cfg.Production() {
		storeOpts = append(storeOpts, storage.LogLevel(pgx.LogLevelInfo))
	}

	store, err := storage.New(context.Background(), sugar, storeCfg, storeOpts...)
	if err != nil {
		sugar.Fatalf("Cannot create Store instance: %v", err)
	}

	if err := store.Migrate(context.Background()); err != nil {
		sugar.Fatalf("Cannot apply schema: %v", err)
	}

	messaging := chat.NewService(sugar, store)

	registry := realtime.NewRegistry()
	bus := realtime.NewBus(sugar, registry)
	var gatewayOpts []realtime.GatewayOption
	if len(cfg.AllowedOrigins) > 0 {
		gatewayOpts = append(gatewayOpts, realtime.AllowOrigins(cfg.AllowedOrigins...))
	}
	gateway := realtime.NewGateway(sugar, registry, bus, messaging, gatewayOpts...)

	serverOpts := []server.Option{
		server.WithEnvConfig(cfg),
		server.RegisterAfterShutdown(func() {
			sugar.Info("Closing store")
			store.Close()
			sugar.Info("Store is closed")
		}),
	}

	srv, err := server.NewServer(sugar, server.Services{
		Chat:     messaging,
		Identity: identity.NewResolver(cfg.JWTSecret, store),
		Store:    store,
		Bus:      bus,
		Realtime: gateway,
	}, serverOpts...)
	if err != nil {
		sugar.Fatalf("Cannot create Server instance: %v", err)
	}

	if err := srv.Start(); err != nil {
		sugar.Fatalf("Cannot start http srv: %v", err)
	}
}
