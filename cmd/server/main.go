package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/mbeoliero/kit/log"
	"github.com/mbeoliero/widechat/internal/config"
	"github.com/mbeoliero/widechat/internal/handler"
	"github.com/mbeoliero/widechat/internal/reconcile"
	"github.com/mbeoliero/widechat/internal/repository"
	"github.com/mbeoliero/widechat/internal/router"
	"github.com/mbeoliero/widechat/internal/service"
	"github.com/mbeoliero/widechat/pkg/constant"
)

func main() {
	ctx := context.TODO()

	// Load configuration
	cfg, err := config.Load(configPath())
	if err != nil {
		log.CtxError(ctx, "failed to load config: %v", err)
		panic(err)
	}

	log.CtxInfo(ctx, "config loaded: mode=%s, keyspace=%s", cfg.Server.Mode, cfg.Cassandra.Keyspace)

	// Initialize Redis key prefix
	constant.InitRedisKeyPrefix(cfg.Redis.KeyPrefix)
	log.CtxInfo(ctx, "redis key prefix: %s", constant.GetRedisKeyPrefix())

	// Initialize repositories
	repos, err := repository.NewRepositories(cfg)
	if err != nil {
		log.CtxError(ctx, "failed to initialize repositories: %v", err)
		panic(err)
	}
	defer repos.Close()

	// Connect to storage, creating the schema when auto_migrate is on
	if err := repos.CheckConnection(ctx); err != nil {
		log.CtxError(ctx, "storage connection check failed: %v", err)
		panic(err)
	}
	log.CtxInfo(ctx, "storage connection established")

	// Initialize services
	msgService := service.NewMessageService(repos)
	msgService.SetFanoutWorkers(cfg.Reconcile.FanoutWorkers)
	convService := service.NewConversationService(repos)

	// Start fan-out reconciler
	reconciler := reconcile.NewReconciler(repos.Pending, msgService, cfg.Reconcile.BatchSize, cfg.Reconcile.GracePeriod)
	reconciler.SetMaxAttempts(cfg.Reconcile.MaxAttempts)
	if cfg.Reconcile.Enabled {
		if err := reconciler.Start(cfg.Reconcile.Spec); err != nil {
			log.CtxError(ctx, "failed to start reconciler: %v", err)
			panic(err)
		}
	}

	// Initialize handlers
	handlers := &router.Handlers{
		Message:      handler.NewMessageHandler(msgService),
		Conversation: handler.NewConversationHandler(convService),
	}

	// Create Hertz server
	h := server.Default(
		server.WithHostPorts(fmt.Sprintf(":%d", cfg.Server.HTTPPort)),
	)

	// Setup routes
	router.SetupRouter(h.Engine, handlers, cfg.Server.AllowedOrigins)

	log.CtxInfo(ctx, "server starting on port %d", cfg.Server.HTTPPort)

	// Start server in goroutine
	go func() {
		h.Spin()
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.CtxInfo(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	// Graceful shutdown
	if err := h.Shutdown(shutdownCtx); err != nil {
		log.CtxError(ctx, "server shutdown error: %v", err)
	}
	reconciler.Stop(shutdownCtx)

	log.CtxInfo(ctx, "server stopped")
}

func configPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "config/config.yaml"
}
