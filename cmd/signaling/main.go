package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mossy-p/call-signaling/config"
	"github.com/mossy-p/call-signaling/internal/handlers"
	"github.com/mossy-p/call-signaling/internal/logging"
	"github.com/mossy-p/call-signaling/internal/redis"
	"github.com/mossy-p/call-signaling/internal/relay"
	"github.com/mossy-p/call-signaling/internal/rooms"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.Environment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Room reservations and presence live in Redis when enabled
	var dir rooms.Directory
	if cfg.Redis.Enabled {
		store, err := redis.Connect(ctx, cfg.Redis)
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.String("addr", cfg.Redis.Addr()), zap.Error(err))
		}
		defer store.Close()
		logger.Info("redis connection established", zap.String("addr", cfg.Redis.Addr()))
		dir = store
	} else {
		logger.Warn("redis disabled; room reservations are kept in memory")
		dir = rooms.NewMemoryDirectory()
	}

	hub := relay.NewHub(relay.Options{
		PingPeriod:           cfg.Signaling.PingPeriod,
		PongWait:             cfg.Signaling.PongWait,
		WriteWait:            cfg.Signaling.WriteWait,
		MaxMessageBytes:      cfg.Signaling.MaxMessageBytes,
		SendBuffer:           cfg.Signaling.SendBuffer,
		MaxMessagesPerSecond: cfg.Signaling.MaxMessagesPerSecond,
	}, dir, logger)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := handlers.New(cfg, hub, rooms.NewService(dir, logger), logger).NewRouter()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting signaling server", zap.String("port", cfg.Port))
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
		return
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// hijacked websockets are not tracked by Shutdown, so close them first
	hub.Shutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
