package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hivechat/internal/bridge"
	"hivechat/internal/config"
	"hivechat/internal/gateway"
	"hivechat/internal/handler"
	"hivechat/internal/history"
	"hivechat/internal/middleware"
	"hivechat/internal/observability"
	"hivechat/internal/presence"
	"hivechat/internal/room"
	"hivechat/internal/websocket"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := config.Load()

	observability.InitLogger(cfg.LogLevel, cfg.LogFormat)

	slog.Info("starting chat server")

	rdb, err := config.NewRedisClient(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid redis url", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer rdb.Close()

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		// History degrades to the in-memory fallback until Redis
		// comes back; the server still starts.
		slog.Warn("redis unreachable at startup", slog.String("error", err.Error()))
	} else {
		slog.Info("connected to redis")
	}
	pingCancel()

	bridgeCtx, bridgeCancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer bridgeCancel()

	br, err := bridge.NewWithRetry(bridgeCtx, cfg.RabbitMQURL)
	if err != nil {
		slog.Error("failed to connect to rabbitmq", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer br.Close()
	slog.Info("broadcast bridge connected", slog.String("instance_id", br.InstanceID()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := history.NewStore(rdb)
	go store.RunReconciler(ctx, history.DefaultReconcileInterval)

	tracker := presence.NewTracker()
	directory := room.NewDirectory(tracker)

	hub := websocket.NewHub()
	gw := gateway.New(tracker, directory, store, br, hub)

	consumer := bridge.NewConsumer(br, hub, gw)
	if err := consumer.Start(ctx); err != nil {
		slog.Error("failed to start bridge consumer", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.Info("bridge consumer started")

	wsHandler := handler.NewWebSocketHandler(hub, gw, middleware.ParseOrigins(cfg.AllowedOrigins))

	r := chi.NewRouter()

	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.CORS(middleware.ParseOrigins(cfg.AllowedOrigins)))
	r.Use(middleware.Metrics())

	r.Get("/health", handler.Health)
	r.Get("/health/ready", handler.Ready(store, br))
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/ws", wsHandler.HandleConnection)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("chat server listening", slog.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", slog.String("error", err.Error()))
	}

	hub.Shutdown()
	cancel()

	time.Sleep(100 * time.Millisecond)

	slog.Info("server stopped gracefully")
}
