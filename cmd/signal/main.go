package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"heartlink/internal/core/domain"
	"heartlink/internal/core/services"
	handlers "heartlink/internal/handlers/http"
	"heartlink/internal/infrastructure/middleware"
	"heartlink/internal/infrastructure/monitoring"
	"heartlink/internal/infrastructure/repositories"
	"heartlink/internal/infrastructure/repositories/memory"
	wsignal "heartlink/internal/infrastructure/signal"
	"heartlink/pkg/config"
	"heartlink/pkg/logger"
	"heartlink/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		cfg = config.Default()
	}

	zlog := logger.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format)
	defer zlog.Sync()
	log := zlog.Sugar()

	if err == nil {
		log.Infow("loaded config", "path", *configPath)
	} else {
		log.Infow("no config file found, using defaults", "path", *configPath)
	}
	if cfg.Auth.JWTSecret == "" {
		log.Warnw("auth.jwt_secret is empty; tokens are not safe for production")
	}

	tracer, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerURL,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		tracer.Shutdown(ctx)
	}()

	stores, err := repositories.New(cfg, log)
	if err != nil {
		log.Fatalw("failed to initialize storage", "error", err)
	}
	defer stores.Close()

	seedDirectory := memory.NewMemoryUserDirectory()
	for _, u := range cfg.Directory.SeedUsers {
		seedDirectory.Seed(&domain.User{
			ID:       domain.UserID(u.ID),
			Username: u.Username,
			Sign:     u.Sign,
		})
	}
	directory := repositories.NewResilientDirectory(seedDirectory, log)
	defer directory.Close()

	var metrics *monitoring.PrometheusCollector
	if cfg.Monitoring.PrometheusEnabled {
		metrics = monitoring.NewPrometheusCollector()
	}

	registry := wsignal.NewRegistry(wsignal.RegistryConfig{
		PingInterval: cfg.Signal.PingInterval,
		WriteTimeout: cfg.Signal.WriteTimeout,
		SendBuffer:   cfg.Signal.SendBuffer,
	}, log)

	rollService := services.NewRollService(
		services.RollServiceConfig{
			ResponseLimit: cfg.SpeedRoll.ResponseLimit,
		},
		stores.Rolls,
		stores.Quotas,
		directory,
		memory.NewPairScorer(),
		registry,
		log,
	)
	defer rollService.Shutdown()

	authService := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL)

	relay := wsignal.NewServer(wsignal.ServerConfig{
		PongTimeout:    cfg.Signal.PongTimeout,
		MessagesPerSec: cfg.RateLimiting.WebSocket.MessagesPerSecond,
		MessageBurst:   cfg.RateLimiting.WebSocket.Burst,
	}, registry, directory, metrics, log)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.ErrorHandlerMiddleware(log))
	if cfg.Tracing.Enabled {
		router.Use(middleware.TracingMiddleware())
	}
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))

	router.GET("/ws", relay.HandleWebSocket)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"connections": registry.Count(),
		})
	})
	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	handlers.NewRollHandler(rollService, metrics).SetupRoutes(router, authService)
	handlers.NewAuthHandler(authService, directory, int(cfg.Auth.AccessTokenTTL.Seconds())).SetupRoutes(router)

	srv := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: router,
		// Header timeout only: websocket connections outlive any
		// whole-request deadline.
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
	}

	go func() {
		log.Infow("signaling server listening", "address", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Infow("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorw("forced shutdown", "error", err)
	}
}
