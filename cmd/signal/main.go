package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"quickchat/internal/core/services"
	httphandlers "quickchat/internal/handlers/http"
	"quickchat/internal/infrastructure/middleware"
	"quickchat/internal/infrastructure/monitoring"
	"quickchat/internal/infrastructure/repositories"
	signalrelay "quickchat/internal/infrastructure/signal"
	"quickchat/pkg/config"
	"quickchat/pkg/logger"
	"quickchat/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	startTime := time.Now()

	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error
	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}
	if err != nil {
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	tracerProvider, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	repoFactory, err := repositories.NewRepositoryFactory(cfg, log)
	if err != nil {
		log.Fatalw("failed to create repository factory", "error", err)
	}
	defer repoFactory.Close()

	historyRepo := repoFactory.CreateCallHistoryRepository()
	presenceRepo := repoFactory.CreatePresenceRepository()

	authService := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	historyService := services.NewHistoryService(historyRepo, zapLogger)
	capabilityService := services.NewCapabilityService(serverProbe{})

	serverConfig := signalrelay.DefaultServerConfig()
	serverConfig.PingInterval = cfg.Signal.PingInterval
	serverConfig.PongTimeout = cfg.Signal.PongTimeout
	serverConfig.WriteTimeout = cfg.Signal.WriteTimeout
	serverConfig.AllowedOrigins = cfg.Auth.AllowedOrigins
	serverConfig.RateLimit.Enabled = cfg.RateLimiting.Enabled
	serverConfig.RateLimit.MessagesPerSecond = cfg.RateLimiting.WebSocket.MessagesPerSecond
	serverConfig.RateLimit.Burst = cfg.RateLimiting.WebSocket.Burst
	serverConfig.RateLimit.MaxMessageSize = cfg.RateLimiting.WebSocket.MaxMessageSizeBytes

	relay := signalrelay.NewServer(serverConfig, authService, presenceRepo, zapLogger)

	collector := monitoring.NewPrometheusCollector()

	healthChecker := monitoring.NewHealthChecker()
	healthChecker.AddCheck("storage", repoFactory.HealthCheck, 30*time.Second, 2*time.Second)

	authHandler := httphandlers.NewAuthHandler(authService, cfg.Auth.TokenTTL)
	callHandler := httphandlers.NewCallHandler(historyService, presenceRepo, capabilityService)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.ErrorHandlerMiddleware(log))
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))
	if cfg.Tracing.Enabled {
		router.Use(middleware.TracingMiddleware())
	}

	authHandler.SetupRoutes(router)
	callHandler.SetupRoutes(router, middleware.AuthMiddleware(authService))

	router.GET("/ws", gin.WrapF(relay.HandleWebSocket))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
			"uptime":    time.Since(startTime).String(),
			"users":     len(relay.ConnectedUsers()),
		})
	})

	router.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := repoFactory.HealthCheck(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "not_ready",
				"error":  err.Error(),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()
	healthChecker.StartBackgroundChecks(bgCtx)

	// Keep the connected-users gauge fresh without hooking every socket event.
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-bgCtx.Done():
				return
			case <-ticker.C:
				collector.SetConnectedUsers(len(relay.ConnectedUsers()))
			}
		}
	}()

	srv := &http.Server{
		Addr:         cfg.Signal.Address,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infof("Starting Quick Chat signaling relay on %s", cfg.Signal.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("Server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("Received shutdown signal", "signal", sig)
	}

	log.Info("Shutting down signaling relay...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Signal.ShutdownTimeout)
	defer shutdownCancel()

	relay.CloseAll()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("Error force closing server", "error", closeErr)
		}
	}

	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error shutting down tracing", "error", err)
	}

	log.Info("Signaling relay stopped")
}
