// Command hub is the signaling and admission-control server's composition
// root: env load, dependency wiring, router setup, graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/meetinghub/internal/auth"
	"github.com/example/meetinghub/internal/bus"
	"github.com/example/meetinghub/internal/config"
	"github.com/example/meetinghub/internal/health"
	"github.com/example/meetinghub/internal/hub"
	"github.com/example/meetinghub/internal/logging"
	"github.com/example/meetinghub/internal/middleware"
	"github.com/example/meetinghub/internal/ratelimit"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/example/meetinghub/internal/store"
	"github.com/example/meetinghub/internal/tracing"
)

func main() {
	envPaths := []string{".env", "../../.env"}
	var envLoaded bool
	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			envLoaded = true
			break
		}
	}

	cfg, err := config.ValidateEnv()
	if err != nil {
		panic(err)
	}

	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		panic(err)
	}
	logger := logging.GetLogger()
	defer logger.Sync()

	if !envLoaded {
		logger.Warn("no .env file found, relying on environment variables")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if collectorAddr := os.Getenv("OTEL_COLLECTOR_ADDR"); collectorAddr != "" {
		tp, err := tracing.InitTracer(ctx, "meetinghub", collectorAddr)
		if err != nil {
			logger.Warn("failed to initialize tracing, continuing without it", zap.Error(err))
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tp.Shutdown(shutdownCtx)
			}()
		}
	}

	var validator auth.TokenValidator
	if cfg.SkipAuth {
		logger.Warn("authentication disabled via SKIP_AUTH, do not use in production")
		validator = &auth.MockValidator{}
	} else {
		v, err := auth.NewValidator(ctx, cfg.Auth0Domain, cfg.Auth0Audience)
		if err != nil {
			logger.Fatal("failed to create auth validator", zap.Error(err))
		}
		validator = v
	}

	var busService *bus.Service
	if cfg.RedisEnabled {
		busService, err = bus.NewService(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			logger.Fatal("failed to connect to redis bus", zap.Error(err))
		}
		defer busService.Close()
	}

	var rateLimiter *ratelimit.RateLimiter
	if busService != nil {
		rateLimiter, err = ratelimit.NewRateLimiter(cfg, busService.Client())
	} else {
		rateLimiter, err = ratelimit.NewRateLimiter(cfg, nil)
	}
	if err != nil {
		logger.Fatal("failed to construct rate limiter", zap.Error(err))
	}

	var meetingStore store.MeetingStore
	if cfg.MeetingStoreBaseURL != "" {
		meetingStore = store.NewHTTPMeetingStore(cfg.MeetingStoreBaseURL)
		defer meetingStore.Close()
	}

	registry := hub.NewRegistry(hub.RegistryConfig{
		CleanupGracePeriod:       cfg.RoomCleanupGrace,
		SweepInterval:            cfg.AdmissionSweepInterval,
		PendingTTL:               cfg.PendingRequestTTL,
		AdmissionDedupWindow:     cfg.AdmissionDedupWindow,
		SignalingPayloadCapBytes: cfg.SignalingPayloadCapBytes,
		Bus:                      busService,
		MeetingStore:             meetingStore,
	})
	defer registry.Close()

	allowedOrigins := auth.GetAllowedOriginsFromEnv("ALLOWED_ORIGINS", []string{"http://localhost:3000"})
	gateway := hub.NewGateway(registry, validator, rateLimiter, allowedOrigins, cfg.SendQueueDepth)

	healthHandler := health.NewHandler(busService)

	if cfg.GoEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(otelgin.Middleware("meetinghub"))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = allowedOrigins
	router.Use(cors.New(corsConfig))

	wsGroup := router.Group("/ws")
	{
		wsGroup.GET("/hub/:roomId", gateway.ServeWS)
	}

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", healthHandler.Liveness)
	router.GET("/readyz", healthHandler.Readiness)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info("meetinghub server starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exiting")
}
