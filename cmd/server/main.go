package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	linkapi "go.tradervault.io/brokerlink/api/echo"
	"go.tradervault.io/brokerlink/cache"
	redisstore "go.tradervault.io/brokerlink/cache/redis"
	"go.tradervault.io/brokerlink/config"
	"go.tradervault.io/brokerlink/internal/secretbox"
	"go.tradervault.io/brokerlink/log"
	"go.tradervault.io/brokerlink/mongodb"
	"go.tradervault.io/brokerlink/services"
	"go.tradervault.io/brokerlink/tracing"
	"go.tradervault.io/brokerlink/upstream"
)

var (
	appLogger      log.Logger
	httpServer     *http.Server
	tracerProvider *sdktrace.TracerProvider
)

func main() {
	// Load configuration first
	cfg, err := config.LoadConfig()
	if err != nil {
		bootLogger := zerolog.New(os.Stdout).With().Timestamp().Logger()
		bootLogger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize Logger
	logLevel, parseErr := zerolog.ParseLevel(cfg.LogLevel)
	if parseErr != nil {
		logLevel = zerolog.InfoLevel
		bootLogger := zerolog.New(os.Stdout).With().Timestamp().Logger()
		bootLogger.Warn().
			Str("configured_log_level", cfg.LogLevel).
			Str("fallback_log_level", logLevel.String()).
			Err(parseErr).
			Msg("Invalid LOG_LEVEL configured, defaulting to 'info'")
	}
	appLogger = log.NewZerologAdapter(logLevel, cfg.LogPretty)
	appLogger.Info(context.Background(), "Starting brokerlink server...")
	appLogger.Info(context.Background(), "Configuration loaded successfully", map[string]interface{}{
		"http_port":     cfg.HTTPPort,
		"mongo_uri":     cfg.MongoURI,
		"mongo_db_name": cfg.MongoDBName,
		"log_level":     cfg.LogLevel,
		"consent_store": cfg.ConsentStore,
		"otel_service":  cfg.OtelServiceName,
	})

	// Initialize OpenTelemetry TracerProvider
	tp, err := tracing.InitTracerProvider(cfg.OtelServiceName)
	if err != nil {
		appLogger.Fatal(context.Background(), "Failed to initialize TracerProvider", err, nil)
	}
	tracerProvider = tp

	// --- Initialize Dependencies ---
	ctx := context.Background()
	if initErr := mongodb.InitMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName); initErr != nil {
		appLogger.Fatal(ctx, "Failed to initialize MongoDB connection", initErr, nil)
	}
	db := mongodb.GetDB()

	configRepo, err := mongodb.NewBrokerConfigRepository(ctx, db)
	if err != nil {
		appLogger.Fatal(ctx, "Failed to initialize BrokerConfigRepository", err, nil)
	}

	secrets, err := secretbox.New(cfg.SecretsKey)
	if err != nil {
		appLogger.Fatal(ctx, "Failed to initialize secret encryption", err, nil)
	}

	consentTTL := time.Duration(cfg.ConsentTTLMinutes) * time.Minute
	var consentStore cache.ConsentStore
	switch cfg.ConsentStore {
	case "redis":
		redisClient := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if pingErr := redisClient.Ping(ctx).Err(); pingErr != nil {
			appLogger.Fatal(ctx, "Failed to connect to Redis", pingErr, nil)
		}
		consentStore = redisstore.NewConsentStore(redisClient, "brokerlink")
	default:
		consentStore = cache.NewMemoryConsentStore(consentTTL)
	}

	dhanGateway := upstream.NewDhanGateway(
		upstream.WithDhanBaseURLs(cfg.DhanAuthBaseURL, cfg.DhanAPIBaseURL),
	)
	zerodhaGateway := upstream.NewZerodhaGateway()

	linkingService := services.NewLinkingService(
		configRepo, consentStore, secrets,
		cfg.PublicBaseURL, consentTTL,
		dhanGateway, zerodhaGateway,
	)

	// --- HTTP Server ---
	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())

	e.GET("/healthz", func(c echo.Context) error {
		if err := mongodb.Ping(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "mongo unreachable"})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	linkapi.NewLinkingAPI(linkingService).RegisterRoutes(e)

	httpServer = &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		appLogger.Info(context.Background(), fmt.Sprintf("HTTP server listening on port %s", cfg.HTTPPort))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal(context.Background(), "Failed to start HTTP server", err, nil)
		}
	}()

	appLogger.Info(context.Background(), "Server components initialized. Waiting for interrupt signal...")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	receivedSignal := <-quit

	appLogger.Info(context.Background(), fmt.Sprintf("Received signal: %v. Shutting down server...", receivedSignal))

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(shutdownCtx, "HTTP server shutdown error", err, nil)
	}

	if closer, ok := consentStore.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			appLogger.Error(shutdownCtx, "Consent store shutdown error", err, nil)
		}
	}

	if tracerProvider != nil {
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			appLogger.Error(shutdownCtx, "TracerProvider shutdown error", err, nil)
		}
	}

	mongodb.CloseMongoDB(shutdownCtx)

	appLogger.Info(shutdownCtx, "Server gracefully stopped.")
}
