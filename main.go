package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"loyalty-engine/cache"
	"loyalty-engine/config"
	"loyalty-engine/database"
	"loyalty-engine/logger"
	"loyalty-engine/loyalty"
	"loyalty-engine/metrics"
	"loyalty-engine/outbox"
	"loyalty-engine/routes"
	"loyalty-engine/tracing"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	zlog "github.com/rs/zerolog/log"
)

const serviceName = "loyalty-engine"

func main() {
	if err := config.LoadEnv(); err != nil {
		zlog.Fatal().Err(err).Msg("error loading .env file")
	}

	log := logger.Setup(logger.Options{
		Service:    serviceName,
		Level:      config.GetEnv("LOG_LEVEL", "info"),
		File:       os.Getenv("LOG_FILE"),
		MaxSizeMB:  config.GetEnvInt("LOG_MAX_SIZE_MB", 100),
		MaxBackups: config.GetEnvInt("LOG_MAX_BACKUPS", 5),
		MaxAgeDays: config.GetEnvInt("LOG_MAX_AGE_DAYS", 28),
	})

	if err := config.ValidateEnv(); err != nil {
		log.Fatal().Err(err).Msg("environment validation failed")
	}

	tp, err := tracing.InitTracerProvider(serviceName, os.Getenv("JAEGER_ENDPOINT"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize tracing")
	}

	db, err := database.Connect()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	if err := database.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}
	if err := database.CreateDefaultAdmin(db); err != nil {
		log.Warn().Err(err).Msg("could not create default admin")
	}

	defaults, err := config.LoadMerchantDefaults(os.Getenv("MERCHANT_DEFAULTS_FILE"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load merchant defaults")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = log.WithContext(ctx)

	m := metrics.New()
	opts := []loyalty.Option{
		loyalty.WithDefaults(defaults),
		loyalty.WithRecorder(m),
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		client, err := cache.NewClient(ctx, addr, os.Getenv("REDIS_PASSWORD"), config.GetEnvInt("REDIS_DB", 0))
		if err != nil {
			log.Warn().Err(err).Str("addr", addr).Msg("redis unavailable, settings cache disabled")
		} else {
			defer client.Close()
			ttl := config.GetEnvDuration("SETTINGS_CACHE_TTL", cache.DefaultTTL)
			opts = append(opts, loyalty.WithSettingsCache(cache.NewSettingsCache(client, ttl)))
		}
	}
	svc := loyalty.NewService(db, opts...)

	var workers sync.WaitGroup
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		writer := outbox.NewKafkaWriter(strings.Split(brokers, ","), config.GetEnv("KAFKA_TOPIC", outbox.DefaultTopic))
		defer writer.Close()
		relay := outbox.NewRelay(db, writer,
			outbox.WithBatchSize(config.GetEnvInt("OUTBOX_BATCH_SIZE", outbox.DefaultBatchSize)),
			outbox.WithInterval(config.GetEnvDuration("OUTBOX_INTERVAL", outbox.DefaultInterval)),
			outbox.WithRecorder(m),
		)
		workers.Add(1)
		go func() {
			defer workers.Done()
			relay.Run(ctx)
		}()
	}

	if !config.GetEnvBool("GIN_DEBUG", false) {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())

	var origins []string
	for _, o := range strings.Split(os.Getenv("ALLOWED_ORIGINS"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	r.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Api-Key", "X-Request-Id"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-Id"},
		AllowCredentials: true,
	}))

	routes.SetupRoutes(r, routes.Deps{
		DB:         db,
		Service:    svc,
		Metrics:    m,
		Logger:     log,
		RateLimit:  config.GetEnvInt("RATE_LIMIT_PER_MINUTE", 600),
		RateWindow: time.Minute,
	})

	port := config.GetEnv("PORT", "8080")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("port", port).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	workers.Wait()

	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("tracer shutdown failed")
	}

	sqlDB, err := db.DB()
	if err == nil {
		if err := sqlDB.Close(); err != nil {
			log.Error().Err(err).Msg("error closing database connection")
		} else {
			log.Info().Msg("database connection closed")
		}
	}

	log.Info().Msg("server exited gracefully")
}
