package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/ksred/orderflow/internal/database"
	"github.com/ksred/orderflow/internal/dedup"
	"github.com/ksred/orderflow/internal/orders"
	"github.com/ksred/orderflow/internal/queue"
	"github.com/ksred/orderflow/internal/venue"
	"github.com/ksred/orderflow/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	_ = godotenv.Load()

	// Configure pretty logging for development
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set global log level
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main initializes and runs the order intake API with graceful shutdown
// support. It wires the database, dedup store, job queue, venue adapter and
// processor together and owns their lifecycles.
func main() {
	// Initialize database
	db, err := database.NewDatabase(os.Getenv("DATABASE_PATH"))
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Dedup window store: shared Redis when configured, in-process otherwise
	var keyStore dedup.KeyStore
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		redisStore := dedup.NewRedisStore(addr, os.Getenv("REDIS_PASSWORD"), 0)
		defer redisStore.Close()
		keyStore = redisStore
	} else {
		keyStore = dedup.NewMemoryStore()
	}
	deduplicator := dedup.New(keyStore, dedup.DefaultWindow)

	// Simulated execution venue
	venueAdapter := venue.NewAdapter(
		"Primary Venue",
		envFloat("VENUE_FAILURE_RATE", 0.1),
		100*time.Millisecond,
		time.Duration(envInt("VENUE_MAX_LATENCY_MS", 500))*time.Millisecond,
	)

	// Durable job queue and background processor
	jobQueue := queue.New(db, queue.DefaultPolicy())
	processor := orders.NewProcessor(db, venueAdapter)

	runner := queue.NewRunner(jobQueue, processor.Process)
	runnerCtx, runnerCancel := context.WithCancel(context.Background())
	defer runnerCancel()

	runner.Start(runnerCtx)
	defer runner.Stop()

	// Initialize services and handlers
	orderService := orders.NewService(db, deduplicator, jobQueue)
	orderHandlers := orders.NewGinHandlers(orderService)

	// Initialize router
	router := gin.Default()

	// Setup middleware
	router.Use(middleware.RateLimit())

	// Setup API routes
	setupRoutes(router, orderHandlers)

	// Get port from env otherwise it's 8080
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Create server
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers
// Parameters:
//   - router: The main Gin router instance
//   - orderHandlers: Handlers for order intake and retrieval
func setupRoutes(router *gin.Engine, orderHandlers *orders.GinHandlers) {
	v1 := router.Group("/api/v1")
	{
		ordersGroup := v1.Group("/orders")
		{
			ordersGroup.POST("", orderHandlers.CreateOrderHandler())
			ordersGroup.GET("", orderHandlers.ListOrdersHandler())
			ordersGroup.GET("/:order_id", orderHandlers.GetOrderStatusHandler())
		}
	}
}

func envFloat(name string, fallback float64) float64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		zlog.Warn().Str("name", name).Str("value", raw).Msg("invalid float in environment, using default")
		return fallback
	}
	return value
}

func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		zlog.Warn().Str("name", name).Str("value", raw).Msg("invalid integer in environment, using default")
		return fallback
	}
	return value
}
