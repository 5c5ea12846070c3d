package main

import (
	"context"
	"log"
	"os"

	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"

	"textflow/config"
	"textflow/middleware"
	"textflow/routes"
	"textflow/utils"
	"textflow/worker"
)

func main() {
	// Initialize logger
	logger := log.New(os.Stdout, "TEXTFLOW: ", log.Ldate|log.Ltime|log.Lshortfile)

	// Load configuration
	if err := config.LoadConfig(); err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize Sentry for error reporting
	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         dsn,
			Environment: config.AppConfig.Environment,
		}); err != nil {
			logger.Printf("Sentry initialization failed: %v", err)
		}
	}

	// Initialize database connection
	if err := config.ConnectDB(); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	// Create Fiber app
	app := fiber.New()

	// Add CORS middleware
	app.Use(middleware.CORS())

	// Broker client shared by controllers and the sync worker
	broker := utils.NewBrokerClient(config.AppConfig.Broker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize and start the auto-sync worker
	if config.AppConfig.SyncWorkerEnabled {
		syncWorker := worker.NewSyncWorker(config.DB, broker, log.New(os.Stdout, "SYNC: ", log.LstdFlags))
		go syncWorker.Start(ctx)
	}

	// Setup routes
	routes.SetupRoutes(app, config.DB, broker)

	// Health check endpoint
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "running",
			"version": "1.0.0",
		})
	})

	// Start server
	logger.Printf("🚀 Server starting on port %s", config.AppConfig.ServerPort)
	if err := app.Listen(":" + config.AppConfig.ServerPort); err != nil {
		logger.Fatalf("Failed to start server: %v", err)
	}
}
