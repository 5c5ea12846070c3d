package routes

import (
	"log"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"
	"gorm.io/gorm"

	controller "textflow/controllers"
	"textflow/middleware"
	"textflow/utils"
)

func SetupAuthRoutes(app *fiber.App, db *gorm.DB) {
	// Initialize logger
	authLogger := log.New(os.Stdout, "AUTH: ", log.Ldate|log.Ltime|log.Lshortfile)

	// Auth routes group with logging middleware
	auth := app.Group("/auth", logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	// Public auth endpoints (no authentication required)
	auth.Post("/register", controller.Register)
	auth.Post("/login", controller.Login)
	auth.Post("/forgot-password", controller.ForgotPassword)
	auth.Post("/verify-reset-otp", controller.VerifyResetPasswordOTP)
	auth.Post("/reset-password", controller.ResetPassword)
	auth.Post("/refresh", controller.RefreshToken)

	// Google OAuth routes
	auth.Get("/google", controller.GoogleOAuth)
	auth.Get("/google/callback", controller.GoogleOAuthCallback)

	// Protected auth endpoints (require valid JWT)
	protectedAuth := auth.Group("", middleware.Protected())
	protectedAuth.Post("/logout", controller.Logout)
	protectedAuth.Post("/change-password", controller.ChangePassword)
	protectedAuth.Get("/me", controller.GetCurrentUser)

	// OTP routes group
	otp := app.Group("/otp", logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	otp.Post("/send", controller.SendOTP)
	otp.Post("/verify", controller.VerifyOTP)

	// Log initialization
	authLogger.Println("Authentication routes initialized successfully")
}

func SetupAPIRoutes(app *fiber.App, db *gorm.DB, broker *utils.BrokerClient) {
	// Initialize controllers with their respective loggers
	integrationController := controller.NewIntegrationController(db, broker,
		log.New(os.Stdout, "INTEGRATION: ", log.LstdFlags))
	cellController := controller.NewCellController(db, log.New(os.Stdout, "CELL: ", log.LstdFlags))
	dashboardController := controller.NewDashboardController(db, log.New(os.Stdout, "DASHBOARD: ", log.LstdFlags))

	// API group with versioning and protection
	api := app.Group("/api/v1", middleware.Protected(), logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	// Dashboard routes
	dashboard := api.Group("/dashboard")
	dashboard.Get("/stats", dashboardController.GetDashboardStats)
	dashboard.Get("/providers", dashboardController.GetProviderSummaries)
	dashboard.Get("/contact-growth", dashboardController.GetContactGrowth)

	// Cell routes
	cell := api.Group("/cells")
	cell.Post("/", cellController.CreateCell)
	cell.Get("/", cellController.GetCells)
	cell.Get("/:id", cellController.GetCell)
	cell.Get("/:id/contacts", cellController.GetCellContacts)
	cell.Put("/:id", cellController.UpdateCell)
	cell.Delete("/:id", cellController.DeleteCell)

	// Integration routes
	api.Get("/integrations", integrationController.ListIntegrations)

	integration := api.Group("/integrations/:provider")
	integration.Post("/connect", integrationController.Connect)
	integration.Get("/callback", integrationController.Callback)
	integration.Get("/status", integrationController.GetStatus)
	integration.Post("/disconnect", integrationController.Disconnect)
	// Sync is rate limited per user+provider
	integration.Post("/sync-contacts", middleware.SyncRateLimiter(), integrationController.SyncContacts)

	// WebSocket route for sync progress
	app.Get("/api/v1/integrations/sync/progress", middleware.Protected(), func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return websocket.New(controller.HandleSyncProgressWS)(c)
		}
		return fiber.ErrUpgradeRequired
	})

	// Log initialization
	log.Println("API routes initialized successfully")
}

func SetupRoutes(app *fiber.App, db *gorm.DB, broker *utils.BrokerClient) {
	// Setup health check endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Setup auth routes
	SetupAuthRoutes(app, db)

	// Setup API routes
	SetupAPIRoutes(app, db, broker)

	// Setup 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   "Not Found",
			"message": "The requested resource was not found",
		})
	})
}
