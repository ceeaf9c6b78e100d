package routes

import (
	"net/http"
	"time"

	"loyalty-engine/handlers"
	"loyalty-engine/loyalty"
	"loyalty-engine/metrics"
	"loyalty-engine/middleware"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Deps are the collaborators the HTTP surface is built from.
type Deps struct {
	DB      *gorm.DB
	Service *loyalty.Service
	Metrics *metrics.Metrics
	Logger  zerolog.Logger

	// RateLimit is requests per RateWindow per API key. Zero disables limiting.
	RateLimit  int
	RateWindow time.Duration
}

func SetupRoutes(r *gin.Engine, deps Deps) {
	var observer middleware.RequestObserver
	if deps.Metrics != nil {
		observer = deps.Metrics
	}
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.Observability(observer))

	authHandler := &handlers.AuthHandler{DB: deps.DB}
	integrationHandler := &handlers.IntegrationHandler{Service: deps.Service}
	adminHandler := &handlers.AdminHandler{DB: deps.DB, Service: deps.Service}

	r.GET("/health", func(c *gin.Context) {
		sqlDB, err := deps.DB.DB()
		if err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	api := r.Group("/api")
	{
		api.POST("/auth/login", authHandler.Login)
	}

	protected := api.Group("")
	protected.Use(middleware.AuthMiddleware())
	{
		protected.GET("/auth/profile", authHandler.GetProfile)
	}

	// Integration routes (API key, merchant taken from the key)
	integrations := api.Group("/integrations")
	integrations.Use(middleware.APIKeyMiddleware(deps.DB))
	if deps.RateLimit > 0 {
		window := deps.RateWindow
		if window <= 0 {
			window = time.Minute
		}
		integrations.Use(middleware.NewRateLimiter(deps.RateLimit, window).Middleware())
	}
	{
		integrations.POST("/bonus/calculate", integrationHandler.Calculate)
		integrations.POST("/bonus/calculate-action", integrationHandler.CalculateAction)
		integrations.POST("/bonus", integrationHandler.Bonus)
		integrations.POST("/quote", integrationHandler.Quote)
		integrations.POST("/commit", integrationHandler.Commit)
		integrations.POST("/refund", integrationHandler.Refund)
		integrations.POST("/holds/:id/cancel", integrationHandler.CancelHold)
		integrations.GET("/customers/:id/balance", integrationHandler.Balance)
	}

	// Admin routes (JWT, admins or the merchant's own users)
	admin := api.Group("/admin/merchants/:merchantId")
	admin.Use(middleware.AuthMiddleware())
	admin.Use(middleware.MerchantScopeMiddleware())
	{
		admin.GET("/staff-motivation/leaderboard", adminHandler.Leaderboard)
		admin.PUT("/customers/:id/blocks", adminHandler.UpdateCustomerBlocks)
		admin.PUT("/settings", adminHandler.UpdateSettings)
		admin.POST("/integration-keys", adminHandler.CreateIntegrationKey)
		admin.DELETE("/integration-keys/:keyId", adminHandler.RevokeIntegrationKey)
	}
}
