package routes

import (
	"github.com/aralacademy/backend/internal/handlers"
	"github.com/aralacademy/backend/internal/middleware"
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers the ledger API routes
func RegisterRoutes(
	router *gin.Engine,
	trackHandler *handlers.TrackHandler,
	webhookHandler *handlers.WebhookHandler,
	affiliateHandler *handlers.AffiliateHandler,
	adminHandler *handlers.AdminHandler,
	trackLimiter *middleware.RateLimiter,
) {
	// Public click tracking, rate limited per IP
	trackGroup := router.Group("/api/track")
	trackGroup.Use(trackLimiter.Middleware())
	{
		trackGroup.POST("/click", trackHandler.TrackClick)
	}

	// Inbound webhooks, HMAC verified in the handler
	webhookGroup := router.Group("/api/webhooks")
	{
		webhookGroup.POST("/order-completed", webhookHandler.OrderCompleted)
		webhookGroup.POST("/disbursement", webhookHandler.DisbursementCallback)
	}

	// Affiliate-facing read API
	affiliateGroup := router.Group("/api/affiliate")
	affiliateGroup.Use(middleware.AuthMiddleware())
	{
		affiliateGroup.GET("/summary", affiliateHandler.GetSummary)
		affiliateGroup.GET("/clicks", affiliateHandler.ListClicks)
		affiliateGroup.GET("/conversions", affiliateHandler.ListConversions)
		affiliateGroup.GET("/payouts", affiliateHandler.ListPayouts)
		affiliateGroup.PUT("/payout-method", affiliateHandler.UpdatePayoutMethod)
	}

	// Admin ledger controls
	adminGroup := router.Group("/api/admin")
	adminGroup.Use(middleware.AuthMiddleware(), middleware.AdminMiddleware())
	{
		adminGroup.POST("/affiliates", adminHandler.CreateAffiliate)
		adminGroup.POST("/affiliates/:id/approve", adminHandler.ApproveAffiliate)
		adminGroup.POST("/affiliates/:id/deactivate", adminHandler.DeactivateAffiliate)
		adminGroup.PUT("/affiliates/:id/tier", adminHandler.ChangeTier)
		adminGroup.POST("/affiliates/:id/verify-gcash", adminHandler.VerifyGcash)
		adminGroup.GET("/affiliates/:id/flags", adminHandler.ListFlags)
		adminGroup.POST("/affiliates/:id/payout", adminHandler.RunPayout)

		adminGroup.POST("/conversions/:id/clear", adminHandler.ClearConversion)
		adminGroup.POST("/conversions/:id/void", adminHandler.VoidConversion)

		adminGroup.POST("/flags", adminHandler.RaiseFlag)
		adminGroup.POST("/flags/:id/resolve", adminHandler.ResolveFlag)

		adminGroup.POST("/payouts/:id/retry", adminHandler.RetryPayout)
	}
}
