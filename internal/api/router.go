package api

import (
	v1 "github.com/flexprice/plancore/internal/api/v1"
	"github.com/flexprice/plancore/internal/config"
	"github.com/flexprice/plancore/internal/logger"
	"github.com/flexprice/plancore/internal/rest/middleware"
	"github.com/flexprice/plancore/internal/types"
	"github.com/gin-gonic/gin"
)

type Handlers struct {
	Health       *v1.HealthHandler
	Subscription *v1.SubscriptionHandler
	Addon        *v1.AddonHandler
	Webhook      *v1.WebhookHandler
}

func NewRouter(handlers Handlers, cfg *config.Configuration, logger *logger.Logger) *gin.Engine {
	if cfg.Deployment.Mode != types.ModeLocal {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.RequestIDMiddleware,
		middleware.CORSMiddleware,
		middleware.SentryMiddleware(cfg),
		middleware.ErrorHandler(logger),
	)

	router.GET("/health", handlers.Health.Health)

	v1Router := router.Group("/v1")

	// the processor signs webhooks, no user identity
	webhooks := v1Router.Group("/webhooks")
	{
		webhooks.POST("/stripe", handlers.Webhook.HandleStripeWebhook)
	}

	subscription := v1Router.Group("/subscription", middleware.UserIdentityMiddleware)
	{
		subscription.GET("", handlers.Subscription.GetSubscription)
		subscription.POST("/checkout", handlers.Subscription.StartCheckout)
		subscription.POST("/plan-change", handlers.Subscription.RequestPlanChange)
		subscription.POST("/plan-change/complete", handlers.Subscription.CompleteUpgrade)

		subscription.POST("/addons", handlers.Addon.Purchase)
		subscription.POST("/addons/complete", handlers.Addon.CompletePurchase)
		subscription.DELETE("/addons/:name", handlers.Addon.Cancel)
	}

	return router
}
