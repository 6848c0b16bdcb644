package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/flexprice/plancore/internal/api"
	v1 "github.com/flexprice/plancore/internal/api/v1"
	"github.com/flexprice/plancore/internal/cache"
	"github.com/flexprice/plancore/internal/config"
	"github.com/flexprice/plancore/internal/domain/billing"
	"github.com/flexprice/plancore/internal/domain/catalog"
	"github.com/flexprice/plancore/internal/domain/entitlement"
	entitlementclient "github.com/flexprice/plancore/internal/integration/entitlement"
	"github.com/flexprice/plancore/internal/integration/stripe"
	"github.com/flexprice/plancore/internal/logger"
	"github.com/flexprice/plancore/internal/postgres"
	"github.com/flexprice/plancore/internal/pubsub"
	"github.com/flexprice/plancore/internal/pubsub/kafka"
	"github.com/flexprice/plancore/internal/pubsub/memory"
	pubsubRouter "github.com/flexprice/plancore/internal/pubsub/router"
	"github.com/flexprice/plancore/internal/repository"
	"github.com/flexprice/plancore/internal/sentry"
	"github.com/flexprice/plancore/internal/service"
	"github.com/flexprice/plancore/internal/types"
	"github.com/flexprice/plancore/internal/userevents"
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

// @title PlanCore API
// @version 1.0
// @description Subscription lifecycle service
// @BasePath /v1
// @schemes http https

func init() {
	time.Local = time.UTC
}

func main() {
	var opts []fx.Option

	// Core dependencies
	opts = append(opts,
		fx.Provide(
			config.NewConfig,
			logger.NewLogger,
			sentry.NewSentryService,
			cache.NewInMemoryCache,

			// Postgres
			postgres.NewDB,
			provideDBClient,

			catalog.NewCatalog,

			// Repositories
			repository.NewSubscriptionRepository,
			repository.NewSyncTaskRepository,

			// Gateways
			providePaymentGateway,
			entitlementclient.NewClient,

			// PubSub
			providePubSub,
			provideMessageRouter,
		),
	)

	// Service layer
	opts = append(opts,
		fx.Provide(
			service.NewServiceParams,

			service.NewSubscriptionService,
			service.NewAddonService,
			service.NewBillingWebhookService,
			service.NewUserDeletionService,
			service.NewEntitlementSyncService,

			userevents.NewHandler,
		),
	)

	// API
	opts = append(opts,
		fx.Provide(
			provideHandlers,
			api.NewRouter,
		),
		fx.Invoke(
			sentry.RegisterHooks,
			registerGateways,
			startServer,
		),
	)

	app := fx.New(opts...)
	app.Run()
}

func provideDBClient(db *postgres.DB) postgres.IClient {
	return db
}

func providePaymentGateway(cfg *config.Configuration, cat *catalog.Catalog, log *logger.Logger) billing.Gateway {
	return stripe.NewGateway(cfg, cat, log)
}

func providePubSub(lc fx.Lifecycle, cfg *config.Configuration, log *logger.Logger) (pubsub.PubSub, error) {
	var (
		ps  pubsub.PubSub
		err error
	)
	switch cfg.UserEvents.PubSub {
	case types.KafkaPubSub:
		ps, err = kafka.NewPubSub(cfg, log)
		if err != nil {
			return nil, err
		}
	default:
		ps = memory.NewPubSub(log)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return ps.Close()
		},
	})
	return ps, nil
}

// provideMessageRouter dead-letters through the same pubsub the events arrive on
func provideMessageRouter(cfg *config.Configuration, log *logger.Logger, sentry *sentry.Service, ps pubsub.PubSub) (*pubsubRouter.Router, error) {
	return pubsubRouter.NewRouter(cfg, log, sentry, ps)
}

func provideHandlers(
	logger *logger.Logger,
	subscriptionService service.SubscriptionService,
	addonService service.AddonService,
	billingWebhookService service.BillingWebhookService,
) api.Handlers {
	return api.Handlers{
		Health:       v1.NewHealthHandler(logger),
		Subscription: v1.NewSubscriptionHandler(subscriptionService, logger),
		Addon:        v1.NewAddonHandler(addonService, logger),
		Webhook:      v1.NewWebhookHandler(billingWebhookService, logger),
	}
}

// registerGateways opens both gateways before anything can call them and
// closes them, with the database, on shutdown
func registerGateways(
	lc fx.Lifecycle,
	db *postgres.DB,
	payments billing.Gateway,
	entitlements entitlement.Gateway,
	log *logger.Logger,
) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := payments.Open(ctx); err != nil {
				return err
			}
			if err := entitlements.Open(ctx); err != nil {
				_ = payments.Close()
				return err
			}
			log.Info("gateways opened")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := entitlements.Close(); err != nil {
				log.Warnw("failed to close entitlement gateway", "error", err)
			}
			if err := payments.Close(); err != nil {
				log.Warnw("failed to close payment gateway", "error", err)
			}
			return db.Close()
		},
	})
}

func startServer(
	lc fx.Lifecycle,
	cfg *config.Configuration,
	r *gin.Engine,
	router *pubsubRouter.Router,
	userEventsHandler userevents.Handler,
	entsync service.EntitlementSyncService,
	log *logger.Logger,
) {
	mode := cfg.Deployment.Mode
	if mode == "" {
		mode = types.ModeLocal
	}

	switch mode {
	case types.ModeLocal:
		startAPIServer(lc, r, cfg, log)
		startMessageRouter(lc, router, userEventsHandler, log)
		startOutboxWorker(lc, entsync, cfg, log)
	case types.ModeAPI:
		startAPIServer(lc, r, cfg, log)
		startOutboxWorker(lc, entsync, cfg, log)
	case types.ModeConsumer:
		startMessageRouter(lc, router, userEventsHandler, log)
	default:
		log.Fatalf("Unknown deployment mode: %s", mode)
	}
}

func startAPIServer(
	lc fx.Lifecycle,
	r *gin.Engine,
	cfg *config.Configuration,
	log *logger.Logger,
) {
	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Infow("starting API server", "address", cfg.Server.Address)
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatalf("Failed to start server: %v", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("shutting down API server")
			return srv.Shutdown(ctx)
		},
	})
}

func startMessageRouter(
	lc fx.Lifecycle,
	router *pubsubRouter.Router,
	userEventsHandler userevents.Handler,
	log *logger.Logger,
) {
	userEventsHandler.RegisterHandler(router)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := router.Run(context.Background()); err != nil {
					log.Errorw("message router stopped", "error", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return router.Close()
		},
	})
}

func startOutboxWorker(
	lc fx.Lifecycle,
	entsync service.EntitlementSyncService,
	cfg *config.Configuration,
	log *logger.Logger,
) {
	if !cfg.EntitlementSync.Enabled {
		log.Info("entitlement outbox worker is disabled")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				entsync.Run(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
}
