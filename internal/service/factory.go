package service

import (
	"github.com/flexprice/plancore/internal/cache"
	"github.com/flexprice/plancore/internal/config"
	"github.com/flexprice/plancore/internal/domain/billing"
	"github.com/flexprice/plancore/internal/domain/catalog"
	"github.com/flexprice/plancore/internal/domain/entitlement"
	"github.com/flexprice/plancore/internal/domain/subscription"
	"github.com/flexprice/plancore/internal/logger"
	"github.com/flexprice/plancore/internal/postgres"
	"github.com/flexprice/plancore/internal/sentry"
)

// ServiceParams holds common dependencies for services
type ServiceParams struct {
	Logger  *logger.Logger
	Config  *config.Configuration
	DB      postgres.IClient
	Catalog *catalog.Catalog
	Cache   cache.Cache
	Sentry  *sentry.Service

	// Repositories
	SubRepo      subscription.Repository
	SyncTaskRepo entitlement.SyncTaskRepository

	// Gateways
	PaymentGateway     billing.Gateway
	EntitlementGateway entitlement.Gateway
}

// NewServiceParams creates a new ServiceParams instance
func NewServiceParams(
	logger *logger.Logger,
	config *config.Configuration,
	db postgres.IClient,
	catalog *catalog.Catalog,
	cache cache.Cache,
	sentry *sentry.Service,
	subRepo subscription.Repository,
	syncTaskRepo entitlement.SyncTaskRepository,
	paymentGateway billing.Gateway,
	entitlementGateway entitlement.Gateway,
) ServiceParams {
	return ServiceParams{
		Logger:             logger,
		Config:             config,
		DB:                 db,
		Catalog:            catalog,
		Cache:              cache,
		Sentry:             sentry,
		SubRepo:            subRepo,
		SyncTaskRepo:       syncTaskRepo,
		PaymentGateway:     paymentGateway,
		EntitlementGateway: entitlementGateway,
	}
}
