package internal

import (
	"github.com/flexprice/plancore/internal/cache"
	"github.com/flexprice/plancore/internal/config"
	"github.com/flexprice/plancore/internal/domain/catalog"
	entitlementclient "github.com/flexprice/plancore/internal/integration/entitlement"
	"github.com/flexprice/plancore/internal/integration/stripe"
	"github.com/flexprice/plancore/internal/logger"
	"github.com/flexprice/plancore/internal/postgres"
	"github.com/flexprice/plancore/internal/repository"
	"github.com/flexprice/plancore/internal/sentry"
	"github.com/flexprice/plancore/internal/service"
)

type scriptDeps struct {
	cfg    *config.Configuration
	log    *logger.Logger
	db     *postgres.DB
	params service.ServiceParams
}

// newScriptDeps wires the same stack the server builds, without fx
func newScriptDeps() (*scriptDeps, error) {
	cfg, err := config.NewConfig()
	if err != nil {
		return nil, err
	}

	log, err := logger.NewLogger(cfg)
	if err != nil {
		return nil, err
	}

	db, err := postgres.NewDB(cfg, log)
	if err != nil {
		return nil, err
	}

	cat, err := catalog.NewCatalog(cfg)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	params := service.NewServiceParams(
		log,
		cfg,
		db,
		cat,
		cache.NewInMemoryCache(cfg),
		sentry.NewSentryService(cfg, log),
		repository.NewSubscriptionRepository(db, log),
		repository.NewSyncTaskRepository(db, log),
		stripe.NewGateway(cfg, cat, log),
		entitlementclient.NewClient(cfg, log),
	)

	return &scriptDeps{cfg: cfg, log: log, db: db, params: params}, nil
}

func (d *scriptDeps) Close() {
	_ = d.params.EntitlementGateway.Close()
	_ = d.params.PaymentGateway.Close()
	_ = d.db.Close()
}
