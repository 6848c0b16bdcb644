package repository

import (
	"github.com/flexprice/plancore/internal/domain/entitlement"
	"github.com/flexprice/plancore/internal/domain/subscription"
	"github.com/flexprice/plancore/internal/logger"
	"github.com/flexprice/plancore/internal/postgres"
	postgresRepo "github.com/flexprice/plancore/internal/repository/postgres"
)

func NewSubscriptionRepository(db *postgres.DB, logger *logger.Logger) subscription.Repository {
	return postgresRepo.NewSubscriptionRepository(db, logger)
}

func NewSyncTaskRepository(db *postgres.DB, logger *logger.Logger) entitlement.SyncTaskRepository {
	return postgresRepo.NewSyncTaskRepository(db, logger)
}
