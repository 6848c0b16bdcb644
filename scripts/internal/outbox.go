package internal

import (
	"context"
	"fmt"
	"log"

	"github.com/flexprice/plancore/internal/service"
)

// DrainEntitlementOutbox retries every due entitlement sync task once and
// reports how many were attempted
func DrainEntitlementOutbox() error {
	deps, err := newScriptDeps()
	if err != nil {
		return fmt.Errorf("failed to initialize script: %w", err)
	}
	defer deps.Close()

	ctx := context.Background()
	if err := deps.params.EntitlementGateway.Open(ctx); err != nil {
		return fmt.Errorf("failed to open entitlement gateway: %w", err)
	}

	n, err := service.NewEntitlementSyncService(deps.params).ProcessPending(ctx)
	if err != nil {
		return fmt.Errorf("failed to process outbox: %w", err)
	}

	log.Printf("attempted %d entitlement sync task(s)\n", n)
	return nil
}
