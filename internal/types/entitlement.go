package types

import (
	ierr "github.com/flexprice/plancore/internal/errors"
	"github.com/samber/lo"
)

// EntitlementOperation is a call queued against the entitlement service
type EntitlementOperation string

const (
	EntitlementOperationUpsert    EntitlementOperation = "upsert"
	EntitlementOperationUpdate    EntitlementOperation = "update"
	EntitlementOperationDowngrade EntitlementOperation = "downgrade"
	EntitlementOperationDelete    EntitlementOperation = "delete"
)

func (o EntitlementOperation) Validate() error {
	allowed := []EntitlementOperation{
		EntitlementOperationUpsert,
		EntitlementOperationUpdate,
		EntitlementOperationDowngrade,
		EntitlementOperationDelete,
	}
	if !lo.Contains(allowed, o) {
		return ierr.NewError("invalid entitlement operation").
			WithHint("Invalid entitlement operation").
			WithReportableDetails(map[string]any{
				"operation": o,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// SyncTaskStatus is the state of an outbox entry
type SyncTaskStatus string

const (
	SyncTaskStatusPending    SyncTaskStatus = "pending"
	SyncTaskStatusDone       SyncTaskStatus = "done"
	SyncTaskStatusFailed     SyncTaskStatus = "failed"
	SyncTaskStatusSuperseded SyncTaskStatus = "superseded"
)
