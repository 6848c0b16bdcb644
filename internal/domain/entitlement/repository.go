package entitlement

import (
	"context"
	"time"
)

// SyncTaskRepository persists the entitlement outbox
type SyncTaskRepository interface {
	Create(ctx context.Context, task *SyncTask) error
	Get(ctx context.Context, id string) (*SyncTask, error)
	Update(ctx context.Context, task *SyncTask) error
	// ListDue returns pending tasks whose next attempt is at or before now, oldest first
	ListDue(ctx context.Context, now time.Time, limit int) ([]*SyncTask, error)
	// SupersedePending marks every pending task of the user as superseded
	SupersedePending(ctx context.Context, userID string) error
}
