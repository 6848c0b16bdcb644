package entitlement

import "context"

// Gateway is the contract with the entitlement service
type Gateway interface {
	Open(ctx context.Context) error
	Close() error

	UpsertContract(ctx context.Context, userID, username, plan string, addonNames []string) error
	UpdateContract(ctx context.Context, userID, plan string, addonNames []string) error
	DowngradeToFree(ctx context.Context, userID string) error
	DeleteContract(ctx context.Context, userID string) error
}
