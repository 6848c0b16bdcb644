package testutil

import (
	"context"

	"github.com/flexprice/plancore/internal/postgres"
	"github.com/flexprice/plancore/internal/types"
)

var _ postgres.IClient = (*MockPostgresClient)(nil) // Ensure MockPostgresClient implements IClient

type mockTxMarker struct{}

// MockPostgresClient is a mock implementation of postgres client for testing
type MockPostgresClient struct {
	// TxCount counts outermost transactions
	TxCount int
}

// NewMockPostgresClient creates a new mock postgres client
func NewMockPostgresClient() *MockPostgresClient {
	return &MockPostgresClient{}
}

// WithTx executes the given function within a transaction
func (c *MockPostgresClient) WithTx(ctx context.Context, fn func(context.Context) error) error {
	// If we're already in a transaction, reuse it
	if ctx.Value(types.CtxDBTransaction) != nil {
		return fn(ctx)
	}

	c.TxCount++
	// For testing, we just execute the function without a real transaction
	return fn(context.WithValue(ctx, types.CtxDBTransaction, mockTxMarker{}))
}
