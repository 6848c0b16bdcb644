package testutil

import (
	"context"
	"time"

	"github.com/flexprice/plancore/internal/domain/entitlement"
	"github.com/flexprice/plancore/internal/types"
)

// InMemorySyncTaskStore implements entitlement.SyncTaskRepository
type InMemorySyncTaskStore struct {
	*InMemoryStore[*entitlement.SyncTask]
}

var _ entitlement.SyncTaskRepository = (*InMemorySyncTaskStore)(nil)

func NewInMemorySyncTaskStore() *InMemorySyncTaskStore {
	return &InMemorySyncTaskStore{
		InMemoryStore: NewInMemoryStore[*entitlement.SyncTask](),
	}
}

func (s *InMemorySyncTaskStore) Create(ctx context.Context, task *entitlement.SyncTask) error {
	now := time.Now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now
	c := *task
	return s.InMemoryStore.Create(ctx, task.ID, &c)
}

func (s *InMemorySyncTaskStore) Get(ctx context.Context, id string) (*entitlement.SyncTask, error) {
	task, err := s.InMemoryStore.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	c := *task
	return &c, nil
}

func (s *InMemorySyncTaskStore) Update(ctx context.Context, task *entitlement.SyncTask) error {
	task.UpdatedAt = time.Now().UTC()
	c := *task
	return s.InMemoryStore.Update(ctx, task.ID, &c)
}

func (s *InMemorySyncTaskStore) ListDue(ctx context.Context, now time.Time, limit int) ([]*entitlement.SyncTask, error) {
	due := s.InMemoryStore.List(ctx, func(_ context.Context, t *entitlement.SyncTask) bool {
		return t.Status == types.SyncTaskStatusPending && !t.NextAttemptAt.After(now)
	}, func(a, b *entitlement.SyncTask) bool {
		return a.CreatedAt.Before(b.CreatedAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	result := make([]*entitlement.SyncTask, 0, len(due))
	for _, t := range due {
		c := *t
		result = append(result, &c)
	}
	return result, nil
}

func (s *InMemorySyncTaskStore) SupersedePending(ctx context.Context, userID string) error {
	pending := s.ListForUser(ctx, userID)
	for _, t := range pending {
		if t.Status != types.SyncTaskStatusPending {
			continue
		}
		t.Status = types.SyncTaskStatusSuperseded
		if err := s.Update(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// ListForUser returns copies of every task of the user, oldest first
func (s *InMemorySyncTaskStore) ListForUser(ctx context.Context, userID string) []*entitlement.SyncTask {
	items := s.InMemoryStore.List(ctx, func(_ context.Context, t *entitlement.SyncTask) bool {
		return t.UserID == userID
	}, func(a, b *entitlement.SyncTask) bool {
		return a.CreatedAt.Before(b.CreatedAt)
	})

	result := make([]*entitlement.SyncTask, 0, len(items))
	for _, t := range items {
		c := *t
		result = append(result, &c)
	}
	return result
}

// Pending returns the user's pending tasks
func (s *InMemorySyncTaskStore) Pending(ctx context.Context, userID string) []*entitlement.SyncTask {
	var result []*entitlement.SyncTask
	for _, t := range s.ListForUser(ctx, userID) {
		if t.Status == types.SyncTaskStatusPending {
			result = append(result, t)
		}
	}
	return result
}
