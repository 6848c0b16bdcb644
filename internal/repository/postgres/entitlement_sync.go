package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/flexprice/plancore/internal/domain/entitlement"
	ierr "github.com/flexprice/plancore/internal/errors"
	"github.com/flexprice/plancore/internal/logger"
	"github.com/flexprice/plancore/internal/postgres"
	"github.com/flexprice/plancore/internal/types"
)

type syncTaskRepository struct {
	db     *postgres.DB
	logger *logger.Logger
}

func NewSyncTaskRepository(db *postgres.DB, logger *logger.Logger) entitlement.SyncTaskRepository {
	return &syncTaskRepository{db: db, logger: logger}
}

const syncTaskColumns = `id, user_id, operation, status, attempts, last_error, next_attempt_at, created_at, updated_at`

func (r *syncTaskRepository) Create(ctx context.Context, task *entitlement.SyncTask) error {
	now := time.Now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now

	query := `
		INSERT INTO entitlement_sync_tasks (` + syncTaskColumns + `)
		VALUES (:id, :user_id, :operation, :status, :attempts, :last_error, :next_attempt_at, :created_at, :updated_at)`

	if _, err := r.db.GetQuerier(ctx).NamedExecContext(ctx, query, task); err != nil {
		return ierr.WithError(err).WithHint("Failed to enqueue entitlement sync").Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *syncTaskRepository) Get(ctx context.Context, id string) (*entitlement.SyncTask, error) {
	var task entitlement.SyncTask
	query := `SELECT ` + syncTaskColumns + ` FROM entitlement_sync_tasks WHERE id = $1`
	if err := r.db.GetQuerier(ctx).GetContext(ctx, &task, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ierr.WithError(err).
				WithHint("Entitlement sync task not found").
				WithReportableDetails(map[string]any{"id": id}).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).WithHint("Failed to load entitlement sync task").Mark(ierr.ErrDatabase)
	}
	return &task, nil
}

func (r *syncTaskRepository) Update(ctx context.Context, task *entitlement.SyncTask) error {
	task.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE entitlement_sync_tasks SET
			status = :status,
			attempts = :attempts,
			last_error = :last_error,
			next_attempt_at = :next_attempt_at,
			updated_at = :updated_at
		WHERE id = :id`

	if _, err := r.db.GetQuerier(ctx).NamedExecContext(ctx, query, task); err != nil {
		return ierr.WithError(err).WithHint("Failed to update entitlement sync task").Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *syncTaskRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*entitlement.SyncTask, error) {
	var tasks []*entitlement.SyncTask
	query := `
		SELECT ` + syncTaskColumns + ` FROM entitlement_sync_tasks
		WHERE status = $1 AND next_attempt_at <= $2
		ORDER BY created_at
		LIMIT $3`

	if err := r.db.GetQuerier(ctx).SelectContext(ctx, &tasks, query, types.SyncTaskStatusPending, now, limit); err != nil {
		return nil, ierr.WithError(err).WithHint("Failed to list due entitlement sync tasks").Mark(ierr.ErrDatabase)
	}
	return tasks, nil
}

func (r *syncTaskRepository) SupersedePending(ctx context.Context, userID string) error {
	query := `
		UPDATE entitlement_sync_tasks SET status = $1, updated_at = $2
		WHERE user_id = $3 AND status = $4`

	if _, err := r.db.GetQuerier(ctx).ExecContext(ctx, query,
		types.SyncTaskStatusSuperseded, time.Now().UTC(), userID, types.SyncTaskStatusPending,
	); err != nil {
		return ierr.WithError(err).WithHint("Failed to supersede entitlement sync tasks").Mark(ierr.ErrDatabase)
	}
	return nil
}
