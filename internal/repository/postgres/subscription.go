package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/flexprice/plancore/internal/domain/subscription"
	ierr "github.com/flexprice/plancore/internal/errors"
	"github.com/flexprice/plancore/internal/logger"
	"github.com/flexprice/plancore/internal/postgres"
	"github.com/flexprice/plancore/internal/types"
	"github.com/lib/pq"
)

const subscriptionColumns = `
	id, user_id, username, email,
	billing_customer_ref,
	COALESCE(billing_subscription_ref, '') AS billing_subscription_ref,
	billing_price_ref, status, plan_type,
	active_add_ons, pending_change,
	current_period_start, current_period_end, cancel_at_period_end, canceled_at,
	version, created_at, updated_at`

// subscriptionRow is the table shape; addons and the pending change are JSONB
type subscriptionRow struct {
	ID                     string                   `db:"id"`
	UserID                 string                   `db:"user_id"`
	Username               string                   `db:"username"`
	Email                  string                   `db:"email"`
	BillingCustomerRef     string                   `db:"billing_customer_ref"`
	BillingSubscriptionRef string                   `db:"billing_subscription_ref"`
	BillingPriceRef        string                   `db:"billing_price_ref"`
	Status                 types.SubscriptionStatus `db:"status"`
	PlanType               string                   `db:"plan_type"`
	ActiveAddOns           string                   `db:"active_add_ons"`
	PendingChange          sql.NullString           `db:"pending_change"`
	CurrentPeriodStart     *time.Time               `db:"current_period_start"`
	CurrentPeriodEnd       *time.Time               `db:"current_period_end"`
	CancelAtPeriodEnd      bool                     `db:"cancel_at_period_end"`
	CanceledAt             *time.Time               `db:"canceled_at"`
	Version                int                      `db:"version"`
	CreatedAt              time.Time                `db:"created_at"`
	UpdatedAt              time.Time                `db:"updated_at"`
}

func toRow(s *subscription.Subscription) (*subscriptionRow, error) {
	addons := s.ActiveAddOns
	if addons == nil {
		addons = []*subscription.AddOn{}
	}
	addonJSON, err := json.Marshal(addons)
	if err != nil {
		return nil, err
	}

	var pending sql.NullString
	if s.PendingChange != nil {
		pendingJSON, err := json.Marshal(s.PendingChange)
		if err != nil {
			return nil, err
		}
		pending = sql.NullString{String: string(pendingJSON), Valid: true}
	}

	return &subscriptionRow{
		ID:                     s.ID,
		UserID:                 s.UserID,
		Username:               s.Username,
		Email:                  s.Email,
		BillingCustomerRef:     s.BillingCustomerRef,
		BillingSubscriptionRef: s.BillingSubscriptionRef,
		BillingPriceRef:        s.BillingPriceRef,
		Status:                 s.Status,
		PlanType:               s.PlanType,
		ActiveAddOns:           string(addonJSON),
		PendingChange:          pending,
		CurrentPeriodStart:     s.CurrentPeriodStart,
		CurrentPeriodEnd:       s.CurrentPeriodEnd,
		CancelAtPeriodEnd:      s.CancelAtPeriodEnd,
		CanceledAt:             s.CanceledAt,
		Version:                s.Version,
		CreatedAt:              s.CreatedAt,
		UpdatedAt:              s.UpdatedAt,
	}, nil
}

func (r *subscriptionRow) toDomain() (*subscription.Subscription, error) {
	s := &subscription.Subscription{
		ID:                     r.ID,
		UserID:                 r.UserID,
		Username:               r.Username,
		Email:                  r.Email,
		BillingCustomerRef:     r.BillingCustomerRef,
		BillingSubscriptionRef: r.BillingSubscriptionRef,
		BillingPriceRef:        r.BillingPriceRef,
		Status:                 r.Status,
		PlanType:               r.PlanType,
		CurrentPeriodStart:     r.CurrentPeriodStart,
		CurrentPeriodEnd:       r.CurrentPeriodEnd,
		CancelAtPeriodEnd:      r.CancelAtPeriodEnd,
		CanceledAt:             r.CanceledAt,
		Version:                r.Version,
		CreatedAt:              r.CreatedAt,
		UpdatedAt:              r.UpdatedAt,
	}
	if r.ActiveAddOns != "" {
		if err := json.Unmarshal([]byte(r.ActiveAddOns), &s.ActiveAddOns); err != nil {
			return nil, err
		}
	}
	if r.PendingChange.Valid && r.PendingChange.String != "null" {
		s.PendingChange = &subscription.PendingChange{}
		if err := json.Unmarshal([]byte(r.PendingChange.String), s.PendingChange); err != nil {
			return nil, err
		}
	}
	return s, nil
}

type subscriptionRepository struct {
	db     *postgres.DB
	logger *logger.Logger
}

func NewSubscriptionRepository(db *postgres.DB, logger *logger.Logger) subscription.Repository {
	return &subscriptionRepository{db: db, logger: logger}
}

func (r *subscriptionRepository) Create(ctx context.Context, sub *subscription.Subscription) error {
	now := time.Now().UTC()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now
	if sub.Version == 0 {
		sub.Version = 1
	}

	row, err := toRow(sub)
	if err != nil {
		return ierr.WithError(err).WithHint("Failed to encode subscription").Mark(ierr.ErrInternal)
	}

	query := `
		INSERT INTO subscriptions (
			id, user_id, username, email,
			billing_customer_ref, billing_subscription_ref, billing_price_ref,
			status, plan_type, active_add_ons, pending_change,
			current_period_start, current_period_end, cancel_at_period_end, canceled_at,
			version, created_at, updated_at
		) VALUES (
			:id, :user_id, :username, :email,
			:billing_customer_ref, NULLIF(:billing_subscription_ref, ''), :billing_price_ref,
			:status, :plan_type, :active_add_ons, :pending_change,
			:current_period_start, :current_period_end, :cancel_at_period_end, :canceled_at,
			:version, :created_at, :updated_at
		)`

	if _, err := r.db.GetQuerier(ctx).NamedExecContext(ctx, query, row); err != nil {
		if isUniqueViolation(err) {
			return ierr.WithError(err).
				WithHintf("A subscription already exists for user %s", sub.UserID).
				WithReportableDetails(map[string]any{"user_id": sub.UserID}).
				Mark(ierr.ErrAlreadyExists)
		}
		return ierr.WithError(err).WithHint("Failed to create subscription").Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *subscriptionRepository) getOne(ctx context.Context, where string, arg string) (*subscription.Subscription, error) {
	var row subscriptionRow
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE ` + where + ` LIMIT 1`
	if err := r.db.GetQuerier(ctx).GetContext(ctx, &row, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ierr.WithError(err).
				WithHint("Subscription not found").
				WithReportableDetails(map[string]any{"lookup": arg}).
				Mark(subscription.ErrNotFound)
		}
		return nil, ierr.WithError(err).WithHint("Failed to load subscription").Mark(ierr.ErrDatabase)
	}
	sub, err := row.toDomain()
	if err != nil {
		return nil, ierr.WithError(err).WithHint("Failed to decode subscription").Mark(ierr.ErrInternal)
	}
	return sub, nil
}

func (r *subscriptionRepository) Get(ctx context.Context, id string) (*subscription.Subscription, error) {
	return r.getOne(ctx, "id = $1", id)
}

func (r *subscriptionRepository) GetByUserID(ctx context.Context, userID string) (*subscription.Subscription, error) {
	return r.getOne(ctx, "user_id = $1", userID)
}

func (r *subscriptionRepository) GetByBillingSubscriptionRef(ctx context.Context, ref string) (*subscription.Subscription, error) {
	return r.getOne(ctx, "billing_subscription_ref = $1", ref)
}

func (r *subscriptionRepository) GetByBillingCustomerRef(ctx context.Context, ref string) (*subscription.Subscription, error) {
	return r.getOne(ctx, "billing_customer_ref = $1", ref)
}

func (r *subscriptionRepository) ListByUserID(ctx context.Context, userID string) ([]*subscription.Subscription, error) {
	var rows []subscriptionRow
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE user_id = $1 ORDER BY created_at`
	if err := r.db.GetQuerier(ctx).SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, ierr.WithError(err).WithHint("Failed to list subscriptions").Mark(ierr.ErrDatabase)
	}

	subs := make([]*subscription.Subscription, 0, len(rows))
	for i := range rows {
		sub, err := rows[i].toDomain()
		if err != nil {
			return nil, ierr.WithError(err).WithHint("Failed to decode subscription").Mark(ierr.ErrInternal)
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

func (r *subscriptionRepository) Update(ctx context.Context, sub *subscription.Subscription) error {
	row, err := toRow(sub)
	if err != nil {
		return ierr.WithError(err).WithHint("Failed to encode subscription").Mark(ierr.ErrInternal)
	}
	row.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE subscriptions SET
			billing_customer_ref = :billing_customer_ref,
			billing_subscription_ref = NULLIF(:billing_subscription_ref, ''),
			billing_price_ref = :billing_price_ref,
			status = :status,
			plan_type = :plan_type,
			active_add_ons = :active_add_ons,
			pending_change = :pending_change,
			current_period_start = :current_period_start,
			current_period_end = :current_period_end,
			cancel_at_period_end = :cancel_at_period_end,
			canceled_at = :canceled_at,
			version = version + 1,
			updated_at = :updated_at
		WHERE id = :id AND version = :version`

	q := r.db.GetQuerier(ctx)
	result, err := q.NamedExecContext(ctx, query, row)
	if err != nil {
		if isUniqueViolation(err) {
			return ierr.WithError(err).
				WithHint("Billing subscription is already linked to another user").
				Mark(ierr.ErrAlreadyExists)
		}
		return ierr.WithError(err).WithHint("Failed to update subscription").Mark(ierr.ErrDatabase)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return ierr.WithError(err).WithHint("Failed to update subscription").Mark(ierr.ErrDatabase)
	}
	if affected == 0 {
		var exists bool
		if err := q.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM subscriptions WHERE id = $1)`, sub.ID); err != nil {
			return ierr.WithError(err).WithHint("Failed to update subscription").Mark(ierr.ErrDatabase)
		}
		if !exists {
			return ierr.NewError("subscription not found").
				WithHint("Subscription not found").
				WithReportableDetails(map[string]any{"id": sub.ID}).
				Mark(subscription.ErrNotFound)
		}
		return ierr.NewError("subscription was modified concurrently").
			WithHint("Subscription changed while the request was processed, please retry").
			WithReportableDetails(map[string]any{"id": sub.ID, "version": sub.Version}).
			Mark(ierr.ErrVersionConflict)
	}

	sub.Version++
	sub.UpdatedAt = row.UpdatedAt
	return nil
}

func (r *subscriptionRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.GetQuerier(ctx).ExecContext(ctx, `DELETE FROM subscriptions WHERE id = $1`, id)
	if err != nil {
		return ierr.WithError(err).WithHint("Failed to delete subscription").Mark(ierr.ErrDatabase)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ierr.NewError("subscription not found").
			WithHint("Subscription not found").
			WithReportableDetails(map[string]any{"id": id}).
			Mark(subscription.ErrNotFound)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
