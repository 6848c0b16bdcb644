package service

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/flexprice/plancore/internal/domain/entitlement"
	"github.com/flexprice/plancore/internal/domain/subscription"
	ierr "github.com/flexprice/plancore/internal/errors"
	"github.com/flexprice/plancore/internal/types"
	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"
)

const outboxWorkers = 4

// EntitlementSyncService pushes subscription state to the entitlement service.
// Calls are attempted immediately and never fail the caller; a failed call
// is queued and retried by ProcessPending until it succeeds or exhausts its attempts.
type EntitlementSyncService interface {
	Upsert(ctx context.Context, sub *subscription.Subscription)
	Update(ctx context.Context, sub *subscription.Subscription)
	DowngradeToFree(ctx context.Context, userID string)
	Delete(ctx context.Context, userID string)

	// ProcessPending retries due outbox tasks and returns how many were attempted
	ProcessPending(ctx context.Context) (int, error)
	// Run drains the outbox on the configured interval until ctx is done
	Run(ctx context.Context)
}

type entitlementSyncService struct {
	ServiceParams
}

func NewEntitlementSyncService(params ServiceParams) EntitlementSyncService {
	return &entitlementSyncService{
		ServiceParams: params,
	}
}

func (s *entitlementSyncService) Upsert(ctx context.Context, sub *subscription.Subscription) {
	plan, addons := s.entitledState(sub)
	err := s.EntitlementGateway.UpsertContract(ctx, sub.UserID, sub.Username, plan, addons)
	s.settle(ctx, sub.UserID, types.EntitlementOperationUpsert, err)
}

func (s *entitlementSyncService) Update(ctx context.Context, sub *subscription.Subscription) {
	plan, addons := s.entitledState(sub)
	err := s.EntitlementGateway.UpdateContract(ctx, sub.UserID, plan, addons)
	s.settle(ctx, sub.UserID, types.EntitlementOperationUpdate, err)
}

func (s *entitlementSyncService) DowngradeToFree(ctx context.Context, userID string) {
	err := s.EntitlementGateway.DowngradeToFree(ctx, userID)
	s.settle(ctx, userID, types.EntitlementOperationDowngrade, err)
}

func (s *entitlementSyncService) Delete(ctx context.Context, userID string) {
	err := s.EntitlementGateway.DeleteContract(ctx, userID)
	s.settle(ctx, userID, types.EntitlementOperationDelete, err)
}

// entitledState is the plan and addon set the entitlement service should hold for sub.
// A canceled subscription is entitled to the free plan only.
func (s *entitlementSyncService) entitledState(sub *subscription.Subscription) (string, []string) {
	if sub.Status == types.SubscriptionStatusCanceled {
		return s.Catalog.FreePlan().Name, []string{}
	}
	addons := sub.ActiveAddonNames()
	if addons == nil {
		addons = []string{}
	}
	return sub.PlanType, addons
}

func (s *entitlementSyncService) settle(ctx context.Context, userID string, op types.EntitlementOperation, callErr error) {
	ctx = context.WithoutCancel(ctx)

	if callErr == nil {
		// newer state reached the entitlement service, older retries are moot
		if err := s.SyncTaskRepo.SupersedePending(ctx, userID); err != nil {
			s.Logger.Warnw("failed to supersede entitlement sync tasks",
				"user_id", userID,
				"error", err,
			)
		}
		return
	}

	s.Logger.Warnw("entitlement sync failed, queueing retry",
		"user_id", userID,
		"operation", op,
		"error", callErr,
	)

	task := &entitlement.SyncTask{
		ID:            types.GenerateUUIDWithPrefix(types.UUID_PREFIX_ENTITLEMENT_SYNC),
		UserID:        userID,
		Operation:     op,
		Status:        types.SyncTaskStatusPending,
		Attempts:      1,
		LastError:     callErr.Error(),
		NextAttemptAt: time.Now().UTC().Add(s.nextDelay(1)),
	}

	err := s.DB.WithTx(ctx, func(ctx context.Context) error {
		if err := s.SyncTaskRepo.SupersedePending(ctx, userID); err != nil {
			return err
		}
		return s.SyncTaskRepo.Create(ctx, task)
	})
	if err != nil {
		s.Logger.Errorw("failed to queue entitlement sync",
			"user_id", userID,
			"operation", op,
			"error", err,
		)
		s.Sentry.CaptureExceptionWithTags(err, map[string]string{
			"user_id":   userID,
			"operation": string(op),
		})
	}
}

// nextDelay is the exponential backoff delay before the next attempt
func (s *entitlementSyncService) nextDelay(attempts int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.Config.EntitlementSync.InitialInterval
	b.MaxInterval = s.Config.EntitlementSync.MaxInterval
	b.MaxElapsedTime = 0
	b.Reset()

	d := b.NextBackOff()
	for i := 1; i < attempts; i++ {
		d = b.NextBackOff()
	}
	return d
}

func (s *entitlementSyncService) ProcessPending(ctx context.Context) (int, error) {
	tasks, err := s.SyncTaskRepo.ListDue(ctx, time.Now().UTC(), s.Config.EntitlementSync.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(tasks) == 0 {
		return 0, nil
	}

	var attempted atomic.Int64
	p := pool.New().WithMaxGoroutines(outboxWorkers)
	for _, task := range tasks {
		p.Go(func() {
			var catcher panics.Catcher
			catcher.Try(func() {
				if s.processTask(ctx, task) {
					attempted.Add(1)
				}
			})
			if r := catcher.Recovered(); r != nil {
				s.Logger.Errorw("panic while processing entitlement sync task",
					"task_id", task.ID,
					"user_id", task.UserID,
					"panic", r.Value,
				)
				s.Sentry.CaptureException(r.AsError())
			}
		})
	}
	p.Wait()

	s.Logger.Debugw("entitlement outbox drained", "due", len(tasks), "attempted", attempted.Load())
	return int(attempted.Load()), nil
}

// processTask retries one task and records the outcome. Returns false when
// the task was no longer pending.
func (s *entitlementSyncService) processTask(ctx context.Context, task *entitlement.SyncTask) bool {
	current, err := s.SyncTaskRepo.Get(ctx, task.ID)
	if err != nil {
		s.Logger.Warnw("failed to reload entitlement sync task", "task_id", task.ID, "error", err)
		return false
	}
	if current.Status != types.SyncTaskStatusPending {
		return false
	}

	callErr := s.replay(ctx, current)
	current.Attempts++

	switch {
	case callErr == nil:
		current.Status = types.SyncTaskStatusDone
		current.LastError = ""
		s.Logger.Infow("entitlement sync task succeeded",
			"task_id", current.ID,
			"user_id", current.UserID,
			"operation", current.Operation,
			"attempts", current.Attempts,
		)
	case current.Attempts >= s.Config.EntitlementSync.MaxAttempts:
		current.Status = types.SyncTaskStatusFailed
		current.LastError = callErr.Error()
		s.Logger.Errorw("entitlement sync task exhausted its attempts",
			"task_id", current.ID,
			"user_id", current.UserID,
			"operation", current.Operation,
			"error", callErr,
		)
		s.Sentry.CaptureExceptionWithTags(callErr, map[string]string{
			"user_id":   current.UserID,
			"operation": string(current.Operation),
		})
	default:
		current.LastError = callErr.Error()
		current.NextAttemptAt = time.Now().UTC().Add(s.nextDelay(current.Attempts))
	}

	if err := s.SyncTaskRepo.Update(ctx, current); err != nil {
		s.Logger.Errorw("failed to record entitlement sync attempt",
			"task_id", current.ID,
			"error", err,
		)
	}
	return true
}

// replay recomputes the call from the current record so a stale task can
// never push older state over newer state
func (s *entitlementSyncService) replay(ctx context.Context, task *entitlement.SyncTask) error {
	if task.Operation == types.EntitlementOperationDelete {
		return s.EntitlementGateway.DeleteContract(ctx, task.UserID)
	}

	sub, err := s.SubRepo.GetByUserID(ctx, task.UserID)
	if err != nil {
		if ierr.IsNotFound(err) {
			// record deleted since; the deletion path owns the contract now
			return nil
		}
		return err
	}

	plan, addons := s.entitledState(sub)
	switch {
	case plan == s.Catalog.FreePlan().Name && task.Operation == types.EntitlementOperationDowngrade:
		return s.EntitlementGateway.DowngradeToFree(ctx, task.UserID)
	case task.Operation == types.EntitlementOperationUpsert:
		return s.EntitlementGateway.UpsertContract(ctx, sub.UserID, sub.Username, plan, addons)
	default:
		return s.EntitlementGateway.UpdateContract(ctx, sub.UserID, plan, addons)
	}
}

func (s *entitlementSyncService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Config.EntitlementSync.Interval)
	defer ticker.Stop()

	s.Logger.Infow("entitlement outbox worker started", "interval", s.Config.EntitlementSync.Interval)
	for {
		select {
		case <-ctx.Done():
			s.Logger.Info("entitlement outbox worker stopped")
			return
		case <-ticker.C:
			if _, err := s.ProcessPending(ctx); err != nil {
				s.Logger.Errorw("failed to drain entitlement outbox", "error", err)
			}
		}
	}
}
