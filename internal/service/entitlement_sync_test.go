package service

import (
	"context"
	"testing"
	"time"

	"github.com/flexprice/plancore/internal/testutil"
	"github.com/flexprice/plancore/internal/types"
	"github.com/stretchr/testify/suite"
)

type EntitlementSyncSuite struct {
	testutil.BaseServiceTestSuite
	service EntitlementSyncService
}

func TestEntitlementSync(t *testing.T) {
	suite.Run(t, new(EntitlementSyncSuite))
}

func (s *EntitlementSyncSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.service = NewEntitlementSyncService(newTestServiceParams(&s.BaseServiceTestSuite))
}

// drain waits out the configured backoff and retries due tasks
func (s *EntitlementSyncSuite) drain() int {
	time.Sleep(10 * time.Millisecond)
	n, err := s.service.ProcessPending(s.GetContext())
	s.Require().NoError(err)
	return n
}

func (s *EntitlementSyncSuite) TestSuccessQueuesNothing() {
	sub := s.SeedSubscription("u1", "PRO", "promotedBeat")

	s.service.Update(s.GetContext(), sub)

	s.Empty(s.GetStores().SyncTaskRepo.ListForUser(s.GetContext(), "u1"))
	contract, ok := s.GetEntitlementGateway().Contract("u1")
	s.Require().True(ok)
	s.Equal("PRO", contract.Plan)
	s.Equal([]string{"promotedBeat"}, contract.AddonNames)
}

func (s *EntitlementSyncSuite) TestFailureIsQueuedAndRetried() {
	sub := s.SeedSubscription("u1", "PRO")
	s.GetEntitlementGateway().SetFail(true)

	s.service.Upsert(s.GetContext(), sub)

	pending := s.GetStores().SyncTaskRepo.Pending(s.GetContext(), "u1")
	s.Require().Len(pending, 1)
	s.Equal(types.EntitlementOperationUpsert, pending[0].Operation)
	s.Equal(1, pending[0].Attempts)
	s.NotEmpty(pending[0].LastError)
	s.Equal(1, s.GetDB().TxCount)

	s.GetEntitlementGateway().SetFail(false)
	s.Equal(1, s.drain())

	s.Empty(s.GetStores().SyncTaskRepo.Pending(s.GetContext(), "u1"))
	tasks := s.GetStores().SyncTaskRepo.ListForUser(s.GetContext(), "u1")
	s.Require().Len(tasks, 1)
	s.Equal(types.SyncTaskStatusDone, tasks[0].Status)
	s.Equal(2, tasks[0].Attempts)

	contract, ok := s.GetEntitlementGateway().Contract("u1")
	s.Require().True(ok)
	s.Equal("PRO", contract.Plan)
	s.Equal(sub.Username, contract.Username)
}

func (s *EntitlementSyncSuite) TestReplayPushesCurrentState() {
	sub := s.SeedSubscription("u1", "PRO")
	s.GetEntitlementGateway().SetFail(true)
	s.service.Update(s.GetContext(), sub)

	// the record moved on while the call was failing
	moved := sub.Clone()
	moved.PlanType = "STUDIO"
	moved.BillingPriceRef = "price_studio"
	s.GetStores().SubscriptionRepo.Put(moved)

	s.GetEntitlementGateway().SetFail(false)
	s.drain()

	contract, ok := s.GetEntitlementGateway().Contract("u1")
	s.Require().True(ok)
	s.Equal("STUDIO", contract.Plan)
}

func (s *EntitlementSyncSuite) TestNewerCallSupersedesQueuedTask() {
	sub := s.SeedSubscription("u1", "PRO")
	s.GetEntitlementGateway().SetFail(true)
	s.service.Update(s.GetContext(), sub)
	s.service.Update(s.GetContext(), sub)

	s.Len(s.GetStores().SyncTaskRepo.Pending(s.GetContext(), "u1"), 1)
	s.Len(s.GetStores().SyncTaskRepo.ListForUser(s.GetContext(), "u1"), 2)

	s.GetEntitlementGateway().SetFail(false)
	s.service.Update(s.GetContext(), sub)

	s.Empty(s.GetStores().SyncTaskRepo.Pending(s.GetContext(), "u1"))
	s.Zero(s.drain())
}

func (s *EntitlementSyncSuite) TestTaskFailsAfterMaxAttempts() {
	sub := s.SeedSubscription("u1", "PRO")
	s.GetEntitlementGateway().SetFail(true)
	s.service.Update(s.GetContext(), sub)

	for i := 1; i < s.GetConfig().EntitlementSync.MaxAttempts; i++ {
		s.Equal(1, s.drain())
	}

	tasks := s.GetStores().SyncTaskRepo.ListForUser(s.GetContext(), "u1")
	s.Require().Len(tasks, 1)
	s.Equal(types.SyncTaskStatusFailed, tasks[0].Status)
	s.Equal(s.GetConfig().EntitlementSync.MaxAttempts, tasks[0].Attempts)
	s.Zero(s.drain())
}

func (s *EntitlementSyncSuite) TestCanceledSubscriptionIsEntitledToFree() {
	sub := s.SeedSubscription("u1", "STUDIO", "stemExports")
	sub.Status = types.SubscriptionStatusCanceled

	s.service.Update(s.GetContext(), sub)

	calls := s.GetEntitlementGateway().CallsFor("u1")
	s.Require().Len(calls, 1)
	s.Equal("FREE", calls[0].Plan)
	s.Empty(calls[0].AddonNames)
}

func (s *EntitlementSyncSuite) TestDeleteReplaysWithoutRecord() {
	s.GetEntitlementGateway().SetFail(true)
	s.service.Delete(s.GetContext(), "gone")
	s.Len(s.GetStores().SyncTaskRepo.Pending(s.GetContext(), "gone"), 1)

	s.GetEntitlementGateway().SetFail(false)
	s.Equal(1, s.drain())

	calls := s.GetEntitlementGateway().CallsFor("gone")
	s.Require().Len(calls, 2)
	s.Equal(types.EntitlementOperationDelete, calls[1].Operation)
}

func (s *EntitlementSyncSuite) TestDowngradeReplaysAsFree() {
	sub := s.SeedSubscription("u1", "PRO")
	s.GetEntitlementGateway().SetFail(true)
	s.service.DowngradeToFree(s.GetContext(), "u1")

	moved := sub.Clone()
	moved.PlanType = "FREE"
	moved.BillingPriceRef = "price_free"
	s.GetStores().SubscriptionRepo.Put(moved)

	s.GetEntitlementGateway().SetFail(false)
	s.drain()

	calls := s.GetEntitlementGateway().CallsFor("u1")
	s.Require().Len(calls, 2)
	s.Equal(types.EntitlementOperationDowngrade, calls[1].Operation)
}

func (s *EntitlementSyncSuite) TestRunStopsWithContext() {
	runCtx, stop := context.WithCancel(s.GetContext())
	done := make(chan struct{})
	go func() {
		s.service.Run(runCtx)
		close(done)
	}()
	stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		s.Fail("outbox worker did not stop")
	}
}
