package userevents

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/flexprice/plancore/internal/domain/subscription"
	ierr "github.com/flexprice/plancore/internal/errors"
	"github.com/flexprice/plancore/internal/pubsub"
	"github.com/flexprice/plancore/internal/pubsub/memory"
	pubsubRouter "github.com/flexprice/plancore/internal/pubsub/router"
	"github.com/flexprice/plancore/internal/service"
	"github.com/flexprice/plancore/internal/testutil"
	"github.com/flexprice/plancore/internal/types"
	"github.com/stretchr/testify/suite"
)

// DeletionFlowSuite runs USER_DELETED through the router into the real deletion service
type DeletionFlowSuite struct {
	testutil.BaseServiceTestSuite
	pubSub    pubsub.PubSub
	publisher Publisher
	router    *pubsubRouter.Router
	dlq       <-chan *message.Message
	cancel    context.CancelFunc
}

func TestDeletionFlow(t *testing.T) {
	suite.Run(t, new(DeletionFlowSuite))
}

func (s *DeletionFlowSuite) SetupSuite() {
	s.BaseServiceTestSuite.SetupSuite()
	cfg := s.GetConfig()
	cfg.UserEvents.MaxRetries = 3
	cfg.UserEvents.InitialInterval = time.Millisecond
	cfg.UserEvents.MaxInterval = 2 * time.Millisecond
	cfg.UserEvents.MaxElapsedTime = time.Second
}

func (s *DeletionFlowSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()

	params := service.NewServiceParams(
		s.GetLogger(),
		s.GetConfig(),
		s.GetDB(),
		s.GetCatalog(),
		s.GetCache(),
		s.GetSentry(),
		s.GetStores().SubscriptionRepo,
		s.GetStores().SyncTaskRepo,
		s.GetPaymentGateway(),
		s.GetEntitlementGateway(),
	)

	s.pubSub = memory.NewPubSub(s.GetLogger())
	s.publisher = NewPublisher(s.pubSub, s.GetConfig(), s.GetLogger())

	router, err := pubsubRouter.NewRouter(s.GetConfig(), s.GetLogger(), s.GetSentry(), s.pubSub)
	s.Require().NoError(err)
	NewHandler(s.pubSub, s.GetConfig(), service.NewUserDeletionService(params), s.GetLogger(), s.GetSentry()).
		RegisterHandler(router)
	s.router = router

	var ctx context.Context
	ctx, s.cancel = context.WithCancel(context.Background())
	s.dlq, err = s.pubSub.Subscribe(ctx, s.GetConfig().UserEvents.DLQTopic)
	s.Require().NoError(err)

	go func() {
		_ = router.Run(ctx)
	}()
	<-router.Running()
}

func (s *DeletionFlowSuite) TearDownTest() {
	s.cancel()
	_ = s.router.Close()
	_ = s.pubSub.Close()
	s.BaseServiceTestSuite.TearDownTest()
}

func (s *DeletionFlowSuite) TestPartialFailureRemovesEntitlementsOnce() {
	sub := s.SeedSubscription("u1", "PRO")
	legacy := &subscription.Subscription{
		ID:                     types.GenerateUUIDWithPrefix(types.UUID_PREFIX_SUBSCRIPTION),
		UserID:                 "u1",
		BillingCustomerRef:     sub.BillingCustomerRef,
		BillingSubscriptionRef: "sub_legacy_u1",
		Status:                 types.SubscriptionStatusCanceled,
		PlanType:               "PRO",
		CreatedAt:              s.GetNow().Add(-time.Hour),
	}
	s.GetStores().SubscriptionRepo.Put(legacy)
	s.GetStores().SubscriptionRepo.DeleteErrors[sub.ID] = ierr.NewError("connection reset").Mark(ierr.ErrDatabase)

	event := &types.UserEvent{Type: types.UserEventDeleted, UserID: "u1", OccurredAt: s.GetNow()}
	s.Require().NoError(s.publisher.PublishUserEvent(context.Background(), event))

	select {
	case msg := <-s.dlq:
		msg.Ack()
		s.Equal(event.ID, msg.UUID)
		s.Contains(msg.Metadata.Get(middleware.ReasonForPoisonedKey), "failed to delete 1 subscription record(s)")
	case <-time.After(2 * time.Second):
		s.FailNow("event never reached the dead letter topic")
	}

	calls := s.GetEntitlementGateway().CallsFor("u1")
	s.Require().Len(calls, 1)
	s.Equal(types.EntitlementOperationDelete, calls[0].Operation)

	_, err := s.GetStores().SubscriptionRepo.Get(s.GetContext(), legacy.ID)
	s.True(ierr.IsNotFound(err))
}

func (s *DeletionFlowSuite) TestCompleteDeletionIsNotDeadLettered() {
	s.SeedSubscription("u1", "PRO")

	event := &types.UserEvent{Type: types.UserEventDeleted, UserID: "u1", OccurredAt: s.GetNow()}
	s.Require().NoError(s.publisher.PublishUserEvent(context.Background(), event))

	s.Eventually(func() bool {
		return len(s.GetEntitlementGateway().CallsFor("u1")) == 1
	}, 2*time.Second, 5*time.Millisecond)

	_, err := s.GetStores().SubscriptionRepo.GetByUserID(s.GetContext(), "u1")
	s.True(ierr.IsNotFound(err))

	select {
	case msg := <-s.dlq:
		msg.Ack()
		s.Fail("unexpected dead letter", msg.UUID)
	case <-time.After(100 * time.Millisecond):
	}
	s.Len(s.GetEntitlementGateway().CallsFor("u1"), 1)
}
