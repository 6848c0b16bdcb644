package service

import (
	"testing"

	"github.com/flexprice/plancore/internal/api/dto"
	"github.com/flexprice/plancore/internal/domain/billing"
	"github.com/flexprice/plancore/internal/domain/subscription"
	ierr "github.com/flexprice/plancore/internal/errors"
	"github.com/flexprice/plancore/internal/testutil"
	"github.com/flexprice/plancore/internal/types"
	"github.com/stretchr/testify/suite"
)

type BillingWebhookSuite struct {
	testutil.BaseServiceTestSuite
	service       BillingWebhookService
	subscriptions SubscriptionService
}

func TestBillingWebhook(t *testing.T) {
	suite.Run(t, new(BillingWebhookSuite))
}

func (s *BillingWebhookSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	params := newTestServiceParams(&s.BaseServiceTestSuite)
	s.service = NewBillingWebhookService(params)
	s.subscriptions = NewSubscriptionService(params)
}

func (s *BillingWebhookSuite) event(eventType types.BillingEventType) *billing.Event {
	return &billing.Event{
		ID:      "evt_" + s.GetUUID(),
		Type:    eventType,
		Created: s.GetNow(),
	}
}

func (s *BillingWebhookSuite) subscriptionEvent(eventType types.BillingEventType, ref string) *billing.Event {
	e := s.event(eventType)
	e.Subscription = s.GetPaymentGateway().Subscription(ref)
	s.Require().NotNil(e.Subscription)
	return e
}

func (s *BillingWebhookSuite) handle(e *billing.Event) {
	s.Require().NoError(s.service.HandleEvent(s.GetContext(), e))
}

func (s *BillingWebhookSuite) scheduleDowngrade(userID, target string) *subscription.Subscription {
	_, err := s.subscriptions.RequestPlanChange(s.GetContext(), &dto.PlanChangeRequest{UserID: userID, TargetPlan: target})
	s.Require().NoError(err)
	record := s.GetRecord(userID)
	s.Require().NotNil(record.PendingChange)
	return record
}

func (s *BillingWebhookSuite) TestCheckoutCompletedActivatesPlan() {
	s.GetPaymentGateway().AddCustomer("cus_u1", "u1", "pm_1")
	s.GetPaymentGateway().AddSubscription("sub_checkout", "cus_u1", "price_pro")

	e := s.event(types.BillingEventCheckoutCompleted)
	e.CheckoutSession = &billing.CheckoutSession{
		Ref:               "cs_1",
		Mode:              types.CheckoutModeSubscription,
		Complete:          true,
		CustomerRef:       "cus_u1",
		SubscriptionRef:   "sub_checkout",
		ClientReferenceID: "u1",
		Metadata: map[string]string{
			types.MetadataKeyUserID:   "u1",
			types.MetadataKeyUsername: "beatmaker",
			types.MetadataKeyEmail:    "u1@example.com",
		},
	}
	s.handle(e)

	record := s.GetRecord("u1")
	s.Equal("PRO", record.PlanType)
	s.Equal(types.SubscriptionStatusActive, record.Status)
	s.Equal("sub_checkout", record.BillingSubscriptionRef)
	s.Equal("beatmaker", record.Username)
	s.NotNil(record.CurrentPeriodEnd)

	calls := s.GetEntitlementGateway().CallsFor("u1")
	s.Require().Len(calls, 1)
	s.Equal(types.EntitlementOperationUpsert, calls[0].Operation)
	s.Equal("PRO", calls[0].Plan)
	s.Equal("beatmaker", calls[0].Username)

	// duplicate delivery is skipped
	s.handle(e)
	s.Len(s.GetEntitlementGateway().CallsFor("u1"), 1)
}

func (s *BillingWebhookSuite) TestSetupCheckoutIsIgnored() {
	e := s.event(types.BillingEventCheckoutCompleted)
	e.CheckoutSession = &billing.CheckoutSession{Ref: "cs_setup", Mode: types.CheckoutModeSetup, Complete: true}
	s.handle(e)
	s.Zero(s.GetPaymentGateway().CallCount("GetSubscription"))
}

func (s *BillingWebhookSuite) TestHandleWebhookVerifiesSignature() {
	sub := s.SeedSubscription("u1", "PRO")
	s.GetPaymentGateway().SetStatus(sub.BillingSubscriptionRef, types.SubscriptionStatusPastDue)
	s.GetPaymentGateway().WebhookEvents["sig_ok"] = s.subscriptionEvent(types.BillingEventSubscriptionUpdated, sub.BillingSubscriptionRef)

	err := s.service.HandleWebhook(s.GetContext(), []byte(`{}`), "sig_bad")
	s.Require().Error(err)
	s.True(ierr.IsValidation(err))
	s.Equal(types.SubscriptionStatusActive, s.GetRecord("u1").Status)

	s.Require().NoError(s.service.HandleWebhook(s.GetContext(), []byte(`{}`), "sig_ok"))
	s.Equal(types.SubscriptionStatusPastDue, s.GetRecord("u1").Status)
}

func (s *BillingWebhookSuite) TestProcessingErrorsAreAcknowledgedAndRetryable() {
	s.GetPaymentGateway().AddCustomer("cus_u1", "u1", "pm_1")
	s.GetPaymentGateway().AddSubscription("sub_checkout", "cus_u1", "price_studio")
	s.GetPaymentGateway().Errors["GetSubscription"] = ierr.NewError("processor down").Mark(ierr.ErrHTTPClient)

	e := s.event(types.BillingEventCheckoutCompleted)
	e.CheckoutSession = &billing.CheckoutSession{
		Ref:             "cs_1",
		Mode:            types.CheckoutModeSubscription,
		CustomerRef:     "cus_u1",
		SubscriptionRef: "sub_checkout",
		Metadata:        map[string]string{types.MetadataKeyUserID: "u1"},
	}
	s.handle(e)
	_, err := s.GetStores().SubscriptionRepo.GetByUserID(s.GetContext(), "u1")
	s.True(ierr.IsNotFound(err))

	delete(s.GetPaymentGateway().Errors, "GetSubscription")
	s.handle(e)
	s.Equal("STUDIO", s.GetRecord("u1").PlanType)
}

func (s *BillingWebhookSuite) TestSubscriptionCreatedBindsRecordByCustomer() {
	s.GetStores().SubscriptionRepo.Put(&subscription.Subscription{
		ID:                 "subs_u1",
		UserID:             "u1",
		BillingCustomerRef: "cus_u1",
		PlanType:           "FREE",
		Status:             types.SubscriptionStatusIncomplete,
	})
	s.GetPaymentGateway().AddSubscription("sub_new", "cus_u1", "price_pro")

	s.handle(s.subscriptionEvent(types.BillingEventSubscriptionCreated, "sub_new"))

	record := s.GetRecord("u1")
	s.Equal("sub_new", record.BillingSubscriptionRef)
	s.Equal("PRO", record.PlanType)
	s.Equal(types.SubscriptionStatusActive, record.Status)
}

func (s *BillingWebhookSuite) TestEventsFromReplacedSubscriptionAreIgnored() {
	sub := s.SeedSubscription("u1", "PRO")
	s.GetPaymentGateway().AddSubscription("sub_old", sub.BillingCustomerRef, "price_studio")

	s.handle(s.subscriptionEvent(types.BillingEventSubscriptionUpdated, "sub_old"))

	record := s.GetRecord("u1")
	s.Equal(sub.BillingSubscriptionRef, record.BillingSubscriptionRef)
	s.Equal("PRO", record.PlanType)
	s.Equal(1, record.Version)
}

func (s *BillingWebhookSuite) TestUpdateDuringPendingDowngradeKeepsPlan() {
	s.SeedSubscription("u1", "STUDIO")
	record := s.scheduleDowngrade("u1", "PRO")

	s.handle(s.subscriptionEvent(types.BillingEventSubscriptionUpdated, record.BillingSubscriptionRef))

	after := s.GetRecord("u1")
	s.Equal("STUDIO", after.PlanType)
	s.Require().NotNil(after.PendingChange)
	s.Equal(record.PendingChange.ScheduleRef, after.PendingChange.ScheduleRef)
}

func (s *BillingWebhookSuite) TestUpdateRealizesScheduledDowngrade() {
	s.SeedSubscription("u1", "STUDIO", "promotedBeat", "stemExports")
	record := s.scheduleDowngrade("u1", "PRO")
	stemItem := record.ActiveAddOns[1].BillingItemRef

	s.GetPaymentGateway().RunSchedule(record.PendingChange.ScheduleRef)
	s.handle(s.subscriptionEvent(types.BillingEventSubscriptionUpdated, record.BillingSubscriptionRef))

	after := s.GetRecord("u1")
	s.Equal("PRO", after.PlanType)
	s.Equal("price_pro", after.BillingPriceRef)
	s.Nil(after.PendingChange)
	s.Equal([]string{"promotedBeat"}, after.ActiveAddonNames())

	for _, item := range s.GetPaymentGateway().Subscription(record.BillingSubscriptionRef).Items {
		s.NotEqual(stemItem, item.Ref)
	}

	contract, ok := s.GetEntitlementGateway().Contract("u1")
	s.Require().True(ok)
	s.Equal("PRO", contract.Plan)
	s.Equal([]string{"promotedBeat"}, contract.AddonNames)
}

func (s *BillingWebhookSuite) TestScheduleCompletedAppliesDowngrade() {
	s.SeedSubscription("u1", "PRO", "promotedBeat")
	record := s.scheduleDowngrade("u1", "FREE")
	s.GetPaymentGateway().RunSchedule(record.PendingChange.ScheduleRef)

	e := s.event(types.BillingEventScheduleCompleted)
	e.Schedule = &billing.Schedule{
		Ref:             record.PendingChange.ScheduleRef,
		SubscriptionRef: record.BillingSubscriptionRef,
		Status:          "completed",
	}
	s.handle(e)

	after := s.GetRecord("u1")
	s.Equal("FREE", after.PlanType)
	s.Nil(after.PendingChange)
	s.Empty(after.ActiveAddonNames())
}

func (s *BillingWebhookSuite) TestStaleScheduleEventOnlyRefreshes() {
	s.SeedSubscription("u1", "STUDIO")
	record := s.scheduleDowngrade("u1", "PRO")

	e := s.event(types.BillingEventScheduleReleased)
	e.Schedule = &billing.Schedule{
		Ref:                     "sub_sched_previous",
		ReleasedSubscriptionRef: record.BillingSubscriptionRef,
		Status:                  "released",
	}
	s.handle(e)

	after := s.GetRecord("u1")
	s.Equal("STUDIO", after.PlanType)
	s.Require().NotNil(after.PendingChange)
	s.Equal(record.PendingChange.ScheduleRef, after.PendingChange.ScheduleRef)
}

func (s *BillingWebhookSuite) TestDeletedSubscriptionIsReplacedWithFree() {
	sub := s.SeedSubscription("u1", "STUDIO", "stemExports")
	s.GetPaymentGateway().SetStatus(sub.BillingSubscriptionRef, types.SubscriptionStatusCanceled)
	e := s.subscriptionEvent(types.BillingEventSubscriptionDeleted, sub.BillingSubscriptionRef)

	s.handle(e)

	record := s.GetRecord("u1")
	s.Equal("FREE", record.PlanType)
	s.Equal(types.SubscriptionStatusActive, record.Status)
	s.NotEqual(sub.BillingSubscriptionRef, record.BillingSubscriptionRef)
	s.Empty(record.ActiveAddonNames())

	replacement := s.GetPaymentGateway().Subscription(record.BillingSubscriptionRef)
	s.Require().NotNil(replacement)
	s.Equal("price_free", replacement.PriceRef)

	calls := s.GetEntitlementGateway().CallsFor("u1")
	s.Require().Len(calls, 1)
	s.Equal(types.EntitlementOperationDowngrade, calls[0].Operation)

	// redelivery under a new event id finds no record for the old ref
	e.ID = "evt_redelivered"
	s.handle(e)
	s.Equal(1, s.GetPaymentGateway().CallCount("CreateSubscription"))
}

func (s *BillingWebhookSuite) TestDeletedSubscriptionWithoutReplacement() {
	sub := s.SeedSubscription("u1", "PRO", "promotedBeat")
	e := s.subscriptionEvent(types.BillingEventSubscriptionDeleted, sub.BillingSubscriptionRef)
	s.GetPaymentGateway().Errors["CreateSubscription"] = ierr.NewError("card declined").Mark(ierr.ErrHTTPClient)

	s.handle(e)

	record := s.GetRecord("u1")
	s.Equal(types.SubscriptionStatusCanceled, record.Status)
	s.Equal("FREE", record.PlanType)
	s.NotNil(record.CanceledAt)
	s.Empty(record.ActiveAddonNames())

	contract, ok := s.GetEntitlementGateway().Contract("u1")
	s.Require().True(ok)
	s.Equal("FREE", contract.Plan)
}

func (s *BillingWebhookSuite) TestInvoiceEvents() {
	sub := s.SeedSubscription("u1", "PRO")

	failed := s.event(types.BillingEventInvoicePaymentFailed)
	failed.Invoice = &billing.Invoice{Ref: "in_1", SubscriptionRef: sub.BillingSubscriptionRef}
	s.handle(failed)
	s.Equal(types.SubscriptionStatusPastDue, s.GetRecord("u1").Status)
	s.Empty(s.GetEntitlementGateway().Calls)

	paid := s.event(types.BillingEventInvoicePaymentSucceeded)
	paid.Invoice = &billing.Invoice{Ref: "in_2", SubscriptionRef: sub.BillingSubscriptionRef}
	s.handle(paid)
	s.Equal(types.SubscriptionStatusActive, s.GetRecord("u1").Status)

	calls := s.GetEntitlementGateway().CallsFor("u1")
	s.Require().Len(calls, 1)
	s.Equal(types.EntitlementOperationUpdate, calls[0].Operation)

	// paid again while active changes nothing
	again := s.event(types.BillingEventInvoicePaymentSucceeded)
	again.Invoice = &billing.Invoice{Ref: "in_3", SubscriptionRef: sub.BillingSubscriptionRef}
	s.handle(again)
	s.Len(s.GetEntitlementGateway().CallsFor("u1"), 1)
}

func (s *BillingWebhookSuite) TestInvoicePaidEndsTrial() {
	sub := s.SeedSubscription("u1", "PRO")
	trialing := sub.Clone()
	trialing.Status = types.SubscriptionStatusTrialing
	s.GetStores().SubscriptionRepo.Put(trialing)

	paid := s.event(types.BillingEventInvoicePaymentSucceeded)
	paid.Invoice = &billing.Invoice{Ref: "in_1", SubscriptionRef: sub.BillingSubscriptionRef}
	s.handle(paid)

	s.Equal(types.SubscriptionStatusActive, s.GetRecord("u1").Status)
	calls := s.GetEntitlementGateway().CallsFor("u1")
	s.Require().Len(calls, 1)
	s.Equal(types.EntitlementOperationUpdate, calls[0].Operation)
	s.Equal("PRO", calls[0].Plan)
}

func (s *BillingWebhookSuite) TestInvoicePaidDoesNotReviveCanceled() {
	sub := s.SeedSubscription("u1", "PRO")
	canceled := sub.Clone()
	canceled.Status = types.SubscriptionStatusCanceled
	s.GetStores().SubscriptionRepo.Put(canceled)
	version := s.GetRecord("u1").Version

	paid := s.event(types.BillingEventInvoicePaymentSucceeded)
	paid.Invoice = &billing.Invoice{Ref: "in_1", SubscriptionRef: sub.BillingSubscriptionRef}
	s.handle(paid)

	record := s.GetRecord("u1")
	s.Equal(types.SubscriptionStatusCanceled, record.Status)
	s.Equal(version, record.Version)
	s.Empty(s.GetEntitlementGateway().Calls)
}

func (s *BillingWebhookSuite) TestStaleUpdateAfterUpgradeFollowsProcessor() {
	sub := s.SeedSubscription("u1", "PRO", "promotedBeat")
	stale := s.subscriptionEvent(types.BillingEventSubscriptionUpdated, sub.BillingSubscriptionRef)

	_, err := s.subscriptions.RequestPlanChange(s.GetContext(), &dto.PlanChangeRequest{UserID: "u1", TargetPlan: "STUDIO"})
	s.Require().NoError(err)
	_, err = NewAddonService(newTestServiceParams(&s.BaseServiceTestSuite)).
		Purchase(s.GetContext(), &dto.PurchaseAddonRequest{UserID: "u1", AddonName: "stemExports"})
	s.Require().NoError(err)
	removals := s.GetPaymentGateway().CallCount("RemoveSubscriptionItem")

	// the update from before the upgrade arrives last
	s.handle(stale)

	record := s.GetRecord("u1")
	s.Equal("STUDIO", record.PlanType)
	s.ElementsMatch([]string{"promotedBeat", "stemExports"}, record.ActiveAddonNames())
	s.Equal(removals, s.GetPaymentGateway().CallCount("RemoveSubscriptionItem"))
	s.Len(s.GetPaymentGateway().Subscription(sub.BillingSubscriptionRef).Items, 3)

	contract, ok := s.GetEntitlementGateway().Contract("u1")
	s.Require().True(ok)
	s.Equal("STUDIO", contract.Plan)
	s.ElementsMatch([]string{"promotedBeat", "stemExports"}, contract.AddonNames)
}

func (s *BillingWebhookSuite) TestSubscriptionUpdatedIsIdempotent() {
	sub := s.SeedSubscription("u1", "PRO")
	studio, err := s.GetPaymentGateway().PriceRefForPlan("STUDIO")
	s.Require().NoError(err)
	_, err = s.GetPaymentGateway().UpdateSubscriptionPrice(s.GetContext(), sub.BillingSubscriptionRef, studio, types.ProrationPreferenceAlwaysInvoice)
	s.Require().NoError(err)

	first := s.subscriptionEvent(types.BillingEventSubscriptionUpdated, sub.BillingSubscriptionRef)
	s.handle(first)

	applied := s.GetRecord("u1")
	s.Equal("STUDIO", applied.PlanType)
	s.Len(s.GetEntitlementGateway().CallsFor("u1"), 1)

	// same payload redelivered under a new event id
	second := s.event(types.BillingEventSubscriptionUpdated)
	second.Subscription = first.Subscription
	s.handle(second)

	after := s.GetRecord("u1")
	s.Equal(applied, after)
	s.Equal(applied.Version, after.Version)
	s.Len(s.GetEntitlementGateway().CallsFor("u1"), 1)
}

func (s *BillingWebhookSuite) TestUnknownSubscriptionIsIgnored() {
	e := s.event(types.BillingEventInvoicePaymentFailed)
	e.Invoice = &billing.Invoice{Ref: "in_1", SubscriptionRef: "sub_unknown"}
	s.handle(e)

	s.GetPaymentGateway().AddSubscription("sub_orphan", "cus_orphan", "price_pro")
	s.handle(s.subscriptionEvent(types.BillingEventSubscriptionUpdated, "sub_orphan"))
	s.handle(s.subscriptionEvent(types.BillingEventSubscriptionDeleted, "sub_orphan"))
	s.Zero(s.GetPaymentGateway().CallCount("CreateSubscription"))
}
