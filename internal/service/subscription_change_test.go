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

type PlanChangeSuite struct {
	testutil.BaseServiceTestSuite
	service SubscriptionService
}

func TestPlanChange(t *testing.T) {
	suite.Run(t, new(PlanChangeSuite))
}

func (s *PlanChangeSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.service = NewSubscriptionService(newTestServiceParams(&s.BaseServiceTestSuite))
}

func (s *PlanChangeSuite) change(userID, target string, proration types.ProrationPreference) (*dto.PlanChangeResponse, error) {
	return s.service.RequestPlanChange(s.GetContext(), &dto.PlanChangeRequest{
		UserID:              userID,
		TargetPlan:          target,
		ProrationPreference: proration,
	})
}

// removeDefaultMethod leaves the customer with only the given attached methods
func (s *PlanChangeSuite) removeDefaultMethod(sub *subscription.Subscription, attached ...string) {
	s.GetPaymentGateway().AddCustomer(sub.BillingCustomerRef, sub.UserID, "", attached...)
}

func (s *PlanChangeSuite) TestUpgradeAppliesImmediately() {
	s.SeedSubscription("u1", "PRO", "promotedBeat")

	resp, err := s.change("u1", "STUDIO", "")
	s.Require().NoError(err)

	s.Equal(types.PlanChangeTypeUpgrade, resp.Type)
	s.Nil(resp.EffectiveDate)
	s.Equal("STUDIO", resp.Subscription.PlanType)
	s.Equal(types.ProrationPreferenceAlwaysInvoice, s.GetPaymentGateway().LastProration)

	record := s.GetRecord("u1")
	s.Equal("STUDIO", record.PlanType)
	s.Equal("price_studio", record.BillingPriceRef)
	s.Equal([]string{"promotedBeat"}, record.ActiveAddonNames())
	s.Equal(2, record.Version)

	contract, ok := s.GetEntitlementGateway().Contract("u1")
	s.Require().True(ok)
	s.Equal("STUDIO", contract.Plan)
	s.Equal([]string{"promotedBeat"}, contract.AddonNames)
}

func (s *PlanChangeSuite) TestUpgradeHonoursProrationPreference() {
	s.SeedSubscription("u1", "FREE")

	_, err := s.change("u1", "PRO", types.ProrationPreferenceNone)
	s.Require().NoError(err)
	s.Equal(types.ProrationPreferenceNone, s.GetPaymentGateway().LastProration)
}

func (s *PlanChangeSuite) TestUpgradePromotesAttachedMethod() {
	sub := s.SeedSubscription("u1", "FREE")
	s.removeDefaultMethod(sub, "pm_attached")

	resp, err := s.change("u1", "PRO", "")
	s.Require().NoError(err)
	s.Equal(types.PlanChangeTypeUpgrade, resp.Type)
	s.Equal("pm_attached", s.GetPaymentGateway().Customers[sub.BillingCustomerRef].DefaultMethod)
	s.Equal(1, s.GetPaymentGateway().CallCount("SetDefaultMethod"))
}

func (s *PlanChangeSuite) TestUpgradeWithoutPaymentMethodSuspends() {
	sub := s.SeedSubscription("u1", "FREE")
	s.removeDefaultMethod(sub)

	resp, err := s.change("u1", "STUDIO", types.ProrationPreferenceAutoProrate)
	s.Require().NoError(err)

	s.Equal(types.PlanChangeTypePaymentMethodRequired, resp.Type)
	s.Require().NotNil(resp.Setup)
	s.NotEmpty(resp.Setup.SetupURL)

	session := s.GetPaymentGateway().SetupSessions[resp.Setup.SetupRef]
	s.Require().NotNil(session)
	s.Equal(map[string]string{
		types.MetadataKeyUserID:              "u1",
		types.MetadataKeyPurpose:             string(types.SetupPurposePlanUpgrade),
		types.MetadataKeyTargetPlan:          "STUDIO",
		types.MetadataKeyProrationPreference: string(types.ProrationPreferenceAutoProrate),
	}, session.Metadata)

	record := s.GetRecord("u1")
	s.Equal("FREE", record.PlanType)
	s.Equal(1, record.Version)
	s.Zero(s.GetPaymentGateway().CallCount("UpdateSubscriptionPrice"))
	s.Empty(s.GetEntitlementGateway().Calls)
}

func (s *PlanChangeSuite) TestCompleteUpgradeAfterSetup() {
	sub := s.SeedSubscription("u1", "FREE")
	s.removeDefaultMethod(sub)

	pending, err := s.change("u1", "STUDIO", types.ProrationPreferenceAutoProrate)
	s.Require().NoError(err)
	s.GetPaymentGateway().CompleteSetup(pending.Setup.SetupRef, "pm_new")

	resp, err := s.service.CompleteUpgrade(s.GetContext(), &dto.CompleteSetupRequest{
		UserID:   "u1",
		SetupRef: pending.Setup.SetupRef,
	})
	s.Require().NoError(err)

	s.Equal(types.PlanChangeTypeUpgrade, resp.Type)
	s.Equal("STUDIO", s.GetRecord("u1").PlanType)
	s.Equal("pm_new", s.GetPaymentGateway().Customers[sub.BillingCustomerRef].DefaultMethod)
	s.Equal(types.ProrationPreferenceAutoProrate, s.GetPaymentGateway().LastProration)
}

func (s *PlanChangeSuite) TestCompleteUpgradeRejections() {
	sub := s.SeedSubscription("u1", "FREE")
	s.removeDefaultMethod(sub)

	pending, err := s.change("u1", "PRO", "")
	s.Require().NoError(err)
	upgradeRef := pending.Setup.SetupRef

	addonSetup, err := s.GetPaymentGateway().CreateSetupSession(s.GetContext(), &billing.SetupRequest{
		CustomerRef: sub.BillingCustomerRef,
		Metadata: map[string]string{
			types.MetadataKeyUserID:    "u1",
			types.MetadataKeyPurpose:   string(types.SetupPurposeAddonPurchase),
			types.MetadataKeyAddonName: "promotedBeat",
		},
	})
	s.Require().NoError(err)
	s.GetPaymentGateway().CompleteSetup(addonSetup.Ref, "pm_addon")

	s.Run("setup not complete", func() {
		_, err := s.service.CompleteUpgrade(s.GetContext(), &dto.CompleteSetupRequest{UserID: "u1", SetupRef: upgradeRef})
		s.Require().Error(err)
		s.Equal(subscription.ErrCodeSetupNotComplete, ierr.Code(err))
	})

	s.GetPaymentGateway().CompleteSetup(upgradeRef, "pm_new")

	s.Run("other user", func() {
		_, err := s.service.CompleteUpgrade(s.GetContext(), &dto.CompleteSetupRequest{UserID: "intruder", SetupRef: upgradeRef})
		s.Require().Error(err)
		s.True(ierr.IsPermissionDenied(err))
	})

	s.Run("setup for another operation", func() {
		_, err := s.service.CompleteUpgrade(s.GetContext(), &dto.CompleteSetupRequest{UserID: "u1", SetupRef: addonSetup.Ref})
		s.Require().Error(err)
		s.Equal(subscription.ErrCodeNoPendingUpgrade, ierr.Code(err))
	})

	s.Equal("FREE", s.GetRecord("u1").PlanType)
}

func (s *PlanChangeSuite) TestDowngradeIsScheduledForPeriodEnd() {
	sub := s.SeedSubscription("u1", "STUDIO", "stemExports")

	resp, err := s.change("u1", "PRO", "")
	s.Require().NoError(err)

	s.Equal(types.PlanChangeTypeDowngrade, resp.Type)
	s.Require().NotNil(resp.EffectiveDate)
	s.True(resp.EffectiveDate.Equal(*sub.CurrentPeriodEnd))
	s.Require().NotNil(resp.Subscription.PendingChange)
	s.Equal("PRO", resp.Subscription.PendingChange.TargetPlan)

	record := s.GetRecord("u1")
	s.Equal("STUDIO", record.PlanType)
	s.Equal([]string{"stemExports"}, record.ActiveAddonNames())
	s.Require().NotNil(record.PendingChange)

	schedule := s.GetPaymentGateway().Schedules[record.PendingChange.ScheduleRef]
	s.Require().NotNil(schedule)
	s.Equal("price_pro", schedule.PriceRef)
	s.True(schedule.EffectiveAt.Equal(*sub.CurrentPeriodEnd))

	s.Zero(s.GetPaymentGateway().CallCount("UpdateSubscriptionPrice"))
	s.Empty(s.GetEntitlementGateway().Calls)
}

func (s *PlanChangeSuite) TestNewRequestReleasesPendingDowngrade() {
	s.SeedSubscription("u1", "PRO")

	_, err := s.change("u1", "FREE", "")
	s.Require().NoError(err)
	scheduleRef := s.GetRecord("u1").PendingChange.ScheduleRef

	resp, err := s.change("u1", "STUDIO", "")
	s.Require().NoError(err)
	s.Equal(types.PlanChangeTypeUpgrade, resp.Type)

	s.True(s.GetPaymentGateway().Schedules[scheduleRef].Released)
	record := s.GetRecord("u1")
	s.Equal("STUDIO", record.PlanType)
	s.Nil(record.PendingChange)
}

func (s *PlanChangeSuite) TestSecondDowngradeReplacesSchedule() {
	s.SeedSubscription("u1", "STUDIO")

	_, err := s.change("u1", "PRO", "")
	s.Require().NoError(err)
	first := s.GetRecord("u1").PendingChange.ScheduleRef

	_, err = s.change("u1", "FREE", "")
	s.Require().NoError(err)

	record := s.GetRecord("u1")
	s.Require().NotNil(record.PendingChange)
	s.Equal("FREE", record.PendingChange.TargetPlan)
	s.NotEqual(first, record.PendingChange.ScheduleRef)
	s.True(s.GetPaymentGateway().Schedules[first].Released)
}

func (s *PlanChangeSuite) TestUpgradeFromCanceledProcessorSubscription() {
	sub := s.SeedSubscription("u1", "PRO", "promotedBeat")
	s.GetPaymentGateway().SetStatus(sub.BillingSubscriptionRef, types.SubscriptionStatusCanceled)

	resp, err := s.change("u1", "STUDIO", "")
	s.Require().NoError(err)
	s.Equal(types.PlanChangeTypeNewSubscription, resp.Type)

	record := s.GetRecord("u1")
	s.NotEqual(sub.BillingSubscriptionRef, record.BillingSubscriptionRef)
	s.Equal("STUDIO", record.PlanType)
	s.Equal(types.SubscriptionStatusActive, record.Status)

	created := s.GetPaymentGateway().Subscription(record.BillingSubscriptionRef)
	s.Require().NotNil(created)
	item, ok := created.ItemForPrice("price_promoted_beat")
	s.Require().True(ok)

	addon, ok := record.ActiveAddon("promotedBeat")
	s.Require().True(ok)
	s.Equal(item.Ref, addon.BillingItemRef)
}

func (s *PlanChangeSuite) TestRetriesOnVersionConflict() {
	s.SeedSubscription("u1", "PRO")

	bumped := false
	s.GetStores().SubscriptionRepo.BeforeUpdate = func(stored *subscription.Subscription) {
		if !bumped {
			stored.Version++
			bumped = true
		}
	}

	_, err := s.change("u1", "STUDIO", "")
	s.Require().NoError(err)

	record := s.GetRecord("u1")
	s.Equal("STUDIO", record.PlanType)
	s.Equal(3, record.Version)
}

func (s *PlanChangeSuite) TestProcessorFailureLeavesRecordUnchanged() {
	s.SeedSubscription("u1", "PRO")
	s.GetPaymentGateway().Errors["UpdateSubscriptionPrice"] = ierr.NewError("card declined").Mark(ierr.ErrHTTPClient)

	_, err := s.change("u1", "STUDIO", "")
	s.Require().Error(err)
	s.True(ierr.IsHTTPClient(err))

	record := s.GetRecord("u1")
	s.Equal("PRO", record.PlanType)
	s.Equal(1, record.Version)
	s.Empty(s.GetEntitlementGateway().Calls)
}

func (s *PlanChangeSuite) TestRejections() {
	s.SeedSubscription("u1", "STUDIO")
	s.GetStores().SubscriptionRepo.Put(&subscription.Subscription{
		ID:       "subs_nobilling",
		UserID:   "u2",
		PlanType: "FREE",
		Status:   types.SubscriptionStatusIncomplete,
	})

	tests := []struct {
		name      string
		userID    string
		target    string
		proration types.ProrationPreference
		code      string
	}{
		{name: "same plan", userID: "u1", target: "STUDIO", code: subscription.ErrCodeSamePlan},
		{name: "unknown plan", userID: "u1", target: "GOLD", code: subscription.ErrCodeInvalidPlan},
		{name: "unknown proration", userID: "u1", target: "PRO", proration: "sometimes", code: subscription.ErrCodeInvalidProration},
		{name: "no billing subscription", userID: "u2", target: "PRO", code: subscription.ErrCodeNoBillingSubscription},
		{name: "no record", userID: "u3", target: "PRO", code: subscription.ErrCodeNotFound},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			_, err := s.change(tt.userID, tt.target, tt.proration)
			s.Require().Error(err)
			s.Equal(tt.code, ierr.Code(err))
		})
	}

	// target equal to current plan is rejected even while a downgrade is pending
	_, err := s.change("u1", "PRO", "")
	s.Require().NoError(err)
	_, err = s.change("u1", "STUDIO", "")
	s.Require().Error(err)
	s.Equal(subscription.ErrCodeSamePlan, ierr.Code(err))
	s.NotNil(s.GetRecord("u1").PendingChange)
}
