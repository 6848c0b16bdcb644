package service

import (
	"testing"

	"github.com/flexprice/plancore/internal/api/dto"
	"github.com/flexprice/plancore/internal/domain/subscription"
	ierr "github.com/flexprice/plancore/internal/errors"
	"github.com/flexprice/plancore/internal/testutil"
	"github.com/flexprice/plancore/internal/types"
	"github.com/stretchr/testify/suite"
)

type AddonServiceSuite struct {
	testutil.BaseServiceTestSuite
	service AddonService
}

func TestAddonService(t *testing.T) {
	suite.Run(t, new(AddonServiceSuite))
}

func (s *AddonServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.service = NewAddonService(newTestServiceParams(&s.BaseServiceTestSuite))
}

func (s *AddonServiceSuite) purchase(userID, addon string) (*dto.AddonResponse, error) {
	return s.service.Purchase(s.GetContext(), &dto.PurchaseAddonRequest{UserID: userID, AddonName: addon})
}

func (s *AddonServiceSuite) TestPurchaseAttachesItem() {
	sub := s.SeedSubscription("u1", "PRO")

	resp, err := s.purchase("u1", "promotedBeat")
	s.Require().NoError(err)
	s.Equal(types.AddonStatusActive, resp.Status)
	s.False(resp.PaymentMethodRequired)
	s.Equal([]string{"promotedBeat"}, resp.Subscription.ActiveAddOns)

	record := s.GetRecord("u1")
	addon, ok := record.ActiveAddon("promotedBeat")
	s.Require().True(ok)

	bsub := s.GetPaymentGateway().Subscription(sub.BillingSubscriptionRef)
	item, ok := bsub.ItemForPrice("price_promoted_beat")
	s.Require().True(ok)
	s.Equal(item.Ref, addon.BillingItemRef)

	contract, ok := s.GetEntitlementGateway().Contract("u1")
	s.Require().True(ok)
	s.Equal("PRO", contract.Plan)
	s.Equal([]string{"promotedBeat"}, contract.AddonNames)
}

func (s *AddonServiceSuite) TestPurchaseRejections() {
	s.SeedSubscription("u1", "PRO", "promotedBeat")
	s.SeedSubscription("u2", "PRO")
	past := s.SeedSubscription("u3", "STUDIO")
	past.Status = types.SubscriptionStatusPastDue
	s.GetStores().SubscriptionRepo.Put(past)
	s.GetStores().SubscriptionRepo.Put(&subscription.Subscription{
		ID:       "subs_nobilling",
		UserID:   "u4",
		PlanType: "STUDIO",
		Status:   types.SubscriptionStatusActive,
	})

	tests := []struct {
		name   string
		userID string
		addon  string
		code   string
	}{
		{name: "unknown addon", userID: "u1", addon: "vinylPressing", code: subscription.ErrCodeInvalidAddon},
		{name: "already active", userID: "u1", addon: "promotedBeat", code: subscription.ErrCodeAddonAlreadyActive},
		{name: "not available on plan", userID: "u2", addon: "stemExports", code: subscription.ErrCodeAddonNotAvailable},
		{name: "subscription not active", userID: "u3", addon: "stemExports", code: subscription.ErrCodeNotActive},
		{name: "no processor subscription", userID: "u4", addon: "stemExports", code: subscription.ErrCodeNoStripeSubscription},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			_, err := s.purchase(tt.userID, tt.addon)
			s.Require().Error(err)
			s.Equal(tt.code, ierr.Code(err))
		})
	}
	s.Zero(s.GetPaymentGateway().CallCount("AddSubscriptionItem"))
}

func (s *AddonServiceSuite) TestPurchaseWithoutPaymentMethodSuspendsAndResumes() {
	sub := s.SeedSubscription("u1", "STUDIO")
	s.GetPaymentGateway().AddCustomer(sub.BillingCustomerRef, "u1", "")

	resp, err := s.purchase("u1", "stemExports")
	s.Require().NoError(err)
	s.True(resp.PaymentMethodRequired)
	s.Require().NotNil(resp.Setup)
	s.Empty(s.GetRecord("u1").ActiveAddonNames())

	session := s.GetPaymentGateway().SetupSessions[resp.Setup.SetupRef]
	s.Equal(string(types.SetupPurposeAddonPurchase), session.Metadata[types.MetadataKeyPurpose])
	s.Equal("stemExports", session.Metadata[types.MetadataKeyAddonName])

	s.GetPaymentGateway().CompleteSetup(resp.Setup.SetupRef, "pm_new")
	done, err := s.service.CompletePurchase(s.GetContext(), &dto.CompleteSetupRequest{
		UserID:   "u1",
		SetupRef: resp.Setup.SetupRef,
	})
	s.Require().NoError(err)
	s.Equal(types.AddonStatusActive, done.Status)
	s.Equal([]string{"stemExports"}, s.GetRecord("u1").ActiveAddonNames())
	s.Equal("pm_new", s.GetPaymentGateway().Customers[sub.BillingCustomerRef].DefaultMethod)
}

func (s *AddonServiceSuite) TestCompletePurchaseIsNotReplayable() {
	sub := s.SeedSubscription("u1", "STUDIO")
	s.GetPaymentGateway().AddCustomer(sub.BillingCustomerRef, "u1", "")

	resp, err := s.purchase("u1", "stemExports")
	s.Require().NoError(err)
	s.GetPaymentGateway().CompleteSetup(resp.Setup.SetupRef, "pm_new")

	req := &dto.CompleteSetupRequest{UserID: "u1", SetupRef: resp.Setup.SetupRef}
	_, err = s.service.CompletePurchase(s.GetContext(), req)
	s.Require().NoError(err)

	_, err = s.service.CompletePurchase(s.GetContext(), req)
	s.Require().Error(err)
	s.Equal(subscription.ErrCodeAddonAlreadyActive, ierr.Code(err))
	s.Equal(1, s.GetPaymentGateway().CallCount("AddSubscriptionItem"))
}

func (s *AddonServiceSuite) TestCancel() {
	sub := s.SeedSubscription("u1", "STUDIO", "promotedBeat", "stemExports")
	itemRef := sub.ActiveAddOns[1].BillingItemRef

	resp, err := s.service.Cancel(s.GetContext(), &dto.CancelAddonRequest{UserID: "u1", AddonName: "stemExports"})
	s.Require().NoError(err)
	s.Equal(types.AddonStatusCanceled, resp.Status)
	s.Equal([]string{"promotedBeat"}, resp.Subscription.ActiveAddOns)

	bsub := s.GetPaymentGateway().Subscription(sub.BillingSubscriptionRef)
	for _, item := range bsub.Items {
		s.NotEqual(itemRef, item.Ref)
	}

	record := s.GetRecord("u1")
	s.Len(record.ActiveAddOns, 2)
	s.Equal(types.AddonStatusCanceled, record.ActiveAddOns[1].Status)

	s.Run("already canceled", func() {
		_, err := s.service.Cancel(s.GetContext(), &dto.CancelAddonRequest{UserID: "u1", AddonName: "stemExports"})
		s.Require().Error(err)
		s.Equal(subscription.ErrCodeAddonNotActive, ierr.Code(err))
	})

	s.Run("never purchased", func() {
		s.SeedSubscription("u2", "PRO")
		_, err := s.service.Cancel(s.GetContext(), &dto.CancelAddonRequest{UserID: "u2", AddonName: "promotedBeat"})
		s.Require().Error(err)
		s.Equal(subscription.ErrCodeAddonNotFound, ierr.Code(err))
	})
}

func (s *AddonServiceSuite) TestCancelSurvivesProcessorFailure() {
	s.SeedSubscription("u1", "PRO", "promotedBeat")
	s.GetPaymentGateway().Errors["RemoveSubscriptionItem"] = ierr.NewError("timeout").Mark(ierr.ErrHTTPClient)

	_, err := s.service.Cancel(s.GetContext(), &dto.CancelAddonRequest{UserID: "u1", AddonName: "promotedBeat"})
	s.Require().NoError(err)
	s.Empty(s.GetRecord("u1").ActiveAddonNames())
}

func (s *AddonServiceSuite) TestPruneIncompatible() {
	sub := s.SeedSubscription("u1", "STUDIO", "promotedBeat", "stemExports")

	result, err := s.service.PruneIncompatible(s.GetContext(), sub, "PRO")
	s.Require().NoError(err)
	s.Equal([]string{"stemExports"}, result.Removed)
	s.Equal([]string{"promotedBeat"}, result.Remaining)
	s.Equal([]string{"promotedBeat"}, s.GetRecord("u1").ActiveAddonNames())

	result, err = s.service.PruneIncompatible(s.GetContext(), result.Subscription, "FREE")
	s.Require().NoError(err)
	s.Equal([]string{"promotedBeat"}, result.Removed)
	s.Empty(result.Remaining)

	// nothing left to prune, no write
	version := s.GetRecord("u1").Version
	result, err = s.service.PruneIncompatible(s.GetContext(), result.Subscription, "FREE")
	s.Require().NoError(err)
	s.Empty(result.Removed)
	s.Equal(version, s.GetRecord("u1").Version)
}

func (s *AddonServiceSuite) TestPruneForDefersRecordChangeToSave() {
	sub := s.SeedSubscription("u1", "STUDIO", "promotedBeat", "stemExports")
	version := sub.Version

	prune := s.service.(*addonService).pruneFor(s.GetContext(), sub, "PRO")
	s.Equal([]string{"stemExports"}, prune.removed)
	s.Equal([]string{"promotedBeat"}, prune.remaining)
	s.Equal(1, s.GetPaymentGateway().CallCount("RemoveSubscriptionItem"))

	// billing side ran, the record waits for the caller's save
	record := s.GetRecord("u1")
	s.Equal(version, record.Version)
	s.ElementsMatch([]string{"promotedBeat", "stemExports"}, record.ActiveAddonNames())

	s.True(prune.apply(record))
	s.Equal([]string{"promotedBeat"}, record.ActiveAddonNames())
	s.False(prune.apply(record))
}

func (s *AddonServiceSuite) TestPruneForKeepsRemovingAfterBillingFailure() {
	sub := s.SeedSubscription("u1", "STUDIO", "promotedBeat", "stemExports")
	s.GetPaymentGateway().Errors["RemoveSubscriptionItem"] = ierr.NewError("processor down").Mark(ierr.ErrHTTPClient)

	prune := s.service.(*addonService).pruneFor(s.GetContext(), sub, "FREE")
	s.ElementsMatch([]string{"promotedBeat", "stemExports"}, prune.removed)
	s.Empty(prune.remaining)
	s.Equal(2, s.GetPaymentGateway().CallCount("RemoveSubscriptionItem"))
}
