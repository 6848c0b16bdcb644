package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/flexprice/plancore/internal/api/dto"
	v1 "github.com/flexprice/plancore/internal/api/v1"
	"github.com/flexprice/plancore/internal/domain/billing"
	"github.com/flexprice/plancore/internal/domain/subscription"
	ierr "github.com/flexprice/plancore/internal/errors"
	"github.com/flexprice/plancore/internal/service"
	"github.com/flexprice/plancore/internal/testutil"
	"github.com/flexprice/plancore/internal/types"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/suite"
)

type RouterSuite struct {
	testutil.BaseServiceTestSuite
	router *gin.Engine
}

func TestRouter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
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

	s.router = NewRouter(Handlers{
		Health:       v1.NewHealthHandler(s.GetLogger()),
		Subscription: v1.NewSubscriptionHandler(service.NewSubscriptionService(params), s.GetLogger()),
		Addon:        v1.NewAddonHandler(service.NewAddonService(params), s.GetLogger()),
		Webhook:      v1.NewWebhookHandler(service.NewBillingWebhookService(params), s.GetLogger()),
	}, s.GetConfig(), s.GetLogger())
}

func (s *RouterSuite) do(method, path, userID string, body any, headers ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case []byte:
		buf.Write(b)
	default:
		s.Require().NoError(json.NewEncoder(&buf).Encode(b))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set(types.HeaderUserID, userID)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *RouterSuite) decodeError(w *httptest.ResponseRecorder) ierr.ErrorResponse {
	var resp ierr.ErrorResponse
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func (s *RouterSuite) TestHealth() {
	w := s.do(http.MethodGet, "/health", "", nil)
	s.Equal(http.StatusOK, w.Code)
	s.NotEmpty(w.Header().Get(types.HeaderRequestID))
}

func (s *RouterSuite) TestRequiresUserIdentity() {
	w := s.do(http.MethodGet, "/v1/subscription", "", nil)
	s.Equal(http.StatusUnauthorized, w.Code)
}

func (s *RouterSuite) TestGetSubscription() {
	s.SeedSubscription("u1", "PRO", "promotedBeat")

	w := s.do(http.MethodGet, "/v1/subscription", "u1", nil)
	s.Require().Equal(http.StatusOK, w.Code)

	var resp dto.SubscriptionResponse
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	s.Equal("PRO", resp.PlanType)
	s.Equal([]string{"promotedBeat"}, resp.ActiveAddOns)

	w = s.do(http.MethodGet, "/v1/subscription", "missing", nil)
	s.Equal(http.StatusNotFound, w.Code)
	errResp := s.decodeError(w)
	s.False(errResp.Success)
	s.Equal(subscription.ErrCodeNotFound, errResp.Error.Code)
	s.NotEmpty(errResp.Error.Display)
}

func (s *RouterSuite) TestCheckout() {
	w := s.do(http.MethodPost, "/v1/subscription/checkout", "u1", map[string]string{
		"username": "u1_name",
		"email":    "u1@example.com",
		"plan":     "PRO",
	})
	s.Require().Equal(http.StatusCreated, w.Code)

	var resp dto.CheckoutResponse
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	s.NotEmpty(resp.CheckoutURL)

	// the user id comes from the header, never the body
	s.Equal("u1", s.GetRecord("u1").UserID)
}

func (s *RouterSuite) TestMalformedBody() {
	w := s.do(http.MethodPost, "/v1/subscription/plan-change", "u1", []byte("{"))
	s.Equal(http.StatusBadRequest, w.Code)
	s.Equal(ierr.ErrCodeValidation, s.decodeError(w).Error.Code)
}

func (s *RouterSuite) TestPlanChange() {
	s.SeedSubscription("u1", "PRO")

	w := s.do(http.MethodPost, "/v1/subscription/plan-change", "u1", map[string]string{"target_plan": "STUDIO"})
	s.Require().Equal(http.StatusOK, w.Code)

	var resp dto.PlanChangeResponse
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	s.Equal(types.PlanChangeTypeUpgrade, resp.Type)
	s.Equal("STUDIO", resp.Subscription.PlanType)

	w = s.do(http.MethodPost, "/v1/subscription/plan-change", "u1", map[string]string{"target_plan": "STUDIO"})
	s.Equal(http.StatusConflict, w.Code)
	s.Equal(subscription.ErrCodeSamePlan, s.decodeError(w).Error.Code)
}

func (s *RouterSuite) TestAddonLifecycle() {
	s.SeedSubscription("u1", "STUDIO")

	w := s.do(http.MethodPost, "/v1/subscription/addons", "u1", map[string]string{"addon_name": "stemExports"})
	s.Require().Equal(http.StatusOK, w.Code)
	s.Equal([]string{"stemExports"}, s.GetRecord("u1").ActiveAddonNames())

	w = s.do(http.MethodDelete, "/v1/subscription/addons/stemExports", "u1", nil)
	s.Require().Equal(http.StatusOK, w.Code)
	s.Empty(s.GetRecord("u1").ActiveAddonNames())

	w = s.do(http.MethodDelete, "/v1/subscription/addons/stemExports", "u1", nil)
	s.Equal(http.StatusNotFound, w.Code)
	s.Equal(subscription.ErrCodeAddonNotActive, s.decodeError(w).Error.Code)
}

func (s *RouterSuite) TestStripeWebhook() {
	sub := s.SeedSubscription("u1", "PRO")
	s.GetPaymentGateway().WebhookEvents["t=1,v1=good"] = &billing.Event{
		ID:   "evt_1",
		Type: types.BillingEventInvoicePaymentFailed,
		Invoice: &billing.Invoice{
			Ref:             "in_1",
			CustomerRef:     sub.BillingCustomerRef,
			SubscriptionRef: sub.BillingSubscriptionRef,
		},
	}

	s.Run("missing signature", func() {
		w := s.do(http.MethodPost, "/v1/webhooks/stripe", "", []byte(`{}`))
		s.Equal(http.StatusBadRequest, w.Code)
	})

	s.Run("bad signature", func() {
		w := s.do(http.MethodPost, "/v1/webhooks/stripe", "", []byte(`{}`), types.HeaderStripeSignature, "t=1,v1=bad")
		s.Equal(http.StatusBadRequest, w.Code)
		s.Equal(types.SubscriptionStatusActive, s.GetRecord("u1").Status)
	})

	s.Run("verified", func() {
		w := s.do(http.MethodPost, "/v1/webhooks/stripe", "", []byte(`{}`), types.HeaderStripeSignature, "t=1,v1=good")
		s.Equal(http.StatusOK, w.Code)
		s.Equal(types.SubscriptionStatusPastDue, s.GetRecord("u1").Status)
	})
}
