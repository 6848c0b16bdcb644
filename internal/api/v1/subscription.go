package v1

import (
	"net/http"

	"github.com/flexprice/plancore/internal/api/dto"
	ierr "github.com/flexprice/plancore/internal/errors"
	"github.com/flexprice/plancore/internal/logger"
	"github.com/flexprice/plancore/internal/service"
	"github.com/flexprice/plancore/internal/types"
	"github.com/gin-gonic/gin"
)

type SubscriptionHandler struct {
	service service.SubscriptionService
	log     *logger.Logger
}

func NewSubscriptionHandler(service service.SubscriptionService, log *logger.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{service: service, log: log}
}

// bindJSON binds the body into req and reports a validation error on failure
func bindJSON(c *gin.Context, log *logger.Logger, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		log.Debugw("failed to bind request", "path", c.FullPath(), "error", err)
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return false
	}
	return true
}

// @Summary Get subscription
// @Description Get the caller's subscription
// @Tags Subscriptions
// @Produce json
// @Param X-User-ID header string true "User ID"
// @Success 200 {object} dto.SubscriptionResponse
// @Failure 404 {object} ierr.ErrorResponse
// @Router /subscription [get]
func (h *SubscriptionHandler) GetSubscription(c *gin.Context) {
	resp, err := h.service.GetSubscription(c.Request.Context(), types.GetUserID(c.Request.Context()))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary Start checkout
// @Description Subscribe the caller to a first plan. Paid plans return a hosted checkout URL.
// @Tags Subscriptions
// @Accept json
// @Produce json
// @Param X-User-ID header string true "User ID"
// @Param request body dto.StartCheckoutRequest true "Checkout Request"
// @Success 201 {object} dto.CheckoutResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Failure 409 {object} ierr.ErrorResponse
// @Router /subscription/checkout [post]
func (h *SubscriptionHandler) StartCheckout(c *gin.Context) {
	var req dto.StartCheckoutRequest
	if !bindJSON(c, h.log, &req) {
		return
	}
	req.UserID = types.GetUserID(c.Request.Context())

	resp, err := h.service.StartCheckout(c.Request.Context(), &req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// @Summary Request plan change
// @Description Upgrade immediately, schedule a downgrade for period end, or ask for a payment method first
// @Tags Subscriptions
// @Accept json
// @Produce json
// @Param X-User-ID header string true "User ID"
// @Param request body dto.PlanChangeRequest true "Plan Change Request"
// @Success 200 {object} dto.PlanChangeResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Failure 404 {object} ierr.ErrorResponse
// @Failure 502 {object} ierr.ErrorResponse
// @Router /subscription/plan-change [post]
func (h *SubscriptionHandler) RequestPlanChange(c *gin.Context) {
	var req dto.PlanChangeRequest
	if !bindJSON(c, h.log, &req) {
		return
	}
	req.UserID = types.GetUserID(c.Request.Context())

	resp, err := h.service.RequestPlanChange(c.Request.Context(), &req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary Complete upgrade
// @Description Resume an upgrade once the payment method setup has completed
// @Tags Subscriptions
// @Accept json
// @Produce json
// @Param X-User-ID header string true "User ID"
// @Param request body dto.CompleteSetupRequest true "Setup Reference"
// @Success 200 {object} dto.PlanChangeResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Failure 403 {object} ierr.ErrorResponse
// @Router /subscription/plan-change/complete [post]
func (h *SubscriptionHandler) CompleteUpgrade(c *gin.Context) {
	var req dto.CompleteSetupRequest
	if !bindJSON(c, h.log, &req) {
		return
	}
	req.UserID = types.GetUserID(c.Request.Context())

	resp, err := h.service.CompleteUpgrade(c.Request.Context(), &req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
