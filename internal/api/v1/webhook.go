package v1

import (
	"io"
	"net/http"

	ierr "github.com/flexprice/plancore/internal/errors"
	"github.com/flexprice/plancore/internal/logger"
	"github.com/flexprice/plancore/internal/service"
	"github.com/flexprice/plancore/internal/types"
	"github.com/gin-gonic/gin"
)

// maxWebhookBody matches the processor's own event size ceiling
const maxWebhookBody = 65536

// WebhookHandler receives billing processor events
type WebhookHandler struct {
	service service.BillingWebhookService
	logger  *logger.Logger
}

func NewWebhookHandler(service service.BillingWebhookService, logger *logger.Logger) *WebhookHandler {
	return &WebhookHandler{service: service, logger: logger}
}

// @Summary Stripe webhook
// @Description Verify and reconcile a billing processor event. Only verification failures are rejected.
// @Tags Webhooks
// @Accept json
// @Produce json
// @Param Stripe-Signature header string true "Webhook signature"
// @Success 200 {object} map[string]bool
// @Failure 400 {object} ierr.ErrorResponse
// @Router /webhooks/stripe [post]
func (h *WebhookHandler) HandleStripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Failed to read request body").
			Mark(ierr.ErrValidation))
		return
	}

	signature := c.GetHeader(types.HeaderStripeSignature)
	if signature == "" {
		c.Error(ierr.NewError("missing webhook signature").
			WithHint("Stripe-Signature header is required").
			Mark(ierr.ErrValidation))
		return
	}

	if err := h.service.HandleWebhook(c.Request.Context(), payload, signature); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
