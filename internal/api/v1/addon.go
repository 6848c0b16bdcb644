package v1

import (
	"net/http"

	"github.com/flexprice/plancore/internal/api/dto"
	"github.com/flexprice/plancore/internal/logger"
	"github.com/flexprice/plancore/internal/service"
	"github.com/flexprice/plancore/internal/types"
	"github.com/gin-gonic/gin"
)

type AddonHandler struct {
	service service.AddonService
	log     *logger.Logger
}

func NewAddonHandler(service service.AddonService, log *logger.Logger) *AddonHandler {
	return &AddonHandler{service: service, log: log}
}

// @Summary Purchase addon
// @Tags Addons
// @Accept json
// @Produce json
// @Param X-User-ID header string true "User ID"
// @Param request body dto.PurchaseAddonRequest true "Addon Request"
// @Success 200 {object} dto.AddonResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Router /subscription/addons [post]
func (h *AddonHandler) Purchase(c *gin.Context) {
	var req dto.PurchaseAddonRequest
	if !bindJSON(c, h.log, &req) {
		return
	}
	req.UserID = types.GetUserID(c.Request.Context())

	resp, err := h.service.Purchase(c.Request.Context(), &req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary Complete addon purchase
// @Description Resume an addon purchase once the payment method setup has completed
// @Tags Addons
// @Accept json
// @Produce json
// @Param X-User-ID header string true "User ID"
// @Param request body dto.CompleteSetupRequest true "Setup Reference"
// @Success 200 {object} dto.AddonResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Router /subscription/addons/complete [post]
func (h *AddonHandler) CompletePurchase(c *gin.Context) {
	var req dto.CompleteSetupRequest
	if !bindJSON(c, h.log, &req) {
		return
	}
	req.UserID = types.GetUserID(c.Request.Context())

	resp, err := h.service.CompletePurchase(c.Request.Context(), &req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary Cancel addon
// @Tags Addons
// @Produce json
// @Param X-User-ID header string true "User ID"
// @Param name path string true "Addon name"
// @Success 200 {object} dto.AddonResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Failure 404 {object} ierr.ErrorResponse
// @Router /subscription/addons/{name} [delete]
func (h *AddonHandler) Cancel(c *gin.Context) {
	req := dto.CancelAddonRequest{
		UserID:    types.GetUserID(c.Request.Context()),
		AddonName: c.Param("name"),
	}

	resp, err := h.service.Cancel(c.Request.Context(), &req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
