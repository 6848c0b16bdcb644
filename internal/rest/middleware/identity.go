package middleware

import (
	"net/http"

	ierr "github.com/flexprice/plancore/internal/errors"
	"github.com/flexprice/plancore/internal/types"
	"github.com/gin-gonic/gin"
)

// UserIdentityMiddleware takes the caller's user id from the X-User-ID
// header set by the gateway in front of this service. Authentication
// happens there; requests without the header are rejected.
func UserIdentityMiddleware(c *gin.Context) {
	userID := c.GetHeader(types.HeaderUserID)
	if userID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, ierr.ErrorResponse{
			Error: ierr.ErrorDetail{
				Code:    "unauthorized",
				Display: "Missing user identity",
			},
		})
		return
	}

	ctx := types.SetUserID(c.Request.Context(), userID)
	c.Request = c.Request.WithContext(ctx)
	c.Next()
}
