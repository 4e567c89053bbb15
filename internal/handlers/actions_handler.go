package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/go-storefront-orderflow/internal/validation"
)

// registerActions exposes the email server actions. They always answer 200 with
// an EmailActionResponse; failures are reported in the body.
func registerActions(api *gin.RouterGroup, d Deps, v *validatorv10.Validate) {
	api.POST("/actions/order-confirmation-email", func(c *gin.Context) {
		var req validation.EmailActionRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		resp := d.Emails.SendOrderConfirmationEmailByReference(c.Request.Context(), strings.TrimSpace(req.OrderReference))
		c.JSON(http.StatusOK, resp)
	})

	api.POST("/actions/shipping-confirmation-email", func(c *gin.Context) {
		var req validation.EmailActionRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		resp := d.Emails.SendShippingConfirmationEmailByReference(c.Request.Context(), strings.TrimSpace(req.OrderReference))
		c.JSON(http.StatusOK, resp)
	})
}
