package httpgin

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kirinyoku/tix-checkout/internal/service"
	"github.com/kirinyoku/tix-checkout/internal/service/webhook"
)

const maxWebhookBody = 1 << 20

// @Summary  Payment provider callback
// @Description Always answers 200; success=false tells the provider the callback was not applied.
// @Param    X-Callback-Token  header string false "provider callback token"
// @Param    Stripe-Signature  header string false "stripe webhook signature"
// @Success  200 {object} webhook.Ack
// @Router   /payments/webhook [post]
func handleWebhook(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
		if err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusOK, webhook.Ack{Result: webhook.ResultRejected, Message: "unreadable body"})
			return
		}

		token := c.GetHeader("X-Callback-Token")
		if token == "" {
			token = c.GetHeader("Stripe-Signature")
		}

		ack, err := svcs.Webhook.Handle(c.Request.Context(), payload, token)
		if err != nil {
			_ = c.Error(err)
		}

		c.JSON(http.StatusOK, ack)
	}
}

// @Summary  Settle a mock payment
// @Param    reference path string true "payment reference"
// @Param    req body  SimulatePaymentRequest true "payload"
// @Success  200 {object} webhook.Ack
// @Failure  400 {object} ErrorResponse "unsupported gateway / status"
// @Failure  404 {object} ErrorResponse
// @Router   /payments/{reference}/simulate [post]
func handleSimulatePayment(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req SimulatePaymentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		ack, err := svcs.Webhook.Simulate(c.Request.Context(), c.Param("reference"), req.Status, req.Method)
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusOK, ack)
	}
}

// @Summary  Reconcile payment with the provider
// @Param    reference path string true "payment reference"
// @Success  200 {object} webhook.Ack
// @Failure  404 {object} ErrorResponse
// @Failure  502 {object} ErrorResponse
// @Router   /payments/{reference}/status [get]
func handlePaymentStatus(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		ack, err := svcs.Webhook.Reconcile(c.Request.Context(), c.Param("reference"))
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusOK, ack)
	}
}
