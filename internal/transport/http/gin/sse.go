package httpgin

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/kirinyoku/tix-checkout/internal/domain"
	redisrepo "github.com/kirinyoku/tix-checkout/internal/repository/redis"
	"github.com/kirinyoku/tix-checkout/internal/service"
)

type statusEvent struct {
	OrderID uuid.UUID          `json:"order_id"`
	Status  domain.OrderStatus `json:"status"`
}

// @Summary  Stream order status changes (SSE)
// @Param    id  path  string  true  "Order ID (uuid)"
// @Produce  text/event-stream
// @Success  200 {object} statusEvent
// @Failure  503 {object} ErrorResponse "no pub/sub configured"
// @Router   /orders/{id}/events [get]
func handleOrderEvents(svcs *service.Services, pubsub *redisrepo.PubSub) gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}
		userID, _ := currentUser(c)

		details, err := svcs.Orders.Get(c.Request.Context(), orderID, userID)
		if err != nil {
			respondErr(c, err)
			return
		}
		if pubsub == nil {
			c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "status stream unavailable"})
			return
		}

		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")

		write := func(status domain.OrderStatus) {
			c.SSEvent("status", statusEvent{OrderID: orderID, Status: status})
			c.Writer.Flush()
		}

		write(details.Order.Status)
		if details.Order.Status.Terminal() {
			return
		}

		// the stream ends with the first terminal status or when the client leaves
		ctx, cancel := context.WithCancel(c.Request.Context())
		defer cancel()

		err = pubsub.SubscribeOrder(ctx, orderID, func(_ context.Context, msg redisrepo.OrderStatusMsg) {
			write(msg.Status)
			if msg.Status.Terminal() {
				cancel()
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			_ = c.Error(err)
		}
	}
}
