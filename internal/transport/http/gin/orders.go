package httpgin

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/kirinyoku/tix-checkout/internal/domain"
	"github.com/kirinyoku/tix-checkout/internal/repository"
	redisrepo "github.com/kirinyoku/tix-checkout/internal/repository/redis"
	"github.com/kirinyoku/tix-checkout/internal/service"
	"github.com/kirinyoku/tix-checkout/internal/service/orders"
)

const idemLockTTL = 60 * time.Second

// @Summary  Create order (idempotent)
// @Param    req body  CreateOrderRequest true "payload"
// @Header   201 {string} Idempotency-Key "echo"
// @Success  201 {object} domain.OrderDetails
// @Failure  400 {object} ErrorResponse
// @Failure  409 {object} ErrorResponse "not enough tickets / idem in progress"
// @Failure  429 {object} ErrorResponse "rate limited"
// @Failure  502 {object} ErrorResponse "payment could not be created"
// @Router   /orders [post]
func handleCreateOrder(
	svcs *service.Services,
	idem *redisrepo.IdempotencyStore,
) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, email := currentUser(c)

		var req CreateOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		eventID, err := uuid.Parse(req.EventID)
		if err != nil {
			badRequest(c, "invalid event_id")
			return
		}
		if req.Email != "" {
			email = req.Email
		}

		ctx := c.Request.Context()

		idemKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
		var idemStorageKey string
		if idem != nil && idemKey != "" {
			idemStorageKey = redisrepo.KeyIdemOrder(userID, idemKey)

			if payload, ok, _ := idem.GetResult(ctx, idemStorageKey); ok {
				replay(c, idemKey, payload)
				return
			}

			locked, err := idem.AcquireLock(ctx, idemStorageKey, idemLockTTL)
			if err != nil {
				respondErr(c, err)
				return
			}
			if !locked {
				if payload, ok, _ := idem.GetResult(ctx, idemStorageKey); ok {
					replay(c, idemKey, payload)
					return
				}
				c.Header("Retry-After", "1")
				c.JSON(http.StatusConflict, ErrorResponse{Error: "idempotency key in progress"})
				return
			}
		}

		details, err := svcs.Orders.CreateOrder(ctx, orders.CreateOrderInput{
			BuyerID:    userID,
			BuyerEmail: email,
			EventID:    eventID,
			Quantity:   req.Quantity,
			Method:     req.PaymentMethod,
		})
		if err != nil {
			if idemStorageKey != "" {
				_ = idem.Release(ctx, idemStorageKey)
			}
			respondErr(c, err)
			return
		}

		if idemStorageKey != "" {
			b, _ := json.Marshal(details)
			_ = idem.SaveResult(ctx, idemStorageKey, string(b))
			c.Header("Idempotency-Key", idemKey)
		}

		c.JSON(http.StatusCreated, details)
	}
}

func replay(c *gin.Context, idemKey, payload string) {
	c.Header("Idempotency-Key", idemKey)
	c.Data(http.StatusCreated, "application/json; charset=utf-8", []byte(payload))
}

// @Summary  List my orders
// @Param    status query  string false "order status"
// @Param    limit  query  int    false "page size"
// @Param    offset query  int    false "offset"
// @Success  200 {object} OrderListResponse
// @Router   /orders [get]
func handleListOrders(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, _ := currentUser(c)

		f := repository.OrderFilter{
			BuyerID: userID,
			Status:  domain.OrderStatus(strings.ToUpper(c.Query("status"))),
			Limit:   parseIntDefault(c.Query("limit"), 20),
			Offset:  parseIntDefault(c.Query("offset"), 0),
		}

		list, err := svcs.Orders.ListByBuyer(c.Request.Context(), f)
		if err != nil {
			respondErr(c, err)
			return
		}
		if list == nil {
			list = []domain.Order{}
		}

		c.JSON(http.StatusOK, OrderListResponse{Orders: list, Limit: f.Limit, Offset: f.Offset})
	}
}

// @Summary  Get order with payment and tickets
// @Param    id  path  string  true  "Order ID (uuid)"
// @Success  200 {object} domain.OrderDetails
// @Failure  403 {object} ErrorResponse
// @Failure  404 {object} ErrorResponse
// @Router   /orders/{id} [get]
func handleGetOrder(svcs *service.Services) gin.HandlerFunc {
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

		c.JSON(http.StatusOK, details)
	}
}

// @Summary  Cancel unpaid order
// @Param    id  path  string  true  "Order ID (uuid)"
// @Success  200 {object} OrderResponse
// @Failure  409 {object} ErrorResponse "already paid / already closed"
// @Router   /orders/{id}/cancel [post]
func handleCancelOrder(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}
		userID, _ := currentUser(c)

		o, err := svcs.Orders.Cancel(c.Request.Context(), orderID, userID)
		var side *orders.SideEffectError
		switch {
		case err == nil:
			c.JSON(http.StatusOK, OrderResponse{Order: o})
		case errors.As(err, &side) && o != nil:
			_ = c.Error(err)
			c.JSON(http.StatusOK, OrderResponse{Order: o, Warning: "order cancelled, follow-up actions are retried later"})
		default:
			respondErr(c, err)
		}
	}
}

// @Summary  Resend payment confirmation email
// @Param    id  path  string  true  "Order ID (uuid)"
// @Success  202 {object} StatusResponse
// @Failure  409 {object} ErrorResponse "order not paid"
// @Router   /orders/{id}/resend-email [post]
func handleResendEmail(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}
		userID, _ := currentUser(c)

		if err := svcs.Orders.ResendConfirmation(c.Request.Context(), orderID, userID); err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusAccepted, StatusResponse{Status: "sent"})
	}
}
