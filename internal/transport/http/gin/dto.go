package httpgin

import (
	"time"

	"github.com/kirinyoku/tix-checkout/internal/domain"
	"github.com/shopspring/decimal"
)

type CreateOrderRequest struct {
	EventID       string `json:"event_id" binding:"required,uuid"`
	Quantity      int    `json:"quantity" binding:"required,gt=0"`
	PaymentMethod string `json:"payment_method"`
	// Email overrides the principal's email for delivery.
	Email string `json:"email" binding:"omitempty,email"`
}

type SimulatePaymentRequest struct {
	Status string `json:"status" binding:"required"`
	Method string `json:"method"`
}

type CancelTicketsRequest struct {
	TicketIDs []string `json:"ticket_ids" binding:"required,min=1,dive,uuid"`
	Reason    string   `json:"reason"`
}

type CreateEventRequest struct {
	Title    string          `json:"title" binding:"required"`
	Location string          `json:"location"`
	StartsAt time.Time       `json:"starts_at" binding:"required"`
	EndsAt   time.Time       `json:"ends_at" binding:"required"`
	Price    decimal.Decimal `json:"price"`
	Quota    int             `json:"quota" binding:"required,gt=0"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// OrderResponse wraps an order; Warning is set when the transition committed
// but a follow-up step failed.
type OrderResponse struct {
	Order   *domain.Order `json:"order"`
	Warning string        `json:"warning,omitempty"`
}

type OrderListResponse struct {
	Orders []domain.Order `json:"orders"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

type CancelTicketsResponse struct {
	Cancelled int64 `json:"cancelled"`
}

type NotificationListResponse struct {
	Notifications []domain.Notification `json:"notifications"`
}

type StatusResponse struct {
	Status string `json:"status"`
}
