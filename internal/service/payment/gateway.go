// Package payment integrates payment providers behind one Gateway.
package payment

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/tix-checkout/internal/apperr"
	"github.com/kirinyoku/tix-checkout/internal/domain"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidSignature = apperr.New(apperr.Authentication, "invalid callback signature")
	ErrInvalidCallback  = apperr.New(apperr.Validation, "malformed callback payload")
	// ErrIgnoredEvent marks an authentic callback about something other than
	// a payment this service opened.
	ErrIgnoredEvent = apperr.New(apperr.Validation, "callback event not handled")
	ErrProvider         = apperr.New(apperr.Unavailable, "payment provider unavailable")
	ErrNotSimulated     = apperr.New(apperr.Validation, "simulation is only available in mock mode")
)

// IntentRequest describes the payment to open for an order.
type IntentRequest struct {
	ReferenceID   string
	OrderID       uuid.UUID
	OrderNumber   string
	InvoiceNumber string
	EventTitle    string
	Quantity      int
	UnitPrice     decimal.Decimal
	Amount        decimal.Decimal
	BuyerID       string
	BuyerEmail    string
	Method        string
}

// Intent is an opened payment the buyer is redirected to.
type Intent struct {
	ReferenceID    string
	RedirectURL    string
	ProviderStatus string
	ExpiresAt      time.Time
	Metadata       domain.Metadata
}

// Callback is a provider notification in the provider's own vocabulary.
// Status is translated with MapStatus.
type Callback struct {
	ReferenceID    string
	Status         string
	PaidAt         *time.Time
	PaymentMethod  string
	PaymentChannel string
	BankCode       string
	ProviderID     string
	Raw            domain.Metadata
}

// StatusSnapshot is the result of polling the provider. It carries the same
// fields as a callback.
type StatusSnapshot Callback

type Gateway interface {
	Provider() domain.PaymentProvider
	CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error)
	CheckStatus(ctx context.Context, p *domain.Payment) (*StatusSnapshot, error)
	Expire(ctx context.Context, p *domain.Payment) error
	ParseCallback(payload []byte, token string) (*Callback, error)
}

// MapStatus translates a provider status into the payment vocabulary.
// Anything unknown stays PENDING.
func MapStatus(raw string) domain.PaymentStatus {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "PAID":
		return domain.PaymentPaid
	case "EXPIRED":
		return domain.PaymentExpired
	case "FAILED":
		return domain.PaymentFailed
	default:
		return domain.PaymentPending
	}
}
