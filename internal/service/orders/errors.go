package orders

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/kirinyoku/tix-checkout/internal/apperr"
	"github.com/kirinyoku/tix-checkout/internal/service/inventory"
)

var (
	ErrOrderNotFound         = apperr.New(apperr.NotFound, "order not found")
	ErrEventNotFound         = apperr.New(apperr.NotFound, "event not found")
	ErrMissingBuyer          = apperr.New(apperr.Validation, "buyer is required")
	ErrInvalidQuantity       = apperr.New(apperr.Validation, "quantity is out of range")
	ErrEventNotBookable      = apperr.New(apperr.InvalidState, "event is not open for booking")
	ErrInsufficientInventory = inventory.ErrInsufficientInventory
	ErrInvalidTransition     = apperr.New(apperr.InvalidState, "invalid order status transition")
	ErrAlreadyPaid           = apperr.New(apperr.InvalidState, "order is already paid")
	ErrOrderNotPaid          = apperr.New(apperr.InvalidState, "order is not paid")
	ErrNoEmail               = apperr.New(apperr.Validation, "order has no buyer email")
	ErrForbidden             = apperr.New(apperr.Forbidden, "order belongs to another buyer")
	ErrPaymentCreation       = apperr.New(apperr.Unavailable, "payment could not be created")
	ErrRateLimited           = apperr.New(apperr.RateLimited, "too many orders, retry later")
)

// SideEffectError reports that a transition was committed but one of the
// follow-up actions (ticket issuance, notification) failed.
type SideEffectError struct {
	OrderID uuid.UUID
	Err     error
}

func (e *SideEffectError) Error() string {
	return fmt.Sprintf("order %s committed, side effects failed: %v", e.OrderID, e.Err)
}

func (e *SideEffectError) Unwrap() error { return e.Err }
